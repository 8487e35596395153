package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound はオブジェクトが存在しない場合のエラー
var ErrObjectNotFound = errors.New("object not found")

// Config はS3互換Blobストアの接続設定
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store はS3互換Blobストアへのアクセスを提供する
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore は新しいStoreを作成する
func NewStore(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init blob store client: %w", err)
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// ObjectInfo はオブジェクトのメタデータ
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// Stat はオブジェクトのメタデータを取得する（HEAD相当）
func (s *Store) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

// Get はオブジェクトの全バイトを取得する
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return data, nil
}

// Put はオブジェクトを書き込む。既存オブジェクトは上書きされる
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// PresignedURL は期限付きの取得URLを発行する
func (s *Store) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return u.String(), nil
}

// KeyFromURL はURLがこのストアのバケットを指す場合にオブジェクトキーを返す
func (s *Store) KeyFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if u.Host != s.client.EndpointURL().Host {
		return "", false
	}

	// パス形式: /<bucket>/<key>
	prefix := "/" + s.bucket + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}

// Bucket はバケット名を返す
func (s *Store) Bucket() string {
	return s.bucket
}
