package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/storystack/autotagd/internal/core/tagging"
)

const (
	// optimizedPrefix はAI最適化済みキャッシュオブジェクトのキー接頭辞
	optimizedPrefix = "ai-optimized/"

	// maxEncodedBytes はbase64エンコード後のdata URIの上限サイズ
	maxEncodedBytes = 20 * 1024 * 1024 // 20MB

	// defaultFetchTimeout は外部URLからの画像取得タイムアウト
	defaultFetchTimeout = 15 * time.Second

	// defaultPresignExpiry は発行する取得URLの有効期限
	defaultPresignExpiry = 1 * time.Hour
)

// allowedMIMETypes はVision APIが受け付ける画像フォーマット
var allowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Resolver は任意の画像URLをVision APIが受け付けられる表現へ解決する
//
// 解決は段階的なフォールバックで行う:
//  1. AI最適化済みキャッシュがあればそのURLを返す
//  2. 元画像を取得して縮小JPEGへ変換し、キャッシュしてURLを返す
//  3. 変換できない場合は元バイトのbase64 data URIへ落とす
//  4. エンコード後も上限を超える画像はその画像だけ失敗させる
type Resolver struct {
	store      *Store
	httpClient *http.Client
	logger     *slog.Logger

	presignExpiry time.Duration
	maxEncoded    int
}

// ResolverOption はResolver構築時のオプション
type ResolverOption func(*Resolver)

// WithResolverLogger はロガーを差し替える
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithHTTPClient は外部URL取得用のHTTPクライアントを差し替える
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// WithPresignExpiry は発行する取得URLの有効期限を設定する
func WithPresignExpiry(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.presignExpiry = d
		}
	}
}

// NewResolver は新しいResolverを作成する
func NewResolver(store *Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:         store,
		httpClient:    &http.Client{Timeout: defaultFetchTimeout},
		logger:        slog.Default(),
		presignExpiry: defaultPresignExpiry,
		maxEncoded:    maxEncodedBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve は画像URLをVision API向けの表現へ解決する
func (r *Resolver) Resolve(ctx context.Context, assetID uuid.UUID, imageURL string) (*tagging.ResolvedImage, error) {
	cacheKey := optimizedPrefix + assetID.String() + ".jpg"

	// ステージ1: 最適化済みキャッシュの確認
	if image, ok := r.resolveOptimized(ctx, imageURL, cacheKey); ok {
		return image, nil
	}

	// ステージ2: 元画像の取得
	original, err := r.fetchOriginal(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch original image: %w", err)
	}

	// ステージ3: 縮小JPEGへの変換とキャッシュ
	if image, ok := r.resolveTransformed(ctx, original, cacheKey); ok {
		return image, nil
	}

	// ステージ4: 元バイトのdata URIフォールバック
	return r.resolveDataURI(original)
}

// resolveOptimized は既存のAI最適化済みオブジェクトをそのまま使えるか確認する
// URLが最適化済みパスを指す場合も同じキャッシュキーへ正規化する
func (r *Resolver) resolveOptimized(ctx context.Context, imageURL, cacheKey string) (*tagging.ResolvedImage, bool) {
	key := cacheKey
	if fromURL, ok := r.store.KeyFromURL(imageURL); ok && strings.HasPrefix(fromURL, optimizedPrefix) {
		key = fromURL
	}

	info, err := r.store.Stat(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrObjectNotFound) {
			r.logger.Debug("optimized cache lookup failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	// JPEGかつ直接URL上限以下の場合のみ使う。超過分は再エンコードへ回す
	if info.ContentType != "image/jpeg" || info.Size > maxDirectBytes {
		return nil, false
	}

	url, err := r.store.PresignedURL(ctx, key, r.presignExpiry)
	if err != nil {
		return nil, false
	}
	return &tagging.ResolvedImage{Kind: tagging.ImageKindURL, URL: url}, true
}

// fetchOriginal は元画像のバイト列を取得する
// ストア内オブジェクトはストア経由で、それ以外はHTTPで取得する
func (r *Resolver) fetchOriginal(ctx context.Context, imageURL string) ([]byte, error) {
	if key, ok := r.store.KeyFromURL(imageURL); ok {
		return r.store.Get(ctx, key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// resolveTransformed は縮小JPEGへ変換してキャッシュし、そのURLを返す
// 変換またはキャッシュに失敗した場合はfalseを返し、後続のフォールバックに任せる
func (r *Resolver) resolveTransformed(ctx context.Context, original []byte, cacheKey string) (*tagging.ResolvedImage, bool) {
	transformed, err := transformToJPEG(original)
	if err != nil {
		r.logger.Debug("image transform failed, falling back to original bytes",
			slog.String("key", cacheKey),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	if len(transformed) > maxDirectBytes {
		// 最大圧縮でもURL上限を超える場合はdata URIへ回す
		if image, err := r.dataURIFrom(transformed); err == nil {
			return image, true
		}
		return nil, false
	}

	// 次回以降の呼び出しのためにキャッシュする
	if err := r.store.Put(ctx, cacheKey, transformed, "image/jpeg"); err != nil {
		r.logger.Warn("failed to cache optimized image",
			slog.String("key", cacheKey),
			slog.String("error", err.Error()),
		)
		// キャッシュできなくても変換結果は小さいのでdata URIとして使える
		if image, err := r.dataURIFrom(transformed); err == nil {
			return image, true
		}
		return nil, false
	}

	url, err := r.store.PresignedURL(ctx, cacheKey, r.presignExpiry)
	if err != nil {
		return nil, false
	}
	return &tagging.ResolvedImage{Kind: tagging.ImageKindURL, URL: url}, true
}

// resolveDataURI は元バイトをbase64 data URIへエンコードする（最終フォールバック）
func (r *Resolver) resolveDataURI(data []byte) (*tagging.ResolvedImage, error) {
	return r.dataURIFrom(data)
}

// dataURIFrom はMIMEを実バイトの先頭シグネチャから判定し、data URIを構築する
// Content-Typeヘッダは信用しない
func (r *Resolver) dataURIFrom(data []byte) (*tagging.ResolvedImage, error) {
	mimeType := http.DetectContentType(data)
	if !allowedMIMETypes[mimeType] {
		return nil, fmt.Errorf("%w: detected %s", tagging.ErrUnsupportedFormat, mimeType)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	uri := "data:" + mimeType + ";base64," + encoded
	if len(uri) > r.maxEncoded {
		return nil, fmt.Errorf("%w: %d bytes encoded (limit %d)", tagging.ErrImageTooLarge, len(uri), r.maxEncoded)
	}

	return &tagging.ResolvedImage{Kind: tagging.ImageKindDataURI, URL: uri}, nil
}

// インターフェース実装の確認
var _ tagging.ImageResolver = (*Resolver)(nil)
