package blob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storystack/autotagd/internal/core/tagging"
)

// newTestResolver はキャッシュ段階が常に失敗するResolverを作成します
// 偽のS3エンドポイントがHEADに404（NoSuchKey相当）、PUTに403を返すため、
// HTTP取得とdata URIフォールバックの経路が検証できる
func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	s3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(s3.Close)

	store, err := NewStore(Config{
		Endpoint:  strings.TrimPrefix(s3.URL, "http://"),
		AccessKey: "test",
		SecretKey: "test",
		Bucket:    "assets",
	})
	require.NoError(t, err)
	return NewResolver(store)
}

// TestResolveFallsBackToDataURI はストアへのキャッシュ書き込みが失敗しても
// 変換結果がdata URIとして返ることを確認します
func TestResolveFallsBackToDataURI(t *testing.T) {
	src := encodeTestPNG(t, 64, 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(src)
	}))
	defer server.Close()

	resolver := newTestResolver(t)
	image, err := resolver.Resolve(context.Background(), uuid.New(), server.URL+"/photo.png")

	require.NoError(t, err)
	assert.Equal(t, tagging.ImageKindDataURI, image.Kind)
	// 変換段階でJPEGに再エンコードされている
	assert.True(t, strings.HasPrefix(image.URL, "data:image/jpeg;base64,"), "got prefix: %.40s", image.URL)
}

// TestResolveSniffsMIMEFromBytes はContent-Typeヘッダではなく
// 実バイトからMIMEを判定することを確認します
func TestResolveSniffsMIMEFromBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 嘘のContent-Typeでテキストを返す
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("definitely not an image"))
	}))
	defer server.Close()

	resolver := newTestResolver(t)
	_, err := resolver.Resolve(context.Background(), uuid.New(), server.URL+"/fake.jpg")

	require.Error(t, err)
	assert.ErrorIs(t, err, tagging.ErrUnsupportedFormat)
}

// TestResolveImageTooLarge はエンコード後に上限を超える画像が
// その画像単体の失敗になることを確認します
func TestResolveImageTooLarge(t *testing.T) {
	src := encodeTestPNG(t, 64, 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(src)
	}))
	defer server.Close()

	resolver := newTestResolver(t)
	resolver.maxEncoded = 16 // テスト用に上限を極端に下げる

	_, err := resolver.Resolve(context.Background(), uuid.New(), server.URL+"/photo.png")

	require.Error(t, err)
	assert.ErrorIs(t, err, tagging.ErrImageTooLarge)
}

// TestResolveFetchFailure は元画像の取得失敗がエラーになることを確認します
func TestResolveFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resolver := newTestResolver(t)
	_, err := resolver.Resolve(context.Background(), uuid.New(), server.URL+"/missing.jpg")
	assert.Error(t, err)
}

// TestDataURIFromMagicBytes は先頭シグネチャによるMIME判定を確認します
func TestDataURIFromMagicBytes(t *testing.T) {
	resolver := newTestResolver(t)

	tests := []struct {
		name     string
		data     []byte
		wantMIME string
	}{
		{"JPEG", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}, "image/jpeg"},
		{"PNG", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}, "image/png"},
		{"GIF", []byte("GIF89a\x01\x00\x01\x00"), "image/gif"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			image, err := resolver.dataURIFrom(tt.data)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(image.URL, "data:"+tt.wantMIME+";base64,"))
		})
	}

	t.Run("非画像は拒否される", func(t *testing.T) {
		_, err := resolver.dataURIFrom([]byte("plain text payload"))
		assert.ErrorIs(t, err, tagging.ErrUnsupportedFormat)
	})
}

// TestKeyFromURL はストアURLからのキー抽出を確認します
func TestKeyFromURL(t *testing.T) {
	store, err := NewStore(Config{
		Endpoint:  "blob.example.com:9000",
		AccessKey: "test",
		SecretKey: "test",
		Bucket:    "assets",
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		url     string
		wantKey string
		wantOK  bool
	}{
		{"ストア内オブジェクト", "http://blob.example.com:9000/assets/originals/photo.jpg", "originals/photo.jpg", true},
		{"最適化済みオブジェクト", "http://blob.example.com:9000/assets/ai-optimized/abc.jpg", "ai-optimized/abc.jpg", true},
		{"別ホスト", "http://other.example.com/assets/photo.jpg", "", false},
		{"別バケット", "http://blob.example.com:9000/other/photo.jpg", "", false},
		{"キーなし", "http://blob.example.com:9000/assets/", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := store.KeyFromURL(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}
