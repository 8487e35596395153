package blob

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeTestPNG は指定サイズのPNGバイト列を生成します
func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 16 {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// TestTransformToJPEGResizes は長辺が1024pxへ縮小され、
// アスペクト比が維持されることを確認します
func TestTransformToJPEGResizes(t *testing.T) {
	src := encodeTestPNG(t, 2048, 1024)

	out, err := transformToJPEG(src)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.Equal(t, 1024, bounds.Dx())
	assert.Equal(t, 512, bounds.Dy())
}

// TestTransformToJPEGKeepsSmallImages は長辺が上限以下の画像を
// 拡大しないことを確認します
func TestTransformToJPEGKeepsSmallImages(t *testing.T) {
	src := encodeTestPNG(t, 100, 50)

	out, err := transformToJPEG(src)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.Equal(t, 100, bounds.Dx())
	assert.Equal(t, 50, bounds.Dy())
}

// TestTransformToJPEGInvalidInput は画像でないバイト列がエラーになることを確認します
func TestTransformToJPEGInvalidInput(t *testing.T) {
	_, err := transformToJPEG([]byte("this is not an image"))
	assert.Error(t, err)
}

// TestScaleDownPortrait は縦長画像でも長辺基準で縮小されることを確認します
func TestScaleDownPortrait(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 500, 2000))
	scaled := scaleDown(img, maxLongEdge)

	bounds := scaled.Bounds()
	assert.Equal(t, 1024, bounds.Dy())
	assert.Equal(t, 256, bounds.Dx())
}
