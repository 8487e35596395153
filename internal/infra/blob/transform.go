package blob

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// 対応フォーマットのデコーダを登録する
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// maxLongEdge は変換後の長辺ピクセル数
	maxLongEdge = 1024

	// maxDirectBytes はVision APIへURLのまま渡せる上限サイズ
	maxDirectBytes = 1536 * 1024 // 1.5MB

	// JPEG再エンコードの品質。primaryで上限を超えた場合のみfallbackを試す
	jpegQualityPrimary  = 80
	jpegQualityFallback = 60
)

// transformToJPEG は画像をデコードし、長辺1024pxに縮小してJPEGへ再エンコードする
// primaryの品質で上限サイズを超える場合は品質を落として一度だけ再試行する
func transformToJPEG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img = scaleDown(img, maxLongEdge)

	encoded, err := encodeJPEG(img, jpegQualityPrimary)
	if err != nil {
		return nil, err
	}
	if len(encoded) > maxDirectBytes {
		encoded, err = encodeJPEG(img, jpegQualityFallback)
		if err != nil {
			return nil, err
		}
	}

	return encoded, nil
}

// scaleDown は長辺がlongEdgeを超える場合にアスペクト比を保って縮小する
func scaleDown(img image.Image, longEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	longest := max(w, h)
	if longest <= longEdge {
		return img
	}

	scale := float64(longEdge) / float64(longest)
	dstW := max(int(float64(w)*scale), 1)
	dstH := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// encodeJPEG は指定品質でJPEGエンコードする
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
