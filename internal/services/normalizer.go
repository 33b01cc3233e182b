package services

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"purrcast/internal/apperr"
)

// CanonicalContentType is the format every stored image is re-encoded to.
const CanonicalContentType = "image/png"

var acceptedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

type NormalizedImage struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// DefaultMaxPixels bounds the decoded raster of an upload (40 MP).
const DefaultMaxPixels = 40_000_000

// Normalizer decodes an uploaded image, scales it to a fixed square and
// re-encodes it as PNG. The aspect ratio is not preserved.
type Normalizer struct {
	size      int
	maxPixels int64
}

// NewNormalizer builds a normalizer producing size×size images. Uploads whose
// header declares more than maxPixels pixels are rejected before decoding.
func NewNormalizer(size, maxPixels int) *Normalizer {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Normalizer{size: size, maxPixels: int64(maxPixels)}
}

func (n *Normalizer) Normalize(data []byte, mimeType string) (NormalizedImage, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if !acceptedImageTypes[mimeType] {
		return NormalizedImage{}, unsupportedFormat(fmt.Errorf("mime type %q", mimeType))
	}
	if len(data) == 0 {
		return NormalizedImage{}, unsupportedFormat(fmt.Errorf("empty image"))
	}

	// 先读头部尺寸，避免为超大图分配整幅位图
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return NormalizedImage{}, unsupportedFormat(err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return NormalizedImage{}, unsupportedFormat(fmt.Errorf("empty dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if int64(cfg.Width)*int64(cfg.Height) > n.maxPixels {
		return NormalizedImage{}, apperr.New(apperr.KindValidation,
			"That image is too large. Please upload a smaller photo.",
			fmt.Errorf("%w: %dx%d exceeds %d pixels", apperr.ErrUnsupportedFormat, cfg.Width, cfg.Height, n.maxPixels))
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return NormalizedImage{}, unsupportedFormat(err)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, n.size, n.size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return NormalizedImage{}, fmt.Errorf("encode png: %w", err)
	}

	return NormalizedImage{
		Data:        buf.Bytes(),
		ContentType: CanonicalContentType,
		Width:       n.size,
		Height:      n.size,
	}, nil
}

func unsupportedFormat(cause error) error {
	return apperr.New(apperr.KindValidation,
		"We couldn't read that image. Please upload a PNG, JPEG, GIF, WebP, BMP or TIFF file.",
		fmt.Errorf("%w: %v", apperr.ErrUnsupportedFormat, cause))
}
