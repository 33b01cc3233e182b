package services

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purrcast/internal/apperr"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestNormalizer_ResizesToSquarePNG(t *testing.T) {
	n := NewNormalizer(64, DefaultMaxPixels)

	out, err := n.Normalize(encodeJPEG(t, 200, 100), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, CanonicalContentType, out.ContentType)

	decoded, err := png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 64), decoded.Bounds())
}

func TestNormalizer_AcceptsMimeParameters(t *testing.T) {
	_, err := NewNormalizer(16, DefaultMaxPixels).Normalize(encodeJPEG(t, 20, 20), "Image/JPEG; charset=binary")
	assert.NoError(t, err)
}

func TestNormalizer_RejectsUndecodable(t *testing.T) {
	n := NewNormalizer(64, DefaultMaxPixels)
	cases := map[string]struct {
		data []byte
		mime string
	}{
		"empty":        {nil, "image/png"},
		"garbage":      {[]byte("definitely not a png"), "image/png"},
		"undeclared":   {encodeJPEG(t, 10, 10), "application/pdf"},
		"missing mime": {encodeJPEG(t, 10, 10), ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize(tc.data, tc.mime)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)
		})
	}
}

// pngClaiming returns a tiny valid PNG whose IHDR declares w×h pixels.
func pngClaiming(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	data := buf.Bytes()

	// signature(8) | length(4) "IHDR"(4) width(4) height(4) ... crc(4)
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestNormalizer_RejectsHugeDimensionsBeforeDecoding(t *testing.T) {
	data := pngClaiming(t, 60000, 60000)
	require.Less(t, len(data), 1024)

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 60000, cfg.Width)

	_, err = NewNormalizer(64, DefaultMaxPixels).Normalize(data, "image/png")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)
	assert.Contains(t, apperr.PublicMessage(err), "too large")
}

func TestNormalizer_PixelCap(t *testing.T) {
	n := NewNormalizer(16, 1000)

	_, err := n.Normalize(encodeJPEG(t, 40, 40), "image/jpeg")
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)

	_, err = n.Normalize(encodeJPEG(t, 30, 30), "image/jpeg")
	assert.NoError(t, err)
}
