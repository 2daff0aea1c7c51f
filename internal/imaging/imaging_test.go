package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	stdjpeg "image/jpeg"
	"image/png"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/xkilldash9x/loupe/internal/config"
	"github.com/xkilldash9x/loupe/internal/observability"
)

// -- Test Helpers --

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []byte{0x20, 0x80, 0xE0, 0xFF})
	}
	return img
}

func encoded(t *testing.T, f Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := solid(16, 8)
	var err error
	switch f {
	case FormatJPEG:
		err = stdjpeg.Encode(&buf, img, &stdjpeg.Options{Quality: 90})
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatGIF:
		err = gif.Encode(&buf, img, nil)
	case FormatBMP:
		err = bmp.Encode(&buf, img)
	case FormatTIFF:
		err = tiff.Encode(&buf, img, nil)
	default:
		t.Fatalf("no encoder for %s", f)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func newDecoder(t *testing.T, entries int) (*Decoder, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetrics()
	d, err := NewDecoder(config.ImagingConfig{CacheEntries: entries}, zaptest.NewLogger(t), m)
	require.NoError(t, err)
	return d, m
}

const tinySVG = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="6">
  <rect width="10" height="6" fill="#00f"/>
</svg>`

// -- Tests --

func TestSniff(t *testing.T) {
	avifHead := append([]byte{0, 0, 0, 24}, []byte("ftypmif1\x00\x00\x00\x00mif1avif")...)
	heic := append([]byte{0, 0, 0, 16}, []byte("ftypheic\x00\x00\x00\x00")...)

	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"jpeg", encoded(t, FormatJPEG), FormatJPEG},
		{"png", encoded(t, FormatPNG), FormatPNG},
		{"gif", encoded(t, FormatGIF), FormatGIF},
		{"bmp", encoded(t, FormatBMP), FormatBMP},
		{"tiff", encoded(t, FormatTIFF), FormatTIFF},
		{"webp", []byte("RIFF\x10\x00\x00\x00WEBPVP8L"), FormatWebP},
		{"avif", avifHead, FormatAVIF},
		{"heic is not avif", heic, FormatUnknown},
		{"svg", []byte(tinySVG), FormatSVG},
		{"svg with prolog and bom", []byte("\xEF\xBB\xBF\n<?xml version=\"1.0\"?>\n<svg/>"), FormatSVG},
		{"html is not svg", []byte("<html><body></body></html>"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.data))
		})
	}
}

func TestFormat_String(t *testing.T) {
	assert.Equal(t, "webp", FormatWebP.String())
	assert.Equal(t, "unknown", Format(200).String())
}

func TestDecoder_DecodesEachFormat(t *testing.T) {
	d, _ := newDecoder(t, 0)
	for _, f := range []Format{FormatJPEG, FormatPNG, FormatGIF, FormatBMP, FormatTIFF} {
		t.Run(f.String(), func(t *testing.T) {
			img, err := d.Decode(encoded(t, f))
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())

			// GIF quantizes to the Plan 9 palette.
			tolerance := 6.0
			if f == FormatGIF {
				tolerance = 0x30
			}
			r, g, b, _ := img.At(4, 4).RGBA()
			assert.InDelta(t, 0x20, r>>8, tolerance)
			assert.InDelta(t, 0x80, g>>8, tolerance)
			assert.InDelta(t, 0xE0, b>>8, tolerance)
		})
	}
}

func TestDecoder_SVG(t *testing.T) {
	d, _ := newDecoder(t, 0)
	img, err := d.Decode([]byte(tinySVG))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 6), img.Bounds())
	assert.Equal(t, color.RGBA{B: 0xFF, A: 0xFF}, img.At(5, 3))

	img, err = d.Decode([]byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	require.NoError(t, err)
	assert.Equal(t, defaultSVGSize, img.Bounds().Size())
}

func TestDecoder_CachesByContent(t *testing.T) {
	d, m := newDecoder(t, 4)
	data := encoded(t, FormatPNG)

	first, err := d.Decode(data)
	require.NoError(t, err)
	second, err := d.Decode(bytes.Clone(data))
	require.NoError(t, err)

	assert.Same(t, first.(*image.RGBA), second.(*image.RGBA))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageDecodes.WithLabelValues("png", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageDecodes.WithLabelValues("png", "cache_hit")))
}

func TestDecoder_Errors(t *testing.T) {
	d, m := newDecoder(t, 4)

	_, err := d.Decode([]byte("plain text"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	truncated := encoded(t, FormatJPEG)[:40]
	_, err = d.Decode(truncated)
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageDecodes.WithLabelValues("jpeg", "error")))

	// Failures are not cached.
	_, err = d.Decode(truncated)
	assert.Error(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ImageDecodes.WithLabelValues("jpeg", "error")))
}

func TestDecoder_DecodeConfig(t *testing.T) {
	d, _ := newDecoder(t, 0)

	cfg, f, err := d.DecodeConfig(encoded(t, FormatJPEG))
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 8, cfg.Height)

	cfg, f, err = d.DecodeConfig([]byte(tinySVG))
	require.NoError(t, err)
	assert.Equal(t, FormatSVG, f)
	assert.Equal(t, 10, cfg.Width)

	_, f, err = d.DecodeConfig([]byte{1, 2, 3})
	assert.Equal(t, FormatUnknown, f)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
