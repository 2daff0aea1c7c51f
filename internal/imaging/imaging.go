// internal/imaging/imaging.go
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"math"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/xkilldash9x/loupe/internal/config"
	"github.com/xkilldash9x/loupe/internal/imaging/avif"
	"github.com/xkilldash9x/loupe/internal/imaging/jpeg"
	"github.com/xkilldash9x/loupe/internal/imaging/svg"
	"github.com/xkilldash9x/loupe/internal/imaging/webp"
	"github.com/xkilldash9x/loupe/internal/observability"
)

// ErrUnknownFormat is returned when no decoder recognizes the leading bytes.
var ErrUnknownFormat = errors.New("imaging: unknown image format")

// Format identifies an image encoding by its magic bytes.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
	FormatWebP
	FormatAVIF
	FormatSVG
	FormatBMP
	FormatTIFF
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	case FormatWebP:
		return "webp"
	case FormatAVIF:
		return "avif"
	case FormatSVG:
		return "svg"
	case FormatBMP:
		return "bmp"
	case FormatTIFF:
		return "tiff"
	}
	return "unknown"
}

// svgSniffLen bounds how far Sniff looks for an <svg tag.
const svgSniffLen = 1024

// Sniff identifies the format of data from its leading bytes.
func Sniff(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP
	case isAVIF(data):
		return FormatAVIF
	case bytes.HasPrefix(data, []byte("BM")):
		return FormatBMP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF
	case isSVG(data):
		return FormatSVG
	}
	return FormatUnknown
}

func isAVIF(data []byte) bool {
	if len(data) < 16 || string(data[4:8]) != "ftyp" {
		return false
	}
	size := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	size = min(size, len(data))
	brands := [][]byte{data[8:12]}
	for off := 16; off+4 <= size; off += 4 {
		brands = append(brands, data[off:off+4])
	}
	for _, b := range brands {
		switch string(b) {
		case "avif", "avis", "mif1":
			return true
		}
	}
	return false
}

func isSVG(data []byte) bool {
	head := bytes.TrimPrefix(data[:min(len(data), svgSniffLen)], []byte("\xEF\xBB\xBF"))
	head = bytes.TrimLeft(head, " \t\r\n")
	if !bytes.HasPrefix(head, []byte("<")) {
		return false
	}
	return bytes.Contains(head, []byte("<svg"))
}

// defaultSVGSize is the canvas for SVGs that declare neither dimensions nor
// a viewBox, matching the CSS default replaced-element size.
var defaultSVGSize = image.Pt(300, 150)

// Decoder dispatches to the format decoders and caches results by content
// hash. It is safe for concurrent use.
type Decoder struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	cache   *lru.Cache[uint64, image.Image]
}

// NewDecoder creates a decoder. A non-positive cache size disables caching.
func NewDecoder(cfg config.ImagingConfig, logger *zap.Logger, metrics *observability.Metrics) (*Decoder, error) {
	d := &Decoder{
		logger:  logger.Named("imaging"),
		metrics: metrics,
	}
	if cfg.CacheEntries > 0 {
		cache, err := lru.New[uint64, image.Image](cfg.CacheEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create decode cache: %w", err)
		}
		d.cache = cache
	}
	return d, nil
}

// Decode sniffs and decodes data. Identical inputs share one cached result,
// so callers must not mutate the returned image.
func (d *Decoder) Decode(data []byte) (image.Image, error) {
	format := Sniff(data)
	var key uint64
	if d.cache != nil {
		key = xxhash.Sum64(data)
		if img, ok := d.cache.Get(key); ok {
			d.metrics.CountDecode(format.String(), "cache_hit")
			return img, nil
		}
	}

	img, err := decode(format, data)
	if err != nil {
		d.metrics.CountDecode(format.String(), "error")
		d.logger.Debug("Image decode failed",
			zap.Stringer("format", format),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return nil, err
	}
	d.metrics.CountDecode(format.String(), "ok")
	if d.cache != nil {
		d.cache.Add(key, img)
	}
	return img, nil
}

// DecodeConfig returns the dimensions without decoding pixels. SVGs are
// parsed to read their size.
func (d *Decoder) DecodeConfig(data []byte) (image.Config, Format, error) {
	format := Sniff(data)
	var (
		cfg image.Config
		err error
	)
	switch format {
	case FormatJPEG:
		cfg, err = jpeg.DecodeConfig(data)
	case FormatWebP:
		cfg, err = webp.DecodeConfig(data)
	case FormatAVIF:
		cfg, err = avif.DecodeConfig(data)
	case FormatPNG:
		cfg, err = png.DecodeConfig(bytes.NewReader(data))
	case FormatGIF:
		cfg, err = gif.DecodeConfig(bytes.NewReader(data))
	case FormatBMP:
		cfg, err = bmp.DecodeConfig(bytes.NewReader(data))
	case FormatTIFF:
		cfg, err = tiff.DecodeConfig(bytes.NewReader(data))
	case FormatSVG:
		var doc *svg.Document
		if doc, err = svg.Parse(data); err == nil {
			size := svgSize(doc)
			cfg = image.Config{Width: size.X, Height: size.Y}
		}
	default:
		err = ErrUnknownFormat
	}
	return cfg, format, err
}

func decode(format Format, data []byte) (image.Image, error) {
	switch format {
	case FormatJPEG:
		return jpeg.Decode(data)
	case FormatWebP:
		return webp.Decode(data)
	case FormatAVIF:
		return avif.Decode(data)
	case FormatPNG:
		return png.Decode(bytes.NewReader(data))
	case FormatGIF:
		return gif.Decode(bytes.NewReader(data))
	case FormatBMP:
		return bmp.Decode(bytes.NewReader(data))
	case FormatTIFF:
		return tiff.Decode(bytes.NewReader(data))
	case FormatSVG:
		doc, err := svg.Parse(data)
		if err != nil {
			return nil, err
		}
		size := svgSize(doc)
		return svg.Render(doc, size.X, size.Y), nil
	}
	return nil, ErrUnknownFormat
}

func svgSize(doc *svg.Document) image.Point {
	w, h := doc.Width, doc.Height
	if w <= 0 || h <= 0 {
		return defaultSVGSize
	}
	return image.Pt(int(math.Ceil(w)), int(math.Ceil(h)))
}
