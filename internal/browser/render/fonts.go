// internal/browser/render/fonts.go
package render

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/xkilldash9x/loupe/internal/browser/style"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// fontVariant selects one of the embedded Go fonts.
type fontVariant int

const (
	variantRegular fontVariant = iota
	variantBold
	variantItalic
	variantBoldItalic
	variantMono
	variantMonoBold
)

var fontSources = map[fontVariant][]byte{
	variantRegular:    goregular.TTF,
	variantBold:       gobold.TTF,
	variantItalic:     goitalic.TTF,
	variantBoldItalic: gobolditalic.TTF,
	variantMono:       gomono.TTF,
	variantMonoBold:   gomonobold.TTF,
}

func variantFor(cs *style.ComputedStyle) fontVariant {
	family := strings.ToLower(cs.FontFamily)
	if strings.Contains(family, "mono") || strings.Contains(family, "courier") {
		if cs.IsBold() {
			return variantMonoBold
		}
		return variantMono
	}
	switch {
	case cs.IsBold() && cs.Italic:
		return variantBoldItalic
	case cs.IsBold():
		return variantBold
	case cs.Italic:
		return variantItalic
	}
	return variantRegular
}

type faceKey struct {
	variant fontVariant
	// size in quarter pixels.
	size int
}

// fontCache owns parsed fonts and sized faces. opentype faces keep scratch
// buffers, so every use happens under mu.
type fontCache struct {
	mu     sync.Mutex
	parsed map[fontVariant]*opentype.Font
	faces  map[faceKey]font.Face
}

func newFontCache() *fontCache {
	return &fontCache{
		parsed: make(map[fontVariant]*opentype.Font),
		faces:  make(map[faceKey]font.Face),
	}
}

// face returns the face for a variant and size. Callers hold c.mu.
func (c *fontCache) face(v fontVariant, size float64) (font.Face, error) {
	if size <= 0 || math.IsNaN(size) {
		size = style.BaseFontSize
	}
	key := faceKey{variant: v, size: int(math.Round(size * 4))}
	if f, ok := c.faces[key]; ok {
		return f, nil
	}
	parsed, ok := c.parsed[v]
	if !ok {
		var err error
		parsed, err = opentype.Parse(fontSources[v])
		if err != nil {
			return nil, fmt.Errorf("render: failed to parse font: %w", err)
		}
		c.parsed[v] = parsed
	}
	f, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    float64(key.size) / 4,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("render: failed to create face: %w", err)
	}
	c.faces[key] = f
	return f, nil
}

// measure returns the advance width of text in pixels.
func (c *fontCache) measure(text string, v fontVariant, size float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.face(v, size)
	if err != nil {
		return 0
	}
	return fixedToFloat(font.MeasureString(f, text))
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}

func floatToFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(v * 64))
}
