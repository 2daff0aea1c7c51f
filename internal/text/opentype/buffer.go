// internal/text/opentype/buffer.go
package opentype

// GlyphClass is a GDEF glyph class.
type GlyphClass uint8

const (
	ClassUnassigned GlyphClass = iota
	ClassBase
	ClassLigature
	ClassMark
	ClassComponent
)

// Glyph is one entry of a shaping buffer. Positions are in font units.
type Glyph struct {
	ID      GlyphID
	Cluster int // index of the first source rune
	Class   GlyphClass

	// Ligature bookkeeping for marks that sat between ligated components.
	LigatureID int
	Component  int

	XAdvance, YAdvance int32
	XOffset, YOffset   int32
}

// Buffer is the glyph run that lookups rewrite in place.
type Buffer struct {
	Glyphs []Glyph
	// Alternate selects the entry of an alternate set.
	Alternate int
	// RightToLeft flips cursive attachment.
	RightToLeft bool

	nextLigature int
}

// NewBuffer wraps glyph ids, one cluster per glyph.
func NewBuffer(ids ...GlyphID) *Buffer {
	b := &Buffer{Glyphs: make([]Glyph, len(ids))}
	for i, id := range ids {
		b.Glyphs[i] = Glyph{ID: id, Cluster: i}
	}
	return b
}

// IDs returns the current glyph ids.
func (b *Buffer) IDs() []GlyphID {
	out := make([]GlyphID, len(b.Glyphs))
	for i, g := range b.Glyphs {
		out[i] = g.ID
	}
	return out
}

func (b *Buffer) replace(start, end int, with []Glyph) {
	tail := append([]Glyph(nil), b.Glyphs[end:]...)
	b.Glyphs = append(append(b.Glyphs[:start], with...), tail...)
}
