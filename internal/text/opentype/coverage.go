// internal/text/opentype/coverage.go
package opentype

import (
	"fmt"
	"sort"
)

// GlyphID is a font-specific glyph index.
type GlyphID uint16

// RangeRecord maps the glyph range [Start, End] to coverage indices from StartIndex.
type RangeRecord struct {
	Start, End GlyphID
	StartIndex uint16
}

// Coverage is a sorted glyph set that also yields an ordinal per member.
type Coverage struct {
	Format uint16
	Glyphs []GlyphID     // format 1
	Ranges []RangeRecord // format 2
}

// NewCoverage builds a format 1 coverage from glyphs in ascending order.
func NewCoverage(glyphs ...GlyphID) *Coverage {
	return &Coverage{Format: 1, Glyphs: glyphs}
}

// ParseCoverage reads a coverage table at the start of b.
func ParseCoverage(b []byte) (*Coverage, error) {
	c := &cursor{b: b}
	cov := &Coverage{Format: c.u16(0)}
	switch cov.Format {
	case 1:
		cov.Glyphs = c.glyphs(4, int(c.u16(2)))
	case 2:
		n := int(c.u16(2))
		cov.Ranges = make([]RangeRecord, 0, n)
		for i := 0; i < n && c.err == nil; i++ {
			off := 4 + 6*i
			cov.Ranges = append(cov.Ranges, RangeRecord{
				Start:      GlyphID(c.u16(off)),
				End:        GlyphID(c.u16(off + 2)),
				StartIndex: c.u16(off + 4),
			})
		}
	default:
		if c.err == nil {
			return nil, fmt.Errorf("%w: coverage format %d", ErrInvalidFormat, cov.Format)
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return cov, nil
}

// Index returns the coverage index of g.
func (c *Coverage) Index(g GlyphID) (int, bool) {
	if c == nil {
		return 0, false
	}
	switch c.Format {
	case 1:
		i := sort.Search(len(c.Glyphs), func(i int) bool { return c.Glyphs[i] >= g })
		if i < len(c.Glyphs) && c.Glyphs[i] == g {
			return i, true
		}
	case 2:
		i := sort.Search(len(c.Ranges), func(i int) bool { return c.Ranges[i].End >= g })
		if i < len(c.Ranges) && g >= c.Ranges[i].Start {
			r := c.Ranges[i]
			return int(r.StartIndex) + int(g-r.Start), true
		}
	}
	return 0, false
}

// Contains reports whether g is covered.
func (c *Coverage) Contains(g GlyphID) bool {
	_, ok := c.Index(g)
	return ok
}

// ClassRange assigns Class to the glyph range [Start, End].
type ClassRange struct {
	Start, End GlyphID
	Class      uint16
}

// ClassDef assigns glyphs to classes; unlisted glyphs are class 0.
type ClassDef struct {
	Format     uint16
	StartGlyph GlyphID  // format 1
	Classes    []uint16 // format 1
	Ranges     []ClassRange
}

// ParseClassDef reads a class definition table at the start of b.
func ParseClassDef(b []byte) (*ClassDef, error) {
	c := &cursor{b: b}
	cd := &ClassDef{Format: c.u16(0)}
	switch cd.Format {
	case 1:
		cd.StartGlyph = GlyphID(c.u16(2))
		cd.Classes = c.u16s(6, int(c.u16(4)))
	case 2:
		n := int(c.u16(2))
		cd.Ranges = make([]ClassRange, 0, n)
		for i := 0; i < n && c.err == nil; i++ {
			off := 4 + 6*i
			cd.Ranges = append(cd.Ranges, ClassRange{
				Start: GlyphID(c.u16(off)),
				End:   GlyphID(c.u16(off + 2)),
				Class: c.u16(off + 4),
			})
		}
	default:
		if c.err == nil {
			return nil, fmt.Errorf("%w: class definition format %d", ErrInvalidFormat, cd.Format)
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return cd, nil
}

// Class returns the class of g.
func (cd *ClassDef) Class(g GlyphID) uint16 {
	if cd == nil {
		return 0
	}
	switch cd.Format {
	case 1:
		i := int(g) - int(cd.StartGlyph)
		if i >= 0 && i < len(cd.Classes) {
			return cd.Classes[i]
		}
	case 2:
		i := sort.Search(len(cd.Ranges), func(i int) bool { return cd.Ranges[i].End >= g })
		if i < len(cd.Ranges) && g >= cd.Ranges[i].Start {
			return cd.Ranges[i].Class
		}
	}
	return 0
}
