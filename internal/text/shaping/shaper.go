// internal/text/shaping/shaper.go
package shaping

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"github.com/xkilldash9x/loupe/internal/text/bidi"
	"github.com/xkilldash9x/loupe/internal/text/opentype"
)

// Cluster is one grapheme cluster, the byte range [Start, End) of the text.
type Cluster struct {
	Start, End int
}

// Clusters splits text into extended grapheme clusters.
func Clusters(text string) []Cluster {
	var out []Cluster
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		from, to := g.Positions()
		out = append(out, Cluster{Start: from, End: to})
	}
	return out
}

// Default feature sets, applied in order.
var (
	DefaultSubstitutions = []string{"ccmp", "locl", "rlig", "liga", "clig"}
	DefaultPositioning   = []string{"curs", "kern", "mark", "mkmk"}
)

// GlyphPosition is one shaped glyph in visual order. Cluster is the byte
// offset of its source grapheme cluster.
type GlyphPosition struct {
	Glyph              opentype.GlyphID
	Cluster            int
	Level              uint8
	XAdvance, YAdvance int32
	XOffset, YOffset   int32
}

// Shaper maps text to positioned glyphs through a font's cmap and layout tables.
type Shaper struct {
	GSUB *opentype.GSUB
	GPOS *opentype.GPOS
	GDEF *opentype.GDEF
	// CMap maps a rune to its nominal glyph.
	CMap func(r rune) opentype.GlyphID
	// Advance returns a glyph's default horizontal advance.
	Advance func(g opentype.GlyphID) int32

	Substitutions []string // nil uses DefaultSubstitutions
	Positioning   []string // nil uses DefaultPositioning
}

// Shape runs bidi resolution, cluster formation, then substitution and
// positioning per directional run. A nil dir picks the direction from the text.
func (s *Shaper) Shape(text string, dir *bidi.Direction) []GlyphPosition {
	para := bidi.Resolve(text, dir)
	if len(para.Text) == 0 {
		return nil
	}

	// Byte offset of each rune, and the cluster start each rune belongs to.
	runeOffsets := make([]int, 0, len(para.Text))
	for off := range text {
		runeOffsets = append(runeOffsets, off)
	}
	clusterOf := make([]int, len(para.Text))
	ri := 0
	for _, cl := range Clusters(text) {
		for ri < len(runeOffsets) && runeOffsets[ri] < cl.End {
			clusterOf[ri] = cl.Start
			ri++
		}
	}

	runs := para.Runs()
	shaped := make([][]GlyphPosition, len(runs))
	for k, run := range runs {
		shaped[k] = s.shapeRun(para, run, clusterOf)
	}

	// Reorder runs visually (L2 at run granularity).
	order := visualRunOrder(runs)
	var out []GlyphPosition
	for _, k := range order {
		out = append(out, shaped[k]...)
	}
	return out
}

func (s *Shaper) shapeRun(para *bidi.Paragraph, run bidi.Run, clusterOf []int) []GlyphPosition {
	rtl := run.Direction() == bidi.RightToLeft
	buf := &opentype.Buffer{RightToLeft: rtl}
	for i := run.Start; i < run.End; i++ {
		r := para.Text[i]
		if rtl {
			r = bidi.MirrorChar(r)
		}
		g := opentype.Glyph{Cluster: clusterOf[i]}
		if s.CMap != nil {
			g.ID = s.CMap(r)
		}
		if unicode.Is(unicode.Mn, r) {
			g.Class = opentype.ClassMark
		} else {
			g.Class = opentype.ClassBase
		}
		buf.Glyphs = append(buf.Glyphs, g)
	}
	if s.GDEF != nil {
		s.GDEF.Classify(buf)
	}

	subs := s.Substitutions
	if subs == nil {
		subs = DefaultSubstitutions
	}
	for _, tag := range subs {
		s.GSUB.ApplyFeature(buf, tag)
	}
	for i := range buf.Glyphs {
		g := &buf.Glyphs[i]
		if s.Advance != nil && g.Class != opentype.ClassMark {
			g.XAdvance = s.Advance(g.ID)
		}
	}
	pos := s.Positioning
	if pos == nil {
		pos = DefaultPositioning
	}
	for _, tag := range pos {
		s.GPOS.ApplyFeature(buf, tag)
	}

	out := make([]GlyphPosition, len(buf.Glyphs))
	for i, g := range buf.Glyphs {
		out[i] = GlyphPosition{
			Glyph:    g.ID,
			Cluster:  g.Cluster,
			Level:    run.Level,
			XAdvance: g.XAdvance,
			YAdvance: g.YAdvance,
			XOffset:  g.XOffset,
			YOffset:  g.YOffset,
		}
	}
	if rtl {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// visualRunOrder reverses runs from the highest level down to the lowest odd level.
func visualRunOrder(runs []bidi.Run) []int {
	order := make([]int, len(runs))
	highest, lowestOdd := uint8(0), uint8(bidi.MaxDepth+2)
	for i, r := range runs {
		order[i] = i
		highest = max(highest, r.Level)
		if r.Level%2 == 1 {
			lowestOdd = min(lowestOdd, r.Level)
		}
	}
	for level := highest; level >= lowestOdd && level > 0; level-- {
		for i := 0; i < len(order); {
			if runs[order[i]].Level < level {
				i++
				continue
			}
			j := i
			for j < len(order) && runs[order[j]].Level >= level {
				j++
			}
			for a, b := i, j-1; a < b; a, b = a+1, b-1 {
				order[a], order[b] = order[b], order[a]
			}
			i = j
		}
	}
	return order
}

// VisualOrder reorders each line of text for display, mirroring paired
// punctuation in right-to-left runs.
func VisualOrder(text string) string {
	if !needsBidi(text) {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = bidi.Resolve(l, nil).Reorder()
	}
	return strings.Join(lines, "\n")
}

// needsBidi reports whether text holds any right-to-left or explicit
// directional character.
func needsBidi(text string) bool {
	for _, r := range text {
		if r < 0x0590 {
			continue
		}
		switch bidi.ClassOf(r) {
		case bidi.R, bidi.AL, bidi.AN, bidi.RLE, bidi.RLO, bidi.RLI, bidi.FSI, bidi.LRE, bidi.LRO, bidi.LRI:
			return true
		}
	}
	return false
}
