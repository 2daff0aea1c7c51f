// internal/text/opentype/gsub.go
package opentype

import (
	"fmt"
)

// GSUB lookup types.
const (
	GSUBSingle       uint16 = 1
	GSUBMultiple     uint16 = 2
	GSUBAlternate    uint16 = 3
	GSUBLigature     uint16 = 4
	GSUBContext      uint16 = 5
	GSUBChainContext uint16 = 6
	GSUBExtension    uint16 = 7
	GSUBReverseChain uint16 = 8
)

// GSUB is a parsed glyph substitution table.
type GSUB struct {
	layoutTable
}

// ParseGSUB parses a GSUB table. Extension subtables are resolved to the
// subtable they point at.
func ParseGSUB(data []byte) (*GSUB, error) {
	t, err := parseLayoutHeader(data, GSUBExtension, GSUBReverseChain, parseGSUBSubtable)
	if err != nil {
		return nil, fmt.Errorf("GSUB: %w", err)
	}
	return &GSUB{layoutTable: t}, nil
}

// NewGSUB assembles a table from lookups built in memory.
func NewGSUB(lookups ...Lookup) *GSUB {
	for i := range lookups {
		lookups[i].reverse = lookups[i].Type == GSUBReverseChain
	}
	return &GSUB{layoutTable: layoutTable{Lookups: lookups, Features: map[string][]int{}}}
}

// Apply runs one lookup over buf and reports whether anything changed.
func (g *GSUB) Apply(buf *Buffer, lookupIndex int) bool {
	if g == nil {
		return false
	}
	return applyLookup(buf, g.Lookups, lookupIndex, 0)
}

// ApplyFeature runs every lookup of a feature in lookup-list order.
func (g *GSUB) ApplyFeature(buf *Buffer, tag string) bool {
	if g == nil {
		return false
	}
	applied := false
	for _, idx := range g.Features[tag] {
		applied = g.Apply(buf, idx) || applied
	}
	return applied
}

func parseGSUBSubtable(typ uint16, b []byte) (Subtable, error) {
	switch typ {
	case GSUBSingle:
		return parseSingleSubst(b)
	case GSUBMultiple:
		st, err := parseSequenceSubst(b)
		if err != nil {
			return nil, err
		}
		return &MultipleSubst{Coverage: st.cov, Sequences: st.seqs}, nil
	case GSUBAlternate:
		st, err := parseSequenceSubst(b)
		if err != nil {
			return nil, err
		}
		return &AlternateSubst{Coverage: st.cov, Alternates: st.seqs}, nil
	case GSUBLigature:
		return parseLigatureSubst(b)
	case GSUBContext:
		return parseContext(b, false)
	case GSUBChainContext:
		return parseContext(b, true)
	case GSUBReverseChain:
		return parseReverseChain(b)
	}
	return nil, fmt.Errorf("%w: GSUB lookup type %d", ErrInvalidFormat, typ)
}

// -- Type 1 --

// SingleSubst replaces one glyph with another, by delta (format 1) or by
// array (format 2).
type SingleSubst struct {
	Coverage    *Coverage
	Delta       int16
	Substitutes []GlyphID
}

func parseSingleSubst(b []byte) (*SingleSubst, error) {
	c := &cursor{b: b}
	format := c.u16(0)
	cov, err := ParseCoverage(c.sub(int(c.u16(2))))
	if err != nil {
		return nil, err
	}
	st := &SingleSubst{Coverage: cov}
	switch format {
	case 1:
		st.Delta = c.i16(4)
	case 2:
		st.Substitutes = c.glyphs(6, int(c.u16(4)))
	default:
		return nil, fmt.Errorf("%w: single substitution format %d", ErrInvalidFormat, format)
	}
	return st, c.err
}

func (st *SingleSubst) apply(c *applyContext, i int) (int, bool) {
	g := &c.buf.Glyphs[i]
	idx, ok := st.Coverage.Index(g.ID)
	if !ok {
		return 0, false
	}
	if st.Substitutes != nil {
		if idx >= len(st.Substitutes) {
			return 0, false
		}
		g.ID = st.Substitutes[idx]
	} else {
		g.ID = GlyphID(uint16(int(g.ID) + int(st.Delta)))
	}
	return i + 1, true
}

// -- Types 2 and 3 --

type sequenceTable struct {
	cov  *Coverage
	seqs [][]GlyphID
}

// parseSequenceSubst reads the shared layout of multiple and alternate
// substitution: a coverage plus one glyph array per covered glyph.
func parseSequenceSubst(b []byte) (*sequenceTable, error) {
	c := &cursor{b: b}
	if f := c.u16(0); f != 1 && c.err == nil {
		return nil, fmt.Errorf("%w: sequence format %d", ErrInvalidFormat, f)
	}
	cov, err := ParseCoverage(c.sub(int(c.u16(2))))
	if err != nil {
		return nil, err
	}
	st := &sequenceTable{cov: cov}
	for _, off := range c.u16s(6, int(c.u16(4))) {
		sc := &cursor{b: c.sub(int(off))}
		st.seqs = append(st.seqs, sc.glyphs(2, int(sc.u16(0))))
		if sc.err != nil {
			return nil, sc.err
		}
	}
	return st, c.err
}

// MultipleSubst replaces one glyph with a sequence; an empty sequence deletes it.
type MultipleSubst struct {
	Coverage  *Coverage
	Sequences [][]GlyphID
}

func (st *MultipleSubst) apply(c *applyContext, i int) (int, bool) {
	g := c.buf.Glyphs[i]
	idx, ok := st.Coverage.Index(g.ID)
	if !ok || idx >= len(st.Sequences) {
		return 0, false
	}
	seq := st.Sequences[idx]
	out := make([]Glyph, len(seq))
	for k, id := range seq {
		out[k] = g
		out[k].ID = id
	}
	c.buf.replace(i, i+1, out)
	return i + len(seq), true
}

// AlternateSubst replaces a glyph with the buffer's chosen alternate.
type AlternateSubst struct {
	Coverage   *Coverage
	Alternates [][]GlyphID
}

func (st *AlternateSubst) apply(c *applyContext, i int) (int, bool) {
	g := &c.buf.Glyphs[i]
	idx, ok := st.Coverage.Index(g.ID)
	if !ok || idx >= len(st.Alternates) || len(st.Alternates[idx]) == 0 {
		return 0, false
	}
	alts := st.Alternates[idx]
	g.ID = alts[min(max(c.buf.Alternate, 0), len(alts)-1)]
	return i + 1, true
}

// -- Type 4 --

// Ligature replaces the covered first glyph followed by Components.
type Ligature struct {
	Glyph      GlyphID
	Components []GlyphID
}

// LigatureSubst merges glyph sequences into ligatures; the longest match wins.
type LigatureSubst struct {
	Coverage     *Coverage
	LigatureSets [][]Ligature
}

func parseLigatureSubst(b []byte) (*LigatureSubst, error) {
	c := &cursor{b: b}
	if f := c.u16(0); f != 1 && c.err == nil {
		return nil, fmt.Errorf("%w: ligature format %d", ErrInvalidFormat, f)
	}
	cov, err := ParseCoverage(c.sub(int(c.u16(2))))
	if err != nil {
		return nil, err
	}
	st := &LigatureSubst{Coverage: cov}
	for _, setOff := range c.u16s(6, int(c.u16(4))) {
		sc := &cursor{b: c.sub(int(setOff))}
		var set []Ligature
		for _, ligOff := range sc.u16s(2, int(sc.u16(0))) {
			lc := &cursor{b: sc.sub(int(ligOff))}
			n := int(lc.u16(2))
			set = append(set, Ligature{Glyph: GlyphID(lc.u16(0)), Components: lc.glyphs(4, max(n-1, 0))})
			if lc.err != nil {
				return nil, lc.err
			}
		}
		if sc.err != nil {
			return nil, sc.err
		}
		st.LigatureSets = append(st.LigatureSets, set)
	}
	return st, c.err
}

func (st *LigatureSubst) apply(c *applyContext, i int) (int, bool) {
	idx, ok := st.Coverage.Index(c.buf.Glyphs[i].ID)
	if !ok || idx >= len(st.LigatureSets) {
		return 0, false
	}
	var best *Ligature
	var bestPos []int
	for k := range st.LigatureSets[idx] {
		lig := &st.LigatureSets[idx][k]
		if best != nil && len(lig.Components) <= len(best.Components) {
			continue
		}
		comps := make([]uint16, len(lig.Components))
		for j, g := range lig.Components {
			comps[j] = uint16(g)
		}
		if pos, ok := c.matchInput(i, comps, matchGlyph); ok {
			best, bestPos = lig, pos
		}
	}
	if best == nil {
		return 0, false
	}

	c.buf.nextLigature++
	ligID := c.buf.nextLigature
	first := c.buf.Glyphs[i]
	first.ID = best.Glyph
	first.Class = ClassLigature
	last := bestPos[len(bestPos)-1]

	// Keep skipped glyphs between components, tagging marks with the
	// component they follow.
	out := []Glyph{first}
	comp := 0
	next := 1
	for k := i + 1; k <= last; k++ {
		if next < len(bestPos) && k == bestPos[next] {
			comp++
			next++
			continue
		}
		g := c.buf.Glyphs[k]
		g.LigatureID, g.Component = ligID, comp
		out = append(out, g)
	}
	c.buf.replace(i, last+1, out)
	return i + len(out), true
}

// -- Type 8 --

// ReverseChainSubst is a single substitution with backtrack and lookahead
// context, applied from the end of the buffer.
type ReverseChainSubst struct {
	Coverage           *Coverage
	BacktrackCoverages []*Coverage
	LookaheadCoverages []*Coverage
	Substitutes        []GlyphID
}

func parseReverseChain(b []byte) (*ReverseChainSubst, error) {
	c := &cursor{b: b}
	if f := c.u16(0); f != 1 && c.err == nil {
		return nil, fmt.Errorf("%w: reverse chain format %d", ErrInvalidFormat, f)
	}
	cov, err := ParseCoverage(c.sub(int(c.u16(2))))
	if err != nil {
		return nil, err
	}
	st := &ReverseChainSubst{Coverage: cov}
	off := 4
	n := int(c.u16(off))
	if st.BacktrackCoverages, err = parseCoverageList(c, b, off+2, n); err != nil {
		return nil, err
	}
	off += 2 + 2*n
	n = int(c.u16(off))
	if st.LookaheadCoverages, err = parseCoverageList(c, b, off+2, n); err != nil {
		return nil, err
	}
	off += 2 + 2*n
	st.Substitutes = c.glyphs(off+2, int(c.u16(off)))
	return st, c.err
}

func (st *ReverseChainSubst) apply(c *applyContext, i int) (int, bool) {
	g := &c.buf.Glyphs[i]
	idx, ok := st.Coverage.Index(g.ID)
	if !ok || idx >= len(st.Substitutes) {
		return 0, false
	}
	if _, ok := c.matchCoverages(i, st.BacktrackCoverages, c.prev, false); !ok {
		return 0, false
	}
	if _, ok := c.matchCoverages(i, st.LookaheadCoverages, c.next, false); !ok {
		return 0, false
	}
	g.ID = st.Substitutes[idx]
	return i + 1, true
}
