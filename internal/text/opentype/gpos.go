// internal/text/opentype/gpos.go
package opentype

import (
	"fmt"
	"math/bits"
	"sort"
)

// GPOS lookup types.
const (
	GPOSSingle       uint16 = 1
	GPOSPair         uint16 = 2
	GPOSCursive      uint16 = 3
	GPOSMarkToBase   uint16 = 4
	GPOSMarkToLig    uint16 = 5
	GPOSMarkToMark   uint16 = 6
	GPOSContext      uint16 = 7
	GPOSChainContext uint16 = 8
	GPOSExtension    uint16 = 9
)

// ValueRecord format bits. Device table offsets occupy space but are not applied.
const (
	ValueXPlacement       uint16 = 0x0001
	ValueYPlacement       uint16 = 0x0002
	ValueXAdvance         uint16 = 0x0004
	ValueYAdvance         uint16 = 0x0008
	ValueXPlacementDevice uint16 = 0x0010
	ValueYPlacementDevice uint16 = 0x0020
	ValueXAdvanceDevice   uint16 = 0x0040
	ValueYAdvanceDevice   uint16 = 0x0080
)

// ValueRecord adjusts the placement and advance of a glyph.
type ValueRecord struct {
	XPlacement, YPlacement int16
	XAdvance, YAdvance     int16
}

// valueSize is the encoded size of a value record: one 16-bit field per set bit.
func valueSize(format uint16) int {
	return 2 * bits.OnesCount16(format&0xFF)
}

func readValue(c *cursor, off int, format uint16) ValueRecord {
	var v ValueRecord
	for bit := uint16(1); bit <= ValueYAdvanceDevice; bit <<= 1 {
		if format&bit == 0 {
			continue
		}
		switch bit {
		case ValueXPlacement:
			v.XPlacement = c.i16(off)
		case ValueYPlacement:
			v.YPlacement = c.i16(off)
		case ValueXAdvance:
			v.XAdvance = c.i16(off)
		case ValueYAdvance:
			v.YAdvance = c.i16(off)
		}
		off += 2
	}
	return v
}

func (v ValueRecord) applyTo(g *Glyph) {
	g.XOffset += int32(v.XPlacement)
	g.YOffset += int32(v.YPlacement)
	g.XAdvance += int32(v.XAdvance)
	g.YAdvance += int32(v.YAdvance)
}

// Anchor is an attachment point in font units.
type Anchor struct {
	X, Y int16
}

// parseAnchor reads anchor formats 1 to 3; contour points and device tables are ignored.
func parseAnchor(b []byte) (*Anchor, error) {
	c := &cursor{b: b}
	format := c.u16(0)
	if c.err != nil {
		return nil, c.err
	}
	if format < 1 || format > 3 {
		return nil, fmt.Errorf("%w: anchor format %d", ErrInvalidFormat, format)
	}
	a := &Anchor{X: c.i16(2), Y: c.i16(4)}
	return a, c.err
}

func parseOptionalAnchor(c *cursor, base []byte, at int) (*Anchor, error) {
	off := c.u16(at)
	if off == 0 || c.err != nil {
		return nil, c.err
	}
	if int(off) > len(base) {
		return nil, ErrTruncated
	}
	return parseAnchor(base[off:])
}

// GPOS is a parsed glyph positioning table.
type GPOS struct {
	layoutTable
}

// ParseGPOS parses a GPOS table.
func ParseGPOS(data []byte) (*GPOS, error) {
	t, err := parseLayoutHeader(data, GPOSExtension, 0, parseGPOSSubtable)
	if err != nil {
		return nil, fmt.Errorf("GPOS: %w", err)
	}
	return &GPOS{layoutTable: t}, nil
}

// NewGPOS assembles a table from lookups built in memory.
func NewGPOS(lookups ...Lookup) *GPOS {
	return &GPOS{layoutTable: layoutTable{Lookups: lookups, Features: map[string][]int{}}}
}

// Apply runs one lookup over buf and reports whether anything moved.
func (g *GPOS) Apply(buf *Buffer, lookupIndex int) bool {
	if g == nil {
		return false
	}
	return applyLookup(buf, g.Lookups, lookupIndex, 0)
}

// ApplyFeature runs every lookup of a feature in lookup-list order.
func (g *GPOS) ApplyFeature(buf *Buffer, tag string) bool {
	if g == nil {
		return false
	}
	applied := false
	for _, idx := range g.Features[tag] {
		applied = g.Apply(buf, idx) || applied
	}
	return applied
}

func parseGPOSSubtable(typ uint16, b []byte) (Subtable, error) {
	switch typ {
	case GPOSSingle:
		return parseSinglePos(b)
	case GPOSPair:
		return parsePairPos(b)
	case GPOSCursive:
		return parseCursivePos(b)
	case GPOSMarkToBase, GPOSMarkToMark:
		return parseMarkAttach(b, typ == GPOSMarkToMark)
	case GPOSMarkToLig:
		return parseMarkLigPos(b)
	case GPOSContext:
		return parseContext(b, false)
	case GPOSChainContext:
		return parseContext(b, true)
	}
	return nil, fmt.Errorf("%w: GPOS lookup type %d", ErrInvalidFormat, typ)
}

// -- Type 1 --

// SinglePos adjusts one glyph with a shared (format 1) or per-glyph (format 2) value.
type SinglePos struct {
	Coverage *Coverage
	Value    ValueRecord
	Values   []ValueRecord
}

func parseSinglePos(b []byte) (*SinglePos, error) {
	c := &cursor{b: b}
	format := c.u16(0)
	cov, err := ParseCoverage(c.sub(int(c.u16(2))))
	if err != nil {
		return nil, err
	}
	vf := c.u16(4)
	st := &SinglePos{Coverage: cov}
	switch format {
	case 1:
		st.Value = readValue(c, 6, vf)
	case 2:
		n := int(c.u16(6))
		size := valueSize(vf)
		for i := 0; i < n && c.err == nil; i++ {
			st.Values = append(st.Values, readValue(c, 8+i*size, vf))
		}
	default:
		return nil, fmt.Errorf("%w: single positioning format %d", ErrInvalidFormat, format)
	}
	return st, c.err
}

func (st *SinglePos) apply(c *applyContext, i int) (int, bool) {
	g := &c.buf.Glyphs[i]
	idx, ok := st.Coverage.Index(g.ID)
	if !ok {
		return 0, false
	}
	v := st.Value
	if st.Values != nil {
		if idx >= len(st.Values) {
			return 0, false
		}
		v = st.Values[idx]
	}
	v.applyTo(g)
	return i + 1, true
}

// -- Type 2 --

// PairValue adjusts a pair whose second glyph is Second.
type PairValue struct {
	Second         GlyphID
	First, SecondV ValueRecord
}

// ClassPair holds the adjustments of one class1 x class2 cell.
type ClassPair struct {
	First, Second ValueRecord
}

// PairPos kerns glyph pairs by explicit pairs (format 1) or class matrix (format 2).
type PairPos struct {
	Coverage *Coverage
	// SecondSignificant is false when the second value format is empty, so
	// the second glyph may start the next pair.
	SecondSignificant bool

	PairSets [][]PairValue // format 1, sorted by Second

	ClassDef1, ClassDef2 *ClassDef // format 2
	Matrix               [][]ClassPair
}

func parsePairPos(b []byte) (*PairPos, error) {
	c := &cursor{b: b}
	format := c.u16(0)
	cov, err := ParseCoverage(c.sub(int(c.u16(2))))
	if err != nil {
		return nil, err
	}
	vf1, vf2 := c.u16(4), c.u16(6)
	s1, s2 := valueSize(vf1), valueSize(vf2)
	st := &PairPos{Coverage: cov, SecondSignificant: vf2 != 0}
	switch format {
	case 1:
		for _, off := range c.u16s(10, int(c.u16(8))) {
			sc := &cursor{b: c.sub(int(off))}
			n := int(sc.u16(0))
			set := make([]PairValue, 0, n)
			for i := 0; i < n && sc.err == nil; i++ {
				rec := 2 + i*(2+s1+s2)
				set = append(set, PairValue{
					Second:  GlyphID(sc.u16(rec)),
					First:   readValue(sc, rec+2, vf1),
					SecondV: readValue(sc, rec+2+s1, vf2),
				})
			}
			if sc.err != nil {
				return nil, sc.err
			}
			st.PairSets = append(st.PairSets, set)
		}
	case 2:
		if st.ClassDef1, err = ParseClassDef(c.sub(int(c.u16(8)))); err != nil {
			return nil, err
		}
		if st.ClassDef2, err = ParseClassDef(c.sub(int(c.u16(10)))); err != nil {
			return nil, err
		}
		n1, n2 := int(c.u16(12)), int(c.u16(14))
		off := 16
		for i := 0; i < n1 && c.err == nil; i++ {
			row := make([]ClassPair, n2)
			for j := range row {
				row[j] = ClassPair{First: readValue(c, off, vf1), Second: readValue(c, off+s1, vf2)}
				off += s1 + s2
			}
			st.Matrix = append(st.Matrix, row)
		}
	default:
		return nil, fmt.Errorf("%w: pair positioning format %d", ErrInvalidFormat, format)
	}
	return st, c.err
}

func (st *PairPos) apply(c *applyContext, i int) (int, bool) {
	idx, ok := st.Coverage.Index(c.buf.Glyphs[i].ID)
	if !ok {
		return 0, false
	}
	j := c.next(i)
	if j < 0 {
		return 0, false
	}
	first, second := &c.buf.Glyphs[i], &c.buf.Glyphs[j]
	var v1, v2 ValueRecord
	if st.PairSets != nil {
		if idx >= len(st.PairSets) {
			return 0, false
		}
		set := st.PairSets[idx]
		k := sort.Search(len(set), func(k int) bool { return set[k].Second >= second.ID })
		if k == len(set) || set[k].Second != second.ID {
			return 0, false
		}
		v1, v2 = set[k].First, set[k].SecondV
	} else {
		c1, c2 := int(st.ClassDef1.Class(first.ID)), int(st.ClassDef2.Class(second.ID))
		if c1 >= len(st.Matrix) || c2 >= len(st.Matrix[c1]) {
			return 0, false
		}
		v1, v2 = st.Matrix[c1][c2].First, st.Matrix[c1][c2].Second
	}
	v1.applyTo(first)
	v2.applyTo(second)
	if st.SecondSignificant {
		return j + 1, true
	}
	return j, true
}

// -- Type 3 --

// EntryExit holds the cursive anchors of one glyph; either may be nil.
type EntryExit struct {
	Entry, Exit *Anchor
}

// CursivePos joins the exit anchor of a glyph to the entry anchor of the next.
type CursivePos struct {
	Coverage *Coverage
	Records  []EntryExit
}

func parseCursivePos(b []byte) (*CursivePos, error) {
	c := &cursor{b: b}
	if f := c.u16(0); f != 1 && c.err == nil {
		return nil, fmt.Errorf("%w: cursive format %d", ErrInvalidFormat, f)
	}
	cov, err := ParseCoverage(c.sub(int(c.u16(2))))
	if err != nil {
		return nil, err
	}
	st := &CursivePos{Coverage: cov}
	n := int(c.u16(4))
	for i := 0; i < n && c.err == nil; i++ {
		entry, err := parseOptionalAnchor(c, b, 6+4*i)
		if err != nil {
			return nil, err
		}
		exit, err := parseOptionalAnchor(c, b, 8+4*i)
		if err != nil {
			return nil, err
		}
		st.Records = append(st.Records, EntryExit{Entry: entry, Exit: exit})
	}
	return st, c.err
}

func (st *CursivePos) record(g GlyphID) (EntryExit, bool) {
	idx, ok := st.Coverage.Index(g)
	if !ok || idx >= len(st.Records) {
		return EntryExit{}, false
	}
	return st.Records[idx], true
}

func (st *CursivePos) apply(c *applyContext, i int) (int, bool) {
	cur, ok := st.record(c.buf.Glyphs[i].ID)
	if !ok || cur.Exit == nil {
		return 0, false
	}
	j := c.next(i)
	if j < 0 {
		return 0, false
	}
	nxt, ok := st.record(c.buf.Glyphs[j].ID)
	if !ok || nxt.Entry == nil {
		return 0, false
	}
	a, b := &c.buf.Glyphs[i], &c.buf.Glyphs[j]
	exit, entry := cur.Exit, nxt.Entry
	if c.buf.RightToLeft {
		// The next glyph in logical order sits to the left.
		d := int32(exit.X) + a.XOffset
		a.XAdvance -= d
		a.XOffset -= d
		b.XAdvance = int32(entry.X) + b.XOffset
	} else {
		a.XAdvance = int32(exit.X) + a.XOffset
		d := int32(entry.X) + b.XOffset
		b.XAdvance -= d
		b.XOffset -= d
	}
	b.YOffset = a.YOffset + int32(exit.Y) - int32(entry.Y)
	return j, true
}

// -- Types 4, 5, 6 --

// MarkRecord is the class and anchor of one mark glyph.
type MarkRecord struct {
	Class  uint16
	Anchor *Anchor
}

func parseMarkArray(b []byte) ([]MarkRecord, error) {
	c := &cursor{b: b}
	n := int(c.u16(0))
	out := make([]MarkRecord, 0, n)
	for i := 0; i < n && c.err == nil; i++ {
		a, err := parseOptionalAnchor(c, b, 4+4*i)
		if err != nil {
			return nil, err
		}
		out = append(out, MarkRecord{Class: c.u16(2 + 4*i), Anchor: a})
	}
	return out, c.err
}

// parseAnchorMatrix reads rows of classCount anchor offsets, as used by the
// base array, the mark2 array and each ligature attach table.
func parseAnchorMatrix(b []byte, classCount int) ([][]*Anchor, error) {
	c := &cursor{b: b}
	rows := int(c.u16(0))
	out := make([][]*Anchor, 0, rows)
	for r := 0; r < rows && c.err == nil; r++ {
		row := make([]*Anchor, classCount)
		for k := range row {
			a, err := parseOptionalAnchor(c, b, 2+2*(r*classCount+k))
			if err != nil {
				return nil, err
			}
			row[k] = a
		}
		out = append(out, row)
	}
	return out, c.err
}

// MarkAttachPos attaches marks to a preceding base (type 4) or to a
// preceding mark (type 6).
type MarkAttachPos struct {
	ToMark       bool
	MarkCoverage *Coverage
	BaseCoverage *Coverage
	ClassCount   int
	Marks        []MarkRecord
	Bases        [][]*Anchor // [base index][mark class]
}

func parseMarkAttach(b []byte, toMark bool) (*MarkAttachPos, error) {
	c := &cursor{b: b}
	if f := c.u16(0); f != 1 && c.err == nil {
		return nil, fmt.Errorf("%w: mark attachment format %d", ErrInvalidFormat, f)
	}
	st := &MarkAttachPos{ToMark: toMark, ClassCount: int(c.u16(6))}
	var err error
	if st.MarkCoverage, err = ParseCoverage(c.sub(int(c.u16(2)))); err != nil {
		return nil, err
	}
	if st.BaseCoverage, err = ParseCoverage(c.sub(int(c.u16(4)))); err != nil {
		return nil, err
	}
	if st.Marks, err = parseMarkArray(c.sub(int(c.u16(8)))); err != nil {
		return nil, err
	}
	if st.Bases, err = parseAnchorMatrix(c.sub(int(c.u16(10))), st.ClassCount); err != nil {
		return nil, err
	}
	return st, c.err
}

func (st *MarkAttachPos) apply(c *applyContext, i int) (int, bool) {
	mark := c.buf.Glyphs[i]
	mIdx, ok := st.MarkCoverage.Index(mark.ID)
	if !ok || mIdx >= len(st.Marks) {
		return 0, false
	}
	// Find the attachment target, skipping marks for base attachment.
	j := i - 1
	if st.ToMark {
		if j < 0 || c.buf.Glyphs[j].Class != ClassMark {
			return 0, false
		}
	} else {
		for j >= 0 && c.buf.Glyphs[j].Class == ClassMark {
			j--
		}
	}
	if j < 0 {
		return 0, false
	}
	bIdx, ok := st.BaseCoverage.Index(c.buf.Glyphs[j].ID)
	if !ok || bIdx >= len(st.Bases) {
		return 0, false
	}
	mr := st.Marks[mIdx]
	if int(mr.Class) >= len(st.Bases[bIdx]) {
		return 0, false
	}
	attach(c.buf, j, i, st.Bases[bIdx][mr.Class], mr.Anchor)
	return i + 1, true
}

// attach positions the mark at i so its anchor meets target's anchor on glyph j.
func attach(buf *Buffer, j, i int, target, markAnchor *Anchor) {
	if target == nil || markAnchor == nil {
		return
	}
	base := buf.Glyphs[j]
	// The pen has advanced past the target and anything between.
	var advance int32
	for k := j; k < i; k++ {
		advance += buf.Glyphs[k].XAdvance
	}
	m := &buf.Glyphs[i]
	m.XOffset = base.XOffset + int32(target.X) - int32(markAnchor.X) - advance
	m.YOffset = base.YOffset + int32(target.Y) - int32(markAnchor.Y)
}

// MarkLigPos attaches marks to one component of a preceding ligature.
type MarkLigPos struct {
	MarkCoverage     *Coverage
	LigatureCoverage *Coverage
	ClassCount       int
	Marks            []MarkRecord
	Ligatures        [][][]*Anchor // [ligature index][component][mark class]
}

func parseMarkLigPos(b []byte) (*MarkLigPos, error) {
	c := &cursor{b: b}
	if f := c.u16(0); f != 1 && c.err == nil {
		return nil, fmt.Errorf("%w: mark-to-ligature format %d", ErrInvalidFormat, f)
	}
	st := &MarkLigPos{ClassCount: int(c.u16(6))}
	var err error
	if st.MarkCoverage, err = ParseCoverage(c.sub(int(c.u16(2)))); err != nil {
		return nil, err
	}
	if st.LigatureCoverage, err = ParseCoverage(c.sub(int(c.u16(4)))); err != nil {
		return nil, err
	}
	if st.Marks, err = parseMarkArray(c.sub(int(c.u16(8)))); err != nil {
		return nil, err
	}
	la := &cursor{b: c.sub(int(c.u16(10)))}
	for _, off := range la.u16s(2, int(la.u16(0))) {
		comps, err := parseAnchorMatrix(la.sub(int(off)), st.ClassCount)
		if err != nil {
			return nil, err
		}
		st.Ligatures = append(st.Ligatures, comps)
	}
	if la.err != nil {
		return nil, la.err
	}
	return st, c.err
}

func (st *MarkLigPos) apply(c *applyContext, i int) (int, bool) {
	mark := c.buf.Glyphs[i]
	mIdx, ok := st.MarkCoverage.Index(mark.ID)
	if !ok || mIdx >= len(st.Marks) {
		return 0, false
	}
	j := i - 1
	for j >= 0 && c.buf.Glyphs[j].Class == ClassMark {
		j--
	}
	if j < 0 {
		return 0, false
	}
	lIdx, ok := st.LigatureCoverage.Index(c.buf.Glyphs[j].ID)
	if !ok || lIdx >= len(st.Ligatures) || len(st.Ligatures[lIdx]) == 0 {
		return 0, false
	}
	comps := st.Ligatures[lIdx]
	comp := len(comps) - 1
	if mark.LigatureID != 0 {
		comp = min(mark.Component, len(comps)-1)
	}
	mr := st.Marks[mIdx]
	if int(mr.Class) >= len(comps[comp]) {
		return 0, false
	}
	attach(c.buf, j, i, comps[comp][mr.Class], mr.Anchor)
	return i + 1, true
}
