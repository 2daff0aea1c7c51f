// internal/text/opentype/lookup.go
package opentype

import (
	"fmt"
)

// Lookup flag bits.
const (
	RightToLeftFlag        uint16 = 0x0001
	IgnoreBaseGlyphs       uint16 = 0x0002
	IgnoreLigatures        uint16 = 0x0004
	IgnoreMarks            uint16 = 0x0008
	UseMarkFilteringSet    uint16 = 0x0010
	MarkAttachmentTypeMask uint16 = 0xFF00
)

// maxNesting bounds contextual lookups that invoke further lookups.
const maxNesting = 64

// Subtable is one lookup subtable of either table.
type Subtable interface {
	apply(c *applyContext, i int) (next int, ok bool)
}

// Lookup is an ordered list of subtables of one lookup type.
type Lookup struct {
	Type      uint16
	Flag      uint16
	Subtables []Subtable

	reverse bool // applied from the end of the buffer
}

// LookupRecord invokes lookup LookupIndex at input position SequenceIndex.
type LookupRecord struct {
	SequenceIndex uint16
	LookupIndex   uint16
}

// layoutTable holds the parts shared by GSUB and GPOS.
type layoutTable struct {
	Lookups  []Lookup
	Features map[string][]int // feature tag to lookup indices
}

// parseLayoutHeader reads the header, feature list and lookup list. parse
// builds a subtable of the given type.
func parseLayoutHeader(data []byte, extensionType, reverseType uint16, parse func(typ uint16, b []byte) (Subtable, error)) (layoutTable, error) {
	var t layoutTable
	c := &cursor{b: data}
	major := c.u16(0)
	featureOff := int(c.u16(6))
	lookupOff := int(c.u16(8))
	if c.err != nil {
		return t, c.err
	}
	if major != 1 {
		return t, fmt.Errorf("%w: layout table version %d", ErrInvalidFormat, major)
	}

	t.Features = make(map[string][]int)
	if featureOff != 0 {
		fl := &cursor{b: c.sub(featureOff)}
		n := int(fl.u16(0))
		for i := 0; i < n && fl.err == nil; i++ {
			rec := 2 + 6*i
			raw := fl.sub(rec)
			tag := string(raw[:min(4, len(raw))])
			feat := &cursor{b: fl.sub(int(fl.u16(rec + 4)))}
			for _, idx := range feat.u16s(4, int(feat.u16(2))) {
				t.Features[tag] = append(t.Features[tag], int(idx))
			}
			if feat.err != nil {
				return t, feat.err
			}
		}
		if fl.err != nil {
			return t, fl.err
		}
	}

	ll := &cursor{b: c.sub(lookupOff)}
	count := int(ll.u16(0))
	for _, off := range ll.u16s(2, count) {
		lc := &cursor{b: ll.sub(int(off))}
		lk := Lookup{Type: lc.u16(0), Flag: lc.u16(2)}
		for _, soff := range lc.u16s(6, int(lc.u16(4))) {
			typ, sb := lk.Type, lc.sub(int(soff))
			if typ == extensionType {
				ext := &cursor{b: sb}
				if f := ext.u16(0); f != 1 && ext.err == nil {
					return t, fmt.Errorf("%w: extension format %d", ErrInvalidFormat, f)
				}
				typ = ext.u16(2)
				sb = ext.sub(int(ext.u32(4)))
				if ext.err != nil {
					return t, ext.err
				}
				lk.Type = typ
			}
			if lc.err != nil {
				return t, lc.err
			}
			st, err := parse(typ, sb)
			if err != nil {
				return t, fmt.Errorf("lookup type %d: %w", typ, err)
			}
			lk.Subtables = append(lk.Subtables, st)
		}
		if lc.err != nil {
			return t, lc.err
		}
		lk.reverse = reverseType != 0 && lk.Type == reverseType
		t.Lookups = append(t.Lookups, lk)
	}
	if ll.err != nil {
		return t, ll.err
	}
	return t, nil
}

// applyContext carries one lookup application over a buffer.
type applyContext struct {
	buf     *Buffer
	lookups []Lookup
	flag    uint16
	depth   int
}

func (c *applyContext) skip(i int) bool {
	g := c.buf.Glyphs[i]
	switch {
	case c.flag&IgnoreMarks != 0 && g.Class == ClassMark:
		return true
	case c.flag&IgnoreBaseGlyphs != 0 && g.Class == ClassBase:
		return true
	case c.flag&IgnoreLigatures != 0 && g.Class == ClassLigature:
		return true
	}
	return false
}

// next returns the next unskipped index after i, or -1.
func (c *applyContext) next(i int) int {
	for j := i + 1; j < len(c.buf.Glyphs); j++ {
		if !c.skip(j) {
			return j
		}
	}
	return -1
}

// prev returns the previous unskipped index before i, or -1.
func (c *applyContext) prev(i int) int {
	for j := i - 1; j >= 0; j-- {
		if !c.skip(j) {
			return j
		}
	}
	return -1
}

// applyLookup runs lookup index over the whole buffer.
func applyLookup(buf *Buffer, lookups []Lookup, index int, depth int) bool {
	if index < 0 || index >= len(lookups) || depth > maxNesting {
		return false
	}
	lk := lookups[index]
	c := &applyContext{buf: buf, lookups: lookups, flag: lk.Flag, depth: depth}
	applied := false
	if lk.reverse {
		for i := len(buf.Glyphs) - 1; i >= 0; i-- {
			if c.skip(i) {
				continue
			}
			for _, st := range lk.Subtables {
				if _, ok := st.apply(c, i); ok {
					applied = true
					break
				}
			}
		}
		return applied
	}
	for i := 0; i < len(buf.Glyphs); {
		if c.skip(i) {
			i++
			continue
		}
		next := i + 1
		before := len(buf.Glyphs)
		for _, st := range lk.Subtables {
			if n, ok := st.apply(c, i); ok {
				applied = true
				next = max(n, i+1)
				// A deletion leaves the following glyph at i.
				if n <= i && len(buf.Glyphs) < before {
					next = i
				}
				break
			}
		}
		i = next
	}
	return applied
}

// applyLookupAt runs one lookup at a single position, for nested records.
func applyLookupAt(c *applyContext, index, pos int) bool {
	if index < 0 || index >= len(c.lookups) || c.depth >= maxNesting || pos >= len(c.buf.Glyphs) {
		return false
	}
	lk := c.lookups[index]
	nc := &applyContext{buf: c.buf, lookups: c.lookups, flag: lk.Flag, depth: c.depth + 1}
	for _, st := range lk.Subtables {
		if _, ok := st.apply(nc, pos); ok {
			return true
		}
	}
	return false
}

// -- Contextual matching, shared by GSUB 5/6 and GPOS 7/8 --

// ContextRule is one rule of a format 1 or 2 (chained) context subtable.
// Input omits the first position, which the coverage or class already matched.
type ContextRule struct {
	Backtrack []uint16
	Input     []uint16
	Lookahead []uint16
	Records   []LookupRecord
}

// ContextSubtable implements context and chained context lookups.
type ContextSubtable struct {
	Format  uint16
	Chained bool

	Coverage *Coverage
	// Format 1 rule sets are indexed by coverage index, format 2 by input class.
	RuleSets [][]ContextRule

	BacktrackClasses, InputClasses, LookaheadClasses *ClassDef

	// Format 3.
	BacktrackCoverages, InputCoverages, LookaheadCoverages []*Coverage
	Records                                                []LookupRecord
}

func parseLookupRecords(c *cursor, off, count int) []LookupRecord {
	recs := make([]LookupRecord, 0, count)
	for i := 0; i < count && c.err == nil; i++ {
		recs = append(recs, LookupRecord{SequenceIndex: c.u16(off + 4*i), LookupIndex: c.u16(off + 4*i + 2)})
	}
	return recs
}

func parseCoverageList(c *cursor, base []byte, off, count int) ([]*Coverage, error) {
	out := make([]*Coverage, 0, count)
	for _, o := range c.u16s(off, count) {
		cov, err := ParseCoverage(base[min(int(o), len(base)):])
		if err != nil {
			return nil, err
		}
		out = append(out, cov)
	}
	return out, c.err
}

func parseContext(b []byte, chained bool) (*ContextSubtable, error) {
	c := &cursor{b: b}
	st := &ContextSubtable{Format: c.u16(0), Chained: chained}
	var err error
	switch st.Format {
	case 1, 2:
		if st.Coverage, err = ParseCoverage(c.sub(int(c.u16(2)))); err != nil {
			return nil, err
		}
		setsOff := 4
		if st.Format == 2 {
			if chained {
				if st.BacktrackClasses, err = parseOptionalClassDef(c, 4); err != nil {
					return nil, err
				}
				if st.InputClasses, err = parseOptionalClassDef(c, 6); err != nil {
					return nil, err
				}
				if st.LookaheadClasses, err = parseOptionalClassDef(c, 8); err != nil {
					return nil, err
				}
				setsOff = 10
			} else {
				if st.InputClasses, err = parseOptionalClassDef(c, 4); err != nil {
					return nil, err
				}
				setsOff = 6
			}
		}
		n := int(c.u16(setsOff))
		for _, so := range c.u16s(setsOff+2, n) {
			if so == 0 {
				st.RuleSets = append(st.RuleSets, nil)
				continue
			}
			set := &cursor{b: c.sub(int(so))}
			var rules []ContextRule
			for _, ro := range set.u16s(2, int(set.u16(0))) {
				rules = append(rules, parseRule(&cursor{b: set.sub(int(ro))}, chained))
			}
			if set.err != nil {
				return nil, set.err
			}
			st.RuleSets = append(st.RuleSets, rules)
		}
	case 3:
		off := 2
		if chained {
			n := int(c.u16(off))
			if st.BacktrackCoverages, err = parseCoverageList(c, b, off+2, n); err != nil {
				return nil, err
			}
			off += 2 + 2*n
			n = int(c.u16(off))
			if st.InputCoverages, err = parseCoverageList(c, b, off+2, n); err != nil {
				return nil, err
			}
			off += 2 + 2*n
			n = int(c.u16(off))
			if st.LookaheadCoverages, err = parseCoverageList(c, b, off+2, n); err != nil {
				return nil, err
			}
			off += 2 + 2*n
			st.Records = parseLookupRecords(c, off+2, int(c.u16(off)))
		} else {
			glyphCount, recCount := int(c.u16(2)), int(c.u16(4))
			if st.InputCoverages, err = parseCoverageList(c, b, 6, glyphCount); err != nil {
				return nil, err
			}
			st.Records = parseLookupRecords(c, 6+2*glyphCount, recCount)
		}
		if len(st.InputCoverages) == 0 && c.err == nil {
			return nil, fmt.Errorf("%w: empty input sequence", ErrInvalidFormat)
		}
	default:
		if c.err == nil {
			return nil, fmt.Errorf("%w: context format %d", ErrInvalidFormat, st.Format)
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return st, nil
}

func parseOptionalClassDef(c *cursor, at int) (*ClassDef, error) {
	off := c.u16(at)
	if off == 0 || c.err != nil {
		return nil, c.err
	}
	return ParseClassDef(c.sub(int(off)))
}

func parseRule(c *cursor, chained bool) ContextRule {
	var r ContextRule
	if chained {
		off := 0
		n := int(c.u16(off))
		r.Backtrack = c.u16s(off+2, n)
		off += 2 + 2*n
		n = int(c.u16(off))
		if n > 0 {
			r.Input = c.u16s(off+2, n-1)
		}
		off += 2 + 2*max(n-1, 0)
		n = int(c.u16(off))
		r.Lookahead = c.u16s(off+2, n)
		off += 2 + 2*n
		r.Records = parseLookupRecords(c, off+2, int(c.u16(off)))
		return r
	}
	glyphCount, recCount := int(c.u16(0)), int(c.u16(2))
	if glyphCount > 0 {
		r.Input = c.u16s(4, glyphCount-1)
	}
	r.Records = parseLookupRecords(c, 4+2*max(glyphCount-1, 0), recCount)
	return r
}

// matcher tests one buffer glyph against one rule value.
type matcher func(g GlyphID, value uint16) bool

func matchGlyph(g GlyphID, v uint16) bool { return uint16(g) == v }

func matchClass(cd *ClassDef) matcher {
	return func(g GlyphID, v uint16) bool { return cd.Class(g) == v }
}

// matchInput matches values after position i; it returns the matched
// positions including i.
func (c *applyContext) matchInput(i int, values []uint16, m matcher) ([]int, bool) {
	pos := []int{i}
	j := i
	for _, v := range values {
		j = c.next(j)
		if j < 0 || !m(c.buf.Glyphs[j].ID, v) {
			return nil, false
		}
		pos = append(pos, j)
	}
	return pos, true
}

func (c *applyContext) matchBacktrack(i int, values []uint16, m matcher) bool {
	j := i
	for _, v := range values {
		j = c.prev(j)
		if j < 0 || !m(c.buf.Glyphs[j].ID, v) {
			return false
		}
	}
	return true
}

func (c *applyContext) matchLookahead(last int, values []uint16, m matcher) bool {
	j := last
	for _, v := range values {
		j = c.next(j)
		if j < 0 || !m(c.buf.Glyphs[j].ID, v) {
			return false
		}
	}
	return true
}

func (c *applyContext) matchCoverages(start int, covs []*Coverage, step func(int) int, first bool) ([]int, bool) {
	var pos []int
	j := start
	for k, cov := range covs {
		if !(first && k == 0) {
			j = step(j)
		}
		if j < 0 || !cov.Contains(c.buf.Glyphs[j].ID) {
			return nil, false
		}
		pos = append(pos, j)
	}
	return pos, true
}

// applyRecords runs nested lookups at matched positions, tracking length
// changes from substitutions.
func (c *applyContext) applyRecords(pos []int, records []LookupRecord) {
	for _, rec := range records {
		if int(rec.SequenceIndex) >= len(pos) {
			continue
		}
		at := pos[rec.SequenceIndex]
		before := len(c.buf.Glyphs)
		applyLookupAt(c, int(rec.LookupIndex), at)
		if delta := len(c.buf.Glyphs) - before; delta != 0 {
			for k := range pos {
				if pos[k] > at {
					pos[k] += delta
				}
			}
		}
	}
}

func (st *ContextSubtable) apply(c *applyContext, i int) (int, bool) {
	g := c.buf.Glyphs[i].ID
	switch st.Format {
	case 1, 2:
		covIdx, ok := st.Coverage.Index(g)
		if !ok {
			return 0, false
		}
		setIdx := covIdx
		inputM, backM, aheadM := matcher(matchGlyph), matcher(matchGlyph), matcher(matchGlyph)
		if st.Format == 2 {
			setIdx = int(st.InputClasses.Class(g))
			inputM = matchClass(st.InputClasses)
			backM = matchClass(st.BacktrackClasses)
			aheadM = matchClass(st.LookaheadClasses)
		}
		if setIdx >= len(st.RuleSets) {
			return 0, false
		}
		for _, rule := range st.RuleSets[setIdx] {
			pos, ok := c.matchInput(i, rule.Input, inputM)
			if !ok {
				continue
			}
			if !c.matchBacktrack(i, rule.Backtrack, backM) || !c.matchLookahead(pos[len(pos)-1], rule.Lookahead, aheadM) {
				continue
			}
			before := len(c.buf.Glyphs)
			last := pos[len(pos)-1]
			c.applyRecords(pos, rule.Records)
			return last + 1 + len(c.buf.Glyphs) - before, true
		}
	case 3:
		pos, ok := c.matchCoverages(i, st.InputCoverages, c.next, true)
		if !ok {
			return 0, false
		}
		if _, ok := c.matchCoverages(i, st.BacktrackCoverages, c.prev, false); !ok {
			return 0, false
		}
		last := pos[len(pos)-1]
		if _, ok := c.matchCoverages(last, st.LookaheadCoverages, c.next, false); !ok {
			return 0, false
		}
		before := len(c.buf.Glyphs)
		c.applyRecords(pos, st.Records)
		return last + 1 + len(c.buf.Glyphs) - before, true
	}
	return 0, false
}

// GDEF carries glyph classes used by lookup flags.
type GDEF struct {
	GlyphClasses *ClassDef
}

// ParseGDEF reads the glyph class definition of a GDEF table.
func ParseGDEF(data []byte) (*GDEF, error) {
	c := &cursor{b: data}
	if major := c.u16(0); major != 1 && c.err == nil {
		return nil, fmt.Errorf("%w: GDEF version %d", ErrInvalidFormat, major)
	}
	gd := &GDEF{}
	cd, err := parseOptionalClassDef(c, 4)
	if err != nil {
		return nil, err
	}
	gd.GlyphClasses = cd
	return gd, nil
}

// Classify sets the class of every glyph in buf.
func (gd *GDEF) Classify(buf *Buffer) {
	if gd == nil || gd.GlyphClasses == nil {
		return
	}
	for i := range buf.Glyphs {
		buf.Glyphs[i].Class = GlyphClass(gd.GlyphClasses.Class(buf.Glyphs[i].ID))
	}
}
