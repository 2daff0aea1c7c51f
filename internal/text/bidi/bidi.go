// internal/text/bidi/bidi.go
package bidi

// MaxDepth is the deepest explicit embedding level.
const MaxDepth = 125

// Direction is a paragraph direction.
type Direction uint8

const (
	LeftToRight Direction = iota
	RightToLeft
)

// Paragraph is the result of resolving one paragraph of text.
type Paragraph struct {
	Text      []rune
	Classes   []Class // original classes
	BaseLevel uint8
	Levels    []uint8 // one per rune
}

// Run is a maximal span of runes [Start, End) sharing a level.
type Run struct {
	Start, End int
	Level      uint8
}

// Direction reports the run's direction.
func (r Run) Direction() Direction {
	if r.Level%2 == 1 {
		return RightToLeft
	}
	return LeftToRight
}

// Direction reports the paragraph's base direction.
func (p *Paragraph) Direction() Direction {
	if p.BaseLevel%2 == 1 {
		return RightToLeft
	}
	return LeftToRight
}

type stackEntry struct {
	level    uint8
	override Class // ON when no override is active
	isolate  bool
}

// Resolve runs the UAX #9 algorithm over text. A nil override picks the
// base direction from the first strong character.
func Resolve(text string, override *Direction) *Paragraph {
	runes := []rune(text)
	n := len(runes)
	p := &Paragraph{Text: runes, Classes: make([]Class, n), Levels: make([]uint8, n)}
	for i, r := range runes {
		p.Classes[i] = ClassOf(r)
	}
	matching := matchIsolates(p.Classes)

	switch {
	case override != nil && *override == RightToLeft:
		p.BaseLevel = 1
	case override != nil:
		p.BaseLevel = 0
	default:
		p.BaseLevel = firstStrongLevel(p.Classes, matching, 0, n, 0)
	}
	if n == 0 {
		return p
	}

	types := make([]Class, n)
	copy(types, p.Classes)
	p.explicit(types, matching)

	for _, seq := range p.isolatingRunSequences(types, matching) {
		seq.resolveWeak()
		seq.resolveNeutral()
		seq.resolveImplicit()
	}
	p.assignRemoved(types)
	p.resetWhitespace()
	return p
}

// matchIsolates maps each isolate initiator to its matching PDI (or -1) and
// each matched PDI back to its initiator.
func matchIsolates(classes []Class) []int {
	matching := make([]int, len(classes))
	for i := range matching {
		matching[i] = -1
	}
	var open []int
	for i, c := range classes {
		switch {
		case c.isIsolateInitiator():
			open = append(open, i)
		case c == PDI && len(open) > 0:
			j := open[len(open)-1]
			open = open[:len(open)-1]
			matching[j], matching[i] = i, j
		case c == B:
			open = open[:0]
		}
	}
	return matching
}

// firstStrongLevel applies P2/P3 over [start, end), skipping isolated spans.
func firstStrongLevel(classes []Class, matching []int, start, end int, fallback uint8) uint8 {
	for i := start; i < end; i++ {
		switch c := classes[i]; {
		case c == L:
			return 0
		case c == R || c == AL:
			return 1
		case c.isIsolateInitiator():
			if matching[i] < 0 {
				return fallback
			}
			i = matching[i]
		case c == B:
			return fallback
		}
	}
	return fallback
}

func nextLevel(level uint8, odd bool) uint8 {
	if odd {
		return (level + 1) | 1
	}
	return (level + 2) &^ 1
}

// explicit applies X1-X8: levels and overrides from embeddings and isolates.
func (p *Paragraph) explicit(types []Class, matching []int) {
	stack := make([]stackEntry, 0, MaxDepth+2)
	stack = append(stack, stackEntry{level: p.BaseLevel, override: ON})
	overflowIsolate, overflowEmbedding, validIsolate := 0, 0, 0

	for i, c := range p.Classes {
		top := stack[len(stack)-1]
		switch c {
		case RLE, LRE, RLO, LRO:
			level := nextLevel(top.level, c == RLE || c == RLO)
			p.Levels[i] = top.level
			if level <= MaxDepth && overflowIsolate == 0 && overflowEmbedding == 0 {
				e := stackEntry{level: level, override: ON}
				switch c {
				case RLO:
					e.override = R
				case LRO:
					e.override = L
				}
				stack = append(stack, e)
			} else if overflowIsolate == 0 {
				overflowEmbedding++
			}
		case RLI, LRI, FSI:
			p.Levels[i] = top.level
			if top.override != ON {
				types[i] = top.override
			}
			odd := c == RLI
			if c == FSI {
				end := len(p.Classes)
				if matching[i] >= 0 {
					end = matching[i]
				}
				odd = firstStrongLevel(p.Classes, matching, i+1, end, 0) == 1
			}
			level := nextLevel(top.level, odd)
			if level <= MaxDepth && overflowIsolate == 0 && overflowEmbedding == 0 {
				validIsolate++
				stack = append(stack, stackEntry{level: level, override: ON, isolate: true})
			} else {
				overflowIsolate++
			}
		case PDI:
			switch {
			case overflowIsolate > 0:
				overflowIsolate--
			case validIsolate == 0:
			default:
				overflowEmbedding = 0
				for !stack[len(stack)-1].isolate {
					stack = stack[:len(stack)-1]
				}
				stack = stack[:len(stack)-1]
				validIsolate--
			}
			top = stack[len(stack)-1]
			p.Levels[i] = top.level
			if top.override != ON {
				types[i] = top.override
			}
		case PDF:
			p.Levels[i] = top.level
			switch {
			case overflowIsolate > 0:
			case overflowEmbedding > 0:
				overflowEmbedding--
			case !top.isolate && len(stack) >= 2:
				stack = stack[:len(stack)-1]
			}
		case B:
			p.Levels[i] = p.BaseLevel
		case BN:
			p.Levels[i] = top.level
		default:
			p.Levels[i] = top.level
			if top.override != ON {
				types[i] = top.override
			}
		}
	}
}

// sequence is an isolating run sequence (X10): indices into the paragraph
// in logical order, with removed characters excluded.
type sequence struct {
	p        *Paragraph
	types    []Class
	indices  []int
	level    uint8
	sos, eos Class
}

func (p *Paragraph) levelRuns(types []Class) [][]int {
	var runs [][]int
	var cur []int
	var curLevel uint8
	for i := range p.Text {
		if types[i].removedByX9() {
			continue
		}
		if len(cur) > 0 && p.Levels[i] != curLevel {
			runs = append(runs, cur)
			cur = nil
		}
		curLevel = p.Levels[i]
		cur = append(cur, i)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

func (p *Paragraph) isolatingRunSequences(types []Class, matching []int) []*sequence {
	runs := p.levelRuns(types)
	runOf := make(map[int]int, len(runs))
	for r, run := range runs {
		runOf[run[0]] = r
	}
	var seqs []*sequence
	for r, run := range runs {
		first := run[0]
		// Runs starting with a matched PDI continue an earlier sequence.
		if p.Classes[first] == PDI && matching[first] >= 0 {
			continue
		}
		var indices []int
		for cur := r; ; {
			indices = append(indices, runs[cur]...)
			last := runs[cur][len(runs[cur])-1]
			if !p.Classes[last].isIsolateInitiator() || matching[last] < 0 {
				break
			}
			next, ok := runOf[matching[last]]
			if !ok {
				break
			}
			cur = next
		}
		seqs = append(seqs, p.newSequence(types, indices))
	}
	return seqs
}

func (p *Paragraph) newSequence(types []Class, indices []int) *sequence {
	first, last := indices[0], indices[len(indices)-1]
	level := p.Levels[first]

	prevLevel := p.BaseLevel
	for i := first - 1; i >= 0; i-- {
		if !types[i].removedByX9() {
			prevLevel = p.Levels[i]
			break
		}
	}
	nextLevelVal := p.BaseLevel
	// A sequence ending in an isolate initiator compares against the paragraph level.
	if !p.Classes[last].isIsolateInitiator() {
		for i := last + 1; i < len(p.Text); i++ {
			if !types[i].removedByX9() {
				nextLevelVal = p.Levels[i]
				break
			}
		}
	}
	return &sequence{
		p:       p,
		types:   types,
		indices: indices,
		level:   level,
		sos:     directionClass(max(prevLevel, level)),
		eos:     directionClass(max(nextLevelVal, level)),
	}
}

func directionClass(level uint8) Class {
	if level%2 == 1 {
		return R
	}
	return L
}

func (s *sequence) at(k int) Class { return s.types[s.indices[k]] }

func (s *sequence) set(k int, c Class) { s.types[s.indices[k]] = c }

// resolveWeak applies W1-W7.
func (s *sequence) resolveWeak() {
	n := len(s.indices)
	// W1
	prev := s.sos
	for k := 0; k < n; k++ {
		c := s.at(k)
		if c == NSM {
			s.set(k, prev)
			if prev.isIsolateInitiator() || prev == PDI {
				s.set(k, ON)
			}
			c = s.at(k)
		}
		prev = c
	}
	// W2, W3
	lastStrong := s.sos
	for k := 0; k < n; k++ {
		switch c := s.at(k); c {
		case L, R, AL:
			lastStrong = c
			if c == AL {
				s.set(k, R)
			}
		case EN:
			if lastStrong == AL {
				s.set(k, AN)
			}
		}
	}
	// W4
	for k := 1; k+1 < n; k++ {
		c, before, after := s.at(k), s.at(k-1), s.at(k+1)
		switch {
		case c == ES && before == EN && after == EN:
			s.set(k, EN)
		case c == CS && before == EN && after == EN:
			s.set(k, EN)
		case c == CS && before == AN && after == AN:
			s.set(k, AN)
		}
	}
	// W5
	for k := 0; k < n; k++ {
		if s.at(k) != ET {
			continue
		}
		end := k
		for end < n && s.at(end) == ET {
			end++
		}
		if (k > 0 && s.at(k-1) == EN) || (end < n && s.at(end) == EN) {
			for j := k; j < end; j++ {
				s.set(j, EN)
			}
		}
		k = end - 1
	}
	// W6
	for k := 0; k < n; k++ {
		switch s.at(k) {
		case ES, ET, CS:
			s.set(k, ON)
		}
	}
	// W7
	lastStrong = s.sos
	for k := 0; k < n; k++ {
		switch c := s.at(k); c {
		case L, R:
			lastStrong = c
		case EN:
			if lastStrong == L {
				s.set(k, L)
			}
		}
	}
}

func strongForNeutral(c Class) Class {
	switch c {
	case EN, AN:
		return R
	}
	return c
}

// resolveNeutral applies N1 and N2.
func (s *sequence) resolveNeutral() {
	n := len(s.indices)
	embedding := directionClass(s.level)
	for k := 0; k < n; k++ {
		if !s.at(k).isNeutralOrIsolate() {
			continue
		}
		end := k
		for end < n && s.at(end).isNeutralOrIsolate() {
			end++
		}
		before := s.sos
		if k > 0 {
			before = strongForNeutral(s.at(k - 1))
		}
		after := s.eos
		if end < n {
			after = strongForNeutral(s.at(end))
		}
		resolved := embedding
		if before == after && (before == L || before == R) {
			resolved = before
		}
		for j := k; j < end; j++ {
			s.set(j, resolved)
		}
		k = end - 1
	}
}

// resolveImplicit applies I1 and I2.
func (s *sequence) resolveImplicit() {
	for _, i := range s.indices {
		level := s.p.Levels[i]
		c := s.types[i]
		if level%2 == 0 {
			switch c {
			case R:
				level++
			case AN, EN:
				level += 2
			}
		} else if c == L || c == EN || c == AN {
			level++
		}
		s.p.Levels[i] = level
	}
}

// assignRemoved gives characters removed by X9 the level of the preceding
// character, or the base level at the start.
func (p *Paragraph) assignRemoved(types []Class) {
	prev := p.BaseLevel
	for i := range p.Text {
		if types[i].removedByX9() {
			p.Levels[i] = prev
			continue
		}
		prev = p.Levels[i]
	}
}

// resetWhitespace applies L1 to the whole paragraph as one line.
func (p *Paragraph) resetWhitespace() {
	trailing := true
	for i := len(p.Text) - 1; i >= 0; i-- {
		switch c := p.Classes[i]; {
		case c == S || c == B:
			p.Levels[i] = p.BaseLevel
			trailing = true
		case c == WS || c.isIsolateInitiator() || c == PDI || c.removedByX9():
			if trailing {
				p.Levels[i] = p.BaseLevel
			}
		default:
			trailing = false
		}
	}
}

// Runs groups the resolved levels into maximal runs.
func (p *Paragraph) Runs() []Run {
	var runs []Run
	for i := 0; i < len(p.Levels); {
		j := i + 1
		for j < len(p.Levels) && p.Levels[j] == p.Levels[i] {
			j++
		}
		runs = append(runs, Run{Start: i, End: j, Level: p.Levels[i]})
		i = j
	}
	return runs
}

// VisualOrder applies L2 and returns logical indices in visual order.
func (p *Paragraph) VisualOrder() []int {
	order := make([]int, len(p.Levels))
	for i := range order {
		order[i] = i
	}
	if len(order) == 0 {
		return order
	}
	highest, lowestOdd := uint8(0), uint8(MaxDepth+2)
	for _, l := range p.Levels {
		highest = max(highest, l)
		if l%2 == 1 {
			lowestOdd = min(lowestOdd, l)
		}
	}
	for level := highest; level >= lowestOdd && level > 0; level-- {
		for i := 0; i < len(order); {
			if p.Levels[order[i]] < level {
				i++
				continue
			}
			j := i
			for j < len(order) && p.Levels[order[j]] >= level {
				j++
			}
			reverse(order[i:j])
			i = j
		}
	}
	return order
}

// Reorder returns the paragraph text in visual order with mirrored
// characters substituted in right-to-left runs.
func (p *Paragraph) Reorder() string {
	out := make([]rune, 0, len(p.Text))
	for _, i := range p.VisualOrder() {
		r := p.Text[i]
		if p.Levels[i]%2 == 1 {
			r = MirrorChar(r)
		}
		out = append(out, r)
	}
	return string(out)
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
