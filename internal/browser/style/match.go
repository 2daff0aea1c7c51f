// internal/browser/style/match.go
package style

import (
	"strconv"
	"strings"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/browser/parser"
	"github.com/xkilldash9x/loupe/internal/intern"
)

// Matcher tests selectors against elements of one document.
type Matcher struct {
	doc *dom.Document
}

// NewMatcher binds a matcher to doc.
func NewMatcher(doc *dom.Document) *Matcher {
	return &Matcher{doc: doc}
}

// MatchGroup returns the first complex selector of group matching id.
func (m *Matcher) MatchGroup(id dom.NodeID, group parser.SelectorGroup) (*parser.ComplexSelector, bool) {
	n := m.doc.Node(id)
	if n == nil || n.Kind != dom.ElementNode {
		return nil, false
	}
	for i := range group {
		if m.Matches(id, group[i]) {
			return &group[i], true
		}
	}
	return nil, false
}

// Matches reports whether the complex selector matches id. Matching runs right to
// left; combinators walk ancestors and preceding siblings.
func (m *Matcher) Matches(id dom.NodeID, complexSelector parser.ComplexSelector) bool {
	last := len(complexSelector.Selectors) - 1
	if last < 0 {
		return false
	}
	// Generated content has no element to match.
	if complexSelector.Selectors[last].SimpleSelector.PseudoElement != "" {
		return false
	}
	return m.recursiveMatch(id, complexSelector, last)
}

func (m *Matcher) recursiveMatch(id dom.NodeID, complexSelector parser.ComplexSelector, index int) bool {
	if id == dom.NoNode || index < 0 {
		return false
	}
	n := m.doc.Node(id)
	if n == nil || n.Kind != dom.ElementNode {
		return false
	}
	current := complexSelector.Selectors[index]
	if !m.matchesSimple(id, current.SimpleSelector) {
		return false
	}
	if index == 0 {
		return true
	}
	nextIndex := index - 1
	switch current.Combinator {
	case parser.CombinatorDescendant:
		for parent := n.Parent; parent != dom.NoNode; parent = m.doc.Node(parent).Parent {
			if m.recursiveMatch(parent, complexSelector, nextIndex) {
				return true
			}
		}
		return false
	case parser.CombinatorChild:
		return m.recursiveMatch(n.Parent, complexSelector, nextIndex)
	case parser.CombinatorAdjacentSibling:
		return m.recursiveMatch(m.previousElementSibling(id), complexSelector, nextIndex)
	case parser.CombinatorGeneralSibling:
		for sibling := m.previousElementSibling(id); sibling != dom.NoNode; sibling = m.previousElementSibling(sibling) {
			if m.recursiveMatch(sibling, complexSelector, nextIndex) {
				return true
			}
		}
		return false
	case parser.CombinatorNone:
		return true
	}
	return false
}

func (m *Matcher) previousElementSibling(id dom.NodeID) dom.NodeID {
	for s := m.doc.Node(id).PrevSibling; s != dom.NoNode; s = m.doc.Node(s).PrevSibling {
		if m.doc.Node(s).Kind == dom.ElementNode {
			return s
		}
	}
	return dom.NoNode
}

func (m *Matcher) nextElementSibling(id dom.NodeID) dom.NodeID {
	for s := m.doc.Node(id).NextSibling; s != dom.NoNode; s = m.doc.Node(s).NextSibling {
		if m.doc.Node(s).Kind == dom.ElementNode {
			return s
		}
	}
	return dom.NoNode
}

// matchesSimple tests one compound selector. Attribute selectors and dynamic
// pseudo-classes place no constraint on the element.
func (m *Matcher) matchesSimple(id dom.NodeID, selector parser.SimpleSelector) bool {
	n := m.doc.Node(id)
	if selector.TagName != "" && selector.TagName != "*" && n.Name.String() != selector.TagName {
		return false
	}
	if selector.ID != "" && n.ID.String() != selector.ID {
		return false
	}
	for _, class := range selector.Classes {
		a, ok := intern.Global.Lookup(class)
		if !ok || !m.doc.HasClass(id, a) {
			return false
		}
	}
	for _, pc := range selector.PseudoClasses {
		if !m.matchesPseudoClass(id, pc) {
			return false
		}
	}
	return true
}

func (m *Matcher) matchesPseudoClass(id dom.NodeID, pc parser.PseudoClass) bool {
	n := m.doc.Node(id)
	switch pc.Name {
	case "root":
		return n.Parent == m.doc.Root()
	case "first-child":
		return m.previousElementSibling(id) == dom.NoNode
	case "last-child":
		return m.nextElementSibling(id) == dom.NoNode
	case "only-child":
		return m.previousElementSibling(id) == dom.NoNode && m.nextElementSibling(id) == dom.NoNode
	case "empty":
		for c := n.FirstChild; c != dom.NoNode; c = m.doc.Node(c).NextSibling {
			if k := m.doc.Node(c).Kind; k == dom.ElementNode || (k == dom.TextNode && m.doc.Node(c).Data != "") {
				return false
			}
		}
		return true
	case "nth-child":
		a, b, ok := parseNth(pc.Argument)
		if !ok {
			return false
		}
		pos := 1
		for s := m.previousElementSibling(id); s != dom.NoNode; s = m.previousElementSibling(s) {
			pos++
		}
		return nthMatches(a, b, pos)
	case "link", "any-link":
		_, hasHref := m.doc.Attr(id, "href")
		return n.Name.String() == "a" && hasHref
	case "not":
		if len(pc.Selector) == 0 {
			return true
		}
		_, matched := m.MatchGroup(id, pc.Selector)
		return !matched
	case "is", "where", "matches":
		_, matched := m.MatchGroup(id, pc.Selector)
		return matched
	case "has":
		found := false
		m.doc.Walk(id, func(d dom.NodeID, depth int) bool {
			if depth > 0 && !found {
				if _, ok := m.MatchGroup(d, pc.Selector); ok {
					found = true
				}
			}
			return !found
		})
		return found
	}
	// :hover, :focus, :active, :visited and anything unknown.
	return true
}

// parseNth reads an+b, odd, even.
func parseNth(arg string) (a, b int, ok bool) {
	arg = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(arg)), " ", "")
	switch arg {
	case "odd":
		return 2, 1, true
	case "even":
		return 2, 0, true
	}
	nIdx := strings.IndexByte(arg, 'n')
	if nIdx < 0 {
		v, err := strconv.Atoi(arg)
		return 0, v, err == nil
	}
	switch coef := arg[:nIdx]; coef {
	case "", "+":
		a = 1
	case "-":
		a = -1
	default:
		v, err := strconv.Atoi(coef)
		if err != nil {
			return 0, 0, false
		}
		a = v
	}
	if rest := arg[nIdx+1:]; rest != "" {
		v, err := strconv.Atoi(rest)
		if err != nil {
			return 0, 0, false
		}
		b = v
	}
	return a, b, true
}

func nthMatches(a, b, pos int) bool {
	if a == 0 {
		return pos == b
	}
	diff := pos - b
	return diff%a == 0 && diff/a >= 0
}
