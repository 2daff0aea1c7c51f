// internal/browser/parser/selector.go
package parser

import (
	"fmt"
	"strings"
)

// SelectorGroup represents a comma-separated list of selectors (e.g., "h1, h2 .title").
type SelectorGroup []ComplexSelector

// ComplexSelector represents a sequence of compound selectors joined by combinators (e.g., "div > p").
type ComplexSelector struct {
	Selectors []SimpleSelectorWithCombinator
}

// SimpleSelectorWithCombinator pairs a compound selector with its preceding combinator.
type SimpleSelectorWithCombinator struct {
	Combinator     Combinator
	SimpleSelector SimpleSelector
}

// SimpleSelector is a compound selector: an optional type or universal selector followed
// by ids, classes, attributes, pseudo-classes and at most one pseudo-element.
type SimpleSelector struct {
	TagName       string
	ID            string
	Classes       []string
	Attributes    []AttributeSelector
	PseudoClasses []PseudoClass
	PseudoElement string
}

// AttributeSelector represents a CSS attribute selector like `[href]` or `[target="_blank"]`.
type AttributeSelector struct {
	Name     string
	Operator string // e.g., "=", "~=", "|=", "^=", "$=", "*="
	Value    string
}

// PseudoClass is :name or :name(arg). For :is, :not, :where and :has the argument
// is also parsed as a selector list.
type PseudoClass struct {
	Name     string
	Argument string
	Selector SelectorGroup
}

// Combinator defines the relationship between compound selectors.
type Combinator int

const (
	CombinatorNone            Combinator = iota // No combinator (first selector)
	CombinatorDescendant                        // Space
	CombinatorChild                             // >
	CombinatorAdjacentSibling                   // +
	CombinatorGeneralSibling                    // ~
)

func (c Combinator) String() string {
	switch c {
	case CombinatorDescendant:
		return " "
	case CombinatorChild:
		return ">"
	case CombinatorAdjacentSibling:
		return "+"
	case CombinatorGeneralSibling:
		return "~"
	}
	return ""
}

// PartKind enumerates the flat selector part variants.
type PartKind uint8

const (
	PartType PartKind = iota
	PartID
	PartClass
	PartUniversal
	PartPseudoClass
	PartPseudoElement
	PartAttribute
	PartCombinator
)

// Part is one element of the flat view of a complex selector.
type Part struct {
	Kind       PartKind
	Name       string
	Attribute  AttributeSelector
	Combinator Combinator
}

// Parts flattens the selector into its sequence of parts, left to right.
func (cs ComplexSelector) Parts() []Part {
	var parts []Part
	for i, s := range cs.Selectors {
		if i > 0 {
			parts = append(parts, Part{Kind: PartCombinator, Combinator: s.Combinator})
		}
		sel := s.SimpleSelector
		switch sel.TagName {
		case "":
		case "*":
			parts = append(parts, Part{Kind: PartUniversal})
		default:
			parts = append(parts, Part{Kind: PartType, Name: sel.TagName})
		}
		if sel.ID != "" {
			parts = append(parts, Part{Kind: PartID, Name: sel.ID})
		}
		for _, c := range sel.Classes {
			parts = append(parts, Part{Kind: PartClass, Name: c})
		}
		for _, a := range sel.Attributes {
			parts = append(parts, Part{Kind: PartAttribute, Name: a.Name, Attribute: a})
		}
		for _, pc := range sel.PseudoClasses {
			parts = append(parts, Part{Kind: PartPseudoClass, Name: pc.Name})
		}
		if sel.PseudoElement != "" {
			parts = append(parts, Part{Kind: PartPseudoElement, Name: sel.PseudoElement})
		}
	}
	return parts
}

// Specificity is the (ids, classes+attributes+pseudo-classes, types+pseudo-elements) triple.
type Specificity struct {
	A, B, C int
}

// Less orders specificities lexicographically.
func (s Specificity) Less(o Specificity) bool {
	if s.A != o.A {
		return s.A < o.A
	}
	if s.B != o.B {
		return s.B < o.B
	}
	return s.C < o.C
}

func (s Specificity) add(o Specificity) Specificity {
	return Specificity{s.A + o.A, s.B + o.B, s.C + o.C}
}

func (s Specificity) String() string { return fmt.Sprintf("(%d,%d,%d)", s.A, s.B, s.C) }

// Specificity computes the specificity of the complex selector.
func (cs ComplexSelector) Specificity() Specificity {
	var total Specificity
	for _, s := range cs.Selectors {
		total = total.add(s.SimpleSelector.Specificity())
	}
	return total
}

// CalculateSpecificity returns the specificity components of the complex selector.
func (cs ComplexSelector) CalculateSpecificity() (int, int, int) {
	s := cs.Specificity()
	return s.A, s.B, s.C
}

// Max returns the highest specificity in the group, used for :is/:not/:has arguments.
func (g SelectorGroup) Max() Specificity {
	var best Specificity
	for _, cs := range g {
		if s := cs.Specificity(); best.Less(s) {
			best = s
		}
	}
	return best
}

// Specificity calculates for a compound selector.
func (s SimpleSelector) Specificity() Specificity {
	var sp Specificity
	if s.ID != "" {
		sp.A = 1
	}
	// Attribute selectors and classes have the same specificity.
	sp.B = len(s.Classes) + len(s.Attributes)
	for _, pc := range s.PseudoClasses {
		switch pc.Name {
		case "where":
		case "is", "not", "has", "matches":
			sp = sp.add(pc.Selector.Max())
		default:
			sp.B++
		}
	}
	if s.TagName != "" && s.TagName != "*" {
		sp.C++
	}
	if s.PseudoElement != "" {
		sp.C++
	}
	return sp
}

// CalculateSpecificity calculates for a compound selector.
func (s SimpleSelector) CalculateSpecificity() (a, b, c int) {
	sp := s.Specificity()
	return sp.A, sp.B, sp.C
}

// IsValid checks if the selector has at least one component.
func (s SimpleSelector) IsValid() bool {
	return s.TagName != "" || s.ID != "" || len(s.Classes) > 0 || len(s.Attributes) > 0 ||
		len(s.PseudoClasses) > 0 || s.PseudoElement != ""
}

// parseSelectorGroup parses a comma-separated list of complex selectors.
func (p *Parser) parseSelectorGroup() SelectorGroup {
	var group SelectorGroup
	for {
		p.skipWhitespaceAndComments()
		if p.eof() || p.currentChar() == '{' {
			break
		}
		complex := p.parseComplexSelector()
		if len(complex.Selectors) > 0 {
			group = append(group, complex)
		}

		p.skipWhitespaceAndComments()
		if p.eof() || p.currentChar() == '{' {
			break
		}
		if p.currentChar() == ',' {
			p.consumeChar()
			continue
		}
		// Anything else ends the list; the caller decides whether that is an error.
		break
	}
	return group
}

// parseComplexSelector parses a sequence of compound selectors and combinators.
func (p *Parser) parseComplexSelector() ComplexSelector {
	var complexSelector ComplexSelector
	combinator := CombinatorNone

	for {
		p.skipWhitespaceAndComments()
		if p.eof() || p.currentChar() == '{' || p.currentChar() == ',' || p.currentChar() == ')' {
			break
		}

		simple, ok := p.parseSimpleSelector()
		if !ok {
			break
		}
		complexSelector.Selectors = append(complexSelector.Selectors, SimpleSelectorWithCombinator{
			Combinator:     combinator,
			SimpleSelector: simple,
		})

		p.skipWhitespaceAndComments()
		// After parsing a compound selector, look for the next combinator.
		if p.eof() || p.currentChar() == '{' || p.currentChar() == ',' || p.currentChar() == ')' {
			break
		}

		switch p.currentChar() {
		case '>':
			combinator = CombinatorChild
			p.consumeChar()
		case '+':
			combinator = CombinatorAdjacentSibling
			p.consumeChar()
		case '~':
			combinator = CombinatorGeneralSibling
			p.consumeChar()
		default:
			// Any other character implies a descendant combinator.
			combinator = CombinatorDescendant
		}
	}
	return complexSelector
}

// parseSimpleSelector parses a single compound selector (e.g., div#id.class1:hover::before).
func (p *Parser) parseSimpleSelector() (SimpleSelector, bool) {
	selector := SimpleSelector{}

	// Universal or Tag Name
	if !p.eof() {
		ch := p.currentChar()
		if ch == '*' {
			p.consumeChar()
			selector.TagName = "*"
		} else if isValidIdentifierStart(ch) {
			selector.TagName = strings.ToLower(p.parseIdentifier())
		}
	}

	for !p.eof() {
		switch p.currentChar() {
		case '#':
			p.consumeChar()
			selector.ID = p.parseIdentifier()
		case '.':
			p.consumeChar()
			selector.Classes = append(selector.Classes, p.parseIdentifier())
		case '[':
			p.consumeChar() // consume '['
			attr, err := p.parseAttributeSelector()
			if err != nil {
				p.errors = append(p.errors, err)
				return selector, false
			}
			selector.Attributes = append(selector.Attributes, attr)
		case ':':
			p.consumeChar()
			if p.currentChar() == ':' {
				p.consumeChar()
				selector.PseudoElement = strings.ToLower(p.parseIdentifier())
				continue
			}
			pc := PseudoClass{Name: strings.ToLower(p.parseIdentifier())}
			if p.currentChar() == '(' {
				p.consumeChar()
				start := p.pos
				p.skipBlock('(', ')')
				end := p.pos - 1
				if end < start {
					end = start
				}
				pc.Argument = strings.TrimSpace(p.input[start:end])
				switch pc.Name {
				case "is", "not", "where", "has", "matches":
					inner := NewParser(pc.Argument)
					pc.Selector = inner.parseSelectorGroup()
				}
			}
			if pc.Name == "" {
				return selector, false
			}
			selector.PseudoClasses = append(selector.PseudoClasses, pc)
		default:
			return selector, selector.IsValid()
		}
	}
	return selector, selector.IsValid()
}

// parseAttributeSelector parses the contents of `[...]` for an attribute selector.
func (p *Parser) parseAttributeSelector() (AttributeSelector, error) {
	p.consumeWhitespace()
	name := strings.ToLower(p.parseIdentifier())
	p.consumeWhitespace()

	if p.eof() || name == "" {
		return AttributeSelector{}, p.syntaxError("malformed attribute selector", nil)
	}

	// If we hit ']', it's a presence selector like `[disabled]`.
	if p.currentChar() == ']' {
		p.consumeChar()
		return AttributeSelector{Name: name}, nil
	}

	// Otherwise, we expect an operator.
	var operator strings.Builder
	switch ch := p.currentChar(); ch {
	case '=':
		operator.WriteByte(p.consumeChar())
	case '~', '|', '^', '$', '*':
		if p.peekChar(1) != '=' {
			return AttributeSelector{}, p.syntaxError("bad attribute operator", nil)
		}
		operator.WriteByte(p.consumeChar())
		operator.WriteByte(p.consumeChar())
	default:
		return AttributeSelector{}, p.syntaxError("bad attribute operator", nil)
	}

	p.consumeWhitespace()

	var value string
	if p.currentChar() == '"' || p.currentChar() == '\'' {
		quote := p.currentChar()
		p.consumeChar() // consume opening quote
		start := p.pos
		for !p.eof() && p.currentChar() != quote {
			p.pos++
		}
		value = p.input[start:p.pos]
		if !p.eof() {
			p.consumeChar() // consume closing quote
		}
	} else {
		value = p.parseIdentifier()
	}
	p.consumeWhitespace()
	// Case-sensitivity flag.
	if c := p.currentChar(); c == 'i' || c == 'I' || c == 's' || c == 'S' {
		p.consumeChar()
		p.consumeWhitespace()
	}

	if p.eof() || p.currentChar() != ']' {
		return AttributeSelector{}, p.syntaxError("expected ']' to close attribute selector", nil)
	}
	p.consumeChar() // consume ']'

	return AttributeSelector{
		Name:     name,
		Operator: operator.String(),
		Value:    value,
	}, nil
}
