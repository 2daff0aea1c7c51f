// browser/parser/css.go
// internal/browser/parser/css.go
package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingColon is recorded when a declaration has a property name but no ':'.
var ErrMissingColon = errors.New("css: declaration missing colon")

// SyntaxError locates a recoverable parse problem in the source.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("css:%d:%d: %s", e.Line, e.Col, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Property represents a CSS property (e.g., "display").
type Property string

// Value represents a CSS value (e.g., "none").
type Value string

// Declaration is a key-value pair (e.g., display: none).
type Declaration struct {
	Property  Property
	Value     Value
	Important bool
}

// Rule is one entry of a stylesheet or of a conditional group rule.
type Rule interface {
	ruleKind() string
}

// StyleRule applies declarations to every element matched by one of its selectors.
type StyleRule struct {
	Selectors    SelectorGroup
	Declarations []Declaration
}

// ImportRule is @import url [media].
type ImportRule struct {
	URL   string
	Media string
}

// MediaRule is @media query { rules }.
type MediaRule struct {
	Query string
	Rules []Rule
}

// FontFaceRule is @font-face { declarations }.
type FontFaceRule struct {
	Declarations []Declaration
}

// Keyframe is one selector block inside @keyframes.
type Keyframe struct {
	Selector     string
	Declarations []Declaration
}

// KeyframesRule is @keyframes name { frames }.
type KeyframesRule struct {
	Name   string
	Frames []Keyframe
}

// SupportsRule is @supports condition { rules }.
type SupportsRule struct {
	Condition string
	Rules     []Rule
}

// LayerRule is either the statement form (@layer a, b;) with no Rules or the block form.
type LayerRule struct {
	Names []string
	Rules []Rule
}

// ContainerRule is @container [name] query { rules }.
type ContainerRule struct {
	Name  string
	Query string
	Rules []Rule
}

func (*StyleRule) ruleKind() string     { return "style" }
func (*ImportRule) ruleKind() string    { return "import" }
func (*MediaRule) ruleKind() string     { return "media" }
func (*FontFaceRule) ruleKind() string  { return "font-face" }
func (*KeyframesRule) ruleKind() string { return "keyframes" }
func (*SupportsRule) ruleKind() string  { return "supports" }
func (*LayerRule) ruleKind() string     { return "layer" }
func (*ContainerRule) ruleKind() string { return "container" }

// RuleKind names the variant of r ("style", "media", ...).
func RuleKind(r Rule) string { return r.ruleKind() }

// StyleSheet is the parsed CSSOM plus any errors recovered from along the way.
type StyleSheet struct {
	Rules  []Rule
	Errors []error
}

// StyleRules flattens the sheet into its style rules in source order, descending into
// every grouping rule. The accept callback decides whether a conditional group applies;
// nil accepts everything.
func (s StyleSheet) StyleRules(accept func(Rule) bool) []*StyleRule {
	var out []*StyleRule
	var walk func(rules []Rule)
	walk = func(rules []Rule) {
		for _, r := range rules {
			switch v := r.(type) {
			case *StyleRule:
				out = append(out, v)
			case *MediaRule:
				if accept == nil || accept(v) {
					walk(v.Rules)
				}
			case *SupportsRule:
				if accept == nil || accept(v) {
					walk(v.Rules)
				}
			case *LayerRule:
				walk(v.Rules)
			case *ContainerRule:
				if accept == nil || accept(v) {
					walk(v.Rules)
				}
			}
		}
	}
	walk(s.Rules)
	return out
}

// Parser holds the state of the CSS parser.
type Parser struct {
	input  string
	pos    int
	errors []error
}

func NewParser(input string) *Parser {
	return &Parser{input: input, pos: 0}
}

// Parse analyzes the input CSS string and builds a StyleSheet. It never fails;
// problems are collected in StyleSheet.Errors.
func (p *Parser) Parse() StyleSheet {
	rules := p.parseRules(false)
	return StyleSheet{Rules: rules, Errors: p.errors}
}

// ParseDeclarations parses a declaration list without braces, as found in a style attribute.
func ParseDeclarations(input string) ([]Declaration, []error) {
	p := NewParser(input)
	decls := p.parseDeclarationList(false)
	return decls, p.errors
}

// ParseSelector parses a comma-separated selector list.
func ParseSelector(input string) (SelectorGroup, error) {
	p := NewParser(input)
	group := p.parseSelectorGroup()
	p.consumeWhitespace()
	if len(group) == 0 {
		return nil, p.syntaxError("empty selector", nil)
	}
	if !p.eof() {
		return group, p.syntaxError(fmt.Sprintf("unexpected %q in selector", p.currentChar()), nil)
	}
	return group, nil
}

// parseRules reads rules until EOF, or until the closing '}' of a group when nested.
func (p *Parser) parseRules(nested bool) []Rule {
	var rules []Rule
	for {
		p.skipWhitespaceAndComments()
		if p.eof() {
			if nested {
				p.errors = append(p.errors, p.syntaxError("unterminated block", nil))
			}
			return rules
		}
		ch := p.currentChar()
		if ch == '}' {
			p.consumeChar()
			if nested {
				return rules
			}
			p.errors = append(p.errors, p.syntaxError("unmatched '}'", nil))
			continue
		}
		if ch == '<' && p.startsWith("<!--") {
			p.consumeN(4)
			continue
		}
		if ch == '-' && p.startsWith("-->") {
			p.consumeN(3)
			continue
		}

		if ch == '@' {
			if r := p.parseAtRule(); r != nil {
				rules = append(rules, r)
			}
			continue
		}

		if r := p.parseStyleRule(); r != nil {
			rules = append(rules, r)
		}
	}
}

func (p *Parser) parseStyleRule() *StyleRule {
	start := p.pos
	group := p.parseSelectorGroup()
	p.consumeWhitespace()
	if len(group) == 0 || p.eof() || p.currentChar() != '{' {
		p.pos = start
		p.errors = append(p.errors, p.syntaxError("invalid selector", nil))
		p.skipTo('{', '}')
		if !p.eof() && p.currentChar() == '{' {
			p.consumeChar()
			p.skipBlock('{', '}')
		}
		return nil
	}
	p.consumeChar() // '{'
	decls := p.parseDeclarationList(true)
	return &StyleRule{Selectors: group, Declarations: decls}
}

// parseAtRule dispatches on the at-keyword. Unknown rules skip their prelude and block.
func (p *Parser) parseAtRule() Rule {
	p.consumeChar() // '@'
	name := strings.ToLower(p.parseIdentifier())
	switch name {
	case "import":
		return p.parseImport()
	case "media":
		prelude, ok := p.parsePrelude()
		if !ok {
			return nil
		}
		return &MediaRule{Query: prelude, Rules: p.parseRules(true)}
	case "font-face":
		if _, ok := p.parsePrelude(); !ok {
			return nil
		}
		return &FontFaceRule{Declarations: p.parseDeclarationList(true)}
	case "keyframes", "-webkit-keyframes", "-moz-keyframes":
		prelude, ok := p.parsePrelude()
		if !ok {
			return nil
		}
		return &KeyframesRule{Name: strings.Trim(prelude, `"'`), Frames: p.parseKeyframes()}
	case "supports":
		prelude, ok := p.parsePrelude()
		if !ok {
			return nil
		}
		return &SupportsRule{Condition: prelude, Rules: p.parseRules(true)}
	case "layer":
		prelude, block := p.parsePreludeOrStatement()
		var names []string
		for _, n := range strings.Split(prelude, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		if !block {
			return &LayerRule{Names: names}
		}
		return &LayerRule{Names: names, Rules: p.parseRules(true)}
	case "container":
		prelude, ok := p.parsePrelude()
		if !ok {
			return nil
		}
		r := &ContainerRule{Query: prelude}
		if i := strings.IndexAny(prelude, " ("); i > 0 && prelude[0] != '(' {
			r.Name = prelude[:i]
			r.Query = strings.TrimSpace(prelude[i:])
		}
		r.Rules = p.parseRules(true)
		return r
	default:
		// charset, namespace, page and anything unknown.
		p.skipAtRule()
		return nil
	}
}

func (p *Parser) parseImport() Rule {
	prelude, block := p.parsePreludeOrStatement()
	if block {
		p.skipBlock('{', '}')
		return nil
	}
	url, rest := "", prelude
	switch {
	case strings.HasPrefix(strings.ToLower(rest), "url("):
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			p.errors = append(p.errors, p.syntaxError("unterminated url()", nil))
			return nil
		}
		url = strings.Trim(strings.TrimSpace(rest[4:end]), `"'`)
		rest = rest[end+1:]
	case rest != "" && (rest[0] == '"' || rest[0] == '\''):
		end := strings.IndexByte(rest[1:], rest[0])
		if end < 0 {
			p.errors = append(p.errors, p.syntaxError("unterminated string", nil))
			return nil
		}
		url = rest[1 : end+1]
		rest = rest[end+2:]
	default:
		p.errors = append(p.errors, p.syntaxError("@import without url", nil))
		return nil
	}
	return &ImportRule{URL: url, Media: strings.TrimSpace(rest)}
}

// parsePrelude reads up to and including '{'. It reports false (after recording an
// error and consuming the statement) when a ';' ends the rule first.
func (p *Parser) parsePrelude() (string, bool) {
	prelude, block := p.parsePreludeOrStatement()
	if !block {
		p.errors = append(p.errors, p.syntaxError("expected '{'", nil))
		return prelude, false
	}
	return prelude, true
}

// parsePreludeOrStatement reads the at-rule prelude and consumes the terminating '{' or ';'.
func (p *Parser) parsePreludeOrStatement() (prelude string, block bool) {
	p.consumeWhitespace()
	start := p.pos
	for !p.eof() {
		ch := p.currentChar()
		switch {
		case ch == '{':
			prelude = strings.TrimSpace(p.input[start:p.pos])
			p.consumeChar()
			return prelude, true
		case ch == ';':
			prelude = strings.TrimSpace(p.input[start:p.pos])
			p.consumeChar()
			return prelude, false
		case ch == '}':
			return strings.TrimSpace(p.input[start:p.pos]), false
		case ch == '"' || ch == '\'':
			p.skipQuotedString(ch)
		case ch == '(':
			p.consumeChar()
			p.skipBlock('(', ')')
		default:
			p.pos++
		}
	}
	return strings.TrimSpace(p.input[start:p.pos]), false
}

func (p *Parser) parseKeyframes() []Keyframe {
	var frames []Keyframe
	for {
		p.skipWhitespaceAndComments()
		if p.eof() {
			p.errors = append(p.errors, p.syntaxError("unterminated @keyframes", nil))
			return frames
		}
		if p.currentChar() == '}' {
			p.consumeChar()
			return frames
		}
		start := p.pos
		p.skipTo('{', '}')
		sel := strings.TrimSpace(p.input[start:p.pos])
		if p.eof() || p.currentChar() != '{' {
			continue
		}
		p.consumeChar()
		frames = append(frames, Keyframe{Selector: strings.ToLower(sel), Declarations: p.parseDeclarationList(true)})
	}
}

// parseDeclarationList parses declarations up to a closing '}' (braced) or EOF.
func (p *Parser) parseDeclarationList(braced bool) []Declaration {
	var declarations []Declaration
	for {
		p.skipWhitespaceAndComments()
		if p.eof() {
			if braced {
				p.errors = append(p.errors, p.syntaxError("unterminated declaration block", nil))
			}
			return declarations
		}
		switch p.currentChar() {
		case '}':
			if braced {
				p.consumeChar()
				return declarations
			}
			p.consumeChar()
			continue
		case ';':
			p.consumeChar()
			continue
		}

		if decl, ok := p.parseDeclaration(); ok {
			declarations = append(declarations, decl)
		}
	}
}

// parseDeclaration parses a single 'property: value;' pair.
func (p *Parser) parseDeclaration() (Declaration, bool) {
	// 1. Parse Property.
	if !isValidIdentifierStart(p.currentChar()) {
		p.errors = append(p.errors, p.syntaxError(fmt.Sprintf("unexpected %q in declaration list", p.currentChar()), nil))
		p.skipDeclaration()
		return Declaration{}, false
	}
	prop := p.parseIdentifier()
	p.skipWhitespaceAndComments()

	// 2. Parse Colon.
	if p.eof() || p.currentChar() != ':' {
		p.errors = append(p.errors, p.syntaxError(fmt.Sprintf("missing ':' after %q", prop), ErrMissingColon))
		p.skipDeclaration()
		return Declaration{}, false
	}
	p.consumeChar()
	p.consumeWhitespace()

	// 3. Parse Value.
	val := p.parseValue()

	// 4. Handle !important.
	important := false
	if trimmed, ok := stripImportant(val); ok {
		important = true
		val = trimmed
	}

	// 5. Consume optional semicolon; a missing one before '}' is fine.
	p.consumeWhitespace()
	if !p.eof() && p.currentChar() == ';' {
		p.consumeChar()
	}
	if val == "" {
		return Declaration{}, false
	}
	return Declaration{
		Property:  Property(strings.ToLower(prop)),
		Value:     Value(val),
		Important: important,
	}, true
}

func stripImportant(val string) (string, bool) {
	lower := strings.ToLower(val)
	if !strings.HasSuffix(lower, "important") {
		return val, false
	}
	rest := strings.TrimRight(val[:len(val)-len("important")], " \t\n\r")
	if !strings.HasSuffix(rest, "!") {
		return val, false
	}
	return strings.TrimSpace(rest[:len(rest)-1]), true
}

// skipDeclaration discards input up to the next ';' (consumed) or '}' (left in place).
func (p *Parser) skipDeclaration() {
	for !p.eof() {
		ch := p.currentChar()
		switch {
		case ch == ';':
			p.consumeChar()
			return
		case ch == '}':
			return
		case ch == '"' || ch == '\'':
			p.skipQuotedString(ch)
		case ch == '(':
			p.consumeChar()
			p.skipBlock('(', ')')
		case ch == '{':
			p.consumeChar()
			p.skipBlock('{', '}')
		default:
			p.pos++
		}
	}
}

// parseValue reads a CSS value until a delimiter.
func (p *Parser) parseValue() string {
	start := p.pos
	for !p.eof() {
		ch := p.currentChar()
		if ch == ';' || ch == '}' {
			break
		}
		if ch == '"' || ch == '\'' {
			p.skipQuotedString(ch)
			continue
		}
		if ch == '(' {
			p.consumeChar()
			p.skipBlock('(', ')')
			continue
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}
		p.pos++
	}
	return strings.TrimSpace(p.input[start:p.pos])
}

// syntaxError builds a positioned error at the current offset.
func (p *Parser) syntaxError(msg string, cause error) *SyntaxError {
	line, col := 1, 1
	end := p.pos
	if end > len(p.input) {
		end = len(p.input)
	}
	for i := 0; i < end; i++ {
		if p.input[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return &SyntaxError{Line: line, Col: col, Msg: msg, Err: cause}
}

// --- Lexer-like Helpers ---

func (p *Parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *Parser) currentChar() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *Parser) peekChar(offset int) byte {
	if p.pos+offset >= len(p.input) {
		return 0
	}
	return p.input[p.pos+offset]
}

func (p *Parser) consumeChar() byte {
	ch := p.currentChar()
	if !p.eof() {
		p.pos++
	}
	return ch
}

func (p *Parser) consumeN(n int) {
	p.pos += n
	if p.pos > len(p.input) {
		p.pos = len(p.input)
	}
}

func (p *Parser) consumeWhitespace() {
	for !p.eof() && isWhitespace(p.currentChar()) {
		p.pos++
	}
}

func (p *Parser) skipWhitespaceAndComments() {
	for {
		p.consumeWhitespace()
		if !p.startsWith("/*") {
			return
		}
		p.skipComment()
	}
}

func (p *Parser) startsWith(s string) bool {
	if p.pos+len(s) > len(p.input) {
		return false
	}
	return p.input[p.pos:p.pos+len(s)] == s
}

func (p *Parser) skipComment() {
	p.pos += 2
	endIndex := strings.Index(p.input[p.pos:], "*/")
	if endIndex == -1 {
		p.pos = len(p.input)
	} else {
		p.pos += endIndex + 2
	}
}

func (p *Parser) skipTo(targets ...byte) {
	for !p.eof() {
		ch := p.currentChar()
		for _, target := range targets {
			if ch == target {
				return
			}
		}
		p.pos++
	}
}

// skipBlock consumes through the close byte matching an already consumed open byte.
func (p *Parser) skipBlock(open, close byte) {
	depth := 1
	for !p.eof() {
		c := p.currentChar()
		if c == '"' || c == '\'' {
			p.skipQuotedString(c)
			continue
		}
		p.pos++
		if c == open {
			depth++
		} else if c == close {
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

func (p *Parser) skipQuotedString(quote byte) {
	p.consumeChar() // Consume opening quote
	for !p.eof() {
		ch := p.consumeChar()
		if ch == '\\' {
			p.consumeChar() // Skip escaped character
		} else if ch == quote {
			return
		}
	}
}

func (p *Parser) skipAtRule() {
	// Skip until the next block or semicolon.
	for !p.eof() {
		ch := p.currentChar()
		if ch == '{' {
			p.consumeChar() // Consume '{'
			p.skipBlock('{', '}')
			return
		}
		if ch == ';' {
			p.consumeChar()
			return
		}
		if ch == '}' {
			return
		}
		if ch == '"' || ch == '\'' {
			p.skipQuotedString(ch)
			continue
		}
		p.pos++
	}
}

func (p *Parser) parseIdentifier() string {
	start := p.pos
	for !p.eof() {
		ch := p.currentChar()
		if ch == '\\' && p.pos+1 < len(p.input) {
			p.pos += 2
			continue
		}
		if !isValidIdentifierChar(ch) {
			break
		}
		p.pos++
	}
	return strings.ReplaceAll(p.input[start:p.pos], `\`, "")
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func isValidIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '-' || ch >= 0x80 || ch == '\\'
}

func isValidIdentifierChar(ch byte) bool {
	return isValidIdentifierStart(ch) || (ch >= '0' && ch <= '9')
}
