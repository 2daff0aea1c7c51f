// Package htmlparse implements an incremental HTML tokenizer and tree
// builder. Input is fed in arbitrary byte slices and processed under a
// caller-supplied token budget so a page can start rendering before the
// whole document has arrived.
package htmlparse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/intern"
	"go.uber.org/zap"
	"golang.org/x/net/html/atom"
)

// Phase tracks how far document construction has progressed.
type Phase uint8

const (
	PhaseInitial Phase = iota
	PhaseDoctype
	PhaseHead
	PhaseBody
	PhaseComplete
	PhaseError
)

func (p Phase) String() string {
	return [...]string{"Initial", "Doctype", "Head", "Body", "Complete", "Error"}[p]
}

// Boundary classifies the parser position for callers that split input into chunks.
type Boundary uint8

const (
	// Natural: Data state with no open elements below body.
	Natural Boundary = iota
	// Safe: Data state inside open elements.
	Safe
	// Unsafe: inside a tag, comment, doctype or raw text.
	Unsafe
)

func (b Boundary) String() string {
	return [...]string{"Natural", "Safe", "Unsafe"}[b]
}

// ResultKind is the outcome of one Process call.
type ResultKind uint8

const (
	NeedMoreData ResultKind = iota
	Yielded
	Complete
)

func (k ResultKind) String() string {
	return [...]string{"NeedMoreData", "Yielded", "Complete"}[k]
}

// Result reports what a Process call did.
type Result struct {
	Kind      ResultKind
	Tokens    int
	CanRender bool
}

// NodeContent describes a created node.
type NodeContent struct {
	Kind  dom.NodeKind
	Name  string
	Attrs []Attr
	Text  string
}

// ParsedNode is one entry of the pre-order construction log.
type ParsedNode struct {
	ID       dom.NodeID
	ParentID dom.NodeID
	Content  NodeContent
}

// ErrInvariant reports internal tree breakage. It moves the parser to PhaseError.
var ErrInvariant = errors.New("htmlparse: tree invariant violated")

// Parser couples the tokenizer with tree construction into a dom.Document.
type Parser struct {
	logger *zap.Logger
	tok    *Tokenizer
	doc    *dom.Document
	phase  Phase
	err    error

	open      []dom.NodeID
	nodes     []ParsedNode
	nodeIndex map[dom.NodeID]int

	html, head, body dom.NodeID
	headClosed       bool

	text       strings.Builder
	textParent dom.NodeID

	recoveries int
}

// NewParser returns a parser with an empty document.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		logger:     logger.Named("htmlparse"),
		tok:        NewTokenizer(),
		doc:        dom.NewDocument(),
		nodeIndex:  make(map[dom.NodeID]int),
		html:       dom.NoNode,
		head:       dom.NoNode,
		body:       dom.NoNode,
		textParent: dom.NoNode,
	}
}

// Parse runs a parser over a complete document.
func Parse(logger *zap.Logger, src []byte) (*dom.Document, error) {
	p := NewParser(logger)
	p.Feed(src)
	p.Finish()
	for {
		r := p.Process(1 << 16)
		if r.Kind == Complete {
			return p.Document(), p.Err()
		}
	}
}

// Feed appends input bytes.
func (p *Parser) Feed(b []byte) { p.tok.Feed(b) }

// Finish signals end of input.
func (p *Parser) Finish() { p.tok.Close() }

// Document returns the document under construction.
func (p *Parser) Document() *dom.Document { return p.doc }

// Phase returns the construction phase.
func (p *Parser) Phase() Phase { return p.phase }

// Err returns the invariant failure that stopped the parser, if any.
func (p *Parser) Err() error { return p.err }

// Nodes returns the pre-order construction log.
func (p *Parser) Nodes() []ParsedNode { return p.nodes }

// Recoveries counts tokens handled by error recovery.
func (p *Parser) Recoveries() int { return p.recoveries }

// ChunkBoundary classifies the current position.
func (p *Parser) ChunkBoundary() Boundary {
	if !p.tok.Idle() {
		return Unsafe
	}
	for _, id := range p.open {
		if id != p.html && id != p.body && id != p.head {
			return Safe
		}
	}
	return Natural
}

// Process consumes up to maxTokens tokens.
func (p *Parser) Process(maxTokens int) Result {
	if p.phase == PhaseComplete || p.phase == PhaseError {
		return Result{Kind: Complete, CanRender: p.phase == PhaseComplete}
	}
	emitted := 0
	for emitted < maxTokens {
		tok, ok := p.tok.Next()
		if !ok {
			p.flushText()
			if p.phase == PhaseError {
				return Result{Kind: Complete, Tokens: emitted}
			}
			return Result{Kind: NeedMoreData, Tokens: emitted, CanRender: p.phase >= PhaseBody}
		}
		emitted++
		if err := p.handle(tok); err != nil {
			p.abort(err)
		}
		if p.phase == PhaseError {
			return Result{Kind: Complete, Tokens: emitted}
		}
		if tok.Type == EOFToken {
			return Result{Kind: Complete, Tokens: emitted, CanRender: true}
		}
	}
	p.flushText()
	if p.phase == PhaseError {
		return Result{Kind: Complete, Tokens: emitted}
	}
	return Result{Kind: Yielded, Tokens: emitted, CanRender: p.phase >= PhaseBody}
}

// abort records the first tree construction failure and moves to PhaseError.
func (p *Parser) abort(err error) {
	if p.err != nil {
		return
	}
	p.err = err
	p.phase = PhaseError
	p.logger.Error("Tree construction aborted", zap.Error(err))
}

func (p *Parser) current() dom.NodeID {
	if len(p.open) == 0 {
		return p.doc.Root()
	}
	return p.open[len(p.open)-1]
}

func (p *Parser) insert(parent, id dom.NodeID, content NodeContent) error {
	if err := p.doc.AppendChild(parent, id); err != nil {
		return fmt.Errorf("%w: append %d to %d: %v", ErrInvariant, id, parent, err)
	}
	p.nodeIndex[id] = len(p.nodes)
	p.nodes = append(p.nodes, ParsedNode{ID: id, ParentID: parent, Content: content})
	return nil
}

func (p *Parser) createElement(parent dom.NodeID, tok Token) (dom.NodeID, error) {
	ns := dom.NamespaceHTML
	if tok.Name == "svg" {
		ns = dom.NamespaceSVG
	} else if n := p.doc.Node(parent); n != nil && n.Kind == dom.ElementNode && n.Namespace == dom.NamespaceSVG {
		ns = dom.NamespaceSVG
	}
	attrs := make([]dom.Attribute, 0, len(tok.Attrs))
	for _, a := range tok.Attrs {
		attrs = append(attrs, dom.Attribute{Name: intern.Intern(a.Name), Value: a.Value})
	}
	id := p.doc.CreateElementNS(ns, intern.Intern(tok.Name), attrs)
	return id, p.insert(parent, id, NodeContent{Kind: dom.ElementNode, Name: tok.Name, Attrs: tok.Attrs})
}

func (p *Parser) flushText() {
	if p.text.Len() == 0 {
		return
	}
	data := p.text.String()
	p.text.Reset()
	parent := p.textParent
	if pn := p.doc.Node(parent); pn != nil && pn.LastChild != dom.NoNode && p.doc.Node(pn.LastChild).Kind == dom.TextNode {
		last := pn.LastChild
		n := p.doc.Node(last)
		n.Data += data
		if i, ok := p.nodeIndex[last]; ok {
			p.nodes[i].Content.Text = n.Data
		}
		return
	}
	id := p.doc.CreateText(data)
	if err := p.insert(parent, id, NodeContent{Kind: dom.TextNode, Text: data}); err != nil {
		p.abort(err)
	}
}

func (p *Parser) ensureHTML() error {
	if p.html != dom.NoNode {
		return nil
	}
	id, err := p.createElement(p.doc.Root(), Token{Type: StartTagToken, Name: "html"})
	if err != nil {
		return err
	}
	p.html = id
	p.open = append(p.open[:0], id)
	if p.phase < PhaseHead {
		p.phase = PhaseHead
	}
	return nil
}

func (p *Parser) ensureHead() error {
	if err := p.ensureHTML(); err != nil {
		return err
	}
	if p.head != dom.NoNode {
		return nil
	}
	id, err := p.createElement(p.html, Token{Type: StartTagToken, Name: "head"})
	if err != nil {
		return err
	}
	p.head = id
	return nil
}

// ensureBody creates the body if missing and makes it the insertion point
// when the stack holds nothing below html.
func (p *Parser) ensureBody() error {
	if err := p.ensureHead(); err != nil {
		return err
	}
	p.closeHead()
	if p.body == dom.NoNode {
		id, err := p.createElement(p.html, Token{Type: StartTagToken, Name: "body"})
		if err != nil {
			return err
		}
		p.body = id
		p.open = append(p.open, id)
		p.phase = PhaseBody
	}
	return nil
}

func (p *Parser) closeHead() {
	if p.headClosed {
		return
	}
	p.headClosed = true
	for i := len(p.open) - 1; i >= 0; i-- {
		if p.open[i] == p.head {
			p.flushText()
			p.open = p.open[:i]
			return
		}
	}
}

func (p *Parser) handle(tok Token) error {
	if tok.Type != CharacterToken {
		p.flushText()
	}
	switch tok.Type {
	case DoctypeToken:
		if p.phase != PhaseInitial {
			p.recoveries++
			return nil
		}
		id := p.doc.CreateDoctype(tok.Name, tok.PublicID, tok.SystemID)
		p.phase = PhaseDoctype
		return p.insert(p.doc.Root(), id, NodeContent{Kind: dom.DoctypeNode, Name: tok.Name})

	case CommentToken:
		id := p.doc.CreateComment(tok.Data)
		return p.insert(p.current(), id, NodeContent{Kind: dom.CommentNode, Text: tok.Data})

	case CharacterToken:
		return p.handleChar(tok.Char)

	case StartTagToken:
		return p.handleStartTag(tok)

	case EndTagToken:
		return p.handleEndTag(tok)

	case EOFToken:
		if err := p.ensureBody(); err != nil {
			return err
		}
		p.open = p.open[:0]
		p.phase = PhaseComplete
	}
	return nil
}

func (p *Parser) handleChar(r rune) error {
	if p.body == dom.NoNode && !p.inHeadContent() {
		// Before body, whitespace is insignificant; anything else opens the body.
		if r == ' ' || r == '\n' || r == '\t' || r == '\f' {
			return nil
		}
		if err := p.ensureBody(); err != nil {
			return err
		}
	}
	parent := p.current()
	if p.text.Len() > 0 && parent != p.textParent {
		p.flushText()
	}
	p.textParent = parent
	p.text.WriteRune(r)
	return nil
}

// inHeadContent reports whether the insertion point is an element inside
// head, such as an open title or style.
func (p *Parser) inHeadContent() bool {
	if p.head == dom.NoNode || p.headClosed {
		return false
	}
	cur := p.current()
	if cur == p.head {
		return false
	}
	for n := cur; n != dom.NoNode; n = p.doc.Node(n).Parent {
		if n == p.head {
			return true
		}
	}
	return false
}

func isHeadContent(a atom.Atom) bool {
	switch a {
	case atom.Title, atom.Meta, atom.Link, atom.Style, atom.Script, atom.Base, atom.Noscript, atom.Template:
		return true
	}
	return false
}

// IsVoid reports whether the element never has content.
func IsVoid(name string) bool {
	switch atom.Lookup([]byte(name)) {
	case atom.Area, atom.Base, atom.Br, atom.Col, atom.Embed, atom.Hr, atom.Img, atom.Input,
		atom.Link, atom.Meta, atom.Param, atom.Source, atom.Track, atom.Wbr:
		return true
	}
	return false
}

// closesParagraph lists start tags that implicitly end an open p.
func closesParagraph(a atom.Atom) bool {
	switch a {
	case atom.Address, atom.Article, atom.Aside, atom.Blockquote, atom.Div, atom.Dl, atom.Fieldset,
		atom.Figure, atom.Footer, atom.Form, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Header, atom.Hr, atom.Main, atom.Nav, atom.Ol, atom.P, atom.Pre, atom.Section,
		atom.Table, atom.Ul:
		return true
	}
	return false
}

func (p *Parser) handleStartTag(tok Token) error {
	a := atom.Lookup([]byte(tok.Name))
	switch {
	case a == atom.Html:
		if err := p.ensureHTML(); err != nil {
			return err
		}
		p.mergeAttrs(p.html, tok.Attrs)
		return nil

	case a == atom.Head:
		if p.head != dom.NoNode {
			p.recoveries++
			return nil
		}
		if err := p.ensureHead(); err != nil {
			return err
		}
		p.open = append(p.open, p.head)
		return nil

	case a == atom.Body:
		if p.body != dom.NoNode {
			p.recoveries++
			p.mergeAttrs(p.body, tok.Attrs)
			return nil
		}
		if err := p.ensureHead(); err != nil {
			return err
		}
		p.closeHead()
		id, err := p.createElement(p.html, tok)
		if err != nil {
			return err
		}
		p.body = id
		p.open = append(p.open, id)
		p.phase = PhaseBody
		return nil

	case isHeadContent(a) && p.body == dom.NoNode:
		if err := p.ensureHead(); err != nil {
			return err
		}
		return p.openElement(p.head, tok)
	}

	if err := p.ensureBody(); err != nil {
		return err
	}
	if closesParagraph(a) {
		p.closeInButtonScope("p")
	}
	switch a {
	case atom.Li:
		p.closeListItem("li", "ul", "ol")
	case atom.Dt, atom.Dd:
		p.closeListItem("dt", "dl")
		p.closeListItem("dd", "dl")
	case atom.Option:
		p.closeIfCurrent("option")
	case atom.Tr:
		p.closeListItem("tr", "table", "tbody", "thead", "tfoot")
	case atom.Td, atom.Th:
		p.closeListItem("td", "tr")
		p.closeListItem("th", "tr")
	}
	return p.openElement(p.current(), tok)
}

func (p *Parser) openElement(parent dom.NodeID, tok Token) error {
	id, err := p.createElement(parent, tok)
	if err != nil {
		return err
	}
	if !tok.SelfClosing && !IsVoid(tok.Name) {
		p.open = append(p.open, id)
	} else if tok.SelfClosing && !IsVoid(tok.Name) && p.doc.Node(id).Namespace != dom.NamespaceSVG {
		// HTML ignores the self-closing flag on non-void elements.
		p.open = append(p.open, id)
		p.recoveries++
	}
	return nil
}

func (p *Parser) mergeAttrs(id dom.NodeID, attrs []Attr) {
	for _, a := range attrs {
		if _, ok := p.doc.Attr(id, a.Name); !ok {
			p.doc.SetAttr(id, a.Name, a.Value)
		}
	}
}

// closeInButtonScope pops through the nearest open element named name,
// stopping at scope boundaries.
func (p *Parser) closeInButtonScope(name string) {
	want := intern.Intern(name)
	for i := len(p.open) - 1; i >= 0; i-- {
		n := p.doc.Node(p.open[i])
		if n.Name == want {
			p.open = p.open[:i]
			return
		}
		switch n.Name.String() {
		case "button", "table", "td", "th", "html", "body", "template", "caption", "marquee", "object":
			return
		}
	}
}

// closeListItem pops through an open name element unless one of the
// container tags is reached first.
func (p *Parser) closeListItem(name string, containers ...string) {
	want := intern.Intern(name)
	for i := len(p.open) - 1; i >= 0; i-- {
		n := p.doc.Node(p.open[i])
		if n.Name == want {
			p.open = p.open[:i]
			return
		}
		tag := n.Name.String()
		for _, c := range containers {
			if tag == c {
				return
			}
		}
		if p.open[i] == p.body {
			return
		}
	}
}

func (p *Parser) closeIfCurrent(name string) {
	if len(p.open) > 0 && p.doc.IsElement(p.current(), intern.Intern(name)) {
		p.open = p.open[:len(p.open)-1]
	}
}

func (p *Parser) handleEndTag(tok Token) error {
	switch tok.Name {
	case "head":
		p.closeHead()
		return nil
	case "body", "html":
		// Content after </body> still belongs to body.
		return nil
	case "br":
		p.recoveries++
		return p.handleStartTag(Token{Type: StartTagToken, Name: "br"})
	}
	want := intern.Intern(tok.Name)
	for i := len(p.open) - 1; i >= 0; i-- {
		id := p.open[i]
		if id == p.body || id == p.html {
			break
		}
		if p.doc.Node(id).Name == want {
			p.open = p.open[:i]
			return nil
		}
	}
	p.recoveries++
	p.logger.Debug("Ignoring unmatched end tag", zap.String("tag", tok.Name))
	return nil
}
