package htmlparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"go.uber.org/zap/zaptest"
)

// outline renders the element structure as "tag(child,child)" for assertions.
func outline(d *dom.Document, id dom.NodeID) string {
	n := d.Node(id)
	switch n.Kind {
	case dom.TextNode:
		return "'" + n.Data + "'"
	case dom.CommentNode:
		return "#c"
	case dom.DoctypeNode:
		return "!" + n.Data
	}
	var parts []string
	for _, c := range d.Children(id) {
		parts = append(parts, outline(d, c))
	}
	name := d.TagName(id)
	if n.Kind == dom.DocumentNode {
		name = "doc"
	}
	if len(parts) == 0 {
		return name
	}
	return name + "(" + strings.Join(parts, ",") + ")"
}

func TestParse_ImpliedStructure(t *testing.T) {
	doc, err := Parse(zaptest.NewLogger(t), []byte("<p>Hello"))
	require.NoError(t, err)
	assert.Equal(t, "doc(html(head,body(p('Hello'))))", outline(doc, doc.Root()))
}

func TestParse_FullDocument(t *testing.T) {
	src := `<!DOCTYPE html>
<html><head><title>T</title><style>p { color: red }</style></head>
<body><div id="main"><p>One<p>Two</div><ul><li>a<li>b</ul><img src="i.png"><br></body></html>`
	doc, err := Parse(zaptest.NewLogger(t), []byte(src))
	require.NoError(t, err)

	assert.Equal(t,
		"doc(!html,html(head(title('T'),style('p { color: red }')),body(div(p('One'),p('Two')),ul(li('a'),li('b')),img,br)))",
		outline(doc, doc.Root()))
	assert.Equal(t, "T", doc.Title())
	assert.NotEqual(t, dom.NoNode, doc.ElementByID("main"))
}

func TestParse_Recovery(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unmatched end tag ignored", "<div>a</span>b</div>", "body(div('ab'))"},
		{"misnested closes nearest", "<b><i>x</b>y", "body(b(i('x')),'y')"},
		{"end br becomes br", "a</br>b", "body('a',br,'b')"},
		{"void never opens scope", "<input>text", "body(input,'text')"},
		{"self closing div still opens", "<div/>inside", "body(div('inside'))"},
		{"text after body close", "<body>a</body>b", "body('ab')"},
		{"svg children", "<svg><rect/></svg>z", "body(svg(rect),'z')"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(zaptest.NewLogger(t), []byte(tt.src))
			require.NoError(t, err)
			assert.Equal(t, tt.want, outline(doc, doc.Body()))
		})
	}
}

func TestParse_SVGNamespace(t *testing.T) {
	doc, err := Parse(nil, []byte(`<svg><circle r="2"/></svg><div></div>`))
	require.NoError(t, err)
	svg := doc.FirstElement(doc.Root(), "svg")
	circle := doc.FirstElement(doc.Root(), "circle")
	div := doc.FirstElement(doc.Root(), "div")
	assert.Equal(t, dom.NamespaceSVG, doc.Node(svg).Namespace)
	assert.Equal(t, dom.NamespaceSVG, doc.Node(circle).Namespace)
	assert.Equal(t, dom.NamespaceHTML, doc.Node(div).Namespace)
}

func TestParser_IncrementalBudget(t *testing.T) {
	p := NewParser(zaptest.NewLogger(t))
	assert.Equal(t, PhaseInitial, p.Phase())

	p.Feed([]byte("<!DOCTYPE html><html><head><title>x</title></head>"))
	r := p.Process(1000)
	assert.Equal(t, NeedMoreData, r.Kind)
	assert.False(t, r.CanRender)
	assert.Equal(t, PhaseHead, p.Phase())

	p.Feed([]byte("<body><p>" + strings.Repeat("z", 50) + "</p>"))
	r = p.Process(10)
	assert.Equal(t, Yielded, r.Kind)
	assert.Equal(t, 10, r.Tokens)
	assert.True(t, r.CanRender, "body entry unblocks rendering")
	assert.Equal(t, PhaseBody, p.Phase())

	r = p.Process(1000)
	assert.Equal(t, NeedMoreData, r.Kind)

	p.Finish()
	r = p.Process(1000)
	assert.Equal(t, Complete, r.Kind)
	assert.Equal(t, PhaseComplete, p.Phase())

	doc := p.Document()
	paragraph := doc.FirstElement(doc.Root(), "p")
	assert.Equal(t, strings.Repeat("z", 50), doc.TextContent(paragraph), "text split across yields is one node")
	assert.Equal(t, 1, doc.Node(paragraph).ChildCount)
}

func TestParser_NodesArePreorder(t *testing.T) {
	p := NewParser(nil)
	p.Feed([]byte("<div><span>a</span><em>b</em></div>"))
	p.Finish()
	require.Equal(t, Complete, p.Process(1<<10).Kind)

	seen := map[dom.NodeID]bool{p.Document().Root(): true}
	var names []string
	for _, n := range p.Nodes() {
		assert.True(t, seen[n.ParentID], "parent %d emitted before child %d", n.ParentID, n.ID)
		seen[n.ID] = true
		if n.Content.Kind == dom.ElementNode {
			names = append(names, n.Content.Name)
		}
	}
	assert.Equal(t, []string{"html", "head", "body", "div", "span", "em"}, names)
}

func TestParser_ChunkBoundary(t *testing.T) {
	p := NewParser(nil)
	p.Feed([]byte("<body>top"))
	p.Process(100)
	assert.Equal(t, Natural, p.ChunkBoundary())

	p.Feed([]byte("<div>inner"))
	p.Process(100)
	assert.Equal(t, Safe, p.ChunkBoundary())

	p.Feed([]byte("<span cla"))
	p.Process(100)
	assert.Equal(t, Unsafe, p.ChunkBoundary())
}

func TestParser_CompleteIsSticky(t *testing.T) {
	p := NewParser(nil)
	p.Finish()
	assert.Equal(t, Complete, p.Process(10).Kind)
	assert.Equal(t, Complete, p.Process(10).Kind)
	assert.NoError(t, p.Err())
	assert.NotEqual(t, dom.NoNode, p.Document().Body())
}

func TestParse_TextAfterImpliedHead(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"<!DOCTYPE html><title>T</title>Hello world", "doc(!html,html(head(title('T')),body('Hello world')))"},
		{"<meta charset=utf-8>Hello", "doc(html(head(meta),body('Hello')))"},
		{"<head><style>b{}</style></head>Hi", "doc(html(head(style('b{}')),body('Hi')))"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			doc, err := Parse(zaptest.NewLogger(t), []byte(tt.src))
			require.NoError(t, err)
			assert.Equal(t, tt.want, outline(doc, doc.Root()))
		})
	}
}

func TestParser_TextInsertFailureStops(t *testing.T) {
	p := NewParser(zaptest.NewLogger(t))
	p.text.WriteString("orphan")
	p.textParent = dom.NodeID(1 << 20)
	p.flushText()

	assert.Equal(t, PhaseError, p.Phase())
	assert.ErrorIs(t, p.Err(), ErrInvariant)
	assert.Equal(t, Complete, p.Process(10).Kind)
}
