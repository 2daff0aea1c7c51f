package style

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/browser/htmlparse"
	"github.com/xkilldash9x/loupe/internal/browser/parser"
	"go.uber.org/zap/zaptest"
)

// resolveHTML parses markup and resolves it against the given author CSS.
func resolveHTML(t *testing.T, markup, css string) (*dom.Document, Map) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	doc, err := htmlparse.Parse(logger, []byte(markup))
	require.NoError(t, err)
	r := NewResolver(logger)
	if css != "" {
		r.AddAuthorSheet(parser.NewParser(css).Parse())
	}
	return doc, r.Resolve(doc)
}

func TestResolve_EveryNodeHasStyle(t *testing.T) {
	doc, styles := resolveHTML(t, "<!DOCTYPE html><p>Hi<!-- c --></p><script>x()</script>", "")
	assert.Len(t, styles, doc.Len())
	doc.Walk(doc.Root(), func(id dom.NodeID, _ int) bool {
		_, ok := styles[id]
		assert.True(t, ok, "node %d has no style", id)
		return true
	})

	script := doc.FirstElement(doc.Root(), "script")
	require.NotEqual(t, dom.NoNode, script)
	assert.Equal(t, DisplayNone, styles[script].Display)
	p := doc.FirstElement(doc.Root(), "p")
	assert.Equal(t, DisplayBlock, styles[p].Display)
}

func TestResolve_UserAgentDefaults(t *testing.T) {
	doc, styles := resolveHTML(t, `<body><h1>T</h1><a href="/x">l</a><ul><li>i</li></ul><b>b</b></body>`, "")

	body := doc.Body()
	assert.Equal(t, Edges{8, 8, 8, 8}, styles[body].Margin)

	h1 := styles[doc.FirstElement(doc.Root(), "h1")]
	assert.Equal(t, 32.0, h1.FontSize)
	assert.True(t, h1.IsBold())
	assert.InDelta(t, 0.67*32, h1.Margin.Top, 0.001)

	a := styles[doc.FirstElement(doc.Root(), "a")]
	assert.True(t, a.Underline)
	assert.Equal(t, Color{0x06, 0x45, 0xAD, 255}, a.Color)

	li := styles[doc.FirstElement(doc.Root(), "li")]
	assert.Equal(t, DisplayListItem, li.Display)
	assert.Equal(t, "disc", li.ListStyleType)

	ul := styles[doc.FirstElement(doc.Root(), "ul")]
	assert.Equal(t, 40.0, ul.Padding.Left)
}

func TestResolve_CascadeOrder(t *testing.T) {
	css := `
		p { color: red; }
		.note { color: green; }
		#main { color: blue; }
		p { color: yellow; }
		.imp { color: purple !important; }
	`
	doc, styles := resolveHTML(t, `
		<p id="main" class="note">a</p>
		<p class="note">b</p>
		<p>c</p>
		<p class="imp" style="color: black">d</p>
		<p style="color: black">e</p>`, css)

	ps := doc.ElementsByTag("p")
	require.Len(t, ps, 5)
	assert.Equal(t, Color{0, 0, 255, 255}, styles[ps[0]].Color, "id beats class")
	assert.Equal(t, Color{0, 128, 0, 255}, styles[ps[1]].Color, "class beats type")
	assert.Equal(t, Color{255, 255, 0, 255}, styles[ps[2]].Color, "later rule wins at equal specificity")
	assert.Equal(t, Color{128, 0, 128, 255}, styles[ps[3]].Color, "important beats inline")
	assert.Equal(t, Color{0, 0, 0, 255}, styles[ps[4]].Color, "inline beats author")
}

func TestResolve_Inheritance(t *testing.T) {
	doc, styles := resolveHTML(t, `<div><span>x</span></div>`, `div { color: red; font-size: 20px; padding: 5px; } span { font-size: 1.5em; }`)

	span := doc.FirstElement(doc.Root(), "span")
	cs := styles[span]
	assert.Equal(t, Color{255, 0, 0, 255}, cs.Color)
	assert.Equal(t, 30.0, cs.FontSize)
	assert.Equal(t, Edges{}, cs.Padding, "padding is not inherited")

	text := doc.Node(span).FirstChild
	assert.Equal(t, DisplayInline, styles[text].Display)
	assert.Equal(t, 30.0, styles[text].FontSize)
}

func TestResolve_BoxProperties(t *testing.T) {
	doc, styles := resolveHTML(t, `<div id="box"></div>`, `
		#box { width: 100px; height: 50%; box-sizing: border-box; border: 2px solid black;
		       margin: 1em auto; display: flex; flex-direction: column; opacity: 0.5 }`)

	cs := styles[doc.ElementByID("box")]
	assert.Equal(t, Px(100), cs.Width)
	assert.Equal(t, Percent(50), cs.Height)
	assert.Equal(t, BorderBox, cs.BoxSizing)
	assert.Equal(t, Edges{2, 2, 2, 2}, cs.Border)
	assert.Equal(t, 16.0, cs.Margin.Top)
	assert.Equal(t, DisplayFlex, cs.Display)
	assert.True(t, cs.FlexDirection.IsColumn())
	assert.Equal(t, 0.5, cs.Opacity)
}

func TestResolve_BorderNeedsStyle(t *testing.T) {
	doc, styles := resolveHTML(t, `<div></div>`, `div { border-width: 4px; }`)
	assert.Equal(t, Edges{}, styles[doc.FirstElement(doc.Root(), "div")].Border)
}

func TestResolve_DisplayNoneSubtree(t *testing.T) {
	doc, styles := resolveHTML(t, `<div class="gone"><p>x</p></div><p hidden>y</p>`, `.gone { display: none }`)
	ps := doc.ElementsByTag("p")
	require.Len(t, ps, 2)
	assert.Equal(t, DisplayNone, styles[ps[0]].Display)
	assert.Equal(t, DisplayNone, styles[ps[1]].Display)
}

func TestResolve_MediaAndSupports(t *testing.T) {
	css := `
		@media (max-width: 600px) { p { color: red; } }
		@media screen and (min-width: 800px) { p { font-size: 20px; } }
		@media print { p { display: none; } }
		@supports (display: grid) { p { font-weight: bold; } }
		@supports (made-up: 1) { p { font-style: italic; } }
	`
	doc, styles := resolveHTML(t, `<p>x</p>`, css)
	cs := styles[doc.FirstElement(doc.Root(), "p")]
	assert.Equal(t, Color{0, 0, 0, 255}, cs.Color)
	assert.Equal(t, 20.0, cs.FontSize)
	assert.Equal(t, DisplayBlock, cs.Display)
	assert.True(t, cs.IsBold())
	assert.False(t, cs.Italic)
}

func TestResolver_SetViewport(t *testing.T) {
	logger := zaptest.NewLogger(t)
	doc, err := htmlparse.Parse(logger, []byte(`<p>x</p>`))
	require.NoError(t, err)
	r := NewResolver(logger)
	r.AddAuthorSheet(parser.NewParser(`@media (max-width: 600px) { p { width: 50vw } }`).Parse())
	r.SetViewport(400, 300)

	cs := r.Resolve(doc)[doc.FirstElement(doc.Root(), "p")]
	assert.Equal(t, Px(200), cs.Width)
}

func TestResolve_PresentationalHints(t *testing.T) {
	doc, styles := resolveHTML(t, `<table><tr><td width="120" bgcolor="red" align="center">x</td></tr></table>`, "")
	td := styles[doc.FirstElement(doc.Root(), "td")]
	assert.Equal(t, Px(120), td.Width)
	assert.Equal(t, Color{255, 0, 0, 255}, td.BackgroundColor)
	assert.Equal(t, TextAlignCenter, td.TextAlign)
	assert.Equal(t, DisplayTableCell, td.Display)
}

func TestCalculateStyles_ShorthandOrder(t *testing.T) {
	logger := zaptest.NewLogger(t)
	doc, err := htmlparse.Parse(logger, []byte(`<div class="a b"></div>`))
	require.NoError(t, err)
	r := NewResolver(logger)
	r.AddAuthorSheet(parser.NewParser(`.a { margin-top: 5px } .b { margin: 1px }`).Parse())

	props := r.CalculateStyles(doc, doc.FirstElement(doc.Root(), "div"))
	assert.Equal(t, parser.Value("1px"), props["margin-top"], "later shorthand overrides earlier longhand")
}

func TestMatchMedia(t *testing.T) {
	assert.True(t, MatchMedia("", 800, 600))
	assert.True(t, MatchMedia("screen", 800, 600))
	assert.False(t, MatchMedia("print", 800, 600))
	assert.True(t, MatchMedia("print, (min-width: 500px)", 800, 600))
	assert.False(t, MatchMedia("not screen", 800, 600))
	assert.True(t, MatchMedia("only screen and (orientation: landscape)", 800, 600))
	assert.False(t, MatchMedia("(max-width: 40em)", 800, 600))
}

func TestSupportsCondition(t *testing.T) {
	assert.True(t, SupportsCondition("(display: flex)"))
	assert.False(t, SupportsCondition("(foo: bar)"))
	assert.True(t, SupportsCondition("not (foo: bar)"))
	assert.True(t, SupportsCondition("(foo: bar) or (color: red)"))
	assert.False(t, SupportsCondition("(foo: bar) and (color: red)"))
}
