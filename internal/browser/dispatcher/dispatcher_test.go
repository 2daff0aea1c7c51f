package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loupe/internal/browser/htmlparse"
	"github.com/xkilldash9x/loupe/internal/config"
	"github.com/xkilldash9x/loupe/internal/observability"
)

// -- Test Helpers --

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SetRenderViewport(400, 300)
	cfg.NetworkCfg.Retry.MaxRetries = 0
	return cfg
}

func newDispatcher(t *testing.T, cfg *config.Config) *Dispatcher {
	t.Helper()
	d, err := New(cfg, zaptest.NewLogger(t), WithMetrics(observability.NewMetrics()))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// site serves a fixed set of paths and counts requests per path.
type site struct {
	pages map[string]string
	types map[string]string
	hits  map[string]*atomic.Int32
}

func newSite() *site {
	return &site{pages: map[string]string{}, types: map[string]string{}, hits: map[string]*atomic.Int32{}}
}

func (s *site) add(path, contentType, body string) {
	s.pages[path] = body
	s.types[path] = contentType
	s.hits[path] = &atomic.Int32{}
}

func (s *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := s.pages[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.hits[r.URL.Path].Add(1)
	w.Header().Set("Content-Type", s.types[r.URL.Path])
	fmt.Fprint(w, body)
}

// -- Tests --

func TestRender_ScriptsRunBeforeStyle(t *testing.T) {
	d := newDispatcher(t, testConfig())
	html := `<html><head><title>Old</title>
<style>p { color: red }</style>
<script>
document.title = "Changed";
var p = document.getElementById("msg");
p.textContent = "rewritten";
console.log("ran");
</script></head>
<body><p id="msg">original</p></body></html>`

	page, err := d.Render(t.Context(), html, "", 0)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, page.ID)
	assert.Equal(t, "Changed", page.Title)
	assert.Equal(t, "ran\n", page.Console)
	assert.Empty(t, page.ScriptErrors)

	doc := page.Document
	msg := doc.ElementByID("msg")
	assert.Equal(t, "rewritten", doc.TextContent(msg))
	require.Contains(t, page.Styles, msg)
	assert.Equal(t, uint8(255), page.Styles[msg].Color.R)

	require.NotNil(t, page.Frame)
	assert.Equal(t, image.Rect(0, 0, 400, 300), page.Frame.Image.Bounds())
	assert.Positive(t, page.Frame.TextRuns)
}

func TestRender_ScriptErrorsAreCollected(t *testing.T) {
	d := newDispatcher(t, testConfig())
	html := `<body><script>throw new TypeError("boom")</script>
<script>document.title = "second"</script><p>text</p></body>`

	page, err := d.Render(t.Context(), html, "", 0)
	require.NoError(t, err)
	require.Len(t, page.ScriptErrors, 1)
	assert.Contains(t, page.ScriptErrors[0].Error(), "TypeError: boom")
	assert.Equal(t, "second", page.Title)
}

func TestRender_ScriptsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.ScriptCfg.Enabled = false
	d := newDispatcher(t, cfg)

	page, err := d.Render(t.Context(), `<title>Kept</title><script>document.title = "x"</script><p>hi</p>`, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "Kept", page.Title)
}

func TestLoad_FetchesSubresources(t *testing.T) {
	s := newSite()
	s.add("/", "text/html", `<html><head>
<link rel="stylesheet" href="/site.css">
<script src="js/app.js"></script>
</head><body><h1 id="h">Heading</h1><img id="pic" src="/pic.png"><img src="/missing.png"></body></html>`)
	s.add("/site.css", "text/css", `h1 { color: #0000ff }`)
	s.add("/js/app.js", "application/javascript", `console.log("external")`)
	s.add("/pic.png", "image/png", string(pngBytes(t, 4, 3)))
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	d := newDispatcher(t, testConfig())
	page, err := d.Load(t.Context(), srv.URL+"/", 0)
	require.NoError(t, err)
	require.NoError(t, page.Err)

	for _, path := range []string{"/", "/site.css", "/js/app.js", "/pic.png"} {
		assert.Equal(t, int32(1), s.hits[path].Load(), path)
	}
	assert.Equal(t, "external\n", page.Console)

	h := page.Document.ElementByID("h")
	assert.Equal(t, uint8(255), page.Styles[h].Color.B)

	pic := page.Document.ElementByID("pic")
	require.Len(t, page.painter.Images, 1)
	assert.Contains(t, page.painter.Images, pic)
	box, ok := page.Layout.ByNode(pic)
	require.True(t, ok)
	assert.Equal(t, 4.0, box.Size.Width)
	assert.Equal(t, 3.0, box.Size.Height)
}

func TestLoad_DecodesDeclaredCharset(t *testing.T) {
	s := newSite()
	s.add("/", "text/html; charset=windows-1252", "<p>caf\xe9</p>")
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	d := newDispatcher(t, testConfig())
	page, err := d.Load(t.Context(), srv.URL+"/", 0)
	require.NoError(t, err)
	p := page.Document.ElementsByTag("p")
	require.Len(t, p, 1)
	assert.Equal(t, "café", page.Document.TextContent(p[0]))
}

func TestLoad_FetchFailurePaintsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := newDispatcher(t, testConfig())
	page, err := d.Load(t.Context(), url, 0)
	require.NoError(t, err)
	require.Error(t, page.Err)
	assert.Nil(t, page.Document)
	require.NotNil(t, page.Frame)

	want := d.painter.PaintMessage(page.Err.Error())
	assert.Equal(t, want.Image.Pix, page.Frame.Image.Pix)
}

func TestLoad_EmptyBodyPaintsFallback(t *testing.T) {
	s := newSite()
	s.add("/", "text/html", "  \n")
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	d := newDispatcher(t, testConfig())
	page, err := d.Load(t.Context(), srv.URL+"/", 0)
	require.NoError(t, err)
	assert.NoError(t, page.Err)

	want := d.painter.PaintMessage(EmptyPageMessage)
	assert.Equal(t, want.Image.Pix, page.Frame.Image.Pix)
}

func TestRender_InvisibleDocumentPaintsFallback(t *testing.T) {
	d := newDispatcher(t, testConfig())
	page, err := d.Render(t.Context(), `<html><head><title>t</title></head><body></body></html>`, "", 0)
	require.NoError(t, err)
	require.NotNil(t, page.Document)

	want := d.painter.PaintMessage(EmptyPageMessage)
	assert.Equal(t, want.Image.Pix, page.Frame.Image.Pix)
}

func TestLoad_CancelledContext(t *testing.T) {
	s := newSite()
	s.add("/", "text/html", "<p>never</p>")
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	d := newDispatcher(t, testConfig())
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := d.Load(ctx, srv.URL+"/", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPage_ScrollRepaintsWithoutRelayout(t *testing.T) {
	var b strings.Builder
	for i := range 80 {
		fmt.Fprintf(&b, "<p>paragraph number %d</p>\n", i)
	}
	d := newDispatcher(t, testConfig())
	page, err := d.Render(t.Context(), b.String(), "", 0)
	require.NoError(t, err)

	lay := page.Layout
	top := page.Frame
	scrolled, err := page.Scroll(400)
	require.NoError(t, err)

	assert.Same(t, lay, page.Layout)
	assert.Same(t, scrolled, page.Frame)
	assert.NotEqual(t, top.Image.Pix, scrolled.Image.Pix)

	again, err := page.Scroll(0)
	require.NoError(t, err)
	assert.Equal(t, top.Image.Pix, again.Image.Pix)
}

func TestParse_SmallBudgetMatchesOneShot(t *testing.T) {
	cfg := testConfig()
	cfg.ParserCfg.TokenBudget = 1
	d := newDispatcher(t, cfg)

	src := []byte(strings.Repeat(`<div class="x"><span>a</span> b <br></div>`, 2000))
	got, err := d.parse(t.Context(), src)
	require.NoError(t, err)
	want, err := htmlparse.Parse(nil, src)
	require.NoError(t, err)
	assert.Equal(t, want.Len(), got.Len())
	assert.Equal(t, want.TextContent(want.Root()), got.TextContent(got.Root()))
}

func TestCollect_DocumentOrder(t *testing.T) {
	doc, err := htmlparse.Parse(nil, []byte(`<head>
<style>a{}</style>
<link rel="alternate stylesheet" href="b.css">
<link rel="icon" href="favicon.ico">
<script type="module">skip()</script>
<script src="x.js"></script>
</head><body><style>c{}</style><img src="data:image/png;base64,AA=="><img src="i.png"></body>`))
	require.NoError(t, err)

	res := collect(doc)
	assert.Equal(t, []resource{{inline: "a{}"}, {href: "b.css"}, {inline: "c{}"}}, res.sheets)
	assert.Equal(t, []resource{{href: "x.js"}}, res.scripts)
	require.Len(t, res.images, 1)
	assert.Equal(t, "i.png", res.images[0].src)
}

func TestResolve(t *testing.T) {
	base, err := resolve(nil, "https://example.com/dir/page.html")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/dir/page.html", base)

	_, err = resolve(nil, "style.css")
	assert.Error(t, err)
}
