// internal/browser/render/painter.go
package render

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/browser/layout"
	"github.com/xkilldash9x/loupe/internal/browser/style"
	"github.com/xkilldash9x/loupe/internal/config"
	"github.com/xkilldash9x/loupe/internal/observability"
	"github.com/xkilldash9x/loupe/internal/text/shaping"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// ErrNoDocument is returned when Paint is called without a document.
var ErrNoDocument = errors.New("render: no document")

const (
	defaultLeft        = 8.0
	listIndent         = 24.0
	defaultRightMargin = 20.0
)

// LinkRegion is the clickable rectangle of one anchor run, in viewport pixels.
type LinkRegion struct {
	X, Y          float64
	Width, Height float64
	Href          string
}

// AnchorPosition records where an element with an id starts, in viewport pixels.
type AnchorPosition struct {
	ID string
	Y  float64
}

// Frame is one painted viewport.
type Frame struct {
	Image   *image.RGBA
	Links   []LinkRegion
	Anchors []AnchorPosition
	// ContentHeight is the document-space bottom of the painted text flow.
	ContentHeight float64
	// TextRuns counts painted segments; zero means nothing visible was drawn.
	TextRuns int
}

// LinkAt returns the href of the link region containing (x, y).
func (f *Frame) LinkAt(x, y float64) (string, bool) {
	for _, l := range f.Links {
		if x >= l.X && x < l.X+l.Width && y >= l.Y && y < l.Y+l.Height {
			return l.Href, true
		}
	}
	return "", false
}

// Anchor returns the y position of the element with the given id.
func (f *Frame) Anchor(id string) (float64, bool) {
	for _, a := range f.Anchors {
		if a.ID == id {
			return a.Y, true
		}
	}
	return 0, false
}

// Painter turns a styled, laid-out document into pixels.
type Painter struct {
	cfg        config.RenderConfig
	background style.Color
	fonts      *fontCache
	logger     *zap.Logger

	// Images holds decoded replaced content keyed by the owning element.
	Images  map[dom.NodeID]image.Image
	Metrics *observability.Metrics
}

// NewPainter creates a painter for the configured viewport.
func NewPainter(cfg config.RenderConfig, logger *zap.Logger) *Painter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1024
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 768
	}
	if cfg.RightMargin <= 0 {
		cfg.RightMargin = defaultRightMargin
	}
	bg, ok := style.ParseColor(cfg.Background)
	if !ok {
		bg = style.Color{R: 255, G: 255, B: 255, A: 255}
	}
	return &Painter{
		cfg:        cfg,
		background: bg,
		fonts:      newFontCache(),
		logger:     logger.Named("render"),
	}
}

// WithImages returns a shallow copy of p that paints images. The font cache
// is shared, so copies are cheap and safe to use concurrently.
func (p *Painter) WithImages(images map[dom.NodeID]image.Image) *Painter {
	cp := *p
	cp.Images = images
	return &cp
}

// Viewport returns the canvas size in pixels.
func (p *Painter) Viewport() (width, height int) {
	return p.cfg.ViewportWidth, p.cfg.ViewportHeight
}

// Measure returns the advance width of text in cs. It is safe for concurrent
// use and matches layout.MeasureFunc.
func (p *Painter) Measure(text string, cs *style.ComputedStyle) float64 {
	if cs == nil {
		cs = style.Initial()
	}
	return p.fonts.measure(text, variantFor(cs), cs.FontSize)
}

func (p *Painter) newCanvas() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.cfg.ViewportWidth, p.cfg.ViewportHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(p.background), image.Point{}, draw.Src)
	return img
}

// Paint draws doc at the given scroll offset. lay may be nil, in which case
// only the text flow is painted.
func (p *Painter) Paint(doc *dom.Document, styles style.Map, lay *layout.Result, scrollY float64) (*Frame, error) {
	if doc == nil {
		return nil, ErrNoDocument
	}
	start := time.Now()
	defer p.Metrics.ObservePhase("paint", start)

	frame := &Frame{Image: p.newCanvas()}
	if lay != nil && lay.Tree != nil {
		p.paintBoxes(frame.Image, lay, scrollY)
	}

	w := p.newWalker(doc, styles, frame, scrollY)
	w.run()
	frame.ContentHeight = w.y

	p.logger.Debug("Painted frame.",
		zap.Int("links", len(frame.Links)),
		zap.Int("anchors", len(frame.Anchors)),
		zap.Int("text_runs", frame.TextRuns),
		zap.Float64("scroll_y", scrollY))
	return frame, nil
}

// PaintMessage renders a single message, used for error pages and documents
// without visible content.
func (p *Painter) PaintMessage(msg string) *Frame {
	frame := &Frame{Image: p.newCanvas()}
	cs := style.Initial()
	cs.FontSize = 18
	limit := float64(p.cfg.ViewportWidth) - p.cfg.RightMargin - 2*listIndent
	lines := shaping.BreakLines(msg, limit, func(s string) float64 { return p.Measure(s, cs) })
	y := 2 * listIndent
	p.fonts.mu.Lock()
	defer p.fonts.mu.Unlock()
	face, err := p.fonts.face(variantRegular, cs.FontSize)
	if err != nil {
		p.logger.Warn("Could not load message face.", zap.Error(err))
		return frame
	}
	for _, ln := range lines {
		y += cs.FontSize
		drawString(frame.Image, face, cs.Color, listIndent, y, shaping.VisualOrder(ln.Text(msg)))
		y += cs.FontSize * (LineHeightFactor - 1)
		frame.TextRuns++
	}
	frame.ContentHeight = y
	return frame
}

// paintBoxes fills backgrounds and borders and draws replaced images, in box
// tree order so descendants paint over ancestors.
func (p *Painter) paintBoxes(dst *image.RGBA, lay *layout.Result, scrollY float64) {
	tree := lay.Tree
	for id := range tree.Boxes {
		box := tree.Box(layout.BoxID(id))
		if box.Style == nil || !box.Style.IsVisible() || id >= len(lay.Boxes) {
			continue
		}
		geo := lay.Boxes[id]
		border := geo.Dimensions.BorderBox()
		border.Y -= scrollY
		if border.Y > float64(dst.Bounds().Dy()) || border.Y+border.Height < 0 {
			continue
		}
		if !box.Style.BackgroundColor.IsTransparent() {
			fillRect(dst, border, box.Style.BackgroundColor)
		}
		p.paintBorder(dst, border, geo.Dimensions.Border, box.Style.BorderColor)

		if box.Kind == layout.ReplacedBox && box.Node != dom.NoNode {
			if img, ok := p.Images[box.Node]; ok && img != nil {
				content := geo.ContentBox
				content.Y -= scrollY
				drawScaled(dst, content, img)
			}
		}
	}
}

func (p *Painter) paintBorder(dst *image.RGBA, r layout.Rect, e style.Edges, c style.Color) {
	if c.IsTransparent() {
		return
	}
	if e.Top > 0 {
		fillRect(dst, layout.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: e.Top}, c)
	}
	if e.Bottom > 0 {
		fillRect(dst, layout.Rect{X: r.X, Y: r.Y + r.Height - e.Bottom, Width: r.Width, Height: e.Bottom}, c)
	}
	if e.Left > 0 {
		fillRect(dst, layout.Rect{X: r.X, Y: r.Y, Width: e.Left, Height: r.Height}, c)
	}
	if e.Right > 0 {
		fillRect(dst, layout.Rect{X: r.X + r.Width - e.Right, Y: r.Y, Width: e.Right, Height: r.Height}, c)
	}
}

func pixelRect(r layout.Rect) image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X)), int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.Width)), int(math.Ceil(r.Y+r.Height)),
	)
}

func fillRect(dst *image.RGBA, r layout.Rect, c style.Color) {
	rect := pixelRect(r).Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	op := draw.Over
	if c.A == 0xFF {
		op = draw.Src
	}
	draw.Draw(dst, rect, image.NewUniform(c), image.Point{}, op)
}

func drawScaled(dst *image.RGBA, r layout.Rect, img image.Image) {
	rect := pixelRect(r)
	if rect.Empty() || !rect.Overlaps(dst.Bounds()) {
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, rect, img, img.Bounds(), xdraw.Over, nil)
}

// drawString draws text with its baseline at y. Callers hold the font lock.
func drawString(dst *image.RGBA, face font.Face, c color.Color, x, y float64, text string) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: floatToFixed(x), Y: floatToFixed(y)},
	}
	d.DrawString(text)
}

// -- DOM walk --

// blockMargins are the vertical advances, top and bottom, of tags that flush
// the line buffer.
var blockMargins = map[string][2]float64{
	"h1": {20, 12},
	"h2": {16, 10},
	"h3": {14, 8},
	"h4": {12, 8},
	"h5": {10, 6},
	"h6": {10, 6},
	"p":  {8, 12},
	"li": {2, 2},
}

var skippedTags = map[string]bool{
	"head": true, "script": true, "style": true, "title": true,
	"template": true, "noscript": true, "meta": true, "link": true,
}

type listState struct {
	ordered bool
	counter int
}

type walker struct {
	p       *Painter
	doc     *dom.Document
	styles  style.Map
	frame   *Frame
	scrollY float64

	y            float64
	line         lineBuffer
	lists        []listState
	href         string
	align        style.TextAlign
	pendingSpace bool
	// onFlush observes each line before it is painted.
	onFlush func(segs []segment)
}

func (p *Painter) newWalker(doc *dom.Document, styles style.Map, frame *Frame, scrollY float64) *walker {
	w := &walker{
		p:       p,
		doc:     doc,
		styles:  styles,
		frame:   frame,
		scrollY: scrollY,
		y:       defaultLeft,
	}
	w.line.left = defaultLeft
	w.line.x = defaultLeft
	w.line.limit = float64(p.cfg.ViewportWidth) - p.cfg.RightMargin
	return w
}

// run paints the body, or the whole document when there is no body.
func (w *walker) run() {
	root := w.doc.Body()
	if root == dom.NoNode {
		root = w.doc.Root()
	}
	w.walk(root)
	w.flush()
}

func (w *walker) walk(id dom.NodeID) {
	n := w.doc.Node(id)
	if n == nil {
		return
	}
	switch n.Kind {
	case dom.TextNode:
		w.text(id, n)
		return
	case dom.DocumentNode:
		for _, c := range w.doc.Children(id) {
			w.walk(c)
		}
		return
	case dom.ElementNode:
	default:
		return
	}

	tag := w.doc.TagName(id)
	if skippedTags[tag] {
		return
	}
	cs := w.styles.Get(id)
	if cs.Display == style.DisplayNone {
		return
	}
	if elID, ok := w.doc.Attr(id, "id"); ok && elID != "" {
		w.frame.Anchors = append(w.frame.Anchors, AnchorPosition{ID: elID, Y: w.y - w.scrollY})
	}

	switch tag {
	case "br":
		w.lineBreak(cs)
		return
	case "img", "video", "svg", "canvas", "iframe":
		return
	}

	margins, isMarginTag := blockMargins[tag]
	block := isMarginTag || cs.Display.IsBlockLevel()
	prevAlign := w.align
	if block {
		w.flush()
		w.y += margins[0]
		w.align = cs.TextAlign
	}

	switch tag {
	case "ol", "ul":
		counter := 0
		if start, ok := w.doc.Attr(id, "start"); ok {
			if v, err := strconv.Atoi(strings.TrimSpace(start)); err == nil {
				counter = v - 1
			}
		}
		w.lists = append(w.lists, listState{ordered: tag == "ol", counter: counter})
		w.setIndent()
	case "li":
		w.listMarker(cs)
	}

	prevHref := w.href
	if tag == "a" {
		if href, ok := w.doc.Attr(id, "href"); ok {
			w.href = href
		}
	}

	for _, c := range w.doc.Children(id) {
		w.walk(c)
	}

	w.href = prevHref
	if tag == "ol" || tag == "ul" {
		w.lists = w.lists[:len(w.lists)-1]
		w.flush()
		w.setIndent()
	}
	if block {
		w.flush()
		w.y += margins[1]
		w.align = prevAlign
	}
}

func (w *walker) setIndent() {
	w.line.left = defaultLeft + listIndent*float64(len(w.lists))
	if w.line.empty() {
		w.line.x = w.line.left
	}
}

func (w *walker) listMarker(cs *style.ComputedStyle) {
	if len(w.lists) == 0 {
		return
	}
	top := &w.lists[len(w.lists)-1]
	marker := "• "
	if top.ordered {
		top.counter++
		marker = strconv.Itoa(top.counter) + ". "
	}
	w.addText(marker, cs, "")
	w.pendingSpace = false
}

func (w *walker) lineBreak(cs *style.ComputedStyle) {
	if w.line.empty() {
		w.y += cs.FontSize * LineHeightFactor
		return
	}
	w.flush()
}

func (w *walker) text(id dom.NodeID, n *dom.Node) {
	cs := w.styles.Get(n.Parent)
	if !cs.IsVisible() {
		return
	}
	switch cs.WhiteSpace {
	case style.WhiteSpacePre, style.WhiteSpaceNoWrap:
		for i, ln := range w.splitLines(n.Data, cs) {
			if i > 0 {
				w.lineBreak(cs)
			}
			if ln != "" {
				w.addText(ln, cs, w.href)
			}
		}
	case style.WhiteSpacePreWrap, style.WhiteSpacePreLine:
		for i, ln := range strings.Split(n.Data, "\n") {
			if i > 0 {
				w.lineBreak(cs)
			}
			w.words(ln, cs)
		}
	default:
		w.words(n.Data, cs)
	}
}

func (w *walker) splitLines(data string, cs *style.ComputedStyle) []string {
	if cs.WhiteSpace == style.WhiteSpaceNoWrap {
		return []string{strings.Join(strings.Fields(data), " ")}
	}
	return strings.Split(strings.ReplaceAll(data, "\t", "    "), "\n")
}

// words adds whitespace-separated words, wrapping when the line is full.
func (w *walker) words(data string, cs *style.ComputedStyle) {
	fields := strings.Fields(data)
	if len(fields) == 0 {
		if data != "" {
			w.pendingSpace = true
		}
		return
	}
	if startsWithSpace(data) {
		w.pendingSpace = true
	}
	for i, word := range fields {
		if i > 0 {
			w.pendingSpace = true
		}
		width := w.p.Measure(word, cs)
		if w.pendingSpace && !w.line.empty() {
			space := w.p.Measure(" ", cs)
			if w.line.fits(space + width) {
				// A space joins a link only when the link continues across it.
				href := w.href
				if last := w.line.segs[len(w.line.segs)-1]; last.Href != href {
					href = ""
				}
				w.addMeasured(" ", space, cs, href)
			} else {
				w.flush()
			}
		} else if !w.line.fits(width) {
			w.flush()
		}
		w.addMeasured(word, width, cs, w.href)
		w.pendingSpace = false
	}
	if endsWithSpace(data) {
		w.pendingSpace = true
	}
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s[:1], " \t\r\n\f") == ""
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s[len(s)-1:], " \t\r\n\f") == ""
}

func (w *walker) addText(text string, cs *style.ComputedStyle, href string) {
	w.addMeasured(text, w.p.Measure(text, cs), cs, href)
}

func (w *walker) addMeasured(text string, width float64, cs *style.ComputedStyle, href string) {
	c := cs.Color
	if href != "" {
		c = LinkBlue
	}
	w.line.add(segment{
		Text:      text,
		FontSize:  cs.FontSize,
		Color:     c,
		Width:     width,
		Href:      href,
		Underline: cs.Underline || href != "",
		variant:   variantFor(cs),
	})
}

// flush paints the buffered line and advances y by its height.
func (w *walker) flush() {
	w.pendingSpace = false
	if w.line.empty() {
		w.line.x = w.line.left
		return
	}
	if w.onFlush != nil {
		w.onFlush(w.line.segs)
	}
	w.line.align(w.align)
	height := w.line.height()
	baseline := w.y + w.line.ascent() - w.scrollY
	top := w.y - w.scrollY
	visible := top < float64(w.p.cfg.ViewportHeight) && top+height > 0

	if visible {
		w.paintLine(baseline)
	}
	for _, seg := range w.line.segs {
		w.frame.TextRuns++
		if seg.Href == "" {
			continue
		}
		w.frame.Links = append(w.frame.Links, LinkRegion{
			X:      seg.X,
			Y:      top,
			Width:  seg.Width,
			Height: seg.FontSize * LineHeightFactor,
			Href:   seg.Href,
		})
	}
	w.y += height
	w.line.reset()
}

func (w *walker) paintLine(baseline float64) {
	w.p.fonts.mu.Lock()
	defer w.p.fonts.mu.Unlock()
	for _, seg := range w.line.segs {
		face, err := w.p.fonts.face(seg.variant, seg.FontSize)
		if err != nil {
			w.p.logger.Warn("Skipping segment without a usable face.", zap.Error(err))
			continue
		}
		drawString(w.frame.Image, face, seg.Color, seg.X, baseline, shaping.VisualOrder(seg.Text))
		if seg.Underline && strings.TrimSpace(seg.Text) != "" {
			thickness := max(1, seg.FontSize/14)
			fillRect(w.frame.Image, layout.Rect{X: seg.X, Y: baseline + thickness, Width: seg.Width, Height: thickness}, seg.Color)
		}
	}
}
