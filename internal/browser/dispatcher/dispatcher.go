// internal/browser/dispatcher/dispatcher.go
package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/browser/htmlparse"
	"github.com/xkilldash9x/loupe/internal/browser/layout"
	"github.com/xkilldash9x/loupe/internal/browser/network/customhttp"
	"github.com/xkilldash9x/loupe/internal/browser/parser"
	"github.com/xkilldash9x/loupe/internal/browser/render"
	"github.com/xkilldash9x/loupe/internal/browser/style"
	"github.com/xkilldash9x/loupe/internal/config"
	"github.com/xkilldash9x/loupe/internal/imaging"
	"github.com/xkilldash9x/loupe/internal/observability"
	"github.com/xkilldash9x/loupe/internal/script"
)

const (
	// feedChunk is how many body bytes reach the parser between Process calls.
	feedChunk = 16 << 10
	// maxParallelFetches bounds subresource fetches per page.
	maxParallelFetches = 6
)

// EmptyPageMessage is painted when a page produced nothing visible.
const EmptyPageMessage = "Page loaded but no visible content"

// Fetcher retrieves a resource. *customhttp.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// Page is one loaded and painted document.
type Page struct {
	ID       uuid.UUID
	URL      string
	Document *dom.Document
	Styles   style.Map
	Layout   *layout.Result
	Frame    *render.Frame
	Title    string
	// Err is the fetch or parse failure painted into Frame, if any.
	Err error
	// Console collects console output of the page's scripts.
	Console string
	// ScriptErrors holds uncaught exceptions, one per failing script.
	ScriptErrors []error

	mu      sync.Mutex
	painter *render.Painter
}

// Scroll repaints the page at scrollY using the existing layout.
func (p *Page) Scroll(scrollY float64) (*render.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Document == nil || p.painter == nil {
		return p.Frame, nil
	}
	frame, err := p.painter.Paint(p.Document, p.Styles, p.Layout, scrollY)
	if err != nil {
		return nil, fmt.Errorf("failed to repaint at %v: %w", scrollY, err)
	}
	p.Frame = frame
	return frame, nil
}

// Dispatcher drives a URL through fetch, parse, script, style, layout and
// paint. It is safe for concurrent use; each Load builds its own page.
type Dispatcher struct {
	cfg     config.Interface
	logger  *zap.Logger
	fetcher Fetcher
	client  *customhttp.Client
	painter *render.Painter
	layout  *layout.Engine
	decoder *imaging.Decoder
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFetcher replaces the HTTP client.
func WithFetcher(f Fetcher) Option {
	return func(d *Dispatcher) { d.fetcher = f }
}

// WithMetrics records phase timings and request counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// New creates a dispatcher. Unless WithFetcher is given it owns a
// customhttp client built from the network configuration; Close releases it.
func New(cfg config.Interface, logger *zap.Logger, opts ...Option) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:    cfg,
		logger: logger.Named("dispatcher"),
		tracer: observability.Tracer(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.fetcher == nil {
		cc, err := customhttp.NewClientConfig(cfg.Network(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
		d.client = customhttp.NewClient(cc, logger,
			customhttp.WithMetrics(d.metrics),
			customhttp.WithTracer(d.tracer))
		d.fetcher = d.client
	}

	decoder, err := imaging.NewDecoder(cfg.Imaging(), logger, d.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create image decoder: %w", err)
	}
	d.decoder = decoder

	d.painter = render.NewPainter(cfg.Render(), logger)
	d.painter.Metrics = d.metrics
	d.layout = layout.NewEngine(cfg.Layout(), logger)
	d.layout.Measure = d.painter.Measure
	d.layout.Metrics = d.metrics
	return d, nil
}

// Close drops pooled connections of an owned client.
func (d *Dispatcher) Close() {
	if d.client != nil {
		d.client.CloseAll()
	}
}

// Load fetches rawURL and renders it. A fetch failure is not returned as an
// error: the page paints the failure instead. Only cancellation of ctx and
// rendering faults are errors.
func (d *Dispatcher) Load(ctx context.Context, rawURL string, scrollY float64) (*Page, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Load", trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	page := newPage(rawURL)
	span.SetAttributes(attribute.String("page.id", page.ID.String()))
	fetchCtx, end := d.phase(ctx, "fetch")
	body, base, err := d.fetch(fetchCtx, rawURL)
	end()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn("Page fetch failed", zap.String("url", rawURL), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		page.Err = err
		page.Frame = d.painter.PaintMessage(err.Error())
		return page, nil
	}
	span.SetAttributes(attribute.Int("page.bytes", len(body)))
	if len(bytes.TrimSpace(body)) == 0 {
		page.Frame = d.painter.PaintMessage(EmptyPageMessage)
		return page, nil
	}
	if err := d.pipeline(ctx, page, body, base, scrollY); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return page, nil
}

// Render runs the pipeline over an in-memory document. baseURL resolves
// relative subresource references and may be empty.
func (d *Dispatcher) Render(ctx context.Context, html, baseURL string, scrollY float64) (*Page, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Render")
	defer span.End()

	var base *url.URL
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
		}
		base = u
	}
	page := newPage(baseURL)
	if strings.TrimSpace(html) == "" {
		page.Frame = d.painter.PaintMessage(EmptyPageMessage)
		return page, nil
	}
	if err := d.pipeline(ctx, page, []byte(html), base, scrollY); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return page, nil
}

func newPage(rawURL string) *Page {
	return &Page{ID: uuid.New(), URL: rawURL}
}

// fetch returns the decoded body and the URL it was finally served from.
func (d *Dispatcher) fetch(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	resp, err := d.fetcher.Get(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read body of %s: %w", rawURL, err)
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	return toUTF8(raw, resp.Header.Get("Content-Type")), base, nil
}

// toUTF8 transcodes body using the charset from the BOM, Content-Type or a
// <meta> prescan, in that order.
func toUTF8(body []byte, contentType string) []byte {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" {
		return body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}

// phase opens a child span for one pipeline phase. The returned func ends
// the span and records the phase duration; calls after the first are no-ops.
func (d *Dispatcher) phase(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatcher."+name)
	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			d.metrics.ObservePhase(name, start)
			span.End()
		})
	}
}

// pipeline fills page from body.
func (d *Dispatcher) pipeline(ctx context.Context, page *Page, body []byte, base *url.URL, scrollY float64) error {
	parseCtx, end := d.phase(ctx, "parse")
	doc, err := d.parse(parseCtx, body)
	end()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page.Err = err
		page.Frame = d.painter.PaintMessage(err.Error())
		return nil
	}
	page.Document = doc

	res := collect(doc)
	if d.cfg.Script().Enabled && len(res.scripts) > 0 {
		scriptCtx, end := d.phase(ctx, "script")
		err := d.runScripts(scriptCtx, page, res.scripts, base)
		end()
		if err != nil {
			return err
		}
		// Scripts may have added or removed styles and images.
		res = collect(doc)
	}
	page.Title = doc.Title()

	styleCtx, end := d.phase(ctx, "style")
	defer end()
	sheets, err := d.loadSheets(styleCtx, res.sheets, base)
	if err != nil {
		return err
	}
	width, height := d.painter.Viewport()
	resolver := style.NewResolver(d.logger)
	for _, sheet := range sheets {
		resolver.AddAuthorSheet(sheet)
	}
	resolver.SetViewport(float64(width), float64(height))
	page.Styles = resolver.Resolve(doc)
	end()

	imageCtx, end := d.phase(ctx, "images")
	images, err := d.loadImages(imageCtx, res.images, base)
	end()
	if err != nil {
		return err
	}

	eng := *d.layout
	eng.ImageSize = func(id dom.NodeID) (float64, float64, bool) {
		img, ok := images[id]
		if !ok {
			return 0, 0, false
		}
		b := img.Bounds()
		return float64(b.Dx()), float64(b.Dy()), true
	}
	// The layout engine and painter record their own phase durations.
	layoutCtx, layoutSpan := d.tracer.Start(ctx, "dispatcher.layout")
	lay, err := eng.Layout(layoutCtx, layout.BuildTree(doc, page.Styles), layout.Viewport{Width: float64(width), Height: float64(height)})
	layoutSpan.End()
	if err != nil {
		return fmt.Errorf("layout failed: %w", err)
	}
	page.Layout = lay

	page.painter = d.painter.WithImages(images)
	_, paintSpan := d.tracer.Start(ctx, "dispatcher.paint")
	frame, err := page.painter.Paint(doc, page.Styles, lay, scrollY)
	paintSpan.End()
	if err != nil {
		return fmt.Errorf("paint failed: %w", err)
	}
	if frame.TextRuns == 0 && len(images) == 0 {
		frame = d.painter.PaintMessage(EmptyPageMessage)
	}
	page.Frame = frame
	d.logger.Debug("Page rendered",
		zap.Stringer("page_id", page.ID),
		zap.String("url", page.URL),
		zap.Int("nodes", doc.Len()),
		zap.Int("text_runs", frame.TextRuns),
		zap.Int("images", len(images)))
	return nil
}

// parse feeds body in chunks, draining the parser by token budget between
// feeds so cancellation is observed mid-document.
func (d *Dispatcher) parse(ctx context.Context, body []byte) (*dom.Document, error) {
	budget := max(d.cfg.Parser().TokenBudget, 1)
	p := htmlparse.NewParser(d.logger)
	drain := func() (bool, error) {
		for {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			switch p.Process(budget).Kind {
			case htmlparse.NeedMoreData:
				return false, nil
			case htmlparse.Complete:
				return true, nil
			}
		}
	}
	for len(body) > 0 {
		n := min(len(body), feedChunk)
		p.Feed(body[:n])
		body = body[n:]
		if _, err := drain(); err != nil {
			return nil, err
		}
	}
	p.Finish()
	done, err := drain()
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, errors.New("parser stalled after end of input")
	}
	if err := p.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return p.Document(), nil
}

// runScripts executes the page's scripts in document order. External
// sources are fetched concurrently beforehand; a script that fails to
// load is skipped.
func (d *Dispatcher) runScripts(ctx context.Context, page *Page, scripts []resource, base *url.URL) error {
	sources, err := d.fetchTexts(ctx, scripts, base)
	if err != nil {
		return err
	}
	var console strings.Builder
	engine, err := script.NewEngine(d.cfg.Script(), d.logger,
		script.WithDocument(page.Document),
		script.WithConsole(&console))
	if err != nil {
		return fmt.Errorf("failed to create script engine: %w", err)
	}
	for i, src := range sources {
		if src == "" {
			continue
		}
		if _, err := engine.Run(src); err != nil {
			d.logger.Info("Script failed", zap.Int("index", i), zap.Error(err))
			page.ScriptErrors = append(page.ScriptErrors, err)
		}
	}
	if err := engine.RunLoop(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Info("Event loop stopped", zap.Error(err))
		page.ScriptErrors = append(page.ScriptErrors, err)
	}
	page.Console = console.String()
	return nil
}

// loadSheets parses inline and linked sheets in document order.
func (d *Dispatcher) loadSheets(ctx context.Context, refs []resource, base *url.URL) ([]parser.StyleSheet, error) {
	texts, err := d.fetchTexts(ctx, refs, base)
	if err != nil {
		return nil, err
	}
	return parser.ParseSheets(ctx, texts)
}

// fetchTexts resolves each resource to its text, fetching external ones
// concurrently. A failed fetch leaves its slot empty.
func (d *Dispatcher) fetchTexts(ctx context.Context, refs []resource, base *url.URL) ([]string, error) {
	out := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i, ref := range refs {
		if ref.href == "" {
			out[i] = ref.inline
			continue
		}
		g.Go(func() error {
			data, err := d.fetchResource(gctx, base, ref.href)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				d.logger.Debug("Subresource fetch failed", zap.String("href", ref.href), zap.Error(err))
				return nil
			}
			out[i] = string(toUTF8(data, "text/plain"))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// loadImages fetches and decodes image sources concurrently. Failures
// leave the element without an entry.
func (d *Dispatcher) loadImages(ctx context.Context, refs []imageRef, base *url.URL) (map[dom.NodeID]image.Image, error) {
	var mu sync.Mutex
	images := make(map[dom.NodeID]image.Image, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for _, ref := range refs {
		g.Go(func() error {
			data, err := d.fetchResource(gctx, base, ref.src)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				d.logger.Debug("Image fetch failed", zap.String("src", ref.src), zap.Error(err))
				return nil
			}
			img, err := d.decoder.Decode(data)
			if err != nil {
				d.logger.Debug("Image decode failed", zap.String("src", ref.src), zap.Error(err))
				return nil
			}
			mu.Lock()
			images[ref.node] = img
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

func (d *Dispatcher) fetchResource(ctx context.Context, base *url.URL, href string) ([]byte, error) {
	target, err := resolve(base, href)
	if err != nil {
		return nil, err
	}
	resp, err := d.fetcher.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: status %d", target, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid reference %q: %w", href, err)
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return "", fmt.Errorf("relative reference %q without a base URL", href)
	}
	return ref.String(), nil
}
