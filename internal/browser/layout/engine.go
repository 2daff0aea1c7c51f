// internal/browser/layout/engine.go
package layout

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/browser/style"
	"github.com/xkilldash9x/loupe/internal/config"
	"github.com/xkilldash9x/loupe/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultCutoffFactor: a level runs sequentially when its size is <= threads * factor.
const DefaultCutoffFactor = 2

// Viewport is the initial containing block.
type Viewport struct {
	Width, Height float64
}

// Intrinsic holds content-based border-box sizes.
type Intrinsic struct {
	MinContentWidth, MaxContentWidth   float64
	MinContentHeight, MaxContentHeight float64
}

// Constraints are the limits a parent imposes on a child.
type Constraints struct {
	AvailableWidth, AvailableHeight float64
	MinWidth, MaxWidth              float64
	MinHeight, MaxHeight            float64
}

// MeasureFunc returns the advance width of text set in the given style.
type MeasureFunc func(text string, cs *style.ComputedStyle) float64

// ImageSizeFunc reports the natural size of decoded replaced content.
type ImageSizeFunc func(node dom.NodeID) (width, height float64, ok bool)

// Engine runs the four layout phases. The zero value is usable.
type Engine struct {
	Threads      int
	CutoffFactor int
	Measure      MeasureFunc
	ImageSize    ImageSizeFunc
	Metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewEngine creates an engine from configuration.
func NewEngine(cfg config.LayoutConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Threads:      cfg.Threads,
		CutoffFactor: cfg.ParallelCutoffFactor,
		logger:       logger.Named("layout"),
	}
}

func (e *Engine) threads() int {
	if e.Threads > 0 {
		return e.Threads
	}
	return runtime.GOMAXPROCS(0)
}

func (e *Engine) cutoff() int {
	f := e.CutoffFactor
	if f <= 0 {
		f = DefaultCutoffFactor
	}
	return e.threads() * f
}

func (e *Engine) measure(text string, cs *style.ComputedStyle) float64 {
	if e.Measure != nil {
		return e.Measure(text, cs)
	}
	return ApproximateMeasure(text, cs)
}

// ApproximateMeasure estimates advance widths from the font size alone.
func ApproximateMeasure(text string, cs *style.ComputedStyle) float64 {
	advance := cs.FontSize * 0.5
	if cs.FontFamily == "monospace" {
		advance = cs.FontSize * 0.6
	}
	if cs.IsBold() {
		advance *= 1.05
	}
	n := 0
	for range text {
		n++
	}
	return float64(n) * advance
}

// boxState is the per-box working record shared by the phases.
type boxState struct {
	intrinsic   Intrinsic
	cons        Constraints
	dims        Dimensions
	forced      float64 // outer width assigned by a flex, grid or table parent
	hasForced   bool
	definiteH   bool
	textLines   int
	lineWidth   float64 // width inline content was packed against in phase 3
	gridColumns []float64
	gridGap     [2]float64
}

type layoutRun struct {
	e      *Engine
	tree   *Tree
	vp     Viewport
	state  []boxState
	levels [][]BoxID
}

// Layout computes geometry for every box of tree.
func (e *Engine) Layout(ctx context.Context, tree *Tree, vp Viewport) (*Result, error) {
	start := time.Now()
	defer e.Metrics.ObservePhase("layout", start)
	logger := e.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	res := &Result{Tree: tree, Viewport: vp}
	if tree.Root == NoBox {
		return res, nil
	}
	run := &layoutRun{e: e, tree: tree, vp: vp, state: make([]boxState, tree.Len())}
	run.levels = computeLevels(tree)

	// Phase 1: intrinsic sizes, bottom-up.
	for _, level := range run.levels {
		if err := e.runLevel(ctx, level, run.intrinsic); err != nil {
			return nil, err
		}
	}
	// Phase 2: constraints, top-down in allocation order.
	for i := range tree.Boxes {
		run.constrain(BoxID(i))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Phase 3: final sizes, bottom-up.
	for _, level := range run.levels {
		if err := e.runLevel(ctx, level, run.finalSize); err != nil {
			return nil, err
		}
	}
	// Phase 4: positions, top-down.
	run.placeRoot()
	for l := len(run.levels) - 1; l >= 0; l-- {
		if err := e.runLevel(ctx, run.levels[l], run.positionChildren); err != nil {
			return nil, err
		}
	}

	res.Boxes = make([]LayoutResult, tree.Len())
	for i := range tree.Boxes {
		b := &tree.Boxes[i]
		d := run.state[i].dims
		border := d.BorderBox()
		res.Boxes[i] = LayoutResult{
			Box:        b.ID,
			NodeID:     b.Node,
			Size:       Size{Width: d.Content.Width, Height: d.Content.Height},
			Position:   Point{X: border.X, Y: border.Y},
			ContentBox: d.Content,
			Dimensions: d,
			Intrinsic:  run.state[i].intrinsic,
			Lines:      run.state[i].textLines,
		}
	}
	logger.Debug("Layout complete",
		zap.Int("boxes", tree.Len()),
		zap.Int("levels", len(run.levels)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// computeLevels groups boxes by level = 1 + max(child levels); leaves are 0.
func computeLevels(tree *Tree) [][]BoxID {
	level := make([]int, tree.Len())
	maxLevel := 0
	// Children always follow their parent in the arena.
	for i := tree.Len() - 1; i >= 0; i-- {
		l := 0
		for _, c := range tree.Boxes[i].Children {
			l = max(l, level[c]+1)
		}
		level[i] = l
		maxLevel = max(maxLevel, l)
	}
	levels := make([][]BoxID, maxLevel+1)
	for i, l := range level {
		levels[l] = append(levels[l], BoxID(i))
	}
	return levels
}

// runLevel applies fn to every box of one level. Boxes of a level are
// independent; small levels run inline.
func (e *Engine) runLevel(ctx context.Context, ids []BoxID, fn func(BoxID)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	threads := e.threads()
	if len(ids) <= e.cutoff() {
		for _, id := range ids {
			fn(id)
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	chunk := (len(ids) + threads - 1) / threads
	for start := 0; start < len(ids); start += chunk {
		part := ids[start:min(start+chunk, len(ids))]
		g.Go(func() error {
			for _, id := range part {
				if err := gctx.Err(); err != nil {
					return err
				}
				fn(id)
			}
			return nil
		})
	}
	return g.Wait()
}

// -- Phase 1: Intrinsic sizes --

func (r *layoutRun) intrinsic(id BoxID) {
	b := r.tree.Box(id)
	cs := b.Style
	st := &r.state[id]
	pbW := cs.Padding.Horizontal() + cs.Border.Horizontal()
	pbH := cs.Padding.Vertical() + cs.Border.Vertical()
	var in Intrinsic

	switch b.Kind {
	case TextBox:
		in.MaxContentWidth = r.e.measure(b.Text, cs)
		for _, word := range splitWords(b.Text) {
			in.MinContentWidth = max(in.MinContentWidth, r.e.measure(word, cs))
		}
		lines := 1
		if cs.WhiteSpace.PreservesNewlines() {
			lines = 0
			widest := 0.0
			for _, line := range splitLines(b.Text) {
				lines++
				widest = max(widest, r.e.measure(line, cs))
			}
			in.MaxContentWidth = widest
		}
		in.MinContentHeight = float64(lines) * cs.LineHeight
		in.MaxContentHeight = in.MinContentHeight
		st.intrinsic = in
		return
	case ReplacedBox:
		w, h := r.replacedSize(b)
		in = Intrinsic{w + pbW, w + pbW, h + pbH, h + pbH}
		st.intrinsic = in
		return
	}

	mode := r.flowMode(b)
	for _, c := range b.Children {
		cb := r.tree.Box(c)
		if cb.IsOutOfFlow() {
			continue
		}
		ci := r.state[c].intrinsic
		mw := cb.Style.Margin.Horizontal()
		mh := cb.Style.Margin.Vertical()
		minW, maxW, h := ci.MinContentWidth+mw, ci.MaxContentWidth+mw, ci.MaxContentHeight+mh
		switch mode {
		case flowInline, flowRow:
			in.MinContentWidth = max(in.MinContentWidth, minW)
			in.MaxContentWidth += maxW
			in.MaxContentHeight = max(in.MaxContentHeight, h)
		case flowGrid:
			in.MinContentWidth = max(in.MinContentWidth, minW)
			in.MaxContentWidth = max(in.MaxContentWidth, maxW)
			in.MaxContentHeight = max(in.MaxContentHeight, h)
		default:
			in.MinContentWidth = max(in.MinContentWidth, minW)
			in.MaxContentWidth = max(in.MaxContentWidth, maxW)
			in.MaxContentHeight += h
		}
	}
	in.MinContentHeight = in.MaxContentHeight

	if cs.Width.Kind == style.SizeLength {
		w := cs.Width.Value
		if cs.BoxSizing == style.BorderBox {
			w = max(0, w-pbW)
		}
		in.MinContentWidth, in.MaxContentWidth = w, w
	}
	if cs.Height.Kind == style.SizeLength {
		h := cs.Height.Value
		if cs.BoxSizing == style.BorderBox {
			h = max(0, h-pbH)
		}
		in.MinContentHeight, in.MaxContentHeight = h, h
	}
	in.MinContentWidth += pbW
	in.MaxContentWidth += pbW
	in.MinContentHeight += pbH
	in.MaxContentHeight += pbH
	st.intrinsic = in
}

// replacedSize returns the content size of replaced content, scaling by the
// natural aspect ratio when only one dimension is specified.
func (r *layoutRun) replacedSize(b *Box) (float64, float64) {
	var nw, nh float64
	natural := false
	if r.e.ImageSize != nil && b.Node != dom.NoNode {
		nw, nh, natural = r.e.ImageSize(b.Node)
	}
	if !natural && b.HasIntrinsic {
		nw, nh, natural = b.Intrinsic[0], b.Intrinsic[1], true
	}
	cs := b.Style
	w, hasW := lengthOnly(cs.Width)
	h, hasH := lengthOnly(cs.Height)
	switch {
	case hasW && hasH:
		return w, h
	case hasW && natural && nw > 0:
		return w, w * nh / nw
	case hasH && natural && nh > 0:
		return h * nw / nh, h
	case hasW:
		return w, 0
	case hasH:
		return 0, h
	}
	return nw, nh
}

func lengthOnly(s style.Size) (float64, bool) {
	if s.Kind == style.SizeLength {
		return s.Value, true
	}
	return 0, false
}

// -- Phase 2: Constraint propagation --

func (r *layoutRun) constrain(id BoxID) {
	b := r.tree.Box(id)
	cs := b.Style
	st := &r.state[id]

	var parentW, parentH float64
	if b.Parent == NoBox {
		parentW, parentH = r.vp.Width, r.vp.Height
	} else {
		ps := &r.state[b.Parent]
		parentW = ps.dims.Content.Width
		parentH = r.vp.Height
		if ps.definiteH {
			parentH = ps.dims.Content.Height
		}
	}
	if b.IsOutOfFlow() {
		parentW, parentH = r.vp.Width, r.vp.Height
	}

	st.dims.Padding = cs.Padding
	st.dims.Border = cs.Border
	st.dims.Margin = cs.Margin
	pbW := cs.Padding.Horizontal() + cs.Border.Horizontal()

	st.cons = Constraints{
		AvailableWidth:  parentW,
		AvailableHeight: parentH,
		MinWidth:        0,
		MaxWidth:        math.Inf(1),
		MinHeight:       0,
		MaxHeight:       math.Inf(1),
	}
	if v, ok := cs.MinWidth.Resolve(parentW); ok {
		st.cons.MinWidth = v
	}
	if v, ok := cs.MaxWidth.Resolve(parentW); ok {
		st.cons.MaxWidth = v
	}
	if v, ok := cs.MinHeight.Resolve(parentH); ok {
		st.cons.MinHeight = v
	}
	if v, ok := cs.MaxHeight.Resolve(parentH); ok {
		st.cons.MaxHeight = v
	}

	autoLeft := cs.Lookup("margin-left", "") == "auto"
	autoRight := cs.Lookup("margin-right", "") == "auto"
	mw := st.dims.Margin.Horizontal()
	available := parentW - mw

	var width float64
	explicit := false
	switch {
	case st.hasForced:
		width = st.forced - mw - pbW
	case b.Kind == TextBox:
		width = min(st.intrinsic.MaxContentWidth, max(parentW, st.intrinsic.MinContentWidth))
	case b.Kind == ReplacedBox:
		width = st.intrinsic.MaxContentWidth - pbW
	default:
		if w, ok := r.resolveKeywordWidth(cs.Width, st, parentW); ok {
			width, explicit = w, true
			if cs.BoxSizing == style.BorderBox && cs.Width.Kind != style.SizeMinContent && cs.Width.Kind != style.SizeMaxContent {
				width -= pbW
			}
		} else if b.Kind == InlineBlockBox || b.IsOutOfFlow() {
			width = min(max(st.intrinsic.MinContentWidth, available), st.intrinsic.MaxContentWidth) - pbW
		} else {
			// Block-level and inline boxes take the available line width.
			width = available - pbW
		}
	}
	width = clampSize(width+pbW, st.cons.MinWidth, st.cons.MaxWidth) - pbW
	st.dims.Content.Width = max(0, width)

	if explicit && b.IsBlockLevel() && !st.hasForced {
		remaining := parentW - pbW - st.dims.Content.Width
		switch {
		case autoLeft && autoRight:
			st.dims.Margin.Left = max(0, (remaining)/2)
			st.dims.Margin.Right = st.dims.Margin.Left
		case autoLeft:
			st.dims.Margin.Left = max(0, remaining-st.dims.Margin.Right)
		case autoRight:
			st.dims.Margin.Right = max(0, remaining-st.dims.Margin.Left)
		}
	}

	if h, ok := r.definiteHeight(b, parentH); ok {
		st.definiteH = true
		st.dims.Content.Height = h
	}

	switch b.Kind {
	case FlexContainer:
		r.assignFlexWidths(b)
	case GridContainer:
		r.assignGridWidths(b)
	case TableRow:
		r.assignCellWidths(b)
	}
}

func (r *layoutRun) resolveKeywordWidth(s style.Size, st *boxState, parentW float64) (float64, bool) {
	pbW := st.dims.Padding.Horizontal() + st.dims.Border.Horizontal()
	switch s.Kind {
	case style.SizeLength, style.SizePercent:
		return s.Resolve(parentW)
	case style.SizeMinContent:
		return st.intrinsic.MinContentWidth - pbW, true
	case style.SizeMaxContent:
		return st.intrinsic.MaxContentWidth - pbW, true
	case style.SizeFitContent:
		avail := parentW - st.dims.Margin.Horizontal()
		return min(max(st.intrinsic.MinContentWidth, avail), st.intrinsic.MaxContentWidth) - pbW, true
	}
	return 0, false
}

// definiteHeight resolves an explicit height; percentages need a definite parent.
func (r *layoutRun) definiteHeight(b *Box, parentH float64) (float64, bool) {
	cs := b.Style
	pbH := cs.Padding.Vertical() + cs.Border.Vertical()
	var h float64
	switch cs.Height.Kind {
	case style.SizeLength:
		h = cs.Height.Value
	case style.SizePercent:
		if b.Parent != NoBox && !r.state[b.Parent].definiteH {
			return 0, false
		}
		h = parentH * cs.Height.Value / 100
	default:
		return 0, false
	}
	if cs.BoxSizing == style.BorderBox {
		h -= pbH
	}
	st := &r.state[b.ID]
	return max(0, clampSize(h+pbH, st.cons.MinHeight, st.cons.MaxHeight)-pbH), true
}

func clampSize(v, lo, hi float64) float64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// -- Phase 3: Final sizes --

func (r *layoutRun) finalSize(id BoxID) {
	b := r.tree.Box(id)
	cs := b.Style
	st := &r.state[id]

	switch b.Kind {
	case TextBox:
		r.sizeText(b, st)
		return
	case ReplacedBox:
		_, h := r.replacedSize(b)
		st.dims.Content.Height = h
		return
	}

	mode := r.flowMode(b)
	contentH := 0.0
	switch mode {
	case flowInline:
		st.lineWidth = st.dims.Content.Width
		lines := r.packLines(b, st.lineWidth)
		contentH = lines.height
		if b.Kind == InlineBox {
			st.dims.Content.Width = lines.width
		}
	case flowColumn:
		for _, c := range b.Children {
			if r.tree.Box(c).IsOutOfFlow() {
				continue
			}
			contentH += r.state[c].dims.MarginBox().Height
		}
	case flowRow:
		for _, c := range b.Children {
			if r.tree.Box(c).IsOutOfFlow() {
				continue
			}
			contentH = max(contentH, r.state[c].dims.MarginBox().Height)
		}
	case flowGrid:
		rows := r.gridRows(b)
		for _, rowH := range rows {
			contentH += rowH
		}
		if len(rows) > 1 {
			contentH += st.gridGap[1] * float64(len(rows)-1)
		}
	default:
		contentH = r.blockFlowHeight(b)
	}

	if !st.definiteH {
		pbH := cs.Padding.Vertical() + cs.Border.Vertical()
		st.dims.Content.Height = max(0, clampSize(contentH+pbH, st.cons.MinHeight, st.cons.MaxHeight)-pbH)
	}

	if b.Kind == FlexContainer {
		r.resolveFlexCross(b)
	}
}

func (r *layoutRun) sizeText(b *Box, st *boxState) {
	cs := b.Style
	width := st.dims.Content.Width
	wrap := cs.WhiteSpace != style.WhiteSpacePre && cs.WhiteSpace != style.WhiteSpaceNoWrap
	if !wrap {
		width = math.Inf(1)
	}
	lines := breakText(b.Text, width, func(s string) float64 { return r.e.measure(s, cs) })
	widest := 0.0
	for _, l := range lines {
		widest = max(widest, l.Width)
	}
	st.textLines = max(1, len(lines))
	st.dims.Content.Width = widest
	st.dims.Content.Height = float64(st.textLines) * cs.LineHeight
}

// -- Phase 4: Positioning --

func (r *layoutRun) placeRoot() {
	root := &r.state[r.tree.Root]
	root.dims.Content.X = root.dims.Margin.Left + root.dims.Border.Left + root.dims.Padding.Left
	root.dims.Content.Y = root.dims.Margin.Top + root.dims.Border.Top + root.dims.Padding.Top
}

// positionChildren places the children of id inside its content box. Siblings
// accumulate sequentially; different parents are independent.
func (r *layoutRun) positionChildren(id BoxID) {
	b := r.tree.Box(id)
	if len(b.Children) == 0 {
		return
	}
	switch r.flowMode(b) {
	case flowInline:
		r.placeInline(b)
	case flowRow, flowColumn:
		if b.Kind == FlexContainer {
			r.placeFlex(b)
		} else if b.Kind == TableRow {
			r.placeRow(b)
		} else {
			r.placeBlock(b)
		}
	case flowGrid:
		r.placeGrid(b)
	default:
		r.placeBlock(b)
	}
	for _, c := range b.Children {
		cb := r.tree.Box(c)
		if cb.IsOutOfFlow() {
			r.placeOutOfFlow(cb)
		} else if cb.Style.Position == style.PositionRelative {
			r.applyRelativeOffset(cb)
		}
	}
}

// setMarginOrigin moves a box so its margin box starts at (x, y).
func (r *layoutRun) setMarginOrigin(id BoxID, x, y float64) {
	d := &r.state[id].dims
	d.Content.X = x + d.Margin.Left + d.Border.Left + d.Padding.Left
	d.Content.Y = y + d.Margin.Top + d.Border.Top + d.Padding.Top
}

func (r *layoutRun) placeBlock(b *Box) {
	parent := r.state[b.ID].dims.Content
	lc := NewLayoutContext(parent.Y)
	for _, c := range b.Children {
		cb := r.tree.Box(c)
		if cb.IsOutOfFlow() {
			continue
		}
		d := &r.state[c].dims
		lc.AddToMarginTotals(d.Margin.Top)
		collapsedTopMargin := lc.CalculateCollapsedMargin()
		d.Content.X = parent.X + d.Margin.Left + d.Border.Left + d.Padding.Left
		d.Content.Y = lc.CurrentY + collapsedTopMargin + d.Border.Top + d.Padding.Top

		lc.CurrentY += collapsedTopMargin + d.Border.Top + d.Padding.Top + d.Content.Height +
			d.Padding.Bottom + d.Border.Bottom
		lc.ResetMargins()
		lc.AddToMarginTotals(d.Margin.Bottom)
	}
}

func (r *layoutRun) placeInline(b *Box) {
	content := r.state[b.ID].dims.Content
	lines := r.packLines(b, r.state[b.ID].lineWidth)
	for _, frag := range lines.fragments {
		r.setMarginOrigin(frag.id, content.X+frag.x, content.Y+frag.y)
	}
}

func (r *layoutRun) placeRow(b *Box) {
	content := r.state[b.ID].dims.Content
	x := content.X
	for _, c := range b.Children {
		if r.tree.Box(c).IsOutOfFlow() {
			continue
		}
		r.setMarginOrigin(c, x, content.Y)
		x += r.state[c].dims.MarginBox().Width
	}
}

func (r *layoutRun) placeOutOfFlow(b *Box) {
	cs := b.Style
	// Containing block: nearest positioned ancestor's padding box, or the viewport.
	cb := Rect{Width: r.vp.Width, Height: r.vp.Height}
	static := r.state[b.Parent].dims.Content
	if cs.Position == style.PositionAbsolute {
		for a := b.Parent; a != NoBox; a = r.tree.Box(a).Parent {
			if r.tree.Box(a).Style.Position != style.PositionStatic {
				cb = r.state[a].dims.PaddingBox()
				break
			}
		}
	}
	d := &r.state[b.ID].dims
	ctx := style.LengthContext{FontSize: cs.FontSize, RootFontSize: style.BaseFontSize, ViewportWidth: r.vp.Width, ViewportHeight: r.vp.Height}
	border := d.BorderBox()

	x := static.X
	if v := cs.Lookup("left", "auto"); v != "auto" {
		ctx.Reference = cb.Width
		x = cb.X + style.ParseLength(v, ctx) + d.Margin.Left
	} else if v := cs.Lookup("right", "auto"); v != "auto" {
		ctx.Reference = cb.Width
		x = cb.X + cb.Width - style.ParseLength(v, ctx) - border.Width - d.Margin.Right
	}
	y := static.Y
	if v := cs.Lookup("top", "auto"); v != "auto" {
		ctx.Reference = cb.Height
		y = cb.Y + style.ParseLength(v, ctx) + d.Margin.Top
	} else if v := cs.Lookup("bottom", "auto"); v != "auto" {
		ctx.Reference = cb.Height
		y = cb.Y + cb.Height - style.ParseLength(v, ctx) - border.Height - d.Margin.Bottom
	}
	d.Content.X = x + d.Border.Left + d.Padding.Left
	d.Content.Y = y + d.Border.Top + d.Padding.Top
}

func (r *layoutRun) applyRelativeOffset(b *Box) {
	cs := b.Style
	ctx := style.LengthContext{FontSize: cs.FontSize, RootFontSize: style.BaseFontSize, ViewportWidth: r.vp.Width, ViewportHeight: r.vp.Height}
	d := &r.state[b.ID].dims
	if v := cs.Lookup("left", "auto"); v != "auto" {
		d.Content.X += style.ParseLength(v, ctx)
	} else if v := cs.Lookup("right", "auto"); v != "auto" {
		d.Content.X -= style.ParseLength(v, ctx)
	}
	if v := cs.Lookup("top", "auto"); v != "auto" {
		d.Content.Y += style.ParseLength(v, ctx)
	} else if v := cs.Lookup("bottom", "auto"); v != "auto" {
		d.Content.Y -= style.ParseLength(v, ctx)
	}
}
