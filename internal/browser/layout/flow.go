// internal/browser/layout/flow.go
package layout

import (
	"math"
	"strings"

	"github.com/xkilldash9x/loupe/internal/browser/style"
	"github.com/xkilldash9x/loupe/internal/text/shaping"
)

// flowMode is how a container arranges its in-flow children.
type flowMode int

const (
	flowBlock flowMode = iota
	flowInline
	flowRow
	flowColumn
	flowGrid
)

func (r *layoutRun) flowMode(b *Box) flowMode {
	switch b.Kind {
	case FlexContainer:
		if b.Style.FlexDirection.IsColumn() {
			return flowColumn
		}
		return flowRow
	case GridContainer:
		return flowGrid
	case TableRow:
		return flowRow
	case TableBox:
		return flowBlock
	case InlineBox:
		return flowInline
	}
	for _, c := range b.Children {
		cb := r.tree.Box(c)
		if !cb.IsOutOfFlow() && cb.IsBlockLevel() {
			return flowBlock
		}
	}
	return flowInline
}

// -- Block Formatting Context --

// LayoutContext tracks the running y position and adjoining margins of a block flow.
type LayoutContext struct {
	CurrentY          float64
	MaxNegativeMargin float64
	MaxPositiveMargin float64
}

func NewLayoutContext(startY float64) *LayoutContext {
	return &LayoutContext{CurrentY: startY}
}

func (lc *LayoutContext) AddToMarginTotals(margin float64) {
	if margin > 0 {
		lc.MaxPositiveMargin = math.Max(lc.MaxPositiveMargin, margin)
	} else if margin < lc.MaxNegativeMargin {
		lc.MaxNegativeMargin = margin
	}
}

func (lc *LayoutContext) CalculateCollapsedMargin() float64 {
	return lc.MaxPositiveMargin + lc.MaxNegativeMargin
}

func (lc *LayoutContext) ResetMargins() {
	lc.MaxNegativeMargin = 0
	lc.MaxPositiveMargin = 0
}

// blockFlowHeight stacks in-flow children with adjoining margins collapsed.
func (r *layoutRun) blockFlowHeight(b *Box) float64 {
	lc := NewLayoutContext(0)
	for _, c := range b.Children {
		if r.tree.Box(c).IsOutOfFlow() {
			continue
		}
		d := r.state[c].dims
		lc.AddToMarginTotals(d.Margin.Top)
		lc.CurrentY += lc.CalculateCollapsedMargin() + d.BorderBox().Height
		lc.ResetMargins()
		lc.AddToMarginTotals(d.Margin.Bottom)
	}
	lc.CurrentY += lc.CalculateCollapsedMargin()
	return lc.CurrentY
}

// -- Inline Formatting Context and Line Breaking --

type fragment struct {
	id   BoxID
	x, y float64
}

type lineResult struct {
	fragments []fragment
	height    float64
	width     float64
}

// packLines places inline-level children greedily on lines of the given width.
// Fragment offsets are relative to the container's content origin.
func (r *layoutRun) packLines(b *Box, width float64) lineResult {
	var res lineResult
	align := b.Style.TextAlign
	if b.Kind == InlineBox {
		align = style.TextAlignLeft
	}
	x, y, lineH := 0.0, 0.0, 0.0
	lineStart := 0
	finishLine := func() {
		if len(res.fragments) == lineStart {
			return
		}
		offset := 0.0
		if free := width - x; free > 0 && !math.IsInf(width, 1) {
			switch align {
			case style.TextAlignCenter:
				offset = free / 2
			case style.TextAlignRight:
				offset = free
			}
		}
		for i := lineStart; i < len(res.fragments); i++ {
			res.fragments[i].x += offset
		}
		res.width = max(res.width, x)
		y += lineH
		x, lineH = 0, 0
		lineStart = len(res.fragments)
	}
	for _, c := range b.Children {
		if r.tree.Box(c).IsOutOfFlow() {
			continue
		}
		mb := r.state[c].dims.MarginBox()
		if x > 0 && x+mb.Width > width+0.01 {
			finishLine()
		}
		res.fragments = append(res.fragments, fragment{id: c, x: x, y: y})
		x += mb.Width
		lineH = max(lineH, mb.Height)
	}
	finishLine()
	res.height = y
	return res
}

// breakText wraps text at width using the shaper's line-break opportunities.
func breakText(text string, width float64, measure func(string) float64) []shaping.Line {
	return shaping.BreakLines(text, width, measure)
}

func splitWords(text string) []string {
	return strings.Fields(text)
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// -- Flexbox --

// assignFlexWidths sizes flex items on the main axis of a row container, or
// stretches them across a column container.
func (r *layoutRun) assignFlexWidths(b *Box) {
	containerW := r.state[b.ID].dims.Content.Width
	var items []BoxID
	for _, c := range b.Children {
		if !r.tree.Box(c).IsOutOfFlow() {
			items = append(items, c)
		}
	}
	if len(items) == 0 {
		return
	}

	if b.Style.FlexDirection.IsColumn() {
		for _, c := range items {
			cs := r.tree.Box(c).Style
			if cs.Width.IsAuto() {
				r.state[c].forced, r.state[c].hasForced = containerW, true
			}
		}
		return
	}

	bases := make([]float64, len(items))
	margins := make([]float64, len(items))
	totalOuter, totalGrow, totalShrink := 0.0, 0.0, 0.0
	for i, c := range items {
		bases[i] = r.flexBasis(r.tree.Box(c), containerW)
		margins[i] = r.tree.Box(c).Style.Margin.Horizontal()
		totalOuter += bases[i] + margins[i]
		totalGrow += r.tree.Box(c).Style.FlexGrow
		totalShrink += r.tree.Box(c).Style.FlexShrink * bases[i]
	}

	free := containerW - totalOuter
	for i, c := range items {
		cs := r.tree.Box(c).Style
		switch {
		case free > 0 && totalGrow > 0:
			bases[i] += free * cs.FlexGrow / totalGrow
		case free < 0 && totalShrink > 0:
			shrunk := bases[i] + free*cs.FlexShrink*bases[i]/totalShrink
			bases[i] = max(shrunk, r.state[c].intrinsic.MinContentWidth)
		}
		r.state[c].forced = bases[i] + margins[i]
		r.state[c].hasForced = true
	}
}

// flexBasis returns an item's hypothetical border-box main size.
func (r *layoutRun) flexBasis(item *Box, containerW float64) float64 {
	cs := item.Style
	pbW := cs.Padding.Horizontal() + cs.Border.Horizontal()
	ctx := style.LengthContext{FontSize: cs.FontSize, RootFontSize: style.BaseFontSize, Reference: containerW, ViewportWidth: r.vp.Width, ViewportHeight: r.vp.Height}
	if basis := cs.Lookup("flex-basis", "auto"); basis != "auto" && basis != "content" {
		v := style.ParseLength(basis, ctx)
		if cs.BoxSizing == style.BorderBox {
			return v
		}
		return v + pbW
	}
	if w, ok := cs.Width.Resolve(containerW); ok {
		if cs.BoxSizing == style.BorderBox {
			return w
		}
		return w + pbW
	}
	return r.state[item.ID].intrinsic.MaxContentWidth
}

// resolveFlexCross stretches row items to the line height and grows column
// items into a definite container height.
func (r *layoutRun) resolveFlexCross(b *Box) {
	st := &r.state[b.ID]
	containerH := st.dims.Content.Height
	var items []BoxID
	for _, c := range b.Children {
		if !r.tree.Box(c).IsOutOfFlow() {
			items = append(items, c)
		}
	}

	if !b.Style.FlexDirection.IsColumn() {
		if align := b.Style.Lookup("align-items", "stretch"); align != "stretch" && align != "normal" {
			return
		}
		for _, c := range items {
			cb := r.tree.Box(c)
			cst := &r.state[c]
			if cb.Style.Height.IsAuto() && !cst.definiteH {
				cst.dims.Content.Height = max(0, containerH-cst.dims.GetCrossStatic(Horizontal))
			}
		}
		return
	}

	if !st.definiteH {
		return
	}
	used, totalGrow := 0.0, 0.0
	for _, c := range items {
		used += r.state[c].dims.MarginBox().Height
		totalGrow += r.tree.Box(c).Style.FlexGrow
	}
	if free := containerH - used; free > 0 && totalGrow > 0 {
		for _, c := range items {
			r.state[c].dims.Content.Height += free * r.tree.Box(c).Style.FlexGrow / totalGrow
		}
	}
}

func (r *layoutRun) placeFlex(b *Box) {
	content := r.state[b.ID].dims.Content
	axis := Horizontal
	if b.Style.FlexDirection.IsColumn() {
		axis = Vertical
	}
	reverse := b.Style.FlexDirection == style.FlexDirectionRowReverse || b.Style.FlexDirection == style.FlexDirectionColumnReverse

	var items []BoxID
	total := 0.0
	for _, c := range b.Children {
		if r.tree.Box(c).IsOutOfFlow() {
			continue
		}
		items = append(items, c)
		mb := r.state[c].dims.MarginBox()
		if axis == Horizontal {
			total += mb.Width
		} else {
			total += mb.Height
		}
	}
	available := content.GetMainSize(axis)
	crossAvailable := content.GetCrossSize(axis)
	startOffset, spacing := calculateAlignmentOffsets(len(items), total, available, b.Style.JustifyContent)
	crossAlign := b.Style.Lookup("align-items", "stretch")

	pos := startOffset
	for _, c := range items {
		mb := r.state[c].dims.MarginBox()
		mainSize, crossSize := mb.Width, mb.Height
		if axis == Vertical {
			mainSize, crossSize = mb.Height, mb.Width
		}
		main := pos
		if reverse {
			main = available - pos - mainSize
		}
		cross := 0.0
		switch crossAlign {
		case "center":
			cross = (crossAvailable - crossSize) / 2
		case "flex-end", "end":
			cross = crossAvailable - crossSize
		}
		if axis == Horizontal {
			r.setMarginOrigin(c, content.X+main, content.Y+cross)
		} else {
			r.setMarginOrigin(c, content.X+cross, content.Y+main)
		}
		pos += mainSize + spacing
	}
}

// GetMainSize is an axis-agnostic helper for Rect.
func (r Rect) GetMainSize(axis Axis) float64 {
	if axis == Horizontal {
		return r.Width
	}
	return r.Height
}

// GetCrossSize is an axis-agnostic helper for Rect.
func (r Rect) GetCrossSize(axis Axis) float64 {
	if axis == Horizontal {
		return r.Height
	}
	return r.Width
}

// calculateAlignmentOffsets is a helper for justify-content.
func calculateAlignmentOffsets(itemCount int, totalSize, availableSize float64, alignment style.JustifyContent) (startOffset, spacing float64) {
	freeSpace := availableSize - totalSize
	if freeSpace <= 0.001 {
		return 0, 0
	}

	switch alignment {
	case style.JustifyFlexEnd:
		startOffset = freeSpace
	case style.JustifyCenter:
		startOffset = freeSpace / 2.0
	case style.JustifySpaceBetween:
		if itemCount > 1 {
			spacing = freeSpace / float64(itemCount-1)
		}
	case style.JustifySpaceAround:
		if itemCount > 0 {
			spacing = freeSpace / float64(itemCount)
			startOffset = spacing / 2.0
		} else {
			startOffset = freeSpace / 2.0
		}
	case style.JustifySpaceEvenly:
		if itemCount > 0 {
			spacing = freeSpace / float64(itemCount+1)
			startOffset = spacing
		} else {
			startOffset = freeSpace / 2.0
		}
	}
	return startOffset, spacing
}

// -- Grid and Table --

// resolveGridTracks parses grid-template-columns and calculates the final track sizes.
func resolveGridTracks(template string, availableSpace, gap float64, ctx style.LengthContext) []float64 {
	if template == "none" {
		return nil
	}
	parts := expandRepeat(strings.Fields(template))
	if len(parts) == 0 {
		return nil
	}
	ctx.Reference = availableSpace

	sizes := make([]float64, len(parts))
	factors := make([]float64, len(parts))
	totalFr, fixedSpaceUsed := 0.0, gap*float64(len(parts)-1)
	for i, part := range parts {
		switch {
		case strings.HasSuffix(part, "fr"):
			f := style.ParseLength(strings.TrimSuffix(part, "fr"), ctx)
			factors[i] = f
			totalFr += f
		case part == "auto" || strings.HasPrefix(part, "minmax("):
			factors[i] = 1
			totalFr++
		default:
			sizes[i] = style.ParseLength(part, ctx)
			fixedSpaceUsed += sizes[i]
		}
	}
	if totalFr > 0 {
		spacePerFr := math.Max(0, availableSpace-fixedSpaceUsed) / totalFr
		for i, f := range factors {
			if f > 0 {
				sizes[i] = f * spacePerFr
			}
		}
	}
	return sizes
}

// expandRepeat unrolls repeat(N, a b) into its track list.
func expandRepeat(tokens []string) []string {
	joined := strings.Join(tokens, " ")
	var out []string
	for joined != "" {
		idx := strings.Index(joined, "repeat(")
		if idx < 0 {
			out = append(out, strings.Fields(joined)...)
			break
		}
		out = append(out, strings.Fields(joined[:idx])...)
		end := strings.IndexByte(joined[idx:], ')')
		if end < 0 {
			break
		}
		body := joined[idx+len("repeat(") : idx+end]
		countStr, tracks, _ := strings.Cut(body, ",")
		count := int(style.ParseLength(strings.TrimSpace(countStr), style.LengthContext{}))
		for i := 0; i < count && i < 1000; i++ {
			out = append(out, strings.Fields(tracks)...)
		}
		joined = joined[idx+end+1:]
	}
	return out
}

func (r *layoutRun) assignGridWidths(b *Box) {
	st := &r.state[b.ID]
	cs := b.Style
	ctx := style.LengthContext{FontSize: cs.FontSize, RootFontSize: style.BaseFontSize, ViewportWidth: r.vp.Width, ViewportHeight: r.vp.Height}
	var colGap, rowGap float64
	if gap := strings.Fields(cs.Lookup("gap", "")); len(gap) > 0 {
		rowGap = style.ParseLength(gap[0], ctx)
		colGap = rowGap
		if len(gap) > 1 {
			colGap = style.ParseLength(gap[1], ctx)
		}
	}
	if v := cs.Lookup("column-gap", ""); v != "" {
		colGap = style.ParseLength(v, ctx)
	}
	if v := cs.Lookup("row-gap", ""); v != "" {
		rowGap = style.ParseLength(v, ctx)
	}
	st.gridGap = [2]float64{colGap, rowGap}

	st.gridColumns = resolveGridTracks(cs.Lookup("grid-template-columns", "none"), st.dims.Content.Width, colGap, ctx)
	if len(st.gridColumns) == 0 {
		st.gridColumns = []float64{st.dims.Content.Width}
	}
	col := 0
	for _, c := range b.Children {
		if r.tree.Box(c).IsOutOfFlow() {
			continue
		}
		r.state[c].forced, r.state[c].hasForced = st.gridColumns[col], true
		col = (col + 1) % len(st.gridColumns)
	}
}

// gridRows returns the height of each implicit row, filled row-major.
func (r *layoutRun) gridRows(b *Box) []float64 {
	cols := len(r.state[b.ID].gridColumns)
	if cols == 0 {
		cols = 1
	}
	var rows []float64
	i := 0
	for _, c := range b.Children {
		if r.tree.Box(c).IsOutOfFlow() {
			continue
		}
		row := i / cols
		if row >= len(rows) {
			rows = append(rows, 0)
		}
		rows[row] = max(rows[row], r.state[c].dims.MarginBox().Height)
		i++
	}
	return rows
}

func (r *layoutRun) placeGrid(b *Box) {
	st := &r.state[b.ID]
	content := st.dims.Content
	rows := r.gridRows(b)
	cols := st.gridColumns
	if len(cols) == 0 {
		cols = []float64{content.Width}
	}
	i := 0
	y := content.Y
	x := content.X
	for _, c := range b.Children {
		if r.tree.Box(c).IsOutOfFlow() {
			continue
		}
		col, row := i%len(cols), i/len(cols)
		if col == 0 && row > 0 {
			y += rows[row-1] + st.gridGap[1]
			x = content.X
		}
		r.setMarginOrigin(c, x, y)
		x += cols[col] + st.gridGap[0]
		i++
	}
}

// assignCellWidths shares a row's width between its cells by content size.
func (r *layoutRun) assignCellWidths(b *Box) {
	rowW := r.state[b.ID].dims.Content.Width
	var cells []BoxID
	sumMin, sumMax := 0.0, 0.0
	for _, c := range b.Children {
		if r.tree.Box(c).IsOutOfFlow() {
			continue
		}
		cells = append(cells, c)
		m := r.tree.Box(c).Style.Margin.Horizontal()
		sumMin += r.state[c].intrinsic.MinContentWidth + m
		sumMax += r.state[c].intrinsic.MaxContentWidth + m
	}
	if len(cells) == 0 {
		return
	}
	for _, c := range cells {
		in := r.state[c].intrinsic
		m := r.tree.Box(c).Style.Margin.Horizontal()
		var w float64
		switch {
		case sumMax <= rowW:
			w = in.MaxContentWidth + m + (rowW-sumMax)/float64(len(cells))
		case sumMin <= rowW && sumMax > sumMin:
			w = in.MinContentWidth + m + (rowW-sumMin)*(in.MaxContentWidth-in.MinContentWidth)/(sumMax-sumMin)
		default:
			w = in.MinContentWidth + m
		}
		r.state[c].forced, r.state[c].hasForced = w, true
	}
}
