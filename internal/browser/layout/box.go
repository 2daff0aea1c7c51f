// internal/browser/layout/box.go
package layout

import (
	"strconv"
	"strings"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/browser/style"
)

// -- Core Structures: Box Model and Dimensions --

// Axis represents the primary layout direction.
type Axis int

const (
	// Horizontal axis for layout calculations.
	Horizontal Axis = iota
	// Vertical axis for layout calculations.
	Vertical
)

// Dimensions defines the geometry of a layout box.
type Dimensions struct {
	// Content area (x, y) relative to the document origin.
	Content Rect

	Padding Edges
	Border  Edges
	Margin  Edges
}

// MarginBox returns the rectangle enclosing the margin area.
func (d Dimensions) MarginBox() Rect {
	return d.BorderBox().ExpandedBy(d.Margin)
}

// BorderBox returns the rectangle enclosing the border area.
func (d Dimensions) BorderBox() Rect {
	return d.PaddingBox().ExpandedBy(d.Border)
}

// PaddingBox returns the rectangle enclosing the padding area.
func (d Dimensions) PaddingBox() Rect {
	return d.Content.ExpandedBy(d.Padding)
}

// GetMainSize is an axis-agnostic helper for Dimensions.
func (d *Dimensions) GetMainSize(axis Axis) float64 {
	if axis == Horizontal {
		return d.Content.Width
	}
	return d.Content.Height
}

// SetMainSize is an axis-agnostic helper for Dimensions.
func (d *Dimensions) SetMainSize(axis Axis, size float64) {
	if axis == Horizontal {
		d.Content.Width = size
	} else {
		d.Content.Height = size
	}
}

// GetCrossSize is an axis-agnostic helper for Dimensions.
func (d *Dimensions) GetCrossSize(axis Axis) float64 {
	if axis == Horizontal {
		return d.Content.Height
	}
	return d.Content.Width
}

// GetMainStatic returns the total size occupied by margins, borders, and paddings on the main axis.
func (d *Dimensions) GetMainStatic(axis Axis) float64 {
	if axis == Horizontal {
		return d.Margin.Left + d.Margin.Right + d.Border.Left + d.Border.Right + d.Padding.Left + d.Padding.Right
	}
	return d.Margin.Top + d.Margin.Bottom + d.Border.Top + d.Border.Bottom + d.Padding.Top + d.Padding.Bottom
}

// GetCrossStatic returns the total size occupied by margins, borders, and paddings on the cross axis.
func (d *Dimensions) GetCrossStatic(axis Axis) float64 {
	if axis == Horizontal {
		return d.Margin.Top + d.Margin.Bottom + d.Border.Top + d.Border.Bottom + d.Padding.Top + d.Padding.Bottom
	}
	return d.Margin.Left + d.Margin.Right + d.Border.Left + d.Border.Right + d.Padding.Left + d.Padding.Right
}

type Rect struct {
	X, Y, Width, Height float64
}

// ExpandedBy returns a new rectangle expanded by the edge sizes.
func (r Rect) ExpandedBy(e Edges) Rect {
	return Rect{
		X:      r.X - e.Left,
		Y:      r.Y - e.Top,
		Width:  r.Width + e.Left + e.Right,
		Height: r.Height + e.Top + e.Bottom,
	}
}

// Contains reports whether the point lies inside r.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Edges are pixel sizes for the four sides of a box.
type Edges = style.Edges

// -- Box Tree --

// BoxID indexes a box in its Tree.
type BoxID int32

// NoBox marks an absent box.
const NoBox BoxID = -1

// BoxKind is the formatting role of a box.
type BoxKind int

const (
	BlockBox BoxKind = iota
	InlineBox
	InlineBlockBox
	AnonymousBlockBox
	TextBox
	ReplacedBox
	ListItemBox
	FlexContainer
	GridContainer
	TableBox
	TableRow
	TableCell
)

func (k BoxKind) String() string {
	switch k {
	case BlockBox:
		return "block"
	case InlineBox:
		return "inline"
	case InlineBlockBox:
		return "inline-block"
	case AnonymousBlockBox:
		return "anonymous"
	case TextBox:
		return "text"
	case ReplacedBox:
		return "replaced"
	case ListItemBox:
		return "list-item"
	case FlexContainer:
		return "flex"
	case GridContainer:
		return "grid"
	case TableBox:
		return "table"
	case TableRow:
		return "table-row"
	case TableCell:
		return "table-cell"
	}
	return "unknown"
}

// Box is a node in the layout tree. Anonymous boxes have Node == dom.NoNode.
type Box struct {
	ID       BoxID
	Node     dom.NodeID
	Kind     BoxKind
	Parent   BoxID
	Children []BoxID
	Style    *style.ComputedStyle
	// Text holds the collapsed contents of a TextBox.
	Text string
	// Intrinsic is the natural size of a ReplacedBox, from attributes or defaults.
	Intrinsic    [2]float64
	HasIntrinsic bool
}

// IsBlockLevel checks if the box participates in block flow.
func (b *Box) IsBlockLevel() bool {
	switch b.Kind {
	case BlockBox, AnonymousBlockBox, ListItemBox, FlexContainer, GridContainer, TableBox, TableRow, TableCell:
		return true
	case ReplacedBox:
		return b.Style.Display.IsBlockLevel()
	}
	return false
}

// IsOutOfFlow reports absolutely and fixed positioned boxes.
func (b *Box) IsOutOfFlow() bool {
	return b.Style.Position == style.PositionAbsolute || b.Style.Position == style.PositionFixed
}

// Tree is the box arena. Boxes are allocated in pre-order, so a parent's ID is
// always lower than its children's.
type Tree struct {
	Boxes  []Box
	Root   BoxID
	byNode map[dom.NodeID]BoxID
}

// Len returns the number of boxes.
func (t *Tree) Len() int { return len(t.Boxes) }

// Box returns the box for id.
func (t *Tree) Box(id BoxID) *Box { return &t.Boxes[id] }

// ByNode returns the box generated by a DOM node.
func (t *Tree) ByNode(id dom.NodeID) (BoxID, bool) {
	b, ok := t.byNode[id]
	return b, ok
}

func (t *Tree) alloc(node dom.NodeID, kind BoxKind, cs *style.ComputedStyle, parent BoxID) BoxID {
	id := BoxID(len(t.Boxes))
	t.Boxes = append(t.Boxes, Box{ID: id, Node: node, Kind: kind, Parent: parent, Style: cs})
	if parent != NoBox {
		t.Boxes[parent].Children = append(t.Boxes[parent].Children, id)
	}
	if node != dom.NoNode {
		t.byNode[node] = id
	}
	return id
}

// replacedTags render external content and size from it.
var replacedTags = map[string]bool{"img": true, "video": true, "canvas": true, "svg": true, "iframe": true, "embed": true, "object": true}

// BuildTree builds the contracted box tree for doc. Display:none subtrees are
// omitted; inline runs mixed with blocks are wrapped in anonymous blocks.
func BuildTree(doc *dom.Document, styles style.Map) *Tree {
	t := &Tree{Root: NoBox, byNode: make(map[dom.NodeID]BoxID)}
	rootEl := doc.DocumentElement()
	if rootEl == dom.NoNode {
		return t
	}
	rootStyle := styles.Get(rootEl)
	if rootStyle.Display == style.DisplayNone {
		return t
	}
	t.Root = t.alloc(rootEl, BlockBox, rootStyle, NoBox)
	buildChildren(t, doc, styles, t.Root)
	return t
}

func boxKindFor(doc *dom.Document, id dom.NodeID, cs *style.ComputedStyle) BoxKind {
	if replacedTags[doc.TagName(id)] {
		return ReplacedBox
	}
	switch cs.Display {
	case style.DisplayBlock:
		return BlockBox
	case style.DisplayInlineBlock:
		return InlineBlockBox
	case style.DisplayListItem:
		return ListItemBox
	case style.DisplayFlex:
		return FlexContainer
	case style.DisplayGrid:
		return GridContainer
	case style.DisplayTable:
		return TableBox
	case style.DisplayTableRow:
		return TableRow
	case style.DisplayTableCell:
		return TableCell
	}
	if cs.Position == style.PositionAbsolute || cs.Position == style.PositionFixed {
		return BlockBox
	}
	return InlineBox
}

// pendingChild is a child box candidate before anonymous wrapping is decided.
type pendingChild struct {
	node  dom.NodeID
	kind  BoxKind
	style *style.ComputedStyle
	text  string
}

func (p pendingChild) blockLevel() bool {
	switch p.kind {
	case BlockBox, ListItemBox, FlexContainer, GridContainer, TableBox, TableRow, TableCell:
		return true
	case ReplacedBox:
		return p.style.Display.IsBlockLevel()
	}
	return false
}

func buildChildren(t *Tree, doc *dom.Document, styles style.Map, parent BoxID) {
	// Copy out of the arena; allocation below may move it.
	parentNode, parentKind, parentStyle := t.Boxes[parent].Node, t.Boxes[parent].Kind, t.Boxes[parent].Style
	var pending []pendingChild
	hasBlock := false
	for _, c := range doc.Children(parentNode) {
		n := doc.Node(c)
		cs := styles.Get(c)
		if cs.Display == style.DisplayNone {
			continue
		}
		switch n.Kind {
		case dom.ElementNode:
			p := pendingChild{node: c, kind: boxKindFor(doc, c, cs), style: cs}
			hasBlock = hasBlock || p.blockLevel()
			pending = append(pending, p)
		case dom.TextNode:
			text := collapseWhitespace(n.Data, cs.WhiteSpace)
			if text == "" {
				continue
			}
			pending = append(pending, pendingChild{node: c, kind: TextBox, style: cs, text: text})
		}
	}

	// Flex, grid and table containers blockify their children.
	switch parentKind {
	case FlexContainer, GridContainer, TableBox, TableRow:
		for _, p := range pending {
			if p.kind == TextBox && strings.TrimSpace(p.text) == "" {
				continue
			}
			addChild(t, doc, styles, parent, p)
		}
		return
	}

	if !hasBlock {
		for _, p := range pending {
			addChild(t, doc, styles, parent, p)
		}
		return
	}

	anon := NoBox
	for _, p := range pending {
		if p.blockLevel() {
			anon = NoBox
			addChild(t, doc, styles, parent, p)
			continue
		}
		if anon == NoBox {
			if p.kind == TextBox && strings.TrimSpace(p.text) == "" {
				continue
			}
			anon = t.alloc(dom.NoNode, AnonymousBlockBox, anonymousStyle(parentStyle), parent)
		}
		addChild(t, doc, styles, anon, p)
	}
}

func addChild(t *Tree, doc *dom.Document, styles style.Map, parent BoxID, p pendingChild) {
	id := t.alloc(p.node, p.kind, p.style, parent)
	if p.kind == TextBox {
		t.Boxes[id].Text = p.text
		return
	}
	if p.kind == ReplacedBox {
		b := &t.Boxes[id]
		w, okW := attrPixels(doc, p.node, "width")
		h, okH := attrPixels(doc, p.node, "height")
		switch tag := doc.TagName(p.node); {
		case okW && okH:
			b.Intrinsic, b.HasIntrinsic = [2]float64{w, h}, true
		case tag == "video" || tag == "canvas" || tag == "iframe":
			b.Intrinsic, b.HasIntrinsic = [2]float64{300, 150}, true
			if okW {
				b.Intrinsic[0] = w
			}
			if okH {
				b.Intrinsic[1] = h
			}
		}
		return
	}
	buildChildren(t, doc, styles, id)
}

// anonymousStyle carries the inherited properties of parent and nothing else.
func anonymousStyle(parent *style.ComputedStyle) *style.ComputedStyle {
	cs := *parent
	cs.Display = style.DisplayBlock
	cs.Position = style.PositionStatic
	cs.Margin, cs.Padding, cs.Border = Edges{}, Edges{}, Edges{}
	cs.Width, cs.Height = style.Auto, style.Auto
	cs.MinWidth, cs.MaxWidth, cs.MinHeight, cs.MaxHeight = style.Auto, style.Auto, style.Auto, style.Auto
	cs.BackgroundColor = style.Color{}
	cs.Properties = nil
	return &cs
}

// collapseWhitespace applies the white-space processing model.
func collapseWhitespace(s string, ws style.WhiteSpace) string {
	switch ws {
	case style.WhiteSpacePre, style.WhiteSpacePreWrap:
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\t' || r == '\r' || r == '\f' || (r == '\n' && ws != style.WhiteSpacePreLine)
		if isSpace {
			space = true
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteRune(r)
	}
	if space {
		sb.WriteByte(' ')
	}
	return sb.String()
}

// attrPixels reads a presentational width/height attribute.
func attrPixels(doc *dom.Document, id dom.NodeID, name string) (float64, bool) {
	v, ok := doc.Attr(id, name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "px"), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}
