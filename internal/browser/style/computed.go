// internal/browser/style/computed.go
package style

import (
	"fmt"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/browser/parser"
)

// Map holds one computed style per DOM node.
type Map map[dom.NodeID]*ComputedStyle

// Get returns the style for id, or the initial style when absent.
func (m Map) Get(id dom.NodeID) *ComputedStyle {
	if cs, ok := m[id]; ok {
		return cs
	}
	return Initial()
}

// Color represents an RGBA color.
type Color struct {
	R, G, B, A uint8
}

// IsTransparent reports a fully transparent color.
func (c Color) IsTransparent() bool { return c.A == 0 }

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	a = uint32(c.A) * 0x101
	r = uint32(c.R) * 0x101 * a / 0xffff
	g = uint32(c.G) * 0x101 * a / 0xffff
	b = uint32(c.B) * 0x101 * a / 0xffff
	return
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// Edges holds pixel sizes for the four sides of a box.
type Edges struct {
	Top, Right, Bottom, Left float64
}

// Horizontal returns Left + Right.
func (e Edges) Horizontal() float64 { return e.Left + e.Right }

// Vertical returns Top + Bottom.
func (e Edges) Vertical() float64 { return e.Top + e.Bottom }

// SizeKind tells how a Size should be resolved.
type SizeKind uint8

const (
	SizeAuto SizeKind = iota
	SizeLength
	SizePercent
	SizeMinContent
	SizeMaxContent
	SizeFitContent
)

// Size is a width or height value. Value is pixels for SizeLength and
// a percentage (0-100) for SizePercent.
type Size struct {
	Kind  SizeKind
	Value float64
}

// Px is a shorthand for a pixel size.
func Px(v float64) Size { return Size{Kind: SizeLength, Value: v} }

// Percent is a shorthand for a percentage size.
func Percent(v float64) Size { return Size{Kind: SizePercent, Value: v} }

// Auto is the automatic size.
var Auto = Size{Kind: SizeAuto}

// IsAuto reports SizeAuto.
func (s Size) IsAuto() bool { return s.Kind == SizeAuto }

// Resolve maps the size to pixels against a reference dimension. ok is false for
// keyword sizes that need intrinsic information.
func (s Size) Resolve(reference float64) (float64, bool) {
	switch s.Kind {
	case SizeLength:
		return s.Value, true
	case SizePercent:
		return reference * s.Value / 100, true
	}
	return 0, false
}

type DisplayType int

const (
	DisplayInline DisplayType = iota
	DisplayBlock
	DisplayInlineBlock
	DisplayListItem
	DisplayFlex
	DisplayGrid
	DisplayTable
	DisplayTableRow
	DisplayTableCell
	DisplayNone
)

// IsBlockLevel reports display types that start a new block formatting line.
func (d DisplayType) IsBlockLevel() bool {
	switch d {
	case DisplayBlock, DisplayListItem, DisplayFlex, DisplayGrid, DisplayTable, DisplayTableRow, DisplayTableCell:
		return true
	}
	return false
}

type PositionType int

const (
	PositionStatic PositionType = iota
	PositionRelative
	PositionAbsolute
	PositionFixed
)

type BoxSizingType int

const (
	ContentBox BoxSizingType = iota
	BorderBox
)

type FlexDirection int

const (
	FlexDirectionRow FlexDirection = iota
	FlexDirectionRowReverse
	FlexDirectionColumn
	FlexDirectionColumnReverse
)

// IsColumn reports a vertical main axis.
func (f FlexDirection) IsColumn() bool {
	return f == FlexDirectionColumn || f == FlexDirectionColumnReverse
}

type JustifyContent int

const (
	JustifyFlexStart JustifyContent = iota
	JustifyFlexEnd
	JustifyCenter
	JustifySpaceBetween
	JustifySpaceAround
	JustifySpaceEvenly
)

type TextAlign int

const (
	TextAlignLeft TextAlign = iota
	TextAlignRight
	TextAlignCenter
	TextAlignJustify
)

type WhiteSpace int

const (
	WhiteSpaceNormal WhiteSpace = iota
	WhiteSpacePre
	WhiteSpaceNoWrap
	WhiteSpacePreWrap
	WhiteSpacePreLine
)

// PreservesNewlines reports modes where '\n' forces a break.
func (w WhiteSpace) PreservesNewlines() bool {
	return w == WhiteSpacePre || w == WhiteSpacePreWrap || w == WhiteSpacePreLine
}

type Visibility int

const (
	VisibilityVisible Visibility = iota
	VisibilityHidden
	VisibilityCollapse
)

// ComputedStyle is the dense per-node style record.
type ComputedStyle struct {
	Display   DisplayType
	BoxSizing BoxSizingType
	Position  PositionType

	Margin  Edges
	Padding Edges
	Border  Edges

	Width, Height        Size
	MinWidth, MaxWidth   Size
	MinHeight, MaxHeight Size

	FontSize   float64
	FontWeight int
	Italic     bool
	FontFamily string
	LineHeight float64
	Underline  bool

	Color           Color
	BackgroundColor Color
	BorderColor     Color

	TextAlign     TextAlign
	WhiteSpace    WhiteSpace
	Visibility    Visibility
	Opacity       float64
	ListStyleType string

	FlexDirection  FlexDirection
	JustifyContent JustifyContent
	FlexGrow       float64
	FlexShrink     float64

	// Properties keeps the cascaded declared values after shorthand expansion.
	Properties map[parser.Property]parser.Value
}

// Initial returns the CSS initial values.
func Initial() *ComputedStyle {
	return &ComputedStyle{
		Display:       DisplayInline,
		FontSize:      BaseFontSize,
		FontWeight:    400,
		FontFamily:    "sans-serif",
		LineHeight:    BaseFontSize * DefaultLineHeight,
		Color:         Color{0, 0, 0, 255},
		Opacity:       1,
		FlexShrink:    1,
		ListStyleType: "disc",
		Properties:    map[parser.Property]parser.Value{},
	}
}

// inheritFrom returns a fresh style carrying the inherited properties of parent
// and initial values for everything else.
func inheritFrom(parent *ComputedStyle) *ComputedStyle {
	cs := Initial()
	if parent == nil {
		return cs
	}
	cs.FontSize = parent.FontSize
	cs.FontWeight = parent.FontWeight
	cs.Italic = parent.Italic
	cs.FontFamily = parent.FontFamily
	cs.LineHeight = parent.LineHeight
	cs.Color = parent.Color
	cs.TextAlign = parent.TextAlign
	cs.WhiteSpace = parent.WhiteSpace
	cs.Visibility = parent.Visibility
	cs.ListStyleType = parent.ListStyleType
	return cs
}

// IsVisible reports whether the node paints at all.
func (cs *ComputedStyle) IsVisible() bool {
	return cs.Display != DisplayNone && cs.Visibility == VisibilityVisible && cs.Opacity > 0
}

// Lookup returns a cascaded raw value or fallback.
func (cs *ComputedStyle) Lookup(property, fallback string) string {
	if val, ok := cs.Properties[parser.Property(property)]; ok {
		return string(val)
	}
	return fallback
}

// IsBold reports font-weight >= 600.
func (cs *ComputedStyle) IsBold() bool { return cs.FontWeight >= 600 }
