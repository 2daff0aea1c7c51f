// internal/imaging/svg/svg.go
package svg

import (
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

var (
	ErrFormat    = errors.New("svg: malformed document")
	ErrPathToken = errors.New("svg: invalid path token")
	ErrTransform = errors.New("svg: invalid transform")
	ErrColor     = errors.New("svg: invalid color")
)

// Style is the resolved paint of an element. A zero-alpha color paints
// nothing.
type Style struct {
	Fill        color.NRGBA
	Stroke      color.NRGBA
	StrokeWidth float64
	Opacity     float64
}

func defaultStyle() Style {
	return Style{Fill: color.NRGBA{A: 0xFF}, StrokeWidth: 1, Opacity: 1}
}

// Base holds the attributes every element shares.
type Base struct {
	ID        string
	Transform Matrix
	Style     Style
}

// Element is one drawable SVG node.
type Element interface {
	Attrs() *Base
}

func (b *Base) Attrs() *Base { return b }

type Rect struct {
	Base
	X, Y, Width, Height float64
	RX, RY              float64
}

type Circle struct {
	Base
	CX, CY, R float64
}

type Ellipse struct {
	Base
	CX, CY, RX, RY float64
}

type Line struct {
	Base
	X1, Y1, X2, Y2 float64
}

type Polyline struct {
	Base
	Points []Point
}

type Polygon struct {
	Base
	Points []Point
}

type Path struct {
	Base
	Commands []PathCommand
}

type Text struct {
	Base
	X, Y     float64
	FontSize float64
	Content  string
}

type Group struct {
	Base
	Children []Element
}

// Image references an external raster; Render leaves its area untouched.
type Image struct {
	Base
	X, Y, Width, Height float64
	Href                string
}

// Use instantiates the element with the referenced id at (X, Y).
type Use struct {
	Base
	Href string
	X, Y float64
}

// Document is a parsed SVG tree.
type Document struct {
	Width, Height float64
	// ViewBox is min-x, min-y, width, height; all zero when absent.
	ViewBox  [4]float64
	Elements []Element
	ids      map[string]Element
}

// Lookup returns the element with the given id, including those under defs.
func (d *Document) Lookup(id string) Element {
	return d.ids[strings.TrimPrefix(id, "#")]
}

// Parse reads an SVG document into typed elements.
func Parse(data []byte) (*Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "svg" {
		return nil, fmt.Errorf("%w: root element is not svg", ErrFormat)
	}
	d := &Document{
		Width:  length(root, "width"),
		Height: length(root, "height"),
		ids:    map[string]Element{},
	}
	if vb := root.SelectAttrValue("viewBox", ""); vb != "" {
		pts, err := parsePoints(vb)
		if err != nil || len(pts) != 2 {
			return nil, fmt.Errorf("%w: viewBox %q", ErrFormat, vb)
		}
		d.ViewBox = [4]float64{pts[0].X, pts[0].Y, pts[1].X, pts[1].Y}
		if d.Width == 0 {
			d.Width = pts[1].X
		}
		if d.Height == 0 {
			d.Height = pts[1].Y
		}
	}
	style, err := parseStyle(root, defaultStyle())
	if err != nil {
		return nil, err
	}
	if d.Elements, err = d.children(root, style); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) children(parent *etree.Element, inherited Style) ([]Element, error) {
	var out []Element
	for _, child := range parent.ChildElements() {
		if child.Tag == "defs" {
			if _, err := d.children(child, inherited); err != nil {
				return nil, err
			}
			continue
		}
		el, err := d.element(child, inherited)
		if err != nil {
			return nil, err
		}
		if el != nil {
			out = append(out, el)
		}
	}
	return out, nil
}

func (d *Document) element(e *etree.Element, inherited Style) (Element, error) {
	style, err := parseStyle(e, inherited)
	if err != nil {
		return nil, err
	}
	base := Base{ID: e.SelectAttrValue("id", ""), Transform: Identity, Style: style}
	if t := e.SelectAttrValue("transform", ""); t != "" {
		if base.Transform, err = ParseTransform(t); err != nil {
			return nil, err
		}
	}
	num := func(name string) float64 { return length(e, name) }

	var el Element
	switch e.Tag {
	case "g", "svg":
		g := &Group{Base: base}
		if g.Children, err = d.children(e, style); err != nil {
			return nil, err
		}
		el = g
	case "rect":
		r := &Rect{Base: base, X: num("x"), Y: num("y"), Width: num("width"), Height: num("height"), RX: num("rx"), RY: num("ry")}
		if r.RY == 0 {
			r.RY = r.RX
		} else if r.RX == 0 {
			r.RX = r.RY
		}
		el = r
	case "circle":
		el = &Circle{Base: base, CX: num("cx"), CY: num("cy"), R: num("r")}
	case "ellipse":
		el = &Ellipse{Base: base, CX: num("cx"), CY: num("cy"), RX: num("rx"), RY: num("ry")}
	case "line":
		el = &Line{Base: base, X1: num("x1"), Y1: num("y1"), X2: num("x2"), Y2: num("y2")}
	case "polyline", "polygon":
		pts, err := parsePoints(e.SelectAttrValue("points", ""))
		if err != nil {
			return nil, err
		}
		if e.Tag == "polyline" {
			el = &Polyline{Base: base, Points: pts}
		} else {
			el = &Polygon{Base: base, Points: pts}
		}
	case "path":
		cmds, err := ParsePath(e.SelectAttrValue("d", ""))
		if err != nil {
			return nil, err
		}
		el = &Path{Base: base, Commands: cmds}
	case "text":
		t := &Text{Base: base, X: num("x"), Y: num("y"), FontSize: num("font-size"), Content: textContent(e)}
		if t.FontSize == 0 {
			t.FontSize = 16
		}
		el = t
	case "image":
		el = &Image{Base: base, X: num("x"), Y: num("y"), Width: num("width"), Height: num("height"), Href: e.SelectAttrValue("href", "")}
	case "use":
		el = &Use{Base: base, Href: e.SelectAttrValue("href", ""), X: num("x"), Y: num("y")}
	default:
		return nil, nil
	}
	if base.ID != "" {
		d.ids[base.ID] = el
	}
	return el, nil
}

func textContent(e *etree.Element) string {
	var b strings.Builder
	b.WriteString(e.Text())
	for _, c := range e.ChildElements() {
		b.WriteString(textContent(c))
		b.WriteString(c.Tail())
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// length reads a numeric attribute, ignoring px units. Other units and
// percentages read as zero.
func length(e *etree.Element, name string) float64 {
	s := strings.TrimSuffix(strings.TrimSpace(e.SelectAttrValue(name, "")), "px")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseStyle applies presentation attributes and then the style attribute
// over the inherited paint.
func parseStyle(e *etree.Element, inherited Style) (Style, error) {
	s := inherited
	// Opacity does not inherit; it composes at render time.
	s.Opacity = 1
	props := map[string]string{}
	for _, name := range []string{"fill", "stroke", "stroke-width", "opacity"} {
		if v := e.SelectAttrValue(name, ""); v != "" {
			props[name] = v
		}
	}
	for _, decl := range strings.Split(e.SelectAttrValue("style", ""), ";") {
		k, v, ok := strings.Cut(decl, ":")
		if ok {
			props[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	for k, v := range props {
		var err error
		switch k {
		case "fill":
			s.Fill, err = ParseColor(v)
		case "stroke":
			s.Stroke, err = ParseColor(v)
		case "stroke-width":
			s.StrokeWidth, err = strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
		case "opacity":
			s.Opacity, err = strconv.ParseFloat(v, 64)
		}
		if err != nil {
			return s, fmt.Errorf("%s on <%s>: %w", k, e.Tag, err)
		}
	}
	return s, nil
}
