package svg

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Test Helpers --

func kinds(cmds []PathCommand) []CommandKind {
	out := make([]CommandKind, len(cmds))
	for i, c := range cmds {
		out[i] = c.Kind
	}
	return out
}

func canvas(w, h int) (*Rasterizer, *image.RGBA) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	return NewRasterizer(img), img
}

var (
	red  = color.NRGBA{R: 0xFF, A: 0xFF}
	blue = color.NRGBA{B: 0xFF, A: 0xFF}
)

// -- Tests --

func TestParsePath(t *testing.T) {
	t.Run("absolute", func(t *testing.T) {
		cmds, err := ParsePath("M 10 10 L 20 20 Z")
		require.NoError(t, err)
		assert.Equal(t, []CommandKind{MoveTo, LineTo, Close}, kinds(cmds))
		assert.Equal(t, Point{10, 10}, cmds[2].To)
	})

	t.Run("relative with implicit lineto", func(t *testing.T) {
		cmds, err := ParsePath("m10 10 20 0 v5 h-5z")
		require.NoError(t, err)
		assert.Equal(t, []CommandKind{MoveTo, LineTo, VerticalLineTo, HorizontalLineTo, Close}, kinds(cmds))
		assert.Equal(t, Point{30, 10}, cmds[1].To)
		assert.Equal(t, Point{30, 15}, cmds[2].To)
		assert.Equal(t, Point{25, 15}, cmds[3].To)
		assert.Equal(t, Point{10, 10}, cmds[4].To)
	})

	t.Run("smooth cubic reflects control point", func(t *testing.T) {
		cmds, err := ParsePath("M0 0 C 10 0 20 10 20 20 S 30 40 40 40")
		require.NoError(t, err)
		require.Len(t, cmds, 3)
		assert.Equal(t, CubicBezier, cmds[2].Kind)
		assert.Equal(t, Point{20, 30}, cmds[2].C1)
		assert.Equal(t, Point{40, 40}, cmds[2].To)
	})

	t.Run("smooth quadratic without predecessor", func(t *testing.T) {
		cmds, err := ParsePath("M5 5 T 10 10")
		require.NoError(t, err)
		assert.Equal(t, QuadraticBezier, cmds[1].Kind)
		assert.Equal(t, Point{5, 5}, cmds[1].C1)
	})

	t.Run("compact arc flags", func(t *testing.T) {
		cmds, err := ParsePath("M0 0a10 10 0 0120 0")
		require.NoError(t, err)
		require.Len(t, cmds, 2)
		arc := cmds[1]
		assert.Equal(t, Arc, arc.Kind)
		assert.False(t, arc.LargeArc)
		assert.True(t, arc.Sweep)
		assert.Equal(t, Point{20, 0}, arc.To)
	})

	t.Run("exponent numbers", func(t *testing.T) {
		cmds, err := ParsePath("M1e1,2E-1L-.5.5")
		require.NoError(t, err)
		assert.Equal(t, Point{10, 0.2}, cmds[0].To)
		assert.Equal(t, Point{-0.5, 0.5}, cmds[1].To)
	})

	for _, d := range []string{"L 10 10", "M 10 x", "M 1", "M 0 0 A 1 1 0 2 0 5 5", "M 0 0 K 1"} {
		_, err := ParsePath(d)
		assert.ErrorIs(t, err, ErrPathToken, d)
	}
}

func TestFlatten(t *testing.T) {
	cmds, err := ParsePath("M0 0 C 0 10 10 10 10 0 M 0 0 A 10 10 0 0 1 20 0 Z")
	require.NoError(t, err)
	polys := Flatten(cmds)
	require.Len(t, polys, 2)

	assert.Len(t, polys[0], curveSegments+1)
	assert.Equal(t, Point{10, 0}, polys[0][curveSegments])

	arc := polys[1]
	require.Len(t, arc, curveSegments+2)
	mid := arc[curveSegments/2]
	assert.InDelta(t, 10, mid.X, 1e-9)
	assert.InDelta(t, -10, mid.Y, 1e-9)
	assert.Equal(t, Point{20, 0}, arc[curveSegments])
	assert.Equal(t, Point{0, 0}, arc[len(arc)-1], "closed subpath repeats its start")
}

func TestParseTransform(t *testing.T) {
	tests := []struct {
		in   string
		p    Point
		want Point
	}{
		{"translate(10,20) scale(2)", Point{1, 1}, Point{12, 22}},
		{"rotate(90)", Point{1, 0}, Point{0, 1}},
		{"rotate(90, 10, 10)", Point{20, 10}, Point{10, 20}},
		{"matrix(1 0 0 1 5 6)", Point{0, 0}, Point{5, 6}},
		{"scale(2 3)", Point{1, 1}, Point{2, 3}},
		{"skewX(45)", Point{0, 1}, Point{1, 1}},
	}
	for _, tt := range tests {
		m, err := ParseTransform(tt.in)
		require.NoError(t, err, tt.in)
		got := m.Apply(tt.p)
		assert.InDelta(t, tt.want.X, got.X, 1e-9, tt.in)
		assert.InDelta(t, tt.want.Y, got.Y, 1e-9, tt.in)
	}

	for _, bad := range []string{"translate(1,2,3)", "spin(4)", "translate(1", "rotate(1 2)"} {
		_, err := ParseTransform(bad)
		assert.ErrorIs(t, err, ErrTransform, bad)
	}
}

func TestMatrix(t *testing.T) {
	assert.True(t, Rotate(30).Mul(Scale(2, 2)).Uniform())
	assert.False(t, Scale(1, 2).Uniform())
	assert.InDelta(t, 3, Scale(3, 3).ScaleFactor(), 1e-12)
	assert.Equal(t, Point{7, 2}, Translate(5, 0).Mul(Scale(2, 2)).Apply(Point{1, 1}))
}

func TestParseColor(t *testing.T) {
	tests := map[string]color.NRGBA{
		"#f00":              red,
		"#00ff0080":         {G: 0xFF, A: 0x80},
		"rgb(255, 0, 0)":    red,
		"rgba(0,0,255,0.5)": {B: 0xFF, A: 0x80},
		"rgb(100%,0%,0%)":   red,
		"CornflowerBlue":    {R: 100, G: 149, B: 237, A: 0xFF},
		"none":              {},
		"currentColor":      {A: 0xFF},
	}
	for in, want := range tests {
		got, err := ParseColor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"#ggg", "#12345", "rgb(1,2)", "rgba(1,2,3,x)", "notacolor"} {
		_, err := ParseColor(bad)
		assert.ErrorIs(t, err, ErrColor, bad)
	}
}

func TestParse_Document(t *testing.T) {
	src := `<?xml version="1.0"?>
<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink"
     width="100px" height="50" viewBox="0 0 200 100" fill="red">
  <defs><rect id="box" width="10" height="10" rx="2" fill="blue"/></defs>
  <g transform="translate(5,5)" style="stroke: #00ff00; stroke-width: 2">
    <circle cx="10" cy="10" r="5"/>
    <text x="1" y="2">Hello <tspan>world</tspan></text>
    <polygon points="0,0 10,0 10,10"/>
  </g>
  <use xlink:href="#box" x="50" y="50"/>
  <unknown/>
</svg>`
	doc, err := Parse([]byte(src))
	require.NoError(t, err)

	assert.Equal(t, 100.0, doc.Width)
	assert.Equal(t, 50.0, doc.Height)
	assert.Equal(t, [4]float64{0, 0, 200, 100}, doc.ViewBox)
	require.Len(t, doc.Elements, 2)

	g, ok := doc.Elements[0].(*Group)
	require.True(t, ok)
	assert.Equal(t, Point{5, 5}, g.Transform.Apply(Point{}))
	require.Len(t, g.Children, 3)

	c, ok := g.Children[0].(*Circle)
	require.True(t, ok)
	assert.Equal(t, red, c.Style.Fill, "fill inherits from the root")
	assert.Equal(t, color.NRGBA{G: 0xFF, A: 0xFF}, c.Style.Stroke)
	assert.Equal(t, 2.0, c.Style.StrokeWidth)
	assert.Equal(t, 5.0, c.R)

	txt, ok := g.Children[1].(*Text)
	require.True(t, ok)
	assert.Equal(t, "Hello world", txt.Content)
	assert.Equal(t, 16.0, txt.FontSize)

	poly, ok := g.Children[2].(*Polygon)
	require.True(t, ok)
	assert.Equal(t, []Point{{0, 0}, {10, 0}, {10, 10}}, poly.Points)

	use, ok := doc.Elements[1].(*Use)
	require.True(t, ok)
	assert.Equal(t, "#box", use.Href)

	box, ok := doc.Lookup(use.Href).(*Rect)
	require.True(t, ok, "defs children are addressable by id")
	assert.Equal(t, blue, box.Style.Fill)
	assert.Equal(t, 2.0, box.RY, "ry defaults to rx")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"", ErrFormat},
		{"<html></html>", ErrFormat},
		{`<svg viewBox="0 0 1"></svg>`, ErrFormat},
		{`<svg><rect fill="#zz"/></svg>`, ErrColor},
		{`<svg><g transform="spin(1)"/></svg>`, ErrTransform},
		{`<svg><path d="Q 1 2"/></svg>`, ErrPathToken},
		{`<svg><polyline points="1 2 3"/></svg>`, ErrPathToken},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.in))
		assert.ErrorIs(t, err, tt.want, tt.in)
	}
}

func TestRasterizer_FillRect(t *testing.T) {
	r, img := canvas(20, 20)
	r.FillRect(5, 5, 10, 10, red)

	assert.Equal(t, color.RGBA{R: 0xFF, A: 0xFF}, img.RGBAAt(5, 5))
	assert.Equal(t, color.RGBA{R: 0xFF, A: 0xFF}, img.RGBAAt(14, 14))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(15, 15))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(4, 10))
}

func TestRasterizer_TransformStack(t *testing.T) {
	r, img := canvas(20, 20)
	r.Push(Translate(10, 0))
	r.FillRect(0, 0, 2, 2, red)
	r.Pop()
	r.FillRect(0, 0, 1, 1, blue)
	r.Pop()

	assert.Equal(t, uint8(0xFF), img.RGBAAt(10, 0).R)
	assert.Equal(t, uint8(0xFF), img.RGBAAt(0, 0).B)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(5, 0))
}

func TestRasterizer_BlendsSourceOver(t *testing.T) {
	r, img := canvas(4, 4)
	r.FillRect(0, 0, 4, 4, color.NRGBA{B: 0xFF, A: 0x80})
	assert.Equal(t, color.RGBA{B: 0x80, A: 0x80}, img.RGBAAt(1, 1))

	r.FillRect(0, 0, 4, 4, red)
	assert.Equal(t, color.RGBA{R: 0xFF, A: 0xFF}, img.RGBAAt(1, 1))
}

func TestRasterizer_EvenOdd(t *testing.T) {
	r, img := canvas(10, 10)
	outer := []Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	inner := []Point{{3, 3}, {7, 3}, {7, 7}, {3, 7}}
	r.FillPolygons([][]Point{outer, inner}, red)

	assert.Equal(t, uint8(0xFF), img.RGBAAt(1, 1).A)
	assert.Equal(t, uint8(0), img.RGBAAt(5, 5).A)
}

func TestRasterizer_FillCircle(t *testing.T) {
	r, img := canvas(21, 21)
	r.FillCircle(10.5, 10.5, 5, red)

	assert.Equal(t, uint8(0xFF), img.RGBAAt(10, 10).A)
	assert.Equal(t, uint8(0), img.RGBAAt(0, 0).A)
	edge := img.RGBAAt(10, 15).A
	assert.Equal(t, uint8(0x80), edge, "edge pixel is half covered")

	r.Push(Scale(1, 2))
	r.FillCircle(3, 3, 2, blue)
	r.Pop()
	assert.Equal(t, uint8(0xFF), img.RGBAAt(3, 6).B, "non-uniform transform falls back to polygon")
}

func TestRasterizer_Strokes(t *testing.T) {
	r, img := canvas(20, 20)
	r.DrawLine(Point{0, 5}, Point{20, 5}, 2, red)
	assert.Equal(t, uint8(0xFF), img.RGBAAt(3, 4).A)
	assert.Equal(t, uint8(0xFF), img.RGBAAt(3, 5).A)
	assert.Equal(t, uint8(0), img.RGBAAt(3, 7).A)

	r.StrokeRect(10, 10, 8, 8, 1, blue)
	assert.Equal(t, uint8(0xFF), img.RGBAAt(14, 9).B, "stroke straddles the edge")
	assert.Equal(t, uint8(0), img.RGBAAt(14, 14).B, "stroke leaves interior empty")
}

func TestRasterizer_DrawPath(t *testing.T) {
	r, img := canvas(12, 12)
	cmds, err := ParsePath("M1 1 H11 V11 H1 Z")
	require.NoError(t, err)
	r.DrawPath(cmds, red, color.NRGBA{}, 1)

	assert.Equal(t, uint8(0xFF), img.RGBAAt(6, 6).R)
	assert.Equal(t, uint8(0), img.RGBAAt(0, 0).A)
}

func TestRender(t *testing.T) {
	t.Run("viewBox scales to canvas", func(t *testing.T) {
		doc, err := Parse([]byte(`<svg viewBox="0 0 10 10"><circle cx="5" cy="5" r="2"/></svg>`))
		require.NoError(t, err)
		img := Render(doc, 100, 100)
		assert.Equal(t, color.RGBA{A: 0xFF}, img.RGBAAt(50, 50))
		assert.Equal(t, color.RGBA{}, img.RGBAAt(10, 10))
	})

	t.Run("use resolves defs", func(t *testing.T) {
		doc, err := Parse([]byte(`<svg width="10" height="10">
			<defs><rect id="r" width="2" height="2" fill="lime"/></defs>
			<use href="#r" x="4" y="4"/></svg>`))
		require.NoError(t, err)
		img := Render(doc, 10, 10)
		assert.Equal(t, uint8(0xFF), img.RGBAAt(4, 4).G)
		assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))
	})

	t.Run("group opacity", func(t *testing.T) {
		doc, err := Parse([]byte(`<svg width="4" height="4"><g opacity="0.5"><rect width="4" height="4" fill="red"/></g></svg>`))
		require.NoError(t, err)
		img := Render(doc, 4, 4)
		assert.Equal(t, uint8(0x80), img.RGBAAt(1, 1).A)
	})

	t.Run("use cycle terminates", func(t *testing.T) {
		doc, err := Parse([]byte(`<svg width="4" height="4"><g id="a"><use href="#a"/></g></svg>`))
		require.NoError(t, err)
		assert.NotPanics(t, func() { Render(doc, 4, 4) })
	})

	t.Run("text draws glyphs", func(t *testing.T) {
		doc, err := Parse([]byte(`<svg width="40" height="20"><text x="2" y="14">Hi</text></svg>`))
		require.NoError(t, err)
		img := Render(doc, 40, 20)
		painted := 0
		for i := 3; i < len(img.Pix); i += 4 {
			if img.Pix[i] > 0 {
				painted++
			}
		}
		assert.Positive(t, painted)
	})
}
