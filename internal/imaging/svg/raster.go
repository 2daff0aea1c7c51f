// internal/imaging/svg/raster.go
package svg

import (
	"image"
	"image/color"
	"math"
	"slices"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// maxUseDepth bounds <use> indirection so reference cycles terminate.
const maxUseDepth = 16

// Rasterizer paints shapes onto an RGBA canvas under a current transform.
// Fills use the even-odd rule and blend source-over.
type Rasterizer struct {
	img   *image.RGBA
	ctm   Matrix
	stack []Matrix
}

func NewRasterizer(img *image.RGBA) *Rasterizer {
	return &Rasterizer{img: img, ctm: Identity}
}

func (r *Rasterizer) Image() *image.RGBA { return r.img }

// Push concatenates m onto the current transform.
func (r *Rasterizer) Push(m Matrix) {
	r.stack = append(r.stack, r.ctm)
	r.ctm = r.ctm.Mul(m)
}

func (r *Rasterizer) Pop() {
	if n := len(r.stack); n > 0 {
		r.ctm = r.stack[n-1]
		r.stack = r.stack[:n-1]
	}
}

// mask accumulates per-pixel coverage so overlapping pieces of one shape
// composite once.
type mask struct {
	rect image.Rectangle
	cov  []float64
}

func (r *Rasterizer) newMask(pts []Point, pad float64) *mask {
	if len(pts) == 0 {
		return &mask{}
	}
	x0, y0, x1, y1 := pts[0].X, pts[0].Y, pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		x0, y0 = min(x0, p.X), min(y0, p.Y)
		x1, y1 = max(x1, p.X), max(y1, p.Y)
	}
	rect := image.Rect(
		int(math.Floor(x0-pad)), int(math.Floor(y0-pad)),
		int(math.Ceil(x1+pad))+1, int(math.Ceil(y1+pad))+1,
	).Intersect(r.img.Bounds())
	return &mask{rect: rect, cov: make([]float64, rect.Dx()*rect.Dy())}
}

func (m *mask) set(x, y int, c float64) {
	if !(image.Point{x, y}).In(m.rect) {
		return
	}
	i := (y-m.rect.Min.Y)*m.rect.Dx() + x - m.rect.Min.X
	m.cov[i] = max(m.cov[i], min(c, 1))
}

// scan marks pixels whose centers fall inside the device-space polygons
// under the even-odd rule.
func (m *mask) scan(polys [][]Point) {
	var xs []float64
	for y := m.rect.Min.Y; y < m.rect.Max.Y; y++ {
		yc := float64(y) + 0.5
		xs = xs[:0]
		for _, poly := range polys {
			for i := range poly {
				a, b := poly[i], poly[(i+1)%len(poly)]
				if (a.Y <= yc) == (b.Y <= yc) {
					continue
				}
				xs = append(xs, a.X+(yc-a.Y)*(b.X-a.X)/(b.Y-a.Y))
			}
		}
		slices.Sort(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			start := max(int(math.Ceil(xs[i]-0.5)), m.rect.Min.X)
			end := min(int(math.Ceil(xs[i+1]-0.5)), m.rect.Max.X)
			for x := start; x < end; x++ {
				m.set(x, y, 1)
			}
		}
	}
}

func (r *Rasterizer) composite(m *mask, c color.NRGBA) {
	if c.A == 0 {
		return
	}
	for y := m.rect.Min.Y; y < m.rect.Max.Y; y++ {
		for x := m.rect.Min.X; x < m.rect.Max.X; x++ {
			cov := m.cov[(y-m.rect.Min.Y)*m.rect.Dx()+x-m.rect.Min.X]
			if cov > 0 {
				r.blend(x, y, c, cov)
			}
		}
	}
}

func (r *Rasterizer) blend(x, y int, c color.NRGBA, coverage float64) {
	a := float64(c.A) / 255 * coverage
	i := r.img.PixOffset(x, y)
	p := r.img.Pix[i : i+4 : i+4]
	mix := func(src uint8, dst uint8) uint8 {
		return uint8(float64(src)*a + float64(dst)*(1-a) + 0.5)
	}
	p[0] = mix(c.R, p[0])
	p[1] = mix(c.G, p[1])
	p[2] = mix(c.B, p[2])
	p[3] = mix(0xFF, p[3])
}

func (r *Rasterizer) device(pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = r.ctm.Apply(p)
	}
	return out
}

// FillPolygons fills user-space polygons as one even-odd shape.
func (r *Rasterizer) FillPolygons(polys [][]Point, c color.NRGBA) {
	var all []Point
	dev := make([][]Point, 0, len(polys))
	for _, p := range polys {
		d := r.device(p)
		dev = append(dev, d)
		all = append(all, d...)
	}
	m := r.newMask(all, 0)
	m.scan(dev)
	r.composite(m, c)
}

func (r *Rasterizer) FillPolygon(pts []Point, c color.NRGBA) {
	r.FillPolygons([][]Point{pts}, c)
}

// StrokePolyline draws each segment as a quad of the given user-space width.
func (r *Rasterizer) StrokePolyline(pts []Point, width float64, c color.NRGBA) {
	if len(pts) < 2 || width <= 0 {
		return
	}
	dev := r.device(pts)
	half := width * r.ctm.ScaleFactor() / 2
	var quads [][]Point
	for i := 0; i+1 < len(dev); i++ {
		a, b := dev[i], dev[i+1]
		dx, dy := b.X-a.X, b.Y-a.Y
		l := math.Hypot(dx, dy)
		if l == 0 {
			continue
		}
		nx, ny := -dy/l*half, dx/l*half
		quads = append(quads, []Point{
			{a.X + nx, a.Y + ny}, {b.X + nx, b.Y + ny},
			{b.X - nx, b.Y - ny}, {a.X - nx, a.Y - ny},
		})
	}
	m := r.newMask(dev, half)
	for _, q := range quads {
		m.scan([][]Point{q})
	}
	r.composite(m, c)
}

func (r *Rasterizer) DrawLine(a, b Point, width float64, c color.NRGBA) {
	r.StrokePolyline([]Point{a, b}, width, c)
}

func rectPoints(x, y, w, h, rx, ry float64) []Point {
	if rx <= 0 || ry <= 0 {
		return []Point{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}}
	}
	rx, ry = min(rx, w/2), min(ry, h/2)
	const steps = 6
	var pts []Point
	corner := func(cx, cy, from float64) {
		for i := range steps + 1 {
			a := (from + 90*float64(i)/steps) * math.Pi / 180
			pts = append(pts, Point{cx + rx*math.Cos(a), cy + ry*math.Sin(a)})
		}
	}
	corner(x+w-rx, y+ry, 270)
	corner(x+w-rx, y+h-ry, 0)
	corner(x+rx, y+h-ry, 90)
	corner(x+rx, y+ry, 180)
	return pts
}

func ellipsePoints(cx, cy, rx, ry float64) []Point {
	const n = 4 * curveSegments
	pts := make([]Point, n)
	for i := range pts {
		s, c := math.Sincos(2 * math.Pi * float64(i) / n)
		pts[i] = Point{cx + rx*c, cy + ry*s}
	}
	return pts
}

func closed(pts []Point) []Point {
	if len(pts) == 0 {
		return pts
	}
	return append(slices.Clone(pts), pts[0])
}

func (r *Rasterizer) FillRect(x, y, w, h float64, c color.NRGBA) {
	r.FillPolygon(rectPoints(x, y, w, h, 0, 0), c)
}

func (r *Rasterizer) StrokeRect(x, y, w, h, width float64, c color.NRGBA) {
	r.StrokePolyline(closed(rectPoints(x, y, w, h, 0, 0)), width, c)
}

// FillCircle antialiases the edge when the transform keeps circles round,
// and falls back to a polygon otherwise.
func (r *Rasterizer) FillCircle(cx, cy, radius float64, c color.NRGBA) {
	if radius <= 0 {
		return
	}
	if !r.ctm.Uniform() {
		r.FillPolygon(ellipsePoints(cx, cy, radius, radius), c)
		return
	}
	ctr := r.ctm.Apply(Point{cx, cy})
	rad := radius * r.ctm.ScaleFactor()
	m := r.newMask([]Point{ctr}, rad+1)
	for y := m.rect.Min.Y; y < m.rect.Max.Y; y++ {
		for x := m.rect.Min.X; x < m.rect.Max.X; x++ {
			d := math.Hypot(float64(x)+0.5-ctr.X, float64(y)+0.5-ctr.Y)
			if cov := rad + 0.5 - d; cov > 0 {
				m.set(x, y, cov)
			}
		}
	}
	r.composite(m, c)
}

func (r *Rasterizer) StrokeCircle(cx, cy, radius, width float64, c color.NRGBA) {
	r.StrokePolyline(closed(ellipsePoints(cx, cy, radius, radius)), width, c)
}

// DrawPath flattens cmds and fills then strokes them. A zero-alpha color
// skips that pass.
func (r *Rasterizer) DrawPath(cmds []PathCommand, fill, stroke color.NRGBA, width float64) {
	polys := Flatten(cmds)
	if fill.A > 0 {
		r.FillPolygons(polys, fill)
	}
	if stroke.A > 0 {
		for _, p := range polys {
			r.StrokePolyline(p, width, stroke)
		}
	}
}

// DrawText draws s with a fixed bitmap face at the transformed baseline
// origin. Glyphs are not scaled.
func (r *Rasterizer) DrawText(x, y float64, s string, c color.NRGBA) {
	if c.A == 0 || s == "" {
		return
	}
	p := r.ctm.Apply(Point{x, y})
	d := font.Drawer{
		Dst:  r.img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(math.Round(p.X)), int(math.Round(p.Y))),
	}
	d.DrawString(s)
}

// Render rasterizes doc into a w×h canvas, mapping the viewBox (or the
// intrinsic size) onto it.
func Render(doc *Document, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	r := NewRasterizer(img)
	vb := doc.ViewBox
	switch {
	case vb[2] > 0 && vb[3] > 0:
		r.Push(Scale(float64(w)/vb[2], float64(h)/vb[3]).Mul(Translate(-vb[0], -vb[1])))
	case doc.Width > 0 && doc.Height > 0:
		r.Push(Scale(float64(w)/doc.Width, float64(h)/doc.Height))
	}
	for _, el := range doc.Elements {
		r.draw(doc, el, 1, 0)
	}
	return img
}

func withOpacity(c color.NRGBA, o float64) color.NRGBA {
	c.A = uint8(float64(c.A)*o + 0.5)
	return c
}

func (r *Rasterizer) draw(doc *Document, el Element, opacity float64, depth int) {
	b := el.Attrs()
	opacity *= b.Style.Opacity
	fill := withOpacity(b.Style.Fill, opacity)
	stroke := withOpacity(b.Style.Stroke, opacity)
	sw := b.Style.StrokeWidth

	r.Push(b.Transform)
	defer r.Pop()

	switch e := el.(type) {
	case *Group:
		for _, c := range e.Children {
			r.draw(doc, c, opacity, depth)
		}
	case *Rect:
		pts := rectPoints(e.X, e.Y, e.Width, e.Height, e.RX, e.RY)
		r.FillPolygon(pts, fill)
		r.StrokePolyline(closed(pts), sw, stroke)
	case *Circle:
		r.FillCircle(e.CX, e.CY, e.R, fill)
		if stroke.A > 0 {
			r.StrokeCircle(e.CX, e.CY, e.R, sw, stroke)
		}
	case *Ellipse:
		pts := ellipsePoints(e.CX, e.CY, e.RX, e.RY)
		r.FillPolygon(pts, fill)
		r.StrokePolyline(closed(pts), sw, stroke)
	case *Line:
		r.DrawLine(Point{e.X1, e.Y1}, Point{e.X2, e.Y2}, sw, stroke)
	case *Polyline:
		r.FillPolygon(e.Points, fill)
		r.StrokePolyline(e.Points, sw, stroke)
	case *Polygon:
		r.FillPolygon(e.Points, fill)
		r.StrokePolyline(closed(e.Points), sw, stroke)
	case *Path:
		r.DrawPath(e.Commands, fill, stroke, sw)
	case *Text:
		r.DrawText(e.X, e.Y, e.Content, fill)
	case *Use:
		target := doc.Lookup(e.Href)
		if target == nil || depth >= maxUseDepth {
			return
		}
		r.Push(Translate(e.X, e.Y))
		r.draw(doc, target, opacity, depth+1)
		r.Pop()
	}
}
