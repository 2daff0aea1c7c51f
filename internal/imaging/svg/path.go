// internal/imaging/svg/path.go
package svg

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CommandKind identifies a path segment type.
type CommandKind uint8

const (
	MoveTo CommandKind = iota
	LineTo
	HorizontalLineTo
	VerticalLineTo
	CubicBezier
	QuadraticBezier
	Arc
	Close
)

type Point struct {
	X, Y float64
}

// PathCommand is one absolute path segment. To is the end point. C1 and C2
// are control points; quadratics use only C1. Close ends at the subpath start.
type PathCommand struct {
	Kind     CommandKind
	To       Point
	C1, C2   Point
	RX, RY   float64
	Rotation float64
	LargeArc bool
	Sweep    bool
}

// argCount is the number of values per command letter.
var argCount = map[byte]int{
	'm': 2, 'l': 2, 'h': 1, 'v': 1, 'c': 6, 's': 4, 'q': 4, 't': 2, 'a': 7, 'z': 0,
}

type pathScanner struct {
	s string
	i int
}

func (sc *pathScanner) skip() {
	for sc.i < len(sc.s) {
		switch sc.s[sc.i] {
		case ' ', '\t', '\n', '\r', '\f', ',':
			sc.i++
		default:
			return
		}
	}
}

func (sc *pathScanner) done() bool { return sc.i >= len(sc.s) }

// more reports whether another number follows.
func (sc *pathScanner) more() bool {
	sc.skip()
	if sc.done() {
		return false
	}
	c := sc.s[sc.i]
	return c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9')
}

func (sc *pathScanner) number() (float64, error) {
	sc.skip()
	start := sc.i
	if sc.i < len(sc.s) && (sc.s[sc.i] == '-' || sc.s[sc.i] == '+') {
		sc.i++
	}
	digits, dot := 0, false
	for sc.i < len(sc.s) {
		c := sc.s[sc.i]
		if c >= '0' && c <= '9' {
			digits++
		} else if c == '.' && !dot {
			dot = true
		} else {
			break
		}
		sc.i++
	}
	if digits > 0 && sc.i < len(sc.s) && (sc.s[sc.i] == 'e' || sc.s[sc.i] == 'E') {
		j := sc.i + 1
		if j < len(sc.s) && (sc.s[j] == '-' || sc.s[j] == '+') {
			j++
		}
		if j < len(sc.s) && sc.s[j] >= '0' && sc.s[j] <= '9' {
			for j < len(sc.s) && sc.s[j] >= '0' && sc.s[j] <= '9' {
				j++
			}
			sc.i = j
		}
	}
	if digits == 0 {
		return 0, fmt.Errorf("%w: expected number at offset %d", ErrPathToken, start)
	}
	return strconv.ParseFloat(sc.s[start:sc.i], 64)
}

// flag reads an arc flag, which may abut the next value.
func (sc *pathScanner) flag() (bool, error) {
	sc.skip()
	if sc.done() || (sc.s[sc.i] != '0' && sc.s[sc.i] != '1') {
		return false, fmt.Errorf("%w: expected arc flag at offset %d", ErrPathToken, sc.i)
	}
	v := sc.s[sc.i] == '1'
	sc.i++
	return v, nil
}

// ParsePath tokenizes a d attribute into absolute commands. Smooth curves
// become explicit cubic or quadratic segments.
func ParsePath(d string) ([]PathCommand, error) {
	sc := &pathScanner{s: d}
	var (
		cmds       []PathCommand
		cur, start Point
		prevCtrl   Point
		prevKind   byte
	)
	for sc.skip(); !sc.done(); sc.skip() {
		letter := sc.s[sc.i]
		lower := letter | 0x20
		n, ok := argCount[lower]
		if !ok {
			return nil, fmt.Errorf("%w: %q at offset %d", ErrPathToken, letter, sc.i)
		}
		if len(cmds) == 0 && lower != 'm' {
			return nil, fmt.Errorf("%w: path must start with moveto", ErrPathToken)
		}
		sc.i++
		rel := letter == lower
		origin := func() Point {
			if rel {
				return cur
			}
			return Point{}
		}

		if lower == 'z' {
			cmds = append(cmds, PathCommand{Kind: Close, To: start})
			cur = start
			prevKind = 'z'
			continue
		}

		first := true
		for first || sc.more() {
			var a [7]float64
			for k := range n {
				var err error
				if lower == 'a' && (k == 3 || k == 4) {
					var f bool
					f, err = sc.flag()
					if f {
						a[k] = 1
					}
				} else {
					a[k], err = sc.number()
				}
				if err != nil {
					return nil, err
				}
			}
			o := origin()
			cmd := PathCommand{}
			switch lower {
			case 'm':
				cmd.Kind = LineTo
				if first {
					cmd.Kind = MoveTo
				}
				cmd.To = Point{o.X + a[0], o.Y + a[1]}
				if first {
					start = cmd.To
				}
			case 'l':
				cmd.Kind, cmd.To = LineTo, Point{o.X + a[0], o.Y + a[1]}
			case 'h':
				cmd.Kind, cmd.To = HorizontalLineTo, Point{o.X + a[0], cur.Y}
			case 'v':
				cmd.Kind, cmd.To = VerticalLineTo, Point{cur.X, o.Y + a[0]}
			case 'c':
				cmd.Kind = CubicBezier
				cmd.C1 = Point{o.X + a[0], o.Y + a[1]}
				cmd.C2 = Point{o.X + a[2], o.Y + a[3]}
				cmd.To = Point{o.X + a[4], o.Y + a[5]}
			case 's':
				cmd.Kind = CubicBezier
				cmd.C1 = cur
				if prevKind == 'c' || prevKind == 's' {
					cmd.C1 = Point{2*cur.X - prevCtrl.X, 2*cur.Y - prevCtrl.Y}
				}
				cmd.C2 = Point{o.X + a[0], o.Y + a[1]}
				cmd.To = Point{o.X + a[2], o.Y + a[3]}
			case 'q':
				cmd.Kind = QuadraticBezier
				cmd.C1 = Point{o.X + a[0], o.Y + a[1]}
				cmd.To = Point{o.X + a[2], o.Y + a[3]}
			case 't':
				cmd.Kind = QuadraticBezier
				cmd.C1 = cur
				if prevKind == 'q' || prevKind == 't' {
					cmd.C1 = Point{2*cur.X - prevCtrl.X, 2*cur.Y - prevCtrl.Y}
				}
				cmd.To = Point{o.X + a[0], o.Y + a[1]}
			case 'a':
				cmd.Kind = Arc
				cmd.RX, cmd.RY, cmd.Rotation = math.Abs(a[0]), math.Abs(a[1]), a[2]
				cmd.LargeArc, cmd.Sweep = a[3] == 1, a[4] == 1
				cmd.To = Point{o.X + a[5], o.Y + a[6]}
			}
			switch cmd.Kind {
			case CubicBezier:
				prevCtrl = cmd.C2
			case QuadraticBezier:
				prevCtrl = cmd.C1
			}
			cmds = append(cmds, cmd)
			cur = cmd.To
			prevKind = lower
			first = false
		}
	}
	return cmds, nil
}

// curveSegments is the subdivision count for each bezier or arc.
const curveSegments = 20

// Flatten converts commands into polylines, one per subpath. Closed subpaths
// repeat their first point.
func Flatten(cmds []PathCommand) [][]Point {
	var (
		out  [][]Point
		poly []Point
		cur  Point
	)
	flush := func() {
		if len(poly) > 1 {
			out = append(out, poly)
		}
		poly = nil
	}
	for _, c := range cmds {
		switch c.Kind {
		case MoveTo:
			flush()
			poly = []Point{c.To}
		case LineTo, HorizontalLineTo, VerticalLineTo, Close:
			if poly == nil {
				poly = []Point{cur}
			}
			poly = append(poly, c.To)
			if c.Kind == Close {
				flush()
			}
		case CubicBezier:
			if poly == nil {
				poly = []Point{cur}
			}
			for i := 1; i <= curveSegments; i++ {
				t := float64(i) / curveSegments
				u := 1 - t
				poly = append(poly, Point{
					X: u*u*u*cur.X + 3*u*u*t*c.C1.X + 3*u*t*t*c.C2.X + t*t*t*c.To.X,
					Y: u*u*u*cur.Y + 3*u*u*t*c.C1.Y + 3*u*t*t*c.C2.Y + t*t*t*c.To.Y,
				})
			}
		case QuadraticBezier:
			if poly == nil {
				poly = []Point{cur}
			}
			for i := 1; i <= curveSegments; i++ {
				t := float64(i) / curveSegments
				u := 1 - t
				poly = append(poly, Point{
					X: u*u*cur.X + 2*u*t*c.C1.X + t*t*c.To.X,
					Y: u*u*cur.Y + 2*u*t*c.C1.Y + t*t*c.To.Y,
				})
			}
		case Arc:
			if poly == nil {
				poly = []Point{cur}
			}
			poly = append(poly, arcPoints(cur, c)...)
		}
		cur = c.To
	}
	flush()
	return out
}

// arcPoints converts an endpoint arc to its center form and samples it.
func arcPoints(from Point, c PathCommand) []Point {
	to := c.To
	rx, ry := c.RX, c.RY
	if rx == 0 || ry == 0 || from == to {
		return []Point{to}
	}
	sinPhi, cosPhi := math.Sincos(c.Rotation * math.Pi / 180)
	dx, dy := (from.X-to.X)/2, (from.Y-to.Y)/2
	x1 := cosPhi*dx + sinPhi*dy
	y1 := -sinPhi*dx + cosPhi*dy

	// Scale radii up when the endpoints are out of reach.
	if l := x1*x1/(rx*rx) + y1*y1/(ry*ry); l > 1 {
		s := math.Sqrt(l)
		rx, ry = rx*s, ry*s
	}
	num := rx*rx*ry*ry - rx*rx*y1*y1 - ry*ry*x1*x1
	den := rx*rx*y1*y1 + ry*ry*x1*x1
	coef := math.Sqrt(math.Max(num/den, 0))
	if c.LargeArc == c.Sweep {
		coef = -coef
	}
	cx1 := coef * rx * y1 / ry
	cy1 := -coef * ry * x1 / rx
	cx := cosPhi*cx1 - sinPhi*cy1 + (from.X+to.X)/2
	cy := sinPhi*cx1 + cosPhi*cy1 + (from.Y+to.Y)/2

	angle := func(ux, uy, vx, vy float64) float64 {
		return math.Atan2(ux*vy-uy*vx, ux*vx+uy*vy)
	}
	theta := angle(1, 0, (x1-cx1)/rx, (y1-cy1)/ry)
	delta := angle((x1-cx1)/rx, (y1-cy1)/ry, (-x1-cx1)/rx, (-y1-cy1)/ry)
	if !c.Sweep && delta > 0 {
		delta -= 2 * math.Pi
	} else if c.Sweep && delta < 0 {
		delta += 2 * math.Pi
	}

	pts := make([]Point, 0, curveSegments)
	for i := 1; i <= curveSegments; i++ {
		a := theta + delta*float64(i)/curveSegments
		sa, ca := math.Sincos(a)
		pts = append(pts, Point{
			X: cosPhi*rx*ca - sinPhi*ry*sa + cx,
			Y: sinPhi*rx*ca + cosPhi*ry*sa + cy,
		})
	}
	pts[len(pts)-1] = to
	return pts
}

// parsePoints reads a points attribute of polyline and polygon.
func parsePoints(s string) ([]Point, error) {
	sc := &pathScanner{s: strings.TrimSpace(s)}
	var pts []Point
	for sc.more() {
		x, err := sc.number()
		if err != nil {
			return nil, err
		}
		y, err := sc.number()
		if err != nil {
			return nil, err
		}
		pts = append(pts, Point{x, y})
	}
	if sc.skip(); !sc.done() {
		return nil, fmt.Errorf("%w: points %q", ErrPathToken, s)
	}
	return pts, nil
}
