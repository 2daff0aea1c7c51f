// internal/imaging/svg/transform.go
package svg

import (
	"fmt"
	"math"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"golang.org/x/image/math/f64"
)

// Matrix is a row-major affine transform: x' = m0*x + m1*y + m2,
// y' = m3*x + m4*y + m5.
type Matrix f64.Aff3

// Identity is the identity transform.
var Identity = Matrix{1, 0, 0, 0, 1, 0}

func Translate(tx, ty float64) Matrix { return Matrix{1, 0, tx, 0, 1, ty} }
func Scale(sx, sy float64) Matrix     { return Matrix{sx, 0, 0, 0, sy, 0} }

// Rotate rotates by deg degrees about the origin.
func Rotate(deg float64) Matrix {
	s, c := math.Sincos(deg * math.Pi / 180)
	return Matrix{c, -s, 0, s, c, 0}
}

func SkewX(deg float64) Matrix { return Matrix{1, math.Tan(deg * math.Pi / 180), 0, 0, 1, 0} }
func SkewY(deg float64) Matrix { return Matrix{1, 0, 0, math.Tan(deg * math.Pi / 180), 1, 0} }

// Mul returns m·n, which applies n first.
func (m Matrix) Mul(n Matrix) Matrix {
	return Matrix{
		m[0]*n[0] + m[1]*n[3], m[0]*n[1] + m[1]*n[4], m[0]*n[2] + m[1]*n[5] + m[2],
		m[3]*n[0] + m[4]*n[3], m[3]*n[1] + m[4]*n[4], m[3]*n[2] + m[4]*n[5] + m[5],
	}
}

func (m Matrix) Apply(p Point) Point {
	return Point{X: m[0]*p.X + m[1]*p.Y + m[2], Y: m[3]*p.X + m[4]*p.Y + m[5]}
}

// ScaleFactor is the geometric mean of the axis scales, used for radii and
// stroke widths.
func (m Matrix) ScaleFactor() float64 {
	return math.Sqrt(math.Abs(m[0]*m[4] - m[1]*m[3]))
}

// Uniform reports whether m maps circles to circles.
func (m Matrix) Uniform() bool {
	const eps = 1e-9
	return math.Abs(m[0]-m[4]) < eps && math.Abs(m[1]+m[3]) < eps
}

var (
	transformLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
		{Name: "Number", Pattern: `[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`},
		{Name: "Ident", Pattern: `[A-Za-z]+`},
		{Name: "Punct", Pattern: `[(),]`},
	})

	transformParser = participle.MustBuild[transformList](
		participle.Lexer(transformLexer),
		participle.Elide("Whitespace"),
	)
)

type transformList struct {
	Items []*transformItem `parser:"( @@ ','? )*"`
}

type transformItem struct {
	Pos  lexer.Position
	Name string    `parser:"@Ident '('"`
	Args []float64 `parser:"( @Number ','? )* ')'"`
}

// ParseTransform parses a transform attribute list such as
// "translate(10 20) rotate(45)".
func ParseTransform(s string) (Matrix, error) {
	list, err := transformParser.ParseString("transform", s)
	if err != nil {
		return Identity, fmt.Errorf("%w: %v", ErrTransform, err)
	}
	m := Identity
	for _, it := range list.Items {
		t, err := it.matrix()
		if err != nil {
			return Identity, err
		}
		m = m.Mul(t)
	}
	return m, nil
}

func (it *transformItem) matrix() (Matrix, error) {
	a := it.Args
	bad := func() (Matrix, error) {
		return Identity, fmt.Errorf("%w: %s with %d arguments at %s", ErrTransform, it.Name, len(a), it.Pos)
	}
	switch it.Name {
	case "matrix":
		if len(a) != 6 {
			return bad()
		}
		return Matrix{a[0], a[2], a[4], a[1], a[3], a[5]}, nil
	case "translate":
		switch len(a) {
		case 1:
			return Translate(a[0], 0), nil
		case 2:
			return Translate(a[0], a[1]), nil
		}
	case "scale":
		switch len(a) {
		case 1:
			return Scale(a[0], a[0]), nil
		case 2:
			return Scale(a[0], a[1]), nil
		}
	case "rotate":
		switch len(a) {
		case 1:
			return Rotate(a[0]), nil
		case 3:
			return Translate(a[1], a[2]).Mul(Rotate(a[0])).Mul(Translate(-a[1], -a[2])), nil
		}
	case "skewX":
		if len(a) == 1 {
			return SkewX(a[0]), nil
		}
	case "skewY":
		if len(a) == 1 {
			return SkewY(a[0]), nil
		}
	default:
		return Identity, fmt.Errorf("%w: unknown function %q at %s", ErrTransform, it.Name, it.Pos)
	}
	return bad()
}
