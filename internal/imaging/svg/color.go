// internal/imaging/svg/color.go
package svg

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// ParseColor accepts named colors, #RGB, #RRGGBB, #RRGGBBAA, rgb() and
// rgba(). "none" and "transparent" yield a zero color.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "none", "transparent":
		return color.NRGBA{}, nil
	case "currentcolor":
		return color.NRGBA{A: 0xFF}, nil
	}
	if strings.HasPrefix(s, "#") {
		return parseHex(s[1:])
	}
	if args, ok := functionArgs(s, "rgba"); ok {
		return parseRGB(args, true)
	}
	if args, ok := functionArgs(s, "rgb"); ok {
		return parseRGB(args, false)
	}
	if c, ok := colornames.Map[s]; ok {
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xFF}, nil
	}
	return color.NRGBA{}, fmt.Errorf("%w: %q", ErrColor, s)
}

func parseHex(h string) (color.NRGBA, error) {
	digit := func(i int) uint8 {
		v, _ := strconv.ParseUint(h[i:i+1], 16, 8)
		return uint8(v)
	}
	for _, c := range h {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return color.NRGBA{}, fmt.Errorf("%w: #%s", ErrColor, h)
		}
	}
	switch len(h) {
	case 3:
		return color.NRGBA{R: digit(0) * 17, G: digit(1) * 17, B: digit(2) * 17, A: 0xFF}, nil
	case 6, 8:
		c := color.NRGBA{
			R: digit(0)<<4 | digit(1),
			G: digit(2)<<4 | digit(3),
			B: digit(4)<<4 | digit(5),
			A: 0xFF,
		}
		if len(h) == 8 {
			c.A = digit(6)<<4 | digit(7)
		}
		return c, nil
	}
	return color.NRGBA{}, fmt.Errorf("%w: #%s", ErrColor, h)
}

func functionArgs(s, name string) ([]string, bool) {
	if !strings.HasPrefix(s, name+"(") || !strings.HasSuffix(s, ")") {
		return nil, false
	}
	inner := s[len(name)+1 : len(s)-1]
	return strings.FieldsFunc(inner, func(r rune) bool { return r == ',' || r == ' ' || r == '/' }), true
}

func parseRGB(args []string, alpha bool) (color.NRGBA, error) {
	want := 3
	if alpha {
		want = 4
	}
	if len(args) != want {
		return color.NRGBA{}, fmt.Errorf("%w: want %d components, got %d", ErrColor, want, len(args))
	}
	var ch [3]uint8
	for i := range ch {
		a := args[i]
		pct := strings.HasSuffix(a, "%")
		v, err := strconv.ParseFloat(strings.TrimSuffix(a, "%"), 64)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("%w: component %q", ErrColor, a)
		}
		if pct {
			v = v * 255 / 100
		}
		ch[i] = uint8(min(max(v, 0), 255) + 0.5)
	}
	c := color.NRGBA{R: ch[0], G: ch[1], B: ch[2], A: 0xFF}
	if alpha {
		a, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("%w: alpha %q", ErrColor, args[3])
		}
		c.A = uint8(min(max(a, 0), 1)*255 + 0.5)
	}
	return c, nil
}
