// internal/browser/style/values.go
package style

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xkilldash9x/loupe/internal/browser/parser"
)

// LengthContext carries the references needed to resolve relative units.
type LengthContext struct {
	FontSize       float64 // size one em resolves to
	RootFontSize   float64
	Reference      float64 // base for percentages
	ViewportWidth  float64
	ViewportHeight float64
}

var cssColors = map[string]Color{
	"black":       {0, 0, 0, 255},
	"white":       {255, 255, 255, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"yellow":      {255, 255, 0, 255},
	"orange":      {255, 165, 0, 255},
	"purple":      {128, 0, 128, 255},
	"gray":        {128, 128, 128, 255},
	"grey":        {128, 128, 128, 255},
	"silver":      {192, 192, 192, 255},
	"maroon":      {128, 0, 0, 255},
	"olive":       {128, 128, 0, 255},
	"lime":        {0, 255, 0, 255},
	"aqua":        {0, 255, 255, 255},
	"cyan":        {0, 255, 255, 255},
	"teal":        {0, 128, 128, 255},
	"navy":        {0, 0, 128, 255},
	"fuchsia":     {255, 0, 255, 255},
	"magenta":     {255, 0, 255, 255},
	"pink":        {255, 192, 203, 255},
	"brown":       {165, 42, 42, 255},
	"gold":        {255, 215, 0, 255},
	"indigo":      {75, 0, 130, 255},
	"violet":      {238, 130, 238, 255},
	"coral":       {255, 127, 80, 255},
	"salmon":      {250, 128, 114, 255},
	"crimson":     {220, 20, 60, 255},
	"khaki":       {240, 230, 140, 255},
	"beige":       {245, 245, 220, 255},
	"ivory":       {255, 255, 240, 255},
	"lavender":    {230, 230, 250, 255},
	"tomato":      {255, 99, 71, 255},
	"orchid":      {218, 112, 214, 255},
	"tan":         {210, 180, 140, 255},
	"darkgray":    {169, 169, 169, 255},
	"darkgrey":    {169, 169, 169, 255},
	"lightgray":   {211, 211, 211, 255},
	"lightgrey":   {211, 211, 211, 255},
	"darkblue":    {0, 0, 139, 255},
	"darkred":     {139, 0, 0, 255},
	"darkgreen":   {0, 100, 0, 255},
	"lightblue":   {173, 216, 230, 255},
	"lightgreen":  {144, 238, 144, 255},
	"steelblue":   {70, 130, 180, 255},
	"skyblue":     {135, 206, 235, 255},
	"royalblue":   {65, 105, 225, 255},
	"whitesmoke":  {245, 245, 245, 255},
	"gainsboro":   {220, 220, 220, 255},
	"transparent": {0, 0, 0, 0},
}

// ParseColor parses named colors, #rgb, #rgba, #rrggbb, #rrggbbaa, rgb(), rgba(), hsl() and hsla().
func ParseColor(value string) (Color, bool) {
	value = strings.TrimSpace(strings.ToLower(value))

	if color, ok := cssColors[value]; ok {
		return color, true
	}

	if strings.HasPrefix(value, "#") {
		return parseHexColor(value)
	}

	if strings.HasPrefix(value, "rgb") {
		return parseRGBColor(value)
	}

	if strings.HasPrefix(value, "hsl") {
		return parseHSLColor(value)
	}

	return Color{0, 0, 0, 255}, false
}

func parseHexColor(hex string) (Color, bool) {
	hex = strings.TrimPrefix(hex, "#")
	for i := 0; i < len(hex); i++ {
		if !isHexDigit(hex[i]) {
			return Color{}, false
		}
	}
	var r, g, b, a uint8 = 0, 0, 0, 255

	switch len(hex) {
	case 3:
		r = hexDigit(hex[0]) * 17
		g = hexDigit(hex[1]) * 17
		b = hexDigit(hex[2]) * 17
	case 4:
		r = hexDigit(hex[0]) * 17
		g = hexDigit(hex[1]) * 17
		b = hexDigit(hex[2]) * 17
		a = hexDigit(hex[3]) * 17
	case 6:
		r = hexDigit(hex[0])<<4 | hexDigit(hex[1])
		g = hexDigit(hex[2])<<4 | hexDigit(hex[3])
		b = hexDigit(hex[4])<<4 | hexDigit(hex[5])
	case 8:
		r = hexDigit(hex[0])<<4 | hexDigit(hex[1])
		g = hexDigit(hex[2])<<4 | hexDigit(hex[3])
		b = hexDigit(hex[4])<<4 | hexDigit(hex[5])
		a = hexDigit(hex[6])<<4 | hexDigit(hex[7])
	default:
		return Color{}, false
	}
	return Color{R: r, G: g, B: b, A: a}, true
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func hexDigit(c byte) uint8 {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// functionArgs returns the comma, space or slash separated arguments of name(...).
func functionArgs(value string) ([]string, bool) {
	open := strings.IndexByte(value, '(')
	end := strings.LastIndexByte(value, ')')
	if open < 0 || end < open {
		return nil, false
	}
	parts := strings.FieldsFunc(value[open+1:end], func(r rune) bool {
		return r == ',' || r == ' ' || r == '/'
	})
	return parts, true
}

func parseRGBColor(value string) (Color, bool) {
	values, ok := functionArgs(value)
	if !ok || len(values) < 3 || len(values) > 4 {
		return Color{}, false
	}

	r := parseColorComponent(values[0], false)
	g := parseColorComponent(values[1], false)
	b := parseColorComponent(values[2], false)
	a := uint8(255)

	if len(values) == 4 {
		a = parseColorComponent(values[3], true)
	}

	return Color{R: r, G: g, B: b, A: a}, true
}

func parseHSLColor(value string) (Color, bool) {
	values, ok := functionArgs(value)
	if !ok || len(values) < 3 || len(values) > 4 {
		return Color{}, false
	}
	h, err := strconv.ParseFloat(strings.TrimSuffix(values[0], "deg"), 64)
	if err != nil {
		return Color{}, false
	}
	sat, err1 := strconv.ParseFloat(strings.TrimSuffix(values[1], "%"), 64)
	light, err2 := strconv.ParseFloat(strings.TrimSuffix(values[2], "%"), 64)
	if err1 != nil || err2 != nil {
		return Color{}, false
	}
	h = math.Mod(math.Mod(h, 360)+360, 360) / 360
	sat, light = clamp(sat/100, 0, 1), clamp(light/100, 0, 1)

	var q float64
	if light < 0.5 {
		q = light * (1 + sat)
	} else {
		q = light + sat - light*sat
	}
	p := 2*light - q
	hue := func(t float64) uint8 {
		if t < 0 {
			t++
		}
		if t > 1 {
			t--
		}
		var v float64
		switch {
		case t < 1.0/6:
			v = p + (q-p)*6*t
		case t < 0.5:
			v = q
		case t < 2.0/3:
			v = p + (q-p)*(2.0/3-t)*6
		default:
			v = p
		}
		return uint8(clamp(v*255+0.5, 0, 255))
	}
	c := Color{R: hue(h + 1.0/3), G: hue(h), B: hue(h - 1.0/3), A: 255}
	if len(values) == 4 {
		c.A = parseColorComponent(values[3], true)
	}
	return c, true
}

func parseColorComponent(value string, isAlpha bool) uint8 {
	value = strings.TrimSpace(value)

	if strings.HasSuffix(value, "%") {
		percent, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
		if err != nil {
			return 0
		}
		return uint8(clamp(percent/100.0*255.0+0.5, 0, 255))
	}

	if isAlpha {
		val, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 255
		}
		return uint8(clamp(val*255.0+0.5, 0, 255))
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		if fval, err := strconv.ParseFloat(value, 64); err == nil {
			return uint8(clamp(fval+0.5, 0, 255))
		}
		return 0
	}
	return uint8(clamp(float64(val), 0, 255))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ParseLength resolves a length with units to pixels. Keywords and garbage resolve to 0.
func ParseLength(value string, ctx LengthContext) float64 {
	v, _ := parseLength(value, ctx)
	return v
}

// parseLength is ParseLength with a validity flag.
func parseLength(value string, ctx LengthContext) (float64, bool) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" || value == "auto" || value == "normal" || value == "none" {
		return 0, false
	}

	// Helper to parse the numeric part of the value.
	parseNumeric := func(s, suffix string) (float64, bool) {
		numStr := strings.TrimSuffix(s, suffix)
		if val, err := strconv.ParseFloat(numStr, 64); err == nil {
			return val, true
		}
		return 0.0, false
	}

	units := []struct {
		suffix string
		scale  func(v float64) float64
	}{
		{"%", func(v float64) float64 { return ctx.Reference * v / 100 }},
		{"px", func(v float64) float64 { return v }},
		// rem must be tested before em.
		{"rem", func(v float64) float64 { return v * ctx.RootFontSize }},
		{"em", func(v float64) float64 { return v * ctx.FontSize }},
		{"ex", func(v float64) float64 { return v * ctx.FontSize / 2 }},
		{"ch", func(v float64) float64 { return v * ctx.FontSize * 0.5 }},
		{"vmin", func(v float64) float64 { return math.Min(ctx.ViewportWidth, ctx.ViewportHeight) * v / 100 }},
		{"vmax", func(v float64) float64 { return math.Max(ctx.ViewportWidth, ctx.ViewportHeight) * v / 100 }},
		{"vw", func(v float64) float64 { return ctx.ViewportWidth * v / 100 }},
		{"vh", func(v float64) float64 { return ctx.ViewportHeight * v / 100 }},
		{"pt", func(v float64) float64 { return v * 96 / 72 }},
		{"pc", func(v float64) float64 { return v * 16 }},
		{"in", func(v float64) float64 { return v * 96 }},
		{"cm", func(v float64) float64 { return v * 96 / 2.54 }},
		{"mm", func(v float64) float64 { return v * 96 / 25.4 }},
	}
	for _, u := range units {
		if strings.HasSuffix(value, u.suffix) {
			if v, ok := parseNumeric(value, u.suffix); ok {
				return u.scale(v), true
			}
		}
	}
	// Unitless values are treated as px.
	if val, err := parseFloat(value); err == nil {
		return val, true
	}
	return 0, false
}

// parseSize maps width/height values onto Size.
func parseSize(value string, ctx LengthContext) Size {
	v := strings.TrimSpace(strings.ToLower(value))
	switch v {
	case "", "auto", "none":
		return Auto
	case "min-content":
		return Size{Kind: SizeMinContent}
	case "max-content":
		return Size{Kind: SizeMaxContent}
	case "fit-content":
		return Size{Kind: SizeFitContent}
	}
	if strings.HasSuffix(v, "%") {
		if pct, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64); err == nil {
			return Percent(pct)
		}
		return Auto
	}
	if px, ok := parseLength(v, ctx); ok {
		return Px(px)
	}
	return Auto
}

// parseFloat reads a leading decimal number and ignores any trailing unit.
func parseFloat(s string) (float64, error) {
	var result float64
	var sign float64 = 1
	var decimalPoint bool
	var decimalPlace float64 = 0.1
	if len(s) == 0 {
		return 0, fmt.Errorf("empty string")
	}
	i := 0
	if s[0] == '-' {
		sign = -1
		i++
	} else if s[0] == '+' {
		i++
	}
	parsedSomething := false
	for ; i < len(s); i++ {
		ch := s[i]
		if ch >= '0' && ch <= '9' {
			parsedSomething = true
			digit := float64(ch - '0')
			if decimalPoint {
				result += digit * decimalPlace
				decimalPlace *= 0.1
			} else {
				result = result*10 + digit
			}
		} else if ch == '.' && !decimalPoint {
			decimalPoint = true
		} else {
			break
		}
	}
	if !parsedSomething {
		return 0, fmt.Errorf("invalid float format: %s", s)
	}
	if result == 0 && sign == -1 {
		return 0, nil
	}
	return result * sign, nil
}

func expandShorthands(styles map[parser.Property]parser.Value) {
	expandFlexShorthand(styles)
	expand1To4Shorthand(styles, "margin", "margin-top", "margin-right", "margin-bottom", "margin-left")
	expand1To4Shorthand(styles, "padding", "padding-top", "padding-right", "padding-bottom", "padding-left")
	expand1To4Shorthand(styles, "border-width", "border-top-width", "border-right-width", "border-bottom-width", "border-left-width")
	expandBorderShorthand(styles)
	expandBackgroundShorthand(styles)
	expandFontShorthand(styles)
}

// expandDeclaration returns the declaration plus the longhands it implies, so the
// cascade orders shorthands and longhands together.
func expandDeclaration(d parser.Declaration) []parser.Declaration {
	styles := map[parser.Property]parser.Value{d.Property: d.Value}
	expandShorthands(styles)
	out := make([]parser.Declaration, 0, len(styles))
	out = append(out, d)
	for p, v := range styles {
		if p != d.Property {
			out = append(out, parser.Declaration{Property: p, Value: v, Important: d.Important})
		}
	}
	return out
}

func expand1To4Shorthand(styles map[parser.Property]parser.Value, shorthand, top, right, bottom, left parser.Property) {
	val, ok := styles[shorthand]
	if !ok {
		return
	}
	parts := strings.Fields(string(val))
	var v [4]parser.Value
	switch len(parts) {
	case 1:
		v = [4]parser.Value{parser.Value(parts[0]), parser.Value(parts[0]), parser.Value(parts[0]), parser.Value(parts[0])}
	case 2:
		v = [4]parser.Value{parser.Value(parts[0]), parser.Value(parts[1]), parser.Value(parts[0]), parser.Value(parts[1])}
	case 3:
		v = [4]parser.Value{parser.Value(parts[0]), parser.Value(parts[1]), parser.Value(parts[2]), parser.Value(parts[1])}
	case 4:
		v = [4]parser.Value{parser.Value(parts[0]), parser.Value(parts[1]), parser.Value(parts[2]), parser.Value(parts[3])}
	default:
		return
	}
	for i, p := range []parser.Property{top, right, bottom, left} {
		if _, set := styles[p]; !set {
			styles[p] = v[i]
		}
	}
}

func isBorderStyle(s string) bool {
	switch s {
	case "solid", "dashed", "dotted", "double", "none", "hidden", "groove", "ridge", "inset", "outset":
		return true
	}
	return false
}

func isLengthToken(s string) bool {
	if s == "thin" || s == "medium" || s == "thick" {
		return true
	}
	return len(s) > 0 && ((s[0] >= '0' && s[0] <= '9') || s[0] == '.')
}

func expandBorderShorthand(styles map[parser.Property]parser.Value) {
	borderVal, ok := styles["border"]
	if !ok {
		return
	}
	width, styleVal, color := "medium", "none", ""
	for _, part := range strings.Fields(string(borderVal)) {
		switch {
		case isBorderStyle(part):
			styleVal = part
		case isLengthToken(part):
			width = part
		default:
			color = part
		}
	}
	for _, side := range []string{"top", "right", "bottom", "left"} {
		setIfUnset(styles, parser.Property("border-"+side+"-width"), parser.Value(width))
		setIfUnset(styles, parser.Property("border-"+side+"-style"), parser.Value(styleVal))
	}
	if color != "" {
		setIfUnset(styles, "border-color", parser.Value(color))
	}
}

func expandBackgroundShorthand(styles map[parser.Property]parser.Value) {
	bg, ok := styles["background"]
	if !ok {
		return
	}
	for _, part := range strings.Fields(string(bg)) {
		if _, isColor := ParseColor(part); isColor {
			setIfUnset(styles, "background-color", parser.Value(part))
			return
		}
	}
}

// expandFontShorthand handles [style] [weight] size[/line-height] family.
func expandFontShorthand(styles map[parser.Property]parser.Value) {
	font, ok := styles["font"]
	if !ok {
		return
	}
	parts := strings.Fields(string(font))
	for i, part := range parts {
		switch {
		case part == "italic" || part == "oblique":
			setIfUnset(styles, "font-style", parser.Value(part))
		case part == "bold" || part == "bolder" || part == "lighter" || (len(part) == 3 && part[1] == '0' && part[2] == '0'):
			setIfUnset(styles, "font-weight", parser.Value(part))
		case isLengthToken(part) || strings.HasSuffix(part, "%"):
			size, lh, _ := strings.Cut(part, "/")
			setIfUnset(styles, "font-size", parser.Value(size))
			if lh != "" {
				setIfUnset(styles, "line-height", parser.Value(lh))
			}
			if i+1 < len(parts) {
				setIfUnset(styles, "font-family", parser.Value(strings.Join(parts[i+1:], " ")))
			}
			return
		}
	}
}

func setIfUnset(styles map[parser.Property]parser.Value, p parser.Property, v parser.Value) {
	if _, set := styles[p]; !set {
		styles[p] = v
	}
}

func expandFlexShorthand(styles map[parser.Property]parser.Value) {
	flexVal, ok := styles["flex"]
	if !ok {
		return
	}
	grow, shrink, basis := "0", "1", "auto"
	parts := strings.Fields(string(flexVal))
	isLengthCheck := func(s string) bool {
		return strings.ContainsAny(s, "px%emremvwvhvminvmax")
	}

	if len(parts) == 1 {
		switch parts[0] {
		case "none":
			grow, shrink, basis = "0", "0", "auto"
		case "auto":
			grow, shrink, basis = "1", "1", "auto"
		default:
			isLength := isLengthCheck(parts[0])
			if _, err := parseFloat(parts[0]); err == nil && !isLength {
				grow = parts[0]
				basis = "0"
			} else {
				basis = parts[0]
				grow = "1"
				shrink = "1"
			}
		}
	} else if len(parts) == 2 {
		grow = parts[0]
		isLength := isLengthCheck(parts[1])
		if _, err := parseFloat(parts[1]); err == nil && !isLength {
			shrink = parts[1]
		} else {
			basis = parts[1]
		}
	} else if len(parts) >= 3 {
		grow = parts[0]
		shrink = parts[1]
		basis = parts[2]
	}

	setIfUnset(styles, "flex-grow", parser.Value(grow))
	setIfUnset(styles, "flex-shrink", parser.Value(shrink))
	setIfUnset(styles, "flex-basis", parser.Value(basis))
}
