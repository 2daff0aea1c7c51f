package style

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xkilldash9x/loupe/internal/browser/parser"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		input    string
		expected Color
		ok       bool
	}{
		// Keywords
		{"red", Color{R: 255, G: 0, B: 0, A: 255}, true},
		{"transparent", Color{R: 0, G: 0, B: 0, A: 0}, true},
		// Hex
		{"#ff0099", Color{R: 0xff, G: 0x00, B: 0x99, A: 255}, true},
		{"#f09", Color{R: 0xff, G: 0x00, B: 0x99, A: 255}, true},
		{"#ff009988", Color{R: 0xff, G: 0x00, B: 0x99, A: 0x88}, true},
		// RGB/RGBA
		{"rgb(255, 0, 153)", Color{R: 255, G: 0, B: 153, A: 255}, true},
		// 0.5 * 255 = 127.5 rounds to 128.
		{"rgba(0, 0, 0, 0.5)", Color{R: 0, G: 0, B: 0, A: 128}, true},
		{"rgb(100%, 50%, 0%)", Color{R: 255, G: 128, B: 0, A: 255}, true},
		// HSL
		{"hsl(0, 100%, 50%)", Color{R: 255, G: 0, B: 0, A: 255}, true},
		{"hsl(120, 100%, 50%)", Color{R: 0, G: 255, B: 0, A: 255}, true},
		// Invalid
		{"invalidcolor", Color{A: 255}, false},
		{"#12345", Color{}, false},
		{"#zzz", Color{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			actual, ok := ParseColor(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, actual)
			}
		})
	}
}

func TestParseLength(t *testing.T) {
	ctx := LengthContext{FontSize: 20, RootFontSize: 16, Reference: 100, ViewportWidth: 1000, ViewportHeight: 800}

	tests := []struct {
		input    string
		expected float64
	}{
		{"10px", 10.0},
		{"1.5em", 30.0},   // 1.5 * 20
		{"2rem", 32.0},    // 2 * 16
		{"50%", 50.0},     // 0.5 * 100
		{"10vw", 100.0},   // 0.1 * 1000
		{"5vh", 40.0},     // 0.05 * 800
		{"5vmin", 40.0},   // min(1000, 800) * 0.05
		{"10vmax", 100.0}, // max(1000, 800) * 0.1
		{"12pt", 16.0},
		{"1in", 96.0},
		{"7", 7.0},
		{"auto", 0.0},
		{"garbage", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ParseLength(tt.input, ctx), 0.001)
		})
	}
}

func TestParseSize(t *testing.T) {
	ctx := LengthContext{FontSize: 10, RootFontSize: 16}
	assert.Equal(t, Auto, parseSize("auto", ctx))
	assert.Equal(t, Px(25), parseSize("2.5em", ctx))
	assert.Equal(t, Percent(50), parseSize("50%", ctx))
	assert.Equal(t, SizeMaxContent, parseSize("max-content", ctx).Kind)

	px, ok := Percent(50).Resolve(300)
	assert.True(t, ok)
	assert.Equal(t, 150.0, px)
	_, ok = Auto.Resolve(300)
	assert.False(t, ok)
}

// Test internal parseFloat (White-box testing)
func TestInternalParseFloat(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		isErr    bool
	}{
		{"10.5", 10.5, false},
		{"-5", -5.0, false},
		{"+2.5e", 2.5, false}, // Stops parsing at 'e'
		{"", 0.0, true},
		{"abc", 0.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			actual, err := parseFloat(tt.input)
			if tt.isErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.InDelta(t, tt.expected, actual, 1e-9)
			}
		})
	}
}

func TestExpandDeclaration(t *testing.T) {
	collect := func(d parser.Declaration) map[parser.Property]parser.Value {
		out := map[parser.Property]parser.Value{}
		for _, e := range expandDeclaration(d) {
			assert.Equal(t, d.Important, e.Important)
			out[e.Property] = e.Value
		}
		return out
	}

	m := collect(parser.Declaration{Property: "margin", Value: "1px 2px 3px"})
	assert.Equal(t, parser.Value("1px"), m["margin-top"])
	assert.Equal(t, parser.Value("2px"), m["margin-right"])
	assert.Equal(t, parser.Value("3px"), m["margin-bottom"])
	assert.Equal(t, parser.Value("2px"), m["margin-left"])

	m = collect(parser.Declaration{Property: "border", Value: "2px solid red", Important: true})
	assert.Equal(t, parser.Value("2px"), m["border-left-width"])
	assert.Equal(t, parser.Value("solid"), m["border-top-style"])
	assert.Equal(t, parser.Value("red"), m["border-color"])

	m = collect(parser.Declaration{Property: "font", Value: "italic bold 12px/30px Georgia, serif"})
	assert.Equal(t, parser.Value("italic"), m["font-style"])
	assert.Equal(t, parser.Value("bold"), m["font-weight"])
	assert.Equal(t, parser.Value("12px"), m["font-size"])
	assert.Equal(t, parser.Value("30px"), m["line-height"])
	assert.Equal(t, parser.Value("Georgia, serif"), m["font-family"])

	m = collect(parser.Declaration{Property: "flex", Value: "1"})
	assert.Equal(t, parser.Value("1"), m["flex-grow"])

	m = collect(parser.Declaration{Property: "background", Value: "url(x.png) #fff no-repeat"})
	assert.Equal(t, parser.Value("#fff"), m["background-color"])
}
