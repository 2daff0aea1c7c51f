package bidi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		r    rune
		want Class
	}{
		{'A', L},
		{'0', EN},
		{'א', R},
		{'ا', AL},
		{' ', WS},
		{'٣', AN},
		{'+', ES},
		{'$', ET},
		{',', CS},
		{'́', NSM},
		{'\n', B},
		{'\t', S},
		{'!', ON},
		{'‪', LRE},
		{'‭', LRO},
		{'‫', RLE},
		{'‮', RLO},
		{'‬', PDF},
		{'⁦', LRI},
		{'⁧', RLI},
		{'⁨', FSI},
		{'⁩', PDI},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassOf(tt.r), "class of %U", tt.r)
	}
}

func TestMirrorChar(t *testing.T) {
	assert.Equal(t, ')', MirrorChar('('))
	assert.Equal(t, '(', MirrorChar(')'))
	assert.Equal(t, '»', MirrorChar('«'))
	assert.Equal(t, 'A', MirrorChar('A'))
}

func TestResolve_LatinIsAllEven(t *testing.T) {
	p := Resolve("Hello World", nil)
	assert.Equal(t, uint8(0), p.BaseLevel)
	assert.Equal(t, LeftToRight, p.Direction())
	for i, l := range p.Levels {
		assert.Zero(t, l%2, "level at %d", i)
	}
	assert.Equal(t, []Run{{Start: 0, End: 11, Level: 0}}, p.Runs())
}

func TestResolve_HebrewIsRTL(t *testing.T) {
	p := Resolve("שלום", nil)
	assert.Equal(t, uint8(1), p.BaseLevel)
	assert.Equal(t, "םולש", p.Reorder())
}

func TestResolve_Override(t *testing.T) {
	rtl := RightToLeft
	p := Resolve("abc", &rtl)
	assert.Equal(t, uint8(1), p.BaseLevel)
	assert.Equal(t, []uint8{2, 2, 2}, p.Levels)
	assert.Equal(t, "abc", p.Reorder())
}

func TestResolve_MixedRuns(t *testing.T) {
	p := Resolve("abc אבג def", nil)
	runs := p.Runs()
	require.Len(t, runs, 3)
	assert.Equal(t, uint8(0), runs[0].Level)
	assert.Equal(t, RightToLeft, runs[1].Direction())
	assert.Equal(t, "abc גבא def", p.Reorder())
}

func TestResolve_NumbersInRTL(t *testing.T) {
	p := Resolve("אבג 123", nil)
	assert.Equal(t, uint8(1), p.BaseLevel)
	assert.Equal(t, uint8(2), p.Levels[4], "european digits raise to the next even level")
	// Digits keep their order inside the reversed paragraph.
	assert.Equal(t, "123 גבא", p.Reorder())
}

func TestResolve_ArabicNumbersAfterAL(t *testing.T) {
	p := Resolve("ا1", nil)
	// W2 turns the digit into AN, I2 lifts it to level 2.
	assert.Equal(t, []uint8{1, 2}, p.Levels)
}

func TestResolve_Mirroring(t *testing.T) {
	p := Resolve("א(ב)", nil)
	assert.Equal(t, "(ב)א", p.Reorder())
}

func TestResolve_ExplicitEmbeddingAndIsolate(t *testing.T) {
	p := Resolve("a‫b‬c", nil)
	assert.Equal(t, uint8(2), p.Levels[2], "L inside RLE sits at the next odd level plus one")
	assert.Equal(t, uint8(0), p.Levels[4])

	p = Resolve("⁧abc⁩ x", nil)
	assert.Equal(t, uint8(0), p.BaseLevel, "isolated text is skipped when picking the base level")
	assert.Equal(t, uint8(2), p.Levels[1])
	assert.Equal(t, uint8(0), p.Levels[0])
	assert.Equal(t, uint8(0), p.Levels[4])
}

func TestResolve_DepthIsBounded(t *testing.T) {
	text := strings.Repeat("‫", 200) + "x" + strings.Repeat("‬", 200) + "y"
	p := Resolve(text, nil)
	for _, l := range p.Levels {
		assert.LessOrEqual(t, l, uint8(MaxDepth+1))
	}
	assert.Equal(t, uint8(0), p.Levels[len(p.Levels)-1], "pops balance after overflow")
}

func TestResolve_TrailingWhitespaceReset(t *testing.T) {
	p := Resolve("אב  ", nil)
	assert.Equal(t, uint8(1), p.Levels[2])
	assert.Equal(t, uint8(1), p.Levels[3])

	ltr := LeftToRight
	p = Resolve("אב  ", &ltr)
	assert.Equal(t, uint8(0), p.Levels[3])
}

func TestVisualOrder_Empty(t *testing.T) {
	assert.Empty(t, Resolve("", nil).VisualOrder())
}
