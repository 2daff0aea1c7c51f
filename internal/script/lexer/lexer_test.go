package lexer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Test Helpers --

func texts(toks []Token) []string {
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if t.Kind != EOF {
			out = append(out, t.Text)
		}
	}
	return out
}

// -- Tests --

func TestTokenize_Sequence(t *testing.T) {
	toks, err := Tokenize("var x = 0x1F; // note\n'a\\n'")
	require.NoError(t, err)
	require.Len(t, toks, 7)

	kinds := []Kind{Keyword, Ident, Punct, Number, Punct, String, EOF}
	for i, k := range kinds {
		assert.Equal(t, k, toks[i].Kind, "token %d", i)
	}
	assert.Equal(t, 31.0, toks[3].Num)
	assert.Equal(t, "a\n", toks[5].Value)
	assert.True(t, toks[5].NewlineBefore)
	assert.False(t, toks[4].NewlineBefore)
	assert.Equal(t, 2, toks[5].Line)
	assert.Equal(t, 1, toks[5].Col)
	assert.True(t, toks[0].Is("var"))
	assert.False(t, toks[1].Is("x"), "identifiers are not punctuators or keywords")
}

func TestTokenize_EmptySource(t *testing.T) {
	toks, err := Tokenize("  // only a comment")
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, EOF, toks[0].Kind)
}

func TestTokenize_Numbers(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"42", 42},
		{"0b101", 5},
		{"0o17", 15},
		{"0XfF", 255},
		{".5", 0.5},
		{"1e3", 1000},
		{"2.5E-1", 0.25},
		{"1e400", math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			toks, err := Tokenize(tt.in)
			require.NoError(t, err)
			require.Equal(t, Number, toks[0].Kind)
			assert.Equal(t, tt.want, toks[0].Num)
		})
	}
}

func TestTokenize_LongestPunctuator(t *testing.T) {
	toks, err := Tokenize("a >>>= b ?? c => d === e ** f")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", ">>>=", "b", "??", "c", "=>", "d", "===", "e", "**", "f"}, texts(toks))
}

func TestTokenize_StringEscapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"braced unicode", `"\u{1F600}"`, "😀"},
		{"surrogate pair", `"\uD83D\uDE00"`, "😀"},
		{"hex", `'\x41'`, "A"},
		{"identity", `"\q\""`, `q"`},
		{"line continuation", "'a\\\nb'", "ab"},
		{"controls", `"\t\0"`, "\t\x00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, err := Tokenize(tt.in)
			require.NoError(t, err)
			require.Equal(t, String, toks[0].Kind)
			assert.Equal(t, tt.want, toks[0].Value)
		})
	}
}

func TestTokenize_CommentsAndNewlines(t *testing.T) {
	toks, err := Tokenize("a /* x\n */ b /* y */ c")
	require.NoError(t, err)
	require.Len(t, toks, 4)
	assert.True(t, toks[1].NewlineBefore, "multi-line block comment counts as a line break")
	assert.False(t, toks[2].NewlineBefore)
}

func TestTokenize_Keywords(t *testing.T) {
	toks, err := Tokenize("typeof undefined instanceof")
	require.NoError(t, err)
	assert.Equal(t, Keyword, toks[0].Kind)
	assert.Equal(t, Ident, toks[1].Kind)
	assert.Equal(t, Keyword, toks[2].Kind)
	assert.True(t, IsKeyword("let"))
	assert.False(t, IsKeyword("undefined"))
}

func TestTokenize_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"unknown character", "a # b", "unexpected character"},
		{"unterminated string", "'abc", "unexpected character"},
		{"short hex escape", `'\x4'`, "malformed hexadecimal escape"},
		{"bad unicode escape", `'\u{zz}'`, "malformed unicode escape"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.in)
			var syn *SyntaxError
			require.ErrorAs(t, err, &syn)
			assert.Equal(t, tt.msg, syn.Msg)
			assert.Equal(t, 1, syn.Line)
			assert.Contains(t, err.Error(), "SyntaxError")
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "end of input", EOF.String())
	assert.Equal(t, "token(99)", Kind(99).String())
	assert.Equal(t, `punctuator "+"`, Token{Kind: Punct, Text: "+"}.String())
}
