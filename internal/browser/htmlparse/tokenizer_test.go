package htmlparse

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain collects tokens until the tokenizer needs more input.
func drain(t *Tokenizer) []Token {
	var out []Token
	for {
		tok, ok := t.Next()
		if !ok {
			return out
		}
		out = append(out, tok)
	}
}

// collapse merges adjacent character tokens into a single string token for comparison.
func collapse(toks []Token) []string {
	var out []string
	text := ""
	for _, tok := range toks {
		if tok.Type == CharacterToken {
			text += string(tok.Char)
			continue
		}
		if text != "" {
			out = append(out, "#"+text)
			text = ""
		}
		out = append(out, tok.String())
	}
	if text != "" {
		out = append(out, "#"+text)
	}
	return out
}

func TestTokenizer_AttributeParse(t *testing.T) {
	tz := NewTokenizer()
	tz.Feed([]byte(`<div class="foo" id='bar' disabled>`))
	toks := drain(tz)

	require.Len(t, toks, 1)
	want := Token{
		Type:  StartTagToken,
		Name:  "div",
		Attrs: []Attr{{"class", "foo"}, {"id", "bar"}, {"disabled", ""}},
	}
	assert.Empty(t, cmp.Diff(want, toks[0]))
}

func TestTokenizer_Sequences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"text and tags", "<P>Hi <B>there</B></P>", []string{"<p>", "#Hi ", "<b>", "#there", "</b>", "</p>", "EOF"}},
		{"doctype", "<!DOCTYPE html><html>", []string{"<!DOCTYPE html>", "<html>", "EOF"}},
		{"comment", "a<!-- note -->b", []string{"#a", "<!-- note -->", "#b", "EOF"}},
		{"empty comment", "<!---->", []string{"<!---->", "EOF"}},
		{"comment with dashes", "<!-- a - b -- c -->", []string{"<!-- a - b -- c -->", "EOF"}},
		{"self closing", `<br/><img src="x.png" />`, []string{"<br/>", `<img src="x.png"/>`, "EOF"}},
		{"unquoted", "<a href=/x title=t>", []string{`<a href="/x" title="t">`, "EOF"}},
		{"character refs", "a &amp; b &lt;&#65;&#x42;", []string{"#a & b <AB", "EOF"}},
		{"unknown ref", "x &bogus; y", []string{"#x &bogus; y", "EOF"}},
		{"ref in attribute", `<a title="a&amp;b">`, []string{`<a title="a&b">`, "EOF"}},
		{"bogus comment", "<?xml version?>after", []string{"<!--?xml version?-->", "#after", "EOF"}},
		{"stray lt", "1 < 2", []string{"#1 < 2", "EOF"}},
		{"empty end tag", "a</>b", []string{"#ab", "EOF"}},
		{"script raw text", "<script>if (a<b) { x = '</div>' }</script>", []string{"<script>", "#if (a<b) { x = '</div>' }", "</script>", "EOF"}},
		{"title decodes refs", "<title>A &amp; B</title>", []string{"<title>", "#A & B", "</title>", "EOF"}},
		{"duplicate attribute", `<p id="a" ID="b">`, []string{`<p id="a">`, "EOF"}},
		{"eof mid tag", "<div class=", []string{`<div class="">`, "EOF"}},
		{"eof in comment", "<!-- open", []string{"<!-- open-->", "EOF"}},
		{"crlf", "a\r\nb\rc", []string{"#a\nb\nc", "EOF"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tz := NewTokenizer()
			tz.Feed([]byte(tt.input))
			tz.Close()
			assert.Equal(t, tt.want, collapse(drain(tz)))
		})
	}
}

func TestTokenizer_DoctypeIdentifiers(t *testing.T) {
	tz := NewTokenizer()
	tz.Feed([]byte(`<!DOCTYPE HTML PUBLIC "-//W3C//DTD HTML 4.01//EN" "http://www.w3.org/TR/html4/strict.dtd">`))
	toks := drain(tz)
	require.Len(t, toks, 1)
	assert.Equal(t, "html", toks[0].Name)
	assert.Equal(t, "-//W3C//DTD HTML 4.01//EN", toks[0].PublicID)
	assert.Equal(t, "http://www.w3.org/TR/html4/strict.dtd", toks[0].SystemID)
}

func TestTokenizer_ByteAtATime(t *testing.T) {
	input := `<!doctype html><p class="x">caf` + "é" + ` &amp; <!--c--><script>a</b></script></p>`

	whole := NewTokenizer()
	whole.Feed([]byte(input))
	whole.Close()
	want := collapse(drain(whole))

	inc := NewTokenizer()
	var got []Token
	for i := 0; i < len(input); i++ {
		inc.Feed([]byte{input[i]})
		got = append(got, drain(inc)...)
	}
	inc.Close()
	got = append(got, drain(inc)...)

	assert.Equal(t, want, collapse(got))
}

func TestTokenizer_UnderrunKeepsState(t *testing.T) {
	tz := NewTokenizer()
	tz.Feed([]byte("<di"))
	assert.Empty(t, drain(tz))
	assert.Equal(t, TagNameState, tz.State())
	assert.False(t, tz.Idle())

	tz.Feed([]byte("v>"))
	toks := drain(tz)
	require.Len(t, toks, 1)
	assert.Equal(t, "div", toks[0].Name)
	assert.True(t, tz.Idle())
}
