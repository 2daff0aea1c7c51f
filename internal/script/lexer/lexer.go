// internal/script/lexer/lexer.go
package lexer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	plexer "github.com/alecthomas/participle/v2/lexer"
)

// Kind classifies a token.
type Kind uint8

const (
	EOF Kind = iota
	Ident
	Keyword
	Number
	String
	Punct
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "end of input"
	case Ident:
		return "identifier"
	case Keyword:
		return "keyword"
	case Number:
		return "number"
	case String:
		return "string"
	case Punct:
		return "punctuator"
	}
	return "token(" + strconv.Itoa(int(k)) + ")"
}

// Token is one lexical token. Text is the raw source; for strings Value
// holds the decoded contents.
type Token struct {
	Kind  Kind
	Text  string
	Value string
	Num   float64
	Line  int
	Col   int
	// NewlineBefore is set when a line terminator separates this token from
	// the previous one, which drives semicolon insertion.
	NewlineBefore bool
}

func (t Token) String() string {
	if t.Kind == EOF {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s %q", t.Kind, t.Text)
}

// Is reports whether t is the punctuator or keyword s.
func (t Token) Is(s string) bool {
	return (t.Kind == Punct || t.Kind == Keyword) && t.Text == s
}

// SyntaxError reports a lexing or parsing failure at a source position.
type SyntaxError struct {
	Line, Col int
	Msg       string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("SyntaxError: %s (line %d, column %d)", e.Msg, e.Line, e.Col)
}

var keywords = map[string]bool{
	"var": true, "let": true, "const": true, "function": true, "return": true,
	"if": true, "else": true, "while": true, "do": true, "for": true,
	"break": true, "continue": true, "try": true, "catch": true, "finally": true,
	"throw": true, "new": true, "this": true, "typeof": true, "void": true,
	"delete": true, "in": true, "instanceof": true, "true": true, "false": true,
	"null": true,
}

// IsKeyword reports whether s is a reserved word.
func IsKeyword(s string) bool { return keywords[s] }

var (
	definition = plexer.MustSimple([]plexer.SimpleRule{
		{Name: "Newline", Pattern: `\r\n|[\r\n\x{2028}\x{2029}]`},
		{Name: "Whitespace", Pattern: `[ \t\f\v\x{00a0}\x{feff}]+`},
		{Name: "LineComment", Pattern: `//[^\r\n]*`},
		{Name: "BlockComment", Pattern: `/\*[^*]*\*+(?:[^/*][^*]*\*+)*/`},
		{Name: "Number", Pattern: `0[xX][0-9a-fA-F]+|0[bB][01]+|0[oO][0-7]+|(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`},
		{Name: "String", Pattern: `"(?:\\(?:\r\n|[\s\S])|[^"\\\r\n])*"|'(?:\\(?:\r\n|[\s\S])|[^'\\\r\n])*'`},
		{Name: "Ident", Pattern: `[A-Za-z_$\p{L}][A-Za-z0-9_$\p{L}\p{Nd}]*`},
		{Name: "Punct", Pattern: `>>>=|\.\.\.|===|!==|\*\*=|<<=|>>=|>>>|=>|==|!=|<=|>=|&&|\|\||\?\?|\+\+|--|\+=|-=|\*=|/=|%=|&=|\|=|\^=|\*\*|<<|>>|[{}()\[\];,<>+\-*/%&|^!~?:=.]`},
	})
	symbols = definition.Symbols()

	newlineType      = symbols["Newline"]
	whitespaceType   = symbols["Whitespace"]
	lineCommentType  = symbols["LineComment"]
	blockCommentType = symbols["BlockComment"]
	numberType       = symbols["Number"]
	stringType       = symbols["String"]
	identType        = symbols["Ident"]
)

// Tokenize splits src into tokens ending with a single EOF token.
func Tokenize(src string) ([]Token, error) {
	lex, err := definition.LexString("", src)
	if err != nil {
		return nil, err
	}
	raw, err := plexer.ConsumeAll(lex)
	if err != nil {
		var lexErr *plexer.Error
		if errors.As(err, &lexErr) {
			return nil, &SyntaxError{Line: lexErr.Pos.Line, Col: lexErr.Pos.Column, Msg: "unexpected character"}
		}
		return nil, err
	}

	tokens := make([]Token, 0, len(raw)/2+1)
	newline := false
	for _, rt := range raw {
		tok := Token{Text: rt.Value, Line: rt.Pos.Line, Col: rt.Pos.Column}
		switch rt.Type {
		case newlineType:
			newline = true
			continue
		case whitespaceType, lineCommentType:
			continue
		case blockCommentType:
			if strings.ContainsAny(rt.Value, "\r\n\u2028\u2029") {
				newline = true
			}
			continue
		case plexer.EOF:
			tok.Kind = EOF
		case numberType:
			tok.Kind = Number
			tok.Num = parseNumber(rt.Value)
		case stringType:
			tok.Kind = String
			v, err := unescape(rt.Value[1 : len(rt.Value)-1])
			if err != nil {
				return nil, &SyntaxError{Line: tok.Line, Col: tok.Col, Msg: err.Error()}
			}
			tok.Value = v
		case identType:
			tok.Kind = Ident
			if keywords[rt.Value] {
				tok.Kind = Keyword
			}
		default:
			tok.Kind = Punct
		}
		tok.NewlineBefore = newline
		newline = false
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 || tokens[len(tokens)-1].Kind != EOF {
		tokens = append(tokens, Token{Kind: EOF, NewlineBefore: newline})
	}
	return tokens, nil
}

func parseNumber(s string) float64 {
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'b', 'B':
			base = 2
		case 'o', 'O':
			base = 8
		}
		if base != 0 {
			var n float64
			for _, c := range s[2:] {
				d, _ := strconv.ParseUint(string(c), base, 8)
				n = n*float64(base) + float64(d)
			}
			return n
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Out of range literals round to infinity.
		return math.Inf(1)
	}
	return f
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", errors.New("unterminated escape sequence")
		}
		switch c = s[i]; c {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case '\r':
			// Line continuation.
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		case '\n':
		case 'x':
			if i+2 >= len(s) {
				return "", errors.New("malformed hexadecimal escape")
			}
			n, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", errors.New("malformed hexadecimal escape")
			}
			b.WriteRune(rune(n))
			i += 2
		case 'u':
			r, n, err := unicodeEscape(s[i+1:])
			if err != nil {
				return "", err
			}
			b.WriteRune(r)
			i += n
		default:
			// Any other escaped character stands for itself.
			r, size := utf8.DecodeRuneInString(s[i:])
			b.WriteRune(r)
			i += size - 1
		}
	}
	return b.String(), nil
}

// unicodeEscape decodes the part after \u and returns the consumed length.
func unicodeEscape(s string) (rune, int, error) {
	if strings.HasPrefix(s, "{") {
		end := strings.IndexByte(s, '}')
		if end < 2 {
			return 0, 0, errors.New("malformed unicode escape")
		}
		n, err := strconv.ParseUint(s[1:end], 16, 32)
		if err != nil || n > utf8.MaxRune {
			return 0, 0, errors.New("malformed unicode escape")
		}
		return rune(n), end + 1, nil
	}
	if len(s) < 4 {
		return 0, 0, errors.New("malformed unicode escape")
	}
	n, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, 0, errors.New("malformed unicode escape")
	}
	r := rune(n)
	// Combine a surrogate pair written as two escapes.
	if r >= 0xD800 && r < 0xDC00 && len(s) >= 10 && s[4] == '\\' && s[5] == 'u' {
		if lo, err := strconv.ParseUint(s[6:10], 16, 16); err == nil && lo >= 0xDC00 && lo < 0xE000 {
			return (r-0xD800)<<10 + (rune(lo) - 0xDC00) + 0x10000, 10, nil
		}
	}
	return r, 4, nil
}
