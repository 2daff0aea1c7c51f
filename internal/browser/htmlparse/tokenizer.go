package htmlparse

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/loupe/internal/intern"
	"golang.org/x/net/html"
)

// maxCharRefLen bounds the lookahead spent on a character reference.
const maxCharRefLen = 32

// Tokenizer is a byte-fed HTML tokenizer. Input arrives through Feed in
// arbitrary slices; Next returns tokens as soon as enough bytes are buffered
// to commit them, and reports false on underrun.
type Tokenizer struct {
	buf   []byte
	pos   int
	eof   bool
	done  bool
	state State

	pending []Token

	// Tag under construction.
	isEnd       bool
	tagName     []byte
	selfClosing bool
	attrs       []Attr
	attrName    []byte
	attrValue   []byte
	inAttr      bool

	comment []byte

	doctypeName  []byte
	doctypeRest  []byte
	doctypeQuote byte

	// rawEnd holds "</name" while inside raw text elements (script, style);
	// rcdata marks elements whose text still decodes references (title, textarea).
	rawEnd []byte
	rcdata bool
}

// NewTokenizer returns a tokenizer in the Data state with an empty buffer.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{state: DataState}
}

// Feed appends input. Any unconsumed tail from earlier feeds is preserved.
func (t *Tokenizer) Feed(p []byte) {
	if t.pos > 0 && t.pos == len(t.buf) {
		t.buf = t.buf[:0]
		t.pos = 0
	} else if t.pos > 4096 && t.pos > len(t.buf)/2 {
		n := copy(t.buf, t.buf[t.pos:])
		t.buf = t.buf[:n]
		t.pos = 0
	}
	t.buf = append(t.buf, p...)
}

// Close signals that no more input will arrive.
func (t *Tokenizer) Close() { t.eof = true }

// State returns the current state.
func (t *Tokenizer) State() State { return t.state }

// Buffered reports how many fed bytes are not yet consumed.
func (t *Tokenizer) Buffered() int { return len(t.buf) - t.pos }

// Idle reports whether the tokenizer is between tokens in the Data state.
func (t *Tokenizer) Idle() bool {
	return t.state == DataState && len(t.rawEnd) == 0 && len(t.pending) == 0
}

// Next returns the next token. ok is false when more input is needed, or
// after the EOF token has been returned.
func (t *Tokenizer) Next() (tok Token, ok bool) {
	for len(t.pending) == 0 {
		if t.done {
			return Token{}, false
		}
		if !t.step() {
			if !t.eof {
				return Token{}, false
			}
			t.flushAtEOF()
		}
	}
	tok = t.pending[0]
	t.pending = t.pending[1:]
	return tok, true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\f' || c == '\r'
}

func isAlpha(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func (t *Tokenizer) emitChar(r rune) {
	t.pending = append(t.pending, Token{Type: CharacterToken, Char: r})
}

func (t *Tokenizer) emitString(s string) {
	for _, r := range s {
		t.emitChar(r)
	}
}

func (t *Tokenizer) startTag(end bool) {
	t.isEnd = end
	t.tagName = t.tagName[:0]
	t.selfClosing = false
	t.attrs = nil
	t.inAttr = false
}

func (t *Tokenizer) startAttr() {
	t.commitAttr()
	t.attrName = t.attrName[:0]
	t.attrValue = t.attrValue[:0]
	t.inAttr = true
}

func (t *Tokenizer) commitAttr() {
	if !t.inAttr {
		return
	}
	t.inAttr = false
	name := intern.ToLowerASCII(string(t.attrName))
	for _, a := range t.attrs {
		if a.Name == name {
			// Duplicate attributes keep the first occurrence.
			return
		}
	}
	t.attrs = append(t.attrs, Attr{Name: name, Value: html.UnescapeString(string(t.attrValue))})
}

func (t *Tokenizer) emitTag() {
	t.commitAttr()
	name := intern.ToLowerASCII(string(t.tagName))
	if t.isEnd {
		t.pending = append(t.pending, Token{Type: EndTagToken, Name: name})
		return
	}
	t.pending = append(t.pending, Token{Type: StartTagToken, Name: name, Attrs: t.attrs, SelfClosing: t.selfClosing})
	if t.selfClosing {
		return
	}
	switch name {
	case "script", "style", "xmp", "iframe", "noembed", "noframes":
		t.rawEnd = []byte("</" + name)
		t.rcdata = false
	case "title", "textarea":
		t.rawEnd = []byte("</" + name)
		t.rcdata = true
	}
}

func (t *Tokenizer) emitComment() {
	t.pending = append(t.pending, Token{Type: CommentToken, Data: string(t.comment)})
	t.comment = t.comment[:0]
}

func (t *Tokenizer) emitDoctype() {
	tok := Token{Type: DoctypeToken, Name: intern.ToLowerASCII(string(t.doctypeName))}
	tok.PublicID, tok.SystemID = parseDoctypeIDs(string(t.doctypeRest))
	t.pending = append(t.pending, tok)
	t.doctypeName = t.doctypeName[:0]
	t.doctypeRest = t.doctypeRest[:0]
	t.doctypeQuote = 0
}

// parseDoctypeIDs extracts identifiers from the text after the doctype name,
// e.g. `PUBLIC "-//W3C//DTD HTML 4.01//EN" "http://www.w3.org/TR/html4/strict.dtd"`.
func parseDoctypeIDs(rest string) (public, system string) {
	var quoted []string
	for i := 0; i < len(rest); i++ {
		q := rest[i]
		if q != '"' && q != '\'' {
			continue
		}
		j := strings.IndexByte(rest[i+1:], q)
		if j < 0 {
			quoted = append(quoted, rest[i+1:])
			break
		}
		quoted = append(quoted, rest[i+1:i+1+j])
		i += j + 1
	}
	keyword := strings.ToUpper(strings.TrimSpace(rest))
	switch {
	case strings.HasPrefix(keyword, "PUBLIC"):
		if len(quoted) > 0 {
			public = quoted[0]
		}
		if len(quoted) > 1 {
			system = quoted[1]
		}
	case strings.HasPrefix(keyword, "SYSTEM"):
		if len(quoted) > 0 {
			system = quoted[0]
		}
	}
	return public, system
}

// step consumes input for the current state. It returns false when the
// buffer cannot commit anything further.
func (t *Tokenizer) step() bool {
	if t.pos >= len(t.buf) {
		return false
	}
	c := t.buf[t.pos]

	switch t.state {
	case DataState:
		return t.stepData(c)

	case TagOpenState:
		switch {
		case c == '!':
			t.pos++
			t.state = MarkupDeclarationOpenState
		case c == '/':
			t.pos++
			t.state = EndTagOpenState
		case isAlpha(c):
			t.startTag(false)
			t.state = TagNameState
		case c == '?':
			t.comment = t.comment[:0]
			t.state = BogusCommentState
		default:
			t.emitChar('<')
			t.state = DataState
		}

	case EndTagOpenState:
		switch {
		case isAlpha(c):
			t.startTag(true)
			t.state = TagNameState
		case c == '>':
			t.pos++
			t.state = DataState
		default:
			t.comment = t.comment[:0]
			t.state = BogusCommentState
		}

	case TagNameState:
		t.pos++
		switch {
		case isSpace(c):
			t.state = BeforeAttrNameState
		case c == '/':
			t.state = SelfClosingStartState
		case c == '>':
			t.emitTag()
			t.state = DataState
		default:
			t.tagName = append(t.tagName, c)
		}

	case BeforeAttrNameState:
		switch {
		case isSpace(c):
			t.pos++
		case c == '/' || c == '>':
			t.state = AfterAttrNameState
		case c == '=':
			t.pos++
			t.startAttr()
			t.attrName = append(t.attrName, c)
			t.state = AttrNameState
		default:
			t.startAttr()
			t.state = AttrNameState
		}

	case AttrNameState:
		switch {
		case isSpace(c):
			t.pos++
			t.state = AfterAttrNameState
		case c == '/' || c == '>':
			t.state = AfterAttrNameState
		case c == '=':
			t.pos++
			t.state = BeforeAttrValueState
		default:
			t.pos++
			t.attrName = append(t.attrName, c)
		}

	case AfterAttrNameState:
		switch {
		case isSpace(c):
			t.pos++
		case c == '/':
			t.pos++
			t.commitAttr()
			t.state = SelfClosingStartState
		case c == '=':
			t.pos++
			t.state = BeforeAttrValueState
		case c == '>':
			t.pos++
			t.emitTag()
			t.state = DataState
		default:
			t.startAttr()
			t.state = AttrNameState
		}

	case BeforeAttrValueState:
		switch {
		case isSpace(c):
			t.pos++
		case c == '"':
			t.pos++
			t.state = AttrValueDQState
		case c == '\'':
			t.pos++
			t.state = AttrValueSQState
		case c == '>':
			t.pos++
			t.emitTag()
			t.state = DataState
		default:
			t.state = AttrValueUnquotedState
		}

	case AttrValueDQState, AttrValueSQState:
		quote := byte('"')
		if t.state == AttrValueSQState {
			quote = '\''
		}
		// Consume a run of value bytes at once.
		end := bytes.IndexByte(t.buf[t.pos:], quote)
		if end < 0 {
			t.attrValue = append(t.attrValue, t.buf[t.pos:]...)
			t.pos = len(t.buf)
			return true
		}
		t.attrValue = append(t.attrValue, t.buf[t.pos:t.pos+end]...)
		t.pos += end + 1
		t.commitAttr()
		t.state = AfterAttrValueQState

	case AttrValueUnquotedState:
		switch {
		case isSpace(c):
			t.pos++
			t.commitAttr()
			t.state = BeforeAttrNameState
		case c == '>':
			t.pos++
			t.emitTag()
			t.state = DataState
		default:
			t.pos++
			t.attrValue = append(t.attrValue, c)
		}

	case AfterAttrValueQState:
		switch {
		case isSpace(c):
			t.pos++
			t.state = BeforeAttrNameState
		case c == '/':
			t.pos++
			t.state = SelfClosingStartState
		case c == '>':
			t.pos++
			t.emitTag()
			t.state = DataState
		default:
			t.state = BeforeAttrNameState
		}

	case SelfClosingStartState:
		if c == '>' {
			t.pos++
			t.selfClosing = true
			t.emitTag()
			t.state = DataState
		} else {
			t.state = BeforeAttrNameState
		}

	case BogusCommentState:
		t.pos++
		if c == '>' {
			t.emitComment()
			t.state = DataState
		} else {
			t.comment = append(t.comment, c)
		}

	case MarkupDeclarationOpenState:
		return t.stepMarkupDeclaration()

	case CommentStartState:
		switch c {
		case '-':
			t.pos++
			t.state = CommentStartDashState
		case '>':
			t.pos++
			t.emitComment()
			t.state = DataState
		default:
			t.state = CommentState
		}

	case CommentStartDashState:
		switch c {
		case '-':
			t.pos++
			t.state = CommentEndState
		case '>':
			t.pos++
			t.emitComment()
			t.state = DataState
		default:
			t.comment = append(t.comment, '-')
			t.state = CommentState
		}

	case CommentState:
		t.pos++
		switch c {
		case '<':
			t.comment = append(t.comment, c)
			t.state = CommentLessThanState
		case '-':
			t.state = CommentEndDashState
		default:
			t.comment = append(t.comment, c)
		}

	case CommentLessThanState:
		if c == '!' || c == '<' {
			t.pos++
			t.comment = append(t.comment, c)
		} else {
			t.state = CommentState
		}

	case CommentEndDashState:
		if c == '-' {
			t.pos++
			t.state = CommentEndState
		} else {
			t.comment = append(t.comment, '-')
			t.state = CommentState
		}

	case CommentEndState:
		switch c {
		case '>':
			t.pos++
			t.emitComment()
			t.state = DataState
		case '-':
			t.pos++
			t.comment = append(t.comment, '-')
		default:
			t.comment = append(t.comment, '-', '-')
			t.state = CommentState
		}

	case DoctypeState:
		if isSpace(c) {
			t.pos++
		}
		t.state = BeforeDoctypeNameState

	case BeforeDoctypeNameState:
		switch {
		case isSpace(c):
			t.pos++
		case c == '>':
			t.pos++
			t.emitDoctype()
			t.state = DataState
		default:
			t.pos++
			t.doctypeName = append(t.doctypeName, c)
			t.state = DoctypeNameState
		}

	case DoctypeNameState:
		t.pos++
		switch {
		case isSpace(c):
			t.state = AfterDoctypeNameState
		case c == '>':
			t.emitDoctype()
			t.state = DataState
		default:
			t.doctypeName = append(t.doctypeName, c)
		}

	case AfterDoctypeNameState:
		t.pos++
		switch {
		case t.doctypeQuote != 0:
			if c == t.doctypeQuote {
				t.doctypeQuote = 0
			}
			t.doctypeRest = append(t.doctypeRest, c)
		case c == '"' || c == '\'':
			t.doctypeQuote = c
			t.doctypeRest = append(t.doctypeRest, c)
		case c == '>':
			t.emitDoctype()
			t.state = DataState
		default:
			t.doctypeRest = append(t.doctypeRest, c)
		}
	}
	return true
}

func (t *Tokenizer) stepData(c byte) bool {
	if len(t.rawEnd) > 0 {
		return t.stepRawText(c)
	}
	switch c {
	case '<':
		t.pos++
		t.state = TagOpenState
		return true
	case '&':
		return t.stepCharRef()
	}
	return t.stepRune()
}

func (t *Tokenizer) stepRune() bool {
	rest := t.buf[t.pos:]
	if !utf8.FullRune(rest) && !t.eof {
		return false
	}
	r, size := utf8.DecodeRune(rest)
	t.pos += size
	if r == '\r' {
		// Normalize CRLF and lone CR to LF.
		if t.pos < len(t.buf) && t.buf[t.pos] == '\n' {
			t.pos++
		} else if t.pos >= len(t.buf) && !t.eof {
			t.pos -= size
			return false
		}
		r = '\n'
	}
	t.emitChar(r)
	return true
}

// stepCharRef decodes a reference like &amp; or &#x41; starting at '&'.
func (t *Tokenizer) stepCharRef() bool {
	rest := t.buf[t.pos:]
	end := 1
	for end < len(rest) && end < maxCharRefLen {
		c := rest[end]
		if c == ';' {
			end++
			break
		}
		if !(isAlpha(c) || ('0' <= c && c <= '9') || (end == 1 && c == '#')) {
			break
		}
		end++
	}
	if end == len(rest) && !t.eof && end < maxCharRefLen && rest[end-1] != ';' {
		return false
	}
	ref := string(rest[:end])
	decoded := html.UnescapeString(ref)
	if decoded == ref {
		t.pos++
		t.emitChar('&')
		return true
	}
	t.pos += end
	t.emitString(decoded)
	return true
}

// stepRawText emits characters until the closing tag of the raw text element.
func (t *Tokenizer) stepRawText(c byte) bool {
	if c == '<' {
		rest := t.buf[t.pos:]
		n := len(t.rawEnd)
		if len(rest) <= n {
			if !t.eof && hasPrefixFold(t.rawEnd, rest) {
				return false
			}
		} else if hasPrefixFold(rest[:n], t.rawEnd) {
			next := rest[n]
			if isSpace(next) || next == '>' || next == '/' {
				t.rawEnd = nil
				t.rcdata = false
				t.pos++
				t.state = TagOpenState
				return true
			}
		}
	}
	if c == '&' && t.rcdata {
		return t.stepCharRef()
	}
	return t.stepRune()
}

// hasPrefixFold reports whether s begins with prefix under ASCII case folding.
func hasPrefixFold(s, prefix []byte) bool {
	if len(s) < len(prefix) {
		return false
	}
	return intern.EqualFoldASCII(string(s[:len(prefix)]), string(prefix))
}

func (t *Tokenizer) stepMarkupDeclaration() bool {
	rest := t.buf[t.pos:]
	switch {
	case bytes.HasPrefix(rest, []byte("--")):
		t.pos += 2
		t.comment = t.comment[:0]
		t.state = CommentStartState
		return true
	case hasPrefixFold(rest, []byte("doctype")):
		t.pos += len("doctype")
		t.state = DoctypeState
		return true
	case !t.eof && (hasPrefixFold([]byte("doctype"), rest) || bytes.HasPrefix([]byte("--"), rest) || bytes.HasPrefix([]byte("[CDATA["), rest)):
		return false
	case bytes.HasPrefix(rest, []byte("[CDATA[")):
		t.pos += len("[CDATA[")
		end := bytes.Index(t.buf[t.pos:], []byte("]]>"))
		if end < 0 {
			if !t.eof {
				t.pos -= len("[CDATA[")
				return false
			}
			end = len(t.buf) - t.pos
			t.emitString(string(t.buf[t.pos : t.pos+end]))
			t.pos = len(t.buf)
			return true
		}
		t.emitString(string(t.buf[t.pos : t.pos+end]))
		t.pos += end + 3
		t.state = DataState
		return true
	}
	t.comment = t.comment[:0]
	t.state = BogusCommentState
	return true
}

// flushAtEOF emits whatever partial construct is open, then the EOF token.
func (t *Tokenizer) flushAtEOF() {
	switch t.state {
	case TagOpenState:
		t.emitChar('<')
	case EndTagOpenState:
		t.emitString("</")
	case TagNameState, BeforeAttrNameState, AttrNameState, AfterAttrNameState, BeforeAttrValueState,
		AttrValueDQState, AttrValueSQState, AttrValueUnquotedState, AfterAttrValueQState, SelfClosingStartState:
		t.emitTag()
	case BogusCommentState, CommentStartState, CommentStartDashState, CommentState,
		CommentLessThanState, CommentEndDashState, CommentEndState:
		t.emitComment()
	case MarkupDeclarationOpenState:
		t.comment = append(t.comment[:0], t.buf[t.pos:]...)
		t.pos = len(t.buf)
		t.emitComment()
	case DoctypeState, BeforeDoctypeNameState, DoctypeNameState, AfterDoctypeNameState:
		t.emitDoctype()
	}
	t.state = DataState
	t.rawEnd = nil
	t.pending = append(t.pending, Token{Type: EOFToken})
	t.done = true
}
