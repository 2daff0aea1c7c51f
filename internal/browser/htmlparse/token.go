package htmlparse

import (
	"fmt"
	"strings"
)

// TokenType identifies the kind of a token.
type TokenType uint8

const (
	DoctypeToken TokenType = iota
	StartTagToken
	EndTagToken
	CharacterToken
	CommentToken
	EOFToken
)

func (t TokenType) String() string {
	switch t {
	case DoctypeToken:
		return "Doctype"
	case StartTagToken:
		return "StartTag"
	case EndTagToken:
		return "EndTag"
	case CharacterToken:
		return "Character"
	case CommentToken:
		return "Comment"
	case EOFToken:
		return "EOF"
	}
	return fmt.Sprintf("TokenType(%d)", uint8(t))
}

// Attr is an attribute as emitted by the tokenizer: name lowercased, value
// with character references decoded.
type Attr struct {
	Name  string
	Value string
}

// Token is one unit of tokenizer output.
type Token struct {
	Type        TokenType
	Name        string // tag or doctype name
	Attrs       []Attr
	SelfClosing bool
	Char        rune   // CharacterToken
	Data        string // CommentToken
	PublicID    string // DoctypeToken
	SystemID    string // DoctypeToken
}

func (t Token) String() string {
	switch t.Type {
	case StartTagToken:
		var b strings.Builder
		b.WriteString("<" + t.Name)
		for _, a := range t.Attrs {
			fmt.Fprintf(&b, " %s=%q", a.Name, a.Value)
		}
		if t.SelfClosing {
			b.WriteString("/")
		}
		b.WriteString(">")
		return b.String()
	case EndTagToken:
		return "</" + t.Name + ">"
	case CharacterToken:
		return string(t.Char)
	case CommentToken:
		return "<!--" + t.Data + "-->"
	case DoctypeToken:
		return "<!DOCTYPE " + t.Name + ">"
	}
	return t.Type.String()
}

// State is a tokenizer state.
type State uint8

const (
	DataState State = iota
	TagOpenState
	EndTagOpenState
	TagNameState
	BeforeAttrNameState
	AttrNameState
	AfterAttrNameState
	BeforeAttrValueState
	AttrValueDQState
	AttrValueSQState
	AttrValueUnquotedState
	AfterAttrValueQState
	SelfClosingStartState
	BogusCommentState
	MarkupDeclarationOpenState
	CommentStartState
	CommentStartDashState
	CommentState
	CommentLessThanState
	CommentEndDashState
	CommentEndState
	DoctypeState
	BeforeDoctypeNameState
	DoctypeNameState
	AfterDoctypeNameState
)

var stateNames = [...]string{
	"Data", "TagOpen", "EndTagOpen", "TagName", "BeforeAttrName", "AttrName", "AfterAttrName",
	"BeforeAttrValue", "AttrValueDQ", "AttrValueSQ", "AttrValueUnquoted", "AfterAttrValueQ",
	"SelfClosingStart", "BogusComment", "MarkupDeclarationOpen", "CommentStart", "CommentStartDash",
	"Comment", "CommentLessThan", "CommentEndDash", "CommentEnd", "Doctype", "BeforeDoctypeName",
	"DoctypeName", "AfterDoctypeName",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}
