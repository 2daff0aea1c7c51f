// internal/text/bidi/class.go
package bidi

import (
	xbidi "golang.org/x/text/unicode/bidi"
)

// Class is a Unicode bidirectional character type.
type Class uint8

const (
	L Class = iota
	R
	AL
	EN
	ES
	ET
	AN
	CS
	NSM
	BN
	B
	S
	WS
	ON
	LRE
	LRO
	RLE
	RLO
	PDF
	LRI
	RLI
	FSI
	PDI
)

var classNames = [...]string{
	"L", "R", "AL", "EN", "ES", "ET", "AN", "CS", "NSM", "BN", "B", "S", "WS", "ON",
	"LRE", "LRO", "RLE", "RLO", "PDF", "LRI", "RLI", "FSI", "PDI",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return "?"
}

var fromX = map[xbidi.Class]Class{
	xbidi.L: L, xbidi.R: R, xbidi.AL: AL, xbidi.EN: EN, xbidi.ES: ES, xbidi.ET: ET,
	xbidi.AN: AN, xbidi.CS: CS, xbidi.NSM: NSM, xbidi.BN: BN, xbidi.B: B, xbidi.S: S,
	xbidi.WS: WS, xbidi.ON: ON, xbidi.LRE: LRE, xbidi.LRO: LRO, xbidi.RLE: RLE,
	xbidi.RLO: RLO, xbidi.PDF: PDF, xbidi.LRI: LRI, xbidi.RLI: RLI, xbidi.FSI: FSI,
	xbidi.PDI: PDI,
}

// ClassOf returns the bidi class of r from the Unicode Character Database.
func ClassOf(r rune) Class {
	p, size := xbidi.LookupRune(r)
	if size == 0 {
		return L
	}
	if c, ok := fromX[p.Class()]; ok {
		return c
	}
	return ON
}

func (c Class) isStrong() bool { return c == L || c == R || c == AL }

func (c Class) isIsolateInitiator() bool { return c == LRI || c == RLI || c == FSI }

// removedByX9 reports classes that take no part in level resolution.
func (c Class) removedByX9() bool {
	switch c {
	case LRE, LRO, RLE, RLO, PDF, BN:
		return true
	}
	return false
}

func (c Class) isNeutralOrIsolate() bool {
	switch c {
	case B, S, WS, ON, LRI, RLI, FSI, PDI:
		return true
	}
	return false
}

// mirrors holds Bidi_Mirroring_Glyph pairs; the table is symmetric.
var mirrors = map[rune]rune{}

func init() {
	pairs := []rune{
		'(', ')', '<', '>', '[', ']', '{', '}', '«', '»',
		'‹', '›', '⁅', '⁆', '⁽', '⁾', '₍', '₎',
		'∈', '∋', '∉', '∌', '∊', '∍', '∕', '⧵',
		'∼', '∽', '≃', '⋍', '≒', '≓', '≔', '≕',
		'≤', '≥', '≦', '≧', '≪', '≫', '≮', '≯',
		'≰', '≱', '≲', '≳', '≶', '≷', '≺', '≻',
		'≼', '≽', '⊂', '⊃', '⊄', '⊅', '⊆', '⊇',
		'⊈', '⊉', '⊊', '⊋', '⊏', '⊐', '⊑', '⊒',
		'⊢', '⊣', '⊰', '⊱', '⊲', '⊳', '⊴', '⊵',
		'⋉', '⋊', '⋋', '⋌', '⋐', '⋑', '⋖', '⋗',
		'⋘', '⋙', '⋚', '⋛', '⋜', '⋝', '⋞', '⋟',
		'⋠', '⋡', '⋢', '⋣', '⋤', '⋥', '⋦', '⋧',
		'⋨', '⋩', '⋪', '⋫', '⋬', '⋭', '⋰', '⋱',
		'⌈', '⌉', '⌊', '⌋', '〈', '〉', '❨', '❩',
		'❪', '❫', '❬', '❭', '❮', '❯', '❰', '❱',
		'❲', '❳', '❴', '❵', '⟦', '⟧', '⟨', '⟩',
		'⟪', '⟫', '⦃', '⦄', '⦅', '⦆', '⦇', '⦈',
		'⦉', '⦊', '⦋', '⦌', '⦍', '⦐', '⦏', '⦎',
		'⦑', '⦒', '⦓', '⦔', '⦕', '⦖', '⦗', '⦘',
		'〈', '〉', '《', '》', '「', '」', '『', '』',
		'【', '】', '〔', '〕', '〖', '〗', '〘', '〙',
		'〚', '〛', '（', '）', '＜', '＞', '［', '］',
		'｛', '｝', '｟', '｠', '｢', '｣',
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		mirrors[pairs[i]] = pairs[i+1]
		mirrors[pairs[i+1]] = pairs[i]
	}
}

// MirrorChar returns the mirrored form of r, or r itself when it has none.
func MirrorChar(r rune) rune {
	if m, ok := mirrors[r]; ok {
		return m
	}
	return r
}
