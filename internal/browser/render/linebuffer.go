// internal/browser/render/linebuffer.go
package render

import (
	"github.com/xkilldash9x/loupe/internal/browser/style"
)

// LinkBlue is the color of anchor text.
var LinkBlue = style.Color{R: 0x06, G: 0x45, B: 0xAD, A: 0xFF}

// LineHeightFactor scales font size to line and link-region height.
const LineHeightFactor = 1.2

// segment is a run of text sharing one font, color and link target.
type segment struct {
	Text      string
	FontSize  float64
	Color     style.Color
	X         float64
	Width     float64
	Href      string
	Underline bool
	variant   fontVariant
}

func (s segment) sameRun(o segment) bool {
	return s.FontSize == o.FontSize && s.Color == o.Color && s.Href == o.Href &&
		s.Underline == o.Underline && s.variant == o.variant
}

// lineBuffer accumulates segments for one visual line.
type lineBuffer struct {
	segs  []segment
	left  float64
	x     float64
	limit float64
}

func (l *lineBuffer) empty() bool { return len(l.segs) == 0 }

// fits reports whether a word of width w fits on the current line. A word
// always fits on an empty line.
func (l *lineBuffer) fits(w float64) bool {
	return l.empty() || l.x+w <= l.limit
}

// add appends text at the current x, merging with the previous segment when
// the run attributes match.
func (l *lineBuffer) add(seg segment) {
	if n := len(l.segs); n > 0 && l.segs[n-1].sameRun(seg) {
		l.segs[n-1].Text += seg.Text
		l.segs[n-1].Width += seg.Width
	} else {
		seg.X = l.x
		l.segs = append(l.segs, seg)
	}
	l.x += seg.Width
}

// height is the line box height: the tallest segment times the line factor.
func (l *lineBuffer) height() float64 {
	size := 0.0
	for _, s := range l.segs {
		size = max(size, s.FontSize)
	}
	return size * LineHeightFactor
}

func (l *lineBuffer) ascent() float64 {
	size := 0.0
	for _, s := range l.segs {
		size = max(size, s.FontSize)
	}
	return size
}

// align shifts every segment for center and right alignment.
func (l *lineBuffer) align(a style.TextAlign) {
	used := l.x - l.left
	free := l.limit - l.left - used
	if free <= 0 {
		return
	}
	shift := 0.0
	switch a {
	case style.TextAlignCenter:
		shift = free / 2
	case style.TextAlignRight:
		shift = free
	default:
		return
	}
	for i := range l.segs {
		l.segs[i].X += shift
	}
}

func (l *lineBuffer) reset() {
	l.segs = l.segs[:0]
	l.x = l.left
}
