// internal/text/shaping/linebreak.go
package shaping

import (
	"math"
	"strings"

	"github.com/rivo/uniseg"
)

// Line is one wrapped line: the byte range [Start, End) of the source text
// and its measured width without trailing whitespace.
type Line struct {
	Start, End int
	Width      float64
}

// Text returns the line's content without trailing whitespace.
func (l Line) Text(src string) string {
	return trimTrailing(src[l.Start:l.End])
}

// MeasureFunc returns the advance width of a run of text.
type MeasureFunc func(text string) float64

func trimTrailing(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}

// BreakLines fills lines greedily up to maxWidth using Unicode line-break
// opportunities. Mandatory breaks always end a line. A segment wider than
// maxWidth on its own overflows rather than splitting. An infinite width
// yields one line per mandatory break.
func BreakLines(text string, maxWidth float64, measure MeasureFunc) []Line {
	if text == "" {
		return nil
	}
	var lines []Line
	start, pos := 0, 0
	state := -1
	rest := text
	emit := func(end int) {
		lines = append(lines, Line{Start: start, End: end, Width: measure(trimTrailing(text[start:end]))})
		start = end
	}
	for len(rest) > 0 {
		var segment string
		var mustBreak bool
		segment, rest, mustBreak, state = uniseg.FirstLineSegmentInString(rest, state)
		end := pos + len(segment)
		if start < pos && !math.IsInf(maxWidth, 1) && measure(trimTrailing(text[start:end])) > maxWidth {
			emit(pos)
		}
		pos = end
		if mustBreak {
			emit(pos)
		}
	}
	if start < len(text) {
		emit(len(text))
	}
	return lines
}
