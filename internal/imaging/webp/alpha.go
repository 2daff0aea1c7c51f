// internal/imaging/webp/alpha.go
package webp

import "fmt"

const (
	alphaRaw      = 0
	alphaLossless = 1
)

const (
	filterNone = iota
	filterHorizontal
	filterVertical
	filterGradient
)

// decodeAlpha decodes an ALPH chunk into a w*h plane.
func decodeAlpha(chunk []byte, w, h int) ([]byte, error) {
	if len(chunk) < 1 {
		return nil, fmt.Errorf("%w: empty ALPH chunk", ErrTruncated)
	}
	header := chunk[0]
	compression := int(header & 0x03)
	filter := int(header>>2) & 0x03

	var plane []byte
	switch compression {
	case alphaRaw:
		if len(chunk)-1 < w*h {
			return nil, fmt.Errorf("%w: raw alpha plane", ErrTruncated)
		}
		plane = make([]byte, w*h)
		copy(plane, chunk[1:])
	case alphaLossless:
		// The lossless stream has no header; its dimensions are the frame's.
		d := &vp8lDecoder{r: &lsbReader{data: chunk[1:]}}
		argb, err := d.decodeImage(w, h)
		if err != nil {
			return nil, fmt.Errorf("alpha: %w", err)
		}
		plane = make([]byte, w*h)
		for i, p := range argb {
			plane[i] = byte(p >> 8)
		}
	default:
		return nil, fmt.Errorf("%w: alpha compression %d", ErrFormat, compression)
	}
	unfilterAlpha(plane, w, h, filter)
	return plane, nil
}

// unfilterAlpha reverses the spatial prediction in place. The top-left sample
// predicts from zero, the first row from the left and the first column from
// above.
func unfilterAlpha(p []byte, w, h, filter int) {
	if filter == filterNone {
		return
	}
	for y := range h {
		row := y * w
		for x := range w {
			var pred byte
			switch {
			case x == 0 && y == 0:
				pred = 0
			case y == 0:
				pred = p[row+x-1]
			case x == 0:
				pred = p[row-w]
			default:
				left, up, upLeft := p[row+x-1], p[row-w+x], p[row-w+x-1]
				switch filter {
				case filterHorizontal:
					pred = left
				case filterVertical:
					pred = up
				case filterGradient:
					pred = byte(clamp255(int(left) + int(up) - int(upLeft)))
				}
			}
			p[row+x] += pred
		}
	}
}
