// internal/imaging/jpeg/huffman.go
package jpeg

import (
	"fmt"
)

// fastBits is the code length covered by the lookup table.
const fastBits = 8

// huffman is one DHT table. Codes of at most fastBits bits resolve through
// lookup; longer codes walk the canonical maxcode/valptr arrays.
type huffman struct {
	// lookup holds length<<8 | value, zero when the prefix needs the slow path.
	lookup  [1 << fastBits]uint16
	mincode [17]int32
	maxcode [17]int32
	valptr  [17]int32
	vals    []byte
	defined bool
}

// build constructs the canonical code from the 16 code-length counts.
func (h *huffman) build(counts [16]int, vals []byte) error {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 || total > 256 || total != len(vals) {
		return fmt.Errorf("%w: bad huffman table size %d", ErrFormat, total)
	}
	*h = huffman{vals: vals}

	code, k := int32(0), int32(0)
	for l := 1; l <= 16; l++ {
		n := int32(counts[l-1])
		if code+n > 1<<l {
			return fmt.Errorf("%w: over-subscribed huffman code", ErrFormat)
		}
		if n == 0 {
			h.maxcode[l] = -1
		} else {
			h.valptr[l] = k
			h.mincode[l] = code
			h.maxcode[l] = code + n - 1
			if l <= fastBits {
				for j := int32(0); j < n; j++ {
					c := code + j
					shift := uint(fastBits - l)
					for fill := int32(0); fill < 1<<shift; fill++ {
						h.lookup[c<<shift|fill] = uint16(l)<<8 | uint16(vals[k+j])
					}
				}
			}
		}
		code += n
		k += n
		code <<= 1
	}
	h.defined = true
	return nil
}

// bitReader reads entropy-coded data, removing 0xFF00 stuffing and stopping
// at the next marker. Past a marker it yields zero bits.
type bitReader struct {
	data   []byte
	pos    int
	acc    uint32
	n      uint
	marker bool
	// overrun counts zero bytes synthesized past the end of data.
	overrun int
}

func (b *bitReader) fill() {
	for b.n <= 24 {
		var c byte
		switch {
		case b.marker:
		case b.pos >= len(b.data):
			b.overrun++
		default:
			c = b.data[b.pos]
			if c == 0xFF {
				if b.pos+1 < len(b.data) && b.data[b.pos+1] == 0x00 {
					b.pos += 2
				} else {
					b.marker = true
					c = 0
				}
			} else {
				b.pos++
			}
		}
		b.acc |= uint32(c) << (24 - b.n)
		b.n += 8
	}
}

func (b *bitReader) bits(n uint) int32 {
	if n == 0 {
		return 0
	}
	b.fill()
	v := int32(b.acc >> (32 - n))
	b.acc <<= n
	b.n -= n
	return v
}

func (b *bitReader) bit() int32 {
	if b.n == 0 {
		b.fill()
	}
	v := int32(b.acc >> 31)
	b.acc <<= 1
	b.n--
	return v
}

// receiveExtend reads s bits and sign-extends them per the JPEG magnitude coding.
func (b *bitReader) receiveExtend(s uint8) int32 {
	if s == 0 {
		return 0
	}
	v := b.bits(uint(s))
	if v < 1<<(s-1) {
		v += (-1 << s) + 1
	}
	return v
}

func (b *bitReader) decode(h *huffman) (byte, error) {
	if !h.defined {
		return 0, fmt.Errorf("%w: undefined huffman table", ErrFormat)
	}
	if b.overrun > 4 {
		return 0, ErrTruncated
	}
	b.fill()
	if e := h.lookup[b.acc>>(32-fastBits)]; e != 0 {
		l := uint(e >> 8)
		b.acc <<= l
		b.n -= l
		return byte(e), nil
	}
	code := int32(0)
	for l := 1; l <= 16; l++ {
		code = code<<1 | b.bit()
		if code <= h.maxcode[l] {
			return h.vals[h.valptr[l]+code-h.mincode[l]], nil
		}
	}
	return 0, fmt.Errorf("%w: bad huffman code", ErrFormat)
}

// restart discards buffered bits and consumes the next RSTn marker.
func (b *bitReader) restart() error {
	b.acc, b.n, b.marker = 0, 0, false
	for b.pos+1 < len(b.data) {
		if b.data[b.pos] == 0xFF && b.data[b.pos+1] >= rst0 && b.data[b.pos+1] <= rst7 {
			b.pos += 2
			return nil
		}
		b.pos++
	}
	return fmt.Errorf("%w: missing restart marker", ErrFormat)
}
