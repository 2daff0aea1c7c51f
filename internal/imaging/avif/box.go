// internal/imaging/avif/box.go
package avif

import (
	"encoding/binary"
	"fmt"
)

// Box is one ISOBMFF box. Payload excludes the header.
type Box struct {
	Type    string
	Offset  int
	Payload []byte
}

// ReadBoxes splits data into consecutive boxes. A size of 1 reads a 64-bit
// largesize; a size of 0 extends the box to the end of data.
func ReadBoxes(data []byte) ([]Box, error) {
	var boxes []Box
	for off := 0; off < len(data); {
		if len(data)-off < 8 {
			return nil, fmt.Errorf("%w: box header at %d", ErrTruncated, off)
		}
		size := uint64(binary.BigEndian.Uint32(data[off:]))
		typ := string(data[off+4 : off+8])
		hdr := 8
		switch size {
		case 1:
			if len(data)-off < 16 {
				return nil, fmt.Errorf("%w: largesize of %q", ErrTruncated, typ)
			}
			size = binary.BigEndian.Uint64(data[off+8:])
			hdr = 16
		case 0:
			size = uint64(len(data) - off)
		}
		if size < uint64(hdr) || size > uint64(len(data)-off) {
			return nil, fmt.Errorf("%w: box %q size %d", ErrTruncated, typ, size)
		}
		boxes = append(boxes, Box{Type: typ, Offset: off, Payload: data[off+hdr : off+int(size)]})
		off += int(size)
	}
	return boxes, nil
}

func find(boxes []Box, typ string) *Box {
	for i := range boxes {
		if boxes[i].Type == typ {
			return &boxes[i]
		}
	}
	return nil
}

// reader is a big-endian cursor. The first short read sets err and all later
// reads return zero.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.b)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at %d", ErrTruncated, n, r.off)
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

func (r *reader) u8() uint8 {
	if p := r.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if p := r.take(2); p != nil {
		return binary.BigEndian.Uint16(p)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if p := r.take(4); p != nil {
		return binary.BigEndian.Uint32(p)
	}
	return 0
}

// sized reads an unsigned integer of 0, 4 or 8 bytes.
func (r *reader) sized(size int) uint64 {
	switch size {
	case 0:
		return 0
	case 4:
		return uint64(r.u32())
	case 8:
		if p := r.take(8); p != nil {
			return binary.BigEndian.Uint64(p)
		}
		return 0
	}
	if r.err == nil {
		r.err = fmt.Errorf("%w: field size %d", ErrFormat, size)
	}
	return 0
}

func (r *reader) fourCC() string { return string(r.take(4)) }

// fullBox reads the version and 24-bit flags.
func (r *reader) fullBox() (version uint8, flags uint32) {
	v := r.u32()
	return uint8(v >> 24), v & 0xFFFFFF
}

// cstring reads a NUL-terminated string; a missing terminator takes the rest.
func (r *reader) cstring() string {
	if r.err != nil {
		return ""
	}
	rest := r.b[r.off:]
	for i, c := range rest {
		if c == 0 {
			r.off += i + 1
			return string(rest[:i])
		}
	}
	r.off = len(r.b)
	return string(rest)
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	p := r.b[r.off:]
	r.off = len(r.b)
	return p
}
