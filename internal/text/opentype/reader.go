// internal/text/opentype/reader.go
package opentype

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTruncated reports a read past the end of a table.
	ErrTruncated = errors.New("opentype: table truncated")
	// ErrInvalidFormat reports an unknown subtable format.
	ErrInvalidFormat = errors.New("opentype: invalid format")
)

// cursor reads big-endian fields from a table; the first failure sticks.
type cursor struct {
	b   []byte
	err error
}

func (c *cursor) fail(off int) {
	if c.err == nil {
		c.err = fmt.Errorf("%w: offset %d of %d bytes", ErrTruncated, off, len(c.b))
	}
}

func (c *cursor) u16(off int) uint16 {
	if c.err != nil {
		return 0
	}
	if off < 0 || off+2 > len(c.b) {
		c.fail(off)
		return 0
	}
	return binary.BigEndian.Uint16(c.b[off:])
}

func (c *cursor) i16(off int) int16 { return int16(c.u16(off)) }

func (c *cursor) u32(off int) uint32 {
	if c.err != nil {
		return 0
	}
	if off < 0 || off+4 > len(c.b) {
		c.fail(off)
		return 0
	}
	return binary.BigEndian.Uint32(c.b[off:])
}

// sub returns the table starting at off.
func (c *cursor) sub(off int) []byte {
	if c.err != nil {
		return nil
	}
	if off < 0 || off > len(c.b) {
		c.fail(off)
		return nil
	}
	return c.b[off:]
}

// u16s reads count consecutive uint16 values starting at off.
func (c *cursor) u16s(off, count int) []uint16 {
	if c.err != nil {
		return nil
	}
	if off < 0 || off+2*count > len(c.b) {
		c.fail(off + 2*count)
		return nil
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(c.b[off+2*i:])
	}
	return out
}

func (c *cursor) glyphs(off, count int) []GlyphID {
	raw := c.u16s(off, count)
	out := make([]GlyphID, len(raw))
	for i, g := range raw {
		out[i] = GlyphID(g)
	}
	return out
}
