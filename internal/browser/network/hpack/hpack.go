// File: internal/browser/network/hpack/hpack.go
package hpack

import (
	"errors"
	"fmt"

	xhpack "golang.org/x/net/http2/hpack"
)

var (
	// ErrTableCorrupt reports an index or size update that does not fit the
	// dynamic table; the connection's header state can no longer be trusted.
	ErrTableCorrupt = errors.New("hpack: dynamic table corrupt")
	ErrTruncated    = errors.New("hpack: truncated header block")
	ErrIntOverflow  = errors.New("hpack: integer overflow")
	ErrStringLength = errors.New("hpack: string too long")
)

// DefaultTableSize is SETTINGS_HEADER_TABLE_SIZE before negotiation.
const DefaultTableSize = 4096

// AppendInteger appends i using an n-bit prefix. first carries the
// representation bits above the prefix.
func AppendInteger(dst []byte, first byte, n uint8, i uint64) []byte {
	limit := uint64(1)<<n - 1
	if i < limit {
		return append(dst, first|byte(i))
	}
	dst = append(dst, first|byte(limit))
	for i -= limit; i >= 0x80; i >>= 7 {
		dst = append(dst, byte(i)|0x80)
	}
	return append(dst, byte(i))
}

// ReadInteger decodes an n-bit prefix integer from p and returns the rest.
func ReadInteger(p []byte, n uint8) (uint64, []byte, error) {
	if len(p) == 0 {
		return 0, p, ErrTruncated
	}
	limit := uint64(1)<<n - 1
	i := uint64(p[0]) & limit
	p = p[1:]
	if i < limit {
		return i, p, nil
	}
	var shift uint
	for len(p) > 0 {
		b := p[0]
		p = p[1:]
		if shift > 56 {
			return 0, p, ErrIntOverflow
		}
		i += uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return i, p, nil
		}
		shift += 7
	}
	return 0, p, ErrTruncated
}

// AppendString appends a length-prefixed string literal, Huffman coded
// when that is shorter and huffman is set.
func AppendString(dst []byte, s string, huffman bool) []byte {
	if huffman {
		if n := xhpack.HuffmanEncodeLength(s); n < uint64(len(s)) {
			dst = AppendInteger(dst, 0x80, 7, n)
			return xhpack.AppendHuffmanString(dst, s)
		}
	}
	dst = AppendInteger(dst, 0, 7, uint64(len(s)))
	return append(dst, s...)
}

// ReadString decodes a string literal, honoring the Huffman bit. Strings
// longer than maxLen fail with ErrStringLength when maxLen is non-zero.
func ReadString(p []byte, maxLen int) (string, []byte, error) {
	if len(p) == 0 {
		return "", p, ErrTruncated
	}
	huffman := p[0]&0x80 != 0
	n, rest, err := ReadInteger(p, 7)
	if err != nil {
		return "", rest, err
	}
	if n > uint64(len(rest)) {
		return "", rest, ErrTruncated
	}
	raw := rest[:n]
	rest = rest[n:]
	if maxLen > 0 && len(raw) > maxLen {
		return "", rest, ErrStringLength
	}
	if !huffman {
		return string(raw), rest, nil
	}
	s, err := xhpack.HuffmanDecodeToString(raw)
	if err != nil {
		return "", rest, fmt.Errorf("hpack: huffman: %w", err)
	}
	if maxLen > 0 && len(s) > maxLen {
		return "", rest, ErrStringLength
	}
	return s, rest, nil
}

// Encoder compresses header lists for one connection. It is not safe for
// concurrent use; header blocks must reach the peer in Encode order.
type Encoder struct {
	table   *DynamicTable
	huffman bool

	// pending size update to signal at the start of the next block;
	// minSize tracks the smallest size set since the last block.
	pendingUpdate bool
	minSize       uint32
}

func NewEncoder() *Encoder {
	return &Encoder{table: NewDynamicTable(DefaultTableSize), huffman: true}
}

// SetHuffman toggles Huffman coding of string literals.
func (e *Encoder) SetHuffman(on bool) { e.huffman = on }

// SetMaxDynamicTableSize applies the peer's SETTINGS_HEADER_TABLE_SIZE. The
// change is announced at the start of the next header block.
func (e *Encoder) SetMaxDynamicTableSize(n uint32) {
	if !e.pendingUpdate || n < e.minSize {
		e.minSize = n
	}
	e.pendingUpdate = true
	e.table.SetMaxSize(n)
}

func (e *Encoder) Table() *DynamicTable { return e.table }

// Encode appends the header block for fields to dst. Exact matches in
// either table become indexed fields. A name found in a table becomes a
// literal with an indexed name that is not added to the table. A new name
// is sent as a literal and indexed so repeats compress.
func (e *Encoder) Encode(dst []byte, fields []HeaderField) []byte {
	if e.pendingUpdate {
		if e.minSize < e.table.maxSize {
			dst = AppendInteger(dst, 0x20, 5, uint64(e.minSize))
		}
		dst = AppendInteger(dst, 0x20, 5, uint64(e.table.maxSize))
		e.pendingUpdate = false
	}
	for _, f := range fields {
		dst = e.encodeField(dst, f)
	}
	return dst
}

func (e *Encoder) encodeField(dst []byte, f HeaderField) []byte {
	if !f.Sensitive {
		if idx, ok := staticByPair[pair{f.Name, f.Value}]; ok {
			return AppendInteger(dst, 0x80, 7, idx)
		}
	}
	dynIdx, nameOnly := e.table.search(f)
	if dynIdx != 0 && !nameOnly && !f.Sensitive {
		return AppendInteger(dst, 0x80, 7, dynIdx+uint64(StaticTableLen))
	}

	nameIdx, ok := staticByName[f.Name]
	if !ok && dynIdx != 0 {
		nameIdx, ok = dynIdx+uint64(StaticTableLen), true
	}
	switch {
	case f.Sensitive:
		dst = AppendInteger(dst, 0x10, 4, nameIdx)
	case ok:
		dst = AppendInteger(dst, 0x00, 4, nameIdx)
	default:
		dst = append(dst, 0x40)
		e.table.Add(f)
	}
	if nameIdx == 0 {
		dst = AppendString(dst, f.Name, e.huffman)
	}
	return AppendString(dst, f.Value, e.huffman)
}

// Decoder expands header blocks for one connection. Blocks must be decoded
// in the order the peer produced them.
type Decoder struct {
	table *DynamicTable
	// limit is the SETTINGS_HEADER_TABLE_SIZE we advertised; size updates
	// above it are protocol errors.
	limit     uint32
	maxString int
}

func NewDecoder(limit uint32) *Decoder {
	return &Decoder{table: NewDynamicTable(limit), limit: limit}
}

// SetMaxStringLength bounds decoded names and values; zero disables the check.
func (d *Decoder) SetMaxStringLength(n int) { d.maxString = n }

func (d *Decoder) Table() *DynamicTable { return d.table }

// Decode expands one complete header block.
func (d *Decoder) Decode(block []byte) ([]HeaderField, error) {
	var out []HeaderField
	err := d.DecodeFunc(block, func(f HeaderField) { out = append(out, f) })
	return out, err
}

// DecodeFunc calls emit for each field in block, in order.
func (d *Decoder) DecodeFunc(block []byte, emit func(HeaderField)) error {
	sawField := false
	for p := block; len(p) > 0; {
		var (
			f   HeaderField
			err error
		)
		b := p[0]
		switch {
		case b&0x80 != 0:
			var idx uint64
			if idx, p, err = ReadInteger(p, 7); err != nil {
				return err
			}
			if f, err = d.lookup(idx); err != nil {
				return err
			}
		case b&0xc0 == 0x40:
			if f, p, err = d.literal(p, 6); err != nil {
				return err
			}
			d.table.Add(f)
		case b&0xe0 == 0x20:
			if sawField {
				return fmt.Errorf("%w: table size update after a header field", ErrTableCorrupt)
			}
			var size uint64
			if size, p, err = ReadInteger(p, 5); err != nil {
				return err
			}
			if size > uint64(d.limit) {
				return fmt.Errorf("%w: size update %d exceeds limit %d", ErrTableCorrupt, size, d.limit)
			}
			d.table.SetMaxSize(uint32(size))
			continue
		default:
			// 0000xxxx without indexing, 0001xxxx never indexed.
			sensitive := b&0x10 != 0
			if f, p, err = d.literal(p, 4); err != nil {
				return err
			}
			f.Sensitive = sensitive
		}
		sawField = true
		emit(f)
	}
	return nil
}

func (d *Decoder) literal(p []byte, n uint8) (HeaderField, []byte, error) {
	var (
		f   HeaderField
		idx uint64
		err error
	)
	if idx, p, err = ReadInteger(p, n); err != nil {
		return f, p, err
	}
	if idx > 0 {
		named, err := d.lookup(idx)
		if err != nil {
			return f, p, err
		}
		f.Name = named.Name
	} else if f.Name, p, err = ReadString(p, d.maxString); err != nil {
		return f, p, err
	}
	f.Value, p, err = ReadString(p, d.maxString)
	return f, p, err
}

func (d *Decoder) lookup(idx uint64) (HeaderField, error) {
	if idx == 0 {
		return HeaderField{}, fmt.Errorf("%w: index 0", ErrTableCorrupt)
	}
	if idx <= uint64(StaticTableLen) {
		s := staticTable[idx-1]
		return HeaderField{Name: s.name, Value: s.value}, nil
	}
	f, ok := d.table.At(idx - uint64(StaticTableLen))
	if !ok {
		return HeaderField{}, fmt.Errorf("%w: index %d beyond %d dynamic entries", ErrTableCorrupt, idx, d.table.Len())
	}
	return f, nil
}
