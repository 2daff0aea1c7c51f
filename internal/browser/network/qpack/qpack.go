// File: internal/browser/network/qpack/qpack.go
package qpack

import (
	"errors"
	"fmt"

	xhpack "golang.org/x/net/http2/hpack"

	"github.com/xkilldash9x/loupe/internal/browser/network/hpack"
)

var (
	// ErrDynamicTable reports a field section that needs the dynamic table,
	// which this codec never negotiates.
	ErrDynamicTable = errors.New("qpack: dynamic table reference")
	ErrIndex        = errors.New("qpack: static index out of range")
	ErrTruncated    = errors.New("qpack: truncated field section")
)

// Encoder writes field sections using only the static table, so a section
// never blocks on encoder-stream instructions.
type Encoder struct {
	huffman bool
}

func NewEncoder() *Encoder { return &Encoder{huffman: true} }

// SetHuffman toggles Huffman coding of string literals.
func (e *Encoder) SetHuffman(on bool) { e.huffman = on }

// Encode appends the field section for fields to dst.
func (e *Encoder) Encode(dst []byte, fields []hpack.HeaderField) []byte {
	// Required Insert Count and Delta Base are both zero.
	dst = append(dst, 0x00, 0x00)
	for _, f := range fields {
		if idx, ok := staticByEntry[entry{f.Name, f.Value}]; ok && !f.Sensitive {
			dst = hpack.AppendInteger(dst, 0xc0, 6, idx)
			continue
		}
		var never byte
		if f.Sensitive {
			never = 0x20
		}
		if idx, ok := staticByName[f.Name]; ok {
			dst = hpack.AppendInteger(dst, 0x50|never, 4, idx)
		} else {
			// Literal name: 001NH + 3-bit length prefix.
			dst = e.appendString(dst, 0x20|never>>1, 3, f.Name)
		}
		dst = e.appendString(dst, 0x00, 7, f.Value)
	}
	return dst
}

// appendString writes a string whose Huffman flag sits just above an
// n-bit length prefix.
func (e *Encoder) appendString(dst []byte, first byte, n uint8, s string) []byte {
	hbit := byte(1) << n
	if e.huffman {
		if l := xhpack.HuffmanEncodeLength(s); l < uint64(len(s)) {
			dst = hpack.AppendInteger(dst, first|hbit, n, l)
			return xhpack.AppendHuffmanString(dst, s)
		}
	}
	dst = hpack.AppendInteger(dst, first, n, uint64(len(s)))
	return append(dst, s...)
}

// Decode expands a field section. Sections that reference the dynamic
// table fail with ErrDynamicTable.
func Decode(block []byte) ([]hpack.HeaderField, error) {
	ric, p, err := hpack.ReadInteger(block, 8)
	if err != nil {
		return nil, ErrTruncated
	}
	if ric != 0 {
		return nil, fmt.Errorf("%w: required insert count %d", ErrDynamicTable, ric)
	}
	if _, p, err = hpack.ReadInteger(p, 7); err != nil {
		return nil, ErrTruncated
	}

	var out []hpack.HeaderField
	for len(p) > 0 {
		var f hpack.HeaderField
		b := p[0]
		switch {
		case b&0x80 != 0:
			// Indexed field line: 1T + 6-bit index.
			if b&0x40 == 0 {
				return nil, fmt.Errorf("%w: indexed field line", ErrDynamicTable)
			}
			var idx uint64
			if idx, p, err = hpack.ReadInteger(p, 6); err != nil {
				return nil, err
			}
			e, err := lookup(idx)
			if err != nil {
				return nil, err
			}
			f = hpack.HeaderField{Name: e.name, Value: e.value}
		case b&0xc0 == 0x40:
			// Literal with name reference: 01NT + 4-bit index.
			if b&0x10 == 0 {
				return nil, fmt.Errorf("%w: name reference", ErrDynamicTable)
			}
			f.Sensitive = b&0x20 != 0
			var idx uint64
			if idx, p, err = hpack.ReadInteger(p, 4); err != nil {
				return nil, err
			}
			e, err := lookup(idx)
			if err != nil {
				return nil, err
			}
			f.Name = e.name
			if f.Value, p, err = readString(p, 7); err != nil {
				return nil, err
			}
		case b&0xe0 == 0x20:
			// Literal with literal name: 001NH + 3-bit length.
			f.Sensitive = b&0x10 != 0
			if f.Name, p, err = readString(p, 3); err != nil {
				return nil, err
			}
			if f.Value, p, err = readString(p, 7); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: post-base reference", ErrDynamicTable)
		}
		out = append(out, f)
	}
	return out, nil
}

func readString(p []byte, n uint8) (string, []byte, error) {
	if len(p) == 0 {
		return "", p, ErrTruncated
	}
	huffman := p[0]&(1<<n) != 0
	l, rest, err := hpack.ReadInteger(p, n)
	if err != nil {
		return "", rest, err
	}
	if l > uint64(len(rest)) {
		return "", rest, ErrTruncated
	}
	raw, rest := rest[:l], rest[l:]
	if !huffman {
		return string(raw), rest, nil
	}
	s, err := xhpack.HuffmanDecodeToString(raw)
	if err != nil {
		return "", rest, fmt.Errorf("qpack: huffman: %w", err)
	}
	return s, rest, nil
}

func lookup(idx uint64) (entry, error) {
	if idx >= uint64(StaticTableLen) {
		return entry{}, fmt.Errorf("%w: %d", ErrIndex, idx)
	}
	return staticTable[idx], nil
}
