// File: internal/browser/network/quic/varint.go
package quic

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated    = errors.New("quic: truncated frame")
	ErrUnknownFrame = errors.New("quic: unknown frame type")
	ErrMalformed    = errors.New("quic: malformed frame")
)

// MaxVarint is the largest value a variable-length integer can carry.
const MaxVarint = 1<<62 - 1

// VarintLen is the encoded size of v: 1, 2, 4 or 8 bytes.
func VarintLen(v uint64) int {
	switch {
	case v < 1<<6:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<30:
		return 4
	}
	return 8
}

// AppendVarint appends v in its shortest encoding. Values above MaxVarint
// are a programming error and panic.
func AppendVarint(b []byte, v uint64) []byte {
	switch VarintLen(v) {
	case 1:
		return append(b, byte(v))
	case 2:
		return append(b, 0x40|byte(v>>8), byte(v))
	case 4:
		return append(b, 0x80|byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	if v > MaxVarint {
		panic(fmt.Sprintf("quic: varint %d out of range", v))
	}
	return append(b, 0xc0|byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// ReadVarint decodes one varint, selecting the width from the top two bits.
func ReadVarint(b []byte) (uint64, []byte, error) {
	if len(b) == 0 {
		return 0, b, ErrTruncated
	}
	n := 1 << (b[0] >> 6)
	if len(b) < n {
		return 0, b, ErrTruncated
	}
	v := uint64(b[0] & 0x3f)
	for _, c := range b[1:n] {
		v = v<<8 | uint64(c)
	}
	return v, b[n:], nil
}
