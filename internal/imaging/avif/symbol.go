// internal/imaging/avif/symbol.go
package avif

import (
	"fmt"
	"math/bits"
)

const (
	ecProbShift = 6
	ecMinProb   = 4
)

// symbolDecoder is the AV1 multi-symbol arithmetic decoder that reads the
// entropy coded data of one tile.
//
// A CDF of an N-ary symbol holds N cumulative probabilities in 1/32768 units,
// the last always 32768, followed by an adaptation counter.
type symbolDecoder struct {
	r             bitReader
	rng           uint32
	value         uint32
	maxBits       int
	disableUpdate bool
}

func newSymbolDecoder(data []byte, disableUpdate bool) (*symbolDecoder, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty tile", ErrTruncated)
	}
	d := &symbolDecoder{r: bitReader{data: data}, disableUpdate: disableUpdate}
	numBits := min(8*len(data), 15)
	buf := d.r.f(numBits)
	d.value = (1<<15 - 1) ^ buf<<(15-numBits)
	d.rng = 1 << 15
	d.maxBits = 8*len(data) - 15
	return d, nil
}

// readSymbol decodes one symbol with cdf and adapts cdf unless updates are
// disabled for the frame.
func (d *symbolDecoder) readSymbol(cdf []uint16) int {
	n := len(cdf) - 1
	cur := d.rng
	var prev uint32
	symbol := -1
	for {
		symbol++
		prev = cur
		f := uint32(1<<15) - uint32(cdf[symbol])
		cur = (d.rng>>8)*(f>>ecProbShift)>>(7-ecProbShift) + ecMinProb*uint32(n-symbol-1)
		if d.value >= cur {
			break
		}
	}
	d.rng = prev - cur
	d.value -= cur
	d.renormalize()
	if !d.disableUpdate {
		adaptCDF(cdf, symbol)
	}
	return symbol
}

func (d *symbolDecoder) renormalize() {
	shift := 15 - (bits.Len32(d.rng) - 1)
	d.rng <<= shift
	numBits := min(shift, max(0, d.maxBits))
	padded := d.r.f(numBits) << (shift - numBits)
	d.value = padded ^ ((d.value+1)<<shift - 1)
	d.maxBits -= shift
}

// readBool decodes an equiprobable bit.
func (d *symbolDecoder) readBool() bool {
	cdf := []uint16{1 << 14, 1 << 15, 0}
	return d.readSymbol(cdf) == 1
}

// readLiteral decodes an n-bit unsigned value, most significant bit first.
func (d *symbolDecoder) readLiteral(n int) uint32 {
	var x uint32
	for range n {
		x <<= 1
		if d.readBool() {
			x |= 1
		}
	}
	return x
}

// finish checks that decoding did not run past the tile data.
func (d *symbolDecoder) finish() error {
	if d.maxBits < -14 {
		return fmt.Errorf("%w: tile symbols overran the data by %d bits", ErrTruncated, -d.maxBits-14)
	}
	return nil
}

// adaptCDF moves the probabilities of cdf toward symbol. The rate slows
// as the counter in the final slot grows.
func adaptCDF(cdf []uint16, symbol int) {
	n := len(cdf) - 1
	rate := 3 + min(bits.Len(uint(n))-1, 2)
	if cdf[n] > 15 {
		rate++
	}
	if cdf[n] > 31 {
		rate++
	}
	var tmp uint16
	for i := 0; i < n-1; i++ {
		if i == symbol {
			tmp = 1 << 15
		}
		if tmp < cdf[i] {
			cdf[i] -= (cdf[i] - tmp) >> rate
		} else {
			cdf[i] += (tmp - cdf[i]) >> rate
		}
	}
	if cdf[n] < 32 {
		cdf[n]++
	}
}
