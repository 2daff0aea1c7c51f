package avif

import (
	"math/big"
	"math/bits"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Test Helpers --

// symbolEncoder is the arithmetic coder that produces what symbolDecoder
// reads. low grows without bound, so it is kept as a big integer.
type symbolEncoder struct {
	low   *big.Int
	rng   uint32
	shift int
}

func newSymbolEncoder() *symbolEncoder {
	return &symbolEncoder{low: new(big.Int), rng: 1 << 15}
}

func (e *symbolEncoder) bound(cdf []uint16, s int) uint32 {
	if s < 0 {
		return e.rng
	}
	n := len(cdf) - 1
	f := uint32(1<<15) - uint32(cdf[s])
	return (e.rng>>8)*(f>>ecProbShift)>>(7-ecProbShift) + ecMinProb*uint32(n-s-1)
}

func (e *symbolEncoder) encode(symbol int, cdf []uint16, adapt bool) {
	hi, lo := e.bound(cdf, symbol-1), e.bound(cdf, symbol)
	e.low.Add(e.low, big.NewInt(int64(e.rng-hi)))
	e.rng = hi - lo
	d := 15 - (bits.Len32(e.rng) - 1)
	e.rng <<= d
	e.low.Lsh(e.low, uint(d))
	e.shift += d
	if adapt {
		adaptCDF(cdf, symbol)
	}
}

func (e *symbolEncoder) encodeBool(b bool) {
	s := 0
	if b {
		s = 1
	}
	e.encode(s, []uint16{1 << 14, 1 << 15, 0}, false)
}

func (e *symbolEncoder) bytes() []byte {
	total := 15 + e.shift
	pad := (8 - total%8) % 8
	code := new(big.Int).Lsh(e.low, uint(pad))
	return code.FillBytes(make([]byte, (total+pad)/8))
}

// uniformCDF returns an n-ary CDF with equal probabilities and a zero counter.
func uniformCDF(n int) []uint16 {
	cdf := make([]uint16, n+1)
	for i := range n {
		cdf[i] = uint16((i + 1) * (1 << 15) / n)
	}
	return cdf
}

// -- Tests --

func TestSymbolDecoder_AdaptiveRoundTrip(t *testing.T) {
	sizes := []int{2, 3, 4, 8, 13, 16}
	rng := rand.New(rand.NewSource(5))

	for trial := range 50 {
		type coded struct{ n, symbol int }
		var seq []coded
		enc := newSymbolEncoder()
		encCDFs := map[int][]uint16{}
		for _, n := range sizes {
			encCDFs[n] = uniformCDF(n)
		}
		for range 1 + rng.Intn(300) {
			n := sizes[rng.Intn(len(sizes))]
			// Skewed toward zero so adaptation has something to learn.
			s := 0
			if rng.Intn(3) == 0 {
				s = rng.Intn(n)
			}
			seq = append(seq, coded{n, s})
			enc.encode(s, encCDFs[n], true)
		}

		dec, err := newSymbolDecoder(enc.bytes(), false)
		require.NoError(t, err)
		decCDFs := map[int][]uint16{}
		for _, n := range sizes {
			decCDFs[n] = uniformCDF(n)
		}
		for i, c := range seq {
			require.Equal(t, c.symbol, dec.readSymbol(decCDFs[c.n]), "trial %d symbol %d", trial, i)
		}
		require.NoError(t, dec.finish())
		assert.Equal(t, encCDFs, decCDFs)
	}
}

func TestSymbolDecoder_DisabledUpdateKeepsCDF(t *testing.T) {
	enc := newSymbolEncoder()
	cdf := uniformCDF(4)
	for _, s := range []int{3, 0, 0, 2, 1} {
		enc.encode(s, cdf, false)
	}

	dec, err := newSymbolDecoder(enc.bytes(), true)
	require.NoError(t, err)
	got := uniformCDF(4)
	var symbols []int
	for range 5 {
		symbols = append(symbols, dec.readSymbol(got))
	}
	assert.Equal(t, []int{3, 0, 0, 2, 1}, symbols)
	assert.Equal(t, uniformCDF(4), got)
}

func TestSymbolDecoder_Literal(t *testing.T) {
	enc := newSymbolEncoder()
	const v = 0b1011001110
	for i := 9; i >= 0; i-- {
		enc.encodeBool(v>>i&1 == 1)
	}
	data := enc.bytes()
	assert.Equal(t, []byte{0xB3, 0x7B, 0x38, 0x00}, data)

	dec, err := newSymbolDecoder(data, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(v), dec.readLiteral(10))
}

func TestSymbolDecoder_ConstantData(t *testing.T) {
	zeros, err := newSymbolDecoder(make([]byte, 4), false)
	require.NoError(t, err)
	ones, err := newSymbolDecoder([]byte{0xFF, 0xFF, 0xFF, 0xFF}, false)
	require.NoError(t, err)
	for range 8 {
		assert.False(t, zeros.readBool())
		assert.True(t, ones.readBool())
	}
}

func TestSymbolDecoder_Overrun(t *testing.T) {
	dec, err := newSymbolDecoder([]byte{0, 0}, false)
	require.NoError(t, err)
	for range 40 {
		dec.readBool()
	}
	assert.ErrorIs(t, dec.finish(), ErrTruncated)

	_, err = newSymbolDecoder(nil, false)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestAdaptCDF(t *testing.T) {
	cdf := uniformCDF(4)
	adaptCDF(cdf, 0)
	assert.Equal(t, []uint16{8960, 16896, 24832, 32768, 1}, cdf)

	// The counter saturates at 32.
	for range 40 {
		adaptCDF(cdf, 3)
	}
	assert.Equal(t, uint16(32), cdf[4])
	assert.Equal(t, uint16(32768), cdf[3])
	assert.Less(t, cdf[2], uint16(24832))
}
