package webp

import (
	"bytes"
	"encoding/binary"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/vp8l"
)

// -- Test Helpers --

// bitWriter packs bits least-significant first, as VP8L expects.
type bitWriter struct {
	out []byte
	cur byte
	n   uint
}

func (w *bitWriter) write(v uint32, n int) {
	for i := range n {
		if v>>uint(i)&1 == 1 {
			w.cur |= 1 << w.n
		}
		w.n++
		if w.n == 8 {
			w.out = append(w.out, w.cur)
			w.cur, w.n = 0, 0
		}
	}
}

// code writes a prefix code, most significant bit first.
func (w *bitWriter) code(bits string) {
	for _, c := range bits {
		w.write(uint32(c-'0'), 1)
	}
}

func (w *bitWriter) bytes() []byte {
	out := append([]byte{}, w.out...)
	if w.n > 0 {
		out = append(out, w.cur)
	}
	return append(out, 0, 0, 0, 0)
}

func (w *bitWriter) simpleCode(syms ...int) {
	w.write(1, 1)
	w.write(uint32(len(syms)-1), 1)
	if syms[0] > 1 {
		w.write(1, 1)
		w.write(uint32(syms[0]), 8)
	} else {
		w.write(0, 1)
		w.write(uint32(syms[0]), 1)
	}
	if len(syms) == 2 {
		w.write(uint32(syms[1]), 8)
	}
}

// twoSymbolCode writes a normal code giving a and b (a < b) one bit each.
// Code-length symbols: 1 is "0", 0 is "10", 18 is "11".
func (w *bitWriter) twoSymbolCode(alphabet, a, b int) {
	w.write(0, 1)
	w.write(0, 4) // four code-length codes: 17, 18, 0, 1
	w.write(0, 3)
	w.write(2, 3)
	w.write(2, 3)
	w.write(1, 3)
	w.write(0, 1)
	zeros := func(n int) {
		for n >= 11 {
			k := min(n, 138)
			w.code("11")
			w.write(uint32(k-11), 7)
			n -= k
		}
		for range n {
			w.code("10")
		}
	}
	zeros(a)
	w.code("0")
	zeros(b - a - 1)
	w.code("0")
	zeros(alphabet - b - 1)
}

func lossless(w, h int, body func(*bitWriter)) []byte {
	bw := &bitWriter{}
	bw.write(vp8lSignature, 8)
	bw.write(uint32(w-1), 14)
	bw.write(uint32(h-1), 14)
	bw.write(1, 1)
	bw.write(0, 3)
	body(bw)
	return bw.bytes()
}

func riff(chunks ...Chunk) []byte {
	var body bytes.Buffer
	body.WriteString("WEBP")
	for _, c := range chunks {
		body.WriteString(c.ID)
		_ = binary.Write(&body, binary.LittleEndian, uint32(len(c.Payload)))
		body.Write(c.Payload)
		if len(c.Payload)%2 == 1 {
			body.WriteByte(0)
		}
	}
	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(body.Len()))
	return append(out, body.Bytes()...)
}

func vp8x(flags byte, w, h int) Chunk {
	p := make([]byte, 10)
	p[0] = flags
	for i := range 3 {
		p[4+i] = byte((w - 1) >> (8 * i))
		p[7+i] = byte((h - 1) >> (8 * i))
	}
	return Chunk{ID: "VP8X", Payload: p}
}

func pixels(img *image.NRGBA) [][4]uint8 {
	out := make([][4]uint8, 0, len(img.Pix)/4)
	for i := 0; i < len(img.Pix); i += 4 {
		out = append(out, [4]uint8(img.Pix[i:i+4]))
	}
	return out
}

// decodeBoth decodes a VP8L payload with this package and the reference decoder.
func decodeBoth(t *testing.T, payload []byte) *image.NRGBA {
	t.Helper()
	got, err := decodeVP8L(payload)
	require.NoError(t, err)
	want, err := vp8l.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, want.(*image.NRGBA).Pix, got.Pix)
	return got
}

// -- VP8L --

func TestVP8L_SingleColor(t *testing.T) {
	payload := lossless(2, 2, func(w *bitWriter) {
		w.write(0, 1) // no transforms
		w.write(0, 1) // no color cache
		w.write(0, 1) // no meta codes
		w.simpleCode(20)
		w.simpleCode(10)
		w.simpleCode(30)
		w.simpleCode(255)
		w.simpleCode(0)
	})
	img := decodeBoth(t, payload)
	for _, p := range pixels(img) {
		assert.Equal(t, [4]uint8{10, 20, 30, 255}, p)
	}
}

func TestVP8L_SubtractGreen(t *testing.T) {
	payload := lossless(1, 1, func(w *bitWriter) {
		w.write(1, 1)
		w.write(transformSubtractGreen, 2)
		w.write(0, 1)
		w.write(0, 1)
		w.write(0, 1)
		w.simpleCode(100)
		w.simpleCode(10)  // 110 - 100
		w.simpleCode(246) // 90 - 100 mod 256
		w.simpleCode(255)
		w.simpleCode(0)
	})
	img := decodeBoth(t, payload)
	assert.Equal(t, [4]uint8{110, 100, 90, 255}, pixels(img)[0])
}

func TestVP8L_TwoSymbolLiterals(t *testing.T) {
	payload := lossless(4, 1, func(w *bitWriter) {
		w.write(0, 1)
		w.write(0, 1)
		w.write(0, 1)
		w.simpleCode(50, 200)
		w.simpleCode(0)
		w.simpleCode(0)
		w.simpleCode(255)
		w.simpleCode(0)
		w.code("0110")
	})
	img := decodeBoth(t, payload)
	var greens []uint8
	for _, p := range pixels(img) {
		greens = append(greens, p[1])
	}
	assert.Equal(t, []uint8{50, 200, 200, 50}, greens)
}

func TestVP8L_BackReference(t *testing.T) {
	payload := lossless(2, 2, func(w *bitWriter) {
		w.write(0, 1)
		w.write(0, 1)
		w.write(0, 1)
		// Green 7 or length prefix 1 (copy two pixels).
		w.twoSymbolCode(numLiteralCodes+numLengthCodes, 7, numLiteralCodes+1)
		w.simpleCode(1, 2)
		w.simpleCode(0)
		w.simpleCode(255)
		// Distance code 1 is the pixel directly above.
		w.simpleCode(0)
		w.code("00") // green 7, red 1
		w.code("01") // green 7, red 2
		w.code("1")  // copy the first row
	})
	img := decodeBoth(t, payload)
	assert.Equal(t, [][4]uint8{{1, 7, 0, 255}, {2, 7, 0, 255}, {1, 7, 0, 255}, {2, 7, 0, 255}}, pixels(img))
}

func TestVP8L_ColorCache(t *testing.T) {
	argb := uint32(0xFF102030)
	idx := int((0x1e35a7bd * argb) >> 31)
	payload := lossless(3, 1, func(w *bitWriter) {
		w.write(0, 1)
		w.write(1, 1)
		w.write(1, 4) // two-entry cache
		w.write(0, 1)
		w.twoSymbolCode(numLiteralCodes+numLengthCodes+2, 0x20, numLiteralCodes+numLengthCodes+idx)
		w.simpleCode(0x10)
		w.simpleCode(0x30)
		w.simpleCode(255)
		w.simpleCode(0)
		w.code("011")
	})
	img := decodeBoth(t, payload)
	for _, p := range pixels(img) {
		assert.Equal(t, [4]uint8{0x10, 0x20, 0x30, 0xFF}, p)
	}
}

func TestVP8L_ColorIndexing(t *testing.T) {
	payload := lossless(4, 1, func(w *bitWriter) {
		w.write(1, 1)
		w.write(transformColorIndexing, 2)
		w.write(1, 8) // two palette entries
		// Palette: opaque red, then blue as a per-channel delta.
		w.write(0, 1)
		w.simpleCode(0)
		w.simpleCode(1, 255)
		w.simpleCode(0, 255)
		w.simpleCode(0, 255)
		w.simpleCode(0)
		w.code("1" + "0" + "1") // red 255, blue 0, alpha 255
		w.code("0" + "1" + "0") // red 1, blue 255, alpha 0
		w.write(0, 1)
		// One packed pixel holds indices 0, 1, 1, 0.
		w.write(0, 1)
		w.write(0, 1)
		w.simpleCode(0b0110)
		w.simpleCode(0)
		w.simpleCode(0)
		w.simpleCode(255)
		w.simpleCode(0)
	})
	img := decodeBoth(t, payload)
	red, blue := [4]uint8{255, 0, 0, 255}, [4]uint8{0, 0, 255, 255}
	assert.Equal(t, [][4]uint8{red, blue, blue, red}, pixels(img))
}

func TestVP8L_Errors(t *testing.T) {
	_, err := decodeVP8L([]byte{0x2F, 0})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = decodeVP8L([]byte{0x2E, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrFormat)

	// Version bits must be zero.
	_, err = decodeVP8L([]byte{0x2F, 0, 0, 0, 0x20})
	assert.ErrorIs(t, err, ErrFormat)

	repeated := lossless(1, 1, func(w *bitWriter) {
		w.write(1, 1)
		w.write(transformSubtractGreen, 2)
		w.write(1, 1)
		w.write(transformSubtractGreen, 2)
	})
	_, err = decodeVP8L(repeated)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = newPrefixCode([]uint8{1, 1, 1})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestPredictors(t *testing.T) {
	l, top, tl, tr := uint32(0xFF102030), uint32(0xFF304050), uint32(0xFF000000), uint32(0xFF405060)
	assert.Equal(t, uint32(0xFF000000), predict(0, l, top, tl, tr))
	assert.Equal(t, l, predict(1, l, top, tl, tr))
	assert.Equal(t, top, predict(2, l, top, tl, tr))
	assert.Equal(t, tr, predict(3, l, top, tl, tr))
	assert.Equal(t, uint32(0xFF203040), predict(7, l, top, tl, tr))
	assert.Equal(t, uint32(0xFF406080), predict(12, l, top, tl, tr))
}

// -- Container --

func TestDecode_LosslessInRIFF(t *testing.T) {
	payload := lossless(3, 2, func(w *bitWriter) {
		w.write(0, 1)
		w.write(0, 1)
		w.write(0, 1)
		w.simpleCode(1)
		w.simpleCode(2)
		w.simpleCode(3)
		w.simpleCode(255)
		w.simpleCode(0)
	})
	data := riff(Chunk{ID: "VP8L", Payload: payload})

	img, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())

	cfg, err := DecodeConfig(data)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Width)
	assert.Equal(t, 2, cfg.Height)
}

func TestReadChunks_PadsOddPayloads(t *testing.T) {
	data := riff(Chunk{ID: "EXIF", Payload: []byte{1, 2, 3}}, Chunk{ID: "XMP ", Payload: []byte{4}})
	chunks, err := ReadChunks(data)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte{1, 2, 3}, chunks[0].Payload)
	assert.Equal(t, "XMP ", chunks[1].ID)
}

func TestDecode_ContainerErrors(t *testing.T) {
	_, err := Decode([]byte("RIFF\x04\x00\x00\x00WEBQ"))
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, err = Decode(riff(Chunk{ID: "EXIF", Payload: []byte{1}}))
	assert.ErrorIs(t, err, ErrFormat)

	data := riff(Chunk{ID: "VP8L", Payload: make([]byte, 20)})
	_, err = Decode(data[:len(data)-5])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode(riff(vp8x(flagAnimation, 4, 4), Chunk{ID: "ANIM", Payload: make([]byte, 6)}))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Decode(riff(Chunk{ID: "VP8 ", Payload: []byte{0x01, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0}}))
	assert.ErrorIs(t, err, ErrNotKeyframe)
}

func TestDecodeConfig_ExtendedCanvas(t *testing.T) {
	data := riff(vp8x(flagAlpha, 300, 70000), Chunk{ID: "VP8L", Payload: lossless(1, 1, func(*bitWriter) {})})
	cfg, err := DecodeConfig(data)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 70000, cfg.Height)
}

// -- Alpha --

func TestUnfilterAlpha(t *testing.T) {
	tests := []struct {
		name   string
		filter int
		in     []byte
		want   []byte
	}{
		{"horizontal", filterHorizontal, []byte{10, 1, 1, 5, 1, 1}, []byte{10, 11, 12, 15, 16, 17}},
		{"vertical", filterVertical, []byte{10, 1, 1, 5, 1, 1}, []byte{10, 11, 12, 15, 12, 13}},
		{"gradient", filterGradient, []byte{10, 2, 2, 5, 1, 1}, []byte{10, 12, 14, 15, 18, 21}},
		{"none", filterNone, []byte{1, 2, 3, 4, 5, 6}, []byte{1, 2, 3, 4, 5, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := append([]byte{}, tt.in...)
			unfilterAlpha(p, 3, 2, tt.filter)
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestDecodeAlpha(t *testing.T) {
	raw := append([]byte{alphaRaw | filterHorizontal<<2}, 100, 10, 20, 5)
	plane, err := decodeAlpha(raw, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{100, 110, 120, 125}, plane)

	_, err = decodeAlpha([]byte{alphaRaw, 1}, 2, 2)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = decodeAlpha([]byte{0x03}, 1, 1)
	assert.ErrorIs(t, err, ErrFormat)

	bw := &bitWriter{}
	bw.write(alphaLossless, 8)
	bw.write(0, 1)
	bw.write(0, 1)
	bw.write(0, 1)
	bw.simpleCode(0x80)
	bw.simpleCode(0)
	bw.simpleCode(0)
	bw.simpleCode(255)
	bw.simpleCode(0)
	plane, err = decodeAlpha(bw.bytes(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x80}, plane)
}

// -- VP8 --

// boolEncoder is the RFC 6386 boolean entropy encoder.
type boolEncoder struct {
	out      []byte
	rng      uint32
	bottom   uint32
	bitCount int
}

func newBoolEncoder() *boolEncoder { return &boolEncoder{rng: 255, bitCount: 24} }

func (e *boolEncoder) carry() {
	i := len(e.out) - 1
	for i >= 0 && e.out[i] == 0xFF {
		e.out[i] = 0
		i--
	}
	if i >= 0 {
		e.out[i]++
	}
}

func (e *boolEncoder) writeBool(prob uint8, bit bool) {
	split := 1 + (((e.rng - 1) * uint32(prob)) >> 8)
	if bit {
		e.bottom += split
		e.rng -= split
	} else {
		e.rng = split
	}
	for e.rng < 128 {
		e.rng <<= 1
		if e.bottom&(1<<31) != 0 {
			e.carry()
		}
		e.bottom <<= 1
		e.bitCount--
		if e.bitCount == 0 {
			e.out = append(e.out, byte(e.bottom>>24))
			e.bottom &= 1<<24 - 1
			e.bitCount = 8
		}
	}
}

func (e *boolEncoder) flag(b bool) { e.writeBool(128, b) }

func (e *boolEncoder) literal(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		e.flag(v>>uint(i)&1 == 1)
	}
}

func (e *boolEncoder) optionalSigned(v int8, n int) {
	e.flag(v != 0)
	if v == 0 {
		return
	}
	mag := v
	if mag < 0 {
		mag = -mag
	}
	e.literal(uint32(mag), n)
	e.flag(v < 0)
}

func (e *boolEncoder) bytes() []byte {
	for range 32 {
		e.flag(false)
	}
	return e.out
}

func keyframe(w, h int, partition []byte) []byte {
	tag := uint32(0) | 1<<4 | uint32(len(partition))<<5
	out := []byte{byte(tag), byte(tag >> 8), byte(tag >> 16), 0x9D, 0x01, 0x2A}
	out = binary.LittleEndian.AppendUint16(out, uint16(w))
	out = binary.LittleEndian.AppendUint16(out, uint16(h))
	return append(out, partition...)
}

func TestParseFrameHeader(t *testing.T) {
	e := newBoolEncoder()
	e.literal(0, 1) // color space
	e.literal(1, 1) // clamping
	e.flag(true)    // segmentation
	e.flag(true)    // update map
	e.flag(true)    // update data
	e.flag(false)   // deltas
	for _, q := range []int8{5, -3, 0, 12} {
		e.optionalSigned(q, 7)
	}
	for _, f := range []int8{0, 0, -2, 1} {
		e.optionalSigned(f, 6)
	}
	e.flag(true)
	e.literal(200, 8)
	e.flag(false)
	e.flag(true)
	e.literal(7, 8)
	e.flag(false) // normal filter
	e.literal(33, 6)
	e.literal(4, 3)
	e.flag(true) // filter deltas
	e.flag(true) // update
	for _, d := range []int8{1, 0, -1, -1} {
		e.optionalSigned(d, 6)
	}
	for _, d := range []int8{4, -2, 2, 4} {
		e.optionalSigned(d, 6)
	}
	e.literal(2, 2) // four partitions
	e.literal(90, 7)
	for _, d := range []int8{0, -4, 3, 0, 1} {
		e.optionalSigned(d, 4)
	}
	e.flag(true)

	h, err := ParseFrameHeader(keyframe(640, 480|1<<14, e.bytes()))
	require.NoError(t, err)
	assert.True(t, h.KeyFrame)
	assert.True(t, h.ShowFrame)
	assert.Equal(t, 640, h.Width)
	assert.Equal(t, 480, h.Height)
	assert.Equal(t, uint8(1), h.YScale)
	assert.Equal(t, uint8(1), h.ClampingType)
	assert.True(t, h.Segmentation.Enabled)
	assert.Equal(t, [4]int8{5, -3, 0, 12}, h.Segmentation.Quantizer)
	assert.Equal(t, [4]int8{0, 0, -2, 1}, h.Segmentation.FilterLevel)
	assert.Equal(t, [3]uint8{200, 255, 7}, h.Segmentation.TreeProbs)
	assert.False(t, h.SimpleFilter)
	assert.Equal(t, uint8(33), h.FilterLevel)
	assert.Equal(t, uint8(4), h.Sharpness)
	assert.Equal(t, [4]int8{1, 0, -1, -1}, h.RefDeltas)
	assert.Equal(t, [4]int8{4, -2, 2, 4}, h.ModeDeltas)
	assert.Equal(t, 4, h.Partitions)
	assert.Equal(t, uint8(90), h.YACQuantIndex)
	assert.Equal(t, [5]int8{0, -4, 3, 0, 1}, h.QuantDeltas)
	assert.True(t, h.RefreshEntropyProbs)
}

func TestParseFrameTag_Errors(t *testing.T) {
	_, err := parseFrameTag([]byte{0x01, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrNotKeyframe)

	_, err = parseFrameTag([]byte{0x00})
	assert.ErrorIs(t, err, ErrTruncated)

	bad := keyframe(16, 16, nil)
	bad[3] = 0x00
	_, err = parseFrameTag(bad)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = parseFrameTag(keyframe(0, 16, nil))
	assert.ErrorIs(t, err, ErrFormat)

	short := keyframe(16, 16, make([]byte, 8))
	_, err = parseFrameTag(short[:12])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestYUVToNRGBA(t *testing.T) {
	src := image.NewYCbCr(image.Rect(0, 0, 2, 1), image.YCbCrSubsampleRatio444)
	src.Y[0], src.Cb[0], src.Cr[0] = 235, 128, 128
	src.Y[1], src.Cb[1], src.Cr[1] = 16, 128, 128
	img := yuvToNRGBA(src, []byte{7, 9})
	assert.Equal(t, [][4]uint8{{255, 255, 255, 7}, {0, 0, 0, 9}}, pixels(img))
}
