// internal/imaging/webp/vp8l.go
package webp

import (
	"fmt"
	"image"
)

// vp8lSignature is the first byte of a lossless bitstream.
const vp8lSignature = 0x2F

const (
	transformPredictor     = 0
	transformColor         = 1
	transformSubtractGreen = 2
	transformColorIndexing = 3
)

const (
	numLiteralCodes  = 256
	numLengthCodes   = 24
	numDistanceCodes = 40
	maxCacheBits     = 11
)

// codeLengthOrder is the order in which code-length code lengths are stored.
var codeLengthOrder = [19]int{17, 18, 0, 1, 2, 3, 4, 5, 16, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

// distanceMap converts short distance codes to (dx, dy) neighbourhood offsets.
var distanceMap = [120][2]int8{
	{0, 1}, {1, 0}, {1, 1}, {-1, 1}, {0, 2}, {2, 0}, {1, 2},
	{-1, 2}, {2, 1}, {-2, 1}, {2, 2}, {-2, 2}, {0, 3}, {3, 0},
	{1, 3}, {-1, 3}, {3, 1}, {-3, 1}, {2, 3}, {-2, 3}, {3, 2},
	{-3, 2}, {0, 4}, {4, 0}, {1, 4}, {-1, 4}, {4, 1}, {-4, 1},
	{3, 3}, {-3, 3}, {2, 4}, {-2, 4}, {4, 2}, {-4, 2}, {0, 5},
	{3, 4}, {-3, 4}, {4, 3}, {-4, 3}, {5, 0}, {1, 5}, {-1, 5},
	{5, 1}, {-5, 1}, {2, 5}, {-2, 5}, {5, 2}, {-5, 2}, {4, 4},
	{-4, 4}, {3, 5}, {-3, 5}, {5, 3}, {-5, 3}, {0, 6}, {6, 0},
	{1, 6}, {-1, 6}, {6, 1}, {-6, 1}, {2, 6}, {-2, 6}, {6, 2},
	{-6, 2}, {4, 5}, {-4, 5}, {5, 4}, {-5, 4}, {3, 6}, {-3, 6},
	{6, 3}, {-6, 3}, {0, 7}, {7, 0}, {1, 7}, {-1, 7}, {5, 5},
	{-5, 5}, {7, 1}, {-7, 1}, {4, 6}, {-4, 6}, {6, 4}, {-6, 4},
	{2, 7}, {-2, 7}, {7, 2}, {-7, 2}, {3, 7}, {-3, 7}, {7, 3},
	{-7, 3}, {5, 6}, {-5, 6}, {6, 5}, {-6, 5}, {8, 0}, {4, 7},
	{-4, 7}, {7, 4}, {-7, 4}, {8, 1}, {8, 2}, {6, 6}, {-6, 6},
	{8, 3}, {5, 7}, {-5, 7}, {7, 5}, {-7, 5}, {8, 4}, {6, 7},
	{-6, 7}, {7, 6}, {-7, 6}, {8, 5}, {7, 7}, {-7, 7}, {8, 6},
	{8, 7},
}

// lsbReader reads bits least-significant first.
type lsbReader struct {
	data []byte
	pos  int
	acc  uint64
	n    uint
	err  error
}

func (r *lsbReader) read(n uint) uint32 {
	for r.n < n {
		if r.pos >= len(r.data) {
			if r.err == nil {
				r.err = fmt.Errorf("%w: lossless bitstream", ErrTruncated)
			}
			return 0
		}
		r.acc |= uint64(r.data[r.pos]) << r.n
		r.pos++
		r.n += 8
	}
	v := uint32(r.acc & (1<<n - 1))
	r.acc >>= n
	r.n -= n
	return v
}

// prefixCode is a canonical prefix code, decoded bit by bit.
type prefixCode struct {
	// single is the only symbol of a zero-length code, or -1.
	single  int
	counts  [16]uint16
	symbols []uint16
}

func newPrefixCode(lengths []uint8) (*prefixCode, error) {
	c := &prefixCode{single: -1}
	nonzero := 0
	last := 0
	for sym, l := range lengths {
		if l > 15 {
			return nil, fmt.Errorf("%w: code length %d", ErrFormat, l)
		}
		if l > 0 {
			nonzero++
			last = sym
			c.counts[l]++
		}
	}
	switch nonzero {
	case 0:
		return nil, fmt.Errorf("%w: empty prefix code", ErrFormat)
	case 1:
		c.single = last
		return c, nil
	}

	// Reject over-subscribed codes.
	left := 1
	for l := 1; l < 16; l++ {
		left <<= 1
		left -= int(c.counts[l])
		if left < 0 {
			return nil, fmt.Errorf("%w: over-subscribed prefix code", ErrFormat)
		}
	}

	var offs [16]uint16
	for l := 1; l < 15; l++ {
		offs[l+1] = offs[l] + c.counts[l]
	}
	c.symbols = make([]uint16, nonzero)
	for sym, l := range lengths {
		if l > 0 {
			c.symbols[offs[l]] = uint16(sym)
			offs[l]++
		}
	}
	return c, nil
}

func (c *prefixCode) decode(r *lsbReader) int {
	if c.single >= 0 {
		return c.single
	}
	code, first, index := 0, 0, 0
	for l := 1; l < 16; l++ {
		code |= int(r.read(1))
		count := int(c.counts[l])
		if code-first < count {
			return int(c.symbols[index+code-first])
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
		if r.err != nil {
			return 0
		}
	}
	r.err = fmt.Errorf("%w: invalid prefix code", ErrFormat)
	return 0
}

// readCode reads one prefix code of the given alphabet size.
func (r *lsbReader) readCode(alphabet int) (*prefixCode, error) {
	lengths := make([]uint8, alphabet)
	if r.read(1) == 1 {
		numSymbols := r.read(1) + 1
		firstBits := uint(1)
		if r.read(1) == 1 {
			firstBits = 8
		}
		s0 := int(r.read(firstBits))
		if s0 >= alphabet {
			return nil, fmt.Errorf("%w: simple code symbol %d", ErrFormat, s0)
		}
		lengths[s0] = 1
		if numSymbols == 2 {
			s1 := int(r.read(8))
			if s1 >= alphabet {
				return nil, fmt.Errorf("%w: simple code symbol %d", ErrFormat, s1)
			}
			lengths[s1] = 1
		}
		if r.err != nil {
			return nil, r.err
		}
		return newPrefixCode(lengths)
	}

	var clLengths [19]uint8
	n := int(r.read(4)) + 4
	for i := range n {
		clLengths[codeLengthOrder[i]] = uint8(r.read(3))
	}
	clCode, err := newPrefixCode(clLengths[:])
	if err != nil {
		return nil, err
	}

	maxSymbol := alphabet
	if r.read(1) == 1 {
		nbits := 2 + 2*uint(r.read(3))
		maxSymbol = 2 + int(r.read(nbits))
		if maxSymbol > alphabet {
			return nil, fmt.Errorf("%w: max symbol %d", ErrFormat, maxSymbol)
		}
	}

	prev := uint8(8)
	for sym := 0; sym < alphabet; {
		if maxSymbol == 0 {
			break
		}
		maxSymbol--
		cl := clCode.decode(r)
		if r.err != nil {
			return nil, r.err
		}
		if cl < 16 {
			lengths[sym] = uint8(cl)
			sym++
			if cl != 0 {
				prev = uint8(cl)
			}
			continue
		}
		var repeat int
		val := uint8(0)
		switch cl {
		case 16:
			repeat = 3 + int(r.read(2))
			val = prev
		case 17:
			repeat = 3 + int(r.read(3))
		default:
			repeat = 11 + int(r.read(7))
		}
		if sym+repeat > alphabet {
			return nil, fmt.Errorf("%w: code length repeat overflow", ErrFormat)
		}
		for range repeat {
			lengths[sym] = val
			sym++
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return newPrefixCode(lengths)
}

// prefixGroup holds the five codes used for one region of the image.
type prefixGroup [5]*prefixCode

const (
	codeGreen = iota
	codeRed
	codeBlue
	codeAlpha
	codeDistance
)

type transform struct {
	kind  int
	bits  uint
	width int
	data  []uint32
}

type vp8lDecoder struct {
	r          *lsbReader
	transforms []transform
	seen       [4]bool
}

// decodeVP8L decodes a complete lossless bitstream, header included.
func decodeVP8L(data []byte) (*image.NRGBA, error) {
	w, h, _, err := vp8lHeader(data)
	if err != nil {
		return nil, err
	}
	d := &vp8lDecoder{r: &lsbReader{data: data[5:]}}
	argb, err := d.decodeImage(w, h)
	if err != nil {
		return nil, err
	}
	return argbToNRGBA(argb, w, h), nil
}

// vp8lHeader reads the signature and the packed 14-bit dimensions.
func vp8lHeader(data []byte) (w, h int, alpha bool, err error) {
	if len(data) < 5 {
		return 0, 0, false, fmt.Errorf("%w: lossless header", ErrTruncated)
	}
	if data[0] != vp8lSignature {
		return 0, 0, false, fmt.Errorf("%w: lossless signature 0x%02X", ErrFormat, data[0])
	}
	r := &lsbReader{data: data[1:5]}
	w = int(r.read(14)) + 1
	h = int(r.read(14)) + 1
	alpha = r.read(1) == 1
	if version := r.read(3); version != 0 {
		return 0, 0, false, fmt.Errorf("%w: lossless version %d", ErrFormat, version)
	}
	return w, h, alpha, nil
}

// decodeImage reads the transforms and main image, then inverts the transforms.
func (d *vp8lDecoder) decodeImage(w, h int) ([]uint32, error) {
	xsize := w
	for d.r.read(1) == 1 {
		if d.r.err != nil {
			return nil, d.r.err
		}
		kind := int(d.r.read(2))
		if d.seen[kind] {
			return nil, fmt.Errorf("%w: repeated transform %d", ErrFormat, kind)
		}
		d.seen[kind] = true
		t := transform{kind: kind, width: xsize}
		var err error
		switch kind {
		case transformPredictor, transformColor:
			t.bits = uint(d.r.read(3)) + 2
			t.data, err = d.decodeStream(subSize(xsize, t.bits), subSize(h, t.bits), false)
		case transformColorIndexing:
			size := int(d.r.read(8)) + 1
			t.data, err = d.decodeStream(size, 1, false)
			if err == nil {
				for i := 1; i < len(t.data); i++ {
					t.data[i] = addPixels(t.data[i], t.data[i-1])
				}
				t.bits = colorIndexBits(size)
				xsize = subSize(xsize, t.bits)
			}
		}
		if err != nil {
			return nil, err
		}
		d.transforms = append(d.transforms, t)
	}

	pix, err := d.decodeStream(xsize, h, true)
	if err != nil {
		return nil, err
	}
	for i := len(d.transforms) - 1; i >= 0; i-- {
		pix = d.transforms[i].inverse(pix, h)
	}
	return pix, nil
}

func colorIndexBits(size int) uint {
	switch {
	case size <= 2:
		return 3
	case size <= 4:
		return 2
	case size <= 16:
		return 1
	}
	return 0
}

func subSize(size int, bits uint) int {
	return (size + 1<<bits - 1) >> bits
}

// decodeStream decodes one entropy-coded image. Only the main image may use
// a meta prefix image.
func (d *vp8lDecoder) decodeStream(w, h int, main bool) ([]uint32, error) {
	r := d.r
	cacheBits := uint(0)
	if r.read(1) == 1 {
		cacheBits = uint(r.read(4))
		if cacheBits < 1 || cacheBits > maxCacheBits {
			return nil, fmt.Errorf("%w: color cache bits %d", ErrFormat, cacheBits)
		}
	}

	var metaBits uint
	var meta []uint32
	numGroups := 1
	if main && r.read(1) == 1 {
		metaBits = uint(r.read(3)) + 2
		var err error
		meta, err = d.decodeStream(subSize(w, metaBits), subSize(h, metaBits), false)
		if err != nil {
			return nil, err
		}
		for i, p := range meta {
			code := int(p>>8) & 0xFFFF
			meta[i] = uint32(code)
			numGroups = max(numGroups, code+1)
		}
	}
	if r.err != nil {
		return nil, r.err
	}

	cacheSize := 0
	if cacheBits > 0 {
		cacheSize = 1 << cacheBits
	}
	alphabets := [5]int{numLiteralCodes + numLengthCodes + cacheSize, 256, 256, 256, numDistanceCodes}
	groups := make([]prefixGroup, numGroups)
	for g := range groups {
		for k, size := range alphabets {
			code, err := r.readCode(size)
			if err != nil {
				return nil, err
			}
			groups[g][k] = code
		}
	}

	return d.decodePixels(w, h, groups, meta, metaBits, cacheBits)
}

func (d *vp8lDecoder) decodePixels(w, h int, groups []prefixGroup, meta []uint32, metaBits, cacheBits uint) ([]uint32, error) {
	r := d.r
	total := w * h
	pix := make([]uint32, total)
	var cache []uint32
	if cacheBits > 0 {
		cache = make([]uint32, 1<<cacheBits)
	}
	metaWidth := subSize(w, metaBits)
	insert := func(p uint32) {
		if cache != nil {
			cache[(0x1e35a7bd*p)>>(32-cacheBits)] = p
		}
	}

	for pos := 0; pos < total; {
		group := &groups[0]
		if meta != nil {
			x, y := pos%w, pos/w
			group = &groups[meta[(y>>metaBits)*metaWidth+(x>>metaBits)]]
		}
		g := group[codeGreen].decode(r)
		if r.err != nil {
			return nil, r.err
		}
		switch {
		case g < numLiteralCodes:
			red := group[codeRed].decode(r)
			blue := group[codeBlue].decode(r)
			alpha := group[codeAlpha].decode(r)
			p := uint32(alpha)<<24 | uint32(red)<<16 | uint32(g)<<8 | uint32(blue)
			pix[pos] = p
			insert(p)
			pos++
		case g < numLiteralCodes+numLengthCodes:
			length := prefixValue(r, g-numLiteralCodes)
			distSym := group[codeDistance].decode(r)
			dist := planeDistance(w, prefixValue(r, distSym))
			if r.err != nil {
				return nil, r.err
			}
			if dist > pos || pos+length > total {
				return nil, fmt.Errorf("%w: back-reference out of range", ErrFormat)
			}
			for range length {
				p := pix[pos-dist]
				pix[pos] = p
				insert(p)
				pos++
			}
		default:
			idx := g - numLiteralCodes - numLengthCodes
			if cache == nil || idx >= len(cache) {
				return nil, fmt.Errorf("%w: color cache index %d", ErrFormat, idx)
			}
			p := cache[idx]
			pix[pos] = p
			insert(p)
			pos++
		}
		if r.err != nil {
			return nil, r.err
		}
	}
	return pix, nil
}

// prefixValue expands a length or distance prefix symbol with its extra bits.
func prefixValue(r *lsbReader, prefix int) int {
	if prefix < 4 {
		return prefix + 1
	}
	extra := uint(prefix-2) >> 1
	offset := (2 + prefix&1) << extra
	return offset + int(r.read(extra)) + 1
}

// planeDistance maps a distance code to a linear pixel distance.
func planeDistance(width, code int) int {
	if code > len(distanceMap) {
		return code - len(distanceMap)
	}
	off := distanceMap[code-1]
	dist := int(off[0]) + int(off[1])*width
	return max(dist, 1)
}

// -- Transforms --

func (t *transform) inverse(pix []uint32, h int) []uint32 {
	switch t.kind {
	case transformPredictor:
		t.inversePredictor(pix, h)
	case transformColor:
		t.inverseColor(pix, h)
	case transformSubtractGreen:
		for i, p := range pix {
			g := (p >> 8) & 0xFF
			red := ((p >> 16) + g) & 0xFF
			blue := (p + g) & 0xFF
			pix[i] = p&0xFF00FF00 | red<<16 | blue
		}
	case transformColorIndexing:
		return t.inverseColorIndexing(pix, h)
	}
	return pix
}

func (t *transform) inversePredictor(pix []uint32, h int) {
	w := t.width
	blocksPerRow := subSize(w, t.bits)
	for y := range h {
		for x := range w {
			i := y*w + x
			var pred uint32
			switch {
			case x == 0 && y == 0:
				pred = 0xFF000000
			case y == 0:
				pred = pix[i-1]
			case x == 0:
				pred = pix[i-w]
			default:
				mode := (t.data[(y>>t.bits)*blocksPerRow+(x>>t.bits)] >> 8) & 0x0F
				// The top-right of the last column is the first pixel of the current row.
				pred = predict(mode, pix[i-1], pix[i-w], pix[i-w-1], pix[i-w+1])
			}
			pix[i] = addPixels(pix[i], pred)
		}
	}
}

func predict(mode, l, t, tl, tr uint32) uint32 {
	switch mode {
	case 0:
		return 0xFF000000
	case 1:
		return l
	case 2:
		return t
	case 3:
		return tr
	case 4:
		return tl
	case 5:
		return average2(average2(l, tr), t)
	case 6:
		return average2(l, tl)
	case 7:
		return average2(l, t)
	case 8:
		return average2(tl, t)
	case 9:
		return average2(t, tr)
	case 10:
		return average2(average2(l, tl), average2(t, tr))
	case 11:
		return selectPredictor(l, t, tl)
	case 12:
		return clampAddSubtractFull(l, t, tl)
	case 13:
		return clampAddSubtractHalf(average2(l, t), tl)
	}
	return 0xFF000000
}

func channel(p uint32, shift uint) int { return int(p>>shift) & 0xFF }

func perChannel(f func(shift uint) int) uint32 {
	var out uint32
	for _, shift := range []uint{24, 16, 8, 0} {
		out |= uint32(f(shift)&0xFF) << shift
	}
	return out
}

func addPixels(a, b uint32) uint32 {
	return perChannel(func(s uint) int { return channel(a, s) + channel(b, s) })
}

func average2(a, b uint32) uint32 {
	return perChannel(func(s uint) int { return (channel(a, s) + channel(b, s)) / 2 })
}

func clamp255(v int) int { return min(max(v, 0), 255) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func selectPredictor(l, t, tl uint32) uint32 {
	pl, pt := 0, 0
	for _, s := range []uint{24, 16, 8, 0} {
		p := channel(l, s) + channel(t, s) - channel(tl, s)
		pl += abs(p - channel(l, s))
		pt += abs(p - channel(t, s))
	}
	if pl < pt {
		return l
	}
	return t
}

func clampAddSubtractFull(a, b, c uint32) uint32 {
	return perChannel(func(s uint) int { return clamp255(channel(a, s) + channel(b, s) - channel(c, s)) })
}

func clampAddSubtractHalf(a, b uint32) uint32 {
	return perChannel(func(s uint) int { return clamp255(channel(a, s) + (channel(a, s)-channel(b, s))/2) })
}

func colorTransformDelta(t, c uint8) int {
	return (int(int8(t)) * int(int8(c))) >> 5
}

func (t *transform) inverseColor(pix []uint32, h int) {
	w := t.width
	blocksPerRow := subSize(w, t.bits)
	for y := range h {
		for x := range w {
			i := y*w + x
			m := t.data[(y>>t.bits)*blocksPerRow+(x>>t.bits)]
			greenToRed, greenToBlue, redToBlue := uint8(m), uint8(m>>8), uint8(m>>16)
			p := pix[i]
			g := uint8(p >> 8)
			red := int(p>>16&0xFF) + colorTransformDelta(greenToRed, g)
			red &= 0xFF
			blue := int(p&0xFF) + colorTransformDelta(greenToBlue, g)
			blue += colorTransformDelta(redToBlue, uint8(red))
			blue &= 0xFF
			pix[i] = p&0xFF00FF00 | uint32(red)<<16 | uint32(blue)
		}
	}
}

func (t *transform) inverseColorIndexing(pix []uint32, h int) []uint32 {
	w := t.width
	packedWidth := subSize(w, t.bits)
	out := make([]uint32, w*h)
	perByte := 1 << t.bits
	bitsPer := uint(8 >> t.bits)
	mask := uint32(1)<<bitsPer - 1
	for y := range h {
		for x := range w {
			packed := (pix[y*packedWidth+x>>t.bits] >> 8) & 0xFF
			idx := int((packed >> (uint(x&(perByte-1)) * bitsPer)) & mask)
			if idx < len(t.data) {
				out[y*w+x] = t.data[idx]
			}
		}
	}
	return out
}

func argbToNRGBA(argb []uint32, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, p := range argb {
		img.Pix[4*i+0] = uint8(p >> 16)
		img.Pix[4*i+1] = uint8(p >> 8)
		img.Pix[4*i+2] = uint8(p)
		img.Pix[4*i+3] = uint8(p >> 24)
	}
	return img
}
