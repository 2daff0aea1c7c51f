// internal/imaging/webp/vp8.go
package webp

import (
	"bytes"
	"fmt"
	"image"

	"golang.org/x/image/vp8"
)

// FrameTag is the uncompressed 10-byte preamble of a VP8 keyframe.
type FrameTag struct {
	KeyFrame          bool
	Version           uint8
	ShowFrame         bool
	FirstPartitionLen int
	Width, Height     int
	XScale, YScale    uint8
}

// Segmentation is the segment-based adjustment block of a frame header.
type Segmentation struct {
	Enabled    bool
	UpdateMap  bool
	UpdateData bool
	// AbsoluteDelta selects absolute values rather than deltas.
	AbsoluteDelta bool
	Quantizer     [4]int8
	FilterLevel   [4]int8
	TreeProbs     [3]uint8
}

// FrameHeader is the first-partition header of a keyframe, up to the
// quantizer indices.
type FrameHeader struct {
	FrameTag
	ColorSpace    uint8
	ClampingType  uint8
	Segmentation  Segmentation
	SimpleFilter  bool
	FilterLevel   uint8
	Sharpness     uint8
	FilterDeltas  bool
	RefDeltas     [4]int8
	ModeDeltas    [4]int8
	Partitions    int
	YACQuantIndex uint8
	// QuantDeltas are y_dc, y2_dc, y2_ac, uv_dc and uv_ac.
	QuantDeltas         [5]int8
	RefreshEntropyProbs bool
}

// parseFrameTag reads the frame tag and, for keyframes, the start code and
// dimensions.
func parseFrameTag(data []byte) (FrameTag, error) {
	var t FrameTag
	if len(data) < 3 {
		return t, fmt.Errorf("%w: VP8 frame tag", ErrTruncated)
	}
	bits := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
	t.KeyFrame = bits&1 == 0
	t.Version = uint8(bits>>1) & 7
	t.ShowFrame = bits>>4&1 == 1
	t.FirstPartitionLen = int(bits >> 5)
	if !t.KeyFrame {
		return t, ErrNotKeyframe
	}
	if len(data) < 10 {
		return t, fmt.Errorf("%w: VP8 keyframe header", ErrTruncated)
	}
	if data[3] != 0x9D || data[4] != 0x01 || data[5] != 0x2A {
		return t, fmt.Errorf("%w: VP8 start code", ErrFormat)
	}
	w := uint16(data[6]) | uint16(data[7])<<8
	h := uint16(data[8]) | uint16(data[9])<<8
	t.Width, t.XScale = int(w&0x3FFF), uint8(w>>14)
	t.Height, t.YScale = int(h&0x3FFF), uint8(h>>14)
	if t.Width == 0 || t.Height == 0 {
		return t, fmt.Errorf("%w: zero VP8 dimension", ErrFormat)
	}
	if 10+t.FirstPartitionLen > len(data) {
		return t, fmt.Errorf("%w: VP8 first partition", ErrTruncated)
	}
	return t, nil
}

// boolDecoder is the VP8 boolean entropy decoder.
type boolDecoder struct {
	data     []byte
	pos      int
	value    uint32
	rng      uint32
	bitCount int
}

func newBoolDecoder(data []byte) *boolDecoder {
	d := &boolDecoder{data: data, rng: 255}
	d.value = uint32(d.next())<<8 | uint32(d.next())
	return d
}

func (d *boolDecoder) next() byte {
	if d.pos >= len(d.data) {
		return 0
	}
	b := d.data[d.pos]
	d.pos++
	return b
}

func (d *boolDecoder) readBool(prob uint8) bool {
	split := 1 + (((d.rng - 1) * uint32(prob)) >> 8)
	bigSplit := split << 8
	var bit bool
	if d.value >= bigSplit {
		bit = true
		d.rng -= split
		d.value -= bigSplit
	} else {
		d.rng = split
	}
	for d.rng < 128 {
		d.value <<= 1
		d.rng <<= 1
		d.bitCount++
		if d.bitCount == 8 {
			d.bitCount = 0
			d.value |= uint32(d.next())
		}
	}
	return bit
}

func (d *boolDecoder) readFlag() bool { return d.readBool(128) }

// readLiteral reads n bits, most significant first.
func (d *boolDecoder) readLiteral(n int) uint32 {
	var v uint32
	for range n {
		v <<= 1
		if d.readFlag() {
			v |= 1
		}
	}
	return v
}

// readSigned reads an n-bit magnitude followed by a sign bit.
func (d *boolDecoder) readSigned(n int) int8 {
	v := int8(d.readLiteral(n))
	if d.readFlag() {
		return -v
	}
	return v
}

// readOptionalSigned reads a flag and, when set, a signed value.
func (d *boolDecoder) readOptionalSigned(n int) int8 {
	if !d.readFlag() {
		return 0
	}
	return d.readSigned(n)
}

// ParseFrameHeader parses the frame tag and first-partition header of a VP8
// keyframe payload.
func ParseFrameHeader(data []byte) (*FrameHeader, error) {
	tag, err := parseFrameTag(data)
	if err != nil {
		return nil, err
	}
	h := &FrameHeader{FrameTag: tag}
	d := newBoolDecoder(data[10 : 10+tag.FirstPartitionLen])

	h.ColorSpace = uint8(d.readLiteral(1))
	h.ClampingType = uint8(d.readLiteral(1))

	seg := &h.Segmentation
	if seg.Enabled = d.readFlag(); seg.Enabled {
		seg.UpdateMap = d.readFlag()
		seg.UpdateData = d.readFlag()
		if seg.UpdateData {
			seg.AbsoluteDelta = d.readFlag()
			for i := range seg.Quantizer {
				seg.Quantizer[i] = d.readOptionalSigned(7)
			}
			for i := range seg.FilterLevel {
				seg.FilterLevel[i] = d.readOptionalSigned(6)
			}
		}
		if seg.UpdateMap {
			for i := range seg.TreeProbs {
				seg.TreeProbs[i] = 255
				if d.readFlag() {
					seg.TreeProbs[i] = uint8(d.readLiteral(8))
				}
			}
		}
	}

	h.SimpleFilter = d.readFlag()
	h.FilterLevel = uint8(d.readLiteral(6))
	h.Sharpness = uint8(d.readLiteral(3))
	if h.FilterDeltas = d.readFlag(); h.FilterDeltas {
		if d.readFlag() {
			for i := range h.RefDeltas {
				h.RefDeltas[i] = d.readOptionalSigned(6)
			}
			for i := range h.ModeDeltas {
				h.ModeDeltas[i] = d.readOptionalSigned(6)
			}
		}
	}
	h.Partitions = 1 << d.readLiteral(2)
	h.YACQuantIndex = uint8(d.readLiteral(7))
	for i := range h.QuantDeltas {
		h.QuantDeltas[i] = d.readOptionalSigned(4)
	}
	h.RefreshEntropyProbs = d.readFlag()
	return h, nil
}

// decodeVP8 decodes a lossy keyframe. The header is validated here; the
// macroblock reconstruction runs in golang.org/x/image/vp8.
func decodeVP8(data []byte) (*image.YCbCr, error) {
	if _, err := ParseFrameHeader(data); err != nil {
		return nil, err
	}
	dec := vp8.NewDecoder()
	dec.Init(bytes.NewReader(data), len(data))
	if _, err := dec.DecodeFrameHeader(); err != nil {
		return nil, fmt.Errorf("%w: VP8 frame header: %v", ErrFormat, err)
	}
	img, err := dec.DecodeFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: VP8 frame: %v", ErrFormat, err)
	}
	return img, nil
}

// yuvToNRGBA converts a decoded frame through the BT.601 studio-swing matrix.
func yuvToNRGBA(src *image.YCbCr, alpha []byte) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			yi := src.YOffset(b.Min.X+x, b.Min.Y+y)
			ci := src.COffset(b.Min.X+x, b.Min.Y+y)
			yy := 1.164 * (float64(src.Y[yi]) - 16)
			u := float64(src.Cb[ci]) - 128
			v := float64(src.Cr[ci]) - 128
			o := dst.PixOffset(x, y)
			dst.Pix[o+0] = clampByte(yy + 1.596*v)
			dst.Pix[o+1] = clampByte(yy - 0.813*v - 0.391*u)
			dst.Pix[o+2] = clampByte(yy + 2.018*u)
			dst.Pix[o+3] = 0xFF
			if alpha != nil {
				dst.Pix[o+3] = alpha[y*b.Dx()+x]
			}
		}
	}
	return dst
}

func clampByte(v float64) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return byte(v + 0.5)
}
