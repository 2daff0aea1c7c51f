// internal/imaging/jpeg/jpeg.go
package jpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Marker codes, the byte following 0xFF.
const (
	sof0  = 0xC0
	sof1  = 0xC1
	sof2  = 0xC2
	dht   = 0xC4
	soi   = 0xD8
	eoi   = 0xD9
	sos   = 0xDA
	dqt   = 0xDB
	dri   = 0xDD
	rst0  = 0xD0
	rst7  = 0xD7
	app14 = 0xEE
)

var (
	// ErrInvalidMagic is returned when data does not start with SOI.
	ErrInvalidMagic = errors.New("jpeg: missing SOI marker")
	// ErrProgressive is returned for SOF2 progressive images.
	ErrProgressive = errors.New("jpeg: progressive mode is not supported")
	// ErrUnsupported covers lossless, arithmetic-coded, 12-bit and CMYK images.
	ErrUnsupported = errors.New("jpeg: unsupported feature")
	// ErrFormat is returned for malformed segments and entropy data.
	ErrFormat = errors.New("jpeg: invalid format")
	// ErrTruncated is returned when data ends before the image is complete.
	ErrTruncated = errors.New("jpeg: truncated data")
)

type component struct {
	id   byte
	h, v int
	tq   int
	// plane holds decoded samples, blocksPerLine*8 wide.
	plane         []byte
	blocksPerLine int
	blocksPerCol  int
	pred          int32
}

type decoder struct {
	data []byte
	pos  int

	width, height int
	comps         []component
	hmax, vmax    int
	mcusX, mcusY  int

	quant       [4][64]int32
	dc, ac      [4]huffman
	restartIval int
	adobeRGB    bool
	frameSeen   bool
}

// Decode decodes a baseline or extended-sequential JPEG into RGBA.
func Decode(data []byte) (*image.RGBA, error) {
	d := &decoder{data: data}
	if err := d.run(false); err != nil {
		return nil, err
	}
	return d.toRGBA(), nil
}

// DecodeConfig reads the frame header only.
func DecodeConfig(data []byte) (image.Config, error) {
	d := &decoder{data: data}
	if err := d.run(true); err != nil {
		return image.Config{}, err
	}
	model := color.RGBAModel
	return image.Config{ColorModel: model, Width: d.width, Height: d.height}, nil
}

func (d *decoder) u16(off int) int {
	return int(binary.BigEndian.Uint16(d.data[off:]))
}

// run walks the marker stream. With configOnly it stops after the frame header.
func (d *decoder) run(configOnly bool) error {
	if len(d.data) < 2 || d.data[0] != 0xFF || d.data[1] != soi {
		return ErrInvalidMagic
	}
	d.pos = 2
	for {
		marker, err := d.nextMarker()
		if err != nil {
			return err
		}
		switch {
		case marker == eoi:
			if !d.frameSeen {
				return fmt.Errorf("%w: no frame before EOI", ErrFormat)
			}
			return nil
		case marker >= rst0 && marker <= rst7:
			continue
		case marker == 0x01:
			continue
		}

		seg, err := d.segment()
		if err != nil {
			return err
		}
		switch {
		case marker == sof0 || marker == sof1:
			if err := d.parseSOF(seg); err != nil {
				return err
			}
			if configOnly {
				return nil
			}
		case marker == sof2:
			return ErrProgressive
		case marker >= 0xC3 && marker <= 0xCF && marker != dht && marker != 0xC8 && marker != 0xCC:
			return fmt.Errorf("%w: SOF marker 0x%02X", ErrUnsupported, marker)
		case marker == dht:
			if err := d.parseDHT(seg); err != nil {
				return err
			}
		case marker == dqt:
			if err := d.parseDQT(seg); err != nil {
				return err
			}
		case marker == dri:
			if len(seg) < 2 {
				return fmt.Errorf("%w: short DRI", ErrFormat)
			}
			d.restartIval = int(binary.BigEndian.Uint16(seg))
		case marker == app14:
			// Adobe transform flag 0 on a 3-component image means RGB.
			if len(seg) >= 12 && string(seg[:5]) == "Adobe" {
				d.adobeRGB = seg[11] == 0
			}
		case marker == sos:
			if !d.frameSeen {
				return fmt.Errorf("%w: SOS before SOF", ErrFormat)
			}
			if err := d.scan(seg); err != nil {
				return err
			}
		}
	}
}

// nextMarker skips fill bytes and stuffed entropy bytes and returns the
// next marker code.
func (d *decoder) nextMarker() (byte, error) {
	for d.pos+1 < len(d.data) {
		if d.data[d.pos] != 0xFF {
			d.pos++
			continue
		}
		m := d.data[d.pos+1]
		switch m {
		case 0xFF:
			d.pos++
			continue
		case 0x00:
			d.pos += 2
			continue
		}
		d.pos += 2
		return m, nil
	}
	return 0, ErrTruncated
}

// segment returns the payload of a length-prefixed marker segment.
func (d *decoder) segment() ([]byte, error) {
	if d.pos+2 > len(d.data) {
		return nil, ErrTruncated
	}
	n := d.u16(d.pos)
	if n < 2 || d.pos+n > len(d.data) {
		return nil, ErrTruncated
	}
	seg := d.data[d.pos+2 : d.pos+n]
	d.pos += n
	return seg, nil
}

func (d *decoder) parseSOF(seg []byte) error {
	if d.frameSeen {
		return fmt.Errorf("%w: multiple frames", ErrFormat)
	}
	if len(seg) < 6 {
		return fmt.Errorf("%w: short SOF", ErrFormat)
	}
	if seg[0] != 8 {
		return fmt.Errorf("%w: %d-bit precision", ErrUnsupported, seg[0])
	}
	d.height = int(binary.BigEndian.Uint16(seg[1:]))
	d.width = int(binary.BigEndian.Uint16(seg[3:]))
	nf := int(seg[5])
	if d.width == 0 || d.height == 0 {
		return fmt.Errorf("%w: zero dimension", ErrUnsupported)
	}
	if nf != 1 && nf != 3 {
		return fmt.Errorf("%w: %d components", ErrUnsupported, nf)
	}
	if len(seg) < 6+3*nf {
		return fmt.Errorf("%w: short SOF", ErrFormat)
	}
	d.comps = make([]component, nf)
	for i := range d.comps {
		c := seg[6+3*i:]
		h, v := int(c[1]>>4), int(c[1]&0x0F)
		if h < 1 || h > 4 || v < 1 || v > 4 || c[2] > 3 {
			return fmt.Errorf("%w: bad sampling factors", ErrFormat)
		}
		if nf == 1 {
			// A single component is always one block per MCU.
			h, v = 1, 1
		}
		d.comps[i] = component{id: c[0], h: h, v: v, tq: int(c[2])}
		d.hmax = max(d.hmax, h)
		d.vmax = max(d.vmax, v)
	}
	d.mcusX = (d.width + 8*d.hmax - 1) / (8 * d.hmax)
	d.mcusY = (d.height + 8*d.vmax - 1) / (8 * d.vmax)
	for i := range d.comps {
		c := &d.comps[i]
		c.blocksPerLine = d.mcusX * c.h
		c.blocksPerCol = d.mcusY * c.v
		c.plane = make([]byte, c.blocksPerLine*8*c.blocksPerCol*8)
	}
	d.frameSeen = true
	return nil
}

func (d *decoder) parseDQT(seg []byte) error {
	for len(seg) > 0 {
		pq, tq := seg[0]>>4, int(seg[0]&0x0F)
		if tq > 3 {
			return fmt.Errorf("%w: bad quantization table id", ErrFormat)
		}
		seg = seg[1:]
		switch pq {
		case 0:
			if len(seg) < 64 {
				return fmt.Errorf("%w: short DQT", ErrFormat)
			}
			for k := range 64 {
				d.quant[tq][k] = int32(seg[k])
			}
			seg = seg[64:]
		case 1:
			if len(seg) < 128 {
				return fmt.Errorf("%w: short DQT", ErrFormat)
			}
			for k := range 64 {
				d.quant[tq][k] = int32(binary.BigEndian.Uint16(seg[2*k:]))
			}
			seg = seg[128:]
		default:
			return fmt.Errorf("%w: bad quantization precision", ErrFormat)
		}
	}
	return nil
}

func (d *decoder) parseDHT(seg []byte) error {
	for len(seg) > 0 {
		if len(seg) < 17 {
			return fmt.Errorf("%w: short DHT", ErrFormat)
		}
		tc, th := seg[0]>>4, int(seg[0]&0x0F)
		if tc > 1 || th > 3 {
			return fmt.Errorf("%w: bad huffman table id", ErrFormat)
		}
		var counts [16]int
		total := 0
		for i := range 16 {
			counts[i] = int(seg[1+i])
			total += counts[i]
		}
		if len(seg) < 17+total {
			return fmt.Errorf("%w: short DHT", ErrFormat)
		}
		vals := append([]byte(nil), seg[17:17+total]...)
		table := &d.dc[th]
		if tc == 1 {
			table = &d.ac[th]
		}
		if err := table.build(counts, vals); err != nil {
			return err
		}
		seg = seg[17+total:]
	}
	return nil
}

type scanComponent struct {
	c      *component
	dc, ac *huffman
	q      *[64]int32
}

// scan decodes one SOS segment and the entropy data that follows it.
func (d *decoder) scan(seg []byte) error {
	if len(seg) < 1 {
		return fmt.Errorf("%w: short SOS", ErrFormat)
	}
	ns := int(seg[0])
	if ns < 1 || ns > len(d.comps) || len(seg) < 1+2*ns+3 {
		return fmt.Errorf("%w: bad SOS", ErrFormat)
	}
	scs := make([]scanComponent, ns)
	for i := range scs {
		id, tables := seg[1+2*i], seg[2+2*i]
		var c *component
		for k := range d.comps {
			if d.comps[k].id == id {
				c = &d.comps[k]
			}
		}
		if c == nil {
			return fmt.Errorf("%w: unknown scan component %d", ErrFormat, id)
		}
		td, ta := tables>>4, tables&0x0F
		if td > 3 || ta > 3 {
			return fmt.Errorf("%w: bad table selector", ErrFormat)
		}
		c.pred = 0
		scs[i] = scanComponent{c: c, dc: &d.dc[td], ac: &d.ac[ta], q: &d.quant[c.tq]}
	}
	ss, se := seg[1+2*ns], seg[2+2*ns]
	if ss != 0 || se != 63 {
		return fmt.Errorf("%w: spectral selection in sequential scan", ErrFormat)
	}

	br := &bitReader{data: d.data, pos: d.pos}
	var err error
	if ns == 1 {
		err = d.scanSingle(br, &scs[0])
	} else {
		err = d.scanInterleaved(br, scs)
	}
	if err != nil {
		return err
	}
	d.pos = br.pos
	return nil
}

// checkRestart handles the restart interval after mcu units have been coded.
func (d *decoder) checkRestart(br *bitReader, mcu, total int, scs []scanComponent) error {
	if d.restartIval == 0 || mcu%d.restartIval != 0 || mcu >= total {
		return nil
	}
	if err := br.restart(); err != nil {
		return err
	}
	for i := range scs {
		scs[i].c.pred = 0
	}
	return nil
}

func (d *decoder) scanInterleaved(br *bitReader, scs []scanComponent) error {
	total := d.mcusX * d.mcusY
	mcu := 0
	for my := range d.mcusY {
		for mx := range d.mcusX {
			for i := range scs {
				sc := &scs[i]
				for by := range sc.c.v {
					for bx := range sc.c.h {
						if err := d.block(br, sc, mx*sc.c.h+bx, my*sc.c.v+by); err != nil {
							return err
						}
					}
				}
			}
			mcu++
			if err := d.checkRestart(br, mcu, total, scs); err != nil {
				return err
			}
		}
	}
	return nil
}

// scanSingle decodes a non-interleaved scan, which covers only the blocks
// inside the component's own dimensions.
func (d *decoder) scanSingle(br *bitReader, sc *scanComponent) error {
	cw := (d.width*sc.c.h + d.hmax - 1) / d.hmax
	ch := (d.height*sc.c.v + d.vmax - 1) / d.vmax
	bw, bh := (cw+7)/8, (ch+7)/8
	total := bw * bh
	mcu := 0
	for by := range bh {
		for bx := range bw {
			if err := d.block(br, sc, bx, by); err != nil {
				return err
			}
			mcu++
			if err := d.checkRestart(br, mcu, total, []scanComponent{*sc}); err != nil {
				return err
			}
		}
	}
	return nil
}

// block decodes one 8x8 block and writes it into the component plane.
func (d *decoder) block(br *bitReader, sc *scanComponent, bx, by int) error {
	var coef [64]int32
	t, err := br.decode(sc.dc)
	if err != nil {
		return err
	}
	if t > 16 {
		return fmt.Errorf("%w: bad DC magnitude", ErrFormat)
	}
	sc.c.pred += br.receiveExtend(t)
	coef[0] = sc.c.pred * sc.q[0]

	for k := 1; k < 64; {
		rs, err := br.decode(sc.ac)
		if err != nil {
			return err
		}
		r, s := int(rs>>4), rs&0x0F
		if s == 0 {
			if r != 15 {
				break
			}
			k += 16
			continue
		}
		k += r
		if k > 63 {
			return fmt.Errorf("%w: AC coefficient out of range", ErrFormat)
		}
		coef[zigzag[k]] = br.receiveExtend(s) * sc.q[k]
		k++
	}

	stride := sc.c.blocksPerLine * 8
	off := by*8*stride + bx*8
	if off+7*stride+8 > len(sc.c.plane) {
		return fmt.Errorf("%w: block outside plane", ErrFormat)
	}
	idct(sc.c.plane[off:], stride, &coef)
	return nil
}

// sample returns the component value covering image pixel (x, y).
func (d *decoder) sample(c *component, x, y int) byte {
	sx := x * c.h / d.hmax
	sy := y * c.v / d.vmax
	return c.plane[sy*c.blocksPerLine*8+sx]
}

// toRGBA converts the component planes through BT.601 with opaque alpha.
func (d *decoder) toRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	rgb := d.adobeRGB || (len(d.comps) == 3 && d.comps[0].id == 'R' && d.comps[1].id == 'G' && d.comps[2].id == 'B')
	for y := range d.height {
		row := img.Pix[y*img.Stride:]
		for x := range d.width {
			p := row[4*x : 4*x+4 : 4*x+4]
			if len(d.comps) == 1 {
				g := d.sample(&d.comps[0], x, y)
				p[0], p[1], p[2] = g, g, g
			} else if rgb {
				p[0] = d.sample(&d.comps[0], x, y)
				p[1] = d.sample(&d.comps[1], x, y)
				p[2] = d.sample(&d.comps[2], x, y)
			} else {
				p[0], p[1], p[2] = ycbcrToRGB(
					d.sample(&d.comps[0], x, y),
					d.sample(&d.comps[1], x, y),
					d.sample(&d.comps[2], x, y))
			}
			p[3] = 0xFF
		}
	}
	return img
}

func ycbcrToRGB(y, cb, cr byte) (byte, byte, byte) {
	yy := float64(y)
	fb := float64(cb) - 128
	fr := float64(cr) - 128
	return clamp8(yy + 1.402*fr),
		clamp8(yy - 0.344136*fb - 0.714136*fr),
		clamp8(yy + 1.772*fb)
}
