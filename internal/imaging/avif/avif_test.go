package avif

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Test Helpers --

func be16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func be32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

func box(typ string, parts ...[]byte) []byte {
	body := bytes.Join(parts, nil)
	out := be32(uint32(8 + len(body)))
	out = append(out, typ...)
	return append(out, body...)
}

func fullBox(typ string, version uint8, flags uint32, parts ...[]byte) []byte {
	return box(typ, append([][]byte{be32(uint32(version)<<24 | flags)}, parts...)...)
}

// msbWriter packs AV1 f(n) fields.
type msbWriter struct {
	out []byte
	n   int
}

func (w *msbWriter) put(v uint32, bits int) {
	for i := bits - 1; i >= 0; i-- {
		if w.n%8 == 0 {
			w.out = append(w.out, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.out[len(w.out)-1] |= 0x80 >> (w.n % 8)
		}
		w.n++
	}
}

func (w *msbWriter) flag(b bool) {
	if b {
		w.put(1, 1)
	} else {
		w.put(0, 1)
	}
}

func encodeLEB128(v int) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func obu(typ OBUType, payload []byte) []byte {
	out := []byte{byte(typ)<<3 | 0x02}
	out = append(out, encodeLEB128(len(payload))...)
	return append(out, payload...)
}

// reducedSequenceHeader is a 64x48 still picture, 8-bit 4:2:0.
func reducedSequenceHeader() []byte {
	w := &msbWriter{}
	w.put(0, 3)  // profile
	w.flag(true) // still picture
	w.flag(true) // reduced still picture header
	w.put(8, 5)  // seq_level_idx
	w.put(15, 4)
	w.put(15, 4)
	w.put(63, 16)
	w.put(47, 16)
	w.flag(false) // 128x128 superblocks
	w.flag(true)  // filter intra
	w.flag(true)  // intra edge filter
	w.flag(false) // superres
	w.flag(true)  // cdef
	w.flag(true)  // restoration
	w.flag(false) // high bitdepth
	w.flag(false) // monochrome
	w.flag(true)  // color description
	w.put(1, 8)
	w.put(1, 8)
	w.put(1, 8)
	w.flag(true) // full range
	w.put(0, 2)  // chroma sample position
	w.flag(false)
	w.flag(false) // film grain
	return w.out
}

// reducedFrameHeader is a complete single-tile key frame header for
// reducedSequenceHeader. It is 70 bits long.
func reducedFrameHeader() []byte {
	w := &msbWriter{}
	w.flag(true)  // disable cdf update
	w.flag(false) // allow screen content tools
	w.flag(false) // render size differs
	w.flag(true)  // uniform tile spacing
	w.put(100, 8) // base_q_idx
	w.put(0, 3)   // no Y DC, U DC or U AC delta
	w.flag(false) // qmatrix
	w.flag(false) // segmentation
	w.flag(false) // delta q
	w.put(4, 6)   // loop filter levels
	w.put(4, 6)
	w.put(2, 6)
	w.put(2, 6)
	w.put(0, 3)   // sharpness
	w.flag(false) // loop filter deltas
	w.put(1, 2)   // cdef damping
	w.put(0, 2)   // cdef bits
	w.put(0, 12)  // cdef strengths
	w.put(0, 6)   // no restoration on any plane
	w.flag(true)  // tx mode select
	w.flag(false) // reduced tx set
	return w.out
}

func stillBitstream() []byte {
	return bytes.Join([][]byte{
		obu(OBUTemporalDelimiter, nil),
		obu(OBUSequenceHeader, reducedSequenceHeader()),
		obu(OBUFrame, append(reducedFrameHeader(), 0xAA, 0xBB, 0xCC)),
	}, nil)
}

type fileOptions struct {
	brand      string
	colorData  []byte
	alphaData  []byte
	configOBUs []byte
	skipIloc   bool
}

// buildFile assembles ftyp, meta and mdat. Item 1 is the color image, item 2
// its alpha plane.
func buildFile(o fileOptions) []byte {
	if o.brand == "" {
		o.brand = "avif"
	}
	build := func(mdatStart uint32) []byte {
		ftyp := box("ftyp", []byte(o.brand), be32(0), []byte("mif1"), []byte("miaf"))
		hdlr := fullBox("hdlr", 0, 0, be32(0), []byte("pict"), make([]byte, 12), []byte{0})
		pitm := fullBox("pitm", 0, 0, be16(1))
		iinf := fullBox("iinf", 0, 0, be16(2),
			fullBox("infe", 2, 0, be16(1), be16(0), []byte("av01"), []byte("Color\x00")),
			fullBox("infe", 2, 0, be16(2), be16(0), []byte("av01"), []byte("Alpha\x00")),
		)
		iloc := fullBox("iloc", 0, 0, be16(0x4400), be16(2),
			be16(1), be16(0), be16(1), be32(mdatStart), be32(uint32(len(o.colorData))),
			be16(2), be16(0), be16(1), be32(mdatStart+uint32(len(o.colorData))), be32(uint32(len(o.alphaData))),
		)
		ipco := box("ipco",
			fullBox("ispe", 0, 0, be32(64), be32(48)),
			box("av1C", []byte{0x81, 0x08, 0x0C, 0x00}, o.configOBUs),
			fullBox("pixi", 0, 0, []byte{3, 8, 8, 8}),
			box("colr", []byte("nclx"), be16(1), be16(13), be16(6), []byte{0x80}),
			fullBox("auxC", 0, 0, []byte(alphaURN+"\x00")),
			box("free"),
		)
		ipma := fullBox("ipma", 0, 0, be32(2),
			be16(1), []byte{4, 0x81, 0x82, 0x03, 0x04},
			be16(2), []byte{3, 0x81, 0x82, 0x05},
		)
		iref := fullBox("iref", 0, 0, box("auxl", be16(2), be16(1), be16(1)))
		children := [][]byte{hdlr, pitm, iinf}
		if !o.skipIloc {
			children = append(children, iloc)
		}
		children = append(children, box("iprp", ipco, ipma), iref)
		meta := fullBox("meta", 0, 0, children...)
		return append(ftyp, meta...)
	}
	head := build(0)
	head = build(uint32(len(head) + 8))
	return append(head, box("mdat", o.colorData, o.alphaData)...)
}

// -- Box Tests --

func TestReadBoxes_SizeForms(t *testing.T) {
	large := append(be32(1), "wide"...)
	large = binary.BigEndian.AppendUint64(large, 20)
	large = append(large, 1, 2, 3, 4)
	toEnd := append(be32(0), "mdat"...)
	toEnd = append(toEnd, 9, 9)

	boxes, err := ReadBoxes(append(large, toEnd...))
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.Equal(t, "wide", boxes[0].Type)
	assert.Equal(t, []byte{1, 2, 3, 4}, boxes[0].Payload)
	assert.Equal(t, "mdat", boxes[1].Type)
	assert.Equal(t, 20, boxes[1].Offset)
	assert.Equal(t, []byte{9, 9}, boxes[1].Payload)

	_, err = ReadBoxes(append(be32(100), "free"...))
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = ReadBoxes([]byte{0, 0, 0})
	assert.ErrorIs(t, err, ErrTruncated)
}

// -- Container Tests --

func TestParse_Container(t *testing.T) {
	data := buildFile(fileOptions{colorData: []byte{1, 2, 3, 4}, alphaData: []byte{5, 6}})
	c, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "avif", c.MajorBrand)
	assert.Equal(t, []string{"mif1", "miaf"}, c.CompatibleBrands)
	assert.Equal(t, "pict", c.Handler)
	assert.Equal(t, uint32(1), c.PrimaryID)
	require.Len(t, c.Items, 2)

	primary := c.Primary()
	assert.Equal(t, "Color", primary.Name)
	assert.Equal(t, ImageSpatialExtents{Width: 64, Height: 48}, primary.Property("ispe"))
	assert.Equal(t, PixelInformation{BitsPerChannel: []uint8{8, 8, 8}}, primary.Property("pixi"))
	assert.Equal(t, ColorInformation{ColorType: "nclx", Primaries: 1, Transfer: 13, Matrix: 6, FullRange: true},
		primary.Property("colr"))

	av1c, ok := primary.Property("av1C").(AV1Config)
	require.True(t, ok)
	assert.Equal(t, uint8(0), av1c.SeqProfile)
	assert.Equal(t, uint8(8), av1c.SeqLevelIdx0)
	assert.Equal(t, uint8(1), av1c.ChromaSubsamplingX)
	assert.Equal(t, uint8(1), av1c.ChromaSubsamplingY)

	payload, err := c.PrimaryItemData()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, payload)

	alpha := c.AlphaItem()
	require.NotNil(t, alpha)
	assert.Equal(t, uint32(2), alpha.ID)
	alphaData, err := c.ItemData(alpha)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6}, alphaData)

	w, h, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(buildFile(fileOptions{brand: "heic", colorData: []byte{1}}))
	assert.NoError(t, err, "mif1 in the compatible brands is enough")

	noBrand := box("ftyp", []byte("heic"), be32(0), []byte("heix"))
	_, err = Parse(noBrand)
	assert.ErrorIs(t, err, ErrBrand)

	_, err = Parse(box("ftyp", []byte("avif"), be32(0)))
	assert.ErrorIs(t, err, ErrMissingBox)

	_, err = Parse(box("mdat", []byte{1}))
	assert.ErrorIs(t, err, ErrMissingBox)

	_, err = Parse(buildFile(fileOptions{colorData: []byte{1}, skipIloc: true}))
	assert.ErrorIs(t, err, ErrMissingBox)

	data := buildFile(fileOptions{colorData: []byte{1, 2, 3, 4}})
	_, err = Parse(data[:len(data)-2])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestItemData_IdatAndBounds(t *testing.T) {
	c := &Container{idat: []byte{10, 11, 12, 13, 14}, data: []byte{1, 2, 3}}
	got, err := c.ItemData(&Item{ConstructionMethod: 1, BaseOffset: 1, Extents: []Extent{{Offset: 1, Length: 2}, {Offset: 3, Length: 0}}})
	require.NoError(t, err)
	assert.Equal(t, []byte{12, 13, 14}, got)

	_, err = c.ItemData(&Item{Extents: []Extent{{Offset: 2, Length: 5}}})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = c.ItemData(&Item{ConstructionMethod: 2, Extents: []Extent{{}}})
	assert.ErrorIs(t, err, ErrFormat)

	_, err = c.ItemData(&Item{})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParseIloc_Version1ConstructionMethod(t *testing.T) {
	c := &Container{Items: map[uint32]*Item{}}
	p := bytes.Join([][]byte{
		be32(1 << 24),
		be16(0x4440),
		be16(1),
		be16(7), be16(1), be16(0), be32(100), be16(1), be32(2), be32(3),
	}, nil)
	require.NoError(t, c.parseIloc(p))
	it := c.Items[7]
	require.NotNil(t, it)
	assert.Equal(t, uint8(1), it.ConstructionMethod)
	assert.Equal(t, uint64(100), it.BaseOffset)
	assert.Equal(t, []Extent{{Offset: 2, Length: 3}}, it.Extents)
}

// -- OBU Tests --

func TestParseOBUs_ReducedStillPicture(t *testing.T) {
	bs, err := ParseOBUs(stillBitstream())
	require.NoError(t, err)
	require.Len(t, bs.OBUs, 3)
	assert.Equal(t, OBUTemporalDelimiter, bs.OBUs[0].Type)

	seq := bs.Sequence
	require.NotNil(t, seq)
	assert.True(t, seq.StillPicture)
	assert.True(t, seq.ReducedStillPictureHeader)
	assert.Equal(t, 64, seq.MaxFrameWidth)
	assert.Equal(t, 48, seq.MaxFrameHeight)
	assert.Equal(t, 8, seq.BitDepth)
	assert.Equal(t, uint8(1), seq.SubsamplingX)
	assert.Equal(t, uint8(1), seq.SubsamplingY)
	assert.True(t, seq.FullRange)
	assert.True(t, seq.EnableCDEF)

	require.Len(t, bs.Frames, 1)
	f := bs.Frames[0]
	assert.Equal(t, KeyFrame, f.Type)
	assert.True(t, f.ShowFrame)
	assert.True(t, f.DisableCDFUpdate)
	assert.Equal(t, uint8(0xFF), f.RefreshFrameFlags)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 48, f.RenderHeight)
	assert.True(t, f.DisableFrameEndUpdateCDF)
	assert.Equal(t, 9, f.HeaderBytes)
	assert.Equal(t, 100, f.Quant.BaseQIdx)
	assert.Equal(t, [4]int{4, 4, 2, 2}, f.LoopFilterLevel)
	assert.False(t, f.CodedLossless)
	assert.True(t, f.TxModeSelect)

	assert.Equal(t, TileInfo{Cols: 1, Rows: 1, MiColStarts: []int{0, 16}, MiRowStarts: []int{0, 12}}, f.Tiles)
	require.Len(t, bs.TileGroups, 1)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, bs.TileGroups[0])
	assert.Equal(t, []Tile{{Data: []byte{0xAA, 0xBB, 0xCC}}}, bs.Tiles)
}

func TestParseOBUs_FullSequenceHeader(t *testing.T) {
	s := &msbWriter{}
	s.put(0, 3)
	s.flag(false) // still picture
	s.flag(false) // reduced
	s.flag(false) // timing info
	s.flag(false) // initial display delay
	s.put(0, 5)   // one operating point
	s.put(0, 12)
	s.put(9, 5)
	s.put(1, 1) // tier
	s.put(9, 4)
	s.put(9, 4)
	s.put(639, 10)
	s.put(479, 10)
	s.flag(false) // frame ids
	s.flag(true)  // 128x128
	s.flag(false)
	s.flag(false)
	s.put(0, 4)  // interintra, masked, warped, dual filter
	s.flag(true) // order hint
	s.put(0, 2)  // jnt comp, ref frame mvs
	s.flag(true) // choose screen content tools
	s.flag(true) // choose integer mv
	s.put(6, 3)
	s.flag(true)  // superres
	s.flag(true)  // cdef
	s.flag(false) // restoration
	s.flag(false) // high bitdepth
	s.flag(true)  // monochrome
	s.flag(false) // color description
	s.flag(true)  // full range
	s.flag(false) // film grain

	f := &msbWriter{}
	f.flag(false) // show existing
	f.put(0, 2)   // key frame
	f.flag(true)  // show frame
	f.flag(false) // disable cdf update
	f.flag(true)  // allow screen content tools
	f.flag(false) // force integer mv
	f.flag(true)  // frame size override
	f.put(5, 7)   // order hint
	f.put(319, 10)
	f.put(239, 10)
	f.flag(true) // use superres
	f.put(3, 3)
	f.flag(true) // render size differs
	f.put(299, 16)
	f.put(199, 16)
	f.flag(false) // disable frame end cdf update
	f.flag(true)  // uniform tile spacing
	f.flag(true)  // two tile columns
	f.flag(false) // one tile row
	f.put(0, 1)   // context_update_tile_id
	f.put(0, 2)   // one-byte tile sizes
	f.put(50, 8)  // base_q_idx
	f.flag(true)  // Y DC delta
	f.put(125, 7) // -3
	f.flag(true)  // qmatrix
	f.put(5, 4)
	f.put(6, 4)
	f.flag(true)  // segmentation
	f.flag(true)  // segment 0 alternative quantizer
	f.put(462, 9) // -50
	f.put(0, 63)
	f.flag(true)  // delta q
	f.put(0, 2)   // delta_q_res
	f.flag(true)  // delta lf
	f.put(0, 3)   // delta_lf_res, delta_lf_multi
	f.put(10, 6)  // loop filter levels
	f.put(0, 6)
	f.put(0, 3)   // sharpness
	f.flag(true)  // loop filter deltas enabled
	f.flag(true)  // and updated
	f.flag(true)  // first reference delta
	f.put(127, 7) // -1
	f.put(0, 9)
	f.put(3, 2)  // cdef damping
	f.put(1, 2)  // cdef bits
	f.put(0, 12) // two luma strengths
	f.flag(true) // tx mode select
	f.flag(true) // reduced tx set

	ext := []byte{byte(OBUSequenceHeader)<<3 | 0x06, 1<<5 | 2<<3}
	ext = append(ext, encodeLEB128(len(s.out))...)
	ext = append(ext, s.out...)
	data := append(ext, obu(OBUFrameHeader, f.out)...)
	data = append(data, obu(OBUTileGroup, []byte{0x00, 0x01, 0xAA, 0xBB, 0xCC, 0xDD})...)
	// A second group holding only tile 1.
	data = append(data, obu(OBUTileGroup, []byte{0xE0, 0xEE})...)

	bs, err := ParseOBUs(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), bs.OBUs[0].TemporalID)
	assert.Equal(t, uint8(2), bs.OBUs[0].SpatialID)

	seq := bs.Sequence
	require.Len(t, seq.OperatingPoints, 1)
	assert.Equal(t, uint8(9), seq.OperatingPoints[0].SeqLevelIdx)
	assert.Equal(t, uint8(1), seq.OperatingPoints[0].SeqTier)
	assert.Equal(t, 640, seq.MaxFrameWidth)
	assert.Equal(t, 7, seq.OrderHintBits)
	assert.Equal(t, selectScreenContentTools, seq.ForceScreenContentTools)
	assert.Equal(t, selectScreenContentTools, seq.ForceIntegerMV)
	assert.True(t, seq.Monochrome)
	assert.True(t, seq.EnableSuperres)

	fh := bs.Frames[0]
	assert.True(t, fh.ErrorResilient)
	assert.True(t, fh.FrameSizeOverride)
	assert.Equal(t, uint32(5), fh.OrderHint)
	assert.Equal(t, 320, fh.Width)
	assert.Equal(t, 240, fh.Height)
	assert.Equal(t, 12, fh.SuperresDenom)
	assert.Equal(t, 300, fh.RenderWidth)
	assert.Equal(t, 200, fh.RenderHeight)
	assert.Equal(t, 213, fh.CodedWidth)
	assert.True(t, fh.AllowScreenContent)
	assert.False(t, fh.AllowIntraBC, "intra block copy needs an unscaled frame")
	assert.False(t, fh.DisableFrameEndUpdateCDF)

	assert.Equal(t, TileInfo{
		Cols: 2, Rows: 1, ColsLog2: 1,
		MiColStarts: []int{0, 32, 54},
		MiRowStarts: []int{0, 60},
		SizeBytes:   1,
	}, fh.Tiles)
	assert.Equal(t, QuantParams{BaseQIdx: 50, DeltaQYDc: -3, UsingQMatrix: true, QMLevelY: 5, QMLevelU: 6, QMLevelV: 6}, fh.Quant)
	assert.True(t, fh.SegmentationEnabled)
	assert.True(t, fh.DeltaQPresent)
	assert.True(t, fh.DeltaLFPresent)
	assert.Equal(t, [4]int{10, 0, 0, 0}, fh.LoopFilterLevel)
	assert.Equal(t, 1, fh.CDEFBits)
	assert.True(t, fh.ReducedTxSet)

	assert.Equal(t, 8, bs.TileBytes())
	assert.Equal(t, []Tile{
		{Row: 0, Col: 0, Data: []byte{0xAA, 0xBB}},
		{Row: 0, Col: 1, Data: []byte{0xCC, 0xDD}},
		{Row: 0, Col: 1, Data: []byte{0xEE}},
	}, bs.Tiles)
}

func TestCodedLossless(t *testing.T) {
	h := &FrameHeader{}
	assert.True(t, h.codedLossless(segmentQ{}))

	h.Quant.BaseQIdx = 20
	assert.False(t, h.codedLossless(segmentQ{}))

	// Every segment brought back to index zero.
	var seg segmentQ
	for i := range seg.active {
		seg.active[i], seg.delta[i] = true, -40
	}
	assert.True(t, h.codedLossless(seg))

	h.Quant.DeltaQUAc = 1
	assert.False(t, h.codedLossless(seg))
}

func TestParseTileGroup_Errors(t *testing.T) {
	two := &TileInfo{Cols: 2, Rows: 1, ColsLog2: 1, SizeBytes: 2}

	_, err := parseTileGroup([]byte{0xC0, 0x01}, two, 0)
	assert.ErrorIs(t, err, ErrFormat, "start after end")

	_, err = parseTileGroup([]byte{0x00, 0x09, 0x00, 0xAA}, two, 0)
	assert.ErrorIs(t, err, ErrTruncated, "size beyond payload")

	_, err = parseTileGroup([]byte{0x00, 0x00}, two, 0)
	assert.ErrorIs(t, err, ErrTruncated, "no room for the size field")

	_, err = parseTileGroup(nil, &TileInfo{Cols: 1, Rows: 1}, 0)
	assert.ErrorIs(t, err, ErrTruncated)

	tiles, err := parseTileGroup([]byte{0x00, 0x01, 0x00, 0xAA, 0xBB, 0xCC}, two, 3)
	require.NoError(t, err)
	assert.Equal(t, []Tile{
		{Frame: 3, Row: 0, Col: 0, Data: []byte{0xAA, 0xBB}},
		{Frame: 3, Row: 0, Col: 1, Data: []byte{0xCC}},
	}, tiles)
}

func TestBitReader_SignedAndNonSymmetric(t *testing.T) {
	r := &bitReader{data: []byte{0b11111010, 0b01100000}}
	assert.Equal(t, -3, r.su(7))  // 1111101
	assert.Equal(t, 0, r.ns(5))   // 00: below m=3
	assert.Equal(t, 3, r.ns(5))   // 11 then 0: (3<<1)-3+0
	require.NoError(t, r.err)
}

func TestParseOBUs_Errors(t *testing.T) {
	_, err := ParseOBUs([]byte{0x80})
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseOBUs(obu(OBUFrameHeader, []byte{0}))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseOBUs([]byte{byte(OBUTileGroup)<<3 | 0x02, 10, 1})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = ParseOBUs(obu(OBUSequenceHeader, []byte{0xE0}))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseOBUs(obu(OBUSequenceHeader, []byte{0x18}))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestLEB128(t *testing.T) {
	v, n, err := leb128([]byte{0xE5, 0x8E, 0x26})
	require.NoError(t, err)
	assert.Equal(t, uint64(624485), v)
	assert.Equal(t, 3, n)

	_, _, err = leb128(bytes.Repeat([]byte{0x80}, 9))
	assert.ErrorIs(t, err, ErrFormat)

	_, _, err = leb128([]byte{0x80})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestUVLC(t *testing.T) {
	// 1 -> 0, 010 -> 1, 011 -> 2, 00100 -> 3
	r := &bitReader{data: []byte{0b10100110, 0b01000000}}
	assert.Equal(t, uint32(0), r.uvlc())
	assert.Equal(t, uint32(1), r.uvlc())
	assert.Equal(t, uint32(2), r.uvlc())
	assert.Equal(t, uint32(3), r.uvlc())
	require.NoError(t, r.err)
}

// -- Decode Tests --

func TestDecode_ReportsUnsupportedAfterValidation(t *testing.T) {
	data := buildFile(fileOptions{colorData: stillBitstream()})
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrAV1Unsupported)
	assert.Contains(t, err.Error(), "64x48 key frame, 1 tiles")

	cfg, err := DecodeConfig(data)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
}

func TestDecode_SequenceHeaderFromConfig(t *testing.T) {
	frameOnly := obu(OBUFrame, append(reducedFrameHeader(), 0x55))
	seq := obu(OBUSequenceHeader, reducedSequenceHeader())

	_, err := Decode(buildFile(fileOptions{colorData: frameOnly, configOBUs: seq}))
	assert.ErrorIs(t, err, ErrAV1Unsupported)

	// A frame header whose tile group never arrives.
	_, err = Decode(buildFile(fileOptions{colorData: obu(OBUFrameHeader, reducedFrameHeader()), configOBUs: seq}))
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode(buildFile(fileOptions{colorData: frameOnly}))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = Decode(buildFile(fileOptions{colorData: obu(OBUTileGroup, []byte{1}), configOBUs: seq}))
	assert.ErrorIs(t, err, ErrMissingBox)

	_, err = Decode(buildFile(fileOptions{colorData: seq}))
	assert.ErrorIs(t, err, ErrMissingBox)
}

func TestTileLog2(t *testing.T) {
	assert.Equal(t, 0, tileLog2(1, 1))
	assert.Equal(t, 1, tileLog2(1, 2))
	assert.Equal(t, 2, tileLog2(1, 3))
	assert.Equal(t, 0, tileLog2(32, 2))
	assert.Equal(t, 2, tileLog2(576, 2000))
}
