// internal/imaging/avif/obu.go
package avif

import (
	"fmt"
	"math/bits"
)

// OBUType is the obu_type field of an AV1 OBU header.
type OBUType uint8

const (
	OBUSequenceHeader       OBUType = 1
	OBUTemporalDelimiter    OBUType = 2
	OBUFrameHeader          OBUType = 3
	OBUTileGroup            OBUType = 4
	OBUMetadata             OBUType = 5
	OBUFrame                OBUType = 6
	OBURedundantFrameHeader OBUType = 7
	OBUTileList             OBUType = 8
	OBUPadding              OBUType = 15
)

// FrameType is the AV1 frame_type.
type FrameType uint8

const (
	KeyFrame FrameType = iota
	InterFrame
	IntraOnlyFrame
	SwitchFrame
)

func (t FrameType) String() string {
	switch t {
	case KeyFrame:
		return "key frame"
	case InterFrame:
		return "inter frame"
	case IntraOnlyFrame:
		return "intra-only frame"
	}
	return "switch frame"
}

// selectScreenContentTools is SELECT_SCREEN_CONTENT_TOOLS and SELECT_INTEGER_MV.
const selectScreenContentTools = 2

// OBUHeader describes one OBU in a temporal unit.
type OBUHeader struct {
	Type        OBUType
	HasSize     bool
	TemporalID  uint8
	SpatialID   uint8
	PayloadSize int
}

// OperatingPoint is one entry of the sequence header operating point list.
type OperatingPoint struct {
	IDC                 uint16
	SeqLevelIdx         uint8
	SeqTier             uint8
	DecoderModelPresent bool
	InitialDisplayDelay uint8
}

// SequenceHeader holds the sequence_header_obu fields needed to interpret
// frame headers and size the output.
type SequenceHeader struct {
	Profile                   uint8
	StillPicture              bool
	ReducedStillPictureHeader bool
	TimingInfoPresent         bool
	EqualPictureInterval      bool
	DecoderModelInfoPresent   bool
	BufferRemovalTimeLength   int
	FramePresentationLength   int
	OperatingPoints           []OperatingPoint
	MaxFrameWidth             int
	MaxFrameHeight            int
	FrameWidthBits            int
	FrameHeightBits           int
	FrameIDNumbersPresent     bool
	FrameIDLength             int
	Use128x128Superblock      bool
	EnableFilterIntra         bool
	EnableIntraEdgeFilter     bool
	EnableOrderHint           bool
	OrderHintBits             int
	ForceScreenContentTools   int
	ForceIntegerMV            int
	EnableSuperres            bool
	EnableCDEF                bool
	EnableRestoration         bool
	BitDepth                  int
	Monochrome                bool
	ColorPrimaries            uint8
	TransferCharacteristics   uint8
	MatrixCoefficients        uint8
	FullRange                 bool
	SubsamplingX              uint8
	SubsamplingY              uint8
	ChromaSamplePosition      uint8
	SeparateUVDeltaQ          bool
	FilmGrainParamsPresent    bool
}

// FrameHeader holds the leading fields of an uncompressed frame header.
// Width and Height are filled for key and intra-only frames and fall back to
// the sequence maximum otherwise.
type FrameHeader struct {
	ShowExistingFrame bool
	Type              FrameType
	ShowFrame         bool
	ShowableFrame     bool
	ErrorResilient    bool
	DisableCDFUpdate  bool
	FrameSizeOverride bool
	OrderHint         uint32
	RefreshFrameFlags uint8
	Width, Height     int
	UseSuperres       bool
	SuperresDenom     int
	RenderWidth       int
	RenderHeight      int

	// The fields below are set only for key and intra-only frames.

	// CodedWidth is Width before superres upscaling.
	CodedWidth               int
	AllowScreenContent       bool
	AllowIntraBC             bool
	DisableFrameEndUpdateCDF bool
	Tiles                    TileInfo
	Quant                    QuantParams
	SegmentationEnabled      bool
	DeltaQPresent            bool
	DeltaLFPresent           bool
	CodedLossless            bool
	LoopFilterLevel          [4]int
	CDEFBits                 int
	TxModeSelect             bool
	ReducedTxSet             bool
	ApplyGrain               bool
	// HeaderBytes is the byte-aligned header length, where an OBU_FRAME's
	// tile group starts.
	HeaderBytes int
}

// QuantParams are the frame quantizer indices and deltas.
type QuantParams struct {
	BaseQIdx                     int
	DeltaQYDc                    int
	DeltaQUDc, DeltaQUAc         int
	DeltaQVDc, DeltaQVAc         int
	UsingQMatrix                 bool
	QMLevelY, QMLevelU, QMLevelV int
}

// Bitstream is the parsed OBU sequence of one AV1 sample.
type Bitstream struct {
	OBUs     []OBUHeader
	Sequence *SequenceHeader
	Frames   []FrameHeader
	// TileGroups holds tile group payloads. An OBU_FRAME contributes the
	// bytes after its header, or the whole payload when the header was not
	// parsed to the end.
	TileGroups [][]byte
	// Tiles are split out of tile groups whose frame header carried a
	// tile layout.
	Tiles []Tile
}

// TileBytes sums the tile group payload sizes.
func (b *Bitstream) TileBytes() int {
	n := 0
	for _, t := range b.TileGroups {
		n += len(t)
	}
	return n
}

// bitReader reads AV1 f(n) fields, most significant bit first.
type bitReader struct {
	data []byte
	pos  int // in bits
	err  error
}

func (r *bitReader) f(n int) uint32 {
	var v uint32
	for range n {
		byteIdx := r.pos >> 3
		if byteIdx >= len(r.data) {
			if r.err == nil {
				r.err = fmt.Errorf("%w: OBU bits", ErrTruncated)
			}
			return 0
		}
		v = v<<1 | uint32(r.data[byteIdx]>>(7-r.pos&7))&1
		r.pos++
	}
	return v
}

func (r *bitReader) flag() bool { return r.f(1) == 1 }

// su reads an n-bit two's complement value.
func (r *bitReader) su(n int) int {
	v := int(r.f(n))
	if sign := 1 << (n - 1); v&sign != 0 {
		v -= 2 * sign
	}
	return v
}

// ns reads a non-symmetric unsigned value in [0, n).
func (r *bitReader) ns(n int) int {
	w := bits.Len(uint(n))
	m := 1<<w - n
	v := int(r.f(w - 1))
	if v < m {
		return v
	}
	return v<<1 - m + int(r.f(1))
}

// le reads an n-byte little-endian value.
func (r *bitReader) le(n int) uint32 {
	var v uint32
	for i := range n {
		v |= r.f(8) << (8 * i)
	}
	return v
}

func (r *bitReader) byteAlign() { r.pos = (r.pos + 7) &^ 7 }

// uvlc reads a variable-length unsigned code.
func (r *bitReader) uvlc() uint32 {
	leading := 0
	for !r.flag() {
		if r.err != nil {
			return 0
		}
		leading++
		if leading >= 32 {
			return 1<<32 - 1
		}
	}
	return r.f(leading) + (1<<leading - 1)
}

// leb128 decodes an unsigned LEB128 value of at most eight bytes.
func leb128(data []byte) (value uint64, n int, err error) {
	for i := range 8 {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("%w: leb128", ErrTruncated)
		}
		b := data[i]
		value |= uint64(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: leb128 longer than 8 bytes", ErrFormat)
}

// ParseOBUs walks a low-overhead bitstream, parsing sequence and frame headers
// and collecting tile group payloads.
func ParseOBUs(data []byte) (*Bitstream, error) {
	return parseOBUs(data, nil)
}

// parseOBUs starts from an already known sequence header, as carried in av1C.
func parseOBUs(data []byte, seq *SequenceHeader) (*Bitstream, error) {
	bs := &Bitstream{Sequence: seq}
	for off := 0; off < len(data); {
		h0 := data[off]
		if h0>>7 != 0 {
			return nil, fmt.Errorf("%w: OBU forbidden bit", ErrFormat)
		}
		hdr := OBUHeader{Type: OBUType(h0 >> 3 & 0xF), HasSize: h0>>1&1 == 1}
		hasExt := h0>>2&1 == 1
		off++
		if hasExt {
			if off >= len(data) {
				return nil, fmt.Errorf("%w: OBU extension", ErrTruncated)
			}
			hdr.TemporalID = data[off] >> 5
			hdr.SpatialID = data[off] >> 3 & 3
			off++
		}
		size := len(data) - off
		if hdr.HasSize {
			v, n, err := leb128(data[off:])
			if err != nil {
				return nil, err
			}
			off += n
			if v > uint64(len(data)-off) {
				return nil, fmt.Errorf("%w: OBU type %d wants %d bytes", ErrTruncated, hdr.Type, v)
			}
			size = int(v)
		}
		hdr.PayloadSize = size
		payload := data[off : off+size]
		off += size
		bs.OBUs = append(bs.OBUs, hdr)

		switch hdr.Type {
		case OBUSequenceHeader:
			seq, err := parseSequenceHeader(payload)
			if err != nil {
				return nil, err
			}
			bs.Sequence = seq
		case OBUFrameHeader, OBUFrame:
			if bs.Sequence == nil {
				return nil, fmt.Errorf("%w: frame header before sequence header", ErrFormat)
			}
			fh, err := parseFrameHeader(payload, bs.Sequence, hdr)
			if err != nil {
				return nil, err
			}
			bs.Frames = append(bs.Frames, *fh)
			if hdr.Type == OBUFrame {
				if err := bs.addTileGroup(payload[fh.HeaderBytes:]); err != nil {
					return nil, err
				}
			}
		case OBUTileGroup:
			if err := bs.addTileGroup(payload); err != nil {
				return nil, err
			}
		}
	}
	return bs, nil
}

func parseSequenceHeader(p []byte) (*SequenceHeader, error) {
	r := &bitReader{data: p}
	s := &SequenceHeader{}
	s.Profile = uint8(r.f(3))
	if s.Profile > 2 {
		return nil, fmt.Errorf("%w: seq_profile %d", ErrFormat, s.Profile)
	}
	s.StillPicture = r.flag()
	s.ReducedStillPictureHeader = r.flag()
	if s.ReducedStillPictureHeader {
		s.OperatingPoints = []OperatingPoint{{SeqLevelIdx: uint8(r.f(5))}}
	} else {
		bufferDelayLength := 0
		if s.TimingInfoPresent = r.flag(); s.TimingInfoPresent {
			r.f(32) // num_units_in_display_tick
			r.f(32) // time_scale
			if s.EqualPictureInterval = r.flag(); s.EqualPictureInterval {
				r.uvlc()
			}
			if s.DecoderModelInfoPresent = r.flag(); s.DecoderModelInfoPresent {
				bufferDelayLength = int(r.f(5)) + 1
				r.f(32) // num_units_in_decoding_tick
				s.BufferRemovalTimeLength = int(r.f(5)) + 1
				s.FramePresentationLength = int(r.f(5)) + 1
			}
		}
		initialDisplayDelayPresent := r.flag()
		count := int(r.f(5)) + 1
		for range count {
			op := OperatingPoint{IDC: uint16(r.f(12)), SeqLevelIdx: uint8(r.f(5))}
			if op.SeqLevelIdx > 7 {
				op.SeqTier = uint8(r.f(1))
			}
			if s.DecoderModelInfoPresent {
				if op.DecoderModelPresent = r.flag(); op.DecoderModelPresent {
					r.f(bufferDelayLength) // decoder_buffer_delay
					r.f(bufferDelayLength) // encoder_buffer_delay
					r.f(1)                 // low_delay_mode_flag
				}
			}
			if initialDisplayDelayPresent && r.flag() {
				op.InitialDisplayDelay = uint8(r.f(4)) + 1
			}
			s.OperatingPoints = append(s.OperatingPoints, op)
		}
	}

	s.FrameWidthBits = int(r.f(4)) + 1
	s.FrameHeightBits = int(r.f(4)) + 1
	s.MaxFrameWidth = int(r.f(s.FrameWidthBits)) + 1
	s.MaxFrameHeight = int(r.f(s.FrameHeightBits)) + 1
	if !s.ReducedStillPictureHeader {
		if s.FrameIDNumbersPresent = r.flag(); s.FrameIDNumbersPresent {
			deltaLength := int(r.f(4)) + 2
			s.FrameIDLength = int(r.f(3)) + 1 + deltaLength
		}
	}
	s.Use128x128Superblock = r.flag()
	s.EnableFilterIntra = r.flag()
	s.EnableIntraEdgeFilter = r.flag()

	s.ForceScreenContentTools = selectScreenContentTools
	s.ForceIntegerMV = selectScreenContentTools
	if !s.ReducedStillPictureHeader {
		r.flag() // enable_interintra_compound
		r.flag() // enable_masked_compound
		r.flag() // enable_warped_motion
		r.flag() // enable_dual_filter
		s.EnableOrderHint = r.flag()
		if s.EnableOrderHint {
			r.flag() // enable_jnt_comp
			r.flag() // enable_ref_frame_mvs
		}
		if !r.flag() {
			s.ForceScreenContentTools = int(r.f(1))
		}
		if s.ForceScreenContentTools > 0 {
			if !r.flag() {
				s.ForceIntegerMV = int(r.f(1))
			}
		}
		if s.EnableOrderHint {
			s.OrderHintBits = int(r.f(3)) + 1
		}
	}
	s.EnableSuperres = r.flag()
	s.EnableCDEF = r.flag()
	s.EnableRestoration = r.flag()
	s.parseColorConfig(r)
	s.FilmGrainParamsPresent = r.flag()
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

func (s *SequenceHeader) parseColorConfig(r *bitReader) {
	highBitdepth := r.flag()
	s.BitDepth = 8
	if s.Profile == 2 && highBitdepth {
		s.BitDepth = 10
		if r.flag() {
			s.BitDepth = 12
		}
	} else if highBitdepth {
		s.BitDepth = 10
	}
	if s.Profile != 1 {
		s.Monochrome = r.flag()
	}
	// Unspecified code points.
	s.ColorPrimaries, s.TransferCharacteristics, s.MatrixCoefficients = 2, 2, 2
	if r.flag() {
		s.ColorPrimaries = uint8(r.f(8))
		s.TransferCharacteristics = uint8(r.f(8))
		s.MatrixCoefficients = uint8(r.f(8))
	}
	switch {
	case s.Monochrome:
		s.FullRange = r.flag()
		s.SubsamplingX, s.SubsamplingY = 1, 1
		return
	case s.ColorPrimaries == 1 && s.TransferCharacteristics == 13 && s.MatrixCoefficients == 0:
		// sRGB with identity matrix.
		s.FullRange = true
	default:
		s.FullRange = r.flag()
		switch s.Profile {
		case 0:
			s.SubsamplingX, s.SubsamplingY = 1, 1
		case 1:
		default:
			if s.BitDepth == 12 {
				s.SubsamplingX = uint8(r.f(1))
				if s.SubsamplingX == 1 {
					s.SubsamplingY = uint8(r.f(1))
				}
			} else {
				s.SubsamplingX = 1
			}
		}
		if s.SubsamplingX == 1 && s.SubsamplingY == 1 {
			s.ChromaSamplePosition = uint8(r.f(2))
		}
	}
	s.SeparateUVDeltaQ = r.flag()
}

func parseFrameHeader(p []byte, s *SequenceHeader, obu OBUHeader) (*FrameHeader, error) {
	r := &bitReader{data: p}
	h := &FrameHeader{Width: s.MaxFrameWidth, Height: s.MaxFrameHeight}

	if s.ReducedStillPictureHeader {
		h.Type = KeyFrame
		h.ShowFrame = true
	} else {
		if h.ShowExistingFrame = r.flag(); h.ShowExistingFrame {
			r.f(3) // frame_to_show_map_idx
			return h, r.err
		}
		h.Type = FrameType(r.f(2))
		h.ShowFrame = r.flag()
		if h.ShowFrame && s.DecoderModelInfoPresent && !s.EqualPictureInterval {
			r.f(s.FramePresentationLength)
		}
		if h.ShowFrame {
			h.ShowableFrame = h.Type != KeyFrame
		} else {
			h.ShowableFrame = r.flag()
		}
		if h.Type == SwitchFrame || (h.Type == KeyFrame && h.ShowFrame) {
			h.ErrorResilient = true
		} else {
			h.ErrorResilient = r.flag()
		}
	}
	intra := h.Type == KeyFrame || h.Type == IntraOnlyFrame

	h.DisableCDFUpdate = r.flag()
	allowScreenContent := s.ForceScreenContentTools
	if allowScreenContent == selectScreenContentTools {
		allowScreenContent = int(r.f(1))
	}
	h.AllowScreenContent = allowScreenContent > 0
	if h.AllowScreenContent && s.ForceIntegerMV == selectScreenContentTools {
		r.f(1) // force_integer_mv
	}
	if s.FrameIDNumbersPresent {
		r.f(s.FrameIDLength)
	}
	switch {
	case h.Type == SwitchFrame:
		h.FrameSizeOverride = true
	case s.ReducedStillPictureHeader:
	default:
		h.FrameSizeOverride = r.flag()
	}
	h.OrderHint = r.f(s.OrderHintBits)
	if !intra && !h.ErrorResilient {
		r.f(3) // primary_ref_frame
	}
	if s.DecoderModelInfoPresent {
		if r.flag() {
			for _, op := range s.OperatingPoints {
				if !op.DecoderModelPresent {
					continue
				}
				inTemporal := op.IDC>>obu.TemporalID&1 == 1
				inSpatial := op.IDC>>(obu.SpatialID+8)&1 == 1
				if op.IDC == 0 || (inTemporal && inSpatial) {
					r.f(s.BufferRemovalTimeLength)
				}
			}
		}
	}
	if h.Type == SwitchFrame || (h.Type == KeyFrame && h.ShowFrame) {
		h.RefreshFrameFlags = 0xFF
	} else {
		h.RefreshFrameFlags = uint8(r.f(8))
	}
	if !intra {
		// Inter frame sizes depend on reference state this parser does not keep.
		return h, r.err
	}
	if h.RefreshFrameFlags != 0xFF && h.ErrorResilient && s.EnableOrderHint {
		for range 8 {
			r.f(s.OrderHintBits)
		}
	}

	if h.FrameSizeOverride {
		h.Width = int(r.f(s.FrameWidthBits)) + 1
		h.Height = int(r.f(s.FrameHeightBits)) + 1
	}
	h.SuperresDenom = 8
	if s.EnableSuperres {
		if h.UseSuperres = r.flag(); h.UseSuperres {
			h.SuperresDenom = int(r.f(3)) + 9
		}
	}
	h.CodedWidth = (h.Width*8 + h.SuperresDenom/2) / h.SuperresDenom
	h.RenderWidth, h.RenderHeight = h.Width, h.Height
	if r.flag() {
		h.RenderWidth = int(r.f(16)) + 1
		h.RenderHeight = int(r.f(16)) + 1
	}
	if h.AllowScreenContent && h.CodedWidth == h.Width {
		h.AllowIntraBC = r.flag()
	}
	h.DisableFrameEndUpdateCDF = s.ReducedStillPictureHeader || h.DisableCDFUpdate || r.flag()

	if err := h.parseTileInfo(r, s); err != nil {
		return nil, err
	}
	h.parseQuantization(r, s)
	seg := h.parseSegmentation(r)
	h.parseDeltas(r)
	h.CodedLossless = h.codedLossless(seg)
	allLossless := h.CodedLossless && h.CodedWidth == h.Width
	h.parseLoopFilter(r, s)
	h.parseCDEF(r, s)
	h.parseRestoration(r, s, allLossless)
	if !h.CodedLossless {
		h.TxModeSelect = r.flag()
	}
	// Intra frames have no reference mode, skip mode, warped motion or
	// global motion syntax.
	h.ReducedTxSet = r.flag()
	h.parseFilmGrain(r, s)
	if r.err != nil {
		return nil, r.err
	}
	r.byteAlign()
	h.HeaderBytes = r.pos / 8
	return h, nil
}

func readDeltaQ(r *bitReader) int {
	if r.flag() {
		return r.su(7)
	}
	return 0
}

func (h *FrameHeader) parseQuantization(r *bitReader, s *SequenceHeader) {
	q := &h.Quant
	q.BaseQIdx = int(r.f(8))
	q.DeltaQYDc = readDeltaQ(r)
	if !s.Monochrome {
		diffUV := s.SeparateUVDeltaQ && r.flag()
		q.DeltaQUDc = readDeltaQ(r)
		q.DeltaQUAc = readDeltaQ(r)
		if diffUV {
			q.DeltaQVDc = readDeltaQ(r)
			q.DeltaQVAc = readDeltaQ(r)
		} else {
			q.DeltaQVDc, q.DeltaQVAc = q.DeltaQUDc, q.DeltaQUAc
		}
	}
	if q.UsingQMatrix = r.flag(); q.UsingQMatrix {
		q.QMLevelY = int(r.f(4))
		q.QMLevelU = int(r.f(4))
		q.QMLevelV = q.QMLevelU
		if s.SeparateUVDeltaQ {
			q.QMLevelV = int(r.f(4))
		}
	}
}

var (
	segFeatureBits   = [8]int{8, 6, 6, 6, 6, 3, 0, 0}
	segFeatureSigned = [8]bool{true, true, true, true, true, false, false, false}
	segFeatureMax    = [8]int{255, 63, 63, 63, 63, 7, 0, 0}
)

// segmentQ holds the alternative quantizer feature of each segment.
type segmentQ struct {
	active [8]bool
	delta  [8]int
}

// parseSegmentation reads segmentation_params. Intra frames have no
// primary reference frame, so enabled segmentation always carries data.
func (h *FrameHeader) parseSegmentation(r *bitReader) segmentQ {
	var seg segmentQ
	if h.SegmentationEnabled = r.flag(); !h.SegmentationEnabled {
		return seg
	}
	for i := range 8 {
		for j := range 8 {
			if !r.flag() {
				continue
			}
			limit := segFeatureMax[j]
			var v int
			if segFeatureSigned[j] {
				v = max(-limit, min(limit, r.su(1+segFeatureBits[j])))
			} else {
				v = min(limit, int(r.f(segFeatureBits[j])))
			}
			if j == 0 {
				seg.active[i] = true
				seg.delta[i] = v
			}
		}
	}
	return seg
}

func (h *FrameHeader) parseDeltas(r *bitReader) {
	if h.Quant.BaseQIdx > 0 {
		h.DeltaQPresent = r.flag()
	}
	if !h.DeltaQPresent {
		return
	}
	r.f(2) // delta_q_res
	if !h.AllowIntraBC {
		h.DeltaLFPresent = r.flag()
	}
	if h.DeltaLFPresent {
		r.f(2) // delta_lf_res
		r.f(1) // delta_lf_multi
	}
}

// codedLossless reports whether every segment quantizes at index zero with
// no DC or chroma deltas.
func (h *FrameHeader) codedLossless(seg segmentQ) bool {
	q := h.Quant
	if q.DeltaQYDc != 0 || q.DeltaQUDc != 0 || q.DeltaQUAc != 0 || q.DeltaQVDc != 0 || q.DeltaQVAc != 0 {
		return false
	}
	for i := range 8 {
		qindex := q.BaseQIdx
		if seg.active[i] {
			qindex = max(0, min(255, q.BaseQIdx+seg.delta[i]))
		}
		if qindex != 0 {
			return false
		}
	}
	return true
}

func (h *FrameHeader) parseLoopFilter(r *bitReader, s *SequenceHeader) {
	if h.CodedLossless || h.AllowIntraBC {
		return
	}
	h.LoopFilterLevel[0] = int(r.f(6))
	h.LoopFilterLevel[1] = int(r.f(6))
	if !s.Monochrome && (h.LoopFilterLevel[0] != 0 || h.LoopFilterLevel[1] != 0) {
		h.LoopFilterLevel[2] = int(r.f(6))
		h.LoopFilterLevel[3] = int(r.f(6))
	}
	r.f(3) // loop_filter_sharpness
	if r.flag() && r.flag() {
		// Reference deltas, then mode deltas.
		for range 8 + 2 {
			if r.flag() {
				r.su(7)
			}
		}
	}
}

func (h *FrameHeader) parseCDEF(r *bitReader, s *SequenceHeader) {
	if h.CodedLossless || h.AllowIntraBC || !s.EnableCDEF {
		return
	}
	r.f(2) // cdef_damping_minus_3
	h.CDEFBits = int(r.f(2))
	for range 1 << h.CDEFBits {
		r.f(4 + 2) // luma primary and secondary strength
		if !s.Monochrome {
			r.f(4 + 2)
		}
	}
}

func (h *FrameHeader) parseRestoration(r *bitReader, s *SequenceHeader, allLossless bool) {
	if allLossless || h.AllowIntraBC || !s.EnableRestoration {
		return
	}
	planes := 3
	if s.Monochrome {
		planes = 1
	}
	usesLR, usesChromaLR := false, false
	for i := range planes {
		if r.f(2) != 0 {
			usesLR = true
			usesChromaLR = usesChromaLR || i > 0
		}
	}
	if !usesLR {
		return
	}
	if s.Use128x128Superblock {
		r.f(1) // lr_unit_shift
	} else if r.flag() {
		r.f(1) // lr_unit_extra_shift
	}
	if s.SubsamplingX == 1 && s.SubsamplingY == 1 && usesChromaLR {
		r.f(1) // lr_uv_shift
	}
}

// parseFilmGrain skips film_grain_params. Intra frames always carry a
// fresh parameter set.
func (h *FrameHeader) parseFilmGrain(r *bitReader, s *SequenceHeader) {
	if !s.FilmGrainParamsPresent || (!h.ShowFrame && !h.ShowableFrame) {
		return
	}
	if h.ApplyGrain = r.flag(); !h.ApplyGrain {
		return
	}
	r.f(16) // grain_seed
	numY := int(r.f(4))
	for range numY {
		r.f(8 + 8)
	}
	chromaFromLuma := !s.Monochrome && r.flag()
	numCb, numCr := 0, 0
	if !s.Monochrome && !chromaFromLuma && !(s.SubsamplingX == 1 && s.SubsamplingY == 1 && numY == 0) {
		numCb = int(r.f(4))
		for range numCb {
			r.f(8 + 8)
		}
		numCr = int(r.f(4))
		for range numCr {
			r.f(8 + 8)
		}
	}
	r.f(2) // grain_scaling_minus_8
	lag := int(r.f(2))
	numPosLuma := 2 * lag * (lag + 1)
	numPosChroma := numPosLuma
	if numY > 0 {
		numPosChroma++
		for range numPosLuma {
			r.f(8)
		}
	}
	if chromaFromLuma || numCb > 0 {
		for range numPosChroma {
			r.f(8)
		}
	}
	if chromaFromLuma || numCr > 0 {
		for range numPosChroma {
			r.f(8)
		}
	}
	r.f(2 + 2) // ar_coeff_shift_minus_6, grain_scale_shift
	if numCb > 0 {
		r.f(8 + 8 + 9)
	}
	if numCr > 0 {
		r.f(8 + 8 + 9)
	}
	r.f(1 + 1) // overlap_flag, clip_to_restricted_range
}
