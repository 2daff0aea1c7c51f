// internal/imaging/avif/avif.go
package avif

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"maps"
	"slices"
)

var (
	ErrBrand          = errors.New("avif: ftyp brand is not avif, avis or mif1")
	ErrMissingBox     = errors.New("avif: required box missing")
	ErrFormat         = errors.New("avif: malformed box")
	ErrTruncated      = errors.New("avif: truncated data")
	ErrAV1Unsupported = errors.New("avif: AV1 tile decoding is not supported")
)

var acceptedBrands = []string{"avif", "avis", "mif1"}

// Alpha auxiliary URNs, AV1 and HEVC flavours.
const (
	alphaURN     = "urn:mpeg:mpegB:cicp:systems:auxiliary:alpha"
	alphaURNHEVC = "urn:mpeg:hevc:2015:auxid:1"
)

// Property is one entry of the ipco box.
type Property interface {
	PropertyType() string
}

type ImageSpatialExtents struct {
	Width, Height uint32
}

type PixelInformation struct {
	BitsPerChannel []uint8
}

// ColorInformation is a colr box. NCLX carries code points; ICC carries a profile.
type ColorInformation struct {
	ColorType  string
	Primaries  uint16
	Transfer   uint16
	Matrix     uint16
	FullRange  bool
	ICCProfile []byte
}

// AV1Config is the av1C codec configuration record.
type AV1Config struct {
	SeqProfile           uint8
	SeqLevelIdx0         uint8
	SeqTier0             uint8
	HighBitdepth         bool
	TwelveBit            bool
	Monochrome           bool
	ChromaSubsamplingX   uint8
	ChromaSubsamplingY   uint8
	ChromaSamplePosition uint8
	ConfigOBUs           []byte
}

type AuxiliaryType struct {
	URN string
}

// UnknownProperty keeps the position of unrecognized ipco entries.
type UnknownProperty struct {
	Type string
}

func (ImageSpatialExtents) PropertyType() string { return "ispe" }
func (PixelInformation) PropertyType() string    { return "pixi" }
func (ColorInformation) PropertyType() string    { return "colr" }
func (AV1Config) PropertyType() string           { return "av1C" }
func (AuxiliaryType) PropertyType() string       { return "auxC" }
func (p UnknownProperty) PropertyType() string   { return p.Type }

// Extent is one byte range of an item.
type Extent struct {
	Offset, Length uint64
}

// Item is an entry from iinf joined with its location, properties and references.
type Item struct {
	ID                 uint32
	Type               string
	Name               string
	ConstructionMethod uint8
	BaseOffset         uint64
	Extents            []Extent
	Properties         []Property
	// References maps a reference type such as auxl to target item IDs.
	References map[string][]uint32
}

// Property returns the first associated property of the given type.
func (it *Item) Property(typ string) Property {
	for _, p := range it.Properties {
		if p.PropertyType() == typ {
			return p
		}
	}
	return nil
}

// Container is a parsed AVIF file.
type Container struct {
	MajorBrand       string
	CompatibleBrands []string
	Handler          string
	PrimaryID        uint32
	Items            map[uint32]*Item
	data             []byte
	idat             []byte
}

// Parse reads the ftyp and meta boxes of an AVIF file.
func Parse(data []byte) (*Container, error) {
	top, err := ReadBoxes(data)
	if err != nil {
		return nil, err
	}
	ftyp := find(top, "ftyp")
	if ftyp == nil {
		return nil, fmt.Errorf("%w: ftyp", ErrMissingBox)
	}
	c := &Container{Items: map[uint32]*Item{}, data: data}
	if err := c.parseFtyp(ftyp.Payload); err != nil {
		return nil, err
	}

	meta := find(top, "meta")
	if meta == nil {
		return nil, fmt.Errorf("%w: meta", ErrMissingBox)
	}
	if len(meta.Payload) < 4 {
		return nil, fmt.Errorf("%w: meta header", ErrTruncated)
	}
	children, err := ReadBoxes(meta.Payload[4:])
	if err != nil {
		return nil, err
	}
	if err := c.parseMeta(children); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) parseFtyp(p []byte) error {
	r := &reader{b: p}
	c.MajorBrand = r.fourCC()
	r.u32()
	for r.err == nil && len(p)-r.off >= 4 {
		c.CompatibleBrands = append(c.CompatibleBrands, r.fourCC())
	}
	if r.err != nil {
		return r.err
	}
	if slices.Contains(acceptedBrands, c.MajorBrand) {
		return nil
	}
	for _, b := range c.CompatibleBrands {
		if slices.Contains(acceptedBrands, b) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrBrand, c.MajorBrand)
}

func (c *Container) parseMeta(boxes []Box) error {
	for _, name := range []string{"hdlr", "pitm", "iinf", "iloc"} {
		if find(boxes, name) == nil {
			return fmt.Errorf("%w: %s", ErrMissingBox, name)
		}
	}
	if err := c.parseHdlr(find(boxes, "hdlr").Payload); err != nil {
		return err
	}
	if err := c.parsePitm(find(boxes, "pitm").Payload); err != nil {
		return err
	}
	if err := c.parseIinf(find(boxes, "iinf").Payload); err != nil {
		return err
	}
	if err := c.parseIloc(find(boxes, "iloc").Payload); err != nil {
		return err
	}
	if b := find(boxes, "iprp"); b != nil {
		if err := c.parseIprp(b.Payload); err != nil {
			return err
		}
	}
	if b := find(boxes, "iref"); b != nil {
		if err := c.parseIref(b.Payload); err != nil {
			return err
		}
	}
	if b := find(boxes, "idat"); b != nil {
		c.idat = b.Payload
	}
	if _, ok := c.Items[c.PrimaryID]; !ok {
		return fmt.Errorf("%w: primary item %d has no infe", ErrMissingBox, c.PrimaryID)
	}
	return nil
}

func (c *Container) parseHdlr(p []byte) error {
	r := &reader{b: p}
	r.fullBox()
	r.u32() // pre_defined
	c.Handler = r.fourCC()
	if r.err != nil {
		return r.err
	}
	if c.Handler != "pict" {
		return fmt.Errorf("%w: handler %q", ErrFormat, c.Handler)
	}
	return nil
}

func (c *Container) parsePitm(p []byte) error {
	r := &reader{b: p}
	if v, _ := r.fullBox(); v == 0 {
		c.PrimaryID = uint32(r.u16())
	} else {
		c.PrimaryID = r.u32()
	}
	return r.err
}

func (c *Container) item(id uint32) *Item {
	it, ok := c.Items[id]
	if !ok {
		it = &Item{ID: id, References: map[string][]uint32{}}
		c.Items[id] = it
	}
	return it
}

func (c *Container) parseIinf(p []byte) error {
	r := &reader{b: p}
	v, _ := r.fullBox()
	if v == 0 {
		r.u16()
	} else {
		r.u32()
	}
	if r.err != nil {
		return r.err
	}
	entries, err := ReadBoxes(p[r.off:])
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type != "infe" {
			continue
		}
		er := &reader{b: e.Payload}
		ev, _ := er.fullBox()
		if ev < 2 {
			return fmt.Errorf("%w: infe version %d", ErrFormat, ev)
		}
		var id uint32
		if ev == 2 {
			id = uint32(er.u16())
		} else {
			id = er.u32()
		}
		er.u16() // protection index
		typ := er.fourCC()
		name := er.cstring()
		if er.err != nil {
			return er.err
		}
		it := c.item(id)
		it.Type, it.Name = typ, name
	}
	return nil
}

func (c *Container) parseIloc(p []byte) error {
	r := &reader{b: p}
	v, _ := r.fullBox()
	sizes := r.u16()
	offsetSize := int(sizes >> 12)
	lengthSize := int(sizes>>8) & 0xF
	baseOffsetSize := int(sizes>>4) & 0xF
	indexSize := 0
	if v == 1 || v == 2 {
		indexSize = int(sizes) & 0xF
	}
	var count uint32
	if v < 2 {
		count = uint32(r.u16())
	} else {
		count = r.u32()
	}

	for range count {
		if r.err != nil {
			break
		}
		var id uint32
		if v < 2 {
			id = uint32(r.u16())
		} else {
			id = r.u32()
		}
		it := c.item(id)
		if v == 1 || v == 2 {
			it.ConstructionMethod = uint8(r.u16() & 0xF)
		}
		r.u16() // data reference index
		it.BaseOffset = r.sized(baseOffsetSize)
		n := int(r.u16())
		it.Extents = it.Extents[:0]
		for range n {
			r.sized(indexSize)
			off := r.sized(offsetSize)
			length := r.sized(lengthSize)
			it.Extents = append(it.Extents, Extent{Offset: off, Length: length})
		}
	}
	return r.err
}

func (c *Container) parseIprp(p []byte) error {
	boxes, err := ReadBoxes(p)
	if err != nil {
		return err
	}
	ipco := find(boxes, "ipco")
	if ipco == nil {
		return fmt.Errorf("%w: ipco", ErrMissingBox)
	}
	entries, err := ReadBoxes(ipco.Payload)
	if err != nil {
		return err
	}
	props := make([]Property, len(entries))
	for i, e := range entries {
		if props[i], err = parseProperty(e); err != nil {
			return err
		}
	}

	for _, b := range boxes {
		if b.Type != "ipma" {
			continue
		}
		r := &reader{b: b.Payload}
		v, flags := r.fullBox()
		count := r.u32()
		for range count {
			if r.err != nil {
				break
			}
			var id uint32
			if v < 1 {
				id = uint32(r.u16())
			} else {
				id = r.u32()
			}
			it := c.item(id)
			n := int(r.u8())
			for range n {
				var idx int
				if flags&1 == 1 {
					idx = int(r.u16() & 0x7FFF)
				} else {
					idx = int(r.u8() & 0x7F)
				}
				// Index 0 means no property; the rest are 1-based.
				if idx == 0 {
					continue
				}
				if idx > len(props) {
					return fmt.Errorf("%w: ipma index %d of %d", ErrFormat, idx, len(props))
				}
				it.Properties = append(it.Properties, props[idx-1])
			}
		}
		if r.err != nil {
			return r.err
		}
	}
	return nil
}

func parseProperty(b Box) (Property, error) {
	r := &reader{b: b.Payload}
	switch b.Type {
	case "ispe":
		r.fullBox()
		p := ImageSpatialExtents{Width: r.u32(), Height: r.u32()}
		return p, r.err
	case "pixi":
		r.fullBox()
		n := int(r.u8())
		p := PixelInformation{BitsPerChannel: append([]uint8(nil), r.take(n)...)}
		return p, r.err
	case "colr":
		p := ColorInformation{ColorType: r.fourCC()}
		switch p.ColorType {
		case "nclx":
			p.Primaries, p.Transfer, p.Matrix = r.u16(), r.u16(), r.u16()
			p.FullRange = r.u8()>>7 == 1
		case "rICC", "prof":
			p.ICCProfile = r.rest()
		}
		return p, r.err
	case "av1C":
		b0, b1, b2, b3 := r.u8(), r.u8(), r.u8(), r.u8()
		if r.err != nil {
			return nil, r.err
		}
		if b0 != 0x81 {
			return nil, fmt.Errorf("%w: av1C marker/version 0x%02X", ErrFormat, b0)
		}
		_ = b3 // initial presentation delay
		return AV1Config{
			SeqProfile:           b1 >> 5,
			SeqLevelIdx0:         b1 & 0x1F,
			SeqTier0:             b2 >> 7,
			HighBitdepth:         b2>>6&1 == 1,
			TwelveBit:            b2>>5&1 == 1,
			Monochrome:           b2>>4&1 == 1,
			ChromaSubsamplingX:   b2 >> 3 & 1,
			ChromaSubsamplingY:   b2 >> 2 & 1,
			ChromaSamplePosition: b2 & 3,
			ConfigOBUs:           r.rest(),
		}, nil
	case "auxC":
		r.fullBox()
		p := AuxiliaryType{URN: r.cstring()}
		return p, r.err
	}
	return UnknownProperty{Type: b.Type}, nil
}

func (c *Container) parseIref(p []byte) error {
	r := &reader{b: p}
	v, _ := r.fullBox()
	if r.err != nil {
		return r.err
	}
	refs, err := ReadBoxes(p[r.off:])
	if err != nil {
		return err
	}
	for _, ref := range refs {
		rr := &reader{b: ref.Payload}
		id := func() uint32 {
			if v == 0 {
				return uint32(rr.u16())
			}
			return rr.u32()
		}
		from := id()
		n := int(rr.u16())
		it := c.item(from)
		for range n {
			it.References[ref.Type] = append(it.References[ref.Type], id())
		}
		if rr.err != nil {
			return rr.err
		}
	}
	return nil
}

// Primary returns the primary item.
func (c *Container) Primary() *Item { return c.Items[c.PrimaryID] }

// ItemData concatenates the extents of an item, reading from the file for
// construction method 0 and from idat for method 1.
func (c *Container) ItemData(it *Item) ([]byte, error) {
	var src []byte
	switch it.ConstructionMethod {
	case 0:
		src = c.data
	case 1:
		src = c.idat
	default:
		return nil, fmt.Errorf("%w: construction method %d", ErrFormat, it.ConstructionMethod)
	}
	if len(it.Extents) == 0 {
		return nil, fmt.Errorf("%w: item %d has no extents", ErrFormat, it.ID)
	}
	var out []byte
	for _, e := range it.Extents {
		start := it.BaseOffset + e.Offset
		length := e.Length
		if length == 0 {
			// Zero length means the rest of the source.
			if start > uint64(len(src)) {
				return nil, fmt.Errorf("%w: extent at %d", ErrTruncated, start)
			}
			length = uint64(len(src)) - start
		}
		if start > uint64(len(src)) || length > uint64(len(src))-start {
			return nil, fmt.Errorf("%w: extent %d+%d beyond %d bytes", ErrTruncated, start, length, len(src))
		}
		out = append(out, src[start:start+length]...)
	}
	return out, nil
}

// PrimaryItemData returns the AV1 bitstream of the primary image.
func (c *Container) PrimaryItemData() ([]byte, error) {
	it := c.Primary()
	if it.Type != "av01" {
		return nil, fmt.Errorf("%w: primary item type %q", ErrFormat, it.Type)
	}
	return c.ItemData(it)
}

// AlphaItem returns the auxiliary alpha image of the primary item, or nil.
func (c *Container) AlphaItem() *Item {
	for _, id := range slices.Sorted(maps.Keys(c.Items)) {
		it := c.Items[id]
		if !slices.Contains(it.References["auxl"], c.PrimaryID) {
			continue
		}
		aux, ok := it.Property("auxC").(AuxiliaryType)
		if ok && (aux.URN == alphaURN || aux.URN == alphaURNHEVC) {
			return it
		}
	}
	return nil
}

// Size returns the primary item's ispe dimensions.
func (c *Container) Size() (width, height int, err error) {
	ispe, ok := c.Primary().Property("ispe").(ImageSpatialExtents)
	if !ok {
		return 0, 0, fmt.Errorf("%w: ispe on primary item", ErrMissingBox)
	}
	return int(ispe.Width), int(ispe.Height), nil
}

// DecodeConfig reports the primary image size from its ispe property.
func DecodeConfig(data []byte) (image.Config, error) {
	c, err := Parse(data)
	if err != nil {
		return image.Config{}, err
	}
	w, h, err := c.Size()
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.YCbCrModel, Width: w, Height: h}, nil
}

// Decode validates the container and the primary AV1 bitstream, splits the
// first frame into tiles and starts each tile's symbol decoder. Block
// reconstruction is not implemented, so a well-formed file yields
// ErrAV1Unsupported.
func Decode(data []byte) (image.Image, error) {
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	payload, err := c.PrimaryItemData()
	if err != nil {
		return nil, err
	}
	var seq *SequenceHeader
	if cfg, ok := c.Primary().Property("av1C").(AV1Config); ok && len(cfg.ConfigOBUs) > 0 {
		if hdr, err := ParseOBUs(cfg.ConfigOBUs); err == nil {
			seq = hdr.Sequence
		}
	}
	bs, err := parseOBUs(payload, seq)
	if err != nil {
		return nil, err
	}
	if bs.Sequence == nil {
		return nil, fmt.Errorf("%w: sequence header OBU", ErrMissingBox)
	}
	if len(bs.Frames) == 0 {
		return nil, fmt.Errorf("%w: frame header OBU", ErrMissingBox)
	}
	f := bs.Frames[0]
	tiles, err := bs.openTiles(0)
	if err != nil {
		return nil, err
	}
	if want := f.Tiles.Cols * f.Tiles.Rows; len(tiles) != want {
		return nil, fmt.Errorf("%w: %d of %d tiles present", ErrTruncated, len(tiles), want)
	}
	return nil, fmt.Errorf("%w: %dx%d %s, %d tiles in %d tile group bytes", ErrAV1Unsupported,
		f.Width, f.Height, f.Type, len(tiles), bs.TileBytes())
}
