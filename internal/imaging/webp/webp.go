// internal/imaging/webp/webp.go
package webp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
)

var (
	ErrInvalidMagic = errors.New("webp: invalid RIFF/WEBP magic")
	ErrFormat       = errors.New("webp: malformed stream")
	ErrTruncated    = errors.New("webp: truncated stream")
	ErrNotKeyframe  = errors.New("webp: VP8 inter frames are not supported")
	ErrUnsupported  = errors.New("webp: unsupported feature")
)

// VP8X feature flags.
const (
	flagAnimation = 0x02
	flagAlpha     = 0x10
)

// Chunk is one RIFF chunk with its padding removed.
type Chunk struct {
	ID      string
	Payload []byte
}

// ReadChunks validates the RIFF header and splits the body into chunks.
func ReadChunks(data []byte) ([]Chunk, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, ErrInvalidMagic
	}
	size := int(binary.LittleEndian.Uint32(data[4:8]))
	end := min(8+size, len(data))
	if size < 4 {
		return nil, fmt.Errorf("%w: RIFF size %d", ErrFormat, size)
	}

	var chunks []Chunk
	for off := 12; off < end; {
		if off+8 > end {
			return nil, fmt.Errorf("%w: chunk header", ErrTruncated)
		}
		id := string(data[off : off+4])
		n := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if n > end-off {
			return nil, fmt.Errorf("%w: chunk %q wants %d bytes", ErrTruncated, id, n)
		}
		chunks = append(chunks, Chunk{ID: id, Payload: data[off : off+n]})
		off += n + n&1
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks", ErrFormat)
	}
	return chunks, nil
}

type container struct {
	width, height int
	extended      bool
	hasAlpha      bool
	alph          []byte
	vp8           []byte
	vp8l          []byte
}

func parseContainer(data []byte) (*container, error) {
	chunks, err := ReadChunks(data)
	if err != nil {
		return nil, err
	}
	c := &container{}
	for _, ch := range chunks {
		switch ch.ID {
		case "VP8X":
			if len(ch.Payload) < 10 {
				return nil, fmt.Errorf("%w: VP8X chunk", ErrTruncated)
			}
			flags := ch.Payload[0]
			if flags&flagAnimation != 0 {
				return nil, fmt.Errorf("%w: animation", ErrUnsupported)
			}
			c.extended = true
			c.hasAlpha = flags&flagAlpha != 0
			c.width = int(uint24(ch.Payload[4:7])) + 1
			c.height = int(uint24(ch.Payload[7:10])) + 1
		case "ALPH":
			c.alph = ch.Payload
		case "VP8 ":
			c.vp8 = ch.Payload
		case "VP8L":
			c.vp8l = ch.Payload
		}
		if c.vp8 != nil || c.vp8l != nil {
			break
		}
	}
	if c.vp8 == nil && c.vp8l == nil {
		return nil, fmt.Errorf("%w: no image chunk", ErrFormat)
	}
	return c, nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// Decode decodes a still WebP image to NRGBA.
func Decode(data []byte) (image.Image, error) {
	c, err := parseContainer(data)
	if err != nil {
		return nil, err
	}
	if c.vp8l != nil {
		return decodeVP8L(c.vp8l)
	}

	frame, err := decodeVP8(c.vp8)
	if err != nil {
		return nil, err
	}
	b := frame.Bounds()
	if c.extended && (b.Dx() != c.width || b.Dy() != c.height) {
		return nil, fmt.Errorf("%w: canvas %dx%d, frame %dx%d", ErrFormat, c.width, c.height, b.Dx(), b.Dy())
	}
	var alpha []byte
	if c.alph != nil {
		if alpha, err = decodeAlpha(c.alph, b.Dx(), b.Dy()); err != nil {
			return nil, err
		}
	}
	return yuvToNRGBA(frame, alpha), nil
}

// DecodeConfig reports the dimensions without decoding pixel data.
func DecodeConfig(data []byte) (image.Config, error) {
	c, err := parseContainer(data)
	if err != nil {
		return image.Config{}, err
	}
	cfg := image.Config{ColorModel: color.NRGBAModel}
	switch {
	case c.extended:
		cfg.Width, cfg.Height = c.width, c.height
	case c.vp8l != nil:
		cfg.Width, cfg.Height, _, err = vp8lHeader(c.vp8l)
	default:
		var tag FrameTag
		tag, err = parseFrameTag(c.vp8)
		cfg.Width, cfg.Height = tag.Width, tag.Height
	}
	if err != nil {
		return image.Config{}, err
	}
	return cfg, nil
}
