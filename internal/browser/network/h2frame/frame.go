// File: internal/browser/network/h2frame/frame.go
package h2frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrUnknownFrameType = errors.New("h2frame: unknown frame type")
	ErrFrameTooLarge    = errors.New("h2frame: frame too large")
	ErrMalformed        = errors.New("h2frame: malformed frame")
)

// Preface is the client connection preface.
const Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

const (
	HeaderLen = 9
	// DefaultMaxFrameSize is the SETTINGS_MAX_FRAME_SIZE every peer starts with.
	DefaultMaxFrameSize = 1 << 14
	// MaxFrameSizeLimit is the largest frame the 24-bit length can describe.
	MaxFrameSizeLimit = 1<<24 - 1
	// DefaultWindowSize is the initial flow-control window for streams and the connection.
	DefaultWindowSize = 65535
	// MaxWindowSize bounds any flow-control window.
	MaxWindowSize = 1<<31 - 1
)

type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

var frameNames = [...]string{
	"DATA", "HEADERS", "PRIORITY", "RST_STREAM", "SETTINGS",
	"PUSH_PROMISE", "PING", "GOAWAY", "WINDOW_UPDATE", "CONTINUATION",
}

func (t FrameType) String() string {
	if int(t) < len(frameNames) {
		return frameNames[t]
	}
	return fmt.Sprintf("UNKNOWN_FRAME_TYPE_%d", uint8(t))
}

type Flags uint8

const (
	FlagEndStream  Flags = 0x01
	FlagAck        Flags = 0x01
	FlagEndHeaders Flags = 0x04
	FlagPadded     Flags = 0x08
	FlagPriority   Flags = 0x20
)

// Has reports whether all bits of v are set.
func (f Flags) Has(v Flags) bool { return f&v == v }

type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

// ErrCode is an RST_STREAM or GOAWAY error code.
type ErrCode uint32

const (
	ErrCodeNo                 ErrCode = 0x0
	ErrCodeProtocol           ErrCode = 0x1
	ErrCodeInternal           ErrCode = 0x2
	ErrCodeFlowControl        ErrCode = 0x3
	ErrCodeSettingsTimeout    ErrCode = 0x4
	ErrCodeStreamClosed       ErrCode = 0x5
	ErrCodeFrameSize          ErrCode = 0x6
	ErrCodeRefusedStream      ErrCode = 0x7
	ErrCodeCancel             ErrCode = 0x8
	ErrCodeCompression        ErrCode = 0x9
	ErrCodeConnect            ErrCode = 0xa
	ErrCodeEnhanceYourCalm    ErrCode = 0xb
	ErrCodeInadequateSecurity ErrCode = 0xc
	ErrCodeHTTP11Required     ErrCode = 0xd
)

var errCodeNames = [...]string{
	"NO_ERROR", "PROTOCOL_ERROR", "INTERNAL_ERROR", "FLOW_CONTROL_ERROR",
	"SETTINGS_TIMEOUT", "STREAM_CLOSED", "FRAME_SIZE_ERROR", "REFUSED_STREAM",
	"CANCEL", "COMPRESSION_ERROR", "CONNECT_ERROR", "ENHANCE_YOUR_CALM",
	"INADEQUATE_SECURITY", "HTTP_1_1_REQUIRED",
}

func (c ErrCode) String() string {
	if int(c) < len(errCodeNames) {
		return errCodeNames[c]
	}
	return fmt.Sprintf("unknown error code 0x%x", uint32(c))
}

// FrameHeader is the fixed 9-byte prefix of every frame.
type FrameHeader struct {
	Length   uint32
	Type     FrameType
	Flags    Flags
	StreamID uint32
}

// AppendTo appends the wire form of h. The reserved bit is always written as zero.
func (h FrameHeader) AppendTo(b []byte) []byte {
	return append(b,
		byte(h.Length>>16), byte(h.Length>>8), byte(h.Length),
		byte(h.Type), byte(h.Flags),
		byte(h.StreamID>>24)&0x7f, byte(h.StreamID>>16), byte(h.StreamID>>8), byte(h.StreamID))
}

// ParseFrameHeader decodes the first HeaderLen bytes of b, ignoring the reserved bit.
func ParseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < HeaderLen {
		return FrameHeader{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrMalformed, HeaderLen, len(b))
	}
	return FrameHeader{
		Length:   uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		Type:     FrameType(b[3]),
		Flags:    Flags(b[4]),
		StreamID: binary.BigEndian.Uint32(b[5:9]) & (1<<31 - 1),
	}, nil
}

func (h FrameHeader) String() string {
	return fmt.Sprintf("[%s len=%d flags=0x%02x stream=%d]", h.Type, h.Length, uint8(h.Flags), h.StreamID)
}

// Frame is one decoded frame.
type Frame interface {
	Header() FrameHeader
}

func (h FrameHeader) Header() FrameHeader { return h }

type DataFrame struct {
	FrameHeader
	Data []byte
}

func (f *DataFrame) StreamEnded() bool { return f.Flags.Has(FlagEndStream) }

// PriorityParam is the stream dependency carried by HEADERS and PRIORITY.
type PriorityParam struct {
	StreamDep uint32
	Exclusive bool
	// Weight is the wire value; the effective weight is Weight+1.
	Weight uint8
}

func (p PriorityParam) IsZero() bool { return p == PriorityParam{} }

type HeadersFrame struct {
	FrameHeader
	Priority      PriorityParam
	BlockFragment []byte
}

func (f *HeadersFrame) StreamEnded() bool  { return f.Flags.Has(FlagEndStream) }
func (f *HeadersFrame) HeadersEnded() bool { return f.Flags.Has(FlagEndHeaders) }

type PriorityFrame struct {
	FrameHeader
	PriorityParam
}

type RSTStreamFrame struct {
	FrameHeader
	ErrCode ErrCode
}

type Setting struct {
	ID  SettingID
	Val uint32
}

func (s Setting) String() string { return fmt.Sprintf("[%d = %d]", s.ID, s.Val) }

// Valid checks the value ranges RFC 9113 section 6.5.2 imposes.
func (s Setting) Valid() error {
	switch s.ID {
	case SettingEnablePush:
		if s.Val > 1 {
			return fmt.Errorf("%w: ENABLE_PUSH %d", ErrMalformed, s.Val)
		}
	case SettingInitialWindowSize:
		if s.Val > MaxWindowSize {
			return fmt.Errorf("%w: INITIAL_WINDOW_SIZE %d", ErrMalformed, s.Val)
		}
	case SettingMaxFrameSize:
		if s.Val < DefaultMaxFrameSize || s.Val > MaxFrameSizeLimit {
			return fmt.Errorf("%w: MAX_FRAME_SIZE %d", ErrMalformed, s.Val)
		}
	}
	return nil
}

type SettingsFrame struct {
	FrameHeader
	Settings []Setting
}

func (f *SettingsFrame) IsAck() bool { return f.Flags.Has(FlagAck) }

// Value returns the last value sent for id.
func (f *SettingsFrame) Value(id SettingID) (uint32, bool) {
	for i := len(f.Settings) - 1; i >= 0; i-- {
		if f.Settings[i].ID == id {
			return f.Settings[i].Val, true
		}
	}
	return 0, false
}

type PushPromiseFrame struct {
	FrameHeader
	PromiseID     uint32
	BlockFragment []byte
}

func (f *PushPromiseFrame) HeadersEnded() bool { return f.Flags.Has(FlagEndHeaders) }

type PingFrame struct {
	FrameHeader
	Data [8]byte
}

func (f *PingFrame) IsAck() bool { return f.Flags.Has(FlagAck) }

type GoAwayFrame struct {
	FrameHeader
	LastStreamID uint32
	ErrCode      ErrCode
	DebugData    []byte
}

type WindowUpdateFrame struct {
	FrameHeader
	Increment uint32
}

type ContinuationFrame struct {
	FrameHeader
	BlockFragment []byte
}

func (f *ContinuationFrame) HeadersEnded() bool { return f.Flags.Has(FlagEndHeaders) }

// parseFrame decodes payload according to h.Type.
func parseFrame(h FrameHeader, p []byte) (Frame, error) {
	malformed := func(msg string) error {
		return fmt.Errorf("%w: %s %s", ErrMalformed, h.Type, msg)
	}
	switch h.Type {
	case FrameData:
		if h.StreamID == 0 {
			return nil, malformed("on stream 0")
		}
		data, err := unpad(h, p)
		if err != nil {
			return nil, err
		}
		return &DataFrame{FrameHeader: h, Data: data}, nil

	case FrameHeaders:
		if h.StreamID == 0 {
			return nil, malformed("on stream 0")
		}
		body, err := unpad(h, p)
		if err != nil {
			return nil, err
		}
		f := &HeadersFrame{FrameHeader: h}
		if h.Flags.Has(FlagPriority) {
			if len(body) < 5 {
				return nil, malformed("priority truncated")
			}
			f.Priority = parsePriority(body)
			body = body[5:]
		}
		f.BlockFragment = body
		return f, nil

	case FramePriority:
		if h.StreamID == 0 {
			return nil, malformed("on stream 0")
		}
		if len(p) != 5 {
			return nil, malformed("length must be 5")
		}
		return &PriorityFrame{FrameHeader: h, PriorityParam: parsePriority(p)}, nil

	case FrameRSTStream:
		if h.StreamID == 0 {
			return nil, malformed("on stream 0")
		}
		if len(p) != 4 {
			return nil, malformed("length must be 4")
		}
		return &RSTStreamFrame{FrameHeader: h, ErrCode: ErrCode(binary.BigEndian.Uint32(p))}, nil

	case FrameSettings:
		if h.StreamID != 0 {
			return nil, malformed("on a stream")
		}
		if h.Flags.Has(FlagAck) && len(p) != 0 {
			return nil, malformed("ACK with payload")
		}
		if len(p)%6 != 0 {
			return nil, malformed("length not a multiple of 6")
		}
		f := &SettingsFrame{FrameHeader: h, Settings: make([]Setting, 0, len(p)/6)}
		for ; len(p) > 0; p = p[6:] {
			s := Setting{ID: SettingID(binary.BigEndian.Uint16(p)), Val: binary.BigEndian.Uint32(p[2:])}
			if err := s.Valid(); err != nil {
				return nil, err
			}
			f.Settings = append(f.Settings, s)
		}
		return f, nil

	case FramePushPromise:
		if h.StreamID == 0 {
			return nil, malformed("on stream 0")
		}
		body, err := unpad(h, p)
		if err != nil {
			return nil, err
		}
		if len(body) < 4 {
			return nil, malformed("promised stream truncated")
		}
		return &PushPromiseFrame{
			FrameHeader:   h,
			PromiseID:     binary.BigEndian.Uint32(body) & (1<<31 - 1),
			BlockFragment: body[4:],
		}, nil

	case FramePing:
		if h.StreamID != 0 {
			return nil, malformed("on a stream")
		}
		if len(p) != 8 {
			return nil, malformed("length must be 8")
		}
		f := &PingFrame{FrameHeader: h}
		copy(f.Data[:], p)
		return f, nil

	case FrameGoAway:
		if h.StreamID != 0 {
			return nil, malformed("on a stream")
		}
		if len(p) < 8 {
			return nil, malformed("truncated")
		}
		return &GoAwayFrame{
			FrameHeader:  h,
			LastStreamID: binary.BigEndian.Uint32(p) & (1<<31 - 1),
			ErrCode:      ErrCode(binary.BigEndian.Uint32(p[4:])),
			DebugData:    p[8:],
		}, nil

	case FrameWindowUpdate:
		if len(p) != 4 {
			return nil, malformed("length must be 4")
		}
		inc := binary.BigEndian.Uint32(p) & (1<<31 - 1)
		if inc == 0 {
			return nil, malformed("zero increment")
		}
		return &WindowUpdateFrame{FrameHeader: h, Increment: inc}, nil

	case FrameContinuation:
		if h.StreamID == 0 {
			return nil, malformed("on stream 0")
		}
		return &ContinuationFrame{FrameHeader: h, BlockFragment: p}, nil
	}
	return nil, fmt.Errorf("%w: 0x%x", ErrUnknownFrameType, uint8(h.Type))
}

// unpad strips the pad-length byte and trailing padding when PADDED is set.
func unpad(h FrameHeader, p []byte) ([]byte, error) {
	if !h.Flags.Has(FlagPadded) {
		return p, nil
	}
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: %s pad length missing", ErrMalformed, h.Type)
	}
	pad := int(p[0])
	if pad >= len(p) {
		return nil, fmt.Errorf("%w: %s padding %d exceeds payload", ErrMalformed, h.Type, pad)
	}
	return p[1 : len(p)-pad], nil
}

func parsePriority(p []byte) PriorityParam {
	v := binary.BigEndian.Uint32(p)
	return PriorityParam{
		StreamDep: v & (1<<31 - 1),
		Exclusive: v>>31 == 1,
		Weight:    p[4],
	}
}

func appendPriority(b []byte, p PriorityParam) []byte {
	v := p.StreamDep & (1<<31 - 1)
	if p.Exclusive {
		v |= 1 << 31
	}
	return append(binary.BigEndian.AppendUint32(b, v), p.Weight)
}
