// File: internal/browser/network/h2frame/framer.go
package h2frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Framer reads and writes frames on a connection. Each Write call emits
// exactly one frame with a single Write on the underlying writer. Reads
// and writes may run on different goroutines, but concurrent writers must
// be serialized by the caller.
type Framer struct {
	r io.Reader
	w io.Writer

	maxReadSize  uint32
	maxWriteSize uint32

	hbuf [HeaderLen]byte
	wbuf []byte
}

// NewFramer returns a Framer using the default 16 KiB frame size limit in
// both directions.
func NewFramer(w io.Writer, r io.Reader) *Framer {
	return &Framer{
		r:            r,
		w:            w,
		maxReadSize:  DefaultMaxFrameSize,
		maxWriteSize: DefaultMaxFrameSize,
	}
}

// SetMaxReadFrameSize sets the largest payload ReadFrame accepts; it
// tracks the SETTINGS_MAX_FRAME_SIZE we advertised.
func (fr *Framer) SetMaxReadFrameSize(n uint32) {
	fr.maxReadSize = min(max(n, DefaultMaxFrameSize), MaxFrameSizeLimit)
}

// SetMaxWriteFrameSize sets the largest payload the Write methods emit; it
// tracks the peer's SETTINGS_MAX_FRAME_SIZE.
func (fr *Framer) SetMaxWriteFrameSize(n uint32) {
	fr.maxWriteSize = min(max(n, DefaultMaxFrameSize), MaxFrameSizeLimit)
}

func (fr *Framer) MaxWriteFrameSize() uint32 { return fr.maxWriteSize }

// ReadFrame reads one frame. The returned frame owns its payload. A frame
// of unknown type is consumed in full before ErrUnknownFrameType is
// returned, so the connection stays in sync and the caller may continue.
func (fr *Framer) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.hbuf[:]); err != nil {
		return nil, err
	}
	h, err := ParseFrameHeader(fr.hbuf[:])
	if err != nil {
		return nil, err
	}
	if h.Length > fr.maxReadSize {
		return nil, fmt.Errorf("%w: %s length %d exceeds %d", ErrFrameTooLarge, h.Type, h.Length, fr.maxReadSize)
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return parseFrame(h, payload)
}

// startWrite resets the write buffer and reserves room for the header.
func (fr *Framer) startWrite(t FrameType, flags Flags, streamID uint32) {
	fr.wbuf = FrameHeader{Type: t, Flags: flags, StreamID: streamID}.AppendTo(fr.wbuf[:0])
}

// endWrite patches the length and writes the frame in one call.
func (fr *Framer) endWrite() error {
	length := len(fr.wbuf) - HeaderLen
	if length > int(fr.maxWriteSize) {
		return fmt.Errorf("%w: %s length %d exceeds %d", ErrFrameTooLarge, FrameType(fr.wbuf[3]), length, fr.maxWriteSize)
	}
	fr.wbuf[0], fr.wbuf[1], fr.wbuf[2] = byte(length>>16), byte(length>>8), byte(length)
	_, err := fr.w.Write(fr.wbuf)
	return err
}

func (fr *Framer) WriteData(streamID uint32, endStream bool, data []byte) error {
	var flags Flags
	if endStream {
		flags |= FlagEndStream
	}
	fr.startWrite(FrameData, flags, streamID)
	fr.wbuf = append(fr.wbuf, data...)
	return fr.endWrite()
}

// HeadersFrameParam configures WriteHeaders.
type HeadersFrameParam struct {
	StreamID      uint32
	BlockFragment []byte
	EndStream     bool
	EndHeaders    bool
	// PadLength adds that many zero bytes of padding when non-zero.
	PadLength uint8
	Priority  PriorityParam
}

func (fr *Framer) WriteHeaders(p HeadersFrameParam) error {
	var flags Flags
	if p.EndStream {
		flags |= FlagEndStream
	}
	if p.EndHeaders {
		flags |= FlagEndHeaders
	}
	if p.PadLength > 0 {
		flags |= FlagPadded
	}
	if !p.Priority.IsZero() {
		flags |= FlagPriority
	}
	fr.startWrite(FrameHeaders, flags, p.StreamID)
	if p.PadLength > 0 {
		fr.wbuf = append(fr.wbuf, p.PadLength)
	}
	if !p.Priority.IsZero() {
		fr.wbuf = appendPriority(fr.wbuf, p.Priority)
	}
	fr.wbuf = append(fr.wbuf, p.BlockFragment...)
	fr.wbuf = append(fr.wbuf, make([]byte, p.PadLength)...)
	return fr.endWrite()
}

func (fr *Framer) WritePriority(streamID uint32, p PriorityParam) error {
	fr.startWrite(FramePriority, 0, streamID)
	fr.wbuf = appendPriority(fr.wbuf, p)
	return fr.endWrite()
}

func (fr *Framer) WriteRSTStream(streamID uint32, code ErrCode) error {
	fr.startWrite(FrameRSTStream, 0, streamID)
	fr.wbuf = binary.BigEndian.AppendUint32(fr.wbuf, uint32(code))
	return fr.endWrite()
}

func (fr *Framer) WriteSettings(settings ...Setting) error {
	fr.startWrite(FrameSettings, 0, 0)
	for _, s := range settings {
		fr.wbuf = binary.BigEndian.AppendUint16(fr.wbuf, uint16(s.ID))
		fr.wbuf = binary.BigEndian.AppendUint32(fr.wbuf, s.Val)
	}
	return fr.endWrite()
}

func (fr *Framer) WriteSettingsAck() error {
	fr.startWrite(FrameSettings, FlagAck, 0)
	return fr.endWrite()
}

func (fr *Framer) WritePushPromise(streamID, promiseID uint32, endHeaders bool, block []byte) error {
	var flags Flags
	if endHeaders {
		flags |= FlagEndHeaders
	}
	fr.startWrite(FramePushPromise, flags, streamID)
	fr.wbuf = binary.BigEndian.AppendUint32(fr.wbuf, promiseID&(1<<31-1))
	fr.wbuf = append(fr.wbuf, block...)
	return fr.endWrite()
}

func (fr *Framer) WritePing(ack bool, data [8]byte) error {
	var flags Flags
	if ack {
		flags |= FlagAck
	}
	fr.startWrite(FramePing, flags, 0)
	fr.wbuf = append(fr.wbuf, data[:]...)
	return fr.endWrite()
}

func (fr *Framer) WriteGoAway(lastStreamID uint32, code ErrCode, debug []byte) error {
	fr.startWrite(FrameGoAway, 0, 0)
	fr.wbuf = binary.BigEndian.AppendUint32(fr.wbuf, lastStreamID&(1<<31-1))
	fr.wbuf = binary.BigEndian.AppendUint32(fr.wbuf, uint32(code))
	fr.wbuf = append(fr.wbuf, debug...)
	return fr.endWrite()
}

func (fr *Framer) WriteWindowUpdate(streamID, increment uint32) error {
	if increment == 0 || increment > MaxWindowSize {
		return fmt.Errorf("%w: window increment %d", ErrMalformed, increment)
	}
	fr.startWrite(FrameWindowUpdate, 0, streamID)
	fr.wbuf = binary.BigEndian.AppendUint32(fr.wbuf, increment)
	return fr.endWrite()
}

func (fr *Framer) WriteContinuation(streamID uint32, endHeaders bool, block []byte) error {
	var flags Flags
	if endHeaders {
		flags |= FlagEndHeaders
	}
	fr.startWrite(FrameContinuation, flags, streamID)
	fr.wbuf = append(fr.wbuf, block...)
	return fr.endWrite()
}

// WriteRaw writes an arbitrary frame; tests use it to inject frames the
// typed writers refuse to build.
func (fr *Framer) WriteRaw(t FrameType, flags Flags, streamID uint32, payload []byte) error {
	fr.startWrite(t, flags, streamID)
	fr.wbuf = append(fr.wbuf, payload...)
	return fr.endWrite()
}
