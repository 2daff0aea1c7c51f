// File: internal/browser/network/quic/parse.go
package quic

import (
	"bytes"
	"fmt"
)

// Decode parses the first frame in b and returns it with the unconsumed
// remainder. Byte slices in the frame alias b.
func Decode(b []byte) (Frame, []byte, error) {
	typ, rest, err := ReadVarint(b)
	if err != nil {
		return nil, b, err
	}
	t := FrameType(typ)
	d := decoder{buf: rest}

	var f Frame
	switch {
	case t == TypePadding:
		n := len(b) - len(bytes.TrimLeft(b, "\x00"))
		if n == 0 {
			return nil, b, fmt.Errorf("%w: non-minimal PADDING type", ErrMalformed)
		}
		return &PaddingFrame{Length: n}, b[n:], nil
	case t == TypePing:
		f = &PingFrame{}
	case t == TypeAck, t == TypeAckECN:
		f = d.ack(t == TypeAckECN)
	case t == TypeResetStream:
		f = &ResetStreamFrame{StreamID: d.varint(), ErrorCode: d.varint(), FinalSize: d.varint()}
	case t == TypeStopSending:
		f = &StopSendingFrame{StreamID: d.varint(), ErrorCode: d.varint()}
	case t == TypeCrypto:
		cf := &CryptoFrame{Offset: d.varint()}
		cf.Data = d.bytes(d.varint())
		f = cf
	case t == TypeNewToken:
		f = &NewTokenFrame{Token: d.bytes(d.varint())}
	case t >= TypeStream && t <= TypeStream|0x07:
		f = d.stream(t)
	case t == TypeMaxData:
		f = &MaxDataFrame{MaximumData: d.varint()}
	case t == TypeMaxStreamData:
		f = &MaxStreamDataFrame{StreamID: d.varint(), MaximumStreamData: d.varint()}
	case t == TypeMaxStreamsBidi, t == TypeMaxStreamsUni:
		f = &MaxStreamsFrame{Bidirectional: t == TypeMaxStreamsBidi, MaximumStreams: d.varint()}
	case t == TypeDataBlocked:
		f = &DataBlockedFrame{MaximumData: d.varint()}
	case t == TypeStreamDataBlocked:
		f = &StreamDataBlockedFrame{StreamID: d.varint(), MaximumStreamData: d.varint()}
	case t == TypeStreamsBlockedBidi, t == TypeStreamsBlockedUni:
		f = &StreamsBlockedFrame{Bidirectional: t == TypeStreamsBlockedBidi, MaximumStreams: d.varint()}
	case t == TypeNewConnectionID:
		f = d.newConnectionID()
	case t == TypeRetireConnectionID:
		f = &RetireConnectionIDFrame{SequenceNumber: d.varint()}
	case t == TypePathChallenge:
		pc := &PathChallengeFrame{}
		copy(pc.Data[:], d.bytes(8))
		f = pc
	case t == TypePathResponse:
		pr := &PathResponseFrame{}
		copy(pr.Data[:], d.bytes(8))
		f = pr
	case t == TypeConnectionClose, t == TypeConnectionCloseApp:
		cc := &ConnectionCloseFrame{IsApplication: t == TypeConnectionCloseApp, ErrorCode: d.varint()}
		if !cc.IsApplication {
			cc.FrameType = d.varint()
		}
		cc.ReasonPhrase = string(d.bytes(d.varint()))
		f = cc
	case t == TypeHandshakeDone:
		f = &HandshakeDoneFrame{}
	case t == TypeDatagram, t == TypeDatagramWithLength:
		df := &DatagramFrame{DataLenPresent: t == TypeDatagramWithLength}
		if df.DataLenPresent {
			df.Data = d.bytes(d.varint())
		} else {
			df.Data = d.bytes(uint64(len(d.buf)))
		}
		f = df
	default:
		return nil, b, fmt.Errorf("%w: 0x%x", ErrUnknownFrame, typ)
	}
	if d.err != nil {
		return nil, b, fmt.Errorf("%s: %w", t, d.err)
	}
	return f, d.buf, nil
}

// DecodeAll parses every frame of a packet payload.
func DecodeAll(payload []byte) ([]Frame, error) {
	var frames []Frame
	for len(payload) > 0 {
		f, rest, err := Decode(payload)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		payload = rest
	}
	return frames, nil
}

// decoder reads fields in order and latches the first error.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) varint() uint64 {
	if d.err != nil {
		return 0
	}
	var v uint64
	v, d.buf, d.err = ReadVarint(d.buf)
	return v
}

func (d *decoder) bytes(n uint64) []byte {
	if d.err != nil {
		return nil
	}
	if n > uint64(len(d.buf)) {
		d.err = ErrTruncated
		return nil
	}
	out := d.buf[:n:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) ack(ecn bool) *AckFrame {
	f := &AckFrame{LargestAcked: d.varint(), AckDelay: d.varint()}
	count := d.varint()
	f.FirstRange = d.varint()
	if d.err == nil && f.FirstRange > f.LargestAcked {
		d.err = fmt.Errorf("%w: first range %d exceeds largest acked %d", ErrMalformed, f.FirstRange, f.LargestAcked)
	}
	// Each range needs at least two bytes; reject counts the buffer cannot hold.
	if d.err == nil && count > uint64(len(d.buf))/2 {
		d.err = ErrTruncated
	}
	for i := uint64(0); i < count && d.err == nil; i++ {
		f.Ranges = append(f.Ranges, AckRange{Gap: d.varint(), Length: d.varint()})
	}
	if ecn {
		f.ECN = &ECNCounts{ECT0: d.varint(), ECT1: d.varint(), CE: d.varint()}
	}
	return f
}

func (d *decoder) stream(t FrameType) *StreamFrame {
	f := &StreamFrame{
		StreamID:       d.varint(),
		Fin:            t&streamFlagFin != 0,
		DataLenPresent: t&streamFlagLen != 0,
	}
	if t&streamFlagOff != 0 {
		f.Offset = d.varint()
	}
	if f.DataLenPresent {
		f.Data = d.bytes(d.varint())
	} else {
		f.Data = d.bytes(uint64(len(d.buf)))
	}
	return f
}

func (d *decoder) newConnectionID() *NewConnectionIDFrame {
	f := &NewConnectionIDFrame{SequenceNumber: d.varint(), RetirePriorTo: d.varint()}
	n := d.bytes(1)
	if d.err != nil {
		return f
	}
	if n[0] == 0 || n[0] > maxConnectionIDLen {
		d.err = fmt.Errorf("%w: connection id length %d", ErrMalformed, n[0])
		return f
	}
	if f.RetirePriorTo > f.SequenceNumber {
		d.err = fmt.Errorf("%w: retire prior to %d exceeds sequence %d", ErrMalformed, f.RetirePriorTo, f.SequenceNumber)
		return f
	}
	f.ConnectionID = d.bytes(uint64(n[0]))
	copy(f.StatelessResetToken[:], d.bytes(statelessResetTokenLen))
	return f
}
