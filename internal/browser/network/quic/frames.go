// File: internal/browser/network/quic/frames.go
package quic

import (
	"fmt"
)

// FrameType is the varint that opens every frame.
type FrameType uint64

const (
	TypePadding            FrameType = 0x00
	TypePing               FrameType = 0x01
	TypeAck                FrameType = 0x02
	TypeAckECN             FrameType = 0x03
	TypeResetStream        FrameType = 0x04
	TypeStopSending        FrameType = 0x05
	TypeCrypto             FrameType = 0x06
	TypeNewToken           FrameType = 0x07
	TypeStream             FrameType = 0x08 // through 0x0f
	TypeMaxData            FrameType = 0x10
	TypeMaxStreamData      FrameType = 0x11
	TypeMaxStreamsBidi     FrameType = 0x12
	TypeMaxStreamsUni      FrameType = 0x13
	TypeDataBlocked        FrameType = 0x14
	TypeStreamDataBlocked  FrameType = 0x15
	TypeStreamsBlockedBidi FrameType = 0x16
	TypeStreamsBlockedUni  FrameType = 0x17
	TypeNewConnectionID    FrameType = 0x18
	TypeRetireConnectionID FrameType = 0x19
	TypePathChallenge      FrameType = 0x1a
	TypePathResponse       FrameType = 0x1b
	TypeConnectionClose    FrameType = 0x1c
	TypeConnectionCloseApp FrameType = 0x1d
	TypeHandshakeDone      FrameType = 0x1e
	TypeDatagram           FrameType = 0x30
	TypeDatagramWithLength FrameType = 0x31
)

const (
	streamFlagFin = 0x01
	streamFlagLen = 0x02
	streamFlagOff = 0x04

	maxConnectionIDLen     = 20
	statelessResetTokenLen = 16
)

// Frame is one QUIC frame. Append writes its wire form, type included.
type Frame interface {
	Type() FrameType
	Append(b []byte) []byte
}

// IsAckEliciting reports whether receiving f obliges the peer to send an
// ACK. PADDING and ACK are the only frames that do not.
func IsAckEliciting(f Frame) bool {
	switch f.(type) {
	case *PaddingFrame, *AckFrame:
		return false
	}
	return true
}

// Encode returns the wire form of f.
func Encode(f Frame) []byte { return f.Append(nil) }

// PaddingFrame is a run of Length zero bytes; decoding coalesces the run.
type PaddingFrame struct{ Length int }

func (*PaddingFrame) Type() FrameType { return TypePadding }
func (f *PaddingFrame) Append(b []byte) []byte {
	return append(b, make([]byte, max(f.Length, 1))...)
}

type PingFrame struct{}

func (*PingFrame) Type() FrameType          { return TypePing }
func (f *PingFrame) Append(b []byte) []byte { return AppendVarint(b, uint64(TypePing)) }

// AckRange is one gap/length pair following the first range.
type AckRange struct {
	Gap, Length uint64
}

type ECNCounts struct {
	ECT0, ECT1, CE uint64
}

// AckFrame acknowledges packet ranges. ECN is non-nil for type 0x03.
type AckFrame struct {
	LargestAcked uint64
	AckDelay     uint64
	FirstRange   uint64
	Ranges       []AckRange
	ECN          *ECNCounts
}

func (f *AckFrame) Type() FrameType {
	if f.ECN != nil {
		return TypeAckECN
	}
	return TypeAck
}

func (f *AckFrame) Append(b []byte) []byte {
	b = AppendVarint(b, uint64(f.Type()))
	b = AppendVarint(b, f.LargestAcked)
	b = AppendVarint(b, f.AckDelay)
	b = AppendVarint(b, uint64(len(f.Ranges)))
	b = AppendVarint(b, f.FirstRange)
	for _, r := range f.Ranges {
		b = AppendVarint(b, r.Gap)
		b = AppendVarint(b, r.Length)
	}
	if f.ECN != nil {
		b = AppendVarint(b, f.ECN.ECT0)
		b = AppendVarint(b, f.ECN.ECT1)
		b = AppendVarint(b, f.ECN.CE)
	}
	return b
}

type ResetStreamFrame struct {
	StreamID  uint64
	ErrorCode uint64
	FinalSize uint64
}

func (*ResetStreamFrame) Type() FrameType { return TypeResetStream }
func (f *ResetStreamFrame) Append(b []byte) []byte {
	return appendVarints(b, uint64(TypeResetStream), f.StreamID, f.ErrorCode, f.FinalSize)
}

type StopSendingFrame struct {
	StreamID  uint64
	ErrorCode uint64
}

func (*StopSendingFrame) Type() FrameType { return TypeStopSending }
func (f *StopSendingFrame) Append(b []byte) []byte {
	return appendVarints(b, uint64(TypeStopSending), f.StreamID, f.ErrorCode)
}

type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

func (*CryptoFrame) Type() FrameType { return TypeCrypto }
func (f *CryptoFrame) Append(b []byte) []byte {
	b = appendVarints(b, uint64(TypeCrypto), f.Offset, uint64(len(f.Data)))
	return append(b, f.Data...)
}

type NewTokenFrame struct {
	Token []byte
}

func (*NewTokenFrame) Type() FrameType { return TypeNewToken }
func (f *NewTokenFrame) Append(b []byte) []byte {
	b = appendVarints(b, uint64(TypeNewToken), uint64(len(f.Token)))
	return append(b, f.Token...)
}

// StreamFrame carries stream data. Without DataLenPresent the data runs
// to the end of the packet, so such a frame must be the packet's last.
type StreamFrame struct {
	StreamID       uint64
	Offset         uint64
	Data           []byte
	Fin            bool
	DataLenPresent bool
}

func (f *StreamFrame) Type() FrameType {
	t := TypeStream
	if f.Fin {
		t |= streamFlagFin
	}
	if f.DataLenPresent {
		t |= streamFlagLen
	}
	if f.Offset != 0 {
		t |= streamFlagOff
	}
	return t
}

func (f *StreamFrame) Append(b []byte) []byte {
	b = appendVarints(b, uint64(f.Type()), f.StreamID)
	if f.Offset != 0 {
		b = AppendVarint(b, f.Offset)
	}
	if f.DataLenPresent {
		b = AppendVarint(b, uint64(len(f.Data)))
	}
	return append(b, f.Data...)
}

type MaxDataFrame struct{ MaximumData uint64 }

func (*MaxDataFrame) Type() FrameType { return TypeMaxData }
func (f *MaxDataFrame) Append(b []byte) []byte {
	return appendVarints(b, uint64(TypeMaxData), f.MaximumData)
}

type MaxStreamDataFrame struct {
	StreamID          uint64
	MaximumStreamData uint64
}

func (*MaxStreamDataFrame) Type() FrameType { return TypeMaxStreamData }
func (f *MaxStreamDataFrame) Append(b []byte) []byte {
	return appendVarints(b, uint64(TypeMaxStreamData), f.StreamID, f.MaximumStreamData)
}

type MaxStreamsFrame struct {
	Bidirectional  bool
	MaximumStreams uint64
}

func (f *MaxStreamsFrame) Type() FrameType {
	if f.Bidirectional {
		return TypeMaxStreamsBidi
	}
	return TypeMaxStreamsUni
}

func (f *MaxStreamsFrame) Append(b []byte) []byte {
	return appendVarints(b, uint64(f.Type()), f.MaximumStreams)
}

type DataBlockedFrame struct{ MaximumData uint64 }

func (*DataBlockedFrame) Type() FrameType { return TypeDataBlocked }
func (f *DataBlockedFrame) Append(b []byte) []byte {
	return appendVarints(b, uint64(TypeDataBlocked), f.MaximumData)
}

type StreamDataBlockedFrame struct {
	StreamID          uint64
	MaximumStreamData uint64
}

func (*StreamDataBlockedFrame) Type() FrameType { return TypeStreamDataBlocked }
func (f *StreamDataBlockedFrame) Append(b []byte) []byte {
	return appendVarints(b, uint64(TypeStreamDataBlocked), f.StreamID, f.MaximumStreamData)
}

type StreamsBlockedFrame struct {
	Bidirectional  bool
	MaximumStreams uint64
}

func (f *StreamsBlockedFrame) Type() FrameType {
	if f.Bidirectional {
		return TypeStreamsBlockedBidi
	}
	return TypeStreamsBlockedUni
}

func (f *StreamsBlockedFrame) Append(b []byte) []byte {
	return appendVarints(b, uint64(f.Type()), f.MaximumStreams)
}

type NewConnectionIDFrame struct {
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnectionID        []byte
	StatelessResetToken [statelessResetTokenLen]byte
}

func (*NewConnectionIDFrame) Type() FrameType { return TypeNewConnectionID }
func (f *NewConnectionIDFrame) Append(b []byte) []byte {
	b = appendVarints(b, uint64(TypeNewConnectionID), f.SequenceNumber, f.RetirePriorTo)
	b = append(b, byte(len(f.ConnectionID)))
	b = append(b, f.ConnectionID...)
	return append(b, f.StatelessResetToken[:]...)
}

type RetireConnectionIDFrame struct{ SequenceNumber uint64 }

func (*RetireConnectionIDFrame) Type() FrameType { return TypeRetireConnectionID }
func (f *RetireConnectionIDFrame) Append(b []byte) []byte {
	return appendVarints(b, uint64(TypeRetireConnectionID), f.SequenceNumber)
}

type PathChallengeFrame struct{ Data [8]byte }

func (*PathChallengeFrame) Type() FrameType { return TypePathChallenge }
func (f *PathChallengeFrame) Append(b []byte) []byte {
	return append(AppendVarint(b, uint64(TypePathChallenge)), f.Data[:]...)
}

type PathResponseFrame struct{ Data [8]byte }

func (*PathResponseFrame) Type() FrameType { return TypePathResponse }
func (f *PathResponseFrame) Append(b []byte) []byte {
	return append(AppendVarint(b, uint64(TypePathResponse)), f.Data[:]...)
}

// ConnectionCloseFrame is type 0x1c for transport errors, which name the
// offending FrameType, and 0x1d for application errors, which do not.
type ConnectionCloseFrame struct {
	IsApplication bool
	ErrorCode     uint64
	FrameType     uint64
	ReasonPhrase  string
}

func (f *ConnectionCloseFrame) Type() FrameType {
	if f.IsApplication {
		return TypeConnectionCloseApp
	}
	return TypeConnectionClose
}

func (f *ConnectionCloseFrame) Append(b []byte) []byte {
	b = appendVarints(b, uint64(f.Type()), f.ErrorCode)
	if !f.IsApplication {
		b = AppendVarint(b, f.FrameType)
	}
	b = AppendVarint(b, uint64(len(f.ReasonPhrase)))
	return append(b, f.ReasonPhrase...)
}

type HandshakeDoneFrame struct{}

func (*HandshakeDoneFrame) Type() FrameType { return TypeHandshakeDone }
func (f *HandshakeDoneFrame) Append(b []byte) []byte {
	return AppendVarint(b, uint64(TypeHandshakeDone))
}

// DatagramFrame is the unreliable datagram extension of RFC 9221.
type DatagramFrame struct {
	Data           []byte
	DataLenPresent bool
}

func (f *DatagramFrame) Type() FrameType {
	if f.DataLenPresent {
		return TypeDatagramWithLength
	}
	return TypeDatagram
}

func (f *DatagramFrame) Append(b []byte) []byte {
	b = AppendVarint(b, uint64(f.Type()))
	if f.DataLenPresent {
		b = AppendVarint(b, uint64(len(f.Data)))
	}
	return append(b, f.Data...)
}

func appendVarints(b []byte, vs ...uint64) []byte {
	for _, v := range vs {
		b = AppendVarint(b, v)
	}
	return b
}

func (t FrameType) String() string {
	switch {
	case t >= TypeStream && t <= TypeStream|0x07:
		return "STREAM"
	case t == TypeAck, t == TypeAckECN:
		return "ACK"
	case t == TypeMaxStreamsBidi, t == TypeMaxStreamsUni:
		return "MAX_STREAMS"
	case t == TypeStreamsBlockedBidi, t == TypeStreamsBlockedUni:
		return "STREAMS_BLOCKED"
	case t == TypeConnectionClose, t == TypeConnectionCloseApp:
		return "CONNECTION_CLOSE"
	case t == TypeDatagram, t == TypeDatagramWithLength:
		return "DATAGRAM"
	}
	for _, n := range typeNames {
		if n.t == t {
			return n.name
		}
	}
	return fmt.Sprintf("UNKNOWN(0x%x)", uint64(t))
}

var typeNames = []struct {
	t    FrameType
	name string
}{
	{TypePadding, "PADDING"},
	{TypePing, "PING"},
	{TypeResetStream, "RESET_STREAM"},
	{TypeStopSending, "STOP_SENDING"},
	{TypeCrypto, "CRYPTO"},
	{TypeNewToken, "NEW_TOKEN"},
	{TypeMaxData, "MAX_DATA"},
	{TypeMaxStreamData, "MAX_STREAM_DATA"},
	{TypeDataBlocked, "DATA_BLOCKED"},
	{TypeStreamDataBlocked, "STREAM_DATA_BLOCKED"},
	{TypeNewConnectionID, "NEW_CONNECTION_ID"},
	{TypeRetireConnectionID, "RETIRE_CONNECTION_ID"},
	{TypePathChallenge, "PATH_CHALLENGE"},
	{TypePathResponse, "PATH_RESPONSE"},
	{TypeHandshakeDone, "HANDSHAKE_DONE"},
}
