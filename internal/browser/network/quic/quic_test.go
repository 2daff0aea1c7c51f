package quic

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Test Helpers --

// allFrames holds one canonical instance of every variant.
func allFrames() []Frame {
	token := [16]byte{0xde, 0xad, 0xbe, 0xef}
	return []Frame{
		&PaddingFrame{Length: 3},
		&PingFrame{},
		&AckFrame{LargestAcked: 1000, AckDelay: 25, FirstRange: 4, Ranges: []AckRange{{Gap: 2, Length: 10}, {Gap: 0, Length: 1}}},
		&AckFrame{LargestAcked: 70000, AckDelay: 1, ECN: &ECNCounts{ECT0: 5, ECT1: 6, CE: 1}},
		&ResetStreamFrame{StreamID: 4, ErrorCode: 0x10c, FinalSize: 1 << 20},
		&StopSendingFrame{StreamID: 8, ErrorCode: 0x10b},
		&CryptoFrame{Offset: 100, Data: []byte("client hello")},
		&NewTokenFrame{Token: []byte{1, 2, 3}},
		&StreamFrame{StreamID: 0, Data: []byte("GET /"), DataLenPresent: true},
		&StreamFrame{StreamID: 4, Offset: 16384, Data: []byte("tail"), Fin: true, DataLenPresent: true},
		&MaxDataFrame{MaximumData: 1 << 30},
		&MaxStreamDataFrame{StreamID: 4, MaximumStreamData: 65536},
		&MaxStreamsFrame{Bidirectional: true, MaximumStreams: 100},
		&MaxStreamsFrame{MaximumStreams: 3},
		&DataBlockedFrame{MaximumData: 4096},
		&StreamDataBlockedFrame{StreamID: 8, MaximumStreamData: 1024},
		&StreamsBlockedFrame{Bidirectional: true, MaximumStreams: 100},
		&StreamsBlockedFrame{MaximumStreams: 3},
		&NewConnectionIDFrame{SequenceNumber: 2, RetirePriorTo: 1, ConnectionID: []byte{9, 8, 7, 6, 5, 4, 3, 2}, StatelessResetToken: token},
		&RetireConnectionIDFrame{SequenceNumber: 1},
		&PathChallengeFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		&PathResponseFrame{Data: [8]byte{8, 7, 6, 5, 4, 3, 2, 1}},
		&ConnectionCloseFrame{ErrorCode: 0x0a, FrameType: uint64(TypeStream), ReasonPhrase: "protocol violation"},
		&ConnectionCloseFrame{IsApplication: true, ErrorCode: 0x100, ReasonPhrase: "bye"},
		&HandshakeDoneFrame{},
		&DatagramFrame{Data: []byte("dgram"), DataLenPresent: true},
	}
}

// -- Tests --

func TestVarint(t *testing.T) {
	// RFC 9000 appendix A.1 examples.
	tests := []struct {
		value uint64
		wire  []byte
	}{
		{37, []byte{0x25}},
		{15293, []byte{0x7b, 0xbd}},
		{494878333, []byte{0x9d, 0x7f, 0x3e, 0x7d}},
		{151288809941952652, []byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wire, AppendVarint(nil, tt.value))
		assert.Equal(t, len(tt.wire), VarintLen(tt.value))
		v, rest, err := ReadVarint(tt.wire)
		require.NoError(t, err)
		assert.Equal(t, tt.value, v)
		assert.Empty(t, rest)
	}

	// A two-byte encoding of a one-byte value still decodes.
	v, _, err := ReadVarint([]byte{0x40, 0x25})
	require.NoError(t, err)
	assert.Equal(t, uint64(37), v)

	_, _, err = ReadVarint([]byte{0x9d, 0x7f})
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Panics(t, func() { AppendVarint(nil, MaxVarint+1) })
}

func FuzzVarint(f *testing.F) {
	f.Add(uint64(0))
	f.Add(uint64(MaxVarint))
	f.Fuzz(func(t *testing.T, v uint64) {
		v &= MaxVarint
		got, rest, err := ReadVarint(AppendVarint(nil, v))
		if err != nil || got != v || len(rest) != 0 {
			t.Fatalf("varint %d: got %d rest %d err %v", v, got, len(rest), err)
		}
	})
}

func TestFrames_RoundTrip(t *testing.T) {
	frames := allFrames()
	assert.Len(t, frames, 26, "25 wire variants plus a second STREAM shape")

	for _, f := range frames {
		t.Run(f.Type().String(), func(t *testing.T) {
			got, rest, err := Decode(Encode(f))
			require.NoError(t, err)
			assert.Empty(t, rest)
			if diff := cmp.Diff(f, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeAll_Packet(t *testing.T) {
	var payload []byte
	want := allFrames()
	for _, f := range want {
		payload = f.Append(payload)
	}
	// A length-less STREAM frame runs to the end of the packet.
	last := &StreamFrame{StreamID: 12, Data: []byte("rest of packet"), Fin: true}
	payload = last.Append(payload)
	want = append(want, last)

	got, err := DecodeAll(payload)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("packet mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamFrame_TypeBits(t *testing.T) {
	assert.Equal(t, FrameType(0x08), (&StreamFrame{}).Type())
	assert.Equal(t, FrameType(0x0f), (&StreamFrame{Offset: 1, Fin: true, DataLenPresent: true}).Type())

	wire := []byte{0x0d, 0x04, 0x40, 0x10, 'x', 'y'}
	f, _, err := Decode(wire)
	require.NoError(t, err)
	sf := f.(*StreamFrame)
	assert.True(t, sf.Fin)
	assert.False(t, sf.DataLenPresent)
	assert.Equal(t, uint64(16), sf.Offset)
	assert.Equal(t, []byte("xy"), sf.Data)
}

func TestIsAckEliciting(t *testing.T) {
	assert.False(t, IsAckEliciting(&PaddingFrame{}))
	assert.True(t, IsAckEliciting(&PingFrame{}))
	assert.False(t, IsAckEliciting(&AckFrame{}))
	assert.False(t, IsAckEliciting(&AckFrame{ECN: &ECNCounts{}}))
	for _, f := range allFrames()[4:] {
		assert.True(t, IsAckEliciting(f), f.Type().String())
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		wire []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"unknown type", []byte{0x21}, ErrUnknownFrame},
		{"truncated ack", []byte{0x02, 0x05}, ErrTruncated},
		{"first range beyond largest", []byte{0x02, 0x01, 0x00, 0x00, 0x05}, ErrMalformed},
		{"ack range count too large", []byte{0x02, 0x05, 0x00, 0x3f, 0x00}, ErrTruncated},
		{"crypto data short", []byte{0x06, 0x00, 0x05, 'a'}, ErrTruncated},
		{"path challenge short", []byte{0x1a, 1, 2, 3}, ErrTruncated},
		{"connection id too long", append([]byte{0x18, 0x01, 0x00, 21}, make([]byte, 40)...), ErrMalformed},
		{"retire prior to beyond sequence", append([]byte{0x18, 0x01, 0x02, 4}, make([]byte, 20)...), ErrMalformed},
		{"non-minimal padding", []byte{0x40, 0x00}, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.wire)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func FuzzDecode(f *testing.F) {
	for _, fr := range allFrames() {
		f.Add(Encode(fr))
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		frames, err := DecodeAll(data)
		if err != nil {
			return
		}
		// Whatever decodes must re-encode to something that decodes the same.
		var again []byte
		for _, fr := range frames {
			again = fr.Append(again)
		}
		got, err := DecodeAll(again)
		if err != nil {
			t.Fatalf("re-decode: %v", err)
		}
		if diff := cmp.Diff(frames, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("re-decode mismatch:\n%s", diff)
		}
	})
}

func FuzzStructuredStream(f *testing.F) {
	f.Add([]byte("stream-seed-bytes-0123456789"))
	f.Fuzz(func(t *testing.T, data []byte) {
		var sf StreamFrame
		if err := fuzz.NewConsumer(data).GenerateStruct(&sf); err != nil {
			return
		}
		sf.StreamID &= MaxVarint
		sf.Offset &= MaxVarint
		sf.DataLenPresent = true
		got, rest, err := Decode(Encode(&sf))
		if err != nil || len(rest) != 0 {
			t.Fatalf("decode: %v (rest %d)", err, len(rest))
		}
		if diff := cmp.Diff(&sf, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("mismatch:\n%s", diff)
		}
	})
}

func TestFrameType_String(t *testing.T) {
	assert.Equal(t, "STREAM", FrameType(0x0b).String())
	assert.Equal(t, "HANDSHAKE_DONE", TypeHandshakeDone.String())
	assert.Equal(t, "UNKNOWN(0x21)", FrameType(0x21).String())
}
