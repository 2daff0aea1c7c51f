// internal/browser/network/customhttp/h3.go
package customhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loupe/internal/browser/network"
	"github.com/xkilldash9x/loupe/internal/browser/network/qpack"
	"github.com/xkilldash9x/loupe/internal/browser/network/quic"
)

// HTTP/3 frame types on a request stream (RFC 9114 section 7.2).
const (
	H3FrameData    uint64 = 0x00
	H3FrameHeaders uint64 = 0x01
)

var ErrH3Truncated = errors.New("customhttp: truncated HTTP/3 frame")

// H3Frame is one HTTP/3 frame.
type H3Frame struct {
	Type    uint64
	Payload []byte
}

// AppendH3Frame appends the type, length and payload of one frame.
func AppendH3Frame(b []byte, typ uint64, payload []byte) []byte {
	b = quic.AppendVarint(b, typ)
	b = quic.AppendVarint(b, uint64(len(payload)))
	return append(b, payload...)
}

// ParseH3Frames splits a request stream payload into frames.
func ParseH3Frames(b []byte) ([]H3Frame, error) {
	var frames []H3Frame
	for len(b) > 0 {
		typ, rest, err := quic.ReadVarint(b)
		if err != nil {
			return frames, ErrH3Truncated
		}
		n, rest, err := quic.ReadVarint(rest)
		if err != nil || n > uint64(len(rest)) {
			return frames, ErrH3Truncated
		}
		frames = append(frames, H3Frame{Type: typ, Payload: rest[:n:n]})
		b = rest[n:]
	}
	return frames, nil
}

// EncodeH3Request frames req as HEADERS and optional DATA on the client
// bidirectional stream streamID, carried by one QUIC STREAM frame with FIN.
func EncodeH3Request(enc *qpack.Encoder, streamID uint64, origin *network.URL, req *http.Request) (*quic.StreamFrame, error) {
	body, err := readRequestBody(req)
	if err != nil {
		return nil, err
	}
	section := enc.Encode(nil, requestHeaderFields(origin, req, body))
	payload := AppendH3Frame(nil, H3FrameHeaders, section)
	if len(body) > 0 {
		payload = AppendH3Frame(payload, H3FrameData, body)
	}
	return &quic.StreamFrame{StreamID: streamID, Data: payload, Fin: true, DataLenPresent: true}, nil
}

// H3Dialer carries requests to an HTTP/3 alternative service.
type H3Dialer interface {
	RoundTrip(ctx context.Context, alt AltSvc, origin *network.URL, req *http.Request) (*http.Response, error)
}

// StubH3Dialer frames each request exactly as it would go on the wire but
// has no UDP transport, so every attempt ends in ErrHTTP3Unavailable and
// the client falls back to TCP.
type StubH3Dialer struct {
	logger  *zap.Logger
	mu      sync.Mutex
	encoder *qpack.Encoder
	// nextStreamID advances by 4 per request, like client bidirectional ids.
	nextStreamID uint64
	last         []byte
}

func NewStubH3Dialer(logger *zap.Logger) *StubH3Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubH3Dialer{logger: logger.Named("h3"), encoder: qpack.NewEncoder()}
}

func (d *StubH3Dialer) RoundTrip(ctx context.Context, alt AltSvc, origin *network.URL, req *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	frame, err := EncodeH3Request(d.encoder, d.nextStreamID, origin, req)
	if err == nil {
		d.nextStreamID += 4
		d.last = quic.Encode(frame)
	}
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	host := alt.Host
	if host == "" {
		host = origin.Host
	}
	d.logger.Debug("HTTP/3 request framed without a transport",
		zap.String("alt", fmt.Sprintf("%s:%d", host, alt.Port)),
		zap.Uint64("streamID", frame.StreamID),
		zap.Int("bytes", len(frame.Data)))
	return nil, fmt.Errorf("%w: %s:%d", ErrHTTP3Unavailable, host, alt.Port)
}

// LastPacketPayload returns the encoded STREAM frame of the latest attempt.
func (d *StubH3Dialer) LastPacketPayload() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
