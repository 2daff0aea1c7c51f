// internal/browser/network/customhttp/errors.go
package customhttp

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/loupe/internal/browser/network"
	"github.com/xkilldash9x/loupe/internal/browser/network/h2frame"
)

var (
	ErrMalformedResponse = network.ErrMalformedResponse
	ErrGoAway            = errors.New("customhttp: connection closed by GOAWAY")
	ErrStreamReset       = errors.New("customhttp: stream reset")
	ErrConnClosed        = errors.New("customhttp: connection closed")
	ErrTooManyRedirects  = errors.New("customhttp: too many redirects")
	ErrHTTP3Unavailable  = errors.New("customhttp: http/3 transport unavailable")

	// ErrCredentialsNotFound is returned by a CredentialsProvider with nothing for the realm.
	ErrCredentialsNotFound = errors.New("credentials not found")

	// errUnprocessed marks failures where the peer provably never handled
	// the request, so it can be replayed on a new connection.
	errUnprocessed = errors.New("request not processed")
)

// StreamError is an RST_STREAM from the server, or a stream-level protocol
// violation detected locally.
type StreamError struct {
	StreamID uint32
	Code     h2frame.ErrCode
	Local    bool
}

func (e *StreamError) Error() string {
	who := "server"
	if e.Local {
		who = "client"
	}
	return fmt.Sprintf("stream %d reset by %s: %s", e.StreamID, who, e.Code)
}

func (e *StreamError) Is(target error) bool { return target == ErrStreamReset }

// GoAwayError carries the server's GOAWAY. Streams above LastStreamID were
// not processed.
type GoAwayError struct {
	LastStreamID uint32
	Code         h2frame.ErrCode
	Debug        string
}

func (e *GoAwayError) Error() string {
	if e.Debug != "" {
		return fmt.Sprintf("GOAWAY (last stream %d): %s: %q", e.LastStreamID, e.Code, e.Debug)
	}
	return fmt.Sprintf("GOAWAY (last stream %d): %s", e.LastStreamID, e.Code)
}

func (e *GoAwayError) Is(target error) bool { return target == ErrGoAway }

// connError is a connection-level protocol error; the connection is torn
// down with GOAWAY carrying Code.
type connError struct {
	Code   h2frame.ErrCode
	Reason string
}

func (e connError) Error() string {
	return fmt.Sprintf("connection error %s: %s", e.Code, e.Reason)
}
