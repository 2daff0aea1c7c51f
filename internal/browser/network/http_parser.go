// internal/browser/network/http_parser.go
package network

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// ErrMalformedResponse reports an HTTP/1.x response that could not be parsed.
var ErrMalformedResponse = errors.New("network: malformed http response")

// MaxResponseBodyBytes bounds a buffered response body.
const MaxResponseBodyBytes = 32 << 20

// HTTPParser reads HTTP/1.x responses off a connection and buffers their
// decoded bodies so the reader is positioned at the next response.
type HTTPParser struct {
	logger  *zap.Logger
	maxBody int64
}

func NewHTTPParser(logger *zap.Logger) *HTTPParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPParser{
		logger:  logger.Named("http_parser"),
		maxBody: MaxResponseBodyBytes,
	}
}

// ReadResponse parses one response to req from br. The returned body is
// fully buffered and already content-decoded.
func (p *HTTPParser) ReadResponse(br *bufio.Reader, req *http.Request) (*http.Response, error) {
	// A close before any status byte is a clean EOF, not a malformed response.
	if _, err := br.Peek(1); err != nil {
		return nil, err
	}
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		if errors.Is(err, io.EOF) || IsTimeout(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	// Decoders wrap the framed body so the wire read stops at the message boundary.
	if err := DecompressResponse(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize decompression: %w", err)
	}

	var body []byte
	if resp.Body != nil {
		body, err = io.ReadAll(io.LimitReader(resp.Body, p.maxBody+1))
		resp.Body.Close()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: truncated body: %w", ErrMalformedResponse, err)
			}
			return nil, fmt.Errorf("read body: %w", err)
		}
		if int64(len(body)) > p.maxBody {
			return nil, fmt.Errorf("response body exceeded limit (%d bytes)", p.maxBody)
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

// ParsePipelinedResponses reads one response per request, in order. It
// stops early when a response closes the connection or the peer hits EOF
// after at least one response.
func (p *HTTPParser) ParsePipelinedResponses(conn io.Reader, reqs []*http.Request) ([]*http.Response, error) {
	br := bufio.NewReader(conn)
	var responses []*http.Response
	for i, req := range reqs {
		resp, err := p.ReadResponse(br, req)
		if err != nil {
			if errors.Is(err, io.EOF) && len(responses) > 0 {
				break
			}
			p.logger.Error("Failed to parse pipelined response", zap.Int("response_index", i), zap.Error(err))
			return responses, err
		}
		responses = append(responses, resp)
		if resp.Close {
			break
		}
	}
	return responses, nil
}
