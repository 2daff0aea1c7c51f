// internal/browser/network/customhttp/h1client.go
package customhttp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loupe/internal/browser/network"
	"github.com/xkilldash9x/loupe/internal/observability"
)

// H1Client owns one persistent HTTP/1.1 connection. Requests are
// serialized; the connection is reused until either side asks to close it.
type H1Client struct {
	Conn      net.Conn
	Config    *ClientConfig
	Origin    *network.URL
	Logger    *zap.Logger
	parser    *network.HTTPParser
	bufReader *bufio.Reader

	mu          sync.Mutex // Protects connection state and serializes access.
	isConnected bool
	served      int
	lastUsed    time.Time
}

// NewH1Client wraps an established connection to origin.
func NewH1Client(conn net.Conn, origin *network.URL, config *ClientConfig, logger *zap.Logger) *H1Client {
	if config == nil {
		config = NewBrowserClientConfig()
	}
	if logger == nil {
		logger = observability.GetLogger()
	}
	return &H1Client{
		Conn:        conn,
		Config:      config,
		Origin:      origin,
		Logger:      logger.Named("h1client").With(zap.String("origin", origin.Origin())),
		parser:      network.NewHTTPParser(logger),
		bufReader:   bufio.NewReader(conn),
		isConnected: true,
		lastUsed:    time.Now(),
	}
}

func (c *H1Client) Protocol() string { return network.ProtoHTTP1 }

func (c *H1Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeInternal()
}

func (c *H1Client) closeInternal() error {
	if c.isConnected && c.Conn != nil {
		c.Logger.Debug("Closing H1 connection")
		c.isConnected = false
		return c.Conn.Close()
	}
	return nil
}

// IsIdle reports whether the connection is closed or unused for longer than timeout.
func (c *H1Client) IsIdle(timeout time.Duration) bool {
	if !c.mu.TryLock() {
		// A request is in flight.
		return false
	}
	defer c.mu.Unlock()
	if !c.isConnected {
		return true
	}
	return time.Since(c.lastUsed) > timeout
}

// Alive reports whether the connection can carry another request.
func (c *H1Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected
}

// Do sends req and reads its response. The returned body is buffered and
// content-decoded.
func (c *H1Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return nil, fmt.Errorf("%w: %w", errUnprocessed, ErrConnClosed)
	}
	c.lastUsed = time.Now()
	reused := c.served > 0

	deadline := time.Now().Add(c.Config.RequestTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && (c.Config.RequestTimeout <= 0 || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	} else if c.Config.RequestTimeout <= 0 {
		deadline = time.Time{}
	}
	if err := c.Conn.SetDeadline(deadline); err != nil {
		c.closeInternal()
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	// Cancellation unblocks the socket.
	stop := context.AfterFunc(ctx, func() { _ = c.Conn.SetDeadline(time.Now()) })
	defer stop()

	reqBytes, err := SerializeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	if _, err := c.Conn.Write(reqBytes); err != nil {
		c.closeInternal()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if reused {
			return nil, fmt.Errorf("%w: write on reused connection: %w", errUnprocessed, err)
		}
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	resp, err := c.parser.ReadResponse(c.bufReader, req)
	if err != nil {
		c.closeInternal()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case reused && errors.Is(err, io.EOF):
			// The server closed the idle connection before reading our request.
			return nil, fmt.Errorf("%w: %w", errUnprocessed, err)
		case network.IsTimeout(err):
			return nil, fmt.Errorf("%w: %w", network.ErrTimeout, err)
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.Close {
		c.closeInternal()
	}
	c.served++
	c.lastUsed = time.Now()
	return resp, nil
}

// SendRaw writes pre-serialized requests for manual pipelining.
func (c *H1Client) SendRaw(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return ErrConnClosed
	}
	c.lastUsed = time.Now()

	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Config.RequestTimeout)); err != nil {
		c.closeInternal()
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Conn.SetWriteDeadline(time.Now()) })
	defer stop()

	if _, err := c.Conn.Write(data); err != nil {
		c.closeInternal()
		return fmt.Errorf("failed to write raw data: %w", err)
	}
	c.lastUsed = time.Now()
	return nil
}

// ReadPipelinedResponses reads one response per request sent with SendRaw.
func (c *H1Client) ReadPipelinedResponses(ctx context.Context, reqs []*http.Request) ([]*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return nil, ErrConnClosed
	}
	c.lastUsed = time.Now()

	readDeadline := time.Now().Add(c.Config.RequestTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(readDeadline) {
		readDeadline = ctxDeadline
	}
	if err := c.Conn.SetReadDeadline(readDeadline); err != nil {
		c.closeInternal()
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	responses, err := c.parser.ParsePipelinedResponses(c.bufReader, reqs)
	if err != nil {
		c.closeInternal()
		return responses, fmt.Errorf("failed to parse pipelined responses: %w", err)
	}
	if len(responses) > 0 && responses[len(responses)-1].Close {
		c.closeInternal()
	}
	c.served += len(responses)
	c.lastUsed = time.Now()
	return responses, nil
}

// SerializeRequest renders req in HTTP/1.1 wire format with a fixed
// Content-Length and keep-alive unless the caller asked for close.
func SerializeRequest(req *http.Request) ([]byte, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("request or URL is nil")
	}

	reqClone := req.Clone(req.Context())
	if reqClone.Host == "" {
		reqClone.Host = reqClone.URL.Host
	}

	if reqClone.Body != nil && reqClone.Body != http.NoBody {
		if reqClone.GetBody != nil {
			var err error
			if reqClone.Body, err = reqClone.GetBody(); err != nil {
				return nil, fmt.Errorf("failed to get request body: %w", err)
			}
		}
		bodyBytes, err := io.ReadAll(reqClone.Body)
		reqClone.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		reqClone.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		reqClone.ContentLength = int64(len(bodyBytes))
	}

	if reqClone.Header == nil {
		reqClone.Header = make(http.Header)
	}
	// Interim 100 responses are not handled.
	if strings.EqualFold(reqClone.Header.Get("Expect"), "100-continue") {
		reqClone.Header.Del("Expect")
	}
	if reqClone.Header.Get("Connection") == "" {
		reqClone.Header.Set("Connection", "keep-alive")
	}

	buf := new(bytes.Buffer)
	if err := reqClone.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}
	return buf.Bytes(), nil
}
