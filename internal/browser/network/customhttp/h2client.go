// internal/browser/network/customhttp/h2client.go
package customhttp

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loupe/internal/browser/network"
	"github.com/xkilldash9x/loupe/internal/browser/network/h2frame"
	"github.com/xkilldash9x/loupe/internal/browser/network/hpack"
	"github.com/xkilldash9x/loupe/internal/observability"
)

const (
	// Receive windows advertised to the server during connection setup.
	TargetH2ConnWindowSize   = 8 << 20
	TargetH2StreamWindowSize = 4 << 20

	maxStreamID = 1<<31 - 1
)

// errStreamDone reports that a stream left the table while its body was
// still being sent; the stream's done channel holds the outcome.
var errStreamDone = errors.New("stream finished")

// StreamState is the RFC 9113 section 5.1 stream state.
type StreamState uint8

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
	StreamReservedLocal
	StreamReservedRemote
)

var streamStateNames = [...]string{
	"idle", "open", "half-closed (local)", "half-closed (remote)", "closed",
	"reserved (local)", "reserved (remote)",
}

func (s StreamState) String() string {
	if int(s) < len(streamStateNames) {
		return streamStateNames[s]
	}
	return "unknown"
}

// H2Client manages one HTTP/2 connection to an origin. Requests are
// multiplexed as concurrent streams; a background goroutine reads frames
// and another sends keepalive PINGs.
//
// Locking: wmu serializes frame writes and HPACK encoding, mu guards
// connection and stream state. wmu may be held while taking mu, never the
// reverse.
type H2Client struct {
	Conn   net.Conn
	Config *ClientConfig
	Origin *network.URL
	Logger *zap.Logger

	wmu     sync.Mutex
	framer  *h2frame.Framer
	encoder *hpack.Encoder
	// decoder is used only by the read loop.
	decoder *hpack.Decoder

	mu             sync.Mutex
	local          h2frame.Settings
	remote         h2frame.Settings
	streams        map[uint32]*h2Stream
	nextStreamID   uint32
	reserved       int // slots taken by Do calls that have not opened a stream yet
	slotCond       *sync.Cond
	connSendWindow int64
	connRecvWindow int64
	lastUsed       time.Time
	closed         bool
	goAway         *GoAwayError
	fatalError     error
	pingAcks       map[[8]byte]chan struct{}

	doneChan  chan struct{}
	loopWG    sync.WaitGroup
	closeOnce sync.Once
}

// h2Stream is one request/response exchange.
type h2Stream struct {
	id         uint32
	req        *http.Request
	state      StreamState
	sendWindow int64
	recvWindow int64
	sendCond   *sync.Cond

	status  int
	header  http.Header
	trailer http.Header
	body    bytes.Buffer

	// done receives exactly one value: nil once resp is set, or the failure.
	done chan error
	resp *http.Response
}

// NewH2Client wraps a connection that negotiated h2. Call Start before Do.
func NewH2Client(conn net.Conn, origin *network.URL, config *ClientConfig, logger *zap.Logger) *H2Client {
	if config == nil {
		config = NewBrowserClientConfig()
	}
	if logger == nil {
		logger = observability.GetLogger()
	}

	local := h2frame.DefaultSettings()
	local.EnablePush = false
	local.InitialWindowSize = TargetH2StreamWindowSize
	local.MaxHeaderListSize = config.H2Config.MaxHeaderListSize

	decoder := hpack.NewDecoder(local.HeaderTableSize)
	if local.MaxHeaderListSize > 0 {
		decoder.SetMaxStringLength(int(local.MaxHeaderListSize))
	}

	c := &H2Client{
		Conn:           conn,
		Config:         config,
		Origin:         origin,
		Logger:         logger.Named("h2client").With(zap.String("origin", origin.Origin())),
		framer:         h2frame.NewFramer(conn, conn),
		encoder:        hpack.NewEncoder(),
		decoder:        decoder,
		local:          local,
		remote:         h2frame.DefaultSettings(),
		streams:        make(map[uint32]*h2Stream),
		nextStreamID:   1,
		connSendWindow: h2frame.DefaultWindowSize,
		connRecvWindow: TargetH2ConnWindowSize,
		lastUsed:       time.Now(),
		pingAcks:       make(map[[8]byte]chan struct{}),
		doneChan:       make(chan struct{}),
	}
	c.slotCond = sync.NewCond(&c.mu)
	return c
}

// Start writes the connection preface, our SETTINGS and the connection
// window increase, then launches the read and ping loops.
func (c *H2Client) Start(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.Conn.SetWriteDeadline(deadline)
		defer c.Conn.SetWriteDeadline(time.Time{})
	}

	c.wmu.Lock()
	err := c.writePreface()
	c.wmu.Unlock()
	if err != nil {
		c.Conn.Close()
		return err
	}

	c.loopWG.Add(1)
	go c.readLoop()
	if c.Config.H2Config.PingInterval > 0 {
		c.loopWG.Add(1)
		go c.pingLoop()
	}
	c.Logger.Debug("H2 connection established", zap.Any("settings", c.local.Diff()))
	return nil
}

func (c *H2Client) writePreface() error {
	if _, err := io.WriteString(c.Conn, h2frame.Preface); err != nil {
		return fmt.Errorf("failed to write H2 preface: %w", err)
	}
	if err := c.framer.WriteSettings(c.local.Diff()...); err != nil {
		return fmt.Errorf("failed to write initial SETTINGS: %w", err)
	}
	if inc := uint32(TargetH2ConnWindowSize - h2frame.DefaultWindowSize); inc > 0 {
		if err := c.framer.WriteWindowUpdate(0, inc); err != nil {
			return fmt.Errorf("failed to write initial connection WINDOW_UPDATE: %w", err)
		}
	}
	return nil
}

func (c *H2Client) Protocol() string { return network.ProtoH2 }

// IsIdle reports whether the connection is closed, or has no streams and
// was last used longer than timeout ago.
func (c *H2Client) IsIdle(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if len(c.streams) > 0 || c.reserved > 0 {
		return false
	}
	return time.Since(c.lastUsed) > timeout
}

// Alive reports whether new streams can be opened.
func (c *H2Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usableLocked() == nil
}

func (c *H2Client) usableLocked() error {
	switch {
	case c.closed:
		if c.fatalError != nil {
			return fmt.Errorf("%w: %w", ErrConnClosed, c.fatalError)
		}
		return ErrConnClosed
	case c.goAway != nil:
		return fmt.Errorf("%w: %w", errUnprocessed, c.goAway)
	case c.nextStreamID > maxStreamID:
		return fmt.Errorf("%w: stream ids exhausted", errUnprocessed)
	}
	return nil
}

// Close sends GOAWAY, closes the connection and waits for the loops.
func (c *H2Client) Close() error {
	err := c.closeWithError(h2frame.ErrCodeNo, nil)
	c.loopWG.Wait()
	return err
}

// closeWithError tears the connection down once. Pending streams fail
// with err. It does not wait for the loops, so the loops may call it.
// The caller must not hold mu.
func (c *H2Client) closeWithError(code h2frame.ErrCode, err error) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.fatalError = err
		streamErr := ErrConnClosed
		if err != nil && !errors.Is(err, ErrConnClosed) {
			streamErr = fmt.Errorf("%w: %w", ErrConnClosed, err)
		} else if err != nil {
			streamErr = err
		}
		for _, s := range c.streams {
			c.removeStreamLocked(s, streamErr)
		}
		c.slotCond.Broadcast()
		c.mu.Unlock()

		// A writer blocked on a dead socket holds wmu; skip GOAWAY then.
		if c.wmu.TryLock() {
			_ = c.Conn.SetWriteDeadline(time.Now().Add(time.Second))
			// The server initiates no streams, so the last processed id is 0.
			if werr := c.framer.WriteGoAway(0, code, nil); werr != nil {
				c.Logger.Debug("GOAWAY not delivered", zap.Error(werr))
			}
			c.wmu.Unlock()
		}

		close(c.doneChan)
		closeErr = c.Conn.Close()
		c.Logger.Debug("H2 connection closed", zap.Stringer("code", code), zap.Error(err))
	})
	return closeErr
}

// -- Request Path --

// Do sends req on a new stream and waits for the complete response. It is
// safe for concurrent use.
func (c *H2Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	body, err := readRequestBody(req)
	if err != nil {
		return nil, err
	}
	fields := requestHeaderFields(c.Origin, req, body)

	if err := c.reserveSlot(ctx); err != nil {
		return nil, err
	}
	s, err := c.openStream(req, fields, len(body) == 0)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { c.cancelStream(s, ctx.Err()) })
	defer stop()

	if len(body) > 0 {
		if err := c.sendData(ctx, s, body); err != nil && !errors.Is(err, errStreamDone) {
			c.cancelStream(s, err)
			return nil, fmt.Errorf("failed to send H2 request body: %w", err)
		}
	}

	select {
	case err := <-s.done:
		if err != nil {
			return nil, err
		}
		return s.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func readRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	rc := req.Body
	if req.GetBody != nil {
		var err error
		if rc, err = req.GetBody(); err != nil {
			return nil, fmt.Errorf("failed to get request body: %w", err)
		}
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

// reserveSlot blocks until the server's MAX_CONCURRENT_STREAMS allows
// another stream.
func (c *H2Client) reserveSlot(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.slotCond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if err := c.usableLocked(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if uint64(len(c.streams)+c.reserved) < uint64(c.remote.MaxConcurrentStreams) {
			c.reserved++
			return nil
		}
		c.slotCond.Wait()
	}
}

// openStream allocates the next stream id and writes the header block.
// Ids reach the wire in allocation order because both happen under wmu.
func (c *H2Client) openStream(req *http.Request, fields []hpack.HeaderField, endStream bool) (*h2Stream, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.mu.Lock()
	c.reserved--
	if err := c.usableLocked(); err != nil {
		c.slotCond.Broadcast()
		c.mu.Unlock()
		return nil, err
	}
	if limit := c.remote.MaxHeaderListSize; limit > 0 && headerListSize(fields) > uint64(limit) {
		c.slotCond.Broadcast()
		c.mu.Unlock()
		return nil, fmt.Errorf("request header list exceeds the server limit of %d bytes", limit)
	}
	s := &h2Stream{
		id:         c.nextStreamID,
		req:        req,
		state:      StreamOpen,
		sendWindow: int64(c.remote.InitialWindowSize),
		recvWindow: int64(c.local.InitialWindowSize),
		header:     make(http.Header),
		done:       make(chan error, 1),
	}
	if endStream {
		s.state = StreamHalfClosedLocal
	}
	s.sendCond = sync.NewCond(&c.mu)
	c.nextStreamID += 2
	c.streams[s.id] = s
	c.lastUsed = time.Now()
	c.mu.Unlock()

	block := c.encoder.Encode(nil, fields)
	if err := c.writeHeaderBlock(s.id, block, endStream); err != nil {
		err = fmt.Errorf("failed to write HEADERS: %w", err)
		c.closeWithError(h2frame.ErrCodeInternal, err)
		return nil, err
	}
	return s, nil
}

// writeHeaderBlock emits HEADERS followed by as many CONTINUATION frames
// as the peer's frame size requires. Must be called with wmu held.
func (c *H2Client) writeHeaderBlock(streamID uint32, block []byte, endStream bool) error {
	limit := int(c.framer.MaxWriteFrameSize())
	first := block[:min(len(block), limit)]
	rest := block[len(first):]
	if err := c.framer.WriteHeaders(h2frame.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(rest) == 0,
	}); err != nil {
		return err
	}
	for len(rest) > 0 {
		frag := rest[:min(len(rest), limit)]
		rest = rest[len(frag):]
		if err := c.framer.WriteContinuation(streamID, len(rest) == 0, frag); err != nil {
			return err
		}
	}
	return nil
}

// connectionHeaders are forbidden in HTTP/2 (RFC 9113 section 8.2.2) or
// carried by pseudo-headers.
var connectionHeaders = map[string]bool{
	"connection":        true,
	"content-length":    true,
	"host":              true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// requestHeaderFields builds the pseudo-headers and regular fields shared
// by HTTP/2 and HTTP/3.
func requestHeaderFields(origin *network.URL, req *http.Request, body []byte) []hpack.HeaderField {
	authority := req.Host
	if authority == "" && req.URL != nil {
		authority = req.URL.Host
	}
	if authority == "" {
		authority = origin.Authority()
	}
	path := "/"
	if req.URL != nil {
		if p := req.URL.RequestURI(); p != "" {
			path = p
		}
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	fields := []hpack.HeaderField{
		{Name: ":method", Value: method},
		{Name: ":scheme", Value: origin.Scheme()},
		{Name: ":authority", Value: authority},
		{Name: ":path", Value: path},
	}
	if len(body) > 0 || method == http.MethodPost || method == http.MethodPut {
		fields = append(fields, hpack.HeaderField{Name: "content-length", Value: strconv.Itoa(len(body))})
	}

	for _, key := range slices.Sorted(maps.Keys(req.Header)) {
		name := strings.ToLower(key)
		if connectionHeaders[name] {
			continue
		}
		for _, v := range req.Header[key] {
			switch name {
			case "te":
				// Only "trailers" is allowed.
				if !strings.EqualFold(v, "trailers") {
					continue
				}
			case "cookie":
				// Crumbs compress better individually.
				for crumb := range strings.SplitSeq(v, ";") {
					if crumb = strings.TrimSpace(crumb); crumb != "" {
						fields = append(fields, hpack.HeaderField{Name: name, Value: crumb, Sensitive: len(crumb) < 20})
					}
				}
				continue
			}
			fields = append(fields, hpack.HeaderField{
				Name:      name,
				Value:     v,
				Sensitive: name == "authorization" || name == "proxy-authorization",
			})
		}
	}
	return fields
}

func headerListSize(fields []hpack.HeaderField) uint64 {
	var n uint64
	for _, f := range fields {
		n += uint64(len(f.Name) + len(f.Value) + 32)
	}
	return n
}

// sendData writes body as DATA frames within the connection and stream
// send windows.
func (c *H2Client) sendData(ctx context.Context, s *h2Stream, data []byte) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		s.sendCond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for len(data) > 0 {
		c.mu.Lock()
		for c.connSendWindow <= 0 || s.sendWindow <= 0 {
			if err := c.sendableLocked(ctx, s); err != nil {
				c.mu.Unlock()
				return err
			}
			s.sendCond.Wait()
		}
		if err := c.sendableLocked(ctx, s); err != nil {
			c.mu.Unlock()
			return err
		}
		n := int64(len(data))
		n = min(n, c.connSendWindow, s.sendWindow, int64(c.remote.MaxFrameSize))
		c.connSendWindow -= n
		s.sendWindow -= n
		c.mu.Unlock()

		chunk := data[:n]
		data = data[n:]
		if err := c.writeData(s.id, chunk, len(data) == 0); err != nil {
			err = fmt.Errorf("failed to write DATA: %w", err)
			c.closeWithError(h2frame.ErrCodeInternal, err)
			return err
		}
	}

	c.mu.Lock()
	switch s.state {
	case StreamOpen:
		s.state = StreamHalfClosedLocal
	case StreamHalfClosedRemote:
		s.state = StreamClosed
	}
	c.mu.Unlock()
	return nil
}

func (c *H2Client) sendableLocked(ctx context.Context, s *h2Stream) error {
	if c.closed {
		return ErrConnClosed
	}
	if c.streams[s.id] != s {
		return errStreamDone
	}
	return ctx.Err()
}

// writeData splits chunk further if the frame size shrank since it was sized.
func (c *H2Client) writeData(streamID uint32, chunk []byte, endStream bool) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	limit := int(c.framer.MaxWriteFrameSize())
	for len(chunk) > limit {
		if err := c.framer.WriteData(streamID, false, chunk[:limit]); err != nil {
			return err
		}
		chunk = chunk[limit:]
	}
	return c.framer.WriteData(streamID, endStream, chunk)
}

// cancelStream fails s with err and resets it if it is still open.
func (c *H2Client) cancelStream(s *h2Stream, err error) {
	c.mu.Lock()
	live := c.streams[s.id] == s
	if live {
		c.removeStreamLocked(s, err)
	}
	closed := c.closed
	c.mu.Unlock()
	if live && !closed {
		c.writeRSTStream(s.id, h2frame.ErrCodeCancel)
	}
}

func (c *H2Client) writeRSTStream(streamID uint32, code h2frame.ErrCode) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.framer.WriteRSTStream(streamID, code); err != nil {
		c.Logger.Debug("RST_STREAM not delivered", zap.Uint32("streamID", streamID), zap.Error(err))
	}
}

// removeStreamLocked delivers err (nil for success) and frees the slot.
func (c *H2Client) removeStreamLocked(s *h2Stream, err error) {
	s.state = StreamClosed
	delete(c.streams, s.id)
	s.done <- err
	s.sendCond.Broadcast()
	c.slotCond.Broadcast()
	c.lastUsed = time.Now()
}

// -- Background Loops --

// pingLoop sends PINGs to detect dead connections.
func (c *H2Client) pingLoop() {
	defer c.loopWG.Done()

	ticker := time.NewTicker(c.Config.H2Config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.doneChan:
			return
		case <-ticker.C:
		}
		ack, err := c.sendPing()
		if err != nil {
			c.Logger.Warn("Failed to send H2 PING", zap.Error(err))
			c.closeWithError(h2frame.ErrCodeInternal, fmt.Errorf("PING write: %w", err))
			return
		}
		timer := time.NewTimer(c.Config.H2Config.PingTimeout)
		select {
		case <-ack:
			timer.Stop()
			c.Logger.Debug("H2 PING ACK received")
		case <-timer.C:
			c.Logger.Error("H2 PING timeout, closing connection")
			c.closeWithError(h2frame.ErrCodeNo, fmt.Errorf("%w: PING timeout", network.ErrTimeout))
			return
		case <-c.doneChan:
			timer.Stop()
			return
		}
	}
}

func (c *H2Client) sendPing() (<-chan struct{}, error) {
	var payload [8]byte
	_, _ = rand.Read(payload[:])
	ack := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.pingAcks[payload] = ack
	c.mu.Unlock()

	c.wmu.Lock()
	err := c.framer.WritePing(false, payload)
	c.wmu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pingAcks, payload)
		c.mu.Unlock()
		return nil, err
	}
	return ack, nil
}

// headerBlock reassembles HEADERS and CONTINUATION fragments.
type headerBlock struct {
	streamID  uint32
	endStream bool
	buf       []byte
}

// readLoop processes incoming frames in order until the connection ends.
func (c *H2Client) readLoop() {
	defer c.loopWG.Done()

	readTimeout := c.Config.IdleConnTimeout
	if c.Config.H2Config.PingInterval > 0 || readTimeout <= 0 {
		readTimeout = 5 * time.Minute
	}

	var hb *headerBlock
	for {
		_ = c.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		frame, err := c.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, h2frame.ErrUnknownFrameType) && hb == nil {
				continue
			}
			c.handleReadError(err)
			return
		}

		hb, err = c.processFrame(frame, hb)
		if err != nil {
			code := h2frame.ErrCodeProtocol
			var ce connError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			c.Logger.Error("Connection error, closing", zap.Error(err))
			c.closeWithError(code, err)
			return
		}
		if c.drained() {
			c.closeWithError(h2frame.ErrCodeNo, c.goAway)
			return
		}
	}
}

func (c *H2Client) handleReadError(err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	switch {
	case errors.Is(err, io.EOF):
		c.closeWithError(h2frame.ErrCodeNo, fmt.Errorf("%w: server closed the connection", ErrConnClosed))
	case network.IsTimeout(err):
		c.Logger.Info("H2 connection read timeout reached, closing")
		c.closeWithError(h2frame.ErrCodeNo, fmt.Errorf("%w: read: %w", network.ErrTimeout, err))
	case errors.Is(err, h2frame.ErrFrameTooLarge):
		c.closeWithError(h2frame.ErrCodeFrameSize, err)
	case errors.Is(err, h2frame.ErrMalformed), errors.Is(err, h2frame.ErrUnknownFrameType):
		c.closeWithError(h2frame.ErrCodeProtocol, err)
	default:
		c.Logger.Error("Error reading frame, closing connection", zap.Error(err))
		c.closeWithError(h2frame.ErrCodeInternal, fmt.Errorf("frame read: %w", err))
	}
}

// drained reports whether a GOAWAY'd connection has finished its streams.
func (c *H2Client) drained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goAway != nil && !c.closed && len(c.streams) == 0
}

// processFrame dispatches one frame. A non-nil error is a connection error.
func (c *H2Client) processFrame(frame h2frame.Frame, hb *headerBlock) (*headerBlock, error) {
	if hb != nil {
		cf, ok := frame.(*h2frame.ContinuationFrame)
		if !ok || cf.StreamID != hb.streamID {
			return nil, connError{h2frame.ErrCodeProtocol, fmt.Sprintf("expected CONTINUATION for stream %d, got %s", hb.streamID, frame.Header())}
		}
		hb.buf = append(hb.buf, cf.BlockFragment...)
		if limit := c.local.MaxHeaderListSize; limit > 0 && len(hb.buf) > int(limit) {
			return nil, connError{h2frame.ErrCodeProtocol, "header block exceeds the advertised list size"}
		}
		if !cf.HeadersEnded() {
			return hb, nil
		}
		return nil, c.processHeaderBlock(hb)
	}

	switch f := frame.(type) {
	case *h2frame.HeadersFrame:
		block := &headerBlock{streamID: f.StreamID, endStream: f.StreamEnded(), buf: f.BlockFragment}
		if !f.HeadersEnded() {
			return block, nil
		}
		return nil, c.processHeaderBlock(block)
	case *h2frame.ContinuationFrame:
		return nil, connError{h2frame.ErrCodeProtocol, "CONTINUATION without HEADERS"}
	case *h2frame.DataFrame:
		return nil, c.processDataFrame(f)
	case *h2frame.RSTStreamFrame:
		c.processRSTStream(f)
		return nil, nil
	case *h2frame.SettingsFrame:
		return nil, c.processSettingsFrame(f)
	case *h2frame.PingFrame:
		return nil, c.processPingFrame(f)
	case *h2frame.GoAwayFrame:
		c.processGoAway(f)
		return nil, nil
	case *h2frame.WindowUpdateFrame:
		return nil, c.processWindowUpdateFrame(f)
	case *h2frame.PushPromiseFrame:
		return nil, connError{h2frame.ErrCodeProtocol, "PUSH_PROMISE with push disabled"}
	}
	// PRIORITY is advisory.
	return nil, nil
}

// processHeaderBlock decodes a complete block. The block is always decoded,
// even for a stream we no longer track, to keep the HPACK table in sync.
func (c *H2Client) processHeaderBlock(hb *headerBlock) error {
	fields, err := c.decoder.Decode(hb.buf)
	if err != nil {
		return connError{h2frame.ErrCodeCompression, err.Error()}
	}

	c.mu.Lock()
	s := c.streams[hb.streamID]
	if s == nil {
		next := c.nextStreamID
		c.mu.Unlock()
		if hb.streamID >= next {
			return connError{h2frame.ErrCodeProtocol, fmt.Sprintf("HEADERS on idle stream %d", hb.streamID)}
		}
		return nil
	}
	if limit := c.local.MaxHeaderListSize; limit > 0 && headerListSize(fields) > uint64(limit) {
		c.mu.Unlock()
		c.resetStream(s, &StreamError{StreamID: s.id, Code: h2frame.ErrCodeProtocol, Local: true})
		return nil
	}
	serr := c.applyHeadersLocked(s, fields, hb.endStream)
	c.mu.Unlock()
	if serr != nil {
		c.resetStream(s, serr)
	}
	return nil
}

// applyHeadersLocked records response headers or trailers. Interim 1xx
// responses are dropped.
func (c *H2Client) applyHeadersLocked(s *h2Stream, fields []hpack.HeaderField, endStream bool) error {
	protocolErr := &StreamError{StreamID: s.id, Code: h2frame.ErrCodeProtocol, Local: true}
	if s.state == StreamHalfClosedRemote || s.state == StreamClosed {
		return &StreamError{StreamID: s.id, Code: h2frame.ErrCodeStreamClosed, Local: true}
	}

	if s.status != 0 {
		// Trailers end the stream and carry no pseudo-headers.
		if !endStream {
			return protocolErr
		}
		s.trailer = make(http.Header)
		for _, f := range fields {
			if strings.HasPrefix(f.Name, ":") {
				return protocolErr
			}
			s.trailer.Add(http.CanonicalHeaderKey(f.Name), f.Value)
		}
		c.endRemoteLocked(s)
		return nil
	}

	status := 0
	header := make(http.Header)
	regular := false
	for _, f := range fields {
		if !strings.HasPrefix(f.Name, ":") {
			regular = true
			header.Add(http.CanonicalHeaderKey(f.Name), f.Value)
			continue
		}
		if regular || f.Name != ":status" || status != 0 {
			return protocolErr
		}
		v, err := strconv.Atoi(f.Value)
		if err != nil || v < 100 || v > 999 {
			return protocolErr
		}
		status = v
	}
	if status == 0 {
		return protocolErr
	}
	if status < 200 {
		if status == http.StatusSwitchingProtocols || endStream {
			return protocolErr
		}
		return nil
	}
	s.status = status
	s.header = header
	if endStream {
		c.endRemoteLocked(s)
	}
	return nil
}

// processDataFrame charges the frame against both receive windows and
// replenishes them once half is consumed.
func (c *H2Client) processDataFrame(f *h2frame.DataFrame) error {
	n := int64(f.Length)

	c.mu.Lock()
	if c.connRecvWindow < n {
		c.mu.Unlock()
		return connError{h2frame.ErrCodeFlowControl, "connection receive window exceeded"}
	}
	c.connRecvWindow -= n
	connInc := replenish(&c.connRecvWindow, TargetH2ConnWindowSize)

	s := c.streams[f.StreamID]
	var serr error
	var streamInc uint32
	switch {
	case s == nil:
		if f.StreamID >= c.nextStreamID {
			c.mu.Unlock()
			return connError{h2frame.ErrCodeProtocol, fmt.Sprintf("DATA on idle stream %d", f.StreamID)}
		}
	case s.state == StreamHalfClosedRemote || s.state == StreamClosed:
		serr = &StreamError{StreamID: s.id, Code: h2frame.ErrCodeStreamClosed, Local: true}
	case s.status == 0:
		serr = &StreamError{StreamID: s.id, Code: h2frame.ErrCodeProtocol, Local: true}
	case s.recvWindow < n:
		serr = &StreamError{StreamID: s.id, Code: h2frame.ErrCodeFlowControl, Local: true}
	case s.body.Len()+len(f.Data) > network.MaxResponseBodyBytes:
		serr = fmt.Errorf("%w: response body exceeds %d bytes",
			&StreamError{StreamID: s.id, Code: h2frame.ErrCodeCancel, Local: true}, network.MaxResponseBodyBytes)
	default:
		s.recvWindow -= n
		s.body.Write(f.Data)
		if f.StreamEnded() {
			c.endRemoteLocked(s)
		} else {
			streamInc = replenish(&s.recvWindow, int64(c.local.InitialWindowSize))
		}
	}
	c.mu.Unlock()

	if connInc > 0 || streamInc > 0 {
		c.wmu.Lock()
		if connInc > 0 {
			_ = c.framer.WriteWindowUpdate(0, connInc)
		}
		if streamInc > 0 {
			_ = c.framer.WriteWindowUpdate(f.StreamID, streamInc)
		}
		c.wmu.Unlock()
	}
	if serr != nil {
		c.resetStream(s, serr)
	}
	return nil
}

// replenish tops window back up to target once it drops to half, and
// returns the increment to advertise.
func replenish(window *int64, target int64) uint32 {
	if *window > target/2 {
		return 0
	}
	inc := target - *window
	*window = target
	return uint32(inc)
}

// endRemoteLocked handles END_STREAM from the server. The response is
// complete even if our body is still being sent.
func (c *H2Client) endRemoteLocked(s *h2Stream) {
	if s.state == StreamOpen {
		s.state = StreamHalfClosedRemote
	}
	resp, err := c.buildResponse(s)
	if err != nil {
		c.removeStreamLocked(s, err)
		return
	}
	s.resp = resp
	c.removeStreamLocked(s, nil)
}

func (c *H2Client) buildResponse(s *h2Stream) (*http.Response, error) {
	body := s.body.Bytes()
	resp := &http.Response{
		Status:     fmt.Sprintf("%d %s", s.status, http.StatusText(s.status)),
		StatusCode: s.status,
		Proto:      "HTTP/2.0",
		ProtoMajor: 2,
		Header:     s.header,
		Trailer:    s.trailer,
		Request:    s.req,
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n != int64(len(body)) && s.req.Method != http.MethodHead {
			c.Logger.Warn("Content-Length mismatch", zap.Int64("header", n), zap.Int("actual", len(body)))
		}
	}
	if ce := resp.Header.Get("Content-Encoding"); ce != "" && len(body) > 0 {
		decoded, err := network.DecompressBody(ce, body)
		if err != nil {
			return nil, fmt.Errorf("stream %d: %w", s.id, err)
		}
		body = decoded
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.Uncompressed = true
	}
	resp.ContentLength = int64(len(body))
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// resetStream fails s with err and sends RST_STREAM for local errors.
func (c *H2Client) resetStream(s *h2Stream, err error) {
	c.mu.Lock()
	live := c.streams[s.id] == s
	if live {
		c.removeStreamLocked(s, err)
	}
	c.mu.Unlock()

	code := h2frame.ErrCodeInternal
	var se *StreamError
	if errors.As(err, &se) {
		code = se.Code
	}
	c.Logger.Debug("Resetting stream", zap.Uint32("streamID", s.id), zap.Error(err))
	c.writeRSTStream(s.id, code)
}

func (c *H2Client) processRSTStream(f *h2frame.RSTStreamFrame) {
	err := &StreamError{StreamID: f.StreamID, Code: f.ErrCode}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.streams[f.StreamID]
	if s == nil {
		return
	}
	if f.ErrCode == h2frame.ErrCodeRefusedStream {
		// REFUSED_STREAM guarantees the request was not processed.
		c.removeStreamLocked(s, fmt.Errorf("%w: %w", errUnprocessed, err))
		return
	}
	c.removeStreamLocked(s, err)
}

// processSettingsFrame applies the server's SETTINGS and acknowledges them.
func (c *H2Client) processSettingsFrame(f *h2frame.SettingsFrame) error {
	if f.IsAck() {
		return nil
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.mu.Lock()
	oldWindow := int64(c.remote.InitialWindowSize)
	oldTable := c.remote.HeaderTableSize
	for _, st := range f.Settings {
		if err := c.remote.Apply(st); err != nil {
			c.mu.Unlock()
			code := h2frame.ErrCodeProtocol
			if st.ID == h2frame.SettingInitialWindowSize {
				code = h2frame.ErrCodeFlowControl
			}
			return connError{code, err.Error()}
		}
	}
	// RFC 9113 section 6.9.2: the delta applies to every open stream.
	if delta := int64(c.remote.InitialWindowSize) - oldWindow; delta != 0 {
		for _, s := range c.streams {
			s.sendWindow += delta
			if s.sendWindow > h2frame.MaxWindowSize {
				c.mu.Unlock()
				return connError{h2frame.ErrCodeFlowControl, "stream send window overflow"}
			}
			s.sendCond.Broadcast()
		}
	}
	c.slotCond.Broadcast()
	remote := c.remote
	c.mu.Unlock()

	c.framer.SetMaxWriteFrameSize(remote.MaxFrameSize)
	if remote.HeaderTableSize != oldTable {
		c.encoder.SetMaxDynamicTableSize(min(remote.HeaderTableSize, hpack.DefaultTableSize))
	}
	if err := c.framer.WriteSettingsAck(); err != nil {
		return fmt.Errorf("failed to write SETTINGS ACK: %w", err)
	}
	return nil
}

func (c *H2Client) processPingFrame(f *h2frame.PingFrame) error {
	if f.IsAck() {
		c.mu.Lock()
		if ack, ok := c.pingAcks[f.Data]; ok {
			close(ack)
			delete(c.pingAcks, f.Data)
		}
		c.mu.Unlock()
		return nil
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.framer.WritePing(true, f.Data); err != nil {
		return fmt.Errorf("failed to write PING ACK: %w", err)
	}
	return nil
}

// processGoAway stops new streams and fails those the server never saw.
// Streams at or below LastStreamID may still complete.
func (c *H2Client) processGoAway(f *h2frame.GoAwayFrame) {
	gerr := &GoAwayError{LastStreamID: f.LastStreamID, Code: f.ErrCode, Debug: string(f.DebugData)}
	c.Logger.Info("Received GOAWAY", zap.Uint32("lastStreamID", f.LastStreamID), zap.Stringer("code", f.ErrCode))

	c.mu.Lock()
	c.goAway = gerr
	for id, s := range c.streams {
		if id > f.LastStreamID {
			c.removeStreamLocked(s, fmt.Errorf("%w: %w", errUnprocessed, gerr))
		}
	}
	c.slotCond.Broadcast()
	c.mu.Unlock()

	if f.ErrCode != h2frame.ErrCodeNo {
		c.closeWithError(h2frame.ErrCodeNo, gerr)
	}
}

func (c *H2Client) processWindowUpdateFrame(f *h2frame.WindowUpdateFrame) error {
	inc := int64(f.Increment)

	c.mu.Lock()
	if f.StreamID == 0 {
		if inc == 0 {
			c.mu.Unlock()
			return connError{h2frame.ErrCodeProtocol, "zero connection WINDOW_UPDATE"}
		}
		c.connSendWindow += inc
		if c.connSendWindow > h2frame.MaxWindowSize {
			c.mu.Unlock()
			return connError{h2frame.ErrCodeFlowControl, "connection send window overflow"}
		}
		for _, s := range c.streams {
			s.sendCond.Broadcast()
		}
		c.mu.Unlock()
		return nil
	}

	s := c.streams[f.StreamID]
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	var serr error
	if inc == 0 {
		serr = &StreamError{StreamID: s.id, Code: h2frame.ErrCodeProtocol, Local: true}
	} else if s.sendWindow += inc; s.sendWindow > h2frame.MaxWindowSize {
		serr = &StreamError{StreamID: s.id, Code: h2frame.ErrCodeFlowControl, Local: true}
	}
	s.sendCond.Broadcast()
	c.mu.Unlock()

	if serr != nil {
		c.resetStream(s, serr)
	}
	return nil
}
