package customhttp

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/http2"
	xhpack "golang.org/x/net/http2/hpack"
)

// -- HTTP Mock Servers --

// MockServerHandler is a configurable http.Handler for client tests.
type MockServerHandler struct {
	StatusCode   int
	Headers      map[string]string
	Body         []byte
	Redirects    int
	RedirectURL  string
	Delay        time.Duration
	AuthRequired bool
	AuthUser     string
	AuthPass     string

	mu       sync.Mutex
	requests []*http.Request
}

func (h *MockServerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.requests = append(h.requests, r)
	redirect := h.Redirects > 0 || (h.RedirectURL != "" && h.StatusCode >= 300 && h.StatusCode < 400)
	if h.Redirects > 0 {
		h.Redirects--
	}
	location := h.RedirectURL
	h.mu.Unlock()

	if h.Delay > 0 {
		time.Sleep(h.Delay)
	}

	if h.AuthRequired {
		user, pass, ok := r.BasicAuth()
		if !ok || user != h.AuthUser || pass != h.AuthPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	if redirect {
		w.Header().Set("Location", location)
		w.WriteHeader(h.StatusCode)
		return
	}

	for key, value := range h.Headers {
		w.Header().Set(key, value)
	}
	status := h.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if h.Body != nil {
		w.Write(h.Body)
	}
}

// RequestCount returns how many requests reached the handler.
func (h *MockServerHandler) RequestCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}

func NewMockServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// NewMockTLSServer starts a TLS server that offers h2 and http/1.1.
func NewMockTLSServer(handler http.Handler) *httptest.Server {
	server := httptest.NewUnstartedServer(handler)
	server.EnableHTTP2 = true
	server.StartTLS()
	return server
}

// NewMockH1TLSServer starts a TLS server that only speaks http/1.1.
func NewMockH1TLSServer(handler http.Handler) *httptest.Server {
	server := httptest.NewUnstartedServer(handler)
	server.EnableHTTP2 = false
	server.StartTLS()
	return server
}

// tlsTestConfig trusts httptest certificates.
func tlsTestConfig() *ClientConfig {
	config := NewBrowserClientConfig()
	config.DialerConfig.TLSConfig.InsecureSkipVerify = true
	config.H2Config.PingInterval = 0
	return config
}

// -- Raw HTTP/2 Peer --

// rxFrame is a copy of a frame the client sent, safe to keep after the
// framer reads the next one.
type rxFrame struct {
	Type      http2.FrameType
	StreamID  uint32
	EndStream bool
	Ack       bool
	Data      []byte
	Fields    []xhpack.HeaderField
	ErrCode   http2.ErrCode
	Increment uint32
	Settings  []http2.Setting
	Ping      [8]byte
}

// h2Peer plays the server side of an HTTP/2 connection over net.Pipe
// using the x/net framer, so frames cross between two independent codecs.
type h2Peer struct {
	t      *testing.T
	conn   net.Conn
	framer *http2.Framer

	wmu    sync.Mutex
	emu    sync.Mutex
	encBuf bytes.Buffer
	enc    *xhpack.Encoder

	frames chan rxFrame
	done   chan struct{}
}

// newH2Peer returns a started client wired to a peer that has consumed
// the preface and the client's initial SETTINGS and WINDOW_UPDATE.
func newH2Peer(t *testing.T, config *ClientConfig, serverSettings ...http2.Setting) (*H2Client, *h2Peer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	p := &h2Peer{
		t:      t,
		conn:   serverConn,
		framer: http2.NewFramer(serverConn, serverConn),
		frames: make(chan rxFrame, 128),
		done:   make(chan struct{}),
	}
	p.enc = xhpack.NewEncoder(&p.encBuf)
	p.framer.ReadMetaHeaders = xhpack.NewDecoder(4096, nil)
	p.framer.MaxHeaderListSize = 1 << 20

	if config == nil {
		config = NewBrowserClientConfig()
		config.H2Config.PingInterval = 0
	}
	origin := mustURL(t, "https://example.com")
	client := NewH2Client(clientConn, origin, config, zapTestLogger(t))

	prefaceDone := make(chan error, 1)
	go func() {
		buf := make([]byte, len(http2.ClientPreface))
		_, err := io.ReadFull(serverConn, buf)
		prefaceDone <- err
		if err != nil {
			return
		}
		p.readLoop()
	}()

	startErr := make(chan error, 1)
	go func() { startErr <- client.Start(t.Context()) }()

	if err := <-prefaceDone; err != nil {
		t.Fatalf("reading preface: %v", err)
	}
	if err := <-startErr; err != nil {
		t.Fatalf("Start: %v", err)
	}
	settings := p.expect(http2.FrameSettings)
	if settings.Ack {
		t.Fatalf("first frame was a SETTINGS ACK")
	}
	p.expect(http2.FrameWindowUpdate)

	p.write(func(fr *http2.Framer) error { return fr.WriteSettings(serverSettings...) })
	p.expect(http2.FrameSettings) // ACK
	return client, p
}

func (p *h2Peer) readLoop() {
	defer close(p.done)
	defer close(p.frames)
	for {
		frame, err := p.framer.ReadFrame()
		if err != nil {
			return
		}
		rx := rxFrame{Type: frame.Header().Type, StreamID: frame.Header().StreamID}
		switch f := frame.(type) {
		case *http2.MetaHeadersFrame:
			rx.EndStream = f.StreamEnded()
			rx.Fields = append(rx.Fields, f.Fields...)
		case *http2.DataFrame:
			rx.EndStream = f.StreamEnded()
			rx.Data = append([]byte(nil), f.Data()...)
		case *http2.SettingsFrame:
			rx.Ack = f.IsAck()
			_ = f.ForeachSetting(func(s http2.Setting) error {
				rx.Settings = append(rx.Settings, s)
				return nil
			})
		case *http2.RSTStreamFrame:
			rx.ErrCode = f.ErrCode
		case *http2.GoAwayFrame:
			rx.ErrCode = f.ErrCode
		case *http2.WindowUpdateFrame:
			rx.Increment = f.Increment
		case *http2.PingFrame:
			rx.Ack = f.IsAck()
			rx.Ping = f.Data
		}
		p.frames <- rx
	}
}

// next returns the next frame the client sent, skipping WINDOW_UPDATE.
func (p *h2Peer) next() rxFrame {
	p.t.Helper()
	for {
		select {
		case f, ok := <-p.frames:
			if !ok {
				p.t.Fatalf("connection closed while waiting for a frame")
			}
			if f.Type == http2.FrameWindowUpdate {
				continue
			}
			return f
		case <-time.After(5 * time.Second):
			p.t.Fatalf("timed out waiting for a frame")
		}
	}
}

func (p *h2Peer) expect(typ http2.FrameType) rxFrame {
	p.t.Helper()
	select {
	case f, ok := <-p.frames:
		if !ok {
			p.t.Fatalf("connection closed while waiting for %v", typ)
		}
		if f.Type != typ {
			p.t.Fatalf("got %v frame, want %v", f.Type, typ)
		}
		return f
	case <-time.After(5 * time.Second):
		p.t.Fatalf("timed out waiting for %v", typ)
	}
	return rxFrame{}
}

func (p *h2Peer) write(fn func(fr *http2.Framer) error) {
	p.t.Helper()
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := fn(p.framer); err != nil {
		p.t.Errorf("peer write: %v", err)
	}
}

// encode returns an HPACK block for the given name/value pairs.
// It may be called from inside a write callback.
func (p *h2Peer) encode(kv ...string) []byte {
	p.emu.Lock()
	defer p.emu.Unlock()
	p.encBuf.Reset()
	for i := 0; i+1 < len(kv); i += 2 {
		p.enc.WriteField(xhpack.HeaderField{Name: kv[i], Value: kv[i+1]})
	}
	return append([]byte(nil), p.encBuf.Bytes()...)
}

func (p *h2Peer) respond(streamID uint32, endStream bool, kv ...string) {
	block := p.encode(kv...)
	p.write(func(fr *http2.Framer) error {
		return fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      streamID,
			BlockFragment: block,
			EndHeaders:    true,
			EndStream:     endStream,
		})
	})
}

// close shuts the server side and waits for its reader.
func (p *h2Peer) close() {
	p.conn.Close()
	<-p.done
}
