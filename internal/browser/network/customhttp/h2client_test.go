package customhttp

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/http2"
	xhpack "golang.org/x/net/http2/hpack"

	"github.com/xkilldash9x/loupe/internal/browser/network"
	"github.com/xkilldash9x/loupe/internal/browser/network/h2frame"
)

// -- Test Helpers --

func fieldMap(fields []xhpack.HeaderField) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		if prev, ok := m[f.Name]; ok {
			m[f.Name] = prev + "; " + f.Value
			continue
		}
		m[f.Name] = f.Value
	}
	return m
}

type doResult struct {
	resp *http.Response
	err  error
}

func doAsync(ctx context.Context, c *H2Client, req *http.Request) <-chan doResult {
	ch := make(chan doResult, 1)
	go func() {
		resp, err := c.Do(ctx, req)
		ch <- doResult{resp, err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan doResult) doResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Do")
	}
	return doResult{}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// -- Tests --

func TestH2Client_Do_Success(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/index?q=1", nil)
	req.Header.Set("User-Agent", "loupe-test")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Cookie", "a=1; b=2")
	ch := doAsync(t.Context(), client, req)

	hf := peer.next()
	require.Equal(t, http2.FrameHeaders, hf.Type)
	assert.Equal(t, uint32(1), hf.StreamID)
	assert.True(t, hf.EndStream)
	fields := fieldMap(hf.Fields)
	assert.Equal(t, "GET", fields[":method"])
	assert.Equal(t, "https", fields[":scheme"])
	assert.Equal(t, "example.com", fields[":authority"])
	assert.Equal(t, "/index?q=1", fields[":path"])
	assert.Equal(t, "loupe-test", fields["user-agent"])
	assert.Equal(t, "a=1; b=2", fields["cookie"], "cookie crumbs are sent as separate fields")
	assert.NotContains(t, fields, "connection")

	peer.respond(1, false, ":status", "200", "content-type", "text/plain")
	peer.write(func(fr *http2.Framer) error { return fr.WriteData(1, true, []byte("hello h2")) })

	r := waitResult(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusOK, r.resp.StatusCode)
	assert.Equal(t, 2, r.resp.ProtoMajor)
	assert.Equal(t, "text/plain", r.resp.Header.Get("Content-Type"))
	assert.Equal(t, int64(8), r.resp.ContentLength)
	assert.Equal(t, "hello h2", readBody(t, r.resp))
	assert.True(t, client.Alive())
}

func TestH2Client_ResponseContinuation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	ch := doAsync(t.Context(), client, req)
	peer.next()

	block := peer.encode(":status", "200", "x-first", "1", "x-second", "2")
	split := len(block) / 2
	peer.write(func(fr *http2.Framer) error {
		return fr.WriteHeaders(http2.HeadersFrameParam{StreamID: 1, BlockFragment: block[:split], EndStream: true})
	})
	peer.write(func(fr *http2.Framer) error { return fr.WriteContinuation(1, true, block[split:]) })

	r := waitResult(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, "1", r.resp.Header.Get("X-First"))
	assert.Equal(t, "2", r.resp.Header.Get("X-Second"))
}

func TestH2Client_RequestHeadersSplitIntoContinuation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	big := strings.Repeat("v", 40<<10)
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	req.Header.Set("X-Big", big)
	ch := doAsync(t.Context(), client, req)

	// The x/net framer only yields the merged frame once every CONTINUATION arrived.
	hf := peer.next()
	require.Equal(t, http2.FrameHeaders, hf.Type)
	assert.Equal(t, big, fieldMap(hf.Fields)["x-big"])

	peer.respond(1, true, ":status", "204")
	r := waitResult(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusNoContent, r.resp.StatusCode)
}

func TestH2Client_FlowControl(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil, http2.Setting{ID: http2.SettingInitialWindowSize, Val: 10})
	defer peer.close()
	defer client.Close()

	body := "this is a long body that will exceed the flow control window"
	req, _ := http.NewRequest(http.MethodPost, "https://example.com/upload", strings.NewReader(body))
	ch := doAsync(t.Context(), client, req)

	hf := peer.next()
	require.Equal(t, http2.FrameHeaders, hf.Type)
	assert.False(t, hf.EndStream)
	assert.Equal(t, strconv.Itoa(len(body)), fieldMap(hf.Fields)["content-length"])

	first := peer.next()
	require.Equal(t, http2.FrameData, first.Type)
	assert.Len(t, first.Data, 10, "the stream window limits the first chunk")
	assert.False(t, first.EndStream)

	select {
	case f := <-peer.frames:
		t.Fatalf("client sent %v beyond its send window", f.Type)
	case <-time.After(50 * time.Millisecond):
	}

	peer.write(func(fr *http2.Framer) error { return fr.WriteWindowUpdate(1, 100) })

	var got bytes.Buffer
	got.Write(first.Data)
	for {
		f := peer.next()
		require.Equal(t, http2.FrameData, f.Type)
		got.Write(f.Data)
		if f.EndStream {
			break
		}
	}
	assert.Equal(t, body, got.String())

	peer.respond(1, true, ":status", "201")
	r := waitResult(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusCreated, r.resp.StatusCode)
}

func TestH2Client_RSTStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	ch := doAsync(t.Context(), client, req)
	peer.next()
	peer.write(func(fr *http2.Framer) error { return fr.WriteRSTStream(1, http2.ErrCodeInternal) })

	r := waitResult(t, ch)
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, ErrStreamReset)
	var se *StreamError
	require.ErrorAs(t, r.err, &se)
	assert.Equal(t, uint32(1), se.StreamID)
	assert.Equal(t, h2frame.ErrCodeInternal, se.Code)
	assert.False(t, se.Local)
	assert.NotErrorIs(t, r.err, errUnprocessed)
	assert.True(t, client.Alive(), "a stream reset leaves the connection usable")
}

func TestH2Client_RefusedStreamIsReplayable(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	req, _ := http.NewRequest(http.MethodPost, "https://example.com/", strings.NewReader("x"))
	ch := doAsync(t.Context(), client, req)
	peer.next()
	peer.write(func(fr *http2.Framer) error { return fr.WriteRSTStream(1, http2.ErrCodeRefusedStream) })

	r := waitResult(t, ch)
	assert.ErrorIs(t, r.err, errUnprocessed)
	assert.ErrorIs(t, r.err, ErrStreamReset)
}

func TestH2Client_GoAway(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	req1, _ := http.NewRequest(http.MethodGet, "https://example.com/one", nil)
	ch1 := doAsync(t.Context(), client, req1)
	require.Equal(t, uint32(1), peer.next().StreamID)

	req3, _ := http.NewRequest(http.MethodGet, "https://example.com/three", nil)
	ch3 := doAsync(t.Context(), client, req3)
	require.Equal(t, uint32(3), peer.next().StreamID)

	peer.write(func(fr *http2.Framer) error { return fr.WriteGoAway(1, http2.ErrCodeNo, []byte("draining")) })

	r3 := waitResult(t, ch3)
	require.Error(t, r3.err)
	assert.ErrorIs(t, r3.err, errUnprocessed, "streams above the last id were never processed")
	var gerr *GoAwayError
	require.ErrorAs(t, r3.err, &gerr)
	assert.Equal(t, uint32(1), gerr.LastStreamID)
	assert.Equal(t, "draining", gerr.Debug)

	assert.False(t, client.Alive())
	req5, _ := http.NewRequest(http.MethodGet, "https://example.com/five", nil)
	_, err := client.Do(t.Context(), req5)
	assert.ErrorIs(t, err, ErrGoAway)

	peer.respond(1, true, ":status", "200")
	r1 := waitResult(t, ch1)
	require.NoError(t, r1.err, "streams at or below the last id complete")
	assert.Equal(t, http.StatusOK, r1.resp.StatusCode)

	// Once drained the client closes the connection itself.
	assert.Equal(t, http2.FrameGoAway, peer.next().Type)
	assert.Eventually(t, func() bool { return client.IsIdle(time.Hour) }, time.Second, 10*time.Millisecond)
}

func TestH2Client_PingIsAcknowledged(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	data := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	peer.write(func(fr *http2.Framer) error { return fr.WritePing(false, data) })
	f := peer.next()
	require.Equal(t, http2.FramePing, f.Type)
	assert.True(t, f.Ack)
	assert.Equal(t, data, f.Ping)
}

func TestH2Client_PingKeepalive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("acknowledged", func(t *testing.T) {
		config := NewBrowserClientConfig()
		config.H2Config.PingInterval = 50 * time.Millisecond
		config.H2Config.PingTimeout = time.Second
		client, peer := newH2Peer(t, config)
		defer peer.close()
		defer client.Close()

		f := peer.next()
		require.Equal(t, http2.FramePing, f.Type)
		assert.False(t, f.Ack)
		peer.write(func(fr *http2.Framer) error { return fr.WritePing(true, f.Ping) })

		// The next interval starts only after the ACK was seen.
		f = peer.next()
		require.Equal(t, http2.FramePing, f.Type)
		peer.write(func(fr *http2.Framer) error { return fr.WritePing(true, f.Ping) })
		assert.True(t, client.Alive())
	})

	t.Run("timeout closes the connection", func(t *testing.T) {
		config := NewBrowserClientConfig()
		config.H2Config.PingInterval = 50 * time.Millisecond
		config.H2Config.PingTimeout = 30 * time.Millisecond
		client, peer := newH2Peer(t, config)
		defer peer.close()
		defer client.Close()

		require.Equal(t, http2.FramePing, peer.next().Type)
		assert.Eventually(t, func() bool { return !client.Alive() }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestH2Client_ContextCancelResetsStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	ctx, cancel := context.WithCancel(t.Context())
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/slow", nil)
	ch := doAsync(ctx, client, req)
	peer.next()
	cancel()

	rst := peer.next()
	require.Equal(t, http2.FrameRSTStream, rst.Type)
	assert.Equal(t, uint32(1), rst.StreamID)
	assert.Equal(t, http2.ErrCodeCancel, rst.ErrCode)

	r := waitResult(t, ch)
	assert.ErrorIs(t, r.err, context.Canceled)

	// Late frames for the cancelled stream are ignored.
	peer.respond(1, true, ":status", "200")
	assert.True(t, client.Alive())
}

func TestH2Client_MaxConcurrentStreams(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil, http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: 1})
	defer peer.close()
	defer client.Close()

	reqA, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	chA := doAsync(t.Context(), client, reqA)
	require.Equal(t, uint32(1), peer.next().StreamID)

	reqB, _ := http.NewRequest(http.MethodGet, "https://example.com/b", nil)
	chB := doAsync(t.Context(), client, reqB)
	select {
	case f := <-peer.frames:
		t.Fatalf("second stream opened past the limit: %v on stream %d", f.Type, f.StreamID)
	case <-time.After(50 * time.Millisecond):
	}

	peer.respond(1, true, ":status", "200")
	require.NoError(t, waitResult(t, chA).err)

	hf := peer.next()
	assert.Equal(t, uint32(3), hf.StreamID)
	assert.Equal(t, "/b", fieldMap(hf.Fields)[":path"])
	peer.respond(3, true, ":status", "200")
	require.NoError(t, waitResult(t, chB).err)
}

func TestH2Client_DecodesContentEncoding(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte("<html>compressed</html>"))
	zw.Close()

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	ch := doAsync(t.Context(), client, req)
	peer.next()
	peer.respond(1, false, ":status", "200", "content-encoding", "gzip", "content-length", "999")
	peer.write(func(fr *http2.Framer) error { return fr.WriteData(1, true, gz.Bytes()) })

	r := waitResult(t, ch)
	require.NoError(t, r.err)
	assert.True(t, r.resp.Uncompressed)
	assert.Empty(t, r.resp.Header.Get("Content-Encoding"))
	assert.Equal(t, "<html>compressed</html>", readBody(t, r.resp))
}

func TestH2Client_Trailers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	ch := doAsync(t.Context(), client, req)
	peer.next()
	peer.respond(1, false, ":status", "100")
	peer.respond(1, false, ":status", "200")
	peer.write(func(fr *http2.Framer) error { return fr.WriteData(1, false, []byte("body")) })
	peer.respond(1, true, "grpc-status", "0")

	r := waitResult(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusOK, r.resp.StatusCode, "interim responses are skipped")
	assert.Equal(t, "0", r.resp.Trailer.Get("Grpc-Status"))
	assert.Equal(t, "body", readBody(t, r.resp))
}

func TestH2Client_StreamProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		serve func(p *h2Peer)
		code  h2frame.ErrCode
	}{
		{
			name: "DATA before HEADERS",
			serve: func(p *h2Peer) {
				p.write(func(fr *http2.Framer) error { return fr.WriteData(1, true, []byte("x")) })
			},
			code: h2frame.ErrCodeProtocol,
		},
		{
			name:  "missing status",
			serve: func(p *h2Peer) { p.respond(1, true, "content-type", "text/html") },
			code:  h2frame.ErrCodeProtocol,
		},
		{
			name:  "non-numeric status",
			serve: func(p *h2Peer) { p.respond(1, true, ":status", "abc") },
			code:  h2frame.ErrCodeProtocol,
		},
		{
			name: "trailers without END_STREAM",
			serve: func(p *h2Peer) {
				p.respond(1, false, ":status", "200")
				p.respond(1, false, "x-trailer", "1")
			},
			code: h2frame.ErrCodeProtocol,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
			client, peer := newH2Peer(t, nil)
			defer peer.close()
			defer client.Close()

			req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
			ch := doAsync(t.Context(), client, req)
			peer.next()
			tt.serve(peer)

			rst := peer.next()
			require.Equal(t, http2.FrameRSTStream, rst.Type)
			assert.Equal(t, http2.ErrCode(tt.code), rst.ErrCode)

			r := waitResult(t, ch)
			var se *StreamError
			require.ErrorAs(t, r.err, &se)
			assert.True(t, se.Local)
			assert.Equal(t, tt.code, se.Code)
			assert.True(t, client.Alive())
		})
	}
}

func TestH2Client_ConnectionErrors(t *testing.T) {
	tests := []struct {
		name  string
		serve func(p *h2Peer)
		code  http2.ErrCode
	}{
		{
			name: "CONTINUATION without HEADERS",
			serve: func(p *h2Peer) {
				p.write(func(fr *http2.Framer) error { return fr.WriteContinuation(1, true, p.encode(":status", "200")) })
			},
			code: http2.ErrCodeProtocol,
		},
		{
			name: "PUSH_PROMISE with push disabled",
			serve: func(p *h2Peer) {
				p.write(func(fr *http2.Framer) error {
					return fr.WritePushPromise(http2.PushPromiseParam{StreamID: 1, PromiseID: 2, BlockFragment: p.encode(":method", "GET"), EndHeaders: true})
				})
			},
			code: http2.ErrCodeProtocol,
		},
		{
			name: "zero connection WINDOW_UPDATE",
			serve: func(p *h2Peer) {
				p.write(func(fr *http2.Framer) error { return fr.WriteRawFrame(http2.FrameWindowUpdate, 0, 0, []byte{0, 0, 0, 0}) })
			},
			code: http2.ErrCodeProtocol,
		},
		{
			name: "HEADERS on idle stream",
			serve: func(p *h2Peer) { p.respond(7, true, ":status", "200") },
			code:  http2.ErrCodeProtocol,
		},
		{
			name: "undecodable header block",
			serve: func(p *h2Peer) {
				p.write(func(fr *http2.Framer) error {
					return fr.WriteHeaders(http2.HeadersFrameParam{StreamID: 1, BlockFragment: []byte{0xff, 0xff, 0xff, 0xff, 0xff}, EndHeaders: true})
				})
			},
			code: http2.ErrCodeCompression,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
			client, peer := newH2Peer(t, nil)
			defer peer.close()
			defer client.Close()

			req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
			ch := doAsync(t.Context(), client, req)
			peer.next()
			tt.serve(peer)

			ga := peer.next()
			require.Equal(t, http2.FrameGoAway, ga.Type)
			assert.Equal(t, tt.code, ga.ErrCode)

			r := waitResult(t, ch)
			assert.ErrorIs(t, r.err, ErrConnClosed)
			assert.False(t, client.Alive())
		})
	}
}

func TestH2Client_ConcurrentStreams(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, peer := newH2Peer(t, nil)
	defer peer.close()
	defer client.Close()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, "https://example.com/"+strings.Repeat("x", i), nil)
			resp, err := client.Do(t.Context(), req)
			if err == nil && resp.Header.Get("X-Path") != req.URL.Path {
				err = errors.New("response delivered to the wrong stream")
			}
			errs <- err
		}()
	}

	ids := make(map[uint32]bool)
	for range n {
		hf := peer.next()
		require.Equal(t, http2.FrameHeaders, hf.Type)
		assert.Equal(t, uint32(1), hf.StreamID%2, "client streams are odd")
		ids[hf.StreamID] = true
		peer.respond(hf.StreamID, true, ":status", "200", "x-path", fieldMap(hf.Fields)[":path"])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, ids, n)
}

func TestRequestHeaderFields(t *testing.T) {
	origin, err := network.ParseURL("https://example.com:8443")
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, "https://example.com:8443/p?x=1", nil)
	req.Header.Set("Authorization", "Bearer t")
	req.Header.Set("TE", "gzip")
	req.Header.Set("Transfer-Encoding", "chunked")
	fields := requestHeaderFields(origin, req, []byte("abc"))

	require.GreaterOrEqual(t, len(fields), 4)
	assert.Equal(t, ":method", fields[0].Name)
	assert.Equal(t, ":scheme", fields[1].Name)
	assert.Equal(t, "example.com:8443", fields[2].Value)
	assert.Equal(t, "/p?x=1", fields[3].Value)

	byName := map[string]string{}
	for _, f := range fields {
		byName[f.Name] = f.Value
		if f.Name == "authorization" {
			assert.True(t, f.Sensitive)
		}
	}
	assert.Equal(t, "3", byName["content-length"])
	assert.NotContains(t, byName, "te")
	assert.NotContains(t, byName, "transfer-encoding")
}
