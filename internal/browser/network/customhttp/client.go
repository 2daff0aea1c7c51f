// internal/browser/network/customhttp/client.go
package customhttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/loupe/internal/browser/network"
	"github.com/xkilldash9x/loupe/internal/observability"
)

// ConnectionPool is one pooled connection to an origin. H1Client and
// H2Client implement it.
type ConnectionPool interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
	// Close immediately closes the connection.
	Close() error
	// IsIdle reports whether the connection has been idle for at least timeout.
	IsIdle(timeout time.Duration) bool
	// Alive reports whether the connection can take another request.
	Alive() bool
	Protocol() string
}

// Client is the browser's HTTP client. It keeps one connection per origin,
// speaking HTTP/2 when ALPN selects it and HTTP/1.1 otherwise, and handles
// cookies, redirects, Basic authentication, Alt-Svc and replay of requests
// the server never processed. A background goroutine evicts idle
// connections.
type Client struct {
	Config *ClientConfig
	Logger *zap.Logger
	AltSvc *AltSvcCache

	metrics *observability.Metrics
	tracer  trace.Tracer
	h3      H3Dialer
	limiter *rate.Limiter
	dialer  func(ctx context.Context, u *network.URL) (ConnectionPool, error)

	mu      sync.Mutex
	conns   map[string]ConnectionPool // key: origin
	dialing singleflight.Group

	closeChan chan struct{}
	closeOnce sync.Once
	evictorWG sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithH3Dialer sets the transport tried for origins with an h3 alternative
// when PreferHTTP3 is on.
func WithH3Dialer(d H3Dialer) Option {
	return func(c *Client) { c.h3 = d }
}

// NewClient creates a Client and starts its idle connection evictor.
func NewClient(config *ClientConfig, logger *zap.Logger, opts ...Option) *Client {
	if config == nil {
		config = NewBrowserClientConfig()
	}
	if logger == nil {
		logger = observability.GetLogger()
	}

	limit := rate.Inf
	if config.MaxConnsPerSecond > 0 {
		limit = rate.Limit(config.MaxConnsPerSecond)
	}
	burst := max(1, int(math.Ceil(config.MaxConnsPerSecond)))

	c := &Client{
		Config:    config,
		Logger:    logger.Named("customhttp_client"),
		AltSvc:    NewAltSvcCache(256),
		tracer:    observability.Tracer(),
		limiter:   rate.NewLimiter(limit, burst),
		conns:     make(map[string]ConnectionPool),
		closeChan: make(chan struct{}),
	}
	c.dialer = c.dialOrigin
	for _, opt := range opts {
		opt(c)
	}
	if c.h3 == nil && config.PreferHTTP3 {
		c.h3 = NewStubH3Dialer(c.Logger)
	}

	c.evictorWG.Add(1)
	go c.connectionEvictor()
	return c
}

// ConnectionCount returns the number of pooled connections.
func (c *Client) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", network.ErrScheme, err)
	}
	return c.Do(ctx, req)
}

// Do executes req, following redirects and replaying it when a connection
// failed before the server processed it. The response body is fully
// buffered and content-decoded.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, fmt.Errorf("request URL is nil")
	}
	ctx, span := c.tracer.Start(ctx, "customhttp.Do", trace.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL.String()),
	))
	defer span.End()

	if err := ensureBodyReplayable(req); err != nil {
		return nil, fmt.Errorf("failed to make request body replayable: %w", err)
	}
	resp, err := c.doInternal(ctx, req, 0, nil, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.String("network.protocol.version", resp.Proto),
	)
	return resp, nil
}

// doInternal handles one hop: cookies, the request, then auth and redirects.
func (c *Client) doInternal(ctx context.Context, req *http.Request, redirectCount int, via []*http.Request, authAttempted bool) (*http.Response, error) {
	target, err := network.ParseURL(req.URL.String())
	if err != nil {
		return nil, err
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Header.Get("User-Agent") == "" && c.Config.UserAgent != "" {
		req.Header.Set("User-Agent", c.Config.UserAgent)
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", network.AcceptEncoding)
	}
	c.addCookies(req, target)

	resp, err := c.executeWithRetries(ctx, req, target)
	if err != nil {
		return nil, err
	}

	c.storeCookies(target, resp)
	c.learnAltSvc(target, resp)

	if (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusProxyAuthRequired) && !authAttempted && c.Config.CredentialsProvider != nil {
		if handled, nextReq, err := c.handleAuthentication(ctx, req, resp); handled || err != nil {
			resp.Body.Close()
			if err != nil {
				return nil, err
			}
			return c.doInternal(ctx, nextReq, redirectCount, via, true)
		}
	}

	if isRedirect(resp.StatusCode) {
		return c.handleRedirect(ctx, req, target, resp, redirectCount, via)
	}
	return resp, nil
}

// executeWithRetries replays requests that failed with errUnprocessed:
// stale reused HTTP/1.1 connections, streams above a GOAWAY's last stream
// id, and REFUSED_STREAM. Anything else is returned as is.
func (c *Client) executeWithRetries(ctx context.Context, req *http.Request, target *network.URL) (*http.Response, error) {
	policy := c.Config.RetryPolicy
	if policy == nil {
		policy = NewDefaultRetryPolicy()
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.roundTrip(ctx, req, target)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, errUnprocessed) || attempt >= policy.MaxRetries || ctx.Err() != nil {
			return nil, err
		}

		backoff := calculateBackoff(policy, attempt+1)
		c.Logger.Debug("Replaying unprocessed request",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.String("url", target.String()),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		}
	}
}

// calculateBackoff returns the delay before retry number attemptNum (1-based).
func calculateBackoff(policy *RetryPolicy, attemptNum int) time.Duration {
	backoff := float64(policy.InitialBackoff) * math.Pow(policy.BackoffFactor, float64(attemptNum-1))
	if backoff > float64(policy.MaxBackoff) || backoff <= 0 {
		if policy.MaxBackoff <= 0 {
			return policy.InitialBackoff
		}
		backoff = float64(policy.MaxBackoff)
	}
	duration := time.Duration(backoff)
	if policy.Jitter && duration > 0 {
		duration = time.Duration(float64(duration) * (0.5 + rand.Float64()*0.5))
	}
	return duration
}

// -- Protocol Execution --

// roundTrip makes one attempt under the per-attempt timeout.
func (c *Client) roundTrip(ctx context.Context, req *http.Request, target *network.URL) (*http.Response, error) {
	if c.Config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Config.RequestTimeout)
		defer cancel()
	}

	if c.Config.PreferHTTP3 && c.h3 != nil && target.HTTPS {
		if alt, ok := c.AltSvc.LookupH3(target.Origin()); ok {
			attempt, err := cloneForAttempt(ctx, req)
			if err != nil {
				return nil, err
			}
			resp, err := c.h3.RoundTrip(ctx, alt, target, attempt)
			if err == nil {
				c.metrics.CountRequest("h3", "ok")
				return resp, nil
			}
			if !errors.Is(err, ErrHTTP3Unavailable) {
				c.metrics.CountRequest("h3", outcome(err))
				return nil, err
			}
			c.metrics.CountRequest("h3", "fallback")
			c.Logger.Debug("HTTP/3 unavailable, falling back to TCP", zap.String("origin", target.Origin()), zap.Error(err))
		}
	}

	attempt, err := cloneForAttempt(ctx, req)
	if err != nil {
		return nil, err
	}
	conn, err := c.getConn(ctx, target)
	if err != nil {
		c.metrics.CountRequest("tcp", outcome(err))
		return nil, err
	}
	resp, err := conn.Do(ctx, attempt)
	if err != nil {
		if !conn.Alive() {
			c.dropConn(target.Origin(), conn)
		}
		c.metrics.CountRequest(conn.Protocol(), outcome(err))
		return nil, err
	}
	if !conn.Alive() {
		c.dropConn(target.Origin(), conn)
	}
	c.metrics.CountRequest(conn.Protocol(), "ok")
	return resp, nil
}

func outcome(err error) string {
	switch {
	case network.IsTimeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}

// cloneForAttempt copies req with a fresh body from GetBody.
func cloneForAttempt(ctx context.Context, req *http.Request) (*http.Request, error) {
	attempt := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to reset request body: %w", err)
		}
		attempt.Body = body
	}
	return attempt, nil
}

// -- Connection Management --

// getConn returns the pooled connection for target's origin, dialing one
// if needed. Concurrent callers share a single dial.
func (c *Client) getConn(ctx context.Context, target *network.URL) (ConnectionPool, error) {
	key := target.Origin()
	c.mu.Lock()
	if conn, ok := c.conns[key]; ok && conn.Alive() {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	ch := c.dialing.DoChan(key, func() (any, error) {
		c.mu.Lock()
		if conn, ok := c.conns[key]; ok && conn.Alive() {
			c.mu.Unlock()
			return conn, nil
		}
		c.mu.Unlock()

		// The dial outlives any single caller's cancellation.
		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.dialTimeout())
		defer cancel()
		conn, err := c.dialer(dialCtx, target)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		old := c.conns[key]
		c.conns[key] = conn
		c.mu.Unlock()
		if old != nil {
			old.Close()
		}
		return conn, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ConnectionPool), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) dialTimeout() time.Duration {
	d := network.DefaultDialTimeout
	if dc := c.Config.DialerConfig; dc != nil {
		d = max(dc.Timeout, 0) + max(dc.HandshakeTimeout, 0)
	}
	if d <= 0 {
		d = network.DefaultDialTimeout
	}
	return d
}

// dialOrigin opens a connection and wraps it in the client for the
// negotiated protocol.
func (c *Client) dialOrigin(ctx context.Context, target *network.URL) (ConnectionPool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("connection rate limit: %w", err)
	}
	raw, err := network.DialURL(ctx, target, c.Config.DialerConfig)
	if err != nil {
		return nil, err
	}
	if network.NegotiatedProtocol(raw) == network.ProtoH2 {
		h2 := NewH2Client(raw, target, c.Config, c.Logger)
		if err := h2.Start(ctx); err != nil {
			return nil, err
		}
		return h2, nil
	}
	return NewH1Client(raw, target, c.Config, c.Logger), nil
}

// dropConn removes conn from the pool if it is still the pooled one.
func (c *Client) dropConn(key string, conn ConnectionPool) {
	c.mu.Lock()
	if c.conns[key] == conn {
		delete(c.conns, key)
	}
	c.mu.Unlock()
	c.Logger.Debug("Closing connection", zap.String("origin", key), zap.String("protocol", conn.Protocol()))
	conn.Close()
}

// connectionEvictor periodically closes idle connections.
func (c *Client) connectionEvictor() {
	defer c.evictorWG.Done()

	idleTimeout := c.Config.IdleConnTimeout
	if idleTimeout <= 0 {
		return
	}
	checkInterval := max(idleTimeout/2, time.Second)
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeChan:
			return
		case <-ticker.C:
			c.evictIdleConnections(idleTimeout)
		}
	}
}

func (c *Client) evictIdleConnections(timeout time.Duration) {
	c.mu.Lock()
	var toClose []ConnectionPool
	for key, conn := range c.conns {
		if conn.IsIdle(timeout) {
			toClose = append(toClose, conn)
			delete(c.conns, key)
		}
	}
	c.mu.Unlock()

	if len(toClose) > 0 {
		c.Logger.Debug("Evicting idle connections", zap.Int("count", len(toClose)))
		for _, conn := range toClose {
			conn.Close()
		}
	}
}

// CloseAll stops the evictor and closes every pooled connection.
func (c *Client) CloseAll() {
	c.closeOnce.Do(func() { close(c.closeChan) })
	c.evictorWG.Wait()

	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]ConnectionPool)
	c.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// -- Cookies and Alt-Svc --

func (c *Client) addCookies(req *http.Request, target *network.URL) {
	if c.Config.CookieJar == nil {
		return
	}
	header := c.Config.CookieJar.Header(target)
	if header == "" {
		return
	}
	if existing := req.Header.Get("Cookie"); existing != "" {
		header = existing + "; " + header
	}
	req.Header.Set("Cookie", header)
}

func (c *Client) storeCookies(target *network.URL, resp *http.Response) {
	if c.Config.CookieJar == nil {
		return
	}
	if values := resp.Header.Values("Set-Cookie"); len(values) > 0 {
		c.Config.CookieJar.SetCookies(target, values)
	}
}

func (c *Client) learnAltSvc(target *network.URL, resp *http.Response) {
	if !target.HTTPS {
		// Alternatives learned over cleartext cannot be trusted (RFC 7838 section 2.1).
		return
	}
	for _, v := range resp.Header.Values("Alt-Svc") {
		if err := c.AltSvc.Learn(target.Origin(), v); err != nil {
			c.Logger.Debug("Ignoring malformed Alt-Svc", zap.String("value", v), zap.Error(err))
		}
	}
}

// -- Authentication Handling --

// handleAuthentication answers a Basic challenge in a 401 or 407 response.
func (c *Client) handleAuthentication(ctx context.Context, req *http.Request, resp *http.Response) (bool, *http.Request, error) {
	isProxy := resp.StatusCode == http.StatusProxyAuthRequired
	headerKey := "WWW-Authenticate"
	authHeaderKey := "Authorization"
	if isProxy {
		headerKey = "Proxy-Authenticate"
		authHeaderKey = "Proxy-Authorization"
	}

	challenges := resp.Header.Values(headerKey)
	var basicRealm string
	for _, challenge := range challenges {
		if !strings.HasPrefix(strings.ToLower(challenge), "basic") {
			continue
		}
		if _, after, ok := strings.Cut(challenge, "realm="); ok {
			realm, _, _ := strings.Cut(after, ",")
			basicRealm = strings.Trim(realm, `" `)
			break
		}
	}
	if basicRealm == "" {
		c.Logger.Debug("No supported authentication scheme found", zap.Strings("challenges", challenges))
		return false, nil, nil
	}

	host := req.URL.Host
	if isProxy && c.Config.DialerConfig != nil && c.Config.DialerConfig.ProxyURL != nil {
		host = c.Config.DialerConfig.ProxyURL.Host
	}
	username, password, err := c.Config.CredentialsProvider.GetCredentials(host, basicRealm)
	if err != nil {
		if errors.Is(err, ErrCredentialsNotFound) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	nextReq := req.Clone(ctx)
	nextReq.Header.Set(authHeaderKey, "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	return true, nextReq, nil
}

// -- Redirect Handling --

func isRedirect(statusCode int) bool {
	switch statusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func (c *Client) handleRedirect(ctx context.Context, req *http.Request, target *network.URL, resp *http.Response, redirectCount int, via []*http.Request) (*http.Response, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		// Nothing to follow; the 3xx is the answer.
		return resp, nil
	}
	next, err := target.ResolveReference(location)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("invalid redirect Location %q: %w", location, err)
	}

	nextReq, err := prepareNextRequest(ctx, req, next.StdURL(), resp.StatusCode)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	currentVia := append(via, req)
	if c.Config.CheckRedirect != nil {
		if err := c.Config.CheckRedirect(nextReq, currentVia); err != nil {
			if errors.Is(err, http.ErrUseLastResponse) {
				return resp, nil
			}
			resp.Body.Close()
			return nil, err
		}
	}

	if redirectCount >= c.Config.MaxRedirects {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, c.Config.MaxRedirects)
	}

	resp.Body.Close()
	c.Logger.Debug("Following redirect",
		zap.Int("status", resp.StatusCode),
		zap.String("from", target.String()),
		zap.String("to", next.String()))
	return c.doInternal(ctx, nextReq, redirectCount+1, currentVia, false)
}

// prepareNextRequest builds the follow-up request. 307 and 308 keep the
// method and body; every other redirect becomes a body-less GET (HEAD
// stays HEAD).
func prepareNextRequest(ctx context.Context, originalReq *http.Request, nextURL *url.URL, statusCode int) (*http.Request, error) {
	method := originalReq.Method
	var getBody func() (io.ReadCloser, error)
	var contentLength int64

	switch statusCode {
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		if originalReq.GetBody != nil {
			getBody = originalReq.GetBody
			contentLength = originalReq.ContentLength
		} else if originalReq.Body != nil && originalReq.Body != http.NoBody && originalReq.ContentLength != 0 {
			return nil, fmt.Errorf("cannot follow %d redirect with non-replayable body for method %s", statusCode, method)
		}
	default:
		if method != http.MethodHead {
			method = http.MethodGet
		}
	}

	nextReq, err := http.NewRequestWithContext(ctx, method, nextURL.String(), nil)
	if err != nil {
		return nil, err
	}
	nextReq.ContentLength = contentLength
	nextReq.GetBody = getBody
	if getBody != nil {
		if nextReq.Body, err = getBody(); err != nil {
			return nil, fmt.Errorf("failed to reset request body: %w", err)
		}
	}

	for k, vv := range originalReq.Header {
		switch strings.ToLower(k) {
		case "host", "content-length", "cookie", "authorization", "proxy-authorization", "referer":
			// Cookies are recomputed for the new URL; credentials do not follow redirects.
			continue
		case "content-type", "content-encoding":
			if getBody == nil {
				continue
			}
		}
		nextReq.Header[k] = vv
	}

	// No Referer on an https to http hop.
	if !(originalReq.URL.Scheme == "https" && nextURL.Scheme == "http") {
		referer := *originalReq.URL
		referer.User = nil
		referer.Fragment = ""
		nextReq.Header.Set("Referer", referer.String())
	}
	return nextReq, nil
}

// ensureBodyReplayable buffers a one-shot body so retries and redirects can
// resend it.
func ensureBodyReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	bodyBytes, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	req.Body.Close()

	req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(bodyBytes)), nil
	}
	req.ContentLength = int64(len(bodyBytes))
	return nil
}
