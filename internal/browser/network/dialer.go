// internal/browser/network/dialer.go
package network

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/xkilldash9x/loupe/internal/config"
)

const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAliveInterval   = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
)

// ALPN protocol ids offered to servers, preferred first.
const (
	ProtoH2    = "h2"
	ProtoHTTP1 = "http/1.1"
)

// DialerConfig holds configuration for the low-level dialer.
type DialerConfig struct {
	Timeout          time.Duration
	KeepAlive        time.Duration
	HandshakeTimeout time.Duration
	TLSConfig        *tls.Config
	// NoDelay controls TCP_NODELAY.
	NoDelay  bool
	Resolver *net.Resolver
	// ProxyURL is an http or https proxy reached with CONNECT.
	ProxyURL *url.URL
}

// Clone returns a deep copy of the DialerConfig.
func (c *DialerConfig) Clone() *DialerConfig {
	if c == nil {
		return DefaultDialerConfig()
	}
	clone := *c
	if c.TLSConfig != nil {
		clone.TLSConfig = c.TLSConfig.Clone()
	}
	if c.ProxyURL != nil {
		proxyURLCopy := *c.ProxyURL
		clone.ProxyURL = &proxyURLCopy
	}
	return &clone
}

// DefaultDialerConfig is a TLS 1.2+ configuration offering h2 and http/1.1.
func DefaultDialerConfig() *DialerConfig {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
		NextProtos:         []string{ProtoH2, ProtoHTTP1},
		ClientSessionCache: tls.NewLRUClientSessionCache(512),
	}

	return &DialerConfig{
		Timeout:          DefaultDialTimeout,
		KeepAlive:        DefaultKeepAliveInterval,
		HandshakeTimeout: DefaultTLSHandshakeTimeout,
		TLSConfig:        tlsConfig,
		NoDelay:          true,
		Resolver:         net.DefaultResolver,
	}
}

// NewDialerConfig applies the network section of the configuration to the defaults.
func NewDialerConfig(cfg config.NetworkConfig) (*DialerConfig, error) {
	dc := DefaultDialerConfig()
	if cfg.DialTimeout > 0 {
		dc.Timeout = cfg.DialTimeout
	}
	if cfg.TLSHandshakeTimeout > 0 {
		dc.HandshakeTimeout = cfg.TLSHandshakeTimeout
	}
	dc.TLSConfig.InsecureSkipVerify = cfg.InsecureSkipVerify
	if cfg.ProxyURL != "" {
		p, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		if p.Scheme != "http" && p.Scheme != "https" {
			return nil, fmt.Errorf("%w: proxy %q", ErrScheme, p.Scheme)
		}
		dc.ProxyURL = p
	}
	return dc, nil
}

// DialTCPContext establishes a raw TCP connection, tunnelled through the
// proxy when one is configured.
func DialTCPContext(ctx context.Context, network, address string, config *DialerConfig) (net.Conn, error) {
	if config == nil {
		config = DefaultDialerConfig()
	}
	if config.ProxyURL != nil {
		return dialViaProxy(ctx, network, address, config)
	}
	return dialDirect(ctx, network, address, config)
}

func dialDirect(ctx context.Context, network, address string, config *DialerConfig) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   config.Timeout,
		KeepAlive: config.KeepAlive,
		// Happy Eyeballs (RFC 8305).
		FallbackDelay: 300 * time.Millisecond,
		Resolver:      config.Resolver,
	}

	rawConn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: tcp dial %s: %w", classify(err, ErrConnect), address, err)
	}

	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		if err := configureTCP(tcpConn, config); err != nil {
			_ = tcpConn.Close()
			return nil, err
		}
	}
	return rawConn, nil
}

func dialViaProxy(ctx context.Context, network, targetAddress string, config *DialerConfig) (net.Conn, error) {
	proxyURL := config.ProxyURL
	proxyAddress := proxyURL.Host

	var proxyConn net.Conn
	var err error

	switch proxyURL.Scheme {
	case "http":
		proxyConn, err = dialDirect(ctx, network, proxyAddress, config)
	case "https":
		proxyDialerConfig := config.Clone()
		if proxyDialerConfig.TLSConfig == nil {
			proxyDialerConfig.TLSConfig = DefaultDialerConfig().TLSConfig
		}
		// The proxy hop must not negotiate the target's ALPN.
		proxyDialerConfig.TLSConfig.NextProtos = nil

		rawConn, derr := dialDirect(ctx, network, proxyAddress, proxyDialerConfig)
		if derr != nil {
			return nil, derr
		}
		proxyConn, err = wrapTLS(ctx, rawConn, proxyAddress, proxyDialerConfig)
	default:
		return nil, fmt.Errorf("%w: proxy scheme %s", ErrScheme, proxyURL.Scheme)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %w", ErrProxy, proxyAddress, err)
	}

	return establishProxyTunnel(ctx, proxyConn, targetAddress, proxyURL)
}

// establishProxyTunnel sends CONNECT and returns the tunnel once the proxy
// answers 200.
func establishProxyTunnel(ctx context.Context, conn net.Conn, targetAddress string, proxyURL *url.URL) (net.Conn, error) {
	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetAddress},
		Host:   targetAddress,
		Header: make(http.Header),
	}

	if proxyURL.User != nil {
		if password, ok := proxyURL.User.Password(); ok {
			auth := proxyURL.User.Username() + ":" + password
			connectReq.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if err := connectReq.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: write CONNECT: %w", ErrProxy, err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: read CONNECT response: %w", ErrProxy, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: CONNECT %s: %s", ErrProxy, targetAddress, resp.Status)
	}

	// Bytes the proxy sent after its response belong to the tunnel.
	if br.Buffered() > 0 {
		return &prefixedConn{Conn: conn, prefix: br}, nil
	}
	return conn, nil
}

// prefixedConn reads from prefix before the underlying Conn.
type prefixedConn struct {
	net.Conn
	prefix io.Reader
}

func (c *prefixedConn) Read(p []byte) (int, error) {
	if c.prefix != nil {
		n, err := c.prefix.Read(p)
		if err == io.EOF {
			c.prefix = nil
			if n > 0 {
				return n, nil
			}
		} else if n > 0 || err != nil {
			return n, err
		}
	}
	return c.Conn.Read(p)
}

// DialContext connects to address and performs the TLS handshake when
// config.TLSConfig is set.
func DialContext(ctx context.Context, network, address string, config *DialerConfig) (net.Conn, error) {
	if config == nil {
		config = DefaultDialerConfig()
	}

	conn, err := DialTCPContext(ctx, network, address, config)
	if err != nil {
		return nil, err
	}
	if config.TLSConfig != nil {
		return wrapTLS(ctx, conn, address, config)
	}
	return conn, nil
}

// DialURL opens a connection for u: TLS with ALPN for https, plain TCP for http.
func DialURL(ctx context.Context, u *URL, config *DialerConfig) (net.Conn, error) {
	cfg := config.Clone()
	if !u.HTTPS {
		cfg.TLSConfig = nil
	}
	return DialContext(ctx, "tcp", u.HostPort(), cfg)
}

// NegotiatedProtocol is the ALPN result of a TLS connection, or "" for plain TCP.
func NegotiatedProtocol(conn net.Conn) string {
	if tc, ok := conn.(*tls.Conn); ok {
		return tc.ConnectionState().NegotiatedProtocol
	}
	return ""
}

func configureTCP(conn *net.TCPConn, config *DialerConfig) error {
	// Keep-alive failures are not fatal; some platforms reject them.
	_ = conn.SetKeepAlive(true)
	if config.KeepAlive > 0 {
		_ = conn.SetKeepAlivePeriod(config.KeepAlive)
	}
	if err := conn.SetNoDelay(config.NoDelay); err != nil {
		return fmt.Errorf("failed to set TCP NoDelay: %w", err)
	}
	return nil
}

func wrapTLS(ctx context.Context, conn net.Conn, address string, config *DialerConfig) (net.Conn, error) {
	tlsConfig := config.TLSConfig.Clone()

	if tlsConfig.ServerName == "" {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			host = address
		}
		sniHost := host
		if len(host) > 0 && host[0] == '[' && host[len(host)-1] == ']' {
			sniHost = host[1 : len(host)-1]
		}
		// SNI never carries an IP literal.
		if net.ParseIP(sniHost) == nil {
			tlsConfig.ServerName = sniHost
		}
	}

	tlsConn := tls.Client(conn, tlsConfig)

	handshakeTimeout := config.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultTLSHandshakeTimeout
	}
	handshakeCtx := ctx
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > handshakeTimeout {
		var cancel context.CancelFunc
		handshakeCtx, cancel = context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()
	}

	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %w", classify(err, ErrTLSHandshake), address, err)
	}
	return tlsConn, nil
}
