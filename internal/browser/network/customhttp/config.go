// internal/browser/network/customhttp/config.go
package customhttp

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loupe/internal/browser/network"
	"github.com/xkilldash9x/loupe/internal/config"
)

// CredentialsProvider supplies Basic credentials for an authentication challenge.
type CredentialsProvider interface {
	GetCredentials(host string, realm string) (username string, password string, err error)
}

// RetryPolicy governs replays of requests the server never processed.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// Jitter scales each backoff by a random factor in [0.5, 1).
	Jitter bool
}

func NewDefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:     2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// H2Settings holds configuration specific to HTTP/2 connections.
type H2Settings struct {
	// PingInterval is the keepalive period; zero disables pings.
	PingInterval time.Duration
	PingTimeout  time.Duration
	// MaxHeaderListSize is advertised in SETTINGS and enforced on decode.
	MaxHeaderListSize uint32
}

func DefaultH2Settings() H2Settings {
	return H2Settings{
		PingInterval:      30 * time.Second,
		PingTimeout:       5 * time.Second,
		MaxHeaderListSize: 256 << 10,
	}
}

// ClientConfig holds the complete network configuration for a Client.
type ClientConfig struct {
	DialerConfig *network.DialerConfig
	// CookieJar stores cookies; nil disables them.
	CookieJar *network.CookieJar

	// RequestTimeout bounds one attempt, from dial to the last body byte.
	RequestTimeout  time.Duration
	IdleConnTimeout time.Duration
	MaxRedirects    int
	UserAgent       string

	// PreferHTTP3 tries an advertised h3 alternative before TCP.
	PreferHTTP3 bool
	// MaxConnsPerSecond limits new connections; zero means unlimited.
	MaxConnsPerSecond float64

	// CheckRedirect may veto a redirect; http.ErrUseLastResponse returns the 3xx as is.
	CheckRedirect       func(req *http.Request, via []*http.Request) error
	RetryPolicy         *RetryPolicy
	CredentialsProvider CredentialsProvider
	H2Config            H2Settings
}

// NewBrowserClientConfig returns defaults suitable for page loads.
func NewBrowserClientConfig() *ClientConfig {
	return &ClientConfig{
		DialerConfig:      network.DefaultDialerConfig(),
		CookieJar:         network.NewCookieJar(nil),
		RequestTimeout:    30 * time.Second,
		IdleConnTimeout:   90 * time.Second,
		MaxRedirects:      10,
		UserAgent:         "loupe/1.0",
		MaxConnsPerSecond: 20,
		RetryPolicy:       NewDefaultRetryPolicy(),
		H2Config:          DefaultH2Settings(),
	}
}

// NewClientConfig maps the network configuration section onto a ClientConfig.
func NewClientConfig(cfg config.NetworkConfig, logger *zap.Logger) (*ClientConfig, error) {
	dc, err := network.NewDialerConfig(cfg)
	if err != nil {
		return nil, err
	}
	cc := NewBrowserClientConfig()
	cc.DialerConfig = dc
	cc.CookieJar = network.NewCookieJar(logger)
	if cfg.RequestTimeout > 0 {
		cc.RequestTimeout = cfg.RequestTimeout
	}
	if cfg.IdleConnTimeout > 0 {
		cc.IdleConnTimeout = cfg.IdleConnTimeout
	}
	cc.MaxRedirects = cfg.MaxRedirects
	if cfg.UserAgent != "" {
		cc.UserAgent = cfg.UserAgent
	}
	cc.PreferHTTP3 = cfg.PreferHTTP3
	cc.MaxConnsPerSecond = cfg.MaxConnsPerSecond
	cc.RetryPolicy = &RetryPolicy{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		BackoffFactor:  cfg.Retry.BackoffFactor,
		Jitter:         true,
	}
	return cc, nil
}
