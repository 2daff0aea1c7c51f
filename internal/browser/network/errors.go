// internal/browser/network/errors.go
package network

import (
	"context"
	"errors"
	"net"
)

var (
	ErrConnect      = errors.New("network: connection failed")
	ErrTLSHandshake = errors.New("network: tls handshake failed")
	ErrTimeout      = errors.New("network: timeout")
	ErrProxy        = errors.New("network: proxy tunnel failed")
	ErrEncoding     = errors.New("network: unsupported content encoding")

	// ErrScheme and ErrPort are configuration errors raised by ParseURL.
	ErrScheme = errors.New("network: unsupported url scheme")
	ErrPort   = errors.New("network: invalid port")
)

// IsTimeout reports whether err is a deadline or net timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// classify picks the sentinel a dial failure is reported under.
func classify(err error, fallback error) error {
	if IsTimeout(err) {
		return ErrTimeout
	}
	return fallback
}
