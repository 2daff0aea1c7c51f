// internal/browser/network/url.go
package network

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// URL is an absolute http or https address. Port is 0 when the input
// carried none; Query is empty when there was no '?'.
type URL struct {
	HTTPS    bool
	Host     string
	Port     int
	Path     string
	Query    string
	Fragment string
}

// ParseURL parses an absolute http(s) URL. Hosts are lowercased and
// converted to their ASCII (punycode) form.
func ParseURL(raw string) (*URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		if strings.Contains(err.Error(), "invalid port") {
			return nil, fmt.Errorf("%w: %q", ErrPort, raw)
		}
		return nil, fmt.Errorf("network: parse %q: %w", raw, err)
	}
	return fromStd(u)
}

func fromStd(u *url.URL) (*URL, error) {
	out := &URL{Path: u.EscapedPath(), Query: u.RawQuery, Fragment: u.Fragment}
	switch strings.ToLower(u.Scheme) {
	case "https":
		out.HTTPS = true
	case "http":
	default:
		return nil, fmt.Errorf("%w: %q", ErrScheme, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("network: %q has no host", u.String())
	}
	if net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		switch {
		case err == nil:
			host = ascii
		case !isASCII(host):
			return nil, fmt.Errorf("network: host %q: %w", host, err)
		}
	}
	out.Host = strings.ToLower(host)
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("%w: %q", ErrPort, p)
		}
		out.Port = n
	}
	if out.Path == "" {
		out.Path = "/"
	}
	return out, nil
}

// Scheme returns "https" or "http".
func (u *URL) Scheme() string {
	if u.HTTPS {
		return "https"
	}
	return "http"
}

// EffectivePort is Port, or the scheme default when absent.
func (u *URL) EffectivePort() int {
	switch {
	case u.Port != 0:
		return u.Port
	case u.HTTPS:
		return 443
	default:
		return 80
	}
}

// HostPort is the dial address.
func (u *URL) HostPort() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.EffectivePort()))
}

// Authority is the Host header value; default ports are omitted.
func (u *URL) Authority() string {
	host := u.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if u.Port == 0 || u.Port == defaultPort(u.HTTPS) {
		return host
	}
	return host + ":" + strconv.Itoa(u.Port)
}

// Origin is scheme://authority, the key for connection pools and Alt-Svc.
func (u *URL) Origin() string { return u.Scheme() + "://" + u.Authority() }

// RequestURI is the path plus query used on the request line.
func (u *URL) RequestURI() string {
	if u.Query == "" {
		return u.Path
	}
	return u.Path + "?" + u.Query
}

func (u *URL) String() string {
	s := u.Origin() + u.RequestURI()
	if u.Fragment != "" {
		s += "#" + u.Fragment
	}
	return s
}

// StdURL converts to a net/url value for use with net/http types.
func (u *URL) StdURL() *url.URL {
	return &url.URL{
		Scheme:   u.Scheme(),
		Host:     u.Authority(),
		Path:     mustUnescape(u.Path),
		RawPath:  u.Path,
		RawQuery: u.Query,
		Fragment: u.Fragment,
	}
}

// ResolveReference resolves a Location header or link target against u.
func (u *URL) ResolveReference(ref string) (*URL, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("network: reference %q: %w", ref, err)
	}
	return fromStd(u.StdURL().ResolveReference(r))
}

func defaultPort(https bool) int {
	if https {
		return 443
	}
	return 80
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func mustUnescape(p string) string {
	s, err := url.PathUnescape(p)
	if err != nil {
		return p
	}
	return s
}
