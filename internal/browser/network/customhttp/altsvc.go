// internal/browser/network/customhttp/altsvc.go
package customhttp

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultAltSvcMaxAge applies when an entry has no ma parameter (RFC 7838 section 3.1).
const DefaultAltSvcMaxAge = 24 * time.Hour

// AltSvc is one alternative service advertised by an origin.
type AltSvc struct {
	Protocol string
	// Host is empty when the alternative is on the origin's host.
	Host    string
	Port    int
	MaxAge  time.Duration
	Persist bool
}

// ParseAltSvc parses an Alt-Svc header value. clearAll reports the "clear"
// directive, which invalidates every cached alternative for the origin.
func ParseAltSvc(header string) (services []AltSvc, clearAll bool, err error) {
	header = strings.TrimSpace(header)
	if header == "clear" {
		return nil, true, nil
	}
	for _, member := range splitQuoted(header, ',') {
		if strings.TrimSpace(member) == "" {
			continue
		}
		svc, err := parseAltSvcMember(member)
		if err != nil {
			return nil, false, err
		}
		services = append(services, svc)
	}
	return services, false, nil
}

func parseAltSvcMember(member string) (AltSvc, error) {
	parts := splitQuoted(member, ';')
	proto, authority, ok := strings.Cut(strings.TrimSpace(parts[0]), "=")
	if !ok {
		return AltSvc{}, fmt.Errorf("alt-svc: missing alt-authority in %q", member)
	}
	protocol, err := url.PathUnescape(strings.TrimSpace(proto))
	if err != nil || protocol == "" {
		return AltSvc{}, fmt.Errorf("alt-svc: bad protocol id %q", proto)
	}
	authority, err = unquote(strings.TrimSpace(authority))
	if err != nil {
		return AltSvc{}, err
	}
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		return AltSvc{}, fmt.Errorf("alt-svc: alt-authority %q: %w", authority, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return AltSvc{}, fmt.Errorf("alt-svc: bad port in %q", authority)
	}

	svc := AltSvc{Protocol: protocol, Host: strings.ToLower(host), Port: port, MaxAge: DefaultAltSvcMaxAge}
	for _, p := range parts[1:] {
		name, value, _ := strings.Cut(strings.TrimSpace(p), "=")
		value, err := unquote(strings.TrimSpace(value))
		if err != nil {
			return AltSvc{}, err
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "ma":
			secs, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return AltSvc{}, fmt.Errorf("alt-svc: bad ma %q", value)
			}
			svc.MaxAge = time.Duration(secs) * time.Second
		case "persist":
			svc.Persist = value == "1"
		}
	}
	return svc, nil
}

// splitQuoted splits s on sep outside double-quoted strings.
func splitQuoted(s string, sep byte) []string {
	var out []string
	start, quoted := 0, false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func unquote(s string) (string, error) {
	if !strings.HasPrefix(s, `"`) {
		return s, nil
	}
	if len(s) < 2 || !strings.HasSuffix(s, `"`) {
		return "", fmt.Errorf("alt-svc: unterminated quoted string %s", s)
	}
	var b strings.Builder
	for i := 1; i < len(s)-1; i++ {
		if s[i] == '\\' && i+1 < len(s)-1 {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String(), nil
}

type altSvcEntry struct {
	services []AltSvc
	expires  []time.Time
}

// AltSvcCache maps an origin to its advertised alternatives. Entries carry
// their own max age, so the LRU runs without a global TTL.
type AltSvcCache struct {
	lru *expirable.LRU[string, altSvcEntry]
	now func() time.Time
}

func NewAltSvcCache(size int) *AltSvcCache {
	return &AltSvcCache{
		lru: expirable.NewLRU[string, altSvcEntry](size, nil, 0),
		now: time.Now,
	}
}

// Learn records the Alt-Svc header received from origin. A malformed
// header is returned as an error and leaves the cache unchanged.
func (c *AltSvcCache) Learn(origin, header string) error {
	services, clearAll, err := ParseAltSvc(header)
	if err != nil {
		return err
	}
	if clearAll {
		c.lru.Remove(origin)
		return nil
	}
	now := c.now()
	entry := altSvcEntry{}
	for _, svc := range services {
		if svc.MaxAge <= 0 {
			continue
		}
		entry.services = append(entry.services, svc)
		entry.expires = append(entry.expires, now.Add(svc.MaxAge))
	}
	if len(entry.services) == 0 {
		c.lru.Remove(origin)
		return nil
	}
	c.lru.Add(origin, entry)
	return nil
}

// Lookup returns the unexpired alternatives for origin in advertised order.
func (c *AltSvcCache) Lookup(origin string) []AltSvc {
	entry, ok := c.lru.Get(origin)
	if !ok {
		return nil
	}
	now := c.now()
	var live []AltSvc
	for i, svc := range entry.services {
		if now.Before(entry.expires[i]) {
			live = append(live, svc)
		}
	}
	if live == nil {
		c.lru.Remove(origin)
	}
	return live
}

// LookupH3 returns the first HTTP/3 alternative for origin.
func (c *AltSvcCache) LookupH3(origin string) (AltSvc, bool) {
	for _, svc := range c.Lookup(origin) {
		if svc.Protocol == "h3" {
			return svc, true
		}
	}
	return AltSvc{}, false
}

func (c *AltSvcCache) Len() int { return c.lru.Len() }
