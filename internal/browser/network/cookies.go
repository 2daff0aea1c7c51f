// internal/browser/network/cookies.go
package network

import (
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

type storedCookie struct {
	name, value  string
	domain, path string
	hostOnly     bool
	secure       bool
	httpOnly     bool
	expires      time.Time // zero for session cookies
	seq          uint64    // creation order
}

func (c *storedCookie) key() string { return c.name + ";" + c.path }

func (c *storedCookie) expired(now time.Time) bool {
	return !c.expires.IsZero() && !now.Before(c.expires)
}

// CookieJar stores cookies by domain and path. It is safe for concurrent use.
type CookieJar struct {
	mu      sync.Mutex
	domains map[string]map[string]*storedCookie
	seq     uint64
	now     func() time.Time
	logger  *zap.Logger
}

func NewCookieJar(logger *zap.Logger) *CookieJar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CookieJar{
		domains: make(map[string]map[string]*storedCookie),
		now:     time.Now,
		logger:  logger.Named("cookies"),
	}
}

// SetCookies records the Set-Cookie header values received from u.
// Invalid values and cookies the origin may not set are dropped.
func (j *CookieJar) SetCookies(u *URL, headers []string) {
	if u == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()

	for _, h := range headers {
		hc, err := http.ParseSetCookie(h)
		if err != nil {
			j.logger.Debug("Dropping malformed Set-Cookie", zap.String("host", u.Host), zap.Error(err))
			continue
		}
		c, ok := j.accept(u, hc, now)
		if !ok {
			continue
		}
		bucket := j.domains[c.domain]
		if c.expired(now) {
			if bucket != nil {
				delete(bucket, c.key())
			}
			continue
		}
		if bucket == nil {
			bucket = make(map[string]*storedCookie)
			j.domains[c.domain] = bucket
		}
		if old, ok := bucket[c.key()]; ok {
			c.seq = old.seq
		} else {
			j.seq++
			c.seq = j.seq
		}
		bucket[c.key()] = c
	}
}

func (j *CookieJar) accept(u *URL, hc *http.Cookie, now time.Time) (*storedCookie, bool) {
	c := &storedCookie{
		name:     hc.Name,
		value:    hc.Value,
		secure:   hc.Secure,
		httpOnly: hc.HttpOnly,
	}
	if c.secure && !u.HTTPS {
		return nil, false
	}

	host := u.Host
	if d := strings.ToLower(strings.TrimPrefix(hc.Domain, ".")); d != "" && d != host {
		if net.ParseIP(host) != nil || !strings.HasSuffix(host, "."+d) {
			j.logger.Debug("Rejecting cookie for foreign domain", zap.String("host", host), zap.String("domain", d))
			return nil, false
		}
		if ps, _ := publicsuffix.PublicSuffix(d); ps == d {
			j.logger.Debug("Rejecting cookie for public suffix", zap.String("domain", d))
			return nil, false
		}
		c.domain = d
	} else {
		c.domain = host
		c.hostOnly = hc.Domain == ""
	}

	c.path = hc.Path
	if !strings.HasPrefix(c.path, "/") {
		c.path = defaultCookiePath(u.Path)
	}

	switch {
	case hc.MaxAge < 0:
		c.expires = now
	case hc.MaxAge > 0:
		c.expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
	case !hc.Expires.IsZero():
		c.expires = hc.Expires
	}
	return c, true
}

// Cookies returns the cookies to send to u, longest path first.
func (j *CookieJar) Cookies(u *URL) []*http.Cookie {
	if u == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()

	var matched []*storedCookie
	for domain, bucket := range j.domains {
		if domain != u.Host && !strings.HasSuffix(u.Host, "."+domain) {
			continue
		}
		for k, c := range bucket {
			if c.expired(now) {
				delete(bucket, k)
				continue
			}
			if c.hostOnly && domain != u.Host {
				continue
			}
			if c.secure && !u.HTTPS {
				continue
			}
			if !pathMatch(u.Path, c.path) {
				continue
			}
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(a, b int) bool {
		if len(matched[a].path) != len(matched[b].path) {
			return len(matched[a].path) > len(matched[b].path)
		}
		return matched[a].seq < matched[b].seq
	})

	out := make([]*http.Cookie, len(matched))
	for i, c := range matched {
		out[i] = &http.Cookie{Name: c.name, Value: c.value}
	}
	return out
}

// Header renders the Cookie request header for u, or "" when none match.
func (j *CookieJar) Header(u *URL) string {
	cookies := j.Cookies(u)
	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = c.Name + "=" + c.Value
	}
	return strings.Join(parts, "; ")
}

// Len counts stored cookies, expired ones included.
func (j *CookieJar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, b := range j.domains {
		n += len(b)
	}
	return n
}

func (j *CookieJar) Clear() {
	j.mu.Lock()
	j.domains = make(map[string]map[string]*storedCookie)
	j.mu.Unlock()
}

// defaultCookiePath is the directory of the request path.
func defaultCookiePath(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}
