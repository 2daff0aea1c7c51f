// Package intern maps strings to compact integer handles. Tag names,
// attribute names, class names and script identifiers are all interned so
// that identity comparison is integer equality.
package intern

import (
	"sync"
	"sync/atomic"
)

// Atom is a handle to an interned string. The zero Atom is the empty string.
type Atom uint32

// Pool is an append-only string table. Resolve never locks; Intern takes a
// short lock only when a string is new.
type Pool struct {
	mu      sync.RWMutex
	index   map[string]Atom
	strings atomic.Pointer[[]string]
}

// Global is the process-wide pool.
var Global = NewPool()

// NewPool returns a pool holding only the empty string at Atom 0.
func NewPool() *Pool {
	p := &Pool{index: map[string]Atom{"": 0}}
	s := make([]string, 1, 256)
	p.strings.Store(&s)
	return p
}

// Intern returns the handle for s, adding it when unseen.
func (p *Pool) Intern(s string) Atom {
	p.mu.RLock()
	a, ok := p.index[s]
	p.mu.RUnlock()
	if ok {
		return a
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.index[s]; ok {
		return a
	}
	cur := *p.strings.Load()
	a = Atom(len(cur))
	// Appending never rewrites existing elements, so readers holding the old
	// header still see valid data.
	next := append(cur, s)
	p.strings.Store(&next)
	p.index[s] = a
	return a
}

// InternLower interns s after ASCII lowercasing. HTML names are ASCII case-insensitive.
func (p *Pool) InternLower(s string) Atom {
	return p.Intern(ToLowerASCII(s))
}

// Lookup returns the handle for s without adding it.
func (p *Pool) Lookup(s string) (Atom, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.index[s]
	return a, ok
}

// Resolve returns the string for a. Unknown handles resolve to "".
func (p *Pool) Resolve(a Atom) string {
	s := *p.strings.Load()
	if int(a) >= len(s) {
		return ""
	}
	return s[a]
}

// Len reports the number of interned strings, including the empty string.
func (p *Pool) Len() int {
	return len(*p.strings.Load())
}

// Intern interns s in the global pool.
func Intern(s string) Atom { return Global.Intern(s) }

// InternLower interns the ASCII-lowercased s in the global pool.
func InternLower(s string) Atom { return Global.InternLower(s) }

// String resolves a against the global pool.
func (a Atom) String() string { return Global.Resolve(a) }

// ToLowerASCII lowercases ASCII letters only, returning s unchanged when it
// has no uppercase ASCII.
func ToLowerASCII(s string) string {
	i := 0
	for ; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			break
		}
	}
	if i == len(s) {
		return s
	}
	b := []byte(s)
	for ; i < len(b); i++ {
		if c := b[i]; 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// EqualFoldASCII compares two strings ignoring ASCII case.
func EqualFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
