package intern

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_InternResolve(t *testing.T) {
	p := NewPool()

	div := p.Intern("div")
	span := p.Intern("span")
	assert.NotEqual(t, div, span)
	assert.Equal(t, div, p.Intern("div"), "same string yields same handle")
	assert.Equal(t, "div", p.Resolve(div))
	assert.Equal(t, "span", p.Resolve(span))
	assert.Equal(t, Atom(0), p.Intern(""))
	assert.Equal(t, "", p.Resolve(Atom(9999)))
	assert.Equal(t, 3, p.Len())
}

func TestPool_CaseFolding(t *testing.T) {
	p := NewPool()
	assert.Equal(t, p.Intern("div"), p.InternLower("DiV"))
	assert.NotEqual(t, p.Intern("DIV"), p.Intern("div"), "folding is explicit")

	_, ok := p.Lookup("table")
	assert.False(t, ok)
	a := p.Intern("table")
	got, ok := p.Lookup("table")
	require.True(t, ok)
	assert.Equal(t, a, got)
}

func TestToLowerASCII(t *testing.T) {
	assert.Equal(t, "content-type", ToLowerASCII("Content-Type"))
	assert.Equal(t, "already", ToLowerASCII("already"))
	assert.Equal(t, "ÄBC"[:2]+"bc", ToLowerASCII("ÄBC"), "non-ASCII bytes are untouched")
	assert.True(t, EqualFoldASCII("HREF", "href"))
	assert.False(t, EqualFoldASCII("href", "hre"))
}

func TestPool_Concurrent(t *testing.T) {
	p := NewPool()
	var wg sync.WaitGroup
	results := make([][]Atom, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a := p.Intern(fmt.Sprintf("name-%d", i))
				results[w] = append(results[w], a)
				assert.Equal(t, fmt.Sprintf("name-%d", i), p.Resolve(a))
			}
		}(w)
	}
	wg.Wait()
	for w := 1; w < 8; w++ {
		assert.Equal(t, results[0], results[w])
	}
	assert.Equal(t, 201, p.Len())
}
