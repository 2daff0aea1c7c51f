package style

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/browser/htmlparse"
	"github.com/xkilldash9x/loupe/internal/browser/parser"
	"go.uber.org/zap/zaptest"
)

const matchFixture = `
<div id="root" class="container">
  <ul class="list">
    <li id="one" class="item">1</li>
    <li id="two" class="item active">2</li>
    <li id="three" class="item">3</li>
  </ul>
  <p id="para"><a id="link" href="/x">x</a></p>
  <span id="empty"></span>
</div>`

func TestMatcher(t *testing.T) {
	doc, err := htmlparse.Parse(zaptest.NewLogger(t), []byte(matchFixture))
	require.NoError(t, err)
	m := NewMatcher(doc)

	tests := []struct {
		selector string
		id       string
		want     bool
	}{
		{"li", "one", true},
		{"*", "one", true},
		{"#two", "two", true},
		{".item.active", "two", true},
		{".item.active", "one", false},
		{".missing-class", "one", false},
		{"div li", "three", true},
		{"p li", "three", false},
		{"ul > li", "one", true},
		{"div > li", "one", false},
		{"#one + li", "two", true},
		{"#one + li", "three", false},
		{"#one ~ li", "three", true},
		{"#three ~ li", "one", false},
		{"li:first-child", "one", true},
		{"li:first-child", "two", false},
		{"li:last-child", "three", true},
		{"li:nth-child(2)", "two", true},
		{"li:nth-child(odd)", "three", true},
		{"li:nth-child(2n)", "three", false},
		{"li:not(.active)", "one", true},
		{"li:not(.active)", "two", false},
		{"li:is(#one, #three)", "three", true},
		{"div:has(a)", "root", true},
		{"ul:has(a)", "root", false},
		{"a:link", "link", true},
		{"span:empty", "empty", true},
		{"p:empty", "para", false},
		{"a:hover", "link", true},
		{"a[href]", "link", true},
		{"li::before", "one", false},
	}

	for _, tt := range tests {
		t.Run(tt.selector+"/"+tt.id, func(t *testing.T) {
			group, err := parser.ParseSelector(tt.selector)
			require.NoError(t, err)
			id := doc.ElementByID(tt.id)
			require.NotEqual(t, dom.NoNode, id)
			_, got := m.MatchGroup(id, group)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcher_Root(t *testing.T) {
	doc, err := htmlparse.Parse(zaptest.NewLogger(t), []byte(`<p>x</p>`))
	require.NoError(t, err)
	m := NewMatcher(doc)
	group, err := parser.ParseSelector(":root")
	require.NoError(t, err)

	_, ok := m.MatchGroup(doc.DocumentElement(), group)
	assert.True(t, ok)
	_, ok = m.MatchGroup(doc.Body(), group)
	assert.False(t, ok)
	_, ok = m.MatchGroup(doc.Root(), group)
	assert.False(t, ok, "the document node is not an element")
}

func TestParseNth(t *testing.T) {
	tests := []struct {
		arg  string
		a, b int
		ok   bool
	}{
		{"odd", 2, 1, true},
		{"even", 2, 0, true},
		{"3", 0, 3, true},
		{"2n+1", 2, 1, true},
		{"-n+3", -1, 3, true},
		{"n", 1, 0, true},
		{"x", 0, 0, false},
	}
	for _, tt := range tests {
		a, b, ok := parseNth(tt.arg)
		assert.Equal(t, tt.ok, ok, tt.arg)
		if tt.ok {
			assert.Equal(t, [2]int{tt.a, tt.b}, [2]int{a, b}, tt.arg)
		}
	}
	assert.True(t, nthMatches(-1, 3, 1))
	assert.False(t, nthMatches(-1, 3, 4))
}
