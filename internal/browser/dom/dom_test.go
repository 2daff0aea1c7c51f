package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/loupe/internal/intern"
)

// buildSample creates <html><body><p id="intro" class="lead big">Hi</p><!--c--></body></html>.
func buildSample(t *testing.T) (*Document, map[string]NodeID) {
	t.Helper()
	d := NewDocument()
	html := d.CreateElement("HTML", nil)
	body := d.CreateElement("body", nil)
	p := d.CreateElement("p", []Attribute{
		{Name: intern.Intern("id"), Value: "intro"},
		{Name: intern.Intern("class"), Value: "lead  big"},
	})
	text := d.CreateText("Hi")
	comment := d.CreateComment("c")
	require.NoError(t, d.AppendChild(d.Root(), html))
	require.NoError(t, d.AppendChild(html, body))
	require.NoError(t, d.AppendChild(body, p))
	require.NoError(t, d.AppendChild(p, text))
	require.NoError(t, d.AppendChild(body, comment))
	return d, map[string]NodeID{"html": html, "body": body, "p": p, "text": text, "comment": comment}
}

func TestDocument_Structure(t *testing.T) {
	d, ids := buildSample(t)

	assert.Equal(t, "html", d.TagName(ids["html"]), "names are lowercased")
	assert.Equal(t, ids["html"], d.DocumentElement())
	assert.Equal(t, ids["body"], d.Body())
	assert.Equal(t, []NodeID{ids["p"], ids["comment"]}, d.Children(ids["body"]))
	assert.Equal(t, 2, d.Node(ids["body"]).ChildCount)
	assert.Equal(t, ids["body"], d.Node(ids["p"]).Parent)
	assert.Equal(t, ids["comment"], d.Node(ids["p"]).NextSibling)
	assert.Equal(t, ids["p"], d.Node(ids["comment"]).PrevSibling)
	assert.Equal(t, "Hi", d.TextContent(ids["html"]))
}

func TestDocument_Attributes(t *testing.T) {
	d, ids := buildSample(t)
	p := ids["p"]

	v, ok := d.Attr(p, "ID")
	require.True(t, ok)
	assert.Equal(t, "intro", v)
	assert.Equal(t, intern.Intern("intro"), d.Node(p).ID)
	assert.True(t, d.HasClass(p, intern.Intern("lead")))
	assert.True(t, d.HasClass(p, intern.Intern("big")))

	d.SetAttr(p, "class", "small")
	assert.False(t, d.HasClass(p, intern.Intern("lead")))
	assert.True(t, d.HasClass(p, intern.Intern("small")))
	assert.Len(t, d.Node(p).Attrs, 2, "replacing keeps one entry")

	_, ok = d.Attr(p, "missing-attribute-name")
	assert.False(t, ok)
	assert.Equal(t, p, d.ElementByID("intro"))
	assert.Equal(t, NoNode, d.ElementByID("nope"))
}

func TestDocument_HierarchyErrors(t *testing.T) {
	d, ids := buildSample(t)

	assert.ErrorIs(t, d.AppendChild(ids["p"], ids["body"]), ErrHierarchy, "ancestor cannot become a child")
	assert.ErrorIs(t, d.AppendChild(ids["body"], ids["p"]), ErrHierarchy, "already attached")
	assert.ErrorIs(t, d.AppendChild(ids["p"], d.Root()), ErrHierarchy)
	assert.ErrorIs(t, d.RemoveChild(ids["html"], ids["p"]), ErrNotFound)
	assert.ErrorIs(t, d.InsertBefore(ids["body"], d.CreateText("x"), ids["text"]), ErrNotFound)
}

func TestDocument_RemoveAndInsertBefore(t *testing.T) {
	d, ids := buildSample(t)
	before := d.Len()

	require.NoError(t, d.RemoveChild(ids["body"], ids["p"]))
	assert.Equal(t, []NodeID{ids["comment"]}, d.Children(ids["body"]))
	assert.Equal(t, NoNode, d.Node(ids["p"]).Parent)
	assert.Equal(t, before, d.Len(), "arena never compacts")

	require.NoError(t, d.InsertBefore(ids["body"], ids["p"], ids["comment"]))
	assert.Equal(t, []NodeID{ids["p"], ids["comment"]}, d.Children(ids["body"]))
	assert.Equal(t, ids["p"], d.Node(ids["body"]).FirstChild)
}

func TestDocument_WalkOrderAndQueries(t *testing.T) {
	d, ids := buildSample(t)
	var order []NodeID
	var depths []int
	d.Walk(d.Root(), func(id NodeID, depth int) bool {
		order = append(order, id)
		depths = append(depths, depth)
		return true
	})
	assert.Equal(t, []NodeID{0, ids["html"], ids["body"], ids["p"], ids["text"], ids["comment"]}, order)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 3}, depths)

	assert.Equal(t, []NodeID{ids["p"]}, d.ElementsByTag("P"))

	d.SetTextContent(ids["p"], "replaced")
	assert.Equal(t, "replaced", d.TextContent(ids["p"]))
}

func TestDocument_Title(t *testing.T) {
	d := NewDocument()
	html := d.CreateElement("html", nil)
	head := d.CreateElement("head", nil)
	title := d.CreateElement("title", nil)
	require.NoError(t, d.AppendChild(d.Root(), html))
	require.NoError(t, d.AppendChild(html, head))
	require.NoError(t, d.AppendChild(head, title))
	require.NoError(t, d.AppendChild(title, d.CreateText("  A \n Page ")))
	assert.Equal(t, "A Page", d.Title())
}
