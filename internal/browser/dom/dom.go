// browser/dom/dom.go
package dom

import (
	"errors"
	"strings"

	"github.com/xkilldash9x/loupe/internal/intern"
)

// NodeID addresses a node in its document's arena. IDs are stable for the
// lifetime of the document; the arena never compacts.
type NodeID int32

// NoNode marks an absent edge.
const NoNode NodeID = -1

// NodeKind identifies what a node represents.
type NodeKind uint8

const (
	DocumentNode NodeKind = iota
	ElementNode
	TextNode
	CommentNode
	DoctypeNode
)

func (k NodeKind) String() string {
	switch k {
	case DocumentNode:
		return "document"
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	case CommentNode:
		return "comment"
	case DoctypeNode:
		return "doctype"
	}
	return "unknown"
}

// Well-known namespaces.
var (
	NamespaceHTML = intern.Intern("http://www.w3.org/1999/xhtml")
	NamespaceSVG  = intern.Intern("http://www.w3.org/2000/svg")
)

var (
	attrID    = intern.Intern("id")
	attrClass = intern.Intern("class")
)

var (
	// ErrHierarchy is returned when an edit would make a node its own ancestor
	// or attach a node that already has a parent.
	ErrHierarchy = errors.New("dom: hierarchy request error")
	// ErrNotFound is returned when a reference node is not a child of the parent.
	ErrNotFound = errors.New("dom: node not found")
)

// Attribute is one name/value pair on an element, in source order.
type Attribute struct {
	Name  intern.Atom
	Value string
}

// Node is an arena slot. Edges are NodeIDs; nodes never point at each other.
type Node struct {
	Kind NodeKind

	Parent      NodeID
	FirstChild  NodeID
	LastChild   NodeID
	PrevSibling NodeID
	NextSibling NodeID
	// ChildCount is maintained on every edit.
	ChildCount int

	// Element fields.
	Name      intern.Atom
	Namespace intern.Atom
	ID        intern.Atom
	Classes   []intern.Atom
	Attrs     []Attribute

	// Text and comment content, or the doctype name.
	Data string

	// Doctype identifiers.
	PublicID string
	SystemID string
}

// Document owns every node of one page.
type Document struct {
	nodes []Node
}

// NewDocument returns a document holding only its Document root at ID 0.
func NewDocument() *Document {
	d := &Document{nodes: make([]Node, 0, 64)}
	d.alloc(Node{Kind: DocumentNode})
	return d
}

func (d *Document) alloc(n Node) NodeID {
	n.Parent, n.FirstChild, n.LastChild, n.PrevSibling, n.NextSibling = NoNode, NoNode, NoNode, NoNode, NoNode
	d.nodes = append(d.nodes, n)
	return NodeID(len(d.nodes) - 1)
}

// Root returns the Document node.
func (d *Document) Root() NodeID { return 0 }

// Len returns the number of allocated nodes, including detached ones.
func (d *Document) Len() int { return len(d.nodes) }

// Node returns the node for id. The pointer is valid until the next allocation.
func (d *Document) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(d.nodes) {
		return nil
	}
	return &d.nodes[id]
}

// CreateElement allocates a detached HTML element with the given lowercase name.
func (d *Document) CreateElement(name string, attrs []Attribute) NodeID {
	return d.CreateElementNS(NamespaceHTML, intern.InternLower(name), attrs)
}

// CreateElementNS allocates a detached element in the given namespace.
func (d *Document) CreateElementNS(ns, name intern.Atom, attrs []Attribute) NodeID {
	id := d.alloc(Node{Kind: ElementNode, Name: name, Namespace: ns})
	for _, a := range attrs {
		d.SetAttr(id, a.Name.String(), a.Value)
	}
	return id
}

// CreateText allocates a detached text node.
func (d *Document) CreateText(data string) NodeID {
	return d.alloc(Node{Kind: TextNode, Data: data})
}

// CreateComment allocates a detached comment node.
func (d *Document) CreateComment(data string) NodeID {
	return d.alloc(Node{Kind: CommentNode, Data: data})
}

// CreateDoctype allocates a detached doctype node.
func (d *Document) CreateDoctype(name, publicID, systemID string) NodeID {
	return d.alloc(Node{Kind: DoctypeNode, Data: name, PublicID: publicID, SystemID: systemID})
}

func (d *Document) isAncestor(ancestor, id NodeID) bool {
	for n := id; n != NoNode; n = d.nodes[n].Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// AppendChild links child as the last child of parent.
func (d *Document) AppendChild(parent, child NodeID) error {
	return d.InsertBefore(parent, child, NoNode)
}

// InsertBefore links child into parent's children before ref; NoNode appends.
func (d *Document) InsertBefore(parent, child, ref NodeID) error {
	if d.Node(parent) == nil || d.Node(child) == nil {
		return ErrNotFound
	}
	if d.nodes[child].Parent != NoNode || child == d.Root() || d.isAncestor(child, parent) {
		return ErrHierarchy
	}
	if ref != NoNode && (d.Node(ref) == nil || d.nodes[ref].Parent != parent) {
		return ErrNotFound
	}

	p := &d.nodes[parent]
	c := &d.nodes[child]
	c.Parent = parent
	if ref == NoNode {
		c.PrevSibling = p.LastChild
		c.NextSibling = NoNode
		if p.LastChild != NoNode {
			d.nodes[p.LastChild].NextSibling = child
		} else {
			p.FirstChild = child
		}
		p.LastChild = child
	} else {
		r := &d.nodes[ref]
		c.NextSibling = ref
		c.PrevSibling = r.PrevSibling
		if r.PrevSibling != NoNode {
			d.nodes[r.PrevSibling].NextSibling = child
		} else {
			p.FirstChild = child
		}
		r.PrevSibling = child
	}
	p.ChildCount++
	return nil
}

// RemoveChild unlinks child from parent. The node stays in the arena and
// may be reinserted.
func (d *Document) RemoveChild(parent, child NodeID) error {
	c := d.Node(child)
	if c == nil || c.Parent != parent {
		return ErrNotFound
	}
	p := &d.nodes[parent]
	if c.PrevSibling != NoNode {
		d.nodes[c.PrevSibling].NextSibling = c.NextSibling
	} else {
		p.FirstChild = c.NextSibling
	}
	if c.NextSibling != NoNode {
		d.nodes[c.NextSibling].PrevSibling = c.PrevSibling
	} else {
		p.LastChild = c.PrevSibling
	}
	c.Parent, c.PrevSibling, c.NextSibling = NoNode, NoNode, NoNode
	p.ChildCount--
	return nil
}

// Children returns the child IDs of id in order.
func (d *Document) Children(id NodeID) []NodeID {
	n := d.Node(id)
	if n == nil {
		return nil
	}
	out := make([]NodeID, 0, n.ChildCount)
	for c := n.FirstChild; c != NoNode; c = d.nodes[c].NextSibling {
		out = append(out, c)
	}
	return out
}

// Walk visits the subtree under id in document order. Returning false from
// fn skips that node's children.
func (d *Document) Walk(id NodeID, fn func(id NodeID, depth int) bool) {
	d.walk(id, 0, fn)
}

func (d *Document) walk(id NodeID, depth int, fn func(NodeID, int) bool) {
	if !fn(id, depth) {
		return
	}
	for c := d.nodes[id].FirstChild; c != NoNode; c = d.nodes[c].NextSibling {
		d.walk(c, depth+1, fn)
	}
}

// TagName returns the local name of an element, or "" for other kinds.
func (d *Document) TagName(id NodeID) string {
	n := d.Node(id)
	if n == nil || n.Kind != ElementNode {
		return ""
	}
	return n.Name.String()
}

// IsElement reports whether id is an element with the given local name atom.
func (d *Document) IsElement(id NodeID, name intern.Atom) bool {
	n := d.Node(id)
	return n != nil && n.Kind == ElementNode && n.Name == name
}

// Attr returns an attribute value by ASCII case-insensitive name.
func (d *Document) Attr(id NodeID, name string) (string, bool) {
	n := d.Node(id)
	if n == nil {
		return "", false
	}
	a, ok := intern.Global.Lookup(intern.ToLowerASCII(name))
	if !ok {
		return "", false
	}
	for _, attr := range n.Attrs {
		if attr.Name == a {
			return attr.Value, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute, keeping the id and class caches current.
func (d *Document) SetAttr(id NodeID, name, value string) {
	n := d.Node(id)
	if n == nil || n.Kind != ElementNode {
		return
	}
	a := intern.InternLower(name)
	replaced := false
	for i := range n.Attrs {
		if n.Attrs[i].Name == a {
			n.Attrs[i].Value = value
			replaced = true
			break
		}
	}
	if !replaced {
		n.Attrs = append(n.Attrs, Attribute{Name: a, Value: value})
	}
	switch a {
	case attrID:
		n.ID = intern.Intern(value)
	case attrClass:
		n.Classes = n.Classes[:0]
		for _, c := range strings.Fields(value) {
			n.Classes = append(n.Classes, intern.Intern(c))
		}
	}
}

// HasClass reports whether the element carries the class.
func (d *Document) HasClass(id NodeID, class intern.Atom) bool {
	n := d.Node(id)
	if n == nil {
		return false
	}
	for _, c := range n.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// TextContent concatenates all descendant text.
func (d *Document) TextContent(id NodeID) string {
	var b strings.Builder
	d.Walk(id, func(n NodeID, _ int) bool {
		if d.nodes[n].Kind == TextNode {
			b.WriteString(d.nodes[n].Data)
		}
		return true
	})
	return b.String()
}

// SetTextContent replaces the children of id with a single text node.
func (d *Document) SetTextContent(id NodeID, text string) {
	for _, c := range d.Children(id) {
		_ = d.RemoveChild(id, c)
	}
	if text != "" {
		_ = d.AppendChild(id, d.CreateText(text))
	}
}

// ElementByID returns the first element in document order with the id.
func (d *Document) ElementByID(id string) NodeID {
	want, ok := intern.Global.Lookup(id)
	if !ok || id == "" {
		return NoNode
	}
	found := NoNode
	d.Walk(d.Root(), func(n NodeID, _ int) bool {
		if found != NoNode {
			return false
		}
		if d.nodes[n].Kind == ElementNode && d.nodes[n].ID == want {
			found = n
			return false
		}
		return true
	})
	return found
}

// ElementsByTag returns elements with the given local name in document order.
func (d *Document) ElementsByTag(name string) []NodeID {
	want := intern.InternLower(name)
	var out []NodeID
	d.Walk(d.Root(), func(n NodeID, _ int) bool {
		if d.nodes[n].Kind == ElementNode && d.nodes[n].Name == want {
			out = append(out, n)
		}
		return true
	})
	return out
}

// FirstElement returns the first element named name under id, or NoNode.
func (d *Document) FirstElement(id NodeID, name string) NodeID {
	want := intern.InternLower(name)
	found := NoNode
	d.Walk(id, func(n NodeID, _ int) bool {
		if found != NoNode {
			return false
		}
		if d.nodes[n].Kind == ElementNode && d.nodes[n].Name == want {
			found = n
			return false
		}
		return true
	})
	return found
}

// DocumentElement returns the root element (normally html).
func (d *Document) DocumentElement() NodeID {
	for c := d.nodes[0].FirstChild; c != NoNode; c = d.nodes[c].NextSibling {
		if d.nodes[c].Kind == ElementNode {
			return c
		}
	}
	return NoNode
}

// Body returns the body element, or NoNode.
func (d *Document) Body() NodeID { return d.FirstElement(d.Root(), "body") }

// Title returns the trimmed text of the first title element.
func (d *Document) Title() string {
	t := d.FirstElement(d.Root(), "title")
	if t == NoNode {
		return ""
	}
	return strings.Join(strings.Fields(d.TextContent(t)), " ")
}
