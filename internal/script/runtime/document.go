// internal/script/runtime/document.go
package runtime

import (
	"strings"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
)

// documentHost exposes live document properties.
type documentHost struct{}

func (documentHost) GetHost(r *Realm, key string) (Value, bool, error) {
	d := r.doc
	switch key {
	case "title":
		return r.Str(d.Title()), true, nil
	case "body":
		return r.elementValue(d.Body()), true, nil
	case "documentElement":
		return r.elementValue(d.DocumentElement()), true, nil
	}
	return Undefined, false, nil
}

func (documentHost) SetHost(r *Realm, key string, v Value) (bool, error) {
	if key != "title" {
		return false, nil
	}
	s, err := r.ToString(v)
	if err != nil {
		return true, err
	}
	d := r.doc
	t := d.FirstElement(d.Root(), "title")
	if t == dom.NoNode {
		head := d.FirstElement(d.Root(), "head")
		if head == dom.NoNode {
			return true, nil
		}
		t = d.CreateElement("title", nil)
		if err := d.AppendChild(head, t); err != nil {
			return true, err
		}
	}
	d.SetTextContent(t, s)
	return true, nil
}

// elementHost exposes one element's live properties.
type elementHost struct {
	id dom.NodeID
}

func (h elementHost) GetHost(r *Realm, key string) (Value, bool, error) {
	d := r.doc
	n := d.Node(h.id)
	switch key {
	case "tagName", "nodeName":
		return r.Str(strings.ToUpper(d.TagName(h.id))), true, nil
	case "id", "className":
		attr := key
		if key == "className" {
			attr = "class"
		}
		v, _ := d.Attr(h.id, attr)
		return r.Str(v), true, nil
	case "textContent", "innerText":
		return r.Str(d.TextContent(h.id)), true, nil
	case "parentNode", "parentElement":
		if n.Parent == dom.NoNode || d.Node(n.Parent).Kind != dom.ElementNode {
			return Null, true, nil
		}
		return r.elementValue(n.Parent), true, nil
	case "children":
		var out []Value
		for _, c := range d.Children(h.id) {
			if d.Node(c).Kind == dom.ElementNode {
				out = append(out, r.elementValue(c))
			}
		}
		return ArrayValue(r.NewArray(out)), true, nil
	case "childElementCount":
		count := 0
		for _, c := range d.Children(h.id) {
			if d.Node(c).Kind == dom.ElementNode {
				count++
			}
		}
		return Number(float64(count)), true, nil
	}
	return Undefined, false, nil
}

func (h elementHost) SetHost(r *Realm, key string, v Value) (bool, error) {
	switch key {
	case "textContent", "innerText", "id", "className":
		s, err := r.ToString(v)
		if err != nil {
			return true, err
		}
		switch key {
		case "id":
			r.doc.SetAttr(h.id, "id", s)
		case "className":
			r.doc.SetAttr(h.id, "class", s)
		default:
			r.doc.SetTextContent(h.id, s)
		}
		return true, nil
	}
	return false, nil
}

// elementValue returns the cached wrapper for an element, or null.
func (r *Realm) elementValue(id dom.NodeID) Value {
	if id == dom.NoNode || r.doc == nil {
		return Null
	}
	if obj, ok := r.elements[id]; ok {
		return ObjectValue(obj)
	}
	obj := r.NewObjectWithProto(ObjectValue(r.elementProto))
	r.SetInternal(obj, ClassHost, id)
	r.SetHost(obj, elementHost{id: id})
	r.elements[id] = obj
	return ObjectValue(obj)
}

func (r *Realm) thisElement(this Value, method string) (dom.NodeID, error) {
	if this.kind == KindObject {
		if internal, _ := r.Internal(this.Object()); internal != nil {
			if id, ok := internal.(dom.NodeID); ok {
				return id, nil
			}
		}
	}
	return dom.NoNode, r.ThrowTypeError("Element.%s called on a non-element", method)
}

func (r *Realm) installDocument() {
	r.elementProto = r.NewObject()
	ep := r.elementProto
	r.defineMethod(ep, "getAttribute", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisElement(this, "getAttribute")
		if err != nil {
			return Undefined, err
		}
		name, err := r.ToString(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		if v, ok := r.doc.Attr(id, name); ok {
			return r.Str(v), nil
		}
		return Null, nil
	})
	r.defineMethod(ep, "setAttribute", 2, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisElement(this, "setAttribute")
		if err != nil {
			return Undefined, err
		}
		name, err := r.ToString(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		value, err := r.ToString(argAt(args, 1))
		if err != nil {
			return Undefined, err
		}
		r.doc.SetAttr(id, name, value)
		return Undefined, nil
	})
	r.defineMethod(ep, "hasAttribute", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisElement(this, "hasAttribute")
		if err != nil {
			return Undefined, err
		}
		name, err := r.ToString(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		_, ok := r.doc.Attr(id, name)
		return Bool(ok), nil
	})
	r.defineMethod(ep, "appendChild", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		parent, err := r.thisElement(this, "appendChild")
		if err != nil {
			return Undefined, err
		}
		child, err := r.thisElement(argAt(args, 0), "appendChild")
		if err != nil {
			return Undefined, err
		}
		if n := r.doc.Node(child); n.Parent != dom.NoNode {
			if err := r.doc.RemoveChild(n.Parent, child); err != nil {
				return Undefined, r.ThrowError("Error", "%v", err)
			}
		}
		if err := r.doc.AppendChild(parent, child); err != nil {
			return Undefined, r.ThrowError("Error", "%v", err)
		}
		return argAt(args, 0), nil
	})
	r.defineMethod(ep, "remove", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		id, err := r.thisElement(this, "remove")
		if err != nil {
			return Undefined, err
		}
		if n := r.doc.Node(id); n.Parent != dom.NoNode {
			if err := r.doc.RemoveChild(n.Parent, id); err != nil {
				return Undefined, r.ThrowError("Error", "%v", err)
			}
		}
		return Undefined, nil
	})

	doc := r.NewObject()
	r.SetHost(doc, documentHost{})
	r.DefineOwn(r.Global, "document", ObjectValue(doc))
	r.defineMethod(doc, "getElementById", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		id, err := r.ToString(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		return r.elementValue(r.doc.ElementByID(id)), nil
	})
	r.defineMethod(doc, "getElementsByTagName", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		name, err := r.ToString(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		var out []Value
		for _, id := range r.doc.ElementsByTag(name) {
			out = append(out, r.elementValue(id))
		}
		return ArrayValue(r.NewArray(out)), nil
	})
	r.defineMethod(doc, "createElement", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		name, err := r.ToString(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		return r.elementValue(r.doc.CreateElement(strings.ToLower(name), nil)), nil
	})
}
