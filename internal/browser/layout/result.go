// internal/browser/layout/result.go
package layout

import (
	"github.com/xkilldash9x/loupe/internal/browser/dom"
)

// Size is a width and height in pixels.
type Size struct {
	Width, Height float64
}

// Point is a document-space coordinate.
type Point struct {
	X, Y float64
}

// LayoutResult is the geometry of one box. Size is the content size, Position
// the border-box origin.
type LayoutResult struct {
	Box        BoxID
	NodeID     dom.NodeID
	Size       Size
	Position   Point
	ContentBox Rect
	Dimensions Dimensions
	Intrinsic  Intrinsic
	// Lines is the wrapped line count of a text box.
	Lines int
}

// Result holds the geometry of every box of a laid-out tree. Boxes is indexed by BoxID.
type Result struct {
	Tree     *Tree
	Viewport Viewport
	Boxes    []LayoutResult
}

// ByNode returns the geometry of the box generated by a DOM node.
func (r *Result) ByNode(id dom.NodeID) (LayoutResult, bool) {
	if r == nil || r.Tree == nil {
		return LayoutResult{}, false
	}
	b, ok := r.Tree.ByNode(id)
	if !ok || int(b) >= len(r.Boxes) {
		return LayoutResult{}, false
	}
	return r.Boxes[b], true
}

// DocumentHeight is the bottom of the lowest margin box, at least the viewport height.
func (r *Result) DocumentHeight() float64 {
	if r == nil {
		return 0
	}
	h := r.Viewport.Height
	for _, b := range r.Boxes {
		mb := b.Dimensions.MarginBox()
		h = max(h, mb.Y+mb.Height)
	}
	return h
}

// HitTest returns the deepest DOM node whose border box contains (x, y).
func (r *Result) HitTest(x, y float64) (dom.NodeID, bool) {
	if r == nil || r.Tree == nil || r.Tree.Root == NoBox {
		return dom.NoNode, false
	}
	found := dom.NoNode
	var visit func(id BoxID)
	visit = func(id BoxID) {
		if !r.Boxes[id].Dimensions.BorderBox().Contains(x, y) {
			return
		}
		if n := r.Tree.Box(id).Node; n != dom.NoNode {
			found = n
		}
		for _, c := range r.Tree.Box(id).Children {
			visit(c)
		}
	}
	visit(r.Tree.Root)
	return found, found != dom.NoNode
}
