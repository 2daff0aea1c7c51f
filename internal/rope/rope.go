// Package rope implements a persistent, height-balanced byte rope used for
// document text. Ropes are values: every edit returns a new Rope that shares
// unchanged subtrees with the original.
package rope

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxLeaf caps leaf size in bytes.
	MaxLeaf = 512
	// MinLeaf is the size below which adjacent leaves are merged.
	MinLeaf = 128
)

type node struct {
	text     string // leaves only
	left     *node
	right    *node
	length   int
	newlines int
	height   int // leaves are height 0
}

func (n *node) isLeaf() bool { return n.left == nil && n.right == nil }

func newLeaf(s string) *node {
	return &node{text: s, length: len(s), newlines: strings.Count(s, "\n")}
}

func newBranch(l, r *node) *node {
	h := l.height
	if r.height > h {
		h = r.height
	}
	return &node{
		left:     l,
		right:    r,
		length:   l.length + r.length,
		newlines: l.newlines + r.newlines,
		height:   h + 1,
	}
}

func height(n *node) int {
	if n == nil {
		return -1
	}
	return n.height
}

// Rope is an immutable sequence of bytes. The zero value is an empty rope.
type Rope struct {
	root *node
}

// New builds a balanced rope from s, splitting it into leaves of at most
// MaxLeaf bytes on UTF-8 boundaries.
func New(s string) Rope {
	if s == "" {
		return Rope{}
	}
	var leaves []*node
	for len(s) > 0 {
		n := len(s)
		if n > MaxLeaf {
			n = floorRuneStart(s, MaxLeaf)
		}
		leaves = append(leaves, newLeaf(s[:n]))
		s = s[n:]
	}
	return Rope{root: buildBalanced(leaves)}
}

func buildBalanced(leaves []*node) *node {
	switch len(leaves) {
	case 0:
		return nil
	case 1:
		return leaves[0]
	}
	mid := len(leaves) / 2
	return newBranch(buildBalanced(leaves[:mid]), buildBalanced(leaves[mid:]))
}

// floorRuneStart returns the largest index <= i that starts a rune in s.
func floorRuneStart(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	if i == 0 {
		// A single oversized rune sequence; cut after it rather than produce an empty leaf.
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	return i
}

// Len returns the length in bytes.
func (r Rope) Len() int {
	if r.root == nil {
		return 0
	}
	return r.root.length
}

// NewlineCount returns the number of '\n' bytes.
func (r Rope) NewlineCount() int {
	if r.root == nil {
		return 0
	}
	return r.root.newlines
}

// Lines returns the number of lines, which is always NewlineCount()+1.
func (r Rope) Lines() int { return r.NewlineCount() + 1 }

// Height returns the tree height; an empty rope reports -1 and a single leaf 0.
func (r Rope) Height() int { return height(r.root) }

// String flattens the rope.
func (r Rope) String() string {
	var b strings.Builder
	b.Grow(r.Len())
	r.Chunks(func(s string) bool {
		b.WriteString(s)
		return true
	})
	return b.String()
}

// Chunks calls fn with each leaf in order until fn returns false.
func (r Rope) Chunks(fn func(chunk string) bool) {
	if r.root == nil {
		return
	}
	walk(r.root, fn)
}

func walk(n *node, fn func(string) bool) bool {
	if n.isLeaf() {
		return fn(n.text)
	}
	return walk(n.left, fn) && walk(n.right, fn)
}

// ByteAt returns the byte at offset i. It panics when i is out of range.
func (r Rope) ByteAt(i int) byte {
	if i < 0 || i >= r.Len() {
		panic("rope: index out of range")
	}
	n := r.root
	for !n.isLeaf() {
		if i < n.left.length {
			n = n.left
		} else {
			i -= n.left.length
			n = n.right
		}
	}
	return n.text[i]
}

// Concat returns a rope holding r followed by other.
func (r Rope) Concat(other Rope) Rope {
	return Rope{root: join(r.root, other.root)}
}

// join concatenates two balanced trees, keeping sibling heights within one.
func join(l, r *node) *node {
	if l == nil || l.length == 0 {
		return r
	}
	if r == nil || r.length == 0 {
		return l
	}
	if l.isLeaf() && r.isLeaf() && (l.length < MinLeaf || r.length < MinLeaf) && l.length+r.length <= MaxLeaf {
		return newLeaf(l.text + r.text)
	}
	switch {
	case l.height > r.height+1:
		return rebalance(newBranch(l.left, join(l.right, r)))
	case r.height > l.height+1:
		return rebalance(newBranch(join(l, r.left), r.right))
	default:
		return newBranch(l, r)
	}
}

func rebalance(n *node) *node {
	if n.isLeaf() {
		return n
	}
	diff := height(n.left) - height(n.right)
	switch {
	case diff > 1:
		l := n.left
		if height(l.left) < height(l.right) {
			l = rotateLeft(l)
		}
		return rotateRight(newBranch(l, n.right))
	case diff < -1:
		r := n.right
		if height(r.right) < height(r.left) {
			r = rotateRight(r)
		}
		return rotateLeft(newBranch(n.left, r))
	}
	return n
}

func rotateLeft(n *node) *node {
	r := n.right
	if r.isLeaf() {
		return n
	}
	return newBranch(newBranch(n.left, r.left), r.right)
}

func rotateRight(n *node) *node {
	l := n.left
	if l.isLeaf() {
		return n
	}
	return newBranch(l.left, newBranch(l.right, n.right))
}

// Split divides the rope at byte offset pos, moved back to the nearest rune
// start, and clamped to [0, Len()].
func (r Rope) Split(pos int) (Rope, Rope) {
	pos = r.boundary(pos)
	if r.root == nil {
		return Rope{}, Rope{}
	}
	a, b := split(r.root, pos)
	return Rope{root: a}, Rope{root: b}
}

func split(n *node, pos int) (*node, *node) {
	if pos <= 0 {
		return nil, n
	}
	if pos >= n.length {
		return n, nil
	}
	if n.isLeaf() {
		return newLeaf(n.text[:pos]), newLeaf(n.text[pos:])
	}
	switch {
	case pos < n.left.length:
		ll, lr := split(n.left, pos)
		return ll, join(lr, n.right)
	case pos > n.left.length:
		rl, rr := split(n.right, pos-n.left.length)
		return join(n.left, rl), rr
	default:
		return n.left, n.right
	}
}

// boundary clamps pos and moves it back onto a UTF-8 rune start.
func (r Rope) boundary(pos int) int {
	if pos <= 0 {
		return 0
	}
	if pos >= r.Len() {
		return r.Len()
	}
	for pos > 0 && !utf8.RuneStart(r.ByteAt(pos)) {
		pos--
	}
	return pos
}

// Insert returns a rope with s inserted at pos. pos is clamped to [0, Len()].
func (r Rope) Insert(pos int, s string) Rope {
	if s == "" {
		return r
	}
	left, right := r.Split(pos)
	return left.Concat(New(s)).Concat(right)
}

// Delete returns a rope without the bytes in [start, end).
func (r Rope) Delete(start, end int) Rope {
	if end <= start {
		return r
	}
	left, rest := r.Split(start)
	_, right := rest.Split(end - left.Len())
	return left.Concat(right)
}

// Slice returns the bytes in [start, end) as a rope sharing structure with r.
func (r Rope) Slice(start, end int) Rope {
	if end <= start {
		return Rope{}
	}
	_, rest := r.Split(start)
	mid, _ := rest.Split(end - r.boundary(start))
	return mid
}

// LineStart returns the byte offset where line n (0-based) begins. Lines past
// the end report Len().
func (r Rope) LineStart(n int) int {
	if n <= 0 || r.root == nil {
		return 0
	}
	if n > r.NewlineCount() {
		return r.Len()
	}
	return offsetAfterNewline(r.root, n)
}

// offsetAfterNewline returns the offset just past the nth newline (1-based).
func offsetAfterNewline(nd *node, n int) int {
	off := 0
	for !nd.isLeaf() {
		if n <= nd.left.newlines {
			nd = nd.left
		} else {
			n -= nd.left.newlines
			off += nd.left.length
			nd = nd.right
		}
	}
	for i := 0; i < len(nd.text); i++ {
		if nd.text[i] == '\n' {
			n--
			if n == 0 {
				return off + i + 1
			}
		}
	}
	return off + len(nd.text)
}

// Line returns line n (0-based) without its trailing newline.
func (r Rope) Line(n int) string {
	if n < 0 || n >= r.Lines() {
		return ""
	}
	start := r.LineStart(n)
	end := r.Len()
	if n < r.NewlineCount() {
		end = r.LineStart(n+1) - 1
	}
	return r.Slice(start, end).String()
}
