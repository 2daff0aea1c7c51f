// internal/script/runtime/upvalue.go
package runtime

// Upvalue is a variable captured by a closure. While the declaring frame
// is live it is open and aliases a slot of that frame's value stack; when
// the frame returns it is closed and owns the value.
type Upvalue struct {
	stack  *[]Value
	index  int
	closed Value
}

// NewOpenUpvalue aliases (*stack)[index]. The stack may be reallocated;
// the upvalue follows it through the pointer.
func NewOpenUpvalue(stack *[]Value, index int) *Upvalue {
	return &Upvalue{stack: stack, index: index}
}

// NewClosedUpvalue returns an upvalue that already owns v.
func NewClosedUpvalue(v Value) *Upvalue { return &Upvalue{closed: v} }

func (u *Upvalue) IsOpen() bool { return u.stack != nil }

// Index is the aliased stack slot of an open upvalue.
func (u *Upvalue) Index() int { return u.index }

func (u *Upvalue) Get() Value {
	if u.stack != nil {
		return (*u.stack)[u.index]
	}
	return u.closed
}

func (u *Upvalue) Set(v Value) {
	if u.stack != nil {
		(*u.stack)[u.index] = v
		return
	}
	u.closed = v
}

// Close copies the aliased slot into the upvalue.
func (u *Upvalue) Close() {
	if u.stack == nil {
		return
	}
	u.closed = (*u.stack)[u.index]
	u.stack = nil
}

// OpenUpvalues tracks a VM's open upvalues ordered by stack index so
// returning frames can close everything at or above their base.
type OpenUpvalues struct {
	list []*Upvalue
}

// Capture returns the open upvalue for index, creating it if needed.
func (o *OpenUpvalues) Capture(stack *[]Value, index int) *Upvalue {
	for _, u := range o.list {
		if u.index == index {
			return u
		}
	}
	u := NewOpenUpvalue(stack, index)
	o.list = append(o.list, u)
	return u
}

// CloseFrom closes every open upvalue at or above index.
func (o *OpenUpvalues) CloseFrom(index int) {
	kept := o.list[:0]
	for _, u := range o.list {
		if u.index >= index {
			u.Close()
			continue
		}
		kept = append(kept, u)
	}
	clear(o.list[len(kept):])
	o.list = kept
}

// CloseAt closes the open upvalue aliasing exactly index.
func (o *OpenUpvalues) CloseAt(index int) {
	for i, u := range o.list {
		if u.index == index {
			u.Close()
			o.list = append(o.list[:i], o.list[i+1:]...)
			return
		}
	}
}

// Len reports the number of open upvalues.
func (o *OpenUpvalues) Len() int { return len(o.list) }
