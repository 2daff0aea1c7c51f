// internal/script/runtime/object.go
package runtime

import (
	"math"
	"slices"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/xkilldash9x/loupe/internal/intern"
)

// Objects switch to dictionary mode past this many properties.
const maxShapeProperties = 64

// maxArrayLength bounds index writes so a stray a[1e9] = x cannot exhaust memory.
const maxArrayLength = 1 << 24

// Class tags objects that carry internal state.
type Class uint8

const (
	ClassObject Class = iota
	ClassError
	ClassPromise
	ClassHost
	ClassGlobal
)

// HostObject lets native code intercept property access on an object.
// Host properties take precedence over own and inherited ones.
type HostObject interface {
	GetHost(r *Realm, key string) (Value, bool, error)
	SetHost(r *Realm, key string, v Value) (bool, error)
}

// Shape is a hidden class: the ordered property keys shared by objects
// built the same way, mapping each key to a slot.
type Shape struct {
	id          uint32
	keys        []intern.Atom
	index       map[intern.Atom]int
	transitions map[intern.Atom]*Shape
}

func (s *Shape) ID() uint32 { return s.id }

func (r *Realm) newShape(parent *Shape, key intern.Atom) *Shape {
	r.nextShapeID++
	s := &Shape{id: r.nextShapeID, index: map[intern.Atom]int{}}
	if parent != nil {
		s.keys = append(slices.Clone(parent.keys), key)
		for i, k := range s.keys {
			s.index[k] = i
		}
	}
	return s
}

// transition returns the shape reached from s by adding key.
func (r *Realm) transition(s *Shape, key intern.Atom) *Shape {
	if next, ok := s.transitions[key]; ok {
		return next
	}
	if s.transitions == nil {
		s.transitions = map[intern.Atom]*Shape{}
	}
	next := r.newShape(s, key)
	s.transitions[key] = next
	return next
}

// Object is a property bag. It uses shape slots until it is deleted from
// or grows large, then falls back to a map.
type Object struct {
	shape    *Shape
	slots    []Value
	dict     map[intern.Atom]Value
	order    []intern.Atom
	proto    Value
	class    Class
	host     HostObject
	internal any
}

// Array is a dense element vector. Named properties live in an optional
// side object.
type Array struct {
	elems []Value
	props ObjectID
}

// NativeFunc implements a built-in function.
type NativeFunc func(r *Realm, this Value, args []Value) (Value, error)

// Function is a closure over compiled code or a native stub.
type Function struct {
	Name  string
	Arity int
	// Code is the compiled body, owned by the VM that produced it.
	Code     any
	Upvalues []*Upvalue
	Native   NativeFunc
	// Construct, when set, handles new for a native function.
	Construct NativeFunc
	// NoConstruct marks arrows and methods.
	NoConstruct bool
	props       ObjectID
}

// -- Allocation --

// NewObject allocates a plain object inheriting from Object.prototype.
func (r *Realm) NewObject() ObjectID {
	return r.NewObjectWithProto(ObjectValue(r.ObjectProto))
}

// NewObjectWithProto allocates an object with the given prototype, which
// must be an object or Null.
func (r *Realm) NewObjectWithProto(proto Value) ObjectID {
	if proto.kind != KindObject {
		proto = Null
	}
	r.objects = append(r.objects, Object{shape: r.rootShape, proto: proto})
	return ObjectID(len(r.objects) - 1)
}

// NewArray allocates an array owning elems.
func (r *Realm) NewArray(elems []Value) ArrayID {
	r.arrays = append(r.arrays, Array{elems: elems})
	return ArrayID(len(r.arrays) - 1)
}

// NewFunction allocates a function.
func (r *Realm) NewFunction(f Function) FunctionID {
	r.funcs = append(r.funcs, f)
	return FunctionID(len(r.funcs) - 1)
}

// NewNative allocates a native function value.
func (r *Realm) NewNative(name string, arity int, fn NativeFunc) Value {
	return FunctionValue(r.NewFunction(Function{Name: name, Arity: arity, Native: fn, NoConstruct: true}))
}

// Func returns the function record for id. The pointer is invalidated by
// the next function allocation.
func (r *Realm) Func(id FunctionID) *Function { return &r.funcs[id] }

// Elems returns the live element slice of an array.
func (r *Realm) Elems(id ArrayID) []Value { return r.arrays[id].elems }

// SetElems replaces the elements of an array.
func (r *Realm) SetElems(id ArrayID, elems []Value) { r.arrays[id].elems = elems }

// Internal returns the internal state and class of an object.
func (r *Realm) Internal(id ObjectID) (any, Class) {
	o := &r.objects[id]
	return o.internal, o.class
}

// SetInternal attaches internal state to an object.
func (r *Realm) SetInternal(id ObjectID, class Class, v any) {
	o := &r.objects[id]
	o.class, o.internal = class, v
}

// SetHost installs a host property handler on an object.
func (r *Realm) SetHost(id ObjectID, h HostObject) {
	o := &r.objects[id]
	o.host = h
	o.class = ClassHost
}

// -- Own properties --

func (o *Object) getOwn(key intern.Atom) (Value, bool) {
	if o.shape != nil {
		if slot, ok := o.shape.index[key]; ok {
			return o.slots[slot], true
		}
		return Undefined, false
	}
	v, ok := o.dict[key]
	return v, ok
}

func (o *Object) toDictionary() {
	if o.shape == nil {
		return
	}
	o.dict = make(map[intern.Atom]Value, len(o.slots))
	o.order = slices.Clone(o.shape.keys)
	for i, k := range o.shape.keys {
		o.dict[k] = o.slots[i]
	}
	o.shape, o.slots = nil, nil
}

func (r *Realm) setOwn(id ObjectID, key intern.Atom, v Value) {
	o := &r.objects[id]
	if o.shape != nil {
		if slot, ok := o.shape.index[key]; ok {
			o.slots[slot] = v
			return
		}
		if len(o.slots) < maxShapeProperties {
			o.shape = r.transition(o.shape, key)
			o.slots = append(o.slots, v)
			return
		}
		o.toDictionary()
	}
	if _, ok := o.dict[key]; !ok {
		o.order = append(o.order, key)
	}
	o.dict[key] = v
}

// DefineOwn sets an own property, bypassing host handlers.
func (r *Realm) DefineOwn(id ObjectID, name string, v Value) {
	r.setOwn(id, r.Atom(name), v)
}

// OwnKeys returns an object's own property keys in insertion order.
func (r *Realm) OwnKeys(id ObjectID) []intern.Atom {
	o := &r.objects[id]
	if o.shape != nil {
		return slices.Clone(o.shape.keys)
	}
	return slices.Clone(o.order)
}

// GetOwn reads an own property.
func (r *Realm) GetOwn(id ObjectID, key intern.Atom) (Value, bool) {
	return r.objects[id].getOwn(key)
}

func (r *Realm) deleteOwn(id ObjectID, key intern.Atom) {
	o := &r.objects[id]
	if _, ok := o.getOwn(key); !ok {
		return
	}
	o.toDictionary()
	delete(o.dict, key)
	o.order = slices.DeleteFunc(o.order, func(k intern.Atom) bool { return k == key })
}

// ShapeID returns the shape of an object, or 0 in dictionary mode.
func (r *Realm) ShapeID(id ObjectID) uint32 {
	if s := r.objects[id].shape; s != nil {
		return s.id
	}
	return 0
}

// -- Property access --

func (r *Realm) objGet(id ObjectID, key intern.Atom) (Value, error) {
	for depth := 0; id != 0 && depth < 1000; depth++ {
		o := &r.objects[id]
		if h := o.host; h != nil {
			v, ok, err := h.GetHost(r, r.AtomString(key))
			if err != nil || ok {
				return v, err
			}
			o = &r.objects[id]
		}
		if key == r.atomProto {
			return o.proto, nil
		}
		if v, ok := o.getOwn(key); ok {
			return v, nil
		}
		if o.proto.kind != KindObject {
			break
		}
		id = o.proto.Object()
	}
	return Undefined, nil
}

func (r *Realm) objSet(id ObjectID, key intern.Atom, v Value) error {
	o := &r.objects[id]
	if h := o.host; h != nil {
		handled, err := h.SetHost(r, r.AtomString(key), v)
		if err != nil || handled {
			return err
		}
	}
	if key == r.atomProto {
		return r.SetPrototypeOf(ObjectValue(id), v)
	}
	r.setOwn(id, key, v)
	return nil
}

// GetProperty reads v[key] through the prototype chain.
func (r *Realm) GetProperty(v Value, key intern.Atom) (Value, error) {
	switch v.kind {
	case KindUndefined, KindNull:
		return Undefined, r.ThrowTypeError("Cannot read properties of %s (reading '%s')", v.kind, r.AtomString(key))
	case KindString:
		s := r.GoString(v)
		if key == r.atomLength {
			return Number(float64(utf16Len(s))), nil
		}
		if i, ok := arrayIndex(r.AtomString(key)); ok {
			if c, ok := utf16At(s, i); ok {
				return r.Str(c), nil
			}
			return Undefined, nil
		}
		return r.objGet(r.StringProto, key)
	case KindNumber:
		return r.objGet(r.NumberProto, key)
	case KindBool:
		return r.objGet(r.BooleanProto, key)
	case KindObject:
		return r.objGet(v.Object(), key)
	case KindArray:
		a := &r.arrays[v.ref]
		if key == r.atomLength {
			return Number(float64(len(a.elems))), nil
		}
		if i, ok := arrayIndex(r.AtomString(key)); ok {
			if i < len(a.elems) {
				return a.elems[i], nil
			}
			return Undefined, nil
		}
		if a.props != 0 {
			return r.objGet(a.props, key)
		}
		return r.objGet(r.ArrayProto, key)
	case KindFunction:
		return r.funcGet(v.Function(), key)
	}
	return Undefined, nil
}

func (r *Realm) funcGet(id FunctionID, key intern.Atom) (Value, error) {
	f := &r.funcs[id]
	if key == r.atomPrototype && f.Native == nil && !f.NoConstruct {
		return ObjectValue(r.functionPrototype(id)), nil
	}
	if f.props != 0 {
		if v, ok := r.objects[f.props].getOwn(key); ok {
			return v, nil
		}
	}
	switch key {
	case r.atomName:
		return r.Str(f.Name), nil
	case r.atomLength:
		return Number(float64(f.Arity)), nil
	}
	return r.objGet(r.FunctionProto, key)
}

// funcProps returns the side object holding a function's own properties.
func (r *Realm) funcProps(id FunctionID) ObjectID {
	if p := r.funcs[id].props; p != 0 {
		return p
	}
	p := r.NewObjectWithProto(ObjectValue(r.FunctionProto))
	r.funcs[id].props = p
	return p
}

func (r *Realm) arrayProps(id ArrayID) ObjectID {
	if p := r.arrays[id].props; p != 0 {
		return p
	}
	p := r.NewObjectWithProto(ObjectValue(r.ArrayProto))
	r.arrays[id].props = p
	return p
}

// functionPrototype returns the prototype object that new F() instances
// inherit from, creating it on first use.
func (r *Realm) functionPrototype(id FunctionID) ObjectID {
	props := r.funcProps(id)
	if v, ok := r.objects[props].getOwn(r.atomPrototype); ok && v.kind == KindObject {
		return v.Object()
	}
	proto := r.NewObject()
	r.setOwn(proto, r.atomConstructor, FunctionValue(id))
	r.setOwn(props, r.atomPrototype, ObjectValue(proto))
	return proto
}

// SetProperty writes v[key] = val. Writes to primitives are ignored.
func (r *Realm) SetProperty(v Value, key intern.Atom, val Value) error {
	switch v.kind {
	case KindUndefined, KindNull:
		return r.ThrowTypeError("Cannot set properties of %s (setting '%s')", v.kind, r.AtomString(key))
	case KindObject:
		return r.objSet(v.Object(), key, val)
	case KindArray:
		if key == r.atomLength {
			return r.setArrayLength(v.Array(), val)
		}
		if i, ok := arrayIndex(r.AtomString(key)); ok {
			return r.setElem(v.Array(), i, val)
		}
		return r.objSet(r.arrayProps(v.Array()), key, val)
	case KindFunction:
		r.setOwn(r.funcProps(v.Function()), key, val)
	}
	return nil
}

func (r *Realm) setArrayLength(id ArrayID, val Value) error {
	n := r.ToNumber(val)
	if n < 0 || n > maxArrayLength || n != math.Trunc(n) {
		return r.ThrowError("RangeError", "Invalid array length")
	}
	a := &r.arrays[id]
	size := int(n)
	if size <= len(a.elems) {
		clear(a.elems[size:])
		a.elems = a.elems[:size]
		return nil
	}
	a.elems = append(a.elems, make([]Value, size-len(a.elems))...)
	return nil
}

func (r *Realm) setElem(id ArrayID, i int, val Value) error {
	if i >= maxArrayLength {
		return r.ThrowError("RangeError", "Invalid array length")
	}
	a := &r.arrays[id]
	if i >= len(a.elems) {
		a.elems = append(a.elems, make([]Value, i+1-len(a.elems))...)
	}
	a.elems[i] = val
	return nil
}

// PropertyKey converts a computed member key to an atom.
func (r *Realm) PropertyKey(v Value) (intern.Atom, error) {
	switch v.kind {
	case KindString:
		return v.Atom(), nil
	case KindNumber:
		return r.Atom(FormatNumber(v.num)), nil
	}
	s, err := r.ToString(v)
	if err != nil {
		return 0, err
	}
	return r.Atom(s), nil
}

// GetIndex reads v[idx] with a fast path for integer array indexes.
func (r *Realm) GetIndex(v, idx Value) (Value, error) {
	if v.kind == KindArray && idx.kind == KindNumber {
		if i := idx.num; i >= 0 && i == float64(int(i)) {
			elems := r.arrays[v.ref].elems
			if int(i) < len(elems) {
				return elems[int(i)], nil
			}
			return Undefined, nil
		}
	}
	key, err := r.PropertyKey(idx)
	if err != nil {
		return Undefined, err
	}
	return r.GetProperty(v, key)
}

// SetIndex writes v[idx] = val with a fast path for array indexes.
func (r *Realm) SetIndex(v, idx, val Value) error {
	if v.kind == KindArray && idx.kind == KindNumber {
		if i := idx.num; i >= 0 && i == float64(int(i)) {
			return r.setElem(v.Array(), int(i), val)
		}
	}
	key, err := r.PropertyKey(idx)
	if err != nil {
		return err
	}
	return r.SetProperty(v, key, val)
}

// PropertyCache is the inline cache of one property access site: the
// last receiver shape seen and the slot it mapped the key to.
type PropertyCache struct {
	shape uint32
	slot  int
}

// GetPropertyCached is GetProperty with an inline cache for own data
// properties of shaped objects.
func (r *Realm) GetPropertyCached(v Value, key intern.Atom, c *PropertyCache) (Value, error) {
	if v.kind == KindObject {
		o := &r.objects[v.ref]
		if o.shape != nil && o.host == nil {
			if c.shape != 0 && o.shape.id == c.shape {
				r.Stats.CacheHits++
				return o.slots[c.slot], nil
			}
			r.Stats.CacheMisses++
			if slot, ok := o.shape.index[key]; ok {
				c.shape, c.slot = o.shape.id, slot
				return o.slots[slot], nil
			}
		}
	}
	return r.GetProperty(v, key)
}

// SetPropertyCached is SetProperty with an inline cache for writes to
// existing own properties.
func (r *Realm) SetPropertyCached(v Value, key intern.Atom, val Value, c *PropertyCache) error {
	if v.kind == KindObject {
		o := &r.objects[v.ref]
		if o.shape != nil && o.host == nil {
			if c.shape != 0 && o.shape.id == c.shape {
				r.Stats.CacheHits++
				o.slots[c.slot] = val
				return nil
			}
			r.Stats.CacheMisses++
			if slot, ok := o.shape.index[key]; ok {
				c.shape, c.slot = o.shape.id, slot
				o.slots[slot] = val
				return nil
			}
		}
	}
	return r.SetProperty(v, key, val)
}

// DeleteProperty implements the delete operator.
func (r *Realm) DeleteProperty(v Value, key intern.Atom) (bool, error) {
	switch v.kind {
	case KindUndefined, KindNull:
		return false, r.ThrowTypeError("Cannot convert undefined or null to object")
	case KindObject:
		r.deleteOwn(v.Object(), key)
	case KindArray:
		if i, ok := arrayIndex(r.AtomString(key)); ok {
			if elems := r.arrays[v.ref].elems; i < len(elems) {
				elems[i] = Undefined
			}
		} else if p := r.arrays[v.ref].props; p != 0 {
			r.deleteOwn(p, key)
		}
	case KindFunction:
		if p := r.funcs[v.ref].props; p != 0 {
			r.deleteOwn(p, key)
		}
	}
	return true, nil
}

// HasProperty implements the in operator.
func (r *Realm) HasProperty(v Value, key intern.Atom) (bool, error) {
	switch v.kind {
	case KindObject:
		for id, depth := v.Object(), 0; id != 0 && depth < 1000; depth++ {
			o := &r.objects[id]
			if h := o.host; h != nil {
				if _, ok, err := h.GetHost(r, r.AtomString(key)); err != nil || ok {
					return ok, err
				}
				o = &r.objects[id]
			}
			if _, ok := o.getOwn(key); ok {
				return true, nil
			}
			if o.proto.kind != KindObject {
				break
			}
			id = o.proto.Object()
		}
		return false, nil
	case KindArray:
		if key == r.atomLength {
			return true, nil
		}
		if i, ok := arrayIndex(r.AtomString(key)); ok {
			return i < len(r.arrays[v.ref].elems), nil
		}
		got, err := r.GetProperty(v, key)
		return !got.IsUndefined(), err
	case KindFunction:
		got, err := r.GetProperty(v, key)
		return !got.IsUndefined(), err
	}
	return false, r.ThrowTypeError("Cannot use 'in' operator to search for '%s' in %s", r.AtomString(key), TypeOf(v))
}

// -- Prototypes --

// GetPrototypeOf returns the prototype of v, or Null.
func (r *Realm) GetPrototypeOf(v Value) Value {
	switch v.kind {
	case KindObject:
		return r.objects[v.ref].proto
	case KindArray:
		return ObjectValue(r.ArrayProto)
	case KindFunction:
		return ObjectValue(r.FunctionProto)
	case KindString:
		return ObjectValue(r.StringProto)
	case KindNumber:
		return ObjectValue(r.NumberProto)
	case KindBool:
		return ObjectValue(r.BooleanProto)
	}
	return Null
}

// SetPrototypeOf changes the prototype of an ordinary object.
func (r *Realm) SetPrototypeOf(v, proto Value) error {
	if v.kind != KindObject {
		return r.ThrowTypeError("Cannot set prototype of %s", TypeOf(v))
	}
	if proto.kind != KindObject && proto.kind != KindNull {
		return r.ThrowTypeError("Object prototype may only be an Object or null")
	}
	for p := proto; p.kind == KindObject; p = r.objects[p.ref].proto {
		if p.ref == v.ref {
			return r.ThrowTypeError("Cyclic __proto__ value")
		}
	}
	r.objects[v.ref].proto = proto
	return nil
}

// InstanceOf implements v instanceof ctor.
func (r *Realm) InstanceOf(v, ctor Value) (bool, error) {
	if ctor.kind != KindFunction {
		return false, r.ThrowTypeError("Right-hand side of 'instanceof' is not callable")
	}
	if !v.IsObjectLike() {
		return false, nil
	}
	protoVal, err := r.GetProperty(ctor, r.atomPrototype)
	if err != nil {
		return false, err
	}
	if protoVal.kind != KindObject {
		return false, r.ThrowTypeError("Function has non-object prototype in instanceof check")
	}
	for p, depth := r.GetPrototypeOf(v), 0; p.kind == KindObject && depth < 1000; depth++ {
		if p.ref == protoVal.ref {
			return true, nil
		}
		p = r.objects[p.ref].proto
	}
	return false, nil
}

// PrepareConstruct returns the receiver for new F() on a compiled function.
func (r *Realm) PrepareConstruct(fn Value) (Value, error) {
	if fn.kind != KindFunction {
		return Undefined, r.ThrowTypeError("%s is not a constructor", r.Display(fn))
	}
	if r.funcs[fn.ref].NoConstruct && r.funcs[fn.ref].Construct == nil {
		return Undefined, r.ThrowTypeError("%s is not a constructor", r.funcs[fn.ref].Name)
	}
	protoVal, err := r.GetProperty(fn, r.atomPrototype)
	if err != nil {
		return Undefined, err
	}
	if protoVal.kind != KindObject {
		protoVal = ObjectValue(r.ObjectProto)
	}
	return ObjectValue(r.NewObjectWithProto(protoVal)), nil
}

// -- Strings --

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// utf16Len is the length of s in UTF-16 code units.
func utf16Len(s string) int {
	if isASCII(s) {
		return len(s)
	}
	n := 0
	for _, c := range s {
		n += utf16.RuneLen(c)
	}
	return n
}

// utf16At returns the code unit at UTF-16 index i as a string.
func utf16At(s string, i int) (string, bool) {
	if isASCII(s) {
		if i < len(s) {
			return s[i : i+1], true
		}
		return "", false
	}
	units := utf16.Encode([]rune(s))
	if i >= len(units) {
		return "", false
	}
	return string(utf16.Decode(units[i : i+1])), true
}
