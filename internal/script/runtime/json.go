// internal/script/runtime/json.go
package runtime

import (
	"errors"
	"io"
	"math"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/loupe/internal/intern"
)

// jsonAPIs holds one frozen config per indentation width; Froze is costly.
var jsonAPIs = func() [11]jsoniter.API {
	var apis [11]jsoniter.API
	for i := range apis {
		apis[i] = jsoniter.Config{EscapeHTML: false, IndentionStep: i}.Froze()
	}
	return apis
}()

func (r *Realm) installJSON() {
	j := r.NewObject()
	r.DefineOwn(r.Global, "JSON", ObjectValue(j))
	r.defineMethod(j, "stringify", 3, func(r *Realm, _ Value, args []Value) (Value, error) {
		indent := 0
		switch sp := argAt(args, 2); sp.kind {
		case KindNumber:
			indent = int(min(max(ToIntegerOrInfinity(sp.num), 0), 10))
		case KindString:
			indent = min(len(r.GoString(sp)), 10)
		}
		out, ok, err := r.Stringify(argAt(args, 0), argAt(args, 1), indent)
		if err != nil || !ok {
			return Undefined, err
		}
		return r.Str(out), nil
	})
	r.defineMethod(j, "parse", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		text, err := r.ToString(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		v, err := r.ParseJSON(text)
		if err != nil {
			return Undefined, err
		}
		if reviver := argAt(args, 1); reviver.kind == KindFunction {
			holder := r.NewObject()
			r.setOwn(holder, r.Atom(""), v)
			return r.revive(ObjectValue(holder), r.Atom(""), reviver)
		}
		return v, nil
	})
}

type jsonWriter struct {
	r        *Realm
	stream   *jsoniter.Stream
	replacer Value
	stack    []Value
}

// Stringify serialises v. ok is false when v has no JSON form.
func (r *Realm) Stringify(v, replacer Value, indent int) (string, bool, error) {
	api := jsonAPIs[min(max(indent, 0), 10)]
	stream := api.BorrowStream(nil)
	defer api.ReturnStream(stream)
	w := &jsonWriter{r: r, stream: stream}
	if replacer.kind == KindFunction {
		w.replacer = replacer
	}
	holder := r.NewObject()
	r.setOwn(holder, r.Atom(""), v)
	ok, err := w.write(ObjectValue(holder), "", v)
	if err != nil || !ok {
		return "", false, err
	}
	if stream.Error != nil {
		return "", false, r.ThrowError("Error", "JSON.stringify: %v", stream.Error)
	}
	return string(stream.Buffer()), true, nil
}

// prepare applies toJSON and the replacer, then reports whether the
// result is serialisable.
func (w *jsonWriter) prepare(holder Value, key string, v Value) (Value, bool, error) {
	r := w.r
	if v.IsObjectLike() {
		toJSON, err := r.GetProperty(v, r.Atom("toJSON"))
		if err != nil {
			return Undefined, false, err
		}
		if toJSON.kind == KindFunction {
			if v, err = r.Call(toJSON, v, []Value{r.Str(key)}); err != nil {
				return Undefined, false, err
			}
		}
	}
	if w.replacer.kind == KindFunction {
		var err error
		if v, err = r.Call(w.replacer, holder, []Value{r.Str(key), v}); err != nil {
			return Undefined, false, err
		}
	}
	switch v.kind {
	case KindUndefined, KindFunction:
		return v, false, nil
	}
	return v, true, nil
}

func (w *jsonWriter) write(holder Value, key string, v Value) (bool, error) {
	v, ok, err := w.prepare(holder, key, v)
	if err != nil || !ok {
		return false, err
	}
	return true, w.emit(v)
}

// emit serialises a value that prepare has already accepted.
func (w *jsonWriter) emit(v Value) error {
	r, s := w.r, w.stream
	switch v.kind {
	case KindNull:
		s.WriteNil()
	case KindBool:
		s.WriteBool(v.ref != 0)
	case KindNumber:
		if math.IsInf(v.num, 0) || v.num != v.num {
			s.WriteNil()
		} else {
			s.WriteRaw(FormatNumber(v.num))
		}
	case KindString:
		s.WriteString(r.GoString(v))
	case KindArray, KindObject:
		for _, seen := range w.stack {
			if seen == v {
				return r.ThrowTypeError("Converting circular structure to JSON")
			}
		}
		w.stack = append(w.stack, v)
		defer func() { w.stack = w.stack[:len(w.stack)-1] }()
		if v.kind == KindArray {
			return w.writeArray(v)
		}
		return w.writeObject(v)
	}
	return nil
}

func (w *jsonWriter) writeArray(v Value) error {
	r, s := w.r, w.stream
	n := len(r.arrays[v.ref].elems)
	if n == 0 {
		s.WriteEmptyArray()
		return nil
	}
	s.WriteArrayStart()
	for i := range n {
		if i > 0 {
			s.WriteMore()
		}
		elem := Undefined
		if i < len(r.arrays[v.ref].elems) {
			elem = r.arrays[v.ref].elems[i]
		}
		ok, err := w.write(v, FormatNumber(float64(i)), elem)
		if err != nil {
			return err
		}
		if !ok {
			s.WriteNil()
		}
	}
	s.WriteArrayEnd()
	return nil
}

func (w *jsonWriter) writeObject(v Value) error {
	r, s := w.r, w.stream
	type field struct {
		key string
		val Value
	}
	var fields []field
	for _, k := range r.ownKeyStrings(v) {
		val, err := r.GetProperty(v, r.Atom(k))
		if err != nil {
			return err
		}
		val, ok, err := w.prepare(v, k, val)
		if err != nil {
			return err
		}
		if ok {
			fields = append(fields, field{k, val})
		}
	}
	if len(fields) == 0 {
		s.WriteEmptyObject()
		return nil
	}
	s.WriteObjectStart()
	for i, f := range fields {
		if i > 0 {
			s.WriteMore()
		}
		s.WriteObjectField(f.key)
		if err := w.emit(f.val); err != nil {
			return err
		}
	}
	s.WriteObjectEnd()
	return nil
}

// ParseJSON parses text into script values. Object keys keep source order.
func (r *Realm) ParseJSON(text string) (Value, error) {
	iter := jsoniter.ParseString(jsonAPIs[0], text)
	v, err := r.readJSON(iter, 0)
	if err != nil {
		return Undefined, err
	}
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return Undefined, r.jsonError(iter.Error.Error())
	}
	if iter.WhatIsNext() != jsoniter.InvalidValue || !errors.Is(iter.Error, io.EOF) {
		return Undefined, r.jsonError("Unexpected non-whitespace character after JSON")
	}
	return v, nil
}

func (r *Realm) jsonError(msg string) error {
	if i := strings.Index(msg, ", error found in"); i >= 0 {
		msg = msg[:i]
	}
	return r.ThrowError("SyntaxError", "JSON.parse: %s", msg)
}

func (r *Realm) readJSON(iter *jsoniter.Iterator, depth int) (Value, error) {
	if depth > 512 {
		return Undefined, r.jsonError("nesting too deep")
	}
	var out Value
	var failed error
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
		out = Null
	case jsoniter.BoolValue:
		out = Bool(iter.ReadBool())
	case jsoniter.NumberValue:
		out = Number(iter.ReadFloat64())
	case jsoniter.StringValue:
		out = r.Str(iter.ReadString())
	case jsoniter.ArrayValue:
		elems := []Value{}
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			v, err := r.readJSON(it, depth+1)
			if err != nil {
				failed = err
				return false
			}
			elems = append(elems, v)
			return true
		})
		out = ArrayValue(r.NewArray(elems))
	case jsoniter.ObjectValue:
		id := r.NewObject()
		iter.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
			v, err := r.readJSON(it, depth+1)
			if err != nil {
				failed = err
				return false
			}
			if err := r.objSet(id, r.Atom(key), v); err != nil {
				failed = err
				return false
			}
			return true
		})
		out = ObjectValue(id)
	default:
		return Undefined, r.jsonError("Unexpected token")
	}
	if failed != nil {
		return Undefined, failed
	}
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return Undefined, r.jsonError(iter.Error.Error())
	}
	return out, nil
}

func (r *Realm) revive(holder Value, key intern.Atom, reviver Value) (Value, error) {
	v, err := r.GetProperty(holder, key)
	if err != nil {
		return Undefined, err
	}
	if v.kind == KindArray || v.kind == KindObject {
		for _, k := range r.ownKeyStrings(v) {
			a := r.Atom(k)
			nv, err := r.revive(v, a, reviver)
			if err != nil {
				return Undefined, err
			}
			if nv.IsUndefined() {
				if _, err := r.DeleteProperty(v, a); err != nil {
					return Undefined, err
				}
			} else if err := r.SetProperty(v, a, nv); err != nil {
				return Undefined, err
			}
		}
	}
	return r.Call(reviver, holder, []Value{StrAtom(key), v})
}
