// internal/script/runtime/array.go
package runtime

import (
	"slices"
	"strings"
)

func (r *Realm) thisArray(this Value, method string) (ArrayID, error) {
	if this.kind != KindArray {
		return 0, r.ThrowTypeError("Array.prototype.%s called on %s", method, TypeOf(this))
	}
	return this.Array(), nil
}

// relIndex resolves a relative start or end argument against length n.
func (r *Realm) relIndex(v Value, n, def int) int {
	if v.IsUndefined() {
		return def
	}
	f := ToIntegerOrInfinity(r.ToNumber(v))
	if f < 0 {
		return int(max(float64(n)+f, 0))
	}
	return int(min(f, float64(n)))
}

// arrayCallback visits each element present at call time, reading the
// live element so callbacks observe earlier writes.
func (r *Realm) arrayCallback(this Value, args []Value, method string, visit func(i int, v, res Value) (bool, error)) error {
	id, err := r.thisArray(this, method)
	if err != nil {
		return err
	}
	fn := argAt(args, 0)
	if fn.kind != KindFunction {
		return r.ThrowTypeError("%s is not a function", r.Display(fn))
	}
	thisArg := argAt(args, 1)
	n := len(r.arrays[id].elems)
	for i := 0; i < n && i < len(r.arrays[id].elems); i++ {
		v := r.arrays[id].elems[i]
		res, err := r.Call(fn, thisArg, []Value{v, Number(float64(i)), this})
		if err != nil {
			return err
		}
		more, err := visit(i, v, res)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func (r *Realm) installArray() {
	ctor := r.defineCtor("Array", 1, r.ArrayProto, newArray, newArray)
	c := r.funcProps(ctor.Function())
	r.defineMethod(c, "isArray", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		return Bool(argAt(args, 0).kind == KindArray), nil
	})
	r.defineMethod(c, "of", 0, func(r *Realm, _ Value, args []Value) (Value, error) {
		return ArrayValue(r.NewArray(slices.Clone(args))), nil
	})
	r.defineMethod(c, "from", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		src, mapFn := argAt(args, 0), argAt(args, 1)
		var elems []Value
		switch src.kind {
		case KindArray:
			elems = slices.Clone(r.arrays[src.ref].elems)
		case KindString:
			for _, c := range r.GoString(src) {
				elems = append(elems, r.Str(string(c)))
			}
		case KindObject:
			lv, err := r.GetProperty(src, r.atomLength)
			if err != nil {
				return Undefined, err
			}
			n := int(min(max(ToIntegerOrInfinity(r.ToNumber(lv)), 0), maxArrayLength))
			for i := range n {
				v, err := r.GetIndex(src, Number(float64(i)))
				if err != nil {
					return Undefined, err
				}
				elems = append(elems, v)
			}
		case KindUndefined, KindNull:
			return Undefined, r.ThrowTypeError("%s is not iterable", r.Display(src))
		}
		if mapFn.kind == KindFunction {
			for i, v := range elems {
				res, err := r.Call(mapFn, Undefined, []Value{v, Number(float64(i))})
				if err != nil {
					return Undefined, err
				}
				elems[i] = res
			}
		}
		return ArrayValue(r.NewArray(elems)), nil
	})

	p := r.ArrayProto
	r.defineMethod(p, "push", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "push")
		if err != nil {
			return Undefined, err
		}
		a := &r.arrays[id]
		if len(a.elems)+len(args) > maxArrayLength {
			return Undefined, r.ThrowError("RangeError", "Invalid array length")
		}
		a.elems = append(a.elems, args...)
		return Number(float64(len(a.elems))), nil
	})
	r.defineMethod(p, "pop", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		id, err := r.thisArray(this, "pop")
		if err != nil {
			return Undefined, err
		}
		a := &r.arrays[id]
		if len(a.elems) == 0 {
			return Undefined, nil
		}
		v := a.elems[len(a.elems)-1]
		a.elems = a.elems[:len(a.elems)-1]
		return v, nil
	})
	r.defineMethod(p, "shift", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		id, err := r.thisArray(this, "shift")
		if err != nil {
			return Undefined, err
		}
		a := &r.arrays[id]
		if len(a.elems) == 0 {
			return Undefined, nil
		}
		v := a.elems[0]
		a.elems = slices.Delete(a.elems, 0, 1)
		return v, nil
	})
	r.defineMethod(p, "unshift", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "unshift")
		if err != nil {
			return Undefined, err
		}
		a := &r.arrays[id]
		a.elems = slices.Insert(a.elems, 0, args...)
		return Number(float64(len(a.elems))), nil
	})
	r.defineMethod(p, "slice", 2, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "slice")
		if err != nil {
			return Undefined, err
		}
		elems := r.arrays[id].elems
		start := r.relIndex(argAt(args, 0), len(elems), 0)
		end := r.relIndex(argAt(args, 1), len(elems), len(elems))
		if end < start {
			end = start
		}
		return ArrayValue(r.NewArray(slices.Clone(elems[start:end]))), nil
	})
	r.defineMethod(p, "splice", 2, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "splice")
		if err != nil {
			return Undefined, err
		}
		a := &r.arrays[id]
		n := len(a.elems)
		start := r.relIndex(argAt(args, 0), n, 0)
		count := n - start
		switch {
		case len(args) == 0:
			count = 0
		case len(args) >= 2:
			count = int(min(max(ToIntegerOrInfinity(r.ToNumber(args[1])), 0), float64(n-start)))
		}
		removed := slices.Clone(a.elems[start : start+count])
		var items []Value
		if len(args) > 2 {
			items = args[2:]
		}
		a.elems = slices.Replace(a.elems, start, start+count, items...)
		return ArrayValue(r.NewArray(removed)), nil
	})
	r.defineMethod(p, "concat", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "concat")
		if err != nil {
			return Undefined, err
		}
		out := slices.Clone(r.arrays[id].elems)
		for _, a := range args {
			if a.kind == KindArray {
				out = append(out, r.arrays[a.ref].elems...)
			} else {
				out = append(out, a)
			}
		}
		return ArrayValue(r.NewArray(out)), nil
	})
	r.defineMethod(p, "join", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "join")
		if err != nil {
			return Undefined, err
		}
		sep := ","
		if s := argAt(args, 0); !s.IsUndefined() {
			if sep, err = r.ToString(s); err != nil {
				return Undefined, err
			}
		}
		out, err := r.joinArray(id, sep, 0)
		return r.Str(out), err
	})
	r.defineMethod(p, "toString", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		id, err := r.thisArray(this, "toString")
		if err != nil {
			return Undefined, err
		}
		out, err := r.joinArray(id, ",", 0)
		return r.Str(out), err
	})
	r.defineMethod(p, "reverse", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		id, err := r.thisArray(this, "reverse")
		if err != nil {
			return Undefined, err
		}
		slices.Reverse(r.arrays[id].elems)
		return this, nil
	})
	r.defineMethod(p, "indexOf", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "indexOf")
		if err != nil {
			return Undefined, err
		}
		elems := r.arrays[id].elems
		for i := r.relIndex(argAt(args, 1), len(elems), 0); i < len(elems); i++ {
			if StrictEquals(elems[i], argAt(args, 0)) {
				return Number(float64(i)), nil
			}
		}
		return Number(-1), nil
	})
	r.defineMethod(p, "lastIndexOf", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "lastIndexOf")
		if err != nil {
			return Undefined, err
		}
		elems := r.arrays[id].elems
		for i := len(elems) - 1; i >= 0; i-- {
			if StrictEquals(elems[i], argAt(args, 0)) {
				return Number(float64(i)), nil
			}
		}
		return Number(-1), nil
	})
	r.defineMethod(p, "includes", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "includes")
		if err != nil {
			return Undefined, err
		}
		return Bool(slices.ContainsFunc(r.arrays[id].elems, func(v Value) bool {
			return SameValueZero(v, argAt(args, 0))
		})), nil
	})
	r.defineMethod(p, "at", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "at")
		if err != nil {
			return Undefined, err
		}
		elems := r.arrays[id].elems
		i := int(ToIntegerOrInfinity(r.ToNumber(argAt(args, 0))))
		if i < 0 {
			i += len(elems)
		}
		if i < 0 || i >= len(elems) {
			return Undefined, nil
		}
		return elems[i], nil
	})
	r.defineMethod(p, "fill", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "fill")
		if err != nil {
			return Undefined, err
		}
		elems := r.arrays[id].elems
		start := r.relIndex(argAt(args, 1), len(elems), 0)
		end := r.relIndex(argAt(args, 2), len(elems), len(elems))
		for i := start; i < end; i++ {
			elems[i] = argAt(args, 0)
		}
		return this, nil
	})

	r.defineMethod(p, "forEach", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		return Undefined, r.arrayCallback(this, args, "forEach", func(int, Value, Value) (bool, error) { return true, nil })
	})
	r.defineMethod(p, "map", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		var out []Value
		err := r.arrayCallback(this, args, "map", func(_ int, _, res Value) (bool, error) {
			out = append(out, res)
			return true, nil
		})
		if err != nil {
			return Undefined, err
		}
		return ArrayValue(r.NewArray(out)), nil
	})
	r.defineMethod(p, "filter", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		out := []Value{}
		err := r.arrayCallback(this, args, "filter", func(_ int, v, res Value) (bool, error) {
			if r.ToBoolean(res) {
				out = append(out, v)
			}
			return true, nil
		})
		if err != nil {
			return Undefined, err
		}
		return ArrayValue(r.NewArray(out)), nil
	})
	r.defineMethod(p, "find", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		found := Undefined
		err := r.arrayCallback(this, args, "find", func(_ int, v, res Value) (bool, error) {
			if r.ToBoolean(res) {
				found = v
				return false, nil
			}
			return true, nil
		})
		return found, err
	})
	r.defineMethod(p, "findIndex", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		found := -1
		err := r.arrayCallback(this, args, "findIndex", func(i int, _, res Value) (bool, error) {
			if r.ToBoolean(res) {
				found = i
				return false, nil
			}
			return true, nil
		})
		return Number(float64(found)), err
	})
	r.defineMethod(p, "some", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		hit := false
		err := r.arrayCallback(this, args, "some", func(_ int, _, res Value) (bool, error) {
			hit = r.ToBoolean(res)
			return !hit, nil
		})
		return Bool(hit), err
	})
	r.defineMethod(p, "every", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		all := true
		err := r.arrayCallback(this, args, "every", func(_ int, _, res Value) (bool, error) {
			all = r.ToBoolean(res)
			return all, nil
		})
		return Bool(all), err
	})
	reduce := func(name string, fromRight bool) {
		r.defineMethod(p, name, 1, func(r *Realm, this Value, args []Value) (Value, error) {
			id, err := r.thisArray(this, name)
			if err != nil {
				return Undefined, err
			}
			fn := argAt(args, 0)
			if fn.kind != KindFunction {
				return Undefined, r.ThrowTypeError("%s is not a function", r.Display(fn))
			}
			n := len(r.arrays[id].elems)
			order := make([]int, n)
			for i := range n {
				order[i] = i
			}
			if fromRight {
				slices.Reverse(order)
			}
			var acc Value
			if len(args) >= 2 {
				acc = args[1]
			} else {
				if n == 0 {
					return Undefined, r.ThrowTypeError("Reduce of empty array with no initial value")
				}
				acc, order = r.arrays[id].elems[order[0]], order[1:]
			}
			for _, i := range order {
				if i >= len(r.arrays[id].elems) {
					continue
				}
				acc, err = r.Call(fn, Undefined, []Value{acc, r.arrays[id].elems[i], Number(float64(i)), this})
				if err != nil {
					return Undefined, err
				}
			}
			return acc, nil
		})
	}
	reduce("reduce", false)
	reduce("reduceRight", true)
	r.defineMethod(p, "sort", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		id, err := r.thisArray(this, "sort")
		if err != nil {
			return Undefined, err
		}
		cmp := argAt(args, 0)
		if !cmp.IsUndefined() && cmp.kind != KindFunction {
			return Undefined, r.ThrowTypeError("The comparison function must be either a function or undefined")
		}
		sorted, err := r.sortValues(slices.Clone(r.arrays[id].elems), cmp)
		if err != nil {
			return Undefined, err
		}
		r.arrays[id].elems = sorted
		return this, nil
	})
}

func newArray(r *Realm, _ Value, args []Value) (Value, error) {
	if len(args) == 1 && args[0].kind == KindNumber {
		n := args[0].num
		if n < 0 || n > maxArrayLength || n != float64(int(n)) {
			return Undefined, r.ThrowError("RangeError", "Invalid array length")
		}
		return ArrayValue(r.NewArray(make([]Value, int(n)))), nil
	}
	return ArrayValue(r.NewArray(slices.Clone(args))), nil
}

// sortValues is a stable sort placing undefined last. Comparator errors
// abort the sort.
func (r *Realm) sortValues(elems []Value, cmp Value) ([]Value, error) {
	var firstErr error
	byString := cmp.IsUndefined()
	type item struct {
		v   Value
		key string
	}
	items := make([]item, len(elems))
	for i, v := range elems {
		items[i].v = v
		if byString && !v.IsUndefined() {
			s, err := r.ToString(v)
			if err != nil {
				return nil, err
			}
			items[i].key = s
		}
	}
	slices.SortStableFunc(items, func(a, b item) int {
		switch {
		case firstErr != nil:
			return 0
		case a.v.IsUndefined() && b.v.IsUndefined():
			return 0
		case a.v.IsUndefined():
			return 1
		case b.v.IsUndefined():
			return -1
		}
		if byString {
			return strings.Compare(a.key, b.key)
		}
		res, err := r.Call(cmp, Undefined, []Value{a.v, b.v})
		if err != nil {
			firstErr = err
			return 0
		}
		switch n := r.ToNumber(res); {
		case n < 0:
			return -1
		case n > 0:
			return 1
		}
		return 0
	})
	if firstErr != nil {
		return nil, firstErr
	}
	for i := range items {
		elems[i] = items[i].v
	}
	return elems, nil
}
