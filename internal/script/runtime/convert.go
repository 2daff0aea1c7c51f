// internal/script/runtime/convert.go
package runtime

import (
	"math"
	"strings"
)

// ToBoolean implements truthiness.
func (r *Realm) ToBoolean(v Value) bool {
	switch v.kind {
	case KindUndefined, KindNull:
		return false
	case KindBool:
		return v.ref != 0
	case KindNumber:
		return v.num != 0 && v.num == v.num
	case KindString:
		return v.ref != 0
	}
	return true
}

// ToNumber converts without invoking script code. Objects convert
// through their string form.
func (r *Realm) ToNumber(v Value) float64 {
	switch v.kind {
	case KindUndefined:
		return math.NaN()
	case KindNull:
		return 0
	case KindBool:
		return float64(v.ref)
	case KindNumber:
		return v.num
	case KindString:
		return ParseNumber(r.GoString(v))
	case KindArray:
		return ParseNumber(r.Display(v))
	}
	return math.NaN()
}

// ToPrimitive converts objects by calling their toString method.
func (r *Realm) ToPrimitive(v Value) (Value, error) {
	if !v.IsObjectLike() {
		return v, nil
	}
	if v.kind == KindArray {
		s, err := r.joinArray(v.Array(), ",", 0)
		return r.Str(s), err
	}
	method, err := r.GetProperty(v, r.atomToString)
	if err != nil {
		return Undefined, err
	}
	if method.kind == KindFunction {
		res, err := r.Call(method, v, nil)
		if err != nil {
			return Undefined, err
		}
		if !res.IsObjectLike() {
			return res, nil
		}
	}
	return Undefined, r.ThrowTypeError("Cannot convert object to primitive value")
}

// ToString implements String(v), calling toString on objects.
func (r *Realm) ToString(v Value) (string, error) {
	p, err := r.ToPrimitive(v)
	if err != nil {
		return "", err
	}
	return r.primitiveString(p), nil
}

// ToNumeric is ToNumber that honours user toString methods.
func (r *Realm) ToNumeric(v Value) (float64, error) {
	if v.kind != KindObject && v.kind != KindFunction {
		return r.ToNumber(v), nil
	}
	p, err := r.ToPrimitive(v)
	if err != nil {
		return 0, err
	}
	return r.ToNumber(p), nil
}

func (r *Realm) primitiveString(v Value) string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		if v.ref != 0 {
			return "true"
		}
		return "false"
	case KindNumber:
		return FormatNumber(v.num)
	case KindString:
		return r.GoString(v)
	}
	return r.Display(v)
}

// Display renders v for logs and error messages without running script
// code.
func (r *Realm) Display(v Value) string {
	return r.display(v, 0)
}

func (r *Realm) display(v Value, depth int) string {
	switch v.kind {
	case KindObject:
		id := v.Object()
		if _, class := r.Internal(id); class == ClassError {
			name, _ := r.objGet(id, r.atomName)
			msg, _ := r.objGet(id, r.atomMessage)
			if m := r.primitiveString(msg); m != "" {
				return r.primitiveString(name) + ": " + m
			}
			return r.primitiveString(name)
		}
		if depth > 0 {
			return "[object Object]"
		}
		var b strings.Builder
		b.WriteString("{")
		for i, k := range r.OwnKeys(id) {
			if i > 0 {
				b.WriteString(",")
			}
			val, _ := r.objects[id].getOwn(k)
			b.WriteString(" " + r.AtomString(k) + ": " + r.quoted(val, depth+1))
		}
		if len(r.OwnKeys(id)) > 0 {
			b.WriteString(" ")
		}
		b.WriteString("}")
		return b.String()
	case KindArray:
		s, _ := r.joinArray(v.Array(), ",", depth+1)
		return s
	case KindFunction:
		f := r.Func(v.Function())
		if f.Native != nil {
			return "function " + f.Name + "() { [native code] }"
		}
		return "function " + f.Name + "() { [code] }"
	}
	return r.primitiveString(v)
}

func (r *Realm) quoted(v Value, depth int) string {
	if v.kind == KindString {
		return "'" + r.GoString(v) + "'"
	}
	return r.display(v, depth)
}

// joinArray joins elements the way Array.prototype.join does, stopping
// at nesting depth 8 to tolerate cycles.
func (r *Realm) joinArray(id ArrayID, sep string, depth int) (string, error) {
	if depth > 8 {
		return "", nil
	}
	elems := r.arrays[id].elems
	parts := make([]string, len(elems))
	for i, e := range elems {
		switch e.kind {
		case KindUndefined, KindNull:
		case KindArray:
			s, err := r.joinArray(e.Array(), ",", depth+1)
			if err != nil {
				return "", err
			}
			parts[i] = s
		default:
			s, err := r.ToString(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		elems = r.arrays[id].elems
		if len(elems) != len(parts) {
			// A toString method resized the array.
			break
		}
	}
	return strings.Join(parts, sep), nil
}

// -- Operators --

// Add implements the + operator.
func (r *Realm) Add(a, b Value) (Value, error) {
	if a.kind == KindNumber && b.kind == KindNumber {
		return Number(a.num + b.num), nil
	}
	pa, err := r.ToPrimitive(a)
	if err != nil {
		return Undefined, err
	}
	pb, err := r.ToPrimitive(b)
	if err != nil {
		return Undefined, err
	}
	if pa.kind == KindString || pb.kind == KindString {
		return r.Str(r.primitiveString(pa) + r.primitiveString(pb)), nil
	}
	return Number(r.ToNumber(pa) + r.ToNumber(pb)), nil
}

// Arith applies a numeric binary operator: - * / % ** & | ^ << >> >>>.
func (r *Realm) Arith(op string, a, b Value) (Value, error) {
	var x, y float64
	if a.kind == KindNumber && b.kind == KindNumber {
		x, y = a.num, b.num
	} else {
		var err error
		if x, err = r.ToNumeric(a); err != nil {
			return Undefined, err
		}
		if y, err = r.ToNumeric(b); err != nil {
			return Undefined, err
		}
	}
	return Number(ArithNumbers(op, x, y)), nil
}

// ArithNumbers applies a numeric operator to two numbers.
func ArithNumbers(op string, x, y float64) float64 {
	switch op {
	case "+":
		return x + y
	case "-":
		return x - y
	case "*":
		return x * y
	case "/":
		return x / y
	case "%":
		if y == 0 || math.IsInf(x, 0) || x != x || y != y {
			return math.NaN()
		}
		if math.IsInf(y, 0) {
			return x
		}
		return math.Mod(x, y)
	case "**":
		if y != y || ((x == 1 || x == -1) && math.IsInf(y, 0)) {
			return math.NaN()
		}
		return math.Pow(x, y)
	case "&":
		return float64(ToInt32(x) & ToInt32(y))
	case "|":
		return float64(ToInt32(x) | ToInt32(y))
	case "^":
		return float64(ToInt32(x) ^ ToInt32(y))
	case "<<":
		return float64(ToInt32(x) << (ToUint32(y) & 31))
	case ">>":
		return float64(ToInt32(x) >> (ToUint32(y) & 31))
	case ">>>":
		return float64(ToUint32(x) >> (ToUint32(y) & 31))
	}
	return math.NaN()
}

// Compare implements < <= > >=.
func (r *Realm) Compare(op string, a, b Value) (bool, error) {
	if a.kind == KindNumber && b.kind == KindNumber {
		return compareNumbers(op, a.num, b.num), nil
	}
	pa, err := r.ToPrimitive(a)
	if err != nil {
		return false, err
	}
	pb, err := r.ToPrimitive(b)
	if err != nil {
		return false, err
	}
	if pa.kind == KindString && pb.kind == KindString {
		x, y := r.GoString(pa), r.GoString(pb)
		switch op {
		case "<":
			return x < y, nil
		case "<=":
			return x <= y, nil
		case ">":
			return x > y, nil
		case ">=":
			return x >= y, nil
		}
		return false, nil
	}
	return compareNumbers(op, r.ToNumber(pa), r.ToNumber(pb)), nil
}

func compareNumbers(op string, x, y float64) bool {
	switch op {
	case "<":
		return x < y
	case "<=":
		return x <= y
	case ">":
		return x > y
	case ">=":
		return x >= y
	}
	return false
}

// LooseEquals implements ==.
func (r *Realm) LooseEquals(a, b Value) (bool, error) {
	if a.kind == b.kind {
		return StrictEquals(a, b), nil
	}
	if a.IsNullish() && b.IsNullish() {
		return true, nil
	}
	if a.IsNullish() || b.IsNullish() {
		return false, nil
	}
	if a.IsObjectLike() && b.IsObjectLike() {
		return false, nil
	}
	if a.IsObjectLike() || b.IsObjectLike() {
		pa, err := r.ToPrimitive(a)
		if err != nil {
			return false, err
		}
		pb, err := r.ToPrimitive(b)
		if err != nil {
			return false, err
		}
		return r.LooseEquals(pa, pb)
	}
	if a.kind == KindString && b.kind == KindString {
		return a.ref == b.ref, nil
	}
	return r.ToNumber(a) == r.ToNumber(b), nil
}

// Call invokes fn with the given receiver.
func (r *Realm) Call(fn, this Value, args []Value) (Value, error) {
	if fn.kind != KindFunction {
		return Undefined, r.ThrowTypeError("%s is not a function", r.Display(fn))
	}
	if native := r.funcs[fn.ref].Native; native != nil {
		return native(r, this, args)
	}
	if r.invoker == nil {
		return Undefined, r.ThrowError("Error", "no virtual machine is attached to the realm")
	}
	return r.invoker.Invoke(fn.Function(), this, args)
}

// ConstructNative runs new on a native function.
func (r *Realm) ConstructNative(fn Value, args []Value) (Value, error) {
	f := r.funcs[fn.ref]
	if f.Construct != nil {
		return f.Construct(r, Undefined, args)
	}
	this, err := r.PrepareConstruct(fn)
	if err != nil {
		return Undefined, err
	}
	res, err := f.Native(r, this, args)
	if err != nil {
		return Undefined, err
	}
	if res.IsObjectLike() {
		return res, nil
	}
	return this, nil
}

// Construct implements new for any function.
func (r *Realm) Construct(fn Value, args []Value) (Value, error) {
	if fn.kind != KindFunction {
		return Undefined, r.ThrowTypeError("%s is not a constructor", r.Display(fn))
	}
	if r.funcs[fn.ref].Native != nil {
		return r.ConstructNative(fn, args)
	}
	this, err := r.PrepareConstruct(fn)
	if err != nil {
		return Undefined, err
	}
	res, err := r.Call(fn, this, args)
	if err != nil {
		return Undefined, err
	}
	if res.IsObjectLike() {
		return res, nil
	}
	return this, nil
}
