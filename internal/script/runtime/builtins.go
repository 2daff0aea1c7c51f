// internal/script/runtime/builtins.go
package runtime

import (
	"io"
	"math"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

func argAt(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

func (r *Realm) defineMethod(obj ObjectID, name string, arity int, fn NativeFunc) Value {
	v := r.NewNative(name, arity, fn)
	r.DefineOwn(obj, name, v)
	return v
}

// defineCtor publishes a constructor on the global object with proto as
// its prototype property.
func (r *Realm) defineCtor(name string, arity int, proto ObjectID, call, construct NativeFunc) Value {
	fn := r.NewNative(name, arity, call)
	f := r.Func(fn.Function())
	f.Construct = construct
	if proto != 0 {
		r.setOwn(r.funcProps(fn.Function()), r.atomPrototype, ObjectValue(proto))
		r.setOwn(proto, r.atomConstructor, fn)
	}
	r.DefineOwn(r.Global, name, fn)
	return fn
}

func (r *Realm) installGlobals() {
	r.ObjectProto = r.NewObjectWithProto(Null)
	r.FunctionProto = r.NewObject()
	r.ArrayProto = r.NewObject()
	r.StringProto = r.NewObject()
	r.NumberProto = r.NewObject()
	r.BooleanProto = r.NewObject()
	r.ErrorProto = r.NewObject()
	r.PromiseProto = r.NewObject()
	r.Global = r.NewObject()
	r.SetInternal(r.Global, ClassGlobal, nil)

	g := r.Global
	r.DefineOwn(g, "globalThis", ObjectValue(g))
	r.DefineOwn(g, "window", ObjectValue(g))
	r.DefineOwn(g, "self", ObjectValue(g))
	r.DefineOwn(g, "NaN", NaN)
	r.DefineOwn(g, "Infinity", Number(math.Inf(1)))
	r.DefineOwn(g, "undefined", Undefined)

	r.installObject()
	r.installFunction()
	r.installErrors()
	r.installNumber()
	r.installBoolean()
	r.installMath()
	r.installConsole()
	r.installTimers()
	r.installArray()
	r.installString()
	r.installJSON()
	r.installPromise()
	if r.doc != nil {
		r.installDocument()
	}
}

// -- Object --

// ownKeyStrings lists the enumerable own keys of v, integer keys first.
func (r *Realm) ownKeyStrings(v Value) []string {
	var keys []string
	addObj := func(id ObjectID) {
		var ints []int
		var rest []string
		for _, k := range r.OwnKeys(id) {
			s := r.AtomString(k)
			if i, ok := arrayIndex(s); ok {
				ints = append(ints, i)
				continue
			}
			rest = append(rest, s)
		}
		slices.Sort(ints)
		for _, i := range ints {
			keys = append(keys, strconv.Itoa(i))
		}
		keys = append(keys, rest...)
	}
	switch v.kind {
	case KindObject:
		addObj(v.Object())
	case KindArray:
		for i := range r.arrays[v.ref].elems {
			keys = append(keys, strconv.Itoa(i))
		}
		if p := r.arrays[v.ref].props; p != 0 {
			addObj(p)
		}
	case KindFunction:
		if p := r.funcs[v.ref].props; p != 0 {
			addObj(p)
			keys = slices.DeleteFunc(keys, func(k string) bool { return k == "prototype" })
		}
	case KindString:
		for i := range utf16Len(r.GoString(v)) {
			keys = append(keys, strconv.Itoa(i))
		}
	}
	return keys
}

func (r *Realm) hasOwn(v Value, key string) bool {
	switch v.kind {
	case KindObject:
		_, ok := r.GetOwn(v.Object(), r.Atom(key))
		return ok
	case KindArray:
		if i, ok := arrayIndex(key); ok {
			return i < len(r.arrays[v.ref].elems)
		}
		if key == "length" {
			return true
		}
		if p := r.arrays[v.ref].props; p != 0 {
			_, ok := r.GetOwn(p, r.Atom(key))
			return ok
		}
	case KindFunction:
		if key == "name" || key == "length" {
			return true
		}
		if p := r.funcs[v.ref].props; p != 0 {
			_, ok := r.GetOwn(p, r.Atom(key))
			return ok
		}
	case KindString:
		if i, ok := arrayIndex(key); ok {
			return i < utf16Len(r.GoString(v))
		}
		return key == "length"
	}
	return false
}

func (r *Realm) installObject() {
	objectCall := func(r *Realm, _ Value, args []Value) (Value, error) {
		if v := argAt(args, 0); v.IsObjectLike() {
			return v, nil
		}
		return ObjectValue(r.NewObject()), nil
	}
	ctor := r.defineCtor("Object", 1, r.ObjectProto, objectCall, objectCall)
	c := r.funcProps(ctor.Function())

	r.defineMethod(c, "keys", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		o, err := r.requireObjectCoercible(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		keys := r.ownKeyStrings(o)
		out := make([]Value, len(keys))
		for i, k := range keys {
			out[i] = r.Str(k)
		}
		return ArrayValue(r.NewArray(out)), nil
	})
	r.defineMethod(c, "values", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		o, err := r.requireObjectCoercible(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		keys := r.ownKeyStrings(o)
		out := make([]Value, 0, len(keys))
		for _, k := range keys {
			v, err := r.GetProperty(o, r.Atom(k))
			if err != nil {
				return Undefined, err
			}
			out = append(out, v)
		}
		return ArrayValue(r.NewArray(out)), nil
	})
	r.defineMethod(c, "entries", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		o, err := r.requireObjectCoercible(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		keys := r.ownKeyStrings(o)
		out := make([]Value, 0, len(keys))
		for _, k := range keys {
			v, err := r.GetProperty(o, r.Atom(k))
			if err != nil {
				return Undefined, err
			}
			out = append(out, ArrayValue(r.NewArray([]Value{r.Str(k), v})))
		}
		return ArrayValue(r.NewArray(out)), nil
	})
	r.defineMethod(c, "assign", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		target := argAt(args, 0)
		if !target.IsObjectLike() {
			return Undefined, r.ThrowTypeError("Cannot convert %s to object", r.Display(target))
		}
		for _, src := range args[1:] {
			if src.IsNullish() {
				continue
			}
			for _, k := range r.ownKeyStrings(src) {
				key := r.Atom(k)
				v, err := r.GetProperty(src, key)
				if err != nil {
					return Undefined, err
				}
				if err := r.SetProperty(target, key, v); err != nil {
					return Undefined, err
				}
			}
		}
		return target, nil
	})
	r.defineMethod(c, "create", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		proto := argAt(args, 0)
		if proto.kind != KindObject && proto.kind != KindNull {
			return Undefined, r.ThrowTypeError("Object prototype may only be an Object or null: %s", r.Display(proto))
		}
		return ObjectValue(r.NewObjectWithProto(proto)), nil
	})
	r.defineMethod(c, "getPrototypeOf", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		o, err := r.requireObjectCoercible(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		return r.GetPrototypeOf(o), nil
	})
	r.defineMethod(c, "setPrototypeOf", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		o := argAt(args, 0)
		return o, r.SetPrototypeOf(o, argAt(args, 1))
	})
	r.defineMethod(c, "defineProperty", 3, func(r *Realm, _ Value, args []Value) (Value, error) {
		o, desc := argAt(args, 0), argAt(args, 2)
		if !o.IsObjectLike() {
			return Undefined, r.ThrowTypeError("Object.defineProperty called on non-object")
		}
		if !desc.IsObjectLike() {
			return Undefined, r.ThrowTypeError("Property description must be an object")
		}
		key, err := r.PropertyKey(argAt(args, 1))
		if err != nil {
			return Undefined, err
		}
		v, err := r.GetProperty(desc, r.Atom("value"))
		if err != nil {
			return Undefined, err
		}
		return o, r.SetProperty(o, key, v)
	})

	p := r.ObjectProto
	r.defineMethod(p, "hasOwnProperty", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		key, err := r.ToString(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		return Bool(r.hasOwn(this, key)), nil
	})
	r.defineMethod(p, "toString", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		switch this.kind {
		case KindUndefined:
			return r.Str("[object Undefined]"), nil
		case KindNull:
			return r.Str("[object Null]"), nil
		case KindArray:
			return r.Str("[object Array]"), nil
		case KindFunction:
			return r.Str("[object Function]"), nil
		case KindObject:
			if _, class := r.Internal(this.Object()); class == ClassError {
				return r.Str("[object Error]"), nil
			}
		}
		return r.Str("[object Object]"), nil
	})
	r.defineMethod(p, "valueOf", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		return this, nil
	})
}

func (r *Realm) requireObjectCoercible(v Value) (Value, error) {
	if v.IsNullish() {
		return Undefined, r.ThrowTypeError("Cannot convert undefined or null to object")
	}
	return v, nil
}

// -- Function --

func (r *Realm) installFunction() {
	r.defineCtor("Function", 1, r.FunctionProto, func(r *Realm, _ Value, _ []Value) (Value, error) {
		return Undefined, r.ThrowError("EvalError", "Code generation from strings disallowed")
	}, nil)

	p := r.FunctionProto
	r.defineMethod(p, "call", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		var rest []Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return r.Call(this, argAt(args, 0), rest)
	})
	r.defineMethod(p, "apply", 2, func(r *Realm, this Value, args []Value) (Value, error) {
		list, err := r.argList(argAt(args, 1))
		if err != nil {
			return Undefined, err
		}
		return r.Call(this, argAt(args, 0), list)
	})
	r.defineMethod(p, "bind", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		if this.kind != KindFunction {
			return Undefined, r.ThrowTypeError("Bind must be called on a function")
		}
		target, boundThis := this, argAt(args, 0)
		var bound []Value
		if len(args) > 1 {
			bound = slices.Clone(args[1:])
		}
		tf := r.Func(target.Function())
		name, arity := "bound "+tf.Name, max(tf.Arity-len(bound), 0)
		fn := r.NewNative(name, arity, func(r *Realm, _ Value, args []Value) (Value, error) {
			return r.Call(target, boundThis, append(slices.Clone(bound), args...))
		})
		return fn, nil
	})
	r.defineMethod(p, "toString", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		if this.kind != KindFunction {
			return Undefined, r.ThrowTypeError("Function.prototype.toString requires that 'this' be a Function")
		}
		return r.Str(r.Display(this)), nil
	})
}

// argList converts an apply argument list.
func (r *Realm) argList(v Value) ([]Value, error) {
	switch v.kind {
	case KindUndefined, KindNull:
		return nil, nil
	case KindArray:
		return slices.Clone(r.arrays[v.ref].elems), nil
	}
	return nil, r.ThrowTypeError("CreateListFromArrayLike called on non-object")
}

// -- Errors --

func (r *Realm) installErrors() {
	for _, kind := range []string{"Error", "TypeError", "RangeError", "ReferenceError", "SyntaxError", "EvalError"} {
		proto := r.ErrorProto
		if kind != "Error" {
			proto = r.NewObjectWithProto(ObjectValue(r.ErrorProto))
		}
		r.errorProtos[kind] = proto
		r.DefineOwn(proto, "name", r.Str(kind))
		r.DefineOwn(proto, "message", r.Str(""))
		build := func(r *Realm, _ Value, args []Value) (Value, error) {
			msg := ""
			if m := argAt(args, 0); !m.IsUndefined() {
				s, err := r.ToString(m)
				if err != nil {
					return Undefined, err
				}
				msg = s
			}
			return r.NewError(kind, msg), nil
		}
		r.defineCtor(kind, 1, proto, build, build)
	}
	r.defineMethod(r.ErrorProto, "toString", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		if !this.IsObjectLike() {
			return Undefined, r.ThrowTypeError("Error.prototype.toString called on non-object")
		}
		nameV, err := r.GetProperty(this, r.atomName)
		if err != nil {
			return Undefined, err
		}
		msgV, err := r.GetProperty(this, r.atomMessage)
		if err != nil {
			return Undefined, err
		}
		name, msg := "Error", ""
		if !nameV.IsUndefined() {
			if name, err = r.ToString(nameV); err != nil {
				return Undefined, err
			}
		}
		if !msgV.IsUndefined() {
			if msg, err = r.ToString(msgV); err != nil {
				return Undefined, err
			}
		}
		switch {
		case name == "":
			return r.Str(msg), nil
		case msg == "":
			return r.Str(name), nil
		}
		return r.Str(name + ": " + msg), nil
	})
}

// -- Number and Boolean --

func (r *Realm) thisNumber(this Value, method string) (float64, error) {
	if this.kind != KindNumber {
		return 0, r.ThrowTypeError("Number.prototype.%s requires that 'this' be a Number", method)
	}
	return this.num, nil
}

func (r *Realm) installNumber() {
	ctor := r.defineCtor("Number", 1, r.NumberProto, func(r *Realm, _ Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return Number(0), nil
		}
		n, err := r.ToNumeric(args[0])
		return Number(n), err
	}, nil)
	c := r.funcProps(ctor.Function())
	r.DefineOwn(c, "MAX_SAFE_INTEGER", Number(1<<53-1))
	r.DefineOwn(c, "MIN_SAFE_INTEGER", Number(-(1<<53 - 1)))
	r.DefineOwn(c, "EPSILON", Number(math.Nextafter(1, 2)-1))
	r.DefineOwn(c, "MAX_VALUE", Number(math.MaxFloat64))
	r.DefineOwn(c, "MIN_VALUE", Number(math.SmallestNonzeroFloat64))
	r.DefineOwn(c, "POSITIVE_INFINITY", Number(math.Inf(1)))
	r.DefineOwn(c, "NEGATIVE_INFINITY", Number(math.Inf(-1)))
	r.DefineOwn(c, "NaN", NaN)
	r.defineMethod(c, "isInteger", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		v := argAt(args, 0)
		return Bool(v.kind == KindNumber && !math.IsInf(v.num, 0) && v.num == math.Trunc(v.num)), nil
	})
	r.defineMethod(c, "isSafeInteger", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		v := argAt(args, 0)
		return Bool(v.kind == KindNumber && v.num == math.Trunc(v.num) && math.Abs(v.num) <= 1<<53-1), nil
	})
	r.defineMethod(c, "isFinite", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		v := argAt(args, 0)
		return Bool(v.kind == KindNumber && !math.IsInf(v.num, 0) && v.num == v.num), nil
	})
	r.defineMethod(c, "isNaN", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		v := argAt(args, 0)
		return Bool(v.kind == KindNumber && v.num != v.num), nil
	})

	parseIntFn := r.defineMethod(r.Global, "parseInt", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		s, err := r.ToString(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		radix := 0
		if rv := argAt(args, 1); !rv.IsUndefined() {
			radix = int(ToInt32(r.ToNumber(rv)))
		}
		return Number(ParseInt(s, radix)), nil
	})
	parseFloatFn := r.defineMethod(r.Global, "parseFloat", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		s, err := r.ToString(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		return Number(ParseFloat(s)), nil
	})
	r.DefineOwn(c, "parseInt", parseIntFn)
	r.DefineOwn(c, "parseFloat", parseFloatFn)
	r.defineMethod(r.Global, "isNaN", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		n, err := r.ToNumeric(argAt(args, 0))
		return Bool(n != n), err
	})
	r.defineMethod(r.Global, "isFinite", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		n, err := r.ToNumeric(argAt(args, 0))
		return Bool(!math.IsInf(n, 0) && n == n), err
	})

	p := r.NumberProto
	r.defineMethod(p, "toString", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		x, err := r.thisNumber(this, "toString")
		if err != nil {
			return Undefined, err
		}
		radix := 10
		if rv := argAt(args, 0); !rv.IsUndefined() {
			radix = int(ToIntegerOrInfinity(r.ToNumber(rv)))
		}
		if radix < 2 || radix > 36 {
			return Undefined, r.ThrowError("RangeError", "toString() radix must be between 2 and 36")
		}
		if radix == 10 {
			return r.Str(FormatNumber(x)), nil
		}
		return r.Str(FormatRadix(x, radix)), nil
	})
	r.defineMethod(p, "toFixed", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		x, err := r.thisNumber(this, "toFixed")
		if err != nil {
			return Undefined, err
		}
		d := ToIntegerOrInfinity(r.ToNumber(argAt(args, 0)))
		if d < 0 || d > 100 {
			return Undefined, r.ThrowError("RangeError", "toFixed() digits argument must be between 0 and 100")
		}
		return r.Str(ToFixed(x, int(d))), nil
	})
	r.defineMethod(p, "valueOf", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		x, err := r.thisNumber(this, "valueOf")
		return Number(x), err
	})
}

func (r *Realm) installBoolean() {
	r.defineCtor("Boolean", 1, r.BooleanProto, func(r *Realm, _ Value, args []Value) (Value, error) {
		return Bool(r.ToBoolean(argAt(args, 0))), nil
	}, nil)
	r.defineMethod(r.BooleanProto, "toString", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		if this.kind != KindBool {
			return Undefined, r.ThrowTypeError("Boolean.prototype.toString requires that 'this' be a Boolean")
		}
		return r.Str(r.primitiveString(this)), nil
	})
	r.defineMethod(r.BooleanProto, "valueOf", 0, func(r *Realm, this Value, _ []Value) (Value, error) {
		return this, nil
	})
}

func isJSSpace(c rune) bool { return unicode.IsSpace(c) || c == '\ufeff' }

// ParseInt implements the global parseInt.
func ParseInt(s string, radix int) float64 {
	s = strings.TrimLeftFunc(s, isJSSpace)
	sign := 1.0
	if s != "" && (s[0] == '-' || s[0] == '+') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	hexPrefix := len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
	switch {
	case radix == 0 && hexPrefix:
		radix, s = 16, s[2:]
	case radix == 0:
		radix = 10
	case radix == 16 && hexPrefix:
		s = s[2:]
	case radix < 2 || radix > 36:
		return math.NaN()
	}
	end := 0
	for end < len(s) && digitValue(s[end]) < radix {
		end++
	}
	if end == 0 {
		return math.NaN()
	}
	if radix == 10 {
		f, _ := strconv.ParseFloat(s[:end], 64)
		return sign * f
	}
	v := 0.0
	for i := range end {
		v = v*float64(radix) + float64(digitValue(s[i]))
	}
	return sign * v
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return 99
}

// ParseFloat implements the global parseFloat: the longest decimal prefix.
func ParseFloat(s string) float64 {
	s = strings.TrimLeftFunc(s, isJSSpace)
	body := strings.TrimLeft(s, "+-")
	if len(s)-len(body) <= 1 && strings.HasPrefix(body, "Infinity") {
		if strings.HasPrefix(s, "-") {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i, digits = i+1, digits+1
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i, digits = i+1, digits+1
		}
	}
	if digits == 0 {
		return math.NaN()
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && s[j] >= '0' && s[j] <= '9' {
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			i = j
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s[:i], "."), 64)
	if err != nil && f == 0 {
		return math.NaN()
	}
	return f
}

// FormatRadix renders x in the given base, with up to 20 fractional digits.
func FormatRadix(x float64, radix int) string {
	switch {
	case x != x:
		return "NaN"
	case math.IsInf(x, 1):
		return "Infinity"
	case math.IsInf(x, -1):
		return "-Infinity"
	}
	neg := x < 0
	x = math.Abs(x)
	ip := math.Floor(x)
	intPart, _ := big.NewFloat(ip).Int(nil)
	s := intPart.Text(radix)
	if fp := x - ip; fp > 0 {
		var b strings.Builder
		b.WriteString(s)
		b.WriteByte('.')
		for i := 0; i < 20 && fp > 0; i++ {
			fp *= float64(radix)
			d := int(fp)
			b.WriteByte("0123456789abcdefghijklmnopqrstuvwxyz"[d])
			fp -= float64(d)
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}

// ToFixed implements Number.prototype.toFixed. Exact ties round away
// from zero.
func ToFixed(x float64, digits int) string {
	if x != x {
		return "NaN"
	}
	if math.Abs(x) >= 1e21 || math.IsInf(x, 0) {
		return FormatNumber(x)
	}
	neg := x < 0
	ax := math.Abs(x)
	scale := math.Pow(10, float64(digits))
	scaled := ax * scale
	if f := math.Floor(scaled); scaled-f == 0.5 && f/scale <= ax {
		ax = (f + 1) / scale
	}
	s := strconv.FormatFloat(ax, 'f', digits, 64)
	if neg && strings.Trim(s, "0.") != "" {
		return "-" + s
	}
	return s
}

// -- Math --

func (r *Realm) installMath() {
	m := r.NewObject()
	r.DefineOwn(r.Global, "Math", ObjectValue(m))
	for name, v := range map[string]float64{
		"PI": math.Pi, "E": math.E, "LN2": math.Ln2, "LN10": math.Ln10,
		"LOG2E": math.Log2E, "LOG10E": math.Log10E, "SQRT2": math.Sqrt2, "SQRT1_2": math.Sqrt2 / 2,
	} {
		r.DefineOwn(m, name, Number(v))
	}
	unary := map[string]func(float64) float64{
		"abs": math.Abs, "floor": math.Floor, "ceil": math.Ceil, "trunc": math.Trunc,
		"sqrt": math.Sqrt, "cbrt": math.Cbrt, "sin": math.Sin, "cos": math.Cos,
		"tan": math.Tan, "asin": math.Asin, "acos": math.Acos, "atan": math.Atan,
		"exp": math.Exp, "log": math.Log, "log2": math.Log2, "log10": math.Log10,
		"round": func(x float64) float64 {
			f := math.Floor(x)
			if x-f >= 0.5 {
				return f + 1
			}
			return f
		},
		"sign": func(x float64) float64 {
			switch {
			case x > 0:
				return 1
			case x < 0:
				return -1
			}
			return x
		},
	}
	for name, fn := range unary {
		r.defineMethod(m, name, 1, func(r *Realm, _ Value, args []Value) (Value, error) {
			x, err := r.ToNumeric(argAt(args, 0))
			return Number(fn(x)), err
		})
	}
	r.defineMethod(m, "atan2", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		return Number(math.Atan2(r.ToNumber(argAt(args, 0)), r.ToNumber(argAt(args, 1)))), nil
	})
	r.defineMethod(m, "pow", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		return Number(ArithNumbers("**", r.ToNumber(argAt(args, 0)), r.ToNumber(argAt(args, 1)))), nil
	})
	r.defineMethod(m, "hypot", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		sum := 0.0
		for _, a := range args {
			x := r.ToNumber(a)
			if math.IsInf(x, 0) {
				return Number(math.Inf(1)), nil
			}
			sum += x * x
		}
		return Number(math.Sqrt(sum)), nil
	})
	extreme := func(name string, start float64, better func(a, b float64) bool) {
		r.defineMethod(m, name, 2, func(r *Realm, _ Value, args []Value) (Value, error) {
			best := start
			for _, a := range args {
				x, err := r.ToNumeric(a)
				if err != nil {
					return Undefined, err
				}
				if x != x {
					return NaN, nil
				}
				if better(x, best) {
					best = x
				}
			}
			return Number(best), nil
		})
	}
	extreme("max", math.Inf(-1), func(a, b float64) bool { return a > b })
	extreme("min", math.Inf(1), func(a, b float64) bool { return a < b })
	r.defineMethod(m, "random", 0, func(r *Realm, _ Value, _ []Value) (Value, error) {
		return Number(r.rng.Float64()), nil
	})
}

// -- console --

func (r *Realm) installConsole() {
	c := r.NewObject()
	r.DefineOwn(r.Global, "console", ObjectValue(c))
	levels := map[string]func(string, ...zap.Field){
		"log":   r.logger.Info,
		"info":  r.logger.Info,
		"debug": r.logger.Debug,
		"warn":  r.logger.Warn,
		"error": r.logger.Error,
	}
	for name, logf := range levels {
		r.defineMethod(c, name, 0, func(r *Realm, _ Value, args []Value) (Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				if a.kind == KindString {
					parts[i] = r.GoString(a)
				} else {
					parts[i] = r.Display(a)
				}
			}
			line := strings.Join(parts, " ")
			logf("console."+name, zap.String("message", line))
			if r.console != nil {
				_, _ = io.WriteString(r.console, line+"\n")
			}
			return Undefined, nil
		})
	}
}

// -- Timers --

// EnqueueJob queues a microtask on the scheduler, or on the realm's own
// queue when no event loop is attached.
func (r *Realm) EnqueueJob(job func() error) {
	if r.scheduler != nil {
		r.scheduler.EnqueueMicrotask(job)
		return
	}
	r.jobs = append(r.jobs, job)
}

// RunJobs drains jobs queued without a scheduler.
func (r *Realm) RunJobs() error {
	for len(r.jobs) > 0 {
		job := r.jobs[0]
		r.jobs = r.jobs[1:]
		if err := job(); err != nil {
			return err
		}
	}
	return nil
}

func timerDelay(r *Realm, v Value) time.Duration {
	ms := r.ToNumber(v)
	if ms != ms || ms < 0 {
		ms = 0
	}
	return time.Duration(min(ms, 1<<31-1) * float64(time.Millisecond))
}

func (r *Realm) installTimers() {
	needScheduler := func(name string) error {
		if r.scheduler == nil {
			return r.ThrowError("Error", "%s is unavailable without an event loop", name)
		}
		return nil
	}
	r.defineMethod(r.Global, "setTimeout", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		if err := needScheduler("setTimeout"); err != nil {
			return Undefined, err
		}
		fn := argAt(args, 0)
		if fn.kind != KindFunction {
			return Undefined, r.ThrowTypeError("The callback provided to setTimeout must be a function")
		}
		var extra []Value
		if len(args) > 2 {
			extra = slices.Clone(args[2:])
		}
		id := r.scheduler.SetTimeout(timerDelay(r, argAt(args, 1)), func() error {
			_, err := r.Call(fn, Undefined, extra)
			return err
		})
		return Number(float64(id)), nil
	})
	r.defineMethod(r.Global, "setInterval", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		if err := needScheduler("setInterval"); err != nil {
			return Undefined, err
		}
		fn := argAt(args, 0)
		if fn.kind != KindFunction {
			return Undefined, r.ThrowTypeError("The callback provided to setInterval must be a function")
		}
		delay := max(timerDelay(r, argAt(args, 1)), time.Millisecond)
		var first int
		var tick func() error
		tick = func() error {
			if _, live := r.intervals[first]; !live {
				return nil
			}
			r.intervals[first] = r.scheduler.SetTimeout(delay, tick)
			_, err := r.Call(fn, Undefined, nil)
			return err
		}
		first = r.scheduler.SetTimeout(delay, tick)
		r.intervals[first] = first
		return Number(float64(first)), nil
	})
	clearTimer := func(r *Realm, _ Value, args []Value) (Value, error) {
		if r.scheduler == nil {
			return Undefined, nil
		}
		id := int(r.ToNumber(argAt(args, 0)))
		if cur, ok := r.intervals[id]; ok {
			delete(r.intervals, id)
			id = cur
		}
		r.scheduler.ClearTimeout(id)
		return Undefined, nil
	}
	r.defineMethod(r.Global, "clearTimeout", 1, clearTimer)
	r.defineMethod(r.Global, "clearInterval", 1, clearTimer)
	r.defineMethod(r.Global, "queueMicrotask", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		fn := argAt(args, 0)
		if fn.kind != KindFunction {
			return Undefined, r.ThrowTypeError("The callback provided to queueMicrotask must be a function")
		}
		r.EnqueueJob(func() error {
			_, err := r.Call(fn, Undefined, nil)
			return err
		})
		return Undefined, nil
	})
}
