package runtime

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
)

// -- Test Helpers --

func newTestRealm(t *testing.T, opts ...Option) *Realm {
	t.Helper()
	return NewRealm(zaptest.NewLogger(t), append([]Option{WithSeed(1)}, opts...)...)
}

func global(t *testing.T, r *Realm, name string) Value {
	t.Helper()
	v, err := r.GetProperty(ObjectValue(r.Global), r.Atom(name))
	require.NoError(t, err)
	return v
}

func invoke(t *testing.T, r *Realm, recv Value, name string, args ...Value) Value {
	t.Helper()
	fn, err := r.GetProperty(recv, r.Atom(name))
	require.NoError(t, err)
	v, err := r.Call(fn, recv, args)
	require.NoError(t, err)
	return v
}

func thrown(t *testing.T, r *Realm, err error) string {
	t.Helper()
	var te *ThrowError
	require.ErrorAs(t, err, &te)
	return r.Display(te.Value)
}

// -- Tests --

func TestFormatNumber(t *testing.T) {
	a, b := 0.1, 0.2
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{7, "7"},
		{-1.5, "-1.5"},
		{a + b, "0.30000000000000004"},
		{1e21, "1e+21"},
		{1.5e-7, "1.5e-7"},
		{123456789, "123456789"},
		{math.Inf(1), "Infinity"},
		{math.NaN(), "NaN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatNumber(tt.in), "FormatNumber(%v)", tt.in)
	}
}

func TestParseIntAndFloat(t *testing.T) {
	assert.Equal(t, 42.0, ParseInt("  42px", 0))
	assert.Equal(t, 255.0, ParseInt("0xff", 0))
	assert.Equal(t, -7.0, ParseInt("-111", 2))
	assert.True(t, math.IsNaN(ParseInt("px", 10)))
	assert.True(t, math.IsNaN(ParseInt("1", 40)))

	assert.Equal(t, 3.25, ParseFloat("3.25em"))
	assert.Equal(t, 100.0, ParseFloat("1e2x"))
	assert.Equal(t, 1.0, ParseFloat("1e"))
	assert.True(t, math.IsInf(ParseFloat("-Infinity"), -1))
	assert.True(t, math.IsNaN(ParseFloat(".")))
}

func TestToFixedAndRadix(t *testing.T) {
	assert.Equal(t, "3", ToFixed(2.5, 0))
	assert.Equal(t, "1.00", ToFixed(1, 2))
	assert.Equal(t, "-1.3", ToFixed(-1.25, 1))
	assert.Equal(t, "ff", FormatRadix(255, 16))
	assert.Equal(t, "-101", FormatRadix(-5, 2))
	assert.Equal(t, "0.1", FormatRadix(0.5, 2))
}

func TestOperators(t *testing.T) {
	r := newTestRealm(t)

	sum, err := r.Add(Number(1), r.Str("2"))
	require.NoError(t, err)
	assert.Equal(t, "12", r.GoString(sum))

	sum, err = r.Add(Number(1), Bool(true))
	require.NoError(t, err)
	assert.Equal(t, 2.0, sum.Num())

	arr := ArrayValue(r.NewArray([]Value{Number(1), Number(2)}))
	sum, err = r.Add(arr, r.Str("!"))
	require.NoError(t, err)
	assert.Equal(t, "1,2!", r.GoString(sum))

	assert.Equal(t, -1.0, ArithNumbers("%", -1, 3))
	assert.Equal(t, 4294967295.0, ArithNumbers(">>>", -1, 0))
	assert.Equal(t, -2.0, ArithNumbers(">>", -8, 2))
	assert.True(t, math.IsNaN(ArithNumbers("**", 1, math.Inf(1))))

	lt, err := r.Compare("<", r.Str("a"), r.Str("b"))
	require.NoError(t, err)
	assert.True(t, lt)
	lt, err = r.Compare("<", r.Str("10"), Number(9))
	require.NoError(t, err)
	assert.False(t, lt)

	eq, err := r.LooseEquals(Null, Undefined)
	require.NoError(t, err)
	assert.True(t, eq)
	eq, err = r.LooseEquals(r.Str("1"), Number(1))
	require.NoError(t, err)
	assert.True(t, eq)
	eq, err = r.LooseEquals(Null, Number(0))
	require.NoError(t, err)
	assert.False(t, eq)
	assert.False(t, StrictEquals(NaN, NaN))
	assert.True(t, SameValueZero(NaN, NaN))
}

func TestShapesAndInlineCache(t *testing.T) {
	r := newTestRealm(t)
	a, b := r.NewObject(), r.NewObject()
	for _, id := range []ObjectID{a, b} {
		require.NoError(t, r.SetProperty(ObjectValue(id), r.Atom("x"), Number(1)))
		require.NoError(t, r.SetProperty(ObjectValue(id), r.Atom("y"), Number(2)))
	}
	assert.Equal(t, r.ShapeID(a), r.ShapeID(b), "same insertion order shares a shape")

	var cache PropertyCache
	for range 3 {
		v, err := r.GetPropertyCached(ObjectValue(a), r.Atom("y"), &cache)
		require.NoError(t, err)
		assert.Equal(t, 2.0, v.Num())
	}
	assert.Equal(t, uint64(1), r.Stats.CacheMisses)
	assert.Equal(t, uint64(2), r.Stats.CacheHits)

	ok, err := r.DeleteProperty(ObjectValue(b), r.Atom("x"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, r.ShapeID(b), "delete switches to dictionary mode")
	v, err := r.GetPropertyCached(ObjectValue(b), r.Atom("y"), &cache)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.Num())
}

func TestPrototypeCycleRejected(t *testing.T) {
	r := newTestRealm(t)
	a := r.NewObject()
	b := r.NewObjectWithProto(ObjectValue(a))
	err := r.SetPrototypeOf(ObjectValue(a), ObjectValue(b))
	assert.Contains(t, thrown(t, r, err), "Cyclic __proto__ value")
}

func TestPropertyErrors(t *testing.T) {
	r := newTestRealm(t)
	_, err := r.GetProperty(Undefined, r.Atom("x"))
	assert.Equal(t, "TypeError: Cannot read properties of undefined (reading 'x')", thrown(t, r, err))

	arr := ArrayValue(r.NewArray(nil))
	err = r.SetProperty(arr, r.Atom("length"), Number(-1))
	assert.Equal(t, "RangeError: Invalid array length", thrown(t, r, err))

	_, err = r.Call(Number(3), Undefined, nil)
	assert.Contains(t, thrown(t, r, err), "is not a function")
}

func TestStringsUseUTF16Units(t *testing.T) {
	r := newTestRealm(t)
	s := r.Str("a😀b")
	n, err := r.GetProperty(s, r.Atom("length"))
	require.NoError(t, err)
	assert.Equal(t, 4.0, n.Num())

	assert.Equal(t, "b", r.GoString(invoke(t, r, s, "charAt", Number(3))))
	assert.Equal(t, 55357.0, invoke(t, r, s, "charCodeAt", Number(1)).Num())
	assert.Equal(t, "😀b", r.GoString(invoke(t, r, s, "slice", Number(1))))
	assert.Equal(t, "SS", r.GoString(invoke(t, r, r.Str("ß"), "toUpperCase")))
	assert.Equal(t, "-a-b-", r.GoString(invoke(t, r, r.Str("ab"), "replaceAll", r.Str(""), r.Str("-"))))
	assert.Equal(t, "x[b]x", r.GoString(invoke(t, r, r.Str("xbx"), "replace", r.Str("b"), r.Str("[$&]"))))
	assert.Equal(t, "007", r.GoString(invoke(t, r, r.Str("7"), "padStart", Number(3), r.Str("0"))))

	parts := invoke(t, r, r.Str("a,b,,c"), "split", r.Str(","))
	assert.Equal(t, "a|b||c", r.GoString(invoke(t, r, parts, "join", r.Str("|"))))
}

func TestArrayMethods(t *testing.T) {
	r := newTestRealm(t)
	arr := ArrayValue(r.NewArray([]Value{Number(10), Number(9), Number(1), Undefined}))

	invoke(t, r, arr, "sort")
	assert.Equal(t, "1,10,9,", r.Display(arr), "default sort compares strings and puts undefined last")

	byValue := r.NewNative("cmp", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		return Number(r.ToNumber(args[0]) - r.ToNumber(args[1])), nil
	})
	invoke(t, r, arr, "pop")
	invoke(t, r, arr, "sort", byValue)
	assert.Equal(t, "1,9,10", r.Display(arr))

	double := r.NewNative("double", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		return Number(args[0].Num() * 2), nil
	})
	assert.Equal(t, "2,18,20", r.Display(invoke(t, r, arr, "map", double)))

	add := r.NewNative("add", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		return r.Add(args[0], args[1])
	})
	assert.Equal(t, 20.0, invoke(t, r, arr, "reduce", add).Num())

	removed := invoke(t, r, arr, "splice", Number(1), Number(1), r.Str("a"), r.Str("b"))
	assert.Equal(t, "9", r.Display(removed))
	assert.Equal(t, "1,a,b,10", r.Display(arr))

	empty := ArrayValue(r.NewArray(nil))
	fn, err := r.GetProperty(empty, r.Atom("reduce"))
	require.NoError(t, err)
	_, err = r.Call(fn, empty, []Value{add})
	assert.Equal(t, "TypeError: Reduce of empty array with no initial value", thrown(t, r, err))
}

func TestJSON(t *testing.T) {
	r := newTestRealm(t)
	v, err := r.ParseJSON(`{"b": [1, 2.5, "x", null, true], "a": {"nested": "é"}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, r.ownKeyStrings(v), "parse keeps source key order")

	out, ok, err := r.Stringify(v, Undefined, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"b":[1,2.5,"x",null,true],"a":{"nested":"é"}}`, out)

	obj := r.NewObject()
	r.DefineOwn(obj, "skip", Undefined)
	r.DefineOwn(obj, "n", Number(math.Inf(1)))
	r.DefineOwn(obj, "list", ArrayValue(r.NewArray([]Value{Undefined})))
	out, _, err = r.Stringify(ObjectValue(obj), Undefined, 2)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"n\": null,\n  \"list\": [\n    null\n  ]\n}", out)

	r.DefineOwn(obj, "self", ObjectValue(obj))
	_, _, err = r.Stringify(ObjectValue(obj), Undefined, 0)
	assert.Equal(t, "TypeError: Converting circular structure to JSON", thrown(t, r, err))

	_, ok, err = r.Stringify(Undefined, Undefined, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, bad := range []string{`{"a":}`, `[1,`, `1 2`, ``} {
		_, err := r.ParseJSON(bad)
		assert.Contains(t, thrown(t, r, err), "SyntaxError", "input %q", bad)
	}
}

func TestPromiseJobsRunInOrder(t *testing.T) {
	r := newTestRealm(t)
	var order []string
	record := func(tag string) Value {
		return r.NewNative(tag, 1, func(r *Realm, _ Value, args []Value) (Value, error) {
			order = append(order, tag+":"+r.Display(argAt(args, 0)))
			return argAt(args, 0), nil
		})
	}
	promiseCtor := global(t, r, "Promise")
	resolved := invoke(t, r, promiseCtor, "resolve", Number(1))
	chained := invoke(t, r, resolved, "then", record("first"))
	invoke(t, r, chained, "then", record("second"))

	rejected := invoke(t, r, promiseCtor, "reject", r.NewError("Error", "boom"))
	invoke(t, r, rejected, "catch", record("caught"))

	assert.Empty(t, order, "reactions wait for the job queue")
	require.NoError(t, r.RunJobs())
	assert.Equal(t, []string{"first:1", "caught:Error: boom", "second:1"}, order)
	assert.Empty(t, r.UnhandledRejections())

	invoke(t, r, promiseCtor, "reject", r.Str("lost"))
	require.NoError(t, r.RunJobs())
	reasons := r.UnhandledRejections()
	require.Len(t, reasons, 1)
	assert.Equal(t, "lost", r.GoString(reasons[0]))
}

func TestPromiseAdoptsThenable(t *testing.T) {
	r := newTestRealm(t)
	thenable := r.NewObject()
	r.DefineOwn(thenable, "then", r.NewNative("then", 2, func(r *Realm, _ Value, args []Value) (Value, error) {
		return r.Call(args[0], Undefined, []Value{Number(42)})
	}))
	p := r.NewPromise()
	r.ResolvePromise(p, ObjectValue(thenable))
	require.NoError(t, r.RunJobs())
	settled, rejected, result := r.PromiseResult(ObjectValue(p))
	assert.True(t, settled)
	assert.False(t, rejected)
	assert.Equal(t, 42.0, result.Num())
}

func TestConsoleWritesToSink(t *testing.T) {
	var out bytes.Buffer
	r := newTestRealm(t, WithConsole(&out))
	obj := r.NewObject()
	r.DefineOwn(obj, "a", Number(1))
	invoke(t, r, global(t, r, "console"), "log", r.Str("hi"), Number(2), ObjectValue(obj))
	assert.Equal(t, "hi 2 { a: 1 }\n", out.String())
}

func TestTimersNeedScheduler(t *testing.T) {
	r := newTestRealm(t)
	fn := global(t, r, "setTimeout")
	_, err := r.Call(fn, Undefined, []Value{r.NewNative("cb", 0, nil), Number(0)})
	assert.Contains(t, thrown(t, r, err), "unavailable without an event loop")
}

func TestDocumentHost(t *testing.T) {
	doc := dom.NewDocument()
	html := doc.CreateElement("html", nil)
	head := doc.CreateElement("head", nil)
	body := doc.CreateElement("body", nil)
	p := doc.CreateElement("p", nil)
	doc.SetAttr(p, "id", "greeting")
	require.NoError(t, doc.AppendChild(doc.Root(), html))
	require.NoError(t, doc.AppendChild(html, head))
	require.NoError(t, doc.AppendChild(html, body))
	require.NoError(t, doc.AppendChild(body, p))
	require.NoError(t, doc.AppendChild(p, doc.CreateText("hello")))

	r := newTestRealm(t, WithDocument(doc))
	document := global(t, r, "document")

	el := invoke(t, r, document, "getElementById", r.Str("greeting"))
	require.Equal(t, KindObject, el.Kind())
	again := invoke(t, r, document, "getElementById", r.Str("greeting"))
	assert.Equal(t, el, again, "wrappers are cached per node")

	text, err := r.GetProperty(el, r.Atom("textContent"))
	require.NoError(t, err)
	assert.Equal(t, "hello", r.GoString(text))

	require.NoError(t, r.SetProperty(el, r.Atom("textContent"), r.Str("bye")))
	assert.Equal(t, "bye", doc.TextContent(p))

	invoke(t, r, el, "setAttribute", r.Str("class"), r.Str("big"))
	assert.Equal(t, "big", r.GoString(invoke(t, r, el, "getAttribute", r.Str("class"))))

	require.NoError(t, r.SetProperty(document, r.Atom("title"), r.Str("New")))
	assert.Equal(t, "New", doc.Title())

	missing := invoke(t, r, document, "getElementById", r.Str("nope"))
	assert.Equal(t, KindNull, missing.Kind())
}
