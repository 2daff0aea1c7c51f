package stackvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loupe/internal/script/ast"
	"github.com/xkilldash9x/loupe/internal/script/runtime"
)

// -- Test Helpers --

func compile(t *testing.T, r *runtime.Realm, src string) *Proto {
	t.Helper()
	prog, err := ast.Parse(src)
	require.NoError(t, err)
	p, err := Compile(r, prog)
	require.NoError(t, err)
	return p
}

func newTestVM(t *testing.T, opts ...Option) (*VM, *runtime.Realm) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	r := runtime.NewRealm(logger, runtime.WithSeed(1))
	return New(r, logger, opts...), r
}

// eval runs src and returns the displayed completion value.
func eval(t *testing.T, src string) string {
	t.Helper()
	vm, r := newTestVM(t)
	v, err := vm.Run(compile(t, r, src))
	require.NoError(t, err)
	assert.Zero(t, vm.Depth(), "frames left after run")
	return r.Display(v)
}

func evalThrow(t *testing.T, src string, opts ...Option) string {
	t.Helper()
	vm, r := newTestVM(t, opts...)
	_, err := vm.Run(compile(t, r, src))
	var te *runtime.ThrowError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, vm.Depth(), "frames left after throw")
	return r.Display(te.Value)
}

// -- Tests --

func TestArithmeticPrecedence(t *testing.T) {
	assert.Equal(t, "7", eval(t, "1 + 2 * 3"))
}

func TestSpecializedOpcodes(t *testing.T) {
	_, r := newTestVM(t)
	p := compile(t, r, "1 + 2 * 3")
	assert.Equal(t, []Op{
		OpLoadSmallInt1, OpLoadSmallInt2, OpLoadSmallInt3, OpMul, OpAdd,
		OpSetLocal0, OpPop, OpGetLocal0, OpReturn,
	}, Ops(p.Code))

	p = compile(t, r, "-1; 100; -0; 1000")
	ops := Ops(p.Code)
	assert.Contains(t, ops, OpLoadMinusOne)
	assert.Contains(t, ops, OpLoadInt8)
	assert.Len(t, p.Consts, 2, "-0 and 1000 need the constant pool")
	assert.Contains(t, Disassemble(p.Code), "LoadInt8")
}

func TestClosuresShareCapturedVariables(t *testing.T) {
	src := `
function counter() { let n = 0; return () => ++n; }
const c = counter();
c(); c(); c()`
	assert.Equal(t, "3", eval(t, src))
}

func TestLoopBindingsArePerIteration(t *testing.T) {
	src := `
var fns = [];
for (let i = 0; i < 3; i++) { fns.push(() => i); }
fns[0]() + fns[1]() * 10 + fns[2]() * 100`
	assert.Equal(t, "210", eval(t, src))
}

func TestTryCatchFinally(t *testing.T) {
	src := `
var log = [];
function f() { try { log.push("try"); return "r"; } finally { log.push("finally"); } }
var r = f();
try { throw new TypeError("bad"); } catch (e) { log.push(e.name + ":" + e.message); } finally { log.push("done"); }
log.join(",") + "|" + r`
	assert.Equal(t, "try,finally,TypeError:bad,done|r", eval(t, src))
}

func TestBreakAndContinueRunFinally(t *testing.T) {
	src := `
var out = "";
for (var i = 0; i < 5; i++) {
  try { if (i == 1) continue; if (i == 3) break; out += i; } finally { out += "f"; }
}
out`
	assert.Equal(t, "0ff2ff", eval(t, src))
}

func TestFinallyRunsOnEveryExit(t *testing.T) {
	src := `
var out = "";
for (var i = 0; i < 5; i++) {
  try { if (i == 1) continue; if (i == 3) break; out += i; } finally { for (let j = 0; j < 1; j++) { out += "f" + i; } }
}
function g() { try { try { return "r"; } finally { out += "a"; } } finally { out += "b"; } }
var before = out;
before + g() + out`
	assert.Equal(t, "0f0f12f2f3r0f0f12f2f3ab", eval(t, src))
}

func TestFinallyRethrows(t *testing.T) {
	src := `
var seen = "";
try {
  try { throw new Error("inner"); } finally { seen = "cleanup"; }
} catch (e) { seen += ":" + e.message; }
seen`
	assert.Equal(t, "cleanup:inner", eval(t, src))
}

func TestUncaughtThrow(t *testing.T) {
	assert.Equal(t, "Error: boom", evalThrow(t, `throw new Error("boom")`))
	assert.Equal(t, "ReferenceError: missing is not defined", evalThrow(t, "missing + 1"))
	assert.Equal(t, "undefined", eval(t, "typeof missing"))
}

func TestCallStackLimit(t *testing.T) {
	got := evalThrow(t, "function f() { return f(); } f()", WithMaxFrames(100))
	assert.Equal(t, "RangeError: Maximum call stack size exceeded", got)
}

func TestNativesCallBackIntoScript(t *testing.T) {
	assert.Equal(t, "6-2-4", eval(t, `[3, 1, 2].map(x => x * 2).join("-")`))
	assert.Equal(t, "1,2,3", eval(t, `[3, 1, 2].sort((a, b) => a - b).join()`))
	assert.Equal(t, "x", eval(t, `
var msg;
try { [1].forEach(() => { throw new Error("x"); }); } catch (e) { msg = e.message; }
msg`))
}

func TestConstructorsAndPrototypes(t *testing.T) {
	src := `
function Point(x, y) { this.x = x; this.y = y; }
Point.prototype.sum = function () { return this.x + this.y; };
var p = new Point(2, 3);
p.sum() + (p instanceof Point ? 10 : 0)`
	assert.Equal(t, "15", eval(t, src))
	assert.Equal(t, "TypeError: f is not a constructor", evalThrow(t, "var f = () => 1; new f()"))
}

func TestArrowCapturesThis(t *testing.T) {
	src := `
var obj = { v: 5, get: function () { return [1, 2].map(x => x * this.v); } };
obj.get().join()`
	assert.Equal(t, "5,10", eval(t, src))
}

func TestUpdateAndCompoundAssignment(t *testing.T) {
	src := `
var o = { n: 1 }; var arr = [5];
var a = o.n++; var b = ++o.n; arr[0] += 2; var c = arr[0]--;
[a, b, o.n, c, arr[0]].join()`
	assert.Equal(t, "1,3,3,7,6", eval(t, src))
}

func TestLogicalOperators(t *testing.T) {
	assert.Equal(t, "dxy", eval(t, `(null ?? "d") + (0 || "x") + (1 && "y")`))
	assert.Equal(t, "undefined", eval(t, "var x = 1;"))
}

func TestInlineCacheHitsOnSharedShape(t *testing.T) {
	vm, r := newTestVM(t)
	src := `
function getX(o) { return o.x; }
var a = { x: 1, y: 2 }; var b = { x: 3, y: 4 };
getX(a)`
	v, err := vm.Run(compile(t, r, src))
	require.NoError(t, err)
	assert.Equal(t, "1", r.Display(v))

	global := runtime.ObjectValue(r.Global)
	getX, err := r.GetProperty(global, r.Atom("getX"))
	require.NoError(t, err)
	b, err := r.GetProperty(global, r.Atom("b"))
	require.NoError(t, err)

	before := r.Stats
	v, err = r.Call(getX, runtime.Undefined, []runtime.Value{b})
	require.NoError(t, err)
	assert.Equal(t, "3", r.Display(v))
	assert.Equal(t, before.CacheHits+1, r.Stats.CacheHits)
	assert.Equal(t, before.CacheMisses, r.Stats.CacheMisses)
}
