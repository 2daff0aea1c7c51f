package regvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loupe/internal/script/ast"
	"github.com/xkilldash9x/loupe/internal/script/runtime"
)

// -- Test Helpers --

func newTestVM(t *testing.T, opts ...Option) (*VM, *runtime.Realm) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	r := runtime.NewRealm(logger, runtime.WithSeed(1))
	return New(r, logger, opts...), r
}

func compile(t *testing.T, r *runtime.Realm, src string) *Proto {
	t.Helper()
	prog, err := ast.Parse(src)
	require.NoError(t, err)
	p, err := Compile(r, prog)
	require.NoError(t, err)
	return p
}

func eval(t *testing.T, src string) string {
	t.Helper()
	vm, r := newTestVM(t)
	v, err := vm.Run(compile(t, r, src))
	require.NoError(t, err)
	assert.Zero(t, vm.Depth())
	return r.Display(v)
}

func evalThrow(t *testing.T, src string, opts ...Option) string {
	t.Helper()
	vm, r := newTestVM(t, opts...)
	_, err := vm.Run(compile(t, r, src))
	var te *runtime.ThrowError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, vm.Depth())
	return r.Display(te.Value)
}

// -- Tests --

func TestInstrEncoding(t *testing.T) {
	in := ABC(OpAdd, 2, 0, 1)
	assert.Equal(t, OpAdd, in.Op())
	assert.Equal(t, []int{2, 0, 1}, []int{in.A(), in.B(), in.C()})

	in = AsBx(OpLoadInt, 7, -300)
	assert.Equal(t, 7, in.A())
	assert.Equal(t, -300, in.SBx())

	in = ABx(OpLoadK, 1, 65535)
	assert.Equal(t, 65535, in.Bx())
	assert.Contains(t, Disassemble([]Instr{in}), "LoadK")
}

func TestHandAssembledAdd(t *testing.T) {
	vm, r := newTestVM(t)
	p := &Proto{
		Name:    "add",
		NumRegs: 3,
		Code: []Instr{
			AsBx(OpLoadInt, 0, 10),
			AsBx(OpLoadInt, 1, 5),
			ABC(OpAdd, 2, 0, 1),
			ABC(OpReturn, 2, 0, 0),
		},
	}
	v, err := vm.Run(p)
	require.NoError(t, err)
	require.True(t, v.IsNumber())
	assert.Equal(t, 15.0, v.Num())
	assert.Equal(t, "15", r.Display(v))
}

func TestCompiledPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"precedence", "1 + 2 * 3", "7"},
		{"large constant", "40000 + 0.5", "40000.5"},
		{"closure counter", `
function counter() { let n = 0; return () => ++n; }
const c = counter();
c(); c(); c()`, "3"},
		{"per iteration let", `
var fns = [];
for (let i = 0; i < 3; i++) { fns.push(() => i); }
fns[0]() + fns[1]() * 10 + fns[2]() * 100`, "210"},
		{"try finally order", `
var log = [];
function f() { try { log.push("try"); return "r"; } finally { log.push("finally"); } }
var r = f();
try { throw new TypeError("bad"); } catch (e) { log.push(e.name + ":" + e.message); } finally { log.push("done"); }
log.join(",") + "|" + r`, "try,finally,TypeError:bad,done|r"},
		{"break continue finally", `
var out = "";
for (var i = 0; i < 5; i++) {
  try { if (i == 1) continue; if (i == 3) break; out += i; } finally { out += "f"; }
}
out`, "0ff2ff"},
		{"finally after earlier exits", `
var out = "";
for (var i = 0; i < 5; i++) {
  try { if (i == 1) continue; if (i == 3) break; out += i; } finally { for (let j = 0; j < 1; j++) { out += "f" + i; } }
}
function g() { try { try { return "r"; } finally { out += "a"; } } finally { out += "b"; } }
var before = out;
before + g() + out`, "0f0f12f2f3r0f0f12f2f3ab"},
		{"finally rethrows", `
var seen = "";
try {
  try { throw new Error("inner"); } finally { seen = "cleanup"; }
} catch (e) { seen += ":" + e.message; }
seen`, "cleanup:inner"},
		{"constructors", `
function Point(x, y) { this.x = x; this.y = y; }
Point.prototype.sum = function () { return this.x + this.y; };
var p = new Point(2, 3);
p.sum() + (p instanceof Point ? 10 : 0)`, "15"},
		{"arrow this", `
var obj = { v: 5, get: function () { return [1, 2].map(x => x * this.v); } };
obj.get().join()`, "5,10"},
		{"updates", `
var o = { n: 1 }; var arr = [5];
var a = o.n++; var b = ++o.n; arr[0] += 2; var c = arr[0]--;
[a, b, o.n, c, arr[0]].join()`, "1,3,3,7,6"},
		{"local aliasing", `
function f() { var x = 1; var y = x + (x = 10); return y * 100 + x; }
f()`, "1110"},
		{"logical", `(null ?? "d") + (0 || "x") + (1 && "y")`, "dxy"},
		{"native callbacks", `[3, 1, 2].sort((a, b) => a - b).join()`, "1,2,3"},
		{"typeof undeclared", "typeof missing", "undefined"},
		{"while and do", `
var i = 0, s = 0;
while (i < 4) { s += i; i++; }
do { s *= 2; } while (false);
s`, "12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.src))
		})
	}
}

func TestDeepRecursionUsesFrameStack(t *testing.T) {
	src := `
function sum(n) { return n == 0 ? 0 : n + sum(n - 1); }
sum(5000)`
	assert.Equal(t, "12502500", eval(t, src))
}

func TestThrows(t *testing.T) {
	assert.Equal(t, "Error: boom", evalThrow(t, `throw new Error("boom")`))
	assert.Equal(t, "ReferenceError: missing is not defined", evalThrow(t, "missing + 1"))
	assert.Equal(t, "RangeError: Maximum call stack size exceeded",
		evalThrow(t, "function f() { return f(); } f()", WithMaxFrames(64)))
	assert.Equal(t, "TypeError: 1 is not a function", evalThrow(t, "var n = 1; n()"))
}
