// internal/script/stackvm/compiler.go
package stackvm

import (
	"fmt"
	"math"

	"github.com/xkilldash9x/loupe/internal/intern"
	"github.com/xkilldash9x/loupe/internal/script/ast"
	"github.com/xkilldash9x/loupe/internal/script/lexer"
	"github.com/xkilldash9x/loupe/internal/script/runtime"
)

// Site is a named access point in the bytecode with its inline cache.
type Site struct {
	Name  intern.Atom
	Cache runtime.PropertyCache
}

// Proto is one compiled function body.
type Proto struct {
	Name      string
	NumParams int
	NumSlots  int
	Arrow     bool
	Code      []byte
	Consts    []runtime.Value
	Sites     []Site
	Protos    []*Proto
	Upvalues  []ast.UpvalueDesc
}

type ctlKind uint8

const (
	ctlLoop ctlKind = iota
	ctlTry
	ctlScope
	ctlExtra
)

// control is one entry of the compile-time stack that break, continue
// and return unwind through.
type control struct {
	kind ctlKind

	breaks    []int
	continues []int

	finally       *ast.Block
	handlerActive bool
	captured      []int

	slots []int
}

type compileError struct{ err error }

type compiler struct {
	realm       *runtime.Realm
	proto       *Proto
	program     bool
	completion  int
	ctl         []*control
	consts      map[any]int
	globalSites map[string]int
}

// Compile translates a resolved program into bytecode. Strings and
// property names are interned in realm.
func Compile(realm *runtime.Realm, prog *ast.Program) (proto *Proto, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ce, ok := rec.(compileError)
			if !ok {
				panic(rec)
			}
			err = ce.err
		}
	}()
	c := newCompiler(realm, true)
	return c.function(prog.Func, "<script>"), nil
}

func newCompiler(realm *runtime.Realm, program bool) *compiler {
	return &compiler{
		realm:       realm,
		program:     program,
		completion:  -1,
		consts:      map[any]int{},
		globalSites: map[string]int{},
	}
}

func (c *compiler) fail(at ast.Pos, format string, args ...any) {
	panic(compileError{&lexer.SyntaxError{Line: at.Line, Col: at.Col, Msg: fmt.Sprintf(format, args...)}})
}

// -- Emission --

func (c *compiler) emit(op Op) { c.proto.Code = append(c.proto.Code, byte(op)) }

func (c *compiler) emitU8(op Op, v int) {
	if v < 0 || v > math.MaxUint8 {
		c.fail(ast.Pos{}, "operand %d out of range for %s", v, op)
	}
	c.proto.Code = append(c.proto.Code, byte(op), byte(v))
}

func (c *compiler) emitU16(op Op, v int) {
	if v < 0 || v > math.MaxUint16 {
		c.fail(ast.Pos{}, "operand %d out of range for %s", v, op)
	}
	c.proto.Code = append(c.proto.Code, byte(op), byte(v>>8), byte(v))
}

// emitJump writes a jump with a placeholder target and returns the
// operand offset to patch.
func (c *compiler) emitJump(op Op) int {
	c.proto.Code = append(c.proto.Code, byte(op), 0, 0)
	return len(c.proto.Code) - 2
}

func (c *compiler) patchTo(at, target int) {
	if target > math.MaxUint16 {
		c.fail(ast.Pos{}, "function body too large")
	}
	c.proto.Code[at] = byte(target >> 8)
	c.proto.Code[at+1] = byte(target)
}

func (c *compiler) patch(at int) { c.patchTo(at, len(c.proto.Code)) }

func (c *compiler) here() int { return len(c.proto.Code) }

func (c *compiler) jumpBack(op Op, target int) { c.emitU16(op, target) }

func (c *compiler) constant(key any, v runtime.Value) int {
	if i, ok := c.consts[key]; ok {
		return i
	}
	c.proto.Consts = append(c.proto.Consts, v)
	i := len(c.proto.Consts) - 1
	c.consts[key] = i
	return i
}

func (c *compiler) emitNumber(f float64) {
	switch {
	case f == math.Trunc(f) && f >= 0 && f <= 7 && !math.Signbit(f):
		c.emit(OpLoadSmallInt0 + Op(f))
	case f == -1:
		c.emit(OpLoadMinusOne)
	case f == math.Trunc(f) && f >= math.MinInt8 && f <= math.MaxInt8 && !(f == 0 && math.Signbit(f)):
		c.proto.Code = append(c.proto.Code, byte(OpLoadInt8), byte(int8(f)))
	default:
		c.emitU16(OpLoadConst, c.constant(math.Float64bits(f), runtime.Number(f)))
	}
}

func (c *compiler) emitString(s string) {
	c.emitU16(OpLoadConst, c.constant("s:"+s, c.realm.Str(s)))
}

// site allocates a fresh inline-cache site.
func (c *compiler) site(name string) int {
	c.proto.Sites = append(c.proto.Sites, Site{Name: c.realm.Atom(name)})
	return len(c.proto.Sites) - 1
}

func (c *compiler) globalSite(name string) int {
	if i, ok := c.globalSites[name]; ok {
		return i
	}
	i := c.site(name)
	c.globalSites[name] = i
	return i
}

func (c *compiler) getLocal(slot int) {
	switch slot {
	case 0:
		c.emit(OpGetLocal0)
	case 1:
		c.emit(OpGetLocal1)
	default:
		c.emitU8(OpGetLocal, slot)
	}
}

func (c *compiler) setLocal(slot int) {
	switch slot {
	case 0:
		c.emit(OpSetLocal0)
	case 1:
		c.emit(OpSetLocal1)
	default:
		c.emitU8(OpSetLocal, slot)
	}
}

func (c *compiler) closeSlots(slots []int) {
	for _, s := range slots {
		c.emitU8(OpCloseUpvalue, s)
	}
}

// -- Variables --

func (c *compiler) load(ref ast.Ref, name string) {
	switch ref.Kind {
	case ast.RefLocal:
		c.getLocal(ref.Index)
	case ast.RefUpvalue:
		c.emitU8(OpGetUpvalue, ref.Index)
	default:
		c.emitU16(OpGetGlobal, c.globalSite(name))
	}
}

// store writes the top of stack to a variable and leaves it there.
func (c *compiler) store(ref ast.Ref, name string) {
	switch ref.Kind {
	case ast.RefLocal:
		c.setLocal(ref.Index)
	case ast.RefUpvalue:
		c.emitU8(OpSetUpvalue, ref.Index)
	default:
		c.emitU16(OpSetGlobal, c.globalSite(name))
	}
}

func (c *compiler) storeBinding(b *ast.Binding) {
	if b.Global {
		c.emitU16(OpSetGlobal, c.globalSite(b.Name))
		return
	}
	c.setLocal(b.Slot)
}

// -- Functions --

func (c *compiler) function(fn *ast.Function, name string) *Proto {
	if fn.Name != "" {
		name = fn.Name
	}
	c.proto = &Proto{Name: name, NumParams: len(fn.Params), Arrow: fn.Arrow, Upvalues: fn.Upvalues}
	slots := fn.NumSlots
	if c.program {
		c.completion = slots
		slots++
	}
	if slots > math.MaxUint8+1 {
		c.fail(fn.At, "too many local variables in function %q", name)
	}
	if len(fn.Upvalues) > math.MaxUint8+1 {
		c.fail(fn.At, "too many captured variables in function %q", name)
	}
	c.proto.NumSlots = slots

	if fn.ThisBinding != nil {
		c.emit(OpThis)
		c.setLocal(fn.ThisBinding.Slot)
		c.emit(OpPop)
	}
	if fn.SelfBinding != nil {
		c.emit(OpCallee)
		c.setLocal(fn.SelfBinding.Slot)
		c.emit(OpPop)
	}
	if c.program {
		for _, b := range fn.Scope.Bindings {
			if b.Global {
				c.emitU16(OpDeclareGlobal, c.globalSite(b.Name))
			}
		}
	}
	c.hoistFunctions(fn.Body)
	for _, s := range fn.Body {
		c.stmt(s)
	}
	if c.program {
		c.getLocal(c.completion)
	} else {
		c.emit(OpLoadUndefined)
	}
	c.emit(OpReturn)
	return c.proto
}

// hoistFunctions instantiates the function declarations of a statement
// list before its first statement runs.
func (c *compiler) hoistFunctions(stmts []ast.Stmt) {
	for _, s := range stmts {
		if fd, ok := s.(*ast.FuncDecl); ok {
			c.closure(fd.Func, fd.Func.Name)
			c.storeBinding(fd.Binding)
			c.emit(OpPop)
		}
	}
}

func (c *compiler) closure(fn *ast.Function, name string) {
	child := newCompiler(c.realm, false)
	p := child.function(fn, name)
	c.proto.Protos = append(c.proto.Protos, p)
	c.emitU16(OpClosure, len(c.proto.Protos)-1)
}

// -- Control stack --

func (c *compiler) push(e *control) {
	if e.kind == ctlScope {
		for _, outer := range c.ctl {
			if outer.kind == ctlTry {
				outer.captured = append(outer.captured, e.slots...)
			}
		}
	}
	c.ctl = append(c.ctl, e)
}

func (c *compiler) pop() { c.ctl = c.ctl[:len(c.ctl)-1] }

// unwind emits the exits for every control entry above depth: handler
// removal, inlined finally blocks, closed scopes and discarded stack
// values.
func (c *compiler) unwind(depth int, popExtras bool) {
	for i := len(c.ctl) - 1; i > depth; i-- {
		e := c.ctl[i]
		switch e.kind {
		case ctlTry:
			if e.handlerActive {
				c.emit(OpTryEnd)
			}
			if e.finally != nil {
				saved := c.ctl
				c.ctl = c.ctl[:i:i]
				c.block(e.finally)
				c.ctl = saved
			}
		case ctlScope:
			c.closeSlots(e.slots)
		case ctlExtra:
			if popExtras {
				c.emit(OpPop)
			}
		}
	}
}

func (c *compiler) nearestLoop() int {
	for i := len(c.ctl) - 1; i >= 0; i-- {
		if c.ctl[i].kind == ctlLoop {
			return i
		}
	}
	return -1
}

// -- Statements --

func (c *compiler) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.VarDecl:
		for _, d := range s.Decls {
			switch {
			case d.Init != nil:
				c.exprNamed(d.Init, d.Name)
			case s.Kind != "var":
				c.emit(OpLoadUndefined)
			default:
				continue
			}
			c.storeBinding(d.Binding)
			c.emit(OpPop)
		}
	case *ast.FuncDecl:
	case *ast.ExprStmt:
		c.expr(s.X)
		if c.program {
			c.setLocal(c.completion)
		}
		c.emit(OpPop)
	case *ast.Return:
		if s.Value != nil {
			c.expr(s.Value)
		} else {
			c.emit(OpLoadUndefined)
		}
		c.unwind(-1, false)
		c.emit(OpReturn)
	case *ast.Throw:
		c.expr(s.X)
		c.emit(OpThrow)
	case *ast.If:
		c.expr(s.Test)
		elseJump := c.emitJump(OpJumpIfFalse)
		c.stmt(s.Then)
		if s.Else == nil {
			c.patch(elseJump)
			return
		}
		endJump := c.emitJump(OpJump)
		c.patch(elseJump)
		c.stmt(s.Else)
		c.patch(endJump)
	case *ast.While:
		loop := &control{kind: ctlLoop}
		start := c.here()
		c.expr(s.Test)
		exit := c.emitJump(OpJumpIfFalse)
		c.push(loop)
		c.stmt(s.Body)
		c.pop()
		c.jumpBack(OpJump, start)
		c.patch(exit)
		c.finishLoop(loop, start)
	case *ast.DoWhile:
		loop := &control{kind: ctlLoop}
		start := c.here()
		c.push(loop)
		c.stmt(s.Body)
		c.pop()
		cont := c.here()
		c.expr(s.Test)
		c.jumpBack(OpJumpIfTrue, start)
		c.finishLoop(loop, cont)
	case *ast.For:
		c.forStmt(s)
	case *ast.Break:
		i := c.nearestLoop()
		c.unwind(i, true)
		c.ctl[i].breaks = append(c.ctl[i].breaks, c.emitJump(OpJump))
	case *ast.Continue:
		i := c.nearestLoop()
		c.unwind(i, true)
		c.ctl[i].continues = append(c.ctl[i].continues, c.emitJump(OpJump))
	case *ast.Block:
		c.block(s)
	case *ast.Try:
		c.tryStmt(s)
	case *ast.Empty:
	default:
		c.fail(s.Position(), "unsupported statement %T", s)
	}
}

// finishLoop points breaks at the current offset and continues at cont.
func (c *compiler) finishLoop(loop *control, cont int) {
	for _, at := range loop.breaks {
		c.patch(at)
	}
	for _, at := range loop.continues {
		c.patchTo(at, cont)
	}
}

func (c *compiler) forStmt(s *ast.For) {
	slots := s.Scope.CapturedSlots()
	scope := &control{kind: ctlScope, slots: slots}
	c.push(scope)
	if s.Init != nil {
		c.stmt(s.Init)
	}
	start := c.here()
	exit := -1
	if s.Test != nil {
		c.expr(s.Test)
		exit = c.emitJump(OpJumpIfFalse)
	}
	loop := &control{kind: ctlLoop}
	c.push(loop)
	c.stmt(s.Body)
	c.pop()
	cont := c.here()
	// Each iteration gets fresh bindings for captured loop variables.
	c.closeSlots(slots)
	if s.Update != nil {
		c.expr(s.Update)
		c.emit(OpPop)
	}
	c.jumpBack(OpJump, start)
	if exit >= 0 {
		c.patch(exit)
	}
	c.finishLoop(loop, cont)
	c.pop()
	c.closeSlots(slots)
}

func (c *compiler) block(b *ast.Block) {
	slots := b.Scope.CapturedSlots()
	c.push(&control{kind: ctlScope, slots: slots})
	c.hoistFunctions(b.Body)
	for _, s := range b.Body {
		c.stmt(s)
	}
	c.pop()
	c.closeSlots(slots)
}

func (c *compiler) tryStmt(s *ast.Try) {
	entry := &control{kind: ctlTry, finally: s.Finally, handlerActive: true}
	catchAt := c.emitJump(OpTryStart)
	c.push(entry)
	c.block(s.Block)
	c.pop()
	c.emit(OpTryEnd)

	if s.Handler == nil {
		// try/finally: the normal path runs finally inline.
		c.block(s.Finally)
		end := c.emitJump(OpJump)
		c.patch(catchAt)
		c.closeSlots(entry.captured)
		c.finallyRethrow(s.Finally)
		c.patch(end)
		return
	}

	normal := c.emitJump(OpJump)
	c.patch(catchAt)
	c.closeSlots(entry.captured)
	rethrowAt := -1
	if s.Finally != nil {
		rethrowAt = c.emitJump(OpTryStart)
		c.push(&control{kind: ctlTry, finally: s.Finally, handlerActive: true})
	}
	if s.ParamBinding != nil {
		c.storeBinding(s.ParamBinding)
	}
	c.emit(OpPop)
	c.block(s.Handler)
	if b := s.ParamBinding; b != nil && b.Captured && !b.Global {
		c.closeSlots([]int{b.Slot})
	}
	if s.Finally == nil {
		c.patch(normal)
		return
	}
	c.pop()
	c.emit(OpTryEnd)
	c.patch(normal)
	c.block(s.Finally)
	end := c.emitJump(OpJump)
	c.patch(rethrowAt)
	c.finallyRethrow(s.Finally)
	c.patch(end)
}

// finallyRethrow runs finally with the pending exception on the stack and
// then throws it again.
func (c *compiler) finallyRethrow(finally *ast.Block) {
	c.push(&control{kind: ctlExtra})
	c.block(finally)
	c.pop()
	c.emit(OpThrow)
}

// -- Expressions --

// exprNamed compiles e, naming anonymous functions after the binding they
// initialise.
func (c *compiler) exprNamed(e ast.Expr, name string) {
	if fl, ok := e.(*ast.FuncLit); ok {
		c.closure(fl.Func, name)
		return
	}
	c.expr(e)
}

var binaryOps = map[string]Op{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "%": OpMod, "**": OpExp,
	"&": OpBitAnd, "|": OpBitOr, "^": OpBitXor, "<<": OpShl, ">>": OpShr, ">>>": OpUShr,
	"<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe,
	"==": OpEq, "!=": OpNe, "===": OpStrictEq, "!==": OpStrictNe,
	"instanceof": OpInstanceOf, "in": OpIn,
}

func (c *compiler) binaryOp(at ast.Pos, op string) Op {
	o, ok := binaryOps[op]
	if !ok {
		c.fail(at, "unsupported operator %q", op)
	}
	return o
}

func (c *compiler) expr(e ast.Expr) {
	switch e := e.(type) {
	case *ast.NumberLit:
		c.emitNumber(e.Value)
	case *ast.StringLit:
		c.emitString(e.Value)
	case *ast.BoolLit:
		if e.Value {
			c.emit(OpLoadTrue)
		} else {
			c.emit(OpLoadFalse)
		}
	case *ast.NullLit:
		c.emit(OpLoadNull)
	case *ast.UndefinedLit:
		c.emit(OpLoadUndefined)
	case *ast.Ident:
		c.load(e.Ref, e.Name)
	case *ast.ThisExpr:
		if e.Ref.Kind == ast.RefNone {
			c.emit(OpThis)
		} else {
			c.load(e.Ref, "this")
		}
	case *ast.ArrayLit:
		for _, x := range e.Elems {
			if x == nil {
				c.emit(OpLoadUndefined)
			} else {
				c.expr(x)
			}
		}
		c.emitU16(OpNewArray, len(e.Elems))
	case *ast.ObjectLit:
		c.emit(OpNewObject)
		for _, p := range e.Props {
			if p.Key == "__proto__" {
				c.emit(OpDup)
				c.expr(p.Value)
				c.emit(OpSetPrototype)
				c.emit(OpPop)
				continue
			}
			c.exprNamed(p.Value, p.Key)
			c.emitU16(OpDefineField, c.site(p.Key))
		}
	case *ast.FuncLit:
		c.closure(e.Func, "")
	case *ast.Unary:
		c.unary(e)
	case *ast.Update:
		c.update(e)
	case *ast.Binary:
		c.expr(e.L)
		c.expr(e.R)
		c.emit(c.binaryOp(e.At, e.Op))
	case *ast.Logical:
		c.expr(e.L)
		var j int
		switch e.Op {
		case "&&":
			j = c.emitJump(OpJumpIfFalseKeep)
		case "||":
			j = c.emitJump(OpJumpIfTrueKeep)
		default:
			j = c.emitJump(OpJumpIfNonNullish)
		}
		c.expr(e.R)
		c.patch(j)
	case *ast.Assign:
		c.assign(e)
	case *ast.Cond:
		c.expr(e.Test)
		elseJump := c.emitJump(OpJumpIfFalse)
		c.expr(e.Then)
		end := c.emitJump(OpJump)
		c.patch(elseJump)
		c.expr(e.Else)
		c.patch(end)
	case *ast.Call:
		c.call(e)
	case *ast.New:
		c.expr(e.Callee)
		c.args(e.At, e.Args)
		c.emitU8(OpNew, len(e.Args))
	case *ast.Member:
		c.expr(e.Obj)
		if e.Name == "__proto__" {
			c.emit(OpGetPrototype)
			return
		}
		c.emitU16(OpGetProperty, c.site(e.Name))
	case *ast.Index:
		c.expr(e.Obj)
		c.expr(e.Index)
		c.emit(OpGetIndex)
	case *ast.Sequence:
		for i, x := range e.Exprs {
			if i > 0 {
				c.emit(OpPop)
			}
			c.expr(x)
		}
	default:
		c.fail(e.Position(), "unsupported expression %T", e)
	}
}

func (c *compiler) args(at ast.Pos, args []ast.Expr) {
	if len(args) > math.MaxUint8 {
		c.fail(at, "too many arguments")
	}
	for _, a := range args {
		c.expr(a)
	}
}

func (c *compiler) call(e *ast.Call) {
	switch callee := e.Callee.(type) {
	case *ast.Member:
		c.expr(callee.Obj)
		c.emit(OpDup)
		c.emitU16(OpGetProperty, c.site(callee.Name))
		c.emit(OpSwap)
	case *ast.Index:
		c.expr(callee.Obj)
		c.emit(OpDup)
		c.expr(callee.Index)
		c.emit(OpGetIndex)
		c.emit(OpSwap)
	default:
		c.expr(e.Callee)
		c.emit(OpLoadUndefined)
	}
	c.args(e.At, e.Args)
	c.emitU8(OpCall, len(e.Args))
}

func (c *compiler) unary(e *ast.Unary) {
	switch e.Op {
	case "-":
		if n, ok := e.X.(*ast.NumberLit); ok {
			c.emitNumber(-n.Value)
			return
		}
		c.expr(e.X)
		c.emit(OpNeg)
	case "+":
		c.expr(e.X)
		c.emit(OpPlus)
	case "!":
		c.expr(e.X)
		c.emit(OpNot)
	case "~":
		c.expr(e.X)
		c.emit(OpBitNot)
	case "typeof":
		if id, ok := e.X.(*ast.Ident); ok && id.Ref.Kind == ast.RefGlobal {
			c.emitU16(OpTypeofGlobal, c.globalSite(id.Name))
			return
		}
		c.expr(e.X)
		c.emit(OpTypeof)
	case "void":
		c.expr(e.X)
		c.emit(OpPop)
		c.emit(OpLoadUndefined)
	case "delete":
		switch x := e.X.(type) {
		case *ast.Member:
			c.expr(x.Obj)
			c.emitU16(OpDeleteProperty, c.site(x.Name))
		case *ast.Index:
			c.expr(x.Obj)
			c.expr(x.Index)
			c.emit(OpDeleteIndex)
		case *ast.Ident:
			c.emit(OpLoadFalse)
		default:
			c.expr(e.X)
			c.emit(OpPop)
			c.emit(OpLoadTrue)
		}
	default:
		c.fail(e.At, "unsupported unary operator %q", e.Op)
	}
}

func (c *compiler) update(e *ast.Update) {
	step := OpInc
	if e.Op == "--" {
		step = OpDec
	}
	switch x := e.X.(type) {
	case *ast.Ident:
		c.load(x.Ref, x.Name)
		if e.Prefix {
			c.emit(step)
			c.store(x.Ref, x.Name)
			return
		}
		c.emit(OpPlus)
		c.emit(OpDup)
		c.emit(step)
		c.store(x.Ref, x.Name)
		c.emit(OpPop)
	case *ast.Member:
		c.expr(x.Obj)
		c.emit(OpDup)
		c.emitU16(OpGetProperty, c.site(x.Name))
		if e.Prefix {
			c.emit(step)
			c.emitU16(OpSetProperty, c.site(x.Name))
			return
		}
		c.emit(OpPlus)
		c.emit(OpDup)
		c.emit(OpRot3)
		c.emit(step)
		c.emitU16(OpSetProperty, c.site(x.Name))
		c.emit(OpPop)
	case *ast.Index:
		c.expr(x.Obj)
		c.expr(x.Index)
		c.emit(OpDup2)
		c.emit(OpGetIndex)
		if e.Prefix {
			c.emit(step)
			c.emit(OpSetIndex)
			return
		}
		c.emit(OpPlus)
		c.emit(OpDup)
		c.emit(OpRot4)
		c.emit(step)
		c.emit(OpSetIndex)
		c.emit(OpPop)
	default:
		c.fail(e.At, "invalid update target")
	}
}

func (c *compiler) assign(e *ast.Assign) {
	compound := e.Op != "="
	var op Op
	if compound {
		op = c.binaryOp(e.At, e.Op[:len(e.Op)-1])
	}
	switch t := e.Target.(type) {
	case *ast.Ident:
		if compound {
			c.load(t.Ref, t.Name)
			c.expr(e.Value)
			c.emit(op)
		} else {
			c.exprNamed(e.Value, t.Name)
		}
		c.store(t.Ref, t.Name)
	case *ast.Member:
		c.expr(t.Obj)
		if t.Name == "__proto__" && !compound {
			c.expr(e.Value)
			c.emit(OpSetPrototype)
			return
		}
		if compound {
			c.emit(OpDup)
			c.emitU16(OpGetProperty, c.site(t.Name))
			c.expr(e.Value)
			c.emit(op)
		} else {
			c.exprNamed(e.Value, t.Name)
		}
		c.emitU16(OpSetProperty, c.site(t.Name))
	case *ast.Index:
		c.expr(t.Obj)
		c.expr(t.Index)
		if compound {
			c.emit(OpDup2)
			c.emit(OpGetIndex)
			c.expr(e.Value)
			c.emit(op)
		} else {
			c.expr(e.Value)
		}
		c.emit(OpSetIndex)
	default:
		c.fail(e.At, "invalid assignment target")
	}
}
