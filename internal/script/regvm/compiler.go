// internal/script/regvm/compiler.go
package regvm

import (
	"fmt"
	"math"

	"github.com/xkilldash9x/loupe/internal/intern"
	"github.com/xkilldash9x/loupe/internal/script/ast"
	"github.com/xkilldash9x/loupe/internal/script/lexer"
	"github.com/xkilldash9x/loupe/internal/script/runtime"
)

// MaxRegisters is the register window of one frame.
const MaxRegisters = 256

// Site is a named property or global access with its inline cache.
type Site struct {
	Name  intern.Atom
	Cache runtime.PropertyCache
}

// Proto is one compiled function body.
type Proto struct {
	Name      string
	NumParams int
	// NumSlots counts the variable registers, which start at r0.
	NumSlots int
	// NumRegs is the highest register used plus one.
	NumRegs  int
	Arrow    bool
	Code     []Instr
	Consts   []runtime.Value
	Sites    []Site
	Protos   []*Proto
	Upvalues []ast.UpvalueDesc
}

type ctlKind uint8

const (
	ctlLoop ctlKind = iota
	ctlTry
	ctlScope
)

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
	top         int
	ctl         []*control
	consts      map[any]int
	globalSites map[string]int
}

// Compile translates a resolved program into register bytecode.
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
	return newCompiler(realm, true).function(prog.Func, "<script>"), nil
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

// -- Registers --

func (c *compiler) alloc() int {
	r := c.top
	c.top++
	if c.top > MaxRegisters {
		c.fail(ast.Pos{}, "expression too complex in function %q", c.proto.Name)
	}
	c.proto.NumRegs = max(c.proto.NumRegs, c.top)
	return r
}

// -- Emission --

func (c *compiler) emit(in Instr) int {
	c.proto.Code = append(c.proto.Code, in)
	return len(c.proto.Code) - 1
}

func (c *compiler) emitField(op Op, a, b int, name string) {
	c.emit(ABC(op, a, b, 0))
	c.emit(ABx(OpExtra, 0, c.u16(c.site(name))))
}

func (c *compiler) u16(v int) int {
	if v > math.MaxUint16 {
		c.fail(ast.Pos{}, "function %q is too large", c.proto.Name)
	}
	return v
}

func (c *compiler) here() int { return len(c.proto.Code) }

// jump emits a jump with an unpatched target.
func (c *compiler) jump(op Op, a int) int { return c.emit(ABx(op, a, 0)) }

func (c *compiler) patchTo(at, target int) {
	in := c.proto.Code[at]
	c.proto.Code[at] = ABx(in.Op(), in.A(), c.u16(target))
}

func (c *compiler) patch(at int) { c.patchTo(at, c.here()) }

func (c *compiler) move(dst, src int) {
	if dst != src {
		c.emit(ABC(OpMove, dst, src, 0))
	}
}

func (c *compiler) constant(key any, v runtime.Value) int {
	if i, ok := c.consts[key]; ok {
		return i
	}
	c.proto.Consts = append(c.proto.Consts, v)
	i := c.u16(len(c.proto.Consts) - 1)
	c.consts[key] = i
	return i
}

func (c *compiler) loadNumber(dst int, f float64) {
	if f == math.Trunc(f) && f >= math.MinInt16 && f <= math.MaxInt16 && !(f == 0 && math.Signbit(f)) {
		c.emit(AsBx(OpLoadInt, dst, int(f)))
		return
	}
	c.emit(ABx(OpLoadK, dst, c.constant(math.Float64bits(f), runtime.Number(f))))
}

func (c *compiler) loadString(dst int, s string) {
	c.emit(ABx(OpLoadK, dst, c.constant("s:"+s, c.realm.Str(s))))
}

func (c *compiler) site(name string) int {
	c.proto.Sites = append(c.proto.Sites, Site{Name: c.realm.Atom(name)})
	return len(c.proto.Sites) - 1
}

func (c *compiler) globalSite(name string) int {
	if i, ok := c.globalSites[name]; ok {
		return i
	}
	i := c.u16(c.site(name))
	c.globalSites[name] = i
	return i
}

func (c *compiler) closeSlots(slots []int) {
	for _, s := range slots {
		c.emit(ABC(OpCloseUpval, s, 0, 0))
	}
}

// -- Variables --

func (c *compiler) load(dst int, ref ast.Ref, name string) {
	switch ref.Kind {
	case ast.RefLocal:
		c.move(dst, ref.Index)
	case ast.RefUpvalue:
		c.emit(ABC(OpGetUpval, dst, ref.Index, 0))
	default:
		c.emit(ABx(OpGetGlobal, dst, c.globalSite(name)))
	}
}

func (c *compiler) store(src int, ref ast.Ref, name string) {
	switch ref.Kind {
	case ast.RefLocal:
		c.move(ref.Index, src)
	case ast.RefUpvalue:
		c.emit(ABC(OpSetUpval, src, ref.Index, 0))
	default:
		c.emit(ABx(OpSetGlobal, src, c.globalSite(name)))
	}
}

func (c *compiler) storeBinding(src int, b *ast.Binding) {
	if b.Global {
		c.emit(ABx(OpSetGlobal, src, c.globalSite(b.Name)))
		return
	}
	c.move(b.Slot, src)
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
	if slots > MaxRegisters-16 {
		c.fail(fn.At, "too many local variables in function %q", name)
	}
	if len(fn.Upvalues) > math.MaxUint8+1 {
		c.fail(fn.At, "too many captured variables in function %q", name)
	}
	c.proto.NumSlots = slots
	c.proto.NumRegs = slots
	c.top = slots

	if fn.ThisBinding != nil {
		c.emit(ABC(OpThis, fn.ThisBinding.Slot, 0, 0))
	}
	if fn.SelfBinding != nil {
		c.emit(ABC(OpCallee, fn.SelfBinding.Slot, 0, 0))
	}
	if c.program {
		c.emit(ABC(OpLoadUndef, c.completion, 0, 0))
		for _, b := range fn.Scope.Bindings {
			if b.Global {
				c.emit(ABx(OpDeclareGlobal, 0, c.globalSite(b.Name)))
			}
		}
	}
	c.hoistFunctions(fn.Body)
	for _, s := range fn.Body {
		c.stmt(s)
	}
	if c.program {
		c.emit(ABC(OpReturn, c.completion, 0, 0))
	} else {
		r := c.alloc()
		c.emit(ABC(OpLoadUndef, r, 0, 0))
		c.emit(ABC(OpReturn, r, 0, 0))
	}
	return c.proto
}

func (c *compiler) hoistFunctions(stmts []ast.Stmt) {
	for _, s := range stmts {
		fd, ok := s.(*ast.FuncDecl)
		if !ok {
			continue
		}
		saved := c.top
		r := fd.Binding.Slot
		if fd.Binding.Global {
			r = c.alloc()
		}
		c.closure(r, fd.Func, fd.Func.Name)
		c.storeBinding(r, fd.Binding)
		c.top = saved
	}
}

func (c *compiler) closure(dst int, fn *ast.Function, name string) {
	p := newCompiler(c.realm, false).function(fn, name)
	c.proto.Protos = append(c.proto.Protos, p)
	c.emit(ABx(OpClosure, dst, c.u16(len(c.proto.Protos)-1)))
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

// unwind emits the exits of every control entry above depth.
func (c *compiler) unwind(depth int) {
	for i := len(c.ctl) - 1; i > depth; i-- {
		e := c.ctl[i]
		switch e.kind {
		case ctlTry:
			if e.handlerActive {
				c.emit(ABC(OpTryEnd, 0, 0, 0))
			}
			if e.finally != nil {
				saved := c.ctl
				c.ctl = c.ctl[:i:i]
				c.block(e.finally)
				c.ctl = saved
			}
		case ctlScope:
			c.closeSlots(e.slots)
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

func (c *compiler) finishLoop(loop *control, cont int) {
	for _, at := range loop.breaks {
		c.patch(at)
	}
	for _, at := range loop.continues {
		c.patchTo(at, cont)
	}
}

// -- Statements --

func (c *compiler) stmt(s ast.Stmt) {
	saved := c.top
	defer func() { c.top = saved }()

	switch s := s.(type) {
	case *ast.VarDecl:
		for _, d := range s.Decls {
			b := d.Binding
			switch {
			case d.Init != nil:
				if b.Global {
					r := c.alloc()
					c.exprNamed(d.Init, r, d.Name)
					c.storeBinding(r, b)
				} else {
					c.exprNamed(d.Init, b.Slot, d.Name)
				}
			case s.Kind != "var":
				if b.Global {
					r := c.alloc()
					c.emit(ABC(OpLoadUndef, r, 0, 0))
					c.storeBinding(r, b)
				} else {
					c.emit(ABC(OpLoadUndef, b.Slot, 0, 0))
				}
			}
			c.top = saved
		}
	case *ast.FuncDecl:
	case *ast.ExprStmt:
		if c.program {
			c.exprTo(s.X, c.completion)
		} else {
			c.expr(s.X)
		}
	case *ast.Return:
		r := c.alloc()
		if s.Value != nil {
			c.exprTo(s.Value, r)
		} else {
			c.emit(ABC(OpLoadUndef, r, 0, 0))
		}
		c.unwind(-1)
		c.emit(ABC(OpReturn, r, 0, 0))
	case *ast.Throw:
		c.emit(ABC(OpThrow, c.expr(s.X), 0, 0))
	case *ast.If:
		elseJump := c.jump(OpJmpIfNot, c.expr(s.Test))
		c.top = saved
		c.stmt(s.Then)
		if s.Else == nil {
			c.patch(elseJump)
			return
		}
		end := c.jump(OpJmp, 0)
		c.patch(elseJump)
		c.stmt(s.Else)
		c.patch(end)
	case *ast.While:
		loop := &control{kind: ctlLoop}
		start := c.here()
		exit := c.jump(OpJmpIfNot, c.expr(s.Test))
		c.top = saved
		c.push(loop)
		c.stmt(s.Body)
		c.pop()
		c.emit(ABx(OpJmp, 0, start))
		c.patch(exit)
		c.finishLoop(loop, start)
	case *ast.DoWhile:
		loop := &control{kind: ctlLoop}
		start := c.here()
		c.push(loop)
		c.stmt(s.Body)
		c.pop()
		cont := c.here()
		c.emit(ABx(OpJmpIf, c.expr(s.Test), start))
		c.finishLoop(loop, cont)
	case *ast.For:
		c.forStmt(s)
	case *ast.Break:
		i := c.nearestLoop()
		c.unwind(i)
		c.ctl[i].breaks = append(c.ctl[i].breaks, c.jump(OpJmp, 0))
	case *ast.Continue:
		i := c.nearestLoop()
		c.unwind(i)
		c.ctl[i].continues = append(c.ctl[i].continues, c.jump(OpJmp, 0))
	case *ast.Block:
		c.block(s)
	case *ast.Try:
		c.tryStmt(s)
	case *ast.Empty:
	default:
		c.fail(s.Position(), "unsupported statement %T", s)
	}
}

func (c *compiler) forStmt(s *ast.For) {
	slots := s.Scope.CapturedSlots()
	c.push(&control{kind: ctlScope, slots: slots})
	if s.Init != nil {
		c.stmt(s.Init)
	}
	saved := c.top
	start := c.here()
	exit := -1
	if s.Test != nil {
		exit = c.jump(OpJmpIfNot, c.expr(s.Test))
		c.top = saved
	}
	loop := &control{kind: ctlLoop}
	c.push(loop)
	c.stmt(s.Body)
	c.pop()
	cont := c.here()
	c.closeSlots(slots)
	if s.Update != nil {
		c.expr(s.Update)
		c.top = saved
	}
	c.emit(ABx(OpJmp, 0, start))
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
	exc := c.alloc()
	entry := &control{kind: ctlTry, finally: s.Finally, handlerActive: true}
	catchAt := c.jump(OpTryStart, exc)
	c.push(entry)
	c.block(s.Block)
	c.pop()
	c.emit(ABC(OpTryEnd, 0, 0, 0))
	normal := c.jump(OpJmp, 0)
	c.patch(catchAt)
	c.closeSlots(entry.captured)

	rethrowAt := -1
	if s.Handler != nil {
		if s.Finally != nil {
			rethrowAt = c.jump(OpTryStart, exc)
			c.push(&control{kind: ctlTry, finally: s.Finally, handlerActive: true})
		}
		if s.ParamBinding != nil {
			c.storeBinding(exc, s.ParamBinding)
		}
		c.block(s.Handler)
		if b := s.ParamBinding; b != nil && b.Captured && !b.Global {
			c.closeSlots([]int{b.Slot})
		}
		if s.Finally == nil {
			c.patch(normal)
			return
		}
		c.pop()
		c.emit(ABC(OpTryEnd, 0, 0, 0))
	} else {
		rethrowAt = c.jump(OpJmp, 0)
	}
	c.patch(normal)
	c.block(s.Finally)
	end := c.jump(OpJmp, 0)
	c.patch(rethrowAt)
	c.block(s.Finally)
	c.emit(ABC(OpThrow, exc, 0, 0))
	c.patch(end)
}

// -- Expressions --

// expr evaluates e into a register, which is a variable register when e
// names a local and a fresh temporary otherwise.
func (c *compiler) expr(e ast.Expr) int {
	if id, ok := e.(*ast.Ident); ok && id.Ref.Kind == ast.RefLocal {
		return id.Ref.Index
	}
	r := c.alloc()
	c.exprTo(e, r)
	return r
}

// operand is expr for a left operand that must survive the evaluation of
// next, which may reassign the variable.
func (c *compiler) operand(e, next ast.Expr) int {
	if simple(next) {
		return c.expr(e)
	}
	r := c.alloc()
	c.exprTo(e, r)
	return r
}

func simple(e ast.Expr) bool {
	switch e.(type) {
	case *ast.NumberLit, *ast.StringLit, *ast.BoolLit, *ast.NullLit, *ast.UndefinedLit,
		*ast.Ident, *ast.ThisExpr, *ast.FuncLit:
		return true
	}
	return false
}

func (c *compiler) exprNamed(e ast.Expr, dst int, name string) {
	if fl, ok := e.(*ast.FuncLit); ok {
		c.closure(dst, fl.Func, name)
		return
	}
	c.exprTo(e, dst)
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

// exprTo evaluates e into dst. Temporaries above dst are released.
func (c *compiler) exprTo(e ast.Expr, dst int) {
	saved := c.top
	defer func() { c.top = saved }()

	switch e := e.(type) {
	case *ast.NumberLit:
		c.loadNumber(dst, e.Value)
	case *ast.StringLit:
		c.loadString(dst, e.Value)
	case *ast.BoolLit:
		if e.Value {
			c.emit(ABC(OpLoadTrue, dst, 0, 0))
		} else {
			c.emit(ABC(OpLoadFalse, dst, 0, 0))
		}
	case *ast.NullLit:
		c.emit(ABC(OpLoadNull, dst, 0, 0))
	case *ast.UndefinedLit:
		c.emit(ABC(OpLoadUndef, dst, 0, 0))
	case *ast.Ident:
		c.load(dst, e.Ref, e.Name)
	case *ast.ThisExpr:
		if e.Ref.Kind == ast.RefNone {
			c.emit(ABC(OpThis, dst, 0, 0))
		} else {
			c.load(dst, e.Ref, "this")
		}
	case *ast.ArrayLit:
		c.arrayLit(e, dst)
	case *ast.ObjectLit:
		obj := c.alloc()
		c.emit(ABC(OpNewObject, obj, 0, 0))
		for _, p := range e.Props {
			inner := c.top
			v := c.alloc()
			c.exprNamed(p.Value, v, p.Key)
			if p.Key == "__proto__" {
				c.emit(ABC(OpSetProto, obj, v, 0))
			} else {
				c.emitField(OpDefineField, obj, v, p.Key)
			}
			c.top = inner
		}
		c.move(dst, obj)
	case *ast.FuncLit:
		c.closure(dst, e.Func, "")
	case *ast.Unary:
		c.unary(e, dst)
	case *ast.Update:
		c.update(e, dst)
	case *ast.Binary:
		l := c.operand(e.L, e.R)
		r := c.expr(e.R)
		c.emit(ABC(c.binaryOp(e.At, e.Op), dst, l, r))
	case *ast.Logical:
		t := c.alloc()
		c.exprTo(e.L, t)
		var j int
		switch e.Op {
		case "&&":
			j = c.jump(OpJmpIfNot, t)
		case "||":
			j = c.jump(OpJmpIf, t)
		default:
			j = c.jump(OpJmpIfNotNullish, t)
		}
		c.exprTo(e.R, t)
		c.patch(j)
		c.move(dst, t)
	case *ast.Assign:
		c.assign(e, dst)
	case *ast.Cond:
		t := c.expr(e.Test)
		elseJump := c.jump(OpJmpIfNot, t)
		c.exprTo(e.Then, dst)
		end := c.jump(OpJmp, 0)
		c.patch(elseJump)
		c.exprTo(e.Else, dst)
		c.patch(end)
	case *ast.Call:
		c.call(e, dst)
	case *ast.New:
		base := c.alloc()
		c.alloc()
		c.exprTo(e.Callee, base)
		c.args(e.At, e.Args)
		c.emit(ABC(OpNew, base, len(e.Args), 0))
		c.move(dst, base)
	case *ast.Member:
		obj := c.expr(e.Obj)
		if e.Name == "__proto__" {
			c.emit(ABC(OpGetProto, dst, obj, 0))
			return
		}
		c.emitField(OpGetField, dst, obj, e.Name)
	case *ast.Index:
		obj := c.operand(e.Obj, e.Index)
		key := c.expr(e.Index)
		c.emit(ABC(OpGetIndex, dst, obj, key))
	case *ast.Sequence:
		for i, x := range e.Exprs {
			if i == len(e.Exprs)-1 {
				c.exprTo(x, dst)
				break
			}
			inner := c.top
			c.expr(x)
			c.top = inner
		}
	default:
		c.fail(e.Position(), "unsupported expression %T", e)
	}
}

func (c *compiler) arrayLit(e *ast.ArrayLit, dst int) {
	arr := c.alloc()
	if len(e.Elems) <= math.MaxUint8 {
		base := c.top
		for _, x := range e.Elems {
			r := c.alloc()
			if x == nil {
				c.emit(ABC(OpLoadUndef, r, 0, 0))
			} else {
				c.exprTo(x, r)
			}
		}
		c.emit(ABC(OpNewArray, arr, base, len(e.Elems)))
		c.move(dst, arr)
		return
	}
	c.emit(ABC(OpNewArray, arr, 0, 0))
	for _, x := range e.Elems {
		inner := c.top
		r := c.alloc()
		if x == nil {
			c.emit(ABC(OpLoadUndef, r, 0, 0))
		} else {
			c.exprTo(x, r)
		}
		c.emit(ABC(OpArrayPush, arr, r, 0))
		c.top = inner
	}
	c.move(dst, arr)
}

// args evaluates call arguments into consecutive registers above the
// callee and receiver.
func (c *compiler) args(at ast.Pos, args []ast.Expr) {
	if len(args) > math.MaxUint8 {
		c.fail(at, "too many arguments")
	}
	for _, a := range args {
		c.exprTo(a, c.alloc())
	}
}

func (c *compiler) call(e *ast.Call, dst int) {
	base := c.alloc()
	recv := c.alloc()
	switch callee := e.Callee.(type) {
	case *ast.Member:
		c.exprTo(callee.Obj, recv)
		c.emitField(OpGetField, base, recv, callee.Name)
	case *ast.Index:
		c.exprTo(callee.Obj, recv)
		key := c.expr(callee.Index)
		c.emit(ABC(OpGetIndex, base, recv, key))
		c.top = recv + 1
	default:
		c.exprTo(e.Callee, base)
		c.emit(ABC(OpLoadUndef, recv, 0, 0))
	}
	c.args(e.At, e.Args)
	c.emit(ABC(OpCall, base, len(e.Args), 0))
	c.move(dst, base)
}

func (c *compiler) unary(e *ast.Unary, dst int) {
	switch e.Op {
	case "-":
		if n, ok := e.X.(*ast.NumberLit); ok {
			c.loadNumber(dst, -n.Value)
			return
		}
		c.emit(ABC(OpNeg, dst, c.expr(e.X), 0))
	case "+":
		c.emit(ABC(OpPlus, dst, c.expr(e.X), 0))
	case "!":
		c.emit(ABC(OpNot, dst, c.expr(e.X), 0))
	case "~":
		c.emit(ABC(OpBitNot, dst, c.expr(e.X), 0))
	case "typeof":
		if id, ok := e.X.(*ast.Ident); ok && id.Ref.Kind == ast.RefGlobal {
			c.emit(ABx(OpTypeofGlobal, dst, c.globalSite(id.Name)))
			return
		}
		c.emit(ABC(OpTypeof, dst, c.expr(e.X), 0))
	case "void":
		c.expr(e.X)
		c.emit(ABC(OpLoadUndef, dst, 0, 0))
	case "delete":
		switch x := e.X.(type) {
		case *ast.Member:
			c.emitField(OpDeleteField, dst, c.expr(x.Obj), x.Name)
		case *ast.Index:
			obj := c.operand(x.Obj, x.Index)
			c.emit(ABC(OpDeleteIndex, dst, obj, c.expr(x.Index)))
		case *ast.Ident:
			c.emit(ABC(OpLoadFalse, dst, 0, 0))
		default:
			c.expr(e.X)
			c.emit(ABC(OpLoadTrue, dst, 0, 0))
		}
	default:
		c.fail(e.At, "unsupported unary operator %q", e.Op)
	}
}

func (c *compiler) update(e *ast.Update, dst int) {
	step := OpInc
	if e.Op == "--" {
		step = OpDec
	}
	cur := c.alloc()
	old := c.alloc()
	// apply leaves the updated value in cur and the expression result in
	// dst.
	apply := func(store func()) {
		if e.Prefix {
			c.emit(ABC(step, cur, cur, 0))
			store()
			c.move(dst, cur)
			return
		}
		c.emit(ABC(OpPlus, old, cur, 0))
		c.emit(ABC(step, cur, old, 0))
		store()
		c.move(dst, old)
	}
	switch x := e.X.(type) {
	case *ast.Ident:
		c.load(cur, x.Ref, x.Name)
		apply(func() { c.store(cur, x.Ref, x.Name) })
	case *ast.Member:
		obj := c.alloc()
		c.exprTo(x.Obj, obj)
		c.emitField(OpGetField, cur, obj, x.Name)
		apply(func() { c.emitField(OpSetField, obj, cur, x.Name) })
	case *ast.Index:
		obj := c.alloc()
		c.exprTo(x.Obj, obj)
		key := c.alloc()
		c.exprTo(x.Index, key)
		c.emit(ABC(OpGetIndex, cur, obj, key))
		apply(func() { c.emit(ABC(OpSetIndex, obj, key, cur)) })
	default:
		c.fail(e.At, "invalid update target")
	}
}

func (c *compiler) assign(e *ast.Assign, dst int) {
	compound := e.Op != "="
	var op Op
	if compound {
		op = c.binaryOp(e.At, e.Op[:len(e.Op)-1])
	}
	switch t := e.Target.(type) {
	case *ast.Ident:
		v := c.alloc()
		if compound {
			c.load(v, t.Ref, t.Name)
			r := c.expr(e.Value)
			c.emit(ABC(op, v, v, r))
		} else {
			c.exprNamed(e.Value, v, t.Name)
		}
		c.store(v, t.Ref, t.Name)
		c.move(dst, v)
	case *ast.Member:
		obj := c.alloc()
		c.exprTo(t.Obj, obj)
		v := c.alloc()
		switch {
		case t.Name == "__proto__" && !compound:
			c.exprTo(e.Value, v)
			c.emit(ABC(OpSetProto, obj, v, 0))
			c.move(dst, v)
			return
		case compound:
			c.emitField(OpGetField, v, obj, t.Name)
			r := c.expr(e.Value)
			c.emit(ABC(op, v, v, r))
		default:
			c.exprNamed(e.Value, v, t.Name)
		}
		c.emitField(OpSetField, obj, v, t.Name)
		c.move(dst, v)
	case *ast.Index:
		obj := c.alloc()
		c.exprTo(t.Obj, obj)
		key := c.alloc()
		c.exprTo(t.Index, key)
		v := c.alloc()
		if compound {
			c.emit(ABC(OpGetIndex, v, obj, key))
			r := c.expr(e.Value)
			c.emit(ABC(op, v, v, r))
		} else {
			c.exprTo(e.Value, v)
		}
		c.emit(ABC(OpSetIndex, obj, key, v))
		c.move(dst, v)
	default:
		c.fail(e.At, "invalid assignment target")
	}
}
