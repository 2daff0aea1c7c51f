// internal/script/ast/resolve.go
package ast

import (
	"fmt"

	"github.com/xkilldash9x/loupe/internal/script/lexer"
)

// RefKind says where a name lives at run time.
type RefKind uint8

const (
	// RefNone is an unresolved reference; for ThisExpr it means the
	// current frame's receiver.
	RefNone RefKind = iota
	RefGlobal
	RefLocal
	RefUpvalue
)

// Ref is a resolved variable reference.
type Ref struct {
	Kind RefKind
	// Index is a frame slot for RefLocal and an upvalue index for RefUpvalue.
	Index   int
	Binding *Binding
}

// Binding is one declared name.
type Binding struct {
	Name string
	// Kind is var, let, const, function, param, catch, self or this.
	Kind     string
	Slot     int
	Global   bool
	Captured bool
	fn       *Function
}

func (b *Binding) varLike() bool {
	switch b.Kind {
	case "var", "function", "param", "self":
		return true
	}
	return false
}

// Scope is a lexical scope. Function scopes and block scopes nest through
// Parent across function boundaries.
type Scope struct {
	Parent *Scope
	// Bindings lists the scope's own bindings in declaration order.
	Bindings []*Binding
	fn       *Function
	names    map[string]*Binding
}

// CapturedSlots returns the frame slots of this scope's bindings that
// closures capture.
func (s *Scope) CapturedSlots() []int {
	if s == nil {
		return nil
	}
	var slots []int
	for _, b := range s.Bindings {
		if b.Captured && !b.Global {
			slots = append(slots, b.Slot)
		}
	}
	return slots
}

// UpvalueDesc tells a closure where to find one captured variable when it
// is created.
type UpvalueDesc struct {
	// Local captures a slot of the enclosing frame; otherwise Index is one
	// of the enclosing closure's upvalues.
	Local bool
	Index int
	Name  string
}

type funcState struct {
	fn       *Function
	global   bool
	nextSlot int
}

type resolver struct {
	funcs []*funcState
}

type resolveError struct{ err error }

// Resolve assigns slots and upvalues to every binding in prog.
func Resolve(prog *Program) (err error) {
	r := &resolver{}
	defer func() {
		if rec := recover(); rec != nil {
			e, ok := rec.(resolveError)
			if !ok {
				panic(rec)
			}
			err = e.err
		}
	}()
	r.function(prog.Func, nil, true)
	return nil
}

func (r *resolver) fail(at Pos, format string, args ...any) {
	panic(resolveError{&lexer.SyntaxError{Line: at.Line, Col: at.Col, Msg: fmt.Sprintf(format, args...)}})
}

func (r *resolver) current() *funcState { return r.funcs[len(r.funcs)-1] }

func (r *resolver) function(fn *Function, parent *Scope, global bool) {
	fs := &funcState{fn: fn, global: global}
	r.funcs = append(r.funcs, fs)
	defer func() {
		r.funcs = r.funcs[:len(r.funcs)-1]
		fn.NumSlots = fs.nextSlot
	}()

	scope := &Scope{Parent: parent, fn: fn, names: map[string]*Binding{}}
	fn.Scope = scope
	fn.ParamBindings = fn.ParamBindings[:0]
	fn.Upvalues = fn.Upvalues[:0]
	for _, name := range fn.Params {
		if _, dup := scope.names[name]; dup {
			r.fail(fn.At, "duplicate parameter name %q", name)
		}
		fn.ParamBindings = append(fn.ParamBindings, r.declare(scope, name, "param", fn.At))
	}
	if fn.SelfNamed {
		if _, shadowed := scope.names[fn.Name]; !shadowed {
			fn.SelfBinding = r.declare(scope, fn.Name, "self", fn.At)
		}
	}
	r.hoistVars(fn.Body, scope)
	r.declareLexical(fn.Body, scope)
	for _, s := range fn.Body {
		r.stmt(s, scope)
	}
}

func (r *resolver) declare(scope *Scope, name, kind string, at Pos) *Binding {
	if old, ok := scope.names[name]; ok {
		nb := &Binding{Kind: kind}
		if old.varLike() && nb.varLike() {
			return old
		}
		r.fail(at, "identifier %q has already been declared", name)
	}
	fs := r.current()
	b := &Binding{Name: name, Kind: kind, fn: fs.fn, Slot: -1}
	if fs.global && scope == fs.fn.Scope {
		b.Global = true
	} else {
		b.Slot = fs.nextSlot
		fs.nextSlot++
	}
	scope.names[name] = b
	scope.Bindings = append(scope.Bindings, b)
	return b
}

// hoistVars declares every var in stmts, outside nested functions, in the
// function scope.
func (r *resolver) hoistVars(stmts []Stmt, fnScope *Scope) {
	for _, s := range stmts {
		r.hoistVarsIn(s, fnScope)
	}
}

func (r *resolver) hoistVarsIn(s Stmt, fnScope *Scope) {
	switch s := s.(type) {
	case *VarDecl:
		if s.Kind == "var" {
			for _, d := range s.Decls {
				d.Binding = r.declare(fnScope, d.Name, "var", d.At)
			}
		}
	case *If:
		r.hoistVarsIn(s.Then, fnScope)
		if s.Else != nil {
			r.hoistVarsIn(s.Else, fnScope)
		}
	case *While:
		r.hoistVarsIn(s.Body, fnScope)
	case *DoWhile:
		r.hoistVarsIn(s.Body, fnScope)
	case *For:
		if s.Init != nil {
			r.hoistVarsIn(s.Init, fnScope)
		}
		r.hoistVarsIn(s.Body, fnScope)
	case *Block:
		r.hoistVars(s.Body, fnScope)
	case *Try:
		r.hoistVars(s.Block.Body, fnScope)
		if s.Handler != nil {
			r.hoistVars(s.Handler.Body, fnScope)
		}
		if s.Finally != nil {
			r.hoistVars(s.Finally.Body, fnScope)
		}
	}
}

// declareLexical declares the let, const and function declarations that
// appear directly in stmts.
func (r *resolver) declareLexical(stmts []Stmt, scope *Scope) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *VarDecl:
			if s.Kind != "var" {
				for _, d := range s.Decls {
					d.Binding = r.declare(scope, d.Name, s.Kind, d.At)
				}
			}
		case *FuncDecl:
			s.Binding = r.declare(scope, s.Func.Name, "function", s.At)
		}
	}
}

func newScope(parent *Scope) *Scope {
	return &Scope{Parent: parent, fn: parent.fn, names: map[string]*Binding{}}
}

func (r *resolver) stmt(s Stmt, scope *Scope) {
	switch s := s.(type) {
	case *VarDecl:
		for _, d := range s.Decls {
			if d.Init != nil {
				r.expr(d.Init, scope)
			}
			if d.Binding == nil {
				// A lexical declaration in statement position.
				d.Binding = r.declare(scope, d.Name, s.Kind, d.At)
			}
		}
	case *FuncDecl:
		if s.Binding == nil {
			s.Binding = r.declare(scope, s.Func.Name, "function", s.At)
		}
		r.function(s.Func, scope, false)
	case *ExprStmt:
		r.expr(s.X, scope)
	case *Return:
		if s.Value != nil {
			r.expr(s.Value, scope)
		}
	case *Throw:
		r.expr(s.X, scope)
	case *If:
		r.expr(s.Test, scope)
		r.stmt(s.Then, scope)
		if s.Else != nil {
			r.stmt(s.Else, scope)
		}
	case *While:
		r.expr(s.Test, scope)
		r.stmt(s.Body, scope)
	case *DoWhile:
		r.stmt(s.Body, scope)
		r.expr(s.Test, scope)
	case *For:
		fs := newScope(scope)
		s.Scope = fs
		if s.Init != nil {
			r.declareLexical([]Stmt{s.Init}, fs)
			r.stmt(s.Init, fs)
		}
		if s.Test != nil {
			r.expr(s.Test, fs)
		}
		if s.Update != nil {
			r.expr(s.Update, fs)
		}
		r.stmt(s.Body, fs)
	case *Block:
		r.block(s, scope)
	case *Try:
		r.block(s.Block, scope)
		if s.Handler != nil {
			hs := newScope(scope)
			if s.Param != "" {
				s.ParamBinding = r.declare(hs, s.Param, "catch", s.At)
			}
			r.block(s.Handler, hs)
		}
		if s.Finally != nil {
			r.block(s.Finally, scope)
		}
	case *Break, *Continue, *Empty:
	default:
		panic(fmt.Sprintf("ast: unexpected statement %T", s))
	}
}

func (r *resolver) block(b *Block, scope *Scope) {
	bs := newScope(scope)
	b.Scope = bs
	r.declareLexical(b.Body, bs)
	for _, s := range b.Body {
		r.stmt(s, bs)
	}
}

func (r *resolver) expr(e Expr, scope *Scope) {
	switch e := e.(type) {
	case *NumberLit, *StringLit, *BoolLit, *NullLit, *UndefinedLit:
	case *Ident:
		e.Ref = r.lookup(e.Name, scope)
	case *ThisExpr:
		e.Ref = r.this()
	case *ArrayLit:
		for _, x := range e.Elems {
			r.expr(x, scope)
		}
	case *ObjectLit:
		for _, p := range e.Props {
			r.expr(p.Value, scope)
		}
	case *FuncLit:
		r.function(e.Func, scope, false)
	case *Unary:
		r.expr(e.X, scope)
	case *Update:
		r.expr(e.X, scope)
		r.checkWritable(e.X, e.At)
	case *Binary:
		r.expr(e.L, scope)
		r.expr(e.R, scope)
	case *Logical:
		r.expr(e.L, scope)
		r.expr(e.R, scope)
	case *Assign:
		r.expr(e.Target, scope)
		r.expr(e.Value, scope)
		r.checkWritable(e.Target, e.At)
	case *Cond:
		r.expr(e.Test, scope)
		r.expr(e.Then, scope)
		r.expr(e.Else, scope)
	case *Call:
		r.expr(e.Callee, scope)
		for _, a := range e.Args {
			r.expr(a, scope)
		}
	case *New:
		r.expr(e.Callee, scope)
		for _, a := range e.Args {
			r.expr(a, scope)
		}
	case *Member:
		r.expr(e.Obj, scope)
	case *Index:
		r.expr(e.Obj, scope)
		r.expr(e.Index, scope)
	case *Sequence:
		for _, x := range e.Exprs {
			r.expr(x, scope)
		}
	default:
		panic(fmt.Sprintf("ast: unexpected expression %T", e))
	}
}

func (r *resolver) checkWritable(target Expr, at Pos) {
	if id, ok := target.(*Ident); ok && id.Ref.Binding != nil && id.Ref.Binding.Kind == "const" {
		r.fail(at, "assignment to constant variable %q", id.Name)
	}
}

func (r *resolver) lookup(name string, scope *Scope) Ref {
	for s := scope; s != nil; s = s.Parent {
		if b, ok := s.names[name]; ok {
			return r.refTo(b)
		}
	}
	return Ref{Kind: RefGlobal}
}

func (r *resolver) refTo(b *Binding) Ref {
	if b.Global {
		return Ref{Kind: RefGlobal, Binding: b}
	}
	level := len(r.funcs) - 1
	if r.funcs[level].fn == b.fn {
		return Ref{Kind: RefLocal, Index: b.Slot, Binding: b}
	}
	b.Captured = true
	return Ref{Kind: RefUpvalue, Index: r.upvalue(level, b), Binding: b}
}

// upvalue returns the index of b among the upvalues of the function at
// level, threading it through every function in between.
func (r *resolver) upvalue(level int, b *Binding) int {
	parent := level - 1
	var desc UpvalueDesc
	if r.funcs[parent].fn == b.fn {
		desc = UpvalueDesc{Local: true, Index: b.Slot, Name: b.Name}
	} else {
		desc = UpvalueDesc{Index: r.upvalue(parent, b), Name: b.Name}
	}
	fn := r.funcs[level].fn
	for i, u := range fn.Upvalues {
		if u.Local == desc.Local && u.Index == desc.Index {
			return i
		}
	}
	fn.Upvalues = append(fn.Upvalues, desc)
	return len(fn.Upvalues) - 1
}

// this resolves a this expression. Arrow functions capture the receiver of
// the nearest enclosing ordinary function.
func (r *resolver) this() Ref {
	level := len(r.funcs) - 1
	if !r.funcs[level].fn.Arrow {
		return Ref{}
	}
	k := level
	for k > 0 && r.funcs[k].fn.Arrow {
		k--
	}
	owner := r.funcs[k]
	if owner.fn.ThisBinding == nil {
		owner.fn.ThisBinding = &Binding{Name: "this", Kind: "this", Slot: owner.nextSlot, fn: owner.fn, Captured: true}
		owner.nextSlot++
	}
	return r.refTo(owner.fn.ThisBinding)
}
