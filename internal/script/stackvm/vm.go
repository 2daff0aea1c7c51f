// internal/script/stackvm/vm.go
package stackvm

import (
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loupe/internal/script/runtime"
)

// DefaultMaxFrames bounds call depth.
const DefaultMaxFrames = 10000

type frame struct {
	proto     *Proto
	fn        runtime.FunctionID
	ip        int
	base      int
	this      runtime.Value
	construct bool
}

// handler is an installed catch target.
type handler struct {
	catchIP    int
	stackLevel int
	frameLevel int
}

// VM interprets stack bytecode against one realm. It implements
// runtime.Invoker so natives can call back into script functions.
type VM struct {
	realm     *runtime.Realm
	logger    *zap.Logger
	stack     []runtime.Value
	frames    []frame
	handlers  []handler
	open      runtime.OpenUpvalues
	maxFrames int
}

// Option configures a VM.
type Option func(*VM)

// WithMaxFrames overrides DefaultMaxFrames.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxFrames = n
		}
	}
}

// New returns a VM attached to realm as its invoker.
func New(realm *runtime.Realm, logger *zap.Logger, opts ...Option) *VM {
	vm := &VM{
		realm:     realm,
		logger:    logger.Named("stackvm"),
		stack:     make([]runtime.Value, 0, 256),
		maxFrames: DefaultMaxFrames,
	}
	for _, opt := range opts {
		opt(vm)
	}
	realm.SetInvoker(vm)
	return vm
}

// Run executes a compiled program with the global object as receiver and
// returns its completion value.
func (vm *VM) Run(p *Proto) (runtime.Value, error) {
	id := vm.realm.NewFunction(runtime.Function{Name: p.Name, Code: p, NoConstruct: true})
	return vm.Invoke(id, runtime.ObjectValue(vm.realm.Global), nil)
}

// Invoke calls fn re-entrantly. A throw that no handler inside the call
// catches comes back as *runtime.ThrowError.
func (vm *VM) Invoke(fn runtime.FunctionID, this runtime.Value, args []runtime.Value) (runtime.Value, error) {
	callee := runtime.FunctionValue(fn)
	if vm.realm.Func(fn).Native != nil {
		return vm.realm.Call(callee, this, args)
	}
	stackBase := len(vm.stack)
	frameBase := len(vm.frames)
	vm.stack = append(vm.stack, callee, this)
	vm.stack = append(vm.stack, args...)
	if err := vm.call(stackBase, len(args), false); err != nil {
		vm.stack = vm.stack[:stackBase]
		return runtime.Undefined, err
	}
	return vm.run(frameBase, stackBase)
}

// Depth reports the number of active frames.
func (vm *VM) Depth() int { return len(vm.frames) }

func (vm *VM) push(v runtime.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() runtime.Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) top() runtime.Value { return vm.stack[len(vm.stack)-1] }

// setTop replaces the top of stack. Operations that may re-enter the VM
// write results through setTop since the stack can be reallocated.
func (vm *VM) setTop(v runtime.Value) { vm.stack[len(vm.stack)-1] = v }

// call starts the function at stack[calleeIdx] with argc arguments above
// the receiver slot. Natives complete immediately; compiled functions
// push a frame.
func (vm *VM) call(calleeIdx, argc int, construct bool) error {
	r := vm.realm
	callee := vm.stack[calleeIdx]
	if !callee.IsFunction() {
		if construct {
			return r.ThrowTypeError("%s is not a constructor", r.Display(callee))
		}
		return r.ThrowTypeError("%s is not a function", r.Display(callee))
	}
	fn := r.Func(callee.Function())
	if fn.Native != nil {
		args := slices.Clone(vm.stack[calleeIdx+2:])
		var res runtime.Value
		var err error
		if construct {
			res, err = r.ConstructNative(callee, args)
		} else {
			res, err = fn.Native(r, vm.stack[calleeIdx+1], args)
		}
		vm.stack = vm.stack[:calleeIdx]
		if err != nil {
			return err
		}
		vm.push(res)
		return nil
	}
	proto := fn.Code.(*Proto)
	if len(vm.frames) >= vm.maxFrames {
		return r.ThrowError("RangeError", "Maximum call stack size exceeded")
	}
	if construct {
		this, err := r.PrepareConstruct(callee)
		if err != nil {
			return err
		}
		vm.stack[calleeIdx+1] = this
	}
	base := calleeIdx + 2
	if argc > proto.NumParams {
		vm.stack = vm.stack[:base+proto.NumParams]
	}
	for len(vm.stack) < base+proto.NumSlots {
		vm.push(runtime.Undefined)
	}
	vm.frames = append(vm.frames, frame{
		proto:     proto,
		fn:        callee.Function(),
		base:      base,
		this:      vm.stack[calleeIdx+1],
		construct: construct,
	})
	return nil
}

// throw transfers control to the innermost handler installed since
// frameBase, or unwinds to frameBase and returns the value as an error.
func (vm *VM) throw(v runtime.Value, frameBase, stackBase int) error {
	if n := len(vm.handlers); n > 0 {
		h := vm.handlers[n-1]
		if h.frameLevel > frameBase {
			vm.handlers = vm.handlers[:n-1]
			vm.popFrames(h.frameLevel)
			vm.stack = vm.stack[:h.stackLevel]
			vm.push(v)
			vm.frames[len(vm.frames)-1].ip = h.catchIP
			return nil
		}
	}
	vm.popFrames(frameBase)
	vm.stack = vm.stack[:stackBase]
	return vm.realm.Throw(v)
}

func (vm *VM) popFrames(level int) {
	for len(vm.frames) > level {
		fr := vm.frames[len(vm.frames)-1]
		vm.open.CloseFrom(fr.base)
		vm.frames = vm.frames[:len(vm.frames)-1]
	}
	for len(vm.handlers) > 0 && vm.handlers[len(vm.handlers)-1].frameLevel > level {
		vm.handlers = vm.handlers[:len(vm.handlers)-1]
	}
}

var arithNames = [...]string{
	OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%", OpExp: "**",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^", OpShl: "<<", OpShr: ">>", OpUShr: ">>>",
	OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
}

// run executes until the frame count drops back to frameBase.
func (vm *VM) run(frameBase, stackBase int) (runtime.Value, error) {
	r := vm.realm
	for {
		f := &vm.frames[len(vm.frames)-1]
		code := f.proto.Code
		op := Op(code[f.ip])
		f.ip++
		var err error

		switch op {
		case OpNop:
		case OpLoadConst:
			vm.push(f.proto.Consts[vm.u16(f, code)])
		case OpLoadSmallInt0, OpLoadSmallInt1, OpLoadSmallInt2, OpLoadSmallInt3,
			OpLoadSmallInt4, OpLoadSmallInt5, OpLoadSmallInt6, OpLoadSmallInt7:
			vm.push(runtime.Number(float64(op - OpLoadSmallInt0)))
		case OpLoadMinusOne:
			vm.push(runtime.Number(-1))
		case OpLoadInt8:
			vm.push(runtime.Number(float64(int8(code[f.ip]))))
			f.ip++
		case OpLoadUndefined:
			vm.push(runtime.Undefined)
		case OpLoadNull:
			vm.push(runtime.Null)
		case OpLoadTrue:
			vm.push(runtime.True)
		case OpLoadFalse:
			vm.push(runtime.False)

		case OpGetLocal:
			vm.push(vm.stack[f.base+int(code[f.ip])])
			f.ip++
		case OpSetLocal:
			vm.stack[f.base+int(code[f.ip])] = vm.top()
			f.ip++
		case OpGetLocal0:
			vm.push(vm.stack[f.base])
		case OpGetLocal1:
			vm.push(vm.stack[f.base+1])
		case OpSetLocal0:
			vm.stack[f.base] = vm.top()
		case OpSetLocal1:
			vm.stack[f.base+1] = vm.top()
		case OpGetUpvalue:
			vm.push(r.Func(f.fn).Upvalues[code[f.ip]].Get())
			f.ip++
		case OpSetUpvalue:
			r.Func(f.fn).Upvalues[code[f.ip]].Set(vm.top())
			f.ip++
		case OpCloseUpvalue:
			vm.open.CloseAt(f.base + int(code[f.ip]))
			f.ip++
		case OpGetGlobal:
			site := &f.proto.Sites[vm.u16(f, code)]
			global := runtime.ObjectValue(r.Global)
			var v runtime.Value
			v, err = r.GetPropertyCached(global, site.Name, &site.Cache)
			if err == nil && v.IsUndefined() {
				if ok, _ := r.HasProperty(global, site.Name); !ok {
					err = r.ThrowError("ReferenceError", "%s is not defined", r.AtomString(site.Name))
				}
			}
			if err == nil {
				vm.push(v)
			}
		case OpSetGlobal:
			site := &f.proto.Sites[vm.u16(f, code)]
			err = r.SetPropertyCached(runtime.ObjectValue(r.Global), site.Name, vm.top(), &site.Cache)
		case OpTypeofGlobal:
			site := &f.proto.Sites[vm.u16(f, code)]
			var v runtime.Value
			v, err = r.GetPropertyCached(runtime.ObjectValue(r.Global), site.Name, &site.Cache)
			if err == nil {
				vm.push(r.Str(runtime.TypeOf(v)))
			}
		case OpDeclareGlobal:
			site := &f.proto.Sites[vm.u16(f, code)]
			if _, ok := r.GetOwn(r.Global, site.Name); !ok {
				r.DefineOwn(r.Global, r.AtomString(site.Name), runtime.Undefined)
			}
		case OpThis:
			vm.push(f.this)
		case OpCallee:
			vm.push(runtime.FunctionValue(f.fn))

		case OpAdd:
			b := vm.pop()
			a := vm.top()
			if a.IsNumber() && b.IsNumber() {
				vm.setTop(runtime.Number(a.Num() + b.Num()))
				break
			}
			var v runtime.Value
			if v, err = r.Add(a, b); err == nil {
				vm.setTop(v)
			}
		case OpSub, OpMul, OpDiv, OpMod, OpExp, OpBitAnd, OpBitOr, OpBitXor, OpShl, OpShr, OpUShr:
			b := vm.pop()
			a := vm.top()
			if a.IsNumber() && b.IsNumber() {
				vm.setTop(runtime.Number(runtime.ArithNumbers(arithNames[op], a.Num(), b.Num())))
				break
			}
			var v runtime.Value
			if v, err = r.Arith(arithNames[op], a, b); err == nil {
				vm.setTop(v)
			}
		case OpNeg, OpPlus, OpInc, OpDec, OpBitNot:
			a := vm.top()
			var n float64
			if a.IsNumber() {
				n = a.Num()
			} else if n, err = r.ToNumeric(a); err != nil {
				break
			}
			switch op {
			case OpNeg:
				n = -n
			case OpInc:
				n++
			case OpDec:
				n--
			case OpBitNot:
				n = float64(^runtime.ToInt32(n))
			}
			vm.setTop(runtime.Number(n))
		case OpLt, OpLe, OpGt, OpGe:
			b := vm.pop()
			a := vm.top()
			var ok bool
			if ok, err = r.Compare(arithNames[op], a, b); err == nil {
				vm.setTop(runtime.Bool(ok))
			}
		case OpEq, OpNe:
			b := vm.pop()
			a := vm.top()
			var eq bool
			if eq, err = r.LooseEquals(a, b); err == nil {
				vm.setTop(runtime.Bool(eq == (op == OpEq)))
			}
		case OpStrictEq:
			b := vm.pop()
			a := vm.top()
			vm.setTop(runtime.Bool(runtime.StrictEquals(a, b)))
		case OpStrictNe:
			b := vm.pop()
			a := vm.top()
			vm.setTop(runtime.Bool(!runtime.StrictEquals(a, b)))
		case OpInstanceOf:
			b := vm.pop()
			a := vm.top()
			var ok bool
			if ok, err = r.InstanceOf(a, b); err == nil {
				vm.setTop(runtime.Bool(ok))
			}
		case OpIn:
			obj := vm.pop()
			a := vm.top()
			if !obj.IsObjectLike() {
				err = r.ThrowTypeError("Cannot use 'in' operator to search for '%s' in %s", r.Display(a), r.Display(obj))
				break
			}
			key, kerr := r.PropertyKey(a)
			if kerr != nil {
				err = kerr
				break
			}
			var ok bool
			if ok, err = r.HasProperty(obj, key); err == nil {
				vm.setTop(runtime.Bool(ok))
			}
		case OpNot:
			a := vm.top()
			vm.setTop(runtime.Bool(!r.ToBoolean(a)))
		case OpTypeof:
			a := vm.top()
			vm.setTop(r.Str(runtime.TypeOf(a)))

		case OpJump:
			f.ip = vm.u16(f, code)
		case OpJumpIfTrue, OpJumpIfFalse:
			target := vm.u16(f, code)
			if r.ToBoolean(vm.pop()) == (op == OpJumpIfTrue) {
				f.ip = target
			}
		case OpJumpIfTrueKeep, OpJumpIfFalseKeep:
			target := vm.u16(f, code)
			if r.ToBoolean(vm.top()) == (op == OpJumpIfTrueKeep) {
				f.ip = target
			} else {
				vm.pop()
			}
		case OpJumpIfNonNullish:
			target := vm.u16(f, code)
			if !vm.top().IsNullish() {
				f.ip = target
			} else {
				vm.pop()
			}

		case OpPop:
			vm.pop()
		case OpDup:
			vm.push(vm.top())
		case OpDup2:
			n := len(vm.stack)
			vm.stack = append(vm.stack, vm.stack[n-2], vm.stack[n-1])
		case OpSwap:
			n := len(vm.stack)
			vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]
		case OpRot3:
			n := len(vm.stack)
			s := vm.stack[n-3:]
			s[0], s[1], s[2] = s[2], s[0], s[1]
		case OpRot4:
			n := len(vm.stack)
			s := vm.stack[n-4:]
			s[0], s[1], s[2], s[3] = s[3], s[0], s[1], s[2]

		case OpNewObject:
			vm.push(runtime.ObjectValue(r.NewObject()))
		case OpNewArray:
			n := vm.u16(f, code)
			elems := slices.Clone(vm.stack[len(vm.stack)-n:])
			vm.stack = vm.stack[:len(vm.stack)-n]
			vm.push(runtime.ArrayValue(r.NewArray(elems)))
		case OpDefineField:
			site := &f.proto.Sites[vm.u16(f, code)]
			v := vm.pop()
			err = r.SetProperty(vm.top(), site.Name, v)
		case OpGetProperty:
			site := &f.proto.Sites[vm.u16(f, code)]
			a := vm.top()
			var v runtime.Value
			if v, err = r.GetPropertyCached(a, site.Name, &site.Cache); err == nil {
				vm.setTop(v)
			}
		case OpSetProperty:
			site := &f.proto.Sites[vm.u16(f, code)]
			v := vm.pop()
			obj := vm.top()
			if err = r.SetPropertyCached(obj, site.Name, v, &site.Cache); err == nil {
				vm.setTop(v)
			}
		case OpGetIndex:
			idx := vm.pop()
			a := vm.top()
			var v runtime.Value
			if v, err = r.GetIndex(a, idx); err == nil {
				vm.setTop(v)
			}
		case OpSetIndex:
			v := vm.pop()
			idx := vm.pop()
			obj := vm.top()
			if err = r.SetIndex(obj, idx, v); err == nil {
				vm.setTop(v)
			}
		case OpDeleteProperty:
			site := &f.proto.Sites[vm.u16(f, code)]
			a := vm.top()
			var ok bool
			if ok, err = r.DeleteProperty(a, site.Name); err == nil {
				vm.setTop(runtime.Bool(ok))
			}
		case OpDeleteIndex:
			idx := vm.pop()
			a := vm.top()
			key, kerr := r.PropertyKey(idx)
			if kerr != nil {
				err = kerr
				break
			}
			var ok bool
			if ok, err = r.DeleteProperty(a, key); err == nil {
				vm.setTop(runtime.Bool(ok))
			}
		case OpGetPrototype:
			a := vm.top()
			if a.IsNullish() {
				err = r.ThrowTypeError("Cannot read properties of %s (reading '__proto__')", r.Display(a))
				break
			}
			vm.setTop(r.GetPrototypeOf(a))
		case OpSetPrototype:
			proto := vm.pop()
			obj := vm.top()
			if obj.Kind() == runtime.KindObject && (proto.Kind() == runtime.KindObject || proto.Kind() == runtime.KindNull) {
				err = r.SetPrototypeOf(obj, proto)
			}
			if err == nil {
				vm.setTop(proto)
			}

		case OpClosure:
			p := f.proto.Protos[vm.u16(f, code)]
			ups := make([]*runtime.Upvalue, len(p.Upvalues))
			for i, d := range p.Upvalues {
				if d.Local {
					ups[i] = vm.open.Capture(&vm.stack, f.base+d.Index)
				} else {
					ups[i] = r.Func(f.fn).Upvalues[d.Index]
				}
			}
			id := r.NewFunction(runtime.Function{
				Name:        p.Name,
				Arity:       p.NumParams,
				Code:        p,
				Upvalues:    ups,
				NoConstruct: p.Arrow,
			})
			vm.push(runtime.FunctionValue(id))
		case OpCall:
			argc := int(code[f.ip])
			f.ip++
			err = vm.call(len(vm.stack)-argc-2, argc, false)
		case OpNew:
			argc := int(code[f.ip])
			f.ip++
			calleeIdx := len(vm.stack) - argc - 1
			vm.stack = slices.Insert(vm.stack, calleeIdx+1, runtime.Undefined)
			err = vm.call(calleeIdx, argc, true)
		case OpReturn:
			res := vm.pop()
			fr := vm.frames[len(vm.frames)-1]
			if fr.construct && !res.IsObjectLike() {
				res = fr.this
			}
			vm.popFrames(len(vm.frames) - 1)
			vm.stack = vm.stack[:fr.base-2]
			if len(vm.frames) == frameBase {
				return res, nil
			}
			vm.push(res)

		case OpTryStart:
			target := vm.u16(f, code)
			vm.handlers = append(vm.handlers, handler{
				catchIP:    target,
				stackLevel: len(vm.stack),
				frameLevel: len(vm.frames),
			})
		case OpTryEnd:
			vm.handlers = vm.handlers[:len(vm.handlers)-1]
		case OpThrow:
			if err := vm.throw(vm.pop(), frameBase, stackBase); err != nil {
				return runtime.Undefined, err
			}

		default:
			vm.logger.Error("invalid opcode", zap.Stringer("op", op), zap.Int("ip", f.ip-1))
			err = r.ThrowError("Error", "invalid opcode %s", op)
		}

		if err != nil {
			if err := vm.throw(r.Thrown(err), frameBase, stackBase); err != nil {
				return runtime.Undefined, err
			}
		}
	}
}

func (vm *VM) u16(f *frame, code []byte) int {
	v := int(code[f.ip])<<8 | int(code[f.ip+1])
	f.ip += 2
	return v
}
