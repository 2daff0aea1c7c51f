// internal/script/regvm/vm.go
package regvm

import (
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loupe/internal/script/runtime"
)

// DefaultMaxFrames bounds call depth.
const DefaultMaxFrames = 10000

// frame is one activation. Its registers are the window of vm.regs
// starting at base; ret is the absolute register that receives the
// result in the caller.
type frame struct {
	proto     *Proto
	fn        runtime.FunctionID
	ip        int
	base      int
	ret       int
	this      runtime.Value
	construct bool
}

type handler struct {
	catchIP    int
	reg        int
	frameLevel int
}

// VM interprets register bytecode. Calls between compiled functions push
// onto an explicit frame stack, so script recursion depth is bounded by
// maxFrames rather than the Go stack.
type VM struct {
	realm     *runtime.Realm
	logger    *zap.Logger
	regs      []runtime.Value
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
		logger:    logger.Named("regvm"),
		regs:      make([]runtime.Value, MaxRegisters*4),
		maxFrames: DefaultMaxFrames,
	}
	for _, opt := range opts {
		opt(vm)
	}
	realm.SetInvoker(vm)
	return vm
}

// Run executes a compiled program with the global object as receiver.
func (vm *VM) Run(p *Proto) (runtime.Value, error) {
	id := vm.realm.NewFunction(runtime.Function{Name: p.Name, Code: p, NoConstruct: true})
	return vm.Invoke(id, runtime.ObjectValue(vm.realm.Global), nil)
}

// Invoke calls fn re-entrantly above the registers of the running frame.
func (vm *VM) Invoke(fn runtime.FunctionID, this runtime.Value, args []runtime.Value) (runtime.Value, error) {
	callee := runtime.FunctionValue(fn)
	if vm.realm.Func(fn).Native != nil {
		return vm.realm.Call(callee, this, args)
	}
	start := 0
	if n := len(vm.frames); n > 0 {
		f := &vm.frames[n-1]
		start = f.base + f.proto.NumRegs
	}
	vm.ensure(start + 2 + len(args))
	vm.regs[start] = callee
	vm.regs[start+1] = this
	copy(vm.regs[start+2:], args)
	frameBase := len(vm.frames)
	if err := vm.call(start, len(args), false); err != nil {
		return runtime.Undefined, err
	}
	return vm.run(frameBase)
}

// Depth reports the number of active frames.
func (vm *VM) Depth() int { return len(vm.frames) }

func (vm *VM) ensure(n int) {
	if n > len(vm.regs) {
		vm.regs = append(vm.regs, make([]runtime.Value, n-len(vm.regs)+MaxRegisters)...)
	}
}

// call starts the function in register abs with argc arguments at
// abs+2. The result lands in abs.
func (vm *VM) call(abs, argc int, construct bool) error {
	r := vm.realm
	callee := vm.regs[abs]
	if !callee.IsFunction() {
		if construct {
			return r.ThrowTypeError("%s is not a constructor", r.Display(callee))
		}
		return r.ThrowTypeError("%s is not a function", r.Display(callee))
	}
	fn := r.Func(callee.Function())
	if fn.Native != nil {
		args := slices.Clone(vm.regs[abs+2 : abs+2+argc])
		var res runtime.Value
		var err error
		if construct {
			res, err = r.ConstructNative(callee, args)
		} else {
			res, err = fn.Native(r, vm.regs[abs+1], args)
		}
		if err != nil {
			return err
		}
		vm.regs[abs] = res
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
		vm.regs[abs+1] = this
	}
	base := abs + 2
	vm.ensure(base + proto.NumRegs)
	clear(vm.regs[base+min(argc, proto.NumParams) : base+proto.NumSlots])
	vm.frames = append(vm.frames, frame{
		proto:     proto,
		fn:        callee.Function(),
		base:      base,
		ret:       abs,
		this:      vm.regs[abs+1],
		construct: construct,
	})
	return nil
}

func (vm *VM) popFrames(level int) {
	for len(vm.frames) > level {
		vm.open.CloseFrom(vm.frames[len(vm.frames)-1].base)
		vm.frames = vm.frames[:len(vm.frames)-1]
	}
	for len(vm.handlers) > 0 && vm.handlers[len(vm.handlers)-1].frameLevel > level {
		vm.handlers = vm.handlers[:len(vm.handlers)-1]
	}
}

func (vm *VM) throw(v runtime.Value, frameBase int) error {
	if n := len(vm.handlers); n > 0 {
		h := vm.handlers[n-1]
		if h.frameLevel > frameBase {
			vm.handlers = vm.handlers[:n-1]
			vm.popFrames(h.frameLevel)
			f := &vm.frames[len(vm.frames)-1]
			vm.regs[f.base+h.reg] = v
			f.ip = h.catchIP
			return nil
		}
	}
	vm.popFrames(frameBase)
	return vm.realm.Throw(v)
}

var arithNames = [...]string{
	OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%", OpExp: "**",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^", OpShl: "<<", OpShr: ">>", OpUShr: ">>>",
	OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
}

// run executes until the frame count drops back to frameBase. Register
// writes after a call that may re-enter the VM index vm.regs afresh,
// since the register file can grow.
func (vm *VM) run(frameBase int) (runtime.Value, error) {
	r := vm.realm
	for {
		f := &vm.frames[len(vm.frames)-1]
		in := f.proto.Code[f.ip]
		f.ip++
		base := f.base
		a := base + in.A()
		var err error

		switch in.Op() {
		case OpNop:
		case OpLoadK:
			vm.regs[a] = f.proto.Consts[in.Bx()]
		case OpLoadInt:
			vm.regs[a] = runtime.Number(float64(in.SBx()))
		case OpLoadUndef:
			vm.regs[a] = runtime.Undefined
		case OpLoadNull:
			vm.regs[a] = runtime.Null
		case OpLoadTrue:
			vm.regs[a] = runtime.True
		case OpLoadFalse:
			vm.regs[a] = runtime.False
		case OpMove:
			vm.regs[a] = vm.regs[base+in.B()]

		case OpGetUpval:
			vm.regs[a] = r.Func(f.fn).Upvalues[in.B()].Get()
		case OpSetUpval:
			r.Func(f.fn).Upvalues[in.B()].Set(vm.regs[a])
		case OpCloseUpval:
			vm.open.CloseAt(a)
		case OpGetGlobal:
			site := &f.proto.Sites[in.Bx()]
			global := runtime.ObjectValue(r.Global)
			var v runtime.Value
			v, err = r.GetPropertyCached(global, site.Name, &site.Cache)
			if err == nil && v.IsUndefined() {
				if ok, _ := r.HasProperty(global, site.Name); !ok {
					err = r.ThrowError("ReferenceError", "%s is not defined", r.AtomString(site.Name))
				}
			}
			if err == nil {
				vm.regs[a] = v
			}
		case OpSetGlobal:
			site := &f.proto.Sites[in.Bx()]
			err = r.SetPropertyCached(runtime.ObjectValue(r.Global), site.Name, vm.regs[a], &site.Cache)
		case OpTypeofGlobal:
			site := &f.proto.Sites[in.Bx()]
			var v runtime.Value
			if v, err = r.GetPropertyCached(runtime.ObjectValue(r.Global), site.Name, &site.Cache); err == nil {
				vm.regs[a] = r.Str(runtime.TypeOf(v))
			}
		case OpDeclareGlobal:
			site := &f.proto.Sites[in.Bx()]
			if _, ok := r.GetOwn(r.Global, site.Name); !ok {
				r.DefineOwn(r.Global, r.AtomString(site.Name), runtime.Undefined)
			}
		case OpThis:
			vm.regs[a] = f.this
		case OpCallee:
			vm.regs[a] = runtime.FunctionValue(f.fn)

		case OpAdd:
			x, y := vm.regs[base+in.B()], vm.regs[base+in.C()]
			if x.IsNumber() && y.IsNumber() {
				vm.regs[a] = runtime.Number(x.Num() + y.Num())
				break
			}
			var v runtime.Value
			if v, err = r.Add(x, y); err == nil {
				vm.regs[a] = v
			}
		case OpSub, OpMul, OpDiv, OpMod, OpExp, OpBitAnd, OpBitOr, OpBitXor, OpShl, OpShr, OpUShr:
			x, y := vm.regs[base+in.B()], vm.regs[base+in.C()]
			name := arithNames[in.Op()]
			if x.IsNumber() && y.IsNumber() {
				vm.regs[a] = runtime.Number(runtime.ArithNumbers(name, x.Num(), y.Num()))
				break
			}
			var v runtime.Value
			if v, err = r.Arith(name, x, y); err == nil {
				vm.regs[a] = v
			}
		case OpLt, OpLe, OpGt, OpGe:
			var ok bool
			if ok, err = r.Compare(arithNames[in.Op()], vm.regs[base+in.B()], vm.regs[base+in.C()]); err == nil {
				vm.regs[a] = runtime.Bool(ok)
			}
		case OpEq, OpNe:
			var eq bool
			if eq, err = r.LooseEquals(vm.regs[base+in.B()], vm.regs[base+in.C()]); err == nil {
				vm.regs[a] = runtime.Bool(eq == (in.Op() == OpEq))
			}
		case OpStrictEq:
			vm.regs[a] = runtime.Bool(runtime.StrictEquals(vm.regs[base+in.B()], vm.regs[base+in.C()]))
		case OpStrictNe:
			vm.regs[a] = runtime.Bool(!runtime.StrictEquals(vm.regs[base+in.B()], vm.regs[base+in.C()]))
		case OpInstanceOf:
			var ok bool
			if ok, err = r.InstanceOf(vm.regs[base+in.B()], vm.regs[base+in.C()]); err == nil {
				vm.regs[a] = runtime.Bool(ok)
			}
		case OpIn:
			key, obj := vm.regs[base+in.B()], vm.regs[base+in.C()]
			if !obj.IsObjectLike() {
				err = r.ThrowTypeError("Cannot use 'in' operator to search for '%s' in %s", r.Display(key), r.Display(obj))
				break
			}
			atom, kerr := r.PropertyKey(key)
			if kerr != nil {
				err = kerr
				break
			}
			var ok bool
			if ok, err = r.HasProperty(obj, atom); err == nil {
				vm.regs[a] = runtime.Bool(ok)
			}

		case OpNeg, OpPlus, OpInc, OpDec, OpBitNot:
			x := vm.regs[base+in.B()]
			var n float64
			if x.IsNumber() {
				n = x.Num()
			} else if n, err = r.ToNumeric(x); err != nil {
				break
			}
			switch in.Op() {
			case OpNeg:
				n = -n
			case OpInc:
				n++
			case OpDec:
				n--
			case OpBitNot:
				n = float64(^runtime.ToInt32(n))
			}
			vm.regs[a] = runtime.Number(n)
		case OpNot:
			vm.regs[a] = runtime.Bool(!r.ToBoolean(vm.regs[base+in.B()]))
		case OpTypeof:
			vm.regs[a] = r.Str(runtime.TypeOf(vm.regs[base+in.B()]))

		case OpJmp:
			f.ip = in.Bx()
		case OpJmpIf:
			if r.ToBoolean(vm.regs[a]) {
				f.ip = in.Bx()
			}
		case OpJmpIfNot:
			if !r.ToBoolean(vm.regs[a]) {
				f.ip = in.Bx()
			}
		case OpJmpIfNotNullish:
			if !vm.regs[a].IsNullish() {
				f.ip = in.Bx()
			}

		case OpNewObject:
			vm.regs[a] = runtime.ObjectValue(r.NewObject())
		case OpNewArray:
			elems := slices.Clone(vm.regs[base+in.B() : base+in.B()+in.C()])
			vm.regs[a] = runtime.ArrayValue(r.NewArray(elems))
		case OpArrayPush:
			id := vm.regs[a].Array()
			r.SetElems(id, append(r.Elems(id), vm.regs[base+in.B()]))
		case OpGetField:
			site := &f.proto.Sites[f.proto.Code[f.ip].Bx()]
			f.ip++
			var v runtime.Value
			if v, err = r.GetPropertyCached(vm.regs[base+in.B()], site.Name, &site.Cache); err == nil {
				vm.regs[a] = v
			}
		case OpSetField:
			site := &f.proto.Sites[f.proto.Code[f.ip].Bx()]
			f.ip++
			err = r.SetPropertyCached(vm.regs[a], site.Name, vm.regs[base+in.B()], &site.Cache)
		case OpDefineField:
			site := &f.proto.Sites[f.proto.Code[f.ip].Bx()]
			f.ip++
			err = r.SetProperty(vm.regs[a], site.Name, vm.regs[base+in.B()])
		case OpDeleteField:
			site := &f.proto.Sites[f.proto.Code[f.ip].Bx()]
			f.ip++
			var ok bool
			if ok, err = r.DeleteProperty(vm.regs[base+in.B()], site.Name); err == nil {
				vm.regs[a] = runtime.Bool(ok)
			}
		case OpGetIndex:
			var v runtime.Value
			if v, err = r.GetIndex(vm.regs[base+in.B()], vm.regs[base+in.C()]); err == nil {
				vm.regs[a] = v
			}
		case OpSetIndex:
			err = r.SetIndex(vm.regs[a], vm.regs[base+in.B()], vm.regs[base+in.C()])
		case OpDeleteIndex:
			key, kerr := r.PropertyKey(vm.regs[base+in.C()])
			if kerr != nil {
				err = kerr
				break
			}
			var ok bool
			if ok, err = r.DeleteProperty(vm.regs[base+in.B()], key); err == nil {
				vm.regs[a] = runtime.Bool(ok)
			}
		case OpGetProto:
			x := vm.regs[base+in.B()]
			if x.IsNullish() {
				err = r.ThrowTypeError("Cannot read properties of %s (reading '__proto__')", r.Display(x))
				break
			}
			vm.regs[a] = r.GetPrototypeOf(x)
		case OpSetProto:
			obj, proto := vm.regs[a], vm.regs[base+in.B()]
			if obj.Kind() == runtime.KindObject && (proto.Kind() == runtime.KindObject || proto.Kind() == runtime.KindNull) {
				err = r.SetPrototypeOf(obj, proto)
			}

		case OpClosure:
			p := f.proto.Protos[in.Bx()]
			ups := make([]*runtime.Upvalue, len(p.Upvalues))
			for i, d := range p.Upvalues {
				if d.Local {
					ups[i] = vm.open.Capture(&vm.regs, base+d.Index)
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
			vm.regs[a] = runtime.FunctionValue(id)
		case OpCall:
			err = vm.call(a, in.B(), false)
		case OpNew:
			err = vm.call(a, in.B(), true)
		case OpReturn:
			res := vm.regs[a]
			fr := vm.frames[len(vm.frames)-1]
			if fr.construct && !res.IsObjectLike() {
				res = fr.this
			}
			vm.popFrames(len(vm.frames) - 1)
			vm.regs[fr.ret] = res
			if len(vm.frames) == frameBase {
				return res, nil
			}

		case OpTryStart:
			vm.handlers = append(vm.handlers, handler{
				catchIP:    in.Bx(),
				reg:        in.A(),
				frameLevel: len(vm.frames),
			})
		case OpTryEnd:
			vm.handlers = vm.handlers[:len(vm.handlers)-1]
		case OpThrow:
			if err := vm.throw(vm.regs[a], frameBase); err != nil {
				return runtime.Undefined, err
			}

		default:
			vm.logger.Error("invalid opcode", zap.Stringer("op", in.Op()), zap.Int("ip", f.ip-1))
			err = r.ThrowError("Error", "invalid opcode %s", in.Op())
		}

		if err != nil {
			if err := vm.throw(r.Thrown(err), frameBase); err != nil {
				return runtime.Undefined, err
			}
		}
	}
}
