// internal/script/runtime/promise.go
package runtime

type promiseState uint8

const (
	promisePending promiseState = iota
	promiseFulfilled
	promiseRejected
)

type reaction struct {
	onFulfilled Value
	onRejected  Value
	derived     ObjectID
}

type promise struct {
	state     promiseState
	result    Value
	reactions []reaction
	handled   bool
}

func (r *Realm) promiseOf(v Value) (*promise, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	internal, class := r.Internal(v.Object())
	if class != ClassPromise {
		return nil, false
	}
	return internal.(*promise), true
}

// NewPromise allocates a pending promise.
func (r *Realm) NewPromise() ObjectID {
	id := r.NewObjectWithProto(ObjectValue(r.PromiseProto))
	r.SetInternal(id, ClassPromise, &promise{})
	return id
}

// PromiseResult reports the state of a promise value: settled, rejected
// and the result.
func (r *Realm) PromiseResult(v Value) (settled, rejected bool, result Value) {
	p, ok := r.promiseOf(v)
	if !ok {
		return false, false, Undefined
	}
	return p.state != promisePending, p.state == promiseRejected, p.result
}

// resolvingFunctions returns resolve and reject that act at most once.
func (r *Realm) resolvingFunctions(id ObjectID) (Value, Value) {
	done := false
	resolve := r.NewNative("", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		if done {
			return Undefined, nil
		}
		done = true
		r.ResolvePromise(id, argAt(args, 0))
		return Undefined, nil
	})
	reject := r.NewNative("", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		if done {
			return Undefined, nil
		}
		done = true
		r.RejectPromise(id, argAt(args, 0))
		return Undefined, nil
	})
	return resolve, reject
}

// ResolvePromise resolves id with v, adopting thenables.
func (r *Realm) ResolvePromise(id ObjectID, v Value) {
	if v.kind == KindObject && v.Object() == id {
		r.RejectPromise(id, r.NewError("TypeError", "Chaining cycle detected for promise"))
		return
	}
	if !v.IsObjectLike() {
		r.settle(id, promiseFulfilled, v)
		return
	}
	then, err := r.GetProperty(v, r.atomThen)
	if err != nil {
		r.RejectPromise(id, r.Thrown(err))
		return
	}
	if then.kind != KindFunction {
		r.settle(id, promiseFulfilled, v)
		return
	}
	resolve, reject := r.resolvingFunctions(id)
	r.EnqueueJob(func() error {
		if _, err := r.Call(then, v, []Value{resolve, reject}); err != nil {
			_, _ = r.Call(reject, Undefined, []Value{r.Thrown(err)})
		}
		return nil
	})
}

// RejectPromise rejects id with reason.
func (r *Realm) RejectPromise(id ObjectID, reason Value) {
	r.settle(id, promiseRejected, reason)
}

func (r *Realm) settle(id ObjectID, state promiseState, result Value) {
	p, _ := r.promiseOf(ObjectValue(id))
	if p == nil || p.state != promisePending {
		return
	}
	p.state, p.result = state, result
	reactions := p.reactions
	p.reactions = nil
	if state == promiseRejected && !p.handled {
		r.unhandled[id] = struct{}{}
	}
	for _, re := range reactions {
		r.scheduleReaction(p, re)
	}
}

func (r *Realm) scheduleReaction(p *promise, re reaction) {
	state, result := p.state, p.result
	r.EnqueueJob(func() error {
		handler := re.onFulfilled
		if state == promiseRejected {
			handler = re.onRejected
		}
		if handler.kind != KindFunction {
			if state == promiseRejected {
				r.RejectPromise(re.derived, result)
			} else {
				r.ResolvePromise(re.derived, result)
			}
			return nil
		}
		res, err := r.Call(handler, Undefined, []Value{result})
		if err != nil {
			r.RejectPromise(re.derived, r.Thrown(err))
			return nil
		}
		r.ResolvePromise(re.derived, res)
		return nil
	})
}

// Then registers reactions on a promise and returns the derived promise.
func (r *Realm) Then(promiseVal, onFulfilled, onRejected Value) (Value, error) {
	p, ok := r.promiseOf(promiseVal)
	if !ok {
		return Undefined, r.ThrowTypeError("Method Promise.prototype.then called on incompatible receiver %s", r.Display(promiseVal))
	}
	derived := r.NewPromise()
	re := reaction{onFulfilled: onFulfilled, onRejected: onRejected, derived: derived}
	p.handled = true
	delete(r.unhandled, promiseVal.Object())
	if p.state == promisePending {
		p.reactions = append(p.reactions, re)
	} else {
		r.scheduleReaction(p, re)
	}
	return ObjectValue(derived), nil
}

// UnhandledRejections returns and forgets the reasons of rejected
// promises that never gained a handler.
func (r *Realm) UnhandledRejections() []Value {
	var out []Value
	for id := range r.unhandled {
		p, _ := r.promiseOf(ObjectValue(id))
		out = append(out, p.result)
	}
	clear(r.unhandled)
	return out
}

func (r *Realm) promiseResolve(v Value) Value {
	if _, ok := r.promiseOf(v); ok {
		return v
	}
	id := r.NewPromise()
	r.ResolvePromise(id, v)
	return ObjectValue(id)
}

func (r *Realm) installPromise() {
	construct := func(r *Realm, _ Value, args []Value) (Value, error) {
		executor := argAt(args, 0)
		if executor.kind != KindFunction {
			return Undefined, r.ThrowTypeError("Promise resolver %s is not a function", r.Display(executor))
		}
		id := r.NewPromise()
		resolve, reject := r.resolvingFunctions(id)
		if _, err := r.Call(executor, Undefined, []Value{resolve, reject}); err != nil {
			if _, err := r.Call(reject, Undefined, []Value{r.Thrown(err)}); err != nil {
				return Undefined, err
			}
		}
		return ObjectValue(id), nil
	}
	ctor := r.defineCtor("Promise", 1, r.PromiseProto, func(r *Realm, _ Value, _ []Value) (Value, error) {
		return Undefined, r.ThrowTypeError("Promise constructor cannot be invoked without 'new'")
	}, construct)
	c := r.funcProps(ctor.Function())

	r.defineMethod(c, "resolve", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		return r.promiseResolve(argAt(args, 0)), nil
	})
	r.defineMethod(c, "reject", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		id := r.NewPromise()
		r.RejectPromise(id, argAt(args, 0))
		return ObjectValue(id), nil
	})
	r.defineMethod(c, "all", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		list, err := r.argList(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		id := r.NewPromise()
		results := make([]Value, len(list))
		remaining := len(list)
		if remaining == 0 {
			r.ResolvePromise(id, ArrayValue(r.NewArray(results)))
		}
		for i, item := range list {
			onFulfilled := r.NewNative("", 1, func(r *Realm, _ Value, a []Value) (Value, error) {
				results[i] = argAt(a, 0)
				if remaining--; remaining == 0 {
					r.ResolvePromise(id, ArrayValue(r.NewArray(results)))
				}
				return Undefined, nil
			})
			onRejected := r.NewNative("", 1, func(r *Realm, _ Value, a []Value) (Value, error) {
				r.RejectPromise(id, argAt(a, 0))
				return Undefined, nil
			})
			if _, err := r.Then(r.promiseResolve(item), onFulfilled, onRejected); err != nil {
				return Undefined, err
			}
		}
		return ObjectValue(id), nil
	})
	r.defineMethod(c, "race", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		list, err := r.argList(argAt(args, 0))
		if err != nil {
			return Undefined, err
		}
		id := r.NewPromise()
		resolve := r.NewNative("", 1, func(r *Realm, _ Value, a []Value) (Value, error) {
			r.ResolvePromise(id, argAt(a, 0))
			return Undefined, nil
		})
		reject := r.NewNative("", 1, func(r *Realm, _ Value, a []Value) (Value, error) {
			r.RejectPromise(id, argAt(a, 0))
			return Undefined, nil
		})
		for _, item := range list {
			if _, err := r.Then(r.promiseResolve(item), resolve, reject); err != nil {
				return Undefined, err
			}
		}
		return ObjectValue(id), nil
	})

	p := r.PromiseProto
	r.defineMethod(p, "then", 2, func(r *Realm, this Value, args []Value) (Value, error) {
		return r.Then(this, argAt(args, 0), argAt(args, 1))
	})
	r.defineMethod(p, "catch", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		return r.Then(this, Undefined, argAt(args, 0))
	})
	r.defineMethod(p, "finally", 1, func(r *Realm, this Value, args []Value) (Value, error) {
		fn := argAt(args, 0)
		if fn.kind != KindFunction {
			return r.Then(this, fn, fn)
		}
		onFulfilled := r.NewNative("", 1, func(r *Realm, _ Value, a []Value) (Value, error) {
			if _, err := r.Call(fn, Undefined, nil); err != nil {
				return Undefined, err
			}
			return argAt(a, 0), nil
		})
		onRejected := r.NewNative("", 1, func(r *Realm, _ Value, a []Value) (Value, error) {
			if _, err := r.Call(fn, Undefined, nil); err != nil {
				return Undefined, err
			}
			return Undefined, r.Throw(argAt(a, 0))
		})
		return r.Then(this, onFulfilled, onRejected)
	})
}
