// internal/script/runtime/errors.go
package runtime

import (
	"errors"
	"fmt"
)

// ThrowError is a script exception that no handler caught.
type ThrowError struct {
	Value   Value
	Message string
}

func (e *ThrowError) Error() string { return "Uncaught " + e.Message }

// Throw wraps v as an exception.
func (r *Realm) Throw(v Value) *ThrowError {
	return &ThrowError{Value: v, Message: r.Display(v)}
}

// NewError builds an error object of the named constructor (Error,
// TypeError, RangeError, ReferenceError, SyntaxError).
func (r *Realm) NewError(kind, message string) Value {
	proto, ok := r.errorProtos[kind]
	if !ok {
		proto = r.ErrorProto
	}
	id := r.NewObjectWithProto(ObjectValue(proto))
	r.setOwn(id, r.atomMessage, r.Str(message))
	r.SetInternal(id, ClassError, nil)
	return ObjectValue(id)
}

// ThrowError returns a thrown error object of the given kind.
func (r *Realm) ThrowError(kind, format string, args ...any) error {
	return r.Throw(r.NewError(kind, fmt.Sprintf(format, args...)))
}

// ThrowTypeError returns a thrown TypeError.
func (r *Realm) ThrowTypeError(format string, args ...any) error {
	return r.ThrowError("TypeError", format, args...)
}

// Thrown converts any error from native code into a script exception
// value. Errors that are not already exceptions become Error objects.
func (r *Realm) Thrown(err error) Value {
	var te *ThrowError
	if errors.As(err, &te) {
		return te.Value
	}
	return r.NewError("Error", err.Error())
}
