// internal/script/runtime/realm.go
package runtime

import (
	"io"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/intern"
)

// Invoker runs a compiled function to completion on behalf of native code.
type Invoker interface {
	Invoke(fn FunctionID, this Value, args []Value) (Value, error)
}

// Scheduler queues work on the event loop.
type Scheduler interface {
	EnqueueMicrotask(job func() error)
	SetTimeout(delay time.Duration, job func() error) int
	ClearTimeout(id int)
}

// Stats counts inline cache traffic.
type Stats struct {
	CacheHits   uint64
	CacheMisses uint64
}

// Realm owns every value arena, the string table and the global object.
// A realm is used by one goroutine at a time.
type Realm struct {
	logger  *zap.Logger
	strings *intern.Pool
	objects []Object
	arrays  []Array
	funcs   []Function

	rootShape   *Shape
	nextShapeID uint32

	Global        ObjectID
	ObjectProto   ObjectID
	FunctionProto ObjectID
	ArrayProto    ObjectID
	StringProto   ObjectID
	NumberProto   ObjectID
	BooleanProto  ObjectID
	ErrorProto    ObjectID
	PromiseProto  ObjectID
	errorProtos   map[string]ObjectID

	invoker   Invoker
	scheduler Scheduler
	console   io.Writer
	doc       *dom.Document
	elements  map[dom.NodeID]ObjectID
	rng       *rand.Rand
	unhandled map[ObjectID]struct{}
	intervals map[int]int
	jobs      []func() error

	elementProto ObjectID

	Stats Stats

	atomLength      intern.Atom
	atomPrototype   intern.Atom
	atomConstructor intern.Atom
	atomName        intern.Atom
	atomMessage     intern.Atom
	atomThen        intern.Atom
	atomToString    intern.Atom
	atomProto       intern.Atom
}

// Option configures a Realm.
type Option func(*Realm)

// WithConsole sends console output to w in addition to the logger.
func WithConsole(w io.Writer) Option {
	return func(r *Realm) { r.console = w }
}

// WithDocument exposes doc to scripts as the document global.
func WithDocument(doc *dom.Document) Option {
	return func(r *Realm) { r.doc = doc }
}

// WithScheduler connects timers, microtasks and promise jobs to s.
func WithScheduler(s Scheduler) Option {
	return func(r *Realm) { r.scheduler = s }
}

// WithSeed makes Math.random deterministic.
func WithSeed(seed uint64) Option {
	return func(r *Realm) { r.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewRealm creates a realm with the standard globals installed.
func NewRealm(logger *zap.Logger, opts ...Option) *Realm {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Realm{
		logger:      logger.Named("script"),
		strings:     intern.NewPool(),
		errorProtos: map[string]ObjectID{},
		elements:    map[dom.NodeID]ObjectID{},
		unhandled:   map[ObjectID]struct{}{},
		intervals:   map[int]int{},
		// Handle 0 of each arena is a placeholder so zero IDs mean "none".
		objects: make([]Object, 1, 256),
		arrays:  make([]Array, 1, 64),
		funcs:   make([]Function, 1, 256),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	r.rootShape = r.newShape(nil, 0)

	r.atomLength = r.Atom("length")
	r.atomPrototype = r.Atom("prototype")
	r.atomConstructor = r.Atom("constructor")
	r.atomName = r.Atom("name")
	r.atomMessage = r.Atom("message")
	r.atomThen = r.Atom("then")
	r.atomToString = r.Atom("toString")
	r.atomProto = r.Atom("__proto__")

	r.installGlobals()
	return r
}

// Logger returns the realm's logger.
func (r *Realm) Logger() *zap.Logger { return r.logger }

// SetInvoker installs the VM that runs compiled functions.
func (r *Realm) SetInvoker(inv Invoker) { r.invoker = inv }

// SetScheduler replaces the event loop hooks.
func (r *Realm) SetScheduler(s Scheduler) { r.scheduler = s }

// Document returns the bound document, if any.
func (r *Realm) Document() *dom.Document { return r.doc }

// Atom interns s in the realm's string table.
func (r *Realm) Atom(s string) intern.Atom { return r.strings.Intern(s) }

// AtomString resolves a.
func (r *Realm) AtomString(a intern.Atom) string { return r.strings.Resolve(a) }

// Str makes a string value.
func (r *Realm) Str(s string) Value {
	return Value{kind: KindString, ref: uint32(r.strings.Intern(s))}
}

// StrAtom makes a string value from an atom.
func StrAtom(a intern.Atom) Value { return Value{kind: KindString, ref: uint32(a)} }

// Atom returns the atom of a string value.
func (v Value) Atom() intern.Atom { return intern.Atom(v.ref) }

// GoString returns the contents of a string value, or "" for other kinds.
func (r *Realm) GoString(v Value) string {
	if v.kind != KindString {
		return ""
	}
	return r.strings.Resolve(intern.Atom(v.ref))
}

// Counts reports the arena sizes.
func (r *Realm) Counts() (objects, arrays, functions int) {
	return len(r.objects) - 1, len(r.arrays) - 1, len(r.funcs) - 1
}
