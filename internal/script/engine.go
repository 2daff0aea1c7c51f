// internal/script/engine.go
package script

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
	"github.com/xkilldash9x/loupe/internal/config"
	"github.com/xkilldash9x/loupe/internal/script/ast"
	"github.com/xkilldash9x/loupe/internal/script/eventloop"
	"github.com/xkilldash9x/loupe/internal/script/regvm"
	"github.com/xkilldash9x/loupe/internal/script/runtime"
	"github.com/xkilldash9x/loupe/internal/script/stackvm"
)

// Value is a script value owned by an engine's realm.
type Value = runtime.Value

// ThrowError is an exception that escaped every script handler.
type ThrowError = runtime.ThrowError

// Engine runs scripts for one document: a realm, an event loop and the
// VM the configuration selects. An engine is not safe for concurrent use.
type Engine struct {
	logger    *zap.Logger
	cfg       config.ScriptConfig
	realmOpts []runtime.Option
	realm     *runtime.Realm
	loop      *eventloop.Loop
	exec      func(*ast.Program) (Value, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithDocument exposes doc to scripts.
func WithDocument(doc *dom.Document) Option {
	return func(e *Engine) { e.realmOpts = append(e.realmOpts, runtime.WithDocument(doc)) }
}

// WithConsole copies console output to w.
func WithConsole(w io.Writer) Option {
	return func(e *Engine) { e.realmOpts = append(e.realmOpts, runtime.WithConsole(w)) }
}

// WithSeed makes Math.random deterministic.
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.realmOpts = append(e.realmOpts, runtime.WithSeed(seed)) }
}

// NewEngine builds an engine with the VM named by cfg.VM.
func NewEngine(cfg config.ScriptConfig, logger *zap.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		logger: logger.Named("script"),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = eventloop.DefaultMaxTasks
	}
	e.loop = eventloop.New(e.logger, eventloop.WithMaxTasks(maxTasks))
	e.realm = runtime.NewRealm(e.logger, append(e.realmOpts, runtime.WithScheduler(e.loop))...)

	switch cfg.VM {
	case "", "stack":
		vm := stackvm.New(e.realm, e.logger)
		e.exec = func(prog *ast.Program) (Value, error) {
			p, err := stackvm.Compile(e.realm, prog)
			if err != nil {
				return runtime.Undefined, err
			}
			return vm.Run(p)
		}
	case "register":
		vm := regvm.New(e.realm, e.logger)
		e.exec = func(prog *ast.Program) (Value, error) {
			p, err := regvm.Compile(e.realm, prog)
			if err != nil {
				return runtime.Undefined, err
			}
			return vm.Run(p)
		}
	default:
		return nil, fmt.Errorf("unknown script vm %q", cfg.VM)
	}
	return e, nil
}

// Run parses and executes src, then drains the microtask queue. Syntax
// errors come back as *lexer.SyntaxError and uncaught exceptions as
// *ThrowError.
func (e *Engine) Run(src string) (Value, error) {
	prog, err := ast.Parse(src)
	if err != nil {
		e.logger.Debug("script rejected", zap.Error(err))
		return runtime.Undefined, err
	}
	v, err := e.exec(prog)
	if err != nil {
		var te *ThrowError
		if errors.As(err, &te) {
			e.logger.Info("uncaught exception", zap.String("error", te.Message))
		}
		return runtime.Undefined, err
	}
	if err := e.loop.RunMicrotasks(); err != nil {
		e.reportUnhandled()
		return v, err
	}
	e.reportUnhandled()
	return v, nil
}

// RunLoop runs queued microtasks and timers until the loop is idle, the
// task budget is spent or ctx is done.
func (e *Engine) RunLoop(ctx context.Context) error {
	err := e.loop.Run(ctx)
	e.reportUnhandled()
	return err
}

func (e *Engine) reportUnhandled() {
	for _, v := range e.realm.UnhandledRejections() {
		e.logger.Warn("unhandled promise rejection", zap.String("reason", e.realm.Display(v)))
	}
}

// Realm exposes the engine's realm.
func (e *Engine) Realm() *runtime.Realm { return e.realm }

// Display renders v the way console.log does.
func (e *Engine) Display(v Value) string {
	if v.IsString() {
		return e.realm.GoString(v)
	}
	return e.realm.Display(v)
}

// Pending reports the queued microtasks and timers.
func (e *Engine) Pending() int { return e.loop.Pending() }
