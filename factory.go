// Package xact is a reentrant, nestable transaction helper. The first scope
// opened on an alias owns the outer transaction; scopes opened inside it own
// savepoints, so a failure deep in a call chain rolls back only its own
// level. Nesting state travels on the context, never in driver globals.
package xact

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Func is the shape of a function that can run inside a transaction.
type Func func(ctx context.Context) error

type options struct {
	alias string
	txOpt []*sql.TxOptions
}

type Option func(*options)

// WithAlias selects the connection alias. Default is DefaultAlias.
func WithAlias(alias string) Option {
	return func(o *options) {
		if alias != "" {
			o.alias = alias
		}
	}
}

func WithTxOptions(opt ...*sql.TxOptions) Option {
	return func(o *options) {
		o.txOpt = opt
	}
}

// Factory is the dual-mode entry point. Used as a guard (Enter/Exit) it
// creates exactly one Scope for its lifetime, so a factory instance backs a
// single guarded block. Used as a wrapper (Wrap/Run) it creates a fresh
// Scope per invocation; the same factory can therefore wrap a function that
// is called concurrently without the calls crunching each other's state.
type Factory struct {
	mgr   Manager
	alias string
	txOpt []*sql.TxOptions

	mtx   sync.Mutex
	scope *Scope // guard mode only, bound on first Enter
}

func New(mgr Manager, opts ...Option) *Factory {
	o := &options{alias: DefaultAlias}
	for _, opt := range opts {
		opt(o)
	}
	return &Factory{
		mgr:   mgr,
		alias: o.alias,
		txOpt: o.txOpt,
	}
}

// Enter begins the guarded block. The scope is created lazily on the first
// call and reused by accident-proofing on any later call, which fails with
// ErrScopeReused rather than silently opening a second level.
func (f *Factory) Enter(ctx context.Context) (context.Context, error) {
	f.mtx.Lock()
	if f.scope == nil {
		f.scope = NewScope(f.mgr, f.alias, f.txOpt...)
	}
	s := f.scope
	f.mtx.Unlock()
	return s.Begin(ctx)
}

// Exit ends the guarded block. cause follows the Scope.End contract.
func (f *Factory) Exit(ctx context.Context, cause error) error {
	f.mtx.Lock()
	s := f.scope
	f.mtx.Unlock()
	if s == nil {
		if cause != nil {
			return cause
		}
		return ErrScopeReused
	}
	return s.End(ctx, cause)
}

// Run executes fn inside a fresh transaction scope. A panic in fn rolls the
// scope back and is re-raised.
func (f *Factory) Run(ctx context.Context, fn Func) error {
	scope := NewScope(f.mgr, f.alias, f.txOpt...)
	ctx, err := scope.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			_ = scope.End(ctx, fmt.Errorf("panic in transactional function: %v", v))
			panic(v)
		}
	}()
	return scope.End(ctx, fn(ctx))
}

// Wrap returns fn framed in a transaction. Every call of the returned
// function gets its own scope; error and panic behavior match Run.
func (f *Factory) Wrap(fn Func) Func {
	return func(ctx context.Context) error {
		return f.Run(ctx, fn)
	}
}

// Wrap frames fn in a transaction on the default alias.
func Wrap(mgr Manager, fn Func) Func {
	return New(mgr).Wrap(fn)
}

// Run executes fn inside a transaction on the default alias.
func Run(ctx context.Context, mgr Manager, fn Func) error {
	return New(mgr).Run(ctx, fn)
}

// RunValue is Run for functions that also return a value. The value passes
// through unchanged on success and is the zero value otherwise.
func RunValue[T any](ctx context.Context, mgr Manager, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := New(mgr, opts...).Run(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
