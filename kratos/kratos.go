// Package kratos wraps mutating request dispatch in a transaction.
package kratos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/go-xact/xact"
)

var safeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}

func contains(vals []string, s string) bool {
	for _, v := range vals {
		if v == s {
			return true
		}
	}
	return false
}

// SkipFunc identifies whether a request should run outside a transaction.
type SkipFunc func(ctx context.Context, req interface{}) bool

type option struct {
	alias       string
	skip        SkipFunc
	selfManaged []string
	txOpt       []*sql.TxOptions
	l           log.Logger
}

type Option func(*option)

// WithAlias selects the connection alias the middleware opens transactions
// on. Default is xact.DefaultAlias.
func WithAlias(alias string) Option {
	return func(o *option) {
		o.alias = alias
	}
}

// WithSkip replaces the skip decision.
//
// By default requests are skipped when the operation action is prefixed by
// "get" or "list" (case-insensitive), when the HTTP method is one of the
// safeMethods, or when the operation is self-managed.
func WithSkip(f SkipFunc) Option {
	return func(o *option) {
		o.skip = f
	}
}

// WithSelfManaged lists operation action names whose handlers run their own
// transaction and must not be wrapped a second time.
func WithSelfManaged(actions ...string) Option {
	return func(o *option) {
		o.selfManaged = append(o.selfManaged, actions...)
	}
}

func WithTxOptions(txOpt ...*sql.TxOptions) Option {
	return func(o *option) {
		o.txOpt = txOpt
	}
}

func WithLogger(l log.Logger) Option {
	return func(o *option) {
		o.l = l
	}
}

// Transaction returns a middleware that frames every mutating request in a
// fresh transaction on the configured alias. Safe (read-only) requests and
// self-managed operations pass through untouched.
func Transaction(mgr xact.Manager, opts ...Option) middleware.Middleware {
	opt := &option{
		alias:       xact.DefaultAlias,
		selfManaged: []string{"patch_list"},
		l:           log.GetLogger(),
	}
	for _, o := range opts {
		o(opt)
	}
	logger := log.NewHelper(opt.l)

	if opt.skip == nil {
		opt.skip = func(ctx context.Context, req interface{}) bool {
			t, ok := transport.FromServerContext(ctx)
			if !ok {
				return false
			}
			if act := operationAction(t.Operation()); act != "" {
				if strings.HasPrefix(act, "get") || strings.HasPrefix(act, "list") {
					logger.Debugf("safe operation %s, skip transaction", t.Operation())
					return true
				}
				if contains(opt.selfManaged, act) {
					logger.Debugf("self-managed operation %s, skip transaction", t.Operation())
					return true
				}
			}
			if ht, ok := t.(*http.Transport); ok {
				if contains(safeMethods, ht.Request().Method) {
					logger.Debugf("safe method %s, skip transaction", ht.Request().Method)
					return true
				}
			}
			return false
		}
	}

	f := xact.New(mgr, xact.WithAlias(opt.alias), xact.WithTxOptions(opt.txOpt...))
	return func(next middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if opt.skip(ctx, req) {
				return next(ctx, req)
			}
			logger.Debugf("run request in transaction")
			var res interface{}
			err := f.Run(ctx, func(ctx context.Context) error {
				var err error
				res, err = next(ctx, req)
				return err
			})
			return res, err
		}
	}
}

// operationAction returns the last path segment of an operation, lowercased.
func operationAction(operation string) string {
	if operation == "" {
		return ""
	}
	s := strings.Split(operation, "/")
	return strings.ToLower(s[len(s)-1])
}
