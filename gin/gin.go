// Package gin wraps mutating HTTP dispatch in a transaction.
package gin

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/go-xact/xact"
)

var safeMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

type option struct {
	alias      string
	skipRoutes map[string]struct{}
	txOpt      []*sql.TxOptions
	lg         *zap.Logger
}

type Option func(*option)

// WithAlias selects the connection alias. Default is xact.DefaultAlias.
func WithAlias(alias string) Option {
	return func(o *option) {
		o.alias = alias
	}
}

// WithSkipRoutes lists routes ("METHOD /path") whose handlers run their own
// transaction and must not be wrapped a second time.
func WithSkipRoutes(routes ...string) Option {
	return func(o *option) {
		for _, r := range routes {
			o.skipRoutes[r] = struct{}{}
		}
	}
}

func WithTxOptions(txOpt ...*sql.TxOptions) Option {
	return func(o *option) {
		o.txOpt = txOpt
	}
}

func WithLogger(lg *zap.Logger) Option {
	return func(o *option) {
		o.lg = lg
	}
}

// Transaction returns a middleware framing every mutating request in a fresh
// transaction. Safe methods (GET, HEAD, OPTIONS, TRACE) and skip-listed
// routes pass through untouched. The transaction rolls back when the handler
// chain records an error on the gin context.
func Transaction(mgr xact.Manager, opts ...Option) gin.HandlerFunc {
	o := newOption(opts)
	f := xact.New(mgr, xact.WithAlias(o.alias), xact.WithTxOptions(o.txOpt...))
	return func(c *gin.Context) {
		if _, safe := safeMethods[c.Request.Method]; safe {
			c.Next()
			return
		}
		if _, skip := o.skipRoutes[c.Request.Method+" "+c.FullPath()]; skip {
			c.Next()
			return
		}
		o.lg.Debug("run request in transaction",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
		)
		runTransactional(f, c, func(c *gin.Context) { c.Next() }, o.lg)
	}
}

// Handler frames a single handler in a transaction regardless of method.
// It is meant for form-submit style endpoints registered without the
// middleware.
func Handler(mgr xact.Manager, h gin.HandlerFunc, opts ...Option) gin.HandlerFunc {
	o := newOption(opts)
	f := xact.New(mgr, xact.WithAlias(o.alias), xact.WithTxOptions(o.txOpt...))
	return func(c *gin.Context) {
		runTransactional(f, c, h, o.lg)
	}
}

func newOption(opts []Option) *option {
	o := &option{
		alias:      xact.DefaultAlias,
		skipRoutes: make(map[string]struct{}),
		lg:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func runTransactional(f *xact.Factory, c *gin.Context, invoke func(*gin.Context), lg *zap.Logger) {
	var handlerErr error
	err := f.Run(c.Request.Context(), func(ctx context.Context) error {
		c.Request = c.Request.WithContext(ctx)
		invoke(c)
		if last := c.Errors.Last(); last != nil {
			handlerErr = last
			return last
		}
		return nil
	})
	if err == nil || err == handlerErr {
		return
	}
	// Begin or commit failed after a clean handler run.
	lg.Error("transaction failed", zap.Error(err))
	_ = c.Error(err)
	if !c.Writer.Written() {
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}
