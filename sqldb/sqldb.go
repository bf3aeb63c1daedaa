// Package sqldb adapts a database/sql handle to xact. Savepoints are issued
// as plain SAVEPOINT / RELEASE SAVEPOINT / ROLLBACK TO SAVEPOINT statements,
// which PostgreSQL, MySQL and SQLite all accept.
package sqldb

import (
	"context"
	"database/sql"

	"github.com/go-xact/xact"
)

type options struct {
	txOpt        *sql.TxOptions
	sessionReset func(ctx context.Context, db *sql.DB) error
}

type Option func(*options)

// WithTxOptions sets the default options for outer transactions.
func WithTxOptions(opt *sql.TxOptions) Option {
	return func(o *options) {
		o.txOpt = opt
	}
}

// WithSessionReset installs the backend-specific call that puts the
// connection back into autocommit behavior after the outer transaction ends.
// Installing it also flips Features().UsesAutocommit on. Backends whose
// driver restores the session by itself do not need one.
func WithSessionReset(fn func(ctx context.Context, db *sql.DB) error) Option {
	return func(o *options) {
		o.sessionReset = fn
	}
}

type Conn struct {
	db  *sql.DB
	opt options
}

var (
	_ xact.Conn            = (*Conn)(nil)
	_ xact.SessionRestorer = (*Conn)(nil)
	_ xact.SavepointTx     = (*Tx)(nil)
)

func New(db *sql.DB, opts ...Option) *Conn {
	c := &Conn{db: db}
	for _, opt := range opts {
		opt(&c.opt)
	}
	return c
}

// Factory wraps New for manager registration.
func Factory(db *sql.DB, opts ...Option) xact.ConnFactory {
	return func(ctx context.Context, alias string) xact.Conn {
		return New(db, opts...)
	}
}

func (c *Conn) Begin(ctx context.Context, opt ...*sql.TxOptions) (xact.Tx, error) {
	txOpt := c.opt.txOpt
	if len(opt) > 0 && opt[0] != nil {
		txOpt = opt[0]
	}
	tx, err := c.db.BeginTx(ctx, txOpt)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *Conn) Features() xact.Features {
	return xact.Features{UsesAutocommit: c.opt.sessionReset != nil}
}

func (c *Conn) RestoreSession(ctx context.Context) error {
	if c.opt.sessionReset == nil {
		return nil
	}
	return c.opt.sessionReset(ctx, c.db)
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback()
}

func (t *Tx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name)
	return err
}

func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

// Std exposes the underlying sql.Tx for query code.
func (t *Tx) Std() *sql.Tx {
	return t.tx
}

// Querier is the query surface shared by sql.DB and sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// QuerierFrom returns the transaction open on alias, or db when there is
// none, so repository code works inside and outside transactions alike.
func QuerierFrom(ctx context.Context, alias string, db *sql.DB) Querier {
	if tx, ok := xact.TxFrom(ctx, alias); ok {
		if st, ok := tx.(*Tx); ok {
			return st.tx
		}
	}
	return db
}
