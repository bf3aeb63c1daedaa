// Package pgxdb adapts a pgx/v5 connection pool to xact.
package pgxdb

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-xact/xact"
)

type options struct {
	txOpt        pgx.TxOptions
	sessionReset func(ctx context.Context, pool *pgxpool.Pool) error
}

type Option func(*options)

// WithTxOptions sets the pgx options for outer transactions. The default is
// ReadCommitted / ReadWrite.
func WithTxOptions(opt pgx.TxOptions) Option {
	return func(o *options) {
		o.txOpt = opt
	}
}

// WithSessionReset installs a post-transaction session reset, for setups
// where the pool's sessions carry state (role, GUCs) that outer transaction
// management must not leak. Installing it flips Features().UsesAutocommit on.
func WithSessionReset(fn func(ctx context.Context, pool *pgxpool.Pool) error) Option {
	return func(o *options) {
		o.sessionReset = fn
	}
}

type Conn struct {
	pool *pgxpool.Pool
	opt  options
}

var (
	_ xact.Conn            = (*Conn)(nil)
	_ xact.SessionRestorer = (*Conn)(nil)
	_ xact.SavepointTx     = (*Tx)(nil)
)

func New(pool *pgxpool.Pool, opts ...Option) *Conn {
	c := &Conn{
		pool: pool,
		opt: options{
			txOpt: pgx.TxOptions{
				IsoLevel:   pgx.ReadCommitted,
				AccessMode: pgx.ReadWrite,
			},
		},
	}
	for _, opt := range opts {
		opt(&c.opt)
	}
	return c
}

// Factory wraps New for manager registration.
func Factory(pool *pgxpool.Pool, opts ...Option) xact.ConnFactory {
	return func(ctx context.Context, alias string) xact.Conn {
		return New(pool, opts...)
	}
}

func (c *Conn) Begin(ctx context.Context, opt ...*sql.TxOptions) (xact.Tx, error) {
	txOpt := c.opt.txOpt
	if len(opt) > 0 && opt[0] != nil {
		txOpt = convertTxOptions(opt[0])
	}
	tx, err := c.pool.BeginTx(ctx, txOpt)
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
	return c.opt.sessionReset(ctx, c.pool)
}

func convertTxOptions(opt *sql.TxOptions) pgx.TxOptions {
	out := pgx.TxOptions{AccessMode: pgx.ReadWrite}
	if opt.ReadOnly {
		out.AccessMode = pgx.ReadOnly
	}
	switch opt.Isolation {
	case sql.LevelSerializable:
		out.IsoLevel = pgx.Serializable
	case sql.LevelRepeatableRead:
		out.IsoLevel = pgx.RepeatableRead
	case sql.LevelReadUncommitted:
		out.IsoLevel = pgx.ReadUncommitted
	default:
		out.IsoLevel = pgx.ReadCommitted
	}
	return out
}

type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func (t *Tx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "SAVEPOINT "+name)
	return err
}

func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

// Pgx exposes the underlying pgx.Tx for query code.
func (t *Tx) Pgx() pgx.Tx {
	return t.tx
}

// Querier is the query surface shared by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuerierFrom returns the transaction open on alias, or the pool when there
// is none.
func QuerierFrom(ctx context.Context, alias string, pool *pgxpool.Pool) Querier {
	if tx, ok := xact.TxFrom(ctx, alias); ok {
		if pt, ok := tx.(*Tx); ok {
			return pt.tx
		}
	}
	return pool
}
