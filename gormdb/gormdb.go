// Package gormdb adapts a gorm handle to xact using gorm's native
// SavePoint / RollbackTo support.
package gormdb

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/go-xact/xact"
)

type Conn struct {
	db *gorm.DB
}

var (
	_ xact.Conn        = (*Conn)(nil)
	_ xact.SavepointTx = (*Tx)(nil)
)

func New(db *gorm.DB) *Conn {
	return &Conn{db: db}
}

// Factory wraps New for manager registration.
func Factory(db *gorm.DB) xact.ConnFactory {
	return func(ctx context.Context, alias string) xact.Conn {
		return New(db)
	}
}

func (c *Conn) Begin(ctx context.Context, opt ...*sql.TxOptions) (xact.Tx, error) {
	tx := c.db.WithContext(ctx).Begin(opt...)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &Tx{db: tx}, nil
}

type Tx struct {
	db *gorm.DB
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.db.Commit().Error
}

func (t *Tx) Rollback(ctx context.Context) error {
	return t.db.Rollback().Error
}

func (t *Tx) Savepoint(ctx context.Context, name string) error {
	return t.db.SavePoint(name).Error
}

func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	// gorm has no release helper; the statement is portable anyway.
	return t.db.Exec("RELEASE SAVEPOINT " + name).Error
}

func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	return t.db.RollbackTo(name).Error
}

// DB exposes the transactional gorm handle.
func (t *Tx) DB() *gorm.DB {
	return t.db
}

// DBFrom returns the transactional handle open on alias, or db itself when
// no transaction is open, so repository code needs no branching.
func DBFrom(ctx context.Context, alias string, db *gorm.DB) *gorm.DB {
	if tx, ok := xact.TxFrom(ctx, alias); ok {
		if gt, ok := tx.(*Tx); ok {
			return gt.db
		}
	}
	return db.WithContext(ctx)
}
