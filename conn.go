package xact

import (
	"context"
	"database/sql"
)

// Conn is a transactional connection bound to one alias.
type Conn interface {
	// Begin an outer transaction
	Begin(ctx context.Context, opt ...*sql.TxOptions) (Tx, error)
}

type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SavepointTx is implemented by transactions that can nest via savepoints.
// A backend whose Tx does not implement it rejects nested scopes with
// ErrSavepointsUnsupported.
type SavepointTx interface {
	Tx
	Savepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
}

// Features describes backend behavior the scope has to compensate for.
type Features struct {
	// UsesAutocommit reports that the backend normally runs in autocommit
	// mode outside explicit transactions but does not restore it by itself
	// after transaction management ends.
	UsesAutocommit bool
}

// SessionRestorer is an optional Conn capability. When Features reports
// UsesAutocommit, RestoreSession runs exactly once after the outer scope
// ends, whether the transaction committed, failed to commit, or rolled back.
type SessionRestorer interface {
	Features() Features
	RestoreSession(ctx context.Context) error
}

// ConnFactory resolves the transactional connection for an alias
// (usually a business or database name).
type ConnFactory func(ctx context.Context, alias string) Conn
