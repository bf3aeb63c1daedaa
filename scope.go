package xact

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type scopeState uint8

const (
	stateCreated scopeState = iota
	stateOuter
	stateSavepoint
	stateEnded
)

// Scope manages exactly one nesting level of transactional work on one
// alias. If no transaction is open on the alias when Begin runs, the scope
// owns the outer transaction; otherwise it owns a savepoint inside the
// already-open one. A scope is single-use: one Begin, one End, then discard.
type Scope struct {
	mgr   Manager
	alias string
	opt   []*sql.TxOptions

	state     scopeState
	active    *activeTx
	savepoint string // empty while this scope owns the outer transaction
}

func NewScope(mgr Manager, alias string, opt ...*sql.TxOptions) *Scope {
	return &Scope{
		mgr:   mgr,
		alias: alias,
		opt:   opt,
	}
}

// Begin opens this nesting level. The returned context carries the active
// transaction handle; callers must pass it to the protected work and to End.
func (s *Scope) Begin(ctx context.Context) (context.Context, error) {
	if s.state != stateCreated {
		return ctx, ErrScopeReused
	}
	if a, ok := activeTxFrom(ctx, s.alias); ok {
		// Already in a transaction; create a savepoint.
		sp, ok := a.tx.(SavepointTx)
		if !ok {
			return ctx, ErrSavepointsUnsupported
		}
		name := savepointName()
		if err := sp.Savepoint(ctx, name); err != nil {
			return ctx, fmt.Errorf("creating savepoint: %w", err)
		}
		s.active = a
		s.savepoint = name
		s.state = stateSavepoint
		return ctx, nil
	}
	conn, ok := s.mgr.Resolve(ctx, s.alias)
	if !ok {
		return ctx, fmt.Errorf("%w: %q", ErrAliasNotFound, s.alias)
	}
	tx, err := conn.Begin(ctx, s.opt...)
	if err != nil {
		return ctx, fmt.Errorf("beginning transaction: %w", err)
	}
	s.active = &activeTx{conn: conn, tx: tx}
	s.state = stateOuter
	return withActiveTx(ctx, s.alias, s.active), nil
}

// End closes this nesting level. cause is the error propagating out of the
// protected block, or nil on success. End returns the error that must keep
// propagating to the caller: cause itself, or the commit/release failure
// that replaced a nil cause. It never suppresses a non-nil cause.
func (s *Scope) End(ctx context.Context, cause error) error {
	switch s.state {
	case stateOuter:
		s.state = stateEnded
		return s.endOuter(ctx, cause)
	case stateSavepoint:
		s.state = stateEnded
		return s.endSavepoint(ctx, cause)
	default:
		if cause != nil {
			return cause
		}
		return ErrScopeReused
	}
}

func (s *Scope) endOuter(ctx context.Context, cause error) error {
	if cause == nil {
		if err := s.active.tx.Commit(ctx); err != nil {
			// A failed commit rolls back and is what the caller observes.
			_ = s.active.tx.Rollback(ctx)
			cause = fmt.Errorf("committing transaction: %w", err)
		}
	} else {
		// The original error outranks a failed rollback.
		_ = s.active.tx.Rollback(ctx)
	}
	// Leave transaction management even when commit failed.
	if err := s.restoreSession(ctx); err != nil && cause == nil {
		cause = fmt.Errorf("restoring session: %w", err)
	}
	return cause
}

func (s *Scope) endSavepoint(ctx context.Context, cause error) error {
	sp := s.active.tx.(SavepointTx)
	if cause != nil {
		// Roll back this level only; the outer transaction stays open.
		_ = sp.RollbackToSavepoint(ctx, s.savepoint)
		return cause
	}
	if err := sp.ReleaseSavepoint(ctx, s.savepoint); err != nil {
		_ = sp.RollbackToSavepoint(ctx, s.savepoint)
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

// restoreSession puts the connection back into its out-of-transaction mode
// for backends that need it. See SessionRestorer.
func (s *Scope) restoreSession(ctx context.Context) error {
	r, ok := s.active.conn.(SessionRestorer)
	if !ok || !r.Features().UsesAutocommit {
		return nil
	}
	return r.RestoreSession(ctx)
}

func savepointName() string {
	return "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
