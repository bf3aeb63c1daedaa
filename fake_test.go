package xact

import (
	"context"
	"database/sql"
	"sync"
)

// recorder collects the engine calls a test provokes, in order.
type recorder struct {
	mtx sync.Mutex
	ops []string
}

func (r *recorder) record(op string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recorder) Ops() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([]string(nil), r.ops...)
}

type fakeConn struct {
	rec *recorder

	beginErr   error
	commitErr  error
	releaseErr error
	restoreErr error

	noSavepoints bool
	autocommit   bool
	restores     int
}

var (
	_ Conn            = (*fakeConn)(nil)
	_ SessionRestorer = (*fakeConn)(nil)
)

func (c *fakeConn) Begin(ctx context.Context, opt ...*sql.TxOptions) (Tx, error) {
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	c.rec.record("begin")
	if c.noSavepoints {
		return &plainTx{conn: c}, nil
	}
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) Features() Features {
	return Features{UsesAutocommit: c.autocommit}
}

func (c *fakeConn) RestoreSession(ctx context.Context) error {
	c.restores++
	c.rec.record("restore")
	return c.restoreErr
}

func (c *fakeConn) factory() ConnFactory {
	return func(ctx context.Context, alias string) Conn { return c }
}

type fakeTx struct {
	conn *fakeConn
}

var _ SavepointTx = (*fakeTx)(nil)

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.conn.commitErr != nil {
		t.conn.rec.record("commit_failed")
		return t.conn.commitErr
	}
	t.conn.rec.record("commit")
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.conn.rec.record("rollback")
	return nil
}

func (t *fakeTx) Savepoint(ctx context.Context, name string) error {
	t.conn.rec.record("savepoint")
	return nil
}

func (t *fakeTx) ReleaseSavepoint(ctx context.Context, name string) error {
	if t.conn.releaseErr != nil {
		t.conn.rec.record("release_failed")
		return t.conn.releaseErr
	}
	t.conn.rec.record("release")
	return nil
}

func (t *fakeTx) RollbackToSavepoint(ctx context.Context, name string) error {
	t.conn.rec.record("rollback_to")
	return nil
}

// plainTx has no savepoint support.
type plainTx struct {
	conn *fakeConn
}

func (t *plainTx) Commit(ctx context.Context) error {
	t.conn.rec.record("commit")
	return nil
}

func (t *plainTx) Rollback(ctx context.Context) error {
	t.conn.rec.record("rollback")
	return nil
}

func newTestManager(conn *fakeConn) Manager {
	m := NewManager()
	m.RegisterIfNot(DefaultAlias, conn.factory())
	return m
}
