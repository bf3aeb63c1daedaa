package gin

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-xact/xact"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeConn struct {
	mtx       sync.Mutex
	ops       []string
	commitErr error
}

func (c *fakeConn) record(op string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.ops = append(c.ops, op)
}

func (c *fakeConn) Ops() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return append([]string(nil), c.ops...)
}

func (c *fakeConn) Begin(ctx context.Context, opt ...*sql.TxOptions) (xact.Tx, error) {
	c.record("begin")
	return &fakeTx{conn: c}, nil
}

type fakeTx struct {
	conn *fakeConn
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.conn.commitErr != nil {
		t.conn.record("commit_failed")
		return t.conn.commitErr
	}
	t.conn.record("commit")
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.conn.record("rollback")
	return nil
}

func setup(t *testing.T) (*fakeConn, xact.Manager) {
	t.Helper()
	conn := &fakeConn{}
	mgr := xact.NewManager()
	require.NoError(t, mgr.Register(xact.DefaultAlias, func(ctx context.Context, alias string) xact.Conn {
		return conn
	}))
	return conn, mgr
}

func perform(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestTransaction_WrapsMutatingMethod(t *testing.T) {
	conn, mgr := setup(t)
	router := gin.New()
	router.Use(Transaction(mgr))
	router.POST("/things", func(c *gin.Context) {
		assert.True(t, xact.InTransaction(c.Request.Context(), xact.DefaultAlias))
		c.Status(http.StatusCreated)
	})

	w := perform(router, http.MethodPost, "/things")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"begin", "commit"}, conn.Ops())
}

func TestTransaction_SkipsSafeMethods(t *testing.T) {
	conn, mgr := setup(t)
	router := gin.New()
	router.Use(Transaction(mgr))
	router.GET("/things", func(c *gin.Context) {
		assert.False(t, xact.InTransaction(c.Request.Context(), xact.DefaultAlias))
		c.Status(http.StatusOK)
	})

	w := perform(router, http.MethodGet, "/things")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, conn.Ops())
}

func TestTransaction_RollsBackOnContextError(t *testing.T) {
	conn, mgr := setup(t)
	router := gin.New()
	router.Use(Transaction(mgr))
	router.DELETE("/things/:id", func(c *gin.Context) {
		_ = c.Error(errors.New("delete failed"))
		c.Status(http.StatusInternalServerError)
	})

	w := perform(router, http.MethodDelete, "/things/1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, []string{"begin", "rollback"}, conn.Ops())
}

func TestTransaction_SkipRoute(t *testing.T) {
	conn, mgr := setup(t)
	router := gin.New()
	// The bulk patch endpoint manages its own transaction.
	router.Use(Transaction(mgr, WithSkipRoutes("PATCH /things")))
	router.PATCH("/things", func(c *gin.Context) {
		assert.False(t, xact.InTransaction(c.Request.Context(), xact.DefaultAlias))
		c.Status(http.StatusOK)
	})

	w := perform(router, http.MethodPatch, "/things")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, conn.Ops())
}

func TestTransaction_CommitFailure(t *testing.T) {
	conn, mgr := setup(t)
	conn.commitErr = errors.New("commit refused")
	router := gin.New()
	router.Use(Transaction(mgr))
	router.POST("/things", func(c *gin.Context) {})

	w := perform(router, http.MethodPost, "/things")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, []string{"begin", "commit_failed", "rollback"}, conn.Ops())
}

func TestHandler_WrapsSingleHandler(t *testing.T) {
	conn, mgr := setup(t)
	router := gin.New()
	router.POST("/form", Handler(mgr, func(c *gin.Context) {
		assert.True(t, xact.InTransaction(c.Request.Context(), xact.DefaultAlias))
		c.Status(http.StatusOK)
	}))
	// Sibling routes stay untouched.
	router.POST("/other", func(c *gin.Context) {
		assert.False(t, xact.InTransaction(c.Request.Context(), xact.DefaultAlias))
		c.Status(http.StatusOK)
	})

	perform(router, http.MethodPost, "/form")
	perform(router, http.MethodPost, "/other")
	assert.Equal(t, []string{"begin", "commit"}, conn.Ops())
}
