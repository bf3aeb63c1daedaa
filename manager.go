package xact

import (
	"context"
	"errors"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
)

// DefaultAlias names the process-wide default connection. It is used by
// every entry point whenever no alias is given.
const DefaultAlias = "default"

var (
	ErrDuplicateAlias        = errors.New("xact: duplicate alias")
	ErrAliasNotFound         = errors.New("xact: alias not found")
	ErrSavepointsUnsupported = errors.New("xact: backend does not support savepoints")
	ErrScopeReused           = errors.New("xact: scope already used")
)

type Manager interface {
	Register(alias string, f ConnFactory) (err error)
	RegisterIfNot(alias string, f ConnFactory)
	Resolve(ctx context.Context, alias string) (conn Conn, ok bool)
	// Aliases returns registered aliases in registration order.
	Aliases() []string
}

type manager struct {
	mtx   sync.Mutex
	conns *orderedmap.OrderedMap[string, ConnFactory]
}

func NewManager() Manager {
	return &manager{
		conns: orderedmap.NewOrderedMap[string, ConnFactory](),
	}
}

func (m *manager) Register(alias string, f ConnFactory) (err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.conns.Get(alias); ok {
		return ErrDuplicateAlias
	}
	m.conns.Set(alias, f)
	return nil
}

func (m *manager) RegisterIfNot(alias string, f ConnFactory) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.conns.Get(alias); !ok {
		m.conns.Set(alias, f)
	}
}

func (m *manager) Resolve(ctx context.Context, alias string) (conn Conn, ok bool) {
	m.mtx.Lock()
	f, ok := m.conns.Get(alias)
	m.mtx.Unlock()
	if !ok {
		return
	}
	conn = f(ctx, alias)
	return
}

func (m *manager) Aliases() []string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.conns.Keys()
}
