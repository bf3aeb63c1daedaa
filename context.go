package xact

import "context"

type txKey struct{ alias string }

// activeTx is the handle published in the context while an outer transaction
// is open on an alias. Nested scopes find it here instead of asking the
// driver for global state.
type activeTx struct {
	conn Conn
	tx   Tx
}

func withActiveTx(ctx context.Context, alias string, a *activeTx) context.Context {
	return context.WithValue(ctx, txKey{alias: alias}, a)
}

func activeTxFrom(ctx context.Context, alias string) (a *activeTx, ok bool) {
	a, ok = ctx.Value(txKey{alias: alias}).(*activeTx)
	return
}

// TxFrom returns the transaction currently open on alias, if any. Adapters
// build their typed accessors on top of it.
func TxFrom(ctx context.Context, alias string) (Tx, bool) {
	a, ok := activeTxFrom(ctx, alias)
	if !ok {
		return nil, false
	}
	return a.tx, true
}

// InTransaction reports whether a transaction is already open on alias.
func InTransaction(ctx context.Context, alias string) bool {
	_, ok := activeTxFrom(ctx, alias)
	return ok
}
