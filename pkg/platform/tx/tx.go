// Package tx carries an open *sql.Tx through a context so nested store calls
// join the caller's transaction.
package tx

import (
	"context"
	"database/sql"
)

type key struct{}

// WithTx returns ctx unchanged for a nil tx.
func WithTx(ctx context.Context, t *sql.Tx) context.Context {
	if t == nil {
		return ctx
	}
	return context.WithValue(ctx, key{}, t)
}

func From(ctx context.Context) (*sql.Tx, bool) {
	t, ok := ctx.Value(key{}).(*sql.Tx)
	return t, ok && t != nil
}
