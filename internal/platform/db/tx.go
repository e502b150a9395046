package db

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// RunInTx starts a transaction and runs fn. fn returning nil commits,
// anything else rolls back and the error is returned unchanged.
func RunInTx(ctx context.Context, db *sqlx.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return err
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
