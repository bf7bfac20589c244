package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ChunkSize is the default number of rows staged per transaction-boundary
// check during incoming staging and plan execution, per spec.md §4.2
// ("commits periodically every ~1000 records").
const ChunkSize = 1000

// FrecencyChunkSize bounds how many stale-frecency URLs are recomputed per
// transaction, per spec.md §4.2 ("bounded chunks, ≤400 URLs per chunk").
const FrecencyChunkSize = 400

// WithTx runs fn inside a transaction on db, committing on success and
// rolling back on any error (including a panic, which is re-raised after
// rollback). It is the single place transaction boundaries are drawn, so
// every engine's "abort leaves state equivalent to pre-sync" guarantee
// (spec.md §2) holds uniformly.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// ChunkedLoop runs total/chunkSize (rounded up) iterations of fn, checking
// scope between each one, stopping and returning ErrInterrupted the
// instant a checkpoint fires. It does not open transactions itself —
// callers decide whether each chunk is its own transaction (frecency
// recompute, per spec.md §4.2) or part of one outer transaction (plan
// execution staging).
func ChunkedLoop(scope *InterruptScope, total, chunkSize int, fn func(offset, limit int) error) error {
	if chunkSize <= 0 {
		chunkSize = total
	}
	for offset := 0; offset < total; offset += chunkSize {
		if err := scope.ErrIfInterrupted(); err != nil {
			return err
		}
		limit := chunkSize
		if offset+limit > total {
			limit = total - offset
		}
		if err := fn(offset, limit); err != nil {
			return err
		}
	}
	return nil
}
