package db

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
)

type TxConfig struct {
	IsoLevel pgx.TxIsoLevel
	// MaxAttempts bounds replays after serialization failures. Values < 1 mean 1.
	MaxAttempts int
	BaseBackoff time.Duration
}

// InTx runs fn inside a transaction and commits when fn returns nil. When the
// commit or any statement fails with a serialization failure or deadlock the
// whole function is replayed in a fresh transaction, up to MaxAttempts.
func InTx(ctx context.Context, pool *Pool, cfg TxConfig, fn func(pgx.Tx) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.BaseBackoff
	if backoff <= 0 {
		backoff = 20 * time.Millisecond
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = runOnce(ctx, pool, cfg.IsoLevel, fn)
		if err == nil || !IsRetryable(err) || attempt == attempts {
			break
		}
		wait := backoff*time.Duration(attempt) + time.Duration(rand.Int64N(int64(backoff)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func runOnce(ctx context.Context, pool *Pool, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
