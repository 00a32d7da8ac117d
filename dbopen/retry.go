package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// busyBackoff is the wait before each retry of a transaction that hit a lock.
var busyBackoff = []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 500 * time.Millisecond}

// IsBusy reports whether err comes from a locked database or table.
func IsBusy(err error) bool {
	return errContains(err, "SQLITE_BUSY", "database is locked", "database table is locked")
}

// IsUniqueViolation reports whether err is a PRIMARY KEY or UNIQUE conflict.
func IsUniqueViolation(err error) bool {
	return errContains(err, "UNIQUE constraint failed", "SQLITE_CONSTRAINT_PRIMARYKEY", "SQLITE_CONSTRAINT_UNIQUE")
}

func errContains(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// RunTx runs fn in a transaction and commits it. fn errors roll back and are
// returned as is. A BUSY failure is retried after each busyBackoff step.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	err := attempt(ctx, db, fn)
	for _, wait := range busyBackoff {
		if !IsBusy(err) {
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("dbopen: retry abandoned: %w", ctx.Err())
		case <-t.C:
		}
		err = attempt(ctx, db, fn)
	}
	return err
}

func attempt(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}
