// Package db carries the PostgreSQL schema of the pipeline store.
package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var Schema string

// Execer is the subset of infra.SQLExecutor Migrate needs.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

// Migrate applies the idempotent schema. The statement runs without
// arguments so pgx sends it over the simple protocol as one batch.
func Migrate(ctx context.Context, exec Execer) error {
	if _, err := exec.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("db: apply schema: %w", err)
	}
	return nil
}
