package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/abrechnung/console/internal/shared"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL of the tables used by the local account backend.
func Schema() string {
	return schema
}

// EnsureSchema creates the users and audit_logs tables when missing.
func EnsureSchema(ctx context.Context, db shared.Execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}
	return nil
}
