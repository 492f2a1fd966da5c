package metadata

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/postgres"
)

//go:embed schema.sql
var schema string

// Migrate creates the documents table and its indexes if they are missing.
func Migrate(ctx context.Context, db *postgres.Client) error {
	if _, err := db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
