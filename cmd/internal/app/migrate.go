package app

import (
	"context"
	"errors"
	"fmt"

	"ticketpay/cmd/identity"
	"ticketpay/cmd/internal/billing"
	payapi "ticketpay/cmd/internal/fulfillment/api"
	"ticketpay/cmd/internal/ratelimit"

	"github.com/jackc/pgx/v5"
)

// SchemaStatements returns the DDL for every table ticketpay owns, in apply order.
func SchemaStatements(schema string) []string {
	return []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{schema}.Sanitize(),
		billing.SchemaSQL(schema),
		identity.SchemaSQL(schema),
		payapi.SchemaSQL(schema),
		ratelimit.SchemaSQL(schema),
	}
}

// Migrate applies SchemaStatements inside one transaction. Statements are idempotent.
func Migrate(ctx context.Context, cfg Config, log Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate: TICKETPAY_DATABASE_URL is required")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmts := SchemaStatements(cfg.DBSchema)
	for i, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info("db.migrate.ok", "schema", cfg.DBSchema, "statements", len(stmts))
	return nil
}
