package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jw6ventures/calstore/internal/migrations"
)

// PgxPool is the subset of pgxpool.Pool the migration runner needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

const (
	trackingTableQuery = `SELECT to_regclass('public.schema_migrations') IS NOT NULL`
	userTablesQuery    = `SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')`
	createTrackingTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	appliedVersionsQuery = `SELECT version FROM schema_migrations ORDER BY version`
	recordVersion        = `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`
)

// migration is one embedded schema step.
type migration struct {
	name string
	sql  string
}

// ApplyMigrations runs every embedded migration missing from
// schema_migrations, each in its own transaction, and returns the names it
// ran. A database that has tables but no tracking table is baselined at the
// first migration.
func ApplyMigrations(ctx context.Context, pool PgxPool, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	steps, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, nil
	}

	if err := ensureTracking(ctx, pool, steps[0].name, logger); err != nil {
		return nil, err
	}
	done, err := appliedVersions(ctx, pool)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range steps {
		if done[m.name] {
			continue
		}
		start := time.Now()
		if err := runMigration(ctx, pool, m); err != nil {
			return ran, err
		}
		logger.InfoContext(ctx, "migration applied", "name", m.name, "duration", time.Since(start))
		ran = append(ran, m.name)
	}
	return ran, nil
}

func loadMigrations() ([]migration, error) {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(names)

	steps := make([]migration, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(migrations.Files, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		steps = append(steps, migration{name: name, sql: string(body)})
	}
	return steps, nil
}

// ensureTracking creates schema_migrations on first start. When the
// database already holds tables the first migration is recorded without
// running it.
func ensureTracking(ctx context.Context, pool PgxPool, baseline string, logger *slog.Logger) error {
	var tracked bool
	if err := pool.QueryRow(ctx, trackingTableQuery).Scan(&tracked); err != nil {
		return fmt.Errorf("check schema_migrations: %w", err)
	}
	if tracked {
		return nil
	}

	var tables int
	if err := pool.QueryRow(ctx, userTablesQuery).Scan(&tables); err != nil {
		return fmt.Errorf("count tables: %w", err)
	}
	if _, err := pool.Exec(ctx, createTrackingTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	if tables == 0 {
		return nil
	}
	if _, err := pool.Exec(ctx, recordVersion, baseline); err != nil {
		return fmt.Errorf("baseline %s: %w", baseline, err)
	}
	logger.WarnContext(ctx, "untracked schema baselined", "name", baseline, "tables", tables)
	return nil
}

func appliedVersions(ctx context.Context, pool PgxPool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, appliedVersionsQuery)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	done := make(map[string]bool, len(versions))
	for _, v := range versions {
		done[v] = true
	}
	return done, nil
}

func runMigration(ctx context.Context, pool PgxPool, m migration) error {
	err := pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, recordVersion, m.name)
		return err
	})
	if err != nil {
		return fmt.Errorf("apply migration %s: %w", m.name, err)
	}
	return nil
}
