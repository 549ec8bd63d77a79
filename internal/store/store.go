package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
}

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool pgxPool

	Users           UserRepository
	AppPasswords    AppPasswordRepository
	Containers      ContainerRepository
	CalendarObjects CalendarObjectRepository
	Cards           CardRepository
}

// New wires concrete repository implementations with shared connection pool.
func New(pool *pgxpool.Pool) *Store {
	return newStore(pool)
}

func newStore(pool pgxPool) *Store {
	return &Store{
		pool:            pool,
		Users:           &userRepo{pool: pool},
		AppPasswords:    &appPasswordRepo{pool: pool},
		Containers:      &containerRepo{pool: pool},
		CalendarObjects: &calendarObjectRepo{pool: pool},
		Cards:           &cardRepo{pool: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}
