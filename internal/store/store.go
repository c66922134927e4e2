package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jw6ventures/timetable/internal/metrics"
)

// dbPool is the subset of pgxpool.Pool used by the repositories.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store aggregates repositories.
type Store struct {
	pool dbPool

	Users       UserRepository
	Credentials CredentialRepository
	Snapshots   SnapshotRepository
	Homework    HomeworkRepository
	Exams       ExamRepository
}

// New wires PostgreSQL repository implementations with a shared connection pool.
func New(pool *pgxpool.Pool) *Store {
	return newWithPool(pool)
}

func newWithPool(pool dbPool) *Store {
	return &Store{
		pool:        pool,
		Users:       &userRepo{pool: pool},
		Credentials: &credentialRepo{pool: pool},
		Snapshots:   &snapshotRepo{pool: pool},
		Homework:    &homeworkRepo{pool: pool},
		Exams:       &examRepo{pool: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable. Stores
// without a database are always healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}

func observeDB(ctx context.Context, operation string) func() {
	start := time.Now()
	return func() {
		metrics.ObserveDBLatency(ctx, operation, start)
	}
}
