package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
)

func pendingMigrationTx(name, marker string) *mockTx {
	return &mockTx{
		execs: []execExpectation{
			{expect: regexp.MustCompile("pg_advisory_xact_lock"), args: []any{migrationLockKey}},
			{expect: regexp.MustCompile(marker)},
			{expect: regexp.MustCompile("INSERT INTO schema_migrations"), args: []any{name}},
		},
		queries: []queryExpectation{
			{expect: regexp.MustCompile("schema_migrations WHERE version=\\$1"), args: []any{name}, values: []any{false}},
		},
	}
}

func appliedMigrationTx(name string) *mockTx {
	return &mockTx{
		execs: []execExpectation{
			{expect: regexp.MustCompile("pg_advisory_xact_lock"), args: []any{migrationLockKey}},
		},
		queries: []queryExpectation{
			{expect: regexp.MustCompile("schema_migrations WHERE version=\\$1"), args: []any{name}, values: []any{true}},
		},
	}
}

func TestApplyMigrationsEmptyDatabase(t *testing.T) {
	tx1 := pendingMigrationTx("001_init.sql", "-- Initial schema for the timetable service")
	tx2 := pendingMigrationTx("002_homework_exams.sql", "-- Homework and exam records")

	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile("CREATE TABLE IF NOT EXISTS schema_migrations")},
		},
		txs: []*mockTx{tx1, tx2},
	}

	if err := ApplyMigrations(context.Background(), pool); err != nil {
		t.Fatalf("expected migrations to apply, got error: %v", err)
	}

	pool.assertDone()
	tx1.assertDone(t)
	tx2.assertDone(t)
	if !tx1.committed || !tx2.committed {
		t.Fatalf("expected both migrations to commit")
	}
}

func TestApplyMigrationsSkipsApplied(t *testing.T) {
	tx1 := appliedMigrationTx("001_init.sql")
	tx2 := pendingMigrationTx("002_homework_exams.sql", "-- Homework and exam records")

	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile("CREATE TABLE IF NOT EXISTS schema_migrations")},
		},
		txs: []*mockTx{tx1, tx2},
	}

	if err := ApplyMigrations(context.Background(), pool); err != nil {
		t.Fatalf("expected pending migration to apply, got error: %v", err)
	}

	pool.assertDone()
	tx1.assertDone(t)
	tx2.assertDone(t)
}

func TestApplyMigrationsRollsBackOnFailure(t *testing.T) {
	boom := errors.New("syntax error")
	tx1 := &mockTx{
		execs: []execExpectation{
			{expect: regexp.MustCompile("pg_advisory_xact_lock")},
			{expect: regexp.MustCompile("-- Initial schema"), err: boom},
		},
		queries: []queryExpectation{
			{expect: regexp.MustCompile("schema_migrations WHERE version=\\$1"), values: []any{false}},
		},
	}
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile("CREATE TABLE IF NOT EXISTS schema_migrations")},
		},
		txs: []*mockTx{tx1},
	}

	err := ApplyMigrations(context.Background(), pool)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped migration error, got %v", err)
	}
	if !tx1.rolled || tx1.committed {
		t.Fatalf("expected rollback without commit")
	}
	pool.assertDone()
}
