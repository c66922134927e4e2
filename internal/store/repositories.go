package store

import (
	"context"
	"time"
)

// UserRepository reads users. Users are provisioned elsewhere.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetBySubject(ctx context.Context, subject string) (*User, error)
}

// CredentialRepository reads encrypted upstream credentials.
type CredentialRepository interface {
	GetByUser(ctx context.Context, userID int64) (*Credential, error)
}

// SnapshotRepository is the append-only history of fetched timetables.
//
// Range keys match exactly: a nil end only matches rows whose end is NULL.
type SnapshotRepository interface {
	// LatestSince returns the newest snapshot for the key created strictly
	// after since, or nil when there is none.
	LatestSince(ctx context.Context, userID int64, start time.Time, end *time.Time, since time.Time) (*Snapshot, error)
	ExistsSince(ctx context.Context, userID int64, start time.Time, end *time.Time, since time.Time) (bool, error)
	Insert(ctx context.Context, snap Snapshot) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// TrimHistory keeps the newest keep rows of every (user, start, end)
	// group with both bounds set and deletes the rest.
	TrimHistory(ctx context.Context, keep int) (int64, error)
}

// HomeworkRepository upserts homework by upstream id. A zero from or to
// leaves that side of the due date filter open.
type HomeworkRepository interface {
	Upsert(ctx context.Context, hw Homework) error
	ListByUser(ctx context.Context, userID int64, from, to int) ([]Homework, error)
}

// ExamRepository upserts exams by upstream id. A zero from or to leaves
// that side of the date filter open.
type ExamRepository interface {
	Upsert(ctx context.Context, exam Exam) error
	ListByUser(ctx context.Context, userID int64, from, to int) ([]Exam, error)
}
