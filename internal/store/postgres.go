package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	userByIDSQL      = `SELECT id, username, oidc_subject, created_at FROM users WHERE id = $1`
	userBySubjectSQL = `SELECT id, username, oidc_subject, created_at FROM users WHERE oidc_subject = $1`

	credentialByUserSQL = `
SELECT user_id, ciphertext, nonce, key_version, updated_at
FROM untis_credentials
WHERE user_id = $1`

	snapshotLatestSQL = `
SELECT id, user_id, range_start, range_end, payload, created_at
FROM timetable_snapshots
WHERE user_id = $1
  AND range_start = $2
  AND range_end IS NOT DISTINCT FROM $3
  AND created_at > $4
ORDER BY created_at DESC, id DESC
LIMIT 1`

	snapshotExistsSQL = `
SELECT EXISTS (
    SELECT 1 FROM timetable_snapshots
    WHERE user_id = $1
      AND range_start = $2
      AND range_end IS NOT DISTINCT FROM $3
      AND created_at > $4
)`

	snapshotInsertSQL = `
INSERT INTO timetable_snapshots (user_id, range_start, range_end, payload, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5)`

	snapshotDeleteOlderSQL = `DELETE FROM timetable_snapshots WHERE created_at < $1`

	snapshotTrimHistorySQL = `
DELETE FROM timetable_snapshots
WHERE id IN (
    SELECT id FROM (
        SELECT id, ROW_NUMBER() OVER (
            PARTITION BY user_id, range_start, range_end
            ORDER BY created_at DESC, id DESC
        ) AS rn
        FROM timetable_snapshots
        WHERE range_start IS NOT NULL AND range_end IS NOT NULL
    ) ranked
    WHERE ranked.rn > $1
)`

	homeworkUpsertSQL = `
INSERT INTO homework (upstream_id, user_id, lesson_id, due_date, subject, text, remark, completed, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (upstream_id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    lesson_id = EXCLUDED.lesson_id,
    due_date = EXCLUDED.due_date,
    subject = EXCLUDED.subject,
    text = EXCLUDED.text,
    remark = EXCLUDED.remark,
    completed = EXCLUDED.completed,
    fetched_at = EXCLUDED.fetched_at`

	homeworkListSQL = `
SELECT upstream_id, user_id, lesson_id, due_date, subject, text, remark, completed, fetched_at
FROM homework
WHERE user_id = $1
  AND ($2 = 0 OR due_date >= $2)
  AND ($3 = 0 OR due_date <= $3)
ORDER BY due_date, upstream_id`

	examUpsertSQL = `
INSERT INTO exams (upstream_id, user_id, exam_date, start_time, end_time, subject, name, text, teachers, rooms, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11)
ON CONFLICT (upstream_id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    exam_date = EXCLUDED.exam_date,
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    subject = EXCLUDED.subject,
    name = EXCLUDED.name,
    text = EXCLUDED.text,
    teachers = EXCLUDED.teachers,
    rooms = EXCLUDED.rooms,
    fetched_at = EXCLUDED.fetched_at`

	examListSQL = `
SELECT upstream_id, user_id, exam_date, start_time, end_time, subject, name, text, teachers, rooms, fetched_at
FROM exams
WHERE user_id = $1
  AND ($2 = 0 OR exam_date >= $2)
  AND ($3 = 0 OR exam_date <= $3)
ORDER BY exam_date, start_time, upstream_id`
)

// userRepo implements UserRepository.
type userRepo struct {
	pool dbPool
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	defer observeDB(ctx, "users.get_by_id")()
	return scanUser(r.pool.QueryRow(ctx, userByIDSQL, id))
}

func (r *userRepo) GetBySubject(ctx context.Context, subject string) (*User, error) {
	defer observeDB(ctx, "users.get_by_subject")()
	return scanUser(r.pool.QueryRow(ctx, userBySubjectSQL, subject))
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.OIDCSubject, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// credentialRepo implements CredentialRepository.
type credentialRepo struct {
	pool dbPool
}

func (r *credentialRepo) GetByUser(ctx context.Context, userID int64) (*Credential, error) {
	defer observeDB(ctx, "credentials.get_by_user")()
	var c Credential
	err := r.pool.QueryRow(ctx, credentialByUserSQL, userID).Scan(&c.UserID, &c.Ciphertext, &c.Nonce, &c.KeyVersion, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &c, nil
}

// snapshotRepo implements SnapshotRepository.
type snapshotRepo struct {
	pool dbPool
}

func (r *snapshotRepo) LatestSince(ctx context.Context, userID int64, start time.Time, end *time.Time, since time.Time) (*Snapshot, error) {
	defer observeDB(ctx, "snapshots.latest_since")()
	var s Snapshot
	err := r.pool.QueryRow(ctx, snapshotLatestSQL, userID, start, end, since).
		Scan(&s.ID, &s.UserID, &s.RangeStart, &s.RangeEnd, &s.Payload, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup snapshot: %w", err)
	}
	return &s, nil
}

func (r *snapshotRepo) ExistsSince(ctx context.Context, userID int64, start time.Time, end *time.Time, since time.Time) (bool, error) {
	defer observeDB(ctx, "snapshots.exists_since")()
	var exists bool
	if err := r.pool.QueryRow(ctx, snapshotExistsSQL, userID, start, end, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("check snapshot: %w", err)
	}
	return exists, nil
}

func (r *snapshotRepo) Insert(ctx context.Context, snap Snapshot) error {
	defer observeDB(ctx, "snapshots.insert")()
	if _, err := r.pool.Exec(ctx, snapshotInsertSQL, snap.UserID, snap.RangeStart, snap.RangeEnd, string(snap.Payload), snap.CreatedAt); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observeDB(ctx, "snapshots.delete_older")()
	tag, err := r.pool.Exec(ctx, snapshotDeleteOlderSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *snapshotRepo) TrimHistory(ctx context.Context, keep int) (int64, error) {
	defer observeDB(ctx, "snapshots.trim_history")()
	tag, err := r.pool.Exec(ctx, snapshotTrimHistorySQL, keep)
	if err != nil {
		return 0, fmt.Errorf("trim snapshot history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// homeworkRepo implements HomeworkRepository.
type homeworkRepo struct {
	pool dbPool
}

func (r *homeworkRepo) Upsert(ctx context.Context, hw Homework) error {
	defer observeDB(ctx, "homework.upsert")()
	_, err := r.pool.Exec(ctx, homeworkUpsertSQL,
		hw.UpstreamID, hw.UserID, hw.LessonID, hw.DueDate, hw.Subject, hw.Text, hw.Remark, hw.Completed, hw.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert homework %d: %w", hw.UpstreamID, err)
	}
	return nil
}

func (r *homeworkRepo) ListByUser(ctx context.Context, userID int64, from, to int) ([]Homework, error) {
	defer observeDB(ctx, "homework.list_by_user")()
	rows, err := r.pool.Query(ctx, homeworkListSQL, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list homework: %w", err)
	}
	defer rows.Close()

	var out []Homework
	for rows.Next() {
		var hw Homework
		if err := rows.Scan(&hw.UpstreamID, &hw.UserID, &hw.LessonID, &hw.DueDate, &hw.Subject, &hw.Text, &hw.Remark, &hw.Completed, &hw.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan homework: %w", err)
		}
		out = append(out, hw)
	}
	return out, rows.Err()
}

// examRepo implements ExamRepository.
type examRepo struct {
	pool dbPool
}

func (r *examRepo) Upsert(ctx context.Context, exam Exam) error {
	defer observeDB(ctx, "exams.upsert")()
	_, err := r.pool.Exec(ctx, examUpsertSQL,
		exam.UpstreamID, exam.UserID, exam.Date, exam.StartTime, exam.EndTime, exam.Subject, exam.Name, exam.Text,
		jsonParam(exam.Teachers), jsonParam(exam.Rooms), exam.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert exam %d: %w", exam.UpstreamID, err)
	}
	return nil
}

func (r *examRepo) ListByUser(ctx context.Context, userID int64, from, to int) ([]Exam, error) {
	defer observeDB(ctx, "exams.list_by_user")()
	rows, err := r.pool.Query(ctx, examListSQL, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()

	var out []Exam
	for rows.Next() {
		var e Exam
		if err := rows.Scan(&e.UpstreamID, &e.UserID, &e.Date, &e.StartTime, &e.EndTime, &e.Subject, &e.Name, &e.Text, &e.Teachers, &e.Rooms, &e.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// jsonParam passes raw JSON to a ::jsonb parameter, mapping empty input to NULL.
func jsonParam(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
