package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local backing for every repository. It is used by
// tests and by APP_STORE_DRIVER=memory for local development.
type Memory struct {
	mu          sync.RWMutex
	users       map[int64]User
	credentials map[int64]Credential
	snapshots   []Snapshot
	nextID      int64
	homework    map[int64]Homework
	exams       map[int64]Exam
}

// NewMemory returns a Store whose repositories all share one Memory.
func NewMemory() (*Store, *Memory) {
	m := &Memory{
		users:       make(map[int64]User),
		credentials: make(map[int64]Credential),
		homework:    make(map[int64]Homework),
		exams:       make(map[int64]Exam),
	}
	return &Store{
		Users:       memUsers{m},
		Credentials: memCredentials{m},
		Snapshots:   memSnapshots{m},
		Homework:    memHomework{m},
		Exams:       memExams{m},
	}, m
}

// PutUser adds or replaces a user.
func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutCredential adds or replaces a user's credential.
func (m *Memory) PutCredential(c Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[c.UserID] = c
}

// AllSnapshots returns a copy of every stored snapshot in insertion order.
func (m *Memory) AllSnapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

type memUsers struct{ m *Memory }

func (r memUsers) GetByID(ctx context.Context, id int64) (*User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r memUsers) GetBySubject(ctx context.Context, subject string) (*User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, u := range r.m.users {
		if u.OIDCSubject == subject {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

type memCredentials struct{ m *Memory }

func (r memCredentials) GetByUser(ctx context.Context, userID int64) (*Credential, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.credentials[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

type memSnapshots struct{ m *Memory }

func sameKey(s Snapshot, userID int64, start time.Time, end *time.Time) bool {
	if s.UserID != userID || !s.RangeStart.Equal(start) {
		return false
	}
	if s.RangeEnd == nil || end == nil {
		return s.RangeEnd == nil && end == nil
	}
	return s.RangeEnd.Equal(*end)
}

func (r memSnapshots) LatestSince(ctx context.Context, userID int64, start time.Time, end *time.Time, since time.Time) (*Snapshot, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var best *Snapshot
	for i := range r.m.snapshots {
		s := r.m.snapshots[i]
		if !sameKey(s, userID, start, end) || !s.CreatedAt.After(since) {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) || (s.CreatedAt.Equal(best.CreatedAt) && s.ID > best.ID) {
			best = &s
		}
	}
	return best, nil
}

func (r memSnapshots) ExistsSince(ctx context.Context, userID int64, start time.Time, end *time.Time, since time.Time) (bool, error) {
	s, err := r.LatestSince(ctx, userID, start, end, since)
	return s != nil, err
}

func (r memSnapshots) Insert(ctx context.Context, snap Snapshot) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextID++
	snap.ID = r.m.nextID
	snap.Payload = append([]byte(nil), snap.Payload...)
	r.m.snapshots = append(r.m.snapshots, snap)
	return nil
}

func (r memSnapshots) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	kept := r.m.snapshots[:0]
	var removed int64
	for _, s := range r.m.snapshots {
		if s.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	r.m.snapshots = kept
	return removed, nil
}

func (r memSnapshots) TrimHistory(ctx context.Context, keep int) (int64, error) {
	type groupKey struct {
		user       int64
		start, end int64
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	groups := make(map[groupKey][]int)
	for i, s := range r.m.snapshots {
		if s.RangeEnd == nil {
			continue
		}
		k := groupKey{user: s.UserID, start: s.RangeStart.UnixNano(), end: s.RangeEnd.UnixNano()}
		groups[k] = append(groups[k], i)
	}

	drop := make(map[int]bool)
	for _, idx := range groups {
		if len(idx) <= keep {
			continue
		}
		sort.Slice(idx, func(a, b int) bool {
			sa, sb := r.m.snapshots[idx[a]], r.m.snapshots[idx[b]]
			if !sa.CreatedAt.Equal(sb.CreatedAt) {
				return sa.CreatedAt.After(sb.CreatedAt)
			}
			return sa.ID > sb.ID
		})
		for _, i := range idx[keep:] {
			drop[i] = true
		}
	}

	kept := r.m.snapshots[:0]
	for i, s := range r.m.snapshots {
		if !drop[i] {
			kept = append(kept, s)
		}
	}
	r.m.snapshots = kept
	return int64(len(drop)), nil
}

func inSpan(date, from, to int) bool {
	return (from == 0 || date >= from) && (to == 0 || date <= to)
}

type memHomework struct{ m *Memory }

func (r memHomework) Upsert(ctx context.Context, hw Homework) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.homework[hw.UpstreamID] = hw
	return nil
}

func (r memHomework) ListByUser(ctx context.Context, userID int64, from, to int) ([]Homework, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []Homework
	for _, hw := range r.m.homework {
		if hw.UserID == userID && inSpan(hw.DueDate, from, to) {
			out = append(out, hw)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate != out[j].DueDate {
			return out[i].DueDate < out[j].DueDate
		}
		return out[i].UpstreamID < out[j].UpstreamID
	})
	return out, nil
}

type memExams struct{ m *Memory }

func (r memExams) Upsert(ctx context.Context, exam Exam) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.exams[exam.UpstreamID] = exam
	return nil
}

func (r memExams) ListByUser(ctx context.Context, userID int64, from, to int) ([]Exam, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []Exam
	for _, e := range r.m.exams {
		if e.UserID == userID && inSpan(e.Date, from, to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].UpstreamID < out[j].UpstreamID
	})
	return out, nil
}
