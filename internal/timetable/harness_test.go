package timetable

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jw6ventures/timetable/internal/store"
	"github.com/jw6ventures/timetable/internal/untis"
	"github.com/jw6ventures/timetable/internal/vault"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeUpstream records calls and serves canned data.
type fakeUpstream struct {
	mu sync.Mutex

	loginErr    error
	rangeErr    error
	todayErr    error
	homeworkErr error
	examsErr    error
	logoutErr   error

	lessons  []untis.Lesson
	homework *untis.HomeworkResponse
	exams    []untis.Exam

	// loginGate, when set, holds Login until it is closed or ctx is done.
	// loginEntered receives once per Login that reaches the gate.
	loginGate    chan struct{}
	loginEntered chan struct{}

	logins     int
	logouts    int
	todayCalls int
	ranges     [][2]time.Time
	secrets    []string
}

func (f *fakeUpstream) Login(ctx context.Context, creds untis.Credentials) (Session, error) {
	if f.loginGate != nil {
		f.loginEntered <- struct{}{}
		select {
		case <-f.loginGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	f.secrets = append(f.secrets, string(creds.Secret))
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &fakeSession{up: f}, nil
}

func (f *fakeUpstream) counts() (logins, logouts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.logouts
}

type fakeSession struct {
	up *fakeUpstream
}

func (s *fakeSession) TimetableRange(ctx context.Context, start, end time.Time) ([]untis.Lesson, error) {
	s.up.mu.Lock()
	defer s.up.mu.Unlock()
	s.up.ranges = append(s.up.ranges, [2]time.Time{start, end})
	if s.up.rangeErr != nil {
		return nil, s.up.rangeErr
	}
	return s.up.lessons, nil
}

func (s *fakeSession) TimetableToday(ctx context.Context) ([]untis.Lesson, error) {
	s.up.mu.Lock()
	defer s.up.mu.Unlock()
	s.up.todayCalls++
	if s.up.todayErr != nil {
		return nil, s.up.todayErr
	}
	return s.up.lessons, nil
}

func (s *fakeSession) TimetableDefault(ctx context.Context) ([]untis.Lesson, error) {
	return s.up.lessons, nil
}

func (s *fakeSession) Homework(ctx context.Context, start, end time.Time) (*untis.HomeworkResponse, error) {
	s.up.mu.Lock()
	defer s.up.mu.Unlock()
	if s.up.homeworkErr != nil {
		return nil, s.up.homeworkErr
	}
	return s.up.homework, nil
}

func (s *fakeSession) Exams(ctx context.Context, start, end time.Time) ([]untis.Exam, error) {
	s.up.mu.Lock()
	defer s.up.mu.Unlock()
	if s.up.examsErr != nil {
		return nil, s.up.examsErr
	}
	return s.up.exams, nil
}

func (s *fakeSession) Logout(ctx context.Context) error {
	s.up.mu.Lock()
	defer s.up.mu.Unlock()
	s.up.logouts++
	return s.up.logoutErr
}

type harness struct {
	engine *Engine
	mem    *store.Memory
	up     *fakeUpstream
	clock  *fakeClock
	vault  *vault.Vault
}

var harnessStart = time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, tune func(*Config), opts ...Option) *harness {
	t.Helper()
	st, mem := store.NewMemory()
	v, err := vault.New(map[int][]byte{1: bytes.Repeat([]byte{7}, 32)})
	require.NoError(t, err)
	ct, nonce, version, err := v.Seal([]byte("s3cret"))
	require.NoError(t, err)
	mem.PutUser(store.User{ID: 1, Username: "alice", OIDCSubject: "sub-alice"})
	mem.PutCredential(store.Credential{UserID: 1, Ciphertext: ct, Nonce: nonce, KeyVersion: version})

	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.PrefetchDelay = 0
	cfg.School = "demo"
	cfg.Host = "example.test"
	if tune != nil {
		tune(&cfg)
	}

	h := &harness{mem: mem, up: &fakeUpstream{}, clock: newFakeClock(harnessStart), vault: v}
	h.engine = New(st, v, h.up, cfg, append([]Option{WithClock(h.clock)}, opts...)...)
	t.Cleanup(h.engine.Close)
	return h
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }
