// Package timetable serves per-user timetable ranges from a snapshot cache,
// falling through to the school service when no fresh snapshot exists.
package timetable

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/jw6ventures/timetable/internal/metrics"
	"github.com/jw6ventures/timetable/internal/store"
	"github.com/jw6ventures/timetable/internal/untis"
)

// Config holds engine tunables.
type Config struct {
	TTL           time.Duration
	PrefetchDelay time.Duration
	PruneInterval time.Duration
	PruneMaxAge   time.Duration
	PruneHistory  int
	// Location is the school's time zone for day and week boundaries.
	Location *time.Location
	School   string
	Host     string
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		TTL:           5 * time.Minute,
		PrefetchDelay: 2 * time.Second,
		PruneInterval: 6 * time.Hour,
		PruneMaxAge:   45 * 24 * time.Hour,
		PruneHistory:  2,
		Location:      time.Local,
	}
}

// Opener decrypts stored credentials.
type Opener interface {
	Open(ciphertext, nonce []byte, keyVersion int) ([]byte, error)
}

// AccessPolicy decides whether requesterID may view targetUserID's timetable.
type AccessPolicy interface {
	CanView(ctx context.Context, requesterID, targetUserID int64) (bool, error)
}

// AccessPolicyFunc adapts a function to AccessPolicy.
type AccessPolicyFunc func(ctx context.Context, requesterID, targetUserID int64) (bool, error)

func (f AccessPolicyFunc) CanView(ctx context.Context, requesterID, targetUserID int64) (bool, error) {
	return f(ctx, requesterID, targetUserID)
}

// SelfOnly lets users view only their own timetable.
var SelfOnly AccessPolicy = AccessPolicyFunc(func(_ context.Context, requesterID, targetUserID int64) (bool, error) {
	return requesterID == targetUserID, nil
})

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithAccessPolicy replaces SelfOnly.
func WithAccessPolicy(p AccessPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// RangeResult is the answer to a range request.
type RangeResult struct {
	UserID     int64      `json:"userId"`
	RangeStart time.Time  `json:"rangeStart"`
	RangeEnd   *time.Time `json:"rangeEnd"`
	Payload    []Lesson   `json:"payload"`
	Cached     bool       `json:"cached"`
}

// Engine serves timetable ranges.
type Engine struct {
	users       store.UserRepository
	credentials store.CredentialRepository
	snapshots   store.SnapshotRepository
	vault       Opener
	dialer      Dialer
	policy      AccessPolicy
	clock       Clock
	cfg         Config

	enricher  *Enricher
	pruner    *Pruner
	scheduler *Scheduler
	flights   singleflight.Group
}

// New wires an Engine over st.
func New(st *store.Store, vault Opener, dialer Dialer, cfg Config, opts ...Option) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	e := &Engine{
		users:       st.Users,
		credentials: st.Credentials,
		snapshots:   st.Snapshots,
		vault:       vault,
		dialer:      dialer,
		policy:      SelfOnly,
		clock:       SystemClock,
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.enricher = NewEnricher(st.Homework, st.Exams, e.clock)
	e.pruner = NewPruner(st.Snapshots, e.clock, cfg.PruneInterval, cfg.PruneMaxAge, cfg.PruneHistory)
	e.scheduler = NewScheduler(e.warm, e.pruner, cfg.PrefetchDelay)
	return e
}

// Pruner returns the engine's retention pruner.
func (e *Engine) Pruner() *Pruner { return e.pruner }

// Close stops background work and waits for running tasks.
func (e *Engine) Close() {
	e.scheduler.Close()
	e.scheduler.Wait()
}

// cacheKey is a resolved request: the snapshot key plus the window fetched
// from upstream.
type cacheKey struct {
	start time.Time
	end   *time.Time
	week  bool
	// from and to bound the fetch; byRange selects the range method.
	from, to time.Time
	byRange  bool
}

func (k cacheKey) flight(userID int64) string {
	end := "-"
	if k.end != nil {
		end = k.end.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%d|%s|%s", userID, k.start.UTC().Format(time.RFC3339Nano), end)
}

// resolve normalizes the request bounds. With a bound missing the request
// covers one day: that of start, or today. The key then has no end.
func (e *Engine) resolve(start, end *time.Time) cacheKey {
	loc := e.cfg.Location
	if r := NormalizeRange(start, end, loc); r.Start != nil {
		return cacheKey{start: *r.Start, end: r.End, week: r.Week, from: *r.Start, to: *r.End, byRange: true}
	}
	day := e.clock.Now()
	if start != nil {
		day = *start
	}
	return cacheKey{
		start:   startOfDay(day, loc),
		from:    startOfDay(day, loc),
		to:      endOfDay(day, loc),
		byRange: start != nil,
	}
}

// GetOrFetchRange returns targetUserID's lessons for [start, end], from a
// fresh snapshot when one exists and from upstream otherwise.
func (e *Engine) GetOrFetchRange(ctx context.Context, requesterID, targetUserID int64, start, end *time.Time) (*RangeResult, error) {
	allowed, err := e.policy.CanView(ctx, requesterID, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("check access: %w", err)
	}
	if !allowed {
		return nil, newError(KindForbidden, nil)
	}

	key := e.resolve(start, end)
	result := &RangeResult{UserID: targetUserID, RangeStart: key.start, RangeEnd: key.end}

	lessons, ok, err := e.lookupFresh(ctx, targetUserID, key)
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		result.Payload = lessons
		result.Cached = true
		return result, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	res, err := e.collapse(ctx, key.flight(targetUserID), func(ctx context.Context) (flightResult, error) {
		// A flight that just finished may have stored the range already.
		if lessons, ok, err := e.lookupFresh(ctx, targetUserID, key); err != nil || ok {
			return flightResult{lessons: lessons, cached: true}, err
		}
		lessons, err := e.fetchThrough(ctx, targetUserID, key)
		if err != nil {
			return flightResult{}, err
		}
		e.scheduler.Schedule(ctx, targetUserID, Range{Start: &key.start, End: key.end, Week: key.week})
		return flightResult{lessons: lessons}, nil
	})
	if err != nil {
		return nil, err
	}
	result.Payload = res.lessons
	result.Cached = res.cached
	return result, nil
}

type flightResult struct {
	lessons []Lesson
	cached  bool
}

// collapse runs fn once for concurrent callers sharing key. fn runs on a
// context detached from every caller, so a caller that goes away neither
// cancels the fetch nor fails the others; it only stops waiting.
func (e *Engine) collapse(ctx context.Context, key string, fn func(context.Context) (flightResult, error)) (flightResult, error) {
	shared := context.WithoutCancel(ctx)
	ch := e.flights.DoChan(key, func() (any, error) {
		return fn(shared)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return flightResult{}, res.Err
		}
		return res.Val.(flightResult), nil
	case <-ctx.Done():
		return flightResult{}, ctx.Err()
	}
}

func (e *Engine) lookupFresh(ctx context.Context, userID int64, key cacheKey) ([]Lesson, bool, error) {
	since := e.clock.Now().Add(-e.cfg.TTL)
	snap, err := e.snapshots.LatestSince(ctx, userID, key.start, key.end, since)
	if err != nil {
		return nil, false, fmt.Errorf("lookup snapshot: %w", err)
	}
	if snap == nil {
		return nil, false, nil
	}
	lessons := []Lesson{}
	if err := json.Unmarshal(snap.Payload, &lessons); err != nil {
		log.Printf("[WARN] snapshot %d has an unreadable payload, refetching: %v", snap.ID, err)
		return nil, false, nil
	}
	return lessons, true, nil
}

// warm fetches a prefetch candidate unless it is already fresh.
func (e *Engine) warm(ctx context.Context, userID int64, start, end time.Time) (bool, error) {
	key := e.resolve(&start, &end)
	fresh, err := e.snapshots.ExistsSince(ctx, userID, key.start, key.end, e.clock.Now().Add(-e.cfg.TTL))
	if err != nil {
		return false, fmt.Errorf("check snapshot: %w", err)
	}
	if fresh {
		return false, nil
	}
	_, err = e.collapse(ctx, key.flight(userID), func(ctx context.Context) (flightResult, error) {
		lessons, err := e.fetchThrough(ctx, userID, key)
		return flightResult{lessons: lessons}, err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// fetchThrough runs one full upstream pass for key: decrypt, login, fetch,
// enrich, store. The session is logged out on every path.
func (e *Engine) fetchThrough(ctx context.Context, userID int64, key cacheKey) ([]Lesson, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindCredentialsMissing, err)
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	cred, err := e.credentials.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindCredentialsMissing, err)
		}
		return nil, fmt.Errorf("load credentials for user %d: %w", userID, err)
	}

	secret, err := e.vault.Open(cred.Ciphertext, cred.Nonce, cred.KeyVersion)
	if err != nil {
		return nil, newError(KindCredentialDecryptionFailed, err)
	}
	sess, err := login(ctx, e.dialer, untis.Credentials{
		School:   e.cfg.School,
		Username: user.Username,
		Secret:   secret,
		Host:     e.cfg.Host,
	})
	clear(secret)
	if err != nil {
		return nil, err
	}
	defer logout(ctx, sess)

	var rangeStart, rangeEnd *time.Time
	if key.byRange {
		rangeStart, rangeEnd = &key.from, &key.to
	}
	raw, err := fetchLessons(ctx, sess, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}
	lessons := make([]Lesson, 0, len(raw))
	for _, r := range raw {
		lessons = append(lessons, FromUpstream(r))
	}

	homework := fetchHomework(ctx, sess, key.from, key.to)
	exams := fetchExams(ctx, sess, key.from, key.to)
	nonFatal(ctx, opPersistHomework, func(ctx context.Context) error {
		return e.enricher.PersistHomework(ctx, userID, homework.Homeworks, LessonSubjects(homework))
	})
	nonFatal(ctx, opPersistExams, func(ctx context.Context) error {
		return e.enricher.PersistExams(ctx, userID, exams)
	})
	nonFatal(ctx, opMerge, func(ctx context.Context) error {
		var err error
		lessons, err = e.enricher.MergeIntoLessons(ctx, userID, lessons, &key.from, &key.to)
		return err
	})

	nonFatal(ctx, opStoreSnapshot, func(ctx context.Context) error {
		payload, err := json.Marshal(lessons)
		if err != nil {
			return fmt.Errorf("encode lessons: %w", err)
		}
		return e.snapshots.Insert(ctx, store.Snapshot{
			UserID:     userID,
			RangeStart: key.start,
			RangeEnd:   key.end,
			Payload:    payload,
			CreatedAt:  e.clock.Now(),
		})
	})
	return lessons, nil
}
