package timetable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jw6ventures/timetable/internal/untis"
)

// Dialer opens upstream sessions.
type Dialer interface {
	Login(ctx context.Context, creds untis.Credentials) (Session, error)
}

// Session is one authenticated upstream login.
type Session interface {
	TimetableRange(ctx context.Context, start, end time.Time) ([]untis.Lesson, error)
	TimetableToday(ctx context.Context) ([]untis.Lesson, error)
	TimetableDefault(ctx context.Context) ([]untis.Lesson, error)
	Homework(ctx context.Context, start, end time.Time) (*untis.HomeworkResponse, error)
	Exams(ctx context.Context, start, end time.Time) ([]untis.Exam, error)
	Logout(ctx context.Context) error
}

type clientDialer struct {
	client *untis.Client
}

// NewDialer adapts a wire client to Dialer.
func NewDialer(client *untis.Client) Dialer {
	return clientDialer{client: client}
}

func (d clientDialer) Login(ctx context.Context, creds untis.Credentials) (Session, error) {
	sess, err := d.client.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// login maps upstream login failures to caller-facing kinds.
func login(ctx context.Context, d Dialer, creds untis.Credentials) (Session, error) {
	sess, err := d.Login(ctx, creds)
	if err == nil {
		return sess, nil
	}
	if errors.Is(err, untis.ErrBadCredentials) {
		return nil, newError(KindAuthenticationFailed, err)
	}
	return nil, newError(KindUpstreamUnavailable, err)
}

type lessonMethod struct {
	name  string
	fetch func(context.Context) ([]untis.Lesson, error)
}

// fetchLessons tries the range method when both bounds are set, then the
// today method, then the default one, moving on only while the service
// reports a method as unsupported. An empty-result signal is success.
func fetchLessons(ctx context.Context, sess Session, start, end *time.Time) ([]untis.Lesson, error) {
	var methods []lessonMethod
	if start != nil && end != nil {
		methods = append(methods, lessonMethod{name: "range", fetch: func(ctx context.Context) ([]untis.Lesson, error) {
			return sess.TimetableRange(ctx, *start, *end)
		}})
	}
	methods = append(methods,
		lessonMethod{name: "today", fetch: sess.TimetableToday},
		lessonMethod{name: "default", fetch: sess.TimetableDefault},
	)

	var lastErr error
	for _, m := range methods {
		lessons, err := m.fetch(ctx)
		switch {
		case err == nil:
			return lessons, nil
		case errors.Is(err, untis.ErrNoResult):
			return nil, nil
		case errors.Is(err, untis.ErrUnsupported):
			lastErr = err
			continue
		default:
			return nil, newError(KindUpstreamFetchFailed, fmt.Errorf("lessons via %s: %w", m.name, err))
		}
	}
	return nil, newError(KindUpstreamFetchFailed, lastErr)
}

// fetchHomework is best effort and yields an empty response on failure.
func fetchHomework(ctx context.Context, sess Session, start, end time.Time) *untis.HomeworkResponse {
	var resp *untis.HomeworkResponse
	nonFatal(ctx, opFetchHomework, func(ctx context.Context) error {
		var err error
		resp, err = sess.Homework(ctx, start, end)
		return err
	})
	if resp == nil {
		return &untis.HomeworkResponse{}
	}
	return resp
}

// fetchExams is best effort and yields no exams on failure.
func fetchExams(ctx context.Context, sess Session, start, end time.Time) []untis.Exam {
	var exams []untis.Exam
	nonFatal(ctx, opFetchExams, func(ctx context.Context) error {
		var err error
		exams, err = sess.Exams(ctx, start, end)
		return err
	})
	return exams
}

// logout always runs on a context that outlives the request.
func logout(ctx context.Context, sess Session) {
	nonFatal(context.WithoutCancel(ctx), opLogout, sess.Logout)
}
