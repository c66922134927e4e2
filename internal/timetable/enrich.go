package timetable

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jw6ventures/timetable/internal/store"
	"github.com/jw6ventures/timetable/internal/untis"
)

// Enricher stores homework and exam records and joins them into lessons.
type Enricher struct {
	homework store.HomeworkRepository
	exams    store.ExamRepository
	clock    Clock
}

// NewEnricher builds an Enricher over the given repositories.
func NewEnricher(homework store.HomeworkRepository, exams store.ExamRepository, clock Clock) *Enricher {
	if clock == nil {
		clock = SystemClock
	}
	return &Enricher{homework: homework, exams: exams, clock: clock}
}

// LessonSubjects maps homework lesson ids to subject names.
func LessonSubjects(resp *untis.HomeworkResponse) map[int64]string {
	subjects := make(map[int64]string)
	if resp == nil {
		return subjects
	}
	for _, l := range resp.Lessons {
		if name := strings.TrimSpace(l.Subject); name != "" {
			subjects[l.ID] = name
		}
	}
	return subjects
}

// PersistHomework upserts every item by its upstream id. The subject comes
// from lessonIDToSubject when known, else from the item itself. Items that
// fail are reported together after the rest are written.
func (e *Enricher) PersistHomework(ctx context.Context, userID int64, raw []untis.Homework, lessonIDToSubject map[int64]string) error {
	now := e.clock.Now()
	var errs []error
	for _, item := range raw {
		subject := lessonIDToSubject[item.LessonID]
		if subject == "" && item.Subject != nil {
			subject = item.Subject.Name
		}
		due := item.DueDate
		if due == 0 {
			due = item.Date
		}
		record := store.Homework{
			UpstreamID: item.ID,
			UserID:     userID,
			DueDate:    due,
			Subject:    subject,
			Text:       item.Text,
			Remark:     item.Remark,
			Completed:  item.Completed,
			FetchedAt:  now,
		}
		if item.LessonID != 0 {
			lessonID := item.LessonID
			record.LessonID = &lessonID
		}
		if err := e.homework.Upsert(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("homework %d: %w", item.ID, err))
		}
	}
	return errors.Join(errs...)
}

// PersistExams upserts every exam by its upstream id. Teacher and room
// lists are kept as the service sent them.
func (e *Enricher) PersistExams(ctx context.Context, userID int64, raw []untis.Exam) error {
	now := e.clock.Now()
	var errs []error
	for _, item := range raw {
		record := store.Exam{
			UpstreamID: item.ID,
			UserID:     userID,
			Date:       item.ExamDate,
			StartTime:  item.StartTime,
			EndTime:    item.EndTime,
			Subject:    item.Subject,
			Name:       item.Name,
			Text:       item.Text,
			Teachers:   []byte(item.Teachers),
			Rooms:      []byte(item.Rooms),
			FetchedAt:  now,
		}
		if err := e.exams.Upsert(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("exam %d: %w", item.ID, err))
		}
	}
	return errors.Join(errs...)
}

// MergeIntoLessons attaches the user's stored homework and exams to
// lessons, restricted to [start, end] when both are given. Homework
// attaches when its lesson id matches any of the lesson's ids, or when its
// due date and subject match the lesson. Exams attach on date and subject.
func (e *Enricher) MergeIntoLessons(ctx context.Context, userID int64, lessons []Lesson, start, end *time.Time) ([]Lesson, error) {
	var from, to int
	if start != nil && end != nil {
		from, to = untis.Date(*start), untis.Date(*end)
	}
	homework, err := e.homework.ListByUser(ctx, userID, from, to)
	if err != nil {
		return lessons, fmt.Errorf("load homework: %w", err)
	}
	exams, err := e.exams.ListByUser(ctx, userID, from, to)
	if err != nil {
		return lessons, fmt.Errorf("load exams: %w", err)
	}

	for i := range lessons {
		lesson := &lessons[i]
		lesson.Homework = nil
		lesson.Exams = nil
		for _, hw := range homework {
			byID := hw.LessonID != nil && slices.Contains(lesson.aliases, *hw.LessonID)
			bySlot := hw.DueDate == lesson.Date && lesson.HasSubject(hw.Subject)
			if !byID && !bySlot {
				continue
			}
			lesson.Homework = append(lesson.Homework, LessonHomework{
				ID:        hw.UpstreamID,
				Subject:   hw.Subject,
				Text:      hw.Text,
				Remark:    hw.Remark,
				DueDate:   hw.DueDate,
				Completed: hw.Completed,
			})
		}
		for _, ex := range exams {
			if ex.Date != lesson.Date || !lesson.HasSubject(ex.Subject) {
				continue
			}
			lesson.Exams = append(lesson.Exams, LessonExam{
				ID:        ex.UpstreamID,
				Name:      ex.Name,
				Subject:   ex.Subject,
				Text:      ex.Text,
				StartTime: ex.StartTime,
				EndTime:   ex.EndTime,
			})
		}
	}
	return lessons, nil
}
