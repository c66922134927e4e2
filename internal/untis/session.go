package untis

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// elementTypeClass is the element type of a school class.
const elementTypeClass = 1

// Session is an authenticated login. It must be closed with Logout.
type Session struct {
	client     *Client
	base       string
	school     string
	id         string
	personType int
	personID   int64
	klasseID   int64
}

type element struct {
	ID   int64 `json:"id"`
	Type int   `json:"type"`
}

func (s *Session) element() element {
	if s.personID > 0 && s.personType > 0 {
		return element{ID: s.personID, Type: s.personType}
	}
	return element{ID: s.klasseID, Type: elementTypeClass}
}

type timetableOptions struct {
	Element       element  `json:"element"`
	StartDate     int      `json:"startDate,omitempty"`
	EndDate       int      `json:"endDate,omitempty"`
	ShowInfo      bool     `json:"showInfo,omitempty"`
	ShowSubstText bool     `json:"showSubstText,omitempty"`
	ShowLsText    bool     `json:"showLsText,omitempty"`
	ShowLsNumber  bool     `json:"showLsNumber,omitempty"`
	KlasseFields  []string `json:"klasseFields,omitempty"`
	TeacherFields []string `json:"teacherFields,omitempty"`
	SubjectFields []string `json:"subjectFields,omitempty"`
	RoomFields    []string `json:"roomFields,omitempty"`
}

func (s *Session) detailedOptions(start, end time.Time) timetableOptions {
	fields := []string{"id", "name", "longname"}
	return timetableOptions{
		Element:       s.element(),
		StartDate:     Date(start),
		EndDate:       Date(end),
		ShowInfo:      true,
		ShowSubstText: true,
		ShowLsText:    true,
		ShowLsNumber:  true,
		KlasseFields:  fields,
		TeacherFields: fields,
		SubjectFields: fields,
		RoomFields:    fields,
	}
}

// TimetableRange returns the lessons between start and end, inclusive by day.
func (s *Session) TimetableRange(ctx context.Context, start, end time.Time) ([]Lesson, error) {
	params := struct {
		Options timetableOptions `json:"options"`
	}{Options: s.detailedOptions(start, end)}
	var lessons []Lesson
	if err := s.client.call(ctx, s.base, s.school, s.id, "getTimetable", params, &lessons); err != nil {
		return nil, err
	}
	return lessons, nil
}

// TimetableToday returns today's lessons in the school's time zone.
func (s *Session) TimetableToday(ctx context.Context) ([]Lesson, error) {
	today := s.client.now().In(s.client.loc)
	return s.TimetableRange(ctx, today, today)
}

// TimetableDefault asks for the account's own timetable with no options;
// the service answers with the current day.
func (s *Session) TimetableDefault(ctx context.Context) ([]Lesson, error) {
	var lessons []Lesson
	if err := s.client.call(ctx, s.base, s.school, s.id, "getTimetable", s.element(), &lessons); err != nil {
		return nil, err
	}
	return lessons, nil
}

// Homework returns homework items and the lessons they refer to.
func (s *Session) Homework(ctx context.Context, start, end time.Time) (*HomeworkResponse, error) {
	query := url.Values{}
	query.Set("startDate", strconv.Itoa(Date(start)))
	query.Set("endDate", strconv.Itoa(Date(end)))
	var out HomeworkResponse
	if err := s.client.get(ctx, s.base, s.id, "homeworks/lessons", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Exams returns the exams scheduled between start and end.
func (s *Session) Exams(ctx context.Context, start, end time.Time) ([]Exam, error) {
	query := url.Values{}
	query.Set("startDate", strconv.Itoa(Date(start)))
	query.Set("endDate", strconv.Itoa(Date(end)))
	if s.personID > 0 {
		query.Set("studentId", strconv.FormatInt(s.personID, 10))
	}
	if s.klasseID > 0 {
		query.Set("klasseId", strconv.FormatInt(s.klasseID, 10))
	}
	var out examsData
	if err := s.client.get(ctx, s.base, s.id, "exams", query, &out); err != nil {
		return nil, err
	}
	return out.Exams, nil
}

// Logout ends the session.
func (s *Session) Logout(ctx context.Context) error {
	return s.client.call(ctx, s.base, s.school, s.id, "logout", struct{}{}, nil)
}

// Date formats t as the service's yyyymmdd integer.
func Date(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
