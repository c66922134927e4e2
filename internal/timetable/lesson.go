package timetable

import (
	"slices"
	"strings"

	"github.com/jw6ventures/timetable/internal/untis"
)

// Lesson status values.
const (
	StatusNone      = ""
	StatusCancelled = "cancelled"
	StatusIrregular = "irregular"
)

// Ref names a subject, teacher, room or class.
type Ref struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	LongName string `json:"longName,omitempty"`
}

// Lesson is one timetable entry as returned to callers and cached in snapshots.
type Lesson struct {
	ID           int64            `json:"id"`
	Date         int              `json:"date"`
	StartTime    int              `json:"startTime"`
	EndTime      int              `json:"endTime"`
	Subjects     []Ref            `json:"subjects"`
	Teachers     []Ref            `json:"teachers"`
	Rooms        []Ref            `json:"rooms"`
	Classes      []Ref            `json:"classes,omitempty"`
	Status       string           `json:"status,omitempty"`
	Info         string           `json:"info,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	Substitution string           `json:"substitution,omitempty"`
	Homework     []LessonHomework `json:"homework,omitempty"`
	Exams        []LessonExam     `json:"exams,omitempty"`

	// aliases are every upstream id this lesson is known by.
	aliases []int64
}

// LessonHomework is a homework record attached to a lesson.
type LessonHomework struct {
	ID        int64   `json:"id"`
	Subject   string  `json:"subject"`
	Text      string  `json:"text"`
	Remark    *string `json:"remark,omitempty"`
	DueDate   int     `json:"dueDate"`
	Completed bool    `json:"completed"`
}

// LessonExam is an exam attached to a lesson.
type LessonExam struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Subject   string  `json:"subject"`
	Text      *string `json:"text,omitempty"`
	StartTime int     `json:"startTime"`
	EndTime   int     `json:"endTime"`
}

// HasSubject reports whether any of the lesson's subjects is named name
// exactly. An empty name matches nothing.
func (l Lesson) HasSubject(name string) bool {
	if name == "" {
		return false
	}
	for _, ref := range l.Subjects {
		if ref.Name == name {
			return true
		}
	}
	return false
}

// Aliases returns every upstream id the lesson is known by.
func (l Lesson) Aliases() []int64 { return l.aliases }

// FromUpstream converts a raw timetable entry. Lesson ids are taken in the
// order lessonId, id, lsnumber, lessonNumber; zero values are skipped and
// duplicates dropped. The first alias becomes the lesson id.
func FromUpstream(raw untis.Lesson) Lesson {
	var aliases []int64
	for _, id := range []int64{raw.LessonID, raw.ID, raw.LsNumber, raw.LessonNumber} {
		if id == 0 || slices.Contains(aliases, id) {
			continue
		}
		aliases = append(aliases, id)
	}
	lesson := Lesson{
		Date:         raw.Date,
		StartTime:    raw.StartTime,
		EndTime:      raw.EndTime,
		Subjects:     convertRefs(raw.Subjects),
		Teachers:     convertRefs(raw.Teachers),
		Rooms:        convertRefs(raw.Rooms),
		Classes:      convertRefs(raw.Classes),
		Status:       status(raw.Code),
		Info:         strings.TrimSpace(raw.Info),
		Notes:        strings.TrimSpace(raw.LessonText),
		Substitution: strings.TrimSpace(raw.SubstText),
		aliases:      aliases,
	}
	if len(aliases) > 0 {
		lesson.ID = aliases[0]
	}
	return lesson
}

func convertRefs(refs []untis.Ref) []Ref {
	out := make([]Ref, 0, len(refs))
	for _, r := range refs {
		out = append(out, Ref{ID: r.ID, Name: r.Name, LongName: r.LongName})
	}
	return out
}

func status(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case StatusCancelled:
		return StatusCancelled
	case StatusIrregular:
		return StatusIrregular
	}
	return StatusNone
}
