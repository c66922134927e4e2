package untis

import (
	json "github.com/goccy/go-json"
)

// Credentials identify one account at one school.
type Credentials struct {
	School   string
	Username string
	Secret   []byte
	// Host is the service host name, or a full base URL.
	Host string
}

// Ref is an element reference inside a timetable entry.
type Ref struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	LongName string `json:"longname,omitempty"`
	OrgID    int64  `json:"orgid,omitempty"`
}

// Lesson is one timetable entry as returned by getTimetable. Different
// deployments identify a lesson through different fields, so every known
// alias is decoded.
type Lesson struct {
	ID           int64  `json:"id"`
	LessonID     int64  `json:"lessonId,omitempty"`
	LsNumber     int64  `json:"lsnumber,omitempty"`
	LessonNumber int64  `json:"lessonNumber,omitempty"`
	Date         int    `json:"date"`
	StartTime    int    `json:"startTime"`
	EndTime      int    `json:"endTime"`
	Classes      []Ref  `json:"kl"`
	Teachers     []Ref  `json:"te"`
	Subjects     []Ref  `json:"su"`
	Rooms        []Ref  `json:"ro"`
	Type         string `json:"lstype,omitempty"`
	Code         string `json:"code,omitempty"`
	Info         string `json:"info,omitempty"`
	LessonText   string `json:"lstext,omitempty"`
	SubstText    string `json:"substText,omitempty"`
	ActivityType string `json:"activityType,omitempty"`
}

// HomeworkResponse is the data section of api/homeworks/lessons.
type HomeworkResponse struct {
	Homeworks []Homework       `json:"homeworks"`
	Lessons   []HomeworkLesson `json:"lessons"`
}

// Homework is one homework item.
type Homework struct {
	ID        int64   `json:"id"`
	LessonID  int64   `json:"lessonId"`
	Date      int     `json:"date"`
	DueDate   int     `json:"dueDate"`
	Text      string  `json:"text"`
	Remark    *string `json:"remark"`
	Completed bool    `json:"completed"`
	Subject   *Ref    `json:"subject,omitempty"`
}

// HomeworkLesson links a homework lesson id to its subject name.
type HomeworkLesson struct {
	ID         int64  `json:"id"`
	Subject    string `json:"subject"`
	LessonType string `json:"lessonType"`
}

// Exam is one entry of api/exams.
type Exam struct {
	ID        int64           `json:"id"`
	ExamType  string          `json:"examType"`
	Name      string          `json:"name"`
	ExamDate  int             `json:"examDate"`
	StartTime int             `json:"startTime"`
	EndTime   int             `json:"endTime"`
	Subject   string          `json:"subject"`
	Teachers  json.RawMessage `json:"teachers"`
	Rooms     json.RawMessage `json:"rooms"`
	Text      *string         `json:"text"`
}

type rpcRequest struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	JSONRPC string `json:"jsonrpc"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type authResult struct {
	SessionID  string `json:"sessionId"`
	PersonType int    `json:"personType"`
	PersonID   int64  `json:"personId"`
	KlasseID   int64  `json:"klasseId"`
}

type restEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type examsData struct {
	Exams []Exam `json:"exams"`
}
