package store

import "time"

// User is a person whose timetable is mirrored from the school service.
type User struct {
	ID          int64
	Username    string
	OIDCSubject string
	CreatedAt   time.Time
}

// Credential holds the encrypted upstream secret for a user.
type Credential struct {
	UserID     int64
	Ciphertext []byte
	Nonce      []byte
	KeyVersion int
	UpdatedAt  time.Time
}

// Snapshot is one immutable result of a fetch-through for a user and range.
// Payload carries the JSON-encoded lesson list.
type Snapshot struct {
	ID         int64
	UserID     int64
	RangeStart time.Time
	RangeEnd   *time.Time
	Payload    []byte
	CreatedAt  time.Time
}

// Homework is the persisted copy of an upstream homework assignment.
type Homework struct {
	UpstreamID int64
	UserID     int64
	LessonID   *int64
	DueDate    int
	Subject    string
	Text       string
	Remark     *string
	Completed  bool
	FetchedAt  time.Time
}

// Exam is the persisted copy of an upstream exam entry. Teachers and Rooms
// are stored as opaque JSON.
type Exam struct {
	UpstreamID int64
	UserID     int64
	Date       int
	StartTime  int
	EndTime    int
	Subject    string
	Name       string
	Text       *string
	Teachers   []byte
	Rooms      []byte
	FetchedAt  time.Time
}
