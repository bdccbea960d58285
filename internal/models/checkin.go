package models

import "time"

// Checkin is a student's single recorded arrival against one session. At most
// one row exists per (session, student) pair; the store enforces this with a
// unique constraint, not an application-level check.
type Checkin struct {
	SessionID string    `json:"session_id"`
	StudentID int64     `json:"student_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Status classifies an arrival relative to the session start.
type Status string

const (
	StatusAbsent Status = "absent"
	StatusOnTime Status = "on_time"
	StatusLate   Status = "late"
)

// CheckinEvent is the payload fanned out to live observers of a session. It
// carries enough to render an update without a follow-up query.
type CheckinEvent struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}
