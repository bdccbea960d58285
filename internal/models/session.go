package models

import "time"

// Session is one time-boxed attendance round opened by a teacher. The code is
// the public handle embedded in the QR link; it is unique across all sessions
// ever created so a stale link fails instead of resolving somewhere else.
//
// IsOpen alone does not mean the session accepts check-ins: expiry is
// evaluated lazily at read time, so callers must go through
// attendance.IsAcceptingCheckins rather than reading the flag directly.
type Session struct {
	ID        string    `json:"id"`
	TeacherID int64     `json:"teacher_id"`
	Topic     string    `json:"topic"`
	Code      string    `json:"code"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsOpen    bool      `json:"is_open"`
}
