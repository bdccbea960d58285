package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"rollcall/internal/models"
)

// Outcome is the result of a check-in attempt. AlreadyRecorded is a
// success-like outcome, not an error: the student's attendance stands.
type Outcome string

const (
	OutcomeNotFound        Outcome = "not_found"
	OutcomeClosed          Outcome = "closed"
	OutcomeAlreadyRecorded Outcome = "already_recorded"
	OutcomeAccepted        Outcome = "accepted"
)

// CheckinResult carries the outcome plus, when a record exists, the record
// and its computed status.
type CheckinResult struct {
	Outcome Outcome
	Session *models.Session
	Checkin *models.Checkin
	Status  models.Status
}

// RecordCheckin validates the session behind the code and records the
// student's arrival at most once. The dedup check and the insert are a single
// statement riding on the (session, student) unique constraint, so concurrent
// duplicate submissions yield exactly one Accepted and one ledger row.
//
// On Accepted the event is handed to the fanout hub; a delivery problem never
// rolls back or fails the check-in, the ledger is authoritative.
func (s *Service) RecordCheckin(ctx context.Context, code string, studentID int64, now time.Time) (*CheckinResult, error) {
	sess, err := s.GetSessionByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return &CheckinResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	if !IsAcceptingCheckins(sess, now) {
		return &CheckinResult{Outcome: OutcomeClosed, Session: sess}, nil
	}

	res, err := s.db.ExecContext(ctx, s.insertCheckin, sess.ID, studentID, now)
	if err != nil {
		return nil, fmt.Errorf("record checkin: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checkin rows affected: %w", err)
	}
	if affected == 0 {
		rec, err := s.getCheckin(ctx, sess.ID, studentID)
		if err != nil {
			return nil, err
		}
		return &CheckinResult{
			Outcome: OutcomeAlreadyRecorded,
			Session: sess,
			Checkin: rec,
			Status:  ComputeStatus(sess, rec, s.lateThreshold),
		}, nil
	}

	rec := &models.Checkin{SessionID: sess.ID, StudentID: studentID, Timestamp: now}
	status := ComputeStatus(sess, rec, s.lateThreshold)

	if s.hub != nil {
		student, err := s.GetUser(ctx, studentID)
		if err != nil {
			log.Printf("checkin fanout: lookup student %d: %v", studentID, err)
		} else {
			s.hub.Publish(sess.ID, models.CheckinEvent{
				Username:  student.Username,
				FullName:  student.FullName,
				Timestamp: rec.Timestamp,
				Status:    status,
			})
		}
	}

	return &CheckinResult{Outcome: OutcomeAccepted, Session: sess, Checkin: rec, Status: status}, nil
}

func (s *Service) getCheckin(ctx context.Context, sessionID string, studentID int64) (*models.Checkin, error) {
	var rec models.Checkin
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, student_id, timestamp FROM checkins WHERE session_id = ? AND student_id = ?`,
		sessionID, studentID,
	).Scan(&rec.SessionID, &rec.StudentID, &rec.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkin for session %s student %d vanished", sessionID, studentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query checkin: %w", err)
	}
	return &rec, nil
}

// ComputeStatus classifies an arrival. Absent when no record exists; late
// when more than lateThresholdMinutes elapsed between session start and the
// check-in. Every view of attendance data (live feed, detail page, exports)
// uses this one function, so the classifications can never diverge.
//
// A timestamp before the session start (clock skew, manual edits) yields a
// negative elapsed time and classifies as on time.
func ComputeStatus(sess *models.Session, rec *models.Checkin, lateThresholdMinutes int) models.Status {
	if rec == nil {
		return models.StatusAbsent
	}
	elapsed := rec.Timestamp.Sub(sess.StartedAt).Minutes()
	if elapsed > float64(lateThresholdMinutes) {
		return models.StatusLate
	}
	return models.StatusOnTime
}
