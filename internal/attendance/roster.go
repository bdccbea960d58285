package attendance

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/models"
)

// RosterEntry is one student's line in a session roster.
type RosterEntry struct {
	Username  string        `json:"username"`
	FullName  string        `json:"full_name"`
	Timestamp time.Time     `json:"timestamp,omitzero"`
	Status    models.Status `json:"status"`
}

// RosterReport is the signed-in/absent view of a session, shared by the
// detail endpoint and both export formats.
type RosterReport struct {
	Session      *models.Session `json:"session"`
	Present      []RosterEntry   `json:"present"`
	Absent       []RosterEntry   `json:"absent"`
	Total        int             `json:"total"`
	PresentCount int             `json:"present_count"`
	LateCount    int             `json:"late_count"`
	AbsentCount  int             `json:"absent_count"`
}

// Roster builds the full present/absent report for a session. Present entries
// are ordered by arrival time, absent ones by username.
func (s *Service) Roster(ctx context.Context, sessionID string) (*RosterReport, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	students, err := s.ListStudents(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, student_id, timestamp FROM checkins WHERE session_id = ? ORDER BY timestamp ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query checkins: %w", err)
	}
	defer rows.Close()

	byStudent := make(map[int64]*models.Checkin)
	var order []int64
	for rows.Next() {
		var rec models.Checkin
		if err := rows.Scan(&rec.SessionID, &rec.StudentID, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan checkin: %w", err)
		}
		byStudent[rec.StudentID] = &rec
		order = append(order, rec.StudentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query checkins: %w", err)
	}

	names := make(map[int64]models.User, len(students))
	for _, stu := range students {
		names[stu.ID] = stu
	}

	report := &RosterReport{Session: sess, Total: len(students)}
	for _, studentID := range order {
		stu, ok := names[studentID]
		if !ok {
			// Checked in but no longer a seeded student; skip rather
			// than invent a roster line.
			continue
		}
		rec := byStudent[studentID]
		status := ComputeStatus(sess, rec, s.lateThreshold)
		if status == models.StatusLate {
			report.LateCount++
		}
		report.Present = append(report.Present, RosterEntry{
			Username:  stu.Username,
			FullName:  stu.FullName,
			Timestamp: rec.Timestamp,
			Status:    status,
		})
	}
	for _, stu := range students {
		if _, ok := byStudent[stu.ID]; ok {
			continue
		}
		report.Absent = append(report.Absent, RosterEntry{
			Username: stu.Username,
			FullName: stu.FullName,
			Status:   models.StatusAbsent,
		})
	}
	report.PresentCount = len(report.Present)
	report.AbsentCount = len(report.Absent)
	return report, nil
}
