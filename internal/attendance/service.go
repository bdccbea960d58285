package attendance

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/hub"
	"rollcall/internal/models"
)

var (
	// ErrNotFound means no session matches the given id or code.
	ErrNotFound = errors.New("session not found")
	// ErrNotOwner means the session exists but belongs to another teacher.
	ErrNotOwner = errors.New("session owned by another teacher")
	// ErrInvalid marks caller mistakes, as opposed to store failures.
	ErrInvalid = errors.New("invalid input")
)

// Public session codes are drawn from a URL-safe alphabet at this length.
const (
	codeLength   = 10
	codeAttempts = 5
)

const defaultLateThresholdMinutes = 10

// Service owns the attendance session lifecycle: opening and closing
// sessions, recording check-ins, and building rosters. All mutations funnel
// through the database so concurrent requests serialize on its constraints.
type Service struct {
	db            *sql.DB
	hub           *hub.Hub
	insertCheckin string
	lateThreshold int
	now           func() time.Time
}

// NewService builds the attendance service. The driver selects the dialect
// for the dedup insert; eventHub may be nil when no live feed is wanted.
func NewService(db *sql.DB, driver string, eventHub *hub.Hub, lateThresholdMinutes int) *Service {
	insert := `INSERT OR IGNORE INTO checkins (session_id, student_id, timestamp) VALUES (?, ?, ?)`
	if strings.ToLower(driver) == "mysql" {
		insert = `INSERT IGNORE INTO checkins (session_id, student_id, timestamp) VALUES (?, ?, ?)`
	}
	if lateThresholdMinutes <= 0 {
		lateThresholdMinutes = defaultLateThresholdMinutes
	}
	return &Service{
		db:            db,
		hub:           eventHub,
		insertCheckin: insert,
		lateThreshold: lateThresholdMinutes,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// LateThreshold reports the process-wide late cutoff in minutes.
func (s *Service) LateThreshold() int {
	return s.lateThreshold
}

// OpenSession closes any session the teacher still has open and creates a new
// one in the same transaction, so the teacher never transiently owns two open
// sessions. The session code is retried on the off chance of a collision with
// the unique constraint.
func (s *Service) OpenSession(ctx context.Context, teacherID int64, topic string, durationMinutes int) (*models.Session, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalid)
	}
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be a positive number of minutes", ErrInvalid)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin open session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE attendance_sessions SET is_open = 0 WHERE teacher_id = ? AND is_open = 1`,
		teacherID,
	); err != nil {
		return nil, fmt.Errorf("close previous session: %w", err)
	}

	now := s.now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		TeacherID: teacherID,
		Topic:     topic,
		StartedAt: now,
		ExpiresAt: now.Add(time.Duration(durationMinutes) * time.Minute),
		IsOpen:    true,
	}

	var insertErr error
	for i := 0; i < codeAttempts; i++ {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}
		_, insertErr = tx.ExecContext(ctx,
			`INSERT INTO attendance_sessions (id, teacher_id, topic, code, started_at, expires_at, is_open)
			 VALUES (?, ?, ?, ?, ?, ?, 1)`,
			sess.ID, teacherID, topic, code, sess.StartedAt, sess.ExpiresAt,
		)
		if insertErr == nil {
			sess.Code = code
			break
		}
	}
	if insertErr != nil {
		return nil, fmt.Errorf("create session: %w", insertErr)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit open session: %w", err)
	}
	return sess, nil
}

// CloseSession stops the teacher's open session, if any. Calling it with
// nothing open is a no-op, not an error.
func (s *Service) CloseSession(ctx context.Context, teacherID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE attendance_sessions SET is_open = 0 WHERE teacher_id = ? AND is_open = 1`,
		teacherID,
	); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// GetOpenSession returns the teacher's currently open session, or nil when
// none is. The stored flag is returned as-is; callers deciding whether the
// session still accepts check-ins must go through IsAcceptingCheckins.
func (s *Service) GetOpenSession(ctx context.Context, teacherID int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		sessionColumns+` WHERE teacher_id = ? AND is_open = 1 ORDER BY started_at DESC LIMIT 1`,
		teacherID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query open session: %w", err)
	}
	return sess, nil
}

// GetSession looks a session up by its surrogate id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionColumns+` WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

// GetSessionByCode resolves the public code printed in the QR link.
func (s *Service) GetSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionColumns+` WHERE code = ?`, code)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session by code: %w", err)
	}
	return sess, nil
}

// GetSessionForTeacher fetches a session and enforces ownership.
func (s *Service) GetSessionForTeacher(ctx context.Context, sessionID string, teacherID int64) (*models.Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TeacherID != teacherID {
		return nil, ErrNotOwner
	}
	return sess, nil
}

// ListSessions returns the teacher's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, teacherID int64) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		sessionColumns+` WHERE teacher_id = ? ORDER BY started_at DESC`,
		teacherID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// IsAcceptingCheckins is the single source of truth for whether a session is
// live at the given instant. Expiry is evaluated here at read time; nothing
// ever relies on the stored is_open flag alone.
func IsAcceptingCheckins(sess *models.Session, now time.Time) bool {
	return sess.IsOpen && !now.After(sess.ExpiresAt)
}

const sessionColumns = `SELECT id, teacher_id, topic, code, started_at, expires_at, is_open FROM attendance_sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	if err := row.Scan(&sess.ID, &sess.TeacherID, &sess.Topic, &sess.Code,
		&sess.StartedAt, &sess.ExpiresAt, &sess.IsOpen); err != nil {
		return nil, err
	}
	return &sess, nil
}

func generateCode() (string, error) {
	for {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate session code: %w", err)
		}
		code := base64.RawURLEncoding.EncodeToString(buf)
		// Keep the code copy-paste friendly: drop the two URL-safe
		// punctuation characters and truncate.
		code = strings.NewReplacer("-", "", "_", "").Replace(code)
		if len(code) >= codeLength {
			return code[:codeLength], nil
		}
	}
}
