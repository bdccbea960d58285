package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/hub"
	"rollcall/internal/models"
	"rollcall/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// A single connection keeps the in-memory database shared and
	// serializes concurrent writers.
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func insertUser(t *testing.T, db *sql.DB, id int64, username string, role models.Role) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO users (id, username, full_name, password_hash, role, created_at) VALUES (?, ?, ?, '', ?, ?)`,
		id, username, "User "+username, role, time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("insert user %s: %v", username, err)
	}
}

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	svc := NewService(db, "sqlite3", hub.New(), 10)
	return svc, db
}

func TestOpenSessionClosesPrevious(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	insertUser(t, db, 1, "teach", models.RoleTeacher)

	ctx := context.Background()
	first, err := svc.OpenSession(ctx, 1, "algebra", 60)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	second, err := svc.OpenSession(ctx, 1, "geometry", 60)
	if err != nil {
		t.Fatalf("OpenSession again: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct sessions")
	}

	var openCount int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM attendance_sessions WHERE teacher_id = 1 AND is_open = 1`,
	).Scan(&openCount); err != nil {
		t.Fatalf("count open: %v", err)
	}
	if openCount != 1 {
		t.Fatalf("expected exactly one open session, got %d", openCount)
	}

	open, err := svc.GetOpenSession(ctx, 1)
	if err != nil {
		t.Fatalf("GetOpenSession: %v", err)
	}
	if open == nil || open.ID != second.ID {
		t.Fatalf("expected the newest session to be the open one")
	}
}

func TestOpenSessionCodesUnique(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	insertUser(t, db, 1, "teach", models.RoleTeacher)

	ctx := context.Background()
	codes := make(map[string]bool)
	for i := 0; i < 40; i++ {
		sess, err := svc.OpenSession(ctx, 1, "topic", 30)
		if err != nil {
			t.Fatalf("OpenSession %d: %v", i, err)
		}
		if len(sess.Code) != codeLength {
			t.Fatalf("expected %d character code, got %q", codeLength, sess.Code)
		}
		if codes[sess.Code] {
			t.Fatalf("code %q reused", sess.Code)
		}
		codes[sess.Code] = true
	}
}

func TestOpenSessionValidation(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	insertUser(t, db, 1, "teach", models.RoleTeacher)

	if _, err := svc.OpenSession(context.Background(), 1, "  ", 60); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty topic: want ErrInvalid, got %v", err)
	}
	if _, err := svc.OpenSession(context.Background(), 1, "algebra", 0); !errors.Is(err, ErrInvalid) {
		t.Fatalf("zero duration: want ErrInvalid, got %v", err)
	}
}

func TestCloseSessionIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	insertUser(t, db, 1, "teach", models.RoleTeacher)

	ctx := context.Background()
	if err := svc.CloseSession(ctx, 1); err != nil {
		t.Fatalf("CloseSession with nothing open: %v", err)
	}
	if _, err := svc.OpenSession(ctx, 1, "algebra", 60); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := svc.CloseSession(ctx, 1); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if err := svc.CloseSession(ctx, 1); err != nil {
		t.Fatalf("CloseSession repeat: %v", err)
	}
	open, err := svc.GetOpenSession(ctx, 1)
	if err != nil {
		t.Fatalf("GetOpenSession: %v", err)
	}
	if open != nil {
		t.Fatalf("expected no open session, got %+v", open)
	}
}

func TestIsAcceptingCheckinsLazyExpiry(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sess := &models.Session{
		IsOpen:    true,
		StartedAt: start,
		ExpiresAt: start.Add(time.Hour),
	}

	if !IsAcceptingCheckins(sess, start.Add(30*time.Minute)) {
		t.Fatalf("open, unexpired session must accept")
	}
	if !IsAcceptingCheckins(sess, sess.ExpiresAt) {
		t.Fatalf("session must accept at the exact expiry instant")
	}
	// The stored flag still reads open, but time has moved past expiry.
	if IsAcceptingCheckins(sess, sess.ExpiresAt.Add(time.Second)) {
		t.Fatalf("expired session must not accept even with is_open still set")
	}
	sess.IsOpen = false
	if IsAcceptingCheckins(sess, start.Add(time.Minute)) {
		t.Fatalf("explicitly closed session must not accept")
	}
}

func TestComputeStatus(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sess := &models.Session{StartedAt: start}
	rec := func(offset time.Duration) *models.Checkin {
		return &models.Checkin{Timestamp: start.Add(offset)}
	}

	if got := ComputeStatus(sess, nil, 10); got != models.StatusAbsent {
		t.Fatalf("nil record: want absent, got %s", got)
	}
	if got := ComputeStatus(sess, rec(2*time.Minute), 10); got != models.StatusOnTime {
		t.Fatalf("2min: want on_time, got %s", got)
	}
	if got := ComputeStatus(sess, rec(10*time.Minute), 10); got != models.StatusOnTime {
		t.Fatalf("exactly at threshold: want on_time, got %s", got)
	}
	if got := ComputeStatus(sess, rec(10*time.Minute+time.Second), 10); got != models.StatusLate {
		t.Fatalf("just past threshold: want late, got %s", got)
	}
	if got := ComputeStatus(sess, rec(15*time.Minute), 10); got != models.StatusLate {
		t.Fatalf("15min: want late, got %s", got)
	}
	// Clock skew can put a record before session start; treated as on time.
	if got := ComputeStatus(sess, rec(-time.Minute), 10); got != models.StatusOnTime {
		t.Fatalf("negative elapsed: want on_time, got %s", got)
	}
}

func TestRecordCheckinScenario(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	insertUser(t, db, 1, "teach", models.RoleTeacher)
	insertUser(t, db, 2, "2025001", models.RoleStudent)
	insertUser(t, db, 3, "2025002", models.RoleStudent)
	insertUser(t, db, 4, "2025003", models.RoleStudent)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	ctx := context.Background()
	sess, err := svc.OpenSession(ctx, 1, "algebra", 60)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	// Student A arrives two minutes in.
	res, err := svc.RecordCheckin(ctx, sess.Code, 2, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("RecordCheckin A: %v", err)
	}
	if res.Outcome != OutcomeAccepted || res.Status != models.StatusOnTime {
		t.Fatalf("A: want accepted/on_time, got %s/%s", res.Outcome, res.Status)
	}

	// A again: idempotent success-like outcome, still on time.
	res, err = svc.RecordCheckin(ctx, sess.Code, 2, start.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("RecordCheckin A repeat: %v", err)
	}
	if res.Outcome != OutcomeAlreadyRecorded {
		t.Fatalf("A repeat: want already_recorded, got %s", res.Outcome)
	}
	if res.Status != models.StatusOnTime {
		t.Fatalf("A repeat keeps the original status, got %s", res.Status)
	}

	// Student B is past the ten minute cutoff.
	res, err = svc.RecordCheckin(ctx, sess.Code, 3, start.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("RecordCheckin B: %v", err)
	}
	if res.Outcome != OutcomeAccepted || res.Status != models.StatusLate {
		t.Fatalf("B: want accepted/late, got %s/%s", res.Outcome, res.Status)
	}

	if err := svc.CloseSession(ctx, 1); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	// Student C after close.
	res, err = svc.RecordCheckin(ctx, sess.Code, 4, start.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("RecordCheckin C: %v", err)
	}
	if res.Outcome != OutcomeClosed {
		t.Fatalf("C: want closed, got %s", res.Outcome)
	}

	report, err := svc.Roster(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	if report.PresentCount != 2 || report.AbsentCount != 1 || report.LateCount != 1 {
		t.Fatalf("roster counts: present=%d absent=%d late=%d",
			report.PresentCount, report.AbsentCount, report.LateCount)
	}
	if report.Present[0].Username != "2025001" || report.Present[0].Status != models.StatusOnTime {
		t.Fatalf("first present entry wrong: %+v", report.Present[0])
	}
	if report.Present[1].Username != "2025002" || report.Present[1].Status != models.StatusLate {
		t.Fatalf("second present entry wrong: %+v", report.Present[1])
	}
	if report.Absent[0].Username != "2025003" || report.Absent[0].Status != models.StatusAbsent {
		t.Fatalf("absent entry wrong: %+v", report.Absent[0])
	}
}

func TestRecordCheckinUnknownCode(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	insertUser(t, db, 2, "2025001", models.RoleStudent)

	res, err := svc.RecordCheckin(context.Background(), "nosuchcode", 2, time.Now().UTC())
	if err != nil {
		t.Fatalf("RecordCheckin: %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Fatalf("want not_found, got %s", res.Outcome)
	}
}

func TestRecordCheckinExpiredSession(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	insertUser(t, db, 1, "teach", models.RoleTeacher)
	insertUser(t, db, 2, "2025001", models.RoleStudent)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	ctx := context.Background()
	sess, err := svc.OpenSession(ctx, 1, "algebra", 30)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	// Nothing ever wrote is_open = 0; expiry alone must refuse the check-in.
	res, err := svc.RecordCheckin(ctx, sess.Code, 2, start.Add(31*time.Minute))
	if err != nil {
		t.Fatalf("RecordCheckin: %v", err)
	}
	if res.Outcome != OutcomeClosed {
		t.Fatalf("want closed for expired session, got %s", res.Outcome)
	}
}

func TestRecordCheckinConcurrentDedup(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	insertUser(t, db, 1, "teach", models.RoleTeacher)
	insertUser(t, db, 2, "2025001", models.RoleStudent)

	ctx := context.Background()
	sess, err := svc.OpenSession(ctx, 1, "algebra", 60)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	const attempts = 12
	outcomes := make([]Outcome, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.RecordCheckin(ctx, sess.Code, 2, time.Now().UTC())
			errs[i] = err
			if err == nil {
				outcomes[i] = res.Outcome
			}
		}(i)
	}
	wg.Wait()

	accepted := 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("attempt %d errored: %v", i, errs[i])
		}
		switch outcomes[i] {
		case OutcomeAccepted:
			accepted++
		case OutcomeAlreadyRecorded:
		default:
			t.Fatalf("attempt %d: unexpected outcome %s", i, outcomes[i])
		}
	}
	if accepted != 1 {
		t.Fatalf("want exactly one accepted, got %d", accepted)
	}

	var rows int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM checkins WHERE session_id = ? AND student_id = 2`, sess.ID,
	).Scan(&rows); err != nil {
		t.Fatalf("count checkins: %v", err)
	}
	if rows != 1 {
		t.Fatalf("want exactly one ledger row, got %d", rows)
	}
}

func TestGetSessionForTeacherOwnership(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	insertUser(t, db, 1, "teach", models.RoleTeacher)
	insertUser(t, db, 5, "other", models.RoleTeacher)

	ctx := context.Background()
	sess, err := svc.OpenSession(ctx, 1, "algebra", 60)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	if _, err := svc.GetSessionForTeacher(ctx, sess.ID, 1); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := svc.GetSessionForTeacher(ctx, sess.ID, 5); err != ErrNotOwner {
		t.Fatalf("want ErrNotOwner, got %v", err)
	}
	if _, err := svc.GetSessionForTeacher(ctx, fmt.Sprintf("%s-missing", sess.ID), 1); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
