package seed

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"rollcall/internal/auth"
	"rollcall/internal/models"
)

// Registration is closed; accounts come from here or from an administrator.
// The defaults can be overridden through the environment before first start.
const (
	defaultTeacherUsername = "teacher"
	defaultTeacherPassword = "teacher-change-me"
	defaultTeacherName     = "Seeded Teacher"
	studentCount           = 30
)

// Users provisions one teacher plus a cohort of student accounts when the
// users table is empty. Re-running against a populated store is a no-op.
func Users(ctx context.Context, db *sql.DB) error {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	teacherUsername := envOr("SEED_TEACHER_USERNAME", defaultTeacherUsername)
	teacherPassword := envOr("SEED_TEACHER_PASSWORD", defaultTeacherPassword)
	teacherName := envOr("SEED_TEACHER_NAME", defaultTeacherName)

	now := time.Now().UTC()
	if err := insertUser(ctx, db, teacherUsername, teacherName, teacherPassword, models.RoleTeacher, now); err != nil {
		return err
	}

	for i := 1; i <= studentCount; i++ {
		username := fmt.Sprintf("2025%03d", i)
		fullName := fmt.Sprintf("Student %02d", i)
		password := fmt.Sprintf("Pass2025!%03d", i)
		if err := insertUser(ctx, db, username, fullName, password, models.RoleStudent, now); err != nil {
			return err
		}
	}

	log.Printf("seeded %d accounts (1 teacher, %d students)", studentCount+1, studentCount)
	return nil
}

func insertUser(ctx context.Context, db *sql.DB, username, fullName, password string, role models.Role, now time.Time) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO users (username, full_name, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		username, fullName, hash, role, now,
	); err != nil {
		return fmt.Errorf("seed user %s: %w", username, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
