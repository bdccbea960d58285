package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"rollcall/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database selected by dbType using the matching entry
// in the config's databases map.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		db, err = sql.Open("mysql", mysqlDSN(dbCfg))
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// mysqlDSN builds the driver DSN. DATETIME columns are scanned into time.Time
// throughout, so parseTime is forced on unless the operator set it themselves.
func mysqlDSN(dbCfg config.DatabaseConfig) string {
	params := dbCfg.Params
	if !strings.Contains(params, "parseTime") {
		if params != "" {
			params += "&"
		}
		params += "parseTime=true&loc=UTC"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		dbCfg.Username,
		dbCfg.Password,
		dbCfg.Host,
		dbCfg.Port,
		dbCfg.DBName,
		params,
	)
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE,
				full_name TEXT NOT NULL,
				password_hash TEXT NOT NULL,
				role TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS attendance_sessions (
				id TEXT PRIMARY KEY,
				teacher_id INTEGER NOT NULL,
				topic TEXT NOT NULL,
				code TEXT NOT NULL UNIQUE,
				started_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				is_open INTEGER NOT NULL DEFAULT 1,
				FOREIGN KEY(teacher_id) REFERENCES users(id)
			)`,
			`CREATE TABLE IF NOT EXISTS checkins (
				session_id TEXT NOT NULL,
				student_id INTEGER NOT NULL,
				timestamp DATETIME NOT NULL,
				UNIQUE(session_id, student_id),
				FOREIGN KEY(session_id) REFERENCES attendance_sessions(id),
				FOREIGN KEY(student_id) REFERENCES users(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_teacher_open ON attendance_sessions(teacher_id, is_open)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON attendance_sessions(started_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_checkins_session ON checkins(session_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				username VARCHAR(255) NOT NULL UNIQUE,
				full_name VARCHAR(255) NOT NULL,
				password_hash VARCHAR(255) NOT NULL,
				role VARCHAR(20) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS attendance_sessions (
				id VARCHAR(36) NOT NULL,
				teacher_id BIGINT UNSIGNED NOT NULL,
				topic VARCHAR(255) NOT NULL,
				code VARCHAR(32) NOT NULL,
				started_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				is_open TINYINT(1) NOT NULL DEFAULT 1,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_sessions_code (code),
				INDEX idx_sessions_teacher_open (teacher_id, is_open),
				INDEX idx_sessions_started_at (started_at),
				CONSTRAINT fk_sessions_teacher FOREIGN KEY (teacher_id) REFERENCES users(id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS checkins (
				session_id VARCHAR(36) NOT NULL,
				student_id BIGINT UNSIGNED NOT NULL,
				timestamp DATETIME NOT NULL,
				UNIQUE KEY uniq_session_student (session_id, student_id),
				INDEX idx_checkins_session (session_id),
				CONSTRAINT fk_checkins_session FOREIGN KEY (session_id) REFERENCES attendance_sessions(id),
				CONSTRAINT fk_checkins_student FOREIGN KEY (student_id) REFERENCES users(id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
