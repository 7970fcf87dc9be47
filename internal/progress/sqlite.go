package progress

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS lesson_completions (
	learner_id   TEXT NOT NULL,
	course_key   TEXT NOT NULL,
	lesson_key   TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	PRIMARY KEY (learner_id, course_key, lesson_key)
)`

// SQLiteCache is a device-local Cache backed by a SQLite file.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at dsn, applies
// pragmas and creates the completions table.
func OpenSQLite(dsn string) (*SQLiteCache, error) {
	if dsn != ":memory:" && filepath.Ext(dsn) != "" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// applyPragmas configures SQLite for single-writer local use.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DB returns the underlying *sql.DB.
func (c *SQLiteCache) DB() *sql.DB { return c.db }

// Close closes the database.
func (c *SQLiteCache) Close() error { return c.db.Close() }

func (c *SQLiteCache) Completions(ctx context.Context, learnerID, courseKey string) (map[string]time.Time, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT lesson_key, completed_at FROM lesson_completions WHERE learner_id = ? AND course_key = ?`,
		learnerID, courseKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var lesson, raw string
		if err := rows.Scan(&lesson, &raw); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse completion time for %s: %w", lesson, err)
		}
		out[lesson] = at
	}
	return out, rows.Err()
}

func (c *SQLiteCache) Add(ctx context.Context, learnerID, courseKey, lessonKey string, at time.Time) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO lesson_completions (learner_id, course_key, lesson_key, completed_at) VALUES (?, ?, ?, ?)`,
		learnerID, courseKey, lessonKey, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert completion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert completion: %w", err)
	}
	return n > 0, nil
}

func (c *SQLiteCache) Remove(ctx context.Context, learnerID, courseKey, lessonKey string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM lesson_completions WHERE learner_id = ? AND course_key = ? AND lesson_key = ?`,
		learnerID, courseKey, lessonKey,
	)
	if err != nil {
		return fmt.Errorf("delete completion: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Clear(ctx context.Context, learnerID, courseKey string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM lesson_completions WHERE learner_id = ? AND course_key = ?`,
		learnerID, courseKey,
	)
	if err != nil {
		return fmt.Errorf("clear completions: %w", err)
	}
	return nil
}

// Learners lists the distinct learner IDs with at least one completion.
func (c *SQLiteCache) Learners(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT learner_id FROM lesson_completions ORDER BY learner_id`)
	if err != nil {
		return nil, fmt.Errorf("query learners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan learner: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
