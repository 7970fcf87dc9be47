// Package remote implements the authoritative progress and quiz-attempt stores
// on PostgreSQL, plus an in-memory progress remote for development and tests.
package remote

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the table layout the Postgres stores expect.
const Schema = `
CREATE TABLE IF NOT EXISTS lesson_completions (
	learner_id   TEXT NOT NULL,
	course_key   TEXT NOT NULL,
	lesson_key   TEXT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (learner_id, course_key, lesson_key)
);

CREATE TABLE IF NOT EXISTS quiz_attempts (
	id             UUID PRIMARY KEY,
	learner_id     TEXT NOT NULL,
	quiz_id        TEXT NOT NULL,
	attempt_number INT NOT NULL,
	answers        JSONB NOT NULL DEFAULT '{}',
	score          INT NOT NULL,
	passed         BOOLEAN NOT NULL,
	correct        INT NOT NULL,
	total          INT NOT NULL,
	time_spent_ms  BIGINT NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (learner_id, quiz_id, attempt_number)
);

CREATE TABLE IF NOT EXISTS learning_events (
	id         BIGSERIAL PRIMARY KEY,
	learner_id TEXT NOT NULL,
	course_key TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables when they do not exist. It does not alter
// existing tables.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
