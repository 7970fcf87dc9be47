package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-learn/internal/quiz"
)

const (
	uniqueViolation = "23505"
	maxSaveRetries  = 5

	attemptsPrimaryKey = "quiz_attempts_pkey"
	attemptColumns     = `id::text, learner_id, quiz_id, attempt_number, answers, score, passed, correct, total, time_spent_ms, started_at, completed_at`
)

// PostgresAttempts stores quiz attempts in quiz_attempts. It is the final
// arbiter of attempt numbering: an attempt whose number is already taken is
// renumbered to the next free slot, unless that slot is past the limit.
type PostgresAttempts struct {
	pool *pgxpool.Pool
}

// NewPostgresAttempts creates a PostgreSQL attempt repository.
func NewPostgresAttempts(pool *pgxpool.Pool) (*PostgresAttempts, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresAttempts{pool: pool}, nil
}

func (r *PostgresAttempts) Save(ctx context.Context, a quiz.Attempt, limit int) (quiz.Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return quiz.Attempt{}, fmt.Errorf("marshal answers: %w", err)
	}

	if a.Number <= 0 {
		if a.Number, err = r.nextNumber(ctx, a.LearnerID, a.QuizID); err != nil {
			return quiz.Attempt{}, err
		}
	}

	for range maxSaveRetries {
		if limit > 0 && a.Number > limit {
			return quiz.Attempt{}, fmt.Errorf("%w: quiz %s allows %d", quiz.ErrAttemptsExhausted, a.QuizID, limit)
		}
		_, err = r.pool.Exec(ctx,
			`INSERT INTO quiz_attempts
			   (id, learner_id, quiz_id, attempt_number, answers, score, passed, correct, total, time_spent_ms, started_at, completed_at)
			 VALUES ($1::uuid, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11, $12)`,
			a.ID,
			a.LearnerID,
			a.QuizID,
			a.Number,
			string(answers),
			a.Score,
			a.Passed,
			a.Correct,
			a.Total,
			a.TimeSpent.Milliseconds(),
			a.StartedAt,
			a.CompletedAt,
		)
		if err == nil {
			return a, nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
			return quiz.Attempt{}, fmt.Errorf("insert attempt: %w", err)
		}
		if pgErr.ConstraintName == attemptsPrimaryKey {
			// Retried submission of an attempt that was already stored.
			return r.get(ctx, a.ID)
		}

		taken := a.Number
		if a.Number, err = r.nextNumber(ctx, a.LearnerID, a.QuizID); err != nil {
			return quiz.Attempt{}, err
		}
		slog.Warn("attempt number taken, reassigning",
			"quiz_id", a.QuizID,
			"learner_id", a.LearnerID,
			"taken", taken,
			"assigned", a.Number,
		)
	}
	return quiz.Attempt{}, fmt.Errorf("%w: quiz %s learner %s after %d retries",
		quiz.ErrConflictingAttemptNumber, a.QuizID, a.LearnerID, maxSaveRetries)
}

func (r *PostgresAttempts) nextNumber(ctx context.Context, learnerID, quizID string) (int, error) {
	var next int
	if err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM quiz_attempts WHERE learner_id = $1 AND quiz_id = $2`,
		learnerID, quizID,
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("next attempt number: %w", err)
	}
	return next, nil
}

func (r *PostgresAttempts) List(ctx context.Context, learnerID, quizID string) ([]quiz.Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM quiz_attempts
		 WHERE learner_id = $1 AND quiz_id = $2
		 ORDER BY attempt_number ASC`,
		learnerID, quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	attempts, err := pgx.CollectRows(rows, scanAttempt)
	if err != nil {
		return nil, fmt.Errorf("scan attempts: %w", err)
	}
	return attempts, nil
}

func (r *PostgresAttempts) get(ctx context.Context, id string) (quiz.Attempt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1::uuid`, id)
	if err != nil {
		return quiz.Attempt{}, fmt.Errorf("query attempt: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAttempt)
	if err != nil {
		return quiz.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	return a, nil
}

func scanAttempt(row pgx.CollectableRow) (quiz.Attempt, error) {
	var (
		a       quiz.Attempt
		answers []byte
		spentMS int64
	)
	if err := row.Scan(
		&a.ID,
		&a.LearnerID,
		&a.QuizID,
		&a.Number,
		&answers,
		&a.Score,
		&a.Passed,
		&a.Correct,
		&a.Total,
		&spentMS,
		&a.StartedAt,
		&a.CompletedAt,
	); err != nil {
		return quiz.Attempt{}, err
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return quiz.Attempt{}, fmt.Errorf("decode answers: %w", err)
	}
	a.TimeSpent = time.Duration(spentMS) * time.Millisecond
	return a, nil
}
