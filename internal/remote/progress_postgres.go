package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresProgress is the remote progress API backed by lesson_completions.
type PostgresProgress struct {
	pool *pgxpool.Pool
}

// NewPostgresProgress creates a PostgreSQL progress remote.
func NewPostgresProgress(pool *pgxpool.Pool) (*PostgresProgress, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresProgress{pool: pool}, nil
}

func (p *PostgresProgress) FetchCompletions(ctx context.Context, learnerID, courseKey string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT lesson_key FROM lesson_completions
		 WHERE learner_id = $1 AND course_key = $2
		 ORDER BY lesson_key`,
		learnerID, courseKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan completions: %w", err)
	}
	return keys, nil
}

func (p *PostgresProgress) SubmitCompletion(ctx context.Context, learnerID, courseKey, lessonKey string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := p.pool.Exec(ctx,
		`INSERT INTO lesson_completions (learner_id, course_key, lesson_key)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (learner_id, course_key, lesson_key) DO NOTHING`,
		learnerID, courseKey, lessonKey,
	)
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

// ResetCompletions deletes every completion of a learner's course.
func (p *PostgresProgress) ResetCompletions(ctx context.Context, learnerID, courseKey string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx,
		`DELETE FROM lesson_completions WHERE learner_id = $1 AND course_key = $2`,
		learnerID, courseKey,
	); err != nil {
		return fmt.Errorf("reset completions: %w", err)
	}
	return nil
}
