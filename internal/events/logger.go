package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Logger persists events for analytics.
type Logger interface {
	LogEvent(event Event) error
}

// NopLogger ignores all events.
type NopLogger struct{}

func (NopLogger) LogEvent(Event) error {
	return nil
}

// MemoryLogger stores events in memory for tests.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{
		events: []Event{},
	}
}

func (l *MemoryLogger) LogEvent(event Event) error {
	if event.Kind == "" {
		return fmt.Errorf("event kind is required")
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresLogger inserts events into the learning_events table.
type PostgresLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresLogger(pool *pgxpool.Pool) *PostgresLogger {
	return &PostgresLogger{pool: pool}
}

func (l *PostgresLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.Kind == "" {
		return fmt.Errorf("event kind is required")
	}
	if event.LearnerID == "" {
		return fmt.Errorf("learner_id is required")
	}

	payload := map[string]any{}
	for k, v := range event.Data {
		payload[k] = v
	}
	if event.LessonKey != "" {
		payload["lesson_key"] = event.LessonKey
	}
	if event.QuizID != "" {
		payload["quiz_id"] = event.QuizID
	}
	if event.AttemptID != "" {
		payload["attempt_id"] = event.AttemptID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO learning_events (learner_id, course_key, kind, data, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		event.LearnerID,
		event.CourseKey,
		string(event.Kind),
		string(data),
		at,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"kind", event.Kind,
		"learner_id", event.LearnerID,
		"course_key", event.CourseKey,
	)
	return nil
}

const logQueueSize = 256

// Attach forwards every event on the bus to the logger from a background
// goroutine, so slow storage never delays other observers. Events are dropped
// with a warning when the queue is full.
func Attach(bus *Bus, logger Logger) (detach func()) {
	queue := make(chan Event, logQueueSize)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range queue {
			if err := logger.LogEvent(ev); err != nil {
				slog.Warn("failed to log event", "kind", ev.Kind, "error", err)
			}
		}
	}()

	unsubscribe := bus.Subscribe(func(ev Event) {
		select {
		case queue <- ev:
		default:
			slog.Warn("event log queue full, dropping event", "kind", ev.Kind)
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			// Wait out any Publish that captured the observer before it was removed.
			bus.emit.Lock()
			bus.emit.Unlock()
			close(queue)
			<-done
		})
	}
}
