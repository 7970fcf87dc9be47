package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-learn/internal/events"
)

// ServiceConfig holds dependencies for the attempt service.
type ServiceConfig struct {
	Repo               AttemptRepository
	Events             events.Publisher
	DefaultMaxAttempts int // applied when a quiz does not set MaxAttempts; 0 means unlimited
	Now                func() time.Time
}

// Service starts and submits quiz attempts.
type Service struct {
	repo               AttemptRepository
	events             events.Publisher
	defaultMaxAttempts int
	now                func() time.Time
}

// NewService creates an attempt service.
func NewService(cfg ServiceConfig) *Service {
	repo := cfg.Repo
	if repo == nil {
		repo = NewMemoryAttempts()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:               repo,
		events:             cfg.Events,
		defaultMaxAttempts: cfg.DefaultMaxAttempts,
		now:                now,
	}
}

// Attempts lists a learner's completed attempts in number order.
func (s *Service) Attempts(ctx context.Context, learnerID, quizID string) ([]Attempt, error) {
	attempts, err := s.repo.List(ctx, learnerID, quizID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// BestAttempt returns the learner's highest-scoring attempt.
func (s *Service) BestAttempt(ctx context.Context, learnerID, quizID string) (Attempt, bool, error) {
	attempts, err := s.Attempts(ctx, learnerID, quizID)
	if err != nil {
		return Attempt{}, false, err
	}
	best, ok := Best(attempts)
	return best, ok, nil
}

// Start opens a new attempt. The attempt is not persisted until it is submitted,
// so abandoning it never consumes an attempt number.
func (s *Service) Start(ctx context.Context, learnerID string, q Quiz) (*Session, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	attempts, err := s.Attempts(ctx, learnerID, q.ID)
	if err != nil {
		return nil, err
	}
	next := maxNumber(attempts) + 1

	limit := s.limit(q)
	if limit > 0 && next > limit {
		return nil, fmt.Errorf("%w: %d of %d used", ErrAttemptsExhausted, len(attempts), limit)
	}

	sess := &Session{
		id:        uuid.NewString(),
		quiz:      q,
		learnerID: learnerID,
		number:    next,
		limit:     limit,
		startedAt: s.now(),
		answers:   make(map[string][]int),
		svc:       s,
	}
	slog.Info("quiz attempt started",
		"quiz_id", q.ID,
		"learner_id", learnerID,
		"attempt", next,
	)
	return sess, nil
}

// limit returns the effective attempt cap for q. Zero means unlimited.
func (s *Service) limit(q Quiz) int {
	if q.MaxAttempts > 0 {
		return q.MaxAttempts
	}
	return s.defaultMaxAttempts
}

// Session is an attempt in progress. Answers accumulate until Submit.
type Session struct {
	mu        sync.Mutex
	id        string
	quiz      Quiz
	learnerID string
	number    int
	limit     int
	startedAt time.Time
	answers   map[string][]int
	state     sessionState
	svc       *Service
}

type sessionState int

const (
	sessionOpen sessionState = iota
	sessionSubmitted
	sessionAbandoned
)

func (s *Session) ID() string        { return s.id }
func (s *Session) Quiz() Quiz        { return s.quiz }
func (s *Session) LearnerID() string { return s.learnerID }
func (s *Session) Number() int       { return s.number }

// Presentation returns the display layout for this attempt. It is stable for the
// lifetime of the session.
func (s *Session) Presentation() Presentation {
	return Present(s.quiz, s.id)
}

// Answer records the canonical option indices selected for a question. Calling it
// with no indices clears the answer.
func (s *Session) Answer(questionID string, indices ...int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLocked(); err != nil {
		return err
	}
	q, ok := s.quiz.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(q.Options) {
			return fmt.Errorf("%w: question %s option %d", ErrInvalidOption, questionID, idx)
		}
	}
	if len(indices) == 0 {
		delete(s.answers, questionID)
		return nil
	}
	s.answers[questionID] = slices.Clone(indices)
	return nil
}

// Unanswered lists question IDs without an answer, in canonical order.
func (s *Session) Unanswered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unansweredLocked()
}

// Abandon discards the attempt without persisting it.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == sessionOpen {
		s.state = sessionAbandoned
		slog.Info("quiz attempt abandoned", "quiz_id", s.quiz.ID, "learner_id", s.learnerID)
	}
}

// Submit grades and persists the attempt. A quiz that requires every question to
// be answered rejects the submission with ErrIncompleteSubmission and stays open.
func (s *Session) Submit(ctx context.Context) (Attempt, Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLocked(); err != nil {
		return Attempt{}, Result{}, err
	}
	if s.quiz.RequireAllAnswered {
		if missing := s.unansweredLocked(); len(missing) > 0 {
			return Attempt{}, Result{}, fmt.Errorf("%w: %d remaining", ErrIncompleteSubmission, len(missing))
		}
	}

	res := Score(s.quiz.Questions, s.answers, s.quiz.Passing())
	completedAt := s.svc.now()
	attempt := Attempt{
		ID:          s.id,
		QuizID:      s.quiz.ID,
		LearnerID:   s.learnerID,
		Number:      s.number,
		Answers:     cloneAnswers(s.answers),
		Score:       res.Percentage,
		Passed:      res.Passed,
		Correct:     res.Correct,
		Total:       res.Total,
		TimeSpent:   completedAt.Sub(s.startedAt).Truncate(time.Second),
		StartedAt:   s.startedAt,
		CompletedAt: completedAt,
	}

	saved, err := s.svc.repo.Save(ctx, attempt, s.limit)
	if errors.Is(err, ErrAttemptsExhausted) {
		// Other sessions used up the remaining attempts first.
		s.state = sessionAbandoned
		slog.Warn("quiz attempt rejected, attempts exhausted",
			"quiz_id", s.quiz.ID,
			"learner_id", s.learnerID,
			"limit", s.limit,
		)
		return Attempt{}, Result{}, err
	}
	if err != nil {
		return Attempt{}, Result{}, fmt.Errorf("save attempt: %w", err)
	}
	s.state = sessionSubmitted
	s.number = saved.Number

	slog.Info("quiz attempt submitted",
		"quiz_id", saved.QuizID,
		"learner_id", saved.LearnerID,
		"attempt", saved.Number,
		"score", saved.Score,
		"passed", saved.Passed,
	)

	if s.svc.events != nil {
		s.svc.events.Publish(events.Event{
			Kind:      events.QuizAttemptRecorded,
			LearnerID: saved.LearnerID,
			CourseKey: s.quiz.CourseKey,
			QuizID:    saved.QuizID,
			AttemptID: saved.ID,
			Data: map[string]any{
				"module_id": s.quiz.ModuleID,
				"number":    saved.Number,
				"score":     saved.Score,
				"passed":    saved.Passed,
			},
			At: saved.CompletedAt,
		})
	}
	return saved, res, nil
}

func (s *Session) openLocked() error {
	switch s.state {
	case sessionSubmitted:
		return ErrAlreadySubmitted
	case sessionAbandoned:
		return ErrAbandoned
	}
	return nil
}

func (s *Session) unansweredLocked() []string {
	var missing []string
	for _, q := range s.quiz.Questions {
		if len(s.answers[q.ID]) == 0 {
			missing = append(missing, q.ID)
		}
	}
	return missing
}
