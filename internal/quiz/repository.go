package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// AttemptRepository persists completed attempts. It is the final arbiter of attempt
// numbering: when Save receives a number that is already taken it reassigns the
// attempt to the next free number instead of rejecting it. A positive limit caps
// the numbering; an attempt that would land past it fails with
// ErrAttemptsExhausted and is not stored.
type AttemptRepository interface {
	Save(ctx context.Context, a Attempt, limit int) (Attempt, error)
	List(ctx context.Context, learnerID, quizID string) ([]Attempt, error)
}

// MemoryAttempts is an in-memory AttemptRepository.
type MemoryAttempts struct {
	attempts map[string][]Attempt
	mu       sync.RWMutex
}

// NewMemoryAttempts creates an empty in-memory attempt repository.
func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{
		attempts: make(map[string][]Attempt),
	}
}

func (r *MemoryAttempts) Save(_ context.Context, a Attempt, limit int) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := attemptKey(a.LearnerID, a.QuizID)
	existing := r.attempts[key]

	if a.Number <= 0 || numberTaken(existing, a.Number) {
		next := maxNumber(existing) + 1
		if a.Number > 0 {
			slog.Warn("attempt number conflict, reassigning",
				"quiz_id", a.QuizID,
				"requested", a.Number,
				"assigned", next,
			)
		}
		a.Number = next
	}
	if limit > 0 && a.Number > limit {
		return Attempt{}, fmt.Errorf("%w: quiz %s allows %d", ErrAttemptsExhausted, a.QuizID, limit)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Answers = cloneAnswers(a.Answers)

	r.attempts[key] = append(existing, a)
	slices.SortFunc(r.attempts[key], func(x, y Attempt) int { return x.Number - y.Number })
	return a, nil
}

func (r *MemoryAttempts) List(_ context.Context, learnerID, quizID string) ([]Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing := r.attempts[attemptKey(learnerID, quizID)]
	out := make([]Attempt, len(existing))
	for i, a := range existing {
		a.Answers = cloneAnswers(a.Answers)
		out[i] = a
	}
	return out, nil
}

func attemptKey(learnerID, quizID string) string {
	return learnerID + ":" + quizID
}

func numberTaken(attempts []Attempt, n int) bool {
	for _, a := range attempts {
		if a.Number == n {
			return true
		}
	}
	return false
}

func maxNumber(attempts []Attempt) int {
	n := 0
	for _, a := range attempts {
		n = max(n, a.Number)
	}
	return n
}

func cloneAnswers(in map[string][]int) map[string][]int {
	out := make(map[string][]int, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}
