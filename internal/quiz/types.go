// Package quiz grades quiz submissions and manages per-learner attempts.
package quiz

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultPassingScore is the passing threshold used when a quiz does not set one.
	DefaultPassingScore = 70
	// DefaultPoints is the weight of a question that does not set one.
	DefaultPoints = 1
)

var (
	ErrAttemptsExhausted        = errors.New("quiz attempts exhausted")
	ErrIncompleteSubmission     = errors.New("quiz has unanswered questions")
	ErrConflictingAttemptNumber = errors.New("conflicting attempt number")
	ErrAlreadySubmitted         = errors.New("attempt already submitted")
	ErrAbandoned                = errors.New("attempt abandoned")
	ErrUnknownQuestion          = errors.New("unknown question")
	ErrInvalidOption            = errors.New("option out of range")
	ErrInvalidQuiz              = errors.New("invalid quiz")
)

// QuestionType selects the grading rule of a question.
type QuestionType string

const (
	Single  QuestionType = "single"
	Multi   QuestionType = "multi"
	Boolean QuestionType = "boolean"
)

// Question is a single quiz item. Option indices are canonical (author-assigned)
// and never depend on presentation order.
type Question struct {
	ID          string       `json:"id" yaml:"id"`
	Prompt      string       `json:"prompt" yaml:"prompt"`
	Type        QuestionType `json:"type" yaml:"type"`
	Options     []string     `json:"options" yaml:"options"`
	Correct     []int        `json:"correct" yaml:"correct"`
	Points      int          `json:"points" yaml:"points"`
	Explanation string       `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Difficulty  string       `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
}

// Quiz assesses a module, or a whole course when ModuleID is empty.
type Quiz struct {
	ID                 string     `json:"id"`
	CourseKey          string     `json:"course_key"`
	ModuleID           string     `json:"module_id,omitempty"`
	Questions          []Question `json:"questions"`
	PassingScore       int        `json:"passing_score"` // 0 means unset: DefaultPassingScore applies
	MaxAttempts        int        `json:"max_attempts"` // 0 means unlimited
	RequireAllAnswered bool       `json:"require_all_answered"`
	ShuffleQuestions   bool       `json:"shuffle_questions"`
	ShuffleOptions     bool       `json:"shuffle_options"`
}

// Attempt is a submitted, immutable quiz attempt.
type Attempt struct {
	ID          string           `json:"id"`
	QuizID      string           `json:"quiz_id"`
	LearnerID   string           `json:"learner_id"`
	Number      int              `json:"number"`
	Answers     map[string][]int `json:"answers"`
	Score       int              `json:"score"`
	Passed      bool             `json:"passed"`
	Correct     int              `json:"correct"`
	Total       int              `json:"total"`
	TimeSpent   time.Duration    `json:"time_spent"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Validate rejects malformed quiz definitions before any attempt is scored.
func (q Quiz) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidQuiz)
	}
	if q.PassingScore < 0 || q.PassingScore > 100 {
		return fmt.Errorf("%w %s: passing score %d outside 0..100", ErrInvalidQuiz, q.ID, q.PassingScore)
	}
	if q.MaxAttempts < 0 {
		return fmt.Errorf("%w %s: max attempts must be non-negative, got %d", ErrInvalidQuiz, q.ID, q.MaxAttempts)
	}

	seen := make(map[string]bool, len(q.Questions))
	for _, question := range q.Questions {
		if seen[question.ID] {
			return fmt.Errorf("%w %s: duplicate question %q", ErrInvalidQuiz, q.ID, question.ID)
		}
		seen[question.ID] = true
		if err := question.Validate(); err != nil {
			return fmt.Errorf("%w %s: %w", ErrInvalidQuiz, q.ID, err)
		}
	}
	return nil
}

// Validate checks the question's shape against its type.
func (q Question) Validate() error {
	if q.ID == "" {
		return errors.New("question id is required")
	}
	if q.Points < 0 {
		return fmt.Errorf("question %s: points must be non-negative, got %d", q.ID, q.Points)
	}
	for _, idx := range q.Correct {
		if idx < 0 || idx >= len(q.Options) {
			return fmt.Errorf("question %s: correct option %d out of range", q.ID, idx)
		}
	}

	switch q.Type {
	case Single:
		if len(q.Correct) != 1 {
			return fmt.Errorf("question %s: single-correct needs exactly one correct option, got %d", q.ID, len(q.Correct))
		}
	case Boolean:
		if len(q.Options) != 2 {
			return fmt.Errorf("question %s: boolean needs exactly 2 options, got %d", q.ID, len(q.Options))
		}
		if len(q.Correct) != 1 {
			return fmt.Errorf("question %s: boolean needs exactly one correct option", q.ID)
		}
	case Multi:
		if len(q.Correct) == 0 {
			return fmt.Errorf("question %s: multi-correct needs at least one correct option", q.ID)
		}
	default:
		return fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
	}
	return nil
}

// Passing returns the effective passing threshold. An unset PassingScore
// yields DefaultPassingScore; there is no way to configure a zero threshold.
func (q Quiz) Passing() int {
	if q.PassingScore == 0 {
		return DefaultPassingScore
	}
	return q.PassingScore
}

// Question returns the question with the given ID.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}
