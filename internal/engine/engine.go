// Package engine is the course progression facade. It combines the catalog, the
// local progress store, remote synchronization, quiz attempts and gating into
// the operations a client calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/p-n-ai/pai-learn/internal/access"
	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/gating"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/syncer"
)

var (
	ErrLessonLocked     = errors.New("lesson locked")
	ErrModuleLocked     = errors.New("module locked")
	ErrPremiumRequired  = errors.New("premium access required")
	ErrLessonsRemaining = errors.New("lessons remaining before quiz")
	ErrNoQuiz           = errors.New("module has no quiz")
	ErrSessionNotFound  = errors.New("quiz attempt not found")
)

// Catalog resolves courses by key.
type Catalog interface {
	Get(key string) (course.Course, bool)
	All() []course.Course
}

// EngineConfig holds dependencies for the engine.
type EngineConfig struct {
	Catalog Catalog
	Store   *progress.Store
	// Syncer reconciles with the remote store. Nil keeps progress local only.
	Syncer  *syncer.Syncer
	Quizzes *quiz.Service
	Policy  gating.Policy
	// Entitled reports whether a learner may open premium modules. Nil
	// entitles everyone.
	Entitled func(learnerID string) bool
}

// Engine is the progression facade. State transitions are serialized per
// learner.
type Engine struct {
	catalog  Catalog
	store    *progress.Store
	sync     *syncer.Syncer
	quizzes  *quiz.Service
	policy   gating.Policy
	entitled func(string) bool

	mu       sync.Mutex
	learners map[string]*sync.Mutex
	loaded   map[string]bool
	sessions map[string]*session
}

type session struct {
	*quiz.Session
	courseKey string
}

// NewEngine creates a new engine.
func NewEngine(cfg EngineConfig) *Engine {
	store := cfg.Store
	if store == nil {
		store = progress.NewStore(progress.StoreConfig{})
	}
	quizzes := cfg.Quizzes
	if quizzes == nil {
		quizzes = quiz.NewService(quiz.ServiceConfig{})
	}
	entitled := cfg.Entitled
	if entitled == nil {
		entitled = func(string) bool { return true }
	}
	return &Engine{
		catalog:  cfg.Catalog,
		store:    store,
		sync:     cfg.Syncer,
		quizzes:  quizzes,
		policy:   cfg.Policy,
		entitled: entitled,
		learners: make(map[string]*sync.Mutex),
		loaded:   make(map[string]bool),
		sessions: make(map[string]*session),
	}
}

// Course returns a course from the catalog.
func (e *Engine) Course(courseKey string) (course.Course, error) {
	if e.catalog == nil {
		return course.Course{}, fmt.Errorf("course %s: %w", courseKey, course.ErrNotFound)
	}
	c, ok := e.catalog.Get(courseKey)
	if !ok {
		return course.Course{}, fmt.Errorf("course %s: %w", courseKey, course.ErrNotFound)
	}
	return c, nil
}

// Courses lists the catalog.
func (e *Engine) Courses() []course.Course {
	if e.catalog == nil {
		return nil
	}
	return e.catalog.All()
}

// Accessible reports whether the learner may open a lesson. An unknown lesson
// is reported inaccessible rather than as an error; only an unknown course fails.
func (e *Engine) Accessible(ctx context.Context, learnerID, courseKey, lessonKey string) (bool, error) {
	unlock := e.lock(learnerID)
	defer unlock()

	c, learner, err := e.prepare(ctx, learnerID, courseKey)
	if err != nil {
		return false, err
	}
	l, _, ok := c.Lesson(lessonKey)
	if !ok {
		return false, nil
	}
	return e.decide(c, learner, l).Accessible, nil
}

// CompleteLesson records a completion. Completing an already-completed lesson
// is a no-op. Inaccessible lessons are rejected with ErrLessonLocked.
func (e *Engine) CompleteLesson(ctx context.Context, learnerID, courseKey, lessonKey string) error {
	unlock := e.lock(learnerID)
	defer unlock()

	c, learner, err := e.prepare(ctx, learnerID, courseKey)
	if err != nil {
		return err
	}
	l, m, ok := c.Lesson(lessonKey)
	if !ok {
		return fmt.Errorf("lesson %s: %w", lessonKey, course.ErrNotFound)
	}
	if learner.IsLessonCompleted(c.Key(), l.Key()) {
		return nil
	}
	if d := e.decide(c, learner, l); !d.Accessible {
		return fmt.Errorf("%w: %s (%s)", ErrLessonLocked, l.Key(), d.Reason)
	}
	if e.paywalled(c, learnerID, m) && !l.FreePreview {
		return fmt.Errorf("%w: module %s", ErrPremiumRequired, m.Slug)
	}

	learner.MarkLessonCompleted(c.Key(), l.Key())
	return nil
}

// UncompleteLesson removes a completion. It is meant for support tooling.
func (e *Engine) UncompleteLesson(ctx context.Context, learnerID, courseKey, lessonKey string) error {
	unlock := e.lock(learnerID)
	defer unlock()

	c, learner, err := e.prepare(ctx, learnerID, courseKey)
	if err != nil {
		return err
	}
	l, _, ok := c.Lesson(lessonKey)
	if !ok {
		return fmt.Errorf("lesson %s: %w", lessonKey, course.ErrNotFound)
	}
	learner.MarkLessonUncompleted(c.Key(), l.Key())
	return nil
}

// ResetCourse clears the learner's progress in a course and discards any open
// quiz attempts for it. The local reset always applies; a remote failure is
// returned after it.
func (e *Engine) ResetCourse(ctx context.Context, learnerID, courseKey string) error {
	unlock := e.lock(learnerID)
	defer unlock()

	c, learner, err := e.prepare(ctx, learnerID, courseKey)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for id, s := range e.sessions {
		if s.LearnerID() == learnerID && s.courseKey == c.Key() {
			s.Abandon()
			delete(e.sessions, id)
		}
	}
	e.mu.Unlock()

	learner.ResetProgress(c.Key())

	if e.sync != nil {
		if err := e.sync.Reset(ctx, learnerID, c.Key()); err != nil {
			return fmt.Errorf("reset %s: %w", c.Key(), err)
		}
	}
	return nil
}

// Overview is a learner's view of one course.
type Overview struct {
	CourseKey        string           `json:"course_key"`
	Title            string           `json:"title"`
	Premium          bool             `json:"premium"`
	Status           gating.Status    `json:"status"`
	CompletedLessons int              `json:"completed_lessons"`
	TotalLessons     int              `json:"total_lessons"`
	Percentage       int              `json:"percentage"`
	NextLesson       string           `json:"next_lesson,omitempty"`
	Modules          []ModuleOverview `json:"modules"`
	FinalQuiz        *QuizState       `json:"final_quiz,omitempty"`
}

// ModuleOverview is a resolved module with its lesson decisions.
type ModuleOverview struct {
	gating.ModuleState
	Lessons []LessonState `json:"lessons"`
}

// LessonState is one lesson as seen by the learner.
type LessonState struct {
	access.Decision
	Title       string `json:"title"`
	Completed   bool   `json:"completed"`
	FreePreview bool   `json:"free_preview"`
}

// QuizState summarizes the learner's standing on a quiz.
type QuizState struct {
	QuizID    string `json:"quiz_id"`
	Available bool   `json:"available"`
	Attempts  int    `json:"attempts"`
	BestScore int    `json:"best_score"`
	Passed    bool   `json:"passed"`
}

// Overview resolves module statuses, lesson decisions and totals.
func (e *Engine) Overview(ctx context.Context, learnerID, courseKey string) (Overview, error) {
	unlock := e.lock(learnerID)
	defer unlock()

	c, learner, err := e.prepare(ctx, learnerID, courseKey)
	if err != nil {
		return Overview{}, err
	}
	states, err := e.resolve(ctx, c, learner)
	if err != nil {
		return Overview{}, err
	}

	completed := e.completed(c, learner)
	ordered := c.OrderedLessons()
	decisions := access.Evaluate(ordered, completed)
	byLesson := make(map[string]access.Decision, len(decisions))
	for _, d := range decisions {
		byLesson[d.LessonKey] = d
	}

	ov := Overview{
		CourseKey:    c.Key(),
		Title:        c.Title,
		Premium:      c.Premium,
		Status:       gating.CourseStatus(states),
		TotalLessons: len(ordered),
	}
	for _, st := range states {
		m, _ := c.Module(st.ModuleID)
		mo := ModuleOverview{ModuleState: st}
		for _, l := range sortedLessons(m) {
			mo.Lessons = append(mo.Lessons, LessonState{
				Decision:    byLesson[l.Key()],
				Title:       l.Title,
				Completed:   completed(l.Key()),
				FreePreview: l.FreePreview,
			})
		}
		ov.CompletedLessons += st.CompletedLessons
		ov.Modules = append(ov.Modules, mo)
	}
	ov.Percentage = progress.Percentage(ov.CompletedLessons, ov.TotalLessons)
	if next, ok := access.NextLesson(ordered, completed); ok {
		ov.NextLesson = next.Key()
	}

	if c.FinalQuiz != nil {
		fq, err := e.quizState(ctx, learnerID, *c.FinalQuiz)
		if err != nil {
			return Overview{}, err
		}
		fq.Available = ov.CompletedLessons == ov.TotalLessons
		ov.FinalQuiz = &fq
		if ov.Status == gating.Completed && !fq.Passed {
			ov.Status = gating.InProgress
		}
	}
	return ov, nil
}

// StartQuiz opens an attempt for a module quiz, or for the course quiz when
// moduleKey is course.FinalQuizKey. Every lesson the quiz covers must be
// completed first. A learner has at most one open attempt per quiz; starting
// again resumes it.
func (e *Engine) StartQuiz(ctx context.Context, learnerID, courseKey, moduleKey string) (*quiz.Session, error) {
	unlock := e.lock(learnerID)
	defer unlock()

	c, learner, err := e.prepare(ctx, learnerID, courseKey)
	if err != nil {
		return nil, err
	}
	completed := e.completed(c, learner)

	var q quiz.Quiz
	if moduleKey == course.FinalQuizKey {
		if c.FinalQuiz == nil {
			return nil, fmt.Errorf("course %s: %w", c.Key(), ErrNoQuiz)
		}
		for _, l := range c.OrderedLessons() {
			if !completed(l.Key()) {
				return nil, fmt.Errorf("%w: %s", ErrLessonsRemaining, l.Key())
			}
		}
		q = *c.FinalQuiz
	} else {
		m, ok := c.Module(moduleKey)
		if !ok {
			return nil, fmt.Errorf("module %s: %w", moduleKey, course.ErrNotFound)
		}
		if m.Quiz == nil {
			return nil, fmt.Errorf("module %s: %w", m.Slug, ErrNoQuiz)
		}
		states, err := e.resolve(ctx, c, learner)
		if err != nil {
			return nil, err
		}
		for _, st := range states {
			if st.ModuleID != m.ID {
				continue
			}
			switch st.Status {
			case gating.Locked:
				return nil, fmt.Errorf("%w: %s", ErrModuleLocked, m.Slug)
			case gating.Premium:
				return nil, fmt.Errorf("%w: module %s", ErrPremiumRequired, m.Slug)
			}
		}
		for _, l := range m.Lessons {
			if !completed(l.Key()) {
				return nil, fmt.Errorf("%w: %s", ErrLessonsRemaining, l.Key())
			}
		}
		q = *m.Quiz
	}

	if open, ok := e.openSession(learnerID, q.ID); ok {
		return open, nil
	}
	sess, err := e.quizzes.Start(ctx, learnerID, q)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.sessions[sess.ID()] = &session{Session: sess, courseKey: c.Key()}
	e.mu.Unlock()
	return sess, nil
}

func (e *Engine) openSession(learnerID, quizID string) (*quiz.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		if s.LearnerID() == learnerID && s.Quiz().ID == quizID {
			return s.Session, true
		}
	}
	return nil, false
}

// Session returns an open attempt owned by the learner.
func (e *Engine) Session(learnerID, attemptID string) (*quiz.Session, error) {
	s, err := e.session(learnerID, attemptID)
	if err != nil {
		return nil, err
	}
	return s.Session, nil
}

// AnswerQuiz records canonical option indices for a question of an open attempt.
func (e *Engine) AnswerQuiz(learnerID, attemptID, questionID string, indices ...int) error {
	s, err := e.session(learnerID, attemptID)
	if err != nil {
		return err
	}
	return s.Answer(questionID, indices...)
}

// SubmitQuiz grades and persists an open attempt. An incomplete submission
// leaves the attempt open.
func (e *Engine) SubmitQuiz(ctx context.Context, learnerID, attemptID string) (quiz.Attempt, quiz.Result, error) {
	unlock := e.lock(learnerID)
	defer unlock()

	s, err := e.session(learnerID, attemptID)
	if err != nil {
		return quiz.Attempt{}, quiz.Result{}, err
	}
	attempt, res, err := s.Submit(ctx)
	if errors.Is(err, quiz.ErrIncompleteSubmission) {
		return quiz.Attempt{}, quiz.Result{}, err
	}
	e.forget(attemptID)
	return attempt, res, err
}

// AbandonQuiz discards an open attempt without consuming an attempt number.
func (e *Engine) AbandonQuiz(learnerID, attemptID string) error {
	s, err := e.session(learnerID, attemptID)
	if err != nil {
		return err
	}
	s.Abandon()
	e.forget(attemptID)
	return nil
}

// Attempts returns the learner's submitted attempts for every quiz in the
// course, keyed by quiz ID.
func (e *Engine) Attempts(ctx context.Context, learnerID, courseKey string) (map[string][]quiz.Attempt, error) {
	c, err := e.Course(courseKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]quiz.Attempt)
	for _, q := range c.Quizzes() {
		attempts, err := e.quizzes.Attempts(ctx, learnerID, q.ID)
		if err != nil {
			return nil, err
		}
		if len(attempts) > 0 {
			out[q.ID] = attempts
		}
	}
	return out, nil
}

// prepare resolves the course and makes sure the learner's progress for it has
// been loaded once. With a syncer, a learner's first request loads every
// catalog course at once. A failed remote load is logged and retried on the
// next call; local state stays authoritative meanwhile.
func (e *Engine) prepare(ctx context.Context, learnerID, courseKey string) (course.Course, *progress.Learner, error) {
	c, err := e.Course(courseKey)
	if err != nil {
		return course.Course{}, nil, err
	}
	learner := e.store.Learner(learnerID)
	if e.isLoaded(learnerID, c.Key()) {
		return c, learner, nil
	}

	if e.sync != nil {
		keys := []string{c.Key()}
		for _, other := range e.Courses() {
			if k := other.Key(); k != c.Key() && !e.isLoaded(learnerID, k) {
				keys = append(keys, k)
			}
		}
		loaded, err := e.sync.LoadAll(ctx, learnerID, keys)
		e.markLoaded(learnerID, loaded...)
		if err != nil {
			slog.Warn("progress load incomplete, using local state",
				"learner_id", learnerID,
				"courses", len(keys)-len(loaded),
				"error", err,
			)
		}
		return c, learner, nil
	}

	if err := learner.Load(ctx, c.Key()); err != nil {
		slog.Warn("progress load incomplete, using local state",
			"learner_id", learnerID,
			"course", c.Key(),
			"error", err,
		)
		return c, learner, nil
	}
	e.markLoaded(learnerID, c.Key())
	return c, learner, nil
}

func loadKey(learnerID, courseKey string) string {
	return learnerID + "\x00" + courseKey
}

func (e *Engine) isLoaded(learnerID, courseKey string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded[loadKey(learnerID, courseKey)]
}

func (e *Engine) markLoaded(learnerID string, courseKeys ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range courseKeys {
		e.loaded[loadKey(learnerID, k)] = true
	}
}

func (e *Engine) completed(c course.Course, learner *progress.Learner) access.Completed {
	return func(lessonKey string) bool {
		return learner.IsLessonCompleted(c.Key(), lessonKey)
	}
}

func (e *Engine) decide(c course.Course, learner *progress.Learner, l course.Lesson) access.Decision {
	return access.Decide(c.OrderedLessons(), e.completed(c, learner), l.Key())
}

// paywalled reports whether m sits behind the premium wall for this learner.
// The first module of a course is never walled.
func (e *Engine) paywalled(c course.Course, learnerID string, m course.Module) bool {
	if !c.Premium || e.entitled(learnerID) {
		return false
	}
	first := slices.MinFunc(c.Modules, func(a, b course.Module) int { return a.Order - b.Order })
	return m.ID != first.ID
}

func (e *Engine) resolve(ctx context.Context, c course.Course, learner *progress.Learner) ([]gating.ModuleState, error) {
	passed := make(map[string]bool)
	for _, m := range c.Modules {
		if m.Quiz == nil {
			continue
		}
		best, ok, err := e.quizzes.BestAttempt(ctx, learner.ID(), m.Quiz.ID)
		if err != nil {
			return nil, fmt.Errorf("module %s quiz: %w", m.Slug, err)
		}
		passed[m.ID] = ok && best.Passed
	}

	policy := e.policy
	policy.Paywalled = c.Premium && !e.entitled(learner.ID())
	return gating.Resolve(c, gating.Input{
		Completed:  e.completed(c, learner),
		QuizPassed: func(moduleID string) bool { return passed[moduleID] },
		Policy:     policy,
	}), nil
}

func (e *Engine) quizState(ctx context.Context, learnerID string, q quiz.Quiz) (QuizState, error) {
	attempts, err := e.quizzes.Attempts(ctx, learnerID, q.ID)
	if err != nil {
		return QuizState{}, err
	}
	st := QuizState{QuizID: q.ID, Attempts: len(attempts)}
	if best, ok := quiz.Best(attempts); ok {
		st.BestScore = best.Score
		st.Passed = best.Passed
	}
	return st, nil
}

func (e *Engine) session(learnerID, attemptID string) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[attemptID]
	if !ok || s.LearnerID() != learnerID {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, attemptID)
	}
	return s, nil
}

func (e *Engine) forget(attemptID string) {
	e.mu.Lock()
	delete(e.sessions, attemptID)
	e.mu.Unlock()
}

// OpenSessions returns the IDs of the learner's open attempts, sorted.
func (e *Engine) OpenSessions(learnerID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for id, s := range e.sessions {
		if s.LearnerID() == learnerID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// lock serializes state transitions for one learner.
func (e *Engine) lock(learnerID string) (unlock func()) {
	e.mu.Lock()
	m, ok := e.learners[learnerID]
	if !ok {
		m = &sync.Mutex{}
		e.learners[learnerID] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func sortedLessons(m course.Module) []course.Lesson {
	lessons := slices.Clone(m.Lessons)
	slices.SortStableFunc(lessons, func(a, b course.Lesson) int { return a.Order - b.Order })
	return lessons
}
