package engine_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/engine"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/gating"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/remote"
	"github.com/p-n-ai/pai-learn/internal/syncer"
)

func oneQuestionQuiz(id, moduleID string) *quiz.Quiz {
	return &quiz.Quiz{
		ID:        id,
		CourseKey: "go",
		ModuleID:  moduleID,
		Questions: []quiz.Question{{
			ID:      "q1",
			Prompt:  "Is Go statically typed?",
			Type:    quiz.Single,
			Options: []string{"no", "yes"},
			Correct: []int{1},
			Points:  1,
		}},
	}
}

// testCourse is a premium course: m1 (l1, l2, quiz required), m2 (l3, l4
// free preview), and a final quiz.
func testCourse() course.Course {
	return course.Course{
		ID:      "c-go",
		Slug:    "go",
		Title:   "Go",
		Premium: true,
		Modules: []course.Module{
			{
				ID: "m1", Slug: "basics", Title: "Basics", Order: 1, RequiresQuiz: true,
				Lessons: []course.Lesson{
					{ID: "l1", Slug: "intro", Title: "Intro", Order: 1},
					{ID: "l2", Slug: "types", Title: "Types", Order: 2},
				},
				Quiz: oneQuestionQuiz("go/basics/quiz", "m1"),
			},
			{
				ID: "m2", Slug: "concurrency", Title: "Concurrency", Order: 2,
				Lessons: []course.Lesson{
					{ID: "l3", Slug: "goroutines", Title: "Goroutines", Order: 1},
					{ID: "l4", Slug: "channels", Title: "Channels", Order: 2, FreePreview: true},
				},
			},
		},
		FinalQuiz: oneQuestionQuiz("go/final", ""),
	}
}

func newCatalog(t *testing.T) *course.Loader {
	t.Helper()
	cat, err := course.NewLoader("", course.Defaults{})
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	if err := cat.Add(testCourse()); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return cat
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	return engine.NewEngine(engine.EngineConfig{Catalog: newCatalog(t)})
}

func passQuiz(t *testing.T, e *engine.Engine, learner, module string) quiz.Attempt {
	t.Helper()
	sess, err := e.StartQuiz(t.Context(), learner, "go", module)
	if err != nil {
		t.Fatalf("StartQuiz(%s) error = %v", module, err)
	}
	if err := e.AnswerQuiz(learner, sess.ID(), "q1", 1); err != nil {
		t.Fatalf("AnswerQuiz() error = %v", err)
	}
	attempt, res, err := e.SubmitQuiz(t.Context(), learner, sess.ID())
	if err != nil {
		t.Fatalf("SubmitQuiz() error = %v", err)
	}
	if !res.Passed {
		t.Fatalf("SubmitQuiz() result = %+v, want passed", res)
	}
	return attempt
}

func complete(t *testing.T, e *engine.Engine, learner string, lessons ...string) {
	t.Helper()
	for _, l := range lessons {
		if err := e.CompleteLesson(t.Context(), learner, "go", l); err != nil {
			t.Fatalf("CompleteLesson(%s) error = %v", l, err)
		}
	}
}

func moduleStatuses(ov engine.Overview) []gating.Status {
	out := make([]gating.Status, len(ov.Modules))
	for i, m := range ov.Modules {
		out[i] = m.Status
	}
	return out
}

func TestEngine_CompleteLesson_Sequential(t *testing.T) {
	e := newEngine(t)
	ctx := t.Context()

	err := e.CompleteLesson(ctx, "u1", "go", "types")
	if !errors.Is(err, engine.ErrLessonLocked) {
		t.Fatalf("CompleteLesson(types) error = %v, want ErrLessonLocked", err)
	}

	complete(t, e, "u1", "intro", "intro", "types")

	ok, err := e.Accessible(ctx, "u1", "go", "goroutines")
	if err != nil || !ok {
		t.Errorf("Accessible(goroutines) = %v, %v, want true", ok, err)
	}
}

func TestEngine_CompleteLessonLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	e := newEngine(t)
	complete(t, e, "u1", "intro")

	if n := strings.Count(buf.String(), `msg="lesson completed"`); n != 1 {
		t.Errorf("lesson completed logged %d times, want 1:\n%s", n, buf.String())
	}
}

func TestEngine_NotFound(t *testing.T) {
	e := newEngine(t)
	ctx := t.Context()

	if err := e.CompleteLesson(ctx, "u1", "rust", "intro"); !errors.Is(err, course.ErrNotFound) {
		t.Errorf("unknown course error = %v, want ErrNotFound", err)
	}
	if _, err := e.Accessible(ctx, "u1", "rust", "intro"); !errors.Is(err, course.ErrNotFound) {
		t.Errorf("Accessible() on unknown course error = %v, want ErrNotFound", err)
	}
	ok, err := e.Accessible(ctx, "u1", "go", "missing")
	if ok || err != nil {
		t.Errorf("Accessible(missing) = %v, %v, want false, nil", ok, err)
	}
}

func TestEngine_LessonByID(t *testing.T) {
	e := newEngine(t)
	complete(t, e, "u1", "l1")

	ok, err := e.Accessible(t.Context(), "u1", "c-go", "types")
	if err != nil || !ok {
		t.Errorf("Accessible() after completing by ID = %v, %v", ok, err)
	}
}

func TestEngine_Overview(t *testing.T) {
	e := newEngine(t)
	ctx := t.Context()

	ov, err := e.Overview(ctx, "u1", "go")
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	if got, want := moduleStatuses(ov), []gating.Status{gating.Unlocked, gating.Locked}; !equalStatuses(got, want) {
		t.Errorf("initial statuses = %v, want %v", got, want)
	}
	if ov.NextLesson != "intro" || ov.Percentage != 0 || ov.TotalLessons != 4 {
		t.Errorf("initial overview = next %q, %d%%, total %d", ov.NextLesson, ov.Percentage, ov.TotalLessons)
	}
	if ov.Status != gating.Unlocked {
		t.Errorf("initial course status = %s, want unlocked", ov.Status)
	}
	if l4 := ov.Modules[1].Lessons[1]; !l4.Accessible || !l4.FreePreview {
		t.Errorf("free preview lesson state = %+v", l4)
	}

	complete(t, e, "u1", "intro", "types")
	ov, _ = e.Overview(ctx, "u1", "go")
	if got, want := moduleStatuses(ov), []gating.Status{gating.InProgress, gating.Locked}; !equalStatuses(got, want) {
		t.Errorf("statuses before quiz = %v, want %v", got, want)
	}
	if ov.Percentage != 50 {
		t.Errorf("Percentage = %d, want 50", ov.Percentage)
	}

	passQuiz(t, e, "u1", "basics")
	ov, _ = e.Overview(ctx, "u1", "go")
	if got, want := moduleStatuses(ov), []gating.Status{gating.Completed, gating.Unlocked}; !equalStatuses(got, want) {
		t.Errorf("statuses after quiz = %v, want %v", got, want)
	}
	if !ov.Modules[0].QuizPassed {
		t.Error("module quiz should be marked passed")
	}
}

func TestEngine_FinalQuizGatesCourseCompletion(t *testing.T) {
	e := newEngine(t)
	ctx := t.Context()

	complete(t, e, "u1", "intro", "types")
	if _, err := e.StartQuiz(ctx, "u1", "go", course.FinalQuizKey); !errors.Is(err, engine.ErrLessonsRemaining) {
		t.Fatalf("StartQuiz(final) early error = %v, want ErrLessonsRemaining", err)
	}
	passQuiz(t, e, "u1", "basics")
	complete(t, e, "u1", "goroutines", "channels")

	ov, _ := e.Overview(ctx, "u1", "go")
	if ov.Status != gating.InProgress {
		t.Errorf("course status before final quiz = %s, want in_progress", ov.Status)
	}
	if ov.FinalQuiz == nil || !ov.FinalQuiz.Available || ov.FinalQuiz.Passed {
		t.Errorf("FinalQuiz = %+v, want available and not passed", ov.FinalQuiz)
	}

	passQuiz(t, e, "u1", course.FinalQuizKey)
	ov, _ = e.Overview(ctx, "u1", "go")
	if ov.Status != gating.Completed || ov.Percentage != 100 || ov.NextLesson != "" {
		t.Errorf("final overview = %s %d%% next %q", ov.Status, ov.Percentage, ov.NextLesson)
	}
}

func TestEngine_StartQuizRules(t *testing.T) {
	e := newEngine(t)
	ctx := t.Context()

	if _, err := e.StartQuiz(ctx, "u1", "go", "basics"); !errors.Is(err, engine.ErrLessonsRemaining) {
		t.Errorf("StartQuiz before lessons error = %v, want ErrLessonsRemaining", err)
	}
	if _, err := e.StartQuiz(ctx, "u1", "go", "concurrency"); !errors.Is(err, engine.ErrNoQuiz) {
		t.Errorf("StartQuiz on quizless module error = %v, want ErrNoQuiz", err)
	}
	if _, err := e.StartQuiz(ctx, "u1", "go", "generics"); !errors.Is(err, course.ErrNotFound) {
		t.Errorf("StartQuiz on unknown module error = %v, want ErrNotFound", err)
	}
}

func TestEngine_QuizSessions(t *testing.T) {
	e := newEngine(t)
	ctx := t.Context()
	complete(t, e, "u1", "intro", "types")

	sess, err := e.StartQuiz(ctx, "u1", "go", "basics")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	if _, err := e.Session("u2", sess.ID()); !errors.Is(err, engine.ErrSessionNotFound) {
		t.Errorf("Session() for another learner error = %v, want ErrSessionNotFound", err)
	}
	if got := e.OpenSessions("u1"); len(got) != 1 || got[0] != sess.ID() {
		t.Errorf("OpenSessions() = %v", got)
	}

	if err := e.AbandonQuiz("u1", sess.ID()); err != nil {
		t.Fatalf("AbandonQuiz() error = %v", err)
	}
	if _, _, err := e.SubmitQuiz(ctx, "u1", sess.ID()); !errors.Is(err, engine.ErrSessionNotFound) {
		t.Errorf("SubmitQuiz() after abandon error = %v, want ErrSessionNotFound", err)
	}

	// Abandoning did not consume a number.
	attempt := passQuiz(t, e, "u1", "basics")
	if attempt.Number != 1 {
		t.Errorf("attempt Number = %d, want 1", attempt.Number)
	}
	attempts, err := e.Attempts(ctx, "u1", "go")
	if err != nil {
		t.Fatalf("Attempts() error = %v", err)
	}
	if len(attempts["go/basics/quiz"]) != 1 {
		t.Errorf("Attempts() = %v", attempts)
	}
}

func TestEngine_StartQuizResumesOpenAttempt(t *testing.T) {
	cat, err := course.NewLoader("", course.Defaults{})
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	c := testCourse()
	c.Modules[0].Quiz.MaxAttempts = 3
	if err := cat.Add(c); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	e := engine.NewEngine(engine.EngineConfig{Catalog: cat})
	ctx := t.Context()
	complete(t, e, "u1", "intro", "types")

	first, err := e.StartQuiz(ctx, "u1", "go", "basics")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	for range 4 {
		again, err := e.StartQuiz(ctx, "u1", "go", "basics")
		if err != nil {
			t.Fatalf("StartQuiz() again error = %v", err)
		}
		if again.ID() != first.ID() {
			t.Errorf("StartQuiz() again = %s, want open attempt %s", again.ID(), first.ID())
		}
	}
	if got := e.OpenSessions("u1"); len(got) != 1 {
		t.Errorf("OpenSessions() = %v, want one", got)
	}

	for want := 1; want <= 3; want++ {
		if a := passQuiz(t, e, "u1", "basics"); a.Number != want {
			t.Errorf("attempt Number = %d, want %d", a.Number, want)
		}
	}
	if _, err := e.StartQuiz(ctx, "u1", "go", "basics"); !errors.Is(err, quiz.ErrAttemptsExhausted) {
		t.Errorf("4th StartQuiz() error = %v, want ErrAttemptsExhausted", err)
	}
}

func TestEngine_Paywall(t *testing.T) {
	e := engine.NewEngine(engine.EngineConfig{
		Catalog:  newCatalog(t),
		Entitled: func(string) bool { return false },
	})
	ctx := t.Context()
	complete(t, e, "u1", "intro", "types")
	passQuiz(t, e, "u1", "basics")

	ov, _ := e.Overview(ctx, "u1", "go")
	if got, want := moduleStatuses(ov), []gating.Status{gating.Completed, gating.Premium}; !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if err := e.CompleteLesson(ctx, "u1", "go", "goroutines"); !errors.Is(err, engine.ErrPremiumRequired) {
		t.Errorf("CompleteLesson(goroutines) error = %v, want ErrPremiumRequired", err)
	}
	if err := e.CompleteLesson(ctx, "u1", "go", "channels"); err != nil {
		t.Errorf("free preview lesson behind paywall error = %v", err)
	}
}

func TestEngine_FreeCourseSequentialPolicy(t *testing.T) {
	c := testCourse()
	c.Premium = false
	cat, _ := course.NewLoader("", course.Defaults{})
	if err := cat.Add(c); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	for _, tt := range []struct {
		policy gating.Policy
		want   gating.Status
	}{
		{gating.Policy{}, gating.Locked},
		{gating.Policy{FreeSequential: true}, gating.Unlocked},
	} {
		e := engine.NewEngine(engine.EngineConfig{Catalog: cat, Policy: tt.policy})
		complete(t, e, "u1", "intro", "types")
		passQuiz(t, e, "u1", "basics")
		ov, _ := e.Overview(t.Context(), "u1", "go")
		if ov.Modules[1].Status != tt.want {
			t.Errorf("policy %+v: module 2 = %s, want %s", tt.policy, ov.Modules[1].Status, tt.want)
		}
	}
}

func TestEngine_SyncsAndResets(t *testing.T) {
	bus := events.NewBus()
	store := progress.NewStore(progress.StoreConfig{Events: bus})
	rem := remote.NewMemoryProgress()
	rem.Seed("u1", "go", "intro")
	s := syncer.New(syncer.Config{Store: store, Remote: rem, InitialInterval: 1, MaxInterval: 1})
	t.Cleanup(s.Attach(bus))

	e := engine.NewEngine(engine.EngineConfig{Catalog: newCatalog(t), Store: store, Syncer: s})
	ctx := t.Context()

	// The remote completion from another device unlocks the second lesson.
	complete(t, e, "u1", "types")
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	got, _ := rem.FetchCompletions(ctx, "u1", "go")
	if len(got) != 2 {
		t.Fatalf("remote completions = %v, want intro and types", got)
	}

	sess, err := e.StartQuiz(ctx, "u1", "go", "basics")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	if err := e.ResetCourse(ctx, "u1", "go"); err != nil {
		t.Fatalf("ResetCourse() error = %v", err)
	}
	if _, err := e.Session("u1", sess.ID()); !errors.Is(err, engine.ErrSessionNotFound) {
		t.Error("reset should discard open attempts")
	}
	if got, _ := rem.FetchCompletions(ctx, "u1", "go"); len(got) != 0 {
		t.Errorf("remote after reset = %v", got)
	}
	ov, _ := e.Overview(ctx, "u1", "go")
	if ov.CompletedLessons != 0 || ov.NextLesson != "intro" {
		t.Errorf("overview after reset = %d done, next %q", ov.CompletedLessons, ov.NextLesson)
	}
}

func TestEngine_FirstRequestLoadsEveryCourse(t *testing.T) {
	store := progress.NewStore(progress.StoreConfig{})
	rem := remote.NewMemoryProgress()
	rem.Seed("u1", "go", "intro")
	rem.Seed("u1", "rust", "hello")
	s := syncer.New(syncer.Config{Store: store, Remote: rem})

	cat := newCatalog(t)
	err := cat.Add(course.Course{
		ID: "c-rust", Slug: "rust", Title: "Rust",
		Modules: []course.Module{{
			ID: "r1", Slug: "start", Title: "Start", Order: 1,
			Lessons: []course.Lesson{{ID: "rl1", Slug: "hello", Order: 1}},
		}},
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	e := engine.NewEngine(engine.EngineConfig{Catalog: cat, Store: store, Syncer: s})

	ov, err := e.Overview(t.Context(), "u1", "go")
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	if ov.CompletedLessons != 1 {
		t.Errorf("go CompletedLessons = %d, want 1", ov.CompletedLessons)
	}
	if !store.Learner("u1").IsLessonCompleted("rust", "hello") {
		t.Error("first request did not load the learner's other courses")
	}
}

func TestEngine_RemoteDownKeepsLocalAuthority(t *testing.T) {
	store := progress.NewStore(progress.StoreConfig{})
	rem := remote.NewMemoryProgress()
	rem.SetDown(true)
	s := syncer.New(syncer.Config{Store: store, Remote: rem})

	e := engine.NewEngine(engine.EngineConfig{Catalog: newCatalog(t), Store: store, Syncer: s})
	complete(t, e, "u1", "intro", "types")

	ok, err := e.Accessible(t.Context(), "u1", "go", "goroutines")
	if err != nil || !ok {
		t.Errorf("Accessible() with remote down = %v, %v", ok, err)
	}
}

func TestEngine_ConcurrentCompletions(t *testing.T) {
	store := progress.NewStore(progress.StoreConfig{})
	e := engine.NewEngine(engine.EngineConfig{Catalog: newCatalog(t), Store: store})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.CompleteLesson(t.Context(), "u1", "go", "intro")
		}()
	}
	wg.Wait()

	if n := store.Learner("u1").CompletedCount("go"); n != 1 {
		t.Errorf("CompletedCount() = %d, want 1", n)
	}
}

func TestEngine_UncompleteLesson(t *testing.T) {
	e := newEngine(t)
	complete(t, e, "u1", "intro", "types")

	if err := e.UncompleteLesson(t.Context(), "u1", "go", "intro"); err != nil {
		t.Fatalf("UncompleteLesson() error = %v", err)
	}
	ov, _ := e.Overview(t.Context(), "u1", "go")
	if ov.CompletedLessons != 1 || ov.NextLesson != "intro" {
		t.Errorf("overview = %d done, next %q", ov.CompletedLessons, ov.NextLesson)
	}
}

func equalStatuses(a, b []gating.Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
