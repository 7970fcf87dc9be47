// Package syncer reconciles the local progress store with the remote source
// of truth.
//
// Local writes happen first and are authoritative for gating. Each completion
// is queued for remote submission and retried with exponential backoff until
// it is acknowledged. Failing submissions back off independently. Initial loads merge remote state with union semantics,
// so neither side can erase a completion the other knows about.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

// ErrPersistenceUnavailable means the remote store could not be reached. Local
// state stays authoritative.
var ErrPersistenceUnavailable = errors.New("remote persistence unavailable")

// Remote is the authoritative progress API. Both operations are idempotent on
// the server side.
type Remote interface {
	FetchCompletions(ctx context.Context, learnerID, courseKey string) ([]string, error)
	SubmitCompletion(ctx context.Context, learnerID, courseKey, lessonKey string) error
}

// Resetter is implemented by remotes that can clear a learner's course progress.
type Resetter interface {
	ResetCompletions(ctx context.Context, learnerID, courseKey string) error
}

// Submission is a completion waiting to be acknowledged by the remote.
type Submission struct {
	LearnerID string `json:"learner_id"`
	CourseKey string `json:"course_key"`
	LessonKey string `json:"lesson_key"`
}

// Config holds syncer settings.
type Config struct {
	Store           *progress.Store
	Remote          Remote
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// BacklogWarn logs a warning whenever the queue grows past this length.
	BacklogWarn int
	// MaxConcurrentLoads bounds LoadAll.
	MaxConcurrentLoads int
}

// Syncer owns the submission queue.
type Syncer struct {
	store  *progress.Store
	remote Remote
	cfg    Config

	mu      sync.Mutex
	pending []Submission
	retry   map[Submission]*retryState
	wake    chan struct{}

	// drain serializes Run and Flush.
	drain sync.Mutex
	// send is held across one remote submission and across Reset, so a reset
	// never interleaves with an in-flight submission.
	send sync.Mutex
}

// retryState tracks the backoff of one failing submission.
type retryState struct {
	backoff *backoff.ExponentialBackOff
	next    time.Time
}

// New creates a syncer.
func New(cfg Config) *Syncer {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Minute
	}
	if cfg.BacklogWarn <= 0 {
		cfg.BacklogWarn = 1000
	}
	if cfg.MaxConcurrentLoads <= 0 {
		cfg.MaxConcurrentLoads = 4
	}
	return &Syncer{
		store:  cfg.Store,
		remote: cfg.Remote,
		cfg:    cfg,
		retry:  make(map[Submission]*retryState),
		wake:   make(chan struct{}, 1),
	}
}

// Attach queues every lesson completion published on the bus.
func (s *Syncer) Attach(bus *events.Bus) (detach func()) {
	return bus.Subscribe(func(ev events.Event) {
		switch ev.Kind {
		case events.LessonCompleted:
			s.Enqueue(Submission{LearnerID: ev.LearnerID, CourseKey: ev.CourseKey, LessonKey: ev.LessonKey})
		case events.LessonUncompleted:
			s.drop(func(sub Submission) bool {
				return sub.LearnerID == ev.LearnerID && sub.CourseKey == ev.CourseKey && sub.LessonKey == ev.LessonKey
			})
		}
	})
}

// Enqueue adds a submission unless an identical one is already queued.
func (s *Syncer) Enqueue(sub Submission) {
	s.mu.Lock()
	if slices.Contains(s.pending, sub) {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, sub)
	n := len(s.pending)
	s.mu.Unlock()

	if n > s.cfg.BacklogWarn {
		slog.Warn("sync backlog growing", "pending", n)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns a copy of the queue in submission order.
func (s *Syncer) Pending() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// Run drains the queue in the background until ctx is cancelled. Unsent
// submissions stay queued.
func (s *Syncer) Run(ctx context.Context) error {
	slog.Info("sync worker started")
	for {
		if err := s.Flush(ctx); err != nil {
			if ctx.Err() != nil {
				slog.Info("sync worker stopped", "pending", len(s.Pending()))
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			slog.Info("sync worker stopped", "pending", len(s.Pending()))
			return nil
		case <-s.wake:
		}
	}
}

// Flush submits queued completions until the queue is empty or ctx ends.
// Each failing submission backs off on its own schedule and moves to the
// tail, so one rejected completion never holds back the others.
func (s *Syncer) Flush(ctx context.Context) error {
	s.drain.Lock()
	defer s.drain.Unlock()

	var lastErr error
	for {
		due, wait, ok := s.due(time.Now())
		if !ok {
			return nil
		}
		for _, sub := range due {
			if err := s.submit(ctx, sub); err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
				}
				lastErr = err
			}
		}
		if len(due) > 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, lastErr)
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// submit sends one completion. It is skipped when a reset or an uncomplete
// removed it from the queue after it was picked.
func (s *Syncer) submit(ctx context.Context, sub Submission) error {
	s.send.Lock()
	defer s.send.Unlock()

	if !s.queued(sub) {
		return nil
	}
	if err := s.remote.SubmitCompletion(ctx, sub.LearnerID, sub.CourseKey, sub.LessonKey); err != nil {
		wait := s.postpone(sub)
		slog.Warn("remote completion submit failed, retrying",
			"learner_id", sub.LearnerID,
			"course", sub.CourseKey,
			"lesson", sub.LessonKey,
			"retry_in", wait,
			"error", err,
		)
		return err
	}
	s.pop(sub)
	slog.Debug("completion synced", "learner_id", sub.LearnerID, "course", sub.CourseKey, "lesson", sub.LessonKey)
	return nil
}

// due returns the queued submissions ready to send, in queue order, and how
// long until the next postponed one is ready. ok is false when the queue is
// empty.
func (s *Syncer) due(now time.Time) (due []Submission, wait time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, 0, false
	}
	wait = s.cfg.MaxInterval
	for _, sub := range s.pending {
		st, failing := s.retry[sub]
		if !failing || !now.Before(st.next) {
			due = append(due, sub)
			continue
		}
		wait = min(wait, st.next.Sub(now))
	}
	return due, wait, true
}

// postpone schedules the next try of a failed submission and moves it to the
// tail of the queue.
func (s *Syncer) postpone(sub Submission) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.retry[sub]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.cfg.InitialInterval
		b.MaxInterval = s.cfg.MaxInterval
		b.MaxElapsedTime = 0
		b.Reset()
		st = &retryState{backoff: b}
		s.retry[sub] = st
	}
	wait := st.backoff.NextBackOff()
	st.next = time.Now().Add(wait)
	if i := slices.Index(s.pending, sub); i >= 0 {
		s.pending = append(slices.Delete(s.pending, i, i+1), sub)
	}
	return wait
}

func (s *Syncer) queued(sub Submission) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.pending, sub)
}

// pop removes sub if it is still queued. A concurrent drop may already have
// removed it.
func (s *Syncer) pop(sub Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.pending, sub); i >= 0 {
		s.pending = slices.Delete(s.pending, i, i+1)
	}
	delete(s.retry, sub)
}

func (s *Syncer) drop(match func(Submission) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = slices.DeleteFunc(s.pending, match)
	maps.DeleteFunc(s.retry, func(sub Submission, _ *retryState) bool { return match(sub) })
}

// Load hydrates a learner's course from the local tier, merges the remote
// completion set into it and queues local-only completions for upload. It
// returns the merged set. When the remote is unreachable the error wraps
// ErrPersistenceUnavailable and the local state is returned untouched.
func (s *Syncer) Load(ctx context.Context, learnerID, courseKey string) ([]string, error) {
	l := s.store.Learner(learnerID)
	if err := l.Load(ctx, courseKey); err != nil {
		slog.Warn("local progress unavailable, continuing with snapshot", "learner_id", learnerID, "course", courseKey, "error", err)
	}

	remote, err := s.remote.FetchCompletions(ctx, learnerID, courseKey)
	if err != nil {
		slog.Warn("remote progress unavailable",
			"learner_id", learnerID,
			"course", courseKey,
			"error", err,
		)
		return l.Completed(courseKey), fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}

	local := l.Completed(courseKey)
	l.Merge(ctx, courseKey, remote)

	for _, key := range local {
		if !slices.Contains(remote, key) {
			s.Enqueue(Submission{LearnerID: learnerID, CourseKey: courseKey, LessonKey: key})
		}
	}
	return Union(local, remote), nil
}

// LoadAll loads several courses concurrently and returns the keys that loaded
// cleanly, in input order. Every course is attempted; the errors of failed
// loads are joined.
func (s *Syncer) LoadAll(ctx context.Context, learnerID string, courseKeys []string) ([]string, error) {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	ok := make([]bool, len(courseKeys))
	g.SetLimit(s.cfg.MaxConcurrentLoads)
	for i, key := range courseKeys {
		g.Go(func() error {
			if _, err := s.Load(ctx, learnerID, key); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("course %s: %w", key, err))
				mu.Unlock()
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var loaded []string
	for i, key := range courseKeys {
		if ok[i] {
			loaded = append(loaded, key)
		}
	}
	return loaded, errors.Join(errs...)
}

// Reset discards queued submissions for a learner's course and clears the
// remote copy when the remote supports it. A submission already in flight
// finishes first, so it cannot land remotely after the reset.
func (s *Syncer) Reset(ctx context.Context, learnerID, courseKey string) error {
	s.send.Lock()
	defer s.send.Unlock()

	s.drop(func(sub Submission) bool {
		return sub.LearnerID == learnerID && sub.CourseKey == courseKey
	})
	r, ok := s.remote.(Resetter)
	if !ok {
		return nil
	}
	if err := r.ResetCompletions(ctx, learnerID, courseKey); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}
	return nil
}

// Union returns the sorted set union of two completion sets.
func Union(local, remote []string) []string {
	out := make([]string, 0, len(local)+len(remote))
	out = append(out, local...)
	out = append(out, remote...)
	slices.Sort(out)
	return slices.Compact(out)
}
