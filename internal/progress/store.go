// Package progress records lesson completions per learner and course.
//
// The Store keeps an in-process snapshot that is always readable and layers it
// over a durable local Cache tier. Remote persistence belongs to the syncer.
package progress

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/p-n-ai/pai-learn/internal/events"
)

const cacheTimeout = 3 * time.Second

// Cache is the durable local tier. Add is set-if-absent and reports whether a
// new record was written.
type Cache interface {
	Completions(ctx context.Context, learnerID, courseKey string) (map[string]time.Time, error)
	Add(ctx context.Context, learnerID, courseKey, lessonKey string, at time.Time) (bool, error)
	Remove(ctx context.Context, learnerID, courseKey, lessonKey string) error
	Clear(ctx context.Context, learnerID, courseKey string) error
}

// StoreConfig holds dependencies for the progress store.
type StoreConfig struct {
	Cache  Cache
	Events events.Publisher
	Now    func() time.Time
}

// Store holds completion snapshots for every learner it has seen.
type Store struct {
	cache  Cache
	events events.Publisher
	now    func() time.Time

	mu     sync.RWMutex
	scopes map[scope]map[string]time.Time
}

type scope struct {
	learnerID string
	courseKey string
}

// NewStore creates a progress store. A nil Cache keeps completions in memory.
func NewStore(cfg StoreConfig) *Store {
	c := cfg.Cache
	if c == nil {
		c = NewMemoryCache()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		cache:  c,
		events: cfg.Events,
		now:    now,
		scopes: make(map[scope]map[string]time.Time),
	}
}

// Learner returns the progress view for one learner.
func (s *Store) Learner(id string) *Learner {
	return &Learner{store: s, id: id}
}

// Learner is a single learner's view of the store. All methods are safe for
// concurrent use and none of them fail: local tier errors are logged and the
// snapshot stays authoritative.
type Learner struct {
	store *Store
	id    string
}

// ID returns the learner ID.
func (l *Learner) ID() string { return l.id }

// Load hydrates the snapshot for a course from the local tier. Records already
// in the snapshot are kept, so an optimistic write that failed to persist is
// never lost. On a read error the best-known snapshot is kept and the error
// returned.
func (l *Learner) Load(ctx context.Context, courseKey string) error {
	s := l.store
	stored, err := s.cache.Completions(ctx, l.id, courseKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.scopeLocked(l.id, courseKey)
	if err != nil {
		slog.Warn("progress cache read failed, using snapshot",
			"learner_id", l.id,
			"course", courseKey,
			"error", err,
		)
		return err
	}
	for key, at := range stored {
		if _, ok := snap[key]; !ok {
			snap[key] = at
		}
	}
	return nil
}

// IsLessonCompleted reports whether the lesson is completed. Unknown keys and
// scopes that were never loaded or written read as false.
func (l *Learner) IsLessonCompleted(courseKey, lessonKey string) bool {
	_, ok := l.CompletedAt(courseKey, lessonKey)
	return ok
}

// CompletedAt returns the original completion time of a lesson.
func (l *Learner) CompletedAt(courseKey, lessonKey string) (time.Time, bool) {
	s := l.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.scopes[scope{l.id, courseKey}][lessonKey]
	return at, ok
}

// Completed returns the completed lesson keys of a course in sorted order.
func (l *Learner) Completed(courseKey string) []string {
	s := l.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.scopes[scope{l.id, courseKey}]))
}

// CompletedCount returns the number of completed lessons in a course.
func (l *Learner) CompletedCount(courseKey string) int {
	s := l.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scopes[scope{l.id, courseKey}])
}

// CompletionPercentage returns completed/total as a whole percentage rounded
// half up and clamped to 0..100. A non-positive total yields 0.
func (l *Learner) CompletionPercentage(courseKey string, totalLessons int) int {
	return Percentage(l.CompletedCount(courseKey), totalLessons)
}

// Percentage computes done/total rounded half up and clamped to 0..100.
func Percentage(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return (done*200 + total) / (2 * total)
}

// MarkLessonCompleted records a completion. Completing an already completed
// lesson is a silent no-op that keeps the original timestamp.
func (l *Learner) MarkLessonCompleted(courseKey, lessonKey string) {
	s := l.store
	at := s.now().UTC()

	s.mu.Lock()
	snap := s.scopeLocked(l.id, courseKey)
	if _, done := snap[lessonKey]; done {
		s.mu.Unlock()
		return
	}
	snap[lessonKey] = at
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if _, err := s.cache.Add(ctx, l.id, courseKey, lessonKey, at); err != nil {
		slog.Warn("progress cache write failed",
			"learner_id", l.id,
			"course", courseKey,
			"lesson", lessonKey,
			"error", err,
		)
	}

	slog.Info("lesson completed", "learner_id", l.id, "course", courseKey, "lesson", lessonKey)
	l.publish(events.Event{
		Kind:      events.LessonCompleted,
		LessonKey: lessonKey,
		CourseKey: courseKey,
		At:        at,
	})
}

// MarkLessonUncompleted removes a completion. It is a no-op when the lesson is
// not completed.
func (l *Learner) MarkLessonUncompleted(courseKey, lessonKey string) {
	s := l.store

	s.mu.Lock()
	snap := s.scopes[scope{l.id, courseKey}]
	if _, done := snap[lessonKey]; !done {
		s.mu.Unlock()
		return
	}
	delete(snap, lessonKey)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := s.cache.Remove(ctx, l.id, courseKey, lessonKey); err != nil {
		slog.Warn("progress cache remove failed",
			"learner_id", l.id,
			"course", courseKey,
			"lesson", lessonKey,
			"error", err,
		)
	}

	l.publish(events.Event{
		Kind:      events.LessonUncompleted,
		CourseKey: courseKey,
		LessonKey: lessonKey,
	})
}

// ResetProgress clears every completion of a course.
func (l *Learner) ResetProgress(courseKey string) {
	s := l.store

	s.mu.Lock()
	removed := len(s.scopes[scope{l.id, courseKey}])
	s.scopes[scope{l.id, courseKey}] = make(map[string]time.Time)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := s.cache.Clear(ctx, l.id, courseKey); err != nil {
		slog.Warn("progress cache clear failed", "learner_id", l.id, "course", courseKey, "error", err)
	}

	slog.Info("progress reset", "learner_id", l.id, "course", courseKey, "removed", removed)
	l.publish(events.Event{
		Kind:      events.ProgressUpdated,
		CourseKey: courseKey,
		Data:      map[string]any{"reason": "reset", "removed": removed},
	})
}

// Merge adds completions learned from elsewhere, typically the remote store.
// Nothing is ever removed. Per-lesson events are not emitted; a single
// progress_updated event is published when the set grew. Merge returns the
// lesson keys that were new.
func (l *Learner) Merge(ctx context.Context, courseKey string, lessonKeys []string) []string {
	s := l.store
	at := s.now().UTC()

	s.mu.Lock()
	snap := s.scopeLocked(l.id, courseKey)
	var added []string
	for _, key := range lessonKeys {
		if _, ok := snap[key]; ok {
			continue
		}
		snap[key] = at
		added = append(added, key)
	}
	s.mu.Unlock()

	if len(added) == 0 {
		return nil
	}

	for _, key := range added {
		if _, err := s.cache.Add(ctx, l.id, courseKey, key, at); err != nil {
			slog.Warn("progress cache write failed during merge",
				"learner_id", l.id,
				"course", courseKey,
				"lesson", key,
				"error", err,
			)
			break
		}
	}

	l.publish(events.Event{
		Kind:      events.ProgressUpdated,
		CourseKey: courseKey,
		Data:      map[string]any{"reason": "merge", "added": added},
	})
	return added
}

func (l *Learner) publish(ev events.Event) {
	if l.store.events == nil {
		return
	}
	ev.LearnerID = l.id
	l.store.events.Publish(ev)
}

func (s *Store) scopeLocked(learnerID, courseKey string) map[string]time.Time {
	key := scope{learnerID, courseKey}
	snap, ok := s.scopes[key]
	if !ok {
		snap = make(map[string]time.Time)
		s.scopes[key] = snap
	}
	return snap
}
