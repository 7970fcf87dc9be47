// Package events delivers progress notifications to registered observers.
package events

import (
	"sync"
	"time"
)

// Kind names a progress notification.
type Kind string

const (
	LessonCompleted     Kind = "lesson_completed"
	LessonUncompleted   Kind = "lesson_uncompleted"
	ProgressUpdated     Kind = "progress_updated"
	QuizAttemptRecorded Kind = "quiz_attempt_recorded"
)

// Event is a typed notification payload.
type Event struct {
	Kind      Kind           `json:"kind"`
	LearnerID string         `json:"learner_id"`
	CourseKey string         `json:"course_key"`
	LessonKey string         `json:"lesson_key,omitempty"`
	QuizID    string         `json:"quiz_id,omitempty"`
	AttemptID string         `json:"attempt_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher emits events.
type Publisher interface {
	Publish(Event)
}

// Bus is an explicit observer registry. Publish delivers to every observer
// synchronously, one event at a time, so observers see events in emission order.
// Observers must not call Publish on the same bus.
type Bus struct {
	emit      sync.Mutex
	mu        sync.RWMutex
	nextID    int
	observers map[int]func(Event)
	order     []int
}

// NewBus creates a bus with no observers.
func NewBus() *Bus {
	return &Bus{
		observers: make(map[int]func(Event)),
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.observers[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.observers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to all observers in subscription order.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.emit.Lock()
	defer b.emit.Unlock()

	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.observers[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of registered observers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}
