package remote

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
)

// ErrUnavailable is returned by MemoryProgress while it is marked down.
var ErrUnavailable = errors.New("remote unavailable")

// MemoryProgress is an in-memory progress remote for development and tests.
// Failures can be injected with SetDown and FailNext.
type MemoryProgress struct {
	mu       sync.Mutex
	records  map[string]map[string]bool
	down     bool
	failNext int
	submits  int
}

// NewMemoryProgress creates an empty in-memory remote.
func NewMemoryProgress() *MemoryProgress {
	return &MemoryProgress{records: make(map[string]map[string]bool)}
}

func scopeKey(learnerID, courseKey string) string {
	return learnerID + ":" + courseKey
}

// SetDown makes every call fail until it is cleared.
func (m *MemoryProgress) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// FailNext makes the next n calls fail.
func (m *MemoryProgress) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// Submits returns how many submissions were acknowledged.
func (m *MemoryProgress) Submits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submits
}

// Seed stores completions directly, as if written from another device.
func (m *MemoryProgress) Seed(learnerID, courseKey string, lessonKeys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(learnerID, courseKey, lessonKeys...)
}

func (m *MemoryProgress) failLocked() error {
	if m.down {
		return ErrUnavailable
	}
	if m.failNext > 0 {
		m.failNext--
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryProgress) addLocked(learnerID, courseKey string, lessonKeys ...string) {
	key := scopeKey(learnerID, courseKey)
	if m.records[key] == nil {
		m.records[key] = make(map[string]bool)
	}
	for _, l := range lessonKeys {
		m.records[key][l] = true
	}
}

func (m *MemoryProgress) FetchCompletions(_ context.Context, learnerID, courseKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(m.records[scopeKey(learnerID, courseKey)])), nil
}

func (m *MemoryProgress) SubmitCompletion(_ context.Context, learnerID, courseKey, lessonKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	m.addLocked(learnerID, courseKey, lessonKey)
	m.submits++
	return nil
}

func (m *MemoryProgress) ResetCompletions(_ context.Context, learnerID, courseKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	delete(m.records, scopeKey(learnerID, courseKey))
	return nil
}
