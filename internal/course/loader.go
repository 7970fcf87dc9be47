package course

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Loader loads and caches course documents from the filesystem.
type Loader struct {
	rootDir  string
	defaults Defaults
	courses  map[string]Course
	mu       sync.RWMutex
}

// NewLoader creates a course loader and loads every *.course.yaml under rootDir.
// An empty rootDir yields an empty catalog.
func NewLoader(rootDir string, defaults Defaults) (*Loader, error) {
	l := &Loader{
		rootDir:  rootDir,
		defaults: defaults,
		courses:  make(map[string]Course),
	}

	if rootDir != "" {
		if err := l.loadAll(); err != nil {
			return nil, fmt.Errorf("loading courses: %w", err)
		}
	}

	slog.Info("courses loaded", "dir", rootDir, "courses", len(l.courses))
	return l, nil
}

// Get returns a course by slug or ID.
func (l *Loader) Get(key string) (Course, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.courses[key]; ok {
		return c, true
	}
	if c, ok := l.courses[Slugify(key)]; ok {
		return c, true
	}
	for _, c := range l.courses {
		if c.ID == key {
			return c, true
		}
	}
	return Course{}, false
}

// All returns every loaded course ordered by slug.
func (l *Loader) All() []Course {
	l.mu.RLock()
	defer l.mu.RUnlock()
	courses := make([]Course, 0, len(l.courses))
	for _, c := range l.courses {
		courses = append(courses, c)
	}
	slices.SortFunc(courses, func(a, b Course) int { return strings.Compare(a.Slug, b.Slug) })
	return courses
}

// Add registers a course after validating it, replacing any course with the
// same slug.
func (l *Loader) Add(c Course) error {
	c.Sort()
	if err := c.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.courses[c.Slug] = c
	l.mu.Unlock()
	return nil
}

func (l *Loader) loadAll() error {
	return filepath.WalkDir(l.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isCourseFile(path) {
			return nil
		}
		return l.loadCourse(path)
	})
}

func isCourseFile(path string) bool {
	return strings.HasSuffix(path, ".course.yaml") || strings.HasSuffix(path, ".course.yml")
}

func (l *Loader) loadCourse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c, err := Parse(data, l.defaults)
	if err != nil {
		slog.Warn("skipping invalid course", "path", path, "error", err)
		return nil
	}

	l.mu.Lock()
	if prev, dup := l.courses[c.Slug]; dup {
		slog.Warn("duplicate course slug, later file wins", "slug", c.Slug, "previous_id", prev.ID, "path", path)
	}
	l.courses[c.Slug] = c
	l.mu.Unlock()
	return nil
}
