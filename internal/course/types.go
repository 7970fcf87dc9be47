// Package course holds the canonical course hierarchy and the adapter that
// produces it from content documents.
package course

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/p-n-ai/pai-learn/internal/quiz"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidContent = errors.New("invalid course content")
)

// Lesson is a unit of content within a module.
type Lesson struct {
	ID          string        `json:"id"`
	Slug        string        `json:"slug"`
	Title       string        `json:"title"`
	Order       int           `json:"order"`
	Duration    time.Duration `json:"duration"`
	FreePreview bool          `json:"free_preview"`
}

// Key identifies the lesson in progress records.
func (l Lesson) Key() string { return l.Slug }

// Module is an ordered group of lessons.
type Module struct {
	ID           string     `json:"id"`
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Order        int        `json:"order"`
	RequiresQuiz bool       `json:"requires_quiz"`
	Lessons      []Lesson   `json:"lessons"`
	Quiz         *quiz.Quiz `json:"quiz,omitempty"`
}

// Author is the normalized author of a course.
type Author struct {
	Name   string `json:"name"`
	Handle string `json:"handle,omitempty"`
}

// Course is the top-level container.
type Course struct {
	ID        string     `json:"id"`
	Slug      string     `json:"slug"`
	Title     string     `json:"title"`
	Premium   bool       `json:"premium"`
	Author    Author     `json:"author"`
	Modules   []Module   `json:"modules"`
	FinalQuiz *quiz.Quiz `json:"final_quiz,omitempty"`
}

// Key identifies the course in progress records.
func (c Course) Key() string { return c.Slug }

// Sort orders modules and lessons by their ordering index.
func (c *Course) Sort() {
	slices.SortStableFunc(c.Modules, func(a, b Module) int { return a.Order - b.Order })
	for i := range c.Modules {
		slices.SortStableFunc(c.Modules[i].Lessons, func(a, b Lesson) int { return a.Order - b.Order })
	}
}

// OrderedLessons returns every lesson in course order: by module order, then by
// lesson order within the module.
func (c Course) OrderedLessons() []Lesson {
	modules := slices.Clone(c.Modules)
	slices.SortStableFunc(modules, func(a, b Module) int { return a.Order - b.Order })

	var out []Lesson
	for _, m := range modules {
		lessons := slices.Clone(m.Lessons)
		slices.SortStableFunc(lessons, func(a, b Lesson) int { return a.Order - b.Order })
		out = append(out, lessons...)
	}
	return out
}

// TotalLessons counts lessons across all modules.
func (c Course) TotalLessons() int {
	n := 0
	for _, m := range c.Modules {
		n += len(m.Lessons)
	}
	return n
}

// Lesson finds a lesson by slug or ID.
func (c Course) Lesson(key string) (Lesson, Module, bool) {
	for _, m := range c.Modules {
		for _, l := range m.Lessons {
			if l.Slug == key || l.ID == key {
				return l, m, true
			}
		}
	}
	return Lesson{}, Module{}, false
}

// Module finds a module by slug or ID.
func (c Course) Module(key string) (Module, bool) {
	for _, m := range c.Modules {
		if m.Slug == key || m.ID == key {
			return m, true
		}
	}
	return Module{}, false
}

// Quizzes returns every quiz in the course, module quizzes first.
func (c Course) Quizzes() []quiz.Quiz {
	var out []quiz.Quiz
	for _, m := range c.Modules {
		if m.Quiz != nil {
			out = append(out, *m.Quiz)
		}
	}
	if c.FinalQuiz != nil {
		out = append(out, *c.FinalQuiz)
	}
	return out
}

// Validate checks identity and ordering invariants. Ordering ties are rejected
// because they leave the lesson sequence undefined.
func (c Course) Validate() error {
	if c.ID == "" || c.Slug == "" {
		return fmt.Errorf("%w: course id and slug are required", ErrInvalidContent)
	}

	moduleOrders := map[int]string{}
	moduleSlugs := map[string]bool{}
	lessonSlugs := map[string]bool{}
	for _, m := range c.Modules {
		if m.ID == "" || m.Slug == "" {
			return fmt.Errorf("%w: course %s: module id and slug are required", ErrInvalidContent, c.Slug)
		}
		if other, ok := moduleOrders[m.Order]; ok {
			return fmt.Errorf("%w: course %s: modules %s and %s share order %d", ErrInvalidContent, c.Slug, other, m.Slug, m.Order)
		}
		moduleOrders[m.Order] = m.Slug
		if moduleSlugs[m.Slug] {
			return fmt.Errorf("%w: course %s: duplicate module slug %s", ErrInvalidContent, c.Slug, m.Slug)
		}
		moduleSlugs[m.Slug] = true

		lessonOrders := map[int]string{}
		for _, l := range m.Lessons {
			if l.ID == "" || l.Slug == "" {
				return fmt.Errorf("%w: module %s: lesson id and slug are required", ErrInvalidContent, m.Slug)
			}
			if other, ok := lessonOrders[l.Order]; ok {
				return fmt.Errorf("%w: module %s: lessons %s and %s share order %d", ErrInvalidContent, m.Slug, other, l.Slug, l.Order)
			}
			lessonOrders[l.Order] = l.Slug
			if lessonSlugs[l.Slug] {
				return fmt.Errorf("%w: course %s: duplicate lesson slug %s", ErrInvalidContent, c.Slug, l.Slug)
			}
			lessonSlugs[l.Slug] = true
		}

		if m.RequiresQuiz && m.Quiz == nil {
			return fmt.Errorf("%w: module %s requires a quiz but defines none", ErrInvalidContent, m.Slug)
		}
	}

	for _, q := range c.Quizzes() {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidContent, err)
		}
	}
	return nil
}
