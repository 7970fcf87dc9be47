package course_test

import (
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/quiz"
)

const modernDoc = `
id: go-basics
title: "Go Basics"
premium: true
instructor:
  name: Ada Lovelace
  handle: ada
modules:
  - id: m2
    slug: Concurrency
    order: 2
    requires_quiz: true
    lessons:
      - id: goroutines
        order: 1
        duration: 12m
    quiz:
      passing_score: 80
      questions:
        - id: q1
          prompt: "Which keyword starts a goroutine?"
          options: ["go", "async", "spawn"]
          correct: [0]
        - id: q2
          type: multi
          options: ["chan", "map", "select"]
          correct: [0, 2]
          points: 3
  - id: m1
    slug: Basics
    order: 1
    lessons:
      - id: hello
        order: 2
        free_preview: true
      - id: setup
        order: 1
final_quiz:
  questions:
    - id: f1
      type: boolean
      options: ["true", "false"]
      correct: [1]
`

const legacyDoc = `
id: Café Säo
title: "Café Säo"
tier: premium
owner:
  full_name: Grace Hopper
  username: grace
max_attempts: 2
modules:
  - id: intro
    position: 1
    lessons:
      - id: welcome
        position: 1
        is_preview: true
        duration_minutes: 5
      - id: first-steps
        position: 2
    quiz:
      questions:
        - id: q1
          question: "Pick one"
          options: ["a", "b"]
          answer: 1
`

func TestParse_ModernDocument(t *testing.T) {
	c, err := course.Parse([]byte(modernDoc), course.Defaults{PassingScore: 70})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if c.Slug != "go-basics" || !c.Premium {
		t.Errorf("Slug/Premium = %q/%v, want go-basics/true", c.Slug, c.Premium)
	}
	if c.Author.Name != "Ada Lovelace" || c.Author.Handle != "ada" {
		t.Errorf("Author = %+v", c.Author)
	}
	if c.Modules[0].Slug != "basics" || c.Modules[1].Slug != "concurrency" {
		t.Errorf("modules not sorted: %s, %s", c.Modules[0].Slug, c.Modules[1].Slug)
	}

	var keys []string
	for _, l := range c.OrderedLessons() {
		keys = append(keys, l.Key())
	}
	want := []string{"setup", "hello", "goroutines"}
	if len(keys) != len(want) {
		t.Fatalf("OrderedLessons() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("OrderedLessons()[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	l, m, ok := c.Lesson("goroutines")
	if !ok || m.ID != "m2" || l.Duration != 12*time.Minute {
		t.Errorf("Lesson(goroutines) = %+v in %s, ok=%v", l, m.ID, ok)
	}

	mq := c.Modules[1].Quiz
	if mq == nil {
		t.Fatal("module quiz missing")
	}
	if mq.ID != "go-basics/concurrency/quiz" || mq.CourseKey != "go-basics" || mq.ModuleID != "m2" {
		t.Errorf("quiz identity = %s/%s/%s", mq.ID, mq.CourseKey, mq.ModuleID)
	}
	if mq.PassingScore != 80 {
		t.Errorf("PassingScore = %d, want 80", mq.PassingScore)
	}
	if mq.Questions[0].Points != 1 || mq.Questions[1].Points != 3 {
		t.Errorf("points = %d, %d; want 1, 3", mq.Questions[0].Points, mq.Questions[1].Points)
	}
	if mq.Questions[1].Type != quiz.Multi {
		t.Errorf("q2 type = %s, want multi", mq.Questions[1].Type)
	}

	if c.FinalQuiz == nil || c.FinalQuiz.ID != "go-basics/final" || c.FinalQuiz.PassingScore != 70 {
		t.Errorf("FinalQuiz = %+v", c.FinalQuiz)
	}
}

func TestParse_LegacyDocument(t *testing.T) {
	c, err := course.Parse([]byte(legacyDoc), course.Defaults{PassingScore: 70})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if c.Slug != "cafe-sao" {
		t.Errorf("Slug = %q, want cafe-sao", c.Slug)
	}
	if !c.Premium {
		t.Error("tier: premium should mark the course premium")
	}
	if c.Author.Name != "Grace Hopper" || c.Author.Handle != "grace" {
		t.Errorf("Author = %+v", c.Author)
	}

	welcome := c.Modules[0].Lessons[0]
	if !welcome.FreePreview || welcome.Duration != 5*time.Minute || welcome.Order != 1 {
		t.Errorf("welcome = %+v", welcome)
	}

	q := c.Modules[0].Quiz
	if q.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want course default 2", q.MaxAttempts)
	}
	if q.Questions[0].Prompt != "Pick one" || len(q.Questions[0].Correct) != 1 || q.Questions[0].Correct[0] != 1 {
		t.Errorf("legacy question = %+v", q.Questions[0])
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"no modules", "id: x\n"},
		{"wrong type", "id: x\nmodules: nope\n"},
		{"question without options", "id: x\nmodules:\n  - lessons: []\n    quiz:\n      questions:\n        - id: q\n"},
		{"lesson order tie", "id: x\nmodules:\n  - id: m\n    lessons:\n      - {id: a, order: 1}\n      - {id: b, order: 1}\n"},
		{"duplicate lesson slug", "id: x\nmodules:\n  - id: m1\n    lessons: [{id: a}]\n  - id: m2\n    lessons: [{id: a}]\n"},
		{"requires quiz without quiz", "id: x\nmodules:\n  - id: m\n    requires_quiz: true\n    lessons: [{id: a}]\n"},
		{"bad duration", "id: x\nmodules:\n  - id: m\n    lessons: [{id: a, duration: soon}]\n"},
		{"correct out of range", "id: x\nmodules:\n  - id: m\n    lessons: []\n    quiz:\n      questions:\n        - {id: q, options: [a], correct: [3]}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := course.Parse([]byte(tt.doc), course.Defaults{})
			if !errors.Is(err, course.ErrInvalidContent) {
				t.Errorf("Parse() error = %v, want ErrInvalidContent", err)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Go Basics", "go-basics"},
		{"  Crème Brûlée!! ", "creme-brulee"},
		{"already-slugged", "already-slugged"},
		{"Module_01: Intro", "module-01-intro"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := course.Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
