// Package gating derives per-module status from lesson completions and quiz
// outcomes. Statuses are computed on demand and never stored.
package gating

import (
	"slices"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

// Status is the display state of a module.
type Status string

const (
	Locked     Status = "locked"
	Unlocked   Status = "unlocked"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Premium    Status = "premium"
)

// Policy adjusts how modules after the first unlock.
type Policy struct {
	// FreeSequential lets free courses unlock later modules the way premium
	// courses do. When false, every module after the first of a free course
	// stays locked.
	FreeSequential bool
	// Paywalled marks a learner without premium entitlement. Later modules of a
	// premium course then resolve to Premium.
	Paywalled bool
}

// Input is the materialized learner state the resolver reads.
type Input struct {
	Completed  func(lessonKey string) bool
	QuizPassed func(moduleID string) bool
	Policy     Policy
}

// ModuleState is the resolved state of one module.
type ModuleState struct {
	ModuleID         string `json:"module_id"`
	Slug             string `json:"slug"`
	Title            string `json:"title"`
	Status           Status `json:"status"`
	CompletedLessons int    `json:"completed_lessons"`
	TotalLessons     int    `json:"total_lessons"`
	Percentage       int    `json:"percentage"`
	RequiresQuiz     bool   `json:"requires_quiz"`
	QuizPassed       bool   `json:"quiz_passed"`
}

// Resolve returns one state per module in module order. Each module after the
// first depends on the resolved status of the module before it.
func Resolve(c course.Course, in Input) []ModuleState {
	modules := slices.Clone(c.Modules)
	slices.SortStableFunc(modules, func(a, b course.Module) int { return a.Order - b.Order })
	completed := in.Completed
	if completed == nil {
		completed = func(string) bool { return false }
	}
	quizPassed := in.QuizPassed
	if quizPassed == nil {
		quizPassed = func(string) bool { return false }
	}

	states := make([]ModuleState, len(modules))
	for i, m := range modules {
		st := ModuleState{
			ModuleID:     m.ID,
			Slug:         m.Slug,
			Title:        m.Title,
			TotalLessons: len(m.Lessons),
			RequiresQuiz: m.RequiresQuiz,
		}
		for _, l := range m.Lessons {
			if completed(l.Key()) {
				st.CompletedLessons++
			}
		}
		st.Percentage = progress.Percentage(st.CompletedLessons, st.TotalLessons)
		if m.Quiz != nil {
			st.QuizPassed = quizPassed(m.ID)
		}

		switch {
		case i == 0:
			st.Status = ownStatus(st)
		case c.Premium && in.Policy.Paywalled:
			st.Status = Premium
		case !c.Premium && !in.Policy.FreeSequential:
			st.Status = Locked
		case states[i-1].Status != Completed:
			st.Status = Locked
		default:
			st.Status = ownStatus(st)
		}
		states[i] = st
	}
	return states
}

// ownStatus applies the completed/in_progress/unlocked rule to a reachable
// module.
func ownStatus(st ModuleState) Status {
	if st.TotalLessons == 0 {
		return Unlocked
	}
	allDone := st.CompletedLessons == st.TotalLessons
	switch {
	case allDone && (!st.RequiresQuiz || st.QuizPassed):
		return Completed
	case st.CompletedLessons > 0:
		return InProgress
	default:
		return Unlocked
	}
}

// CourseStatus summarizes module states: Completed when every module is
// completed, InProgress when any module has progress, Unlocked otherwise.
func CourseStatus(states []ModuleState) Status {
	if len(states) == 0 {
		return Unlocked
	}
	all := true
	started := false
	for _, st := range states {
		if st.Status != Completed {
			all = false
		}
		if st.Status == Completed || st.Status == InProgress {
			started = true
		}
	}
	switch {
	case all:
		return Completed
	case started:
		return InProgress
	default:
		return Unlocked
	}
}
