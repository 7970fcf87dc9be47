package gating_test

import (
	"testing"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/gating"
	"github.com/p-n-ai/pai-learn/internal/quiz"
)

func module(id string, order int, requiresQuiz bool, lessonKeys ...string) course.Module {
	m := course.Module{ID: id, Slug: id, Order: order, RequiresQuiz: requiresQuiz}
	for i, k := range lessonKeys {
		m.Lessons = append(m.Lessons, course.Lesson{ID: k, Slug: k, Order: i})
	}
	if requiresQuiz {
		m.Quiz = &quiz.Quiz{ID: id + "-quiz", ModuleID: id}
	}
	return m
}

func input(completed []string, passed []string, policy gating.Policy) gating.Input {
	done := map[string]bool{}
	for _, k := range completed {
		done[k] = true
	}
	ok := map[string]bool{}
	for _, k := range passed {
		ok[k] = true
	}
	return gating.Input{
		Completed:  func(k string) bool { return done[k] },
		QuizPassed: func(id string) bool { return ok[id] },
		Policy:     policy,
	}
}

func statuses(states []gating.ModuleState) []gating.Status {
	out := make([]gating.Status, len(states))
	for i, st := range states {
		out[i] = st.Status
	}
	return out
}

func TestResolve_FreeCourseLocksLaterModules(t *testing.T) {
	c := course.Course{
		ID: "c", Slug: "c",
		Modules: []course.Module{
			module("m1", 1, false, "a", "b"),
			module("m2", 2, false, "c"),
		},
	}

	states := gating.Resolve(c, input([]string{"a", "b", "c"}, nil, gating.Policy{}))
	if states[0].Status != gating.Completed {
		t.Errorf("m1 = %s, want completed", states[0].Status)
	}
	if states[1].Status != gating.Locked {
		t.Errorf("m2 = %s, want locked regardless of its own progress", states[1].Status)
	}
	if states[1].CompletedLessons != 1 || states[1].Percentage != 100 {
		t.Errorf("m2 progress = %d lessons, %d%%", states[1].CompletedLessons, states[1].Percentage)
	}
}

func TestResolve_FreeSequentialPolicy(t *testing.T) {
	c := course.Course{
		ID: "c", Slug: "c",
		Modules: []course.Module{
			module("m1", 1, false, "a"),
			module("m2", 2, false, "b"),
		},
	}

	got := statuses(gating.Resolve(c, input([]string{"a"}, nil, gating.Policy{FreeSequential: true})))
	if got[1] != gating.Unlocked {
		t.Errorf("m2 = %s, want unlocked under free sequential policy", got[1])
	}
}

func TestResolve_FirstModuleRules(t *testing.T) {
	tests := []struct {
		name      string
		quiz      bool
		completed []string
		passed    []string
		want      gating.Status
	}{
		{"nothing done", false, nil, nil, gating.Unlocked},
		{"some done", false, []string{"a"}, nil, gating.InProgress},
		{"all done no quiz", false, []string{"a", "b"}, nil, gating.Completed},
		{"all done quiz pending", true, []string{"a", "b"}, nil, gating.InProgress},
		{"all done quiz passed", true, []string{"a", "b"}, []string{"m1"}, gating.Completed},
		{"quiz passed lessons missing", true, []string{"a"}, []string{"m1"}, gating.InProgress},
		{"nothing done quiz required", true, nil, nil, gating.Unlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := course.Course{ID: "c", Slug: "c", Modules: []course.Module{module("m1", 1, tt.quiz, "a", "b")}}
			got := gating.Resolve(c, input(tt.completed, tt.passed, gating.Policy{}))
			if got[0].Status != tt.want {
				t.Errorf("status = %s, want %s", got[0].Status, tt.want)
			}
		})
	}
}

func TestResolve_PremiumChain(t *testing.T) {
	c := course.Course{
		ID: "c", Slug: "c", Premium: true,
		Modules: []course.Module{
			module("m3", 3, false, "e"),
			module("m1", 1, true, "a", "b"),
			module("m2", 2, false, "c", "d"),
		},
	}

	tests := []struct {
		name      string
		completed []string
		passed    []string
		want      []gating.Status
	}{
		{"fresh", nil, nil, []gating.Status{gating.Unlocked, gating.Locked, gating.Locked}},
		{"quiz gate holds", []string{"a", "b", "c"}, nil, []gating.Status{gating.InProgress, gating.Locked, gating.Locked}},
		{"quiz passed", []string{"a", "b"}, []string{"m1"}, []gating.Status{gating.Completed, gating.Unlocked, gating.Locked}},
		{"second in progress", []string{"a", "b", "c"}, []string{"m1"}, []gating.Status{gating.Completed, gating.InProgress, gating.Locked}},
		{"chain complete", []string{"a", "b", "c", "d", "e"}, []string{"m1"}, []gating.Status{gating.Completed, gating.Completed, gating.Completed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := gating.Resolve(c, input(tt.completed, tt.passed, gating.Policy{}))
			got := statuses(states)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("module %s = %s, want %s", states[i].ModuleID, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResolve_Paywalled(t *testing.T) {
	c := course.Course{
		ID: "c", Slug: "c", Premium: true,
		Modules: []course.Module{module("m1", 1, false, "a"), module("m2", 2, false, "b")},
	}
	got := statuses(gating.Resolve(c, input([]string{"a"}, nil, gating.Policy{Paywalled: true})))
	if got[0] != gating.Completed || got[1] != gating.Premium {
		t.Errorf("statuses = %v, want [completed premium]", got)
	}
}

func TestResolve_ZeroLessonModule(t *testing.T) {
	c := course.Course{
		ID: "c", Slug: "c", Premium: true,
		Modules: []course.Module{module("m1", 1, false), module("m2", 2, false, "a")},
	}
	states := gating.Resolve(c, input(nil, nil, gating.Policy{}))
	if states[0].Status != gating.Unlocked || states[0].Percentage != 0 {
		t.Errorf("empty module = %s at %d%%, want unlocked at 0%%", states[0].Status, states[0].Percentage)
	}
	if states[1].Status != gating.Locked {
		t.Errorf("module after empty module = %s, want locked", states[1].Status)
	}
}

func TestCourseStatus(t *testing.T) {
	mk := func(ss ...gating.Status) []gating.ModuleState {
		out := make([]gating.ModuleState, len(ss))
		for i, s := range ss {
			out[i].Status = s
		}
		return out
	}
	tests := []struct {
		states []gating.ModuleState
		want   gating.Status
	}{
		{nil, gating.Unlocked},
		{mk(gating.Unlocked, gating.Locked), gating.Unlocked},
		{mk(gating.InProgress, gating.Locked), gating.InProgress},
		{mk(gating.Completed, gating.Locked), gating.InProgress},
		{mk(gating.Completed, gating.Completed), gating.Completed},
	}
	for _, tt := range tests {
		if got := gating.CourseStatus(tt.states); got != tt.want {
			t.Errorf("CourseStatus(%v) = %s, want %s", statuses(tt.states), got, tt.want)
		}
	}
}
