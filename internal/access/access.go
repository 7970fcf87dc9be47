// Package access decides whether a learner may open a lesson.
//
// Lessons unlock sequentially: the first lesson of the course is always open,
// every other lesson opens once its predecessor in course order is completed,
// and free-preview lessons are always open. Unknown lessons fail closed.
package access

import "github.com/p-n-ai/pai-learn/internal/course"

// Reason explains an accessibility decision.
type Reason string

const (
	ReasonFirst             Reason = "first"
	ReasonPreview           Reason = "preview"
	ReasonPreviousCompleted Reason = "previous_completed"
	ReasonLocked            Reason = "locked"
	ReasonNotFound          Reason = "not_found"
)

// Decision is the accessibility of one lesson.
type Decision struct {
	LessonKey  string `json:"lesson_key"`
	Accessible bool   `json:"accessible"`
	Reason     Reason `json:"reason"`
}

// Completed reports whether a lesson key is completed.
type Completed func(lessonKey string) bool

// IsAccessible reports whether lessonKey may be opened. lessons must be in
// course order, as returned by course.Course.OrderedLessons.
func IsAccessible(lessons []course.Lesson, completed Completed, lessonKey string) bool {
	return Decide(lessons, completed, lessonKey).Accessible
}

// Decide returns the decision for a single lesson.
func Decide(lessons []course.Lesson, completed Completed, lessonKey string) Decision {
	for i, l := range lessons {
		if l.Key() == lessonKey {
			return decide(lessons, completed, i)
		}
	}
	return Decision{LessonKey: lessonKey, Reason: ReasonNotFound}
}

// Evaluate returns a decision for every lesson, in course order.
func Evaluate(lessons []course.Lesson, completed Completed) []Decision {
	out := make([]Decision, len(lessons))
	for i := range lessons {
		out[i] = decide(lessons, completed, i)
	}
	return out
}

// NextLesson returns the first lesson that is accessible but not completed.
func NextLesson(lessons []course.Lesson, completed Completed) (course.Lesson, bool) {
	for i, l := range lessons {
		if completed(l.Key()) {
			continue
		}
		if decide(lessons, completed, i).Accessible {
			return l, true
		}
	}
	return course.Lesson{}, false
}

func decide(lessons []course.Lesson, completed Completed, i int) Decision {
	l := lessons[i]
	d := Decision{LessonKey: l.Key(), Accessible: true}
	switch {
	case i == 0:
		d.Reason = ReasonFirst
	case completed(lessons[i-1].Key()):
		d.Reason = ReasonPreviousCompleted
	case l.FreePreview:
		d.Reason = ReasonPreview
	default:
		d.Accessible = false
		d.Reason = ReasonLocked
	}
	return d
}
