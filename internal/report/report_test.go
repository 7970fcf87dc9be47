package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-learn/internal/engine"
	"github.com/p-n-ai/pai-learn/internal/gating"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/report"
)

func sampleOverview() engine.Overview {
	return engine.Overview{
		CourseKey:  "go",
		Title:      "Go",
		Status:     gating.InProgress,
		Percentage: 50,
		Modules: []engine.ModuleOverview{
			{ModuleState: gating.ModuleState{Title: "Basics", Status: gating.Completed, CompletedLessons: 2, TotalLessons: 2, Percentage: 100, RequiresQuiz: true, QuizPassed: true}},
			{ModuleState: gating.ModuleState{Title: "Concurrency", Status: gating.Unlocked, TotalLessons: 2}},
		},
		FinalQuiz: &engine.QuizState{QuizID: "go/final"},
	}
}

func TestWrite(t *testing.T) {
	done := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	attempts := map[string][]quiz.Attempt{
		"go/basics/quiz": {
			{QuizID: "go/basics/quiz", Number: 1, Score: 50, Correct: 1, Total: 2, TimeSpent: 90 * time.Second, CompletedAt: done},
			{QuizID: "go/basics/quiz", Number: 2, Score: 100, Passed: true, Correct: 2, Total: 2, TimeSpent: 30 * time.Second, CompletedAt: done},
		},
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, "u1", sampleOverview(), attempts); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != report.ProgressSheet || sheets[1] != report.AttemptsSheet {
		t.Fatalf("GetSheetList() = %v", sheets)
	}

	progress, err := f.GetRows(report.ProgressSheet)
	if err != nil {
		t.Fatalf("GetRows(Progress) error = %v", err)
	}
	if got := progress[0][1]; got != "u1" {
		t.Errorf("learner cell = %q, want u1", got)
	}
	basics := progress[5]
	if basics[0] != "Basics" || basics[1] != "completed" || basics[5] != "yes" {
		t.Errorf("Basics row = %v", basics)
	}
	if final := progress[7]; final[0] != "Final quiz" || final[1] != "locked" {
		t.Errorf("final quiz row = %v", final)
	}

	rows, err := f.GetRows(report.AttemptsSheet)
	if err != nil {
		t.Fatalf("GetRows(Attempts) error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("attempt rows = %d, want header + 2", len(rows))
	}
	if rows[2][1] != "2" || rows[2][2] != "100" || rows[2][6] != "30" {
		t.Errorf("second attempt row = %v", rows[2])
	}
	if rows[1][7] != "2026-03-01T10:00:00Z" {
		t.Errorf("completed at = %q", rows[1][7])
	}
}

func TestWrite_NoAttempts(t *testing.T) {
	var buf bytes.Buffer
	if err := report.Write(&buf, "u1", engine.Overview{Title: "Empty"}, nil); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(report.AttemptsSheet)
	if len(rows) != 1 {
		t.Errorf("attempt rows = %d, want header only", len(rows))
	}
}
