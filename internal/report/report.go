// Package report exports a learner's course progress as an Excel workbook.
package report

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-learn/internal/engine"
	"github.com/p-n-ai/pai-learn/internal/quiz"
)

const (
	ProgressSheet = "Progress"
	AttemptsSheet = "Attempts"
)

var (
	progressHeader = []any{"Module", "Status", "Lessons completed", "Lessons total", "Percent", "Quiz passed"}
	attemptsHeader = []any{"Quiz", "Attempt", "Score", "Passed", "Correct", "Total", "Time spent (s)", "Completed at"}
)

// Write renders the overview and attempts of one learner to w as XLSX.
func Write(w io.Writer, learnerID string, ov engine.Overview, attempts map[string][]quiz.Attempt) error {
	f, err := Build(learnerID, ov, attempts)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// Build assembles the workbook. The caller closes it.
func Build(learnerID string, ov engine.Overview, attempts map[string][]quiz.Attempt) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", ProgressSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming progress sheet: %w", err)
	}
	if _, err := f.NewSheet(AttemptsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("creating attempts sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	if err := writeProgress(f, bold, learnerID, ov); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeAttempts(f, bold, attempts); err != nil {
		f.Close()
		return nil, err
	}
	f.SetActiveSheet(0)
	return f, nil
}

func writeProgress(f *excelize.File, style int, learnerID string, ov engine.Overview) error {
	rows := [][]any{
		{"Learner", learnerID},
		{"Course", ov.Title},
		{"Status", string(ov.Status)},
		{"Completion", fmt.Sprintf("%d%%", ov.Percentage)},
		progressHeader,
	}
	headerRow := len(rows)
	for _, m := range ov.Modules {
		rows = append(rows, []any{
			m.Title, string(m.Status), m.CompletedLessons, m.TotalLessons, m.Percentage, quizCell(m.RequiresQuiz, m.QuizPassed),
		})
	}
	if ov.FinalQuiz != nil {
		rows = append(rows, []any{"Final quiz", finalStatus(ov.FinalQuiz), "", "", ov.FinalQuiz.BestScore, quizCell(true, ov.FinalQuiz.Passed)})
	}

	if err := setRows(f, ProgressSheet, rows); err != nil {
		return err
	}
	return styleRow(f, ProgressSheet, style, headerRow, len(progressHeader))
}

func writeAttempts(f *excelize.File, style int, attempts map[string][]quiz.Attempt) error {
	rows := [][]any{attemptsHeader}
	quizIDs := make([]string, 0, len(attempts))
	for id := range attempts {
		quizIDs = append(quizIDs, id)
	}
	slices.Sort(quizIDs)

	for _, id := range quizIDs {
		for _, a := range attempts[id] {
			rows = append(rows, []any{
				a.QuizID, a.Number, a.Score, a.Passed, a.Correct, a.Total,
				int(a.TimeSpent / time.Second), a.CompletedAt.UTC().Format(time.RFC3339),
			})
		}
	}

	if err := setRows(f, AttemptsSheet, rows); err != nil {
		return err
	}
	return styleRow(f, AttemptsSheet, style, 1, len(attemptsHeader))
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func styleRow(f *excelize.File, sheet string, style, row, cols int) error {
	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, row)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, first, last, style)
}

func quizCell(required, passed bool) string {
	switch {
	case !required:
		return "n/a"
	case passed:
		return "yes"
	default:
		return "no"
	}
}

func finalStatus(q *engine.QuizState) string {
	switch {
	case q.Passed:
		return "passed"
	case q.Available:
		return "available"
	default:
		return "locked"
	}
}
