package quiz

import "slices"

// QuestionResult is the per-question outcome shown on review screens.
type QuestionResult struct {
	QuestionID string `json:"question_id"`
	Correct    bool   `json:"correct"`
	Answered   bool   `json:"answered"`
	Selected   []int  `json:"selected,omitempty"`
	Expected   []int  `json:"expected"`
	Points     int    `json:"points"`
}

// Result is the outcome of grading one submission.
type Result struct {
	Earned      int              `json:"earned"`
	TotalPoints int              `json:"total_points"`
	Percentage  int              `json:"percentage"`
	Passed      bool             `json:"passed"`
	Correct     int              `json:"correct"`
	Total       int              `json:"total"`
	PerQuestion []QuestionResult `json:"per_question"`
}

// Score grades answers against questions. Answers are keyed by question ID and hold
// canonical option indices. Unanswered questions are incorrect. A quiz without points
// scores 100 and always passes.
func Score(questions []Question, answers map[string][]int, passingScore int) Result {
	res := Result{
		Total:       len(questions),
		PerQuestion: make([]QuestionResult, 0, len(questions)),
	}

	for _, q := range questions {
		selected, answered := answers[q.ID]
		correct := answered && isCorrect(q, selected)

		res.TotalPoints += q.Points
		if correct {
			res.Earned += q.Points
			res.Correct++
		}
		res.PerQuestion = append(res.PerQuestion, QuestionResult{
			QuestionID: q.ID,
			Correct:    correct,
			Answered:   answered && len(selected) > 0,
			Selected:   slices.Clone(selected),
			Expected:   slices.Clone(q.Correct),
			Points:     q.Points,
		})
	}

	if res.TotalPoints == 0 {
		res.Percentage = 100
		res.Passed = true
		return res
	}

	res.Percentage = percent(res.Earned, res.TotalPoints)
	res.Passed = res.Percentage >= passingScore
	return res
}

// percent rounds earned/total*100 half-up without floating point error.
func percent(earned, total int) int {
	return (earned*200 + total) / (2 * total)
}

func isCorrect(q Question, selected []int) bool {
	switch q.Type {
	case Single, Boolean:
		return len(selected) == 1 && len(q.Correct) == 1 && selected[0] == q.Correct[0]
	case Multi:
		return sameSet(selected, q.Correct)
	default:
		return false
	}
}

func sameSet(a, b []int) bool {
	as := dedupe(a)
	bs := dedupe(b)
	return slices.Equal(as, bs)
}

func dedupe(v []int) []int {
	out := slices.Clone(v)
	slices.Sort(out)
	return slices.Compact(out)
}

// Best returns the highest-scoring attempt; ties go to the earliest attempt number.
func Best(attempts []Attempt) (Attempt, bool) {
	var best Attempt
	found := false
	for _, a := range attempts {
		if !found || a.Score > best.Score || (a.Score == best.Score && a.Number < best.Number) {
			best = a
			found = true
		}
	}
	return best, found
}
