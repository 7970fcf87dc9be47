package quiz

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"golang.org/x/crypto/blake2b"
)

// PresentedOption is an option as shown to the learner. Index is always the
// canonical index and is what gets submitted for grading.
type PresentedOption struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// PresentedQuestion is a question in display order.
type PresentedQuestion struct {
	QuestionID string            `json:"question_id"`
	Prompt     string            `json:"prompt"`
	Type       QuestionType      `json:"type"`
	Points     int               `json:"points"`
	Options    []PresentedOption `json:"options"`
}

// Presentation is the learner-facing view of a quiz. Correct answers are not included.
type Presentation struct {
	QuizID    string              `json:"quiz_id"`
	Questions []PresentedQuestion `json:"questions"`
}

// Present lays out a quiz for display, shuffling questions and options when the quiz
// asks for it. The same seed always yields the same layout.
func Present(q Quiz, seed string) Presentation {
	rng := rand.New(newSource(q.ID, seed))

	p := Presentation{QuizID: q.ID, Questions: make([]PresentedQuestion, 0, len(q.Questions))}
	for _, question := range q.Questions {
		pq := PresentedQuestion{
			QuestionID: question.ID,
			Prompt:     question.Prompt,
			Type:       question.Type,
			Points:     question.Points,
			Options:    make([]PresentedOption, len(question.Options)),
		}
		for i, text := range question.Options {
			pq.Options[i] = PresentedOption{Text: text, Index: i}
		}
		if q.ShuffleOptions && question.Type != Boolean {
			rng.Shuffle(len(pq.Options), func(i, j int) {
				pq.Options[i], pq.Options[j] = pq.Options[j], pq.Options[i]
			})
		}
		p.Questions = append(p.Questions, pq)
	}
	if q.ShuffleQuestions {
		rng.Shuffle(len(p.Questions), func(i, j int) {
			p.Questions[i], p.Questions[j] = p.Questions[j], p.Questions[i]
		})
	}
	return p
}

// Canonicalize maps answers given as display positions back to canonical option
// indices. UIs that submit PresentedOption.Index directly do not need it.
func (p Presentation) Canonicalize(display map[string][]int) (map[string][]int, error) {
	byID := make(map[string]PresentedQuestion, len(p.Questions))
	for _, q := range p.Questions {
		byID[q.QuestionID] = q
	}

	out := make(map[string][]int, len(display))
	for qid, positions := range display {
		q, ok := byID[qid]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, qid)
		}
		canonical := make([]int, 0, len(positions))
		for _, pos := range positions {
			if pos < 0 || pos >= len(q.Options) {
				return nil, fmt.Errorf("question %s: display position %d out of range", qid, pos)
			}
			canonical = append(canonical, q.Options[pos].Index)
		}
		out[qid] = canonical
	}
	return out, nil
}

func newSource(quizID, seed string) *rand.PCG {
	sum := blake2b.Sum256([]byte(quizID + "\x00" + seed))
	return rand.NewPCG(binary.LittleEndian.Uint64(sum[:8]), binary.LittleEndian.Uint64(sum[8:16]))
}
