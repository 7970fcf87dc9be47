package course

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-learn/internal/quiz"
)

// FinalQuizKey addresses the course-level quiz where a module slug is expected.
const FinalQuizKey = "final"

// Defaults fill quiz settings the content leaves unset.
type Defaults struct {
	PassingScore int
	MaxAttempts  int
}

// Raw content documents. Field pairs such as order/position or
// free_preview/is_preview are both accepted; the first of each pair wins.
type rawCourse struct {
	ID           string      `yaml:"id"`
	Slug         string      `yaml:"slug"`
	Title        string      `yaml:"title"`
	Premium      bool        `yaml:"premium"`
	Tier         string      `yaml:"tier"`
	Owner        *rawPerson  `yaml:"owner"`
	Instructor   *rawPerson  `yaml:"instructor"`
	PassingScore int         `yaml:"passing_score"`
	MaxAttempts  int         `yaml:"max_attempts"`
	Modules      []rawModule `yaml:"modules"`
	FinalQuiz    *rawQuiz    `yaml:"final_quiz"`
}

type rawPerson struct {
	Name     string `yaml:"name"`
	FullName string `yaml:"full_name"`
	Handle   string `yaml:"handle"`
	Username string `yaml:"username"`
}

type rawModule struct {
	ID           string      `yaml:"id"`
	Slug         string      `yaml:"slug"`
	Title        string      `yaml:"title"`
	Order        *int        `yaml:"order"`
	Position     *int        `yaml:"position"`
	RequiresQuiz bool        `yaml:"requires_quiz"`
	Lessons      []rawLesson `yaml:"lessons"`
	Quiz         *rawQuiz    `yaml:"quiz"`
}

type rawLesson struct {
	ID              string `yaml:"id"`
	Slug            string `yaml:"slug"`
	Title           string `yaml:"title"`
	Order           *int   `yaml:"order"`
	Position        *int   `yaml:"position"`
	Duration        string `yaml:"duration"`
	DurationMinutes int    `yaml:"duration_minutes"`
	FreePreview     bool   `yaml:"free_preview"`
	IsPreview       bool   `yaml:"is_preview"`
}

type rawQuiz struct {
	ID                 string        `yaml:"id"`
	PassingScore       int           `yaml:"passing_score"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RequireAllAnswered bool          `yaml:"require_all_answered"`
	ShuffleQuestions   bool          `yaml:"shuffle_questions"`
	ShuffleOptions     bool          `yaml:"shuffle_options"`
	Questions          []rawQuestion `yaml:"questions"`
}

type rawQuestion struct {
	ID          string   `yaml:"id"`
	Prompt      string   `yaml:"prompt"`
	Question    string   `yaml:"question"`
	Type        string   `yaml:"type"`
	Options     []string `yaml:"options"`
	Correct     []int    `yaml:"correct"`
	Answer      *int     `yaml:"answer"`
	Points      *int     `yaml:"points"`
	Explanation string   `yaml:"explanation"`
	Difficulty  string   `yaml:"difficulty"`
}

// Parse validates a YAML course document against the content schema and
// normalizes it into a Course.
func Parse(data []byte, defaults Defaults) (Course, error) {
	if err := validateDocument(data); err != nil {
		return Course{}, err
	}

	var raw rawCourse
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Course{}, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	return normalize(raw, defaults)
}

func normalize(raw rawCourse, defaults Defaults) (Course, error) {
	if raw.PassingScore != 0 {
		defaults.PassingScore = raw.PassingScore
	}
	if raw.MaxAttempts != 0 {
		defaults.MaxAttempts = raw.MaxAttempts
	}

	c := Course{
		ID:      raw.ID,
		Slug:    Slugify(firstNonEmpty(raw.Slug, raw.ID, raw.Title)),
		Title:   raw.Title,
		Premium: raw.Premium || strings.EqualFold(raw.Tier, "premium"),
		Author:  normalizeAuthor(raw.Instructor, raw.Owner),
	}
	if c.ID == "" {
		c.ID = c.Slug
	}

	for i, rm := range raw.Modules {
		m := Module{
			ID:           rm.ID,
			Slug:         Slugify(firstNonEmpty(rm.Slug, rm.ID, rm.Title)),
			Title:        rm.Title,
			Order:        orderOf(rm.Order, rm.Position, i),
			RequiresQuiz: rm.RequiresQuiz,
		}
		if m.ID == "" {
			m.ID = m.Slug
		}
		for j, rl := range rm.Lessons {
			l, err := normalizeLesson(rl, j)
			if err != nil {
				return Course{}, fmt.Errorf("%w: module %s: %w", ErrInvalidContent, m.Slug, err)
			}
			m.Lessons = append(m.Lessons, l)
		}
		if rm.Quiz != nil {
			q := normalizeQuiz(*rm.Quiz, defaults)
			if q.ID == "" {
				q.ID = c.Slug + "/" + m.Slug + "/quiz"
			}
			q.CourseKey = c.Slug
			q.ModuleID = m.ID
			m.Quiz = &q
		}
		c.Modules = append(c.Modules, m)
	}

	if raw.FinalQuiz != nil {
		q := normalizeQuiz(*raw.FinalQuiz, defaults)
		if q.ID == "" {
			q.ID = c.Slug + "/" + FinalQuizKey
		}
		q.CourseKey = c.Slug
		c.FinalQuiz = &q
	}

	c.Sort()
	if err := c.Validate(); err != nil {
		return Course{}, err
	}
	return c, nil
}

func normalizeAuthor(people ...*rawPerson) Author {
	for _, p := range people {
		if p == nil {
			continue
		}
		return Author{
			Name:   firstNonEmpty(p.Name, p.FullName),
			Handle: firstNonEmpty(p.Handle, p.Username),
		}
	}
	return Author{}
}

func normalizeLesson(rl rawLesson, index int) (Lesson, error) {
	l := Lesson{
		ID:          rl.ID,
		Slug:        Slugify(firstNonEmpty(rl.Slug, rl.ID, rl.Title)),
		Title:       rl.Title,
		Order:       orderOf(rl.Order, rl.Position, index),
		FreePreview: rl.FreePreview || rl.IsPreview,
	}
	if l.ID == "" {
		l.ID = l.Slug
	}

	switch {
	case rl.Duration != "":
		d, err := time.ParseDuration(rl.Duration)
		if err != nil {
			return Lesson{}, fmt.Errorf("lesson %s: duration: %w", l.Slug, err)
		}
		l.Duration = d
	case rl.DurationMinutes > 0:
		l.Duration = time.Duration(rl.DurationMinutes) * time.Minute
	}
	return l, nil
}

func normalizeQuiz(rq rawQuiz, defaults Defaults) quiz.Quiz {
	q := quiz.Quiz{
		ID:                 rq.ID,
		PassingScore:       rq.PassingScore,
		MaxAttempts:        rq.MaxAttempts,
		RequireAllAnswered: rq.RequireAllAnswered,
		ShuffleQuestions:   rq.ShuffleQuestions,
		ShuffleOptions:     rq.ShuffleOptions,
	}
	if q.PassingScore == 0 {
		q.PassingScore = defaults.PassingScore
	}
	if q.MaxAttempts == 0 {
		q.MaxAttempts = defaults.MaxAttempts
	}

	for _, rqq := range rq.Questions {
		question := quiz.Question{
			ID:          rqq.ID,
			Prompt:      firstNonEmpty(rqq.Prompt, rqq.Question),
			Type:        questionType(rqq),
			Options:     rqq.Options,
			Correct:     rqq.Correct,
			Points:      quiz.DefaultPoints,
			Explanation: rqq.Explanation,
			Difficulty:  rqq.Difficulty,
		}
		if len(question.Correct) == 0 && rqq.Answer != nil {
			question.Correct = []int{*rqq.Answer}
		}
		if rqq.Points != nil {
			question.Points = *rqq.Points
		}
		q.Questions = append(q.Questions, question)
	}
	return q
}

func questionType(rq rawQuestion) quiz.QuestionType {
	switch strings.ToLower(rq.Type) {
	case "multi", "multiple":
		return quiz.Multi
	case "boolean", "true_false":
		return quiz.Boolean
	case "single":
		return quiz.Single
	}
	if len(rq.Correct) > 1 {
		return quiz.Multi
	}
	return quiz.Single
}

// orderOf prefers an explicit order, then a legacy position, then the
// document index.
func orderOf(order, position *int, index int) int {
	if order != nil {
		return *order
	}
	if position != nil {
		return *position
	}
	return index
}

// Slugify lower-cases s, strips accents and collapses every run of other
// characters into a single hyphen.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
