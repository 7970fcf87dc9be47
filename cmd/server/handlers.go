package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/engine"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/report"
	"github.com/p-n-ai/pai-learn/internal/syncer"
)

const readyTimeout = 2 * time.Second

// server holds what the HTTP handlers need.
type server struct {
	engine *engine.Engine
	hub    *events.Hub
	ready  []readiness
}

type readiness struct {
	name  string
	check func(context.Context) error
}

// newMux creates the HTTP router with health checks and the learner API.
func newMux(s *server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	if s.engine == nil {
		return mux
	}
	const base = "/v1/learners/{learner}/courses/{course}"
	mux.HandleFunc("GET /v1/courses", s.handleCourses)
	mux.HandleFunc("GET "+base, s.handleOverview)
	mux.HandleFunc("GET "+base+"/lessons/{lesson}/access", s.handleAccess)
	mux.HandleFunc("POST "+base+"/lessons/{lesson}/complete", s.handleComplete)
	mux.HandleFunc("DELETE "+base+"/progress", s.handleReset)
	mux.HandleFunc("POST "+base+"/modules/{module}/quiz/start", s.handleStartQuiz)
	mux.HandleFunc("POST "+base+"/quiz/attempts/{attempt}/answers", s.handleAnswer)
	mux.HandleFunc("POST "+base+"/quiz/attempts/{attempt}/submit", s.handleSubmit)
	mux.HandleFunc("DELETE "+base+"/quiz/attempts/{attempt}", s.handleAbandon)
	mux.HandleFunc("GET "+base+"/report.xlsx", s.handleReport)
	if s.hub != nil {
		mux.HandleFunc("GET /v1/learners/{learner}/events", s.handleEvents)
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	for _, rd := range s.ready {
		if err := rd.check(ctx); err != nil {
			slog.Warn("readiness check failed", "check", rd.name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "check": rd.name})
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

type courseSummary struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Premium bool   `json:"premium"`
	Modules int    `json:"modules"`
	Lessons int    `json:"lessons"`
}

func (s *server) handleCourses(w http.ResponseWriter, r *http.Request) {
	courses := s.engine.Courses()
	out := make([]courseSummary, 0, len(courses))
	for _, c := range courses {
		out = append(out, courseSummary{
			Slug:    c.Slug,
			Title:   c.Title,
			Premium: c.Premium,
			Modules: len(c.Modules),
			Lessons: c.TotalLessons(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.engine.Overview(r.Context(), r.PathValue("learner"), r.PathValue("course"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *server) handleAccess(w http.ResponseWriter, r *http.Request) {
	ok, err := s.engine.Accessible(r.Context(), r.PathValue("learner"), r.PathValue("course"), r.PathValue("lesson"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accessible": ok})
}

func (s *server) handleComplete(w http.ResponseWriter, r *http.Request) {
	learner, courseKey := r.PathValue("learner"), r.PathValue("course")
	if err := s.engine.CompleteLesson(r.Context(), learner, courseKey, r.PathValue("lesson")); err != nil {
		writeError(w, err)
		return
	}
	ov, err := s.engine.Overview(r.Context(), learner, courseKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetCourse(r.Context(), r.PathValue("learner"), r.PathValue("course")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startResponse struct {
	AttemptID    string            `json:"attempt_id"`
	Number       int               `json:"number"`
	Presentation quiz.Presentation `json:"presentation"`
}

func (s *server) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.StartQuiz(r.Context(), r.PathValue("learner"), r.PathValue("course"), r.PathValue("module"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		AttemptID:    sess.ID(),
		Number:       sess.Number(),
		Presentation: sess.Presentation(),
	})
}

// answerRequest carries canonical option indices, as listed in the
// presentation returned by quiz start.
type answerRequest struct {
	QuestionID string `json:"question_id"`
	Options    []int  `json:"options"`
}

func (s *server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := s.engine.AnswerQuiz(r.PathValue("learner"), r.PathValue("attempt"), req.QuestionID, req.Options...); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitResponse struct {
	Attempt quiz.Attempt `json:"attempt"`
	Result  quiz.Result  `json:"result"`
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	attempt, res, err := s.engine.SubmitQuiz(r.Context(), r.PathValue("learner"), r.PathValue("attempt"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Attempt: attempt, Result: res})
}

func (s *server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.AbandonQuiz(r.PathValue("learner"), r.PathValue("attempt")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	learner, courseKey := r.PathValue("learner"), r.PathValue("course")
	ov, err := s.engine.Overview(r.Context(), learner, courseKey)
	if err != nil {
		writeError(w, err)
		return
	}
	attempts, err := s.engine.Attempts(r.Context(), learner, courseKey)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ov.CourseKey+`-progress.xlsx"`)
	if err := report.Write(w, learner, ov, attempts); err != nil {
		slog.Error("report export failed", "learner_id", learner, "course", courseKey, "error", err)
	}
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.Serve(w, r, r.PathValue("learner"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, course.ErrNotFound),
		errors.Is(err, engine.ErrSessionNotFound),
		errors.Is(err, engine.ErrNoQuiz):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrLessonLocked),
		errors.Is(err, engine.ErrModuleLocked),
		errors.Is(err, engine.ErrPremiumRequired):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrLessonsRemaining),
		errors.Is(err, quiz.ErrAttemptsExhausted),
		errors.Is(err, quiz.ErrAlreadySubmitted),
		errors.Is(err, quiz.ErrAbandoned):
		status = http.StatusConflict
	case errors.Is(err, quiz.ErrIncompleteSubmission):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, quiz.ErrUnknownQuestion),
		errors.Is(err, quiz.ErrInvalidOption):
		status = http.StatusBadRequest
	case errors.Is(err, syncer.ErrPersistenceUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
