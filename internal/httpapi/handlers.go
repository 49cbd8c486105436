package httpapi

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/p-n-ai/pai-lessons/internal/audit"
	"github.com/p-n-ai/pai-lessons/internal/augment"
	"github.com/p-n-ai/pai-lessons/internal/curriculum"
	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
	"github.com/p-n-ai/pai-lessons/internal/lesson"
	"github.com/p-n-ai/pai-lessons/internal/lessonflow"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type progressRequest struct {
	UserID   string      `json:"user_id"`
	Segments segmentList `json:"segments"`
}

type eventRequest struct {
	UserID string           `json:"user_id"`
	Event  lessonflow.Event `json:"event"`
}

type diagnosticsRequest struct {
	UserID  string              `json:"user_id"`
	Source  diagnostic.Source   `json:"source"`
	Results []diagnostic.Result `json:"results"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type planResponse struct {
	Plan     augment.Plan     `json:"plan"`
	Trace    []string         `json:"trace"`
	Snapshot *lesson.Snapshot `json:"snapshot"`
}

func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	lessons := s.lessons.AllLessons()
	if lessons == nil {
		lessons = []curriculum.Lesson{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lessons": lessons})
}

func (s *Server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	l, err := s.lessons.Lesson(r.PathValue("lessonID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	l, err := s.lessons.Lesson(r.PathValue("lessonID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := audit.WriteWorkbook(&buf, audit.Run(l)); err != nil {
		writeError(w, r, fmt.Errorf("audit %s: %w", l.ID, err))
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-audit.xlsx"`, l.ID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context(), r.URL.Query().Get("user_id"), r.PathValue("lessonID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.engine.ReportWatch(r.Context(), req.UserID, r.PathValue("lessonID"), req.Segments)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(r.Context(), r.URL.Query().Get("user_id"), r.PathValue("lessonID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.engine.Advance(r.Context(), req.UserID, r.PathValue("lessonID"), req.Event)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	var req diagnosticsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.engine.RecordDiagnostics(r.Context(), req.UserID, r.PathValue("lessonID"), req.Source, req.Results)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, snap, err := s.engine.Plan(r.Context(), r.URL.Query().Get("user_id"), r.PathValue("lessonID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse{Plan: plan, Trace: plan.TraceLines(), Snapshot: snap})
}

func (s *Server) handleCompleteAugmentation(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.engine.CompleteAugmentation(r.Context(), req.UserID, r.PathValue("lessonID"), r.PathValue("augmentationID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
