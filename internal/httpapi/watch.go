package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-lessons/internal/coverage"
	"github.com/p-n-ai/pai-lessons/internal/lesson"
	"github.com/p-n-ai/pai-lessons/internal/lessonflow"
)

// watchFrame is one client message on the watch stream: a single segment,
// a batch, a video-ended marker, or any mix of them.
type watchFrame struct {
	Start      *float64    `json:"start,omitempty"`
	End        *float64    `json:"end,omitempty"`
	Segments   segmentList `json:"segments,omitempty"`
	VideoEnded bool        `json:"video_ended,omitempty"`
}

func (f watchFrame) segments() []coverage.Segment {
	out := []coverage.Segment(f.Segments)
	if f.Start != nil && f.End != nil {
		out = append(out, coverage.Segment{Start: *f.Start, End: *f.End})
	}
	return out
}

type watchError struct {
	Error string `json:"error"`
}

// handleWatch streams watch telemetry: every frame is merged into progress
// and answered with the resulting snapshot.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	lessonID := r.PathValue("lessonID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, fmt.Errorf("%w: user_id is required", lesson.ErrInvalidInput))
		return
	}
	if _, err := s.lessons.Lesson(lessonID); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer c.CloseNow()

	ctx := r.Context()
	slog.Debug("watch stream opened", "user_id", userID, "lesson_id", lessonID)

	for {
		var frame watchFrame
		if err := wsjson.Read(ctx, c, &frame); err != nil {
			if !isClosed(err) {
				slog.Warn("watch stream read failed", "user_id", userID, "lesson_id", lessonID, "error", err)
			}
			return
		}

		snap, err := s.applyFrame(ctx, userID, lessonID, frame)
		if err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				slog.Error("watch frame failed", "user_id", userID, "lesson_id", lessonID, "error", err)
				c.Close(websocket.StatusInternalError, "internal error")
				return
			}
			if err := wsjson.Write(ctx, c, watchError{Error: err.Error()}); err != nil {
				return
			}
			continue
		}

		if err := wsjson.Write(ctx, c, snap); err != nil {
			return
		}
	}
}

func (s *Server) applyFrame(ctx context.Context, userID, lessonID string, frame watchFrame) (*lesson.Snapshot, error) {
	snap, err := s.engine.ReportWatch(ctx, userID, lessonID, frame.segments())
	if err != nil || !frame.VideoEnded {
		return snap, err
	}
	return s.engine.Advance(ctx, userID, lessonID, lessonflow.EventVideoEnded)
}

func isClosed(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
