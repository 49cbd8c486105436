package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-lessons/internal/coverage"
	"github.com/p-n-ai/pai-lessons/internal/curriculum"
	"github.com/p-n-ai/pai-lessons/internal/lesson"
)

const maxBodyBytes = 1 << 20

// segmentList accepts segments as [start, end] pairs or {"start","end"}
// objects, mixed freely.
type segmentList []coverage.Segment

func (l *segmentList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("segments must be an array: %w", err)
	}
	out := make(segmentList, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '[' {
			var pair []float64
			if err := json.Unmarshal(item, &pair); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			if len(pair) != 2 {
				return fmt.Errorf("segment %d: want [start, end], got %d values", i, len(pair))
			}
			out = append(out, coverage.Segment{Start: pair[0], End: pair[1]})
			continue
		}
		var seg struct {
			Start *float64 `json:"start"`
			End   *float64 `json:"end"`
		}
		if err := json.Unmarshal(item, &seg); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		if seg.Start == nil || seg.End == nil {
			return fmt.Errorf("segment %d: start and end are required", i)
		}
		out = append(out, coverage.Segment{Start: *seg.Start, End: *seg.End})
	}
	*l = out
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", lesson.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, curriculum.ErrLessonNotFound), errors.Is(err, lesson.ErrAugmentationNotFound):
		return http.StatusNotFound
	case errors.Is(err, lesson.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
