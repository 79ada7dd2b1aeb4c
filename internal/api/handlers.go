package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
	"github.com/Nanoseb/BlenderRemoteRender/internal/events"
	"github.com/Nanoseb/BlenderRemoteRender/internal/registry"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		Backend:       string(s.renders.Kind()),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleListRenders(w http.ResponseWriter, r *http.Request) {
	doc, err := s.registry.Load(r.Context())
	if err != nil {
		s.logger.Error("failed to load registry", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load registry")
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	exportPath := chi.URLParam(r, "exportPath")

	report, err := s.renders.Status(r.Context(), exportPath)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.events.Publish(events.RenderStatus, map[string]any{
		"export_path": exportPath, "status": report.Aggregate, "progress": report.Progress,
	})
	respondJSON(w, http.StatusOK, StatusResponse{
		ExportPath: report.ExportPath,
		Status:     report.Aggregate,
		Progress:   report.Progress,
		Jobs:       report.Jobs,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	exportPath := chi.URLParam(r, "exportPath")

	if err := s.renders.CancelRender(r.Context(), exportPath); err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.events.Publish(events.RenderCancelled, map[string]string{"export_path": exportPath})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	exportPath := chi.URLParam(r, "exportPath")

	files, err := s.renders.ListRenderedOutputs(exportPath)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	respondJSON(w, http.StatusOK, OutputsResponse{ExportPath: exportPath, Files: files})
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	exportPath := chi.URLParam(r, "exportPath")

	subs, err := s.registry.Submissions(r.Context(), exportPath)
	if err != nil {
		s.logger.Error("failed to read submission log", "export_path", exportPath, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read submission log")
		return
	}
	respondJSON(w, http.StatusOK, toSubmissionResponses(subs))
}

func toSubmissionResponses(subs []registry.Submission) []SubmissionResponse {
	out := make([]SubmissionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, SubmissionResponse{
			ID:        sub.ID,
			Attempt:   sub.Attempt,
			JobID:     sub.JobID,
			ExitCode:  sub.ExitCode,
			Outcome:   string(sub.Outcome),
			Error:     sub.Error,
			CreatedAt: sub.CreatedAt,
		})
	}
	return out
}

func (s *Server) writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backend.ErrNoRegistryEntry):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backend.ErrNotImplemented):
		s.writeError(w, http.StatusNotImplemented, err.Error())
	default:
		s.logger.Error("backend request failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
