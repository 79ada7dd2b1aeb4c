package api

import (
	"time"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
)

// StatusResponse is returned by GET /renders/{exportPath}/status.
type StatusResponse struct {
	ExportPath string                       `json:"export_path"`
	Status     backend.Aggregate            `json:"status"`
	Progress   int                          `json:"progress"`
	Jobs       map[string]backend.JobStatus `json:"jobs"`
}

// OutputsResponse is returned by GET /renders/{exportPath}/outputs.
type OutputsResponse struct {
	ExportPath string   `json:"export_path"`
	Files      []string `json:"files"`
}

// SubmissionResponse is one submission log row.
type SubmissionResponse struct {
	ID        string    `json:"id"`
	Attempt   int       `json:"attempt"`
	JobID     string    `json:"job_id,omitempty"`
	ExitCode  int       `json:"exit_code"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	Backend       string `json:"backend"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
