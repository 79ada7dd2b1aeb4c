package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome of one submit call.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Submission is one row of the submission log. The log is written for every
// submit call, so jobs left running by a batch that failed part-way can still
// be found even though the registry entry was never written.
type Submission struct {
	ID         string
	ExportPath string
	Attempt    int
	JobID      string
	ExitCode   int
	Outcome    Outcome
	Error      string
	CreatedAt  time.Time
}

// LogSubmission appends a submit attempt to the log and returns its id.
func (s *Store) LogSubmission(ctx context.Context, sub Submission) (string, error) {
	if sub.ExportPath == "" {
		return "", fmt.Errorf("export path is empty")
	}
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var jobID, errText any
	if sub.JobID != "" {
		jobID = sub.JobID
	}
	if sub.Error != "" {
		errText = sub.Error
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO submission_log(id, export_path, attempt, job_id, exit_code, outcome, error, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, id, sub.ExportPath, sub.Attempt, jobID, sub.ExitCode, string(sub.Outcome), errText, now)
	if err != nil {
		return "", fmt.Errorf("log submission: %w", err)
	}
	return id, nil
}

// Submissions lists the submit attempts recorded for exportPath, oldest first.
func (s *Store) Submissions(ctx context.Context, exportPath string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, export_path, attempt, COALESCE(job_id, ''), exit_code, outcome, COALESCE(error, ''), created_at
FROM submission_log
WHERE export_path = ?
ORDER BY created_at ASC, rowid ASC;
`, exportPath)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var sub Submission
		var outcome, created string
		if err := rows.Scan(&sub.ID, &sub.ExportPath, &sub.Attempt, &sub.JobID, &sub.ExitCode, &outcome, &sub.Error, &created); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Outcome = Outcome(outcome)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			sub.CreatedAt = t
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}
