// Package registry persists the mapping from export path to scheduler job ids
// and their last observed status. The whole mapping is stored as one JSON
// document; every mutation loads it, applies a change and writes it back
// inside a single immediate transaction, so concurrent writers serialise.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
)

// Entry is the stored record of one job.
type Entry struct {
	Status backend.JobStatus `json:"status"`
}

// Jobs maps job id to entry.
type Jobs map[string]Entry

// Document maps export path to its jobs. This is the persisted shape:
//
//	{"<export_path>": {"<job_id>": {"status": "<STATE>"}}}
type Document map[string]Jobs

// ErrNotFound is returned when an export path has no registry entry.
var ErrNotFound = errors.New("export path not registered")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load returns the full registry document, or an empty one if none was written.
func (s *Store) Load(ctx context.Context) (Document, error) {
	return loadDocument(ctx, s.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadDocument(ctx context.Context, q queryer) (Document, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT document FROM registry_document WHERE id = 1;").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode registry document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Update runs fn against the current document and persists the result. If fn
// returns an error nothing is written.
func (s *Store) Update(ctx context.Context, fn func(Document) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := loadDocument(ctx, tx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal registry document: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO registry_document(id, document, updated_at)
VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  document = excluded.document,
  updated_at = excluded.updated_at;
`, string(raw), now)
	if err != nil {
		return fmt.Errorf("write registry document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Lookup returns a copy of the jobs registered under exportPath.
func (s *Store) Lookup(ctx context.Context, exportPath string) (Jobs, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	jobs, ok := doc[exportPath]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, exportPath)
	}
	out := make(Jobs, len(jobs))
	for id, e := range jobs {
		out[id] = e
	}
	return out, nil
}

// Exists reports whether exportPath has an entry.
func (s *Store) Exists(ctx context.Context, exportPath string) (bool, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := doc[exportPath]
	return ok, nil
}

// Register records a freshly submitted batch; every job starts as SUBMITTED.
func (s *Store) Register(ctx context.Context, exportPath string, jobIDs []string) error {
	if exportPath == "" {
		return fmt.Errorf("export path is empty")
	}
	return s.Update(ctx, func(doc Document) error {
		jobs := doc[exportPath]
		if jobs == nil {
			jobs = Jobs{}
		}
		for _, id := range jobIDs {
			jobs[id] = Entry{Status: backend.StatusSubmitted}
		}
		doc[exportPath] = jobs
		return nil
	})
}

// Observe applies scheduler-reported states to the jobs registered under
// exportPath. Jobs absent from observed are left untouched. It returns the
// statuses that were both registered and observed, and fails with ErrNotFound
// if the export path was never registered.
func (s *Store) Observe(ctx context.Context, exportPath string, observed map[string]backend.JobStatus) ([]backend.JobStatus, Jobs, error) {
	var seen []backend.JobStatus
	var snapshot Jobs
	err := s.Update(ctx, func(doc Document) error {
		jobs, ok := doc[exportPath]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, exportPath)
		}
		for id := range jobs {
			st, ok := observed[id]
			if !ok {
				continue
			}
			jobs[id] = Entry{Status: st}
			seen = append(seen, st)
		}
		snapshot = make(Jobs, len(jobs))
		for id, e := range jobs {
			snapshot[id] = e
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return seen, snapshot, nil
}

// MarkCancelled sets every job under exportPath to CANCELLED. Unknown paths are a no-op.
func (s *Store) MarkCancelled(ctx context.Context, exportPath string) error {
	return s.Update(ctx, func(doc Document) error {
		jobs, ok := doc[exportPath]
		if !ok {
			return nil
		}
		for id := range jobs {
			jobs[id] = Entry{Status: backend.StatusCancelled}
		}
		return nil
	})
}

// Export writes the registry document as indented JSON.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	doc, err := s.Load(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
