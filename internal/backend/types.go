package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// Kind selects a backend variant.
type Kind string

const (
	KindSlurm Kind = "slurm"
	KindCLI   Kind = "cli"
)

// ParseKind validates a configured backend name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSlurm, KindCLI:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown backend kind %q (want %q or %q)", s, KindSlurm, KindCLI)
	}
}

// JobStatus is the last observed state of one scheduler job.
type JobStatus string

const (
	StatusSubmitted JobStatus = "SUBMITTED"
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
	StatusCancelled JobStatus = "CANCELLED"
	StatusUnknown   JobStatus = "UNKNOWN"
)

// Aggregate summarizes a set of job statuses for one export path.
type Aggregate string

const (
	AggregatePending    Aggregate = "Pending"
	AggregateInProgress Aggregate = "In progress"
	AggregateCompleted  Aggregate = "Completed"
)

// AggregateOf reduces observed statuses: any PENDING wins, then all COMPLETED,
// otherwise in progress. An empty set counts as completed.
func AggregateOf(observed []JobStatus) Aggregate {
	for _, s := range observed {
		if s == StatusPending {
			return AggregatePending
		}
	}
	for _, s := range observed {
		if s != StatusCompleted {
			return AggregateInProgress
		}
	}
	return AggregateCompleted
}

// RenderSpec is one render submission as derived from the current render configuration.
type RenderSpec struct {
	BlendFile         string
	JobName           string
	FrameStart        int
	FrameEnd          int
	MaxConcurrentJobs int
	// Directives holds the scheduler resource options in schema order.
	Directives []KV
}

// MaxFrame is the highest frame number Blender accepts.
const MaxFrame = 1048574

// FrameCount returns the inclusive number of frames in the range.
func (s RenderSpec) FrameCount() int {
	if s.FrameEnd < s.FrameStart {
		return 0
	}
	d := int64(s.FrameEnd) - int64(s.FrameStart)
	if d < 0 || d >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(d) + 1
}

// SubmissionCount returns min(MaxConcurrentJobs, FrameCount).
func (s RenderSpec) SubmissionCount() int {
	return min(s.MaxConcurrentJobs, s.FrameCount())
}

// Validate checks the blend file, the frame range, the job limit and that no
// directive value could break out of its script line.
func (s RenderSpec) Validate() error {
	if s.BlendFile == "" {
		return fmt.Errorf("%w: blend file is empty", ErrInvalidValue)
	}
	if s.FrameStart < 0 || s.FrameEnd > MaxFrame {
		return fmt.Errorf("%w: frame range %d..%d is outside 0..%d", ErrInvalidValue, s.FrameStart, s.FrameEnd, MaxFrame)
	}
	if s.FrameEnd < s.FrameStart {
		return fmt.Errorf("%w: frame range %d..%d is empty", ErrInvalidValue, s.FrameStart, s.FrameEnd)
	}
	if s.MaxConcurrentJobs < 1 {
		return fmt.Errorf("%w: max concurrent jobs must be >= 1 (got %d)", ErrInvalidValue, s.MaxConcurrentJobs)
	}
	for _, kv := range s.Directives {
		if strings.IndexFunc(kv.Key+kv.Value, unicode.IsControl) >= 0 {
			return fmt.Errorf("%w: directive %q contains a control character", ErrInvalidValue, kv.Key)
		}
	}
	return nil
}

// Submission describes a successfully dispatched render batch.
type Submission struct {
	ExportPath string
	JobIDs     []string
}

// StatusReport is the result of a status query.
type StatusReport struct {
	ExportPath string
	Aggregate  Aggregate
	// Progress counts rendered output files present on disk.
	Progress int
	Jobs     map[string]JobStatus
}

//go:generate mockgen -destination=mocks/mock_backend.go -package=mocks github.com/Nanoseb/BlenderRemoteRender/internal/backend Backend

// Backend is the capability contract implemented by every variant.
type Backend interface {
	Kind() Kind
	Schema() Schema
	MergeConfig(values map[string]any) error
	StartRender(ctx context.Context, blendFile string) (*Submission, error)
	Status(ctx context.Context, exportPath string) (*StatusReport, error)
	CancelRender(ctx context.Context, exportPath string) error
	ListRenderedOutputs(exportPath string) ([]string, error)
}

var (
	ErrNotImplemented = errors.New("operation not implemented by backend")
	ErrUnknownKey     = errors.New("unknown config key")
	ErrInvalidValue   = errors.New("invalid config value")
	// ErrNoRegistryEntry is returned by Status when nothing was submitted for the export path.
	ErrNoRegistryEntry = errors.New("no registry entry for export path")
)

// SubmissionError reports a failed submit call. Jobs from earlier attempts in
// the same batch remain queued on the cluster and are not rolled back.
type SubmissionError struct {
	Attempt  int // 1-indexed
	ExitCode int
	Message  string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission %d failed (exit %d): %s", e.Attempt, e.ExitCode, e.Message)
}
