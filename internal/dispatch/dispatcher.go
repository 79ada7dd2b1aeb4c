package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"slices"
	"sort"
	"time"

	"github.com/gosimple/slug"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
	"github.com/Nanoseb/BlenderRemoteRender/internal/command"
	"github.com/Nanoseb/BlenderRemoteRender/internal/log"
	"github.com/Nanoseb/BlenderRemoteRender/internal/registry"
	"github.com/Nanoseb/BlenderRemoteRender/internal/transfer"
)

const (
	exportTimeLayout = "20060102-150405"
	suffixAlphabet   = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLength     = 6
	maxSuffixTries   = 8
)

// Options configures the external commands and file conventions of the dispatcher.
type Options struct {
	// JobScript is the job script path, relative to the transfer root.
	JobScript     string
	SubmitCommand []string
	ListCommand   []string
	CancelCommand []string
	EnvSetup      string
	Blender       string
	RenderScript  string
	OutputPrefix  string
	OutputExt     string
}

// DefaultOptions returns the stock Slurm command set.
func DefaultOptions() Options {
	return Options{
		JobScript:     "jobfile.slurm",
		SubmitCommand: []string{"sbatch"},
		ListCommand:   []string{"squeue", "--me", "--noheader", "--format=%i %T"},
		CancelCommand: []string{"scancel"},
		EnvSetup:      "module load blender",
		Blender:       "blender",
		OutputPrefix:  "output_",
		OutputExt:     ".png",
	}
}

// Dispatcher is the Slurm implementation of backend.Backend.
type Dispatcher struct {
	config   *backend.RenderConfig
	registry *registry.Store
	files    *transfer.Store
	runner   command.Runner
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

var _ backend.Backend = (*Dispatcher)(nil)

// New creates a Dispatcher with the Slurm schema defaults as render config.
func New(reg *registry.Store, files *transfer.Store, runner command.Runner, opts Options) *Dispatcher {
	return &Dispatcher{
		config:   backend.NewRenderConfig(SlurmSchema()),
		registry: reg,
		files:    files,
		runner:   runner,
		opts:     opts,
		logger:   log.WithComponent("dispatch"),
		now:      time.Now,
	}
}

func (d *Dispatcher) Kind() backend.Kind     { return backend.KindSlurm }
func (d *Dispatcher) Schema() backend.Schema { return d.config.Schema() }

func (d *Dispatcher) MergeConfig(values map[string]any) error {
	return d.config.Merge(values)
}

// Spec builds a render spec for blendFile from the current render config.
func (d *Dispatcher) Spec(blendFile string) backend.RenderSpec {
	return backend.RenderSpec{
		BlendFile:         blendFile,
		JobName:           d.config.String(KeyJobName),
		FrameStart:        d.config.Int(KeyFrameStart),
		FrameEnd:          d.config.Int(KeyFrameEnd),
		MaxConcurrentJobs: d.config.Int(KeyMaxJobs),
		Directives:        d.config.Directives(),
	}
}

// StartRender submits a render of blendFile using the current render config.
func (d *Dispatcher) StartRender(ctx context.Context, blendFile string) (*backend.Submission, error) {
	return d.Submit(ctx, d.Spec(blendFile))
}

// Submit writes the job script and submits it SubmissionCount times. On the
// first failing call it returns a *backend.SubmissionError; jobs already
// accepted stay on the cluster and the registry is left untouched.
func (d *Dispatcher) Submit(ctx context.Context, spec backend.RenderSpec) (*backend.Submission, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	exportPath, err := d.newExportPath(ctx, spec.JobName)
	if err != nil {
		return nil, err
	}
	logger := log.WithExport(exportPath)

	blendAbs, err := d.files.Resolve(spec.BlendFile)
	if err != nil {
		return nil, fmt.Errorf("resolve blend file: %w", err)
	}
	outputAbs, err := d.files.Resolve(path.Join(exportPath, d.opts.OutputPrefix))
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}

	script := BuildJobScript(ScriptParams{
		Spec:         spec,
		BlendFile:    blendAbs,
		OutputPath:   outputAbs,
		EnvSetup:     d.opts.EnvSetup,
		Blender:      d.opts.Blender,
		RenderScript: d.opts.RenderScript,
	})
	if _, err := d.files.Put(d.opts.JobScript, []byte(script)); err != nil {
		return nil, fmt.Errorf("write job script: %w", err)
	}
	scriptAbs, err := d.files.Resolve(d.opts.JobScript)
	if err != nil {
		return nil, fmt.Errorf("resolve job script: %w", err)
	}

	count := spec.SubmissionCount()
	logger.Info("submitting render batch", "blend_file", spec.BlendFile, "submissions", count,
		"frame_start", spec.FrameStart, "frame_end", spec.FrameEnd)

	argv := append(slices.Clone(d.opts.SubmitCommand), scriptAbs)
	jobIDs := make([]string, 0, count)
	for attempt := 1; attempt <= count; attempt++ {
		res := d.runner.Run(ctx, argv)

		jobID, subErr := checkSubmit(attempt, res)
		d.logSubmission(ctx, exportPath, attempt, jobID, res, subErr)
		if subErr != nil {
			logger.Error("submission failed, aborting batch",
				"attempt", attempt, "exit_code", subErr.ExitCode, "error", subErr.Message,
				"left_running", jobIDs)
			return nil, subErr
		}
		jobIDs = append(jobIDs, jobID)
		logger.Debug("job submitted", "attempt", attempt, "job_id", jobID)
	}

	if err := d.registry.Register(ctx, exportPath, jobIDs); err != nil {
		return nil, fmt.Errorf("register jobs: %w", err)
	}
	logger.Info("render batch submitted", "job_ids", jobIDs)
	return &backend.Submission{ExportPath: exportPath, JobIDs: jobIDs}, nil
}

// checkSubmit accepts a submit result only on exit 0, empty stderr and a
// well-formed success line.
func checkSubmit(attempt int, res command.Result) (string, *backend.SubmissionError) {
	switch {
	case !res.OK():
		return "", &backend.SubmissionError{Attempt: attempt, ExitCode: res.ExitCode, Message: res.Message()}
	case res.Stderr != "":
		return "", &backend.SubmissionError{Attempt: attempt, ExitCode: res.ExitCode, Message: res.Stderr}
	}
	id, err := ParseSubmitOutput(res.Stdout)
	if err != nil {
		return "", &backend.SubmissionError{Attempt: attempt, ExitCode: res.ExitCode, Message: err.Error()}
	}
	return id, nil
}

func (d *Dispatcher) logSubmission(ctx context.Context, exportPath string, attempt int, jobID string, res command.Result, subErr *backend.SubmissionError) {
	sub := registry.Submission{
		ExportPath: exportPath,
		Attempt:    attempt,
		JobID:      jobID,
		ExitCode:   res.ExitCode,
		Outcome:    registry.OutcomeSubmitted,
	}
	if subErr != nil {
		sub.Outcome = registry.OutcomeFailed
		if res.Outcome == command.TimedOut {
			sub.Outcome = registry.OutcomeTimedOut
		}
		sub.Error = subErr.Message
	}
	if _, err := d.registry.LogSubmission(ctx, sub); err != nil {
		d.logger.Error("failed to record submission", "export_path", exportPath, "attempt", attempt, "error", err)
	}
}

// newExportPath derives the export path from the current time and job name.
// A random suffix is added when the path is already registered or on disk.
func (d *Dispatcher) newExportPath(ctx context.Context, jobName string) (string, error) {
	name := slug.Make(jobName)
	if name == "" {
		name = "render"
	}
	base := d.now().Format(exportTimeLayout) + "_" + name

	candidate := base
	for i := 0; i < maxSuffixTries; i++ {
		taken, err := d.exportPathTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		suffix, err := gonanoid.Generate(suffixAlphabet, suffixLength)
		if err != nil {
			return "", fmt.Errorf("generate export suffix: %w", err)
		}
		candidate = base + "-" + suffix
	}
	return "", fmt.Errorf("no free export path for %q", base)
}

func (d *Dispatcher) exportPathTaken(ctx context.Context, exportPath string) (bool, error) {
	exists, err := d.registry.Exists(ctx, exportPath)
	if err != nil {
		return false, fmt.Errorf("check registry: %w", err)
	}
	if exists {
		return true, nil
	}
	abs, err := d.files.Resolve(exportPath)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err == nil {
		return true, nil
	}
	return false, nil
}

// Status refreshes the stored state of every job registered under exportPath
// and reduces the statuses observed in this query to an aggregate.
func (d *Dispatcher) Status(ctx context.Context, exportPath string) (*backend.StatusReport, error) {
	if _, err := d.registry.Lookup(ctx, exportPath); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", backend.ErrNoRegistryEntry, exportPath)
		}
		return nil, err
	}

	res := d.runner.Run(ctx, d.opts.ListCommand)
	if !res.OK() {
		return nil, fmt.Errorf("list scheduler jobs (%s, exit %d): %s", res.Outcome, res.ExitCode, res.Message())
	}

	observed, jobs, err := d.registry.Observe(ctx, exportPath, ParseQueue(res.Stdout))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", backend.ErrNoRegistryEntry, exportPath)
		}
		return nil, fmt.Errorf("update registry: %w", err)
	}

	outputs, err := d.ListRenderedOutputs(exportPath)
	if err != nil {
		return nil, err
	}

	report := &backend.StatusReport{
		ExportPath: exportPath,
		Aggregate:  backend.AggregateOf(observed),
		Progress:   len(outputs),
		Jobs:       make(map[string]backend.JobStatus, len(jobs)),
	}
	for id, e := range jobs {
		report.Jobs[id] = e.Status
	}
	log.WithExport(exportPath).Debug("status refreshed", "aggregate", report.Aggregate,
		"observed", len(observed), "progress", report.Progress)
	return report, nil
}

// CancelRender cancels every job registered under exportPath and marks them
// CANCELLED. Unknown paths are a no-op. Scheduler errors for individual jobs
// (typically already finished ones) are logged and do not stop the loop.
func (d *Dispatcher) CancelRender(ctx context.Context, exportPath string) error {
	jobs, err := d.registry.Lookup(ctx, exportPath)
	if errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	logger := log.WithExport(exportPath)

	ids := make([]string, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		argv := append(slices.Clone(d.opts.CancelCommand), id)
		if res := d.runner.Run(ctx, argv); !res.OK() {
			logger.Warn("cancel command failed", "job_id", id, "outcome", res.Outcome,
				"exit_code", res.ExitCode, "error", res.Message())
		}
	}

	if err := d.registry.MarkCancelled(ctx, exportPath); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	logger.Info("render cancelled", "jobs", len(ids))
	return nil
}

// ListRenderedOutputs lists output files under exportPath matching the
// configured prefix and extension, in directory order.
func (d *Dispatcher) ListRenderedOutputs(exportPath string) ([]string, error) {
	files, err := d.files.Match(exportPath, d.opts.OutputPrefix, d.opts.OutputExt)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	return files, nil
}
