package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
	"github.com/Nanoseb/BlenderRemoteRender/internal/config"
	"github.com/Nanoseb/BlenderRemoteRender/internal/dispatch"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int { return run([]string{"version"}) })
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "remote-render version "+version)
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return run([]string{"frobnicate"}) })
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return run(nil) })
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage:")
}

func TestStatusRequiresExportPath(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return run([]string{"status", "--json"}) })
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: remote-render status")
}

func TestParseInterspersed(t *testing.T) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "")
	jsonOut := fs.Bool("json", false, "")

	pos, err := parseInterspersed(fs, []string{"--config", "c.yaml", "20240102-030405_shot", "--json"})
	require.NoError(t, err)
	assert.Equal(t, "20240102-030405_shot", pos)
	assert.Equal(t, "c.yaml", *configPath)
	assert.True(t, *jsonOut)

	fs = flag.NewFlagSet("cancel", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err = parseInterspersed(fs, []string{"a", "b"})
	assert.Error(t, err)
}

func TestDispatchOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Scheduler.SubmitCommand = []string{"/opt/slurm/bin/sbatch"}
	cfg.Scheduler.EnvSetup = "source env.sh"
	cfg.Render.Blender = "/opt/blender/blender"
	cfg.Render.OutputExt = ".exr"
	cfg.Render.OutputPrefix = ""

	opts := dispatchOptions(cfg)
	assert.Equal(t, []string{"/opt/slurm/bin/sbatch"}, opts.SubmitCommand)
	assert.Equal(t, "source env.sh", opts.EnvSetup)
	assert.Equal(t, "/opt/blender/blender", opts.Blender)
	assert.Equal(t, ".exr", opts.OutputExt)
	assert.Equal(t, dispatch.DefaultOptions().OutputPrefix, opts.OutputPrefix)
}

func TestNewBackendSelectsKind(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backend.Kind = "cli"
	be, err := newBackend(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, backend.KindCLI, be.Kind())

	cfg.Backend.Kind = "slurm"
	be, err = newBackend(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, backend.KindSlurm, be.Kind())

	cfg.Backend.Kind = "pbs"
	_, err = newBackend(cfg, nil, nil)
	assert.Error(t, err)
}

func TestWriteStatusText(t *testing.T) {
	var buf bytes.Buffer
	err := writeStatus(&buf, &backend.StatusReport{
		ExportPath: "20240102-030405_shot",
		Aggregate:  backend.AggregateInProgress,
		Progress:   3,
		Jobs:       map[string]backend.JobStatus{"102": backend.StatusPending, "101": backend.StatusRunning},
	}, false)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "20240102-030405_shot: In progress (3 frames rendered)")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("101")), bytes.Index(buf.Bytes(), []byte("102")))
}

func TestWriteStatusJSON(t *testing.T) {
	var buf bytes.Buffer
	err := writeStatus(&buf, &backend.StatusReport{
		ExportPath: "x",
		Aggregate:  backend.AggregateCompleted,
		Jobs:       map[string]backend.JobStatus{"1": backend.StatusCompleted},
	}, true)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "Completed", decoded["status"])
}

func TestRegistryExportEmpty(t *testing.T) {
	path := writeConfig(t, "service:\n  log_level: error\nbackend:\n  kind: cli\n")
	out := filepath.Join(t.TempDir(), "registry.json")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return run([]string{"registry", "export", "--config", path, "--out", out})
	})
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestStatusWithCLIBackendIsNotImplemented(t *testing.T) {
	path := writeConfig(t, "service:\n  log_level: error\nbackend:\n  kind: cli\n")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return run([]string{"status", "20240102-030405_shot", "--config=" + path})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, backend.ErrNotImplemented.Error())
}

func TestCancelUnknownExportPathIsNoop(t *testing.T) {
	path := writeConfig(t, "service:\n  log_level: error\nscheduler:\n  timeout: 5s\n")
	start := time.Now()

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return run([]string{"cancel", "never-submitted", "--config=" + path})
	})
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "cancelled never-submitted")
	assert.Less(t, time.Since(start), 5*time.Second)
}
