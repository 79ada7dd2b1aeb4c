// Package command runs external scheduler commands with a hard timeout.
//
// Each call is bounded: when the timeout (or the caller's context) expires the
// process receives SIGTERM, then SIGKILL after a grace period, and the result
// is reported as timed out instead of hanging the caller.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/Nanoseb/BlenderRemoteRender/internal/log"
)

const (
	// maxOutputBytes caps captured stdout/stderr per stream.
	maxOutputBytes = 64 * 1024

	// DefaultTimeout bounds a single scheduler command.
	DefaultTimeout = 60 * time.Second

	// DefaultGracePeriod is the wait between SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

// Outcome classifies a finished command.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	TimedOut  Outcome = "timed_out"
)

// Result is the typed outcome of one command invocation.
type Result struct {
	Outcome  Outcome
	ExitCode int // -1 when the process never produced an exit status
	Stdout   string
	Stderr   string
	Err      error // start/wait failure or timeout
}

// OK reports a zero exit status.
func (r Result) OK() bool { return r.Outcome == Succeeded }

// Message summarises the failure for logs and protocol errors.
func (r Result) Message() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return strings.TrimSpace(r.Stdout)
}

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/Nanoseb/BlenderRemoteRender/internal/command Runner

// Runner executes an argv and reports the outcome.
type Runner interface {
	Run(ctx context.Context, argv []string) Result
}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct {
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger
}

// NewExecRunner returns a runner bounded by timeout (DefaultTimeout if <= 0).
func NewExecRunner(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecRunner{
		timeout: timeout,
		grace:   DefaultGracePeriod,
		logger:  log.WithComponent("command"),
	}
}

// Run executes argv[0] with the remaining arguments.
func (r *ExecRunner) Run(ctx context.Context, argv []string) Result {
	if len(argv) == 0 || argv[0] == "" {
		return Result{Outcome: Failed, ExitCode: -1, Err: errors.New("empty command")}
	}
	logger := r.logger.With("command", argv[0])

	timeoutTimer := time.NewTimer(r.timeout)
	defer timeoutTimer.Stop()

	// Not CommandContext: termination is escalated by hand below.
	cmd := exec.Command(argv[0], argv[1:]...)
	var stdout, stderr cappedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Bounds Wait when a child keeps the output pipes open after exit.
	cmd.WaitDelay = r.grace

	logger.Debug("running command", "args", argv[1:], "timeout", r.timeout)

	if err := cmd.Start(); err != nil {
		return Result{Outcome: Failed, ExitCode: -1, Err: fmt.Errorf("start process: %w", err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var cause error
	select {
	case err := <-waitErr:
		res := Result{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err == nil || errors.Is(err, exec.ErrWaitDelay) {
			res.Outcome = Succeeded
			return res
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Outcome = Failed
			res.ExitCode = exitErr.ExitCode()
			logger.Warn("command exited with non-zero status", "exit_code", res.ExitCode)
			return res
		}
		res.Outcome = Failed
		res.ExitCode = -1
		res.Err = fmt.Errorf("wait for process: %w", err)
		return res

	case <-timeoutTimer.C:
		cause = fmt.Errorf("command timed out after %v", r.timeout)
	case <-ctx.Done():
		cause = ctx.Err()
	}

	logger.Warn("terminating command, sending SIGTERM", "reason", cause)
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("command exited after SIGTERM")
	case <-grace.C:
		logger.Warn("command did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}

	return Result{
		Outcome:  TimedOut,
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Err:      cause,
	}
}

// cappedBuffer keeps the first maxOutputBytes written and discards the rest.
// Writes never fail so the child is not killed by a broken pipe.
type cappedBuffer struct {
	buf bytes.Buffer
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxOutputBytes - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(room, len(p))])
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
