// Package probe runs short-lived external commands under a hard
// wall-clock budget and stops calling ones that keep failing. It is the
// capability an external capture source (a VCS status probe, a build-tool
// health check, anything invoked as a subprocess) needs regardless of what
// command it actually runs — this package never shells out to git or any
// other specific tool itself.
package probe

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	aerrors "actiontrace/pkg/errors"

	"github.com/sirupsen/logrus"
)

// Default bounds, grounded on the same 5s context.WithTimeout budget the
// teacher's HTTP transport diagnostic gives its Docker ping, plus a
// tighter secondary cap on draining output once the process exits.
const (
	DefaultWallClockCap = 5 * time.Second
	DefaultOutputCap    = 1 * time.Second
	killGrace           = 200 * time.Millisecond
)

// Result is what a probe invocation reports back, default-valued on any
// failure so a capture source always has something to record rather than
// propagating the failure into the event stream.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Spec describes one command invocation.
type Spec struct {
	Name string
	Args []string
	Dir  string

	WallClockCap time.Duration // defaults to DefaultWallClockCap
	OutputCap    time.Duration // defaults to DefaultOutputCap
}

// Runner executes Specs under their wall-clock cap, killing the child
// (and waiting out a short grace period) if it overruns.
type Runner struct {
	logger *logrus.Logger
}

// NewRunner returns a Runner. logger may be nil.
func NewRunner(logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{logger: logger}
}

// Run executes spec, enforcing its wall-clock cap end to end (process
// start through output drain) and killing the child on expiry. A timeout
// is reported via Result.TimedOut rather than returned as an error — a
// slow probe is an expected outcome for a capture source, not a bug.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	wallCap := spec.WallClockCap
	if wallCap <= 0 {
		wallCap = DefaultWallClockCap
	}
	outputCap := spec.OutputCap
	if outputCap <= 0 {
		outputCap = DefaultOutputCap
	}

	runCtx, cancel := context.WithTimeout(ctx, wallCap)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, aerrors.New(aerrors.SeverityMedium, aerrors.CodeProbeFailed, "probe", "Run", "failed to start probe command").Wrap(err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		result := Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
			ExitCode: exitCode(cmd, err),
		}
		return result, nil
	case <-runCtx.Done():
		r.killWithGrace(cmd, outputCap, done)
		return Result{
			Stdout:   truncate(stdout.String()),
			Stderr:   truncate(stderr.String()),
			Duration: time.Since(start),
			TimedOut: true,
			ExitCode: -1,
		}, nil
	}
}

// killWithGrace signals the child and waits up to outputCap plus a short
// grace period for it to actually exit before giving up on the wait
// goroutine; a leaked goroutine here is bounded to one per timed-out
// probe, not an accumulating leak, since cmd.Wait always returns once
// the process exits.
func (r *Runner) killWithGrace(cmd *exec.Cmd, outputCap time.Duration, done <-chan error) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(outputCap + killGrace):
		r.logger.WithField("command", cmd.Path).Warn("probe did not exit within kill grace period")
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

func truncate(s string) string {
	const maxLen = 4096
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
