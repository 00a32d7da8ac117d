package archival

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxCapture bounds how much stdout/stderr is kept per invocation.
const maxCapture = 64 << 10

// Command is one external process invocation. Args are passed verbatim,
// never through a shell.
type Command struct {
	Name string
	Args []string
	Dir  string
}

func (c Command) String() string { return c.Name + " " + strings.Join(c.Args, " ") }

// Output is what a finished process left behind.
type Output struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Runner runs external commands. Run returns a non-nil error when the
// process could not be started, timed out, or exited non-zero; Output is
// set whenever the process ran.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
}

// ExecRunner runs commands with os/exec. At most maxConcurrent processes
// run at once; each is killed after timeout.
type ExecRunner struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecRunner returns an ExecRunner.
func NewExecRunner(maxConcurrent int, timeout time.Duration, logger *slog.Logger) *ExecRunner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
		logger:  logger,
	}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (*Output, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%s: wait for process slot: %w", c.Name, err)
	}
	defer r.sem.Release(1)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = 5 * time.Second
	stdout := &cappedBuffer{max: maxCapture}
	stderr := &cappedBuffer{max: maxCapture}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	t0 := time.Now()
	runErr := cmd.Run()
	out := &Output{
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(t0),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	r.logger.Debug("archival: process finished",
		"cmd", c.Name, "exit", out.ExitCode, "duration_ms", out.Duration.Milliseconds())

	switch {
	case runErr == nil:
		return out, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out, fmt.Errorf("%s: timed out after %s", c.Name, r.timeout)
	case ctx.Err() != nil:
		return out, fmt.Errorf("%s: %w", c.Name, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return out, fmt.Errorf("%s: exit status %d: %s", c.Name, out.ExitCode, lastLine(out.Stderr))
	}
	return nil, fmt.Errorf("%s: %w", c.Name, runErr)
}

// cappedBuffer keeps the first max bytes written and discards the rest.
type cappedBuffer struct {
	bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

func lastLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
