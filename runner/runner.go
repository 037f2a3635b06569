// Package runner executes external commands from structured argument
// vectors, without a shell. Non-zero exits and stderr output are
// reported back as data, never as errors: callers decide per
// invocation whether a failure is fatal.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Result captures one finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

func (r Result) Failed() bool {
	return r.ExitCode != 0
}

// Options modify a single invocation.
type Options struct {
	// Dir is the working directory for the command.
	Dir string
	// Env entries ("KEY=value") are appended to the inherited
	// environment.
	Env []string
	// LogPath, when set, sends both stdout and stderr of the child
	// to that file (created or appended). Result.Stdout/Stderr stay
	// empty in that case.
	LogPath string
}

// Runner runs one external command to completion.
type Runner interface {
	Run(ctx context.Context, argv []string, opts Options) (Result, error)
}

// Local runs commands on the host.
type Local struct {
	l *slog.Logger
}

func New(l *slog.Logger) *Local {
	return &Local{l: l.With("component", "runner")}
}

// Run executes argv and returns its outcome. The returned error is
// non-nil only when the command could not be run at all (bad argv,
// spawn failure, cancelled context) — a command that ran and exited
// non-zero yields a nil error and a Result with the exit code.
func (r *Local) Run(ctx context.Context, argv []string, opts Options) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	if opts.LogPath != "" {
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return Result{}, fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	r.l.Info("running command", "argv", argv, "dir", opts.Dir)

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("running %s: %w", argv[0], err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	if res.Stderr != "" {
		r.l.Error("command stderr", "argv", argv, "stderr", res.Stderr)
	}
	if res.ExitCode != 0 {
		r.l.Error("command exited non-zero", "argv", argv, "exit_code", res.ExitCode)
	}

	return res, nil
}
