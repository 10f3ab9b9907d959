package schedule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner runs an external command. stdin may be nil.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and returns its combined output.
func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, translateError(ctx, err, name, string(out))
	}
	return out, nil
}

// RunError is a failed scheduler command.
type RunError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *RunError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s failed (exit %d): %s", e.Command, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// translateError maps a command failure to a RunError with trimmed
// output. A command killed because ctx ended reports the context error.
func translateError(ctx context.Context, err error, name, output string) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.Canceled):
		return fmt.Errorf("%s cancelled: %w", name, ctxErr)
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return fmt.Errorf("%s timed out: %w", name, ctxErr)
	}

	re := &RunError{Command: name, ExitCode: -1, Output: tidyOutput(output), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		re.ExitCode = exitErr.ExitCode()
	}
	return re
}

// tidyOutput limits the length of command output and hides the home
// directory.
func tidyOutput(msg string) string {
	const maxLen = 200
	msg = strings.TrimSpace(msg)
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "..."
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		msg = strings.ReplaceAll(msg, home, "$HOME")
	}
	return msg
}
