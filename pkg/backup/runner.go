package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Runner executes an external database tool. Arguments are always passed
// as an explicit vector, never through a shell, so values containing
// spaces or metacharacters cannot change the command.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) error
}

// ProcessError reports a tool that exited non-zero.
type ProcessError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ExecRunner runs tools via os/exec.
type ExecRunner struct{}

// Run executes the tool and interprets its exit status. Stderr is captured
// and attached to the error on failure.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &ProcessError{Tool: name, ExitCode: code, Stderr: stderr.String(), Err: err}
	}
	return nil
}
