package application

import (
	"context"
	"io"
	"os/exec"
)

// CommandRunner executes an external command, streaming combined output to
// out. A non-zero exit is returned as an error.
type CommandRunner interface {
	Run(ctx context.Context, dir string, out io.Writer, name string, args ...string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts the command and waits for it.
func (ExecRunner) Run(ctx context.Context, dir string, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}
