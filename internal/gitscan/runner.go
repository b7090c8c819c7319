package gitscan

import (
	"context"
	"os/exec"
)

// CommandRunner abstracts process execution so tests can substitute a fake
// without a real Git repository or a git binary on PATH.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// execRunner runs real OS processes.
type execRunner struct{}

// NewExecRunner returns the default, real CommandRunner.
func NewExecRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.Output()
}
