package regexsource

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Runner invokes the external matcher binary with the given pattern, feeding
// it the flattened corpus on stdin and returning its stdout.
type Runner interface {
	Run(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error)
}

// execRunner runs the matcher as a real subprocess via os/exec, the same
// external-program posture the Repository Scanner takes toward git.
type execRunner struct{}

// NewExecRunner returns the default Runner, invoking binaries on PATH.
func NewExecRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	out, err := cmd.Output()
	if err != nil {
		// grep (and most matcher binaries) exit 1 for "no match", which is
		// not a failure of the matcher itself.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("running matcher %s: %w", binary, err)
	}
	return out, nil
}

// MatcherConfig names the external matcher binary and its fixed arguments;
// the pattern is appended as the final argument on each query.
type MatcherConfig struct {
	Binary string
	Args   []string
}

// DefaultMatcher shells out to grep with extended regex, matching how the
// original implementation shells out to an external search tool rather
// than linking one in.
func DefaultMatcher() MatcherConfig {
	return MatcherConfig{Binary: "grep", Args: []string{"-E"}}
}
