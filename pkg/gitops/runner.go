package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"vocalcommit/pkg/logx"
)

// runner executes git as a subprocess: argv only, never through a shell,
// with a per-call timeout.
type runner struct {
	dir     string
	timeout time.Duration
	logger  *logx.Logger
}

func newRunner(dir string, timeout time.Duration, logger *logx.Logger) *runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &runner{dir: dir, timeout: timeout, logger: logger}
}

// run executes `git args...` in the runner's directory and returns trimmed
// stdout. Failures wrap stderr so callers see what git said.
func (r *runner) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(),
		"GIT_SSH_COMMAND=ssh -o BatchMode=yes -o ConnectTimeout=10",
		"GIT_TERMINAL_PROMPT=0",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	r.logger.Debug("git %s: err=%v", strings.Join(args, " "), err)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s timed out after %s", strings.Join(args, " "), r.timeout)
		}
		return "", fmt.Errorf("git %s failed: %w (output: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
