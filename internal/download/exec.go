package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ExitError is returned when an external tool exits with a non-zero code.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.Code, strings.TrimSpace(e.Stderr))
}

// Runner starts external tools. Run blocks until the process exits and
// returns nil only for a zero exit code.
type Runner interface {
	Run(ctx context.Context, path string, args ...string) error
}

// ExecRunner runs tools as child processes. When ctx is cancelled the child
// is sent an interrupt and, if it has not exited after KillGrace, killed.
type ExecRunner struct {
	KillGrace time.Duration
}

const stderrKeep = 64 * 1024

func (r ExecRunner) Run(ctx context.Context, path string, args ...string) error {
	tool := filepath.Base(path)
	stderr := &tailBuffer{max: stderrKeep}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.KillGrace

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Tool: tool, Code: ee.ExitCode(), Stderr: stderr.String()}
	}
	return fmt.Errorf("failed to run %s: %w", tool, err)
}

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

// lastN returns at most the final n bytes of s.
func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
