package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	maxLogOutputBytes = 1024
	maxReadBytes      = 10 * 1024 * 1024 // 10 MiB cap on captured stdout/stderr

	// waitDelay bounds how long Wait keeps reading after the process was
	// killed, for children that inherited its output.
	waitDelay = 2 * time.Second
)

// ErrOutputTooLarge is returned when a command writes more than the capture
// limit to stdout.
var ErrOutputTooLarge = fmt.Errorf("stdout exceeded limit of %d bytes", maxReadBytes)

// Result holds the captured output of one command.
type Result struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// LastStderrLine returns the last non-blank stderr line, which is where
// command line tools put their error message.
func (r Result) LastStderrLine() string {
	lines := strings.Split(strings.TrimSpace(r.Stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// cappedBuffer keeps the first limit bytes written and silently drops the
// rest, so the child never blocks on a full pipe.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room < len(p) {
		c.overflow = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}

// Exec runs argv without a shell, capturing stdout and stderr up to the
// limit. A non-nil error is a start failure, a context error, an
// *exec.ExitError or ErrOutputTooLarge; Result is filled whenever the process
// ran.
func Exec(ctx context.Context, argv []string, logger *slog.Logger) (Result, error) {
	res := Result{ExitCode: -1}
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return res, errors.New("command cannot be empty")
	}

	stdout := &cappedBuffer{limit: maxReadBytes}
	stderr := &cappedBuffer{limit: maxReadBytes}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("failed to start '%s': %w", argv[0], err)
	}
	logger.Debug("Process started", slog.String("command", argv[0]), slog.Int("pid", cmd.Process.Pid))
	waitErr := cmd.Wait()

	res.Stdout = stdout.buf.Bytes()
	res.Stderr = strings.TrimSpace(stderr.buf.String())
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if stderr.overflow {
		logger.Warn("Process stderr truncated", slog.Int("limit_bytes", maxReadBytes))
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return res, waitErr
	}
	if stdout.overflow {
		logger.Warn("Process stdout truncated", slog.Int("limit_bytes", maxReadBytes))
		return res, ErrOutputTooLarge
	}
	return res, nil
}

func truncateForLog(b []byte) string {
	s := string(b)
	if len(s) > maxLogOutputBytes {
		return s[:maxLogOutputBytes] + "... (truncated)"
	}
	return s
}
