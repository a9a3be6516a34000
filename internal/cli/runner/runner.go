// Package runner executes the wrapped single-item tools as child processes
// and turns their output into typed payloads.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/payload"
)

// Item placeholders substituted in configured commands.
const (
	PlaceholderTable = "{table}"
	PlaceholderLeft  = "{left}"
	PlaceholderRight = "{right}"
	PlaceholderPath  = "{path}"
)

// ExecAnalyzer implements batch.Analyzer by running a configured command once
// per item. Arguments are passed without a shell, so identifiers are never
// interpreted.
type ExecAnalyzer struct {
	tool        batch.Tool
	command     []string
	passThrough []string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewExecAnalyzer validates the tool configuration and prepares the fixed part
// of every invocation.
func NewExecAnalyzer(tool batch.Tool, cfg batch.ToolConfig, run batch.RunConfig, loggerHandler slog.Handler) (*ExecAnalyzer, error) {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		return nil, fmt.Errorf("%w: command for tool '%s' cannot be empty", batch.ErrConfigValidation, tool)
	}
	var timeout time.Duration
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: invalid timeout '%s' for tool '%s'", batch.ErrConfigValidation, cfg.Timeout, tool)
		}
		timeout = d
	}
	return &ExecAnalyzer{
		tool:        tool,
		command:     append([]string(nil), cfg.Command...),
		passThrough: PassThroughFlags(tool, run),
		timeout:     timeout,
		logger:      slog.New(loggerHandler).With(slog.String("component", "execAnalyzer"), slog.String("tool", string(tool))),
	}, nil
}

// PassThroughFlags are the tool options forwarded unchanged to every
// invocation. Unset options are omitted.
func PassThroughFlags(tool batch.Tool, run batch.RunConfig) []string {
	var flags []string
	switch tool {
	case batch.ToolProfile:
		if run.SampleSize > 0 {
			flags = append(flags, "--sample-size="+strconv.Itoa(run.SampleSize))
		}
	case batch.ToolCompare:
		if run.SampleSize > 0 {
			flags = append(flags, "--sample-size="+strconv.Itoa(run.SampleSize))
		}
		if run.SkipStats {
			flags = append(flags, "--skip-stats")
		}
		if run.SkipSamples {
			flags = append(flags, "--skip-samples")
		}
	}
	return flags
}

// Argv expands the command template for one item.
func (a *ExecAnalyzer) Argv(item batch.WorkItem) []string {
	r := strings.NewReplacer(
		PlaceholderTable, item.ID,
		PlaceholderLeft, item.Left,
		PlaceholderRight, item.Right,
		PlaceholderPath, item.Path,
	)
	argv := make([]string, 0, len(a.command)+len(a.passThrough))
	for _, arg := range a.command {
		argv = append(argv, r.Replace(arg))
	}
	return append(argv, a.passThrough...)
}

// Analyze implements batch.Analyzer.
func (a *ExecAnalyzer) Analyze(ctx context.Context, item batch.WorkItem) (any, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	argv := a.Argv(item)
	logArgs := []any{slog.Int("seq", item.Seq), slog.String("item", item.Label())}

	res, err := Exec(ctx, argv, a.logger)
	if res.Stderr != "" {
		logArgs = append(logArgs, slog.String("tool_stderr", res.LastStderrLine()))
	}
	if err != nil {
		return nil, a.classify(err, res, argv, logArgs)
	}

	v, err := payload.Decode(a.tool, res.Stdout)
	if err != nil {
		a.logger.Debug("Tool output rejected", append(logArgs, slog.String("stdout_prefix", truncateForLog(res.Stdout)), slog.String("error", err.Error()))...)
		return nil, err
	}
	a.logger.Debug("Tool finished successfully", logArgs...)
	return v, nil
}

func (a *ExecAnalyzer) classify(err error, res Result, argv []string, logArgs []any) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.logger.Debug("Tool cancelled or timed out", append(logArgs, slog.String("error", err.Error()))...)
		return fmt.Errorf("%w: %w: '%s': %w", batch.ErrItemExecution, batch.ErrToolTimeout, argv[0], err)
	case errors.Is(err, ErrOutputTooLarge):
		return batch.ToolError(batch.ErrToolBadOutput, "output exceeded %d bytes", maxReadBytes)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		a.logger.Debug("Tool exited non-zero", append(logArgs, slog.Int("exitCode", res.ExitCode))...)
		if line := res.LastStderrLine(); line != "" {
			return batch.ToolError(batch.ErrToolNonZeroExit, "exit code %d: %s", res.ExitCode, line)
		}
		return batch.ToolError(batch.ErrToolNonZeroExit, "exit code %d", res.ExitCode)
	}
	a.logger.Debug("Tool could not be run", append(logArgs, slog.String("error", err.Error()))...)
	return fmt.Errorf("%w: %w", batch.ErrItemExecution, err)
}
