package batch

import (
	"errors"
	"fmt"
)

// Errors returned by the batch engine and its loaders. Callers check them with
// errors.Is; the CLI maps them to exit codes.
var (
	// ErrLoad marks a bad input descriptor or input file. Nothing has been
	// executed when it is returned.
	ErrLoad = errors.New("failed to load work items")

	// ErrRunAborted marks a run that stopped dispatching after the first
	// item failure because continue-on-error was off.
	ErrRunAborted = errors.New("batch run aborted")

	// ErrRender marks an output sink that could not be written. The analysis
	// results are still held by the BatchRun.
	ErrRender = errors.New("failed to render report")

	// ErrConfigValidation indicates invalid engine or CLI options.
	ErrConfigValidation = errors.New("invalid configuration options provided")

	// ErrItemExecution is the general category for a wrapped tool call that
	// failed. The more specific errors below also match it via errors.Is.
	ErrItemExecution = errors.New("item execution failed")

	// ErrToolNonZeroExit indicates the wrapped tool exited with a non-zero status.
	ErrToolNonZeroExit = errors.New("tool exited non-zero")

	// ErrToolBadOutput indicates the wrapped tool printed something that is
	// not a valid result payload.
	ErrToolBadOutput = errors.New("tool returned invalid output")

	// ErrToolTimeout indicates the tool call was cancelled by its context.
	ErrToolTimeout = errors.New("tool execution cancelled or timed out")

	// ErrResultRejected is returned when a result cannot be recorded on a run:
	// out-of-range index, duplicate index or a sealed run.
	ErrResultRejected = errors.New("result rejected by batch run")
)

// ToolError wraps a specific tool error so that it also matches ErrItemExecution.
func ToolError(specific error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrItemExecution, specific, fmt.Sprintf(format, args...))
}
