package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// ItemExecutor wraps an Analyzer and normalizes every outcome into a
// ResultEnvelope: timing, panic recovery and error conversion.
type ItemExecutor struct {
	analyzer Analyzer
	logger   *slog.Logger
	now      func() time.Time
}

// NewItemExecutor creates an ItemExecutor around analyzer.
func NewItemExecutor(analyzer Analyzer, loggerHandler slog.Handler) *ItemExecutor {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	return &ItemExecutor{
		analyzer: analyzer,
		logger:   slog.New(loggerHandler).With(slog.String("component", "executor")),
		now:      time.Now,
	}
}

// Execute implements Executor. It never panics and never returns an error.
func (e *ItemExecutor) Execute(ctx context.Context, item WorkItem) (env ResultEnvelope) {
	start := e.now()
	elapsed := func() int64 { return e.now().Sub(start).Milliseconds() }

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic recovered in analyzer", slog.String("item", item.Label()), slog.Any("panicValue", r))
			env = Failed(item.Seq, fmt.Sprintf("analyzer panicked: %v", r), "panic", elapsed())
		}
	}()

	if e.analyzer == nil {
		return Failed(item.Seq, "no analyzer configured", "", elapsed())
	}

	payload, err := e.analyzer.Analyze(ctx, item)
	if err != nil {
		msg, cause := describeError(err)
		e.logger.Debug("Item failed", slog.String("item", item.Label()), slog.String("error", err.Error()))
		return Failed(item.Seq, msg, cause, elapsed())
	}
	if payload == nil {
		return Failed(item.Seq, "tool returned no result", ErrToolBadOutput.Error(), elapsed())
	}
	return Succeeded(item.Seq, payload, elapsed())
}

// describeError splits an error into a one-line message and its category.
func describeError(err error) (message, cause string) {
	message = err.Error()
	for _, sentinel := range []error{ErrToolTimeout, ErrToolNonZeroExit, ErrToolBadOutput} {
		if errors.Is(err, sentinel) {
			cause = sentinel.Error()
			prefix := ErrItemExecution.Error() + ": " + sentinel.Error() + ": "
			message = strings.TrimPrefix(message, prefix)
			break
		}
	}
	if cause == "" && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		cause = ErrToolTimeout.Error()
	}
	return message, cause
}
