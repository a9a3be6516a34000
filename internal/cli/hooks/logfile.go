package hooks

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/logline"
)

// LogFileHooks writes one line per lifecycle event through a logline
// handler: load started and finished, item started, succeeded or failed,
// run finished.
type LogFileHooks struct {
	logger *slog.Logger
	tool   batch.Tool
	closer io.Closer
}

// OpenLogFile appends to path, creating it and its directory as needed.
func OpenLogFile(path string, tool batch.Tool) (*LogFileHooks, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	h := NewLogFileHooks(f, tool)
	h.closer = f
	return h, nil
}

// NewLogFileHooks writes to w.
func NewLogFileHooks(w io.Writer, tool batch.Tool) *LogFileHooks {
	return &LogFileHooks{logger: slog.New(logline.New(w, slog.LevelInfo)), tool: tool}
}

// Close closes the underlying file, if the hooks own one.
func (h *LogFileHooks) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}

// OnLoadStart records the start of target loading.
func (h *LogFileHooks) OnLoadStart(source string) {
	h.logger.Info(fmt.Sprintf("batch-%s: loading targets from %s", h.tool, source))
}

// OnLoadFinish records the loading outcome.
func (h *LogFileHooks) OnLoadFinish(count int, err error) {
	if err != nil {
		h.logger.Error(fmt.Sprintf("batch-%s: loading failed: %v", h.tool, err))
		return
	}
	h.logger.Info(fmt.Sprintf("batch-%s: loaded %d targets", h.tool, count))
}

// OnStart implements batch.Hooks.
func (h *LogFileHooks) OnStart(total int) error {
	h.logger.Info(fmt.Sprintf("batch-%s: run started with %d items", h.tool, total))
	return nil
}

// OnItemStart implements batch.Hooks.
func (h *LogFileHooks) OnItemStart(item batch.WorkItem) error {
	h.logger.Info(fmt.Sprintf("item %d started: %s", item.Seq, item.Label()))
	return nil
}

// OnItemComplete implements batch.Hooks.
func (h *LogFileHooks) OnItemComplete(item batch.WorkItem, result batch.ResultEnvelope, completed, total int) error {
	d := time.Duration(result.DurationMillis) * time.Millisecond
	if result.OK() {
		h.logger.Info(fmt.Sprintf("item %d succeeded in %s: %s (%d/%d)", item.Seq, d, item.Label(), completed, total))
		return nil
	}
	msg := ""
	if result.Error != nil {
		msg = result.Error.Message
	}
	h.logger.Error(fmt.Sprintf("item %d failed in %s: %s: %s (%d/%d)", item.Seq, d, item.Label(), msg, completed, total))
	return nil
}

// OnFinish implements batch.Hooks.
func (h *LogFileHooks) OnFinish(run *batch.BatchRun) error {
	line := fmt.Sprintf("batch-%s: run finished in %s: %d succeeded, %d failed, %d of %d completed",
		h.tool, run.Duration().Round(time.Millisecond), run.SucceededCount(), run.FailedCount(), run.CompletedCount(), run.TotalCount())
	if run.Aborted() {
		h.logger.Error(line + " (aborted)")
		return nil
	}
	if run.FailedCount() > 0 {
		h.logger.Error(line)
		return nil
	}
	h.logger.Info(line)
	return nil
}
