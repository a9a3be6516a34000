package hooks

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/stackvity/bqbatch/pkg/batch"
	"golang.org/x/term"
)

// --- TUI messages ---

// RunStartMsg announces the number of items about to run.
type RunStartMsg struct {
	Tool  batch.Tool
	Total int
}

// ItemStartMsg is sent when a worker picks up an item.
type ItemStartMsg struct{ Item batch.WorkItem }

// ItemCompleteMsg carries one finished item.
type ItemCompleteMsg struct {
	Item      batch.WorkItem
	Status    batch.Status
	Message   string
	Duration  time.Duration
	Completed int
	Total     int
	CostGB    float64
}

// RunCompleteMsg is sent once the run is sealed.
type RunCompleteMsg struct {
	Total     int
	Completed int
	Succeeded int
	Failed    int
	Aborted   bool
	Duration  time.Duration
}

// TUIProgram decouples the hooks from *tea.Program.
type TUIProgram interface {
	Send(msg tea.Msg)
}

// ProgressBar decouples the hooks from *progressbar.ProgressBar.
type ProgressBar interface {
	Add(num int) error
	Describe(description string)
	ChangeMax(max int)
	Close() error
}

// NoOpTUIProgram discards every message.
type NoOpTUIProgram struct{}

// Send implements TUIProgram.
func (NoOpTUIProgram) Send(tea.Msg) {}

// NoOpProgressBar draws nothing.
type NoOpProgressBar struct{}

// Add implements ProgressBar.
func (NoOpProgressBar) Add(int) error { return nil }

// Describe implements ProgressBar.
func (NoOpProgressBar) Describe(string) {}

// ChangeMax implements ProgressBar.
func (NoOpProgressBar) ChangeMax(int) {}

// Close implements ProgressBar.
func (NoOpProgressBar) Close() error { return nil }

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// NewProgressBar returns a single-line bar on w for total items.
func NewProgressBar(w io.Writer, tool batch.Tool, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(string(tool)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)
}

// CLIHooks reports progress on the interactive error stream, either through
// the TUI or a progress bar. Item failures are logged when neither is active.
type CLIHooks struct {
	batch.NoOpHooks

	logger      *slog.Logger
	tool        batch.Tool
	tuiEnabled  bool
	tuiProgram  TUIProgram
	progressBar ProgressBar
	ledger      *batch.CostLedger
	out         io.Writer
	mu          sync.Mutex
}

// NewCLIHooks creates the reporter. A nil progBar disables the bar; ledger
// may be nil when costs are not tracked.
func NewCLIHooks(logger *slog.Logger, tool batch.Tool, tuiEnabled bool, tuiProg TUIProgram, progBar ProgressBar, ledger *batch.CostLedger, out io.Writer) *CLIHooks {
	if tuiProg == nil {
		tuiProg = NoOpTUIProgram{}
	}
	if out == nil {
		out = os.Stderr
	}
	return &CLIHooks{
		logger:      logger,
		tool:        tool,
		tuiEnabled:  tuiEnabled,
		tuiProgram:  tuiProg,
		progressBar: progBar,
		ledger:      ledger,
		out:         out,
	}
}

// OnStart implements batch.Hooks.
func (h *CLIHooks) OnStart(total int) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(RunStartMsg{Tool: h.tool, Total: total})
		return nil
	}
	if h.progressBar != nil {
		h.mu.Lock()
		h.progressBar.ChangeMax(total)
		h.mu.Unlock()
	}
	return nil
}

// OnItemStart implements batch.Hooks.
func (h *CLIHooks) OnItemStart(item batch.WorkItem) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(ItemStartMsg{Item: item})
		return nil
	}
	h.logger.Debug("Item started", slog.Int("seq", item.Seq), slog.String("item", item.Label()))
	return nil
}

// OnItemComplete implements batch.Hooks.
func (h *CLIHooks) OnItemComplete(item batch.WorkItem, result batch.ResultEnvelope, completed, total int) error {
	duration := time.Duration(result.DurationMillis) * time.Millisecond
	message := ""
	if result.Error != nil {
		message = result.Error.Message
	}

	if h.tuiEnabled {
		msg := ItemCompleteMsg{
			Item: item, Status: result.Status, Message: message,
			Duration: duration, Completed: completed, Total: total,
		}
		if cr, ok := result.Payload.(batch.CostReporter); ok {
			msg.CostGB = cr.CostGB()
		}
		h.tuiProgram.Send(msg)
		return nil
	}

	if h.progressBar != nil {
		h.mu.Lock()
		if desc := h.describe(); desc != "" {
			h.progressBar.Describe(desc)
		}
		_ = h.progressBar.Add(1)
		h.mu.Unlock()
	}

	if !result.OK() {
		h.logger.Error("Item failed", slog.Int("seq", item.Seq), slog.String("item", item.Label()), slog.String("error", message))
	} else {
		h.logger.Debug("Item succeeded", slog.Int("seq", item.Seq), slog.String("item", item.Label()), slog.Duration("duration", duration))
	}
	return nil
}

// describe renders the bar label, including the running cost total when a
// ledger is attached and has seen a costed payload.
func (h *CLIHooks) describe() string {
	if h.ledger == nil {
		return ""
	}
	gb, usd, n := h.ledger.Totals()
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%s %s GB ~$%.2f", h.tool, humanize.FormatFloat("#,###.##", gb), usd)
}

// OnFinish implements batch.Hooks.
func (h *CLIHooks) OnFinish(run *batch.BatchRun) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(RunCompleteMsg{
			Total:     run.TotalCount(),
			Completed: run.CompletedCount(),
			Succeeded: run.SucceededCount(),
			Failed:    run.FailedCount(),
			Aborted:   run.Aborted(),
			Duration:  run.Duration(),
		})
		return nil
	}
	if h.progressBar != nil {
		h.mu.Lock()
		_ = h.progressBar.Close()
		h.mu.Unlock()
		_, _ = fmt.Fprintln(h.out)
	}
	if run.Aborted() {
		h.logger.Warn("Run aborted after a failure; remaining items were not started",
			slog.Int("completed", run.CompletedCount()), slog.Int("total", run.TotalCount()))
	}
	return nil
}
