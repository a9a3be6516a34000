// Package cli wires configuration, loading, execution, aggregation and
// rendering into one subcommand invocation.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stackvity/bqbatch/internal/cli/git"
	"github.com/stackvity/bqbatch/internal/cli/hooks"
	"github.com/stackvity/bqbatch/internal/cli/lister"
	"github.com/stackvity/bqbatch/internal/cli/runner"
	"github.com/stackvity/bqbatch/internal/cli/ui"
	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/aggregate"
	"github.com/stackvity/bqbatch/pkg/batch/cache"
	"github.com/stackvity/bqbatch/pkg/batch/loader"
	"github.com/stackvity/bqbatch/pkg/batch/render"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitItemFailure = 1
	ExitLoad        = 2
	ExitRender      = 3
)

// ExitError carries the process exit code chosen for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Run (or by configuration loading) to a
// process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch {
	case errors.Is(err, batch.ErrLoad), errors.Is(err, batch.ErrConfigValidation):
		return ExitLoad
	case errors.Is(err, batch.ErrRender):
		return ExitRender
	}
	return ExitItemFailure
}

// Env holds the process streams and optional collaborator overrides. Nil
// collaborators are built from the options.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Analyzer     batch.Analyzer
	Lister       loader.DatasetLister
	ChangedFiles loader.ChangedFilesFunc
}

func (e *Env) defaults() {
	if e.Stdin == nil {
		e.Stdin = os.Stdin
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
}

// Run executes one batch subcommand with validated options. Partial results
// are always rendered; the returned error is an *ExitError unless the run
// succeeded completely.
func Run(ctx context.Context, opts batch.Options, logger *slog.Logger, env Env) error {
	env.defaults()
	tool := opts.Tool
	kind, err := batch.KindFor(tool)
	if err != nil {
		return &ExitError{Code: ExitLoad, Err: err}
	}
	runCfg := opts.RunConfig()

	var logHooks *hooks.LogFileHooks
	if opts.LogPath != "" {
		logHooks, err = hooks.OpenLogFile(opts.LogPath, tool)
		if err != nil {
			return &ExitError{Code: ExitLoad, Err: fmt.Errorf("%w: --log: %w", batch.ErrConfigValidation, err)}
		}
		defer logHooks.Close()
	}

	// Aggregation settings are checked before anything runs.
	strategy, err := aggregate.For(tool, runCfg)
	if err != nil {
		return &ExitError{Code: ExitLoad, Err: err}
	}

	items, err := loadItems(ctx, kind, opts, env, logHooks)
	if err != nil {
		return &ExitError{Code: ExitLoad, Err: err}
	}
	logger.Debug("Work items loaded", slog.Int("count", len(items)))

	analyzer := env.Analyzer
	if analyzer == nil {
		analyzer, err = runner.NewExecAnalyzer(tool, opts.Tools[string(tool)], runCfg, opts.Logger)
		if err != nil {
			return &ExitError{Code: ExitLoad, Err: err}
		}
	}

	var store cache.Store
	if !opts.Cache.Disabled {
		store, analyzer = attachCache(opts, runCfg, analyzer, logger)
	}

	stderrFile, _ := env.Stderr.(*os.File)
	tuiActive := opts.TuiEnabled && !opts.Verbose && hooks.IsTerminal(stderrFile)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ledger := batch.NewCostLedger()
	reporters := batch.MultiHooks{ledger}
	var (
		program *tea.Program
		tuiDone chan error
	)
	var bar hooks.ProgressBar
	if tuiActive {
		program, tuiDone = startTUI(runCtx, cancel, tool, opts, env)
		// The engine would otherwise write log lines over the TUI.
		opts.Logger = slog.NewTextHandler(io.Discard, nil)
	} else if opts.Progress {
		bar = hooks.NewProgressBar(env.Stderr, tool, len(items))
	}
	var tuiProg hooks.TUIProgram
	if program != nil {
		tuiProg = program
	}
	reporters = append(reporters, hooks.NewCLIHooks(logger, tool, tuiActive, tuiProg, bar, ledger, env.Stderr))
	if logHooks != nil {
		reporters = append(reporters, logHooks)
	}
	if opts.Hooks != nil {
		reporters = append(reporters, opts.Hooks)
	}
	opts.Hooks = reporters
	opts.Executor = batch.NewItemExecutor(analyzer, opts.Logger)

	engine, err := batch.NewEngine(opts)
	if err != nil {
		return &ExitError{Code: ExitLoad, Err: err}
	}
	run, err := engine.Run(runCtx, items)
	if program != nil {
		program.Quit()
		if tuiErr := <-tuiDone; tuiErr != nil {
			logger.Warn("Terminal UI exited with an error", slog.String("error", tuiErr.Error()))
		}
	}
	if err != nil {
		return &ExitError{Code: ExitLoad, Err: err}
	}

	if store != nil {
		if err := store.Persist(opts.Cache.File); err != nil {
			logger.Warn("Failed to save result cache", slog.String("path", opts.Cache.File), slog.String("error", err.Error()))
		}
	}

	report := strategy.Aggregate(run)
	if gb, usd, n := ledger.Totals(); n > 0 {
		logger.Debug("Cost totals", slog.Float64("gb", gb), slog.Float64("usd", usd), slog.Int("items", n))
	}

	if err := writeReport(run, report, strategy, opts, env, logger); err != nil {
		return &ExitError{Code: ExitRender, Err: err}
	}

	if err := run.Err(); err != nil {
		return &ExitError{Code: ExitItemFailure, Err: err}
	}
	return nil
}

func loadItems(ctx context.Context, kind batch.ItemKind, opts batch.Options, env Env, logHooks *hooks.LogFileHooks) ([]batch.WorkItem, error) {
	listing := env.Lister
	if listing == nil && opts.Inputs.Dataset != "" {
		l, err := lister.NewExecLister(opts.Lister.Command, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", batch.ErrLoad, err)
		}
		listing = l
	}
	changed := env.ChangedFiles
	if changed == nil {
		changed = git.NewChangedFiles(opts.Logger).List
	}

	if logHooks != nil {
		logHooks.OnLoadStart(describeSource(opts.Inputs))
	}
	items, err := loader.Load(ctx, kind, opts.Inputs, loader.Options{
		Stdin:        env.Stdin,
		Lister:       listing,
		ChangedFiles: changed,
		Logger:       opts.Logger,
	})
	if logHooks != nil {
		logHooks.OnLoadFinish(len(items), err)
	}
	return items, err
}

// describeSource names the input descriptor for the log file.
func describeSource(sel batch.InputSelection) string {
	switch {
	case sel.File != "":
		return "file " + sel.File
	case sel.Stdin:
		return "stdin"
	case sel.Dataset != "" && sel.CompareDataset != "":
		return "datasets " + sel.Dataset + ", " + sel.CompareDataset
	case sel.Dataset != "":
		return "dataset " + sel.Dataset
	case sel.Dir != "":
		if sel.GitChanged {
			return "directory " + sel.Dir + " (git changes only)"
		}
		return "directory " + sel.Dir
	}
	return fmt.Sprintf("%d arguments", len(sel.Args))
}

// attachCache loads the result cache and wraps analyzer with it. Load
// problems only cost cache hits.
func attachCache(opts batch.Options, runCfg batch.RunConfig, analyzer batch.Analyzer, logger *slog.Logger) (cache.Store, batch.Analyzer) {
	ttl, err := cache.ParseTTL(opts.Cache.TTL)
	if err != nil {
		ttl = cache.DefaultTTL
	}
	store := cache.NewFileStore(opts.Logger, opts.AppVersion, strings.ToLower(opts.Cache.Format), ttl)
	if err := store.Load(opts.Cache.File); err != nil {
		logger.Warn("Result cache not loaded, starting empty", slog.String("path", opts.Cache.File), slog.String("error", err.Error()))
	}
	command := opts.Tools[string(opts.Tool)].Command
	wrapped := cache.NewCachingAnalyzer(analyzer, store, opts.Tool, cache.ConfigHash(command, runCfg), opts.Cache.SkipReads, opts.Logger)
	return store, wrapped
}

// startTUI runs the bubbletea program in the background. Quitting the TUI
// cancels the run.
func startTUI(ctx context.Context, cancel context.CancelFunc, tool batch.Tool, opts batch.Options, env Env) (*tea.Program, chan error) {
	teaOpts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(env.Stderr)}
	if opts.Inputs.Stdin {
		teaOpts = append(teaOpts, tea.WithInputTTY())
	}
	program := tea.NewProgram(ui.NewModel(tool, opts.AppVersion), teaOpts...)
	done := make(chan error, 1)
	go func() {
		_, err := program.Run()
		cancel()
		if errors.Is(err, tea.ErrProgramKilled) {
			err = nil
		}
		done <- err
	}()
	return program, done
}

// writeReport renders to --output or stdout. When the sink fails the report
// is written to stdout instead and the sink error is returned.
func writeReport(run *batch.BatchRun, report *aggregate.Report, strategy aggregate.Strategy, opts batch.Options, env Env, logger *slog.Logger) error {
	renderOpts := render.Options{Format: opts.Format, Quiet: opts.Quiet}
	if opts.OutputPath == "" {
		return render.Render(env.Stdout, run, report, strategy, renderOpts)
	}

	err := writeReportFile(opts.OutputPath, run, report, strategy, renderOpts)
	if err == nil {
		logger.Info("Report written", slog.String("path", opts.OutputPath), slog.String("format", string(opts.Format)))
		return nil
	}
	logger.Error("Failed to write report, printing it to stdout instead", slog.String("path", opts.OutputPath), slog.String("error", err.Error()))
	if fbErr := render.Render(env.Stdout, run, report, strategy, renderOpts); fbErr != nil {
		logger.Error("Fallback render failed", slog.String("error", fbErr.Error()))
	}
	return err
}

func writeReportFile(path string, run *batch.BatchRun, report *aggregate.Report, strategy aggregate.Strategy, renderOpts render.Options) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: creating output directory: %w", batch.ErrRender, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: opening output file: %w", batch.ErrRender, err)
	}
	if err := render.Render(f, run, report, strategy, renderOpts); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing output file: %w", batch.ErrRender, err)
	}
	return nil
}
