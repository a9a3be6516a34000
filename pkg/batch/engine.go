package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine runs an Executor over a list of work items with a fixed pool of
// workers and collects the outcomes into a BatchRun.
type Engine struct {
	opts        Options
	logger      *slog.Logger
	executor    Executor
	hooks       Hooks
	concurrency int
	now         func() time.Time
}

// NewEngine validates options and creates an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("%w: Logger implementation (slog.Handler) cannot be nil", ErrConfigValidation)
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("%w: Executor cannot be nil", ErrConfigValidation)
	}
	if opts.Hooks == nil {
		opts.Hooks = NoOpHooks{}
	}
	if opts.Concurrency < 0 {
		return nil, fmt.Errorf("%w: concurrency must be >= 1, got %d", ErrConfigValidation, opts.Concurrency)
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Engine{
		opts:        opts,
		logger:      slog.New(opts.Logger).With(slog.String("component", "engine")),
		executor:    opts.Executor,
		hooks:       opts.Hooks,
		concurrency: opts.Concurrency,
		now:         time.Now,
	}, nil
}

// Run executes every item and returns the sealed BatchRun. The returned error
// is non-nil only when the run could not be set up; per-item failures and
// aborts are reported by BatchRun.Err.
//
// Items are handed to workers in sequence order over an unbuffered channel.
// When ContinueOnError is false the first failure stops dispatch: items not
// yet started are skipped, in-flight items finish. Cancelling ctx stops
// dispatch the same way.
func (e *Engine) Run(ctx context.Context, items []WorkItem) (*BatchRun, error) {
	cfg := e.opts.RunConfig()
	cfg.Concurrency = e.concurrency
	run, err := NewBatchRun(e.opts.Tool, items, cfg)
	if err != nil {
		return nil, err
	}
	run.StartedAt = e.now()
	total := run.TotalCount()

	e.logger.Info("Starting batch run",
		slog.String("runID", run.ID),
		slog.String("tool", string(run.Tool)),
		slog.Int("items", total),
		slog.Int("concurrency", e.concurrency),
		slog.Bool("continueOnError", e.opts.ContinueOnError),
	)
	e.callHook("OnStart", func() error { return e.hooks.OnStart(total) })

	var stop atomic.Bool
	work := make(chan WorkItem)
	var wg sync.WaitGroup
	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go e.worker(ctx, &wg, i, run, work, &stop)
	}

dispatch:
	for _, item := range run.Items {
		if stop.Load() {
			break
		}
		select {
		case work <- item:
		case <-ctx.Done():
			e.logger.Info("Batch run cancelled, no further items dispatched", slog.String("reason", ctx.Err().Error()))
			stop.Store(true)
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	// A stop raised by the final item leaves nothing unrun.
	run.seal(stop.Load() && run.CompletedCount() < total, e.now())

	e.logger.Info("Batch run finished",
		slog.String("runID", run.ID),
		slog.Duration("duration", run.Duration()),
		slog.Int("completed", run.CompletedCount()),
		slog.Int("succeeded", run.SucceededCount()),
		slog.Int("failed", run.FailedCount()),
		slog.Bool("aborted", run.Aborted()),
	)
	e.callHook("OnFinish", func() error { return e.hooks.OnFinish(run) })
	return run, nil
}

// worker drains the work channel. Items received after stop was raised are
// dropped without being started.
func (e *Engine) worker(ctx context.Context, wg *sync.WaitGroup, workerID int, run *BatchRun, work <-chan WorkItem, stop *atomic.Bool) {
	defer wg.Done()
	wLogger := e.logger.With(slog.Int("workerID", workerID))
	wLogger.Debug("Worker started")
	total := run.TotalCount()

	for item := range work {
		if stop.Load() {
			wLogger.Debug("Skipping item after stop", slog.Int("seq", item.Seq))
			continue
		}
		e.callHook("OnItemStart", func() error { return e.hooks.OnItemStart(item) })

		env := e.execute(ctx, item, wLogger)

		recErr := run.record(env, func(completed int) {
			if !env.OK() && !e.opts.ContinueOnError && !stop.Load() {
				wLogger.Info("Item failed, stopping dispatch", slog.String("item", item.Label()))
				stop.Store(true)
			}
			e.callHook("OnItemComplete", func() error { return e.hooks.OnItemComplete(item, env, completed, total) })
		})
		if recErr != nil {
			wLogger.Error("Failed to record result", slog.String("error", recErr.Error()))
		}
	}
	wLogger.Debug("Worker shutting down (channel closed)")
}

// execute calls the executor and enforces the envelope contract.
func (e *Engine) execute(ctx context.Context, item WorkItem, wLogger *slog.Logger) (env ResultEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			wLogger.Error("Panic recovered in executor", slog.Int("seq", item.Seq), slog.Any("panicValue", r))
			env = Failed(item.Seq, fmt.Sprintf("executor panicked: %v", r), "panic", 0)
		}
	}()
	env = e.executor.Execute(ctx, item)
	if env.SequenceIndex != item.Seq {
		wLogger.Warn("Executor returned mismatched sequence index, correcting",
			slog.Int("expected", item.Seq), slog.Int("got", env.SequenceIndex))
		env.SequenceIndex = item.Seq
	}
	return env
}

// callHook invokes a hook on an insulated path: errors are logged and panics
// recovered.
func (e *Engine) callHook(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Hook panicked", slog.String("hook", name), slog.Any("panicValue", r))
		}
	}()
	if err := fn(); err != nil {
		e.logger.Warn("Hook returned an error", slog.String("hook", name), slog.String("error", err.Error()))
	}
}
