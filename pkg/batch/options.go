package batch

import (
	"context"
	"log/slog"
)

// Analyzer is the contract of a wrapped single-item tool: run one analysis for
// one item and return its structured payload, or an error.
type Analyzer interface {
	Analyze(ctx context.Context, item WorkItem) (any, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, item WorkItem) (any, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, item WorkItem) (any, error) { return f(ctx, item) }

// Executor turns one WorkItem into a ResultEnvelope. Implementations never
// return an error; every failure is carried in the envelope.
type Executor interface {
	Execute(ctx context.Context, item WorkItem) ResultEnvelope
}

// Hooks receives lifecycle events from the engine. Implementations MUST be
// thread-safe. Returned errors are logged and otherwise ignored, and panics are
// recovered, so a hook can never change the outcome of a run.
type Hooks interface {
	OnStart(total int) error
	OnItemStart(item WorkItem) error
	OnItemComplete(item WorkItem, result ResultEnvelope, completed, total int) error
	OnFinish(run *BatchRun) error
}

// NoOpHooks provides a default, do-nothing implementation of Hooks.
type NoOpHooks struct{}

// OnStart implements Hooks.
func (NoOpHooks) OnStart(int) error { return nil }

// OnItemStart implements Hooks.
func (NoOpHooks) OnItemStart(WorkItem) error { return nil }

// OnItemComplete implements Hooks.
func (NoOpHooks) OnItemComplete(WorkItem, ResultEnvelope, int, int) error { return nil }

// OnFinish implements Hooks.
func (NoOpHooks) OnFinish(*BatchRun) error { return nil }

// MultiHooks fans every event out to each hook in order.
type MultiHooks []Hooks

// OnStart implements Hooks.
func (m MultiHooks) OnStart(total int) error {
	for _, h := range m {
		_ = h.OnStart(total)
	}
	return nil
}

// OnItemStart implements Hooks.
func (m MultiHooks) OnItemStart(item WorkItem) error {
	for _, h := range m {
		_ = h.OnItemStart(item)
	}
	return nil
}

// OnItemComplete implements Hooks.
func (m MultiHooks) OnItemComplete(item WorkItem, result ResultEnvelope, completed, total int) error {
	for _, h := range m {
		_ = h.OnItemComplete(item, result, completed, total)
	}
	return nil
}

// OnFinish implements Hooks.
func (m MultiHooks) OnFinish(run *BatchRun) error {
	for _, h := range m {
		_ = h.OnFinish(run)
	}
	return nil
}

// ToolConfig describes how to invoke one wrapped tool.
type ToolConfig struct {
	Command []string `mapstructure:"command"`
	Timeout string   `mapstructure:"timeout"`
}

// ListerConfig describes how dataset members are enumerated.
type ListerConfig struct {
	Command []string `mapstructure:"command"`
}

// CacheConfig holds the optional result cache settings.
type CacheConfig struct {
	File      string `mapstructure:"file"`
	Format    string `mapstructure:"format"`
	TTL       string `mapstructure:"ttl"`
	Disabled  bool   `mapstructure:"-"`
	SkipReads bool   `mapstructure:"-"`
}

// InputSelection is the input descriptor chosen on the command line. At most
// one source may be set.
type InputSelection struct {
	Args           []string
	File           string
	Stdin          bool
	Dataset        string
	Pattern        string
	CompareDataset string
	Dir            string
	Ignore         []string
	GitChanged     bool
}

// RunConfig is the snapshot of settings recorded on a BatchRun and echoed in
// every rendered report.
type RunConfig struct {
	Tool            Tool         `json:"tool"`
	Concurrency     int          `json:"concurrency"`
	ContinueOnError bool         `json:"continueOnError"`
	Format          OutputFormat `json:"format"`
	Quiet           bool         `json:"quiet"`
	Top             int          `json:"top"`
	ThresholdPct    float64      `json:"thresholdPct"`
	MinCostGB       float64      `json:"minCostGb"`
	CriticalOnly    bool         `json:"criticalOnly"`
	Prioritize      bool         `json:"prioritize"`
	DetectAnomalies bool         `json:"detectAnomalies"`
	CompareProfiles bool         `json:"compareProfiles"`
	SampleSize      int          `json:"sampleSize,omitempty"`
	SkipStats       bool         `json:"skipStats"`
	SkipSamples     bool         `json:"skipSamples"`
}

// Options holds all configuration for one batch invocation.
type Options struct {
	// --- Application Info ---
	Tool           Tool   `mapstructure:"-"`
	AppVersion     string `mapstructure:"-"`
	ConfigFilePath string `mapstructure:"-"`
	ProfileName    string `mapstructure:"-"`
	Verbose        bool   `mapstructure:"verbose"`

	// --- Run Behavior ---
	Concurrency     int    `mapstructure:"parallel"`
	ContinueOnError bool   `mapstructure:"continueOnError"`
	Progress        bool   `mapstructure:"progress"`
	TuiEnabled      bool   `mapstructure:"tui"`
	LogPath         string `mapstructure:"log"`

	// --- Output ---
	Format     OutputFormat `mapstructure:"format"`
	OutputPath string       `mapstructure:"output"`
	Quiet      bool         `mapstructure:"quiet"`

	// --- Aggregation ---
	Top             int     `mapstructure:"top"`
	ThresholdPct    float64 `mapstructure:"threshold"`
	MinCostGB       float64 `mapstructure:"minCost"`
	CriticalOnly    bool    `mapstructure:"criticalOnly"`
	Prioritize      bool    `mapstructure:"prioritize"`
	DetectAnomalies bool    `mapstructure:"detectAnomalies"`
	CompareProfiles bool    `mapstructure:"compare"`

	// --- Pass-through Tool Flags ---
	SampleSize  int  `mapstructure:"sampleSize"`
	SkipStats   bool `mapstructure:"skipStats"`
	SkipSamples bool `mapstructure:"skipSamples"`

	// --- Collaborators ---
	Tools  map[string]ToolConfig `mapstructure:"tools"`
	Lister ListerConfig          `mapstructure:"lister"`
	Cache  CacheConfig           `mapstructure:"cache"`

	// --- Input Selection (flags only) ---
	Inputs InputSelection `mapstructure:"-"`

	// --- Injected Dependencies ---
	Executor Executor     `mapstructure:"-"` // Required by NewEngine
	Hooks    Hooks        `mapstructure:"-"` // Optional, defaults to NoOpHooks
	Logger   slog.Handler `mapstructure:"-"` // Required
}

// RunConfig returns the snapshot recorded on the BatchRun.
func (o Options) RunConfig() RunConfig {
	return RunConfig{
		Tool:            o.Tool,
		Concurrency:     o.Concurrency,
		ContinueOnError: o.ContinueOnError,
		Format:          o.Format,
		Quiet:           o.Quiet,
		Top:             o.Top,
		ThresholdPct:    o.ThresholdPct,
		MinCostGB:       o.MinCostGB,
		CriticalOnly:    o.CriticalOnly,
		Prioritize:      o.Prioritize,
		DetectAnomalies: o.DetectAnomalies,
		CompareProfiles: o.CompareProfiles,
		SampleSize:      o.SampleSize,
		SkipStats:       o.SkipStats,
		SkipSamples:     o.SkipSamples,
	}
}
