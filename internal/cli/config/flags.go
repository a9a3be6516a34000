package config

import (
	"github.com/spf13/pflag"
	"github.com/stackvity/bqbatch/pkg/batch"
)

// flagKeys maps every bindable flag to its configuration key. Flags missing
// from a subcommand's FlagSet are skipped during binding.
var flagKeys = map[string]string{
	"parallel":          "parallel",
	"continue-on-error": "continueOnError",
	"progress":          "progress",
	"tui":               "tui",
	"log":               "log",
	"format":            "format",
	"output":            "output",
	"quiet":             "quiet",
	"top":               "top",
	"threshold":         "threshold",
	"min-cost":          "minCost",
	"critical-only":     "criticalOnly",
	"prioritize":        "prioritize",
	"detect-anomalies":  "detectAnomalies",
	"compare":           "compare",
	"sample-size":       "sampleSize",
	"skip-stats":        "skipStats",
	"skip-samples":      "skipSamples",
	"cache-file":        "cache.file",
	"verbose":           "verbose",
}

// RegisterPersistentFlags defines the flags shared by every subcommand.
func RegisterPersistentFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Config file path (default searches ./bqbatch.yaml, ~/.config/bqbatch/)")
	flags.String("profile", "", "Configuration profile name to use")
	flags.BoolP("verbose", "v", false, "Enable verbose debug logging")
	flags.String("cache-file", "", "Enable the result cache, stored at this path")
	flags.Bool("no-cache", false, "Ignore cached results (fresh results are still stored)")
}

// RegisterFlags defines the input, run and output flags of one batch
// subcommand, plus the flags specific to its tool.
func RegisterFlags(flags *pflag.FlagSet, tool batch.Tool) {
	flags.StringP("file", "f", "", "Read targets from a file (text, csv, json, yaml, toml)")
	flags.Bool("stdin", false, "Read targets from standard input")
	switch tool {
	case batch.ToolProfile:
		flags.String("dataset", "", "Profile every table of a dataset")
		flags.String("pattern", "", "Regular expression filtering dataset tables")
	case batch.ToolCompare:
		flags.String("dataset", "", "Compare every table of a dataset ...")
		flags.String("compare-dataset", "", "... with the same-named table of this dataset")
		flags.String("pattern", "", "Regular expression filtering dataset tables")
	case batch.ToolOptimize:
		flags.String("dir", "", "Analyze every query file under a directory")
		flags.StringArray("ignore", nil, "Gitignore-style pattern to skip under --dir (repeatable)")
		flags.Bool("git-changed", false, "Only analyze query files changed in the git worktree")
	}

	flags.IntP("parallel", "p", batch.DefaultConcurrency, "Number of items analyzed concurrently")
	flags.Bool("progress", false, "Show a progress bar on stderr")
	flags.Bool("tui", false, "Show the interactive progress view (terminals only)")
	flags.BoolP("quiet", "q", false, "Only print the aggregate summary")
	flags.Bool("continue-on-error", false, "Keep going after an item fails")
	flags.String("log", "", "Append one line per lifecycle event to this file")
	flags.String("format", string(batch.FormatText), "Output format: text, json, markdown, html")
	flags.StringP("output", "o", "", "Write the report to this file instead of stdout")

	switch tool {
	case batch.ToolProfile:
		flags.Bool("compare", false, "Add a side-by-side comparison of the profiled tables")
		flags.Int("top", batch.DefaultTop, "Number of entries in ranked sections")
		flags.Bool("detect-anomalies", false, "Flag empty tables and tables with high null rates")
		flags.Int("sample-size", 0, "Passed through to the profiling tool")
	case batch.ToolCompare:
		flags.Int("sample-size", 0, "Passed through to the comparison tool")
		flags.Bool("skip-stats", false, "Passed through to the comparison tool")
		flags.Bool("skip-samples", false, "Passed through to the comparison tool")
		flags.Bool("critical-only", false, "Only list critical pairs in the per-item section")
		flags.Float64("threshold", batch.DefaultThresholdPct, "Row count difference percent considered critical")
	case batch.ToolOptimize:
		flags.Bool("prioritize", false, "Order queries by optimization score")
		flags.Int("top", batch.DefaultTop, "Number of entries in ranked sections")
		flags.Float64("min-cost", 0, "Leave queries below this many GB out of the rankings")
	}
}

// InputsFromFlags builds the input selection from parsed flags and the
// positional arguments.
func InputsFromFlags(flags *pflag.FlagSet, args []string) batch.InputSelection {
	sel := batch.InputSelection{Args: args}
	sel.File, _ = flags.GetString("file")
	sel.Stdin, _ = flags.GetBool("stdin")
	sel.Dataset, _ = flags.GetString("dataset")
	sel.Pattern, _ = flags.GetString("pattern")
	sel.CompareDataset, _ = flags.GetString("compare-dataset")
	sel.Dir, _ = flags.GetString("dir")
	sel.Ignore, _ = flags.GetStringArray("ignore")
	sel.GitChanged, _ = flags.GetBool("git-changed")
	return sel
}
