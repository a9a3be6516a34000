package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTempConfigFile writes content into a fresh directory and returns its path.
func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bqbatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// newFlags mimics the flag set cobra hands to a subcommand.
func newFlags(tool batch.Tool) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterPersistentFlags(flags)
	RegisterFlags(flags, tool)
	return flags
}

func TestLoadAndValidate_Defaults(t *testing.T) {
	opts, logger, err := LoadAndValidate(batch.ToolProfile, "", "", "v1.2.3", false, newFlags(batch.ToolProfile))
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NotNil(t, opts.Logger)

	assert.Equal(t, batch.ToolProfile, opts.Tool)
	assert.Equal(t, "v1.2.3", opts.AppVersion)
	assert.Equal(t, batch.DefaultConcurrency, opts.Concurrency)
	assert.Equal(t, batch.FormatText, opts.Format)
	assert.Equal(t, batch.DefaultTop, opts.Top)
	assert.Equal(t, batch.DefaultThresholdPct, opts.ThresholdPct)
	assert.False(t, opts.ContinueOnError)
	assert.False(t, opts.Quiet)
	assert.Equal(t, DefaultToolCommands[batch.ToolProfile], opts.Tools["profile"].Command)
	assert.Equal(t, DefaultListerCommand, opts.Lister.Command)
	assert.True(t, opts.Cache.Disabled)
}

func TestLoadAndValidate_ConfigFile(t *testing.T) {
	path := createTempConfigFile(t, `
parallel: 8
format: JSON
continueOnError: true
tools:
  compare:
    command: ["my-diff", "--json", "{left}", "{right}"]
    timeout: 90s
`)
	opts, _, err := LoadAndValidate(batch.ToolCompare, path, "", "dev", false, newFlags(batch.ToolCompare))
	require.NoError(t, err)
	assert.Equal(t, path, opts.ConfigFilePath)
	assert.Equal(t, 8, opts.Concurrency)
	assert.Equal(t, batch.FormatJSON, opts.Format, "format is case-insensitive")
	assert.True(t, opts.ContinueOnError)
	assert.Equal(t, []string{"my-diff", "--json", "{left}", "{right}"}, opts.Tools["compare"].Command)
	assert.Equal(t, "90s", opts.Tools["compare"].Timeout)
}

func TestLoadAndValidate_Profile(t *testing.T) {
	path := createTempConfigFile(t, `
parallel: 8
profiles:
  ci:
    parallel: 2
    quiet: true
`)
	opts, _, err := LoadAndValidate(batch.ToolProfile, path, "ci", "dev", false, newFlags(batch.ToolProfile))
	require.NoError(t, err)
	assert.Equal(t, "ci", opts.ProfileName)
	assert.Equal(t, 2, opts.Concurrency)
	assert.True(t, opts.Quiet)

	_, _, err = LoadAndValidate(batch.ToolProfile, path, "nightly", "dev", false, newFlags(batch.ToolProfile))
	require.Error(t, err)
	assert.True(t, errors.Is(err, batch.ErrConfigValidation))
	assert.Contains(t, err.Error(), "profile 'nightly' not found")
}

func TestLoadAndValidate_MissingExplicitConfigFile(t *testing.T) {
	_, _, err := LoadAndValidate(batch.ToolProfile, filepath.Join(t.TempDir(), "nope.yaml"), "", "dev", false, newFlags(batch.ToolProfile))
	require.Error(t, err)
	assert.True(t, errors.Is(err, batch.ErrConfigValidation))
}

func TestLoadAndValidate_Precedence(t *testing.T) {
	path := createTempConfigFile(t, "parallel: 3\ntop: 7\nthreshold: 20\n")
	t.Setenv("BQBATCH_PARALLEL", "5")
	t.Setenv("BQBATCH_TOP", "6")

	flags := newFlags(batch.ToolOptimize)
	require.NoError(t, flags.Set("parallel", "9"))

	opts, _, err := LoadAndValidate(batch.ToolOptimize, path, "", "dev", false, flags)
	require.NoError(t, err)
	assert.Equal(t, 9, opts.Concurrency, "flag beats env and file")
	assert.Equal(t, 6, opts.Top, "env beats file")
	assert.Equal(t, 20.0, opts.ThresholdPct, "file beats default")
}

func TestLoadAndValidate_ToolFlags(t *testing.T) {
	flags := newFlags(batch.ToolCompare)
	require.NoError(t, flags.Set("critical-only", "true"))
	require.NoError(t, flags.Set("threshold", "2.5"))
	require.NoError(t, flags.Set("skip-stats", "true"))
	require.NoError(t, flags.Set("sample-size", "500"))

	opts, _, err := LoadAndValidate(batch.ToolCompare, "", "", "dev", false, flags)
	require.NoError(t, err)
	assert.True(t, opts.CriticalOnly)
	assert.Equal(t, 2.5, opts.ThresholdPct)
	assert.True(t, opts.SkipStats)
	assert.False(t, opts.SkipSamples)
	assert.Equal(t, 500, opts.SampleSize)

	cfg := opts.RunConfig()
	assert.Equal(t, batch.ToolCompare, cfg.Tool)
	assert.True(t, cfg.CriticalOnly)
}

func TestLoadAndValidate_Cache(t *testing.T) {
	dir := t.TempDir()
	flags := newFlags(batch.ToolProfile)
	require.NoError(t, flags.Set("cache-file", dir))
	require.NoError(t, flags.Set("no-cache", "true"))

	opts, _, err := LoadAndValidate(batch.ToolProfile, "", "", "dev", false, flags)
	require.NoError(t, err)
	assert.False(t, opts.Cache.Disabled)
	assert.True(t, opts.Cache.SkipReads)
	assert.Equal(t, filepath.Join(dir, cache.DefaultFileName), opts.Cache.File)
	assert.Equal(t, cache.DefaultFormat, opts.Cache.Format)
	assert.Equal(t, batch.DefaultCacheTTL, opts.Cache.TTL)
}

func TestLoadAndValidate_Verbose(t *testing.T) {
	opts, logger, err := LoadAndValidate(batch.ToolProfile, "", "", "dev", true, newFlags(batch.ToolProfile))
	require.NoError(t, err)
	assert.True(t, opts.Verbose)
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug), "verbose enables debug logging")
}

func TestLoadAndValidate_ValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		tool    batch.Tool
		config  string
		flags   map[string]string
		wantMsg string
	}{
		{name: "zero parallel", tool: batch.ToolProfile, flags: map[string]string{"parallel": "0"}, wantMsg: "'parallel'"},
		{name: "unknown format", tool: batch.ToolProfile, flags: map[string]string{"format": "xml"}, wantMsg: "'format'"},
		{name: "zero top", tool: batch.ToolOptimize, flags: map[string]string{"top": "0"}, wantMsg: "'top'"},
		{name: "negative threshold", tool: batch.ToolCompare, flags: map[string]string{"threshold": "-1"}, wantMsg: "'threshold'"},
		{name: "negative min cost", tool: batch.ToolOptimize, flags: map[string]string{"min-cost": "-0.5"}, wantMsg: "'minCost'"},
		{name: "negative sample size", tool: batch.ToolProfile, flags: map[string]string{"sample-size": "-3"}, wantMsg: "'sampleSize'"},
		{
			name:    "command without placeholder",
			tool:    batch.ToolCompare,
			config:  "tools:\n  compare:\n    command: [\"diff\", \"{left}\"]\n",
			wantMsg: "{right}",
		},
		{
			name:    "empty command",
			tool:    batch.ToolOptimize,
			config:  "tools:\n  optimize:\n    command: [\"\"]\n",
			wantMsg: "no command configured",
		},
		{
			name:    "bad timeout",
			tool:    batch.ToolProfile,
			config:  "tools:\n  profile:\n    timeout: soon\n",
			wantMsg: "invalid timeout",
		},
		{
			name:    "bad cache format",
			tool:    batch.ToolProfile,
			config:  "cache:\n  file: results.cache\n  format: xml\n",
			wantMsg: "'cache.format'",
		},
		{
			name:    "bad cache ttl",
			tool:    batch.ToolProfile,
			config:  "cache:\n  file: results.cache\n  ttl: forever\n",
			wantMsg: "invalid cache ttl",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfgFile := ""
			if tc.config != "" {
				cfgFile = createTempConfigFile(t, tc.config)
			}
			flags := newFlags(tc.tool)
			for k, v := range tc.flags {
				require.NoError(t, flags.Set(k, v))
			}
			_, _, err := LoadAndValidate(tc.tool, cfgFile, "", "dev", false, flags)
			require.Error(t, err)
			assert.True(t, errors.Is(err, batch.ErrConfigValidation), "got %v", err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestLoadAndValidate_UnknownTool(t *testing.T) {
	_, _, err := LoadAndValidate("audit", "", "", "dev", false, newFlags(batch.ToolProfile))
	require.Error(t, err)
	assert.True(t, errors.Is(err, batch.ErrConfigValidation))
}

func TestInputsFromFlags(t *testing.T) {
	flags := newFlags(batch.ToolOptimize)
	require.NoError(t, flags.Set("dir", "queries"))
	require.NoError(t, flags.Set("ignore", "vendor/"))
	require.NoError(t, flags.Set("ignore", "*.tmp.sql"))
	require.NoError(t, flags.Set("git-changed", "true"))

	sel := InputsFromFlags(flags, []string{"extra.sql"})
	assert.Equal(t, []string{"extra.sql"}, sel.Args)
	assert.Equal(t, "queries", sel.Dir)
	assert.Equal(t, []string{"vendor/", "*.tmp.sql"}, sel.Ignore)
	assert.True(t, sel.GitChanged)
	assert.Empty(t, sel.Dataset, "flags not defined for the subcommand stay empty")

	flags = newFlags(batch.ToolCompare)
	require.NoError(t, flags.Set("dataset", "prod"))
	require.NoError(t, flags.Set("compare-dataset", "staging"))
	require.NoError(t, flags.Set("pattern", "^orders"))
	sel = InputsFromFlags(flags, nil)
	assert.Equal(t, "prod", sel.Dataset)
	assert.Equal(t, "staging", sel.CompareDataset)
	assert.Equal(t, "^orders", sel.Pattern)
	assert.Empty(t, sel.Dir)
}
