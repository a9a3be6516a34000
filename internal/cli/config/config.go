package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/cache"
)

const (
	EnvPrefix         = "BQBATCH"
	DefaultConfigName = "bqbatch"
)

// DefaultToolCommands are the wrapped single-item tools. Placeholders are
// substituted per item by the runner.
var DefaultToolCommands = map[batch.Tool][]string{
	batch.ToolProfile:  {"bq-profile", "{table}", "--format=json"},
	batch.ToolCompare:  {"bq-schema-diff", "{left}", "{right}", "--format=json"},
	batch.ToolOptimize: {"bq-optimize", "{path}", "--format=json"},
}

// DefaultListerCommand enumerates a dataset's tables.
var DefaultListerCommand = []string{"bq", "ls", "--format=json", "--max_results=100000", "{dataset}"}

// placeholders lists the item placeholders each tool command must reference.
var placeholders = map[batch.Tool][]string{
	batch.ToolProfile:  {"{table}"},
	batch.ToolCompare:  {"{left}", "{right}"},
	batch.ToolOptimize: {"{path}"},
}

// LoadAndValidate loads configuration for one subcommand from all sources
// (defaults, file, profile, env, flags), validates the merged result and sets
// up the logger. Validation failures wrap batch.ErrConfigValidation.
func LoadAndValidate(tool batch.Tool, cfgFile, profileName, appVersion string, verbose bool, flags *pflag.FlagSet) (batch.Options, *slog.Logger, error) {
	var opts batch.Options
	v := viper.New()

	tempLevel := slog.LevelInfo
	if verbose {
		tempLevel = slog.LevelDebug
	}
	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: tempLevel}))

	if _, err := batch.KindFor(tool); err != nil {
		return opts, tempLogger, err
	}
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", DefaultConfigName))
			v.AddConfigPath(filepath.Join(home, "."+DefaultConfigName))
		} else {
			tempLogger.Debug("No home directory, searching the working directory only", slog.String("error", err.Error()))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			tempLogger.Debug("No configuration file found, using defaults/env/flags.")
		} else {
			used := cfgFile
			if used == "" {
				used = fmt.Sprintf("searched locations for %s.yaml", DefaultConfigName)
			}
			return opts, tempLogger, fmt.Errorf("%w: error reading config file '%s': %w", batch.ErrConfigValidation, used, err)
		}
	} else {
		opts.ConfigFilePath = v.ConfigFileUsed()
		tempLogger.Debug("Using configuration file", slog.String("path", opts.ConfigFilePath))
	}

	opts.ProfileName = profileName
	if profileName != "" {
		key := "profiles." + profileName
		if !v.IsSet(key) {
			path := v.ConfigFileUsed()
			if path == "" {
				path = "(no config file found)"
			}
			return opts, tempLogger, fmt.Errorf("%w: profile '%s' not found in config file '%s'", batch.ErrConfigValidation, profileName, path)
		}
		sub := v.Sub(key)
		if sub == nil {
			return opts, tempLogger, fmt.Errorf("%w: profile '%s' is not a mapping", batch.ErrConfigValidation, profileName)
		}
		if err := v.MergeConfigMap(sub.AllSettings()); err != nil {
			return opts, tempLogger, fmt.Errorf("error merging profile '%s': %w", profileName, err)
		}
		tempLogger.Debug("Applied configuration profile", slog.String("profile", profileName))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return opts, tempLogger, fmt.Errorf("error binding flag '--%s': %w", name, err)
		}
	}

	if err := v.Unmarshal(&opts); err != nil {
		return opts, tempLogger, fmt.Errorf("%w: error unmarshalling configuration: %w", batch.ErrConfigValidation, err)
	}
	opts.Tool = tool
	opts.AppVersion = appVersion
	opts.Format = batch.OutputFormat(strings.ToLower(string(opts.Format)))
	if verbose {
		opts.Verbose = true
	}
	if noCache, err := flags.GetBool("no-cache"); err == nil {
		opts.Cache.SkipReads = noCache
	}
	opts.Cache.Disabled = strings.TrimSpace(opts.Cache.File) == ""

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logHandler)
	opts.Logger = logHandler

	if err := validateAndDeriveOptions(&opts, logger); err != nil {
		return opts, logger, err
	}

	logger.Debug("Configuration loading and validation complete",
		slog.String("tool", string(opts.Tool)),
		slog.String("configFile", opts.ConfigFilePath),
		slog.String("profile", opts.ProfileName),
		slog.Int("parallel", opts.Concurrency),
		slog.String("format", string(opts.Format)),
	)
	return opts, logger, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("verbose", false)
	v.SetDefault("parallel", batch.DefaultConcurrency)
	v.SetDefault("continueOnError", false)
	v.SetDefault("progress", false)
	v.SetDefault("tui", false)
	v.SetDefault("log", "")
	v.SetDefault("format", string(batch.FormatText))
	v.SetDefault("output", "")
	v.SetDefault("quiet", false)

	v.SetDefault("top", batch.DefaultTop)
	v.SetDefault("threshold", batch.DefaultThresholdPct)
	v.SetDefault("minCost", 0.0)

	for tool, cmd := range DefaultToolCommands {
		v.SetDefault("tools."+string(tool)+".command", cmd)
		v.SetDefault("tools."+string(tool)+".timeout", "")
	}
	v.SetDefault("lister.command", DefaultListerCommand)

	v.SetDefault("cache.file", "")
	v.SetDefault("cache.format", cache.DefaultFormat)
	v.SetDefault("cache.ttl", batch.DefaultCacheTTL)
}

func isValidEnumValue[T ~string](value T, allowed []T) bool {
	return slices.Contains(allowed, value)
}

func validateAndDeriveOptions(opts *batch.Options, logger *slog.Logger) error {
	fail := func(key string, format string, args ...any) error {
		err := fmt.Errorf("%w: "+format, append([]any{batch.ErrConfigValidation}, args...)...)
		logger.Debug("Configuration rejected", slog.String("key", key), slog.String("error", err.Error()))
		return err
	}

	if opts.Concurrency < 1 {
		return fail("parallel", "invalid value '%d' for key 'parallel' (flag --parallel). Must be >= 1", opts.Concurrency)
	}
	if !isValidEnumValue(opts.Format, batch.Formats) {
		return fail("format", "invalid value '%s' for key 'format' (flag --format). Allowed: %v", opts.Format, batch.Formats)
	}
	if opts.Top < 1 {
		return fail("top", "invalid value '%d' for key 'top' (flag --top). Must be >= 1", opts.Top)
	}
	if opts.ThresholdPct < 0 {
		return fail("threshold", "invalid value '%g' for key 'threshold' (flag --threshold). Must be >= 0", opts.ThresholdPct)
	}
	if opts.MinCostGB < 0 {
		return fail("minCost", "invalid value '%g' for key 'minCost' (flag --min-cost). Must be >= 0", opts.MinCostGB)
	}
	if opts.SampleSize < 0 {
		return fail("sampleSize", "invalid value '%d' for key 'sampleSize' (flag --sample-size). Must be >= 0", opts.SampleSize)
	}

	tc := opts.Tools[string(opts.Tool)]
	if len(tc.Command) == 0 || strings.TrimSpace(tc.Command[0]) == "" {
		return fail("tools."+string(opts.Tool)+".command", "no command configured for tool '%s'", opts.Tool)
	}
	joined := strings.Join(tc.Command, " ")
	for _, ph := range placeholders[opts.Tool] {
		if !strings.Contains(joined, ph) {
			return fail("tools."+string(opts.Tool)+".command", "command for tool '%s' must reference %s", opts.Tool, ph)
		}
	}
	if tc.Timeout != "" {
		d, err := time.ParseDuration(tc.Timeout)
		if err != nil || d <= 0 {
			return fail("tools."+string(opts.Tool)+".timeout", "invalid timeout '%s' for tool '%s'", tc.Timeout, opts.Tool)
		}
	}
	if len(opts.Lister.Command) == 0 {
		opts.Lister.Command = DefaultListerCommand
	}

	if !opts.Cache.Disabled {
		format := strings.ToLower(opts.Cache.Format)
		if format != cache.FormatGob && format != cache.FormatJSON {
			return fail("cache.format", "invalid value '%s' for key 'cache.format'. Allowed: [%s %s]", opts.Cache.Format, cache.FormatGob, cache.FormatJSON)
		}
		if _, err := cache.ParseTTL(opts.Cache.TTL); err != nil {
			return fail("cache.ttl", "%v", err)
		}
		abs, err := filepath.Abs(opts.Cache.File)
		if err != nil {
			return fail("cache.file", "cannot resolve cache path '%s': %v", opts.Cache.File, err)
		}
		if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
			abs = filepath.Join(abs, cache.DefaultFileName)
		}
		opts.Cache.File = abs
	}

	if opts.TuiEnabled && opts.Progress {
		logger.Debug("Both --tui and --progress set; the TUI takes precedence when stderr is a terminal")
	}
	return nil
}
