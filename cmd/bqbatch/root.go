package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stackvity/bqbatch/internal/cli"
	"github.com/stackvity/bqbatch/internal/cli/config"
	"github.com/stackvity/bqbatch/pkg/batch"
)

var (
	// These are set during build time using -ldflags
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// newRootCmd builds the command tree. env overrides collaborators in tests;
// its streams are taken from the command.
func newRootCmd(env cli.Env) *cobra.Command {
	root := &cobra.Command{
		Use:   "bqbatch",
		Short: "Runs BigQuery profiling, schema comparison and query optimization in batch.",
		Long: `bqbatch drives the single-item BigQuery tools over many targets at once.

Targets come from arguments, a file, stdin, a whole dataset or a directory of
query files. They are analyzed concurrently, aggregated into one summary and
rendered as text, JSON, Markdown or HTML.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{.Use}} version {{.Version}}` + "\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", batch.ErrConfigValidation, err)
	})
	config.RegisterPersistentFlags(root.PersistentFlags())

	root.AddCommand(
		newBatchCmd(batch.ToolProfile, env,
			"batch-profile [table...]",
			"Profile many tables and summarize their size, shape and data quality",
			`Runs the profiling tool once per table and aggregates the results: total
rows and bytes, the largest tables, partitioning and clustering coverage and,
with --detect-anomalies, empty or sparsely populated tables.`),
		newBatchCmd(batch.ToolCompare, env,
			"batch-compare [left:right...]",
			"Compare the schemas of many table pairs",
			`Runs the schema comparison tool once per table pair. Pairs are given as
"left:right" (or "left|right"), in a file, or by matching the tables of
--dataset with the same-named tables of --compare-dataset. Pairs whose row
counts differ by more than --threshold percent are reported as critical.`),
		newBatchCmd(batch.ToolOptimize, env,
			"batch-optimize [query.sql...]",
			"Analyze many query files for cost and optimization opportunities",
			`Runs the query optimizer once per SQL file and ranks the queries by
processed bytes, estimated cost and an optimization score built from the
severity of each recommendation.`),
	)
	return root
}

func newBatchCmd(tool batch.Tool, env cli.Env, use, short, long string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			flags := cmd.Flags()
			cfgFile, _ := flags.GetString("config")
			profileName, _ := flags.GetString("profile")
			verbose, _ := flags.GetBool("verbose")

			opts, logger, err := config.LoadAndValidate(tool, cfgFile, profileName, version, verbose, flags)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitLoad, Err: err}
			}
			opts.Inputs = config.InputsFromFlags(flags, args)

			env.Stdin = cmd.InOrStdin()
			env.Stdout = cmd.OutOrStdout()
			env.Stderr = cmd.ErrOrStderr()
			return cli.Run(ctx, opts, logger, env)
		},
	}
	config.RegisterFlags(cmd.Flags(), tool)
	cmd.Flags().SortFlags = false
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(context.Background(), newRootCmd(cli.Env{}), os.Args[1:], os.Stderr)
}

func execute(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}
