package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stackvity/bqbatch/internal/cli"
	"github.com/stackvity/bqbatch/internal/testutil"
	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/loader"
	"github.com/stackvity/bqbatch/pkg/batch/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs root with args and captures its output streams.
func executeCommand(root *cobra.Command, args ...string) (stdout string, stderr string, err error) {
	stdoutBuf := new(bytes.Buffer)
	stderrBuf := new(bytes.Buffer)
	root.SetOut(stdoutBuf)
	root.SetErr(stderrBuf)
	root.SetArgs(args)

	err = root.Execute()

	return stdoutBuf.String(), stderrBuf.String(), err
}

// isolate keeps config discovery away from the developer's home directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func subcommand(t *testing.T, root *cobra.Command, name string) *cobra.Command {
	t.Helper()
	cmd, _, err := root.Find([]string{name})
	require.NoError(t, err)
	require.Equal(t, name, cmd.Name())
	return cmd
}

func TestRootCmdHelp(t *testing.T) {
	stdout, stderr, err := executeCommand(newRootCmd(cli.Env{}), "--help")
	require.NoError(t, err)
	assert.Empty(t, stderr)
	assert.Contains(t, stdout, "Usage:")
	for _, name := range []string{"batch-profile", "batch-compare", "batch-optimize"} {
		assert.Contains(t, stdout, name)
	}
	for _, flag := range []string{"--config", "--profile", "--verbose", "--cache-file", "--no-cache", "--version"} {
		assert.Contains(t, stdout, flag)
	}
}

func TestSubcommandHelp_AllFlagsPresent(t *testing.T) {
	root := newRootCmd(cli.Env{})
	for _, name := range []string{"batch-profile", "batch-compare", "batch-optimize"} {
		t.Run(name, func(t *testing.T) {
			stdout, _, err := executeCommand(root, name, "--help")
			require.NoError(t, err)
			cmd := subcommand(t, root, name)
			cmd.Flags().VisitAll(func(f *pflag.Flag) {
				assert.Contains(t, stdout, "--"+f.Name, "help should list --%s", f.Name)
				if f.Shorthand != "" {
					assert.Contains(t, stdout, "-"+f.Shorthand+",", "help should list -%s", f.Shorthand)
				}
			})
		})
	}
}

func TestSubcommandFlagsDifferPerTool(t *testing.T) {
	root := newRootCmd(cli.Env{})
	profile := subcommand(t, root, "batch-profile")
	compare := subcommand(t, root, "batch-compare")
	optimize := subcommand(t, root, "batch-optimize")

	assert.NotNil(t, profile.Flags().Lookup("detect-anomalies"))
	assert.Nil(t, profile.Flags().Lookup("dir"))
	assert.NotNil(t, compare.Flags().Lookup("compare-dataset"))
	assert.NotNil(t, compare.Flags().Lookup("threshold"))
	assert.Nil(t, compare.Flags().Lookup("top"))
	assert.NotNil(t, optimize.Flags().Lookup("git-changed"))
	assert.NotNil(t, optimize.Flags().Lookup("min-cost"))
	assert.Nil(t, optimize.Flags().Lookup("dataset"))
}

func TestBatchCompareHelp_PairNotationsParse(t *testing.T) {
	root := newRootCmd(cli.Env{})
	stdout, _, err := executeCommand(root, "batch-compare", "--help")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "left,right")

	notations := regexp.MustCompile(`"left(.)right"`).FindAllStringSubmatch(subcommand(t, root, "batch-compare").Long, -1)
	require.Len(t, notations, 2)
	for _, n := range notations {
		assert.Contains(t, stdout, n[0])
		left, right, ok := loader.ParsePair("dev.sales.orders" + n[1] + "prod.sales.orders")
		require.True(t, ok, "help lists %s", n[0])
		assert.Equal(t, "dev.sales.orders", left)
		assert.Equal(t, "prod.sales.orders", right)
	}
}

func TestRootCmdVersion(t *testing.T) {
	originalVersion, originalCommit, originalDate := version, commit, date
	version = "test-1.2.3"
	commit = "testcommit123"
	date = "2024-01-01T10:00:00Z"
	defer func() {
		version, commit, date = originalVersion, originalCommit, originalDate
	}()

	stdout, _, err := executeCommand(newRootCmd(cli.Env{}), "--version")
	require.NoError(t, err)
	assert.Equal(t, "bqbatch version test-1.2.3 (commit: testcommit123, built: 2024-01-01T10:00:00Z)\n", stdout)
}

func TestBatchProfile_EndToEnd(t *testing.T) {
	isolate(t)
	stub := &testutil.StubAnalyzer{Payloads: map[string]any{
		"ds.a": payload.Profile{TableID: "ds.a", NumRows: 10},
		"ds.b": payload.Profile{TableID: "ds.b", NumRows: 20},
	}}

	stdout, _, err := executeCommand(newRootCmd(cli.Env{Analyzer: stub}), "batch-profile", "ds.a", "ds.b", "--format", "json", "-p", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"tool": "profile"`)
	assert.Equal(t, 2, stub.CallCount())
}

func TestBatchOptimize_DirInput(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	testutil.CreateDummyFile(t, filepath.Join(dir, "daily.sql"), "SELECT * FROM t")
	stub := &testutil.StubAnalyzer{Payloads: map[string]any{
		filepath.Join(dir, "daily.sql"): payload.Optimization{GBProcessed: 12, EstimatedCostUSD: 0.06},
	}}

	stdout, _, err := executeCommand(newRootCmd(cli.Env{Analyzer: stub}), "batch-optimize", "--dir", dir, "--format", "markdown")
	require.NoError(t, err)
	assert.Contains(t, stdout, "daily.sql")
	assert.Equal(t, 1, stub.CallCount())
}

func TestExecute_ExitCodes(t *testing.T) {
	isolate(t)
	failing := &testutil.StubAnalyzer{Fail: map[string]error{"ds.b": errors.New("boom")}}

	tests := []struct {
		name     string
		analyzer batch.Analyzer
		args     []string
		want     int
		stderr   string
	}{
		{"success", &testutil.StubAnalyzer{Payloads: map[string]any{"ds.a": payload.Profile{}}}, []string{"batch-profile", "ds.a"}, cli.ExitOK, ""},
		{"item failure", failing, []string{"batch-profile", "ds.a", "ds.b", "--continue-on-error"}, cli.ExitItemFailure, "1 of 2 items failed"},
		{"no targets", &testutil.StubAnalyzer{}, []string{"batch-profile"}, cli.ExitLoad, "Error:"},
		{"invalid parallel", &testutil.StubAnalyzer{}, []string{"batch-profile", "ds.a", "--parallel", "0"}, cli.ExitLoad, "parallel"},
		{"invalid format", &testutil.StubAnalyzer{}, []string{"batch-compare", "a:b", "--format", "xml"}, cli.ExitLoad, "format"},
		{"unknown flag", &testutil.StubAnalyzer{}, []string{"batch-optimize", "--bogus"}, cli.ExitLoad, "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd(cli.Env{Analyzer: tt.analyzer})
			root.SetOut(new(bytes.Buffer))
			stderr := new(bytes.Buffer)
			root.SetErr(new(bytes.Buffer))

			code := execute(context.Background(), root, tt.args, stderr)
			assert.Equal(t, tt.want, code)
			if tt.stderr == "" {
				assert.Empty(t, stderr.String())
			} else {
				assert.True(t, strings.Contains(stderr.String(), tt.stderr), "stderr %q should mention %q", stderr.String(), tt.stderr)
			}
		})
	}
}
