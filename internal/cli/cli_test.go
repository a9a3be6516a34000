package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stackvity/bqbatch/internal/testutil"
	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jsonReport struct {
	Run struct {
		Tool    batch.Tool `json:"tool"`
		Aborted bool       `json:"aborted"`
	} `json:"run"`
	Summary struct {
		Total     int `json:"totalItems"`
		Completed int `json:"completedItems"`
		Succeeded int `json:"succeededItems"`
		Failed    int `json:"failedItems"`
	} `json:"summary"`
	Errors []struct {
		SequenceIndex int    `json:"sequenceIndex"`
		Label         string `json:"label"`
		Message       string `json:"message"`
	} `json:"errors"`
}

func profileOptions(args ...string) batch.Options {
	handler, _ := testutil.NewTestLogger()
	return batch.Options{
		Tool:            batch.ToolProfile,
		AppVersion:      "dev",
		Concurrency:     2,
		ContinueOnError: true,
		Format:          batch.FormatJSON,
		Top:             batch.DefaultTop,
		ThresholdPct:    batch.DefaultThresholdPct,
		Cache:           batch.CacheConfig{Disabled: true},
		Inputs:          batch.InputSelection{Args: args},
		Logger:          handler,
	}
}

func profileStub(ids ...string) *testutil.StubAnalyzer {
	stub := &testutil.StubAnalyzer{Payloads: map[string]any{}, Fail: map[string]error{}}
	for i, id := range ids {
		stub.Payloads[id] = payload.Profile{TableID: id, NumRows: int64(100 * (i + 1)), ColumnCount: 3}
	}
	return stub
}

func runCLI(t *testing.T, opts batch.Options, env Env) (string, error) {
	t.Helper()
	stdout := &bytes.Buffer{}
	env.Stdout = stdout
	env.Stderr = &bytes.Buffer{}
	if env.Stdin == nil {
		env.Stdin = strings.NewReader("")
	}
	handler, _ := testutil.NewTestLogger()
	err := Run(context.Background(), opts, slog.New(handler), env)
	return stdout.String(), err
}

func decodeReport(t *testing.T, out string) jsonReport {
	t.Helper()
	var r jsonReport
	require.NoError(t, json.Unmarshal([]byte(out), &r), "report should be JSON: %s", out)
	return r
}

func TestRun_AllSucceed(t *testing.T) {
	ids := []string{"ds.a", "ds.b", "ds.c"}
	stub := profileStub(ids...)

	out, err := runCLI(t, profileOptions(ids...), Env{Analyzer: stub})
	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(err))

	r := decodeReport(t, out)
	assert.Equal(t, batch.ToolProfile, r.Run.Tool)
	assert.Equal(t, 3, r.Summary.Total)
	assert.Equal(t, 3, r.Summary.Succeeded)
	assert.Empty(t, r.Errors)
	assert.Equal(t, 3, stub.CallCount())
}

func TestRun_ContinueOnErrorReportsFailure(t *testing.T) {
	ids := []string{"ds.a", "ds.b", "ds.c", "ds.d", "ds.e"}
	stub := profileStub(ids...)
	stub.Fail["ds.c"] = batch.ToolError(batch.ErrToolNonZeroExit, "exit code 2: table not found")

	out, err := runCLI(t, profileOptions(ids...), Env{Analyzer: stub})
	require.Error(t, err)
	assert.Equal(t, ExitItemFailure, ExitCode(err))
	assert.ErrorIs(t, err, batch.ErrItemExecution)

	r := decodeReport(t, out)
	assert.False(t, r.Run.Aborted)
	assert.Equal(t, 5, r.Summary.Completed)
	assert.Equal(t, 4, r.Summary.Succeeded)
	assert.Equal(t, 1, r.Summary.Failed)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, 2, r.Errors[0].SequenceIndex)
	assert.Equal(t, "ds.c", r.Errors[0].Label)
	assert.Contains(t, r.Errors[0].Message, "table not found")
}

func TestRun_StopOnFirstFailureIsAborted(t *testing.T) {
	ids := []string{"ds.a", "ds.b", "ds.c", "ds.d"}
	stub := profileStub(ids...)
	stub.Fail["ds.a"] = errors.New("denied")
	opts := profileOptions(ids...)
	opts.ContinueOnError = false
	opts.Concurrency = 1

	out, err := runCLI(t, opts, Env{Analyzer: stub})
	require.Error(t, err)
	assert.Equal(t, ExitItemFailure, ExitCode(err))
	assert.ErrorIs(t, err, batch.ErrRunAborted)

	r := decodeReport(t, out)
	assert.True(t, r.Run.Aborted, "partial results are still rendered")
	assert.Less(t, r.Summary.Completed, 4)
}

func TestRun_StopOnLastItemFailureIsNotAborted(t *testing.T) {
	ids := []string{"ds.a", "ds.b", "ds.c"}
	stub := profileStub(ids...)
	stub.Fail["ds.c"] = errors.New("denied")
	opts := profileOptions(ids...)
	opts.ContinueOnError = false
	opts.Concurrency = 1

	out, err := runCLI(t, opts, Env{Analyzer: stub})
	require.Error(t, err)
	assert.Equal(t, ExitItemFailure, ExitCode(err))
	assert.ErrorIs(t, err, batch.ErrItemExecution)

	r := decodeReport(t, out)
	assert.False(t, r.Run.Aborted)
	assert.Equal(t, 3, r.Summary.Completed)
	assert.Equal(t, 1, r.Summary.Failed)
}

func TestRun_LoadErrorExecutesNothing(t *testing.T) {
	dir := t.TempDir()
	targets := filepath.Join(dir, "targets.csv")
	testutil.CreateDummyFile(t, targets, "ds.a\nds.b\n")

	stub := profileStub("ds.a")
	opts := profileOptions()
	opts.Inputs = batch.InputSelection{File: targets}

	out, err := runCLI(t, opts, Env{Analyzer: stub})
	require.Error(t, err)
	assert.Equal(t, ExitLoad, ExitCode(err))
	assert.ErrorIs(t, err, batch.ErrLoad)
	assert.Empty(t, out)
	assert.Zero(t, stub.CallCount())
}

func TestRun_NoInputIsLoadError(t *testing.T) {
	stub := profileStub()
	_, err := runCLI(t, profileOptions(), Env{Analyzer: stub})
	assert.Equal(t, ExitLoad, ExitCode(err))
	assert.Zero(t, stub.CallCount())
}

func TestRun_InvalidAggregationSettings(t *testing.T) {
	opts := profileOptions("ds.a")
	opts.ThresholdPct = -1
	stub := profileStub("ds.a")
	_, err := runCLI(t, opts, Env{Analyzer: stub})
	assert.Equal(t, ExitLoad, ExitCode(err))
	assert.ErrorIs(t, err, batch.ErrConfigValidation)
	assert.Zero(t, stub.CallCount())
}

func TestRun_StdinTargets(t *testing.T) {
	stub := profileStub("ds.a", "ds.b")
	opts := profileOptions()
	opts.Inputs = batch.InputSelection{Stdin: true}

	out, err := runCLI(t, opts, Env{Analyzer: stub, Stdin: strings.NewReader("ds.a\nds.b\n")})
	require.NoError(t, err)
	assert.Equal(t, 2, decodeReport(t, out).Summary.Succeeded)
}

func TestRun_OutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "profile.md")
	opts := profileOptions("ds.a")
	opts.Format = batch.FormatMarkdown
	opts.OutputPath = path

	out, err := runCLI(t, opts, Env{Analyzer: profileStub("ds.a")})
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ds.a")
}

func TestRun_SinkFailureFallsBackToStdout(t *testing.T) {
	// A directory cannot be opened as the output file.
	path := t.TempDir()
	opts := profileOptions("ds.a", "ds.b")
	opts.OutputPath = path

	out, err := runCLI(t, opts, Env{Analyzer: profileStub("ds.a", "ds.b")})
	require.Error(t, err)
	assert.Equal(t, ExitRender, ExitCode(err))
	assert.ErrorIs(t, err, batch.ErrRender)
	assert.Equal(t, 2, decodeReport(t, out).Summary.Succeeded, "the report is printed to stdout instead")
}

func TestRun_LogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.log")
	stub := profileStub("ds.a", "ds.b")
	stub.Fail["ds.b"] = errors.New("boom")
	opts := profileOptions("ds.a", "ds.b")
	opts.LogPath = logPath

	_, err := runCLI(t, opts, Env{Analyzer: stub})
	assert.Equal(t, ExitItemFailure, ExitCode(err))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	log := string(data)
	assert.Contains(t, log, "[INFO] batch-profile: loading targets from 2 arguments")
	assert.Contains(t, log, "[INFO] batch-profile: loaded 2 targets")
	assert.Contains(t, log, "item 0 succeeded")
	assert.Contains(t, log, "[ERROR] item 1 failed")
	assert.Contains(t, log, "1 succeeded, 1 failed")
}

func TestRun_ResultCacheSkipsRepeatWork(t *testing.T) {
	cacheFile := filepath.Join(t.TempDir(), ".bqbatch.cache")
	opts := profileOptions("ds.a", "ds.b")
	opts.Tools = map[string]batch.ToolConfig{
		string(batch.ToolProfile): {Command: []string{"bq-profile", "{table}", "--format=json"}},
	}
	opts.Cache = batch.CacheConfig{File: cacheFile, Format: "gob", TTL: "1h"}

	first := profileStub("ds.a", "ds.b")
	out1, err := runCLI(t, opts, Env{Analyzer: first})
	require.NoError(t, err)
	assert.Equal(t, 2, first.CallCount())
	assert.FileExists(t, cacheFile)

	second := profileStub("ds.a", "ds.b")
	out2, err := runCLI(t, opts, Env{Analyzer: second})
	require.NoError(t, err)
	assert.Zero(t, second.CallCount(), "second run is served from the cache")
	assert.Equal(t, decodeReport(t, out1).Summary, decodeReport(t, out2).Summary)

	opts.Cache.SkipReads = true
	third := profileStub("ds.a", "ds.b")
	_, err = runCLI(t, opts, Env{Analyzer: third})
	require.NoError(t, err)
	assert.Equal(t, 2, third.CallCount(), "--no-cache ignores cached results")
}

func TestRun_DirWithGitChanged(t *testing.T) {
	dir := t.TempDir()
	testutil.CreateDummyFile(t, filepath.Join(dir, "a.sql"), "SELECT 1")
	testutil.CreateDummyFile(t, filepath.Join(dir, "b.sql"), "SELECT 2")

	handler, _ := testutil.NewTestLogger()
	opts := batch.Options{
		Tool:            batch.ToolOptimize,
		AppVersion:      "dev",
		Concurrency:     1,
		ContinueOnError: true,
		Format:          batch.FormatJSON,
		Top:             batch.DefaultTop,
		Cache:           batch.CacheConfig{Disabled: true},
		Inputs:          batch.InputSelection{Dir: dir, GitChanged: true},
		Logger:          handler,
	}
	stub := &testutil.StubAnalyzer{Payloads: map[string]any{
		filepath.Join(dir, "b.sql"): payload.Optimization{GBProcessed: 1, EstimatedCostUSD: 0.005},
	}}
	changed := func(context.Context, string) (map[string]struct{}, error) {
		return map[string]struct{}{"b.sql": {}}, nil
	}

	out, err := runCLI(t, opts, Env{Analyzer: stub, ChangedFiles: changed})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.sql")}, stub.Calls())
	assert.Equal(t, 1, decodeReport(t, out).Summary.Total)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{&ExitError{Code: ExitRender, Err: errors.New("x")}, ExitRender},
		{fmt.Errorf("wrapped: %w", &ExitError{Code: ExitLoad, Err: batch.ErrLoad}), ExitLoad},
		{fmt.Errorf("%w: bad flag", batch.ErrConfigValidation), ExitLoad},
		{fmt.Errorf("%w: no targets", batch.ErrLoad), ExitLoad},
		{fmt.Errorf("%w: disk full", batch.ErrRender), ExitRender},
		{errors.New("unknown"), ExitItemFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "error: %v", tt.err)
	}
}

func TestDescribeSource(t *testing.T) {
	tests := []struct {
		sel  batch.InputSelection
		want string
	}{
		{batch.InputSelection{Args: []string{"a", "b"}}, "2 arguments"},
		{batch.InputSelection{File: "t.csv"}, "file t.csv"},
		{batch.InputSelection{Stdin: true}, "stdin"},
		{batch.InputSelection{Dataset: "prod"}, "dataset prod"},
		{batch.InputSelection{Dataset: "prod", CompareDataset: "staging"}, "datasets prod, staging"},
		{batch.InputSelection{Dir: "queries"}, "directory queries"},
		{batch.InputSelection{Dir: "queries", GitChanged: true}, "directory queries (git changes only)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, describeSource(tt.sel))
	}
}
