package testutil

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stretchr/testify/require"
)

// CreateDummyFile creates a file with the given content, ensuring parent
// directories exist.
func CreateDummyFile(t *testing.T, path string, content string) {
	t.Helper()
	fullPath := filepath.Clean(path)
	dir := filepath.Dir(fullPath)
	err := os.MkdirAll(dir, 0755)
	require.NoError(t, err, "Failed to create directory %s for dummy file", dir)
	err = os.WriteFile(fullPath, []byte(content), 0644)
	require.NoError(t, err, "Failed to write dummy file %s", fullPath)
}

// CreateDummyDir ensures a directory exists at the given path.
func CreateDummyDir(t *testing.T, path string) {
	t.Helper()
	err := os.MkdirAll(filepath.Clean(path), 0755)
	require.NoError(t, err, "Failed to create dummy directory %s", path)
}

// NewTestLogger returns a debug-level text handler writing into the returned buffer.
func NewTestLogger() (slog.Handler, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}), buf
}

// Tables builds sequenced table work items from identifiers.
func Tables(t *testing.T, ids ...string) []batch.WorkItem {
	t.Helper()
	items := make([]batch.WorkItem, 0, len(ids))
	for i, id := range ids {
		it, err := batch.NewProfileTarget(i, id, "")
		require.NoError(t, err)
		items = append(items, it)
	}
	return items
}

// Pairs builds sequenced pair work items from left/right couples.
func Pairs(t *testing.T, lr ...[2]string) []batch.WorkItem {
	t.Helper()
	items := make([]batch.WorkItem, 0, len(lr))
	for i, p := range lr {
		it, err := batch.NewComparePair(i, p[0], p[1], "")
		require.NoError(t, err)
		items = append(items, it)
	}
	return items
}

// Queries builds sequenced query-file work items from paths.
func Queries(t *testing.T, paths ...string) []batch.WorkItem {
	t.Helper()
	items := make([]batch.WorkItem, 0, len(paths))
	for i, p := range paths {
		it, err := batch.NewQueryFile(i, p, "")
		require.NoError(t, err)
		items = append(items, it)
	}
	return items
}

// Run executes items through a real engine with continue-on-error enabled and
// returns the sealed run.
func Run(t *testing.T, tool batch.Tool, items []batch.WorkItem, analyzer batch.Analyzer, cfg batch.RunConfig) *batch.BatchRun {
	t.Helper()
	logger := slog.NewTextHandler(io.Discard, nil)
	engine, err := batch.NewEngine(batch.Options{
		Tool:            tool,
		Concurrency:     cfg.Concurrency,
		ContinueOnError: true,
		Top:             cfg.Top,
		ThresholdPct:    cfg.ThresholdPct,
		MinCostGB:       cfg.MinCostGB,
		CriticalOnly:    cfg.CriticalOnly,
		Prioritize:      cfg.Prioritize,
		DetectAnomalies: cfg.DetectAnomalies,
		CompareProfiles: cfg.CompareProfiles,
		Format:          cfg.Format,
		Quiet:           cfg.Quiet,
		Executor:        batch.NewItemExecutor(analyzer, logger),
		Logger:          logger,
	})
	require.NoError(t, err)
	run, err := engine.Run(context.Background(), items)
	require.NoError(t, err)
	return run
}
