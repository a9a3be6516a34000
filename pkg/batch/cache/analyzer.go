package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/payload"
	"golang.org/x/sync/singleflight"
)

// CachingAnalyzer serves normalized payloads from a Store and records fresh
// successes into it. Failures are never cached. Identical items running at the
// same time share one underlying analysis.
type CachingAnalyzer struct {
	inner      batch.Analyzer
	store      Store
	tool       batch.Tool
	configHash string
	skipReads  bool
	group      singleflight.Group
	logger     *slog.Logger
}

// NewCachingAnalyzer wraps inner. With skipReads set, lookups are bypassed
// but fresh results are still stored.
func NewCachingAnalyzer(inner batch.Analyzer, store Store, tool batch.Tool, configHash string, skipReads bool, loggerHandler slog.Handler) *CachingAnalyzer {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	return &CachingAnalyzer{
		inner:      inner,
		store:      store,
		tool:       tool,
		configHash: configHash,
		skipReads:  skipReads,
		logger:     slog.New(loggerHandler).With(slog.String("component", "cachingAnalyzer")),
	}
}

// Analyze implements batch.Analyzer.
func (a *CachingAnalyzer) Analyze(ctx context.Context, item batch.WorkItem) (any, error) {
	key := Key(a.tool, item)
	sourceHash := ""
	if item.Kind == batch.KindQuery {
		h, err := hashFile(item.Path)
		if err != nil {
			// Unreadable files go straight to the tool, which reports the problem.
			a.logger.Debug("Cannot hash query file, bypassing cache", slog.String("path", item.Path), slog.String("error", err.Error()))
			return a.inner.Analyze(ctx, item)
		}
		sourceHash = h
	}

	if !a.skipReads {
		if data, ok := a.store.Get(key, a.configHash, sourceHash); ok {
			v, err := payload.Restore(a.tool, data)
			if err == nil {
				return v, nil
			}
			a.logger.Warn("Discarding unreadable cache entry", slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	v, err, shared := a.group.Do(key+"\x00"+sourceHash, func() (any, error) {
		return a.inner.Analyze(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		a.logger.Debug("Shared in-flight analysis", slog.String("key", key))
	}

	data, mErr := json.Marshal(v)
	if mErr != nil {
		a.logger.Warn("Payload not cacheable", slog.String("key", key), slog.String("error", mErr.Error()))
		return v, nil
	}
	a.store.Put(key, a.configHash, sourceHash, data)
	return v, nil
}

// Key identifies an item's cached result independently of its sequence index
// and display name.
func Key(tool batch.Tool, item batch.WorkItem) string {
	return string(tool) + ":" + string(item.Kind) + ":" + item.Key()
}

// ConfigHash fingerprints every setting that changes a tool's output: the
// command line and the pass-through flags.
func ConfigHash(command []string, cfg batch.RunConfig) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", cfg.Tool, strings.Join(command, "\x1f"))
	fmt.Fprintf(h, "sample=%d\x00stats=%t\x00samples=%t", cfg.SampleSize, cfg.SkipStats, cfg.SkipSamples)
	return hex.EncodeToString(h.Sum(nil))
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
