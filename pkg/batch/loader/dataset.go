package loader

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/stackvity/bqbatch/pkg/batch"
)

func fromDataset(ctx context.Context, kind batch.ItemKind, sel batch.InputSelection, lister DatasetLister, logger *slog.Logger) ([]record, error) {
	if lister == nil {
		return nil, fmt.Errorf("%w: no dataset lister configured for --dataset", batch.ErrLoad)
	}
	var pattern *regexp.Regexp
	if sel.Pattern != "" {
		re, err := regexp.Compile(sel.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid --pattern %q: %w", batch.ErrLoad, sel.Pattern, err)
		}
		pattern = re
	}

	names, err := listNames(ctx, lister, sel.Dataset, pattern, logger)
	if err != nil {
		return nil, err
	}

	if kind != batch.KindPair {
		records := make([]record, 0, len(names))
		for _, n := range names {
			records = append(records, record{ID: qualify(sel.Dataset, n), where: "dataset " + sel.Dataset})
		}
		return records, nil
	}

	if sel.CompareDataset == "" {
		return nil, fmt.Errorf("%w: pair mode with --dataset needs --compare-dataset", batch.ErrLoad)
	}
	other, err := listNames(ctx, lister, sel.CompareDataset, pattern, logger)
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(other))
	for _, n := range other {
		present[n] = struct{}{}
	}

	var records []record
	for _, n := range names {
		if _, ok := present[n]; !ok {
			logger.Debug("Table has no counterpart", slog.String("table", n), slog.String("dataset", sel.CompareDataset))
			continue
		}
		records = append(records, record{
			Left:  qualify(sel.Dataset, n),
			Right: qualify(sel.CompareDataset, n),
			Name:  n,
			where: "datasets " + sel.Dataset + ", " + sel.CompareDataset,
		})
	}
	return records, nil
}

// listNames enumerates, filters and sorts the bare table names of dataset.
func listNames(ctx context.Context, lister DatasetLister, dataset string, pattern *regexp.Regexp, logger *slog.Logger) ([]string, error) {
	tables, err := lister.ListTables(ctx, dataset)
	if err != nil {
		return nil, fmt.Errorf("%w: listing dataset %q: %w", batch.ErrLoad, dataset, err)
	}
	seen := make(map[string]struct{}, len(tables))
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		n := bareName(dataset, strings.TrimSpace(t))
		if n == "" {
			continue
		}
		if pattern != nil && !pattern.MatchString(n) {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	sort.Strings(names)
	logger.Debug("Dataset enumerated", slog.String("dataset", dataset), slog.Int("listed", len(tables)), slog.Int("selected", len(names)))
	return names, nil
}

// bareName strips a dataset prefix from a listed table name.
func bareName(dataset, table string) string {
	for _, sep := range []string{".", ":"} {
		if strings.HasPrefix(table, dataset+sep) {
			return strings.TrimPrefix(table, dataset+sep)
		}
	}
	return table
}

func qualify(dataset, table string) string {
	return dataset + "." + table
}
