// Package loader turns one input descriptor (inline arguments, a target file,
// stdin, a dataset or a directory of query files) into an ordered list of
// work items. Every error it returns wraps batch.ErrLoad and is returned before
// anything has been executed.
package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/stackvity/bqbatch/pkg/batch"
)

// DatasetLister enumerates the tables of a dataset. It is the live lookup
// behind --dataset.
type DatasetLister interface {
	ListTables(ctx context.Context, dataset string) ([]string, error)
}

// ChangedFilesFunc returns the files changed in the git worktree containing
// root, as slash-separated paths relative to root.
type ChangedFilesFunc func(ctx context.Context, root string) (map[string]struct{}, error)

// Options carries the collaborators used by Load.
type Options struct {
	// Stdin is read when InputSelection.Stdin is set.
	Stdin io.Reader
	// Lister is required for dataset mode.
	Lister DatasetLister
	// ChangedFiles is required when InputSelection.GitChanged is set.
	ChangedFiles ChangedFilesFunc
	// Logger is optional; nil discards.
	Logger slog.Handler
}

// Load produces the work items described by sel for items of the given kind.
// Sequence indexes follow input order.
func Load(ctx context.Context, kind batch.ItemKind, sel batch.InputSelection, opts Options) ([]batch.WorkItem, error) {
	handler := opts.Logger
	if handler == nil {
		handler = slog.NewTextHandler(io.Discard, nil)
	}
	logger := slog.New(handler).With(slog.String("component", "loader"))

	source, err := selectSource(kind, sel)
	if err != nil {
		return nil, err
	}
	logger.Debug("Loading work items", slog.String("source", source), slog.String("kind", string(kind)))

	var records []record
	switch source {
	case "args":
		records, err = fromArgs(kind, sel.Args)
	case "file":
		records, err = fromFile(kind, sel.File)
	case "stdin":
		if opts.Stdin == nil {
			return nil, fmt.Errorf("%w: --stdin given but no input stream is available", batch.ErrLoad)
		}
		records, err = fromReader(kind, opts.Stdin, "", "stdin")
	case "dataset":
		records, err = fromDataset(ctx, kind, sel, opts.Lister, logger)
	case "dir":
		records, err = fromDir(ctx, sel, opts.ChangedFiles, logger)
	}
	if err != nil {
		return nil, err
	}

	items, err := toItems(kind, records)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s yielded no usable items", batch.ErrLoad, source)
	}
	logger.Info("Loaded work items", slog.String("source", source), slog.Int("count", len(items)))
	return items, nil
}

// selectSource checks that exactly one input source is set.
func selectSource(kind batch.ItemKind, sel batch.InputSelection) (string, error) {
	var set []string
	if len(sel.Args) > 0 {
		set = append(set, "args")
	}
	if sel.File != "" {
		set = append(set, "file")
	}
	if sel.Stdin {
		set = append(set, "stdin")
	}
	if sel.Dataset != "" {
		set = append(set, "dataset")
	}
	if sel.Dir != "" {
		set = append(set, "dir")
	}

	switch {
	case len(set) == 0:
		return "", fmt.Errorf("%w: no input given (use arguments, --file, --stdin, --dataset or --dir)", batch.ErrLoad)
	case len(set) > 1:
		return "", fmt.Errorf("%w: input sources are mutually exclusive, got %s", batch.ErrLoad, strings.Join(set, ", "))
	}

	source := set[0]
	if source == "dir" && kind != batch.KindQuery {
		return "", fmt.Errorf("%w: --dir is only supported for query files", batch.ErrLoad)
	}
	if source == "dataset" && kind == batch.KindQuery {
		return "", fmt.Errorf("%w: --dataset is not supported for query files", batch.ErrLoad)
	}
	if sel.Pattern != "" && source != "dataset" {
		return "", fmt.Errorf("%w: --pattern requires --dataset", batch.ErrLoad)
	}
	if sel.CompareDataset != "" && (source != "dataset" || kind != batch.KindPair) {
		return "", fmt.Errorf("%w: --compare-dataset requires --dataset in pair mode", batch.ErrLoad)
	}
	if (len(sel.Ignore) > 0 || sel.GitChanged) && source != "dir" {
		return "", fmt.Errorf("%w: --ignore and --git-changed require --dir", batch.ErrLoad)
	}
	return source, nil
}

// record is one parsed input entry before it becomes a WorkItem.
type record struct {
	ID    string
	Left  string
	Right string
	Path  string
	Name  string
	// where locates the entry in its source for error messages.
	where string
}

func toItems(kind batch.ItemKind, records []record) ([]batch.WorkItem, error) {
	items := make([]batch.WorkItem, 0, len(records))
	for _, r := range records {
		seq := len(items)
		var (
			it  batch.WorkItem
			err error
		)
		switch kind {
		case batch.KindTable:
			it, err = batch.NewProfileTarget(seq, r.ID, r.Name)
		case batch.KindPair:
			it, err = batch.NewComparePair(seq, r.Left, r.Right, r.Name)
		case batch.KindQuery:
			it, err = batch.NewQueryFile(seq, r.Path, r.Name)
		default:
			return nil, fmt.Errorf("%w: unknown item kind %q", batch.ErrLoad, kind)
		}
		if err != nil {
			if r.where != "" {
				return nil, fmt.Errorf("%w (%s)", err, r.where)
			}
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}
