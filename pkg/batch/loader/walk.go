package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-enry/go-enry/v2"
	"github.com/stackvity/bqbatch/pkg/batch"
)

// sniffBytes bounds how much of an extensionless file is read for language
// classification.
const sniffBytes = 8 * 1024

// queryExtensions are accepted without looking at the content.
var queryExtensions = map[string]bool{".sql": true, ".bqsql": true}

func fromDir(ctx context.Context, sel batch.InputSelection, changed ChangedFilesFunc, logger *slog.Logger) ([]record, error) {
	root := sel.Dir
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: directory %q does not exist", batch.ErrLoad, root)
		}
		return nil, fmt.Errorf("%w: reading directory %q: %w", batch.ErrLoad, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", batch.ErrLoad, root)
	}

	matcher, err := newIgnoreMatcher(root, sel.Ignore, logger.With(slog.String("component", "ignoreMatcher")))
	if err != nil {
		return nil, fmt.Errorf("%w: loading ignore patterns: %w", batch.ErrLoad, err)
	}

	var changedSet map[string]struct{}
	if sel.GitChanged {
		if changed == nil {
			return nil, fmt.Errorf("%w: --git-changed is not available", batch.ErrLoad)
		}
		changedSet, err = changed(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("%w: listing changed files: %w", batch.ErrLoad, err)
		}
		logger.Debug("Git changed-file filter active", slog.Int("changed", len(changedSet)))
	}

	var found []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("Error accessing path during walk", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if ignored, by := matcher.Match(rel, true); ignored {
				logger.Debug("Directory ignored", slog.String("path", rel), slog.String("pattern", by))
				return filepath.SkipDir
			}
			return nil
		}
		if ignored, by := matcher.Match(rel, false); ignored {
			logger.Debug("File ignored", slog.String("path", rel), slog.String("pattern", by))
			return nil
		}
		if changedSet != nil {
			if _, ok := changedSet[rel]; !ok {
				return nil
			}
		}
		if !isQueryFile(path) {
			return nil
		}
		found = append(found, rel)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("%w: walking %q: %w", batch.ErrLoad, root, walkErr)
	}

	sort.Strings(found)
	records := make([]record, 0, len(found))
	for _, rel := range found {
		records = append(records, record{Path: filepath.Join(root, filepath.FromSlash(rel)), where: "directory " + root})
	}
	return records, nil
}

// isQueryFile accepts known query extensions, and extensionless files whose
// content go-enry classifies as SQL.
func isQueryFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if queryExtensions[ext] {
		return true
	}
	if ext != "" {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head, err := io.ReadAll(io.LimitReader(f, sniffBytes))
	if err != nil || len(head) == 0 || enry.IsBinary(head) {
		return false
	}
	return isSQLLanguage(enry.GetLanguage(filepath.Base(path), head))
}

func isSQLLanguage(lang string) bool {
	switch lang {
	case "SQL", "PLSQL", "PLpgSQL", "SQLPL", "TSQL":
		return true
	}
	return false
}
