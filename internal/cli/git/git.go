// Package git restricts --dir discovery to files changed in the enclosing
// git worktree, using go-git so no git binary is required.
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
)

// ErrNotRepository is returned when the directory is not inside a worktree.
var ErrNotRepository = errors.New("not inside a git repository")

// ChangedFiles reports files that differ from HEAD: staged, modified and
// untracked (but not ignored) files. Deleted files are skipped since there is
// nothing left to analyze.
type ChangedFiles struct {
	logger *slog.Logger
}

// NewChangedFiles creates the filter.
func NewChangedFiles(loggerHandler slog.Handler) *ChangedFiles {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	return &ChangedFiles{logger: slog.New(loggerHandler).With(slog.String("component", "gitChanged"), slog.String("backend", "go-git"))}
}

// List returns the changed files under root as slash-separated paths relative
// to root. It matches loader.ChangedFilesFunc.
func (c *ChangedFiles) List(ctx context.Context, root string) (map[string]struct{}, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for '%s': %w", root, err)
	}
	if absRoot, err = filepath.EvalSymlinks(absRoot); err != nil {
		return nil, fmt.Errorf("failed to resolve '%s': %w", root, err)
	}

	repo, err := gogit.PlainOpenWithOptions(absRoot, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: '%s'", ErrNotRepository, absRoot)
		}
		return nil, fmt.Errorf("failed to open repository at '%s': %w", absRoot, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree for '%s': %w", absRoot, err)
	}
	repoRoot, err := filepath.EvalSymlinks(worktree.Filesystem.Root())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve worktree root: %w", err)
	}
	prefix, err := filepath.Rel(repoRoot, absRoot)
	if err != nil {
		return nil, fmt.Errorf("'%s' is outside worktree '%s': %w", absRoot, repoRoot, err)
	}
	prefix = filepath.ToSlash(prefix)
	if prefix == "." {
		prefix = ""
	} else {
		prefix += "/"
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get git status for '%s': %w", repoRoot, err)
	}

	changed := make(map[string]struct{})
	for path, st := range status {
		if st.Staging == gogit.Deleted || st.Worktree == gogit.Deleted {
			continue
		}
		if st.Staging == gogit.Unmodified && st.Worktree == gogit.Unmodified {
			continue
		}
		p := filepath.ToSlash(path)
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rel := strings.TrimPrefix(p, prefix)
		changed[rel] = struct{}{}
		c.logger.Debug("Changed file", slog.String("path", rel), slog.String("status", fmt.Sprintf("%c%c", st.Staging, st.Worktree)))
	}
	c.logger.Debug("Git status scanned", slog.String("root", absRoot), slog.Int("changed", len(changed)))
	return changed, nil
}
