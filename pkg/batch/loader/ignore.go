package loader

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is looked up from the --dir root upwards; its patterns apply
// relative to the directory that holds it.
const IgnoreFileName = ".bqbatchignore"

type ignoreMatcher struct {
	patterns []ignorePattern
	basePath string
	logger   *slog.Logger
}

type ignorePattern struct {
	pattern     string
	origPattern string
	negated     bool
	isDirOnly   bool
	isRooted    bool
	baseAbsPath string
}

// newIgnoreMatcher loads the nearest ignore file plus the patterns given on
// the command line, which are relative to root.
func newIgnoreMatcher(root string, flagPatterns []string, logger *slog.Logger) (*ignoreMatcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path for %q: %w", root, err)
	}
	m := &ignoreMatcher{basePath: absRoot, logger: logger}

	ignoreFile, err := findIgnoreFile(absRoot)
	if err != nil {
		logger.Warn("Error searching for ignore file", slog.String("error", err.Error()))
	}
	if ignoreFile != "" {
		filePatterns, err := loadPatternsFromFile(ignoreFile)
		if err != nil {
			return nil, err
		}
		m.addPatterns(filePatterns, filepath.Dir(ignoreFile))
		logger.Debug("Loaded ignore file", slog.String("path", ignoreFile), slog.Int("count", len(filePatterns)))
	}
	m.addPatterns(flagPatterns, absRoot)
	return m, nil
}

func findIgnoreFile(absStart string) (string, error) {
	current := absStart
	for {
		candidate := filepath.Join(current, IgnoreFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("checking %s: %w", candidate, err)
		}
		parent := filepath.Dir(current)
		if parent == current || parent == "" {
			return "", nil
		}
		current = parent
	}
}

func loadPatternsFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ignore file %s: %w", path, err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file %s: %w", path, err)
	}
	return patterns, nil
}

func (m *ignoreMatcher) addPatterns(raw []string, baseAbsPath string) {
	for _, r := range raw {
		p := ignorePattern{origPattern: r, baseAbsPath: baseAbsPath}
		s := strings.TrimSpace(r)
		if strings.HasPrefix(s, "!") {
			p.negated = true
			s = strings.TrimSpace(s[1:])
		}
		if strings.HasPrefix(s, "/") {
			p.isRooted = true
			s = strings.TrimPrefix(s, "/")
		}
		if strings.HasSuffix(s, "/") {
			p.isDirOnly = true
			s = strings.TrimSuffix(s, "/")
		}
		p.pattern = filepath.ToSlash(s)
		if p.pattern == "" {
			continue
		}
		m.patterns = append(m.patterns, p)
	}
}

// Match reports whether rel (slash-separated, relative to the root) is
// ignored. The last matching pattern wins, so "!" patterns re-include.
func (m *ignoreMatcher) Match(rel string, isDir bool) (bool, string) {
	ignored, by := false, ""
	for _, p := range m.patterns {
		if p.isDirOnly && !isDir {
			continue
		}
		if m.matches(p, rel) {
			ignored = !p.negated
			by = p.origPattern
		}
	}
	if !ignored {
		by = ""
	}
	return ignored, by
}

// matches applies one gitignore-style pattern. Unrooted patterns match any
// trailing run of path segments.
func (m *ignoreMatcher) matches(p ignorePattern, rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	relToBase, err := filepath.Rel(p.baseAbsPath, filepath.Join(m.basePath, filepath.FromSlash(rel)))
	if err != nil {
		return false
	}
	relToBase = filepath.ToSlash(relToBase)
	if strings.HasPrefix(relToBase, "../") {
		return false
	}
	if ok, _ := filepath.Match(p.pattern, relToBase); ok {
		return true
	}
	if p.isRooted {
		return false
	}
	parts := strings.Split(relToBase, "/")
	for i := 1; i < len(parts); i++ {
		if ok, _ := filepath.Match(p.pattern, strings.Join(parts[i:], "/")); ok {
			return true
		}
	}
	return false
}
