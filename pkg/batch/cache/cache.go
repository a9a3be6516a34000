package cache

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultFileName is used when --cache-file is given as a directory.
const DefaultFileName = ".bqbatch.cache"

// SchemaVersion is the version of the on-disk layout. Files written with a
// different version are discarded on Load.
const SchemaVersion = "1.0"

const (
	FormatGob     = "gob"
	FormatJSON    = "json"
	DefaultFormat = FormatGob
)

// DefaultTTL bounds how long a cached payload is served.
const DefaultTTL = 24 * time.Hour

// ErrCacheLoad wraps critical I/O failures while reading the cache file.
// Corrupt or outdated files are treated as empty instead.
var ErrCacheLoad = errors.New("failed to load result cache")

// ErrCachePersist wraps failures while writing the cache file.
var ErrCachePersist = errors.New("failed to persist result cache")

// Entry is one cached, normalized tool payload.
type Entry struct {
	StoredAt      time.Time `json:"storedAt"`
	ConfigHash    string    `json:"configHash"`
	SourceHash    string    `json:"sourceHash,omitempty"`
	Payload       []byte    `json:"payload"`
	SchemaVersion string    `json:"schemaVersion"`
	ToolVersion   string    `json:"toolVersion"`
}

// FileHeader is written before the index.
type FileHeader struct {
	SchemaVersion string `json:"schemaVersion"`
	ToolVersion   string `json:"toolVersion"`
}

type jsonFile struct {
	Header FileHeader       `json:"header"`
	Index  map[string]Entry `json:"index"`
}

// Store is a keyed payload cache. Get and Put are safe for concurrent use.
type Store interface {
	Load(path string) error
	Get(key, configHash, sourceHash string) ([]byte, bool)
	Put(key, configHash, sourceHash string, payload []byte)
	Persist(path string) error
	Len() int
}

type fileStore struct {
	index       map[string]Entry
	mu          sync.RWMutex
	logger      *slog.Logger
	toolVersion string
	format      string
	ttl         time.Duration
	now         func() time.Time
}

// NewFileStore creates a file-backed Store. An unknown format falls back to
// gob and a non-positive ttl to DefaultTTL.
func NewFileStore(loggerHandler slog.Handler, toolVersion, format string, ttl time.Duration) Store {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	format = strings.ToLower(format)
	if format != FormatJSON && format != FormatGob {
		format = DefaultFormat
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if toolVersion == "" {
		toolVersion = "dev"
	}
	return &fileStore{
		index: make(map[string]Entry),
		logger: slog.New(loggerHandler).With(
			slog.String("component", "resultCache"),
			slog.String("format", format),
		),
		toolVersion: toolVersion,
		format:      format,
		ttl:         ttl,
		now:         time.Now,
	}
}

// ParseTTL parses a configured TTL, returning DefaultTTL for an empty value.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultTTL, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cache ttl %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("cache ttl must be positive, got %q", s)
	}
	return d, nil
}

func (c *fileStore) Load(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]Entry)

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("Cache file not found, starting empty", slog.String("path", path))
			return nil
		}
		return fmt.Errorf("%w: open %q: %w", ErrCacheLoad, path, err)
	}
	defer file.Close()

	var (
		header FileHeader
		index  map[string]Entry
	)
	if c.format == FormatJSON {
		var data jsonFile
		err = json.NewDecoder(file).Decode(&data)
		header, index = data.Header, data.Index
	} else {
		dec := gob.NewDecoder(file)
		if err = dec.Decode(&header); err == nil {
			err = dec.Decode(&index)
		}
	}
	if err != nil {
		c.logger.Warn("Cache file unreadable, treating as empty", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	if header.SchemaVersion != SchemaVersion {
		c.logger.Warn("Cache schema version mismatch, discarding",
			slog.String("path", path), slog.String("file_schema", header.SchemaVersion))
		return nil
	}
	if !versionsCompatible(header.ToolVersion, c.toolVersion) {
		c.logger.Warn("Cache written by another version, discarding",
			slog.String("path", path), slog.String("file_version", header.ToolVersion), slog.String("version", c.toolVersion))
		return nil
	}
	if index != nil {
		c.index = index
	}
	c.logger.Info("Result cache loaded", slog.String("path", path), slog.Int("entries", len(c.index)))
	return nil
}

func (c *fileStore) Get(key, configHash, sourceHash string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.index[key]
	c.mu.RUnlock()

	switch {
	case !ok:
		c.logger.Debug("Cache miss", slog.String("key", key))
		return nil, false
	case entry.SchemaVersion != SchemaVersion || !versionsCompatible(entry.ToolVersion, c.toolVersion):
		c.logger.Debug("Cache miss (version)", slog.String("key", key))
		return nil, false
	case entry.ConfigHash != configHash:
		c.logger.Debug("Cache miss (config changed)", slog.String("key", key))
		return nil, false
	case entry.SourceHash != sourceHash:
		c.logger.Debug("Cache miss (source changed)", slog.String("key", key))
		return nil, false
	case c.now().Sub(entry.StoredAt) > c.ttl:
		c.logger.Debug("Cache miss (expired)", slog.String("key", key), slog.Time("storedAt", entry.StoredAt))
		return nil, false
	}
	c.logger.Debug("Cache hit", slog.String("key", key))
	return entry.Payload, true
}

func (c *fileStore) Put(key, configHash, sourceHash string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[key] = Entry{
		StoredAt:      c.now().UTC(),
		ConfigHash:    configHash,
		SourceHash:    sourceHash,
		Payload:       payload,
		SchemaVersion: SchemaVersion,
		ToolVersion:   c.toolVersion,
	}
}

func (c *fileStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Persist writes the index atomically: encode into a temp file in the target
// directory, then rename over path. Expired entries are dropped.
func (c *fileStore) Persist(path string) error {
	now := c.now()
	c.mu.RLock()
	index := make(map[string]Entry, len(c.index))
	for k, v := range c.index {
		if now.Sub(v.StoredAt) <= c.ttl {
			index[k] = v
		}
	}
	c.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create directory %q: %w", ErrCachePersist, dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file in %q: %w", ErrCachePersist, dir, err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	header := FileHeader{SchemaVersion: SchemaVersion, ToolVersion: c.toolVersion}
	if c.format == FormatJSON {
		enc := json.NewEncoder(tmp)
		enc.SetIndent("", "  ")
		err = enc.Encode(jsonFile{Header: header, Index: index})
	} else {
		enc := gob.NewEncoder(tmp)
		if err = enc.Encode(header); err == nil {
			err = enc.Encode(index)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrCachePersist, c.format, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %w", ErrCachePersist, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename into %q: %w", ErrCachePersist, path, err)
	}
	renamed = true
	c.logger.Info("Result cache persisted", slog.String("path", path), slog.Int("entries", len(index)))
	return nil
}

// versionsCompatible treats "dev" builds as compatible with anything.
func versionsCompatible(a, b string) bool {
	return a == b || a == "dev" || b == "dev"
}
