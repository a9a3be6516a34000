// Package lister enumerates dataset tables by running an external listing
// command, by default "bq ls --format=json".
package lister

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/stackvity/bqbatch/internal/cli/runner"
)

// PlaceholderDataset is substituted with the dataset name.
const PlaceholderDataset = "{dataset}"

// ExecLister implements loader.DatasetLister.
type ExecLister struct {
	command []string
	logger  *slog.Logger
}

// NewExecLister creates a lister running command. When command does not
// reference {dataset}, the dataset is appended as the last argument.
func NewExecLister(command []string, loggerHandler slog.Handler) (*ExecLister, error) {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("lister command cannot be empty")
	}
	return &ExecLister{
		command: append([]string(nil), command...),
		logger:  slog.New(loggerHandler).With(slog.String("component", "datasetLister")),
	}, nil
}

// ListTables implements loader.DatasetLister.
func (l *ExecLister) ListTables(ctx context.Context, dataset string) ([]string, error) {
	argv := make([]string, 0, len(l.command)+1)
	substituted := false
	for _, arg := range l.command {
		if strings.Contains(arg, PlaceholderDataset) {
			substituted = true
			arg = strings.ReplaceAll(arg, PlaceholderDataset, dataset)
		}
		argv = append(argv, arg)
	}
	if !substituted {
		argv = append(argv, dataset)
	}

	res, err := runner.Exec(ctx, argv, l.logger)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if line := res.LastStderrLine(); line != "" {
				return nil, fmt.Errorf("listing command exited with code %d: %s", res.ExitCode, line)
			}
			return nil, fmt.Errorf("listing command exited with code %d", res.ExitCode)
		}
		return nil, fmt.Errorf("listing command failed: %w", err)
	}

	tables, err := ParseListing(res.Stdout)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("Dataset listed", slog.String("dataset", dataset), slog.Int("tables", len(tables)))
	return tables, nil
}

type listEntry struct {
	TableReference struct {
		ProjectID string `json:"projectId"`
		DatasetID string `json:"datasetId"`
		TableID   string `json:"tableId"`
	} `json:"tableReference"`
	Type string `json:"type"`
}

// ParseListing extracts table names from a listing. JSON output (an array of
// objects carrying tableReference.tableId, or of plain strings) is preferred;
// anything else is read as one name per line. Views are kept, models and
// routines are skipped.
func ParseListing(out []byte) ([]string, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	if out[0] != '[' {
		var names []string
		for _, line := range strings.Split(string(out), "\n") {
			if name := strings.TrimSpace(line); name != "" {
				names = append(names, name)
			}
		}
		return names, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("listing output is not valid JSON: %w", err)
	}
	names := make([]string, 0, len(raw))
	for i, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				names = append(names, s)
			}
			continue
		}
		var e listEntry
		if err := json.Unmarshal(r, &e); err != nil {
			return nil, fmt.Errorf("listing entry %d: %w", i, err)
		}
		switch strings.ToUpper(e.Type) {
		case "MODEL", "ROUTINE":
			continue
		}
		if e.TableReference.TableID != "" {
			names = append(names, e.TableReference.TableID)
		}
	}
	return names, nil
}
