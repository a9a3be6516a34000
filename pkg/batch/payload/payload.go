// Package payload holds the normalized result payloads of the wrapped
// single-item tools and decodes their raw JSON output.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stackvity/bqbatch/pkg/batch"
)

// bytesPerGB converts a byte count into the GB figure used for cost estimates.
const bytesPerGB = 1024 * 1024 * 1024

// Profile is the normalized output of the profile tool for one table.
type Profile struct {
	TableID          string   `json:"tableId"`
	NumRows          int64    `json:"numRows"`
	NumBytes         int64    `json:"numBytes"`
	ColumnCount      int      `json:"columnCount"`
	AvgNullPct       float64  `json:"avgNullPct"`
	Partitioned      bool     `json:"partitioned"`
	PartitionField   string   `json:"partitionField,omitempty"`
	Clustered        bool     `json:"clustered"`
	ClusteringFields []string `json:"clusteringFields,omitempty"`
}

// Field is a named, typed schema column.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// TypeChange is a column present on both sides with a different type.
type TypeChange struct {
	Field string `json:"field"`
	TypeA string `json:"typeA"`
	TypeB string `json:"typeB"`
}

// Comparison is the normalized output of the schema-diff tool for one pair.
type Comparison struct {
	TableA       string       `json:"tableA"`
	TableB       string       `json:"tableB"`
	Identical    bool         `json:"identical"`
	OnlyInA      []Field      `json:"onlyInA,omitempty"`
	OnlyInB      []Field      `json:"onlyInB,omitempty"`
	TypeChanges  []TypeChange `json:"typeChanges,omitempty"`
	HasRowCounts bool         `json:"hasRowCounts"`
	RowCountA    int64        `json:"rowCountA,omitempty"`
	RowCountB    int64        `json:"rowCountB,omitempty"`
}

// SchemaDiffCount is the number of column-level differences.
func (c Comparison) SchemaDiffCount() int {
	return len(c.OnlyInA) + len(c.OnlyInB) + len(c.TypeChanges)
}

// HasSchemaDiff reports whether the two schemas differ.
func (c Comparison) HasSchemaDiff() bool {
	return !c.Identical || c.SchemaDiffCount() > 0
}

// Recommendation is one optimization finding.
type Recommendation struct {
	Severity    string `json:"severity"`
	Category    string `json:"category,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// Optimization is the normalized output of the optimize tool for one query file.
type Optimization struct {
	BytesProcessed   int64            `json:"bytesProcessed"`
	GBProcessed      float64          `json:"gbProcessed"`
	EstimatedCostUSD float64          `json:"estimatedCostUsd"`
	Recommendations  []Recommendation `json:"recommendations,omitempty"`
	Warnings         []string         `json:"warnings,omitempty"`
}

// CostGB implements batch.CostReporter.
func (o Optimization) CostGB() float64 { return o.GBProcessed }

// CostUSD implements batch.CostReporter.
func (o Optimization) CostUSD() float64 { return o.EstimatedCostUSD }

// SeverityCounts counts recommendations per severity.
func (o Optimization) SeverityCounts() map[string]int {
	counts := make(map[string]int, len(batch.Severities))
	for _, r := range o.Recommendations {
		counts[r.Severity]++
	}
	return counts
}

// Decode validates raw tool output against the tool's JSON schema and
// normalizes it. Every error matches batch.ErrToolBadOutput.
func Decode(tool batch.Tool, raw []byte) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, batch.ToolError(batch.ErrToolBadOutput, "empty output")
	}
	if !json.Valid(raw) {
		return nil, batch.ToolError(batch.ErrToolBadOutput, "output is not valid JSON: %s", snippet(raw))
	}
	if err := validate(tool, raw); err != nil {
		return nil, err
	}

	var reported struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &reported); err == nil && strings.TrimSpace(reported.Error) != "" {
		return nil, batch.ToolError(batch.ErrToolBadOutput, "tool reported an error: %s", strings.TrimSpace(reported.Error))
	}

	switch tool {
	case batch.ToolProfile:
		return decodeProfile(raw)
	case batch.ToolCompare:
		return decodeComparison(raw)
	case batch.ToolOptimize:
		return decodeOptimization(raw)
	}
	return nil, batch.ToolError(batch.ErrToolBadOutput, "unknown tool %q", tool)
}

// Restore decodes a previously normalized payload, as stored by the result
// cache, back into its typed form.
func Restore(tool batch.Tool, data []byte) (any, error) {
	var (
		v   any
		err error
	)
	switch tool {
	case batch.ToolProfile:
		var p Profile
		err = json.Unmarshal(data, &p)
		v = p
	case batch.ToolCompare:
		var c Comparison
		err = json.Unmarshal(data, &c)
		v = c
	case batch.ToolOptimize:
		var o Optimization
		err = json.Unmarshal(data, &o)
		v = o
	default:
		return nil, fmt.Errorf("unknown tool %q", tool)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding cached %s payload: %w", tool, err)
	}
	return v, nil
}

func snippet(raw []byte) string {
	const max = 80
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
