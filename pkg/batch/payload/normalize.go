package payload

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/stackvity/bqbatch/pkg/batch"
)

type rawColumnStat struct {
	ColumnName     string      `json:"column_name"`
	NullCount      json.Number `json:"null_count"`
	DistinctCount  json.Number `json:"distinct_count"`
	NullPercentage *float64    `json:"null_percentage"`
}

type rawProfile struct {
	TableID           string          `json:"table_id"`
	NumRows           json.Number     `json:"num_rows"`
	NumBytes          json.Number     `json:"num_bytes"`
	AvgNullPercentage *float64        `json:"avg_null_percentage"`
	Metadata          *struct {
		NumRows  json.Number       `json:"num_rows"`
		NumBytes json.Number       `json:"num_bytes"`
		Schema   []json.RawMessage `json:"schema"`
	} `json:"metadata"`
	ColumnStats       []rawColumnStat `json:"column_stats"`
	PartitionField    *string         `json:"partition_field"`
	TimePartitioning  json.RawMessage `json:"time_partitioning"`
	RangePartitioning json.RawMessage `json:"range_partitioning"`
	ClusteringFields  []string        `json:"clustering_fields"`
}

func decodeProfile(raw []byte) (Profile, error) {
	var r rawProfile
	if err := json.Unmarshal(raw, &r); err != nil {
		return Profile{}, batch.ToolError(batch.ErrToolBadOutput, "decoding profile output: %v", err)
	}

	p := Profile{
		TableID:          r.TableID,
		NumRows:          count(r.NumRows),
		NumBytes:         count(r.NumBytes),
		ColumnCount:      len(r.ColumnStats),
		ClusteringFields: r.ClusteringFields,
		Clustered:        len(r.ClusteringFields) > 0,
	}
	if r.Metadata != nil {
		if p.NumRows == 0 {
			p.NumRows = count(r.Metadata.NumRows)
		}
		if p.NumBytes == 0 {
			p.NumBytes = count(r.Metadata.NumBytes)
		}
		if len(r.Metadata.Schema) > 0 {
			p.ColumnCount = len(r.Metadata.Schema)
		}
	}
	if r.PartitionField != nil {
		p.PartitionField = *r.PartitionField
	}
	p.Partitioned = p.PartitionField != "" || present(r.TimePartitioning) || present(r.RangePartitioning)
	p.AvgNullPct = avgNullPct(r, p.NumRows)
	return p, nil
}

// avgNullPct prefers the tool's own figure, then per-column percentages, then
// null counts relative to the row count.
func avgNullPct(r rawProfile, rows int64) float64 {
	if r.AvgNullPercentage != nil {
		return *r.AvgNullPercentage
	}
	if len(r.ColumnStats) == 0 {
		return 0
	}
	var sum float64
	for _, c := range r.ColumnStats {
		switch {
		case c.NullPercentage != nil:
			sum += *c.NullPercentage
		case rows > 0:
			sum += float64(count(c.NullCount)) / float64(rows) * 100
		}
	}
	return sum / float64(len(r.ColumnStats))
}

type rawField struct {
	Field string `json:"field"`
	Type  string `json:"type"`
}

type rawComparison struct {
	TableA      string     `json:"table_a"`
	TableB      string     `json:"table_b"`
	Identical   *bool      `json:"identical"`
	OnlyInA     []rawField `json:"only_in_a"`
	OnlyInB     []rawField `json:"only_in_b"`
	TypeChanges []struct {
		Field string `json:"field"`
		TypeA string `json:"type_a"`
		TypeB string `json:"type_b"`
	} `json:"type_changes"`
	RowCountA json.Number `json:"row_count_a"`
	RowCountB json.Number `json:"row_count_b"`
}

func decodeComparison(raw []byte) (Comparison, error) {
	var r rawComparison
	if err := json.Unmarshal(raw, &r); err != nil {
		return Comparison{}, batch.ToolError(batch.ErrToolBadOutput, "decoding schema-diff output: %v", err)
	}

	c := Comparison{
		TableA:  r.TableA,
		TableB:  r.TableB,
		OnlyInA: fields(r.OnlyInA),
		OnlyInB: fields(r.OnlyInB),
	}
	for _, tc := range r.TypeChanges {
		c.TypeChanges = append(c.TypeChanges, TypeChange{Field: tc.Field, TypeA: tc.TypeA, TypeB: tc.TypeB})
	}
	if r.Identical != nil {
		c.Identical = *r.Identical && c.SchemaDiffCount() == 0
	} else {
		c.Identical = c.SchemaDiffCount() == 0
	}
	if r.RowCountA != "" && r.RowCountB != "" {
		c.HasRowCounts = true
		c.RowCountA = count(r.RowCountA)
		c.RowCountB = count(r.RowCountB)
	}
	return c, nil
}

func fields(in []rawField) []Field {
	if len(in) == 0 {
		return nil
	}
	out := make([]Field, len(in))
	for i, f := range in {
		out[i] = Field{Name: f.Field, Type: f.Type}
	}
	return out
}

type rawRecommendation struct {
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

type rawCost struct {
	BytesProcessed   json.Number `json:"bytes_processed"`
	GBProcessed      *float64    `json:"gb_processed"`
	EstimatedCostUSD float64     `json:"estimated_cost_usd"`
}

type rawOptimization struct {
	rawCost
	Info            *rawCost        `json:"info"`
	Recommendations json.RawMessage `json:"recommendations"`
	Warnings        []string        `json:"warnings"`
}

func decodeOptimization(raw []byte) (Optimization, error) {
	var r rawOptimization
	if err := json.Unmarshal(raw, &r); err != nil {
		return Optimization{}, batch.ToolError(batch.ErrToolBadOutput, "decoding optimize output: %v", err)
	}

	cost := r.rawCost
	if r.Info != nil {
		if r.Info.BytesProcessed != "" {
			cost.BytesProcessed = r.Info.BytesProcessed
		}
		if r.Info.GBProcessed != nil {
			cost.GBProcessed = r.Info.GBProcessed
		}
		if r.Info.EstimatedCostUSD != 0 {
			cost.EstimatedCostUSD = r.Info.EstimatedCostUSD
		}
	}

	o := Optimization{
		BytesProcessed:   count(cost.BytesProcessed),
		EstimatedCostUSD: cost.EstimatedCostUSD,
		Warnings:         r.Warnings,
	}
	if cost.GBProcessed != nil {
		o.GBProcessed = *cost.GBProcessed
	} else {
		o.GBProcessed = float64(o.BytesProcessed) / bytesPerGB
	}

	recs, err := recommendations(r.Recommendations)
	if err != nil {
		return Optimization{}, err
	}
	o.Recommendations = recs
	return o, nil
}

// recommendations accepts either a severity-keyed object or a flat list.
// The result is ordered by descending severity, keeping tool order within a
// severity.
func recommendations(raw json.RawMessage) ([]Recommendation, error) {
	if !present(raw) {
		return nil, nil
	}

	var flat []rawRecommendation
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, batch.ToolError(batch.ErrToolBadOutput, "decoding recommendations: %v", err)
		}
	} else {
		var grouped map[string][]rawRecommendation
		if err := json.Unmarshal(raw, &grouped); err != nil {
			return nil, batch.ToolError(batch.ErrToolBadOutput, "decoding recommendations: %v", err)
		}
		for _, sev := range batch.Severities {
			for _, rec := range grouped[sev] {
				if rec.Severity == "" {
					rec.Severity = sev
				}
				flat = append(flat, rec)
			}
		}
	}

	out := make([]Recommendation, 0, len(flat))
	for _, rec := range flat {
		category := rec.Category
		if category == "" {
			category = rec.Type
		}
		sev := strings.ToLower(strings.TrimSpace(rec.Severity))
		if sev == "" {
			sev = batch.SeverityLow
		}
		out = append(out, Recommendation{
			Severity:    sev,
			Category:    category,
			Title:       rec.Title,
			Description: rec.Description,
			Suggestion:  rec.Suggestion,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return severityRank(out[i].Severity) < severityRank(out[j].Severity)
	})
	return out, nil
}

func severityRank(sev string) int {
	for i, s := range batch.Severities {
		if s == sev {
			return i
		}
	}
	return len(batch.Severities)
}

// count converts a JSON number or numeric string to int64. Missing or
// unparseable values count as zero.
func count(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}
	return 0
}

func present(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}
