package aggregate

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/payload"
)

// ProfileSummary holds the comparative statistics of a profiling batch.
type ProfileSummary struct {
	TablesProfiled int         `json:"tablesProfiled"`
	TotalRows      int64       `json:"totalRows"`
	TotalBytes     int64       `json:"totalBytes"`
	Partitioned    int         `json:"partitionedTables"`
	Clustered      int         `json:"clusteredTables"`
	LargestTables  []TableStat `json:"largestTables"`
	MostNulls      []TableStat `json:"highestNullRate"`
	Anomalies      []Anomaly   `json:"anomalies,omitempty"`
	Comparison     []TableStat `json:"comparison,omitempty"`
}

// TableStat is one table in a ranking.
type TableStat struct {
	SequenceIndex int     `json:"sequenceIndex"`
	Label         string  `json:"label"`
	NumRows       int64   `json:"numRows"`
	NumBytes      int64   `json:"numBytes"`
	AvgNullPct    float64 `json:"avgNullPct"`
	RowShare      float64 `json:"rowSharePct,omitempty"`
	ByteShare     float64 `json:"byteSharePct,omitempty"`
}

// Anomaly flags a profiled table that looks wrong.
type Anomaly struct {
	SequenceIndex int    `json:"sequenceIndex"`
	Label         string `json:"label"`
	Reason        string `json:"reason"`
}

// ProfileStrategy aggregates bq-profile results.
type ProfileStrategy struct {
	cfg batch.RunConfig
}

// Tool implements Strategy.
func (s *ProfileStrategy) Tool() batch.Tool { return batch.ToolProfile }

// Aggregate implements Strategy.
func (s *ProfileStrategy) Aggregate(run *batch.BatchRun) *Report {
	report, succeeded := collect(batch.ToolProfile, run)
	sum := &ProfileSummary{}

	stats := make([]TableStat, 0, len(succeeded))
	for _, o := range succeeded {
		p, ok := o.env.Payload.(payload.Profile)
		if !ok {
			unexpected(report, o)
			continue
		}
		sum.TablesProfiled++
		sum.TotalRows += p.NumRows
		sum.TotalBytes += p.NumBytes
		if p.Partitioned {
			sum.Partitioned++
		}
		if p.Clustered {
			sum.Clustered++
		}
		stats = append(stats, TableStat{
			SequenceIndex: o.env.SequenceIndex,
			Label:         o.item.Label(),
			NumRows:       p.NumRows,
			NumBytes:      p.NumBytes,
			AvgNullPct:    p.AvgNullPct,
		})
		if s.cfg.DetectAnomalies {
			sum.Anomalies = append(sum.Anomalies, anomalies(o, p)...)
		}
	}

	seq := func(t TableStat) int { return t.SequenceIndex }
	sum.LargestTables = rank(stats, s.cfg.Top, func(t TableStat) float64 { return float64(t.NumBytes) }, seq)
	sum.MostNulls = rank(stats, s.cfg.Top, func(t TableStat) float64 { return t.AvgNullPct }, seq)

	if s.cfg.CompareProfiles {
		sum.Comparison = make([]TableStat, len(stats))
		for i, t := range stats {
			if sum.TotalRows > 0 {
				t.RowShare = float64(t.NumRows) / float64(sum.TotalRows) * 100
			}
			if sum.TotalBytes > 0 {
				t.ByteShare = float64(t.NumBytes) / float64(sum.TotalBytes) * 100
			}
			sum.Comparison[i] = t
		}
	}

	report.Profile = sum
	return report
}

func anomalies(o outcome, p payload.Profile) []Anomaly {
	var out []Anomaly
	if p.NumRows == 0 {
		out = append(out, Anomaly{SequenceIndex: o.env.SequenceIndex, Label: o.item.Label(), Reason: "table is empty"})
	}
	if p.AvgNullPct >= batch.AnomalyNullPct {
		out = append(out, Anomaly{
			SequenceIndex: o.env.SequenceIndex,
			Label:         o.item.Label(),
			Reason:        "average null rate " + pct(p.AvgNullPct),
		})
	}
	return out
}

// ItemColumns implements Strategy.
func (s *ProfileStrategy) ItemColumns() []string {
	return []string{"Rows", "Size", "Columns", "Avg null", "Partitioned", "Clustered"}
}

// ItemRows implements Strategy.
func (s *ProfileStrategy) ItemRows(run *batch.BatchRun, _ *Report) []ItemRow {
	results := run.Results()
	rows := make([]ItemRow, 0, len(results))
	for _, env := range results {
		item, _ := run.Item(env.SequenceIndex)
		row := baseRow(item, env)
		if p, ok := env.Payload.(payload.Profile); ok {
			clustered := yesNo(p.Clustered)
			if p.Clustered {
				clustered = strings.Join(p.ClusteringFields, ", ")
			}
			row.Cells = []string{
				humanize.Comma(p.NumRows),
				humanize.IBytes(uint64(p.NumBytes)),
				strconv.Itoa(p.ColumnCount),
				pct(p.AvgNullPct),
				yesNo(p.Partitioned),
				clustered,
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Sections implements Strategy.
func (s *ProfileStrategy) Sections(r *Report) []Section {
	sections := []Section{runSection(r)}
	sum := r.Profile
	if sum == nil {
		return sections
	}

	sections = append(sections, Section{
		Title:   "Totals",
		Columns: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Tables profiled", strconv.Itoa(sum.TablesProfiled)},
			{"Total rows", humanize.Comma(sum.TotalRows)},
			{"Total size", humanize.IBytes(uint64(sum.TotalBytes))},
			{"Partitioned tables", strconv.Itoa(sum.Partitioned)},
			{"Clustered tables", strconv.Itoa(sum.Clustered)},
		},
	})

	largest := Section{Title: "Largest tables", Columns: []string{"#", "Table", "Size", "Rows"}, Rows: [][]string{}}
	for i, t := range sum.LargestTables {
		largest.Rows = append(largest.Rows, []string{
			strconv.Itoa(i + 1), t.Label, humanize.IBytes(uint64(t.NumBytes)), humanize.Comma(t.NumRows),
		})
	}
	nulls := Section{Title: "Highest null rate", Columns: []string{"#", "Table", "Avg null"}, Rows: [][]string{}}
	for i, t := range sum.MostNulls {
		nulls.Rows = append(nulls.Rows, []string{strconv.Itoa(i + 1), t.Label, pct(t.AvgNullPct)})
	}
	sections = append(sections, largest, nulls)

	if s.cfg.DetectAnomalies {
		anom := Section{Title: "Anomalies", Columns: []string{"Table", "Finding"}, Rows: [][]string{}}
		for _, a := range sum.Anomalies {
			anom.Rows = append(anom.Rows, []string{a.Label, a.Reason})
		}
		sections = append(sections, anom)
	}
	if s.cfg.CompareProfiles {
		cmp := Section{Title: "Comparison", Columns: []string{"Table", "Rows", "Share of rows", "Size", "Share of size"}, Rows: [][]string{}}
		for _, t := range sum.Comparison {
			cmp.Rows = append(cmp.Rows, []string{
				t.Label, humanize.Comma(t.NumRows), pct(t.RowShare), humanize.IBytes(uint64(t.NumBytes)), pct(t.ByteShare),
			})
		}
		sections = append(sections, cmp)
	}
	return sections
}
