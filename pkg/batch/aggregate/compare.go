package aggregate

import (
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/payload"
)

// Pair classifications.
const (
	ClassIdentical          = "identical"
	ClassSchemaMismatch     = "schema_mismatch"
	ClassRowCountDifference = "row_count_difference"
)

// CompareSummary holds the critical-difference detection of a compare batch.
type CompareSummary struct {
	ThresholdPct       float64       `json:"thresholdPct"`
	PairsCompared      int           `json:"pairsCompared"`
	Identical          int           `json:"identical"`
	SchemaMismatch     int           `json:"schemaMismatch"`
	RowCountDifference int           `json:"rowCountDifference"`
	Critical           int           `json:"critical"`
	Pairs              []PairOutcome `json:"pairs"`
	CriticalPairs      []PairOutcome `json:"criticalPairs"`
}

// PairOutcome is the classification of one compared pair.
type PairOutcome struct {
	SequenceIndex int     `json:"sequenceIndex"`
	Label         string  `json:"label"`
	Class         string  `json:"class"`
	SchemaDiffs   int     `json:"schemaDiffs"`
	HasRowCounts  bool    `json:"hasRowCounts"`
	RowCountA     int64   `json:"rowCountA,omitempty"`
	RowCountB     int64   `json:"rowCountB,omitempty"`
	RowDiffPct    float64 `json:"rowDiffPct"`
	Critical      bool    `json:"critical"`
	Reason        string  `json:"reason,omitempty"`
}

// CompareStrategy aggregates bq-schema-diff results.
type CompareStrategy struct {
	cfg batch.RunConfig
}

// Tool implements Strategy.
func (s *CompareStrategy) Tool() batch.Tool { return batch.ToolCompare }

// RowDiffPct is the relative row-count difference of a pair in percent.
func RowDiffPct(a, b int64) float64 {
	return math.Abs(float64(a-b)) / math.Max(float64(a), 1) * 100
}

// Classify derives the outcome of one comparison under threshold.
func Classify(c payload.Comparison, thresholdPct float64) PairOutcome {
	out := PairOutcome{
		Class:        ClassIdentical,
		SchemaDiffs:  c.SchemaDiffCount(),
		HasRowCounts: c.HasRowCounts,
		RowCountA:    c.RowCountA,
		RowCountB:    c.RowCountB,
	}
	if c.HasRowCounts {
		out.RowDiffPct = RowDiffPct(c.RowCountA, c.RowCountB)
	}
	switch {
	case c.HasSchemaDiff():
		out.Class = ClassSchemaMismatch
		out.Critical = true
		out.Reason = "schema differs (" + strconv.Itoa(out.SchemaDiffs) + " columns)"
	case c.HasRowCounts && c.RowCountA != c.RowCountB:
		out.Class = ClassRowCountDifference
	}
	if c.HasRowCounts && out.RowDiffPct > thresholdPct {
		if !out.Critical {
			out.Reason = "row count differs by " + pct(out.RowDiffPct)
		}
		out.Critical = true
	}
	return out
}

// Aggregate implements Strategy.
func (s *CompareStrategy) Aggregate(run *batch.BatchRun) *Report {
	report, succeeded := collect(batch.ToolCompare, run)
	sum := &CompareSummary{
		ThresholdPct:  s.cfg.ThresholdPct,
		Pairs:         []PairOutcome{},
		CriticalPairs: []PairOutcome{},
	}

	for _, o := range succeeded {
		c, ok := o.env.Payload.(payload.Comparison)
		if !ok {
			unexpected(report, o)
			continue
		}
		po := Classify(c, s.cfg.ThresholdPct)
		po.SequenceIndex = o.env.SequenceIndex
		po.Label = o.item.Label()

		sum.PairsCompared++
		switch po.Class {
		case ClassSchemaMismatch:
			sum.SchemaMismatch++
		case ClassRowCountDifference:
			sum.RowCountDifference++
		default:
			sum.Identical++
		}
		sum.Pairs = append(sum.Pairs, po)
		if po.Critical {
			sum.Critical++
			sum.CriticalPairs = append(sum.CriticalPairs, po)
		}
	}

	report.Compare = sum
	return report
}

// ItemColumns implements Strategy.
func (s *CompareStrategy) ItemColumns() []string {
	return []string{"Class", "Schema diffs", "Rows A", "Rows B", "Row diff", "Critical"}
}

// ItemRows implements Strategy. With CriticalOnly set, successful pairs that
// are not critical are left out; failures are always listed.
func (s *CompareStrategy) ItemRows(run *batch.BatchRun, report *Report) []ItemRow {
	outcomes := map[int]PairOutcome{}
	if report != nil && report.Compare != nil {
		for _, po := range report.Compare.Pairs {
			outcomes[po.SequenceIndex] = po
		}
	}

	results := run.Results()
	rows := make([]ItemRow, 0, len(results))
	for _, env := range results {
		item, _ := run.Item(env.SequenceIndex)
		row := baseRow(item, env)
		if po, ok := outcomes[env.SequenceIndex]; ok {
			if s.cfg.CriticalOnly && !po.Critical {
				continue
			}
			rowsA, rowsB, diff := "-", "-", "-"
			if po.HasRowCounts {
				rowsA, rowsB, diff = humanize.Comma(po.RowCountA), humanize.Comma(po.RowCountB), pct(po.RowDiffPct)
			}
			row.Cells = []string{po.Class, strconv.Itoa(po.SchemaDiffs), rowsA, rowsB, diff, yesNo(po.Critical)}
		}
		rows = append(rows, row)
	}
	return rows
}

// Sections implements Strategy.
func (s *CompareStrategy) Sections(r *Report) []Section {
	sections := []Section{runSection(r)}
	sum := r.Compare
	if sum == nil {
		return sections
	}

	sections = append(sections, Section{
		Title:   "Classification",
		Columns: []string{"Class", "Pairs"},
		Rows: [][]string{
			{ClassIdentical, strconv.Itoa(sum.Identical)},
			{ClassSchemaMismatch, strconv.Itoa(sum.SchemaMismatch)},
			{ClassRowCountDifference, strconv.Itoa(sum.RowCountDifference)},
			{"critical (threshold " + pct(sum.ThresholdPct) + ")", strconv.Itoa(sum.Critical)},
		},
	})

	critical := Section{Title: "Critical differences", Columns: []string{"Pair", "Class", "Reason"}, Rows: [][]string{}}
	for _, po := range sum.CriticalPairs {
		critical.Rows = append(critical.Rows, []string{po.Label, po.Class, po.Reason})
	}
	return append(sections, critical)
}
