// Package aggregate turns a finished BatchRun into a tool-specific summary
// report. Each wrapped tool has one Strategy; the engine and renderers only
// see the Strategy interface.
package aggregate

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/stackvity/bqbatch/pkg/batch"
)

// Report is the derived summary of one run. Exactly one of Profile, Compare
// and Optimize is set, matching Tool. A Report is never mutated after
// Aggregate returns it.
type Report struct {
	Tool      batch.Tool `json:"tool"`
	Total     int        `json:"totalItems"`
	Completed int        `json:"completedItems"`
	Succeeded int        `json:"succeededItems"`
	Failed    int        `json:"failedItems"`
	Skipped   int        `json:"skippedItems"`
	Aborted   bool       `json:"aborted"`

	Profile  *ProfileSummary  `json:"profile,omitempty"`
	Compare  *CompareSummary  `json:"compare,omitempty"`
	Optimize *OptimizeSummary `json:"optimize,omitempty"`

	Errors []ItemFailure `json:"-"`
}

// ItemFailure is one entry of the report's error list.
type ItemFailure struct {
	SequenceIndex int    `json:"sequenceIndex"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	Cause         string `json:"cause,omitempty"`
}

// ItemRow is one line of the per-item section of a rendered report.
type ItemRow struct {
	SequenceIndex  int          `json:"sequenceIndex"`
	Label          string       `json:"label"`
	Status         batch.Status `json:"status"`
	DurationMillis int64        `json:"durationMillis"`
	Cells          []string     `json:"cells,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Section is a titled table of the summary part of a rendered report.
type Section struct {
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Strategy aggregates and describes the results of one tool.
type Strategy interface {
	Tool() batch.Tool
	// Aggregate computes the report from run.Results(). It must be a pure
	// function of the run.
	Aggregate(run *batch.BatchRun) *Report
	// ItemColumns names the tool-specific cells of every ItemRow.
	ItemColumns() []string
	// ItemRows lists the per-item section in display order.
	ItemRows(run *batch.BatchRun, report *Report) []ItemRow
	// Sections lists the summary tables of the report.
	Sections(report *Report) []Section
}

// For returns the strategy of tool configured from cfg.
func For(tool batch.Tool, cfg batch.RunConfig) (Strategy, error) {
	if cfg.Top <= 0 {
		cfg.Top = batch.DefaultTop
	}
	if cfg.ThresholdPct < 0 {
		return nil, fmt.Errorf("%w: threshold must be >= 0, got %g", batch.ErrConfigValidation, cfg.ThresholdPct)
	}
	if cfg.MinCostGB < 0 {
		return nil, fmt.Errorf("%w: min-cost must be >= 0, got %g", batch.ErrConfigValidation, cfg.MinCostGB)
	}
	switch tool {
	case batch.ToolProfile:
		return &ProfileStrategy{cfg: cfg}, nil
	case batch.ToolCompare:
		return &CompareStrategy{cfg: cfg}, nil
	case batch.ToolOptimize:
		return &OptimizeStrategy{cfg: cfg}, nil
	}
	return nil, fmt.Errorf("%w: no aggregation strategy for tool %q", batch.ErrConfigValidation, tool)
}

// outcome pairs a recorded envelope with its work item.
type outcome struct {
	item batch.WorkItem
	env  batch.ResultEnvelope
}

// collect builds the common part of a report and returns the successful
// outcomes in sequence order.
func collect(tool batch.Tool, run *batch.BatchRun) (*Report, []outcome) {
	results := run.Results()
	report := &Report{
		Tool:      tool,
		Total:     run.TotalCount(),
		Completed: len(results),
		Aborted:   run.Aborted(),
		Errors:    []ItemFailure{},
	}
	report.Skipped = report.Total - report.Completed

	succeeded := make([]outcome, 0, len(results))
	for _, env := range results {
		item, _ := run.Item(env.SequenceIndex)
		if env.OK() {
			report.Succeeded++
			succeeded = append(succeeded, outcome{item: item, env: env})
			continue
		}
		report.Failed++
		failure := ItemFailure{SequenceIndex: env.SequenceIndex, Label: item.Label()}
		if env.Error != nil {
			failure.Message = env.Error.Message
			failure.Cause = env.Error.Cause
		}
		report.Errors = append(report.Errors, failure)
	}
	return report, succeeded
}

// unexpected records a success whose payload the strategy cannot read. It is
// kept out of every numeric aggregate and listed with the errors.
func unexpected(report *Report, o outcome) {
	report.Errors = append(report.Errors, ItemFailure{
		SequenceIndex: o.env.SequenceIndex,
		Label:         o.item.Label(),
		Message:       fmt.Sprintf("unexpected payload type %T", o.env.Payload),
		Cause:         "unreadable payload",
	})
	sort.SliceStable(report.Errors, func(i, j int) bool {
		return report.Errors[i].SequenceIndex < report.Errors[j].SequenceIndex
	})
}

// rank orders candidates by key descending, ties by sequence index, and
// truncates to top.
func rank[T any](candidates []T, top int, key func(T) float64, seq func(T) int) []T {
	out := make([]T, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if ki != kj {
			return ki > kj
		}
		return seq(out[i]) < seq(out[j])
	})
	if len(out) > top {
		out = out[:top]
	}
	return out
}

// baseRow builds the row of an item without tool cells.
func baseRow(item batch.WorkItem, env batch.ResultEnvelope) ItemRow {
	row := ItemRow{
		SequenceIndex:  env.SequenceIndex,
		Label:          item.Label(),
		Status:         env.Status,
		DurationMillis: env.DurationMillis,
	}
	if env.Error != nil {
		row.Error = env.Error.Message
	}
	return row
}

// runSection is the summary table shared by every tool.
func runSection(r *Report) Section {
	rows := [][]string{
		{"Items", strconv.Itoa(r.Total)},
		{"Completed", strconv.Itoa(r.Completed)},
		{"Succeeded", strconv.Itoa(r.Succeeded)},
		{"Failed", strconv.Itoa(r.Failed)},
	}
	if r.Skipped > 0 {
		rows = append(rows, []string{"Not run", strconv.Itoa(r.Skipped)})
	}
	if r.Aborted {
		rows = append(rows, []string{"Aborted", "yes"})
	}
	return Section{Title: "Run", Columns: []string{"Metric", "Value"}, Rows: rows}
}

func pct(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) + "%" }

func num(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) }

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
