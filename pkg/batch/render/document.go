// Package render projects a BatchRun and its aggregate report into one of the
// supported output formats. Every format is a view of the same Document.
package render

import (
	"time"

	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/aggregate"
)

// Options selects the output format and verbosity.
type Options struct {
	Format batch.OutputFormat
	// Quiet drops the per-item section.
	Quiet bool
}

// Document is the format-independent projection of a run.
type Document struct {
	SchemaVersion string                  `json:"schemaVersion"`
	Run           RunInfo                 `json:"run"`
	Summary       *aggregate.Report       `json:"summary"`
	Sections      []aggregate.Section     `json:"-"`
	ItemColumns   []string                `json:"-"`
	Items         []Item                  `json:"items,omitempty"`
	Errors        []aggregate.ItemFailure `json:"errors"`
	Quiet         bool                    `json:"-"`
}

// RunInfo is the run metadata block.
type RunInfo struct {
	ID             string          `json:"id"`
	Tool           batch.Tool      `json:"tool"`
	StartedAt      string          `json:"startedAt"`
	FinishedAt     string          `json:"finishedAt"`
	DurationMillis int64           `json:"durationMillis"`
	Aborted        bool            `json:"aborted"`
	Config         batch.RunConfig `json:"config"`
}

// Item is one entry of the per-item section.
type Item struct {
	SequenceIndex  int              `json:"sequenceIndex"`
	Label          string           `json:"label"`
	Target         batch.WorkItem   `json:"target"`
	Status         batch.Status     `json:"status"`
	DurationMillis int64            `json:"durationMillis"`
	Payload        any              `json:"payload,omitempty"`
	Error          *batch.ItemError `json:"error,omitempty"`
	Cells          []string         `json:"-"`
}

// NewDocument builds the projection. It reads the run and the report only.
func NewDocument(run *batch.BatchRun, report *aggregate.Report, strategy aggregate.Strategy, quiet bool) *Document {
	doc := &Document{
		SchemaVersion: batch.ReportSchemaVersion,
		Run: RunInfo{
			ID:             run.ID,
			Tool:           run.Tool,
			StartedAt:      stamp(run.StartedAt),
			FinishedAt:     stamp(run.FinishedAt),
			DurationMillis: run.Duration().Milliseconds(),
			Aborted:        run.Aborted(),
			Config:         run.Config,
		},
		Summary:     report,
		Sections:    strategy.Sections(report),
		ItemColumns: strategy.ItemColumns(),
		Errors:      report.Errors,
		Quiet:       quiet,
	}
	if doc.Errors == nil {
		doc.Errors = []aggregate.ItemFailure{}
	}
	if quiet {
		return doc
	}

	for _, row := range strategy.ItemRows(run, report) {
		item, _ := run.Item(row.SequenceIndex)
		env, _ := run.Result(row.SequenceIndex)
		cells := row.Cells
		if len(cells) == 0 {
			cells = make([]string, len(doc.ItemColumns))
			for i := range cells {
				cells[i] = "-"
			}
		}
		doc.Items = append(doc.Items, Item{
			SequenceIndex:  row.SequenceIndex,
			Label:          row.Label,
			Target:         item,
			Status:         row.Status,
			DurationMillis: row.DurationMillis,
			Payload:        env.Payload,
			Error:          env.Error,
			Cells:          cells,
		})
	}
	return doc
}

// ItemTable lays the per-item section out as a table.
func (d *Document) ItemTable() aggregate.Section {
	cols := append([]string{"#", "Item", "Status", "Duration"}, d.ItemColumns...)
	sec := aggregate.Section{Title: "Items", Columns: cols, Rows: make([][]string, 0, len(d.Items))}
	for _, it := range d.Items {
		row := append([]string{
			itoa(it.SequenceIndex + 1),
			it.Label,
			string(it.Status),
			duration(it.DurationMillis),
		}, it.Cells...)
		sec.Rows = append(sec.Rows, row)
	}
	return sec
}

// Duration is the run duration in human form.
func (d *Document) Duration() string { return duration(d.Run.DurationMillis) }

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func duration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}
