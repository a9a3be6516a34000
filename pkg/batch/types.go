package batch

import (
	"fmt"
	"strings"
)

// Status is the outcome of one work item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Tool identifies which wrapped single-item tool a batch drives.
type Tool string

const (
	ToolProfile  Tool = "profile"
	ToolCompare  Tool = "compare"
	ToolOptimize Tool = "optimize"
)

// ItemKind tags the WorkItem variant.
type ItemKind string

const (
	KindTable ItemKind = "table"
	KindPair  ItemKind = "pair"
	KindQuery ItemKind = "query"
)

// KindFor returns the work item kind a tool consumes.
func KindFor(tool Tool) (ItemKind, error) {
	switch tool {
	case ToolProfile:
		return KindTable, nil
	case ToolCompare:
		return KindPair, nil
	case ToolOptimize:
		return KindQuery, nil
	}
	return "", fmt.Errorf("%w: unknown tool %q", ErrConfigValidation, tool)
}

// OutputFormat selects the renderer.
type OutputFormat string

const (
	FormatText     OutputFormat = "text"
	FormatJSON     OutputFormat = "json"
	FormatMarkdown OutputFormat = "markdown"
	FormatHTML     OutputFormat = "html"
)

// Formats lists every supported output format.
var Formats = []OutputFormat{FormatText, FormatJSON, FormatMarkdown, FormatHTML}

// WorkItem is one unit of batch input. Exactly one of ID, Left/Right or Path
// is meaningful, selected by Kind. Values are never mutated after loading.
type WorkItem struct {
	Seq         int      `json:"sequenceIndex"`
	Kind        ItemKind `json:"kind"`
	ID          string   `json:"id,omitempty"`
	Left        string   `json:"left,omitempty"`
	Right       string   `json:"right,omitempty"`
	Path        string   `json:"path,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
}

// NewProfileTarget builds a table work item.
func NewProfileTarget(seq int, id, displayName string) (WorkItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return WorkItem{}, fmt.Errorf("%w: table identifier is empty (item %d)", ErrLoad, seq)
	}
	return WorkItem{Seq: seq, Kind: KindTable, ID: id, DisplayName: strings.TrimSpace(displayName)}, nil
}

// NewComparePair builds a table-pair work item.
func NewComparePair(seq int, left, right, displayName string) (WorkItem, error) {
	left, right = strings.TrimSpace(left), strings.TrimSpace(right)
	if left == "" || right == "" {
		return WorkItem{}, fmt.Errorf("%w: pair needs two table identifiers (item %d)", ErrLoad, seq)
	}
	return WorkItem{Seq: seq, Kind: KindPair, Left: left, Right: right, DisplayName: strings.TrimSpace(displayName)}, nil
}

// NewQueryFile builds a query-file work item.
func NewQueryFile(seq int, path, displayName string) (WorkItem, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return WorkItem{}, fmt.Errorf("%w: query file path is empty (item %d)", ErrLoad, seq)
	}
	return WorkItem{Seq: seq, Kind: KindQuery, Path: path, DisplayName: strings.TrimSpace(displayName)}, nil
}

// Label is the human-facing name of the item.
func (w WorkItem) Label() string {
	if w.DisplayName != "" {
		return w.DisplayName
	}
	return w.Key()
}

// Key is the identifier-derived label, independent of any display name.
func (w WorkItem) Key() string {
	switch w.Kind {
	case KindPair:
		return w.Left + " vs " + w.Right
	case KindQuery:
		return w.Path
	default:
		return w.ID
	}
}

// WithSeq returns a copy of the item carrying a new sequence index.
func (w WorkItem) WithSeq(seq int) WorkItem {
	w.Seq = seq
	return w
}

// ItemError describes why an item failed.
type ItemError struct {
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// ResultEnvelope is the outcome of running one WorkItem. Exactly one of
// Payload and Error is set, matching Status.
type ResultEnvelope struct {
	SequenceIndex  int        `json:"sequenceIndex"`
	Status         Status     `json:"status"`
	Payload        any        `json:"payload,omitempty"`
	Error          *ItemError `json:"error,omitempty"`
	DurationMillis int64      `json:"durationMillis"`
}

// Succeeded builds a success envelope.
func Succeeded(seq int, payload any, durationMillis int64) ResultEnvelope {
	return ResultEnvelope{SequenceIndex: seq, Status: StatusSuccess, Payload: payload, DurationMillis: durationMillis}
}

// Failed builds a failure envelope.
func Failed(seq int, message, cause string, durationMillis int64) ResultEnvelope {
	return ResultEnvelope{
		SequenceIndex:  seq,
		Status:         StatusFailure,
		Error:          &ItemError{Message: message, Cause: cause},
		DurationMillis: durationMillis,
	}
}

// OK reports whether the envelope is a success.
func (r ResultEnvelope) OK() bool { return r.Status == StatusSuccess }
