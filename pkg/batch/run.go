package batch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchRun owns one invocation: the ordered items, the results keyed by
// sequence index and the run metadata. Results are written only by the
// engine; after Seal the run is read-only.
type BatchRun struct {
	ID         string
	Tool       Tool
	Items      []WorkItem
	Config     RunConfig
	StartedAt  time.Time
	FinishedAt time.Time

	mu      sync.Mutex
	results map[int]ResultEnvelope
	aborted bool
	sealed  bool
}

// NewBatchRun creates a run for the given items. Items must already carry
// sequence indexes 0..n-1 in order.
func NewBatchRun(tool Tool, items []WorkItem, cfg RunConfig) (*BatchRun, error) {
	for i, it := range items {
		if it.Seq != i {
			return nil, fmt.Errorf("%w: item at position %d has sequence index %d", ErrConfigValidation, i, it.Seq)
		}
	}
	owned := make([]WorkItem, len(items))
	copy(owned, items)
	return &BatchRun{
		ID:      uuid.NewString(),
		Tool:    tool,
		Items:   owned,
		Config:  cfg,
		results: make(map[int]ResultEnvelope, len(items)),
	}, nil
}

// record inserts one envelope and then runs notify while still holding the
// lock, so completion counts observed by notify are exact.
func (r *BatchRun) record(env ResultEnvelope, notify func(completed int)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: run is sealed (index %d)", ErrResultRejected, env.SequenceIndex)
	}
	if env.SequenceIndex < 0 || env.SequenceIndex >= len(r.Items) {
		return fmt.Errorf("%w: index %d out of range [0,%d)", ErrResultRejected, env.SequenceIndex, len(r.Items))
	}
	if _, dup := r.results[env.SequenceIndex]; dup {
		return fmt.Errorf("%w: duplicate index %d", ErrResultRejected, env.SequenceIndex)
	}
	r.results[env.SequenceIndex] = env
	if notify != nil {
		notify(len(r.results))
	}
	return nil
}

// seal marks the run finished.
func (r *BatchRun) seal(aborted bool, finishedAt time.Time) {
	r.mu.Lock()
	r.aborted = aborted
	r.sealed = true
	r.FinishedAt = finishedAt
	r.mu.Unlock()
}

// Results returns the recorded envelopes in ascending sequence order.
func (r *BatchRun) Results() []ResultEnvelope {
	r.mu.Lock()
	out := make([]ResultEnvelope, 0, len(r.results))
	for _, env := range r.results {
		out = append(out, env)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceIndex < out[j].SequenceIndex })
	return out
}

// Result returns the envelope for seq, if one was recorded.
func (r *BatchRun) Result(seq int) (ResultEnvelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.results[seq]
	return env, ok
}

// Item returns the work item for seq.
func (r *BatchRun) Item(seq int) (WorkItem, bool) {
	if seq < 0 || seq >= len(r.Items) {
		return WorkItem{}, false
	}
	return r.Items[seq], true
}

// TotalCount is the number of loaded items.
func (r *BatchRun) TotalCount() int { return len(r.Items) }

// CompletedCount is the number of recorded results.
func (r *BatchRun) CompletedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// SucceededCount counts success envelopes.
func (r *BatchRun) SucceededCount() int {
	n := 0
	for _, env := range r.Results() {
		if env.OK() {
			n++
		}
	}
	return n
}

// FailedCount counts failure envelopes.
func (r *BatchRun) FailedCount() int {
	return r.CompletedCount() - r.SucceededCount()
}

// Failures returns the failure envelopes in sequence order.
func (r *BatchRun) Failures() []ResultEnvelope {
	var out []ResultEnvelope
	for _, env := range r.Results() {
		if !env.OK() {
			out = append(out, env)
		}
	}
	return out
}

// Aborted reports whether dispatch stopped before every item ran.
func (r *BatchRun) Aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// Sealed reports whether the run has finished.
func (r *BatchRun) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Duration is the wall-clock time of the pool phase.
func (r *BatchRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Err summarizes the run outcome: nil when every item succeeded, ErrRunAborted
// when dispatch stopped early, ErrItemExecution when some items failed.
func (r *BatchRun) Err() error {
	if r.Aborted() {
		return fmt.Errorf("%w: %d of %d items completed", ErrRunAborted, r.CompletedCount(), r.TotalCount())
	}
	if failed := r.FailedCount(); failed > 0 {
		return fmt.Errorf("%w: %d of %d items failed", ErrItemExecution, failed, r.TotalCount())
	}
	return nil
}
