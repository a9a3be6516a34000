package batch

import "sync"

// CostReporter is implemented by payloads that carry query cost figures.
type CostReporter interface {
	CostGB() float64
	CostUSD() float64
}

// CostLedger accumulates processed GB and estimated cost over one invocation.
// It is a Hooks implementation so it can be attached next to the reporters;
// create one per run and pass it explicitly.
type CostLedger struct {
	NoOpHooks

	mu    sync.Mutex
	gb    float64
	usd   float64
	count int
}

// NewCostLedger returns an empty ledger.
func NewCostLedger() *CostLedger { return &CostLedger{} }

// Observe adds the cost of a successful envelope, if its payload reports one.
func (l *CostLedger) Observe(env ResultEnvelope) {
	if !env.OK() {
		return
	}
	cr, ok := env.Payload.(CostReporter)
	if !ok {
		return
	}
	l.mu.Lock()
	l.gb += cr.CostGB()
	l.usd += cr.CostUSD()
	l.count++
	l.mu.Unlock()
}

// Totals returns the accumulated GB, USD and number of contributing items.
func (l *CostLedger) Totals() (gb, usd float64, items int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gb, l.usd, l.count
}

// OnItemComplete implements Hooks.
func (l *CostLedger) OnItemComplete(_ WorkItem, result ResultEnvelope, _, _ int) error {
	l.Observe(result)
	return nil
}
