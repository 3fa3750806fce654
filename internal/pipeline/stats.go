package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/zombor/expense-extractor/internal/expense"
)

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Documents           int64                    `json:"documents"`
	ServiceFailures     int64                    `json:"serviceFailures"`
	ModelExtractions    int64                    `json:"modelExtractions"`
	ModelFailures       int64                    `json:"modelFailures"`
	Fallbacks           int64                    `json:"fallbacks"`
	ReconcileMismatches int64                    `json:"reconcileMismatches"`
	OCRMethods          map[expense.Method]int64 `json:"ocrMethods"`
}

// counters is the only mutable state a Pipeline holds.
type counters struct {
	documents           atomic.Int64
	serviceFailures     atomic.Int64
	modelExtractions    atomic.Int64
	modelFailures       atomic.Int64
	fallbacks           atomic.Int64
	reconcileMismatches atomic.Int64

	mu      sync.Mutex
	methods map[expense.Method]int64
}

func (c *counters) method(m expense.Method) {
	if m == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.methods == nil {
		c.methods = map[expense.Method]int64{}
	}
	c.methods[m]++
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	methods := make(map[expense.Method]int64, len(c.methods))
	for k, v := range c.methods {
		methods[k] = v
	}
	c.mu.Unlock()

	return Stats{
		Documents:           c.documents.Load(),
		ServiceFailures:     c.serviceFailures.Load(),
		ModelExtractions:    c.modelExtractions.Load(),
		ModelFailures:       c.modelFailures.Load(),
		Fallbacks:           c.fallbacks.Load(),
		ReconcileMismatches: c.reconcileMismatches.Load(),
		OCRMethods:          methods,
	}
}
