package monitor

import (
	"sort"
	"sync"

	"spread-monitor/internal/models"
	"spread-monitor/internal/pnl"
	"spread-monitor/internal/spread"
)

// Results holds the latest spread snapshot per strategy and the latest PnL
// result per order. Every write replaces a whole value; readers get copies.
type Results struct {
	mu      sync.RWMutex
	spreads map[string]spread.Snapshot
	pnl     map[string]map[string]models.PnLResult
}

// NewResults creates an empty result store.
func NewResults() *Results {
	return &Results{
		spreads: make(map[string]spread.Snapshot),
		pnl:     make(map[string]map[string]models.PnLResult),
	}
}

// SetSpread replaces the spread snapshot of a strategy.
func (r *Results) SetSpread(strategyID string, snap spread.Snapshot) {
	r.mu.Lock()
	r.spreads[strategyID] = snap
	r.mu.Unlock()
}

// Spread returns the latest spread snapshot of a strategy.
func (r *Results) Spread(strategyID string) (spread.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.spreads[strategyID]
	return snap, ok
}

// MergePnL replaces the order results of a strategy with a fresh batch. An
// order skipped for a transient reason keeps its previous result; orders that
// left the list, or that are not entered or malformed, are dropped.
func (r *Results) MergePnL(strategyID string, batch pnl.Batch) {
	owned := make(map[string]models.PnLResult, len(batch.Results)+len(batch.Skipped))
	for k, v := range batch.Results {
		owned[k] = v
	}
	r.mu.Lock()
	prev := r.pnl[strategyID]
	for id, reason := range batch.Skipped {
		if !reason.Transient() {
			continue
		}
		if old, ok := prev[id]; ok {
			owned[id] = old
		}
	}
	r.pnl[strategyID] = owned
	r.mu.Unlock()
}

// PnL returns a copy of the order results of a strategy.
func (r *Results) PnL(strategyID string) (map[string]models.PnLResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.pnl[strategyID]
	if !ok {
		return nil, false
	}
	out := make(map[string]models.PnLResult, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, true
}

// Summary aggregates the order results of a strategy.
func (r *Results) Summary(strategyID string) (pnl.Summary, bool) {
	results, ok := r.PnL(strategyID)
	if !ok {
		return pnl.Summary{StrategyID: strategyID}, false
	}
	return pnl.Summarize(strategyID, results), true
}

// Delete forgets every result of a strategy.
func (r *Results) Delete(strategyID string) {
	r.mu.Lock()
	delete(r.spreads, strategyID)
	delete(r.pnl, strategyID)
	r.mu.Unlock()
}

// StrategyIDs returns every strategy with at least one result, sorted.
func (r *Results) StrategyIDs() []string {
	r.mu.RLock()
	seen := make(map[string]bool, len(r.spreads)+len(r.pnl))
	for id := range r.spreads {
		seen[id] = true
	}
	for id := range r.pnl {
		seen[id] = true
	}
	r.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
