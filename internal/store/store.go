// Package store provides persistence for spread and PnL history.
package store

import (
	"context"
	"time"

	"spread-monitor/internal/models"
	"spread-monitor/internal/pnl"
	"spread-monitor/internal/spread"
)

// HistoryStore defines the interface for snapshot persistence.
type HistoryStore interface {
	// Snapshots
	SaveSpread(ctx context.Context, runID string, snap spread.Snapshot) error
	SavePnL(ctx context.Context, runID string, summary pnl.Summary, results map[string]models.PnLResult) error

	// Queries
	GetSpreadHistory(ctx context.Context, filter HistoryFilter) ([]SpreadRecord, error)
	GetPnLHistory(ctx context.Context, filter HistoryFilter) ([]PnLRecord, error)
	GetRuns(ctx context.Context, limit int) ([]RunInfo, error)

	// Maintenance
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Close() error
}

// HistoryFilter represents filters for querying snapshots.
type HistoryFilter struct {
	StrategyID string
	RunID      string
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
}

// SpreadRecord is one persisted spread snapshot.
type SpreadRecord struct {
	ID              int64         `json:"id"`
	RunID           string        `json:"runId"`
	StrategyID      string        `json:"strategyId"`
	Forward         float64       `json:"forward"`
	ForwardValid    bool          `json:"forwardValid"`
	Reverse         float64       `json:"reverse"`
	ReverseValid    bool          `json:"reverseValid"`
	BiddingLegID    string        `json:"biddingLegId,omitempty"`
	BiddingLegPrice *float64      `json:"biddingLegPrice,omitempty"`
	Skipped         []spread.Skip `json:"skipped,omitempty"` // forward legs only
	ComputedAt      time.Time     `json:"computedAt"`
}

// PnLRecord is one persisted strategy PnL snapshot.
type PnLRecord struct {
	ID         int64                       `json:"id"`
	RunID      string                      `json:"runId"`
	Summary    pnl.Summary                 `json:"summary"`
	Results    map[string]models.PnLResult `json:"results"`
	RecordedAt time.Time                   `json:"recordedAt"`
}

// RunInfo describes one monitor run found in the history.
type RunInfo struct {
	RunID      string    `json:"runId"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
	Snapshots  int       `json:"snapshots"`
	Strategies int       `json:"strategies"`
}
