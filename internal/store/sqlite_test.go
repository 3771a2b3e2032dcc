package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-monitor/internal/models"
	"spread-monitor/internal/pnl"
	"spread-monitor/internal/spread"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history", "spreadmon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndQuerySpread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID := uuid.NewString()
	price := 61.5
	at := time.Date(2024, 12, 26, 9, 30, 0, 0, time.UTC)

	require.NoError(t, s.SaveSpread(ctx, runID, spread.Snapshot{
		StrategyID:      "s1",
		Forward:         spread.Result{Total: 39, Valid: true, Skipped: []spread.Skip{{LegID: "c", Reason: spread.SkipNoPrice}}},
		Reverse:         spread.Result{Total: -41, Valid: true},
		BiddingLegID:    "b",
		BiddingLegPrice: &price,
		ComputedAt:      at,
	}))
	require.NoError(t, s.SaveSpread(ctx, runID, spread.Snapshot{StrategyID: "s2", ComputedAt: at.Add(time.Second)}))

	records, err := s.GetSpreadHistory(ctx, HistoryFilter{StrategyID: "s1"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, runID, r.RunID)
	assert.Equal(t, 39.0, r.Forward)
	assert.True(t, r.ForwardValid)
	assert.Equal(t, -41.0, r.Reverse)
	assert.Equal(t, "b", r.BiddingLegID)
	require.NotNil(t, r.BiddingLegPrice)
	assert.Equal(t, 61.5, *r.BiddingLegPrice)
	require.Len(t, r.Skipped, 1)
	assert.Equal(t, spread.SkipNoPrice, r.Skipped[0].Reason)
	assert.True(t, at.Equal(r.ComputedAt))

	records, err = s.GetSpreadHistory(ctx, HistoryFilter{StrategyID: "s2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].ForwardValid)
	assert.Nil(t, records[0].BiddingLegPrice)
}

func TestSaveAndQueryPnL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exit := 62.0
	results := map[string]models.PnLResult{
		"o1": {OrderID: "o1", PnL: 150, EntryPrice: 97, Quantity: 50, Side: models.OrderSideBuy, Status: "COMPLETE"},
		"o2": {OrderID: "o2", PnL: 50, EntryPrice: 63, ExitPrice: &exit, Quantity: 50, Side: models.OrderSideSell, IsExited: true},
	}
	summary := pnl.Summarize("s1", results)

	require.NoError(t, s.SavePnL(ctx, "run-a", summary, results))
	require.NoError(t, s.SavePnL(ctx, "run-b", pnl.Summary{StrategyID: "s1"}, nil))

	records, err := s.GetPnLHistory(ctx, HistoryFilter{StrategyID: "s1", RunID: "run-a"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 200.0, records[0].Summary.TotalPnL)
	assert.Equal(t, 50.0, records[0].Summary.Realized)
	require.Len(t, records[0].Results, 2)
	require.NotNil(t, records[0].Results["o2"].ExitPrice)
	assert.Equal(t, 62.0, *records[0].Results["o2"].ExitPrice)

	all, err := s.GetPnLHistory(ctx, HistoryFilter{StrategyID: "s1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "run-b", all[0].RunID, "newest first")
	assert.Empty(t, all[0].Results)
}

func TestGetRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.SaveSpread(ctx, "old", spread.Snapshot{StrategyID: "s1", ComputedAt: base.Add(-time.Hour)}))
	require.NoError(t, s.SaveSpread(ctx, "new", spread.Snapshot{StrategyID: "s1", ComputedAt: base.Add(-time.Minute)}))
	require.NoError(t, s.SaveSpread(ctx, "new", spread.Snapshot{StrategyID: "s2", ComputedAt: base.Add(-time.Minute)}))

	runs, err := s.GetRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, 2, runs[0].Snapshots)
	assert.Equal(t, 2, runs[0].Strategies)
	assert.False(t, runs[0].LastSeen.IsZero())

	runs, err = s.GetRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveSpread(ctx, "r", spread.Snapshot{StrategyID: "s1", ComputedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.SaveSpread(ctx, "r", spread.Snapshot{StrategyID: "s1", ComputedAt: now}))

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := s.GetSpreadHistory(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// Property: Spread history for a strategy honours the limit and is ordered
// newest first.
func TestProperty_SpreadHistoryOrderedAndLimited(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	iteration := 0
	properties.Property("newest first, at most limit rows", prop.ForAll(
		func(count, limit int) bool {
			ctx := context.Background()
			iteration++
			strategyID := fmt.Sprintf("prop-%d", iteration)
			base := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)

			for i := 0; i < count; i++ {
				snap := spread.Snapshot{
					StrategyID: strategyID,
					Forward:    spread.Result{Total: float64(i), Valid: true},
					ComputedAt: base.Add(time.Duration(i) * time.Second),
				}
				if err := s.SaveSpread(ctx, "run", snap); err != nil {
					return false
				}
			}

			records, err := s.GetSpreadHistory(ctx, HistoryFilter{StrategyID: strategyID, Limit: limit})
			if err != nil {
				return false
			}
			want := count
			if limit < want {
				want = limit
			}
			if len(records) != want {
				return false
			}
			for i := 1; i < len(records); i++ {
				if !records[i-1].ComputedAt.After(records[i].ComputedAt) {
					return false
				}
			}
			return len(records) == 0 || records[0].Forward == float64(count-1)
		},
		gen.IntRange(0, 15),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
