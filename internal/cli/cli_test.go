package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-monitor/internal/config"
	"spread-monitor/internal/errors"
	"spread-monitor/internal/models"
	"spread-monitor/internal/pnl"
	"spread-monitor/internal/spread"
	"spread-monitor/internal/store"
)

const (
	chainBody = `[
		{"symbolname": "NIFTY24DEC24000CE", "strikeprice": 24000, "optiontype": "CE", "expiry": "2024-12-26",
		 "bidValues": [{"price": 101.5}], "askValues": [{"price": 102.0}], "ltp": 101.75},
		{"symbolname": "NIFTY24DEC24000PE", "strikeprice": 24000, "optiontype": "PE", "expiry": "2024-12-26",
		 "bidValues": [{"price": 88}], "askValues": [{"price": 89}], "ltp": 88.5}
	]`
	strategiesBody = `[
		{"id": "s1", "name": "straddle", "legs": [
			{"id": "a", "symbol": "NIFTY", "strike": 24000, "expiry": "2024-12-26", "optionType": "CE", "side": "BUY", "quantity": 1},
			{"id": "b", "symbol": "NIFTY", "strike": 24000, "expiry": "2024-12-26", "optionType": "PE", "side": "SELL", "quantity": 1}
		]}
	]`
	ordersBody = `[
		{"order_id": "o1", "legId": "a", "tradingsymbol": "NIFTY", "strikePrice": 24000, "expiry_date": "2024-12-26",
		 "option_type": "CE", "transactionType": "BUY", "filledQuantity": 50, "averagePrice": 100,
		 "isEntered": true, "isExited": false, "orderStatus": "open"},
		{"order_id": "o2", "legId": "b", "tradingsymbol": "NIFTY", "strikePrice": 24000, "expiry_date": "2024-12-26",
		 "option_type": "PE", "transactionType": "SELL", "filledQuantity": 25, "averagePrice": 90,
		 "isEntered": true, "isExited": true, "orderStatus": "complete", "orderDetailsKey": "k1"},
		{"order_id": "o3", "legId": "a", "transactionType": "BUY", "filledQuantity": 50, "averagePrice": 100,
		 "isEntered": false, "orderStatus": "pending"}
	]`
)

func newBackendServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/optionchain":
			w.Write([]byte(chainBody))
		case "/api/strategies":
			w.Write([]byte(strategiesBody))
		case "/api/strategies/s1/orders":
			w.Write([]byte(ordersBody))
		case "/api/orderdetails/k1/exit":
			w.Write([]byte(`{"exitPrice": 80, "quantity": 25}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Upstream.BaseURL = baseURL
	cfg.Upstream.RatePerSec = 0
	cfg.History.DBPath = filepath.Join(t.TempDir(), "history.db")
	require.NoError(t, cfg.Validate())
	return cfg
}

func runCLI(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCmd(cfg, zerolog.Nop())
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestSpreadCommand_JSON(t *testing.T) {
	cfg := testConfig(t, newBackendServer(t).URL)

	out, err := runCLI(t, cfg, "spread", "s1", "--json")
	require.NoError(t, err)

	var snap spread.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "s1", snap.StrategyID)
	// BUY CE at bid 101.5, SELL PE at ask 89.
	assert.InDelta(t, 12.5, snap.Forward.Total, 1e-9)
	// Inverted: SELL CE at ask 102, BUY PE at bid 88.
	assert.InDelta(t, -14.0, snap.Reverse.Total, 1e-9)
	assert.True(t, snap.Forward.Valid)
	assert.Empty(t, snap.Forward.Skipped)
}

func TestSpreadCommand_Table(t *testing.T) {
	cfg := testConfig(t, newBackendServer(t).URL)

	out, err := runCLI(t, cfg, "spread", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "straddle (s1)")
	assert.Contains(t, out, "24000 CE 2024-12-26")
	assert.Contains(t, out, "BUY @ 101.50")
	assert.Contains(t, out, "Forward:     12.50")
	assert.Contains(t, out, "Reverse:     -14.00")
}

func TestSpreadCommand_UnknownStrategy(t *testing.T) {
	cfg := testConfig(t, newBackendServer(t).URL)

	_, err := runCLI(t, cfg, "spread", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStrategyNotFound))
}

func TestPnLCommand_JSON(t *testing.T) {
	cfg := testConfig(t, newBackendServer(t).URL)

	out, err := runCLI(t, cfg, "pnl", "s1", "--json")
	require.NoError(t, err)

	var body struct {
		Summary pnl.Summary               `json:"summary"`
		Orders  []models.PnLResult        `json:"orders"`
		Skipped map[string]pnl.SkipReason `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Orders, 2)

	// o1: (101.5-100)*50 marked at the bid; o2: (90-80)*25 from the exit fill.
	assert.Equal(t, "o1", body.Orders[0].OrderID)
	assert.InDelta(t, 75.0, body.Orders[0].PnL, 1e-9)
	assert.InDelta(t, 250.0, body.Orders[1].PnL, 1e-9)
	assert.True(t, body.Orders[1].IsExited)

	assert.InDelta(t, 325.0, body.Summary.TotalPnL, 1e-9)
	assert.InDelta(t, 250.0, body.Summary.Realized, 1e-9)
	assert.InDelta(t, 75.0, body.Summary.Unrealized, 1e-9)
	assert.Equal(t, pnl.SkipNotEntered, body.Skipped["o3"])
}

func TestPnLCommand_Table(t *testing.T) {
	cfg := testConfig(t, newBackendServer(t).URL)

	out, err := runCLI(t, cfg, "pnl", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "+₹325.00")
	assert.Contains(t, out, "Skipped 1 orders")
	assert.Contains(t, out, "not_entered")
}

func TestPnLCommand_UpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := runCLI(t, testConfig(t, srv.URL), "pnl", "s1")
	require.Error(t, err)
	var fe *errors.FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestStrategiesCommand(t *testing.T) {
	cfg := testConfig(t, newBackendServer(t).URL)

	out, err := runCLI(t, cfg, "strategies")
	require.NoError(t, err)
	assert.Contains(t, out, "straddle")
	assert.Contains(t, out, "a (24000 CE 2024-12-26)")
}

func TestHistoryCommands(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	ctx := context.Background()

	hs, err := store.NewSQLiteStore(cfg.History.DBPath)
	require.NoError(t, err)
	snap := spread.Snapshot{
		StrategyID: "s1",
		Forward:    spread.Result{Total: 12.5, Valid: true},
		Reverse:    spread.Result{Total: -14, Valid: true},
		ComputedAt: time.Now(),
	}
	require.NoError(t, hs.SaveSpread(ctx, "run-1", snap))
	require.NoError(t, hs.SavePnL(ctx, "run-1", pnl.Summary{StrategyID: "s1", TotalPnL: 325, Orders: 2},
		map[string]models.PnLResult{"o1": {OrderID: "o1", PnL: 75}}))
	require.NoError(t, hs.Close())

	out, err := runCLI(t, cfg, "history", "spread", "s1", "--json")
	require.NoError(t, err)
	var spreads []store.SpreadRecord
	require.NoError(t, json.Unmarshal([]byte(out), &spreads))
	require.Len(t, spreads, 1)
	assert.Equal(t, "run-1", spreads[0].RunID)
	assert.InDelta(t, 12.5, spreads[0].Forward, 1e-9)

	out, err = runCLI(t, cfg, "history", "pnl", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "+₹325.00")

	out, err = runCLI(t, cfg, "history", "runs", "--json")
	require.NoError(t, err)
	var runs []store.RunInfo
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)

	out, err = runCLI(t, cfg, "history", "prune", "--older-than", "1h", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed": 0}`, out)
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	cfg := testConfig(t, "http://backend.example")
	cfg.Upstream.Token = "super-secret"
	cfg.Source.Kite.AccessToken = "kite-secret"

	out, err := runCLI(t, cfg, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "http://backend.example")
	assert.NotContains(t, out, "super-secret")

	out, err = runCLI(t, cfg, "config", "show", "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret")
	assert.NotContains(t, out, "kite-secret")
	assert.Equal(t, "super-secret", cfg.Upstream.Token, "original config is untouched")
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig(t, "http://backend.example")
	_, err := runCLI(t, cfg, "config", "validate")
	require.NoError(t, err)

	cfg.Pricing.Method = "vwap"
	_, err = runCLI(t, cfg, "config", "validate")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
}

func TestVersionJSON(t *testing.T) {
	out, err := runCLI(t, config.Default(), "version", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version": "`+Version+`", "build_date": "`+BuildDate+`"}`, out)
}

func TestTableAlignsColoredCells(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, false, true)

	table := NewTable(out, "ID", "PNL")
	table.AddRow("s1", out.FormatPnL(75))
	table.AddRow("long-id", out.FormatPnL(-1250))
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "\x1b[", "colors are emitted")

	col := func(line string) int {
		plain := ansiPattern.ReplaceAllString(line, "")
		return strings.Index(plain, "₹") - 1
	}
	assert.Equal(t, col(lines[2]), col(lines[3]))
}

func TestDashboardRowsWithoutResults(t *testing.T) {
	cfg := testConfig(t, newBackendServer(t).URL)
	app := &App{Config: cfg, Logger: zerolog.Nop()}
	mon := app.newMonitor(context.Background(), cfg.MonitorConfig(), nil)
	defer mon.Close()

	spec, err := mon.FindStrategy(context.Background(), "s1")
	require.NoError(t, err)
	mon.Reconcile([]models.StrategySpec{spec})

	rows := dashboardRows(mon)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].ID)

	var buf bytes.Buffer
	require.NoError(t, renderDashboard(newOutput(&buf, false, false), mon))
	assert.Contains(t, buf.String(), "s1")
}
