package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"spread-monitor/internal/errors"
	"spread-monitor/internal/models"
	"spread-monitor/internal/pnl"
	"spread-monitor/internal/spread"
)

// SQLiteStore implements HistoryStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based history store, creating the
// parent directory when needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Spread snapshots per strategy
	CREATE TABLE IF NOT EXISTS spread_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		forward_total REAL NOT NULL,
		forward_valid INTEGER NOT NULL,
		reverse_total REAL NOT NULL,
		reverse_valid INTEGER NOT NULL,
		bidding_leg_id TEXT,
		bidding_leg_price REAL,
		skipped TEXT,
		computed_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- PnL snapshots per strategy
	CREATE TABLE IF NOT EXISTS pnl_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		total_pnl REAL NOT NULL,
		realized REAL NOT NULL,
		unrealized REAL NOT NULL,
		orders INTEGER NOT NULL,
		finished INTEGER NOT NULL,
		pending INTEGER NOT NULL,
		results TEXT NOT NULL,
		recorded_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_spread_strategy_time ON spread_snapshots(strategy_id, computed_at);
	CREATE INDEX IF NOT EXISTS idx_spread_run ON spread_snapshots(run_id);
	CREATE INDEX IF NOT EXISTS idx_pnl_strategy_time ON pnl_snapshots(strategy_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_pnl_run ON pnl_snapshots(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Snapshot Methods
// ============================================================================

// SaveSpread saves one spread snapshot.
func (s *SQLiteStore) SaveSpread(ctx context.Context, runID string, snap spread.Snapshot) error {
	legs := make([]spread.Skip, 0, len(snap.Forward.Skipped))
	legs = append(legs, snap.Forward.Skipped...)
	skipped, err := json.Marshal(legs)
	if err != nil {
		return fmt.Errorf("failed to encode skipped legs: %w", err)
	}

	var biddingPrice sql.NullFloat64
	if snap.BiddingLegPrice != nil {
		biddingPrice = sql.NullFloat64{Float64: *snap.BiddingLegPrice, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO spread_snapshots (run_id, strategy_id, forward_total, forward_valid, reverse_total, reverse_valid, bidding_leg_id, bidding_leg_price, skipped, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, snap.StrategyID, snap.Forward.Total, boolToInt(snap.Forward.Valid), snap.Reverse.Total, boolToInt(snap.Reverse.Valid),
		snap.BiddingLegID, biddingPrice, string(skipped), snap.ComputedAt.UTC())
	if err != nil {
		return errors.Wrap(errors.ErrDatabaseError, fmt.Sprintf("failed to save spread snapshot: %v", err))
	}
	return nil
}

// SavePnL saves one strategy PnL snapshot with its per-order results.
func (s *SQLiteStore) SavePnL(ctx context.Context, runID string, summary pnl.Summary, results map[string]models.PnLResult) error {
	if results == nil {
		results = map[string]models.PnLResult{}
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode pnl results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pnl_snapshots (run_id, strategy_id, total_pnl, realized, unrealized, orders, finished, pending, results, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, summary.StrategyID, summary.TotalPnL, summary.Realized, summary.Unrealized,
		summary.Orders, summary.Finished, summary.Pending, string(encoded), time.Now().UTC())
	if err != nil {
		return errors.Wrap(errors.ErrDatabaseError, fmt.Sprintf("failed to save pnl snapshot: %v", err))
	}
	return nil
}

// ============================================================================
// Query Methods
// ============================================================================

func buildFilter(query, timeColumn string, filter HistoryFilter) (string, []interface{}) {
	args := []interface{}{}

	if filter.StrategyID != "" {
		query += " AND strategy_id = ?"
		args = append(args, filter.StrategyID)
	}
	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if !filter.StartDate.IsZero() {
		query += " AND " + timeColumn + " >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND " + timeColumn + " <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY " + timeColumn + " DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return query, args
}

// GetSpreadHistory retrieves spread snapshots, newest first.
func (s *SQLiteStore) GetSpreadHistory(ctx context.Context, filter HistoryFilter) ([]SpreadRecord, error) {
	query, args := buildFilter(`
		SELECT id, run_id, strategy_id, forward_total, forward_valid, reverse_total, reverse_valid,
		       bidding_leg_id, bidding_leg_price, skipped, computed_at
		FROM spread_snapshots WHERE 1=1`, "computed_at", filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query spread history: %w", err)
	}
	defer rows.Close()

	var records []SpreadRecord
	for rows.Next() {
		var (
			r            SpreadRecord
			fwdValid     int
			revValid     int
			biddingLegID sql.NullString
			biddingPrice sql.NullFloat64
			skipped      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.StrategyID, &r.Forward, &fwdValid, &r.Reverse, &revValid,
			&biddingLegID, &biddingPrice, &skipped, &r.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan spread snapshot: %w", err)
		}
		r.ForwardValid = fwdValid == 1
		r.ReverseValid = revValid == 1
		r.BiddingLegID = biddingLegID.String
		if biddingPrice.Valid {
			price := biddingPrice.Float64
			r.BiddingLegPrice = &price
		}
		if skipped.Valid && skipped.String != "" {
			_ = json.Unmarshal([]byte(skipped.String), &r.Skipped)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spread history: %w", err)
	}

	return records, nil
}

// GetPnLHistory retrieves PnL snapshots, newest first.
func (s *SQLiteStore) GetPnLHistory(ctx context.Context, filter HistoryFilter) ([]PnLRecord, error) {
	query, args := buildFilter(`
		SELECT id, run_id, strategy_id, total_pnl, realized, unrealized, orders, finished, pending, results, recorded_at
		FROM pnl_snapshots WHERE 1=1`, "recorded_at", filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pnl history: %w", err)
	}
	defer rows.Close()

	var records []PnLRecord
	for rows.Next() {
		var (
			r       PnLRecord
			results string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Summary.StrategyID, &r.Summary.TotalPnL, &r.Summary.Realized,
			&r.Summary.Unrealized, &r.Summary.Orders, &r.Summary.Finished, &r.Summary.Pending, &results, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pnl snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
			return nil, errors.NewDataError("pnl_snapshot", fmt.Sprint(r.ID), "corrupt results", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pnl history: %w", err)
	}

	return records, nil
}

// GetRuns lists monitor runs, most recent first.
func (s *SQLiteStore) GetRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	query := `
		SELECT run_id, MIN(ts), MAX(ts), COUNT(*), COUNT(DISTINCT strategy_id)
		FROM (
			SELECT run_id, strategy_id, computed_at AS ts FROM spread_snapshots
			UNION ALL
			SELECT run_id, strategy_id, recorded_at AS ts FROM pnl_snapshots
		)
		GROUP BY run_id
		ORDER BY MAX(ts) DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var (
			r           RunInfo
			first, last string
		)
		if err := rows.Scan(&r.RunID, &first, &last, &r.Snapshots, &r.Strategies); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.FirstSeen = parseSQLiteTime(first)
		r.LastSeen = parseSQLiteTime(last)
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Prune deletes snapshots older than before and returns the number removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, stmt := range []string{
		"DELETE FROM spread_snapshots WHERE computed_at < ?",
		"DELETE FROM pnl_snapshots WHERE recorded_at < ?",
	} {
		res, err := tx.ExecContext(ctx, stmt, before.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to prune history: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return total, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseSQLiteTime parses timestamps returned by aggregate queries, which the
// driver hands back as text.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
