// Package monitor wires the quote cache, pricing and the spread and PnL
// engines to the refresh scheduler.
package monitor

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"spread-monitor/internal/errors"
	"spread-monitor/internal/logging"
	"spread-monitor/internal/models"
	"spread-monitor/internal/pnl"
	"spread-monitor/internal/pricing"
	"spread-monitor/internal/quotes"
	"spread-monitor/internal/scheduler"
	"spread-monitor/internal/spread"
)

// Scheduler keys.
const (
	KeyQuotes     = "quotes"
	KeyStrategies = "strategies"
	KeyHistory    = "history"
)

// SpreadKey is the spread scheduler key of a strategy.
func SpreadKey(strategyID string) string { return "spread:" + strategyID }

// OrdersKey is the order-list scheduler key of a strategy.
func OrdersKey(strategyID string) string { return "orders:" + strategyID }

// Backend is the subset of the trading backend the monitor polls.
type Backend interface {
	FetchStrategies(ctx context.Context) ([]models.StrategySpec, error)
	FetchOrders(ctx context.Context, strategyID string) ([]models.OrderRecord, error)
	FetchExitFill(ctx context.Context, key string) (models.ExitFill, bool, error)
}

// History persists periodic snapshots of the results.
type History interface {
	SaveSpread(ctx context.Context, runID string, snap spread.Snapshot) error
	SavePnL(ctx context.Context, runID string, summary pnl.Summary, results map[string]models.PnLResult) error
}

// Config holds polling settings.
type Config struct {
	// QuoteInterval is the option-chain refresh period.
	QuoteInterval time.Duration
	// OrdersInterval is the per-strategy order-list refresh period.
	OrdersInterval time.Duration
	// StrategiesInterval is the strategy-list reconciliation period. Zero
	// disables reconciliation.
	StrategiesInterval time.Duration
	// SpreadInterval is the per-strategy spread recomputation period.
	SpreadInterval time.Duration
	// HistoryInterval is the snapshot period. Ignored without a History.
	HistoryInterval time.Duration
	// ExitFillConcurrency bounds concurrent exit-fill lookups per tick.
	ExitFillConcurrency int
	// Pricing prices open orders that carry no pricing of their own.
	Pricing models.PricingConfig
}

// DefaultConfig returns the default polling configuration.
func DefaultConfig() Config {
	return Config{
		QuoteInterval:       time.Second,
		OrdersInterval:      time.Second,
		StrategiesInterval:  30 * time.Second,
		SpreadInterval:      time.Second,
		HistoryInterval:     time.Minute,
		ExitFillConcurrency: 4,
		Pricing:             models.DefaultPricingConfig(),
	}
}

// Monitor owns every watch and the shared result maps.
type Monitor struct {
	cfg      Config
	sched    *scheduler.Scheduler
	cache    *quotes.Cache
	resolver *pricing.Resolver
	spreads  *spread.Engine
	pnl      *pnl.Engine
	backend  Backend
	history  History
	results  *Results
	runID    string
	logger   zerolog.Logger

	mu         sync.RWMutex
	strategies map[string]models.StrategySpec
}

// New creates a monitor. history may be nil.
func New(cfg Config, sched *scheduler.Scheduler, cache *quotes.Cache, backend Backend, history History, logger zerolog.Logger) *Monitor {
	if cfg.ExitFillConcurrency <= 0 {
		cfg.ExitFillConcurrency = 1
	}
	resolver := pricing.NewResolver(cache)
	return &Monitor{
		cfg:        cfg,
		sched:      sched,
		cache:      cache,
		resolver:   resolver,
		spreads:    spread.NewEngine(resolver, logger),
		pnl:        pnl.NewEngine(resolver, cfg.Pricing, logger),
		backend:    backend,
		history:    history,
		results:    NewResults(),
		runID:      uuid.NewString(),
		logger:     logging.WithComponent(logger, "monitor"),
		strategies: make(map[string]models.StrategySpec),
	}
}

// RunID identifies this monitor run in the history store.
func (m *Monitor) RunID() string { return m.runID }

// Results exposes the shared result maps.
func (m *Monitor) Results() *Results { return m.results }

// Cache exposes the quote cache.
func (m *Monitor) Cache() *quotes.Cache { return m.cache }

// Scheduler exposes the refresh scheduler.
func (m *Monitor) Scheduler() *scheduler.Scheduler { return m.sched }

// Start begins quote polling, strategy reconciliation and history snapshots.
func (m *Monitor) Start() error {
	if err := m.StartQuotes(); err != nil {
		return err
	}
	if m.cfg.StrategiesInterval > 0 {
		if err := m.sched.Start(KeyStrategies, m.cfg.StrategiesInterval, m.reconcileTick); err != nil {
			return err
		}
	}
	if m.history != nil && m.cfg.HistoryInterval > 0 {
		if err := m.sched.Start(KeyHistory, m.cfg.HistoryInterval, m.historyTick); err != nil {
			return err
		}
	}
	m.logger.Info().Str("run_id", m.runID).Msg("Monitor started")
	return nil
}

// StartQuotes begins polling the option chain.
func (m *Monitor) StartQuotes() error {
	return m.sched.Start(KeyQuotes, m.cfg.QuoteInterval, func(ctx context.Context, tick *scheduler.Tick) error {
		return m.cache.RefreshIf(ctx, tick.Apply)
	})
}

// Watch starts the spread and order watches of a strategy. Watching an
// already watched strategy replaces both timers.
func (m *Monitor) Watch(spec models.StrategySpec) error {
	if spec.ID == "" {
		return errors.NewValidationError("strategy_id", spec.ID, "must not be empty")
	}
	m.mu.Lock()
	m.strategies[spec.ID] = spec
	m.mu.Unlock()

	if err := m.sched.Start(SpreadKey(spec.ID), m.cfg.SpreadInterval, m.spreadAction(spec)); err != nil {
		return err
	}
	if err := m.sched.Start(OrdersKey(spec.ID), m.cfg.OrdersInterval, m.ordersAction(spec.ID)); err != nil {
		m.sched.Stop(SpreadKey(spec.ID))
		return err
	}
	log := logging.WithStrategy(m.logger, spec.ID)
	log.Info().Int("legs", len(spec.Legs)).Msg("Watching strategy")
	return nil
}

// Unwatch stops both watches of a strategy and drops its results.
func (m *Monitor) Unwatch(strategyID string) {
	m.sched.Stop(SpreadKey(strategyID))
	m.sched.Stop(OrdersKey(strategyID))
	m.mu.Lock()
	delete(m.strategies, strategyID)
	m.mu.Unlock()
	m.results.Delete(strategyID)
	log := logging.WithStrategy(m.logger, strategyID)
	log.Info().Msg("Stopped watching strategy")
}

// Strategy returns a watched strategy.
func (m *Monitor) Strategy(strategyID string) (models.StrategySpec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.strategies[strategyID]
	return spec, ok
}

// Strategies returns every watched strategy sorted by id.
func (m *Monitor) Strategies() []models.StrategySpec {
	m.mu.RLock()
	out := make([]models.StrategySpec, 0, len(m.strategies))
	for _, s := range m.strategies {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reconcile starts watches for new or changed strategies and stops watches
// for strategies no longer listed.
func (m *Monitor) Reconcile(specs []models.StrategySpec) {
	listed := make(map[string]models.StrategySpec, len(specs))
	for _, s := range specs {
		listed[s.ID] = s
	}

	m.mu.RLock()
	var gone []string
	for id := range m.strategies {
		if _, ok := listed[id]; !ok {
			gone = append(gone, id)
		}
	}
	var changed []models.StrategySpec
	for id, s := range listed {
		if cur, ok := m.strategies[id]; !ok || !reflect.DeepEqual(cur, s) {
			changed = append(changed, s)
		}
	}
	m.mu.RUnlock()

	for _, id := range gone {
		m.Unwatch(id)
	}
	for _, s := range changed {
		if err := m.Watch(s); err != nil {
			log := logging.WithStrategy(m.logger, s.ID)
			log.Warn().Err(err).Msg("Failed to watch strategy")
		}
	}
}

// Close stops every watch and waits for in-flight ticks.
func (m *Monitor) Close() {
	m.sched.Close()
	m.logger.Info().Msg("Monitor stopped")
}

func (m *Monitor) reconcileTick(ctx context.Context, tick *scheduler.Tick) error {
	specs, err := m.backend.FetchStrategies(ctx)
	if err != nil {
		return err
	}
	tick.Apply(func() { m.Reconcile(specs) })
	return nil
}

func (m *Monitor) spreadAction(spec models.StrategySpec) scheduler.Action {
	return func(ctx context.Context, tick *scheduler.Tick) error {
		snap := m.spreads.Compute(spec)
		tick.Apply(func() { m.results.SetSpread(spec.ID, snap) })
		return nil
	}
}

func (m *Monitor) ordersAction(strategyID string) scheduler.Action {
	return func(ctx context.Context, tick *scheduler.Tick) error {
		batch, err := m.computeOrders(ctx, strategyID)
		if err != nil {
			return err
		}
		tick.Apply(func() { m.results.MergePnL(strategyID, batch) })
		return nil
	}
}

// computeOrders fetches the order list and its exit fills and computes every
// order's PnL.
func (m *Monitor) computeOrders(ctx context.Context, strategyID string) (pnl.Batch, error) {
	orders, err := m.backend.FetchOrders(ctx, strategyID)
	if err != nil {
		return pnl.Batch{}, err
	}
	exits, err := m.fetchExitFills(ctx, orders)
	if err != nil {
		return pnl.Batch{}, err
	}
	return m.pnl.ComputeAll(orders, exits), nil
}

// fetchExitFills looks up the closing fill of every exited order. A missing
// fill is not an error; the order is skipped by the PnL engine.
func (m *Monitor) fetchExitFills(ctx context.Context, orders []models.OrderRecord) (pnl.ExitBook, error) {
	keys := make(map[string]bool)
	for _, o := range orders {
		if o.Entered && o.Exited && o.ExitRecordKey != "" {
			keys[o.ExitRecordKey] = true
		}
	}
	book := make(pnl.ExitBook, len(keys))
	if len(keys) == 0 {
		return book, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ExitFillConcurrency)
	for key := range keys {
		key := key
		g.Go(func() error {
			fill, ok, err := m.backend.FetchExitFill(gctx, key)
			if err != nil {
				return errors.Wrapf(err, "exit fill %s", key)
			}
			if ok {
				mu.Lock()
				book[key] = fill
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return book, nil
}

func (m *Monitor) historyTick(ctx context.Context, tick *scheduler.Tick) error {
	var firstErr error
	for _, id := range m.results.StrategyIDs() {
		if !tick.Active() {
			return nil
		}
		if snap, ok := m.results.Spread(id); ok {
			if err := m.history.SaveSpread(ctx, m.runID, snap); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if results, ok := m.results.PnL(id); ok {
			if err := m.history.SavePnL(ctx, m.runID, pnl.Summarize(id, results), results); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SpreadOnce refreshes the chain and computes one spread snapshot.
func (m *Monitor) SpreadOnce(ctx context.Context, spec models.StrategySpec) (spread.Snapshot, error) {
	if err := m.cache.Refresh(ctx); err != nil {
		return spread.Snapshot{}, err
	}
	return m.spreads.Compute(spec), nil
}

// PnLOnce refreshes the chain and computes the PnL of one strategy's orders.
func (m *Monitor) PnLOnce(ctx context.Context, strategyID string) (pnl.Batch, pnl.Summary, error) {
	if err := m.cache.Refresh(ctx); err != nil {
		return pnl.Batch{}, pnl.Summary{}, err
	}
	batch, err := m.computeOrders(ctx, strategyID)
	if err != nil {
		return pnl.Batch{}, pnl.Summary{}, err
	}
	return batch, pnl.Summarize(strategyID, batch.Results), nil
}

// FindStrategy fetches the strategy list and returns the one with id.
func (m *Monitor) FindStrategy(ctx context.Context, strategyID string) (models.StrategySpec, error) {
	if spec, ok := m.Strategy(strategyID); ok {
		return spec, nil
	}
	specs, err := m.backend.FetchStrategies(ctx)
	if err != nil {
		return models.StrategySpec{}, err
	}
	for _, s := range specs {
		if s.ID == strategyID {
			return s, nil
		}
	}
	return models.StrategySpec{}, errors.Wrapf(errors.ErrStrategyNotFound, "strategy %s", strategyID)
}
