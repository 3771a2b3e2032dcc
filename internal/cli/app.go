package cli

import (
	"context"
	"time"

	"spread-monitor/internal/config"
	"spread-monitor/internal/monitor"
	"spread-monitor/internal/quotes"
	"spread-monitor/internal/scheduler"
	"spread-monitor/internal/store"
	"spread-monitor/internal/upstream"
)

// newBackend creates the trading backend client.
func (a *App) newBackend() *upstream.Client {
	return upstream.NewClient(a.Config.Upstream, a.Logger)
}

// newQuoteSource picks the option-chain source configured under [source].
func (a *App) newQuoteSource(backend *upstream.Client) quotes.Source {
	if a.Config.Source.Kind == config.SourceKite {
		return upstream.NewKiteSource(a.Config.Source.Kite, a.Logger)
	}
	return backend
}

// openHistory opens the snapshot database and prunes expired rows.
func (a *App) openHistory(ctx context.Context) (*store.SQLiteStore, error) {
	hs, err := store.NewSQLiteStore(a.Config.History.DBPath)
	if err != nil {
		return nil, err
	}
	if a.Config.History.Retention > 0 {
		removed, err := hs.Prune(ctx, time.Now().Add(-a.Config.History.Retention))
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to prune history")
		} else if removed > 0 {
			a.Logger.Info().Int64("removed", removed).Msg("Pruned expired history")
		}
	}
	return hs, nil
}

// newMonitor builds a monitor over the configured sources. history may be nil.
func (a *App) newMonitor(ctx context.Context, cfg monitor.Config, history monitor.History) *monitor.Monitor {
	backend := a.newBackend()
	cache := quotes.NewCache(a.newQuoteSource(backend), a.Logger)
	sched := scheduler.New(ctx, a.Config.Backoff, a.Logger)
	return monitor.New(cfg, sched, cache, backend, history, a.Logger)
}
