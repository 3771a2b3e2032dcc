// Package quotes holds the most recent option-chain snapshot.
package quotes

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"spread-monitor/internal/errors"
	"spread-monitor/internal/models"
)

// Source fetches a complete option-chain snapshot.
type Source interface {
	FetchChain(ctx context.Context) ([]models.Quote, error)
}

type indexKey struct {
	expiry     string
	strike     float64
	optionType models.OptionType
}

// snapshot is immutable once published.
type snapshot struct {
	chain models.ChainSnapshot
	index map[indexKey][]int
}

func newSnapshot(quotes []models.Quote, fetchedAt time.Time) *snapshot {
	s := &snapshot{
		chain: models.ChainSnapshot{Quotes: quotes, FetchedAt: fetchedAt},
		index: make(map[indexKey][]int, len(quotes)),
	}
	for i, q := range quotes {
		k := indexKey{expiry: q.Expiry, strike: q.Strike, optionType: q.OptionType}
		s.index[k] = append(s.index[k], i)
	}
	return s
}

// Status describes the cache freshness.
type Status struct {
	Ready       bool      `json:"ready"`
	Quotes      int       `json:"quotes"`
	FetchedAt   time.Time `json:"fetchedAt"`
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt,omitempty"`
	Failures    int64     `json:"consecutiveFailures"`
}

type failure struct {
	err error
	at  time.Time
}

// Cache stores the latest snapshot and swaps it atomically on refresh.
// Readers never observe a partially updated chain.
type Cache struct {
	source   Source
	logger   zerolog.Logger
	now      func() time.Time
	current  atomic.Pointer[snapshot]
	lastFail atomic.Pointer[failure]
	failures atomic.Int64
}

// NewCache creates a cache over source.
func NewCache(source Source, logger zerolog.Logger) *Cache {
	return &Cache{
		source: source,
		logger: logger.With().Str("component", "quotes").Logger(),
		now:    time.Now,
	}
}

// Refresh fetches the whole chain and replaces the snapshot. On failure the
// previous snapshot stays in place and the error is returned.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.RefreshIf(ctx, func(fn func()) bool {
		fn()
		return true
	})
}

// RefreshIf is Refresh with the swap routed through apply, which may refuse
// it when the caller stopped while the fetch was in flight. Cancelled fetches
// are not counted as failures.
func (c *Cache) RefreshIf(ctx context.Context, apply func(func()) bool) error {
	quotes, err := c.source.FetchChain(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		c.failures.Add(1)
		c.lastFail.Store(&failure{err: err, at: c.now()})
		return errors.Wrap(err, "refreshing option chain")
	}

	owned := make([]models.Quote, len(quotes))
	copy(owned, quotes)
	snap := newSnapshot(owned, c.now())
	if !apply(func() {
		c.current.Store(snap)
		c.failures.Store(0)
	}) {
		return nil
	}

	c.logger.Debug().Int("quotes", len(owned)).Msg("Option chain refreshed")
	return nil
}

// Replace installs quotes as the current snapshot without fetching.
func (c *Cache) Replace(quotes []models.Quote) {
	owned := make([]models.Quote, len(quotes))
	copy(owned, quotes)
	c.current.Store(newSnapshot(owned, c.now()))
}

// Lookup finds the quote for a contract. Strike and expiry match exactly, and
// the upstream symbol must contain the requested symbol. Among candidates an
// equal symbol wins, then one where the symbol is not glued to letters on
// either side (NFO:NIFTY24DEC for NIFTY, not FINNIFTY or NIFTYNXT50), then one
// with a clean start, then plain containment. Ties go to chain order.
func (c *Cache) Lookup(symbol, expiry string, strike float64, optionType models.OptionType) (models.Quote, bool) {
	snap := c.current.Load()
	if snap == nil {
		return models.Quote{}, false
	}
	best, bestRank := -1, matchNone
	for _, i := range snap.index[indexKey{expiry: expiry, strike: strike, optionType: optionType}] {
		if r := symbolMatch(snap.chain.Quotes[i].Symbol, symbol); r < bestRank {
			best, bestRank = i, r
			if r == matchExact {
				break
			}
		}
	}
	if best < 0 {
		return models.Quote{}, false
	}
	return snap.chain.Quotes[best], true
}

const (
	matchExact = iota
	matchUnderlying
	matchStart
	matchContains
	matchNone
)

func symbolMatch(upstream, requested string) int {
	if upstream == requested {
		return matchExact
	}
	if requested == "" {
		return matchContains
	}
	rank := matchNone
	for from := 0; from <= len(upstream)-len(requested); {
		i := strings.Index(upstream[from:], requested)
		if i < 0 {
			break
		}
		i += from
		r := matchContains
		if !letterBefore(upstream, i) {
			r = matchStart
			if !letterAfter(upstream, i+len(requested)) {
				r = matchUnderlying
			}
		}
		if r < rank {
			rank = r
		}
		from = i + 1
	}
	return rank
}

func letterBefore(s string, i int) bool {
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return i > 0 && unicode.IsLetter(r)
}

func letterAfter(s string, i int) bool {
	r, _ := utf8.DecodeRuneInString(s[i:])
	return i < len(s) && unicode.IsLetter(r)
}

// LookupContract is Lookup keyed by a contract.
func (c *Cache) LookupContract(ct models.Contract) (models.Quote, bool) {
	return c.Lookup(ct.Symbol, ct.Expiry, ct.Strike, ct.OptionType)
}

// Snapshot returns the current chain, or false before the first refresh.
func (c *Cache) Snapshot() (models.ChainSnapshot, bool) {
	snap := c.current.Load()
	if snap == nil {
		return models.ChainSnapshot{}, false
	}
	return snap.chain, true
}

// Status reports freshness and the most recent failure.
func (c *Cache) Status() Status {
	st := Status{Failures: c.failures.Load()}
	if snap := c.current.Load(); snap != nil {
		st.Ready = true
		st.Quotes = len(snap.chain.Quotes)
		st.FetchedAt = snap.chain.FetchedAt
	}
	if f := c.lastFail.Load(); f != nil {
		st.LastError = f.err.Error()
		st.LastErrorAt = f.at
	}
	return st
}
