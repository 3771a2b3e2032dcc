package quotes

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-monitor/internal/models"
)

type fakeSource struct {
	mu     sync.Mutex
	quotes []models.Quote
	err    error
	calls  int
}

func (f *fakeSource) FetchChain(ctx context.Context) ([]models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

func quote(symbol, expiry string, strike float64, ot models.OptionType, bid, ask float64) models.Quote {
	return models.Quote{
		Contract: models.Contract{Symbol: symbol, Expiry: expiry, Strike: strike, OptionType: ot},
		Bids:     []models.PriceLevel{{Price: bid}},
		Asks:     []models.PriceLevel{{Price: ask}},
	}
}

func TestLookupBeforeRefresh(t *testing.T) {
	c := NewCache(&fakeSource{}, zerolog.Nop())

	_, ok := c.Lookup("NIFTY", "25JAN", 20000, models.OptionCall)
	assert.False(t, ok)

	_, ready := c.Snapshot()
	assert.False(t, ready)
	assert.False(t, c.Status().Ready)
}

func TestLookupMatching(t *testing.T) {
	src := &fakeSource{quotes: []models.Quote{
		quote("NFO:NIFTY25JAN20000CE", "25JAN", 20000, models.OptionCall, 9.5, 10),
		quote("NFO:NIFTY25JAN20000PE", "25JAN", 20000, models.OptionPut, 3, 3.5),
		quote("NFO:BANKNIFTY25JAN20000CE", "25JAN", 20000, models.OptionCall, 100, 101),
		quote("NFO:NIFTY25FEB20000CE", "25FEB", 20000, models.OptionCall, 50, 51),
	}}
	c := NewCache(src, zerolog.Nop())
	require.NoError(t, c.Refresh(context.Background()))

	q, ok := c.Lookup("NIFTY25JAN", "25JAN", 20000, models.OptionCall)
	require.True(t, ok)
	assert.Equal(t, 9.5, q.Bids[0].Price)

	q, ok = c.Lookup("NIFTY", "25JAN", 20000, models.OptionPut)
	require.True(t, ok)
	assert.Equal(t, 3.0, q.Bids[0].Price)

	q, ok = c.Lookup("BANKNIFTY", "25JAN", 20000, models.OptionCall)
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Bids[0].Price)

	_, ok = c.Lookup("NIFTY", "25JAN", 20050, models.OptionCall)
	assert.False(t, ok)
	_, ok = c.Lookup("NIFTY", "25MAR", 20000, models.OptionCall)
	assert.False(t, ok)
	_, ok = c.Lookup("FINNIFTY", "25JAN", 20000, models.OptionCall)
	assert.False(t, ok)
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	src := &fakeSource{quotes: []models.Quote{
		quote("NIFTY", "25JAN", 20000, models.OptionCall, 9.5, 10),
	}}
	c := NewCache(src, zerolog.Nop())
	require.NoError(t, c.Refresh(context.Background()))

	src.mu.Lock()
	src.err = errors.New("connection refused")
	src.mu.Unlock()

	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	q, ok := c.Lookup("NIFTY", "25JAN", 20000, models.OptionCall)
	require.True(t, ok)
	assert.Equal(t, 9.5, q.Bids[0].Price)

	st := c.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, int64(1), st.Failures)
	assert.Contains(t, st.LastError, "connection refused")
}

func TestRefreshReplacesWholesale(t *testing.T) {
	src := &fakeSource{quotes: []models.Quote{
		quote("NIFTY", "25JAN", 20000, models.OptionCall, 9.5, 10),
		quote("NIFTY", "25JAN", 20100, models.OptionCall, 5, 5.5),
	}}
	c := NewCache(src, zerolog.Nop())
	require.NoError(t, c.Refresh(context.Background()))

	src.mu.Lock()
	src.quotes = []models.Quote{quote("NIFTY", "25JAN", 20100, models.OptionCall, 6, 6.5)}
	src.mu.Unlock()
	require.NoError(t, c.Refresh(context.Background()))

	_, ok := c.Lookup("NIFTY", "25JAN", 20000, models.OptionCall)
	assert.False(t, ok)
	q, ok := c.Lookup("NIFTY", "25JAN", 20100, models.OptionCall)
	require.True(t, ok)
	assert.Equal(t, 6.0, q.Bids[0].Price)
}

func TestConcurrentReadersDuringRefresh(t *testing.T) {
	src := &fakeSource{quotes: []models.Quote{
		quote("NIFTY", "25JAN", 20000, models.OptionCall, 9.5, 10),
	}}
	c := NewCache(src, zerolog.Nop())
	require.NoError(t, c.Refresh(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				q, ok := c.Lookup("NIFTY", "25JAN", 20000, models.OptionCall)
				if ok {
					assert.Len(t, q.Bids, 1)
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, c.Refresh(context.Background()))
	}
	wg.Wait()
}

func TestLookupPrefersUnderlyingOverLongerNames(t *testing.T) {
	for name, chain := range map[string][]models.Quote{
		"other first": {
			quote("FINNIFTY24DEC24000CE", "24DEC", 24000, models.OptionCall, 5, 6),
			quote("BANKNIFTY24DEC24000CE", "24DEC", 24000, models.OptionCall, 300, 301),
			quote("NIFTYNXT5024DEC24000CE", "24DEC", 24000, models.OptionCall, 7, 8),
			quote("NIFTY24DEC24000CE", "24DEC", 24000, models.OptionCall, 100, 101),
		},
		"nifty first": {
			quote("NIFTY24DEC24000CE", "24DEC", 24000, models.OptionCall, 100, 101),
			quote("FINNIFTY24DEC24000CE", "24DEC", 24000, models.OptionCall, 5, 6),
		},
		"exchange prefix": {
			quote("NFO:FINNIFTY24DEC24000CE", "24DEC", 24000, models.OptionCall, 5, 6),
			quote("NFO:NIFTY24DEC24000CE", "24DEC", 24000, models.OptionCall, 100, 101),
		},
	} {
		t.Run(name, func(t *testing.T) {
			c := NewCache(&fakeSource{quotes: chain}, zerolog.Nop())
			require.NoError(t, c.Refresh(context.Background()))

			q, ok := c.Lookup("NIFTY", "24DEC", 24000, models.OptionCall)
			require.True(t, ok)
			assert.Equal(t, 100.0, q.Bids[0].Price)
		})
	}

	c := NewCache(&fakeSource{quotes: []models.Quote{
		quote("FINNIFTY24DEC24000CE", "24DEC", 24000, models.OptionCall, 5, 6),
	}}, zerolog.Nop())
	require.NoError(t, c.Refresh(context.Background()))
	q, ok := c.Lookup("NIFTY", "24DEC", 24000, models.OptionCall)
	require.True(t, ok)
	assert.Equal(t, 5.0, q.Bids[0].Price)
}

func TestRefreshIfRefusedKeepsSnapshot(t *testing.T) {
	src := &fakeSource{quotes: []models.Quote{quote("NIFTY", "25JAN", 20000, models.OptionCall, 9.5, 10)}}
	c := NewCache(src, zerolog.Nop())
	require.NoError(t, c.Refresh(context.Background()))

	src.mu.Lock()
	src.quotes = []models.Quote{quote("NIFTY", "25JAN", 20000, models.OptionCall, 20, 21)}
	src.mu.Unlock()
	require.NoError(t, c.RefreshIf(context.Background(), func(func()) bool { return false }))

	q, ok := c.Lookup("NIFTY", "25JAN", 20000, models.OptionCall)
	require.True(t, ok)
	assert.Equal(t, 9.5, q.Bids[0].Price)
}

func TestCancelledRefreshIsNotAFailure(t *testing.T) {
	src := &fakeSource{err: context.Canceled}
	c := NewCache(src, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Refresh(ctx), context.Canceled)

	st := c.Status()
	assert.Zero(t, st.Failures)
	assert.Empty(t, st.LastError)
}
