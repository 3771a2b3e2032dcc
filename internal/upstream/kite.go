package upstream

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"

	"spread-monitor/internal/errors"
	"spread-monitor/internal/logging"
	"spread-monitor/internal/models"
)

// kiteQuoteBatch is the instrument limit of one Kite quote request.
const kiteQuoteBatch = 500

// KiteConfig selects the option contracts streamed from Kite Connect.
type KiteConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	AccessToken string   `mapstructure:"access_token"`
	Exchange    string   `mapstructure:"exchange"`
	Underlyings []string `mapstructure:"underlyings"`
	Expiries    []string `mapstructure:"expiries"`
	// InstrumentsTTL bounds how long the instrument dump is reused.
	InstrumentsTTL time.Duration `mapstructure:"instruments_ttl"`
}

type kiteAPI interface {
	GetInstruments() (kiteconnect.Instruments, error)
	GetQuote(instruments ...string) (kiteconnect.Quote, error)
}

// KiteSource builds option-chain snapshots from Kite Connect market depth.
type KiteSource struct {
	api    kiteAPI
	cfg    KiteConfig
	logger zerolog.Logger

	mu          sync.Mutex
	contracts   map[string]models.Contract
	refreshedAt time.Time
}

// NewKiteSource creates a Kite-backed quote source.
func NewKiteSource(cfg KiteConfig, logger zerolog.Logger) *KiteSource {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.AccessToken != "" {
		client.SetAccessToken(cfg.AccessToken)
	}
	return newKiteSource(client, cfg, logger)
}

func newKiteSource(api kiteAPI, cfg KiteConfig, logger zerolog.Logger) *KiteSource {
	if cfg.Exchange == "" {
		cfg.Exchange = "NFO"
	}
	if cfg.InstrumentsTTL <= 0 {
		cfg.InstrumentsTTL = 6 * time.Hour
	}
	return &KiteSource{
		api:    api,
		cfg:    cfg,
		logger: logging.WithComponent(logger, "kite"),
	}
}

// FetchChain quotes every selected contract and maps its five-level depth onto
// the bid and ask ladders.
func (k *KiteSource) FetchChain(ctx context.Context) ([]models.Quote, error) {
	contracts, err := k.instruments()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(contracts))
	for key := range contracts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]models.Quote, 0, len(keys))
	for start := 0; start < len(keys); start += kiteQuoteBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + kiteQuoteBatch
		if end > len(keys) {
			end = len(keys)
		}

		begin := time.Now()
		quotes, err := k.api.GetQuote(keys[start:end]...)
		logging.LogAPICall(k.logger, "GET", "kite/quote", time.Since(begin), err)
		if err != nil {
			return nil, errors.NewFetchError("kite_quote", 0, err)
		}
		for _, key := range keys[start:end] {
			q, ok := quotes[key]
			if !ok {
				continue
			}
			ct := contracts[key]
			out = append(out, models.Quote{
				Contract: ct,
				Bids:     depthLevels(q.Depth.Buy[:]),
				Asks:     depthLevels(q.Depth.Sell[:]),
				LTP:      q.LastPrice,
			})
		}
	}
	return out, nil
}

// instruments returns the selected contracts keyed by "EXCHANGE:SYMBOL",
// reloading the instrument dump when it is older than the TTL.
func (k *KiteSource) instruments() (map[string]models.Contract, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.contracts != nil && time.Since(k.refreshedAt) < k.cfg.InstrumentsTTL {
		return k.contracts, nil
	}

	all, err := k.api.GetInstruments()
	if err != nil {
		return nil, errors.NewFetchError("kite_instruments", 0, err)
	}
	k.contracts = selectContracts(all, k.cfg)
	k.refreshedAt = time.Now()
	k.logger.Info().Int("contracts", len(k.contracts)).Msg("Loaded option instruments")
	return k.contracts, nil
}

func selectContracts(all kiteconnect.Instruments, cfg KiteConfig) map[string]models.Contract {
	underlyings := make(map[string]bool, len(cfg.Underlyings))
	for _, u := range cfg.Underlyings {
		underlyings[strings.ToUpper(strings.TrimSpace(u))] = true
	}
	expiries := make(map[string]bool, len(cfg.Expiries))
	for _, e := range cfg.Expiries {
		expiries[strings.TrimSpace(e)] = true
	}

	out := make(map[string]models.Contract)
	for _, inst := range all {
		if inst.Exchange != cfg.Exchange {
			continue
		}
		ot, ok := models.ParseOptionType(inst.InstrumentType)
		if !ok {
			continue
		}
		if len(underlyings) > 0 && !underlyings[strings.ToUpper(inst.Name)] {
			continue
		}
		expiry := inst.Expiry.Time.Format("2006-01-02")
		if len(expiries) > 0 && !expiries[expiry] {
			continue
		}
		out[fmt.Sprintf("%s:%s", inst.Exchange, inst.Tradingsymbol)] = models.Contract{
			Symbol:     inst.Tradingsymbol,
			Expiry:     expiry,
			Strike:     inst.StrikePrice,
			OptionType: ot,
		}
	}
	return out
}

func depthLevels(items []kitemodels.DepthItem) []models.PriceLevel {
	out := make([]models.PriceLevel, len(items))
	for i, d := range items {
		out[i] = models.PriceLevel{Price: d.Price}
	}
	return out
}
