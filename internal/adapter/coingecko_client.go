package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/holdings-tracker/internal/config"
	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/logging"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/retry"
	"github.com/holdings-tracker/internal/storage"
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const coinGeckoProvider = "coingecko"

// PriceClient fetches daily USD prices of token contracts from a
// CoinGecko-compatible market API. All requests share one limiter.
type PriceClient struct {
	apiKey     string
	baseURL    string
	days       string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *retry.Config
	cache      *storage.PriceCache
}

// NewPriceClient creates a market data client. cache may be nil.
func NewPriceClient(cfg config.CoinGeckoConfig, retryCfg *retry.Config, cache *storage.PriceCache) *PriceClient {
	c := &PriceClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		days:       cfg.Days,
		httpClient: newHTTPClient(),
		retry:      retryCfg,
		cache:      cache,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.coingecko.com/api/v3"
	}
	if c.days == "" {
		c.days = "max"
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 8
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	return c
}

type marketChart struct {
	Prices [][]json.Number `json:"prices"`
}

type contractInfo struct {
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	DetailPlatforms map[string]struct {
		DecimalPlace    *int   `json:"decimal_place"`
		ContractAddress string `json:"contract_address"`
	} `json:"detail_platforms"`
}

func (c *PriceClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Cg-Demo-Api-Key", c.apiKey)
		}
		return doJSON(c.httpClient, coinGeckoProvider, req, out)
	})
}

// DailyPrices returns the price history of contract on platform, served from
// the cache when present.
func (c *PriceClient) DailyPrices(ctx context.Context, chain types.ChainID, platform, contract string) ([]models.DailyPrice, error) {
	contract = types.NormalizeAddress(contract)
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{"chain": chain, "contract": contract})

	if c.cache != nil {
		prices, ok, err := c.cache.Get(ctx, chain, contract)
		if err != nil {
			logger.WithError(err).Warn("Price cache read failed, fetching from provider")
		} else if ok {
			logger.Debug("Price cache hit")
			return prices, nil
		}
	}

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", c.days)

	var chart marketChart
	path := fmt.Sprintf("/coins/%s/contract/%s/market_chart", url.PathEscape(platform), url.PathEscape(contract))
	if err := c.get(ctx, path, q, &chart); err != nil {
		return nil, err
	}

	prices, err := parseMarketChart(contract, chart)
	if err != nil {
		return nil, apperrors.NewProviderError(coinGeckoProvider, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, chain, contract, prices); err != nil {
			logger.WithError(err).Warn("Price cache write failed")
		}
	}
	return prices, nil
}

func parseMarketChart(contract string, chart marketChart) ([]models.DailyPrice, error) {
	prices := make([]models.DailyPrice, 0, len(chart.Prices))
	for i, point := range chart.Prices {
		if len(point) != 2 {
			return nil, fmt.Errorf("price point %d: expected [timestamp, price], got %d values", i, len(point))
		}
		ms, err := point[0].Int64()
		if err != nil {
			// some deployments send fractional millisecond timestamps
			f, ferr := point[0].Float64()
			if ferr != nil {
				return nil, fmt.Errorf("price point %d: bad timestamp %q", i, point[0])
			}
			ms = int64(f)
		}
		price, err := decimal.NewFromString(point[1].String())
		if err != nil {
			return nil, fmt.Errorf("price point %d: bad price %q", i, point[1])
		}
		prices = append(prices, models.DailyPrice{
			Time:            time.UnixMilli(ms).UTC(),
			ContractAddress: contract,
			PriceUSD:        price,
		})
	}
	return prices, nil
}

// ContractInfo returns the listed symbol, name and decimals of contract on
// platform. Decimal is blank when the platform entry carries none.
func (c *PriceClient) ContractInfo(ctx context.Context, chain types.ChainID, platform, contract string) (models.ContractMetadata, error) {
	contract = types.NormalizeAddress(contract)

	var info contractInfo
	path := fmt.Sprintf("/coins/%s/contract/%s", url.PathEscape(platform), url.PathEscape(contract))
	if err := c.get(ctx, path, nil, &info); err != nil {
		return models.ContractMetadata{}, err
	}

	meta := models.ContractMetadata{
		ContractAddress: contract,
		Ticker:          strings.ToUpper(info.Symbol),
		TokenName:       info.Name,
		Blockchain:      chain,
	}
	if p, ok := info.DetailPlatforms[platform]; ok && p.DecimalPlace != nil {
		meta.Decimal = fmt.Sprintf("%d", *p.DecimalPlace)
	}
	return meta, nil
}
