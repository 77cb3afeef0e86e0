// Package pricefeed fetches spot quotes and candles from Coinbase's
// public market-data endpoints. Quotes go through a short-TTL Redis
// cache so the 1s position poll does not hammer the quote API.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/cache"
	"confluence-trading-bot/internal/market"
)

// Client is a Coinbase market-data client. The cache is optional; with
// a nil cache every call goes straight to the API.
type Client struct {
	cfg    config.PriceFeedConfig
	http   *http.Client
	cache  *cache.CacheService
	logger zerolog.Logger
}

func NewClient(cfg config.PriceFeedConfig, cs *cache.CacheService, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		cache:  cs,
		logger: logger.With().Str("component", "pricefeed").Logger(),
	}
}

// CurrentPrice returns the latest spot price for the configured product.
// Cache errors degrade to a direct fetch, never fail the call.
func (c *Client) CurrentPrice(ctx context.Context) (float64, error) {
	key := cache.SpotQuoteKey(c.cfg.Product)

	if c.cache != nil {
		if raw, err := c.cache.Get(ctx, key); err == nil {
			if price, perr := strconv.ParseFloat(raw, 64); perr == nil {
				return price, nil
			}
		}
	}

	price, err := c.fetchSpot(ctx)
	if err != nil {
		return 0, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, strconv.FormatFloat(price, 'f', -1, 64), c.cfg.CacheTTL); err != nil {
			c.logger.Debug().Err(err).Msg("quote cache write skipped")
		}
	}

	return price, nil
}

type spotResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

func (c *Client) fetchSpot(ctx context.Context) (float64, error) {
	url := fmt.Sprintf("%s/v2/prices/%s/spot", c.cfg.BaseURL, c.cfg.Product)

	body, err := c.get(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("fetching spot price: %w", err)
	}

	var resp spotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decoding spot response: %w", err)
	}

	price, err := strconv.ParseFloat(resp.Data.Amount, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing spot amount %q: %w", resp.Data.Amount, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive spot price %f", price)
	}

	return price, nil
}

type candleResponse struct {
	Candles []rawCandle `json:"candles"`
}

type rawCandle struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// Candles fetches the candle history for a timeframe, oldest first.
// Coinbase has no FOUR_HOUR granularity, so the coarse timeframe is
// built by merging aligned TWO_HOUR pairs.
func (c *Client) Candles(ctx context.Context, tf market.Timeframe, start, end time.Time) ([]market.Candle, error) {
	granularity := "FIVE_MINUTE"
	if tf == market.Timeframe4H {
		granularity = "TWO_HOUR"
	}

	url := fmt.Sprintf("%s/api/v3/brokerage/market/products/%s/candles?start=%d&end=%d&granularity=%s",
		c.cfg.BaseURL, c.cfg.Product, start.Unix(), end.Unix(), granularity)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching %s candles: %w", tf, err)
	}

	var resp candleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding candle response: %w", err)
	}

	candles := make([]market.Candle, 0, len(resp.Candles))
	for _, rc := range resp.Candles {
		candle, err := parseCandle(rc)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}

	// Coinbase returns newest first.
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	if tf == market.Timeframe4H {
		candles = mergePairs(candles, 4*time.Hour)
	}

	return candles, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

func parseCandle(rc rawCandle) (market.Candle, error) {
	unix, err := strconv.ParseInt(rc.Start, 10, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("parsing candle start %q: %w", rc.Start, err)
	}

	fields := [5]string{rc.Open, rc.High, rc.Low, rc.Close, rc.Volume}
	var vals [5]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("parsing candle field %q: %w", f, err)
		}
		vals[i] = v
	}

	return market.Candle{
		Timestamp: time.Unix(unix, 0).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// mergePairs rolls consecutive candles up into bars of the given span.
// Bars are aligned on span boundaries; a trailing partial bar is kept so
// the newest market state is visible.
func mergePairs(candles []market.Candle, span time.Duration) []market.Candle {
	if len(candles) == 0 {
		return candles
	}

	var merged []market.Candle
	for _, c := range candles {
		bucket := c.Timestamp.Truncate(span)
		if len(merged) == 0 || !merged[len(merged)-1].Timestamp.Equal(bucket) {
			bar := c
			bar.Timestamp = bucket
			merged = append(merged, bar)
			continue
		}

		bar := &merged[len(merged)-1]
		if c.High > bar.High {
			bar.High = c.High
		}
		if c.Low < bar.Low {
			bar.Low = c.Low
		}
		bar.Close = c.Close
		bar.Volume += c.Volume
	}

	return merged
}
