package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/market"
)

func testClient(url string) *Client {
	return NewClient(config.PriceFeedConfig{
		BaseURL:     url,
		Product:     "BTC-USD",
		CacheTTL:    time.Second,
		HTTPTimeout: 2 * time.Second,
	}, nil, zerolog.Nop())
}

func TestCurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/prices/BTC-USD/spot" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"amount":"90123.45","base":"BTC","currency":"USD"}}`))
	}))
	defer srv.Close()

	price, err := testClient(srv.URL).CurrentPrice(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if price != 90123.45 {
		t.Errorf("Expected 90123.45, got %f", price)
	}
}

func TestCurrentPriceBadAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"amount":"not-a-number"}}`))
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).CurrentPrice(context.Background()); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestCurrentPriceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).CurrentPrice(context.Background()); err == nil {
		t.Fatal("Expected error on 502")
	}
}

func TestCandlesSortedOldestFirst(t *testing.T) {
	// Coinbase returns newest first.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candles":[
			{"start":"1700000600","low":"99","high":"103","open":"100","close":"102","volume":"5"},
			{"start":"1700000300","low":"98","high":"101","open":"99","close":"100","volume":"3"},
			{"start":"1700000000","low":"97","high":"100","open":"98","close":"99","volume":"2"}
		]}`))
	}))
	defer srv.Close()

	candles, err := testClient(srv.URL).Candles(context.Background(), market.Timeframe5M,
		time.Unix(1700000000, 0), time.Unix(1700000900, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 3 {
		t.Fatalf("Expected 3 candles, got %d", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			t.Errorf("Candles not sorted ascending at %d", i)
		}
	}
	if candles[0].Close != 99 {
		t.Errorf("Expected oldest close 99, got %f", candles[0].Close)
	}
}

func TestMergePairs(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := []market.Candle{
		{Timestamp: base, Open: 100, High: 105, Low: 99, Close: 103, Volume: 10},
		{Timestamp: base.Add(2 * time.Hour), Open: 103, High: 108, Low: 102, Close: 107, Volume: 12},
		{Timestamp: base.Add(4 * time.Hour), Open: 107, High: 110, Low: 106, Close: 109, Volume: 4},
	}

	merged := mergePairs(candles, 4*time.Hour)
	if len(merged) != 2 {
		t.Fatalf("Expected 2 bars, got %d", len(merged))
	}

	bar := merged[0]
	if bar.Open != 100 || bar.High != 108 || bar.Low != 99 || bar.Close != 107 || bar.Volume != 22 {
		t.Errorf("Bad merged bar: %+v", bar)
	}
	if !bar.Timestamp.Equal(base) {
		t.Errorf("Bar not aligned on span boundary: %v", bar.Timestamp)
	}

	// Trailing partial bar survives.
	if merged[1].Close != 109 {
		t.Errorf("Expected partial bar close 109, got %f", merged[1].Close)
	}
}
