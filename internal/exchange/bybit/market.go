package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Price returns the last traded price for symbol.
func (c *Client) Price(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)

	var resp bybitResponse[struct {
		List []tickerItem `json:"list"`
	}]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, nil, false, &resp); err != nil {
		return 0, fmt.Errorf("bybit: price %s: %w", symbol, err)
	}
	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("bybit: price %s: %w", symbol, domain.ErrNotFound)
	}

	price, err := strconv.ParseFloat(resp.Result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit: price %s: parse %q: %w", symbol, resp.Result.List[0].LastPrice, err)
	}
	return price, nil
}

// Candles returns up to limit most recent bars for the interval (Bybit
// interval strings: "1", "5", "15", ...). Bars come back oldest first.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var resp bybitResponse[klineResult]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/kline", params, nil, false, &resp); err != nil {
		return nil, fmt.Errorf("bybit: candles %s/%s: %w", symbol, interval, err)
	}

	// Bybit returns newest first; reverse into chronological order.
	out := make([]domain.Candle, 0, len(resp.Result.List))
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		row := resp.Result.List[i]
		if len(row) < 6 {
			continue
		}
		tsMs, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		cls, _ := strconv.ParseFloat(row[4], 64)
		vol, _ := strconv.ParseFloat(row[5], 64)
		out = append(out, domain.Candle{
			OpenTime: time.UnixMilli(tsMs),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    cls,
			Volume:   vol,
		})
	}
	return out, nil
}

// TopSymbols returns the n highest-turnover USDT perpetuals above minVolume,
// the default scan universe when no static symbol list is configured.
func (c *Client) TopSymbols(ctx context.Context, n int, minVolume float64) ([]string, error) {
	params := url.Values{}
	params.Set("category", category)

	var resp bybitResponse[struct {
		List []tickerItem `json:"list"`
	}]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, nil, false, &resp); err != nil {
		return nil, fmt.Errorf("bybit: top symbols: %w", err)
	}

	type ranked struct {
		symbol   string
		turnover float64
	}
	candidates := make([]ranked, 0, len(resp.Result.List))
	for _, t := range resp.Result.List {
		turnover, err := strconv.ParseFloat(t.Turnover24, 64)
		if err != nil || turnover < minVolume {
			continue
		}
		candidates = append(candidates, ranked{symbol: t.Symbol, turnover: turnover})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].turnover > candidates[j].turnover })

	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]string, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, c.symbol)
	}
	return out, nil
}
