package collector

import (
	"context"
	"strconv"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
)

// BybitProvider fetches bars from the Bybit V5 market kline endpoint.
type BybitProvider struct {
	client *bybit.Client
}

// NewBybitProvider creates a Bybit bar provider.
func NewBybitProvider(client *bybit.Client) *BybitProvider {
	return &BybitProvider{client: client}
}

// bybitIntervals maps the scan intervals to Bybit's kline interval codes.
// Minutes are numeric, a day is "D".
var bybitIntervals = map[domain.Interval]bybit.Interval{
	domain.Interval5m:  bybit.Interval("5"),
	domain.Interval15m: bybit.Interval("15"),
	domain.Interval1h:  bybit.Interval("60"),
	domain.Interval4h:  bybit.Interval("240"),
	domain.Interval1d:  bybit.Interval("D"),
}

const bybitMaxPerRequest = 200

// FetchBars fetches up to lookback bars for the symbol. Bybit returns newest
// first, so the result is reversed into chronological order.
func (p *BybitProvider) FetchBars(ctx context.Context, symbol string, interval domain.Interval, lookback int) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lookback <= 0 {
		return nil, errors.New("lookback must be > 0")
	}

	bybitInterval, ok := bybitIntervals[interval]
	if !ok {
		return nil, errors.Errorf("unsupported interval %s", interval)
	}

	limit := lookback
	if limit > bybitMaxPerRequest {
		limit = bybitMaxPerRequest
	}

	result, err := p.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(symbol),
		Interval: bybitInterval,
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch klines from Bybit for %s", symbol)
	}
	if result == nil || len(result.Result.List) == 0 {
		return nil, errors.Errorf("no kline data returned from Bybit for %s", symbol)
	}

	klines := result.Result.List
	bars := make([]domain.Bar, len(klines))
	for i, k := range klines {
		startMs, err := strconv.ParseInt(k.StartTime, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse start time at index %d", i)
		}
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "parse open price at index %d", i)
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, errors.Wrapf(err, "parse high price at index %d", i)
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, errors.Wrapf(err, "parse low price at index %d", i)
		}
		close, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "parse close price at index %d", i)
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "parse volume at index %d", i)
		}

		// newest first from the API; fill the slice back to front
		bars[len(klines)-1-i] = domain.Bar{
			Time:   time.UnixMilli(startMs),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: volume,
		}
	}

	return bars, nil
}
