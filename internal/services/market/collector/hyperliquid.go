package collector

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/vigil/internal/domain"
)

// HyperliquidProvider fetches bars from the Hyperliquid candles snapshot API.
type HyperliquidProvider struct {
	info *hyperliquid.Info
}

// NewHyperliquidProvider creates a Hyperliquid bar provider.
func NewHyperliquidProvider(info *hyperliquid.Info) *HyperliquidProvider {
	return &HyperliquidProvider{info: info}
}

// FetchBars fetches up to lookback bars. Hyperliquid keys markets by the base
// coin, so a quote suffix like "USD" is stripped from the symbol.
func (p *HyperliquidProvider) FetchBars(ctx context.Context, symbol string, interval domain.Interval, lookback int) ([]domain.Bar, error) {
	if p.info == nil {
		return nil, errors.New("hyperliquid info client is nil")
	}
	if lookback <= 0 {
		return nil, errors.New("lookback must be > 0")
	}

	dur := interval.Duration()
	if dur == 0 {
		return nil, errors.Errorf("unsupported interval %s", interval)
	}

	endMs := time.Now().UnixMilli()
	// widen the window by two bars to absorb boundary rounding
	startMs := endMs - (int64(lookback)+2)*dur.Milliseconds()

	coin := strings.ToUpper(strings.TrimSuffix(symbol, "USD"))

	candles, err := p.info.CandlesSnapshot(ctx, coin, string(interval), startMs, endMs)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch candles from Hyperliquid for %s", coin)
	}
	if len(candles) == 0 {
		return nil, errors.Errorf("no candles from Hyperliquid for %s %s", coin, interval)
	}
	if len(candles) > lookback {
		candles = candles[len(candles)-lookback:]
	}

	bars := make([]domain.Bar, 0, len(candles))
	for i, c := range candles {
		open, err := decimal.NewFromString(c.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "parse open price at index %d", i)
		}
		high, err := decimal.NewFromString(c.High)
		if err != nil {
			return nil, errors.Wrapf(err, "parse high price at index %d", i)
		}
		low, err := decimal.NewFromString(c.Low)
		if err != nil {
			return nil, errors.Wrapf(err, "parse low price at index %d", i)
		}
		closePrice, err := decimal.NewFromString(c.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "parse close price at index %d", i)
		}
		volume, err := decimal.NewFromString(c.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "parse volume at index %d", i)
		}

		bars = append(bars, domain.Bar{
			Time:   time.UnixMilli(c.TimeOpen),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	return bars, nil
}
