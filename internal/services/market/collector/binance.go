package collector

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
)

// BinanceProvider fetches bars from the Binance klines endpoint.
type BinanceProvider struct {
	client *binance.Client
}

// NewBinanceProvider creates a Binance bar provider.
func NewBinanceProvider(client *binance.Client) *BinanceProvider {
	return &BinanceProvider{client: client}
}

// FetchBars fetches up to lookback bars for the symbol.
func (p *BinanceProvider) FetchBars(ctx context.Context, symbol string, interval domain.Interval, lookback int) ([]domain.Bar, error) {
	klines, err := p.client.NewKlinesService().
		Symbol(symbol).
		Interval(string(interval)).
		Limit(lookback).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch klines from Binance for %s", symbol)
	}

	bars := make([]domain.Bar, len(klines))
	for i, k := range klines {
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

		bars[i] = domain.Bar{
			Time:   time.Unix(0, k.OpenTime*int64(time.Millisecond)),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: volume,
		}
	}

	return bars, nil
}
