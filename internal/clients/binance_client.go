// Package clients constructs the exchange SDK clients backing the market data
// providers. Kline endpoints are public, so no API keys are required for
// Binance and Bybit.
package clients

import (
	"github.com/adshao/go-binance/v2"
)

func NewBinanceClient() *binance.Client {
	return binance.NewClient("", "")
}
