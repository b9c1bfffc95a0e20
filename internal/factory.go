package internal

import (
	"os"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vigil/internal/clients"
	"github.com/vadiminshakov/vigil/internal/services/market/collector"
)

const defaultHyperliquidAPIURL = "https://api.hyperliquid.xyz"

// newBarProvider is the single point of truth for dispatching to
// platform-specific market data providers.
func newBarProvider(platform string) (collector.BarProvider, error) {
	switch platform {
	case "binance":
		return collector.NewBinanceProvider(clients.NewBinanceClient()), nil
	case "bybit":
		return collector.NewBybitProvider(clients.NewBybitClient()), nil
	case "hyperliquid":
		key := os.Getenv("HYPERLIQUID_PRIVATE_KEY")
		if key == "" {
			return nil, errors.New("HYPERLIQUID_PRIVATE_KEY environment variable must be set")
		}
		baseURL := os.Getenv("HYPERLIQUID_API_URL")
		if baseURL == "" {
			baseURL = defaultHyperliquidAPIURL
		}
		info, err := clients.NewHyperliquidInfo(key, baseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create hyperliquid client")
		}
		return collector.NewHyperliquidProvider(info), nil
	case "simulate":
		return collector.NewSimulateProvider(), nil
	default:
		return nil, errors.Errorf("unsupported platform %q", platform)
	}
}
