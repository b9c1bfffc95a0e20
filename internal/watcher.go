// Package internal assembles the pipeline: market data collection, consensus
// analysis, risk sizing and alert delivery.
package internal

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vigil/config"
	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/internal/services/alert"
	"github.com/vadiminshakov/vigil/internal/services/alert/channels"
	"github.com/vadiminshakov/vigil/internal/services/analyzer"
	"github.com/vadiminshakov/vigil/internal/services/consensus"
	"github.com/vadiminshakov/vigil/internal/services/market/collector"
	"github.com/vadiminshakov/vigil/internal/services/risk"
	"github.com/vadiminshakov/vigil/internal/services/scanner"
	"github.com/vadiminshakov/vigil/internal/storage/trades"
	"github.com/vadiminshakov/vigil/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Watcher is the assembled application: one scan loop, one alert pipeline and
// the HTTP API over both.
type Watcher struct {
	cfg    config.Config
	logger *zap.Logger

	scanner    *scanner.Scanner
	dispatcher *alert.Dispatcher
	server     *web.Server
	trades     *trades.WALStore
}

// NewWatcher wires the pipeline from configuration.
func NewWatcher(cfg config.Config, logger *zap.Logger) (*Watcher, error) {
	provider, err := newBarProvider(cfg.Platform)
	if err != nil {
		return nil, errors.Wrap(err, "create market data provider")
	}

	market := collector.NewCollector(provider, cfg.LookbackBars, logger)
	scorer := analyzer.New(market, analyzer.DefaultThresholds(), logger)
	engine := consensus.NewEngine(scorer, consensus.DefaultConfig(), logger)

	tradeStore, err := trades.NewWALStore(cfg.WALDir)
	if err != nil {
		return nil, errors.Wrap(err, "open trade store")
	}

	ledger, err := risk.NewLedger(cfg.Capital, cfg.Profile, tradeStore, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create risk ledger")
	}

	stats := alert.NewStats()
	gate := alert.NewGate(gateFilters(cfg), stats, logger)

	routes, err := buildRoutes(cfg, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build alert routes")
	}
	// the web SSE stream receives every alert alongside the configured channels
	alertStream := web.NewAlertStream()
	routes = append(routes, alert.Route{Channel: alertStream})
	dispatcher := alert.NewDispatcher(routes, stats, logger)

	scanCfg := scanner.DefaultConfig()
	scanCfg.Watchlist = cfg.Watchlist
	scanCfg.OpenInterval = cfg.ScanOpenInterval
	scanCfg.ClosedInterval = cfg.ScanClosedInterval
	scanCfg.Hours = cfg.MarketHours
	scanCfg.TopSignals = cfg.TopSignals
	scan := scanner.New(scanCfg, engine, ledger, gate, dispatcher, market, logger)

	server := web.NewServer(cfg.Web.Addr, engine, ledger, gate, stats, dispatcher, tradeStore, logger)
	server.Domain = cfg.Web.Domain
	server.Alerts = alertStream

	return &Watcher{
		cfg:        cfg,
		logger:     logger,
		scanner:    scan,
		dispatcher: dispatcher,
		server:     server,
		trades:     tradeStore,
	}, nil
}

// Run executes the watcher until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher starting",
		zap.String("platform", w.cfg.Platform),
		zap.Int("symbols", len(w.cfg.Watchlist)),
		zap.String("profile", string(w.cfg.Profile)),
		zap.String("addr", w.cfg.Web.Addr))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.dispatcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		w.scanner.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return w.server.Start(ctx)
	})

	err := g.Wait()
	if closeErr := w.trades.Close(); closeErr != nil {
		w.logger.Warn("trade store close failed", zap.Error(closeErr))
	}
	return err
}

// gateFilters applies the configured threshold overrides to the stock filters.
func gateFilters(cfg config.Config) alert.Filters {
	filters := alert.DefaultFilters()
	if cfg.MinStrength <= 0 && cfg.MinConsensus <= 0 {
		return filters
	}

	threshold := filters.Thresholds[domain.AlertCategorySignal]
	if cfg.MinStrength > 0 {
		threshold.MinStrength = cfg.MinStrength
	}
	if cfg.MinConsensus > 0 {
		threshold.MinConsensus = cfg.MinConsensus
	}
	filters.Thresholds[domain.AlertCategorySignal] = threshold
	return filters
}

// buildRoutes creates one delivery route per configured channel. Email is
// reserved for high-priority alerts; with nothing configured every alert goes
// to the application log.
func buildRoutes(cfg config.Config, logger *zap.Logger) ([]alert.Route, error) {
	var routes []alert.Route

	if cfg.Telegram != nil {
		tg, err := channels.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		routes = append(routes, alert.Route{Channel: tg})
	}
	if cfg.Email != nil {
		email, err := channels.NewEmail(cfg.Email.Host, cfg.Email.Port,
			cfg.Email.Username, cfg.Email.Password, cfg.Email.From, cfg.Email.To)
		if err != nil {
			return nil, err
		}
		routes = append(routes, alert.Route{Channel: email, MinPriority: domain.PriorityHigh})
	}
	if cfg.Webhook != nil {
		webhook, err := channels.NewWebhook(cfg.Webhook.URL)
		if err != nil {
			return nil, err
		}
		routes = append(routes, alert.Route{Channel: webhook})
	}

	if len(routes) == 0 {
		logger.Warn("no notification channels configured, alerts go to the log only")
		routes = append(routes, alert.Route{Channel: channels.NewLog(logger)})
	}
	return routes, nil
}
