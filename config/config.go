// Package config loads the application configuration from a yaml file or
// command line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/internal/services/scanner"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds the telegram channel credentials.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// EmailConfig holds the SMTP channel settings.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// WebhookConfig holds the webhook channel settings.
type WebhookConfig struct {
	URL string `yaml:"url"`
}

// WebConfig holds the HTTP API settings.
type WebConfig struct {
	Addr string `yaml:"addr"`
	// Domain enables Let's Encrypt TLS for the given host.
	Domain string `yaml:"domain,omitempty"`
}

// Config is the assembled application configuration.
type Config struct {
	Platform  string
	Watchlist []scanner.Watch

	Capital decimal.Decimal
	Profile domain.RiskProfile

	ScanOpenInterval   time.Duration
	ScanClosedInterval time.Duration
	MarketHours        scanner.MarketHours

	LookbackBars int
	TopSignals   int

	MinStrength  float64
	MinConsensus float64

	Telegram *TelegramConfig
	Email    *EmailConfig
	Webhook  *WebhookConfig

	WALDir string
	Web    WebConfig
}

// ConfigTmp mirrors the yaml layout before validation.
type ConfigTmp struct {
	Platform  string          `yaml:"platform"`
	Watchlist []scanner.Watch `yaml:"watchlist"`

	Capital string `yaml:"capital"`
	Profile string `yaml:"risk_profile,omitempty"`

	ScanOpenInterval   time.Duration `yaml:"scan_open_interval,omitempty"`
	ScanClosedInterval time.Duration `yaml:"scan_closed_interval,omitempty"`

	MarketTimezone string `yaml:"market_timezone,omitempty"`
	MarketOpen     string `yaml:"market_open,omitempty"`
	MarketClose    string `yaml:"market_close,omitempty"`

	LookbackBars int `yaml:"lookback_bars,omitempty"`
	TopSignals   int `yaml:"top_signals,omitempty"`

	MinStrength  float64 `yaml:"min_strength,omitempty"`
	MinConsensus float64 `yaml:"min_consensus,omitempty"`

	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	Email    *EmailConfig    `yaml:"email,omitempty"`
	Webhook  *WebhookConfig  `yaml:"webhook,omitempty"`

	WALDir string    `yaml:"wal_dir,omitempty"`
	Web    WebConfig `yaml:"web,omitempty"`
}

const (
	defaultOpenInterval   = 5 * time.Minute
	defaultClosedInterval = 30 * time.Minute
	defaultLookbackBars   = 100
	defaultTopSignals     = 5
	defaultWebAddr        = ":8080"
)

// Get loads the configuration from the file named by -config, or from the
// remaining flags when no file is given.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	platform := flag.String("platform", "simulate", "market data platform: binance, bybit, hyperliquid or simulate")
	symbols := flag.String("symbols", "BTCUSDT", "comma-separated symbols to scan, example: BTCUSDT,ETHUSDT")
	capital := flag.String("capital", "100000", "trading capital")
	profile := flag.String("profile", string(domain.ProfileModerate), "risk profile: conservative, moderate or aggressive")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	capitalDec, err := decimal.NewFromString(*capital)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --capital provided, --capital=%s: %w", *capital, err)
	}
	riskProfile, err := domain.ParseRiskProfile(*profile)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --profile provided: %w", err)
	}

	var watchlist []scanner.Watch
	for _, s := range strings.Split(*symbols, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		watchlist = append(watchlist, scanner.Watch{Symbol: s, Sector: "default"})
	}
	if len(watchlist) == 0 {
		return Config{}, fmt.Errorf("no symbols provided")
	}

	return Config{
		Platform:           *platform,
		Watchlist:          watchlist,
		Capital:            capitalDec,
		Profile:            riskProfile,
		ScanOpenInterval:   defaultOpenInterval,
		ScanClosedInterval: defaultClosedInterval,
		MarketHours:        scanner.DefaultMarketHours(),
		LookbackBars:       defaultLookbackBars,
		TopSignals:         defaultTopSignals,
		Web:                WebConfig{Addr: defaultWebAddr},
	}, nil
}

func getYaml(path string) (Config, error) {
	var tmp ConfigTmp

	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	return FromTmp(tmp)
}

// FromTmp validates the raw yaml layout and fills in defaults.
func FromTmp(tmp ConfigTmp) (Config, error) {
	if tmp.Platform == "" {
		tmp.Platform = "simulate"
	}
	if len(tmp.Watchlist) == 0 {
		return Config{}, fmt.Errorf("'watchlist' must contain at least one symbol")
	}
	for i, w := range tmp.Watchlist {
		if w.Symbol == "" {
			return Config{}, fmt.Errorf("watchlist entry %d has no symbol", i)
		}
		if w.Sector == "" {
			tmp.Watchlist[i].Sector = "default"
		}
	}

	capital, err := decimal.NewFromString(tmp.Capital)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'capital' param in yaml config: %w", err)
	}
	if capital.LessThanOrEqual(decimal.Zero) {
		return Config{}, fmt.Errorf("'capital' must be greater than zero")
	}

	profile := domain.ProfileModerate
	if tmp.Profile != "" {
		profile, err = domain.ParseRiskProfile(tmp.Profile)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'risk_profile' param in yaml config: %w", err)
		}
	}

	hours, err := parseMarketHours(tmp.MarketTimezone, tmp.MarketOpen, tmp.MarketClose)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Platform:           tmp.Platform,
		Watchlist:          tmp.Watchlist,
		Capital:            capital,
		Profile:            profile,
		ScanOpenInterval:   tmp.ScanOpenInterval,
		ScanClosedInterval: tmp.ScanClosedInterval,
		MarketHours:        hours,
		LookbackBars:       tmp.LookbackBars,
		TopSignals:         tmp.TopSignals,
		MinStrength:        tmp.MinStrength,
		MinConsensus:       tmp.MinConsensus,
		Telegram:           tmp.Telegram,
		Email:              tmp.Email,
		Webhook:            tmp.Webhook,
		WALDir:             tmp.WALDir,
		Web:                tmp.Web,
	}

	if cfg.ScanOpenInterval <= 0 {
		cfg.ScanOpenInterval = defaultOpenInterval
	}
	if cfg.ScanClosedInterval <= 0 {
		cfg.ScanClosedInterval = defaultClosedInterval
	}
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = defaultLookbackBars
	}
	if cfg.TopSignals <= 0 {
		cfg.TopSignals = defaultTopSignals
	}
	if cfg.Web.Addr == "" {
		cfg.Web.Addr = defaultWebAddr
	}

	return cfg, nil
}

// parseMarketHours interprets "HH:MM" session bounds in the given timezone.
// Empty open/close means an always-open market.
func parseMarketHours(timezone, open, close string) (scanner.MarketHours, error) {
	if open == "" && close == "" {
		return scanner.DefaultMarketHours(), nil
	}
	if open == "" || close == "" {
		return scanner.MarketHours{}, fmt.Errorf("'market_open' and 'market_close' must both be set")
	}

	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return scanner.MarketHours{}, fmt.Errorf("incorrect 'market_timezone' param in yaml config: %w", err)
		}
	}

	openHour, openMin, err := parseClock(open)
	if err != nil {
		return scanner.MarketHours{}, fmt.Errorf("incorrect 'market_open' param in yaml config: %w", err)
	}
	closeHour, closeMin, err := parseClock(close)
	if err != nil {
		return scanner.MarketHours{}, fmt.Errorf("incorrect 'market_close' param in yaml config: %w", err)
	}

	return scanner.MarketHours{
		Location:  loc,
		OpenHour:  openHour,
		OpenMin:   openMin,
		CloseHour: closeHour,
		CloseMin:  closeMin,
	}, nil
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock value out of range: %q", s)
	}
	return hour, minute, nil
}
