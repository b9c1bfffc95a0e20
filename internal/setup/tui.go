package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/config"
	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/internal/services/scanner"
	"gopkg.in/yaml.v3"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard.
func RunTUI() error {
	var (
		platform     string
		symbolsStr   string
		capitalStr   string
		profile      string
		openInterval string
		telegram     bool
		botToken     string
		chatID       string
		confirm      bool
	)

	// defaults
	capitalStr = "100000"
	profile = string(domain.ProfileModerate)
	openInterval = "5m"

	// step 1: welcome + platform
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("VIGIL CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's get your market watcher running.\n"))

	fmt.Println(stepStyle.Render("STEP 1: PLATFORM"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Market Data Platform").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
					huh.NewOption("Hyperliquid", "hyperliquid"),
					huh.NewOption("Simulation", "simulate"),
				).
				Value(&platform),
		),
	).Run()
	if err != nil {
		return err
	}

	// watchlist
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("VIGIL CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: WATCHLIST"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Symbols").
				Description("Comma-separated, optionally with sector (e.g. BTCUSDT:crypto,ETHUSDT)").
				Value(&symbolsStr).
				Validate(func(s string) error {
					if len(parseWatchlist(s)) == 0 {
						return fmt.Errorf("at least one symbol is required")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// capital and risk profile
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("VIGIL CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: RISK"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Capital").
				Description("Account size used for position sizing").
				Value(&capitalStr).
				Validate(validateCapital),
			huh.NewSelect[string]().
				Title("Risk Profile").
				Options(
					huh.NewOption("Conservative", string(domain.ProfileConservative)),
					huh.NewOption("Moderate", string(domain.ProfileModerate)),
					huh.NewOption("Aggressive", string(domain.ProfileAggressive)),
				).
				Value(&profile),
		),
	).Run()
	if err != nil {
		return err
	}

	// timing
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("VIGIL CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: TIMING"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Scan Interval").
				Description("Duration string (e.g. 1m, 5m, 15m)").
				Value(&openInterval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// notification channel
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("VIGIL CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 5: NOTIFICATIONS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Send alerts to Telegram?").
				Value(&telegram),
		),
	).Run()
	if err != nil {
		return err
	}

	if telegram {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Bot Token").
					Value(&botToken).
					EchoMode(huh.EchoModePassword).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("bot token cannot be empty")
						}
						return nil
					}),
				huh.NewInput().
					Title("Chat ID").
					Value(&chatID).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("chat id cannot be empty")
						}
						return nil
					}),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("VIGIL CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	watchlist := parseWatchlist(symbolsStr)
	symbols := make([]string, 0, len(watchlist))
	for _, w := range watchlist {
		symbols = append(symbols, w.Symbol)
	}
	summary := fmt.Sprintf(
		"Platform: %s\nSymbols: %s\nCapital: %s\nProfile: %s\nInterval: %s\nTelegram: %v\n",
		platform, strings.Join(symbols, ", "), capitalStr, profile, openInterval, telegram,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	interval, _ := time.ParseDuration(openInterval)

	cfgTmp := config.ConfigTmp{
		Platform:         platform,
		Watchlist:        watchlist,
		Capital:          capitalStr,
		Profile:          profile,
		ScanOpenInterval: interval,
	}
	if telegram {
		cfgTmp.Telegram = &config.TelegramConfig{
			BotToken: botToken,
			ChatID:   chatID,
		}
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting watcher...", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

// parseWatchlist splits "SYM:sector,SYM" input into watch entries.
func parseWatchlist(s string) []scanner.Watch {
	var watchlist []scanner.Watch
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbol, sector, found := strings.Cut(part, ":")
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		sector = strings.TrimSpace(sector)
		if !found || sector == "" {
			sector = "default"
		}
		watchlist = append(watchlist, scanner.Watch{
			Symbol: strings.ToUpper(symbol),
			Sector: sector,
		})
	}
	return watchlist
}

func validateCapital(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}
