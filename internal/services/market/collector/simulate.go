package collector

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
)

// SimulateProvider generates deterministic synthetic bars for dry runs. The
// series is a sine wave over a symbol-seeded base price, so scans produce
// stable, repeatable signals without touching a real exchange.
type SimulateProvider struct {
	now func() time.Time
}

// NewSimulateProvider creates a synthetic bar provider.
func NewSimulateProvider() *SimulateProvider {
	return &SimulateProvider{now: time.Now}
}

func (p *SimulateProvider) FetchBars(ctx context.Context, symbol string, interval domain.Interval, lookback int) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New32a()
	h.Write([]byte(symbol))
	seed := float64(h.Sum32() % 1000)

	base := 100 + seed
	dur := interval.Duration()
	end := p.now().Truncate(dur)

	bars := make([]domain.Bar, lookback)
	for i := 0; i < lookback; i++ {
		t := end.Add(-time.Duration(lookback-1-i) * dur)
		phase := float64(t.Unix()) / float64(dur/time.Second) / 20

		mid := base * (1 + 0.03*math.Sin(phase))
		spread := base * 0.005
		open := mid - spread/2
		close := mid + spread/2
		volume := 1000 + 500*math.Abs(math.Sin(phase*3))

		bars[i] = domain.Bar{
			Time:   t,
			Open:   decimal.NewFromFloat(open),
			High:   decimal.NewFromFloat(mid + spread),
			Low:    decimal.NewFromFloat(mid - spread),
			Close:  decimal.NewFromFloat(close),
			Volume: decimal.NewFromFloat(volume),
		}
	}

	return bars, nil
}
