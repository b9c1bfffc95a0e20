package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/internal/services/alert"
	"github.com/vadiminshakov/vigil/internal/storage/trades"
	"go.uber.org/zap"
)

type fakeConsensus struct {
	cached     map[string]domain.ConsensusResult
	analyzed   domain.ConsensusResult
	analyzeErr error
	analyzes   int
	cleared    bool
}

func (f *fakeConsensus) Analyze(_ context.Context, symbol string) (domain.ConsensusResult, error) {
	f.analyzes++
	if f.analyzeErr != nil {
		return domain.ConsensusResult{}, f.analyzeErr
	}
	result := f.analyzed
	result.Symbol = symbol
	return result, nil
}

func (f *fakeConsensus) Cached(symbol string) (domain.ConsensusResult, bool) {
	result, ok := f.cached[symbol]
	return result, ok
}

func (f *fakeConsensus) ClearCache() { f.cleared = true }

type fakePortfolio struct {
	profile  domain.RiskProfile
	closed   []string
	closeErr error
}

func (f *fakePortfolio) Summary() domain.PortfolioSummary {
	return domain.PortfolioSummary{
		Capital:       decimal.NewFromInt(100000),
		Profile:       f.profile,
		OpenPositions: 1,
	}
}

func (f *fakePortfolio) Positions() []domain.Position {
	return []domain.Position{{
		Symbol:     "BTCUSDT",
		Sector:     "crypto",
		Shares:     10,
		EntryPrice: decimal.NewFromInt(100),
	}}
}

func (f *fakePortfolio) SetProfile(profile domain.RiskProfile) { f.profile = profile }

func (f *fakePortfolio) ClosePosition(symbol string, exitPrice decimal.Decimal, reason domain.CloseReason) (*domain.Position, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	f.closed = append(f.closed, symbol)
	return &domain.Position{
		Symbol:      symbol,
		ExitPrice:   exitPrice,
		CloseReason: reason,
	}, nil
}

type fakeGate struct {
	filters alert.Filters
	cleared bool
}

func (f *fakeGate) Filters() alert.Filters              { return f.filters }
func (f *fakeGate) UpdateFilters(filters alert.Filters) { f.filters = filters }
func (f *fakeGate) ClearCooldowns()                     { f.cleared = true }

type fakeStats struct {
	snapshot domain.AlertStatistics
}

func (f *fakeStats) Snapshot() domain.AlertStatistics { return f.snapshot }

type fakeDelivery struct {
	failed []alert.FailedDelivery
}

func (f *fakeDelivery) FailedDeliveries() []alert.FailedDelivery { return f.failed }

type fakeTrades struct {
	entries []trades.Entry
}

func (f *fakeTrades) RecordsAfter(index uint64) ([]trades.Entry, error) {
	var out []trades.Entry
	for _, e := range f.entries {
		if e.Index > index {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeTrades) Stats() (trades.Stats, error) {
	return trades.Stats{Total: len(f.entries)}, nil
}

type serverFixture struct {
	server    *httptest.Server
	consensus *fakeConsensus
	portfolio *fakePortfolio
	gate      *fakeGate
	trades    *fakeTrades
	alerts    *AlertStream
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	consensus := &fakeConsensus{cached: make(map[string]domain.ConsensusResult)}
	portfolio := &fakePortfolio{profile: domain.ProfileModerate}
	gate := &fakeGate{filters: alert.DefaultFilters()}
	tradeStore := &fakeTrades{}
	alerts := NewAlertStream()

	s := NewServer(":0", consensus, portfolio, gate,
		&fakeStats{snapshot: domain.AlertStatistics{TotalGenerated: 7}},
		&fakeDelivery{}, tradeStore, zap.NewNop())
	s.Alerts = alerts

	ts := httptest.NewServer(s.mux())
	t.Cleanup(ts.Close)

	return &serverFixture{
		server:    ts,
		consensus: consensus,
		portfolio: portfolio,
		gate:      gate,
		trades:    tradeStore,
		alerts:    alerts,
	}
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestConsensus_ServedFromCache(t *testing.T) {
	f := newServerFixture(t)
	f.consensus.cached["BTCUSDT"] = domain.ConsensusResult{Symbol: "BTCUSDT", ConsensusScore: 85}

	var result domain.ConsensusResult
	resp := getJSON(t, f.server.URL+"/consensus?symbol=BTCUSDT", &result)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BTCUSDT", result.Symbol)
	assert.Equal(t, float64(85), result.ConsensusScore)
	assert.Zero(t, f.consensus.analyzes)
}

func TestConsensus_AnalyzesOnCacheMiss(t *testing.T) {
	f := newServerFixture(t)

	var result domain.ConsensusResult
	resp := getJSON(t, f.server.URL+"/consensus?symbol=ETHUSDT", &result)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ETHUSDT", result.Symbol)
	assert.Equal(t, 1, f.consensus.analyzes)
}

func TestConsensus_MissingSymbol(t *testing.T) {
	f := newServerFixture(t)

	resp := getJSON(t, f.server.URL+"/consensus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConsensus_AnalyzeError(t *testing.T) {
	f := newServerFixture(t)
	f.consensus.analyzeErr = errors.New("provider down")

	resp := getJSON(t, f.server.URL+"/consensus?symbol=ETHUSDT", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestPortfolio(t *testing.T) {
	f := newServerFixture(t)

	var out struct {
		Summary   domain.PortfolioSummary `json:"summary"`
		Positions []domain.Position       `json:"positions"`
	}
	resp := getJSON(t, f.server.URL+"/portfolio", &out)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.ProfileModerate, out.Summary.Profile)
	require.Len(t, out.Positions, 1)
	assert.Equal(t, "BTCUSDT", out.Positions[0].Symbol)
}

func TestAlertStats(t *testing.T) {
	f := newServerFixture(t)

	var stats domain.AlertStatistics
	resp := getJSON(t, f.server.URL+"/alerts/stats", &stats)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(7), stats.TotalGenerated)
}

func TestFailedDeliveries_EmptyIsArray(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.server.URL + "/alerts/failed")
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestTradeStats(t *testing.T) {
	f := newServerFixture(t)
	f.trades.entries = []trades.Entry{
		{Index: 1, Record: domain.TradeRecord{Symbol: "BTCUSDT"}},
		{Index: 2, Record: domain.TradeRecord{Symbol: "ETHUSDT"}},
	}

	var stats trades.Stats
	resp := getJSON(t, f.server.URL+"/trades/stats", &stats)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, stats.Total)
}

func TestFilters_UpdateAndReadBack(t *testing.T) {
	f := newServerFixture(t)

	filters := alert.DefaultFilters()
	filters.BlockedSymbols = []string{"DOGEUSDT"}
	resp := postJSON(t, f.server.URL+"/admin/filters", filters)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got alert.Filters
	getJSON(t, f.server.URL+"/admin/filters", &got)
	assert.Equal(t, []string{"DOGEUSDT"}, got.BlockedSymbols)
}

func TestFilters_InvalidPayload(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Post(f.server.URL+"/admin/filters", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProfile_Switch(t *testing.T) {
	f := newServerFixture(t)

	resp := postJSON(t, f.server.URL+"/admin/profile", map[string]string{"profile": "aggressive"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.ProfileAggressive, f.portfolio.profile)
}

func TestProfile_Unknown(t *testing.T) {
	f := newServerFixture(t)

	resp := postJSON(t, f.server.URL+"/admin/profile", map[string]string{"profile": "yolo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.ProfileModerate, f.portfolio.profile)
}

func TestClearCooldowns(t *testing.T) {
	f := newServerFixture(t)

	resp := postJSON(t, f.server.URL+"/admin/cooldowns/clear", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, f.gate.cleared)
}

func TestClearCache(t *testing.T) {
	f := newServerFixture(t)

	resp := postJSON(t, f.server.URL+"/admin/cache/clear", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, f.consensus.cleared)
}

func TestClosePosition(t *testing.T) {
	f := newServerFixture(t)

	resp := postJSON(t, f.server.URL+"/admin/positions/close",
		map[string]string{"symbol": "BTCUSDT", "price": "105.5"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"BTCUSDT"}, f.portfolio.closed)
}

func TestClosePosition_UnknownSymbol(t *testing.T) {
	f := newServerFixture(t)
	f.portfolio.closeErr = errors.New("no open position for XRPUSDT")

	resp := postJSON(t, f.server.URL+"/admin/positions/close",
		map[string]string{"symbol": "XRPUSDT", "price": "1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClosePosition_BadPrice(t *testing.T) {
	f := newServerFixture(t)

	resp := postJSON(t, f.server.URL+"/admin/positions/close",
		map[string]string{"symbol": "BTCUSDT", "price": "not-a-number"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.portfolio.closed)
}

func TestAdminEndpoints_RejectGet(t *testing.T) {
	f := newServerFixture(t)

	for _, path := range []string{"/admin/profile", "/admin/cooldowns/clear", "/admin/positions/close"} {
		resp := getJSON(t, f.server.URL+path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
}

func TestTradeStream_SendsStoredTrades(t *testing.T) {
	f := newServerFixture(t)
	f.trades.entries = []trades.Entry{
		{Index: 1, Record: domain.TradeRecord{Symbol: "BTCUSDT", RealizedPnL: decimal.NewFromInt(200)}},
		{Index: 2, Record: domain.TradeRecord{Symbol: "ETHUSDT", RealizedPnL: decimal.NewFromInt(-50)}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/trades/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events, ids []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(events) < 2 {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		}
		if strings.HasPrefix(line, "data: ") {
			events = append(events, strings.TrimPrefix(line, "data: "))
		}
	}

	require.Len(t, events, 2)
	assert.Equal(t, []string{"1", "2"}, ids)
	assert.Contains(t, events[0], "BTCUSDT")
	assert.Contains(t, events[1], "ETHUSDT")
}

func TestTradeStream_ResumesFromLastEventID(t *testing.T) {
	f := newServerFixture(t)
	f.trades.entries = []trades.Entry{
		{Index: 1, Record: domain.TradeRecord{Symbol: "BTCUSDT"}},
		{Index: 2, Record: domain.TradeRecord{Symbol: "ETHUSDT"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/trades/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var first string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			first = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	assert.Contains(t, first, "ETHUSDT")
	assert.NotContains(t, first, "BTCUSDT")
}

func TestAlertStream_BroadcastsDispatchedAlerts(t *testing.T) {
	f := newServerFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/alerts/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// keep sending until the subscriber registered by the handler picks it up
	candidate := domain.AlertCandidate{ID: "a1", Symbol: "BTCUSDT", Category: domain.AlertCategorySignal}
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = f.alerts.Send(ctx, candidate)
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	assert.Contains(t, data, "BTCUSDT")
	assert.Contains(t, data, string(domain.AlertCategorySignal))
}

func TestAlertStream_SlowSubscriberDoesNotBlockSend(t *testing.T) {
	stream := NewAlertStream()
	ch := stream.subscribe()
	defer stream.unsubscribe(ch)

	// fill the buffer past capacity; Send must never block
	for i := 0; i < alertStreamBuffer+5; i++ {
		err := stream.Send(context.Background(), domain.AlertCandidate{ID: "x"})
		require.NoError(t, err)
	}
	assert.Len(t, ch, alertStreamBuffer)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, uint64(42), parseLastEventID("42", ""))
	assert.Equal(t, uint64(7), parseLastEventID("", "7"))
	assert.Equal(t, uint64(42), parseLastEventID("42", "7"))
	assert.Equal(t, uint64(0), parseLastEventID("nope", ""))
	assert.Equal(t, uint64(0), parseLastEventID("", ""))
}
