// Package web exposes the HTTP API: read endpoints over the pipeline state,
// admin endpoints for runtime tuning and an SSE stream of closed trades.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/internal/services/alert"
	"github.com/vadiminshakov/vigil/internal/storage/trades"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const tradePollInterval = 2 * time.Second

type consensusSource interface {
	Analyze(ctx context.Context, symbol string) (domain.ConsensusResult, error)
	Cached(symbol string) (domain.ConsensusResult, bool)
	ClearCache()
}

type portfolio interface {
	Summary() domain.PortfolioSummary
	Positions() []domain.Position
	SetProfile(profile domain.RiskProfile)
	ClosePosition(symbol string, exitPrice decimal.Decimal, reason domain.CloseReason) (*domain.Position, error)
}

type alertGate interface {
	Filters() alert.Filters
	UpdateFilters(filters alert.Filters)
	ClearCooldowns()
}

type alertStats interface {
	Snapshot() domain.AlertStatistics
}

type deliveryLog interface {
	FailedDeliveries() []alert.FailedDelivery
}

type tradeReader interface {
	RecordsAfter(index uint64) ([]trades.Entry, error)
	Stats() (trades.Stats, error)
}

// Server exposes the HTTP API over the assembled pipeline.
type Server struct {
	Addr string
	// Domain enables automatic TLS via ACME when set.
	Domain string

	Consensus consensusSource
	Portfolio portfolio
	Gate      alertGate
	Stats     alertStats
	Delivery  deliveryLog
	Trades    tradeReader

	// Alerts, when set, feeds the live alert SSE endpoint.
	Alerts *AlertStream

	logger *zap.Logger
}

// NewServer creates a new web server instance.
func NewServer(addr string, consensus consensusSource, portfolio portfolio, gate alertGate,
	stats alertStats, delivery deliveryLog, trades tradeReader, logger *zap.Logger) *Server {
	return &Server{
		Addr:      addr,
		Consensus: consensus,
		Portfolio: portfolio,
		Gate:      gate,
		Stats:     stats,
		Delivery:  delivery,
		Trades:    trades,
		logger:    logger,
	}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/consensus", s.handleConsensus)
	mux.HandleFunc("/portfolio", s.handlePortfolio)
	mux.HandleFunc("/alerts/stats", s.handleAlertStats)
	mux.HandleFunc("/alerts/failed", s.handleFailedDeliveries)
	mux.HandleFunc("/alerts/stream", s.handleAlertStream)
	mux.HandleFunc("/trades/stats", s.handleTradeStats)
	mux.HandleFunc("/trades/stream", s.handleTradeStream)
	mux.HandleFunc("/admin/filters", s.handleFilters)
	mux.HandleFunc("/admin/profile", s.handleProfile)
	mux.HandleFunc("/admin/cooldowns/clear", s.handleClearCooldowns)
	mux.HandleFunc("/admin/cache/clear", s.handleClearCache)
	mux.HandleFunc("/admin/positions/close", s.handleClosePosition)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled. A non-empty Domain switches to HTTPS with automatic certificates.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.Domain != "" {
		return s.startWithAutoTLS(ctx)
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// startWithAutoTLS serves HTTPS with ACME certificates plus a plain HTTP
// server on port 80 for the HTTP-01 challenge.
func (s *Server) startWithAutoTLS(ctx context.Context) error {
	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(s.Domain),
		Cache:      autocert.DirCache("cert-cache"),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 5 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		_ = httpsSrv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme challenge server failed", zap.Error(err))
		}
	}()

	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		http.Error(w, "symbol query parameter is required", http.StatusBadRequest)
		return
	}

	if result, ok := s.Consensus.Cached(symbol); ok {
		s.writeJSON(w, http.StatusOK, result)
		return
	}

	result, err := s.Consensus.Analyze(r.Context(), symbol)
	if err != nil {
		s.logger.Warn("consensus request failed",
			zap.String("symbol", symbol),
			zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Summary   domain.PortfolioSummary `json:"summary"`
		Positions []domain.Position       `json:"positions"`
	}{
		Summary:   s.Portfolio.Summary(),
		Positions: s.Portfolio.Positions(),
	})
}

func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.Stats.Snapshot())
}

func (s *Server) handleFailedDeliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	failed := s.Delivery.FailedDeliveries()
	if failed == nil {
		failed = []alert.FailedDelivery{}
	}
	s.writeJSON(w, http.StatusOK, failed)
}

func (s *Server) handleTradeStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Trades == nil {
		http.Error(w, "trade store not available", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.Trades.Stats()
	if err != nil {
		s.logger.Warn("trade stats request failed", zap.Error(err))
		http.Error(w, "failed to load trade stats", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleFilters returns the active gate configuration on GET and replaces it
// on POST.
func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.Gate.Filters())
	case http.MethodPost:
		var filters alert.Filters
		if err := json.NewDecoder(r.Body).Decode(&filters); err != nil {
			http.Error(w, "invalid filters payload: "+err.Error(), http.StatusBadRequest)
			return
		}
		s.Gate.UpdateFilters(filters)
		s.logger.Info("alert filters updated over http")
		s.writeJSON(w, http.StatusOK, s.Gate.Filters())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid profile payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	profile, err := domain.ParseRiskProfile(req.Profile)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.Portfolio.SetProfile(profile)
	s.logger.Info("risk profile switched over http", zap.String("profile", string(profile)))
	s.writeJSON(w, http.StatusOK, s.Portfolio.Summary())
}

func (s *Server) handleClearCooldowns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Gate.ClearCooldowns()
	s.logger.Info("alert cooldowns cleared over http")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Consensus.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid close payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		http.Error(w, "invalid price: "+err.Error(), http.StatusBadRequest)
		return
	}

	position, err := s.Portfolio.ClosePosition(req.Symbol, price, domain.CloseReasonManual)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.logger.Info("position closed over http",
		zap.String("symbol", req.Symbol),
		zap.String("exit_price", price.String()))
	s.writeJSON(w, http.StatusOK, position)
}

func (s *Server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	if s.Trades == nil {
		http.Error(w, "trade store not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat every 30s so proxies keep connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(tradePollInterval)
	defer pollTicker.Stop()

	lastIndex := parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	sendTrades := func() error {
		entries, err := s.Trades.RecordsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			payload, err := json.Marshal(entry.Record)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", entry.Index)
			fmt.Fprintf(w, "event: trade\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = entry.Index
		}
		return nil
	}

	if err := sendTrades(); err != nil {
		http.Error(w, "failed to load trades", http.StatusInternalServerError)
		s.logger.Warn("trade stream initial load failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendTrades(); err != nil {
				s.logger.Warn("trade stream poll failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// parseLastEventID extracts an SSE event ID from the Last-Event-ID header or a
// query parameter. The header wins; the parameter allows manual reconnects.
func parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
