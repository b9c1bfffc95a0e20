package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vadiminshakov/vigil/internal/domain"
	"go.uber.org/zap"
)

const alertStreamBuffer = 16

// AlertStream fans dispatched alerts out to SSE subscribers. It plugs into the
// dispatcher as a delivery channel, so browsers see exactly what the other
// channels receive.
type AlertStream struct {
	mu   sync.Mutex
	subs map[chan domain.AlertCandidate]struct{}
}

// NewAlertStream creates an alert stream with no subscribers.
func NewAlertStream() *AlertStream {
	return &AlertStream{subs: make(map[chan domain.AlertCandidate]struct{})}
}

func (s *AlertStream) Name() string {
	return "web"
}

// Send broadcasts the candidate to every subscriber. A subscriber that cannot
// keep up misses the alert rather than blocking delivery.
func (s *AlertStream) Send(_ context.Context, candidate domain.AlertCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- candidate:
		default:
		}
	}
	return nil
}

func (s *AlertStream) subscribe() chan domain.AlertCandidate {
	ch := make(chan domain.AlertCandidate, alertStreamBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *AlertStream) unsubscribe(ch chan domain.AlertCandidate) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

func (s *Server) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	if s.Alerts == nil {
		http.Error(w, "alert stream not available", http.StatusServiceUnavailable)
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

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ch := s.Alerts.subscribe()
	defer s.Alerts.unsubscribe(ch)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case candidate := <-ch:
			payload, err := json.Marshal(candidate)
			if err != nil {
				s.logger.Warn("alert stream encode failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: alert\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
