package channels

import (
	"context"

	"github.com/vadiminshakov/vigil/internal/domain"
	"go.uber.org/zap"
)

// Log writes alerts to the application log. Used as the fallback channel when
// no external transport is configured.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a log channel.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string {
	return "log"
}

func (l *Log) Send(_ context.Context, candidate domain.AlertCandidate) error {
	l.logger.Info("alert",
		zap.String("symbol", candidate.Symbol),
		zap.String("category", string(candidate.Category)),
		zap.String("priority", candidate.Priority.Title()),
		zap.String("message", candidate.Message))
	return nil
}
