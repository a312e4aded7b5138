package interfaces

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"fixedrate-billing/internal/billing/application"
)

// LoggingPublisher logs calculated statements.
type LoggingPublisher struct {
	logger *zap.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *zap.Logger) *LoggingPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingPublisher{logger: logger.Named("statements")}
}

// PublishStatement logs the statement.
func (p *LoggingPublisher) PublishStatement(_ context.Context, stmt *application.Statement) error {
	if p == nil {
		return errors.New("statement publisher: nil publisher")
	}
	if stmt == nil {
		return errors.New("statement publisher: nil statement")
	}
	p.logger.Info("statement published",
		zap.Float64("total_usage_kwh", stmt.TotalUsage),
		zap.Float64("amount", stmt.Amount),
		zap.String("currency", stmt.Currency),
		zap.Time("generated_at", stmt.GeneratedAt))
	return nil
}

// MultiPublisher fans a statement out to several publishers.
type MultiPublisher []application.StatementPublisher

// PublishStatement calls every publisher and joins their errors.
func (m MultiPublisher) PublishStatement(ctx context.Context, stmt *application.Statement) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishStatement(ctx, stmt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
