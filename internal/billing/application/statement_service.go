package application

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	billing "fixedrate-billing/internal/billing/domain"
	"fixedrate-billing/internal/observability/metrics"
)

// UsageSource produces a usage table for one calculation.
type UsageSource interface {
	LoadUsage(ctx context.Context) (*billing.UsageTable, error)
}

// UsageSourceFunc adapts a function to UsageSource.
type UsageSourceFunc func(ctx context.Context) (*billing.UsageTable, error)

// LoadUsage calls f.
func (f UsageSourceFunc) LoadUsage(ctx context.Context) (*billing.UsageTable, error) {
	return f(ctx)
}

// StatementPublisher is notified after a statement is calculated.
type StatementPublisher interface {
	PublishStatement(ctx context.Context, stmt *Statement) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Settings are the calculation parameters shared by every request.
type Settings struct {
	UsageColumn    string
	RoundingDigits int
	PreviewRows    int
	Currency       string
}

// DefaultSettings mirrors the defaults of the billing domain.
func DefaultSettings() Settings {
	return Settings{
		UsageColumn:    billing.KWhColumn,
		RoundingDigits: billing.DefaultRoundingDigits,
		PreviewRows:    200,
		Currency:       "USD",
	}
}

// Statement is the rendered view of one bill. It is never stored.
// RoundingDigits is the precision Amount was rounded to; negative means
// unrounded.
type Statement struct {
	TotalUsage     float64
	Rate           float64
	FixedFee       float64
	Amount         float64
	RoundingDigits int
	Currency       string
	RowCount       int
	Columns        []string
	Preview        [][]string
	Dropped        []billing.DroppedRow
	GeneratedAt    time.Time
}

// UsageText formats TotalUsage without dropping any of its digits.
func (s *Statement) UsageText() string {
	return strconv.FormatFloat(s.TotalUsage, 'f', -1, 64)
}

// AmountText formats Amount at the precision it was computed with.
func (s *Statement) AmountText() string {
	if s.RoundingDigits < 0 {
		return strconv.FormatFloat(s.Amount, 'f', -1, 64)
	}
	return strconv.FormatFloat(s.Amount, 'f', s.RoundingDigits, 64)
}

// StatementService runs load, sum and compute for one request.
type StatementService struct {
	settings  Settings
	publisher StatementPublisher
	clock     Clock
	logger    *zap.Logger
}

// Option configures the StatementService.
type Option func(*StatementService)

// WithPublisher sets the statement publisher.
func WithPublisher(publisher StatementPublisher) Option {
	return func(s *StatementService) { s.publisher = publisher }
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *StatementService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStatementService constructs the service.
func NewStatementService(settings Settings, logger *zap.Logger, opts ...Option) (*StatementService, error) {
	if settings.UsageColumn == "" {
		return nil, errors.New("statement service: empty usage column")
	}
	if settings.PreviewRows < 0 {
		return nil, errors.New("statement service: negative preview rows")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &StatementService{
		settings: settings,
		clock:    SystemClock{},
		logger:   logger.Named("billing"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Settings returns the configured settings.
func (s *StatementService) Settings() Settings { return s.settings }

// Calculate loads usage from source and computes the bill. rate and
// fixedFee are passed to the billing domain unchanged so that type errors
// surface with their field names.
func (s *StatementService) Calculate(ctx context.Context, source UsageSource, rate, fixedFee any) (*Statement, error) {
	if source == nil {
		return nil, errors.New("statement service: nil usage source")
	}
	start := time.Now()
	stmt, err := s.calculate(ctx, source, rate, fixedFee)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveBill(result, time.Since(start))
	if err != nil {
		s.logger.Info("bill calculation failed",
			zap.String("kind", billing.KindOf(err).String()),
			zap.Error(err))
		return nil, err
	}

	metrics.AddDroppedRows(len(stmt.Dropped))
	s.logger.Info("bill calculated",
		zap.Float64("total_usage_kwh", stmt.TotalUsage),
		zap.Float64("rate", stmt.Rate),
		zap.Float64("fixed_fee", stmt.FixedFee),
		zap.Float64("amount", stmt.Amount),
		zap.Int("rows", stmt.RowCount),
		zap.Int("dropped_rows", len(stmt.Dropped)))

	if s.publisher != nil {
		if err := s.publisher.PublishStatement(ctx, stmt); err != nil {
			s.logger.Warn("statement publish failed", zap.Error(err))
		}
	}
	return stmt, nil
}

func (s *StatementService) calculate(ctx context.Context, source UsageSource, rate, fixedFee any) (*Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table, err := source.LoadUsage(ctx)
	if err != nil {
		return nil, err
	}
	total, err := billing.SumUsage(table, s.settings.UsageColumn)
	if err != nil {
		return nil, err
	}
	in, err := billing.NewBillingInputs(total, rate, fixedFee)
	if err != nil {
		return nil, err
	}
	return &Statement{
		TotalUsage:     in.TotalUsage,
		Rate:           in.Rate,
		FixedFee:       in.FixedFee,
		Amount:         in.Amount(billing.WithRoundingDigits(s.settings.RoundingDigits)),
		RoundingDigits: s.settings.RoundingDigits,
		Currency:       s.settings.Currency,
		RowCount:       table.Len(),
		Columns:        table.Columns(),
		Preview:        table.Rows(s.settings.PreviewRows),
		Dropped:        table.Dropped(),
		GeneratedAt:    s.clock.Now(),
	}, nil
}
