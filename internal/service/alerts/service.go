package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
	"github.com/caretrail/audit-backend/internal/metrics"
)

const notifyTimeout = 10 * time.Second

// Service owns the security event lifecycle: raise, query, resolve, and the
// aggregate risk assessment.
type Service struct {
	repo     audit.SecurityEventRepository
	notifier Notifier
	cfg      config.AlertsConfig
	logger   *zap.Logger
	metrics  *metrics.Registry
	now      func() time.Time
}

func NewService(repo audit.SecurityEventRepository, notifier Notifier, cfg config.AlertsConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.Get(),
		now:      time.Now,
	}
}

// Raise persists an unresolved security event. High and critical events
// additionally trigger a best-effort notification that runs detached from
// the caller: a notification failure is logged and never surfaces.
func (s *Service) Raise(ctx context.Context, event *audit.SecurityEvent) error {
	if err := s.repo.Insert(ctx, event); err != nil {
		return err
	}
	metrics.Add(ctx, s.metrics.AlertsRaised, 1)

	if event.Severity.AtLeast(audit.SeverityHigh) {
		go s.notify(event)
	}
	return nil
}

func (s *Service) notify(event *audit.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, event, s.cfg.NotificationRecipients); err != nil {
		s.logger.Error("alert notification failed",
			zap.String("event_id", event.ID.String()),
			zap.Error(err))
	}
}

// Resolve closes an alert. Missing ids surface as NotFound; resolving an
// already-resolved event only replaces the notes.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, resolver uuid.UUID, notes string) (*audit.SecurityEvent, error) {
	event, err := s.repo.Resolve(ctx, id, resolver, notes)
	if err != nil {
		return nil, err
	}
	metrics.Add(ctx, s.metrics.AlertsResolved, 1)
	s.logger.Info("security event resolved",
		zap.String("event_id", id.String()),
		zap.String("resolver", resolver.String()))
	return event, nil
}

// Get returns one security event by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*audit.SecurityEvent, error) {
	return s.repo.GetByID(ctx, id)
}

// Query lists security events matching the filter.
func (s *Service) Query(ctx context.Context, filter audit.SecurityFilter) ([]*audit.SecurityEvent, error) {
	return s.repo.Query(ctx, filter)
}
