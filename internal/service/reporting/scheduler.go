package reporting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/domain/report"
	"github.com/caretrail/audit-backend/internal/service/detection"
)

// Detector is the anomaly engine as the scheduler sees it.
type Detector interface {
	Run(ctx context.Context) (*detection.Report, error)
}

// Scheduler drives the periodic work: detection sweeps on a fixed interval
// and one daily audit report per calendar day once the configured hour has
// passed.
type Scheduler struct {
	reports           *Service
	detector          Detector
	detectionInterval time.Duration
	dailyHour         int
	logger            *zap.Logger
	now               func() time.Time

	lastDaily time.Time
}

func NewScheduler(reports *Service, detector Detector, detectionInterval time.Duration, dailyHour int, logger *zap.Logger) *Scheduler {
	if detectionInterval <= 0 {
		detectionInterval = time.Hour
	}
	return &Scheduler{
		reports:           reports,
		detector:          detector,
		detectionInterval: detectionInterval,
		dailyHour:         dailyHour,
		logger:            logger,
		now:               time.Now,
	}
}

// Start runs until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.detectionInterval)
	daily := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer daily.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.detector.Run(ctx); err != nil {
				s.logger.Error("scheduled detection run failed", zap.Error(err))
			}
		case <-daily.C:
			s.maybeScheduleDaily(ctx)
		}
	}
}

// maybeScheduleDaily schedules yesterday's daily audit report once per
// calendar day after the configured hour. The report fingerprint makes a
// duplicate schedule a no-op even across restarts.
func (s *Scheduler) maybeScheduleDaily(ctx context.Context) {
	now := s.now().UTC()
	if now.Hour() < s.dailyHour {
		return
	}
	today := now.Truncate(24 * time.Hour)
	if s.lastDaily.Equal(today) {
		return
	}

	reportDate := today.AddDate(0, 0, -1)
	if _, err := s.reports.Schedule(ctx, report.KindDailyAudit, reportDate, nil, nil); err != nil {
		s.logger.Error("failed to schedule daily report", zap.Error(err))
		return
	}
	s.lastDaily = today
}
