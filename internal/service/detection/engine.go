package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
	"github.com/caretrail/audit-backend/internal/metrics"
)

const snapshotPageSize = 1000

// Engine runs every registered heuristic over a shared snapshot of the
// lookback window and raises the findings as alerts.
type Engine struct {
	access     audit.AccessRepository
	activity   audit.ActivityRepository
	alerts     AlertRaiser
	heuristics []Heuristic
	cfg        config.DetectionConfig
	logger     *zap.Logger
	metrics    *metrics.Registry
	now        func() time.Time
}

func NewEngine(
	access audit.AccessRepository,
	activity audit.ActivityRepository,
	alerts AlertRaiser,
	directory Directory,
	cfg config.DetectionConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		access:   access,
		activity: activity,
		alerts:   alerts,
		heuristics: []Heuristic{
			NewHighVolumeHeuristic(cfg),
			NewDistinctSubjectsHeuristic(cfg),
			NewAfterHoursHeuristic(cfg),
			NewCaseloadHeuristic(cfg, directory),
			NewRapidAccessHeuristic(cfg),
			NewBruteForceHeuristic(cfg),
			NewWatchListHeuristic(directory),
		},
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Get(),
		now:     time.Now,
	}
}

// Run executes all heuristics in parallel over one snapshot. Heuristic
// failures are isolated and reported; the run itself fails only when the
// snapshot cannot be built.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	started := e.now().UTC()
	defer func() {
		metrics.Observe(ctx, e.metrics.DetectionDuration, time.Since(started).Seconds())
	}()
	metrics.Add(ctx, e.metrics.DetectionRuns, 1)

	snap, err := e.buildSnapshot(ctx, started)
	if err != nil {
		return nil, err
	}

	report := &Report{Started: started, Failed: make(map[string]error)}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, h := range e.heuristics {
		wg.Add(1)
		go func(h Heuristic) {
			defer wg.Done()
			findings, err := e.evaluate(ctx, h, snap)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[h.Name()] = err
				metrics.Add(ctx, e.metrics.HeuristicFailures, 1)
				e.logger.Error("heuristic failed",
					zap.String("heuristic", h.Name()), zap.Error(err))
				return
			}
			report.Findings += e.raise(ctx, h.Name(), findings)
		}(h)
	}
	wg.Wait()

	e.logger.Info("detection run complete",
		zap.Int("findings", report.Findings),
		zap.Int("failed_heuristics", len(report.Failed)))
	return report, nil
}

func (e *Engine) evaluate(ctx context.Context, h Heuristic, snap *Snapshot) (findings []Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			findings, err = nil, fmt.Errorf("heuristic panic: %v", r)
		}
	}()
	return h.Evaluate(ctx, snap)
}

func (e *Engine) raise(ctx context.Context, heuristic string, findings []Finding) int {
	raised := 0
	for _, f := range findings {
		event, err := audit.NewSecurityEvent(f.Kind, f.Description, f.Severity)
		if err != nil {
			e.logger.Error("invalid finding",
				zap.String("heuristic", heuristic), zap.Error(err))
			continue
		}
		event.ActorID = f.ActorID
		if f.Metadata != nil {
			event.Metadata = f.Metadata
		}
		event.Metadata["heuristic"] = heuristic

		if err := e.alerts.Raise(ctx, event); err != nil {
			e.logger.Error("failed to raise finding",
				zap.String("heuristic", heuristic), zap.Error(err))
			continue
		}
		raised++
	}
	metrics.Add(ctx, e.metrics.FindingsRaised, int64(raised))
	return raised
}

func (e *Engine) buildSnapshot(ctx context.Context, now time.Time) (*Snapshot, error) {
	window := audit.TimeRange{Start: now.Add(-e.cfg.Lookback), End: now}

	accesses, err := e.allAccesses(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("loading access window: %w", err)
	}

	loginWindow := audit.TimeRange{Start: now.Add(-e.cfg.FailedLoginWindow), End: now}
	failedLogins, err := e.allFailedLogins(ctx, loginWindow)
	if err != nil {
		return nil, fmt.Errorf("loading failed logins: %w", err)
	}

	return &Snapshot{
		Window:       window,
		Now:          now,
		Accesses:     accesses,
		FailedLogins: failedLogins,
	}, nil
}

func (e *Engine) allAccesses(ctx context.Context, window audit.TimeRange) ([]*audit.AccessEvent, error) {
	var all []*audit.AccessEvent
	for offset := 0; ; offset += snapshotPageSize {
		page, err := e.access.Query(ctx, audit.AccessFilter{
			Range:  window,
			Limit:  snapshotPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < snapshotPageSize {
			return all, nil
		}
	}
}

func (e *Engine) allFailedLogins(ctx context.Context, window audit.TimeRange) ([]*audit.ActivityEvent, error) {
	var all []*audit.ActivityEvent
	for offset := 0; ; offset += snapshotPageSize {
		page, err := e.activity.Query(ctx, audit.ActivityFilter{
			Kinds:  []audit.ActivityKind{audit.ActivityLoginFailed},
			Range:  window,
			Limit:  snapshotPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < snapshotPageSize {
			return all, nil
		}
	}
}
