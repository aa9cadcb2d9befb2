package alerts

import (
	"context"

	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/domain/audit"
)

// Notifier delivers high-severity alerts to the security team. Delivery is
// best effort; the lifecycle never waits on it or propagates its errors.
type Notifier interface {
	Notify(ctx context.Context, event *audit.SecurityEvent, recipients []string) error
}

// LogNotifier writes notifications to the structured log. It is the default
// until a real delivery channel (pager, mail relay) is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event *audit.SecurityEvent, recipients []string) error {
	n.logger.Warn("security alert notification",
		zap.String("event_id", event.ID.String()),
		zap.String("kind", string(event.Kind)),
		zap.String("severity", string(event.Severity)),
		zap.String("description", event.Description),
		zap.Strings("recipients", recipients))
	return nil
}
