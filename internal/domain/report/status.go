package report

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caretrail/audit-backend/internal/domain/errors"
)

// JobStatus is the monotonic report/export job state machine:
// pending -> processing -> completed | failed. Terminal states never regress.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is completed or failed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var allowedTransitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CheckTransition returns a business error when moving to next would violate
// the monotonic state machine.
func (s JobStatus) CheckTransition(next JobStatus) error {
	for _, allowed := range allowedTransitions[s] {
		if next == allowed {
			return nil
		}
	}
	return errors.NewBusinessError("INVALID_STATUS_TRANSITION",
		fmt.Sprintf("cannot transition job from %s to %s", s, next))
}

// ParamsFingerprint derives the idempotency key for a job: re-triggering the
// same kind, date and parameters must not double-generate.
func ParamsFingerprint(kind string, date time.Time, params map[string]interface{}) string {
	payload := map[string]interface{}{
		"kind": kind,
		"date": date.UTC().Format("2006-01-02"),
	}
	if len(params) > 0 {
		payload["params"] = params
	}
	// Map key order does not matter: encoding/json sorts object keys.
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(kind + date.UTC().Format("2006-01-02"))
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum[:16])
}
