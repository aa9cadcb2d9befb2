package capture

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
	"github.com/caretrail/audit-backend/internal/metrics"
)

// Service classifies observed platform operations into the audit log
// streams. It never fails the host operation: every internal error is logged,
// counted and swallowed.
type Service struct {
	activity audit.ActivityRepository
	access   audit.AccessRepository
	alerts   AlertRaiser
	cfg      config.CaptureConfig
	logger   *zap.Logger
	metrics  *metrics.Registry
}

func NewService(
	activity audit.ActivityRepository,
	access audit.AccessRepository,
	alerts AlertRaiser,
	cfg config.CaptureConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		activity: activity,
		access:   access,
		alerts:   alerts,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.Get(),
	}
}

// Observe is the sole entry point. Excluded paths produce nothing; protected
// paths produce an access event on top of the activity trail; auth failures
// are correlated into security events.
func (s *Service) Observe(ctx context.Context, op Operation) {
	start := time.Now()
	defer func() {
		metrics.Observe(ctx, s.metrics.CaptureDuration, time.Since(start).Seconds())
	}()

	if s.isExcluded(op.Path) {
		return
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}

	s.recordActivity(ctx, op)

	if s.isProtected(op.Path) && op.Status < http.StatusBadRequest {
		s.recordAccess(ctx, op)
	}

	if op.Status == http.StatusUnauthorized || op.Status == http.StatusForbidden {
		s.correlateAuthFailure(ctx, op)
	}
}

func (s *Service) recordActivity(ctx context.Context, op Operation) {
	resourceType, resourceID := parseResource(op.Path)
	kind := activityKind(op)

	event, err := audit.NewActivityEvent(kind, resourceType,
		fmt.Sprintf("%s %s", op.Method, op.Path))
	if err != nil {
		s.drop(ctx, "activity classification failed", err)
		return
	}

	event.ActorID = op.Actor.ID
	event.ActorRole = op.Actor.Role
	event.ResourceID = resourceID
	event.ClientIP = op.ClientIP
	event.UserAgent = op.UserAgent
	event.Timestamp = op.Timestamp
	event.Metadata = s.operationMetadata(op)

	if err := s.activity.Insert(ctx, event); err != nil {
		s.drop(ctx, "activity insert failed", err)
		return
	}
	metrics.Add(ctx, s.metrics.EventsCaptured, 1)
}

func (s *Service) recordAccess(ctx context.Context, op Operation) {
	subject := resolveSubject(op)
	if subject == nil {
		return
	}

	recordType, recordID := parseResource(op.Path)
	event, err := audit.NewAccessEvent(accessKind(op), recordType, resolveReason(op))
	if err != nil {
		s.drop(ctx, "access classification failed", err)
		return
	}

	event.ActorID = op.Actor.ID
	event.ActorRole = op.Actor.Role
	event.SubjectID = subject
	event.RecordID = recordID
	event.ClientIP = op.ClientIP
	event.UserAgent = op.UserAgent
	event.Timestamp = op.Timestamp
	event.Metadata = s.operationMetadata(op)

	if err := s.access.Insert(ctx, event); err != nil {
		s.drop(ctx, "access insert failed", err)
		return
	}
	metrics.Add(ctx, s.metrics.EventsCaptured, 1)

	if event.Reason.IsMissing() {
		s.raiseMissingReason(ctx, op, *subject)
	}
}

// raiseMissingReason files a permission violation in the same observation as
// the undocumented access, so the alert is queryable before the response
// leaves the platform.
func (s *Service) raiseMissingReason(ctx context.Context, op Operation, subject uuid.UUID) {
	event, err := audit.NewSecurityEvent(audit.SecurityPermissionViolation,
		fmt.Sprintf("protected record accessed without documented reason: %s %s", op.Method, op.Path),
		audit.SeverityMedium)
	if err != nil {
		s.drop(ctx, "missing-reason alert build failed", err)
		return
	}
	event.ActorID = op.Actor.ID
	event.ClientIP = op.ClientIP
	event.UserAgent = op.UserAgent
	event.Timestamp = op.Timestamp
	event.Metadata = audit.Metadata{
		"subject_id": subject.String(),
		"path":       op.Path,
	}

	if err := s.alerts.Raise(ctx, event); err != nil {
		s.drop(ctx, "missing-reason alert failed", err)
	}
}

func (s *Service) correlateAuthFailure(ctx context.Context, op Operation) {
	var (
		kind     audit.SecurityEventKind
		severity audit.Severity
		desc     string
	)
	switch {
	case isLoginPath(op.Path):
		kind = audit.SecurityLoginFailed
		severity = audit.SeverityMedium
		desc = fmt.Sprintf("failed login attempt for %q", op.Actor.Username)
	case op.Status == http.StatusForbidden:
		kind = audit.SecurityPermissionViolation
		severity = audit.SeverityMedium
		desc = fmt.Sprintf("forbidden request: %s %s", op.Method, op.Path)
	default:
		kind = audit.SecuritySuspiciousAccess
		severity = audit.SeverityLow
		desc = fmt.Sprintf("unauthenticated request: %s %s", op.Method, op.Path)
	}

	event, err := audit.NewSecurityEvent(kind, desc, severity)
	if err != nil {
		s.drop(ctx, "auth failure classification failed", err)
		return
	}
	event.ActorID = op.Actor.ID
	event.ClientIP = op.ClientIP
	event.UserAgent = op.UserAgent
	event.Timestamp = op.Timestamp
	event.Metadata = audit.Metadata{
		"status": op.Status,
		"path":   op.Path,
	}
	if op.Actor.Username != "" {
		event.Metadata["username"] = op.Actor.Username
	}

	if err := s.alerts.Raise(ctx, event); err != nil {
		s.drop(ctx, "auth failure alert failed", err)
	}
}

func (s *Service) operationMetadata(op Operation) audit.Metadata {
	md := audit.Metadata{
		"method": op.Method,
		"path":   op.Path,
		"status": op.Status,
	}
	if op.Actor.Username != "" {
		md["username"] = op.Actor.Username
	}
	if len(op.Payload) > 0 {
		md["payload"] = redactKeys(op.Payload, s.cfg.SensitiveKeys)
	}
	return md
}

func (s *Service) drop(ctx context.Context, msg string, err error) {
	s.logger.Warn(msg, zap.Error(err))
	metrics.Add(ctx, s.metrics.EventsDropped, 1)
}

func (s *Service) isExcluded(path string) bool {
	for _, prefix := range s.cfg.ExcludedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (s *Service) isProtected(path string) bool {
	for _, prefix := range s.cfg.ProtectedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isLoginPath(path string) bool {
	return strings.Contains(path, "/login") || strings.Contains(path, "/auth/token")
}

func activityKind(op Operation) audit.ActivityKind {
	if isLoginPath(op.Path) {
		if op.Status == http.StatusUnauthorized {
			return audit.ActivityLoginFailed
		}
		return audit.ActivityLogin
	}
	if strings.Contains(op.Path, "/logout") {
		return audit.ActivityLogout
	}
	if op.Status >= http.StatusInternalServerError {
		return audit.ActivityError
	}
	switch op.Method {
	case http.MethodPost:
		return audit.ActivityCreate
	case http.MethodGet, http.MethodHead:
		return audit.ActivityRead
	case http.MethodPut, http.MethodPatch:
		return audit.ActivityUpdate
	case http.MethodDelete:
		return audit.ActivityDelete
	}
	return audit.ActivityAccess
}

func accessKind(op Operation) audit.AccessKind {
	switch {
	case strings.Contains(op.Path, "/export"):
		return audit.AccessExport
	case strings.Contains(op.Path, "/share"):
		return audit.AccessShare
	case strings.Contains(op.Path, "/print"):
		return audit.AccessPrint
	}
	if op.Method == http.MethodGet || op.Method == http.MethodHead {
		return audit.AccessView
	}
	return audit.AccessModify
}

// parseResource extracts the resource type and trailing id segment from a
// request path. The id must be numeric or a UUID; anything else (actions,
// sub-collections) leaves the id empty.
func parseResource(path string) (string, string) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return "unknown", ""
	}

	resourceType := segments[0]
	resourceID := ""
	for i := 1; i < len(segments); i++ {
		if isIdentifier(segments[i]) {
			resourceID = segments[i]
			resourceType = segments[i-1]
		}
	}
	return singular(resourceType), resourceID
}

// splitPath drops empty segments and the API version prefix.
func splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s == "" || s == "api" || (len(s) == 2 && s[0] == 'v' && s[1] >= '0' && s[1] <= '9') {
			continue
		}
		segments = append(segments, s)
	}
	return segments
}

func isIdentifier(segment string) bool {
	if _, err := uuid.Parse(segment); err == nil {
		return true
	}
	if segment == "" {
		return false
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func singular(resource string) string {
	if strings.HasSuffix(resource, "s") && len(resource) > 1 {
		return strings.TrimSuffix(resource, "s")
	}
	return resource
}

// resolveSubject finds the patient the operation concerns. Priority: path
// segment adjacent to the patient collection, then query parameter, then
// payload field. No subject means no access event.
func resolveSubject(op Operation) *uuid.UUID {
	segments := splitPath(op.Path)
	for i, s := range segments {
		if s != "patients" || i+1 >= len(segments) {
			continue
		}
		if id, err := uuid.Parse(segments[i+1]); err == nil {
			return &id
		}
	}

	for _, param := range []string{"patient_id", "subject_id"} {
		if v := op.Query.Get(param); v != "" {
			if id, err := uuid.Parse(v); err == nil {
				return &id
			}
		}
	}

	for _, field := range []string{"patient_id", "subject_id"} {
		if v, ok := op.Payload[field].(string); ok {
			if id, err := uuid.Parse(v); err == nil {
				return &id
			}
		}
	}
	return nil
}

// resolveReason applies the header, then query parameter, then nothing.
// Normalization to the sentinel happens in the access event constructor.
func resolveReason(op Operation) string {
	if op.Reason != "" {
		return op.Reason
	}
	return op.Query.Get("access_reason")
}

func redactKeys(payload map[string]interface{}, sensitive []string) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if isSensitiveKey(k, sensitive) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string, sensitive []string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitive {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
