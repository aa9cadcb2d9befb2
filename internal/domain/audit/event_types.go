package audit

import "fmt"

// ActivityKind identifies what kind of operation an ActivityEvent records.
type ActivityKind string

const (
	ActivityCreate           ActivityKind = "create"
	ActivityRead             ActivityKind = "read"
	ActivityUpdate           ActivityKind = "update"
	ActivityDelete           ActivityKind = "delete"
	ActivityLogin            ActivityKind = "login"
	ActivityLoginFailed      ActivityKind = "login_failed"
	ActivityLogout           ActivityKind = "logout"
	ActivityAccess           ActivityKind = "access"
	ActivityError            ActivityKind = "error"
	ActivityPasswordReset    ActivityKind = "password_reset"
	ActivityLockout          ActivityKind = "lockout"
	ActivityPermissionChange ActivityKind = "permission_change"
)

// AccessKind identifies how protected data was touched.
type AccessKind string

const (
	AccessView   AccessKind = "view"
	AccessModify AccessKind = "modify"
	AccessExport AccessKind = "export"
	AccessShare  AccessKind = "share"
	AccessPrint  AccessKind = "print"
)

// SecurityEventKind classifies a security event.
type SecurityEventKind string

const (
	SecurityLoginFailed         SecurityEventKind = "login_failed"
	SecuritySuspiciousAccess    SecurityEventKind = "suspicious_access"
	SecurityPermissionViolation SecurityEventKind = "permission_violation"
	SecurityBruteForceAttempt   SecurityEventKind = "brute_force_attempt"
	SecurityUnusualActivity     SecurityEventKind = "unusual_activity"
	SecuritySystemError         SecurityEventKind = "system_error"
)

// Severity is the ordinal classification driving notification and scoring.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

func validateActivityKind(kind ActivityKind) error {
	switch kind {
	case ActivityCreate, ActivityRead, ActivityUpdate, ActivityDelete,
		ActivityLogin, ActivityLoginFailed, ActivityLogout, ActivityAccess,
		ActivityError, ActivityPasswordReset, ActivityLockout, ActivityPermissionChange:
		return nil
	}
	return fmt.Errorf("unknown activity kind: %s", kind)
}

func validateAccessKind(kind AccessKind) error {
	switch kind {
	case AccessView, AccessModify, AccessExport, AccessShare, AccessPrint:
		return nil
	}
	return fmt.Errorf("unknown access kind: %s", kind)
}

func validateSecurityEventKind(kind SecurityEventKind) error {
	switch kind {
	case SecurityLoginFailed, SecuritySuspiciousAccess, SecurityPermissionViolation,
		SecurityBruteForceAttempt, SecurityUnusualActivity, SecuritySystemError:
		return nil
	}
	return fmt.Errorf("unknown security event kind: %s", kind)
}
