package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
	"github.com/caretrail/audit-backend/internal/infrastructure/repository"
)

type recordingRaiser struct {
	mu     sync.Mutex
	events []*audit.SecurityEvent
}

func (r *recordingRaiser) Raise(_ context.Context, event *audit.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingRaiser) raised() []*audit.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.SecurityEvent(nil), r.events...)
}

type failingActivityRepo struct {
	audit.ActivityRepository
}

func (failingActivityRepo) Insert(context.Context, *audit.ActivityEvent) error {
	return fmt.Errorf("store unavailable")
}

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		ExcludedPaths:  []string{"/health", "/metrics", "/static/"},
		ProtectedPaths: []string{"/api/v1/patients", "/api/v1/medical-records"},
		SensitiveKeys:  []string{"password", "ssn"},
		MaxBodyBytes:   64 << 10,
	}
}

func newTestService() (*Service, *repository.MemoryActivityRepository, *repository.MemoryAccessRepository, *recordingRaiser) {
	activity := repository.NewMemoryActivityRepository()
	access := repository.NewMemoryAccessRepository()
	raiser := &recordingRaiser{}
	svc := NewService(activity, access, raiser, testCaptureConfig(), zap.NewNop())
	return svc, activity, access, raiser
}

func operation(method, path string, status int) Operation {
	u, _ := url.Parse(path)
	actorID := uuid.New()
	return Operation{
		Method:   method,
		Path:     u.Path,
		Query:    u.Query(),
		Status:   status,
		Actor:    Actor{ID: &actorID, Role: "provider", Username: "jdoe"},
		ClientIP: "10.1.2.3",
	}
}

func TestObserve_ExcludedPathProducesNothing(t *testing.T) {
	svc, activity, access, raiser := newTestService()
	ctx := context.Background()

	svc.Observe(ctx, operation(http.MethodGet, "/health", http.StatusOK))
	svc.Observe(ctx, operation(http.MethodGet, "/static/app.css", http.StatusOK))

	count, err := activity.Count(ctx, audit.ActivityFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
	accessCount, err := access.Count(ctx, audit.AccessFilter{})
	require.NoError(t, err)
	assert.Zero(t, accessCount)
	assert.Empty(t, raiser.raised())
}

func TestObserve_UnprotectedPathActivityOnly(t *testing.T) {
	svc, activity, access, _ := newTestService()
	ctx := context.Background()

	svc.Observe(ctx, operation(http.MethodGet, "/api/v1/appointments/42", http.StatusOK))

	events, err := activity.Query(ctx, audit.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActivityRead, events[0].Kind)
	assert.Equal(t, "appointment", events[0].ResourceType)
	assert.Equal(t, "42", events[0].ResourceID)

	accessCount, err := access.Count(ctx, audit.AccessFilter{})
	require.NoError(t, err)
	assert.Zero(t, accessCount)
}

func TestObserve_ProtectedPathWithReason(t *testing.T) {
	svc, _, access, raiser := newTestService()
	ctx := context.Background()
	patient := uuid.New()

	op := operation(http.MethodGet, "/api/v1/patients/"+patient.String(), http.StatusOK)
	op.Reason = "treatment review"
	svc.Observe(ctx, op)

	events, err := access.Query(ctx, audit.AccessFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.AccessView, events[0].Kind)
	assert.Equal(t, "treatment review", events[0].Reason.String())
	require.NotNil(t, events[0].SubjectID)
	assert.Equal(t, patient, *events[0].SubjectID)
	assert.Empty(t, raiser.raised())
}

func TestObserve_MissingReasonRaisesViolation(t *testing.T) {
	svc, _, access, raiser := newTestService()
	ctx := context.Background()
	patient := uuid.New()

	svc.Observe(ctx, operation(http.MethodGet, "/api/v1/patients/"+patient.String(), http.StatusOK))

	events, err := access.Query(ctx, audit.AccessFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Reason.IsMissing())
	assert.Equal(t, audit.ReasonSentinel, events[0].Reason.String())

	raised := raiser.raised()
	require.Len(t, raised, 1)
	assert.Equal(t, audit.SecurityPermissionViolation, raised[0].Kind)
	assert.Equal(t, audit.SeverityMedium, raised[0].Severity)
	assert.Equal(t, patient.String(), raised[0].Metadata.GetString("subject_id"))
}

func TestObserve_ReasonFromQueryParam(t *testing.T) {
	svc, _, access, raiser := newTestService()
	ctx := context.Background()
	patient := uuid.New()

	svc.Observe(ctx, operation(http.MethodGet,
		"/api/v1/patients/"+patient.String()+"?access_reason=care+coordination", http.StatusOK))

	events, err := access.Query(ctx, audit.AccessFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "care coordination", events[0].Reason.String())
	assert.Empty(t, raiser.raised())
}

func TestObserve_HeaderReasonWinsOverQuery(t *testing.T) {
	svc, _, access, _ := newTestService()
	ctx := context.Background()
	patient := uuid.New()

	op := operation(http.MethodGet,
		"/api/v1/patients/"+patient.String()+"?access_reason=from-query", http.StatusOK)
	op.Reason = "from-header"
	svc.Observe(ctx, op)

	events, err := access.Query(ctx, audit.AccessFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "from-header", events[0].Reason.String())
}

func TestObserve_SubjectResolution(t *testing.T) {
	pathID := uuid.New()
	queryID := uuid.New()
	payloadID := uuid.New()

	tests := []struct {
		name string
		op   func() Operation
		want *uuid.UUID
	}{
		{
			name: "path segment wins over query",
			op: func() Operation {
				return operation(http.MethodGet,
					"/api/v1/patients/"+pathID.String()+"?patient_id="+queryID.String(), http.StatusOK)
			},
			want: &pathID,
		},
		{
			name: "query param when path has no id",
			op: func() Operation {
				return operation(http.MethodGet,
					"/api/v1/medical-records?patient_id="+queryID.String(), http.StatusOK)
			},
			want: &queryID,
		},
		{
			name: "payload field as last resort",
			op: func() Operation {
				op := operation(http.MethodPost, "/api/v1/medical-records", http.StatusCreated)
				op.Payload = map[string]interface{}{"patient_id": payloadID.String()}
				return op
			},
			want: &payloadID,
		},
		{
			name: "unresolved subject skips access event",
			op: func() Operation {
				return operation(http.MethodGet, "/api/v1/medical-records", http.StatusOK)
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, access, _ := newTestService()
			ctx := context.Background()
			op := tt.op()
			op.Reason = "review"
			svc.Observe(ctx, op)

			events, err := access.Query(ctx, audit.AccessFilter{})
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, events)
				return
			}
			require.Len(t, events, 1)
			require.NotNil(t, events[0].SubjectID)
			assert.Equal(t, *tt.want, *events[0].SubjectID)
		})
	}
}

func TestObserve_AuthFailureCorrelation(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		status       int
		wantKind     audit.SecurityEventKind
		wantSeverity audit.Severity
	}{
		{"login failure", "/api/v1/auth/login", http.StatusUnauthorized,
			audit.SecurityLoginFailed, audit.SeverityMedium},
		{"forbidden request", "/api/v1/admin/settings", http.StatusForbidden,
			audit.SecurityPermissionViolation, audit.SeverityMedium},
		{"unauthenticated request", "/api/v1/appointments", http.StatusUnauthorized,
			audit.SecuritySuspiciousAccess, audit.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, raiser := newTestService()
			svc.Observe(context.Background(), operation(http.MethodPost, tt.path, tt.status))

			raised := raiser.raised()
			require.Len(t, raised, 1)
			assert.Equal(t, tt.wantKind, raised[0].Kind)
			assert.Equal(t, tt.wantSeverity, raised[0].Severity)
		})
	}
}

func TestObserve_FailedLoginRecordsActivity(t *testing.T) {
	svc, activity, _, _ := newTestService()
	ctx := context.Background()

	svc.Observe(ctx, operation(http.MethodPost, "/api/v1/auth/login", http.StatusUnauthorized))

	events, err := activity.Query(ctx, audit.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActivityLoginFailed, events[0].Kind)
	assert.Equal(t, "jdoe", events[0].Metadata.GetString("username"))
}

func TestObserve_StoreFailureIsSwallowed(t *testing.T) {
	raiser := &recordingRaiser{}
	svc := NewService(failingActivityRepo{}, repository.NewMemoryAccessRepository(),
		raiser, testCaptureConfig(), zap.NewNop())

	assert.NotPanics(t, func() {
		svc.Observe(context.Background(), operation(http.MethodGet, "/api/v1/appointments", http.StatusOK))
	})
}

func TestObserve_SensitivePayloadRedacted(t *testing.T) {
	svc, activity, _, _ := newTestService()
	ctx := context.Background()

	op := operation(http.MethodPost, "/api/v1/users", http.StatusCreated)
	op.Payload = map[string]interface{}{
		"email":    "jdoe@clinic.example",
		"password": "hunter2",
		"ssn":      "123-45-6789",
	}
	svc.Observe(ctx, op)

	events, err := activity.Query(ctx, audit.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	payload, ok := events[0].Metadata["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", payload["password"])
	assert.Equal(t, "[REDACTED]", payload["ssn"])
	assert.Equal(t, "jdoe@clinic.example", payload["email"])
}

func TestParseResource(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		path     string
		wantType string
		wantID   string
	}{
		{"/api/v1/patients/" + id, "patient", id},
		{"/api/v1/appointments/42", "appointment", "42"},
		{"/api/v1/medical-records", "medical-record", ""},
		{"/api/v1/patients/" + id + "/lab-results/7", "lab-result", "7"},
		{"/", "unknown", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			gotType, gotID := parseResource(tt.path)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantID, gotID)
		})
	}
}

func TestMiddleware_ObservesAfterResponse(t *testing.T) {
	svc, activity, access, _ := newTestService()
	mw := NewMiddleware(svc, 64<<10)
	patient := uuid.New()

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+patient.String(), nil)
	req.Header.Set("X-Access-Reason", "scheduled visit")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	actorID := uuid.New()
	req = req.WithContext(WithActor(req.Context(), Actor{ID: &actorID, Role: "provider"}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	ctx := context.Background()
	activityEvents, err := activity.Query(ctx, audit.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, activityEvents, 1)
	assert.Equal(t, "203.0.113.9", activityEvents[0].ClientIP)

	accessEvents, err := access.Query(ctx, audit.AccessFilter{})
	require.NoError(t, err)
	require.Len(t, accessEvents, 1)
	assert.Equal(t, "scheduled visit", accessEvents[0].Reason.String())
}

func TestMiddleware_BodyRestoredForHandler(t *testing.T) {
	svc, _, _, _ := newTestService()
	mw := NewMiddleware(svc, 64<<10)

	var seen string
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = string(body)
		w.WriteHeader(http.StatusCreated)
	}))

	body := `{"patient_id":"` + uuid.New().String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/medical-records", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, body, seen)
}
