package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/domain/errors"
	"github.com/caretrail/audit-backend/internal/domain/report"
	"github.com/caretrail/audit-backend/internal/service/alerts"
	"github.com/caretrail/audit-backend/internal/service/detection"
	"github.com/caretrail/audit-backend/internal/service/reporting"
)

// Detector runs an on-demand anomaly detection sweep.
type Detector interface {
	Run(ctx context.Context) (*detection.Report, error)
}

// Services bundles everything the HTTP layer dispatches into.
type Services struct {
	Activity  audit.ActivityRepository
	Access    audit.AccessRepository
	Alerts    *alerts.Service
	Reporting *reporting.Service
	Detector  Detector
}

// Handler exposes the audit subsystem over REST.
type Handler struct {
	svc      Services
	logger   *zap.Logger
	validate *validator.Validate
	exports  *exportLimiter
}

func NewHandler(svc Services, logger *zap.Logger) *Handler {
	return &Handler{
		svc:      svc,
		logger:   logger,
		validate: validator.New(),
		exports:  newExportLimiter(rate.Every(time.Minute/10), 5),
	}
}

// Router builds the route table. Method-qualified patterns give us 405s for
// free on mismatched verbs.
func (h *Handler) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("GET /api/v1/audit/activities", h.listActivities)
	mux.HandleFunc("GET /api/v1/audit/accesses", h.listAccesses)

	mux.HandleFunc("GET /api/v1/security/events", h.listSecurityEvents)
	mux.HandleFunc("GET /api/v1/security/events/{id}", h.getSecurityEvent)
	mux.HandleFunc("POST /api/v1/security/events/{id}/resolve", h.resolveSecurityEvent)
	mux.HandleFunc("GET /api/v1/security/risk", h.riskAssessment)
	mux.HandleFunc("POST /api/v1/security/detect", h.runDetection)

	mux.HandleFunc("GET /api/v1/dashboard", h.dashboard)

	mux.HandleFunc("POST /api/v1/reports", h.scheduleReport)
	mux.HandleFunc("GET /api/v1/reports/{id}", h.getReport)
	mux.HandleFunc("POST /api/v1/exports", h.exports.middleware(h.scheduleExport))
	mux.HandleFunc("GET /api/v1/exports/{id}", h.getExport)

	return mux
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.ActivityFilter{
		Search:    q.Get("search"),
		ClientIP:  q.Get("client_ip"),
		ActorRole: q.Get("actor_role"),
	}
	var err error
	if filter.ActorID, err = parseOptionalUUID(q.Get("actor_id"), "actor_id"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filter.Range, err = parseWindow(q); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if kind := q.Get("kind"); kind != "" {
		filter.Kinds = []audit.ActivityKind{audit.ActivityKind(kind)}
	}
	filter.Limit, filter.Offset = parsePage(q)

	events, err := h.svc.Activity.Query(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeList(w, events, len(events))
}

func (h *Handler) listAccesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.AccessFilter{
		Search:    q.Get("search"),
		ClientIP:  q.Get("client_ip"),
		ActorRole: q.Get("actor_role"),
	}
	var err error
	if filter.ActorID, err = parseOptionalUUID(q.Get("actor_id"), "actor_id"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filter.SubjectID, err = parseOptionalUUID(q.Get("subject_id"), "subject_id"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filter.Range, err = parseWindow(q); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if kind := q.Get("kind"); kind != "" {
		filter.Kinds = []audit.AccessKind{audit.AccessKind(kind)}
	}
	if raw := q.Get("missing_reason"); raw != "" {
		missing := raw == "true"
		filter.MissingReason = &missing
	}
	filter.Limit, filter.Offset = parsePage(q)

	events, err := h.svc.Access.Query(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeList(w, events, len(events))
}

func (h *Handler) listSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.SecurityFilter{
		Search:      q.Get("search"),
		ClientIP:    q.Get("client_ip"),
		MinSeverity: audit.Severity(q.Get("min_severity")),
	}
	if filter.MinSeverity != "" && !filter.MinSeverity.IsValid() {
		writeError(w, h.logger, errors.NewValidationError("INVALID_SEVERITY",
			"min_severity must be one of low, medium, high, critical"))
		return
	}
	var err error
	if filter.ActorID, err = parseOptionalUUID(q.Get("actor_id"), "actor_id"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filter.Range, err = parseWindow(q); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if kind := q.Get("kind"); kind != "" {
		filter.Kinds = []audit.SecurityEventKind{audit.SecurityEventKind(kind)}
	}
	if raw := q.Get("resolved"); raw != "" {
		resolved := raw == "true"
		filter.Resolved = &resolved
	}
	filter.Limit, filter.Offset = parsePage(q)

	events, err := h.svc.Alerts.Query(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeList(w, events, len(events))
}

func (h *Handler) getSecurityEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	event, err := h.svc.Alerts.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

type resolveRequest struct {
	ResolvedBy uuid.UUID `json:"resolved_by" validate:"required"`
	Notes      string    `json:"notes" validate:"max=2000"`
}

func (h *Handler) resolveSecurityEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req resolveRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	event, err := h.svc.Alerts.Resolve(r.Context(), id, req.ResolvedBy, req.Notes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handler) riskAssessment(w http.ResponseWriter, r *http.Request) {
	assessment, err := h.svc.Alerts.AssessRisk(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (h *Handler) runDetection(w http.ResponseWriter, r *http.Request) {
	rpt, err := h.svc.Detector.Run(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	failed := make(map[string]string, len(rpt.Failed))
	for name, herr := range rpt.Failed {
		failed[name] = herr.Error()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"started":  rpt.Started,
		"findings": rpt.Findings,
		"failed":   failed,
	})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.svc.Reporting.Dashboard(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

type scheduleReportRequest struct {
	Kind        string                 `json:"kind" validate:"required"`
	Date        string                 `json:"date" validate:"required,datetime=2006-01-02"`
	RequestedBy *uuid.UUID             `json:"requested_by"`
	Params      map[string]interface{} `json:"params"`
}

func (h *Handler) scheduleReport(w http.ResponseWriter, r *http.Request) {
	var req scheduleReportRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, h.logger, errors.NewValidationError("INVALID_DATE",
			"date must be a YYYY-MM-DD calendar date"))
		return
	}

	job, err := h.svc.Reporting.Schedule(r.Context(), report.Kind(req.Kind), date, req.RequestedBy, req.Params)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	// The fingerprint may have matched an existing job; 202 either way, the
	// body carries the authoritative id and status.
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	job, err := h.svc.Reporting.GetReport(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type exportRequest struct {
	Stream      string                 `json:"stream" validate:"required,oneof=activity access security"`
	RequestedBy uuid.UUID              `json:"requested_by" validate:"required"`
	Filters     map[string]interface{} `json:"filters"`
}

func (h *Handler) scheduleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	job, err := h.svc.Reporting.ScheduleExport(r.Context(), req.RequestedBy, req.Stream, req.Filters)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	job, err := h.svc.Reporting.GetExport(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// decode unmarshals and validates a JSON request body.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewValidationError("INVALID_BODY", "request body must be valid JSON")
	}
	if err := h.validate.Struct(dst); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			field := verrs[0]
			return errors.NewValidationError("INVALID_FIELD",
				fmt.Sprintf("field %s failed validation on %s", field.Field(), field.Tag()))
		}
		return errors.NewValidationError("INVALID_BODY", err.Error())
	}
	return nil
}

func parsePathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID", "id must be a UUID")
	}
	return id, nil
}

func parseOptionalUUID(raw, name string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_ID",
			fmt.Sprintf("%s must be a UUID", name))
	}
	return &id, nil
}

// parseWindow reads start/end query parameters. Each accepts an RFC 3339
// timestamp or a bare YYYY-MM-DD date; a bare end date is exclusive of the
// following midnight.
func parseWindow(q url.Values) (audit.TimeRange, error) {
	var window audit.TimeRange
	if raw := q.Get("start"); raw != "" {
		t, _, err := parseTimeParam(raw)
		if err != nil {
			return window, errors.NewValidationError("INVALID_DATE",
				"start must be an RFC 3339 timestamp or a YYYY-MM-DD date")
		}
		window.Start = t
	}
	if raw := q.Get("end"); raw != "" {
		t, dateOnly, err := parseTimeParam(raw)
		if err != nil {
			return window, errors.NewValidationError("INVALID_DATE",
				"end must be an RFC 3339 timestamp or a YYYY-MM-DD date")
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		window.End = t
	}
	return window, nil
}

func parseTimeParam(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("unparseable time %q", raw)
}

func parsePage(q url.Values) (limit, offset int) {
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
