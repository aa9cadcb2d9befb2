package reporting

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/domain/report"
)

// artifactTimeFormat is the timestamp layout of every tabular artifact.
const artifactTimeFormat = "2006-01-02 15:04:05"

// Renderer writes report and export artifacts under the artifact directory.
type Renderer struct {
	dir string
}

func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: dir}
}

// WriteJSON renders a report document as an indented JSON artifact and
// returns its path.
func (r *Renderer) WriteJSON(name string, doc interface{}) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding artifact: %w", err)
	}
	path := filepath.Join(r.dir, name+".json")
	if err := r.write(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteCSV renders rows as a delimited artifact with one header row. Rows
// arrive already ordered (timestamp-descending for log exports).
func (r *Renderer) WriteCSV(name string, header []string, rows [][]string) (string, error) {
	path := filepath.Join(r.dir, name+".csv")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating artifact: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing artifact: %w", err)
	}
	return path, nil
}

func (r *Renderer) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	return nil
}

// Exporter renders raw log streams to tabular artifacts. Repositories return
// events newest first, which is the required artifact order.
type Exporter struct {
	activity audit.ActivityRepository
	access   audit.AccessRepository
	security audit.SecurityEventRepository
	renderer *Renderer
}

func NewExporter(
	activity audit.ActivityRepository,
	access audit.AccessRepository,
	security audit.SecurityEventRepository,
	renderer *Renderer,
) *Exporter {
	return &Exporter{activity: activity, access: access, security: security, renderer: renderer}
}

// Export renders one stream for the window described by the export filters.
func (e *Exporter) Export(ctx context.Context, exp *report.DataExport, window audit.TimeRange) (string, error) {
	name := fmt.Sprintf("%s-export-%s", exp.Stream, exp.ID)
	switch exp.Stream {
	case "activity":
		return e.exportActivity(ctx, name, window)
	case "access":
		return e.exportAccess(ctx, name, window)
	case "security":
		return e.exportSecurity(ctx, name, window)
	}
	return "", fmt.Errorf("unknown export stream %q", exp.Stream)
}

func (e *Exporter) exportActivity(ctx context.Context, name string, window audit.TimeRange) (string, error) {
	header := []string{"timestamp", "actor_id", "actor_role", "kind", "resource_type", "resource_id", "description", "client_ip"}
	var rows [][]string
	for offset := 0; ; offset += generatorPageSize {
		page, err := e.activity.Query(ctx, audit.ActivityFilter{Range: window, Limit: generatorPageSize, Offset: offset})
		if err != nil {
			return "", err
		}
		for _, ev := range page {
			rows = append(rows, []string{
				ev.Timestamp.UTC().Format(artifactTimeFormat),
				uuidString(ev.ActorID),
				ev.ActorRole,
				string(ev.Kind),
				ev.ResourceType,
				ev.ResourceID,
				ev.Description,
				ev.ClientIP,
			})
		}
		if len(page) < generatorPageSize {
			break
		}
	}
	return e.renderer.WriteCSV(name, header, rows)
}

func (e *Exporter) exportAccess(ctx context.Context, name string, window audit.TimeRange) (string, error) {
	header := []string{"timestamp", "actor_id", "actor_role", "subject_id", "kind", "record_type", "record_id", "reason", "client_ip"}
	var rows [][]string
	for offset := 0; ; offset += generatorPageSize {
		page, err := e.access.Query(ctx, audit.AccessFilter{Range: window, Limit: generatorPageSize, Offset: offset})
		if err != nil {
			return "", err
		}
		for _, ev := range page {
			rows = append(rows, []string{
				ev.Timestamp.UTC().Format(artifactTimeFormat),
				uuidString(ev.ActorID),
				ev.ActorRole,
				uuidString(ev.SubjectID),
				string(ev.Kind),
				ev.RecordType,
				ev.RecordID,
				ev.Reason.String(),
				ev.ClientIP,
			})
		}
		if len(page) < generatorPageSize {
			break
		}
	}
	return e.renderer.WriteCSV(name, header, rows)
}

func (e *Exporter) exportSecurity(ctx context.Context, name string, window audit.TimeRange) (string, error) {
	header := []string{"timestamp", "actor_id", "kind", "severity", "description", "client_ip", "resolved", "resolved_at", "resolution_notes"}
	var rows [][]string
	for offset := 0; ; offset += generatorPageSize {
		page, err := e.security.Query(ctx, audit.SecurityFilter{Range: window, Limit: generatorPageSize, Offset: offset})
		if err != nil {
			return "", err
		}
		for _, ev := range page {
			resolvedAt := ""
			if ev.ResolvedAt != nil {
				resolvedAt = ev.ResolvedAt.UTC().Format(artifactTimeFormat)
			}
			rows = append(rows, []string{
				ev.Timestamp.UTC().Format(artifactTimeFormat),
				uuidString(ev.ActorID),
				string(ev.Kind),
				string(ev.Severity),
				ev.Description,
				ev.ClientIP,
				strconv.FormatBool(ev.Resolved),
				resolvedAt,
				ev.ResolutionNotes,
			})
		}
		if len(page) < generatorPageSize {
			break
		}
	}
	return e.renderer.WriteCSV(name, header, rows)
}

// ExportWindow derives the time range from an export's filter bag. The
// filters carry RFC3339 "start"/"end" strings; a missing side stays open.
func ExportWindow(filters map[string]interface{}) (audit.TimeRange, error) {
	var window audit.TimeRange
	if raw, ok := filters["start"].(string); ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return window, fmt.Errorf("invalid start filter: %w", err)
		}
		window.Start = t
	}
	if raw, ok := filters["end"].(string); ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return window, fmt.Errorf("invalid end filter: %w", err)
		}
		window.End = t
	}
	return window, nil
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
