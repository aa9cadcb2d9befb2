package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Capture   CaptureConfig   `koanf:"capture"`
	Detection DetectionConfig `koanf:"detection"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Reporting ReportingConfig `koanf:"reporting"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// CaptureConfig drives the event capture classifier.
type CaptureConfig struct {
	// ExcludedPaths skip both log streams entirely (prefix match).
	ExcludedPaths []string `koanf:"excluded_paths"`
	// ProtectedPaths additionally produce AccessEvents (prefix match).
	ProtectedPaths []string `koanf:"protected_paths"`
	// SensitiveKeys are redacted from captured payloads and headers.
	SensitiveKeys []string `koanf:"sensitive_keys"`
	// MaxBodyBytes bounds payload capture.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// DetectionConfig holds every heuristic threshold. It is passed into each
// run as an immutable value so heuristics stay unit-testable with synthetic
// configurations.
type DetectionConfig struct {
	Interval             time.Duration `koanf:"interval"`
	Lookback             time.Duration `koanf:"lookback"`
	VolumeThreshold      int           `koanf:"volume_threshold"`
	CaseloadThreshold    int           `koanf:"caseload_threshold"`
	BusinessHoursStart   string        `koanf:"business_hours_start"`
	BusinessHoursEnd     string        `koanf:"business_hours_end"`
	WeekendDays          []string      `koanf:"weekend_days"`
	VolumeExemptRoles    []string      `koanf:"volume_exempt_roles"`
	AfterHoursExemptRole []string      `koanf:"after_hours_exempt_roles"`
	WatchListSubjects    []string      `koanf:"watch_list_subjects"`
	FailedLoginWindow    time.Duration `koanf:"failed_login_window"`
	FailedLoginThreshold int           `koanf:"failed_login_threshold"`
}

type AlertsConfig struct {
	NotificationRecipients []string      `koanf:"notification_recipients"`
	RiskWindow             time.Duration `koanf:"risk_window"`
}

type ReportingConfig struct {
	Workers         int           `koanf:"workers"`
	JobTimeout      time.Duration `koanf:"job_timeout"`
	StaleAfter      time.Duration `koanf:"stale_after"`
	ArtifactDir     string        `koanf:"artifact_dir"`
	DailyReportHour int           `koanf:"daily_report_hour"`
}

func defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
		Capture: CaptureConfig{
			ExcludedPaths:  []string{"/health", "/ready", "/metrics", "/static/", "/favicon.ico", "/admin/assets/"},
			ProtectedPaths: []string{"/api/v1/patients", "/api/v1/medical-records", "/api/v1/prescriptions", "/api/v1/lab-results"},
			SensitiveKeys:  []string{"password", "token", "secret", "ssn", "authorization", "cookie"},
			MaxBodyBytes:   64 * 1024,
		},
		Detection: DetectionConfig{
			Interval:             10 * time.Minute,
			Lookback:             24 * time.Hour,
			VolumeThreshold:      20,
			CaseloadThreshold:    3,
			BusinessHoursStart:   "08:00",
			BusinessHoursEnd:     "18:00",
			WeekendDays:          []string{"Saturday", "Sunday"},
			VolumeExemptRoles:    []string{"admin", "compliance"},
			AfterHoursExemptRole: []string{"admin", "emergency_provider"},
			FailedLoginWindow:    15 * time.Minute,
			FailedLoginThreshold: 5,
		},
		Alerts: AlertsConfig{
			RiskWindow: 30 * 24 * time.Hour,
		},
		Reporting: ReportingConfig{
			Workers:         4,
			JobTimeout:      5 * time.Minute,
			StaleAfter:      30 * time.Minute,
			ArtifactDir:     "artifacts",
			DailyReportHour: 2,
		},
	}
}

func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	_ = k.Load(file.Provider("configs/config.yaml"), yaml.Parser())

	if err := k.Load(env.Provider("CARETRAIL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CARETRAIL_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects misformatted option values with specific messages at the
// boundary rather than surfacing generic failures later.
func (c *Config) Validate() error {
	if _, err := ParseClock(c.Detection.BusinessHoursStart); err != nil {
		return fmt.Errorf("detection.business_hours_start %q: %w", c.Detection.BusinessHoursStart, err)
	}
	if _, err := ParseClock(c.Detection.BusinessHoursEnd); err != nil {
		return fmt.Errorf("detection.business_hours_end %q: %w", c.Detection.BusinessHoursEnd, err)
	}
	for _, day := range c.Detection.WeekendDays {
		if _, ok := weekdayNames[day]; !ok {
			return fmt.Errorf("detection.weekend_days: %q is not a weekday name", day)
		}
	}
	if c.Detection.VolumeThreshold < 0 || c.Detection.CaseloadThreshold < 0 || c.Detection.FailedLoginThreshold < 1 {
		return fmt.Errorf("detection thresholds must be non-negative (failed_login_threshold at least 1)")
	}
	if c.Reporting.Workers < 1 {
		return fmt.Errorf("reporting.workers must be at least 1")
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

// Weekdays maps the configured weekend day names to time.Weekday values.
// Validate has already rejected unknown names.
func Weekdays(names []string) map[time.Weekday]bool {
	out := make(map[time.Weekday]bool, len(names))
	for _, n := range names {
		if d, ok := weekdayNames[n]; ok {
			out[d] = true
		}
	}
	return out
}

// Clock is a minutes-since-midnight wall-clock value.
type Clock int

// ParseClock parses an HH:MM string.
func ParseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("expected HH:MM")
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("expected HH:MM in 00:00..23:59")
	}
	return Clock(h*60 + m), nil
}

// Minutes returns the clock value of t in minutes since midnight.
func Minutes(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}
