// Package config loads the operator's environment-variable configuration
// (spec §6) into a typed, validated Config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ServiceTarget is the unit of monitoring: a logical service identifier, a
// platform region, and per-service override thresholds. Immutable once
// loaded (spec §3).
type ServiceTarget struct {
	Name                  string   `json:"name" validate:"required"`
	Region                string   `json:"region" validate:"required"`
	ErrorThreshold        *float64 `json:"error_threshold,omitempty"`
	LatencyP95ThresholdMS *float64 `json:"latency_p95_threshold_ms,omitempty"`
	MinRequestCount       *int     `json:"min_request_count,omitempty"`
}

// Thresholds returns this target's effective thresholds, falling back to
// the process defaults for any field left unset.
func (t ServiceTarget) Thresholds(defaults Thresholds) Thresholds {
	eff := defaults
	if t.ErrorThreshold != nil {
		eff.ErrorThresholdPct = *t.ErrorThreshold
	}
	if t.LatencyP95ThresholdMS != nil {
		eff.LatencyP95ThresholdMS = *t.LatencyP95ThresholdMS
	}
	if t.MinRequestCount != nil {
		eff.MinRequestCount = *t.MinRequestCount
	}
	return eff
}

// Thresholds are the anomaly-classification thresholds (spec §4.1).
type Thresholds struct {
	ErrorThresholdPct     float64
	LatencyP95ThresholdMS float64
	LatencyP99ThresholdMS float64
	MinRequestCount       int
}

// ExecutorBounds are the executor's safety clamps (spec §4.6).
type ExecutorBounds struct {
	MinInstancesFloor   int `validate:"gte=0"`
	MinInstancesCeiling int `validate:"gtefield=MinInstancesFloor"`
	MaxInstancesFloor   int `validate:"gte=0"`
	MaxInstancesCeiling int `validate:"gtefield=MaxInstancesFloor"`
}

// Config is the process-wide, validated configuration loaded once at
// startup (spec §6). It is read-only after Load returns.
type Config struct {
	ProjectID         string `validate:"required"`
	Region            string
	ScanWindowMinutes int
	Thresholds        Thresholds
	Targets           []ServiceTarget `validate:"required,min=1,dive"`
	Executor          ExecutorBounds
	DryRun            bool

	BusTopic          string
	BusSubscription   string
	IncidentsTable    string
	ActionsTable      string

	// Transport endpoints. Not named by spec.md §6 directly, but required
	// to construct the clients the domain operations in §4 run over.
	DatabaseURL        string
	RedisAddr          string
	TelemetryEndpoint  string
	GeminiAPIKey       string
	SlackToken         string
	SlackChannel       string
	HTTPPort           string
	MetricsPort        string
}

// Load reads the operator's configuration from the process environment,
// applying the defaults from spec §6 and validating the result.
func Load() (*Config, error) {
	cfg := &Config{
		ProjectID:         os.Getenv("PROJECT_ID"),
		Region:            getEnvOrDefault("REGION", "us-central1"),
		ScanWindowMinutes: getEnvIntOrDefault("SCAN_WINDOW_MINUTES", 5),
		Thresholds: Thresholds{
			ErrorThresholdPct:     getEnvFloatOrDefault("ERROR_THRESHOLD", 5.0),
			LatencyP95ThresholdMS: getEnvFloatOrDefault("LATENCY_P95_THRESHOLD_MS", 600),
			LatencyP99ThresholdMS: getEnvFloatOrDefault("LATENCY_P99_THRESHOLD_MS", 1000),
			MinRequestCount:       getEnvIntOrDefault("MIN_REQUEST_COUNT", 100),
		},
		Executor: ExecutorBounds{
			MinInstancesFloor:   getEnvIntOrDefault("MIN_INSTANCES_FLOOR", 0),
			MinInstancesCeiling: getEnvIntOrDefault("MIN_INSTANCES_CEILING", 5),
			MaxInstancesFloor:   getEnvIntOrDefault("MAX_INSTANCES_FLOOR", 10),
			MaxInstancesCeiling: getEnvIntOrDefault("MAX_INSTANCES_CEILING", 100),
		},
		DryRun:          getEnvBoolOrDefault("DRY_RUN_MODE", false),
		BusTopic:        getEnvOrDefault("BUS_TOPIC", "actions"),
		BusSubscription: getEnvOrDefault("BUS_SUBSCRIPTION", "fixer"),
		IncidentsTable:  getEnvOrDefault("INCIDENTS_COLLECTION", "incidents"),
		ActionsTable:    getEnvOrDefault("ACTIONS_COLLECTION", "actions"),

		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		TelemetryEndpoint: os.Getenv("TELEMETRY_ENDPOINT"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		SlackToken:        os.Getenv("SLACK_TOKEN"),
		SlackChannel:      getEnvOrDefault("SLACK_CHANNEL", "#incidents"),
		HTTPPort:          getEnvOrDefault("HTTP_PORT", "8080"),
		MetricsPort:       getEnvOrDefault("METRICS_PORT", "9090"),
	}

	targets, err := loadTargets(cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("loading target services: %w", err)
	}
	cfg.Targets = targets

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadTargets implements spec §6's two target-list encodings, preferring
// TARGET_SERVICES_JSON over the comma-separated TARGET_SERVICES.
func loadTargets(defaultRegion string) ([]ServiceTarget, error) {
	if raw := os.Getenv("TARGET_SERVICES_JSON"); raw != "" {
		var targets []ServiceTarget
		if err := json.Unmarshal([]byte(raw), &targets); err != nil {
			return nil, fmt.Errorf("parsing TARGET_SERVICES_JSON: %w", err)
		}
		for i := range targets {
			if targets[i].Region == "" {
				targets[i].Region = defaultRegion
			}
		}
		return targets, nil
	}

	if raw := os.Getenv("TARGET_SERVICES"); raw != "" {
		names := strings.Split(raw, ",")
		targets := make([]ServiceTarget, 0, len(names))
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			targets = append(targets, ServiceTarget{Name: name, Region: defaultRegion})
		}
		return targets, nil
	}

	return nil, fmt.Errorf("one of TARGET_SERVICES_JSON or TARGET_SERVICES must be set")
}

// ScanWindow returns the configured scan window as a time.Duration.
func (c *Config) ScanWindow() time.Duration {
	return time.Duration(c.ScanWindowMinutes) * time.Minute
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
