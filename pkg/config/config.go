// Package config loads pipeline configuration from the environment, with an
// optional YAML file overlay for per-deployment profiles.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the conductor.
type Config struct {
	PipelineID string    `yaml:"pipeline_id"`
	LogLevel   string    `yaml:"log_level"`
	AuditDir   string    `yaml:"audit_dir"`
	StateDir   string    `yaml:"state_dir"`
	IndexPath  string    `yaml:"index_path,omitempty"`
	RandomSeed int64     `yaml:"random_seed"`
	Review     ReviewSLA `yaml:"review_sla"`
	Telemetry  Telemetry `yaml:"telemetry"`
}

// ReviewSLA overrides the default review deadlines, in hours. Zero values
// keep the defaults.
type ReviewSLA struct {
	ResponseHours   float64 `yaml:"response_hours"`
	ResolutionHours float64 `yaml:"resolution_hours"`
	EscalationHours float64 `yaml:"escalation_hours"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Load reads configuration from environment variables, filling defaults for
// anything unset.
func Load() *Config {
	pipelineID := os.Getenv("CONDUCTOR_PIPELINE_ID")
	if pipelineID == "" {
		pipelineID = "default"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	auditDir := os.Getenv("CONDUCTOR_AUDIT_DIR")
	if auditDir == "" {
		auditDir = "./audit_logs"
	}

	stateDir := os.Getenv("CONDUCTOR_STATE_DIR")
	if stateDir == "" {
		stateDir = "./state_snapshots"
	}

	var seed int64
	if raw := os.Getenv("CONDUCTOR_RANDOM_SEED"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			seed = parsed
		}
	}

	telemetryEndpoint := os.Getenv("OTLP_ENDPOINT")
	if telemetryEndpoint == "" {
		telemetryEndpoint = "localhost:4317"
	}

	return &Config{
		PipelineID: pipelineID,
		LogLevel:   logLevel,
		AuditDir:   auditDir,
		StateDir:   stateDir,
		IndexPath:  os.Getenv("CONDUCTOR_INDEX_PATH"),
		RandomSeed: seed,
		Telemetry: Telemetry{
			Enabled:  os.Getenv("CONDUCTOR_TELEMETRY") == "true",
			Endpoint: telemetryEndpoint,
		},
	}
}

// LoadFile overlays a YAML profile on top of the environment configuration.
// Only fields set in the file replace the environment values.
func LoadFile(path string) (*Config, error) {
	cfg := Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	if overlay.PipelineID != "" {
		cfg.PipelineID = overlay.PipelineID
	}
	if overlay.LogLevel != "" {
		cfg.LogLevel = overlay.LogLevel
	}
	if overlay.AuditDir != "" {
		cfg.AuditDir = overlay.AuditDir
	}
	if overlay.StateDir != "" {
		cfg.StateDir = overlay.StateDir
	}
	if overlay.IndexPath != "" {
		cfg.IndexPath = overlay.IndexPath
	}
	if overlay.RandomSeed != 0 {
		cfg.RandomSeed = overlay.RandomSeed
	}
	if overlay.Review != (ReviewSLA{}) {
		cfg.Review = overlay.Review
	}
	if overlay.Telemetry.Enabled {
		cfg.Telemetry.Enabled = true
	}
	if overlay.Telemetry.Endpoint != "" {
		cfg.Telemetry.Endpoint = overlay.Telemetry.Endpoint
	}

	return cfg, nil
}
