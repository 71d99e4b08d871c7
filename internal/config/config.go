package config

import (
	"os"
	"strconv"
	"time"

	serrors "github.com/permitportal/storageops/internal/errors"
	"github.com/permitportal/storageops/internal/logging"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for the storageops CLI.
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the storageops.yaml structure.
type Definition struct {
	Version  int            `yaml:"version"`
	Storage  StorageConfig  `yaml:"storage"`
	Rotation RotationConfig `yaml:"rotation"`
	Scan     ScanConfig     `yaml:"scan"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StorageConfig describes the S3-compatible object storage endpoint.
type StorageConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Region         string `yaml:"region"`
	Bucket         string `yaml:"bucket"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// RotationConfig describes where rotated credentials come from.
type RotationConfig struct {
	// Source selects the rotation backend: ssm, secretsmanager, or assume_role.
	Source            string `yaml:"source"`
	ParameterBasePath string `yaml:"parameter_base_path"`
	Region            string `yaml:"region"`
	Profile           string `yaml:"profile"`
	RoleARN           string `yaml:"role_arn"`
	SessionName       string `yaml:"session_name"`

	// EngineExpiryBufferHours is the safety buffer the refresh engine applies
	// when deciding whether stored credentials are still trustworthy.
	EngineExpiryBufferHours int `yaml:"engine_expiry_buffer_hours"`
	// HealthExpiryBufferHours is the wider buffer the scheduled health check
	// uses for its needs-refresh signal.
	HealthExpiryBufferHours int `yaml:"health_expiry_buffer_hours"`
}

// ScanConfig describes the virus-scan daemon connection.
type ScanConfig struct {
	// Enabled defaults to true when absent; nil means "not set".
	Enabled        *bool  `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	TempDir        string `yaml:"temp_dir"`
}

// IsEnabled reports whether virus scanning is turned on.
func (s ScanConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// EngineExpiryBuffer returns the refresh engine's validity buffer.
func (r RotationConfig) EngineExpiryBuffer() time.Duration {
	return time.Duration(r.EngineExpiryBufferHours) * time.Hour
}

// HealthExpiryBuffer returns the health check's needs-refresh buffer.
func (r RotationConfig) HealthExpiryBuffer() time.Duration {
	return time.Duration(r.HealthExpiryBufferHours) * time.Hour
}

// ScanTimeout returns the per-scan timeout.
func (s ScanConfig) ScanTimeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Load reads, validates, and parses the storageops.yaml file, then applies
// environment overrides and defaults.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return serrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create a storageops.yaml or pass --config",
			}
		}
		return serrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	if err := validateSchema(data); err != nil {
		return err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return serrors.ConfigError{
			Field:   "yaml",
			Message: "invalid YAML syntax: " + err.Error(),
		}
	}

	applyEnvOverrides(&def)
	applyDefaults(&def)

	c.Definition = &def
	return c.Validate()
}

func applyEnvOverrides(def *Definition) {
	if v := os.Getenv("STORAGEOPS_DATABASE_URL"); v != "" {
		def.Database.URL = v
	}
	if v := os.Getenv("OBJECT_STORAGE_ENDPOINT"); v != "" {
		def.Storage.Endpoint = v
	}
	if v := os.Getenv("OBJECT_STORAGE_BUCKET"); v != "" {
		def.Storage.Bucket = v
	}
	if v := os.Getenv("OBJECT_STORAGE_REGION"); v != "" {
		def.Storage.Region = v
	}
	if v := os.Getenv("AWS_PARAMETER_BASE_PATH"); v != "" {
		def.Rotation.ParameterBasePath = v
	}
	if v := os.Getenv("AWS_ROLE_ARN"); v != "" {
		def.Rotation.RoleARN = v
	}
	if v := os.Getenv("CLAMAV_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			def.Scan.Enabled = &enabled
		}
	}
	if v := os.Getenv("CLAMAV_HOST"); v != "" {
		def.Scan.Host = v
	}
	if v := os.Getenv("CLAMAV_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			def.Scan.Port = port
		}
	}
	if v := os.Getenv("CLAMAV_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			def.Scan.TimeoutSeconds = secs
		}
	}
	if v := os.Getenv("VIRUS_SCAN_TEMP_DIR"); v != "" {
		def.Scan.TempDir = v
	}
}

func applyDefaults(def *Definition) {
	if def.Storage.Region == "" {
		def.Storage.Region = "ca-central-1"
	}
	if def.Rotation.Source == "" {
		def.Rotation.Source = "ssm"
	}
	if def.Rotation.SessionName == "" {
		def.Rotation.SessionName = "s3-access"
	}
	if def.Rotation.EngineExpiryBufferHours == 0 {
		def.Rotation.EngineExpiryBufferHours = 2
	}
	if def.Rotation.HealthExpiryBufferHours == 0 {
		def.Rotation.HealthExpiryBufferHours = 8
	}
	if def.Scan.Host == "" {
		def.Scan.Host = "127.0.0.1"
	}
	if def.Scan.Port == 0 {
		def.Scan.Port = 3310
	}
	if def.Scan.TimeoutSeconds == 0 {
		def.Scan.TimeoutSeconds = 30
	}
	if def.Scan.TempDir == "" {
		def.Scan.TempDir = "/tmp/virus_scan"
	}
	if def.Metrics.Listen == "" {
		def.Metrics.Listen = ":9465"
	}
}

// Validate checks cross-field constraints that the schema cannot express.
func (c *Config) Validate() error {
	def := c.Definition
	if def == nil {
		return serrors.ConfigError{Message: "configuration not loaded"}
	}

	if def.Storage.Bucket == "" {
		return serrors.ConfigError{
			Field:      "storage.bucket",
			Message:    "bucket is required",
			Suggestion: "Set storage.bucket or the OBJECT_STORAGE_BUCKET environment variable",
		}
	}

	switch def.Rotation.Source {
	case "ssm", "secretsmanager":
		if def.Rotation.ParameterBasePath == "" {
			return serrors.ConfigError{
				Field:      "rotation.parameter_base_path",
				Message:    "parameter base path is required for the " + def.Rotation.Source + " source",
				Suggestion: "Set rotation.parameter_base_path or AWS_PARAMETER_BASE_PATH",
			}
		}
	case "assume_role":
		if def.Rotation.RoleARN == "" {
			return serrors.ConfigError{
				Field:      "rotation.role_arn",
				Message:    "role ARN is required for the assume_role source",
				Suggestion: "Set rotation.role_arn or AWS_ROLE_ARN",
			}
		}
	default:
		return serrors.ConfigError{
			Field:      "rotation.source",
			Value:      def.Rotation.Source,
			Message:    "unknown rotation source",
			Suggestion: "Use one of: ssm, secretsmanager, assume_role",
		}
	}

	return nil
}
