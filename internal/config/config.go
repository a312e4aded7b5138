package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Job store backends.
const (
	JobStoreMemory = "memory"
	JobStoreSQLite = "sqlite"
)

// Config holds the service configuration. It is built once by Load and
// passed to constructors; nothing reads it from package state.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Billing  BillingConfig  `yaml:"billing"`
	Checks   ChecksConfig   `yaml:"checks"`
	Log      LogConfig      `yaml:"log"`
	Postgres PostgresConfig `yaml:"postgres"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// HTTPConfig configures the web front end.
type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// BillingConfig holds defaults for bill calculation.
type BillingConfig struct {
	Rate           float64 `yaml:"rate"`
	FixedFee       float64 `yaml:"fixed_fee"`
	RoundingDigits int     `yaml:"rounding_digits"`
	UsageColumn    string  `yaml:"usage_column"`
	PreviewRows    int     `yaml:"preview_rows"`
	Currency       string  `yaml:"currency"`
	SampleFile     string  `yaml:"sample_file"`
}

// ChecksConfig configures the background test and coverage runner.
type ChecksConfig struct {
	WorkDir    string   `yaml:"work_dir"`
	StaticDir  string   `yaml:"static_dir"`
	GoBinary   string   `yaml:"go_binary"`
	Packages   []string `yaml:"packages"`
	CoverPkg   string   `yaml:"cover_pkg"`
	JobStore   string   `yaml:"job_store"`
	SQLitePath string   `yaml:"sqlite_path"`
	WebhookURL string   `yaml:"webhook_url"`
	// Timeout bounds a single check run.
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PostgresConfig configures the optional usage readings database.
type PostgresConfig struct {
	DSN           string `yaml:"dsn"`
	ReadingsTable string `yaml:"readings_table"`
}

// MQTTConfig configures the optional bill publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:           ":5000",
			MaxUploadBytes: 10 << 20,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
		},
		Billing: BillingConfig{
			Rate:           0.25,
			FixedFee:       10.0,
			RoundingDigits: 2,
			UsageColumn:    "kWh",
			PreviewRows:    200,
			Currency:       "USD",
			SampleFile:     "sample_usage_data_month.csv",
		},
		Checks: ChecksConfig{
			WorkDir:    ".",
			StaticDir:  "static",
			GoBinary:   "go",
			Packages:   []string{"./internal/billing/..."},
			CoverPkg:   "./internal/billing/domain/...",
			JobStore:   JobStoreMemory,
			SQLitePath: filepath.FromSlash("var/checks.db"),
			Timeout:    10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Postgres: PostgresConfig{
			ReadingsTable: "usage_readings",
		},
		MQTT: MQTTConfig{
			ClientID:    "fixedrate",
			TopicPrefix: "fixedrate",
		},
	}
}

// DefaultPath returns the config path used when none is given.
func DefaultPath() string {
	if path := os.Getenv("FIXEDRATE_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

// Load builds the configuration from defaults, the YAML file at path and
// environment overrides, in that order. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("config: http.addr required")
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		return errors.New("config: http.max_upload_bytes must be positive")
	}
	if c.Billing.Rate < 0 || c.Billing.FixedFee < 0 {
		return errors.New("config: billing rate and fixed fee must be >= 0")
	}
	if c.Billing.UsageColumn == "" {
		return errors.New("config: billing.usage_column required")
	}
	if c.Billing.PreviewRows < 0 {
		return errors.New("config: billing.preview_rows must be >= 0")
	}
	switch c.Checks.JobStore {
	case JobStoreMemory:
	case JobStoreSQLite:
		if c.Checks.SQLitePath == "" {
			return errors.New("config: checks.sqlite_path required for sqlite job store")
		}
	default:
		return fmt.Errorf("config: unknown job store %q", c.Checks.JobStore)
	}
	if c.Checks.StaticDir == "" {
		return errors.New("config: checks.static_dir required")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("config: mqtt.broker required when mqtt is enabled")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTP.Addr = getenvDefault("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Billing.Rate = getenvFloatDefault("RATE_PER_KWH", cfg.Billing.Rate)
	cfg.Billing.FixedFee = getenvFloatDefault("FIXED_FEE", cfg.Billing.FixedFee)
	cfg.Billing.RoundingDigits = getenvIntDefault("ROUNDING_DIGITS", cfg.Billing.RoundingDigits)
	cfg.Billing.Currency = getenvDefault("CURRENCY", cfg.Billing.Currency)
	cfg.Checks.StaticDir = getenvDefault("STATIC_DIR", cfg.Checks.StaticDir)
	cfg.Checks.JobStore = getenvDefault("JOB_STORE", cfg.Checks.JobStore)
	cfg.Checks.SQLitePath = getenvDefault("JOB_STORE_PATH", cfg.Checks.SQLitePath)
	cfg.Checks.WebhookURL = getenvDefault("CHECKS_WEBHOOK_URL", cfg.Checks.WebhookURL)
	if pkgs := splitCSV(os.Getenv("CHECKS_PACKAGES")); len(pkgs) > 0 {
		cfg.Checks.Packages = pkgs
	}
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Postgres.DSN = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.Postgres.DSN))
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		cfg.MQTT.Broker = broker
		cfg.MQTT.Enabled = true
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
