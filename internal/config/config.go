package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort               = 8000
	defaultDataDir            = "data"
	defaultMaxConcurrentTasks = 3
	defaultQueueDepth         = 16
	defaultMaxUploadBytes     = 20 << 20
	defaultShutdownTimeout    = 30 * time.Second
	defaultDatabaseDSN        = "analysis.db"
	defaultRedisAddr          = "127.0.0.1:6379"
	defaultQueueName          = "analysis"
	defaultMaxTokens          = 4096
	defaultTemperature        = 0.1
	defaultSchedule           = "@every 10m"
	defaultOrphanFileAge      = time.Hour
)

// Config describes runtime configuration for the service.
type Config struct {
	Port               int           `yaml:"port" validate:"min=1,max=65535"`
	DataDir            string        `yaml:"data_dir" validate:"required"`
	AllowedExtensions  []string      `yaml:"allowed_extensions" validate:"min=1,dive,startswith=."`
	MaxUploadBytes     int64         `yaml:"max_upload_bytes" validate:"min=1"`
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	QueueDepth         int           `yaml:"queue_depth" validate:"min=0"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" validate:"min=0"`

	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Queue       QueueConfig       `yaml:"queue"`
	LLM         LLMConfig         `yaml:"llm"`
	Search      SearchConfig      `yaml:"search"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

type QueueConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=local redis"`
	RedisAddr string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	Name      string `yaml:"name" validate:"required"`
}

type LLMConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=offline anthropic gemini"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Temperature       float64       `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens         int           `yaml:"max_tokens" validate:"min=1"`
	Timeout           time.Duration `yaml:"timeout" validate:"min=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"min=0"`
}

// SearchConfig enables web search when an API key is present.
type SearchConfig struct {
	APIKey            string  `yaml:"api_key"`
	URL               string  `yaml:"url" validate:"omitempty,url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
}

type MaintenanceConfig struct {
	Schedule        string        `yaml:"schedule"`
	// OrphanFileAge must exceed the time a submission takes to create its
	// record after saving the document.
	OrphanFileAge   time.Duration `yaml:"orphan_file_age" validate:"min=1m"`
	RecordRetention time.Duration `yaml:"record_retention" validate:"min=0"`
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns defaults matching the original single-node deployment:
// local dispatch, SQLite in analysis.db, documents under data/.
func Default() Config {
	return Config{
		Port:               defaultPort,
		DataDir:            defaultDataDir,
		AllowedExtensions:  []string{".pdf"},
		MaxUploadBytes:     defaultMaxUploadBytes,
		MaxConcurrentTasks: defaultMaxConcurrentTasks,
		QueueDepth:         defaultQueueDepth,
		ShutdownTimeout:    defaultShutdownTimeout,
		Log:                LogConfig{Level: "info", Format: "console"},
		Database:           DatabaseConfig{Driver: "sqlite", DSN: defaultDatabaseDSN},
		Queue:              QueueConfig{Backend: "local", RedisAddr: defaultRedisAddr, Name: defaultQueueName},
		LLM: LLMConfig{
			Provider:    "offline",
			Temperature: defaultTemperature,
			MaxTokens:   defaultMaxTokens,
		},
		Maintenance: MaintenanceConfig{Schedule: defaultSchedule, OrphanFileAge: defaultOrphanFileAge},
	}
}

// Load reads YAML config from the provided path. A missing or empty file
// yields defaults. Values from a .env file and the process environment are
// applied on top of the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	// .env is optional; a missing file is fine
	_ = godotenv.Load()

	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	applyEnv(&cfg, os.Getenv)
	// basic normalization
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	// validate concurrency explicitly: values < 1 are not allowed
	if cfg.MaxConcurrentTasks < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_tasks: %d (must be >= 1)", cfg.MaxConcurrentTasks)
	}
	cfg.AllowedExtensions = normalizeExtensions(cfg.AllowedExtensions)
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints declared in struct tags.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.LLM.Provider != "offline" && cfg.LLM.APIKey == "" {
		return fmt.Errorf("invalid config: llm provider %q requires an api key", cfg.LLM.Provider)
	}
	return nil
}

// applyEnv overrides secrets and endpoints from the environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := getenv("FINDOC_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := getenv("FINDOC_REDIS_ADDR"); v != "" {
		cfg.Queue.RedisAddr = v
	}
	if v := getenv("FINDOC_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = getenv("SERPER_API_KEY")
	}
	if cfg.LLM.APIKey != "" {
		return
	}
	switch strings.ToLower(cfg.LLM.Provider) {
	case "anthropic":
		cfg.LLM.APIKey = getenv("ANTHROPIC_API_KEY")
	case "gemini":
		cfg.LLM.APIKey = getenv("GOOGLE_API_KEY")
	}
}

func normalizeExtensions(in []string) []string {
	if len(in) == 0 {
		return []string{".pdf"}
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
