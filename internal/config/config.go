// Package config loads and validates the service configuration from an
// optional YAML file plus environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/anders-planck/parseur/internal/database/postgres"
	"github.com/anders-planck/parseur/internal/infrastructure/llm"
	"github.com/anders-planck/parseur/internal/infrastructure/objectstore"
	"github.com/anders-planck/parseur/pkg/logger"
)

// DefaultMaxFileSize caps uploads at 10 MiB.
const DefaultMaxFileSize = 10 * 1024 * 1024

// DefaultAllowedMimeTypes lists the accepted upload content types.
var DefaultAllowedMimeTypes = []string{
	"application/pdf", "image/jpeg", "image/png", "image/webp",
}

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig          `mapstructure:"server"`
	Database    postgres.Config       `mapstructure:"database"`
	ObjectStore objectstore.Config    `mapstructure:"object_store"`
	LLM         LLMConfig             `mapstructure:"llm"`
	Pipeline    PipelineConfig        `mapstructure:"pipeline"`
	Upload      UploadConfig          `mapstructure:"upload"`
	Realtime    RealtimeConfig        `mapstructure:"realtime"`
	Log         logger.Config         `mapstructure:"log"`
	Auth        AuthConfig            `mapstructure:"auth"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LLMConfig names the default provider and configures each adapter.
type LLMConfig struct {
	DefaultProvider string                `mapstructure:"default_provider"`
	Providers       map[string]llm.Config `mapstructure:"providers"`
}

// PipelineConfig tunes the processing pipeline and dispatch.
type PipelineConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	StepRetries     int           `mapstructure:"step_retries"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	RequireAll      bool          `mapstructure:"require_all"`

	// MultiProviderTypes restricts fan-out to important document types.
	// Empty means fan out for everything.
	MultiProviderTypes []string `mapstructure:"multi_provider_types"`

	// MultiProviderMinSize additionally enables fan-out for large files.
	MultiProviderMinSize int64 `mapstructure:"multi_provider_min_size"`
}

// UploadConfig constrains the enqueue entry point.
type UploadConfig struct {
	MaxFileSize      int64    `mapstructure:"max_file_size"`
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"`
}

// RealtimeConfig tunes the event bus and SSE fan-out.
type RealtimeConfig struct {
	SubscriberLimit   int           `mapstructure:"subscriber_limit"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// AuthConfig maps API keys onto owner principals.
type AuthConfig struct {
	// APIKeys maps key -> user ID.
	APIKeys map[string]string `mapstructure:"api_keys"`
}

// Load reads configuration from the optional YAML file at path plus the
// environment, applying defaults and validating the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// ALLOWED_MIME_TYPES arrives as a comma-separated string.
	if raw := v.GetString("upload.allowed_mime_types_raw"); raw != "" {
		cfg.Upload.AllowedMimeTypes = splitAndTrim(raw)
	}
	if len(cfg.Upload.AllowedMimeTypes) == 0 {
		cfg.Upload.AllowedMimeTypes = DefaultAllowedMimeTypes
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0) // SSE requires no write deadline
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("llm.default_provider", llm.ProviderAnthropic)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.step_retries", 3)
	v.SetDefault("pipeline.provider_timeout", 30*time.Second)

	v.SetDefault("upload.max_file_size", DefaultMaxFileSize)

	v.SetDefault("realtime.subscriber_limit", 100)
	v.SetDefault("realtime.heartbeat_interval", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindEnv wires the documented environment keys onto config paths.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("database.url", "DB_URL")

	_ = v.BindEnv("object_store.endpoint", "OBJECT_STORE_ENDPOINT")
	_ = v.BindEnv("object_store.region", "OBJECT_STORE_REGION")
	_ = v.BindEnv("object_store.bucket", "OBJECT_STORE_BUCKET")
	_ = v.BindEnv("object_store.access_key", "OBJECT_STORE_ACCESS_KEY")
	_ = v.BindEnv("object_store.secret_key", "OBJECT_STORE_SECRET_KEY")
	_ = v.BindEnv("object_store.use_ssl", "OBJECT_STORE_USE_SSL")
	_ = v.BindEnv("object_store.force_path_style", "OBJECT_STORE_FORCE_PATH_STYLE")

	_ = v.BindEnv("llm.default_provider", "LLM_DEFAULT_PROVIDER")
	for _, provider := range []string{llm.ProviderOpenAI, llm.ProviderAnthropic} {
		upper := strings.ToUpper(provider)
		_ = v.BindEnv("llm.providers."+provider+".api_key", "PROVIDER_"+upper+"_API_KEY")
		_ = v.BindEnv("llm.providers."+provider+".model", "PROVIDER_"+upper+"_MODEL")
	}

	_ = v.BindEnv("upload.max_file_size", "MAX_FILE_SIZE")
	_ = v.BindEnv("upload.allowed_mime_types_raw", "ALLOWED_MIME_TYPES")

	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

// Validate checks the parts without workable defaults.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url (DB_URL) is required")
	}
	if c.ObjectStore.Bucket == "" {
		return fmt.Errorf("object_store.bucket (OBJECT_STORE_BUCKET) is required")
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive")
	}

	configured := 0
	for name, p := range c.LLM.Providers {
		if p.APIKey != "" {
			configured++
			continue
		}
		delete(c.LLM.Providers, name)
	}
	if configured == 0 {
		return fmt.Errorf("at least one LLM provider needs an API key (PROVIDER_<NAME>_API_KEY)")
	}
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("default provider %q has no configuration", c.LLM.DefaultProvider)
	}
	return nil
}

// MimeAllowed reports whether the upload content type is accepted.
func (c *Config) MimeAllowed(mimeType string) bool {
	for _, allowed := range c.Upload.AllowedMimeTypes {
		if strings.EqualFold(allowed, mimeType) {
			return true
		}
	}
	return false
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
