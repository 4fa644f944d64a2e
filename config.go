package capsuleauth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/photocapsule/capsuleauth/tokenstore"
)

// Config defines a public type used by capsuleauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
// Every field can be set from YAML (see [LoadConfig]) or from CAPSULE_* environment variables.
type Config struct {
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	HTTP      HTTPConfig      `yaml:"http"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

/*
====================================
ENDPOINTS CONFIG
====================================
*/

// EndpointsConfig locates the backend. Paths are resolved against BaseURL.
type EndpointsConfig struct {
	BaseURL     string `yaml:"base_url" env:"CAPSULE_BASE_URL"`
	RefreshPath string `yaml:"refresh_path" env:"CAPSULE_REFRESH_PATH"`
	LogoutPath  string `yaml:"logout_path" env:"CAPSULE_LOGOUT_PATH"`
	SignInPath  string `yaml:"signin_path" env:"CAPSULE_SIGNIN_PATH"`
	SignUpPath  string `yaml:"signup_path" env:"CAPSULE_SIGNUP_PATH"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig selects where the bearer token is persisted. Clients sharing a
// Redis key behave like tabs sharing browser storage.
type StorageConfig struct {
	Type     tokenstore.Type `yaml:"type" env:"CAPSULE_STORAGE_TYPE"`
	Prefix   string          `yaml:"prefix" env:"CAPSULE_STORAGE_PREFIX"`
	TokenKey string          `yaml:"token_key" env:"CAPSULE_STORAGE_TOKEN_KEY"`
}

/*
====================================
REDIS CONFIG
====================================
*/

// RedisConfig is used when the builder is not handed a client and
// Storage.Type is "redis".
type RedisConfig struct {
	Addr        string        `yaml:"addr" env:"CAPSULE_REDIS_ADDR"`
	Password    string        `yaml:"password" env:"CAPSULE_REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"CAPSULE_REDIS_DB"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"CAPSULE_REDIS_DIAL_TIMEOUT"`
}

/*
====================================
HTTP CONFIG
====================================
*/

// HTTPConfig tunes outbound calls.
type HTTPConfig struct {
	// Timeout bounds business calls made by Fetch. Zero leaves them to the caller's context.
	Timeout time.Duration `yaml:"timeout" env:"CAPSULE_HTTP_TIMEOUT"`
	// RefreshTimeout bounds one refresh exchange regardless of waiting callers.
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"CAPSULE_HTTP_REFRESH_TIMEOUT"`
	// LogoutTimeout bounds the background logout notification.
	LogoutTimeout time.Duration `yaml:"logout_timeout" env:"CAPSULE_HTTP_LOGOUT_TIMEOUT"`
	// MaxErrorBody caps how many bytes of a failure body are kept in errors.
	MaxErrorBody int64  `yaml:"max_error_body" env:"CAPSULE_HTTP_MAX_ERROR_BODY"`
	UserAgent    string `yaml:"user_agent" env:"CAPSULE_HTTP_USER_AGENT"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled     bool          `yaml:"enabled" env:"CAPSULE_AUDIT_ENABLED"`
	BufferSize  int           `yaml:"buffer_size" env:"CAPSULE_AUDIT_BUFFER_SIZE"`
	DropIfFull  bool          `yaml:"drop_if_full" env:"CAPSULE_AUDIT_DROP_IF_FULL"`
	SinkTimeout time.Duration `yaml:"sink_timeout" env:"CAPSULE_AUDIT_SINK_TIMEOUT"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" env:"CAPSULE_METRICS_ENABLED"`
	EnableLatencyHistograms bool `yaml:"latency_histograms" env:"CAPSULE_METRICS_LATENCY_HISTOGRAMS"`
}

/*
====================================
LOG CONFIG
====================================
*/

// LogConfig configures [NewLogger].
type LogConfig struct {
	Level       string   `yaml:"level" env:"CAPSULE_LOG_LEVEL"`
	Format      string   `yaml:"format" env:"CAPSULE_LOG_FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"CAPSULE_LOG_OUTPUT_PATHS"`
	Development bool     `yaml:"development" env:"CAPSULE_LOG_DEVELOPMENT"`
}

// DefaultConfig returns the configuration matching the photo-capsule backend
// on localhost:8080 with an in-memory token store.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Endpoints: EndpointsConfig{
			BaseURL:     "http://localhost:8080",
			RefreshPath: "/auth/refresh",
			LogoutPath:  "/logout",
			SignInPath:  "/signin",
			SignUpPath:  "/signup",
		},
		Storage: StorageConfig{
			Type:     tokenstore.TypeMemory,
			Prefix:   "capsule",
			TokenKey: "token",
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DialTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:        30 * time.Second,
			RefreshTimeout: 10 * time.Second,
			LogoutTimeout:  5 * time.Second,
			MaxErrorBody:   4 << 10,
			UserAgent:      "capsuleauth",
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  256,
			DropIfFull:  true,
			SinkTimeout: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Log.OutputPaths = append([]string(nil), cfg.Log.OutputPaths...)
	return out
}

// LoadConfig starts from [DefaultConfig], overlays the YAML (or .env) file at
// path when path is not empty, then overlays CAPSULE_* environment variables,
// and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	base, err := url.Parse(c.Endpoints.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return errors.New("Endpoints BaseURL must be an absolute URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return errors.New("Endpoints BaseURL must use http or https")
	}
	for name, p := range map[string]string{
		"RefreshPath": c.Endpoints.RefreshPath,
		"LogoutPath":  c.Endpoints.LogoutPath,
		"SignInPath":  c.Endpoints.SignInPath,
		"SignUpPath":  c.Endpoints.SignUpPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("Endpoints %s must start with /", name)
		}
	}

	switch c.Storage.Type {
	case tokenstore.TypeMemory, tokenstore.TypeRedis:
	default:
		return errors.New("Storage Type must be memory or redis")
	}
	if strings.TrimSpace(c.Storage.TokenKey) == "" {
		return errors.New("Storage TokenKey must not be empty")
	}

	if c.HTTP.Timeout < 0 {
		return errors.New("HTTP Timeout must be >= 0")
	}
	if c.HTTP.RefreshTimeout <= 0 {
		return errors.New("HTTP RefreshTimeout must be > 0")
	}
	if c.HTTP.LogoutTimeout <= 0 {
		return errors.New("HTTP LogoutTimeout must be > 0")
	}
	if c.HTTP.MaxErrorBody <= 0 {
		return errors.New("HTTP MaxErrorBody must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics latency histograms require metrics to be enabled")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return errors.New("Log Format must be json or console")
	}

	return nil
}

func (c *Config) endpoint(path string) string {
	return strings.TrimRight(c.Endpoints.BaseURL, "/") + path
}
