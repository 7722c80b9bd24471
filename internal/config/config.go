package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ProcessWaitDelay is how long the runner keeps draining output pipes after
// the interpreter exits or is killed.
const ProcessWaitDelay = 2 * time.Second

// ResponseMargin is the write time reserved for encoding and sending a
// response once the last case has finished.
const ResponseMargin = 30 * time.Second

// Config holds all application configuration. It is built once at startup
// and treated as read-only afterwards.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Grading  GradingConfig  `yaml:"grading"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// SandboxConfig describes how the interpreter is launched. The argument list
// is derived from Interpreter and ImportDir only and cannot be set per request.
type SandboxConfig struct {
	Interpreter    string        `yaml:"interpreter"`
	ImportDir      string        `yaml:"import_dir"`
	WorkDir        string        `yaml:"work_dir"`
	Timeout        time.Duration `yaml:"timeout"`
	UID            int           `yaml:"uid"`
	GID            int           `yaml:"gid"`
	DropPrivileges bool          `yaml:"drop_privileges"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	MaxCodeBytes   int           `yaml:"max_code_bytes"`
}

type GradingConfig struct {
	MaxRoutineBytes int `yaml:"max_routine_bytes"`
	MaxCases        int `yaml:"max_cases"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
	AuditBuffer     int           `yaml:"audit_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Sample      float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader         string   `yaml:"api_key_header"`
	AllowedKeys          []string `yaml:"allowed_keys"`
	AllowUnauthenticated bool     `yaml:"allow_unauthenticated"`
	RateLimitRPS         float64  `yaml:"rate_limit_rps"`
	RateLimitBurst       int      `yaml:"rate_limit_burst"`
	AllowedOrigins       []string `yaml:"allowed_origins"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from env or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    15 * time.Minute, // covers TestingBudget(MaxCases)
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Sandbox: SandboxConfig{
			Interpreter:    "prologd",
			ImportDir:      "import/pld",
			Timeout:        5 * time.Second,
			UID:            65534,
			GID:            65534,
			DropPrivileges: true,
			MaxConcurrent:  16,
			MaxOutputBytes: 1 << 20,
			MaxCodeBytes:   256 * 1024,
		},
		Grading: GradingConfig{
			MaxRoutineBytes: 16 * 1024,
			MaxCases:        100,
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        2,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
			AuditBuffer:     10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "prologd-judge",
			Sample:      0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ApplyEnv overrides selected fields from the process environment.
func (c *Config) ApplyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			c.Server.Port = p
		} else {
			log.Warn().Str("port", port).Msg("ignoring malformed PORT")
		}
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		c.Log.Level = lvl
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Sandbox.Interpreter == "" {
		return fmt.Errorf("sandbox.interpreter is required")
	}
	if c.Sandbox.ImportDir == "" {
		return fmt.Errorf("sandbox.import_dir is required")
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.Timeout > 60*time.Second {
		return fmt.Errorf("sandbox.timeout must be <= 60s, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.DropPrivileges && (c.Sandbox.UID <= 0 || c.Sandbox.GID <= 0) {
		return fmt.Errorf("sandbox.uid and sandbox.gid must name an unprivileged account (got %d:%d)",
			c.Sandbox.UID, c.Sandbox.GID)
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return fmt.Errorf("sandbox.max_concurrent must be >= 1")
	}
	if c.Sandbox.MaxOutputBytes < 1024 {
		return fmt.Errorf("sandbox.max_output_bytes must be >= 1024")
	}
	if c.Sandbox.MaxCodeBytes < 1 {
		return fmt.Errorf("sandbox.max_code_bytes must be >= 1")
	}
	if c.Grading.MaxCases < 1 {
		return fmt.Errorf("grading.max_cases must be >= 1")
	}
	if budget := c.TestingBudget(c.Grading.MaxCases); c.Server.WriteTimeout < budget {
		return fmt.Errorf("server.write_timeout must be >= %s to fit %d cases of %s each, got %s",
			budget, c.Grading.MaxCases, c.CaseBudget(), c.Server.WriteTimeout)
	}
	if c.Tracing.Sample < 0 || c.Tracing.Sample > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1], got %g", c.Tracing.Sample)
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CaseBudget is the longest one started run can keep a request busy.
func (c *Config) CaseBudget() time.Duration {
	return c.Sandbox.Timeout + ProcessWaitDelay
}

// TestingBudget is the write deadline a testing request with n cases needs,
// since its cases run one after another.
func (c *Config) TestingBudget(n int) time.Duration {
	return time.Duration(n)*c.CaseBudget() + ResponseMargin
}
