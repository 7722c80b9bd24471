package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sandbox.Interpreter != "prologd" {
		t.Errorf("Sandbox.Interpreter = %q, want prologd", cfg.Sandbox.Interpreter)
	}
	if cfg.Sandbox.Timeout != 5*time.Second {
		t.Errorf("Sandbox.Timeout = %s, want 5s", cfg.Sandbox.Timeout)
	}
	if !cfg.Sandbox.DropPrivileges || cfg.Sandbox.UID != 65534 {
		t.Errorf("sandbox should drop to nobody by default, got drop=%v uid=%d", cfg.Sandbox.DropPrivileges, cfg.Sandbox.UID)
	}
	if cfg.Grading.MaxCases != 100 {
		t.Errorf("Grading.MaxCases = %d, want 100", cfg.Grading.MaxCases)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestDefaultConfig_WriteTimeoutFitsTestingRun(t *testing.T) {
	cfg := DefaultConfig()

	// Every case may run to its timeout and then wait out ProcessWaitDelay.
	worst := time.Duration(cfg.Grading.MaxCases) * (cfg.Sandbox.Timeout + ProcessWaitDelay)
	if cfg.Server.WriteTimeout <= worst {
		t.Errorf("WriteTimeout %s does not cover %d cases of worst case %s",
			cfg.Server.WriteTimeout, cfg.Grading.MaxCases, worst)
	}
	if got, want := cfg.TestingBudget(cfg.Grading.MaxCases), worst+ResponseMargin; got != want {
		t.Errorf("TestingBudget = %s, want %s", got, want)
	}
	if cfg.Server.WriteTimeout < cfg.TestingBudget(cfg.Grading.MaxCases) {
		t.Errorf("WriteTimeout %s below TestingBudget %s", cfg.Server.WriteTimeout, cfg.TestingBudget(cfg.Grading.MaxCases))
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return DefaultConfig()
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"no interpreter", func(c *Config) { c.Sandbox.Interpreter = "" }, true},
		{"no import dir", func(c *Config) { c.Sandbox.ImportDir = "" }, true},
		{"zero timeout", func(c *Config) { c.Sandbox.Timeout = 0 }, true},
		{"timeout over a minute", func(c *Config) { c.Sandbox.Timeout = 2 * time.Minute }, true},
		{"drop to root", func(c *Config) { c.Sandbox.UID = 0 }, true},
		{"no drop, uid ignored", func(c *Config) {
			c.Sandbox.DropPrivileges = false
			c.Sandbox.UID = 0
		}, false},
		{"max_concurrent 0", func(c *Config) { c.Sandbox.MaxConcurrent = 0 }, true},
		{"tiny output cap", func(c *Config) { c.Sandbox.MaxOutputBytes = 10 }, true},
		{"max_code_bytes 0", func(c *Config) { c.Sandbox.MaxCodeBytes = 0 }, true},
		{"max_cases 0", func(c *Config) { c.Grading.MaxCases = 0 }, true},
		{"write timeout shorter than a full testing run", func(c *Config) { c.Server.WriteTimeout = 5 * time.Minute }, true},
		{"more cases than write timeout covers", func(c *Config) { c.Grading.MaxCases = 1000 }, true},
		{"fewer, longer cases within write timeout", func(c *Config) {
			c.Sandbox.Timeout = 30 * time.Second
			c.Grading.MaxCases = 20
		}, false},
		{"sample rate above 1", func(c *Config) { c.Tracing.Sample = 1.5 }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }, true},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
sandbox:
  interpreter: /opt/prologd/bin/prologd
  import_dir: /opt/prologd/import/pld
  timeout: 3s
  max_concurrent: 4
grading:
  max_cases: 20
security:
  allowed_origins: ["https://judge.example"]
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Sandbox.Timeout != 3*time.Second {
		t.Errorf("Sandbox.Timeout = %s, want 3s", cfg.Sandbox.Timeout)
	}
	if cfg.Sandbox.MaxConcurrent != 4 {
		t.Errorf("Sandbox.MaxConcurrent = %d, want 4", cfg.Sandbox.MaxConcurrent)
	}
	if cfg.Grading.MaxCases != 20 {
		t.Errorf("Grading.MaxCases = %d, want 20", cfg.Grading.MaxCases)
	}
	if cfg.Sandbox.ImportDir != "/opt/prologd/import/pld" {
		t.Errorf("Sandbox.ImportDir = %q", cfg.Sandbox.ImportDir)
	}
	// Unset keys keep their defaults.
	if cfg.Sandbox.UID != 65534 || cfg.Grading.MaxRoutineBytes != 16*1024 {
		t.Errorf("defaults lost: uid=%d max_routine=%d", cfg.Sandbox.UID, cfg.Grading.MaxRoutineBytes)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sandbox:\n  timeout: 0s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("DATABASE_DSN", "postgres://judge@db/judge")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://judge@db/judge" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestApplyEnv_MalformedPort(t *testing.T) {
	t.Setenv("PORT", "http")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Server.Port != 8080 {
		t.Errorf("malformed PORT should be ignored, got %d", cfg.Server.Port)
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
