package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadFrom_Defaults tests a bare development start.
func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != EnvDevelopment || cfg.Addr != ":8080" || cfg.MailProvider != MailNoop {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.DripSweepSpec != "0 9 * * *" || cfg.Timezone.String() != "Asia/Taipei" {
		t.Errorf("unexpected schedule %q %v", cfg.DripSweepSpec, cfg.Timezone)
	}
	if len(cfg.CSRFKey) != 32 || cfg.LogFormat != "text" || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("unexpected csrf/log settings %d %q %v", len(cfg.CSRFKey), cfg.LogFormat, cfg.LogLevel)
	}
	if cfg.OutboxPollInterval != 5*time.Second || cfg.SlowQuery != 50*time.Millisecond || cfg.SessionTTL != 7*24*time.Hour {
		t.Errorf("unexpected durations %v %v %v", cfg.OutboxPollInterval, cfg.SlowQuery, cfg.SessionTTL)
	}
	if cfg.OutboxRetention != 30*24*time.Hour || cfg.OutboxPurgeSpec != "30 3 * * *" {
		t.Errorf("unexpected outbox purge settings %v %q", cfg.OutboxRetention, cfg.OutboxPurgeSpec)
	}
	if cfg.TrustedOrigins != nil {
		t.Errorf("TrustedOrigins = %v, want none", cfg.TrustedOrigins)
	}
}

// TestLoadFrom_EnvOverridesFile tests precedence of the environment over .env files.
func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := "ACADEMY_ADDR=:9000\nACADEMY_RESEND_KEY=re_file\nACADEMY_WORKER_CONCURRENCY=8\n"
	if err := os.WriteFile(filepath.Join(dir, ".env.development"), []byte(file), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ACADEMY_ADDR", ":7000")
	t.Setenv("ACADEMY_LOG_LEVEL", "debug")
	// godotenv sets process variables; clean the ones only the file defines.
	t.Setenv("ACADEMY_RESEND_KEY", "")
	os.Unsetenv("ACADEMY_RESEND_KEY")
	t.Setenv("ACADEMY_WORKER_CONCURRENCY", "")
	os.Unsetenv("ACADEMY_WORKER_CONCURRENCY")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Errorf("Addr = %q, want env value", cfg.Addr)
	}
	if cfg.ResendKey != "re_file" || cfg.MailProvider != MailResend || cfg.WorkerConcurrency != 8 {
		t.Errorf("expected file values, got %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

// TestLoadFrom_ProductionRequirements tests the production safeguards.
func TestLoadFrom_ProductionRequirements(t *testing.T) {
	t.Setenv("ACADEMY_ENV", "production")
	t.Setenv("ACADEMY_RESEND_KEY", "re_x")

	if _, err := LoadFrom(t.TempDir()); err == nil || !strings.Contains(err.Error(), "csrf_key") {
		t.Fatalf("expected csrf error, got %v", err)
	}
	t.Setenv("ACADEMY_CSRF_KEY", strings.Repeat("ab", 32))
	if _, err := LoadFrom(t.TempDir()); err == nil || !strings.Contains(err.Error(), "portaly_webhook_secret") {
		t.Fatalf("expected webhook secret error, got %v", err)
	}
	t.Setenv("ACADEMY_PORTALY_WEBHOOK_SECRET", "whsec")
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogFormat != "json" || !cfg.IsProduction() {
		t.Errorf("expected json logs in production, got %q", cfg.LogFormat)
	}
}

// TestConfig_Validate tests provider and key combinations.
func TestConfig_Validate(t *testing.T) {
	base := Config{WorkerConcurrency: 1, OutboxPollInterval: time.Second, OutboxRetention: time.Hour, SessionTTL: time.Hour, LogFormat: "text"}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"noop in development", func(c *Config) { c.MailProvider = MailNoop }, false},
		{"noop in production", func(c *Config) { c.MailProvider = MailNoop; c.Env = EnvProduction; c.PortalyWebhookSecret = "s" }, true},
		{"sendgrid without key", func(c *Config) { c.MailProvider = MailSendGrid }, true},
		{"sendgrid with key", func(c *Config) { c.MailProvider = MailSendGrid; c.SendGridKey = "SG.x" }, false},
		{"unknown provider", func(c *Config) { c.MailProvider = "pigeon" }, true},
		{"zero workers", func(c *Config) { c.MailProvider = MailNoop; c.WorkerConcurrency = 0 }, true},
		{"zero session ttl", func(c *Config) { c.MailProvider = MailNoop; c.SessionTTL = 0 }, true},
		{"zero outbox retention", func(c *Config) { c.MailProvider = MailNoop; c.OutboxRetention = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" admin.example.com, ,shop.example.com ")
	if len(got) != 2 || got[0] != "admin.example.com" || got[1] != "shop.example.com" {
		t.Errorf("splitList = %q", got)
	}
}
