// Package config loads process settings from defaults, an optional
// .env.<env> file and ACADEMY_* environment variables.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable the loader reads.
const EnvPrefix = "ACADEMY"

// Environments.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Mail providers.
const (
	MailResend   = "resend"
	MailSendGrid = "sendgrid"
	MailNoop     = "noop"
)

// Config is the resolved process configuration.
type Config struct {
	Env     string
	Addr    string
	DBPath  string
	AppName string
	AppURL  string

	AdminEmail    string
	AdminPassword string

	PortalyWebhookSecret string

	MailProvider string
	ResendKey    string
	SendGridKey  string
	MailFrom     string
	MailFromName string
	MailReplyTo  string

	CSRFKey []byte // 32 bytes; random per start outside production

	CourseStatusSpec      string
	DripSweepSpec         string
	VerificationPruneSpec string
	SessionSweepSpec      string
	OutboxPurgeSpec       string
	Timezone              *time.Location
	WorkerConcurrency     int
	OutboxBatchSize       int
	OutboxPollInterval    time.Duration
	OutboxRetention       time.Duration // done and abandoned entries older than this are purged
	SessionTTL            time.Duration
	SlowQuery             time.Duration
	SlowRequest           time.Duration
	TrustedOrigins        []string // extra origins allowed to post forms
	RateLimitPerSecond    float64
	RateLimitBurst        int
	LogLevel              slog.Level
	LogFormat             string // json or text
}

// IsProduction reports whether the process runs with production safeguards.
func (c Config) IsProduction() bool { return c.Env == EnvProduction }

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "academy.db")
	v.SetDefault("app_name", "Academy")
	v.SetDefault("app_url", "http://localhost:8080")
	v.SetDefault("admin_email", "")
	v.SetDefault("admin_password", "")
	v.SetDefault("portaly_webhook_secret", "")
	v.SetDefault("mail_provider", "")
	v.SetDefault("resend_key", "")
	v.SetDefault("sendgrid_key", "")
	v.SetDefault("mail_from", "noreply@localhost")
	v.SetDefault("mail_from_name", "Academy")
	v.SetDefault("mail_reply_to", "")
	v.SetDefault("csrf_key", "")
	v.SetDefault("course_status_spec", "* * * * *")
	v.SetDefault("drip_sweep_spec", "0 9 * * *")
	v.SetDefault("verification_prune_spec", "@hourly")
	v.SetDefault("session_sweep_spec", "*/10 * * * *")
	v.SetDefault("outbox_purge_spec", "30 3 * * *")
	v.SetDefault("timezone", "Asia/Taipei")
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("outbox_batch_size", 20)
	v.SetDefault("outbox_poll_interval", 5*time.Second)
	v.SetDefault("outbox_retention", 30*24*time.Hour)
	v.SetDefault("session_ttl", 7*24*time.Hour)
	v.SetDefault("slow_query_ms", 50)
	v.SetDefault("slow_request_ms", 500)
	v.SetDefault("trusted_origins", "")
	v.SetDefault("rate_limit_per_second", 10.0)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load resolves configuration using .env files from the working directory.
func Load() (Config, error) {
	return LoadFrom(".")
}

// LoadFrom resolves configuration, reading dir/.env.<env> when it exists.
// Variables already set in the environment win over the file.
// PRE: dir is readable or absent
// POST: Returns a validated Config or the first problem found
func LoadFrom(dir string) (Config, error) {
	env := strings.ToLower(os.Getenv(EnvPrefix + "_ENV"))
	if env == "" {
		env = EnvDevelopment
	}
	dotEnv := filepath.Join(dir, ".env."+env)
	if _, err := os.Stat(dotEnv); err == nil {
		if err := godotenv.Load(dotEnv); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", dotEnv, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("stat %s: %w", dotEnv, err)
	}

	v := newViper()
	cfg := Config{
		Env:                   env,
		Addr:                  v.GetString("addr"),
		DBPath:                v.GetString("db_path"),
		AppName:               v.GetString("app_name"),
		AppURL:                strings.TrimRight(v.GetString("app_url"), "/"),
		AdminEmail:            v.GetString("admin_email"),
		AdminPassword:         v.GetString("admin_password"),
		PortalyWebhookSecret:  v.GetString("portaly_webhook_secret"),
		MailProvider:          strings.ToLower(v.GetString("mail_provider")),
		ResendKey:             v.GetString("resend_key"),
		SendGridKey:           v.GetString("sendgrid_key"),
		MailFrom:              v.GetString("mail_from"),
		MailFromName:          v.GetString("mail_from_name"),
		MailReplyTo:           v.GetString("mail_reply_to"),
		CourseStatusSpec:      v.GetString("course_status_spec"),
		DripSweepSpec:         v.GetString("drip_sweep_spec"),
		VerificationPruneSpec: v.GetString("verification_prune_spec"),
		SessionSweepSpec:      v.GetString("session_sweep_spec"),
		OutboxPurgeSpec:       v.GetString("outbox_purge_spec"),
		WorkerConcurrency:     v.GetInt("worker_concurrency"),
		OutboxBatchSize:       v.GetInt("outbox_batch_size"),
		OutboxPollInterval:    v.GetDuration("outbox_poll_interval"),
		OutboxRetention:       v.GetDuration("outbox_retention"),
		SessionTTL:            v.GetDuration("session_ttl"),
		SlowQuery:             time.Duration(v.GetInt("slow_query_ms")) * time.Millisecond,
		SlowRequest:           time.Duration(v.GetInt("slow_request_ms")) * time.Millisecond,
		TrustedOrigins:        splitList(v.GetString("trusted_origins")),
		RateLimitPerSecond:    v.GetFloat64("rate_limit_per_second"),
		RateLimitBurst:        v.GetInt("rate_limit_burst"),
		LogFormat:             strings.ToLower(v.GetString("log_format")),
	}

	if cfg.MailProvider == "" {
		cfg.MailProvider = defaultProvider(cfg)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return Config{}, fmt.Errorf("log_level: %w", err)
	}
	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return Config{}, fmt.Errorf("timezone: %w", err)
	}
	cfg.Timezone = loc

	if cfg.CSRFKey, err = csrfKey(v.GetString("csrf_key"), cfg.IsProduction()); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// splitList parses a comma-separated setting, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// defaultProvider picks whichever mail API has a key, preferring Resend.
func defaultProvider(cfg Config) string {
	switch {
	case cfg.ResendKey != "":
		return MailResend
	case cfg.SendGridKey != "":
		return MailSendGrid
	}
	return MailNoop
}

// csrfKey decodes a 64-character hex secret. Outside production an empty
// value yields a random key, so sessions do not survive a restart.
func csrfKey(hexKey string, production bool) ([]byte, error) {
	if hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil || len(key) != 32 {
			return nil, errors.New("csrf_key must be 64 hex characters (32 bytes)")
		}
		return key, nil
	}
	if production {
		return nil, errors.New("csrf_key is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	slog.Warn("config_random_csrf_key", "hint", "set "+EnvPrefix+"_CSRF_KEY to keep sessions across restarts")
	return key, nil
}

// Validate checks cross-field rules.
func (c Config) Validate() error {
	switch c.MailProvider {
	case MailResend:
		if c.ResendKey == "" {
			return errors.New("mail_provider resend needs resend_key")
		}
	case MailSendGrid:
		if c.SendGridKey == "" {
			return errors.New("mail_provider sendgrid needs sendgrid_key")
		}
	case MailNoop:
		if c.IsProduction() {
			return errors.New("mail delivery cannot be disabled in production")
		}
	default:
		return fmt.Errorf("unknown mail_provider %q", c.MailProvider)
	}
	if c.IsProduction() && c.PortalyWebhookSecret == "" {
		return errors.New("portaly_webhook_secret is required in production")
	}
	if c.WorkerConcurrency <= 0 {
		return errors.New("worker_concurrency must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session_ttl must be positive")
	}
	if c.OutboxPollInterval <= 0 {
		return errors.New("outbox_poll_interval must be positive")
	}
	if c.OutboxRetention <= 0 {
		return errors.New("outbox_retention must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
