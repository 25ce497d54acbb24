package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"academy/internal/adapters/cron"
	emailAdapter "academy/internal/adapters/email"
	web "academy/internal/adapters/http"
	"academy/internal/adapters/storage"
	accountStore "academy/internal/adapters/storage/account"
	courseStore "academy/internal/adapters/storage/course"
	dripStore "academy/internal/adapters/storage/drip"
	outboxStore "academy/internal/adapters/storage/outbox"
	progressStore "academy/internal/adapters/storage/progress"
	purchaseStore "academy/internal/adapters/storage/purchase"
	verificationStore "academy/internal/adapters/storage/verification"
	"academy/internal/application/orchestrators"
	"academy/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	// WAL mode, foreign keys and a busy timeout on every connection.
	dsn := cfg.DBPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	if err := db.Ping(); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	if err := storage.MigrateDB(db, cfg.DBPath); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	timedDB := storage.NewTimedDB(db, cfg.SlowQuery)

	accounts := accountStore.NewSQLiteStore(timedDB)
	courses := courseStore.NewSQLiteStore(timedDB)
	lessons := courseStore.NewSQLiteLessonStore(timedDB)
	purchases := purchaseStore.NewSQLiteStore(timedDB)
	subs := dripStore.NewSQLiteStore(timedDB)
	codes := verificationStore.NewSQLiteStore(timedDB)
	outbox := outboxStore.NewSQLiteStore(timedDB)
	progress := progressStore.NewSQLiteStore(timedDB)

	ctx := context.Background()
	if cfg.AdminEmail != "" {
		seedDeps := orchestrators.CreateAccountDeps{AccountStore: accounts, GenerateID: uuid.NewString, Now: time.Now}
		if err := orchestrators.ExecuteSeedAdmin(ctx, seedDeps, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	renderer, err := emailAdapter.NewRenderer(cfg.AppName, time.Now)
	if err != nil {
		return fmt.Errorf("load mail templates: %w", err)
	}
	executors := orchestrators.MailExecutors(orchestrators.MailDeps{
		Sender:        newSender(cfg),
		Renderer:      renderer,
		BaseURL:       cfg.AppURL,
		ReplyTo:       cfg.MailReplyTo,
		Accounts:      accounts,
		Courses:       courses,
		Lessons:       lessons,
		Subscriptions: subs,
		Purchases:     purchases,
		GenerateID:    uuid.NewString,
		Now:           time.Now,
	})
	dispatcher := &orchestrators.Dispatcher{Executors: executors}
	processor := orchestrators.NewOutboxProcessor(outbox, executors, orchestrators.OutboxConfig{
		BatchSize:   cfg.OutboxBatchSize,
		Concurrency: cfg.WorkerConcurrency,
	})
	outboxStop := make(chan struct{})
	orchestrators.StartBackgroundWorker(processor, cfg.OutboxPollInterval, outboxStop)
	defer close(outboxStop)

	drip := orchestrators.NewDripEngine(orchestrators.DripEngineDeps{
		Courses:       courses,
		Lessons:       lessons,
		Subscriptions: subs,
		Dispatcher:    dispatcher,
		GenerateID:    uuid.NewString,
		GenerateToken: orchestrators.NewUnsubscribeToken,
		Now:           time.Now,
	})

	jobs, err := cron.New(cfg.Timezone, []cron.Job{
		{
			Name: "course_status",
			Spec: cfg.CourseStatusSpec,
			Run: func(ctx context.Context) (int, error) {
				return orchestrators.ExecuteUpdateCourseStatus(ctx, courses, time.Now())
			},
		},
		{Name: "drip_sweep", Spec: cfg.DripSweepSpec, Timeout: 30 * time.Minute, Run: drip.ProcessDailyEmails},
		{
			Name: "verification_prune",
			Spec: cfg.VerificationPruneSpec,
			Run: func(ctx context.Context) (int, error) {
				return orchestrators.ExecuteCleanupVerificationCodes(ctx, codes, time.Now())
			},
		},
		{
			Name: "outbox_purge",
			Spec: cfg.OutboxPurgeSpec,
			Run: func(ctx context.Context) (int, error) {
				return processor.Purge(ctx, time.Now().Add(-cfg.OutboxRetention))
			},
		},
		{
			Name: "session_sweep",
			Spec: cfg.SessionSweepSpec,
			Run:  func(context.Context) (int, error) { return web.SweepIdle(), nil },
		},
	})
	if err != nil {
		return fmt.Errorf("schedule jobs: %w", err)
	}

	handler := web.NewMux(&web.App{
		Accounts:      accounts,
		Courses:       courses,
		Lessons:       lessons,
		Purchases:     purchases,
		Subscriptions: subs,
		Progress:      progress,
		Outbox:        outbox,
		Drip:          drip,
		Verification: orchestrators.NewVerificationService(orchestrators.VerificationDeps{
			Codes:         codes,
			Accounts:      accounts,
			Courses:       courses,
			Subscriptions: subs,
			Drip:          drip,
			Dispatcher:    dispatcher,
			GenerateID:    uuid.NewString,
			Now:           time.Now,
		}),
		Webhook: orchestrators.NewWebhookService(orchestrators.WebhookDeps{
			Secret:     cfg.PortalyWebhookSecret,
			Accounts:   accounts,
			Courses:    courses,
			Purchases:  purchases,
			Drip:       drip,
			GenerateID: uuid.NewString,
			Now:        time.Now,
		}),
		Queue:     &orchestrators.Queue{Store: outbox, GenerateID: uuid.NewString, Now: time.Now},
		Processor: processor,
		Jobs:      jobs,
		RenderMarkdown: func(md string) (string, error) {
			html, err := emailAdapter.RenderMarkdown(md)
			return string(html), err
		},
		GenerateID: uuid.NewString,
		Now:        time.Now,
	}, web.Options{
		CSRFKey:            cfg.CSRFKey,
		Secure:             cfg.IsProduction(),
		TrustedOrigins:     cfg.TrustedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		SlowRequest:        cfg.SlowRequest,
		SessionTTL:         cfg.SessionTTL,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	jobs.Start()
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server_starting", "version", version, "addr", cfg.Addr, "env", cfg.Env,
			"schema", storage.LatestSchemaVersion(), "mail_provider", cfg.MailProvider)
		serveErr <- srv.ListenAndServe()
	}()

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-stop.Done():
	}

	slog.Info("server_stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 20*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server_shutdown_failed", "error", err)
	}
	jobs.Stop(shutdownCtx)
	return nil
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// newSender picks the mail provider; the From header carries the display name.
func newSender(cfg config.Config) emailAdapter.Sender {
	from := fmt.Sprintf("%s <%s>", cfg.MailFromName, cfg.MailFrom)
	switch cfg.MailProvider {
	case config.MailResend:
		return emailAdapter.NewResendSender(cfg.ResendKey, from)
	case config.MailSendGrid:
		return emailAdapter.NewSendGridSender(cfg.SendGridKey, from)
	}
	slog.Warn("mail_delivery_disabled", "hint", "set "+config.EnvPrefix+"_RESEND_KEY or "+config.EnvPrefix+"_SENDGRID_KEY")
	return emailAdapter.NewNoopSender()
}
