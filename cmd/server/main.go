package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	emailPkg "assocmail/internal/adapters/email"
	web "assocmail/internal/adapters/http"
	"assocmail/internal/adapters/http/perf"
	"assocmail/internal/adapters/rabbitmq"
	redisLock "assocmail/internal/adapters/redis"
	"assocmail/internal/adapters/storage"
	automationStore "assocmail/internal/adapters/storage/automation"
	logStore "assocmail/internal/adapters/storage/deliverylog"
	emailStore "assocmail/internal/adapters/storage/email"
	memberStore "assocmail/internal/adapters/storage/member"
	"assocmail/internal/adapters/storage/postgres"
	queueStore "assocmail/internal/adapters/storage/queue"
	"assocmail/internal/application/orchestrators"
	"assocmail/internal/application/scheduler"
	"assocmail/internal/config"
	"assocmail/internal/domain/automation"
	"assocmail/internal/logging"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const (
	slowDelivery    = 2 * time.Second
	slowQuery       = 50 * time.Millisecond
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Performance instrumentation shared by queries, deliveries and requests
	collector := perf.NewCollector(perf.DefaultRingSize)

	stores, closeStores, err := openStores(ctx, cfg, collector)
	if err != nil {
		logger.Fatal("storage_init_failed", zap.Error(err))
	}
	defer closeStores()

	now := time.Now
	loc := cfg.Location()

	if cfg.SeedDefaults {
		seeded, err := orchestrators.ExecuteSeedDefaults(ctx, orchestrators.SeedDefaultsDeps{
			TemplateStore: stores.TemplateStore,
			RuleStore:     stores.RuleStore,
			Now:           now,
		})
		if err != nil {
			logger.Fatal("seed_failed", zap.Error(err))
		}
		logger.Info("defaults_seeded", zap.Int("templates", seeded.Templates), zap.Int("rules", seeded.Rules))
	}

	sender := newSender(cfg)
	timedSender := emailPkg.NewTimedSender(sender, collector, slowDelivery)

	processDeps := orchestrators.ProcessQueueDeps{
		QueueStore: stores.QueueStore,
		LogStore:   stores.LogStore,
		Sender:     timedSender,
		Now:        now,
		GenerateID: uuid.NewString,
	}
	expiringDeps := orchestrators.ExpiringDeps{
		MemberStore:   stores.MemberStore,
		TemplateStore: stores.TemplateStore,
		QueueStore:    stores.QueueStore,
		LogStore:      stores.LogStore,
		Now:           now,
		Location:      loc,
		MaxRetries:    cfg.MaxRetries,
	}
	triggerDeps := orchestrators.TriggerDeps{
		MemberStore:   stores.MemberStore,
		RuleStore:     stores.RuleStore,
		TemplateStore: stores.TemplateStore,
		QueueStore:    stores.QueueStore,
		Now:           now,
		Location:      loc,
		MaxRetries:    cfg.MaxRetries,
	}

	// Periodic ticks; Redis makes the tick lock shared across instances
	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if cfg.RedisURL != "" {
		client, err := redisLock.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis_init_failed", zap.Error(err))
		}
		defer client.Close()
		locker = redisLock.NewLocker(client, redisLock.DefaultTTL)
	}
	sched := scheduler.New(locker, loc,
		scheduler.ProcessQueueJob(cfg.QueueSchedule, cfg.QueueBatchSize, processDeps),
		scheduler.ExpiringSweepJob(cfg.SweepSchedule, expiringDeps),
	)
	if err := sched.Start(); err != nil {
		logger.Fatal("scheduler_start_failed", zap.Error(err))
	}

	if cfg.RabbitMQURL != "" {
		consumer, err := rabbitmq.Dial(cfg.RabbitMQURL,
			rabbitmq.Config{Exchange: cfg.EventsExchange, Queue: cfg.EventsQueue},
			func(ctx context.Context, trigger automation.TriggerType, memberID int64) error {
				_, err := orchestrators.ExecuteTriggerAutomation(ctx,
					orchestrators.TriggerInput{Trigger: trigger, MemberID: memberID}, triggerDeps)
				return err
			})
		if err != nil {
			logger.Fatal("rabbitmq_init_failed", zap.Error(err))
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("event_consumer_stopped", zap.Error(err))
			}
		}()
	}

	csrfKey := cfg.CSRFKeyBytes()
	if csrfKey == nil && cfg.IsProduction() {
		logger.Warn("csrf_key_missing", zap.String("hint", "set ASSOCMAIL_CSRF_KEY to protect form posts"))
	}
	if cfg.AdminKeyHash == "" {
		logger.Warn("admin_key_missing", zap.String("hint", "admin API rejects every request until ASSOCMAIL_ADMIN_KEY_HASH is set"))
	}
	handler := web.NewRouter(stores, web.Options{
		AdminKeyHash:  cfg.AdminKeyHash,
		CSRFKey:       csrfKey,
		SecureCookies: cfg.IsProduction(),
		Sender:        timedSender,
		Collector:     collector,
		Now:           now,
		Location:      loc,
		MaxRetries:    cfg.MaxRetries,
		BatchSize:     cfg.QueueBatchSize,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server_starting",
			zap.String("version", version),
			zap.String("addr", cfg.Addr),
			zap.String("env", cfg.Env),
			zap.String("db_driver", cfg.DBDriver),
			zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown_started")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server_shutdown_failed", zap.Error(err))
	}
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduler_shutdown_timeout")
	}
	logger.Info("shutdown_complete")
}

// openStores connects the configured driver and returns its stores.
func openStores(ctx context.Context, cfg *config.Config, collector *perf.Collector) (web.Stores, func(), error) {
	if cfg.DBDriver == config.DriverPostgres {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.DefaultPoolConfig())
		if err != nil {
			return web.Stores{}, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return web.Stores{}, nil, err
		}
		return web.Stores{
			MemberStore:   postgres.NewMemberStore(pool),
			TemplateStore: postgres.NewTemplateStore(pool),
			RuleStore:     postgres.NewRuleStore(pool),
			QueueStore:    postgres.NewQueueStore(pool),
			LogStore:      postgres.NewLogStore(pool),
		}, pool.Close, nil
	}

	// WAL mode, foreign keys and busy timeout for concurrent worker access
	dsn := cfg.SQLitePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return web.Stores{}, nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return web.Stores{}, nil, err
	}
	if err := storage.MigrateDB(db, cfg.SQLitePath); err != nil {
		db.Close()
		return web.Stores{}, nil, err
	}
	zap.L().Info("sqlite_ready", zap.String("path", cfg.SQLitePath), zap.Int("schema", storage.LatestSchemaVersion()))

	timedDB := storage.NewTimedDB(db, collector, slowQuery)
	return web.Stores{
		MemberStore:   memberStore.NewSQLiteStore(timedDB),
		TemplateStore: emailStore.NewSQLiteStore(timedDB),
		RuleStore:     automationStore.NewSQLiteStore(timedDB),
		QueueStore:    queueStore.NewSQLiteStore(timedDB),
		LogStore:      logStore.NewSQLiteStore(timedDB),
	}, func() { db.Close() }, nil
}

// newSender picks Resend when a key is configured and the noop sender otherwise.
func newSender(cfg *config.Config) emailPkg.Sender {
	if cfg.ResendKey != "" {
		zap.L().Info("email_sender_configured", zap.String("transport", "resend"))
		return emailPkg.NewResendSender(cfg.ResendKey, cfg.EmailFrom, cfg.ReplyTo)
	}
	if cfg.IsProduction() {
		zap.L().Warn("email_delivery_disabled", zap.String("hint", "set ASSOCMAIL_RESEND_KEY for real delivery"))
	} else {
		zap.L().Info("email_sender_configured", zap.String("transport", "noop"))
	}
	return emailPkg.NewNoopSender()
}
