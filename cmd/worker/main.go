// Package main - точка входа для Schedule Sync worker.
//
// Worker объединяет все стороны системы в одном процессе:
// - Периодические задачи: резервный цикл синхронизации, очистка, продление каналов
// - Debounce-диспетчер, превращающий webhook-уведомления в циклы синхронизации
// - REST API для расписания, конфликтов и управления realtime-каналами
//
// Философия: внешний календарь - источник событий, локальная база - зеркало.
// Каждый цикл либо фиксируется целиком (токен + операции), либо не оставляет
// следов и будет повторён.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aqademiq/schedule-sync/config"
	"github.com/aqademiq/schedule-sync/internal/application/command"
	"github.com/aqademiq/schedule-sync/internal/application/eventhandler"
	"github.com/aqademiq/schedule-sync/internal/application/query"
	"github.com/aqademiq/schedule-sync/internal/application/saga"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/external/gcal"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/messaging"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/persistence/postgres"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/persistence/projections"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/persistence/redis"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/scheduler"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/scheduler/jobs"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/service"
	httpapi "github.com/aqademiq/schedule-sync/internal/interface/http"
	"github.com/aqademiq/schedule-sync/internal/interface/http/handlers"
	"github.com/aqademiq/schedule-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Schedule Sync worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("checking database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПОДКЛЮЧЕНИЕ К REDIS
	// История циклов и кеш расписаний живут в Redis; без него не работает
	// ни health-скоринг, ни инвалидация проекций.
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Redis.Disabled {
		return fmt.Errorf("redis is required: cycle history and schedule cache live there")
	}

	log.Info("connecting to Redis...")
	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	redisCache, err := redis.NewCache(redisCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer func() {
		log.Info("closing Redis connection...")
		_ = redisCache.Close()
	}()
	log.Info("Redis connection established")

	scheduleCache := redis.NewScheduleCache(redisCache)
	cycleHistory := redis.NewCycleHistory(redisCache, cfg.Sync.CycleHistorySize)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	eventRepo := postgres.NewEventRepository(dbConn)
	semesterRepo := postgres.NewSemesterRepository(dbConn)
	tokenRepo := postgres.NewTokenRepository(dbConn)
	cycleStore := postgres.NewSyncCycleStore(dbConn)
	operationRepo := postgres.NewOperationRepository(dbConn)
	conflictRepo := postgres.NewConflictRepository(dbConn)
	channelRepo := postgres.NewChannelRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...", "driver", cfg.Sync.EventBusDriver)
	eventBusConfig := messaging.DefaultInMemoryEventBusConfig()
	eventBusConfig.Logger = log

	var eventBus interface {
		shared.EventBus
		Close() error
	}
	if cfg.Sync.EventBusDriver == "redis" {
		// Несколько реплик воркера делят события через Redis Pub/Sub.
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         service.NewPubSubAdapter(redisCache),
			LocalBusConfig: eventBusConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize redis event bus: %w", err)
		}
		eventBus = redisBus
	} else {
		eventBus = messaging.NewInMemoryEventBus(eventBusConfig)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. КЛИЕНТ ВНЕШНЕГО КАЛЕНДАРЯ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing calendar client...")
	gcalConfig := gcal.DefaultClientConfig(cfg.Calendar.BaseURL)
	gcalConfig.APIKey = cfg.Calendar.APIKey
	gcalConfig.Timeout = cfg.Calendar.RequestTimeout
	gcalConfig.PageSize = cfg.Calendar.PageSize
	gcalConfig.Logger = log
	gcalClient := gcal.NewClient(gcalConfig)

	calendarAdapter := service.NewCalendarAdapter(gcalClient)
	channelAdapter := service.NewChannelAdapter(gcalClient)
	historyAdapter := service.NewCycleHistoryAdapter(cycleHistory)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. COMMAND / QUERY HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application handlers...")
	performSync := command.NewPerformSyncHandler(
		tokenRepo,
		eventRepo,
		semesterRepo,
		operationRepo,
		conflictRepo,
		cycleStore,
		calendarAdapter,
		historyAdapter,
		scheduleCache,
		eventBus,
		command.PerformSyncConfig{PushMaxAttempts: cfg.Sync.PushMaxAttempts},
	)

	realtimeHandler := command.NewRealtimeHandler(
		channelRepo,
		channelAdapter,
		eventBus,
		command.RealtimeConfig{
			ChannelTTL:  cfg.Sync.ChannelTTL,
			CallbackURL: cfg.Calendar.WebhookBaseURL,
		},
	)

	resolveConflict := command.NewResolveConflictHandler(
		conflictRepo,
		eventRepo,
		operationRepo,
		scheduleCache,
		eventBus,
	)

	occurrencesHandler := query.NewGetOccurrencesHandler(eventRepo, semesterRepo)
	exportHandler := query.NewExportICSHandler(occurrencesHandler)
	conflictsHandler := query.NewGetPendingConflictsHandler(conflictRepo)
	healthHandler := query.NewGetSyncHealthHandler(historyAdapter, conflictRepo)

	connectSaga := saga.NewConnectCalendarSaga(
		tokenRepo,
		performSync,
		realtimeHandler,
		saga.DefaultConnectCalendarConfig(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ПРОЕКЦИЯ И ОБРАБОТЧИКИ СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("wiring event handlers...")
	overview := projections.NewSyncOverviewView()

	cycleConfig := eventhandler.DefaultSyncCycleConfig()
	completedHandler := eventhandler.NewOnSyncCycleCompletedHandler(overview, log, cycleConfig)
	failedHandler := eventhandler.NewOnSyncCycleFailedHandler(overview, log, cycleConfig)
	conflictResolvedHandler := eventhandler.NewOnConflictResolvedHandler(overview, log)
	realtimeToggledHandler := eventhandler.NewOnRealtimeToggledHandler(overview, log)

	subscriptions := []struct {
		eventType shared.EventType
		handler   shared.EventHandler
	}{
		{shared.EventSyncCycleCompleted, completedHandler.Handle},
		// Успешный цикл сбрасывает счётчик подряд идущих отказов пары
		{shared.EventSyncCycleCompleted, func(event shared.Event) error {
			if completed, ok := event.(shared.SyncCycleCompletedEvent); ok {
				failedHandler.ResetStreak(completed.OwnerID, completed.CalendarID)
			}
			return nil
		}},
		{shared.EventSyncCycleFailed, failedHandler.Handle},
		{shared.EventConflictAutoResolved, conflictResolvedHandler.Handle},
		{shared.EventConflictManualResolved, conflictResolvedHandler.Handle},
		{shared.EventRealtimeSyncEnabled, realtimeToggledHandler.Handle},
		{shared.EventRealtimeSyncDisabled, realtimeToggledHandler.Handle},
	}
	for _, sub := range subscriptions {
		if err := eventBus.Subscribe(sub.eventType, sub.handler); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", sub.eventType, err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. DEBOUNCE-ДИСПЕТЧЕР WEBHOOK-УВЕДОМЛЕНИЙ
	// ─────────────────────────────────────────────────────────────────────────
	dispatcherConfig := messaging.DefaultSyncDispatcherConfig(performSync.RunCycle)
	dispatcherConfig.DebounceWindow = cfg.Sync.DebounceWindow
	dispatcherConfig.Logger = log
	dispatcher, err := messaging.NewSyncDispatcher(dispatcherConfig)
	if err != nil {
		return fmt.Errorf("failed to create sync dispatcher: %w", err)
	}
	defer func() {
		log.Info("closing sync dispatcher...")
		_ = dispatcher.Close()
	}()
	if err := dispatcher.Attach(eventBus); err != nil {
		return fmt.Errorf("failed to attach dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. ПЛАНИРОВЩИК ФОНОВЫХ ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		log.Info("starting scheduler...")
		schedConfig := scheduler.DefaultSchedulerConfig()
		schedConfig.Logger = log
		schedConfig.Timezone = cfg.App.Location
		sched := scheduler.NewScheduler(schedConfig)

		if err := registerJobs(sched, cfg, log, tokenRepo, performSync, operationRepo, channelRepo, realtimeHandler); err != nil {
			return fmt.Errorf("failed to register jobs: %w", err)
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	} else {
		log.Warn("scheduler is disabled; pairs without realtime channels will not sync")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 13. HTTP API И WEBHOOK-ЭНДПОИНТ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting HTTP server...")

	healthChecker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	healthChecker.AddCheck("database", handlers.NewDatabaseCheck(dbConn))
	healthChecker.AddCheck("cache", handlers.NewCacheCheck(redisCache))
	healthChecker.AddCheck("calendar", handlers.NewCalendarCheck(gcalClient.Healthy))

	httpConfig := httpapi.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpConfig.EnableCORS = cfg.HTTP.EnableCORS
	httpConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpConfig.APIKeys = cfg.HTTP.APIKeys
	httpConfig.EnableMetrics = cfg.Observability.MetricsEnabled

	server := httpapi.NewServer(httpConfig, httpapi.Dependencies{
		GetSyncHealthHandler:       healthHandler,
		GetOccurrencesHandler:      occurrencesHandler,
		ExportICSHandler:           exportHandler,
		GetPendingConflictsHandler: conflictsHandler,
		PerformSyncHandler:         performSync,
		ResolveConflictHandler:     resolveConflict,
		RealtimeHandler:            realtimeHandler,
		ConnectCalendarSaga:        connectSaga,
		SyncOverview:               overview,
		Logger:                     apiLogger(cfg),
		HealthChecker:              healthChecker,
	})

	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 14. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Schedule Sync worker is running",
		"http_addr", server.Address(),
		"scheduler", cfg.Scheduler.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// registerJobs регистрирует все фоновые задачи с их cron-расписаниями.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	log *slog.Logger,
	tokenRepo *postgres.TokenRepository,
	performSync *command.PerformSyncHandler,
	operationRepo *postgres.OperationRepository,
	channelRepo *postgres.ChannelRepository,
	realtimeHandler *command.RealtimeHandler,
) error {
	syncConfig := jobs.DefaultSyncAllPairsConfig()
	syncConfig.Timeout = cfg.Scheduler.JobTimeout
	syncJob := jobs.NewSyncAllPairsJob(tokenRepo, performSync, log, syncConfig)

	cleanupConfig := jobs.DefaultCleanupConfig()
	cleanupConfig.OperationRetention = cfg.Sync.OperationRetention
	cleanupJob := jobs.NewCleanupJob(operationRepo, channelRepo, log, cleanupConfig)

	renewalJob := jobs.NewChannelRenewalJob(channelRepo, realtimeHandler, log, jobs.DefaultChannelRenewalConfig())

	specs := []struct {
		job  scheduler.Job
		spec string
	}{
		{syncJob, cfg.Scheduler.SyncSpec},
		{cleanupJob, cfg.Scheduler.CleanupSpec},
		{renewalJob, cfg.Scheduler.ChannelRenewalSpec},
	}
	for _, s := range specs {
		schedule, err := scheduler.ParseCron(s.spec)
		if err != nil {
			return fmt.Errorf("job %s: %w", s.job.Name(), err)
		}
		if err := sched.Register(s.job, schedule); err != nil {
			return fmt.Errorf("job %s: %w", s.job.Name(), err)
		}
	}
	return nil
}

// setupLogger настраивает структурированное логирование для инфраструктуры.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slogLevel(cfg.Observability.LogLevel),
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

// apiLogger строит логгер HTTP-слоя из той же конфигурации.
func apiLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts)
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
