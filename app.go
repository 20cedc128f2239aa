package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"taskboard/backend/internal/config"
	"taskboard/backend/internal/database"
	"taskboard/backend/internal/docstore"
	"taskboard/backend/internal/handlers"
	"taskboard/backend/internal/identity"
	"taskboard/backend/internal/middleware"
	"taskboard/backend/internal/models"
	"taskboard/backend/internal/monitoring"
	"taskboard/backend/internal/repositories"
	"taskboard/backend/internal/services"
	"taskboard/backend/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm/logger"
)

type application struct {
	config   *config.Config
	pool     *database.DatabasePool
	redis    *redis.Client
	store    *docstore.GuardedStore
	notifier *identity.Notifier
	issuer   *identity.TokenIssuer
	auth     services.AuthService
	manager  *services.LifecycleManager
	queue    *worker.JobQueue
	worker   *worker.Worker
	limiter  *middleware.RateLimiter
	monitor  *monitoring.Monitor
	router   *gin.Engine

	stopFollow  func()
	stopLimiter chan struct{}
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return docstore.NewRedisClient(&docstore.RedisStoreConfig{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		KeyPrefix:    cfg.Store.KeyPrefix,
	})
}

// newApplication wires every component from cfg. The redis client serves the
// reminder queue and, with STORE_BACKEND=redis, the task documents.
func newApplication(cfg *config.Config, redisClient *redis.Client) (*application, error) {
	logLevel := logger.Info
	if cfg.IsProduction() {
		logLevel = logger.Warn
	}

	pool, err := database.NewDatabasePool(&database.PoolConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.GetDatabaseDSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		LogLevel:        logLevel,
	})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(pool.DB); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	var backend docstore.Client
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		backend = docstore.NewRedisStore(redisClient, cfg.Store.KeyPrefix)
	default:
		backend, err = docstore.NewGormStore(pool.DB)
		if err != nil {
			pool.Close()
			return nil, err
		}
	}
	log.Printf("Task documents stored with the %s backend", cfg.Store.Backend)

	store := docstore.NewGuardedStore(backend, &docstore.BreakerConfig{
		MaxFailures:      cfg.Store.BreakerMaxFailures,
		Timeout:          cfg.Store.BreakerTimeout,
		HalfOpenMaxCalls: cfg.Store.BreakerHalfOpenMax,
	})
	repo := repositories.NewDocumentTaskRepository(store)

	manager := services.NewLifecycleManager(repo, &services.ManagerConfig{
		TimeLeftMode: models.TimeLeftMode(cfg.Board.TimeLeftMode),
		RequireTitle: cfg.Board.RequireTitle,
	})

	issuer, err := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL)
	if err != nil {
		pool.Close()
		return nil, err
	}

	app := &application{
		config:   cfg,
		pool:     pool,
		redis:    redisClient,
		store:    store,
		notifier: identity.NewNotifier(),
		issuer:   issuer,
		auth:     services.NewAuthService(issuer, cfg.Auth.BCryptCost, cfg.Auth.RefreshTokenTTL),
		manager:  manager,
		monitor:  monitoring.NewMonitor(),
	}
	app.stopFollow = manager.Follow(context.Background(), app.notifier)

	if cfg.Worker.Enabled {
		app.queue = worker.NewJobQueue(redisClient)
		reminders := services.NewReminders(app.queue, cfg.Worker.ReminderQueue, repo)
		manager.SetReminderScheduler(reminders)

		app.worker = worker.NewWorker(worker.WorkerConfig{
			RedisClient:  redisClient,
			Concurrency:  cfg.Worker.Concurrency,
			PollInterval: cfg.Worker.PollInterval,
			BlockTimeout: cfg.Worker.BlockTimeout,
			RetryBase:    cfg.Worker.RetryBase,
			Queues:       cfg.Worker.Queues,
		})
		app.worker.RegisterHandler(worker.JobTypeTaskReminder, reminders.Handle)
	}

	if cfg.RateLimit.Enabled {
		app.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMin:  cfg.RateLimit.RequestsPerMin,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
		})
	}

	app.registerChecks()
	app.router = app.buildRouter()
	return app, nil
}

func (a *application) registerChecks() {
	a.monitor.RegisterHealthCheck("docstore", a.store.Health)
	a.monitor.RegisterHealthCheck("database", func(ctx context.Context) error {
		return a.pool.Health()
	})
	a.monitor.RegisterHealthCheck("redis", func(ctx context.Context) error {
		return a.redis.Ping(ctx).Err()
	})

	a.monitor.RegisterStats("docstore", a.store.Stats)
	a.monitor.RegisterStats("database", a.pool.Stats)
	if a.queue != nil {
		a.monitor.RegisterStats("reminders", a.reminderStats)
	}
}

func (a *application) reminderStats() map[string]interface{} {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stats := map[string]interface{}{}
	if size, err := a.queue.GetQueueSize(ctx, a.config.Worker.ReminderQueue); err == nil {
		stats["ready"] = size
	} else {
		stats["error"] = err.Error()
	}
	if scheduled, err := a.queue.GetScheduledCount(ctx); err == nil {
		stats["scheduled"] = scheduled
	}
	if dead, err := a.queue.GetQueueSize(ctx, worker.DeadQueue); err == nil {
		stats["dead"] = dead
	}
	return stats
}

func (a *application) buildRouter() *gin.Engine {
	if a.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), middleware.RecoveryWithLog(), a.monitor.MetricsMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AddAllowHeaders("Authorization")
	if len(a.config.Server.AllowedOrigins) == 0 || a.config.Server.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = a.config.Server.AllowedOrigins
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", a.monitor.HealthHandler())
	router.GET("/ready", a.monitor.ReadinessHandler())
	router.GET("/live", a.monitor.LivenessHandler())
	router.GET("/metrics", a.monitor.MetricsHandler())

	api := router.Group("/api/v1")
	if a.limiter != nil {
		api.Use(a.limiter.Middleware())
	}

	authz := middleware.AuthzMiddleware(a.issuer)
	db := a.pool.DB

	authHandler := handlers.NewAuthHandler(db, a.auth, a.notifier)
	registerHandler := handlers.NewRegisterHandler(db, a.auth)
	refreshHandler := handlers.NewRefreshHandler(db, a.auth)
	logoutHandler := handlers.NewLogoutHandler(db, a.auth, a.notifier)

	auth := api.Group("/auth")
	auth.POST("/register", registerHandler.Registration)
	auth.POST("/login", authHandler.Token)
	auth.POST("/refresh", refreshHandler.Refresh)
	auth.POST("/logout", authz, logoutHandler.Logout)

	userHandler := handlers.NewUserHandler(db)
	taskHandler := handlers.NewTaskHandler(a.manager)

	protected := api.Group("", authz)
	protected.GET("/me", userHandler.GetUserProfile)
	protected.GET("/tasks", taskHandler.ListTasks)
	protected.POST("/tasks", taskHandler.CreateTask)
	protected.POST("/tasks/:id/complete", taskHandler.CompleteTask)
	protected.PUT("/tasks/:id/due-date", taskHandler.RescheduleTask)
	protected.DELETE("/tasks/:id", taskHandler.DeleteTask)
	protected.GET("/board", taskHandler.GetBoard)
	protected.POST("/drafts/checklist", taskHandler.AddChecklistItem)

	return router
}

// start launches the background loops. It does not serve HTTP.
func (a *application) start() {
	if a.worker != nil {
		a.worker.Start(a.config.Worker.Concurrency)
	}
	if a.limiter != nil {
		a.stopLimiter = make(chan struct{})
		go a.limiter.Run(a.stopLimiter)
	}
}

func (a *application) stopWorker() {
	if a.worker != nil {
		a.worker.Stop()
	}
}

func (a *application) close() error {
	if a.stopLimiter != nil {
		close(a.stopLimiter)
		a.stopLimiter = nil
	}
	a.stopFollow()
	a.notifier.Close()

	var firstErr error
	if err := a.pool.Close(); err != nil {
		firstErr = err
	}
	if err := a.redis.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
