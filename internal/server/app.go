package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-edo-api/internal/events"
	"github.com/noah-isme/sma-edo-api/internal/handler"
	"github.com/noah-isme/sma-edo-api/internal/repository"
	"github.com/noah-isme/sma-edo-api/internal/service"
	"github.com/noah-isme/sma-edo-api/pkg/cache"
	"github.com/noah-isme/sma-edo-api/pkg/config"
	"github.com/noah-isme/sma-edo-api/pkg/database"
	"github.com/noah-isme/sma-edo-api/pkg/jobs"
)

const (
	shutdownTimeout = 15 * time.Second
	cacheNamespace  = "edo"
)

// pingCheck adapts a ping function to handler.ReadinessChecker.
type pingCheck func(ctx context.Context) error

func (p pingCheck) Ready(ctx context.Context) error { return p(ctx) }

// App owns the process-wide resources of the API server.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	db      *sqlx.DB
	cache   *repository.CacheRepository
	hub     *events.Hub
	audit   *jobs.Queue
	metrics *service.MetricsService
	router  http.Handler
	detach  []func()
}

// New connects to the backing stores and wires services, handlers and event
// subscribers. The returned App must be closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database, 0, logger); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	app := &App{cfg: cfg, logger: logger, db: db, metrics: service.NewMetricsService()}
	checks := map[string]handler.ReadinessChecker{"database": database.NewReadinessChecker(db)}

	var cacheRepo service.CacheRepository
	if cfg.Templates.CacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("template cache disabled, redis unavailable", zap.Error(err))
		} else {
			app.cache = repository.NewCacheRepository(client, cacheNamespace, logger)
			cacheRepo = app.cache
			checks["redis"] = pingCheck(app.cache.Ping)
		}
	}

	app.hub = events.NewHub(logger)
	auditRepo := repository.NewAuditRepository(db)
	recorder := events.NewAuditRecorder(auditRepo, logger)
	app.audit = jobs.NewQueue("audit", recorder.Handle, jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.BufferSize,
		MaxRetries: cfg.Events.MaxRetries,
		Logger:     logger,
	})
	app.audit.Start(context.WithoutCancel(ctx))
	app.metrics.RegisterQueue(app.audit)
	app.detach = append(app.detach,
		recorder.Attach(app.hub, app.audit),
		app.hub.SubscribeAll(func(evt events.Event) { app.metrics.RecordEvent(evt.Topic) }),
	)

	validate, err := service.NewValidator()
	if err != nil {
		app.Close()
		return nil, err
	}
	cacheSvc := service.NewCacheService(cacheRepo, app.metrics, cfg.Templates.CacheTTL, logger, cacheRepo != nil)
	templates := service.NewTemplateService(repository.NewTemplateRepository(db), cacheSvc, cfg.Templates.CacheTTL, validate, logger)
	workflow := service.NewWorkflowService(
		repository.NewDocumentRepository(db),
		repository.NewCommentRepository(db),
		templates,
		cfg.Workflow,
		validate,
		logger,
		service.WithPublisher(app.hub),
		service.WithMetrics(app.metrics),
		service.WithAuditReader(auditRepo),
	)

	app.router = NewRouter(cfg, logger, app.metrics, service.NewTokenService(cfg.JWT), Handlers{
		Documents: handler.NewDocumentHandler(workflow),
		Templates: handler.NewTemplateHandler(templates),
		Metrics:   handler.NewMetricsHandler(app.metrics, checks),
	})
	return app, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.router }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", a.cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// Close detaches subscribers, drains the audit queue and releases connections.
func (a *App) Close() {
	for _, detach := range a.detach {
		detach()
	}
	if a.audit != nil {
		a.audit.Stop()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close postgres", zap.Error(err))
		}
	}
}
