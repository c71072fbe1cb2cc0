package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maynagashev/assetkeeper/internal/approval"
	"github.com/maynagashev/assetkeeper/internal/conflict"
	"github.com/maynagashev/assetkeeper/internal/content"
	"github.com/maynagashev/assetkeeper/internal/diff"
	"github.com/maynagashev/assetkeeper/internal/extract"
	"github.com/maynagashev/assetkeeper/internal/handlers"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/merge"
	"github.com/maynagashev/assetkeeper/internal/metrics"
	appmiddleware "github.com/maynagashev/assetkeeper/internal/middleware"
	"github.com/maynagashev/assetkeeper/internal/notify"
	"github.com/maynagashev/assetkeeper/internal/repository"
	"github.com/maynagashev/assetkeeper/internal/scheduler"
	"github.com/maynagashev/assetkeeper/internal/services"
	"github.com/maynagashev/assetkeeper/internal/snapshot"
	"github.com/maynagashev/assetkeeper/internal/storage"
	"github.com/maynagashev/assetkeeper/internal/versioning"
	"github.com/maynagashev/assetkeeper/internal/workerpool"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db        *sqlx.DB
	differ    *diff.Engine
	pool      *workerpool.Pool
	service   services.VersionControlService
	handler   *handlers.Handler
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	scheduler *scheduler.Scheduler
}

// close освобождает ресурсы в обратном порядке создания.
func (d *dependencies) close(log *logger.Logger) {
	if d.pool != nil {
		d.pool.Close()
	}
	if d.differ != nil {
		d.differ.Close()
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия соединения с БД")
		}
	}
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("Ошибка выполнения сервера")
		stop()
		os.Exit(1)
	}
}

// run запускает сервер и планировщик и ждёт отмены ctx.
func run(ctx context.Context, cfg *config, log *logger.Logger) error {
	deps, err := setupDependencies(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer deps.close(log)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      setupRouter(deps, []byte(cfg.JWTSecret), log),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	sweepCtx, cancelSweeps := context.WithCancel(ctx)
	defer cancelSweeps()
	go deps.scheduler.Run(sweepCtx)

	serveErr := make(chan error, 1)
	go func() {
		log.LogServerStart(server.Addr, cfg.StoreDriver)
		var listenErr error
		if cfg.tlsEnabled() {
			listenErr = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			log.Warn().Msg("TLS не настроен, сервер слушает HTTP")
			listenErr = server.ListenAndServe()
		}
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serveErr <- listenErr
		}
		close(serveErr)
	}()

	select {
	case err = <-serveErr:
		if err != nil {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.LogServerShutdown()
	cancelSweeps()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	return nil
}

// setupDependencies инициализирует и связывает все компоненты сервера.
func setupDependencies(ctx context.Context, cfg *config, log *logger.Logger) (deps *dependencies, err error) {
	deps = &dependencies{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			deps.close(log)
		}
	}()
	deps.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.metrics = metrics.New(deps.registry)

	// 1. БД
	if deps.db, err = repository.Open(ctx, cfg.StoreDriver, cfg.DatabaseDSN, log); err != nil {
		return nil, err
	}
	if err = repository.Migrate(ctx, deps.db); err != nil {
		return nil, err
	}
	store := repository.NewSQLStore(deps.db, log, deps.metrics)

	// 2. Хранилище содержимого
	blobs, err := setupBlobStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	addresser, err := content.NewAddresser(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	// 3. Вычисления
	builder := versioning.NewBuilder(versioning.Config{
		MaxContentBytes: cfg.MaxSceneBytes,
		MaxBufferBytes:  cfg.MaxBufferBytes,
	}, addresser, blobs, extract.SceneExtractor{}, log)
	loader, err := snapshot.NewLoader(blobs, addresser, cfg.SnapshotCacheSize, log)
	if err != nil {
		return nil, err
	}
	if deps.differ, err = diff.NewEngine(&diff.CacheConfig{MaxCost: cfg.DiffCacheMaxCost}, log); err != nil {
		return nil, err
	}
	deps.pool = workerpool.New(cfg.Workers, deps.metrics)

	// 4. Слияние и согласование
	notifier := notify.NewLogNotifier(log)
	merger := merge.NewEngine(merge.Dependencies{
		Store:    store,
		Loader:   loader,
		Differ:   deps.differ,
		Detector: conflict.NewDetector(log),
		Builder:  builder,
		Pool:     deps.pool,
		Metrics:  deps.metrics,
		Logger:   log,
	})
	approvals := approval.NewEngine(store, notifier, approval.Config{
		MinApprovers:     cfg.MinApprovers,
		Timeout:          cfg.ApprovalTimeout,
		AutoApproveAfter: cfg.AutoApproveAfter,
	}, deps.metrics, log)

	// 5. Сервис, обработчики, планировщик
	deps.service = services.NewVersionControlService(services.Config{
		RequireApproval:      cfg.RequireApproval,
		DefaultApprovers:     cfg.DefaultApprovers,
		ProtectDefaultBranch: cfg.ProtectDefaultBranch,
	}, services.Dependencies{
		Store:     store,
		Builder:   builder,
		Loader:    loader,
		Differ:    deps.differ,
		Merger:    merger,
		Approvals: approvals,
		Notifier:  notifier,
		Pool:      deps.pool,
		Metrics:   deps.metrics,
		Logger:    log,
	})
	deps.handler = handlers.NewHandler(deps.service, log, cfg.MaxSceneBytes+handlers.DefaultMaxBodyBytes)
	deps.scheduler = scheduler.New(deps.service, cfg.SweepInterval, log)
	return deps, nil
}

func setupBlobStore(ctx context.Context, cfg *config, log *logger.Logger) (storage.BlobStore, error) {
	if cfg.BlobBackend == blobMemory {
		log.Warn().Msg("Содержимое хранится в памяти и не переживёт перезапуск")
		return storage.NewMemoryStore(), nil
	}
	blobs, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:        cfg.MinioEndpoint,
		AccessKeyID:     cfg.MinioUser,
		SecretAccessKey: cfg.MinioPassword,
		UseSSL:          cfg.MinioUseSSL,
		BucketName:      cfg.MinioBucket,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}
	return blobs, nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(deps *dependencies, jwtSecret []byte, log *logger.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmiddleware.RequestLogger(log, deps.metrics))
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(appmiddleware.NewAuthenticator(jwtSecret, log))
		deps.handler.Routes(r)
	})
	return r
}
