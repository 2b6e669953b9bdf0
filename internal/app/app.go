package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/config"
	"github.com/abdulalimswe/FairMark/internal/database"
	"github.com/abdulalimswe/FairMark/internal/delivery/httpd"
	"github.com/abdulalimswe/FairMark/internal/models"
	"github.com/abdulalimswe/FairMark/internal/repository"
	"github.com/abdulalimswe/FairMark/internal/service"
	"github.com/abdulalimswe/FairMark/internal/service/analyzer"
	"github.com/abdulalimswe/FairMark/internal/service/integration"
	"github.com/abdulalimswe/FairMark/internal/service/policy"
	"github.com/abdulalimswe/FairMark/internal/worker"
	"github.com/abdulalimswe/FairMark/internal/worker/queue"
	"github.com/abdulalimswe/FairMark/pkg/hash"
)

const Version = "1.0.0"

type App struct {
	server        *http.Server
	logger        zerolog.Logger
	config        *config.Config
	db            *sql.DB
	redis         *redis.Client
	rabbitMQRepo  repository.RabbitMQRepository
	events        queue.EventPublisher
	workerPool    *worker.WorkerPool
	watcher       *worker.Watcher
	requestWorker worker.RequestWorker
}

func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{logger: log, config: cfg}
	if err := a.build(ctx); err != nil {
		a.closeConnections()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.config, a.logger

	algorithm, err := hash.ParseAlgorithm(cfg.Analysis.HashAlgorithm)
	if err != nil {
		return err
	}
	hasher, err := hash.NewContentHasher(algorithm)
	if err != nil {
		return err
	}

	canvas := integration.NewCanvasClient(integration.CanvasConfig{
		BaseURL:            cfg.Canvas.BaseURL,
		Token:              cfg.Canvas.Token,
		Timeout:            cfg.Canvas.Timeout,
		RetryCount:         cfg.Canvas.RetryCount,
		RetryDelay:         cfg.Canvas.RetryDelay,
		PerPage:            cfg.Canvas.PerPage,
		MaxAttachmentBytes: cfg.Canvas.MaxAttachmentBytes,
	}, log)

	evaluator := integration.NewEvaluatorClient(integration.EvaluatorConfig{
		URL:        cfg.Evaluator.URL,
		Token:      cfg.Evaluator.Token,
		Timeout:    cfg.Evaluator.Timeout,
		RetryCount: cfg.Evaluator.RetryCount,
		RetryDelay: cfg.Evaluator.RetryDelay,
	}, log)

	fingerprinter := analyzer.NewFingerprinter(canvas, hasher, log)

	rules, err := policy.ParseRuleSet(cfg.Policy.LateRulesJSON)
	if err != nil {
		log.Error().Err(err).Msg("Invalid late rules, lateness will be reported without penalties")
		rules = nil
	}

	if cfg.Database.Enabled {
		a.db, err = database.NewPostgres(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info().Msg("Database connection established")
	}

	ledger, err := a.newLedger(ctx, analyzer.NewHashComparator(algorithm))
	if err != nil {
		return err
	}

	var reportRepo repository.EvaluationRepository
	if a.db != nil {
		reportRepo = repository.NewEvaluationRepository(a.db, log)
	}

	var archive repository.FeedbackArchive
	if cfg.Storage.Enabled {
		minioRepo, err := repository.NewMinIORepository(
			cfg.Storage.Endpoint,
			cfg.Storage.AccessKey,
			cfg.Storage.SecretKey,
			cfg.Storage.Bucket,
			cfg.Storage.Region,
			cfg.Storage.UseSSL,
			cfg.Storage.ConnectTimeout,
			log,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize feedback archive: %w", err)
		}
		archive = minioRepo
	}

	var consumer queue.RabbitMQConsumer
	if cfg.RabbitMQ.Enabled {
		a.rabbitMQRepo, err = repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, log)
		if err != nil {
			return err
		}
		if err := a.rabbitMQRepo.SetupQueue(
			cfg.RabbitMQ.Exchange,
			cfg.RabbitMQ.RequestQueue,
			cfg.RabbitMQ.RequestKey,
		); err != nil {
			return err
		}

		a.events = queue.NewRabbitMQPublisher(a.rabbitMQRepo.Channel(), cfg.RabbitMQ.Exchange, log)
		consumer = queue.NewRabbitMQConsumer(
			a.rabbitMQRepo.Channel(),
			cfg.RabbitMQ.RequestQueue,
			cfg.RabbitMQ.ConsumerTag,
			cfg.RabbitMQ.PrefetchCount,
			log,
		)
	}

	policyEngine := policy.NewEngine(rules)

	evaluations := service.NewEvaluationService(
		canvas,
		evaluator,
		integration.NewCanvasPublisher(canvas),
		fingerprinter,
		policyEngine,
		archive,
		reportRepo,
		a.events,
		log,
		service.EvaluationConfig{
			PolicyText:        cfg.Policy.Text,
			EvaluationTimeout: cfg.Watcher.EvaluationTimeout,
		},
	)

	a.workerPool = worker.NewWorkerPool(cfg.Watcher.MaxWorkers, log)

	a.watcher = worker.NewWatcher(
		canvas,
		fingerprinter,
		ledger,
		evaluations,
		a.workerPool,
		log,
		worker.WatcherConfig{
			Interval:               cfg.Watcher.Interval,
			EnumerationConcurrency: cfg.Watcher.EnumerationConcurrency,
		},
	)

	if consumer != nil {
		handler := queue.NewMessageHandler(a.evaluateQueued, log)
		a.requestWorker = worker.NewRequestWorker(a.workerPool, consumer, handler, log)
	}

	handler := httpd.NewHandler(
		a.watcher,
		service.NewReportService(reportRepo, archive, log),
		canvas,
		httpd.HealthInfo{
			Version:          Version,
			CanvasBaseURLSet: cfg.Canvas.BaseURL != "",
			CanvasTokenSet:   cfg.Canvas.Token != "",
			PolicyTextSet:    cfg.Policy.Text != "",
			LateRulesLoaded:  policyEngine.Rules() != nil,
			LedgerBackend:    ledger.Backend(),
		},
		log,
	)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(httpd.RequestLogger(log))
	router.Use(httpd.Recovery(log))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	a.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return nil
}

func (a *App) newLedger(ctx context.Context, digests repository.DigestValidator) (repository.Ledger, error) {
	var store repository.LedgerStore

	switch a.config.Ledger.Backend {
	case "postgres":
		store = repository.NewPostgresLedgerStore(a.db, a.logger)
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.config.Redis.Addr,
			Password: a.config.Redis.Password,
			DB:       a.config.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store = repository.NewRedisLedgerStore(a.redis, a.config.Ledger.RedisPrefix, a.logger)
	default:
		return repository.NewMemoryLedger(), nil
	}

	return repository.NewPersistentLedger(ctx, store, digests, a.logger)
}

func (a *App) evaluateQueued(ctx context.Context, id models.SubmissionIdentity) (models.EvaluationResult, error) {
	response, err := a.watcher.Evaluate(ctx, id)
	if err != nil {
		return models.EvaluationResult{}, err
	}
	return response.Result, nil
}

// Run starts the background workers and serves HTTP until Shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.workerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	// The loop ends through Shutdown only, so a signal never cuts a scan short.
	if a.config.Watcher.Enabled {
		if err := a.watcher.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	} else {
		a.logger.Warn().Msg("Watcher disabled, only manual scans will run")
	}

	if a.requestWorker != nil {
		if err := a.requestWorker.Start(ctx); err != nil {
			return err
		}
	}

	a.logger.Info().Msgf("Starting FairMark watcher on %s", a.config.Server.Address)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunScan performs a single cycle without starting the HTTP server.
func (a *App) RunScan(ctx context.Context) (worker.CycleResult, error) {
	if err := a.workerPool.Start(ctx); err != nil {
		return worker.CycleResult{}, fmt.Errorf("failed to start worker pool: %w", err)
	}
	defer a.workerPool.Stop()

	result := a.watcher.RunCycle(ctx)
	return result, result.Err
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down FairMark watcher...")

	var serverErr error
	if a.server != nil {
		if serverErr = a.server.Shutdown(ctx); serverErr != nil {
			a.logger.Error().Err(serverErr).Msg("Failed to shutdown HTTP server")
		}
	}

	if err := a.watcher.Stop(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop watcher")
	}

	if a.requestWorker != nil {
		if err := a.requestWorker.Stop(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to stop request worker")
		}
	}

	if err := a.workerPool.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	a.closeConnections()

	a.logger.Info().Msg("FairMark watcher stopped")
	return serverErr
}

func (a *App) closeConnections() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close event publisher")
		}
	}

	if a.rabbitMQRepo != nil {
		if err := a.rabbitMQRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close Redis connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}
}
