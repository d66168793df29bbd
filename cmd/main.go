package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"findoc/internal/api"
	"findoc/internal/config"
	"findoc/internal/document"
	fileutil "findoc/internal/file"
	"findoc/internal/llm"
	"findoc/internal/maintenance"
	"findoc/internal/pdf"
	"findoc/internal/pipeline"
	"findoc/internal/queue"
	"findoc/internal/record"
	"findoc/internal/task"
	"findoc/internal/telemetry"
)

const (
	readHeaderTimeout = 5 * time.Second
	startupTimeout    = 30 * time.Second
)

// app holds everything that needs closing on shutdown.
type app struct {
	db        *sql.DB
	tasks     *task.Manager
	producer  *queue.Producer
	consumer  *queue.Consumer
	scheduler *maintenance.Scheduler
	telemetry telemetry.ShutdownFunc
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfgPath := os.Getenv("FINDOC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfgPath).Msg("failed to load config")
	}
	setupLogging(cfg.Log)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	startCtx, startCancel := context.WithTimeout(baseCtx, startupTimeout)
	a, err := build(startCtx, cfg)
	startCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	a.tasks.SetBaseContext(baseCtx)

	router := setupRouter()
	apiHandler := api.NewAPI(a.tasks, cfg.MaxUploadBytes)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)

	srv := newHTTPServer(cfg.Port, otelhttp.NewHandler(router, "findoc"))
	go func() {
		log.Info().Int("port", cfg.Port).Str("queue", cfg.Queue.Backend).Str("llm", cfg.LLM.Provider).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, a, cfg.ShutdownTimeout)
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func build(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		a.telemetry = shutdown
	}

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("ensure data dir %s: %w", cfg.DataDir, err)
	}

	db, err := record.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	a.db = db
	records := record.NewSQLStore(db)
	if err := records.Migrate(ctx); err != nil {
		return nil, err //nolint:wrapcheck
	}
	documents := document.NewStore(cfg.DataDir, cfg.AllowedExtensions...)

	client, err := llm.New(ctx, llm.Options{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.Model,
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Temperature:       &cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	analysis := pipeline.New(pdf.NewExtractor(), client)
	if cfg.Search.APIKey != "" {
		analysis.UseSearch(pipeline.NewSerperClient(cfg.Search.APIKey,
			pipeline.WithSearchURL(cfg.Search.URL),
			pipeline.WithSearchRateLimit(cfg.Search.RequestsPerSecond),
		))
		log.Info().Msg("web search enabled")
	}

	a.tasks = task.NewManager(records, documents, analysis, task.Options{
		AllowedExtensions:  cfg.AllowedExtensions,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		QueueDepth:         cfg.QueueDepth,
	})

	if cfg.Queue.Backend == "redis" {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Queue.RedisAddr}
		a.producer = queue.NewProducer(redisOpt, cfg.Queue.Name)
		a.tasks.UseDispatcher(a.producer)
		a.consumer = queue.NewConsumer(redisOpt, cfg.Queue.Name, cfg.MaxConcurrentTasks, a.tasks)
		if err := a.consumer.Start(); err != nil {
			return nil, err //nolint:wrapcheck
		}
	} else if _, err := a.tasks.RecoverInterrupted(ctx); err != nil {
		return nil, err //nolint:wrapcheck
	}

	a.scheduler = maintenance.NewScheduler(records, documents, maintenance.Options{
		OrphanFileAge:   cfg.Maintenance.OrphanFileAge,
		RecordRetention: cfg.Maintenance.RecordRetention,
	})
	if _, err := a.scheduler.RunOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("initial maintenance sweep failed")
	}
	if err := a.scheduler.Start(cfg.Maintenance.Schedule); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return a, nil
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

// gracefulShutdown stops intake first, then lets running analyses finish
// within timeout before cancelling them.
func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, a *app, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	if !a.tasks.WaitAll(ctx) {
		log.Warn().Msg("analyses did not finish before timeout, cancelling")
	}
	cancelBase()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	a.tasks.WaitAll(waitCtx)

	if a.consumer != nil {
		a.consumer.Shutdown()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			log.Warn().Err(err).Msg("close queue producer")
		}
	}
	a.scheduler.Stop()
	if a.telemetry != nil {
		if err := a.telemetry(context.Background()); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("close database")
	}
	log.Info().Msg("server exited cleanly")
}
