package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"video-restore/config"
	"video-restore/constant"
	jobHandler "video-restore/handler"
	"video-restore/observability"
	"video-restore/pkg/rabbitmq"
	"video-restore/pkg/workerpool"
	"video-restore/progress"
	"video-restore/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewMetrics")
	}

	repo, err := newRepository(cfg)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("newRepository")
	}

	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("newObjectStore")
	}

	tiers := service.NewTierCatalog(tiersFromConfig(cfg.Tiers))
	runpod := gatewayFromConfig(cfg.RunPod)
	estimator := progress.NewTieredExponential(tiers.AvgDurations(), cfg.Progress.Cap)

	var (
		dispatcher service.Dispatcher
		pool       *workerpool.Pool
		rabbitPub  *rabbitmq.Publisher
	)
	switch cfg.Queue.Driver {
	case constant.DriverRabbitMQ:
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue.RabbitMQ)
		if err != nil {
			zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRabbitMQConn")
		}
		rabbitPub, err = rabbitmq.NewPublisher(conn, cfg.Queue.RabbitMQ)
		if err != nil {
			zerolog.Ctx(ctx).Fatal().Err(err).Msg("rabbitmq.NewPublisher")
		}
		defer rabbitPub.Close()
		dispatcher = rabbitPub
	default:
		pool = workerpool.New(cfg.Server.Workers, cfg.Server.Buffer)
		dispatcher = pool
	}

	orch := service.NewOrchestrator(repo, runpod, tiers, dispatcher,
		service.WithEstimator(estimator),
		service.WithMetrics(metrics),
	)
	pub := service.NewPublisher(repo, orch, service.PublisherConfig{Interval: cfg.Publisher.Interval})

	if rabbitPub != nil {
		// consumers get their own connection
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue.RabbitMQ)
		if err != nil {
			zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRabbitMQConn")
		}
		consumer := rabbitmq.NewConsumer(conn, cfg.Queue.RabbitMQ, cfg.Server.Workers, jobHandler.SubmissionHandler)
		go func() {
			err := consumer.Consume(ctx, jobHandler.ServiceDependencies{Orchestrator: orch})
			if err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("Submission consumer error")
			}
		}()
	} else {
		go func() {
			if err := pool.Run(ctx, orch.RunSubmission); err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("Submission pool error")
			}
		}()
	}

	janitor, err := newJanitor(ctx, pub, cfg.Cleanup.Schedule, cfg.Cleanup.Retention)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Str("schedule", cfg.Cleanup.Schedule).Msg("newJanitor")
	}
	janitor.Start()
	defer janitor.Stop()

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(ctx), metrics.Middleware())
	addHealth(r)
	r.GET("/metrics", gin.WrapH(metricsHandler))
	jobHandler.NewAPI(jobHandler.HTTPDependencies{
		Orchestrator: orch,
		Publisher:    pub,
		Store:        store,
		Tiers:        tiers,
		Pricing: service.Pricing{
			GPUHourUSD:       cfg.Pricing.GPUHourUSD,
			MarkupPercentage: cfg.Pricing.MarkupPercentage,
		},
		MaxUploadBytes: cfg.Upload.MaxSizeMB << 20,
	}).Register(r)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

// requestLogger attaches the service logger to every request context and
// logs one line per request.
func requestLogger(ctx context.Context) gin.HandlerFunc {
	logger := zerolog.Ctx(ctx)
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
