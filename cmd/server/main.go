package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"purrcast/internal/config"
	"purrcast/internal/db"
	"purrcast/internal/handlers"
	"purrcast/internal/observability"
	"purrcast/internal/router"
	"purrcast/internal/services"
	"purrcast/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, metrics); err != nil {
		log.WithError(err).Fatal("server exited")
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger, metrics *observability.Metrics) error {
	// Initialize Database
	conn, err := db.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	store := db.NewStore(conn)

	provider, err := newStorageProvider(cfg)
	if err != nil {
		return err
	}
	predictor, err := newPredictor(cfg, log)
	if err != nil {
		return err
	}
	dead, closeDead := newDeadLetters(cfg, log)
	defer closeDead()

	clock := clockwork.NewRealClock()

	// 异步预测调度
	dispatcher := services.NewDispatcher(predictor, dead, services.DispatcherConfig{
		Workers:     cfg.PredictorWorkers,
		MaxAttempts: cfg.PredictorMaxAttempts,
		QueueSize:   cfg.PredictorQueueSize,
		Timeout:     cfg.PredictorTimeout,
	}, log, metrics)
	// 调度器比 HTTP 服务活得久，关停时先排空请求再停 worker
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	if err := dispatcher.Start(dispatchCtx); err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.WithError(err).Warn("closing prediction dispatcher")
		}
	}()

	posts := services.NewPostService(store, store, log)

	sweeper := services.NewPendingSweeper(posts, dispatcher, services.SweeperConfig{
		Interval: cfg.SweepInterval,
		MinAge:   cfg.SweepMinAge,
		MaxAge:   cfg.SweepMaxAge,
	}, clock, log, metrics)
	go sweeper.Run(ctx)

	forecastCache, err := utils.NewTTLCache[string, services.Forecast](cfg.ForecastCacheSize, cfg.ForecastCacheTTL, clock)
	if err != nil {
		return err
	}

	gate := services.NewContentGate(
		services.NewImaggaClient(cfg.ImaggaURL, cfg.ImaggaKey, cfg.ImaggaSecret, cfg.ClassifierTimeout),
		cfg.ClassifierThreshold,
		cfg.CatLabels,
		log,
		metrics,
	)
	ingestor := services.NewIngestor(
		services.NewNormalizer(cfg.ImageSize, cfg.ImageMaxPixels),
		gate,
		services.NewBlobUploader(provider, cfg.StorageTimeout, log),
		posts,
		store,
		store,
		dispatcher,
		log,
		metrics,
	)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	router.RegisterRoutes(r, router.Options{
		SessionSecret:  cfg.SessionSecret,
		CORSOrigins:    cfg.CORSOrigins,
		Log:            log,

		TrustSubjectHeader: cfg.TrustSubjectHeader,

		Posts:          handlers.NewPostHandler(ingestor, posts, cfg.MaxUploadBytes, log),
		Votes:          handlers.NewVoteHandler(services.NewUpvoteLedger(store, log, metrics), log),
		Forecast:       handlers.NewForecastHandler(services.NewForecastService(store, forecastCache, clock, log, metrics), log),
		Classification: handlers.NewClassificationHandler(posts, cfg.PredictorCallbackToken, log),
		Health:         handlers.NewHealthHandler(sqlDB),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("purrcast server starting")
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

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newStorageProvider(cfg *config.Config) (services.StorageProvider, error) {
	if cfg.StorageProvider == config.StorageS3 {
		return services.NewS3Provider(cfg.S3Bucket, cfg.S3Region, cfg.S3PublicURL)
	}
	return services.NewCloudinaryProvider(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret), nil
}

func newPredictor(cfg *config.Config, log logrus.FieldLogger) (services.Predictor, error) {
	switch {
	case cfg.PredictorKind == config.PredictorLambda:
		// S3_REGION doubles as the AWS region for Lambda
		return services.NewLambdaPredictor(cfg.PredictorLambdaFunction, cfg.S3Region)
	case cfg.PredictorURL != "":
		return services.NewHTTPPredictor(cfg.PredictorURL, cfg.PredictorTimeout), nil
	default:
		log.Warn("PREDICTOR_URL not set, prediction jobs will be dead-lettered")
		return services.NopPredictor{}, nil
	}
}

func newDeadLetters(cfg *config.Config, log logrus.FieldLogger) (services.DeadLetterSink, func()) {
	if cfg.RedisAddr == "" {
		return services.NewLogDeadLetters(log), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return services.NewRedisDeadLetters(client), func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("closing redis client")
		}
	}
}
