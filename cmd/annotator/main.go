package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"annotator/internal/audio"
	"annotator/internal/cache"
	"annotator/internal/config"
	cronrunner "annotator/internal/cron"
	"annotator/internal/db"
	"annotator/internal/handler"
	"annotator/internal/ingest"
	"annotator/internal/logger"
	"annotator/internal/query"
	"annotator/internal/questdb"
	"annotator/internal/repository"
	gormrepository "annotator/internal/repository/gorm"
	memrepository "annotator/internal/repository/memory"
	"annotator/internal/service"

	_ "annotator/docs"
)

func main() {
	cfgPath := os.Getenv("ANN_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("ANN_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log, cfg.App.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Annotations and job records. Without a DSN they live in memory and
	// vanish on restart.
	var (
		store  repository.Repository
		gormDB *gorm.DB
	)
	if strings.TrimSpace(cfg.DB.DSN) != "" {
		dbConn, err := db.Open(ctx, cfg.DB)
		if err != nil {
			logger.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)
		if err := db.AutoMigrate(dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
		store = gormrepository.New(dbConn.Gorm)
		gormDB = dbConn.Gorm
	} else {
		logger.Warn("db dsn empty, annotations are kept in memory")
		store = memrepository.New()
	}

	qdb, err := questdb.Open(cfg.QuestDB)
	if err != nil {
		logger.Fatal("questdb open failed", zap.Error(err))
	}
	defer qdb.Close()
	sampleStore := questdb.NewStore(qdb)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := sampleStore.Ping(pingCtx); err != nil {
		logger.Warn("questdb not reachable yet", zap.Error(err))
	}
	cancel()

	waveCache, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	if closer, ok := waveCache.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	if pinger, ok := waveCache.(interface{ Ping(context.Context) error }); ok {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := pinger.Ping(pingCtx); err != nil {
			logger.Warn("cache ping failed; waveform requests will miss until it recovers", zap.Error(err))
		}
		pingCancel()
	}
	queryService := query.NewService(sampleStore, waveCache, cfg.Query, cfg.Cache.TTL, logger)

	queue, err := newQueue(ctx, cfg.Queue, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}
	defer queue.Close()

	pipeline := &ingest.Pipeline{
		Provisioner: questdb.NewProvisioner(qdb, cfg.QuestDB, logger),
		Orchestrator: &ingest.Orchestrator{
			Dial:      questdb.NewILPDialer(cfg.QuestDB.ILPConf),
			ChunkSize: cfg.Ingest.ChunkSize,
			Workers:   cfg.Ingest.Workers,
			Logger:    logger,
		},
		Decode: audio.ReadWAV,
		Logger: logger,
	}
	jobService := &service.IngestJobService{
		Repo:        store,
		Queue:       queue,
		Pipeline:    pipeline,
		Invalidator: queryService,
		Config:      cfg.Ingest,
		Logger:      logger,
	}
	eventService := &service.EventService{Repo: store, Config: cfg.Events, Logger: logger}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	engine.Use(corsMiddleware(cfg.Server.CORSOrigin))

	healthHandler := &handler.HealthHandler{DB: gormDB, QuestDB: sampleStore}
	healthHandler.Register(engine)
	collectionHandler := &handler.CollectionHandler{Query: queryService, Config: cfg.Query}
	collectionHandler.Register(engine)
	ingestHandler := &handler.IngestHandler{
		Jobs:           jobService,
		UploadDir:      cfg.Ingest.UploadDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		OriginPatterns: originPatterns(cfg.Server.CORSOrigin),
		Logger:         logger,
	}
	ingestHandler.Register(engine)
	eventHandler := &handler.EventHandler{Events: eventService}
	eventHandler.Register(engine)
	vehicleHandler := &handler.VehicleHandler{Catalog: service.VehicleCatalog{Path: cfg.Vehicles.File}}
	vehicleHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      gzhttp.GzipHandler(engine),
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		if err := jobService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("ingest supervisor stopped", zap.Error(err))
		}
	}()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add("job_sweep", cfg.Cron.JobSweep, func(ctx context.Context) error {
			_, err := jobService.SweepStale(ctx)
			return err
		})
		if err != nil {
			logger.Warn("cron register job sweep failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// Running jobs persist their final status before the stores close.
	select {
	case <-supervisorDone:
	case <-time.After(supervisorDrainTimeout):
		logger.Warn("ingest supervisor did not drain in time", zap.Duration("timeout", supervisorDrainTimeout))
	}
}

const supervisorDrainTimeout = 30 * time.Second

func newQueue(ctx context.Context, cfg config.QueueConfig, logger *zap.Logger) (ingest.Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "nats":
		return ingest.NewNATSQueue(ctx, cfg, logger)
	default:
		return ingest.NewMemoryQueue(cfg.Buffer), nil
	}
}

func corsMiddleware(origin string) gin.HandlerFunc {
	if strings.TrimSpace(origin) == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Sample-Count,Content-Disposition")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// originPatterns turns the configured CORS origin into host patterns for
// websocket origin checks.
func originPatterns(origin string) []string {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "*" {
		return []string{"*"}
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return []string{origin}
	}
	return []string{u.Host}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		if c.Writer.Status() < http.StatusInternalServerError {
			logger.Debug("http request",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Int("status", c.Writer.Status()),
				zap.Duration("took", time.Since(started)),
			)
			return
		}
		logger.Warn("http request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(started)),
		)
	}
}
