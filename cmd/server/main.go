package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	assetdata "github.com/lk2023060901/media-hub-backend/internal/asset/data"
	assetservice "github.com/lk2023060901/media-hub-backend/internal/asset/service"
	"github.com/lk2023060901/media-hub-backend/internal/auth"
	checkoutbiz "github.com/lk2023060901/media-hub-backend/internal/checkout/biz"
	checkoutdata "github.com/lk2023060901/media-hub-backend/internal/checkout/data"
	checkoutservice "github.com/lk2023060901/media-hub-backend/internal/checkout/service"
	"github.com/lk2023060901/media-hub-backend/internal/conf"
	"github.com/lk2023060901/media-hub-backend/internal/data"
	identitybiz "github.com/lk2023060901/media-hub-backend/internal/identity/biz"
	identitydata "github.com/lk2023060901/media-hub-backend/internal/identity/data"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/logger"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/workerpool"
	"github.com/lk2023060901/media-hub-backend/internal/server"
	syncbiz "github.com/lk2023060901/media-hub-backend/internal/sync/biz"
	"github.com/lk2023060901/media-hub-backend/internal/sync/cache"
	syncdata "github.com/lk2023060901/media-hub-backend/internal/sync/data"
	syncrunner "github.com/lk2023060901/media-hub-backend/internal/sync/runner"
	syncservice "github.com/lk2023060901/media-hub-backend/internal/sync/service"
	"github.com/lk2023060901/media-hub-backend/internal/sync/upstream"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger with config
	logConfig := &logger.Config{
		Level:            config.Log.Level,
		Format:           config.Log.Format,
		Output:           config.Log.Output,
		EnableCaller:     config.Log.EnableCaller,
		EnableStacktrace: config.Log.EnableStacktrace,
		File: logger.FileConfig{
			Filename:   config.Log.File.Filename,
			MaxSize:    config.Log.File.MaxSize,
			MaxAge:     config.Log.File.MaxAge,
			MaxBackups: config.Log.File.MaxBackups,
			Compress:   config.Log.File.Compress,
		},
	}

	log, err := logger.New(logConfig)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("config loaded successfully",
		zap.String("node_id", config.Sync.NodeID),
		zap.Bool("relay", config.IsRelay()),
	)

	// Initialize data layer
	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Initialize repositories
	identityRepo := identitydata.NewIdentityRepo(d.DB)
	assetRepo := assetdata.NewAssetRepo(d.DB)
	statusRepo := syncdata.NewSyncStatusRepo(d.DB)
	refdbRepo := syncdata.NewReferenceDBRepo(d.DB)
	tokenRepo := checkoutdata.NewCheckoutTokenRepo(d.DB, log.Logger)

	// 源站从对象存储读内容；中继节点只从本地缓存读
	var contentStore assetbiz.ContentStore
	if !config.IsRelay() {
		contentStore = assetdata.NewMinIOContentStore(d.MinIO, config.MinIO.Bucket)
	}

	// Initialize use cases
	identityUseCase := identitybiz.NewIdentityUseCase(identityRepo)
	assetUseCase := assetbiz.NewAssetUseCase(assetRepo, contentStore, log.Logger)
	checkoutUseCase := checkoutbiz.NewCheckoutUseCase(
		tokenRepo,
		assetRepo,
		identityUseCase,
		checkoutbiz.NewSigner(config.Checkout.SigningSecret),
		config.Server.PublicBaseURL,
		config.Checkout.TokenTTL,
		log.Logger,
	)

	// Initialize sync machinery (relay nodes pull from upstream)
	var orch *syncbiz.Orchestrator
	if config.IsRelay() {
		peerTokens := auth.NewTokenManager(config.Sync.PeerSecret, config.Auth.JWTIssuer)
		upstreamClient, err := upstream.NewClient(
			config.Sync.UpstreamURL,
			config.Sync.NodeID,
			peerTokens,
			config.Sync.RequestTimeout,
			log.Logger,
		)
		if err != nil {
			log.Fatal("failed to build upstream client", zap.Error(err))
		}

		cacheStore, err := cache.NewStore(config.Sync.DataDir, log.Logger)
		if err != nil {
			log.Fatal("failed to open cache directory", zap.Error(err))
		}

		poolConfig := workerpool.DefaultConfig()
		if config.Sync.Workers > 0 {
			poolConfig.Workers = config.Sync.Workers
		}
		pool, err := workerpool.New(poolConfig, log.Logger)
		if err != nil {
			log.Fatal("failed to create download pool", zap.Error(err))
		}
		defer pool.Shutdown()

		orch = syncbiz.NewOrchestrator(upstreamClient, cacheStore, assetRepo, statusRepo, refdbRepo, pool, log.Logger)
	}

	syncUseCase := syncbiz.NewSyncUseCase(
		assetRepo,
		statusRepo,
		refdbRepo,
		contentStore,
		orch,
		d.Redis,
		config.Sync.ManifestCacheTTL,
		config.IsRelay(),
		log.Logger,
	)

	// Start the periodic sync runner on relay nodes
	if config.IsRelay() {
		classes := []string{syncbiz.ClassAssets}
		for _, name := range config.Sync.RefDBs {
			classes = append(classes, syncbiz.RefDBClass(name))
		}

		runner := syncrunner.NewRunner(orch, classes, config.Sync.Interval, log.Logger)
		if err := runner.Start(context.Background()); err != nil {
			log.Fatal("failed to start sync runner", zap.Error(err))
		}
		defer runner.Stop()
	}

	// Start the checkout token sweeper
	sweeper := checkoutbiz.NewSweeper(
		tokenRepo,
		config.Checkout.SweepInterval,
		config.Checkout.Retention,
		log.Logger,
	)
	if err := sweeper.Start(context.Background()); err != nil {
		log.Fatal("failed to start token sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	// Initialize services
	assetService := assetservice.NewAssetService(assetUseCase, identityUseCase, checkoutUseCase, log.Logger)
	checkoutService := checkoutservice.NewCheckoutService(checkoutUseCase, log.Logger)
	syncService := syncservice.NewSyncService(syncUseCase, log.Logger)

	// Initialize HTTP server
	httpServer := server.NewHTTPServer(config, log, assetService, checkoutService, syncService, d.Redis)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
