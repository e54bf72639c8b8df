package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	assetservice "github.com/lk2023060901/media-hub-backend/internal/asset/service"
	"github.com/lk2023060901/media-hub-backend/internal/auth"
	"github.com/lk2023060901/media-hub-backend/internal/auth/middleware"
	checkoutservice "github.com/lk2023060901/media-hub-backend/internal/checkout/service"
	"github.com/lk2023060901/media-hub-backend/internal/conf"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/logger"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/redis"
	syncservice "github.com/lk2023060901/media-hub-backend/internal/sync/service"
)

type HTTPServer struct {
	server *http.Server
	logger *logger.Logger
}

// NewHTTPServer 组装 HTTP 路由。
// 同步协议端点要求对等 JWT；运维与领用端点要求服务 JWT；
// 下载端点同时接受对等 JWT 和签名链接两种凭证。
func NewHTTPServer(
	config *conf.Config,
	log *logger.Logger,
	assetService *assetservice.AssetService,
	checkoutService *checkoutservice.CheckoutService,
	syncService *syncservice.SyncService,
	redisClient *redis.Client,
) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)

	serviceAuth := auth.NewTokenManager(config.Auth.JWTSecret, config.Auth.JWTIssuer)
	peerAuth := auth.NewTokenManager(config.Sync.PeerSecret, config.Auth.JWTIssuer)

	router := gin.New()
	router.Use(logger.GinRecovery(log))
	router.Use(logger.GinLogger(log, logger.MiddlewareOptions{
		SkipPaths: []string{"/health", "/metrics"},
	}))
	router.Use(middleware.CORS())

	mode := "origin"
	if config.IsRelay() {
		mode = "relay"
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"node_id": config.Sync.NodeID,
			"mode":    mode,
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	// 同步协议端点：下游节点凭对等 JWT 拉取清单与参考数据库
	peer := api.Group("/sync", middleware.RequirePeer(peerAuth, log))
	{
		peer.GET("/manifest", syncService.GetManifest)
		peer.GET("/refdb/:name", syncService.GetRefDBMeta)
		peer.GET("/refdb/:name/file", syncService.DownloadRefDB)
	}

	// 同步运维端点：内部服务查询状态、手动触发周期
	ops := api.Group("/sync", middleware.RequireService(serviceAuth, log))
	{
		ops.GET("/status", syncService.GetStatus)
		ops.POST("/run", syncService.TriggerSync)
	}

	// 资产记录端点
	assets := api.Group("/assets", middleware.RequireService(serviceAuth, log))
	{
		assets.GET("", assetService.ListAssets)
		assets.GET("/:id", assetService.GetAsset)
	}

	// 下载端点：对等拉取或签名链接领取
	api.GET("/assets/:id/file",
		middleware.PeerAuthOptional(peerAuth, log),
		middleware.DownloadRateLimiter(redisClient, log),
		assetService.Download,
	)

	// 领用端点
	checkout := api.Group("/checkout",
		middleware.RequireService(serviceAuth, log),
		middleware.CheckoutRateLimiter(redisClient, log),
	)
	{
		checkout.POST("", checkoutService.Checkout)
		checkout.GET("/:token", checkoutService.ValidateToken)
	}

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)

	return &HTTPServer{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		logger: log,
	}
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}
