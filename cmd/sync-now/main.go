package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	assetdata "github.com/lk2023060901/media-hub-backend/internal/asset/data"
	"github.com/lk2023060901/media-hub-backend/internal/auth"
	"github.com/lk2023060901/media-hub-backend/internal/conf"
	"github.com/lk2023060901/media-hub-backend/internal/data"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/logger"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/workerpool"
	syncbiz "github.com/lk2023060901/media-hub-backend/internal/sync/biz"
	"github.com/lk2023060901/media-hub-backend/internal/sync/cache"
	syncdata "github.com/lk2023060901/media-hub-backend/internal/sync/data"
	"github.com/lk2023060901/media-hub-backend/internal/sync/upstream"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

// CLI 输出走 fmt，内部组件的日志只保留告警以上
func initLogger() (*logger.Logger, error) {
	return logger.NewWithOptions(
		logger.WithLevel("warn"),
		logger.WithFormat("console"),
		logger.WithCaller(false),
		logger.WithStacktrace(false),
	)
}

func main() {
	flag.Parse()

	fmt.Println("🚀 媒体资产同步工具启动...")
	fmt.Println()

	// Load config
	cfg, err := conf.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}

	if !cfg.IsRelay() {
		log.Fatalf("❌ 未配置 sync.upstream_url，只有中继节点需要执行同步")
	}

	// Initialize logger
	zlog, err := initLogger()
	if err != nil {
		log.Fatalf("❌ 初始化日志失败: %v", err)
	}
	defer zlog.Sync()

	// Initialize data layer (DB + Redis)
	d, cleanup, err := data.NewData(cfg, zlog)
	if err != nil {
		log.Fatalf("❌ 初始化数据层失败: %v", err)
	}
	defer cleanup()

	// Create repositories
	assetRepo := assetdata.NewAssetRepo(d.DB)
	statusRepo := syncdata.NewSyncStatusRepo(d.DB)
	refdbRepo := syncdata.NewReferenceDBRepo(d.DB)

	// Build the sync pipeline against the upstream hub
	peerTokens := auth.NewTokenManager(cfg.Sync.PeerSecret, cfg.Auth.JWTIssuer)
	upstreamClient, err := upstream.NewClient(
		cfg.Sync.UpstreamURL,
		cfg.Sync.NodeID,
		peerTokens,
		cfg.Sync.RequestTimeout,
		zlog.Logger,
	)
	if err != nil {
		log.Fatalf("❌ 创建上游客户端失败: %v", err)
	}

	cacheStore, err := cache.NewStore(cfg.Sync.DataDir, zlog.Logger)
	if err != nil {
		log.Fatalf("❌ 打开缓存目录失败: %v", err)
	}

	poolConfig := workerpool.DefaultConfig()
	if cfg.Sync.Workers > 0 {
		poolConfig.Workers = cfg.Sync.Workers
	}
	pool, err := workerpool.New(poolConfig, zlog.Logger)
	if err != nil {
		log.Fatalf("❌ 创建下载协程池失败: %v", err)
	}
	defer pool.Shutdown()

	orch := syncbiz.NewOrchestrator(upstreamClient, cacheStore, assetRepo, statusRepo, refdbRepo, pool, zlog.Logger)

	classes := []string{syncbiz.ClassAssets}
	for _, name := range cfg.Sync.RefDBs {
		classes = append(classes, syncbiz.RefDBClass(name))
	}

	ctx := context.Background()
	if err := orch.Init(ctx, classes); err != nil {
		log.Fatalf("❌ 初始化同步状态失败: %v", err)
	}

	fmt.Printf("📋 待同步资源类: %d 个 (节点: %s)\n\n", len(classes), cfg.Sync.NodeID)

	// Sync each class
	totalDownloaded := 0
	totalUpdated := 0
	totalDeleted := 0
	failedClasses := 0

	for _, class := range classes {
		fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		fmt.Printf("🔄 同步资源类: %s\n", class)
		fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

		result, err := orch.Run(ctx, class)
		if err != nil {
			fmt.Printf("❌ 同步失败: %v\n\n", err)
			failedClasses++
			continue
		}

		if result.Skipped {
			fmt.Printf("✅ 版本未变化，跳过 (耗时: %.2fs)\n\n", result.Duration.Seconds())
			continue
		}

		fmt.Printf("✅ 同步完成 (版本: %s, 耗时: %.2fs)\n", result.Version, result.Duration.Seconds())
		fmt.Printf("\n📊 同步统计:\n")
		fmt.Printf("   • 新下载: %d\n", result.Downloaded)
		fmt.Printf("   • 已更新: %d\n", result.Updated)
		fmt.Printf("   • 已删除: %d\n", result.Deleted)

		// Show per-item failures
		if len(result.Errors) > 0 {
			fmt.Printf("\n⚠️  部分条目失败 (%d 个，下个周期重试):\n", len(result.Errors))
			for i, msg := range result.Errors {
				if i >= 5 {
					fmt.Printf("   ... 还有 %d 个错误\n", len(result.Errors)-5)
					break
				}
				fmt.Printf("   %d. %s\n", i+1, msg)
			}
		}

		totalDownloaded += result.Downloaded
		totalUpdated += result.Updated
		totalDeleted += result.Deleted

		fmt.Println()
	}

	// Final summary
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("✨ 总体统计\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("   • 总下载: %d\n", totalDownloaded)
	fmt.Printf("   • 总更新: %d\n", totalUpdated)
	fmt.Printf("   • 总删除: %d\n", totalDeleted)
	fmt.Printf("   • 完成时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Println()

	if failedClasses > 0 {
		fmt.Printf("❌ %d 个资源类同步失败\n", failedClasses)
		os.Exit(1)
	}
	fmt.Println("✅ 所有资源类同步完成！")
}
