package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/lk2023060901/media-hub-backend/internal/conf"
	"github.com/lk2023060901/media-hub-backend/internal/data"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/database"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/logger"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/redis"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

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

	fmt.Println("==========================================")
	fmt.Println("清理中继节点本地同步缓存")
	fmt.Printf("==========================================\n\n")

	ctx := context.Background()

	// 1. 加载配置
	fmt.Println("1. 加载配置...")
	cfg, err := conf.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if !cfg.IsRelay() {
		log.Fatalf("当前节点未配置 sync.upstream_url，源站禁止执行缓存清理")
	}
	fmt.Printf("   ✓ 节点: %s\n\n", cfg.Sync.NodeID)

	// 2. 连接数据层
	fmt.Println("2. 连接数据层...")
	zlog, err := initLogger()
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zlog.Sync()

	d, cleanup, err := data.NewData(cfg, zlog)
	if err != nil {
		log.Fatalf("初始化数据层失败: %v", err)
	}
	defer cleanup()
	fmt.Printf("   ✓ PostgreSQL / Redis 连接成功\n\n")

	// 3. 统计清理前数据
	fmt.Println("3. 统计清理前数据...")
	printStats(d.DB)

	// 4. 清理 PostgreSQL
	fmt.Println("\n4. 清理 PostgreSQL 数据...")
	tokenCount, assetCount, refdbCount, statusCount := clearPostgres(d.DB)
	fmt.Printf("   ✓ 已删除 %d 个领用令牌\n", tokenCount)
	fmt.Printf("   ✓ 已删除 %d 个资产镜像\n", assetCount)
	fmt.Printf("   ✓ 已删除 %d 个参考数据库记录\n", refdbCount)
	fmt.Printf("   ✓ 已删除 %d 个同步状态\n", statusCount)

	// 5. 清理本地缓存文件
	fmt.Println("\n5. 清理本地缓存文件...")
	fileCount, err := clearDataDir(cfg.Sync.DataDir)
	if err != nil {
		fmt.Printf("   ⚠ 缓存目录清理失败: %v\n", err)
	} else {
		fmt.Printf("   ✓ 已删除 %d 个缓存文件 (%s)\n", fileCount, cfg.Sync.DataDir)
	}

	// 6. 清理 Redis 缓存
	fmt.Println("\n6. 清理 Redis 缓存...")
	clearRedis(ctx, d.Redis)

	// 7. 验证清理结果
	fmt.Println("\n7. 验证清理结果...")
	printStats(d.DB)

	fmt.Println("\n==========================================")
	fmt.Println("清理完成！下个同步周期将全量重建缓存")
	fmt.Println("==========================================")
	fmt.Printf("\n清理汇总:\n")
	fmt.Printf("  - 资产镜像: %d\n", assetCount)
	fmt.Printf("  - 参考数据库: %d\n", refdbCount)
	fmt.Printf("  - 同步状态: %d\n", statusCount)
	fmt.Printf("  - 领用令牌: %d\n", tokenCount)
	fmt.Printf("  - 缓存文件: %d\n", fileCount)
	fmt.Printf("  - Redis 清单缓存: 已清理\n\n")
}

func printStats(db *database.DB) {
	var stats []struct {
		TableName string
		Count     int64
	}

	db.Raw(`
		SELECT 'assets' as table_name, COUNT(*) as count FROM assets
		UNION ALL
		SELECT 'reference_dbs' as table_name, COUNT(*) as count FROM reference_dbs
		UNION ALL
		SELECT 'sync_statuses' as table_name, COUNT(*) as count FROM sync_statuses
		UNION ALL
		SELECT 'checkout_tokens' as table_name, COUNT(*) as count FROM checkout_tokens
	`).Scan(&stats)

	for _, s := range stats {
		fmt.Printf("   %s: %d\n", s.TableName, s.Count)
	}
}

// 删除顺序: 令牌 → 资产镜像 → 参考库 → 同步状态
func clearPostgres(db *database.DB) (int64, int64, int64, int64) {
	var tokenCount, assetCount, refdbCount, statusCount int64

	result := db.Exec("DELETE FROM checkout_tokens")
	tokenCount = result.RowsAffected

	result = db.Exec("DELETE FROM assets")
	assetCount = result.RowsAffected

	result = db.Exec("DELETE FROM reference_dbs")
	refdbCount = result.RowsAffected

	result = db.Exec("DELETE FROM sync_statuses")
	statusCount = result.RowsAffected

	return tokenCount, assetCount, refdbCount, statusCount
}

// clearDataDir 清空缓存目录的内容，保留目录本身
func clearDataDir(dataDir string) (int, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		path := filepath.Join(dataDir, entry.Name())
		if n, err := countFiles(path); err == nil {
			count += n
		}
		if err := os.RemoveAll(path); err != nil {
			return count, err
		}
	}
	return count, nil
}

func countFiles(root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}

func clearRedis(ctx context.Context, rdb *redis.Client) {
	n, err := rdb.Del(ctx, "sync:manifest")
	if err != nil {
		fmt.Printf("   ⚠ Redis 清理失败: %v\n", err)
		return
	}
	fmt.Printf("   ✓ 已清理 %d 个 Redis key\n", n)
}
