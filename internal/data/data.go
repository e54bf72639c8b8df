package data

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	assetdata "github.com/lk2023060901/media-hub-backend/internal/asset/data"
	checkoutdata "github.com/lk2023060901/media-hub-backend/internal/checkout/data"
	"github.com/lk2023060901/media-hub-backend/internal/conf"
	identitydata "github.com/lk2023060901/media-hub-backend/internal/identity/data"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/database"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/logger"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/minio"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/redis"
	syncdata "github.com/lk2023060901/media-hub-backend/internal/sync/data"
)

// Data 汇集进程内共享的基础设施句柄
type Data struct {
	DB     *database.DB
	Redis  *redis.Client
	MinIO  *minio.Client // 仅源站持有；中继节点为 nil
	Logger *zap.Logger
}

// NewData 初始化数据库、Redis 与对象存储，返回清理函数
func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	db, err := initDB(config, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}

	redisClient, err := redis.New(&redis.Config{
		Addr:     fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 对象存储只在源站需要：中继节点从本地缓存目录服务内容
	var minioClient *minio.Client
	if !config.IsRelay() {
		minioClient, err = initMinIO(config, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init minio: %w", err)
		}
	}

	d := &Data{
		DB:     db,
		Redis:  redisClient,
		MinIO:  minioClient,
		Logger: log.Logger,
	}

	cleanup := func() {
		log.Info("cleaning up data resources")

		if err := db.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
		if err := redisClient.Close(); err != nil {
			log.Warn("failed to close redis", zap.Error(err))
		}
		if minioClient != nil {
			if err := minioClient.Close(); err != nil {
				log.Warn("failed to close minio", zap.Error(err))
			}
		}
	}

	return d, cleanup, nil
}

func initDB(config *conf.Config, log *logger.Logger) (*database.DB, error) {
	cfg := database.DefaultConfig()
	cfg.Host = config.Database.Host
	cfg.Port = config.Database.Port
	cfg.User = config.Database.User
	cfg.Password = config.Database.Password
	cfg.DBName = config.Database.DBName
	cfg.SSLMode = config.Database.SSLMode
	cfg.AutoMigrate = true

	db, err := database.New(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&identitydata.SubjectPO{},
		&identitydata.OrganizationPO{},
		&assetdata.AssetPO{},
		&syncdata.SyncStatusPO{},
		&syncdata.ReferenceDBPO{},
		&checkoutdata.CheckoutTokenPO{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return db, nil
}

func initMinIO(config *conf.Config, log *logger.Logger) (*minio.Client, error) {
	client, err := minio.NewClient(&minio.Config{
		Endpoint:        config.MinIO.Endpoint,
		AccessKeyID:     config.MinIO.AccessKey,
		SecretAccessKey: config.MinIO.SecretKey,
		UseSSL:          config.MinIO.UseSSL,
	}, log.Logger)
	if err != nil {
		return nil, err
	}

	if err := client.EnsureBucket(context.Background(), config.MinIO.Bucket); err != nil {
		return nil, err
	}

	return client, nil
}
