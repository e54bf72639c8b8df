package biz

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/checksum"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	pkgredis "github.com/lk2023060901/media-hub-backend/internal/pkg/redis"
)

const (
	manifestCacheKey        = "sync:manifest"
	defaultManifestCacheTTL = 30 * time.Second
)

// SyncUseCase 同步域对外的读操作与手动触发入口。
// 源站与中继都导出清单: 源站导出全部可分发资产，中继只导出已缓存的，
// 这样下游永远不会被引导去拉一个本节点给不出来的文件。
type SyncUseCase struct {
	assets   assetbiz.AssetRepo
	statuses SyncStatusRepo
	refdbs   ReferenceDBRepo
	store    assetbiz.ContentStore // 源站参考数据库的对象存储，中继为 nil
	orch     *Orchestrator         // 源站没有上游，为 nil
	cache    *pkgredis.Client
	cacheTTL time.Duration
	relay    bool
	logger   *zap.Logger
}

// NewSyncUseCase 创建同步用例
func NewSyncUseCase(
	assets assetbiz.AssetRepo,
	statuses SyncStatusRepo,
	refdbs ReferenceDBRepo,
	store assetbiz.ContentStore,
	orch *Orchestrator,
	cache *pkgredis.Client,
	cacheTTL time.Duration,
	relay bool,
	logger *zap.Logger,
) *SyncUseCase {
	if cacheTTL <= 0 {
		cacheTTL = defaultManifestCacheTTL
	}
	return &SyncUseCase{
		assets:   assets,
		statuses: statuses,
		refdbs:   refdbs,
		store:    store,
		orch:     orch,
		cache:    cache,
		cacheTTL: cacheTTL,
		relay:    relay,
		logger:   logger,
	}
}

// BuildManifest 导出本节点的分发清单。
// 版本号由清单内容推导，可分发集合不变则版本不变。
// 清单在 Redis 里短暂缓存，下游节点密集轮询时不会反复扫表。
func (uc *SyncUseCase) BuildManifest(ctx context.Context) (*Manifest, error) {
	if uc.cache != nil {
		if raw, err := uc.cache.Get(ctx, manifestCacheKey); err == nil && raw != "" {
			var m Manifest
			if err := json.Unmarshal([]byte(raw), &m); err == nil {
				return &m, nil
			}
		}
	}

	assets, err := uc.assets.ListDistributable(ctx, uc.relay)
	if err != nil {
		return nil, err
	}

	m := &Manifest{Assets: make([]assetbiz.Descriptor, 0, len(assets))}
	var fingerprint strings.Builder
	for _, a := range assets {
		d := a.Descriptor()
		m.Assets = append(m.Assets, d)
		fingerprint.WriteString(d.ID)
		fingerprint.WriteByte(':')
		fingerprint.WriteString(d.ContentHash)
		fingerprint.WriteByte('\n')
	}
	m.Version = checksum.SumBytes([]byte(fingerprint.String()))[:16]

	if uc.cache != nil {
		if raw, err := json.Marshal(m); err == nil {
			if err := uc.cache.Set(ctx, manifestCacheKey, string(raw), uc.cacheTTL); err != nil {
				uc.logger.Warn("清单缓存写入失败", zap.Error(err))
			}
		}
	}
	return m, nil
}

// GetRefDBMeta 返回参考数据库的版本元信息
func (uc *SyncUseCase) GetRefDBMeta(ctx context.Context, name string) (*RefDBMeta, error) {
	db, err := uc.refdbs.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return db.Meta(), nil
}

// OpenRefDBContent 打开参考数据库文件。
// 中继行读本地缓存，源站行读对象存储。
func (uc *SyncUseCase) OpenRefDBContent(ctx context.Context, name string) (io.ReadCloser, *assetbiz.ContentInfo, error) {
	db, err := uc.refdbs.GetByName(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	info := &assetbiz.ContentInfo{
		Size:        db.FileSize,
		ContentType: "application/octet-stream",
		ETag:        db.FileHash,
	}

	if db.LocalPath != "" {
		f, err := os.Open(db.LocalPath)
		if err != nil {
			if os.IsNotExist(err) {
				uc.logger.Warn("参考数据库缓存文件丢失",
					zap.String("name", name),
					zap.String("local_path", db.LocalPath),
				)
				return nil, nil, apperrors.New(apperrors.ErrAssetNoContent, name)
			}
			return nil, nil, err
		}
		if fi, statErr := f.Stat(); statErr == nil {
			info.Size = fi.Size()
		}
		return f, info, nil
	}

	if uc.store == nil || db.ObjectKey == "" {
		return nil, nil, apperrors.New(apperrors.ErrAssetNoContent, name)
	}
	rc, size, err := uc.store.Open(ctx, db.ObjectKey)
	if err != nil {
		return nil, nil, err
	}
	info.Size = size
	return rc, info, nil
}

// StatusView 状态行加上当前运行阶段
type StatusView struct {
	*SyncStatus
	Phase Phase `json:"phase"`
}

// Statuses 返回所有资源类的同步状态
func (uc *SyncUseCase) Statuses(ctx context.Context) ([]*StatusView, error) {
	list, err := uc.statuses.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]*StatusView, 0, len(list))
	for _, s := range list {
		views = append(views, &StatusView{SyncStatus: s, Phase: uc.PhaseOf(s.ResourceClass)})
	}
	return views, nil
}

// Trigger 手动触发一个资源类的同步周期
func (uc *SyncUseCase) Trigger(ctx context.Context, class string) (*Result, error) {
	if uc.orch == nil {
		return nil, apperrors.New(apperrors.ErrBadRequest, "node has no upstream configured")
	}
	return uc.orch.Run(ctx, class)
}

// PhaseOf 返回资源类当前的运行阶段
func (uc *SyncUseCase) PhaseOf(class string) Phase {
	if uc.orch == nil {
		return PhaseIdle
	}
	return uc.orch.Phase(class)
}
