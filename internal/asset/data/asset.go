package data

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/database"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScopeJSON 自定义 JSONB 类型（资产暴露给哪些租户/目录）
type ScopeJSON []string

func (j *ScopeJSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j ScopeJSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// AssetPO represents the database model for assets
type AssetPO struct {
	ID       string `gorm:"size:64;primarykey"`
	SourceID *int64 `gorm:"index"`

	Filename    string `gorm:"size:512;not null"`
	ContentHash string `gorm:"size:64;not null;index"`
	FileSize    int64  `gorm:"not null;default:0"`
	ContentType string `gorm:"size:128"`

	LifecycleStatus string `gorm:"size:16;not null;default:'draft';index"`

	// 所有权与可见性字段由外部 CRUD 层维护；上游镜像行为空
	OwnerOrgID      string    `gorm:"size:64;index"`
	UploaderID      string    `gorm:"size:64"`
	CatalogID       string    `gorm:"size:64;index"`
	CatalogInternal bool      `gorm:"not null;default:false"`
	VisibilityScope ScopeJSON `gorm:"type:jsonb"`

	Origin string `gorm:"size:16;not null;default:'local'"`

	// 缓存条目（三列要么同时存在要么同时为空）
	LocalPath  *string `gorm:"size:1024"`
	CachedHash *string `gorm:"size:64"`
	CachedAt   *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (AssetPO) TableName() string {
	return "assets"
}

// mirrorColumns are the only columns an upstream descriptor may overwrite
// on an existing row.
var mirrorColumns = []string{"source_id", "filename", "content_hash", "file_size", "content_type", "updated_at"}

// AssetRepo implements biz.AssetRepo
type AssetRepo struct {
	db *database.DB
}

func NewAssetRepo(db *database.DB) biz.AssetRepo {
	return &AssetRepo{db: db}
}

func (r *AssetRepo) GetByID(ctx context.Context, id string) (*biz.Asset, error) {
	var po AssetPO
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, apperrors.New(apperrors.ErrAssetNotFound, id)
		}
		return nil, err
	}

	return toAsset(&po), nil
}

func (r *AssetRepo) List(ctx context.Context, page, pageSize int) ([]*biz.Asset, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&AssetPO{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var pos []AssetPO
	err := r.db.WithContext(ctx).
		Scopes(database.Paginate(page, pageSize), database.OrderBy("created_at", true)).
		Find(&pos).Error
	if err != nil {
		return nil, 0, err
	}

	return toAssets(pos), total, nil
}

func (r *AssetRepo) ListCached(ctx context.Context) ([]*biz.Asset, error) {
	var pos []AssetPO
	err := r.db.WithContext(ctx).
		Where("local_path IS NOT NULL AND cached_hash IS NOT NULL").
		Order("id").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}

	return toAssets(pos), nil
}

func (r *AssetRepo) ListDistributable(ctx context.Context, cachedOnly bool) ([]*biz.Asset, error) {
	var pos []AssetPO
	err := r.db.WithContext(ctx).
		Where("lifecycle_status IN ?", []string{biz.StatusApproved, biz.StatusPublished}).
		Scopes(database.WhereIf(cachedOnly, "local_path IS NOT NULL AND cached_hash IS NOT NULL")).
		Order("id").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}

	return toAssets(pos), nil
}

func (r *AssetRepo) ApplyFetched(ctx context.Context, desc *biz.Descriptor, entry *biz.CacheEntry) error {
	now := time.Now()

	return r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		po := &AssetPO{
			ID:          desc.ID,
			SourceID:    desc.SourceID,
			Filename:    desc.Filename,
			ContentHash: desc.ContentHash,
			FileSize:    desc.FileSize,
			ContentType: desc.ContentType,

			// 上游清单只会列出可分发的资产
			LifecycleStatus: biz.StatusApproved,
			Origin:          biz.OriginUpstream,

			CreatedAt: now,
			UpdatedAt: now,
		}

		// 已存在的行只更新描述符字段，本地行的生命周期/可见性不受上游影响
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(mirrorColumns),
		}).Create(po).Error
		if err != nil {
			return err
		}

		return tx.Model(&AssetPO{}).Where("id = ?", desc.ID).Updates(map[string]interface{}{
			"local_path":  entry.LocalPath,
			"cached_hash": entry.CachedHash,
			"cached_at":   entry.CachedAt,
			"updated_at":  now,
		}).Error
	})
}

func (r *AssetRepo) ClearCacheEntry(ctx context.Context, assetID string) error {
	return r.db.WithContext(ctx).Model(&AssetPO{}).Where("id = ?", assetID).Updates(map[string]interface{}{
		"local_path":  nil,
		"cached_hash": nil,
		"cached_at":   nil,
		"updated_at":  time.Now(),
	}).Error
}

func toAsset(po *AssetPO) *biz.Asset {
	asset := &biz.Asset{
		ID:              po.ID,
		SourceID:        po.SourceID,
		Filename:        po.Filename,
		ContentHash:     po.ContentHash,
		FileSize:        po.FileSize,
		ContentType:     po.ContentType,
		LifecycleStatus: po.LifecycleStatus,
		OwnerOrgID:      po.OwnerOrgID,
		UploaderID:      po.UploaderID,
		CatalogID:       po.CatalogID,
		CatalogInternal: po.CatalogInternal,
		VisibilityScope: po.VisibilityScope,
		Origin:          po.Origin,
		CreatedAt:       po.CreatedAt,
		UpdatedAt:       po.UpdatedAt,
	}

	if po.LocalPath != nil && po.CachedHash != nil && po.CachedAt != nil {
		asset.CacheEntry = &biz.CacheEntry{
			LocalPath:  *po.LocalPath,
			CachedHash: *po.CachedHash,
			CachedAt:   *po.CachedAt,
		}
	}

	return asset
}

func toAssets(pos []AssetPO) []*biz.Asset {
	assets := make([]*biz.Asset, len(pos))
	for i := range pos {
		assets[i] = toAsset(&pos[i])
	}
	return assets
}
