package data

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/lk2023060901/media-hub-backend/internal/pkg/database"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	"github.com/lk2023060901/media-hub-backend/internal/sync/biz"
)

// SyncStatusPO represents the database model for per-class sync state
type SyncStatusPO struct {
	ResourceClass string     `gorm:"size:64;primarykey"`
	Version       string     `gorm:"size:128;not null;default:''"`
	LastHash      string     `gorm:"size:64;not null;default:''"`
	LastSyncedAt  *time.Time `gorm:"index"`
	LastError     string     `gorm:"type:text;not null;default:''"`
	CreatedAt     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (SyncStatusPO) TableName() string {
	return "sync_statuses"
}

// ReferenceDBPO represents the database model for reference databases
type ReferenceDBPO struct {
	Name     string `gorm:"size:128;primarykey"`
	Version  string `gorm:"size:128;not null;default:''"`
	FileHash string `gorm:"size:64;not null;default:''"`
	FileSize int64  `gorm:"not null;default:0"`
	Filename string `gorm:"size:512;not null;default:''"`

	// 源站行: 对象存储位置；中继行: 本地缓存位置
	ObjectKey string `gorm:"size:1024"`
	LocalPath string `gorm:"size:1024"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ReferenceDBPO) TableName() string {
	return "reference_dbs"
}

// SyncStatusRepo implements biz.SyncStatusRepo
type SyncStatusRepo struct {
	db *database.DB
}

func NewSyncStatusRepo(db *database.DB) biz.SyncStatusRepo {
	return &SyncStatusRepo{db: db}
}

func (r *SyncStatusRepo) GetOrCreate(ctx context.Context, class string) (*biz.SyncStatus, error) {
	var po SyncStatusPO
	err := r.db.WithContext(ctx).Where("resource_class = ?", class).First(&po).Error
	if err == nil {
		return toSyncStatus(&po), nil
	}
	if !database.IsRecordNotFoundError(err) {
		return nil, err
	}

	po = SyncStatusPO{ResourceClass: class}
	if err := r.db.WithContext(ctx).Create(&po).Error; err != nil {
		// 并发创建时读已有行
		if database.IsDuplicateKeyError(err) {
			if err := r.db.WithContext(ctx).Where("resource_class = ?", class).First(&po).Error; err != nil {
				return nil, err
			}
			return toSyncStatus(&po), nil
		}
		return nil, err
	}
	return toSyncStatus(&po), nil
}

func (r *SyncStatusRepo) Get(ctx context.Context, class string) (*biz.SyncStatus, error) {
	var po SyncStatusPO
	if err := r.db.WithContext(ctx).Where("resource_class = ?", class).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, apperrors.New(apperrors.ErrNotFound, class)
		}
		return nil, err
	}
	return toSyncStatus(&po), nil
}

func (r *SyncStatusRepo) List(ctx context.Context) ([]*biz.SyncStatus, error) {
	var pos []SyncStatusPO
	if err := r.db.WithContext(ctx).Order("resource_class").Find(&pos).Error; err != nil {
		return nil, err
	}

	statuses := make([]*biz.SyncStatus, 0, len(pos))
	for i := range pos {
		statuses = append(statuses, toSyncStatus(&pos[i]))
	}
	return statuses, nil
}

// MarkSuccess 写入新版本并清空错误信息
func (r *SyncStatusRepo) MarkSuccess(ctx context.Context, class, version, hash string, at time.Time) error {
	po := &SyncStatusPO{
		ResourceClass: class,
		Version:       version,
		LastHash:      hash,
		LastSyncedAt:  &at,
		LastError:     "",
		UpdatedAt:     at,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_class"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "last_hash", "last_synced_at", "last_error", "updated_at"}),
	}).Create(po).Error
}

// MarkFailure 只覆盖错误信息，版本与哈希保留上一次成功的值
func (r *SyncStatusRepo) MarkFailure(ctx context.Context, class, message string, at time.Time) error {
	po := &SyncStatusPO{
		ResourceClass: class,
		LastError:     message,
		UpdatedAt:     at,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_class"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_error", "updated_at"}),
	}).Create(po).Error
}

func toSyncStatus(po *SyncStatusPO) *biz.SyncStatus {
	return &biz.SyncStatus{
		ResourceClass: po.ResourceClass,
		Version:       po.Version,
		LastHash:      po.LastHash,
		LastSyncedAt:  po.LastSyncedAt,
		LastError:     po.LastError,
		UpdatedAt:     po.UpdatedAt,
	}
}

// ReferenceDBRepo implements biz.ReferenceDBRepo
type ReferenceDBRepo struct {
	db *database.DB
}

func NewReferenceDBRepo(db *database.DB) biz.ReferenceDBRepo {
	return &ReferenceDBRepo{db: db}
}

func (r *ReferenceDBRepo) GetByName(ctx context.Context, name string) (*biz.ReferenceDB, error) {
	var po ReferenceDBPO
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, apperrors.New(apperrors.ErrReferenceDBNotFound, name)
		}
		return nil, err
	}
	return toReferenceDB(&po), nil
}

// UpsertLocal 落一条中继行。不触碰 object_key，源站行的对象位置由导入流程维护。
func (r *ReferenceDBRepo) UpsertLocal(ctx context.Context, db *biz.ReferenceDB) error {
	po := &ReferenceDBPO{
		Name:      db.Name,
		Version:   db.Version,
		FileHash:  db.FileHash,
		FileSize:  db.FileSize,
		Filename:  db.Filename,
		LocalPath: db.LocalPath,
		UpdatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "file_hash", "file_size", "filename", "local_path", "updated_at"}),
	}).Create(po).Error
}

func toReferenceDB(po *ReferenceDBPO) *biz.ReferenceDB {
	return &biz.ReferenceDB{
		Name:      po.Name,
		Version:   po.Version,
		FileHash:  po.FileHash,
		FileSize:  po.FileSize,
		Filename:  po.Filename,
		ObjectKey: po.ObjectKey,
		LocalPath: po.LocalPath,
		UpdatedAt: po.UpdatedAt,
	}
}
