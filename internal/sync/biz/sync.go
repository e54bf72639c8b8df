package biz

import (
	"context"
	"io"
	"strings"
	"time"

	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
)

// 资源类标识。每个资源类独立同步、独立互斥、独立记录状态。
const (
	// ClassAssets 资产清单与内容
	ClassAssets = "assets"

	// refDBClassPrefix 参考数据库资源类前缀，完整形式为 refdb:<name>
	refDBClassPrefix = "refdb:"
)

// RefDBClass 返回参考数据库对应的资源类标识
func RefDBClass(name string) string {
	return refDBClassPrefix + name
}

// ParseRefDBClass 从资源类标识中取出参考数据库名，非 refdb 类返回 false
func ParseRefDBClass(class string) (string, bool) {
	if !strings.HasPrefix(class, refDBClassPrefix) {
		return "", false
	}
	return strings.TrimPrefix(class, refDBClassPrefix), true
}

// Manifest 上游返回的资产清单
type Manifest struct {
	Version string                `json:"version"`
	Assets  []assetbiz.Descriptor `json:"assets"`

	// Hash 清单原始字节的 SHA-256，由传输层计算，不参与序列化
	Hash string `json:"-"`
}

// RefDBMeta 参考数据库的版本元信息
type RefDBMeta struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Filename string `json:"filename"`
	FileHash string `json:"file_hash"`
	FileSize int64  `json:"file_size"`
}

// SyncStatus 每个资源类一行的同步状态记录。
// 失败时仅覆盖 LastError，Version 与 LastHash 保留最近一次成功的值。
type SyncStatus struct {
	ResourceClass string     `json:"resource_class"`
	Version       string     `json:"version"`
	LastHash      string     `json:"last_hash"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	LastError     string     `json:"last_error,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Healthy 上一次同步是否成功
func (s *SyncStatus) Healthy() bool {
	return s.LastError == ""
}

// ReferenceDB 参考数据库记录。
// 源站行携带对象存储位置，中继行携带本地缓存路径。
type ReferenceDB struct {
	Name      string
	Version   string
	FileHash  string
	FileSize  int64
	Filename  string
	ObjectKey string
	LocalPath string
	UpdatedAt time.Time
}

// Meta 导出为对等节点可见的元信息
func (d *ReferenceDB) Meta() *RefDBMeta {
	return &RefDBMeta{
		Name:     d.Name,
		Version:  d.Version,
		Filename: d.Filename,
		FileHash: d.FileHash,
		FileSize: d.FileSize,
	}
}

// Source 上游节点的清单与内容来源
type Source interface {
	FetchManifest(ctx context.Context) (*Manifest, error)
	FetchRefDBMeta(ctx context.Context, name string) (*RefDBMeta, error)
	OpenAsset(ctx context.Context, id string) (io.ReadCloser, error)
	OpenRefDB(ctx context.Context, name string) (io.ReadCloser, error)
}

// CacheStore 本地缓存目录。WriteTemp/Promote/Discard 三步保证
// 未通过校验的内容不会出现在最终路径。
type CacheStore interface {
	AssetPath(assetID, filename string) string
	RefDBPath(name, filename string) string
	WriteTemp(target string, r io.Reader) (tmp string, hash string, size int64, err error)
	Promote(tmp, target string) error
	Discard(tmp string) error
	Remove(path string) error
}

// SyncStatusRepo 同步状态仓储
type SyncStatusRepo interface {
	GetOrCreate(ctx context.Context, class string) (*SyncStatus, error)
	Get(ctx context.Context, class string) (*SyncStatus, error)
	List(ctx context.Context) ([]*SyncStatus, error)
	MarkSuccess(ctx context.Context, class, version, hash string, at time.Time) error
	MarkFailure(ctx context.Context, class, message string, at time.Time) error
}

// ReferenceDBRepo 参考数据库仓储
type ReferenceDBRepo interface {
	GetByName(ctx context.Context, name string) (*ReferenceDB, error)
	UpsertLocal(ctx context.Context, db *ReferenceDB) error
}
