package biz

import (
	"context"
	"io"
	"os"
	"time"

	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	"go.uber.org/zap"
)

// Lifecycle statuses. Transitions are owned by the external CRUD layer;
// this system only reads them to decide distribution and checkout
// eligibility.
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusApproved  = "approved"
	StatusPublished = "published"
	StatusRejected  = "rejected"
	StatusArchived  = "archived"
)

// Origin markers distinguish locally published rows from upstream mirrors.
const (
	OriginLocal    = "local"
	OriginUpstream = "upstream"
)

// Asset represents a media object tracked across tiers
type Asset struct {
	ID       string
	SourceID *int64

	Filename    string
	ContentHash string
	FileSize    int64
	ContentType string

	LifecycleStatus string

	OwnerOrgID      string
	UploaderID      string
	CatalogID       string
	CatalogInternal bool
	VisibilityScope []string

	Origin string

	// CacheEntry is present only on tiers that materialize bytes locally.
	CacheEntry *CacheEntry

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CacheEntry is the local materialization of an asset's bytes. When
// present, CachedHash always equals the asset's ContentHash: hashes are
// verified before a file is promoted into the cache.
type CacheEntry struct {
	LocalPath  string
	CachedHash string
	CachedAt   time.Time
}

// Fresh reports whether the cached bytes still match the given content hash.
func (e *CacheEntry) Fresh(contentHash string) bool {
	return e.CachedHash == contentHash
}

// CheckoutEligible reports whether a regular (non fast-track) checkout is
// allowed for this asset's lifecycle status.
func (a *Asset) CheckoutEligible() bool {
	return a.LifecycleStatus == StatusApproved || a.LifecycleStatus == StatusPublished
}

// Descriptor returns the wire form of the asset for sync manifests.
func (a *Asset) Descriptor() Descriptor {
	return Descriptor{
		ID:          a.ID,
		SourceID:    a.SourceID,
		Filename:    a.Filename,
		ContentHash: a.ContentHash,
		FileSize:    a.FileSize,
		ContentType: a.ContentType,
	}
}

// Descriptor is one entry of a sync manifest. Both sides of the peer
// protocol share this shape.
type Descriptor struct {
	ID          string `json:"id"`
	SourceID    *int64 `json:"source_id,omitempty"`
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

// AssetRepo defines the data access surface for assets. Lifecycle and
// visibility fields are written by the external CRUD layer; this system
// writes descriptor fields of upstream mirrors and cache entries, nothing
// else.
type AssetRepo interface {
	GetByID(ctx context.Context, id string) (*Asset, error)
	List(ctx context.Context, page, pageSize int) ([]*Asset, int64, error)

	// ListCached returns assets that currently hold a cache entry (the
	// local inventory a sync diff runs against).
	ListCached(ctx context.Context) ([]*Asset, error)

	// ListDistributable returns approved/published assets, optionally
	// restricted to cached ones (a relay only re-exports bytes it holds).
	ListDistributable(ctx context.Context, cachedOnly bool) ([]*Asset, error)

	// ApplyFetched records a verified download in one transaction: the
	// mirror row is created or updated with descriptor fields only, and
	// the cache entry is set to the new local file.
	ApplyFetched(ctx context.Context, desc *Descriptor, entry *CacheEntry) error

	ClearCacheEntry(ctx context.Context, assetID string) error
}

// ContentStore is the byte store an origin node serves from. The object
// key convention is "<asset id>/<filename>".
type ContentStore interface {
	// Open returns the object's byte stream and size.
	Open(ctx context.Context, objectKey string) (io.ReadCloser, int64, error)
}

// ContentInfo describes an opened byte stream
type ContentInfo struct {
	Size        int64
	ContentType string
	ETag        string
}

// AssetUseCase contains read-side business logic for assets
type AssetUseCase struct {
	repo   AssetRepo
	store  ContentStore // nil on relay nodes
	logger *zap.Logger
}

func NewAssetUseCase(repo AssetRepo, store ContentStore, logger *zap.Logger) *AssetUseCase {
	return &AssetUseCase{
		repo:   repo,
		store:  store,
		logger: logger,
	}
}

// Get retrieves an asset by id.
func (uc *AssetUseCase) Get(ctx context.Context, id string) (*Asset, error) {
	if id == "" {
		return nil, apperrors.New(apperrors.ErrAssetInvalidID)
	}
	return uc.repo.GetByID(ctx, id)
}

// List returns one page of assets plus the total row count.
func (uc *AssetUseCase) List(ctx context.Context, page, pageSize int) ([]*Asset, int64, error) {
	return uc.repo.List(ctx, page, pageSize)
}

// ListDistributable returns the manifest source set.
func (uc *AssetUseCase) ListDistributable(ctx context.Context, cachedOnly bool) ([]*Asset, error) {
	return uc.repo.ListDistributable(ctx, cachedOnly)
}

// OpenContent resolves the byte source for an asset: the local cache file
// when a cache entry exists, otherwise the origin's object store.
func (uc *AssetUseCase) OpenContent(ctx context.Context, asset *Asset) (io.ReadCloser, *ContentInfo, error) {
	if asset.CacheEntry != nil {
		f, err := os.Open(asset.CacheEntry.LocalPath)
		if err != nil {
			if os.IsNotExist(err) {
				uc.logger.Warn("cache entry points to a missing file",
					zap.String("asset_id", asset.ID),
					zap.String("local_path", asset.CacheEntry.LocalPath),
				)
				return nil, nil, apperrors.New(apperrors.ErrAssetNoContent, asset.ID)
			}
			return nil, nil, apperrors.Wrap(err, apperrors.ErrInternalServer)
		}

		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, nil, apperrors.Wrap(err, apperrors.ErrInternalServer)
		}

		return f, &ContentInfo{
			Size:        fi.Size(),
			ContentType: asset.ContentType,
			ETag:        asset.ContentHash,
		}, nil
	}

	if uc.store == nil {
		return nil, nil, apperrors.New(apperrors.ErrAssetNoContent, asset.ID)
	}

	rc, size, err := uc.store.Open(ctx, asset.ID+"/"+asset.Filename)
	if err != nil {
		return nil, nil, err
	}

	return rc, &ContentInfo{
		Size:        size,
		ContentType: asset.ContentType,
		ETag:        asset.ContentHash,
	}, nil
}
