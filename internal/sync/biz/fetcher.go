package biz

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/checksum"
)

// FetchResult 单个条目落盘后的结果
type FetchResult struct {
	LocalPath string
	Hash      string
	Size      int64
}

// Fetcher 从上游拉取单个条目，校验哈希后原子地写入本地缓存
type Fetcher struct {
	source Source
	store  CacheStore
	logger *zap.Logger
}

// NewFetcher 创建下载器
func NewFetcher(source Source, store CacheStore, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		store:  store,
		logger: logger,
	}
}

// FetchAsset 下载一个资产的内容
func (f *Fetcher) FetchAsset(ctx context.Context, desc *assetbiz.Descriptor) (*FetchResult, error) {
	rc, err := f.source.OpenAsset(ctx, desc.ID)
	if err != nil {
		return nil, fmt.Errorf("open asset %s: %w", desc.ID, err)
	}
	defer rc.Close()

	target := f.store.AssetPath(desc.ID, desc.Filename)
	res, err := f.writeVerified(target, rc, desc.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", desc.ID, err)
	}

	f.logger.Debug("资产已写入缓存",
		zap.String("asset_id", desc.ID),
		zap.String("path", res.LocalPath),
		zap.Int64("size", res.Size),
	)
	return res, nil
}

// FetchRefDB 下载一个参考数据库文件
func (f *Fetcher) FetchRefDB(ctx context.Context, meta *RefDBMeta) (*FetchResult, error) {
	rc, err := f.source.OpenRefDB(ctx, meta.Name)
	if err != nil {
		return nil, fmt.Errorf("open refdb %s: %w", meta.Name, err)
	}
	defer rc.Close()

	filename := meta.Filename
	if filename == "" {
		filename = meta.Name + ".db"
	}
	target := f.store.RefDBPath(meta.Name, filename)
	res, err := f.writeVerified(target, rc, meta.FileHash)
	if err != nil {
		return nil, fmt.Errorf("refdb %s: %w", meta.Name, err)
	}

	f.logger.Debug("参考数据库已写入缓存",
		zap.String("name", meta.Name),
		zap.String("version", meta.Version),
		zap.String("path", res.LocalPath),
	)
	return res, nil
}

// writeVerified 写临时文件、校验哈希、原子提升三步。
// 哈希不匹配或写入失败时临时文件被删除，最终路径不受任何影响。
func (f *Fetcher) writeVerified(target string, r io.Reader, expected string) (*FetchResult, error) {
	tmp, hash, size, err := f.store.WriteTemp(target, &transientReader{r: r})
	if err != nil {
		if errors.Is(err, ErrTransient) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if expected != "" && !checksum.Equal(hash, expected) {
		_ = f.store.Discard(tmp)
		f.logger.Warn("内容哈希不匹配，已丢弃下载",
			zap.String("target", target),
			zap.String("expected", expected),
			zap.String("actual", hash),
		)
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrIntegrity, expected, hash)
	}

	if err := f.store.Promote(tmp, target); err != nil {
		_ = f.store.Discard(tmp)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return &FetchResult{LocalPath: target, Hash: hash, Size: size}, nil
}

// transientReader 将上游读取错误标记为临时失败，与本地磁盘错误区分开
type transientReader struct {
	r io.Reader
}

func (t *transientReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return n, err
}
