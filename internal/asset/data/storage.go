package data

import (
	"context"
	"io"

	"github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	pkgminio "github.com/lk2023060901/media-hub-backend/internal/pkg/minio"
)

// MinIOContentStore 实现 biz.ContentStore 接口，源站从对象存储读取资产字节
type MinIOContentStore struct {
	client *pkgminio.Client
	bucket string
}

// NewMinIOContentStore 创建 MinIO 内容存储
func NewMinIOContentStore(client *pkgminio.Client, bucket string) biz.ContentStore {
	return &MinIOContentStore{
		client: client,
		bucket: bucket,
	}
}

// Open 打开对象字节流并返回对象大小
func (s *MinIOContentStore) Open(ctx context.Context, objectKey string) (io.ReadCloser, int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, objectKey, pkgminio.StatObjectOptions{})
	if err != nil {
		if pkgminio.IsNotFound(err) {
			return nil, 0, apperrors.New(apperrors.ErrAssetNoContent, objectKey)
		}
		return nil, 0, apperrors.Wrap(err, apperrors.ErrInternalServer)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, pkgminio.GetObjectOptions{})
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrInternalServer)
	}

	return obj, info.Size, nil
}
