package data

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/media-hub-backend/internal/checkout/biz"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/database"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
)

// CheckoutTokenPO represents the database model for checkout tokens
type CheckoutTokenPO struct {
	ID        string     `gorm:"type:uuid;primarykey"`
	Token     string     `gorm:"size:64;uniqueIndex;not null"`
	AssetID   string     `gorm:"type:uuid;not null;index"`
	SubjectID string     `gorm:"type:uuid;not null;index"`
	FastTrack bool       `gorm:"not null;default:false"`
	IssuedAt  time.Time  `gorm:"not null"`
	ExpiresAt time.Time  `gorm:"not null;index"`
	UsedAt    *time.Time
}

func (CheckoutTokenPO) TableName() string {
	return "checkout_tokens"
}

// CheckoutTokenRepo implements biz.TokenRepo
type CheckoutTokenRepo struct {
	db     *database.DB
	logger *zap.Logger
}

// NewCheckoutTokenRepo 创建领用令牌仓储
func NewCheckoutTokenRepo(db *database.DB, logger *zap.Logger) biz.TokenRepo {
	return &CheckoutTokenRepo{db: db, logger: logger}
}

func (r *CheckoutTokenRepo) Create(ctx context.Context, token *biz.CheckoutToken) error {
	po := toCheckoutTokenPO(token)
	if err := r.db.WithContext(ctx).Create(po).Error; err != nil {
		r.logger.Error("failed to create checkout token",
			zap.String("asset_id", token.AssetID),
			zap.Error(err),
		)
		return apperrors.Wrap(err, apperrors.ErrInternalServer)
	}
	return nil
}

func (r *CheckoutTokenRepo) GetByToken(ctx context.Context, token string) (*biz.CheckoutToken, error) {
	var po CheckoutTokenPO
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, apperrors.New(apperrors.ErrTokenNotFound)
		}
		return nil, err
	}
	return toCheckoutToken(&po), nil
}

// MarkUsed 对 used_at 做条件更新：WHERE used_at IS NULL 保证每个令牌
// 恰好核销一次，并发竞争由行锁与受影响行数裁决，没有读改写窗口。
func (r *CheckoutTokenRepo) MarkUsed(ctx context.Context, token string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&CheckoutTokenPO{}).
		Where("token = ? AND used_at IS NULL", token).
		Update("used_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *CheckoutTokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&CheckoutTokenPO{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func toCheckoutTokenPO(t *biz.CheckoutToken) *CheckoutTokenPO {
	return &CheckoutTokenPO{
		ID:        t.ID,
		Token:     t.Token,
		AssetID:   t.AssetID,
		SubjectID: t.SubjectID,
		FastTrack: t.FastTrack,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
		UsedAt:    t.UsedAt,
	}
}

func toCheckoutToken(po *CheckoutTokenPO) *biz.CheckoutToken {
	return &biz.CheckoutToken{
		ID:        po.ID,
		Token:     po.Token,
		AssetID:   po.AssetID,
		SubjectID: po.SubjectID,
		FastTrack: po.FastTrack,
		IssuedAt:  po.IssuedAt,
		ExpiresAt: po.ExpiresAt,
		UsedAt:    po.UsedAt,
	}
}
