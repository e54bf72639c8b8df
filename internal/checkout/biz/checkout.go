package biz

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	identitybiz "github.com/lk2023060901/media-hub-backend/internal/identity/biz"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	"github.com/lk2023060901/media-hub-backend/internal/visibility"
)

// DefaultTokenTTL 领用令牌默认有效期
const DefaultTokenTTL = 10 * time.Minute

// CheckoutToken 领用令牌：短时、一次性的下载授权
type CheckoutToken struct {
	ID        string
	Token     string
	AssetID   string
	SubjectID string
	FastTrack bool
	IssuedAt  time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Used 令牌是否已被核销
func (t *CheckoutToken) Used() bool {
	return t.UsedAt != nil
}

// Expired 令牌在 now 时刻是否已过期
func (t *CheckoutToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Grant 签发结果
type Grant struct {
	Token     string    `json:"token"`
	SignedURL string    `json:"signed_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenRepo 领用令牌数据访问接口
type TokenRepo interface {
	Create(ctx context.Context, token *CheckoutToken) error
	GetByToken(ctx context.Context, token string) (*CheckoutToken, error)

	// MarkUsed 条件更新 used_at（仅当尚未核销时生效），返回本次调用是否抢到
	MarkUsed(ctx context.Context, token string, at time.Time) (bool, error)

	// DeleteExpiredBefore 删除 expires_at 早于 cutoff 的令牌，返回删除行数
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CheckoutUseCase 领用令牌业务逻辑
type CheckoutUseCase struct {
	tokens   TokenRepo
	assets   assetbiz.AssetRepo
	identity *identitybiz.IdentityUseCase
	signer   *Signer
	baseURL  string
	tokenTTL time.Duration
	logger   *zap.Logger
}

// NewCheckoutUseCase 创建领用业务逻辑
func NewCheckoutUseCase(
	tokens TokenRepo,
	assets assetbiz.AssetRepo,
	identity *identitybiz.IdentityUseCase,
	signer *Signer,
	baseURL string,
	tokenTTL time.Duration,
	logger *zap.Logger,
) *CheckoutUseCase {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &CheckoutUseCase{
		tokens:   tokens,
		assets:   assets,
		identity: identity,
		signer:   signer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// Checkout 校验主体、可见性与资产状态后签发一个令牌。
// fastTrack 需要 content_manager 及以上角色，并绕过审批状态门槛。
func (uc *CheckoutUseCase) Checkout(ctx context.Context, subjectID, assetID string, fastTrack bool) (*Grant, error) {
	subject, org, err := uc.identity.Resolve(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	if assetID == "" {
		return nil, apperrors.New(apperrors.ErrAssetInvalidID)
	}
	asset, err := uc.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}

	filter := visibility.NewFilter(subject, org)
	if !filter.CanView(asset) {
		return nil, apperrors.New(apperrors.ErrNotVisible, assetID)
	}

	if fastTrack {
		if !subject.Role.AtLeast(identitybiz.RoleContentManager) {
			return nil, apperrors.New(apperrors.ErrInsufficientRole, string(subject.Role))
		}
	} else if !asset.CheckoutEligible() {
		return nil, apperrors.New(apperrors.ErrNotApproved, asset.LifecycleStatus)
	}

	tokenStr, err := generateToken()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer)
	}

	now := time.Now()
	expiresAt := now.Add(uc.tokenTTL)

	record := &CheckoutToken{
		ID:        uuid.New().String(),
		Token:     tokenStr,
		AssetID:   asset.ID,
		SubjectID: subject.ID,
		FastTrack: fastTrack,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if err := uc.tokens.Create(ctx, record); err != nil {
		return nil, err
	}

	uc.logger.Info("签发领用令牌",
		zap.String("asset_id", asset.ID),
		zap.String("subject_id", subject.ID),
		zap.Bool("fast_track", fastTrack),
		zap.Time("expires_at", expiresAt),
	)

	return &Grant{
		Token:     tokenStr,
		SignedURL: uc.signedURL(asset.ID, tokenStr, expiresAt),
		ExpiresAt: expiresAt,
	}, nil
}

// Validate 只读校验：未知、过期或已核销的令牌均失败，不产生任何写入
func (uc *CheckoutUseCase) Validate(ctx context.Context, token string) (*CheckoutToken, error) {
	if token == "" {
		return nil, apperrors.New(apperrors.ErrTokenNotFound)
	}

	record, err := uc.tokens.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if record.Expired(time.Now()) {
		return nil, apperrors.New(apperrors.ErrTokenExpired, token)
	}
	if record.Used() {
		return nil, apperrors.New(apperrors.ErrTokenUsed, token)
	}
	return record, nil
}

// Use 校验并核销令牌。每个令牌恰好成功一次；并发竞争的失败方拿到已核销错误。
func (uc *CheckoutUseCase) Use(ctx context.Context, token string) (*CheckoutToken, error) {
	record, err := uc.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	won, err := uc.tokens.MarkUsed(ctx, token, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperrors.New(apperrors.ErrTokenUsed, token)
	}

	record.UsedAt = &now

	uc.logger.Info("核销领用令牌",
		zap.String("asset_id", record.AssetID),
		zap.String("subject_id", record.SubjectID),
	)

	return record, nil
}

// VerifySignature 重算下载链接签名并做恒定时间比较
func (uc *CheckoutUseCase) VerifySignature(assetID, token string, expiresUnix int64, signature string) bool {
	return uc.signer.Verify(assetID, token, expiresUnix, signature)
}

func (uc *CheckoutUseCase) signedURL(assetID, token string, expiresAt time.Time) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("expires", strconv.FormatInt(expiresAt.Unix(), 10))
	q.Set("sig", uc.signer.Sign(assetID, token, expiresAt.Unix()))
	return fmt.Sprintf("%s/api/v1/assets/%s/file?%s", uc.baseURL, assetID, q.Encode())
}

// generateToken 生成加密随机令牌（64 个十六进制字符）
func generateToken() (string, error) {
	b := make([]byte, 32) // 256 bits
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate checkout token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
