package service

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lk2023060901/media-hub-backend/internal/checkout/biz"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/logger"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/response"
)

// CheckoutService 领用令牌 HTTP 服务
type CheckoutService struct {
	checkoutUseCase *biz.CheckoutUseCase
	logger          *zap.Logger
}

// NewCheckoutService 创建领用服务
func NewCheckoutService(checkoutUseCase *biz.CheckoutUseCase, logger *zap.Logger) *CheckoutService {
	return &CheckoutService{
		checkoutUseCase: checkoutUseCase,
		logger:          logger,
	}
}

// checkoutRequest 签发请求体
type checkoutRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	AssetID   string `json:"asset_id" binding:"required"`
	FastTrack bool   `json:"fast_track"`
}

// Checkout 签发一个领用令牌与签名下载链接
func (s *CheckoutService) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	// 后续日志都带上领用主体
	ctx := logger.WithSubjectID(c.Request.Context(), req.SubjectID)

	grant, err := s.checkoutUseCase.Checkout(ctx, req.SubjectID, req.AssetID, req.FastTrack)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, grant)
}

// ValidateToken 只读校验一个令牌，不核销
func (s *CheckoutService) ValidateToken(c *gin.Context) {
	record, err := s.checkoutUseCase.Validate(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"valid":      true,
		"asset_id":   record.AssetID,
		"subject_id": record.SubjectID,
		"expires_at": record.ExpiresAt,
	})
}
