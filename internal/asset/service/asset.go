package service

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	assetbiz "github.com/lk2023060901/media-hub-backend/internal/asset/biz"
	"github.com/lk2023060901/media-hub-backend/internal/auth/middleware"
	checkoutbiz "github.com/lk2023060901/media-hub-backend/internal/checkout/biz"
	identitybiz "github.com/lk2023060901/media-hub-backend/internal/identity/biz"
	apperrors "github.com/lk2023060901/media-hub-backend/internal/pkg/errors"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/response"
	"github.com/lk2023060901/media-hub-backend/internal/visibility"
)

// AssetService 资产 HTTP 服务。
// 下载端点同时服务两种调用方：凭对等 JWT 拉取的下游节点，
// 以及凭签名链接领取内容的消费者。
type AssetService struct {
	assetUseCase    *assetbiz.AssetUseCase
	identityUseCase *identitybiz.IdentityUseCase
	checkoutUseCase *checkoutbiz.CheckoutUseCase
	logger          *zap.Logger
}

// NewAssetService 创建资产服务
func NewAssetService(
	assetUseCase *assetbiz.AssetUseCase,
	identityUseCase *identitybiz.IdentityUseCase,
	checkoutUseCase *checkoutbiz.CheckoutUseCase,
	logger *zap.Logger,
) *AssetService {
	return &AssetService{
		assetUseCase:    assetUseCase,
		identityUseCase: identityUseCase,
		checkoutUseCase: checkoutUseCase,
		logger:          logger,
	}
}

// ListAssetsRequest 列表查询参数
type ListAssetsRequest struct {
	SubjectID string `form:"subject_id" binding:"required"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}

// AssetResponse 资产响应对象
type AssetResponse struct {
	ID              string `json:"id"`
	SourceID        *int64 `json:"source_id,omitempty"`
	Filename        string `json:"filename"`
	ContentHash     string `json:"content_hash"`
	FileSize        int64  `json:"file_size"`
	ContentType     string `json:"content_type"`
	LifecycleStatus string `json:"lifecycle_status"`
	OwnerOrgID      string `json:"owner_org_id"`
	UploaderID      string `json:"uploader_id"`
	CatalogID       string `json:"catalog_id,omitempty"`
	Origin          string `json:"origin"`
	Cached          bool   `json:"cached"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// ListAssets 返回主体可见的资产列表
func (s *AssetService) ListAssets(c *gin.Context) {
	var req ListAssetsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	// 默认值
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	subject, org, err := s.identityUseCase.Resolve(c.Request.Context(), req.SubjectID)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	assets, total, err := s.assetUseCase.List(c.Request.Context(), req.Page, req.PageSize)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	// 可见性在页内过滤：被隐藏的行不返回，total 仍为全量行数
	visible := visibility.NewFilter(subject, org).FilterViewable(assets)

	items := make([]*AssetResponse, 0, len(visible))
	for _, a := range visible {
		items = append(items, toAssetResponse(a))
	}

	response.Success(c, gin.H{
		"items":     items,
		"total":     total,
		"page":      req.Page,
		"page_size": req.PageSize,
	})
}

// GetAsset 返回单个资产及主体对它的操作权限
func (s *AssetService) GetAsset(c *gin.Context) {
	subjectID := c.Query("subject_id")
	if subjectID == "" {
		response.BadRequest(c, "subject_id is required")
		return
	}

	subject, org, err := s.identityUseCase.Resolve(c.Request.Context(), subjectID)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	asset, err := s.assetUseCase.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}

	filter := visibility.NewFilter(subject, org)
	if !filter.CanView(asset) {
		response.HandleError(c, apperrors.New(apperrors.ErrNotVisible, asset.ID))
		return
	}

	response.Success(c, gin.H{
		"asset": toAssetResponse(asset),
		"permissions": gin.H{
			"can_view":    true,
			"can_edit":    filter.CanEdit(asset),
			"can_approve": filter.CanApprove(asset),
		},
	})
}

// Download 资产内容下载。
// 带有效对等 JWT 的请求直接放行；其余请求必须携带签名链接参数，
// 按 验签 → 过期 → 核销 → 资产匹配 的顺序检查，全部通过才开始传输。
func (s *AssetService) Download(c *gin.Context) {
	assetID := c.Param("id")

	if nodeID, ok := middleware.GetNodeID(c); ok {
		s.logger.Debug("peer download",
			zap.String("asset_id", assetID),
			zap.String("node_id", nodeID),
		)
		s.streamAsset(c, assetID)
		return
	}

	token := c.Query("token")
	expiresStr := c.Query("expires")
	sig := c.Query("sig")
	if token == "" || expiresStr == "" || sig == "" {
		response.Unauthorized(c, "missing download credentials")
		return
	}

	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid expires parameter")
		return
	}

	// 先验签：伪造请求不应触发任何令牌状态变更
	if !s.checkoutUseCase.VerifySignature(assetID, token, expires, sig) {
		response.HandleError(c, apperrors.New(apperrors.ErrBadSignature))
		return
	}

	if time.Now().Unix() >= expires {
		response.HandleError(c, apperrors.New(apperrors.ErrTokenExpired))
		return
	}

	record, err := s.checkoutUseCase.Use(c.Request.Context(), token)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	if record.AssetID != assetID {
		response.HandleError(c, apperrors.New(apperrors.ErrBadSignature))
		return
	}

	s.streamAsset(c, assetID)
}

func (s *AssetService) streamAsset(c *gin.Context, assetID string) {
	asset, err := s.assetUseCase.Get(c.Request.Context(), assetID)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	rc, info, err := s.assetUseCase.OpenContent(c.Request.Context(), asset)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	extraHeaders := map[string]string{
		"ETag":                `"` + info.ETag + `"`,
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", asset.Filename),
	}
	c.DataFromReader(http.StatusOK, info.Size, contentType, rc, extraHeaders)
}

// toAssetResponse 转换为响应对象
func toAssetResponse(a *assetbiz.Asset) *AssetResponse {
	return &AssetResponse{
		ID:              a.ID,
		SourceID:        a.SourceID,
		Filename:        a.Filename,
		ContentHash:     a.ContentHash,
		FileSize:        a.FileSize,
		ContentType:     a.ContentType,
		LifecycleStatus: a.LifecycleStatus,
		OwnerOrgID:      a.OwnerOrgID,
		UploaderID:      a.UploaderID,
		CatalogID:       a.CatalogID,
		Origin:          a.Origin,
		Cached:          a.CacheEntry != nil,
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       a.UpdatedAt.Format(time.RFC3339),
	}
}
