package service

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lk2023060901/media-hub-backend/internal/pkg/response"
	"github.com/lk2023060901/media-hub-backend/internal/sync/biz"
)

// SyncService 同步 HTTP 服务。
// 清单与参考数据库端点面向下游节点，状态与触发端点面向内部服务。
type SyncService struct {
	syncUseCase *biz.SyncUseCase
	logger      *zap.Logger
}

// NewSyncService 创建同步服务
func NewSyncService(syncUseCase *biz.SyncUseCase, logger *zap.Logger) *SyncService {
	return &SyncService{
		syncUseCase: syncUseCase,
		logger:      logger,
	}
}

// GetManifest 导出本节点的资产清单
func (s *SyncService) GetManifest(c *gin.Context) {
	m, err := s.syncUseCase.BuildManifest(c.Request.Context())
	if err != nil {
		s.logger.Error("清单导出失败", zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Success(c, m)
}

// GetRefDBMeta 参考数据库版本元信息
func (s *SyncService) GetRefDBMeta(c *gin.Context) {
	meta, err := s.syncUseCase.GetRefDBMeta(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, meta)
}

// DownloadRefDB 参考数据库文件流
func (s *SyncService) DownloadRefDB(c *gin.Context) {
	name := c.Param("name")
	rc, info, err := s.syncUseCase.OpenRefDBContent(c.Request.Context(), name)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	defer rc.Close()

	extraHeaders := map[string]string{
		"ETag": `"` + info.ETag + `"`,
	}
	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, rc, extraHeaders)
}

// GetStatus 所有资源类的同步状态
func (s *SyncService) GetStatus(c *gin.Context) {
	views, err := s.syncUseCase.Statuses(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, gin.H{"classes": views})
}

// runSyncRequest 手动触发同步的请求体
type runSyncRequest struct {
	Class string `json:"class" binding:"required"`
}

// TriggerSync 手动触发一个资源类的同步周期
func (s *SyncService) TriggerSync(c *gin.Context) {
	var req runSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := s.syncUseCase.Trigger(c.Request.Context(), req.Class)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toSyncResultResponse(res))
}

func toSyncResultResponse(r *biz.Result) gin.H {
	return gin.H{
		"class":       r.Class,
		"version":     r.Version,
		"downloaded":  r.Downloaded,
		"updated":     r.Updated,
		"deleted":     r.Deleted,
		"skipped":     r.Skipped,
		"errors":      r.Errors,
		"duration_ms": r.Duration.Milliseconds(),
	}
}
