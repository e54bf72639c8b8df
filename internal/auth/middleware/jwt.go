package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/media-hub-backend/internal/auth"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// 上下文键
const (
	ContextNodeID      = "peer_node_id"
	ContextServiceName = "service_name"
)

// RequirePeer 对等节点认证中间件：保护同步协议端点。
// 令牌由下游节点用共享密钥按请求签发，受众必须是 peer。
func RequirePeer(tokens *auth.TokenManager, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := auth.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing peer authorization"})
			c.Abort()
			return
		}

		claims, err := tokens.VerifyPeerToken(tokenStr)
		if err != nil {
			log.Warn("rejected peer request",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired peer token"})
			c.Abort()
			return
		}

		c.Set(ContextNodeID, claims.NodeID)
		c.Request = c.Request.WithContext(logger.WithNodeID(c.Request.Context(), claims.NodeID))
		c.Next()
	}
}

// PeerAuthOptional 可选对等认证：令牌有效则注入节点信息，缺失或无效不拦截。
// 下载端点靠它区分对等拉取与签名链接两种访问模式。
func PeerAuthOptional(tokens *auth.TokenManager, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		tokenStr, err := auth.ExtractTokenFromHeader(authHeader)
		if err != nil {
			c.Next()
			return
		}

		claims, err := tokens.VerifyPeerToken(tokenStr)
		if err != nil {
			c.Next()
			return
		}

		c.Set(ContextNodeID, claims.NodeID)
		c.Request = c.Request.WithContext(logger.WithNodeID(c.Request.Context(), claims.NodeID))
		c.Next()
	}
}

// RequireService 内部服务认证中间件：保护管理与领用端点
func RequireService(tokens *auth.TokenManager, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := auth.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			c.Abort()
			return
		}

		claims, err := tokens.VerifyServiceToken(tokenStr)
		if err != nil {
			log.Warn("rejected service request",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextServiceName, claims.ServiceName)
		c.Next()
	}
}

// GetNodeID 从上下文获取对等节点 ID
func GetNodeID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextNodeID)
	if !exists {
		return "", false
	}
	nodeID, ok := v.(string)
	return nodeID, ok && nodeID != ""
}

// GetServiceName 从上下文获取调用方服务名
func GetServiceName(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextServiceName)
	if !exists {
		return "", false
	}
	name, ok := v.(string)
	return name, ok && name != ""
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		origin := c.Request.Header.Get("Origin")

		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, UPDATE, PATCH")
			c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
			c.Header("Access-Control-Expose-Headers", "Content-Length, Access-Control-Allow-Origin, Access-Control-Allow-Headers, Cache-Control, Content-Language, Content-Type")
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
