package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token 配置
const (
	// PeerTokenDuration 节点间同步请求的 token 有效期，每次请求临时签发
	PeerTokenDuration = 2 * time.Minute
	// ServiceTokenDuration 内部服务调用的 token 有效期
	ServiceTokenDuration = 15 * time.Minute

	// AudiencePeer 下游节点访问同步端点
	AudiencePeer = "media-hub-peer"
	// AudienceService 内部服务访问业务端点
	AudienceService = "media-hub-service"
)

// PeerClaims 节点间同步 token 的声明
type PeerClaims struct {
	NodeID string `json:"node_id"`
	jwt.RegisteredClaims
}

// ServiceClaims 内部服务 token 的声明
type ServiceClaims struct {
	ServiceName string `json:"service_name"`
	jwt.RegisteredClaims
}

// TokenManager token 管理器。
// 同步端点与业务端点使用不同的密钥，各自创建一个实例。
type TokenManager struct {
	secretKey []byte
	issuer    string
}

// NewTokenManager 创建 token 管理器
func NewTokenManager(secretKey, issuer string) *TokenManager {
	return &TokenManager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
	}
}

// GeneratePeerToken 为下游节点签发同步 token
func (m *TokenManager) GeneratePeerToken(nodeID string) (string, error) {
	now := time.Now()
	claims := &PeerClaims{
		NodeID: nodeID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(PeerTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   nodeID,
			Audience:  jwt.ClaimStrings{AudiencePeer},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyPeerToken 验证同步 token
func (m *TokenManager) VerifyPeerToken(tokenString string) (*PeerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PeerClaims{}, m.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*PeerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if !hasAudience(claims.Audience, AudiencePeer) {
		return nil, fmt.Errorf("wrong token audience")
	}
	if claims.NodeID == "" {
		return nil, fmt.Errorf("missing node id")
	}

	return claims, nil
}

// GenerateServiceToken 为内部服务签发调用 token
func (m *TokenManager) GenerateServiceToken(serviceName string) (string, error) {
	now := time.Now()
	claims := &ServiceClaims{
		ServiceName: serviceName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ServiceTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   serviceName,
			Audience:  jwt.ClaimStrings{AudienceService},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyServiceToken 验证内部服务 token
func (m *TokenManager) VerifyServiceToken(tokenString string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, m.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if !hasAudience(claims.Audience, AudienceService) {
		return nil, fmt.Errorf("wrong token audience")
	}

	return claims, nil
}

func (m *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	// 验证签名方法
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return m.secretKey, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

// ExtractTokenFromHeader 从 Authorization header 提取 token
// 格式：Authorization: Bearer <token>
func ExtractTokenFromHeader(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if len(authHeader) < len(bearerPrefix) {
		return "", fmt.Errorf("invalid authorization header")
	}

	if authHeader[:len(bearerPrefix)] != bearerPrefix {
		return "", fmt.Errorf("invalid authorization header format")
	}

	return authHeader[len(bearerPrefix):], nil
}
