package biz

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signer 对下载链接参数做 HMAC-SHA256 签名。
// 消息格式固定为 assetID:token:expiresUnix，密钥由服务端持有。
type Signer struct {
	secret []byte
}

// NewSigner 创建签名器
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign 计算签名（十六进制）
func (s *Signer) Sign(assetID, token string, expiresUnix int64) string {
	return hex.EncodeToString(s.sum(assetID, token, expiresUnix))
}

// Verify 重算签名并做恒定时间比较，绝不逐字节短路
func (s *Signer) Verify(assetID, token string, expiresUnix int64, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(s.sum(assetID, token, expiresUnix), sig)
}

func (s *Signer) sum(assetID, token string, expiresUnix int64) []byte {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%s:%d", assetID, token, expiresUnix)
	return mac.Sum(nil)
}
