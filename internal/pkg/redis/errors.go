package redis

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNil Key 不存在（go-redis 的 redis.Nil 别名，调用方无需直接依赖驱动包）
	ErrNil = redis.Nil
	// ErrNotInitialized 客户端未初始化
	ErrNotInitialized = errors.New("redis: client not initialized")
)

// IsNil 判断是否是 Key 不存在错误
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
