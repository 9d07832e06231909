package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "arcade:turn:"

// releaseScript 只在 token 匹配时删除键，防止释放他人持有的租约。
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 使用 Redis 键实现带过期时间的回合租约。
type Locker struct {
	client goredis.UniversalClient
	prefix string
}

// NewLocker 创建 Redis 租约锁。
func NewLocker(client goredis.UniversalClient, prefix string) *Locker {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Locker{client: client, prefix: prefix}
}

func (l *Locker) key(userID string) string {
	return l.prefix + userID
}

// Acquire 通过 SET NX PX 原子地写入租约。
func (l *Locker) Acquire(ctx context.Context, userID, token string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(userID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("Redis 写入租约失败: %w", err)
	}
	return ok, nil
}

// Release 仅删除 token 匹配的租约。
func (l *Locker) Release(ctx context.Context, userID, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(userID)}, token).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("Redis 释放租约失败: %w", err)
	}
	return nil
}

// Holder 返回当前持有租约的 token，未被持有时返回空串。
func (l *Locker) Holder(ctx context.Context, userID string) (string, error) {
	token, err := l.client.Get(ctx, l.key(userID)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("Redis 读取租约失败: %w", err)
	}
	return token, nil
}
