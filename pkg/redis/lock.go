package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch 仅当锁值等于持有者 token 时才删除，避免误删他人的锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// Locker 基于 SET NX PX 的分布式互斥锁。
// Acquire 只尝试一次、立即返回；轮询/退避策略由调用方决定。
type Locker struct {
	rdb *rd.Client
}

func NewLocker(rdb *rd.Client) *Locker { return &Locker{rdb: rdb} }

// Acquire 键不存在时写入 token 并设置过期时间，成功返回 true。
func (l *Locker) Acquire(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, LockPrefix.Key(lockKey), token, ttl).Result()
}

// Release 校验持有者并删除，校验与删除在同一个脚本内完成。
func (l *Locker) Release(ctx context.Context, lockKey, token string) (bool, error) {
	n, err := l.rdb.Eval(ctx, luaReleaseIfMatch, []string{LockPrefix.Key(lockKey)}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
