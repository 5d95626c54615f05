package redis

import (
	"context"

	rd "github.com/redis/go-redis/v9"
)

// luaCompensateStockOnce 通过 SETNX 标记保证“同一个事件只回补一次”。
const luaCompensateStockOnce = `
local markKey = KEYS[1]
local stockKey = KEYS[2]
local ttlSec = tonumber(ARGV[1])

if redis.call('SETNX', markKey, '1') == 1 then
  redis.call('EXPIRE', markKey, ttlSec)
  if redis.call('EXISTS', stockKey) == 1 then
    redis.call('INCR', stockKey)
  end
  return 1
end
return 0
`

// CompensateStockOnce 幂等回补一件库存：
// - 首次回补返回 true
// - 重复回补返回 false（不会重复加库存）
// 库存键已不存在（过期或未预热）时只打标记，不凭空创建库存。
func CompensateStockOnce(ctx context.Context, rdb *rd.Client, correlationID string, itemID int64) (bool, error) {
	markKey := CompensatedPrefix.Key(correlationID)
	stockKey := StockKey(itemID)
	ttlSeconds := int64(CompensatedPrefix.TTL.Seconds())

	n, err := rdb.Eval(ctx, luaCompensateStockOnce, []string{markKey, stockKey}, ttlSeconds).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
