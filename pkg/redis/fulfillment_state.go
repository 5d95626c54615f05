package redis

import (
	"context"
	"strconv"

	rd "github.com/redis/go-redis/v9"
)

const (
	// FulfillmentPending 表示事件已入队，等待异步落单。
	FulfillmentPending = "pending"
	// FulfillmentSuccess 表示订单已创建。
	FulfillmentSuccess = "success"
	// FulfillmentFailed 表示不会再产生订单（售罄、投递失败）。
	FulfillmentFailed = "failed"
)

// luaClaimFulfillment 在没有进行中或已成功的记录时写入 pending，返回 1；否则返回 0。
// failed 记录可以被新的请求覆盖。
const luaClaimFulfillment = `
local s = redis.call('HGET', KEYS[1], 'status')
if s == 'pending' or s == 'success' then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'correlation_id', ARGV[1], 'status', 'pending', 'order_id', '0', 'reason', '')
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`

// FulfillmentState 对应 Redis 内 (user, item) 的履约状态哈希。
type FulfillmentState struct {
	CorrelationID string
	Status        string
	OrderID       int64
	Reason        string
}

// GetFulfillmentState 查询 (user, item) 的当前状态。found=false 表示 key 不存在。
func GetFulfillmentState(ctx context.Context, rdb *rd.Client, userID, itemID int64) (FulfillmentState, bool, error) {
	key := FulfillmentPrefix.Key(UserItemKey(userID, itemID))
	m, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return FulfillmentState{}, false, err
	}
	if len(m) == 0 {
		return FulfillmentState{}, false, nil
	}

	out := FulfillmentState{
		CorrelationID: m["correlation_id"],
		Status:        m["status"],
		Reason:        m["reason"],
	}
	if v := m["order_id"]; v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			out.OrderID = id
		}
	}
	if out.Status == "" {
		out.Status = FulfillmentPending
	}
	return out, true, nil
}

// PutFulfillmentState 覆盖写入状态，并刷新 key TTL。
func PutFulfillmentState(ctx context.Context, rdb *rd.Client, userID, itemID int64, st FulfillmentState) error {
	key := FulfillmentPrefix.Key(UserItemKey(userID, itemID))
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"correlation_id", st.CorrelationID,
		"status", st.Status,
		"order_id", st.OrderID,
		"reason", st.Reason,
	)
	if FulfillmentPrefix.TTL > 0 {
		pipe.Expire(ctx, key, FulfillmentPrefix.TTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ClaimFulfillment 为 (user, item) 原子地占用一次下单资格并写入 pending。
// 同一用户已有排队中或已成功的请求时返回 false。
func ClaimFulfillment(ctx context.Context, rdb *rd.Client, userID, itemID int64, correlationID string) (bool, error) {
	key := FulfillmentPrefix.Key(UserItemKey(userID, itemID))
	n, err := rdb.Eval(ctx, luaClaimFulfillment, []string{key}, correlationID, FulfillmentPrefix.TTL.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
