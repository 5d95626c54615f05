package reservation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"flash_sale/internal/model"
	"flash_sale/internal/telemetry"
	rediskey "flash_sale/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// luaDecrStock：Redis 内原子「读库存 → 判断 ≥ 1 → DECRBY」
// KEYS[1]=库存key；返回扣减后的值，不足或键不存在返回 -1，计数不会被扣成负数。
const luaDecrStock = `
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '-1')
if current >= 1 then
  return redis.call('DECRBY', key, 1)
else
  return -1
end
`

// Engine 维护 Redis 库存计数与进程内售罄标记。
// 标记只会从 false 变为 true（Seed 重置除外），售罄后的请求不再访问 Redis。
type Engine struct {
	rdb      *rd.Client
	stockTTL rediskey.KeyPrefix
	soldOut  sync.Map // itemID -> *atomic.Bool
}

func NewEngine(rdb *rd.Client, stockTTL rediskey.KeyPrefix) *Engine {
	return &Engine{rdb: rdb, stockTTL: stockTTL}
}

// Seed 启动时用 DB 库存覆盖 Redis 计数，并把所有售罄标记置为 false。
func (e *Engine) Seed(ctx context.Context, items []model.Item) error {
	pipe := e.rdb.Pipeline()
	for _, it := range items {
		pipe.Set(ctx, e.stockTTL.Key(rediskey.ItemKey(it.ID)), it.Stock, e.stockTTL.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("seed stock: %w", err)
	}
	for _, it := range items {
		e.flag(it.ID).Store(false)
	}
	telemetry.L().Info("stock seeded", "items", len(items))
	return nil
}

// Warm 仅在计数不存在时写入，返回是否写入。用于运行中补充上架的商品。
func (e *Engine) Warm(ctx context.Context, it model.Item) (bool, error) {
	ok, err := e.rdb.SetNX(ctx, e.stockTTL.Key(rediskey.ItemKey(it.ID)), it.Stock, e.stockTTL.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("warm stock: %w", err)
	}
	e.flag(it.ID)
	return ok, nil
}

// Reserve 原子扣减一件，返回剩余数量；<0 表示无货，调用方负责标记售罄。
func (e *Engine) Reserve(ctx context.Context, itemID int64) (int64, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "reservation.Reserve")
	defer span.End()
	span.SetAttributes(attribute.Int64("item_id", itemID))

	n, err := e.rdb.Eval(ctx, luaDecrStock, []string{e.stockTTL.Key(rediskey.ItemKey(itemID))}).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve stock: %w", err)
	}
	if n >= 0 {
		telemetry.Metrics.Reserved.Inc()
	}
	return n, nil
}

// SoldOut 读取进程内标记，未知商品视为未售罄。
func (e *Engine) SoldOut(itemID int64) bool {
	v, ok := e.soldOut.Load(itemID)
	return ok && v.(*atomic.Bool).Load()
}

func (e *Engine) MarkSoldOut(itemID int64) {
	e.flag(itemID).Store(true)
}

// Remaining 返回 Redis 中的当前计数，键不存在返回 0。
func (e *Engine) Remaining(ctx context.Context, itemID int64) (int64, error) {
	n, err := e.rdb.Get(ctx, e.stockTTL.Key(rediskey.ItemKey(itemID))).Int64()
	if err == rd.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read stock: %w", err)
	}
	return n, nil
}

func (e *Engine) flag(itemID int64) *atomic.Bool {
	v, _ := e.soldOut.LoadOrStore(itemID, new(atomic.Bool))
	return v.(*atomic.Bool)
}
