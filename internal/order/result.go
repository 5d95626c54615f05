package order

import (
	"context"
	"time"

	"flash_sale/internal/model"
	"flash_sale/internal/store"
	rediskey "flash_sale/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// 秒杀结果：>0 为订单号，ResultFailed 表示失败或售罄，ResultQueued 表示仍在排队。
const (
	ResultFailed int64 = -1
	ResultQueued int64 = 0
)

// Lookup 查询 (user, item) 的秒杀结果与订单索引。
type Lookup struct {
	store *store.Store
	rdb   *rd.Client
	cache *rediskey.Cache
	index rediskey.KeyPrefix
}

func NewLookup(st *store.Store, rdb *rd.Client, indexTTL time.Duration) *Lookup {
	index := rediskey.OrderIndexPrefix
	if indexTTL > 0 {
		index = index.WithTTL(indexTTL)
	}
	return &Lookup{store: st, rdb: rdb, cache: rediskey.NewCache(rdb), index: index}
}

// FindOrder 返回已存在的秒杀索引，不存在返回 nil。
func (l *Lookup) FindOrder(ctx context.Context, userID, itemID int64) (*model.SeckillOrder, error) {
	return findIndex(ctx, l.cache, l.store, l.index, userID, itemID)
}

// Result 依次看订单索引、履约状态、售罄标记。
func (l *Lookup) Result(ctx context.Context, userID, itemID int64) (int64, error) {
	so, err := l.FindOrder(ctx, userID, itemID)
	if err != nil {
		return 0, err
	}
	if so != nil {
		return so.OrderID, nil
	}

	st, found, err := rediskey.GetFulfillmentState(ctx, l.rdb, userID, itemID)
	if err != nil {
		return 0, err
	}
	if found && st.Status == rediskey.FulfillmentFailed {
		return ResultFailed, nil
	}

	over, err := l.cache.Exists(ctx, rediskey.SoldOutPrefix, rediskey.ItemKey(itemID))
	if err != nil {
		return 0, err
	}
	if over {
		return ResultFailed, nil
	}
	return ResultQueued, nil
}
