package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flash_sale/internal/model"
	"flash_sale/internal/queue"
	"flash_sale/internal/store"
	"flash_sale/internal/telemetry"
	rediskey "flash_sale/pkg/redis"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// Options 控制建单的兜底手段。
type Options struct {
	// UseLock 在 (user, item) 上加分布式锁，唯一索引之外的第二道保险。
	UseLock  bool
	LockTTL  time.Duration
	IndexTTL time.Duration
	// LockTries 抢锁的最大尝试次数。
	LockTries uint
}

// Materializer 消费履约事件并落单。
// 重复投递、售罄、锁冲突都按丢弃处理（返回 nil）；只有基础设施错误才返回 error 触发重投。
type Materializer struct {
	store   *store.Store
	rdb     *rd.Client
	cache   *rediskey.Cache
	locker  *rediskey.Locker
	node    *snowflake.Node
	opts    Options
	index   rediskey.KeyPrefix
	soldOut rediskey.KeyPrefix
}

func NewMaterializer(st *store.Store, rdb *rd.Client, node *snowflake.Node, opts Options) *Materializer {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 3 * time.Second
	}
	if opts.LockTries == 0 {
		opts.LockTries = 5
	}
	index := rediskey.OrderIndexPrefix
	if opts.IndexTTL > 0 {
		index = index.WithTTL(opts.IndexTTL)
	}
	return &Materializer{
		store:   st,
		rdb:     rdb,
		cache:   rediskey.NewCache(rdb),
		locker:  rediskey.NewLocker(rdb),
		node:    node,
		opts:    opts,
		index:   index,
		soldOut: rediskey.SoldOutPrefix,
	}
}

// Handle 实现 queue.Handler。
func (m *Materializer) Handle(ctx context.Context, evt queue.FulfillmentEvent) error {
	ctx, span := telemetry.Tracer().Start(ctx, "order.Materialize")
	defer span.End()
	span.SetAttributes(
		attribute.String("correlation_id", evt.CorrelationID),
		attribute.Int64("user_id", evt.UserID),
		attribute.Int64("item_id", evt.ItemID),
	)
	telemetry.Metrics.EventsConsumed.Inc()
	log := telemetry.L().With("correlation_id", evt.CorrelationID, "user_id", evt.UserID, "item_id", evt.ItemID)

	item, err := m.store.GetItem(ctx, evt.ItemID)
	if errors.Is(err, store.ErrItemNotFound) {
		log.Warn("drop event for unknown item")
		m.markFailed(ctx, evt, "item_not_found")
		return nil
	}
	if err != nil {
		return err
	}
	if item.Stock <= 0 {
		m.discardSoldOut(ctx, evt)
		return nil
	}

	if m.opts.UseLock {
		lockKey := "order:" + rediskey.UserItemKey(evt.UserID, evt.ItemID)
		token := uuid.NewString()
		acquired, err := m.acquire(ctx, lockKey, token)
		if err != nil {
			return err
		}
		if !acquired {
			// 另一个 worker 正在处理同一 (user, item)
			telemetry.Metrics.LockContention.Inc()
			log.Info("drop event on lock contention")
			return nil
		}
		defer func() {
			if _, err := m.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
				log.Warn("release order lock failed", "err", err)
			}
		}()
	}

	existing, err := m.findIndex(ctx, evt.UserID, evt.ItemID)
	if err != nil {
		return err
	}
	if existing != nil {
		telemetry.Metrics.DuplicatesDropped.Inc()
		log.Info("drop duplicate event", "order_id", existing.OrderID)
		return nil
	}

	o := model.Order{
		ID:        m.node.Generate().Int64(),
		UserID:    evt.UserID,
		ItemID:    item.ID,
		ItemName:  item.Name,
		Price:     item.SalePrice,
		Quantity:  1,
		Status:    model.OrderStatusUnpaid,
		CreatedAt: time.Now(),
	}
	idx, err := m.store.CreateSeckillOrder(ctx, o)
	switch {
	case errors.Is(err, store.ErrDuplicateOrder):
		telemetry.Metrics.DuplicatesDropped.Inc()
		log.Info("drop duplicate event on unique index")
		return nil
	case errors.Is(err, store.ErrSoldOut):
		m.discardSoldOut(ctx, evt)
		return nil
	case err != nil:
		return fmt.Errorf("materialize order: %w", err)
	}

	telemetry.Metrics.OrdersCreated.Inc()
	log.Info("order created", "order_id", idx.OrderID)

	// 订单已提交，缓存写失败只影响查询速度
	if err := m.cache.Set(ctx, m.index, rediskey.UserItemKey(evt.UserID, evt.ItemID), idx); err != nil {
		log.Warn("cache order index failed", "err", err)
	}
	st := rediskey.FulfillmentState{CorrelationID: evt.CorrelationID, Status: rediskey.FulfillmentSuccess, OrderID: idx.OrderID}
	if err := rediskey.PutFulfillmentState(ctx, m.rdb, evt.UserID, evt.ItemID, st); err != nil {
		log.Warn("update fulfillment state failed", "err", err)
	}
	return nil
}

// acquire 短暂轮询抢锁，超过尝试次数返回 false。
func (m *Materializer) acquire(ctx context.Context, lockKey, token string) (bool, error) {
	errBusy := errors.New("lock busy")
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := m.locker.Acquire(ctx, lockKey, token, m.opts.LockTTL)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, errBusy
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(20*time.Millisecond)),
		backoff.WithMaxTries(m.opts.LockTries),
	)
	if errors.Is(err, errBusy) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire order lock: %w", err)
	}
	return true, nil
}

// findIndex 先查缓存再查库，库里命中时回填缓存。
func (m *Materializer) findIndex(ctx context.Context, userID, itemID int64) (*model.SeckillOrder, error) {
	return findIndex(ctx, m.cache, m.store, m.index, userID, itemID)
}

func (m *Materializer) discardSoldOut(ctx context.Context, evt queue.FulfillmentEvent) {
	telemetry.Metrics.SoldOutDropped.Inc()
	telemetry.L().Info("drop event, item sold out", "correlation_id", evt.CorrelationID, "item_id", evt.ItemID)
	if err := m.cache.Set(ctx, m.soldOut, rediskey.ItemKey(evt.ItemID), true); err != nil {
		telemetry.L().Warn("set sold out mark failed", "item_id", evt.ItemID, "err", err)
	}
	m.markFailed(ctx, evt, "sold_out")
}

func (m *Materializer) markFailed(ctx context.Context, evt queue.FulfillmentEvent, reason string) {
	st := rediskey.FulfillmentState{CorrelationID: evt.CorrelationID, Status: rediskey.FulfillmentFailed, Reason: reason}
	if err := rediskey.PutFulfillmentState(ctx, m.rdb, evt.UserID, evt.ItemID, st); err != nil {
		telemetry.L().Warn("update fulfillment state failed", "correlation_id", evt.CorrelationID, "err", err)
	}
}

func findIndex(ctx context.Context, cache *rediskey.Cache, st *store.Store, p rediskey.KeyPrefix, userID, itemID int64) (*model.SeckillOrder, error) {
	key := rediskey.UserItemKey(userID, itemID)
	cached, found, err := rediskey.Get[model.SeckillOrder](ctx, cache, p, key)
	if err != nil {
		telemetry.L().Warn("read order index cache failed", "key", key, "err", err)
	} else if found {
		return &cached, nil
	}

	so, err := st.FindSeckillOrder(ctx, userID, itemID)
	if err != nil || so == nil {
		return nil, err
	}
	if err := cache.Set(ctx, p, key, *so); err != nil {
		telemetry.L().Warn("backfill order index cache failed", "key", key, "err", err)
	}
	return so, nil
}
