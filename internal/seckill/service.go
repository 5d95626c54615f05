// Package seckill 串联秒杀下单流程：验证码、秒杀路径、库存预占、入队与结果查询。
package seckill

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"flash_sale/internal/errcode"
	"flash_sale/internal/guard"
	"flash_sale/internal/identity"
	"flash_sale/internal/model"
	"flash_sale/internal/order"
	"flash_sale/internal/queue"
	"flash_sale/internal/reservation"
	"flash_sale/internal/store"
	"flash_sale/internal/telemetry"
	rediskey "flash_sale/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Deps 是 Service 的全部协作者。
type Deps struct {
	Store     *store.Store
	Redis     *rd.Client
	Engine    *reservation.Engine
	Guard     *guard.Guard
	Publisher queue.Publisher
	Lookup    *order.Lookup
}

type Option func(*Service)

// WithClock 注入时间源，测试用。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	Deps
	now      func() time.Time
	items    singleflight.Group
	watchers sync.WaitGroup
}

func New(d Deps, opts ...Option) *Service {
	s := &Service{Deps: d, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Item 读取商品，同一商品的并发读合并为一次查库。
func (s *Service) Item(ctx context.Context, itemID int64) (model.Item, error) {
	if itemID <= 0 {
		return model.Item{}, errcode.ParamIllegal
	}
	v, err, _ := s.items.Do(strconv.FormatInt(itemID, 10), func() (any, error) {
		// 合并的请求共享这次查询，不能被首个请求的取消带走
		return s.Store.GetItem(context.WithoutCancel(ctx), itemID)
	})
	if errors.Is(err, store.ErrItemNotFound) {
		return model.Item{}, errcode.ItemNotFound
	}
	if err != nil {
		return model.Item{}, err
	}
	return v.(model.Item), nil
}

func (s *Service) ListItems(ctx context.Context) ([]model.Item, error) {
	return s.Store.ListItems(ctx)
}

// CreateItem 上架商品并预热库存计数。
func (s *Service) CreateItem(ctx context.Context, it *model.Item) error {
	if !it.EndTime.After(it.StartTime) {
		return errcode.BindError.WithMsg("end_time 必须晚于 start_time")
	}
	if it.Stock < 0 {
		return errcode.BindError.WithMsg("stock 不能为负数")
	}
	if err := s.Store.CreateItem(ctx, it); err != nil {
		return err
	}
	if _, err := s.Engine.Warm(ctx, *it); err != nil {
		telemetry.L().Warn("warm stock failed", "item_id", it.ID, "err", err)
	}
	return nil
}

// Preload 计数不存在时用 DB 库存补上，返回是否写入。
func (s *Service) Preload(ctx context.Context, itemID int64) (bool, error) {
	it, err := s.Item(ctx, itemID)
	if err != nil {
		return false, err
	}
	return s.Engine.Warm(ctx, it)
}

func (s *Service) Stock(ctx context.Context, itemID int64) (int64, error) {
	return s.Engine.Remaining(ctx, itemID)
}

// Challenge 下发新的验证码，旧的秒杀路径随之作废。
func (s *Service) Challenge(ctx context.Context, u identity.User, itemID int64) ([]byte, string, error) {
	if _, err := s.Item(ctx, itemID); err != nil {
		return nil, "", err
	}
	body, ct, err := s.Guard.IssueChallenge(ctx, u.ID, itemID)
	if errors.Is(err, guard.ErrInvalidRequest) {
		return nil, "", errcode.RequestIllegal
	}
	return body, ct, err
}

// Path 校验验证码答案后下发秒杀路径。答案只能用一次。
func (s *Service) Path(ctx context.Context, u identity.User, itemID int64, answer int) (string, error) {
	ok, err := s.Guard.CheckChallenge(ctx, u.ID, itemID, answer)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errcode.VerifyFail
	}

	it, err := s.Item(ctx, itemID)
	if err != nil {
		return "", err
	}
	if err := s.checkWindow(it); err != nil {
		return "", err
	}
	return s.Guard.IssuePath(ctx, u.ID, itemID)
}

// Buy 校验路径、预占库存并写入履约事件，返回 correlation id。
// 订单异步创建，结果通过 Result 轮询。
func (s *Service) Buy(ctx context.Context, u identity.User, itemID int64, path string) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "seckill.Buy")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", u.ID), attribute.Int64("item_id", itemID))

	ok, err := s.Guard.VerifyPath(ctx, u.ID, itemID, path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errcode.RequestIllegal
	}

	it, err := s.Item(ctx, itemID)
	if err != nil {
		return "", err
	}
	if err := s.checkWindow(it); err != nil {
		return "", err
	}

	existing, err := s.Lookup.FindOrder(ctx, u.ID, itemID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", errcode.RepeatSeckill
	}

	// 本机已知售罄，不再访问 Redis
	if s.Engine.SoldOut(itemID) {
		telemetry.Metrics.SoldOutLocal.Inc()
		return "", errcode.SeckillOver
	}

	evt := queue.FulfillmentEvent{
		CorrelationID: uuid.NewString(),
		UserID:        u.ID,
		ItemID:        itemID,
		EnqueuedAt:    s.now(),
	}
	// 预占库存前先占住 pending，同一用户排队中的请求不会再扣一次库存
	claimed, err := rediskey.ClaimFulfillment(ctx, s.Redis, u.ID, itemID, evt.CorrelationID)
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", errcode.RepeatSeckill
	}

	left, err := s.Engine.Reserve(ctx, itemID)
	if err != nil {
		telemetry.L().Error("reserve stock failed", "item_id", itemID, "err", err)
		s.markFailed(context.WithoutCancel(ctx), evt, "reserve_error")
		return "", errcode.SeckillFail
	}
	if left < 0 {
		s.Engine.MarkSoldOut(itemID)
		telemetry.Metrics.SoldOutCache.Inc()
		s.markFailed(context.WithoutCancel(ctx), evt, "sold_out")
		return "", errcode.SeckillOver
	}

	d, err := s.Publisher.Enqueue(ctx, evt)
	if err != nil {
		s.deliveryFailed(context.WithoutCancel(ctx), evt, err)
		return "", errcode.EnqueueFailure
	}
	telemetry.Metrics.Enqueued.Inc()
	s.watch(context.WithoutCancel(ctx), d, evt)
	return evt.CorrelationID, nil
}

// Result 返回订单号；-1 表示秒杀失败，0 表示仍在排队。
func (s *Service) Result(ctx context.Context, u identity.User, itemID int64) (int64, error) {
	if itemID <= 0 {
		return 0, errcode.ParamIllegal
	}
	return s.Lookup.Result(ctx, u.ID, itemID)
}

// Order 返回属于该用户的订单。
func (s *Service) Order(ctx context.Context, u identity.User, orderID int64) (model.Order, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrOrderNotFound) || (err == nil && o.UserID != u.ID) {
		return model.Order{}, errcode.OrderNotExist
	}
	return o, err
}

// Wait 等待所有投递确认处理完毕，关闭 Publisher 之后调用。
func (s *Service) Wait() { s.watchers.Wait() }

func (s *Service) checkWindow(it model.Item) error {
	switch it.WindowAt(s.now()) {
	case model.SaleNotStarted:
		return errcode.SaleNotStarted
	case model.SaleEnded:
		return errcode.SeckillOver
	}
	return nil
}

// watch 等待 broker 确认；拒绝时回补库存并把状态置为失败，不会重发。
func (s *Service) watch(ctx context.Context, d *queue.Delivery, evt queue.FulfillmentEvent) {
	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		<-d.Done()
		if err := d.Err(); err != nil {
			s.deliveryFailed(ctx, evt, err)
		}
	}()
}

func (s *Service) deliveryFailed(ctx context.Context, evt queue.FulfillmentEvent, cause error) {
	telemetry.Metrics.DeliveryFailures.Inc()
	log := telemetry.L().With("correlation_id", evt.CorrelationID, "user_id", evt.UserID, "item_id", evt.ItemID)
	log.Error("fulfillment event not delivered", "err", cause)

	compensated, err := rediskey.CompensateStockOnce(ctx, s.Redis, evt.CorrelationID, evt.ItemID)
	switch {
	case err != nil:
		log.Error("compensate stock failed", "err", err)
	case compensated:
		telemetry.Metrics.Compensations.Inc()
	}

	s.markFailed(ctx, evt, "enqueue_failed")
}

func (s *Service) markFailed(ctx context.Context, evt queue.FulfillmentEvent, reason string) {
	st := rediskey.FulfillmentState{CorrelationID: evt.CorrelationID, Status: rediskey.FulfillmentFailed, Reason: reason}
	if err := rediskey.PutFulfillmentState(ctx, s.Redis, evt.UserID, evt.ItemID, st); err != nil {
		telemetry.L().Warn("update fulfillment state failed", "correlation_id", evt.CorrelationID, "err", err)
	}
}
