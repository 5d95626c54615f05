package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flash_sale/internal/telemetry"

	"github.com/cenkalti/backoff/v5"
	rd "github.com/redis/go-redis/v9"
)

// StreamPublisher 以 Redis Stream 作为队列，XADD 返回即视为 broker 确认。
type StreamPublisher struct {
	rdb    *rd.Client
	stream string
}

func NewStreamPublisher(rdb *rd.Client, stream string) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream}
}

func (p *StreamPublisher) Enqueue(ctx context.Context, evt FulfillmentEvent) (*Delivery, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	d := NewDelivery(evt.CorrelationID)
	err := p.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"correlation_id": evt.CorrelationID,
			"user_id":        evt.UserID,
			"item_id":        evt.ItemID,
			"enqueued_at":    evt.EnqueuedAt.UnixMilli(),
		},
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("xadd: %w", err)
	}
	d.Resolve(nil)
	return d, nil
}

func (p *StreamPublisher) Close() error { return nil }

// StreamSubscriber 以消费者组读取 Stream。
// 语义：处理成功（含主动丢弃）后才 ACK+DEL，暂时失败则保留在 pending 中等待重投。
type StreamSubscriber struct {
	rdb      *rd.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
}

func NewStreamSubscriber(rdb *rd.Client, stream, group, consumer string) *StreamSubscriber {
	return &StreamSubscriber{
		rdb:      rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    2 * time.Second,
	}
}

func (s *StreamSubscriber) Close() error { return nil }

func (s *StreamSubscriber) Run(ctx context.Context, h Handler) error {
	if err := s.ensureGroup(ctx); err != nil {
		return fmt.Errorf("stream ensure group: %w", err)
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 100 * time.Millisecond
	retry.MaxInterval = 5 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		// 先处理本消费者名下的 pending，避免遗留消息长期堆积。
		msgs, err := s.readGroup(ctx, "0", 0)
		if err == nil && len(msgs) == 0 {
			msgs, err = s.readGroup(ctx, ">", s.block)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			telemetry.L().Warn("stream read failed", "stream", s.stream, "err", err)
			if !sleep(ctx, retry.NextBackOff()) {
				return nil
			}
			continue
		}

		failed := false
		for _, xm := range msgs {
			if err := s.processOne(ctx, xm, h); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				telemetry.L().Warn("stream process failed", "id", xm.ID, "err", err)
				failed = true
				break
			}
		}
		if failed {
			if !sleep(ctx, retry.NextBackOff()) {
				return nil
			}
			continue
		}
		retry.Reset()
	}
}

func (s *StreamSubscriber) ensureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (s *StreamSubscriber) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	if block == 0 {
		block = -1 // 不阻塞
	}
	streams, err := s.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, streamID},
		Count:    16,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, st := range streams {
		out = append(out, st.Messages...)
	}
	return out, nil
}

func (s *StreamSubscriber) processOne(ctx context.Context, xm rd.XMessage, h Handler) error {
	evt, err := parseStreamEvent(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列。
		telemetry.L().Warn("drop malformed event", "id", xm.ID, "err", err)
		return s.ackAndDelete(ctx, xm.ID)
	}
	if err := h(ctx, evt); err != nil {
		return err
	}
	return s.ackAndDelete(ctx, xm.ID)
}

// ackAndDelete 不跟随 ctx 取消，已处理的消息在退出前也要确认。
func (s *StreamSubscriber) ackAndDelete(ctx context.Context, id string) error {
	ctx = context.WithoutCancel(ctx)
	pipe := s.rdb.TxPipeline()
	pipe.XAck(ctx, s.stream, s.group, id)
	pipe.XDel(ctx, s.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func parseStreamEvent(values map[string]interface{}) (FulfillmentEvent, error) {
	correlationID, err := getStreamString(values, "correlation_id")
	if err != nil {
		return FulfillmentEvent{}, err
	}
	userStr, err := getStreamString(values, "user_id")
	if err != nil {
		return FulfillmentEvent{}, err
	}
	itemStr, err := getStreamString(values, "item_id")
	if err != nil {
		return FulfillmentEvent{}, err
	}

	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		return FulfillmentEvent{}, fmt.Errorf("invalid user_id %q", userStr)
	}
	itemID, err := strconv.ParseInt(itemStr, 10, 64)
	if err != nil {
		return FulfillmentEvent{}, fmt.Errorf("invalid item_id %q", itemStr)
	}

	evt := FulfillmentEvent{CorrelationID: correlationID, UserID: userID, ItemID: itemID}
	// enqueued_at 缺失不影响履约
	if v, err := getStreamString(values, "enqueued_at"); err == nil {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			evt.EnqueuedAt = time.UnixMilli(ms)
		}
	}
	if err := evt.Validate(); err != nil {
		return FulfillmentEvent{}, err
	}
	return evt, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
