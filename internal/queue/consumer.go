package queue

import (
	"context"
	"errors"
	"time"

	"flash_sale/internal/telemetry"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

// KafkaSubscriber 以消费者组读取事件，处理完成后才提交 offset。
type KafkaSubscriber struct {
	r *kafka.Reader
}

func NewKafkaSubscriber(brokers []string, topic, groupID string) *KafkaSubscriber {
	return &KafkaSubscriber{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1e6,
			MaxWait:  500 * time.Millisecond,
		}),
	}
}

func (s *KafkaSubscriber) Close() error { return s.r.Close() }

func (s *KafkaSubscriber) Run(ctx context.Context, h Handler) error {
	for {
		m, err := s.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		evt, err := DecodeEvent(m.Value)
		if err != nil {
			// 脏消息直接提交丢弃，避免阻塞分区。
			telemetry.L().Warn("drop malformed event", "offset", m.Offset, "err", err)
		} else if err := handleWithRetry(ctx, h, evt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// 不提交，重启后从该 offset 重投。
			return err
		}

		if err := s.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			telemetry.L().Error("commit offset failed", "offset", m.Offset, "err", err)
		}
	}
}

// handleWithRetry 对暂时性错误做指数退避重试，直到成功或 ctx 结束。
func handleWithRetry(ctx context.Context, h Handler, evt FulfillmentEvent) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := h(ctx, evt)
		if errors.Is(err, context.Canceled) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.L().Warn("handle event failed, retrying",
				"correlation_id", evt.CorrelationID, "retry_in", next, "err", err)
		}),
	)
	return err
}
