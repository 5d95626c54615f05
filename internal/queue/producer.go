package queue

import (
	"context"
	"sync"
	"time"

	"flash_sale/internal/telemetry"

	"github.com/segmentio/kafka-go"
)

const headerCorrelationID = "correlation_id"

// KafkaPublisher 异步写入 Kafka，broker 的确认通过 Completion 回调
// 按 correlation_id 分发到各自的 Delivery。
type KafkaPublisher struct {
	w       *kafka.Writer
	pending sync.Map // correlationID -> *Delivery
	closed  chan struct{}
	once    sync.Once
}

// NewKafkaPublisher 创建生产者并配置可靠性参数：
// - Hash + Key: 同一 (user, item) 落到同一分区。
// - RequireAll: 等待 ISR 副本确认，降低消息丢失风险。
// - Async + Completion: 不阻塞下单请求，确认结果异步回传。
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	p := &KafkaPublisher{closed: make(chan struct{})}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  5,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  5 * time.Second,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion:   p.complete,
	}
	return p
}

func (p *KafkaPublisher) Enqueue(ctx context.Context, evt FulfillmentEvent) (*Delivery, error) {
	select {
	case <-p.closed:
		return nil, ErrClosed
	default:
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	b, err := evt.Marshal()
	if err != nil {
		return nil, err
	}

	d := NewDelivery(evt.CorrelationID)
	p.pending.Store(evt.CorrelationID, d)
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:     evt.partitionKey(),
		Value:   b,
		Headers: []kafka.Header{{Key: headerCorrelationID, Value: []byte(evt.CorrelationID)}},
	})
	if err != nil {
		p.pending.Delete(evt.CorrelationID)
		return nil, err
	}
	return d, nil
}

// complete 是 Writer 的批量回调，err 非空时整批视为投递失败。
func (p *KafkaPublisher) complete(msgs []kafka.Message, err error) {
	for _, m := range msgs {
		id := correlationOf(m)
		v, ok := p.pending.LoadAndDelete(id)
		if !ok {
			continue
		}
		if err != nil {
			telemetry.L().Warn("kafka delivery failed", "correlation_id", id, "err", err)
		}
		v.(*Delivery).Resolve(err)
	}
}

// Close 刷出缓冲并关闭 writer，仍未确认的事件以 ErrClosed 完成。
func (p *KafkaPublisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		err = p.w.Close()
		p.pending.Range(func(k, v any) bool {
			p.pending.Delete(k)
			v.(*Delivery).Resolve(ErrClosed)
			return true
		})
	})
	return err
}

func correlationOf(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == headerCorrelationID {
			return string(h.Value)
		}
	}
	return ""
}
