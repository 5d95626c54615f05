package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// ErrClosed 表示发布者已关闭，未确认的事件按投递失败处理。
var ErrClosed = errors.New("queue: publisher closed")

// FulfillmentEvent 是预占库存成功后写入队列的履约事件。
// CorrelationID 贯穿整条链路，用于投递确认与库存回补去重。
type FulfillmentEvent struct {
	CorrelationID string    `json:"correlation_id"`
	UserID        int64     `json:"user_id"`
	ItemID        int64     `json:"item_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e FulfillmentEvent) Validate() error {
	if e.CorrelationID == "" {
		return fmt.Errorf("correlation_id is required")
	}
	if e.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if e.ItemID <= 0 {
		return fmt.Errorf("item_id is required")
	}
	return nil
}

func (e FulfillmentEvent) Marshal() ([]byte, error) { return json.Marshal(e) }

// DecodeEvent 解析并校验消息体。
func DecodeEvent(b []byte) (FulfillmentEvent, error) {
	var e FulfillmentEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return FulfillmentEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return FulfillmentEvent{}, err
	}
	return e, nil
}

// partitionKey 让同一 (user, item) 的事件落到同一分区。
func (e FulfillmentEvent) partitionKey() []byte {
	return []byte(strconv.FormatInt(e.UserID, 10) + "_" + strconv.FormatInt(e.ItemID, 10))
}

// Handler 处理一条事件。返回 nil 表示已处理（包括主动丢弃），
// 返回 error 表示暂时失败，消息保留等待重投。
type Handler func(ctx context.Context, evt FulfillmentEvent) error

// Publisher 写入事件，返回的 Delivery 在 broker 确认或拒绝后完成。
// 同步返回的 error 表示事件没有进入队列。
type Publisher interface {
	Enqueue(ctx context.Context, evt FulfillmentEvent) (*Delivery, error)
	Close() error
}

// Subscriber 阻塞消费直到 ctx 取消。
type Subscriber interface {
	Run(ctx context.Context, h Handler) error
	Close() error
}
