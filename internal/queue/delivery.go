package queue

import (
	"context"
	"sync"
)

// Delivery 是一次投递的确认结果，broker 回调后完成，只会完成一次。
type Delivery struct {
	CorrelationID string

	once sync.Once
	done chan struct{}
	err  error
}

func NewDelivery(correlationID string) *Delivery {
	return &Delivery{CorrelationID: correlationID, done: make(chan struct{})}
}

// Resolve 记录投递结果，err 为 nil 表示 broker 已确认。重复调用无效。
func (d *Delivery) Resolve(err error) {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
}

func (d *Delivery) Done() <-chan struct{} { return d.done }

// Err 在 Done 关闭后返回投递结果，之前返回 nil。
func (d *Delivery) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Wait 等待确认或 ctx 结束。
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
