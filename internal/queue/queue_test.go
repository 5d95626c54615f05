package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flash_sale/internal/testutil"

	"github.com/segmentio/kafka-go"
)

func TestFulfillmentEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		evt     FulfillmentEvent
		wantErr bool
	}{
		{name: "ok", evt: FulfillmentEvent{CorrelationID: "c", UserID: 1, ItemID: 2}},
		{name: "no correlation", evt: FulfillmentEvent{UserID: 1, ItemID: 2}, wantErr: true},
		{name: "no user", evt: FulfillmentEvent{CorrelationID: "c", ItemID: 2}, wantErr: true},
		{name: "no item", evt: FulfillmentEvent{CorrelationID: "c", UserID: 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.evt.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := DecodeEvent([]byte(`{"correlation_id":"c","user_id":1}`)); err == nil {
		t.Fatalf("expected decode to reject event without item_id")
	}
	evt, err := DecodeEvent([]byte(`{"correlation_id":"c","user_id":1,"item_id":3}`))
	if err != nil || evt.ItemID != 3 {
		t.Fatalf("expected decoded event, got %+v err=%v", evt, err)
	}
}

func TestDelivery(t *testing.T) {
	d := NewDelivery("c1")
	if d.Err() != nil {
		t.Fatalf("expected nil before resolve")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	boom := errors.New("boom")
	d.Resolve(boom)
	d.Resolve(nil)
	<-d.Done()
	if !errors.Is(d.Err(), boom) {
		t.Fatalf("expected first result to stick, got %v", d.Err())
	}
	if err := d.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestKafkaCompletionResolvesDeliveries(t *testing.T) {
	p := NewKafkaPublisher([]string{"127.0.0.1:1"}, "t")

	ok := NewDelivery("ok")
	bad := NewDelivery("bad")
	p.pending.Store("ok", ok)
	p.pending.Store("bad", bad)

	msg := func(id string) kafka.Message {
		return kafka.Message{Headers: []kafka.Header{{Key: headerCorrelationID, Value: []byte(id)}}}
	}
	p.complete([]kafka.Message{msg("ok")}, nil)
	p.complete([]kafka.Message{msg("bad"), msg("unknown")}, errors.New("broker down"))

	if err := ok.Wait(context.Background()); err != nil {
		t.Fatalf("expected ok delivery, got %v", err)
	}
	if err := bad.Wait(context.Background()); err == nil {
		t.Fatalf("expected failed delivery")
	}
	if _, found := p.pending.Load("ok"); found {
		t.Fatalf("expected resolved delivery to be removed")
	}

	left := NewDelivery("left")
	p.pending.Store("left", left)
	_ = p.Close()
	if err := left.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := p.Enqueue(context.Background(), FulfillmentEvent{CorrelationID: "x", UserID: 1, ItemID: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected enqueue after close to fail, got %v", err)
	}
}

func TestStreamPublishAndConsume(t *testing.T) {
	_, rdb := testutil.NewTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := NewStreamPublisher(rdb, "events")
	for i := int64(1); i <= 3; i++ {
		d, err := pub.Enqueue(ctx, FulfillmentEvent{CorrelationID: "c", UserID: i, ItemID: 9, EnqueuedAt: time.Now()})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		select {
		case <-d.Done():
		default:
			t.Fatalf("expected stream delivery to be confirmed on XADD")
		}
	}
	if _, err := pub.Enqueue(ctx, FulfillmentEvent{}); err == nil {
		t.Fatalf("expected invalid event to be rejected")
	}

	var mu sync.Mutex
	seen := map[int64]int{}
	failedOnce := false
	handler := func(_ context.Context, evt FulfillmentEvent) error {
		mu.Lock()
		defer mu.Unlock()
		// 第二个用户第一次处理失败，应当被重投
		if evt.UserID == 2 && !failedOnce {
			failedOnce = true
			return errors.New("transient")
		}
		seen[evt.UserID]++
		if len(seen) == 3 {
			cancel()
		}
		return nil
	}

	sub := NewStreamSubscriber(rdb, "events", "g", "w1")
	sub.block = 50 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx, handler) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("subscriber did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	for u := int64(1); u <= 3; u++ {
		if seen[u] != 1 {
			t.Fatalf("expected user %d handled once, got %d", u, seen[u])
		}
	}
	if n, _ := rdb.XLen(context.Background(), "events").Result(); n != 0 {
		t.Fatalf("expected handled entries to be deleted, got %d", n)
	}
}

func TestParseStreamEvent(t *testing.T) {
	evt, err := parseStreamEvent(map[string]interface{}{
		"correlation_id": "c1",
		"user_id":        "7",
		"item_id":        "9",
		"enqueued_at":    "1700000000000",
	})
	if err != nil || evt.UserID != 7 || evt.ItemID != 9 || evt.EnqueuedAt.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected event %+v err=%v", evt, err)
	}
	if _, err := parseStreamEvent(map[string]interface{}{"correlation_id": "c1", "user_id": "x", "item_id": "9"}); err == nil {
		t.Fatalf("expected invalid user_id to fail")
	}
}
