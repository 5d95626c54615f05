package telemetry

import "sync/atomic"

type Counter struct {
	val atomic.Int64
}

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Metrics is the process-wide counter registry for the purchase pipeline.
var Metrics struct {
	Admitted          Counter
	RateLimited       Counter
	Shed              Counter
	Reserved          Counter
	SoldOutLocal      Counter
	SoldOutCache      Counter
	Enqueued          Counter
	DeliveryFailures  Counter
	Compensations     Counter
	EventsConsumed    Counter
	OrdersCreated     Counter
	DuplicatesDropped Counter
	SoldOutDropped    Counter
	LockContention    Counter
}

// Snapshot 导出当前计数，供 HTTP 查询。
func Snapshot() map[string]int64 {
	m := &Metrics
	return map[string]int64{
		"admitted":           m.Admitted.Value(),
		"rate_limited":       m.RateLimited.Value(),
		"shed":               m.Shed.Value(),
		"reserved":           m.Reserved.Value(),
		"sold_out_local":     m.SoldOutLocal.Value(),
		"sold_out_cache":     m.SoldOutCache.Value(),
		"enqueued":           m.Enqueued.Value(),
		"delivery_failures":  m.DeliveryFailures.Value(),
		"compensations":      m.Compensations.Value(),
		"events_consumed":    m.EventsConsumed.Value(),
		"orders_created":     m.OrdersCreated.Value(),
		"duplicates_dropped": m.DuplicatesDropped.Value(),
		"sold_out_dropped":   m.SoldOutDropped.Value(),
		"lock_contention":    m.LockContention.Value(),
	}
}
