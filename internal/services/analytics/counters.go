package analytics

import (
	"sync"
	"time"
)

// DeliveryCounters accumulates notification delivery outcomes in memory,
// keyed by calendar day. The dispatcher increments them as it sends; the
// archiver drains a day's counts into subscription_stats. The stored columns
// are additive, so a drained day contributes zero on an archive re-run.
type DeliveryCounters struct {
	mu    sync.Mutex
	byDay map[string]*deliveryCount
}

type deliveryCount struct {
	sent   int
	failed int
}

func NewDeliveryCounters() *DeliveryCounters {
	return &DeliveryCounters{byDay: make(map[string]*deliveryCount)}
}

func (c *DeliveryCounters) day(t time.Time) *deliveryCount {
	key := t.Format(time.DateOnly)
	d := c.byDay[key]
	if d == nil {
		d = &deliveryCount{}
		c.byDay[key] = d
	}
	return d
}

func (c *DeliveryCounters) AddSent(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.day(at).sent++
}

func (c *DeliveryCounters) AddFailed(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.day(at).failed++
}

// Drain removes and returns the day's counts.
func (c *DeliveryCounters) Drain(day time.Time) (sent, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := day.Format(time.DateOnly)
	d := c.byDay[key]
	if d == nil {
		return 0, 0
	}
	delete(c.byDay, key)
	return d.sent, d.failed
}

// Restore puts drained counts back. Used when persisting them failed, so the
// next archive run still flushes them.
func (c *DeliveryCounters) Restore(day time.Time, sent, failed int) {
	if sent == 0 && failed == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.day(day)
	d.sent += sent
	d.failed += failed
}
