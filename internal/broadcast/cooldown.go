package broadcast

import (
	"sync"
	"sync/atomic"
	"time"
)

// CooldownTracker remembers when each scope last started a broadcast.
type CooldownTracker struct {
	period atomic.Int64 // time.Duration
	starts sync.Map     // ScopeID -> time.Time
}

func NewCooldownTracker(period time.Duration) *CooldownTracker {
	c := &CooldownTracker{}
	c.SetPeriod(period)
	return c
}

func (c *CooldownTracker) Period() time.Duration { return time.Duration(c.period.Load()) }

func (c *CooldownTracker) SetPeriod(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.period.Store(int64(d))
}

// IsCoolingDown reports whether scope started less than one period before
// now, and how long is left.
func (c *CooldownTracker) IsCoolingDown(scope ScopeID, now time.Time) (bool, time.Duration) {
	v, ok := c.starts.Load(scope)
	if !ok {
		return false, 0
	}
	elapsed := now.Sub(v.(time.Time))
	remaining := c.Period() - elapsed
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

// RecordStart stamps now as the latest start of scope.
func (c *CooldownTracker) RecordStart(scope ScopeID, now time.Time) {
	c.starts.Store(scope, now)
}
