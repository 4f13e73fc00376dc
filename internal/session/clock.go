package session

import (
	"sync"
	"time"
)

// Clock はマイクロ秒精度で狭義単調増加する時刻を返す。
// PostgreSQLのtimestamp精度に合わせて切り捨て、同じ値を二度返さない。
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock はシステム時刻を使うClockを生成する。
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now は前回より必ず後の時刻を返す。
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
