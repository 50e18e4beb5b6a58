package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Cooldown throttles commands per user.
type Cooldown struct {
	every time.Duration
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*userLimiter
	swept    time.Time
}

type userLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewCooldown allows one command per user every d. A non-positive d disables throttling.
func NewCooldown(d time.Duration) *Cooldown {
	return &Cooldown{every: d, now: time.Now, limiters: make(map[string]*userLimiter)}
}

// Allow reports whether user may run a command now.
func (c *Cooldown) Allow(user string) bool {
	if c == nil || c.every <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	ul, ok := c.limiters[user]
	if !ok {
		ul = &userLimiter{lim: rate.NewLimiter(rate.Every(c.every), 1)}
		c.limiters[user] = ul
	}
	ul.seen = now
	return ul.lim.AllowN(now, 1)
}

// sweep drops limiters idle long enough to have refilled.
func (c *Cooldown) sweep(now time.Time) {
	if now.Sub(c.swept) < time.Minute {
		return
	}
	c.swept = now
	for k, ul := range c.limiters {
		if now.Sub(ul.seen) > c.every {
			delete(c.limiters, k)
		}
	}
}
