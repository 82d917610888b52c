package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// TickInterval is how often the countdown re-reads the clock.
const TickInterval = time.Second

// Countdown counts down to a fixed deadline. Each tick recomputes the
// remaining seconds from the clock, so late or dropped ticks do not skew it.
type Countdown struct {
	clk      clock.Clock
	deadline time.Time
	onTick   func(remaining int)
	onExpire func()

	remaining  atomic.Int64
	stopped    atomic.Bool
	stop       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
	expireOnce sync.Once
}

// NewCountdown creates a countdown to deadline. onTick and onExpire run on the
// countdown goroutine; onExpire runs at most once.
func NewCountdown(clk clock.Clock, deadline time.Time, onTick func(remaining int), onExpire func()) *Countdown {
	if clk == nil {
		clk = clock.New()
	}
	c := &Countdown{
		clk:      clk,
		deadline: deadline,
		onTick:   onTick,
		onExpire: onExpire,
		stop:     make(chan struct{}),
	}
	c.remaining.Store(int64(secondsUntil(deadline, clk.Now())))
	return c
}

// Start launches the tick loop. Calling it again has no effect.
func (c *Countdown) Start() {
	c.startOnce.Do(func() {
		ticker := c.clk.Ticker(TickInterval)
		go c.run(ticker)
	})
}

func (c *Countdown) run(ticker *clock.Ticker) {
	defer ticker.Stop()

	// A countdown resumed past its deadline expires without waiting a tick.
	if c.remaining.Load() == 0 {
		c.tick(c.clk.Now())
		return
	}

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick(c.clk.Now())
			if c.stopped.Load() {
				return
			}
		}
	}
}

func (c *Countdown) tick(now time.Time) {
	if c.stopped.Load() {
		return
	}

	rem := int64(secondsUntil(c.deadline, now))
	if prev := c.remaining.Load(); rem > prev {
		rem = prev
	}
	c.remaining.Store(rem)

	if c.onTick != nil {
		c.onTick(int(rem))
	}
	if rem == 0 {
		c.expireOnce.Do(func() {
			c.Stop()
			if c.onExpire != nil {
				c.onExpire()
			}
		})
	}
}

// Stop cancels the countdown. It is safe to call more than once and from
// the callbacks.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stop)
	})
}

// Remaining returns the seconds left as of the last tick.
func (c *Countdown) Remaining() int {
	return int(c.remaining.Load())
}

// Deadline returns the instant the countdown expires.
func (c *Countdown) Deadline() time.Time {
	return c.deadline
}

// secondsUntil rounds up so the display reads 0 only once the deadline passed.
func secondsUntil(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
