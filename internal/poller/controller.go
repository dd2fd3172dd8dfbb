// internal/poller/controller.go
package poller

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Controller owns one repeating timer bound to one tick callback.
//
// The first tick fires after one full interval, never immediately.
// Ticks are delivered from a single goroutine, so onTick never overlaps
// itself; ticks that come due while onTick is still running are skipped.
type Controller struct {
	log zerolog.Logger

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	interval time.Duration

	skipped atomic.Uint64
}

// NewController returns a stopped controller.
func NewController(logger zerolog.Logger) *Controller {
	return &Controller{
		log: logger.With().Str("component", "poll-controller").Logger(),
	}
}

// Start (re)arms the timer. A running loop is fully stopped before the new
// one starts, so the old callback can never fire after Start returns.
//
// onTick must not call Start or Stop on the same controller.
func (c *Controller) Start(interval time.Duration, onTick func()) error {
	if interval <= 0 {
		return errors.New("poller: interval must be > 0")
	}
	if onTick == nil {
		return errors.New("poller: tick callback required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.interval = interval

	go c.run(interval, onTick, c.stop, c.done)

	c.log.Debug().Dur("interval", interval).Msg("timer armed")
	return nil
}

// Stop halts the timer and detaches the callback. Idempotent.
// When Stop returns no further tick will be delivered.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done

	c.stop = nil
	c.done = nil
	c.interval = 0

	c.log.Debug().Msg("timer stopped")
}

// Running reports whether the timer is armed.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// Interval returns the armed interval, or 0 when stopped.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Skipped returns how many ticks were dropped because onTick was still busy.
func (c *Controller) Skipped() uint64 {
	return c.skipped.Load()
}

func (c *Controller) run(interval time.Duration, onTick func(), stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// select picks randomly when both are ready; stop wins.
			select {
			case <-stop:
				return
			default:
			}

			onTick()

			// Drop a tick that came due while onTick was running.
			select {
			case <-ticker.C:
				c.skipped.Add(1)
				c.log.Debug().Msg("tick skipped: previous tick still running")
			default:
			}
		}
	}
}
