// internal/coordinator/fetch.go
package coordinator

import (
	"errors"
	"time"

	"github.com/tamzrod/modbus-supervisor/internal/poller"
	"github.com/tamzrod/modbus-supervisor/internal/status"
)

var errPollStopped = errors.New("polling stopped before the read started")

// fetchResult is a finished read tagged with the generations it was issued under.
type fetchResult struct {
	seq     uint64
	connGen uint64
	pollGen uint64
	res     poller.Result
}

// tickFunc is handed to the Timer. It only signals the loop and never blocks,
// so the timer goroutine cannot deadlock against a Stop issued by the loop.
func (c *Coordinator) tickFunc(gen uint64) func() {
	return func() {
		select {
		case c.ticks <- gen:
		default:
			// The loop has not taken the previous tick yet.
			c.metrics.TickSkipped()
		}
	}
}

func (c *Coordinator) handleTick(gen uint64) {
	if c.state != StatePolling || gen != c.pollGen {
		c.log.Debug().Uint64("tick_gen", gen).Msg("stale tick dropped")
		return
	}
	if c.inFlight != 0 {
		c.metrics.TickSkipped()
		c.log.Debug().Msg("tick skipped: read still in flight")
		return
	}

	c.readSeq++
	c.inFlight = c.readSeq

	r := fetchResult{seq: c.readSeq, connGen: c.connGen, pollGen: c.pollGen}
	block := poller.ReadBlock{Address: c.poll.StartAddress, Quantity: c.poll.Length}
	timeout := c.poll.readTimeout()

	go func() {
		r.res = c.fetch(r.pollGen, block, timeout)
		select {
		case c.results <- r:
		case <-c.done:
		}
	}()
}

// fetch reads b unless polling generation gen was stopped after dispatch.
func (c *Coordinator) fetch(gen uint64, b poller.ReadBlock, timeout time.Duration) poller.Result {
	c.readGate.RLock()
	defer c.readGate.RUnlock()

	if c.liveGen != gen {
		return poller.Result{At: time.Now(), Block: b, Err: errPollStopped}
	}
	return poller.Fetch(c.sess, b, timeout)
}

func (c *Coordinator) handleResult(r fetchResult) {
	if r.seq == c.inFlight {
		c.inFlight = 0
	}

	// Results that outlive their polling session or connection are discarded.
	if c.state != StatePolling || r.connGen != c.connGen || r.pollGen != c.pollGen {
		c.metrics.StaleResult()
		c.log.Debug().Uint64("seq", r.seq).Msg("stale read result discarded")
		return
	}

	res := r.res
	if res.Err == nil {
		res.Err = c.store.WriteRange(res.Block.Address, res.Registers)
	}
	if res.Err != nil {
		c.pollFailed(res)
		return
	}

	c.metrics.PollSucceeded(res.Took)
	c.updateStatus(func(s *status.Snapshot) {
		s.Health = status.HealthOK
		s.LastErrorCode = 0
		s.ConsecutiveFailures = 0
		s.LastPollAt = res.At
	})
	c.emit(Event{
		Kind:         EventPollSucceeded,
		At:           res.At,
		StartAddress: res.Block.Address,
		Values:       res.Registers,
	})
}

// pollFailed reports a failed read. Polling continues on the next tick.
func (c *Coordinator) pollFailed(res poller.Result) {
	c.metrics.PollFailed(res.Took)

	var failures uint32
	c.updateStatus(func(s *status.Snapshot) {
		s.Health = status.HealthError
		s.LastErrorCode = status.ErrorCode(res.Err)
		s.ConsecutiveFailures++
		s.LastPollAt = res.At
		failures = s.ConsecutiveFailures
	})

	c.log.Warn().
		Err(res.Err).
		Uint16("start", res.Block.Address).
		Uint16("length", res.Block.Quantity).
		Uint32("consecutive_failures", failures).
		Msg("poll failed")

	c.emit(Event{
		Kind:         EventPollFailed,
		At:           res.At,
		StartAddress: res.Block.Address,
		Text:         res.Err.Error(),
		Err:          res.Err,
	})
}
