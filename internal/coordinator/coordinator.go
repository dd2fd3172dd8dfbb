// internal/coordinator/coordinator.go
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-supervisor/internal/metrics"
	"github.com/tamzrod/modbus-supervisor/internal/poller"
	"github.com/tamzrod/modbus-supervisor/internal/register"
	"github.com/tamzrod/modbus-supervisor/internal/session"
	"github.com/tamzrod/modbus-supervisor/internal/status"
)

const defaultEventBuffer = 256

// Config wires optional collaborators. Zero values get defaults.
type Config struct {
	Logger  zerolog.Logger
	Store   *register.Store
	Timer   Timer
	Metrics *metrics.Metrics

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
}

type request struct {
	name  string
	fn    func() error
	reply chan error
}

// Coordinator sequences Connect/Disconnect/StartPoll/StopPoll intents
// against one Session and one poll Timer.
//
// All state transitions, tick handling and result handling happen on the
// goroutine running Run, in the order they arrive. Reads run on their own
// goroutine so a slow device never stalls intent processing.
type Coordinator struct {
	log     zerolog.Logger
	sess    Session
	timer   Timer
	store   *register.Store
	metrics *metrics.Metrics

	requests chan request
	ticks    chan uint64
	results  chan fetchResult
	events   chan Event

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool

	// ---- owned by the Run goroutine ----
	state    State
	conn     session.ConnectionParams
	poll     PollParams
	connGen  uint64 // bumped on every connect and disconnect
	pollGen  uint64 // bumped on every start and stop of the timer
	readSeq  uint64
	inFlight uint64 // readSeq of the outstanding read, 0 if none

	// ---- shared with read goroutines ----
	// A read runs under readGate.RLock and only while liveGen matches the
	// generation it was dispatched for. Stopping the timer takes the write
	// lock, so once it returns no read is running and none can start.
	readGate sync.RWMutex
	liveGen  uint64 // pollGen of the armed timer, 0 when stopped

	// ---- published for concurrent readers ----
	stateVal atomic.Int32
	statusMu sync.RWMutex
	snap     status.Snapshot
}

// New builds a disconnected coordinator. Call Run to start processing intents.
func New(cfg Config, sess Session) *Coordinator {
	log := cfg.Logger.With().Str("component", "coordinator").Logger()

	store := cfg.Store
	if store == nil {
		store = register.New()
	}
	timer := cfg.Timer
	if timer == nil {
		timer = poller.NewController(cfg.Logger)
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = defaultEventBuffer
	}

	c := &Coordinator{
		log:      log,
		sess:     sess,
		timer:    timer,
		store:    store,
		metrics:  cfg.Metrics,
		requests: make(chan request),
		ticks:    make(chan uint64, 1),
		results:  make(chan fetchResult, 4),
		events:   make(chan Event, buf),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateDisconnected,
	}
	c.snap = status.Snapshot{Health: status.HealthDisconnected, Text: status.TextReady}
	c.metrics.SetState(false, false)
	return c
}

// Run processes intents, ticks and read results until ctx is cancelled or
// Close is called. On exit it disconnects and closes the Events channel.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator: already running")
	}
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()

		case <-c.quit:
			c.shutdown()
			return nil

		case req := <-c.requests:
			err := req.fn()
			if err != nil {
				c.log.Debug().Err(err).Str("intent", req.name).Msg("intent rejected")
			}
			req.reply <- err

		case gen := <-c.ticks:
			c.handleTick(gen)

		case res := <-c.results:
			c.handleResult(res)
		}
	}
}

// Close disconnects, stops the loop and waits for it to exit.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	if c.running.Load() {
		<-c.done
	}
	return nil
}

// Events delivers status and poll events in emission order.
// The channel is closed when the coordinator stops.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// State returns the current state. Safe from any goroutine.
func (c *Coordinator) State() State {
	return State(c.stateVal.Load())
}

// Status returns a copy of the current status snapshot.
func (c *Coordinator) Status() status.Snapshot {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.snap
}

// Registers returns a copy of the stored values for [start, start+length).
func (c *Coordinator) Registers(start, length uint16) ([]uint16, error) {
	return c.store.Range(start, length)
}

// ---- intents ----

// Connect opens the connection. Legal only while disconnected.
// A transport failure leaves the coordinator disconnected.
func (c *Coordinator) Connect(ctx context.Context, p session.ConnectionParams) error {
	return c.submit(ctx, "connect", func() error {
		if c.state != StateDisconnected {
			return fmt.Errorf("%w: connect while %s", ErrInvalidTransition, c.state)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}

		c.log.Info().Str("address", p.Address()).Uint8("slave_id", p.SlaveID).Msg("connect requested")

		if err := c.sess.Connect(ctx, p); err != nil {
			c.log.Warn().Err(err).Str("address", p.Address()).Msg("connect failed")
			c.updateStatus(func(s *status.Snapshot) {
				s.Health = status.HealthError
				s.LastErrorCode = status.ErrorCode(err)
			})
			c.setText(status.TextConnectFailed(err))
			return err
		}

		c.conn = p
		c.connGen++
		c.setState(StateIdle)
		c.updateStatus(func(s *status.Snapshot) {
			s.Address = p.Address()
			s.Health = status.HealthUnknown
			s.LastErrorCode = 0
			s.ConsecutiveFailures = 0
		})
		c.setText(status.TextConnected(p.Address()))
		return nil
	})
}

// Disconnect stops polling and closes the connection. No-op when disconnected.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	return c.submit(ctx, "disconnect", func() error {
		c.disconnect()
		return nil
	})
}

// StartPoll arms the poll timer with p. While already polling, the running
// timer is replaced. Not legal while disconnected.
func (c *Coordinator) StartPoll(ctx context.Context, p PollParams) error {
	return c.submit(ctx, "start-poll", func() error {
		return c.startPoll(p)
	})
}

// StopPoll disarms the poll timer. No-op while idle; not legal while disconnected.
func (c *Coordinator) StopPoll(ctx context.Context) error {
	return c.submit(ctx, "stop-poll", func() error {
		switch c.state {
		case StateDisconnected:
			return fmt.Errorf("%w: stop polling while %s", ErrInvalidTransition, c.state)
		case StateIdle:
			return nil
		}
		c.stopPoll()
		return nil
	})
}

// TogglePoll stops polling when polling, otherwise starts it with p.
func (c *Coordinator) TogglePoll(ctx context.Context, p PollParams) error {
	return c.submit(ctx, "toggle-poll", func() error {
		if c.state == StatePolling {
			c.stopPoll()
			return nil
		}
		return c.startPoll(p)
	})
}

// Clear zeroes the register store. Legal in every state.
func (c *Coordinator) Clear(ctx context.Context) error {
	return c.submit(ctx, "clear", func() error {
		c.store.Clear()
		c.log.Info().Msg("registers cleared")
		c.emit(Event{Kind: EventCleared, At: time.Now()})
		return nil
	})
}

// ---- loop-side helpers (Run goroutine only) ----

func (c *Coordinator) startPoll(p PollParams) error {
	if c.state == StateDisconnected {
		return fmt.Errorf("%w: start polling while %s", ErrInvalidTransition, c.state)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	// Detach the previous timer before the new callback is attached.
	if c.state == StatePolling {
		c.stopTimer()
	}

	c.pollGen++
	c.setLiveGen(c.pollGen)
	if err := c.timer.Start(p.Interval, c.tickFunc(c.pollGen)); err != nil {
		c.setLiveGen(0)
		c.setState(StateIdle)
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	c.poll = p
	c.setState(StatePolling)
	c.log.Info().
		Dur("interval", p.Interval).
		Uint16("start", p.StartAddress).
		Uint16("length", p.Length).
		Msg("polling started")
	c.setText(status.TextPolling(p.Interval, p.StartAddress, p.Length))
	return nil
}

func (c *Coordinator) stopPoll() {
	c.stopTimer()
	c.setState(StateIdle)
	c.log.Info().Msg("polling stopped")
	c.setText(status.TextPollingStopped)
}

// stopTimer returns only after the timer can no longer fire and no read
// of the old generation is running. Ticks and results already queued for
// the old generation are invalidated.
func (c *Coordinator) stopTimer() {
	c.timer.Stop()
	c.pollGen++
	c.setLiveGen(0)
}

// setLiveGen waits for a running read to finish before switching generations.
func (c *Coordinator) setLiveGen(gen uint64) {
	c.readGate.Lock()
	c.liveGen = gen
	c.readGate.Unlock()
}

func (c *Coordinator) disconnect() {
	if c.state == StateDisconnected {
		return
	}

	addr := c.conn.Address()

	// Polling stops before the handle is released.
	if c.state == StatePolling {
		c.stopTimer()
	}
	c.sess.Disconnect()

	c.conn = session.ConnectionParams{}
	c.connGen++
	c.inFlight = 0
	c.setState(StateDisconnected)
	c.updateStatus(func(s *status.Snapshot) {
		s.Address = ""
		s.Health = status.HealthDisconnected
	})

	c.log.Info().Str("address", addr).Msg("disconnected")
	c.setText(status.TextDisconnected)
}

func (c *Coordinator) shutdown() {
	c.disconnect()
	c.timer.Stop()
	close(c.events)
}

func (c *Coordinator) submit(ctx context.Context, name string, fn func() error) error {
	req := request{name: name, fn: fn, reply: make(chan error, 1)}

	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}

	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrClosed
		}
	}
}

func (c *Coordinator) setState(s State) {
	c.state = s
	c.stateVal.Store(int32(s))
	c.metrics.SetState(s.Connected(), s == StatePolling)
	c.updateStatus(func(snap *status.Snapshot) {
		snap.Connected = s.Connected()
		snap.Polling = s == StatePolling
	})
}

func (c *Coordinator) updateStatus(fn func(*status.Snapshot)) {
	c.statusMu.Lock()
	fn(&c.snap)
	c.statusMu.Unlock()
}

func (c *Coordinator) setText(text string) {
	c.updateStatus(func(s *status.Snapshot) { s.Text = text })
	c.emit(Event{Kind: EventStatusChanged, At: time.Now(), Text: text})
}

// emit never blocks the loop; a full buffer drops the event.
func (c *Coordinator) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.metrics.EventDropped()
		c.log.Warn().Stringer("kind", e.Kind).Msg("event dropped: consumer not keeping up")
	}
}
