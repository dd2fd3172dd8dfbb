// internal/coordinator/coordinator_test.go
package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-supervisor/internal/poller"
	"github.com/tamzrod/modbus-supervisor/internal/register"
	"github.com/tamzrod/modbus-supervisor/internal/session"
	"github.com/tamzrod/modbus-supervisor/internal/status"
)

// ---- fake session ----

type readCall struct {
	start, length uint16
	timeout       time.Duration
}

type fakeSession struct {
	mu          sync.Mutex
	connectErr  error
	connected   bool
	connects    int
	disconnects int
	reads       []readCall

	// readFn overrides the default response (register n holds n+100).
	readFn func(start, length uint16) ([]uint16, error)

	// When gate is set, reads signal started and then wait on gate.
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeSession) Connect(ctx context.Context, p session.ConnectionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeSession) ReadRegisters(start, length uint16, timeout time.Duration) ([]uint16, error) {
	f.mu.Lock()
	f.reads = append(f.reads, readCall{start: start, length: length, timeout: timeout})
	fn := f.readFn
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		<-gate
	}
	if fn != nil {
		return fn(start, length)
	}

	out := make([]uint16, length)
	for i := range out {
		out[i] = start + uint16(i) + 100
	}
	return out, nil
}

func (f *fakeSession) readCalls() []readCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]readCall(nil), f.reads...)
}

// ---- fake timer: ticks only when the test fires them ----

type fakeTimer struct {
	mu       sync.Mutex
	interval time.Duration
	onTick   func()
	starts   int
	stops    int
}

func (f *fakeTimer) Start(interval time.Duration, onTick func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = interval
	f.onTick = onTick
	f.starts++
	return nil
}

func (f *fakeTimer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = 0
	f.onTick = nil
	f.stops++
}

func (f *fakeTimer) callback() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onTick
}

func (f *fakeTimer) fire(t *testing.T) {
	t.Helper()
	fn := f.callback()
	if fn == nil {
		t.Fatalf("fire: timer not armed")
	}
	fn()
}

func (f *fakeTimer) armed() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval, f.onTick != nil
}

// ---- helpers ----

var testConn = session.ConnectionParams{Host: "127.0.0.1", Port: 502, SlaveID: 1}

func startCoordinator(t *testing.T, sess Session, timer Timer) *Coordinator {
	t.Helper()

	c := New(Config{
		Logger: zerolog.Nop(),
		Timer:  timer,
	}, sess)

	go func() { _ = c.Run(context.Background()) }()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextEvent(t *testing.T, c *Coordinator, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-c.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", kind)
			}
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// noPollEvent fails if a poll event shows up within d.
func noPollEvent(t *testing.T, c *Coordinator, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case e, ok := <-c.Events():
			if !ok {
				return
			}
			if e.Kind == EventPollSucceeded || e.Kind == EventPollFailed {
				t.Fatalf("unexpected %s event: %+v", e.Kind, e)
			}
		case <-deadline:
			return
		}
	}
}

func connect(t *testing.T, c *Coordinator) {
	t.Helper()
	if err := c.Connect(context.Background(), testConn); err != nil {
		t.Fatalf("Connect err=%v", err)
	}
	nextEvent(t, c, EventStatusChanged)
}

func pollParams(interval time.Duration, start, length uint16) PollParams {
	return PollParams{Interval: interval, StartAddress: start, Length: length}
}

// ---- connect / disconnect ----

func TestConnect_RefusedStaysDisconnected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()

	c := startCoordinator(t, session.New(zerolog.Nop(), session.Options{}), &fakeTimer{})

	err = c.Connect(context.Background(), session.ConnectionParams{Host: "127.0.0.1", Port: port, SlaveID: 1})

	var te *session.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Code != session.CodeRefused {
		t.Fatalf("code: got=%s want=%s", te.Code, session.CodeRefused)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state: got=%s want=%s", c.State(), StateDisconnected)
	}

	e := nextEvent(t, c, EventStatusChanged)
	if e.Text != status.TextConnectFailed(err) {
		t.Fatalf("status text: got=%q", e.Text)
	}
	if st := c.Status(); st.Health != status.HealthError || st.LastErrorCode == 0 {
		t.Fatalf("status not updated on connect failure: %+v", st)
	}
}

func TestConnect_InvalidParams(t *testing.T) {
	sess := &fakeSession{}
	c := startCoordinator(t, sess, &fakeTimer{})

	err := c.Connect(context.Background(), session.ConnectionParams{Port: 502})
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	if sess.connects != 0 {
		t.Fatalf("session must not be touched for invalid params")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state changed on invalid params")
	}
}

func TestConnect_WhileConnectedRejected(t *testing.T) {
	sess := &fakeSession{}
	c := startCoordinator(t, sess, &fakeTimer{})
	connect(t, c)

	if err := c.Connect(context.Background(), testConn); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state: got=%s", c.State())
	}
}

func TestConnectDisconnect_StatusEvents(t *testing.T) {
	sess := &fakeSession{}
	c := startCoordinator(t, sess, &fakeTimer{})

	if err := c.Connect(context.Background(), testConn); err != nil {
		t.Fatalf("Connect err=%v", err)
	}
	if e := nextEvent(t, c, EventStatusChanged); e.Text != status.TextConnected("127.0.0.1:502") {
		t.Fatalf("connect text: %q", e.Text)
	}

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect err=%v", err)
	}
	if e := nextEvent(t, c, EventStatusChanged); e.Text != status.TextDisconnected {
		t.Fatalf("disconnect text: %q", e.Text)
	}

	// Idempotent.
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect err=%v", err)
	}
	if sess.disconnects != 1 {
		t.Fatalf("session disconnected %d times, want 1", sess.disconnects)
	}
}

// ---- poll transitions ----

func TestPollIntents_IgnoredWhileDisconnected(t *testing.T) {
	timer := &fakeTimer{}
	c := startCoordinator(t, &fakeSession{}, timer)

	if err := c.StartPoll(context.Background(), pollParams(time.Second, 0, 8)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("StartPoll: expected ErrInvalidTransition, got %v", err)
	}
	if err := c.StopPoll(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("StopPoll: expected ErrInvalidTransition, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state: got=%s", c.State())
	}
	if timer.starts != 0 {
		t.Fatalf("timer must not be armed while disconnected")
	}
}

func TestStartPoll_InvalidParams(t *testing.T) {
	timer := &fakeTimer{}
	c := startCoordinator(t, &fakeSession{}, timer)
	connect(t, c)

	bad := []PollParams{
		pollParams(0, 0, 8),
		pollParams(time.Second, 0, 0),
		pollParams(time.Second, 0, 126),
		pollParams(time.Second, 65530, 8),
	}
	for _, p := range bad {
		if err := c.StartPoll(context.Background(), p); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("params %+v: expected ErrInvalidParams, got %v", p, err)
		}
	}
	if c.State() != StateIdle || timer.starts != 0 {
		t.Fatalf("invalid params must not change state")
	}
}

func TestPoll_ThreeTicksThreeReads(t *testing.T) {
	sess := &fakeSession{}
	timer := &fakeTimer{}
	c := startCoordinator(t, sess, timer)
	connect(t, c)

	if err := c.StartPoll(context.Background(), pollParams(3000*time.Millisecond, 0, 8)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}
	if iv, ok := timer.armed(); !ok || iv != 3*time.Second {
		t.Fatalf("timer: armed=%t interval=%s", ok, iv)
	}
	if len(sess.readCalls()) != 0 {
		t.Fatalf("no read may happen before the first tick")
	}

	for i := 0; i < 3; i++ {
		timer.fire(t)
		e := nextEvent(t, c, EventPollSucceeded)
		if e.StartAddress != 0 || len(e.Values) != 8 {
			t.Fatalf("tick %d: unexpected event %+v", i, e)
		}
	}

	calls := sess.readCalls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 reads, got %d", len(calls))
	}
	for i, call := range calls {
		if call.start != 0 || call.length != 8 {
			t.Fatalf("read %d: got (%d,%d) want (0,8)", i, call.start, call.length)
		}
		if call.timeout != DefaultReadTimeout {
			t.Fatalf("read %d: timeout %s want %s", i, call.timeout, DefaultReadTimeout)
		}
	}
}

func TestPoll_RestartUsesNewInterval(t *testing.T) {
	timer := &fakeTimer{}
	c := startCoordinator(t, &fakeSession{}, timer)
	connect(t, c)

	ctx := context.Background()
	if err := c.StartPoll(ctx, pollParams(3000*time.Millisecond, 0, 8)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}
	if err := c.StopPoll(ctx); err != nil {
		t.Fatalf("StopPoll err=%v", err)
	}
	if _, ok := timer.armed(); ok {
		t.Fatalf("timer still armed after StopPoll")
	}
	if err := c.StartPoll(ctx, pollParams(5000*time.Millisecond, 0, 8)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}

	if iv, ok := timer.armed(); !ok || iv != 5*time.Second {
		t.Fatalf("timer: armed=%t interval=%s, want 5s", ok, iv)
	}
	if c.State() != StatePolling {
		t.Fatalf("state: got=%s", c.State())
	}
}

func TestStartPoll_WhilePollingReplacesOnce(t *testing.T) {
	sess := &fakeSession{}
	timer := &fakeTimer{}
	c := startCoordinator(t, sess, timer)
	connect(t, c)

	ctx := context.Background()
	if err := c.StartPoll(ctx, pollParams(time.Second, 0, 4)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}
	oldTick := timer.callback()

	if err := c.StartPoll(ctx, pollParams(2*time.Second, 10, 2)); err != nil {
		t.Fatalf("restart err=%v", err)
	}
	if timer.stops != 1 || timer.starts != 2 {
		t.Fatalf("expected stop-then-start, got stops=%d starts=%d", timer.stops, timer.starts)
	}

	// A tick from the detached callback must not produce a read.
	oldTick()
	noPollEvent(t, c, 50*time.Millisecond)

	timer.fire(t)
	e := nextEvent(t, c, EventPollSucceeded)
	if e.StartAddress != 10 || len(e.Values) != 2 {
		t.Fatalf("read used old params: %+v", e)
	}
	if n := len(sess.readCalls()); n != 1 {
		t.Fatalf("expected exactly 1 read, got %d", n)
	}
}

func TestTogglePoll(t *testing.T) {
	timer := &fakeTimer{}
	c := startCoordinator(t, &fakeSession{}, timer)
	connect(t, c)

	ctx := context.Background()
	p := pollParams(time.Second, 0, 8)

	if err := c.TogglePoll(ctx, p); err != nil || c.State() != StatePolling {
		t.Fatalf("toggle on: err=%v state=%s", err, c.State())
	}
	if err := c.TogglePoll(ctx, p); err != nil || c.State() != StateIdle {
		t.Fatalf("toggle off: err=%v state=%s", err, c.State())
	}
	if _, ok := timer.armed(); ok {
		t.Fatalf("timer armed after toggle off")
	}
}

// ---- read results ----

func TestPoll_StoreMatchesReadExactly(t *testing.T) {
	sess := &fakeSession{}
	timer := &fakeTimer{}
	store := register.New()
	_ = store.WriteRange(0, []uint16{7, 7, 7, 7, 7, 7, 7, 7, 7, 7})

	c := New(Config{Logger: zerolog.Nop(), Timer: timer, Store: store}, sess)
	go func() { _ = c.Run(context.Background()) }()
	defer c.Close()

	connect(t, c)
	if err := c.StartPoll(context.Background(), pollParams(time.Second, 2, 4)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}
	timer.fire(t)
	e := nextEvent(t, c, EventPollSucceeded)

	got, _ := c.Registers(0, 10)
	want := []uint16{7, 7, 102, 103, 104, 105, 7, 7, 7, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slot %d: got=%d want=%d (all=%v)", i, got[i], want[i], got)
		}
	}
	for i, v := range e.Values {
		if got[2+i] != v {
			t.Fatalf("event value %d differs from store", i)
		}
	}
	if st := c.Status(); st.Health != status.HealthOK || st.LastPollAt.IsZero() {
		t.Fatalf("status after success: %+v", st)
	}
}

func TestPoll_ShortReadIsFailure(t *testing.T) {
	sess := &fakeSession{
		readFn: func(start, length uint16) ([]uint16, error) {
			return make([]uint16, length-1), nil
		},
	}
	timer := &fakeTimer{}
	c := startCoordinator(t, sess, timer)
	connect(t, c)

	if err := c.StartPoll(context.Background(), pollParams(time.Second, 0, 8)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}
	timer.fire(t)

	e := nextEvent(t, c, EventPollFailed)
	var short *poller.ErrShortRead
	if !errors.As(e.Err, &short) {
		t.Fatalf("expected ErrShortRead, got %v", e.Err)
	}
	if c.State() != StatePolling {
		t.Fatalf("short read must not stop polling")
	}
}

func TestPoll_FailureKeepsPolling(t *testing.T) {
	var mu sync.Mutex
	fail := true
	sess := &fakeSession{
		readFn: func(start, length uint16) ([]uint16, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return nil, &session.TransportError{Op: "read", Code: session.CodeTimeout}
			}
			return make([]uint16, length), nil
		},
	}
	timer := &fakeTimer{}
	c := startCoordinator(t, sess, timer)
	connect(t, c)

	if err := c.StartPoll(context.Background(), pollParams(time.Second, 0, 8)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}

	timer.fire(t)
	e := nextEvent(t, c, EventPollFailed)
	if !session.IsCode(e.Err, session.CodeTimeout) {
		t.Fatalf("unexpected failure %v", e.Err)
	}
	timer.fire(t)
	nextEvent(t, c, EventPollFailed)

	if st := c.Status(); st.ConsecutiveFailures != 2 || st.Health != status.HealthError {
		t.Fatalf("status after failures: %+v", st)
	}
	if c.State() != StatePolling {
		t.Fatalf("read failure must not stop polling: state=%s", c.State())
	}

	mu.Lock()
	fail = false
	mu.Unlock()

	timer.fire(t)
	nextEvent(t, c, EventPollSucceeded)
	if st := c.Status(); st.ConsecutiveFailures != 0 || st.Health != status.HealthOK {
		t.Fatalf("status after recovery: %+v", st)
	}
}

func TestPoll_TickSkippedWhileReadInFlight(t *testing.T) {
	sess := &fakeSession{
		gate:    make(chan struct{}),
		started: make(chan struct{}, 4),
	}
	timer := &fakeTimer{}
	c := startCoordinator(t, sess, timer)
	connect(t, c)

	if err := c.StartPoll(context.Background(), pollParams(time.Second, 0, 8)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}

	timer.fire(t)
	<-sess.started

	timer.fire(t)
	timer.fire(t)
	time.Sleep(30 * time.Millisecond)

	if n := len(sess.readCalls()); n != 1 {
		t.Fatalf("ticks during an in-flight read must be skipped: reads=%d", n)
	}

	close(sess.gate)
	nextEvent(t, c, EventPollSucceeded)

	timer.fire(t)
	nextEvent(t, c, EventPollSucceeded)
	if n := len(sess.readCalls()); n != 2 {
		t.Fatalf("expected polling to resume, reads=%d", n)
	}
}

func TestDisconnect_DiscardsInFlightResult(t *testing.T) {
	sess := &fakeSession{
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	timer := &fakeTimer{}
	c := startCoordinator(t, sess, timer)
	connect(t, c)

	if err := c.StartPoll(context.Background(), pollParams(time.Second, 0, 8)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}
	timer.fire(t)
	<-sess.started

	disconnected := make(chan error, 1)
	go func() { disconnected <- c.Disconnect(context.Background()) }()

	// Disconnect waits for the running read before releasing the handle.
	select {
	case err := <-disconnected:
		t.Fatalf("Disconnect returned during a read: err=%v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(sess.gate)
	if err := <-disconnected; err != nil {
		t.Fatalf("Disconnect err=%v", err)
	}
	if _, ok := timer.armed(); ok {
		t.Fatalf("timer still armed after Disconnect")
	}
	if sess.disconnects != 1 {
		t.Fatalf("session not disconnected")
	}

	noPollEvent(t, c, 100*time.Millisecond)

	got, _ := c.Registers(0, 8)
	for i, v := range got {
		if v != 0 {
			t.Fatalf("late result applied to store: slot %d=%d", i, v)
		}
	}
}

func TestStopPollThenDisconnect_NoReads(t *testing.T) {
	sess := &fakeSession{}
	timer := &fakeTimer{}
	c := startCoordinator(t, sess, timer)
	connect(t, c)

	ctx := context.Background()
	if err := c.StartPoll(ctx, pollParams(time.Second, 0, 8)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}
	tick := timer.callback()

	if err := c.StopPoll(ctx); err != nil {
		t.Fatalf("StopPoll err=%v", err)
	}
	// A tick racing with StopPoll is dropped.
	tick()
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect err=%v", err)
	}

	noPollEvent(t, c, 50*time.Millisecond)
	if n := len(sess.readCalls()); n != 0 {
		t.Fatalf("expected zero reads, got %d", n)
	}
}

func TestStopPoll_TickJustBeforeStopNeverReadsAfter(t *testing.T) {
	sess := &fakeSession{}
	timer := &fakeTimer{}
	c := startCoordinator(t, sess, timer)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		connect(t, c)
		if err := c.StartPoll(ctx, pollParams(time.Second, 0, 8)); err != nil {
			t.Fatalf("iteration %d: StartPoll err=%v", i, err)
		}

		timer.fire(t)
		if err := c.StopPoll(ctx); err != nil {
			t.Fatalf("iteration %d: StopPoll err=%v", i, err)
		}
		atStop := len(sess.readCalls())

		if err := c.Disconnect(ctx); err != nil {
			t.Fatalf("iteration %d: Disconnect err=%v", i, err)
		}
		time.Sleep(time.Millisecond)

		if n := len(sess.readCalls()); n != atStop {
			t.Fatalf("iteration %d: read issued after StopPoll returned (%d -> %d)", i, atStop, n)
		}
	}
}

// ---- clear ----

func TestClear_ZeroesAllSlots(t *testing.T) {
	timer := &fakeTimer{}
	store := register.New()
	c := New(Config{Logger: zerolog.Nop(), Timer: timer, Store: store}, &fakeSession{})
	go func() { _ = c.Run(context.Background()) }()
	defer c.Close()

	connect(t, c)
	if err := c.StartPoll(context.Background(), pollParams(time.Second, 100, 125)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}
	timer.fire(t)
	nextEvent(t, c, EventPollSucceeded)
	_ = store.WriteRange(65535, []uint16{1})

	if err := c.Clear(context.Background()); err != nil {
		t.Fatalf("Clear err=%v", err)
	}
	nextEvent(t, c, EventCleared)

	for addr := 0; addr < register.Size; addr++ {
		if v := store.Get(uint16(addr)); v != 0 {
			t.Fatalf("slot %d not cleared: %d", addr, v)
		}
	}
}

// ---- state consistency ----

func TestInvariant_PollingImpliesConnected(t *testing.T) {
	sess := &fakeSession{}
	timer := &fakeTimer{}
	c := startCoordinator(t, sess, timer)

	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 300; i++ {
		switch rng.Intn(5) {
		case 0:
			_ = c.Connect(ctx, testConn)
		case 1:
			_ = c.Disconnect(ctx)
		case 2:
			_ = c.StartPoll(ctx, pollParams(time.Duration(1+rng.Intn(5))*time.Second, 0, 8))
		case 3:
			_ = c.StopPoll(ctx)
		case 4:
			_ = c.TogglePoll(ctx, pollParams(time.Second, 0, 8))
		}

		st := c.State()
		_, armed := timer.armed()
		snap := c.Status()

		if st == StatePolling && !st.Connected() {
			t.Fatalf("step %d: polling while disconnected", i)
		}
		if armed != (st == StatePolling) {
			t.Fatalf("step %d: timer armed=%t in state %s", i, armed, st)
		}
		if snap.Polling && !snap.Connected {
			t.Fatalf("step %d: snapshot polling while disconnected", i)
		}
	}
}

// ---- lifecycle ----

func TestClose_DisconnectsAndClosesEvents(t *testing.T) {
	sess := &fakeSession{}
	timer := &fakeTimer{}
	c := New(Config{Logger: zerolog.Nop(), Timer: timer}, sess)
	go func() { _ = c.Run(context.Background()) }()

	connect(t, c)
	if err := c.StartPoll(context.Background(), pollParams(time.Second, 0, 8)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close err=%v", err)
	}

	if sess.disconnects != 1 {
		t.Fatalf("expected session disconnect on close")
	}
	if _, ok := timer.armed(); ok {
		t.Fatalf("timer armed after close")
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-c.Events():
			if !ok {
				if err := c.Connect(context.Background(), testConn); !errors.Is(err, ErrClosed) {
					t.Fatalf("intent after close: expected ErrClosed, got %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatalf("events channel not closed")
		}
	}
}

// ---- real timer ----

func TestPoll_RealTimerNoDuplicateTicks(t *testing.T) {
	sess := &fakeSession{}
	c := startCoordinator(t, sess, nil)
	connect(t, c)

	ctx := context.Background()
	if err := c.StartPoll(ctx, pollParams(40*time.Millisecond, 0, 8)); err != nil {
		t.Fatalf("StartPoll err=%v", err)
	}
	if err := c.StartPoll(ctx, pollParams(40*time.Millisecond, 0, 8)); err != nil {
		t.Fatalf("restart err=%v", err)
	}

	time.Sleep(220 * time.Millisecond)
	if err := c.StopPoll(ctx); err != nil {
		t.Fatalf("StopPoll err=%v", err)
	}
	atStop := len(sess.readCalls())

	// ~5 expected; a doubled callback would give ~10.
	if atStop < 3 || atStop > 6 {
		t.Fatalf("unexpected read count %d", atStop)
	}

	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect err=%v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if n := len(sess.readCalls()); n != atStop {
		t.Fatalf("reads continued after StopPoll: %d -> %d", atStop, n)
	}
}

func TestEventLines(t *testing.T) {
	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	ok := Event{Kind: EventPollSucceeded, At: at, StartAddress: 3, Values: []uint16{10, 11}}.Lines()
	want := []string{"read at 08:00:00", "Address: 3, Data: 10", "Address: 4, Data: 11"}
	if len(ok) != len(want) {
		t.Fatalf("lines: %v", ok)
	}
	for i := range want {
		if ok[i] != want[i] {
			t.Fatalf("line %d: got=%q want=%q", i, ok[i], want[i])
		}
	}

	failed := Event{Kind: EventPollFailed, Text: "read: timeout"}.Lines()
	if len(failed) != 1 || failed[0] != "no data: read: timeout" {
		t.Fatalf("failure lines: %v", failed)
	}
}
