// cmd/supervisor/console.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-supervisor/internal/config"
	"github.com/tamzrod/modbus-supervisor/internal/coordinator"
	"github.com/tamzrod/modbus-supervisor/internal/session"
	"github.com/tamzrod/modbus-supervisor/internal/status"
)

// controller is the part of the coordinator the shell drives.
type controller interface {
	Connect(ctx context.Context, p session.ConnectionParams) error
	Disconnect(ctx context.Context) error
	StartPoll(ctx context.Context, p coordinator.PollParams) error
	StopPoll(ctx context.Context) error
	TogglePoll(ctx context.Context, p coordinator.PollParams) error
	Clear(ctx context.Context) error
	Status() status.Snapshot
}

const helpText = `commands:
  connect [host] [port] [slave_id]
  disconnect
  poll [interval_ms] [start_address] [length]
  stop
  toggle
  clear
  status
  quit`

// shell turns operator lines into coordinator intents. Arguments given to
// connect and poll replace the configured values for later commands.
type shell struct {
	ctl  controller
	out  io.Writer
	log  zerolog.Logger
	conn session.ConnectionParams
	poll coordinator.PollParams
}

func newShell(ctl controller, cfg *config.Config, out io.Writer, logger zerolog.Logger) *shell {
	return &shell{
		ctl:  ctl,
		out:  out,
		log:  logger.With().Str("component", "shell").Logger(),
		conn: cfg.ConnectionParams(),
		poll: cfg.PollParams(),
	}
}

// autostart connects and starts polling with the configured values.
func (s *shell) autostart(ctx context.Context) {
	if err := s.ctl.Connect(ctx, s.conn); err != nil {
		s.log.Warn().Err(err).Msg("autostart: connect failed")
		return
	}
	if err := s.ctl.StartPoll(ctx, s.poll); err != nil {
		s.log.Warn().Err(err).Msg("autostart: start polling failed")
	}
}

// run reads commands until EOF, ctx is done or the operator quits.
// It reports whether quit was requested.
func (s *shell) run(ctx context.Context, in io.Reader) bool {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return false
		}
		if s.exec(ctx, scanner.Text()) {
			return true
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn().Err(err).Msg("reading commands failed")
	}
	return false
}

// exec runs one command line and reports whether it was quit.
func (s *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch cmd {
	case "connect":
		if err = s.parseConnect(args); err == nil {
			err = s.ctl.Connect(ctx, s.conn)
		}
	case "disconnect":
		err = s.ctl.Disconnect(ctx)
	case "poll", "start":
		if err = s.parsePoll(args); err == nil {
			err = s.ctl.StartPoll(ctx, s.poll)
		}
	case "stop":
		err = s.ctl.StopPoll(ctx)
	case "toggle":
		err = s.ctl.TogglePoll(ctx, s.poll)
	case "clear":
		err = s.ctl.Clear(ctx)
	case "status":
		fmt.Fprintln(s.out, s.ctl.Status().String())
	case "help", "?":
		fmt.Fprintln(s.out, helpText)
	case "quit", "exit":
		return true
	default:
		err = fmt.Errorf("unknown command %q (try help)", cmd)
	}

	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
	return false
}

func (s *shell) parseConnect(args []string) error {
	if len(args) > 3 {
		return fmt.Errorf("usage: connect [host] [port] [slave_id]")
	}
	p := s.conn

	if len(args) > 0 {
		p.Host = args[0]
	}
	if len(args) > 1 {
		v, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("port %q: %w", args[1], err)
		}
		p.Port = uint16(v)
	}
	if len(args) > 2 {
		v, err := strconv.ParseUint(args[2], 10, 8)
		if err != nil {
			return fmt.Errorf("slave_id %q: %w", args[2], err)
		}
		p.SlaveID = uint8(v)
	}

	s.conn = p
	return nil
}

func (s *shell) parsePoll(args []string) error {
	if len(args) > 3 {
		return fmt.Errorf("usage: poll [interval_ms] [start_address] [length]")
	}
	p := s.poll

	if len(args) > 0 {
		v, err := strconv.ParseUint(args[0], 10, 31)
		if err != nil {
			return fmt.Errorf("interval_ms %q: %w", args[0], err)
		}
		p.Interval = time.Duration(v) * time.Millisecond
	}
	if len(args) > 1 {
		v, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("start_address %q: %w", args[1], err)
		}
		p.StartAddress = uint16(v)
	}
	if len(args) > 2 {
		v, err := strconv.ParseUint(args[2], 10, 16)
		if err != nil {
			return fmt.Errorf("length %q: %w", args[2], err)
		}
		p.Length = uint16(v)
	}

	s.poll = p
	return nil
}

// printEvents writes every event until the channel closes.
func printEvents(out io.Writer, events <-chan coordinator.Event) {
	for e := range events {
		for _, line := range e.Lines() {
			fmt.Fprintln(out, line)
		}
	}
}

// lockedWriter serializes writes from the shell and the event printer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
