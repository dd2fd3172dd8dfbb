// cmd/supervisor/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-supervisor/internal/config"
	"github.com/tamzrod/modbus-supervisor/internal/coordinator"
	"github.com/tamzrod/modbus-supervisor/internal/metrics"
	"github.com/tamzrod/modbus-supervisor/internal/session"
)

func main() {
	cfgPath := flag.String("config", "supervisor.yaml", "path to the YAML configuration")
	flag.Parse()

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Metrics
	// --------------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen, reg, logger)
	}

	// --------------------
	// Session + coordinator
	// --------------------

	sess := session.New(logger, session.Options{TraceFrames: cfg.Log.Frames})
	coord := coordinator.New(coordinator.Config{
		Logger:  logger,
		Metrics: m,
	}, sess)

	go func() {
		if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("coordinator stopped")
		}
	}()

	out := &lockedWriter{w: os.Stdout}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(out, coord.Events())
	}()

	sh := newShell(coord, cfg, out, logger)

	if cfg.Poll.Autostart {
		sh.autostart(ctx)
	}

	// "quit" ends the process; EOF on stdin only ends the shell.
	go func() {
		if sh.run(ctx, os.Stdin) {
			stop()
		}
	}()

	logger.Info().Str("config", *cfgPath).Msg("supervisor running")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	_ = coord.Close()
	<-printed

	logger.Info().Msg("shutdown complete")
}

func newLogger(c config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
