// Command storfab-sim runs a simulated storage-controller adapter with an
// interactive console.
//
// The simulator wires the adapter to an in-process controller and a
// recording host stack, so device arrival/removal, queue-depth
// throttling, I/O flushes and controller resets can be driven by hand
// and observed.
//
// Usage:
//
//	storfab-sim [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-trace string      Write a CBOR diagnostic trace to this file
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/storfab/storfab-go/cmd/storfab-sim/interactive"
	"github.com/storfab/storfab-go/internal/simharness"
	"github.com/storfab/storfab-go/pkg/adapter"
	"github.com/storfab/storfab-go/pkg/trace"
)

var (
	configFile = flag.String("config", "", "configuration file path")
	logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	tracePath  = flag.String("trace", "", "write CBOR diagnostic trace to this file")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := adapter.DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = adapter.LoadConfig(*configFile)
		if err != nil {
			return err
		}
	}
	if *tracePath != "" {
		cfg.TracePath = *tracePath
	}

	var tracer trace.Tracer = trace.NoopTracer{}
	if cfg.TracePath != "" {
		ft, err := trace.NewFileTracer(cfg.TracePath)
		if err != nil {
			return fmt.Errorf("opening trace file: %w", err)
		}
		defer ft.Close()
		tracer = ft
	}

	host := simharness.NewHost()
	ctrl := simharness.NewController()
	a, err := adapter.New(cfg, host, ctrl, logger, tracer)
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		return err
	}
	defer a.Stop()

	console, err := interactive.New(a, host, ctrl)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	console.Run(ctx, cancel)
	return nil
}
