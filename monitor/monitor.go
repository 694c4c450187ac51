// Package monitor runs the sensor monitor: one session per configured
// device, printing every reading until the context is cancelled.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"

	"github.com/projectqai/sonar/config"
	"github.com/projectqai/sonar/logging"
	"github.com/projectqai/sonar/metrics"
	"github.com/projectqai/sonar/serial"
	"github.com/projectqai/sonar/session"
	"github.com/projectqai/sonar/version"
)

type Options struct {
	// Raw also prints the voltage of every sample.
	Raw bool
	// MetricsAddr enables the Prometheus endpoint when not empty.
	MetricsAddr string
	// Quiet records readings without printing them.
	Quiet bool

	Out    io.Writer
	Logger *slog.Logger

	// Overrides for the serial layer; nil uses the real ports.
	Resolver session.Resolver
	Dialer   session.Dialer
	Hotplug  *serial.Hotplug
}

// Run blocks until ctx is cancelled, then stops all sessions within the
// configured shutdown timeout.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	registry, unwatch, err := setup(ctx, cfg, &opts)
	if err != nil {
		return err
	}
	defer unwatch()

	printBanner(opts.Out, cfg, opts.MetricsAddr)
	registry.Start(ctx, cfg.Devices)

	<-ctx.Done()

	fmt.Fprintln(opts.Out, "Shutting down...")
	registry.ShutdownAll()
	return nil
}

// setup builds a registry whose sessions feed a Printer. The sessions are
// not started yet.
func setup(ctx context.Context, cfg *config.Config, opts *Options) (*session.Registry, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	logger := logging.Module(opts.Logger, "sonar")

	if opts.MetricsAddr != "" {
		if err := metrics.Serve(ctx, logging.Module(opts.Logger, "metrics"), opts.MetricsAddr); err != nil {
			return nil, nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if opts.Resolver == nil {
		opts.Resolver = serial.NewResolver()
	}
	if opts.Dialer == nil {
		opts.Dialer = serial.Transport{ReadTimeout: cfg.ReadTimeout, Delimiter: cfg.Delimiter}
	}
	if opts.Hotplug == nil {
		opts.Hotplug = serial.NewHotplug()
		go opts.Hotplug.Run(ctx, logging.Module(opts.Logger, "hotplug"))
	}

	registry := session.NewRegistry(session.Options{
		Resolver:        opts.Resolver,
		Dialer:          opts.Dialer,
		Hotplug:         opts.Hotplug,
		PollInterval:    cfg.PollInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})

	out := opts.Out
	if opts.Quiet {
		out = nil
	}

	// subscriptions end with their connection, so subscribe on every connect
	printer := NewPrinter(out, opts.Raw, logger)
	unwatch := registry.Watch(func(c session.StateChange) {
		if c.To != session.StateConnected {
			return
		}
		if _, err := registry.Subscribe(c.Device.Index, printer); err != nil {
			logger.Error("failed to subscribe printer", "device", c.Device.Name, "error", err)
		}
	})

	return registry, unwatch, nil
}

func printBanner(w io.Writer, cfg *config.Config, metricsAddr string) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	bold := color.New(color.Bold)

	fmt.Fprintln(w)
	_, _ = green.Fprint(w, "  ➜ ")
	_, _ = bold.Fprint(w, "Sonar ")
	fmt.Fprintf(w, "(%s)", version.Version)
	fmt.Fprintln(w, " watching:")
	for i, dev := range cfg.Devices {
		_, _ = green.Fprint(w, "  ➜ ")
		fmt.Fprintf(w, "%-8s", dev.Label(i))
		_, _ = cyan.Fprintf(w, "%s", dev.SerialNumber)
		fmt.Fprintf(w, " @ %d baud\n", dev.BaudRate)
	}
	if metricsAddr != "" {
		_, _ = green.Fprint(w, "  ➜ ")
		fmt.Fprint(w, "Metrics: ")
		_, _ = cyan.Fprintf(w, "http://%s/metrics\n", metricsAddr)
	}
	fmt.Fprintln(w)
}
