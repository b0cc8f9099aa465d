// pattern: Imperative Shell
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"dashing/internal/bus"
	"dashing/internal/cli"
	"dashing/internal/config"
	"dashing/internal/host"
	"dashing/internal/instance"
	"dashing/internal/logging"
	"dashing/internal/web"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	// Stop parsing flags after the first non-flag arg (the subcommand),
	// so that --help after a subcommand is handled by the subcommand.
	flag.CommandLine.SetInterspersed(false)

	configDir := flag.StringP("config-dir", "c", "", "config directory (default: ~/.config/dashing)")
	listen := flag.StringSlice("listen", nil, "base URL to serve on, repeatable (overrides config)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides config)")

	flag.Usage = func() {
		app := cli.BuildApp(version, cli.Env{Stderr: os.Stderr})
		app.PrintHelp(os.Stderr)
		flag.PrintDefaults()
	}

	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
	}
	if len(*listen) > 0 {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	dataDir := cli.ResolveDataDir(*configDir, cfg.DataDir)
	app := cli.BuildApp(version, cli.Env{
		DataDir: dataDir,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	})

	serve, err := app.Execute(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if !serve {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = runServer(ctx, cfg, serverOptions{
		DataDir:     dataDir,
		ConfigPath:  config.Path(*configDir),
		Console:     os.Stderr,
		LevelPinned: *logLevel != "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	DataDir     string
	ConfigPath  string    // watched for live changes; empty disables reload
	Console     io.Writer // human-readable log output
	LevelPinned bool      // log level came from a flag; reloads leave it alone
	OnReady     func(urls []string)
}

// runServer serves until ctx is done, then shuts the host down.
func runServer(ctx context.Context, cfg config.Config, opts serverOptions) error {
	// Acquire single-instance lock
	fl, err := instance.Lock(opts.DataDir)
	if err != nil {
		return err
	}
	defer instance.Cleanup(opts.DataDir, fl)

	logManager, err := logging.NewManager(logging.Config{
		FilePath:   filepath.Join(opts.DataDir, "dashing.log"),
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 7,
		Level:      cfg.LogLevel,
		Console:    opts.Console,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logManager.Close() }()

	appLogger := logManager.For("app")
	appLogger.Info("application starting", "version", version, "listen", cfg.Listen)

	eventBus := bus.New(bus.Config{
		MaxHistory:  cfg.History.MaxEntries,
		IdleTimeout: cfg.Stream.IdleTimeout,
		Heartbeat:   cfg.Stream.HeartbeatInterval > 0,
	}, logManager)

	engine := web.New(web.Config{
		DefaultDashboard: cfg.DefaultDashboard,
		ReplayHistory:    cfg.Stream.ReplayHistory,
	}, eventBus, logManager)

	h := host.New(host.Config{
		BaseURLs:          cfg.Listen,
		MaxStreams:        cfg.Stream.MaxConnections,
		WriteTimeout:      cfg.Stream.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		MaxRestarts:       cfg.Supervisor.MaxRestarts,
		RestartDelay:      cfg.Supervisor.RestartDelay,
	}, engine, logManager)

	if err := h.Start(); err != nil {
		var be *host.BindError
		if errors.As(err, &be) {
			appLogger.Error("failed to bind", "address", be.Address, "error", be.Err)
		}
		return err
	}

	urls := h.URLs()
	// Write URL file for CLI discovery
	if err := instance.WriteURL(opts.DataDir, urls[0]); err != nil {
		appLogger.Error("failed to write URL file", "error", err)
	}
	appLogger.Info("serving", "urls", urls)

	if interval := cfg.SweepInterval(); interval > 0 {
		go eventBus.Run(ctx, interval)
	}

	if opts.ConfigPath != "" {
		err := config.Watch(ctx, opts.ConfigPath, func(next config.Config, err error) {
			if err != nil {
				appLogger.Warn("config reload failed", "error", err)
				return
			}
			if !opts.LevelPinned {
				logManager.SetLevel(next.LogLevel)
			}
			eventBus.SetMaxHistory(next.History.MaxEntries)
			appLogger.Info("config reloaded", "log_level", logManager.Level(), "history_max_entries", next.History.MaxEntries)
		})
		if err != nil {
			appLogger.Warn("config reload disabled", "error", err)
		}
	}

	if opts.OnReady != nil {
		opts.OnReady(urls)
	}

	<-ctx.Done()
	appLogger.Info("shutting down", "open_streams", h.OpenStreams())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.Stop(shutdownCtx); err != nil {
		appLogger.Error("host shutdown error", "error", err)
	}

	appLogger.Info("application stopped", "stats", eventBus.Stats())
	return nil
}
