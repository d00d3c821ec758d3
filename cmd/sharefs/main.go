// Command sharefs mounts remote shares and object stores as a local
// filesystem.
package main

import (
	"context"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sharefs/sharefs/internal/adapter"
	"github.com/sharefs/sharefs/internal/config"
	"github.com/sharefs/sharefs/internal/fuse"
	"github.com/sharefs/sharefs/internal/metrics"
	"github.com/sharefs/sharefs/internal/storage"
	"github.com/sharefs/sharefs/pkg/errors"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		var shareErr *errors.ShareError
		if stderr.As(err, &shareErr) && shareErr.UserFacing {
			fmt.Fprintln(os.Stderr, shareErr.DetailedDiagnostic())
		} else {
			fmt.Fprintf(os.Stderr, "sharefs: %v\n", err)
		}
		os.Exit(1)
	}
}

// options holds the parsed command line.
type options struct {
	configPath  string
	mountPoint  string
	readOnly    bool
	allowOther  bool
	debugFUSE   bool
	logLevel    string
	logFormat   string
	metricsPort int
	noMetrics   bool
	checkOnly   bool
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("sharefs", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	flagSet.StringVarP(&opts.mountPoint, "mount", "m", "", "mount point (overrides mount.mount_point)")
	flagSet.BoolVar(&opts.readOnly, "read-only", false, "mount read-only")
	flagSet.BoolVar(&opts.allowOther, "allow-other", false, "allow other users to access the mount")
	flagSet.BoolVar(&opts.debugFUSE, "debug-fuse", false, "log every FUSE request")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flagSet.IntVar(&opts.metricsPort, "metrics-port", 0, "port of the metrics endpoint")
	flagSet.BoolVar(&opts.noMetrics, "no-metrics", false, "disable the metrics endpoint")
	flagSet.BoolVar(&opts.checkOnly, "check", false, "validate the configuration and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return &opts, nil
}

// loadConfig builds the configuration from defaults, the config file, the
// environment and finally the command line.
func loadConfig(opts *options) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opts.configPath != "" {
		if err := cfg.LoadFromFile(opts.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if opts.mountPoint != "" {
		cfg.Mount.MountPoint = opts.mountPoint
	}
	if opts.readOnly {
		cfg.Mount.ReadOnly = true
	}
	if opts.logLevel != "" {
		cfg.Global.LogLevel = strings.ToUpper(opts.logLevel)
	}
	if opts.logFormat != "" {
		cfg.Monitoring.Logging.Format = opts.logFormat
	}
	if opts.metricsPort != 0 {
		cfg.Global.MetricsPort = opts.metricsPort
	}
	if opts.noMetrics {
		cfg.Monitoring.Metrics.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "invalid configuration").WithCause(err)
	}
	if len(cfg.Connections) == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "no connections configured")
	}
	return cfg, nil
}

func newLogger(cfg *config.Configuration, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Global.LogLevel {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Monitoring.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func run(args []string) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	if opts.checkOnly {
		logger.Info("configuration is valid", "connections", len(cfg.Connections))
		return nil
	}
	if cfg.Mount.MountPoint == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "no mount point given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Global.MetricsPort,
		Path:      cfg.Monitoring.Metrics.Path,
		Namespace: cfg.Monitoring.Metrics.Namespace,
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}

	registry := storage.NewDefaultRegistry(cfg.Network.Timeouts.Connect, logger, collector)
	a, err := adapter.New(cfg, registry, collector, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	collector.SetStatusSource(func() interface{} { return a.Status() })

	fsys := fuse.NewFileSystem(a, cfg.Connections, &fuse.Config{
		ReadOnly: cfg.Mount.ReadOnly,
		UID:      uint32(os.Getuid()),
		GID:      uint32(os.Getgid()),
		FileMode: 0644,
		DirMode:  0755,
	}, logger)

	mountCfg := fuse.DefaultMountConfig(cfg.Mount.MountPoint)
	mountCfg.ReadOnly = cfg.Mount.ReadOnly
	mountCfg.FSName = cfg.Mount.FSName
	mountCfg.AllowOther = opts.allowOther
	mountCfg.Debug = opts.debugFUSE
	mm := fuse.NewMountManager(fsys, mountCfg, logger)
	if err := mm.Mount(ctx); err != nil {
		return err
	}

	served := make(chan struct{})
	go func() {
		mm.Wait()
		close(served)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := mm.Unmount(); err != nil {
			logger.Error("unmount failed", "error", err)
		}
	case <-served:
		logger.Info("filesystem unmounted externally")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Stop(shutdownCtx); err != nil {
		logger.Error("adapter shutdown failed", "error", err)
	}
	return collector.Stop(shutdownCtx)
}
