package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chronologos/aesdsocket/internal/config"
	"github.com/chronologos/aesdsocket/internal/filelog"
	"github.com/chronologos/aesdsocket/internal/ringlog"
	"github.com/chronologos/aesdsocket/internal/server"
	"github.com/chronologos/aesdsocket/internal/session"
	"github.com/chronologos/aesdsocket/internal/timestamp"
	"github.com/chronologos/aesdsocket/internal/transport"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ln, err := listen(cfg)
			if err != nil {
				return err
			}
			return run(ctx, cfg, logger, ln)
		},
	}
	cmd.Flags().String("config", "", "YAML config file")
	config.BindFlags(cmd.Flags())
	return cmd
}

// loadConfig layers defaults, the --config file and set flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Overlay(cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func listen(cfg config.Config) (transport.Listener, error) {
	if cfg.QUIC {
		return transport.ListenDual(cfg.Listen)
	}
	return transport.ListenTCP(cfg.Listen)
}

// store is a record log the server can own for its lifetime.
type store interface {
	session.Log
	timestamp.Appender
}

// openStore creates the configured backend and returns it with the func
// that releases it on shutdown.
func openStore(cfg config.Config, logger *slog.Logger) (store, func(), error) {
	switch cfg.Backend {
	case config.BackendFile:
		fl, err := filelog.Open(cfg.DataFile,
			filelog.WithTruncate(),
			filelog.WithMaxRecordSize(cfg.MaxRecordSize))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file backend", "path", fl.Path())
		release := func() {
			var err error
			if cfg.RemoveOnExit {
				err = fl.Remove()
			} else {
				err = fl.Close()
			}
			if err != nil {
				logger.Error("release data file", "error", err)
			}
		}
		return fl, release, nil
	default:
		logger.Info("using ring backend", "capacity", cfg.Capacity)
		return ringlog.New(cfg.Capacity, ringlog.WithMaxRecordSize(cfg.MaxRecordSize)), func() {}, nil
	}
}

// run serves ln until ctx is cancelled, alongside the timestamper. It
// returns once every session has finished.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, ln transport.Listener) error {
	log, release, err := openStore(cfg, logger)
	if err != nil {
		ln.Close()
		return err
	}
	defer release()

	srv := server.New(log, server.Config{
		Session: session.Config{
			MaxLineSize: cfg.MaxLineSize,
			ReadTimeout: cfg.ReadTimeout,
		},
		Logger: logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	if cfg.TimestampInterval > 0 {
		ts := timestamp.New(log, timestamp.Config{
			Interval: cfg.TimestampInterval,
			Logger:   logger,
		})
		g.Go(func() error {
			return ts.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
