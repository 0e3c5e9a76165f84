// Command sk-server starts the sync-keeper gRPC server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/credentials"

	"github.com/and161185/sync-keeper/internal/config"
	"github.com/and161185/sync-keeper/internal/logging"
	"github.com/and161185/sync-keeper/internal/migrate"
	"github.com/and161185/sync-keeper/internal/repository"
	"github.com/and161185/sync-keeper/internal/repository/postgres"
	"github.com/and161185/sync-keeper/internal/repository/sqlite"
	grpcserver "github.com/and161185/sync-keeper/internal/server/grpc"
	"github.com/and161185/sync-keeper/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "sk-server",
		Short:         "Serve the sync-keeper entry store over gRPC",
		Version:       version + " (" + buildDate + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, cfg, err := config.Load(cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), v, cfg, nil)
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./synckeeper.yaml if present)")
	config.BindFlags(cmd.Flags())
	return cmd
}

// run serves until ctx is done. A non-nil ready receives the bound address.
func run(ctx context.Context, v *viper.Viper, cfg config.Config, ready chan<- net.Addr) error {
	logger, level, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	if v != nil {
		config.Watch(v, func(next config.Config) {
			if err := logging.SetLevel(level, next.Log.Level); err != nil {
				logger.Warn("config reload: log level", zap.Error(err))
				return
			}
			logger.Info("config reloaded", zap.String("log_level", level.String()))
		}, func(err error) {
			logger.Warn("config reload", zap.Error(err))
		})
	}

	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepo(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	syncSvc, err := service.NewSyncService(repo, storeCfg, cfg.MaxBatch, logger)
	if err != nil {
		return err
	}
	tokens := service.NewTokenService([]byte(cfg.JWTKey), cfg.AccessTTL)

	opts := grpcserver.Options{
		Log:            logger,
		Reflection:     cfg.Dev,
		MaxRecvMsgSize: cfg.MaxRecvMB << 20,
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts.Creds = creds
	}
	gs, hs := grpcserver.NewGRPCServer(grpcserver.New(syncSvc, tokens), tokens, opts)

	lis, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	if ready != nil {
		ready <- lis.Addr()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", lis.Addr().String()), zap.Bool("tls", opts.Creds != nil))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()

		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop timed out")
			gs.Stop()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// openRepo connects the configured backend. The memory backend returns a nil
// repository.
func openRepo(ctx context.Context, cfg config.Config, logger *zap.Logger) (repository.EntryRepository, func(), error) {
	kind, target, err := cfg.Backend()
	if err != nil {
		return nil, nil, err
	}
	switch kind {
	case config.BackendMemory:
		logger.Warn("no store configured, entries are kept in memory")
		return nil, func() {}, nil
	case config.BackendPostgres:
		if err := migrate.Up(ctx, target); err != nil {
			return nil, nil, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("store", zap.String("backend", kind))
		return postgres.NewEntryRepo(db), db.Close, nil
	case config.BackendSQLite:
		r, err := sqlite.Open(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("store", zap.String("backend", kind), zap.String("path", target))
		return r, func() { _ = r.Close() }, nil
	}
	return nil, nil, errors.New("unreachable backend " + kind)
}
