package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkanis/querymanager/internal/config"
	"github.com/arkanis/querymanager/internal/crypto"
	"github.com/arkanis/querymanager/internal/db"
	"github.com/arkanis/querymanager/internal/hostcache"
	"github.com/arkanis/querymanager/internal/metrics"
	"github.com/arkanis/querymanager/internal/server"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:          "querymanager",
		Short:        "Database frontend for the game, login and web servers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				slog.Info("shutting down", "signal", sig)
				cancel()
			}()

			return run(ctx, configFile)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "config.cfg", "configuration file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	log.Info("query manager starting")

	if err := crypto.SelfTest(); err != nil {
		return fmt.Errorf("password hash self test: %w", err)
	}

	cfg, err := config.Load(configFile, log)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("config loaded", "file", configFile, "port", cfg.Port, "database", cfg.DatabaseFile)

	database, err := db.Open(ctx, cfg.DatabaseFile, cfg.MaxCachedStatements, log)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	hosts := hostcache.New(cfg.MaxCachedHostNames, cfg.HostNameExpireTime, log)

	registry := prometheus.NewRegistry()
	engine := server.New(cfg, database, hosts, metrics.New(registry), log)
	if err := engine.Bind(); err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := engine.Run(gctx); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})
	if cfg.MetricsPort > 0 {
		g.Go(func() error {
			if err := metrics.Serve(gctx, cfg.MetricsPort, registry, log); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
