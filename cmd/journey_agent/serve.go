package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/career-journey/internal/server"
	"github.com/jonathan/career-journey/internal/server/ratelimit"
)

func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Long:  "Start an HTTP server that exposes the journey actions, progress and artifact endpoints.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			a.log.Info("starting journey server",
				"addr", cfg.ListenAddr,
				"store", cfg.StoreBackend,
				"lock", cfg.LockBackend,
				"provider", cfg.LLMProvider,
			)
			srv := server.New(server.Config{
				Addr:         cfg.ListenAddr,
				RateLimit:    ratelimit.LoadConfig(os.Getenv, cfg.GenerationRate),
				WriteTimeout: cfg.RoadmapTimeout.Std() + cfg.StoreTimeout.Std(),
			}, a.service, a.log)
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides listen_addr (e.g. :8080)")
	return cmd
}

// commandContext returns cmd's context, or Background when the command runs
// outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
