package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openswarm-dev/swarmgate/internal/bus"
	"github.com/openswarm-dev/swarmgate/internal/config"
	"github.com/openswarm-dev/swarmgate/internal/gateway"
	"github.com/openswarm-dev/swarmgate/internal/providers"
	"github.com/openswarm-dev/swarmgate/internal/store"
	"github.com/openswarm-dev/swarmgate/internal/swarm"
	"github.com/openswarm-dev/swarmgate/internal/telemetry"
	"github.com/openswarm-dev/swarmgate/internal/tools"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway server",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(flushCtx)
	}()

	st, err := store.Open(cfg.Storage, slog.Default())
	if err != nil {
		slog.Error("failed to open agent store", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}

	msgBus := bus.New()
	reg := swarm.NewRegistry(st, msgBus, slog.Default())
	if err := reg.Load(ctx); err != nil {
		slog.Error("failed to load agents", "error", err)
		os.Exit(1)
	}

	dispatcher := tools.NewDispatcher(config.ExpandHome(cfg.Swarm.ProjectsRoot))
	keys := providers.FallbackKeys{
		Anthropic: cfg.Providers.AnthropicAPIKey,
		OpenAI:    cfg.Providers.OpenAIAPIKey,
	}
	retry := providers.RetryConfig{
		MaxRetries: cfg.Providers.MaxRetries,
		BaseDelay:  cfg.Providers.RetryBaseDelay(),
	}
	eng := swarm.NewEngine(reg, msgBus, dispatcher, keys, retry, swarm.Options{
		MaxDepth:      cfg.Swarm.MaxDepth,
		HistoryWindow: cfg.Swarm.HistoryWindow,
		Log:           slog.Default(),
	})

	srv := gateway.NewServer(cfg, msgBus, reg, eng)
	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}
