package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/propfolio/researchd/internal/agent"
	"github.com/propfolio/researchd/internal/artifacts"
	"github.com/propfolio/researchd/internal/auth"
	"github.com/propfolio/researchd/internal/channel"
	"github.com/propfolio/researchd/internal/config"
	"github.com/propfolio/researchd/internal/credits"
	"github.com/propfolio/researchd/internal/dispatch"
	"github.com/propfolio/researchd/internal/gateway"
	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/internal/sessions"
	"github.com/propfolio/researchd/internal/storage"
	"github.com/propfolio/researchd/internal/supervisor"
	"github.com/propfolio/researchd/internal/tools"
	"github.com/propfolio/researchd/internal/usage"
	"github.com/propfolio/researchd/internal/usersessions"
	"github.com/propfolio/researchd/pkg/models"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the research session server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	persist, err := storage.Open(cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer persist.Close()

	store := sessions.New(persist, logger, metrics)
	defer store.Close()

	users := usersessions.New(persist, cfg.Session.IdleTimeout, logger)
	defer users.Close()

	ledger := credits.New(persist, logger, metrics)

	interactions, err := dispatch.NewInteractionLog(cfg.LLM.InteractionLogDir, cfg.LLM.VerboseLogging, logger)
	if err != nil {
		return err
	}
	tracker := usage.NewTracker()
	dispatcher := dispatch.NewDispatcher(dispatch.Options{
		Providers: []dispatch.Provider{
			dispatch.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey, cfg.LLM.AnthropicBaseURL),
			dispatch.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL),
		},
		Retries:      cfg.LLM.Retries,
		CallTimeout:  cfg.LLM.CallTimeout,
		Interactions: interactions,
		Tracker:      tracker,
		Logger:       logger,
		Metrics:      metrics,
	})

	registry, err := buildCatalog(cfg, persist, logger)
	if err != nil {
		return err
	}
	invoker := tools.NewInvoker(registry, ledger, cfg.Session.ToolTimeout, logger, metrics)

	hub := channel.NewHub(cfg.Channel.SubscriberBuffer, metrics)

	// The supervisor and driver reference each other: the driver polls the
	// supervisor's interrupt flag, the supervisor spawns driver loops. The
	// closure breaks the construction cycle; no loop starts before the
	// supervisor exists.
	var sup *supervisor.Supervisor
	driver, err := agent.New(store, dispatcher, invoker, registry, hub, agent.Options{
		Models:      cfg.LLM.Models,
		Interrupted: func(id string) bool { return sup.InterruptRequested(id) },
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}
	sup = supervisor.New(store, driver, hub, 0, logger, metrics)
	defer sup.Close()

	if err := sup.Reconcile(ctx, persist); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	var jwt *auth.JWTService
	if cfg.Auth.Enabled {
		jwt = auth.NewJWTService(cfg.Auth.JWTSecret, 0)
	}

	defaults := models.SessionConfig{
		TimeLimit:             cfg.Session.TimeLimit,
		MaxConversationLength: cfg.Session.MaxConversationLength,
		PreserveExchanges:     cfg.Session.PreserveExchanges,
		TokenBudget:           cfg.Session.TokenBudget,
	}
	intake := gateway.NewIntake(store, sup, hub, users, defaults, logger)
	ws := channel.NewServer(hub, intake, channel.Config{
		HeartbeatInterval: cfg.Channel.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Channel.HeartbeatTimeout,
	}, logger)

	server := gateway.NewServer(cfg.Server, store, intake, ws, jwt, logger)
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "researchd started", "addr", server.Addr(), "models", cfg.LLM.Models)
	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")
	return server.Shutdown(context.Background())
}

// buildCatalog wires the tool families whose external capabilities are
// configured. Collections and documents always work, backed by sqlite; web
// and media depend on credentials.
func buildCatalog(cfg *config.Config, persist *storage.Store, logger *observability.Logger) (*tools.Registry, error) {
	repo, err := artifacts.NewSQLRepository(persist.DB())
	if err != nil {
		return nil, err
	}

	caps := tools.Capabilities{
		Collections: repo,
		Documents:   repo,
	}
	if cfg.Tools.BraveAPIKey != "" {
		caps.Web = tools.NewBraveClient(cfg.Tools.BraveAPIKey)
	} else if logger != nil {
		logger.Warn(context.Background(), "web tools disabled: no brave api key")
	}
	if cfg.Tools.MediaServiceURL != "" {
		caps.Media = tools.NewMediaServiceClient(cfg.Tools.MediaServiceURL, cfg.Tools.MediaServiceAPIKey)
	} else if logger != nil {
		logger.Warn(context.Background(), "media tools disabled: no media service url")
	}
	return tools.NewCatalog(caps), nil
}
