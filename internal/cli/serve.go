package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/authz"
	"github.com/parleyhq/parley/internal/cache"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/orchestrator"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Session store (SQLite or in-memory)
			var sessions store.SessionStore
			var db *store.DB
			if cfg.Store.Driver == "sqlite" {
				db, err = store.Open(cfg.Store.Path, log)
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer db.Close()
				sessions = store.NewSQLiteSessionStore(db)
				log.Info().Str("path", cfg.Store.Path).Msg("using SQLite session store")
			} else {
				sessions = store.NewMemorySessionStore()
				log.Info().Msg("using in-memory session store")
			}

			// Response cache
			var responseCache cache.Cache = cache.Noop{}
			if cfg.Cache.Enabled {
				responseCache = cache.NewMemory(time.Duration(cfg.Cache.TTLMinutes) * time.Minute)
				log.Info().Int("ttlMinutes", cfg.Cache.TTLMinutes).Msg("response cache enabled")
			}

			// Generation provider
			var client llm.Client
			switch cfg.LLM.Provider {
			case "mock":
				client = &llm.MockClient{}
			default:
				client = llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
			}
			log.Info().Str("provider", client.Name()).Str("model", cfg.LLM.Model).Msg("generation provider ready")

			// Tool registry: sandboxed filesystem plus reference retrieval
			// when a reference text and SQLite index are available.
			registry := tools.NewRegistry()
			sandbox, err := tools.NewSandbox(cfg.Workspace.Root)
			if err != nil {
				return fmt.Errorf("creating workspace sandbox: %w", err)
			}
			for _, t := range tools.FSTools(sandbox) {
				registry.Register(t)
			}
			if cfg.Reference.Path != "" && db != nil {
				index := store.NewReferenceIndex(db)
				n, err := index.LoadFile(ctx, cfg.Reference.Path)
				if err != nil {
					return fmt.Errorf("indexing reference text: %w", err)
				}
				registry.Register(tools.NewReferenceLookup(index))
				log.Info().Str("path", cfg.Reference.Path).Int("passages", n).Msg("reference index loaded")
			}

			// Orchestration pipeline
			resolver := orchestrator.NewResolver(sessions, log)
			runner := orchestrator.NewRunner(client, resolver, responseCache, registry, orchestrator.RunnerConfig{
				Model:        cfg.LLM.Model,
				MaxTokens:    cfg.LLM.MaxTokens,
				MaxToolSteps: cfg.Generation.MaxToolSteps,
				CallTimeout:  time.Duration(cfg.Generation.CallTimeoutSeconds) * time.Second,
				ToolTimeout:  time.Duration(cfg.Generation.ToolTimeoutSeconds) * time.Second,
				Persona:      cfg.Generation.Persona,
			}, log)
			svc := orchestrator.NewService(sessions, resolver, authz.NewGuard(log), responseCache, runner, log)

			return gateway.New(cfg.Server, svc, log).Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan)")

	return cmd
}
