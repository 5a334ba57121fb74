// Command probed runs the self-evolving research orchestrator's HTTP/SSE
// API server: topic CRUD, strategy/evolution inspection, and the streaming
// ask endpoint (§6).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"probe/internal/config"
	"probe/internal/evolve"
	"probe/internal/httpapi"
	"probe/internal/llm"
	"probe/internal/logging"
	"probe/internal/orchestrator"
	"probe/internal/research"
	"probe/internal/store"
	memstore "probe/internal/store/memory"
	pgstore "probe/internal/store/postgres"
	"probe/internal/strategy"
	"probe/internal/toolcontract"
	"probe/internal/tools/agent"
	"probe/internal/tools/web"
	"probe/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		logging.Log.WithError(err).Fatal("probed")
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		logging.Log.Debug("no .env file loaded")
	}

	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer closeStore()

	knowledge, err := vectorstore.NewKnowledgeStore(ctx, vectorstore.BackendConfig{
		Backend:    cfg.VectorStore.Backend,
		DSN:        cfg.VectorStore.DSN,
		Collection: cfg.VectorStore.Collection,
		Dimensions: cfg.VectorStore.Dimensions,
		Metric:     cfg.VectorStore.Metric,
	})
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}

	provider := llm.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.Endpoint)

	roles := agent.Roles{
		Plan:       cfg.LLM.DefaultModel,
		Evaluate:   cfg.LLM.DefaultModel,
		Extract:    cfg.LLM.DefaultModel,
		Synthesize: cfg.LLM.DefaultModel,
	}

	searchTool := web.NewSearchTool(cfg.WebSearch.SearxngURL, nil)
	contracts := toolcontract.New(
		searchTool,
		&agent.Evaluator{Provider: provider, Model: roles.Evaluate},
		&agent.Extractor{Provider: provider, Model: roles.Extract},
		&agent.Synthesizer{Provider: provider, Model: roles.Synthesize},
		&agent.Planner{Provider: provider, Model: roles.Plan},
		cfg.ToolTimeout.Timeouts(),
	)

	runner := research.NewRunner(contracts, knowledge)
	strategies := strategy.New(stores, cfg.LLM.DefaultModel, time.Now().UnixNano())
	rt := orchestrator.New(stores, strategies, runner, nil)

	modelTier := llm.ModelTier(cfg.LLM.ModelTier)
	if len(modelTier) == 0 {
		modelTier = llm.ModelTier{cfg.LLM.DefaultModel}
	}
	analyzer := evolve.New(stores, strategies, modelTier, cfg.Evolution.MinEpisodes)
	httpapi.WithEvolutionHook(rt, analyzer)

	server := httpapi.NewServer(stores, strategies, rt)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Log.WithField("addr", addr).Info("probed listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newStore resolves cfg.Database into a store.Store plus a cleanup func.
func newStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Database.Backend {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Database.ConnectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		s := pgstore.New(pool)
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("init postgres schema: %w", err)
		}
		return s, func() { pool.Close() }, nil
	case "memory", "":
		return memstore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}
