package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/adapters/github"
	"github.com/pkonate/teampulse/internal/adapters/jira"
	"github.com/pkonate/teampulse/internal/agent"
	"github.com/pkonate/teampulse/internal/api"
	"github.com/pkonate/teampulse/internal/cache"
	"github.com/pkonate/teampulse/internal/catalog"
	"github.com/pkonate/teampulse/internal/compose"
	"github.com/pkonate/teampulse/internal/config"
	"github.com/pkonate/teampulse/internal/dispatch"
	"github.com/pkonate/teampulse/internal/fallback"
	"github.com/pkonate/teampulse/internal/intent"
	"github.com/pkonate/teampulse/internal/llm"
	"github.com/pkonate/teampulse/internal/memory"
	"github.com/pkonate/teampulse/internal/roster"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

func main() {
	flag.Parse()

	if len(flag.Args()) > 0 && flag.Args()[0] == "version" {
		fmt.Printf("TeamPulse version %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, err := memory.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()

	readCache, err := cache.Open(cfg.Storage.BadgerPath, cfg.CacheTTL())
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer readCache.Close()

	jiraClient := jira.New(cfg.Jira, readCache, logger)
	githubClient := github.New(cfg.GitHub, readCache, logger)

	registry := catalog.New()
	if err := jira.Register(registry, jiraClient); err != nil {
		return fmt.Errorf("failed to register tracker capabilities: %w", err)
	}
	if err := github.Register(registry, githubClient); err != nil {
		return fmt.Errorf("failed to register source host capabilities: %w", err)
	}
	logger.Info("capability catalog ready",
		zap.Int("capabilities", len(registry.Descriptors())),
		zap.Strings("tools", registry.Tools()),
	)

	team, err := buildRoster(cfg, jiraClient, githubClient, logger)
	if err != nil {
		return err
	}
	defer team.Stop()

	gateway := llm.NewManager(logger, cfg.LLM.RequestsPerMin)
	priority := 0
	if p, err := cfg.DefaultProvider(); err == nil {
		gateway.AddProvider(cfg.LLM.DefaultProvider, llm.NewClient(p), priority)
		priority++
	}
	for name, p := range cfg.LLM.Providers {
		if name == cfg.LLM.DefaultProvider || p.APIKey == "" {
			continue
		}
		gateway.AddProvider(name, llm.NewClient(p), priority)
		priority++
	}

	parser := intent.NewParser(gateway, registry, cfg.Agent.ParseRetries, cfg.Agent.HistoryWindow, logger)
	dispatcher := dispatch.New(registry, cfg.OperationTimeout(), logger)
	fb := fallback.New(gateway, dispatcher, registry, cfg.Agent.FallbackMaxSteps, cfg.Agent.FallbackMaxInvalid, logger)
	composer := compose.New(gateway, logger)
	pipeline := agent.New(store, parser, dispatcher, fb, composer, team, cfg.Agent.HistoryWindow, logger)

	server := api.New(cfg, store, pipeline, registry, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", cfg.Server.Address),
			zap.Int("port", cfg.Server.Port),
		)
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		return server.Shutdown()
	}
}

func buildRoster(cfg *config.Config, jiraClient *jira.Client, githubClient *github.Client, logger *zap.Logger) (*roster.Roster, error) {
	snap := roster.Snapshot{}
	if cfg.Roster.Path != "" {
		loaded, err := roster.LoadFile(cfg.Roster.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load roster: %w", err)
		}
		snap = loaded
	} else {
		logger.Warn("no roster file configured, member resolution will rely on live lookups")
	}

	team := roster.New(snap, logger)

	projects := func(ctx context.Context) ([]string, error) { return jiraClient.ProjectKeys(ctx) }
	repositories := func(ctx context.Context) ([]string, error) { return githubClient.RepositoryNames(ctx) }

	if err := team.StartRefresh(cfg.Roster.RefreshSpec, projects, repositories); err != nil {
		return nil, err
	}

	// Warm the project and repository lists so the first prompt is complete.
	if cfg.Jira.BaseURL != "" || cfg.GitHub.Token != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		team.Refresh(ctx, projects, repositories)
	}

	return team, nil
}
