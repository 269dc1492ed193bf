package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jonathan/career-journey/internal/config"
	"github.com/jonathan/career-journey/internal/db"
	"github.com/jonathan/career-journey/internal/generators"
	"github.com/jonathan/career-journey/internal/genlock"
	"github.com/jonathan/career-journey/internal/journey"
	"github.com/jonathan/career-journey/internal/llm"
	"github.com/jonathan/career-journey/internal/logging"
	"github.com/jonathan/career-journey/internal/orchestrator"
	"github.com/jonathan/career-journey/internal/sqlitedb"
	"github.com/jonathan/career-journey/internal/store"
)

// app holds the wired dependencies for one command invocation.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	store   store.Store
	service *journey.Service
	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.log.Sync()
	return errors.Join(errs...)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newApp connects the configured store and lock. Generators are only built
// when withGenerators is set; read-only commands do not need an API key.
func newApp(ctx context.Context, cfg *config.Config, withGenerators bool) (*app, error) {
	log, err := logging.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	lock, err := a.openLock(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var gens journey.Generators
	if withGenerators {
		gens, err = a.openGenerators(ctx)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	opts := orchestrator.DefaultOptions()
	opts.Timeouts = cfg.Timeouts()
	opts.StoreTimeout = cfg.StoreTimeout.Std()
	orch := orchestrator.New(a.store, lock, opts, log)

	a.service = journey.NewService(a.store, orch, gens, log)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	case config.StoreSQLite:
		return sqlitedb.Open(ctx, cfg.SQLitePath)
	default:
		return store.NewMemory(), nil
	}
}

func (a *app) openLock(ctx context.Context) (genlock.Lock, error) {
	if a.cfg.LockBackend != config.LockRedis {
		return genlock.NewLocal(a.log), nil
	}
	rdb, err := genlock.ConnectRedis(ctx, a.cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	return genlock.NewRedis(rdb, genlock.RedisOptions{Prefix: a.cfg.RedisPrefix}, a.log), nil
}

func (a *app) openGenerators(ctx context.Context) (journey.Generators, error) {
	if a.cfg.LLMProvider == config.ProviderDryRun {
		a.log.Warn("dry run enabled, serving canned artifacts")
		return generators.DryRun{}, nil
	}

	apiKey := a.cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("an API key is required for the %s provider", a.cfg.LLMProvider)
	}
	model := a.cfg.GeminiModel
	if a.cfg.LLMProvider == config.ProviderOpenAI {
		model = a.cfg.OpenAIModel
	}
	client, err := llm.NewClient(ctx, llm.ConfigFor(llm.Provider(a.cfg.LLMProvider), model, a.cfg.OpenAIBaseURL), apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return generators.New(client, a.log), nil
}
