package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rendis/chatflow/internal/engine"
	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/internal/graph"
	"github.com/rendis/chatflow/internal/httpapi"
	"github.com/rendis/chatflow/internal/llm"
	"github.com/rendis/chatflow/internal/logging"
	"github.com/rendis/chatflow/internal/scheduler"
	"github.com/rendis/chatflow/internal/secrets"
	"github.com/rendis/chatflow/internal/store"
	"github.com/rendis/chatflow/internal/streaming"
	"github.com/rendis/chatflow/internal/validation"
	"github.com/rendis/chatflow/pkg/schema"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	validator, err := validation.NewScenarioValidator()
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	registry := graph.NewStore(validator)
	scenarios := graph.NewService(registry, st)
	if err := scenarios.LoadAll(ctx); err != nil {
		return fmt.Errorf("load scenarios: %w", err)
	}
	if cfg.ScenarioDir != "" {
		if err := loadScenarioDir(ctx, scenarios, cfg.ScenarioDir, logger); err != nil {
			return err
		}
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("build cel engine: %w", err)
	}
	interp := expressions.NewInterpolator()
	jq := expressions.NewGoJQEngine()
	inputs := expressions.NewInputValidator(cfg.Locale, expressions.NewExprEngine(), nil)

	api := engine.NewAPICaller(interp, jq, cfg.apiTimeout())
	if cfg.VaultPassphrase != "" {
		vault, err := secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte("chatflow.vault.v1"),
		})
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		api = api.WithVault(vault)
	}

	var collab llm.Collaborator
	if cfg.LLMAPIKey != "" {
		collab = llm.NewOpenAICollaborator(llm.Config{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
		}, logger)
	} else {
		logger.Warn("no llm api key configured, llm nodes will fail over their onError edge")
	}

	clock := engine.RealClock{}
	hub := streaming.NewMemoryHub()
	manager := engine.NewSessionManager(
		registry,
		st,
		engine.NewSessionFSM(st),
		engine.NewResolver(cel, logger),
		engine.NewExecutor(interp, api, collab, clock, cfg.llmTimeout(), logger),
		inputs,
		clock,
		logger,
		engine.WithEventHub(hub),
	)

	cleaner, err := scheduler.NewScheduler(st, scheduler.Config{
		Schedule: cfg.CleanupSchedule,
		TTL:      cfg.sessionTTL(),
	}, logger)
	if err != nil {
		return err
	}
	if err := cleaner.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = cleaner.Stop() }()

	apiServer := httpapi.NewServer(manager, scenarios, hub, logger).WithEventLog(st)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chatflow listening", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadScenarioDir registers every *.json definition found in dir.
func loadScenarioDir(ctx context.Context, scenarios *graph.Service, dir string, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read scenario dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read scenario %s: %w", path, err)
		}
		var def schema.ScenarioDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("parse scenario %s: %w", path, err)
		}
		if err := scenarios.Put(ctx, &def); err != nil {
			return fmt.Errorf("register scenario %s: %w", path, err)
		}
		logger.Info("scenario loaded", slog.String("id", def.ID), slog.String("path", path))
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
