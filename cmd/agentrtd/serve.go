package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/streamforge/agentrt/internal/clock"
	"github.com/streamforge/agentrt/internal/codemode"
	"github.com/streamforge/agentrt/internal/config"
	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
	"github.com/streamforge/agentrt/internal/httpapi"
	"github.com/streamforge/agentrt/internal/llmloop"
	"github.com/streamforge/agentrt/internal/logging"
	"github.com/streamforge/agentrt/internal/processor"
	"github.com/streamforge/agentrt/internal/streammanager"
)

// runServe wires every component together: FileStore + MemHub underneath a
// streammanager.Manager, one ProcessorFactory per concrete processor, and
// internal/httpapi's router in front, following the teacher's own
// cmd/looms serve command's load-config -> build-logger -> build-server ->
// wait-for-signal shape (cmd_serve.go).
func runServe(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		v.Set("port", port)
	}

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("agentrtd: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("agentrtd: invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("agentrtd: build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("config file loaded", zap.String("path", used))
	} else {
		logger.Info("no config file found, using defaults and environment")
	}

	store, err := eventlog.NewFileStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("agentrtd: open data dir: %w", err)
	}
	hub := eventstream.NewMemHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := buildLanguageModel(cfg.LanguageModel)

	mgr := streammanager.New(ctx, store, hub,
		llmLoopFactory(cfg, model, logger),
		codemodeFactory(logger),
		clockFactory(cfg, logger),
	)
	defer mgr.Shutdown()

	srv := httpapi.New(mgr, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		errc <- httpServer.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("agentrtd: http server: %w", err)
		}
	case sig := <-sigc:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	return nil
}

func llmLoopFactory(cfg *config.Config, model llmloop.LanguageModel, logger *zap.Logger) streammanager.ProcessorFactory {
	return func(ctx context.Context, s *eventstream.Stream) {
		def := llmloop.New(llmloop.Config{
			ModelName: cfg.LanguageModel.Model,
			Model:     model,
			Quiet:     cfg.LLMDebounce.Quiet,
			MaxWait:   cfg.LLMDebounce.MaxWait,
			Logger:    logger,
		})
		go processor.Supervise(ctx, s, def)
	}
}

func codemodeFactory(logger *zap.Logger) streammanager.ProcessorFactory {
	return func(ctx context.Context, s *eventstream.Stream) {
		def := codemode.New(codemode.Config{
			Capabilities: func() codemode.Capabilities { return codemode.DefaultCapabilities(nil) },
			Logger:       logger,
		})
		go processor.Supervise(ctx, s, def)
	}
}

func clockFactory(cfg *config.Config, logger *zap.Logger) streammanager.ProcessorFactory {
	return func(ctx context.Context, s *eventstream.Stream) {
		def := clock.New(clock.Config{
			Interval: time.Duration(cfg.ClockIntervalSeconds) * time.Second,
			Logger:   logger,
		})
		go processor.Supervise(ctx, s, def)
	}
}

// buildLanguageModel resolves the opaque languageModel config into a
// concrete adapter (spec.md §4.5, §6): the provider/credentials fields are
// meaningless to the core beyond this single switch.
func buildLanguageModel(cfg config.LanguageModelConfig) llmloop.LanguageModel {
	switch cfg.Provider {
	case "openai":
		return llmloop.NewOpenAIModelFromAPIKey(cfg.Credentials, cfg.Model)
	default:
		return llmloop.NewAnthropicModelFromAPIKey(cfg.Credentials, cfg.Model)
	}
}
