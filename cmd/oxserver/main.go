package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/oxlabs/ox-webservice/internal/config"
	"github.com/oxlabs/ox-webservice/internal/matcher"
	"github.com/oxlabs/ox-webservice/internal/metrics"
	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/module/wasmhost"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
	"github.com/oxlabs/ox-webservice/internal/registration"
	"github.com/oxlabs/ox-webservice/internal/server"
	"github.com/oxlabs/ox-webservice/internal/telemetry"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var (
		configPath   = flag.String("config", config.DefaultPath, "path to the server configuration")
		moduleNames  = flag.String("modules", "", "comma-separated module names to load (default: all configured)")
		moduleParams stringList
	)
	flag.Var(&moduleParams, "module-params", "module:key=value parameter override, repeatable")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	if *moduleNames != "" {
		if err := cfg.FilterModules(strings.Split(*moduleNames, ",")); err != nil {
			log.Fatalf("configuration error: %v", err)
		}
	}
	for _, p := range moduleParams {
		if err := cfg.ApplyModuleParam(p); err != nil {
			log.Fatalf("configuration error: %v", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	tracerShutdown, err := telemetry.InitTracer("ox-webservice", logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("tracer shutdown failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(cfg.Metrics.Enabled, pipeline.PhaseNames())
	registry := module.NewRegistry(logger, m)
	if err := registration.RegisterBuiltins(registry); err != nil {
		log.Fatalf("failed to register built-in modules: %v", err)
	}

	wasm, err := wasmhost.New(ctx, logger, registry)
	if err != nil {
		log.Fatalf("failed to initialize module runtime: %v", err)
	}
	defer wasm.Close(context.Background())
	registry.SetDynamicLoader(wasm)

	// Load failures drop the module but keep the server; they are
	// already logged by the registry.
	registry.Load(ctx, definitions(cfg.Modules))
	defer registry.Close()

	renderer, err := registration.NewRenderer(cfg.ErrorHandler.Name, cfg.ErrorHandler.Params, logger)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	exec := pipeline.NewExecutor(pipeline.ExecutorConfig{
		Modules:  registry.Modules(),
		Renderer: renderer,
		Logger:   logger,
		Metrics:  m,
	})

	srv, err := server.New(cfg, exec, m, logger)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", fmt.Sprint(sig))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// definitions converts the configuration into loader definitions.
func definitions(mods []config.Module) []module.Definition {
	defs := make([]module.Definition, 0, len(mods))
	for _, mc := range mods {
		specs := make([]matcher.Spec, 0, len(mc.Matchers))
		for _, ms := range mc.Matchers {
			specs = append(specs, matcher.Spec{
				Protocol: ms.Protocol,
				Hostname: ms.Hostname,
				Path:     ms.Path,
				Headers:  ms.Headers,
				Query:    ms.Query,
				Status:   ms.Status,
			})
		}
		defs = append(defs, module.Definition{
			Name:       mc.Name,
			ID:         mc.ID,
			Path:       mc.Path,
			Phase:      mc.Phase,
			Priority:   mc.Priority,
			Params:     mc.Params,
			Matchers:   specs,
			ErrorPhase: mc.ErrorPhase,
		})
	}
	return defs
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
