// Thrombocalc - Thrombophilia decision support that deploys in 60 seconds.
// Copyright (c) 2025 clinical-go
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/clinical-go/thrombocalc/internal/api"
	"github.com/clinical-go/thrombocalc/internal/bus"
	"github.com/clinical-go/thrombocalc/internal/cache"
	"github.com/clinical-go/thrombocalc/internal/catalog"
	"github.com/clinical-go/thrombocalc/internal/consult"
	"github.com/clinical-go/thrombocalc/internal/domain"
	"github.com/clinical-go/thrombocalc/internal/eligibility"
	"github.com/clinical-go/thrombocalc/internal/repository"
	"github.com/clinical-go/thrombocalc/internal/search"
	"github.com/clinical-go/thrombocalc/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("THROMBOCALC_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting thrombocalc",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("THROMBOCALC_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Load the embedded recommendation catalog. Every record is
	// validated here; a malformed catalog is a build defect.
	cat, err := catalog.Load()
	if err != nil {
		slog.Error("failed to load recommendation catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog loaded", "records", cat.Len())

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize search engine over the catalog
	searchEngine := search.New(cat.All())
	slog.Info("search engine initialized", "records", cat.Len())

	// Initialize eligibility engine
	eligEngine, err := eligibility.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize eligibility engine", "error", err)
		os.Exit(1)
	}

	// Load eligibility rules from database (no hardcoded defaults -
	// configure via API)
	if err := loadEligibilityRules(ctx, repo, eligEngine); err != nil {
		slog.Error("failed to load eligibility rules", "error", err)
		os.Exit(1)
	}
	slog.Info("eligibility engine initialized", "rules_count", eligEngine.RulesCount())

	// Initialize consult processor
	processor := consult.NewProcessor()
	slog.Info("consult processor initialized", "engine_version", consult.EngineVersion)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("THROMBOCALC_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cat, processor)

		// Get clinic IDs to process (from environment or default)
		var clinicIDs []string
		if envClinics := os.Getenv("THROMBOCALC_CLINICS"); envClinics != "" {
			for _, id := range strings.Split(envClinics, ",") {
				if id = strings.TrimSpace(id); id != "" {
					clinicIDs = append(clinicIDs, id)
				}
			}
		}

		workerCfg := worker.Config{
			ClinicIDs:   clinicIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "clinic_count", len(clinicIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, cat, searchEngine, eligEngine, processor, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("thrombocalc is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version, cat.Len())

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("thrombocalc shutdown complete")
}

// loadEligibilityRules loads rules from the database into the engine.
// All rules must be configured via POST /eligibility - no hardcoded defaults.
func loadEligibilityRules(ctx context.Context, repo domain.Repository, engine *eligibility.Engine) error {
	dbRules, err := repo.ListEligibilityRules(ctx, api.GlobalClinicID)
	if err != nil {
		slog.Warn("failed to list eligibility rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading eligibility rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no eligibility rules in database - configure via POST /eligibility")
	return nil
}

func printBanner(cfg *domain.Config, version string, records int) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║             🩸 THROMBOCALC                ║")
	fmt.Println("  ║   Thrombophilia Decision Support Engine   ║")
	fmt.Println("  ║     Numbers behind every guideline.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Catalog:  %d recommendations\n", records)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /search                         - Free-text catalog search")
	fmt.Println("    GET  /recommendations                - List recommendations")
	fmt.Println("    GET  /recommendations/{id}           - Get recommendation by ID")
	fmt.Println("    POST /recommendations/{id}/evaluate  - Evaluate thresholds")
	fmt.Println("    GET  /consults/{id}                  - Get consult by ID")
	fmt.Println("    GET  /agreement                      - Catalog-wide agreement report")
	fmt.Println("    GET  /eligibility                    - List eligibility rules")
	fmt.Println("    POST /eligibility                    - Create an eligibility rule")
	fmt.Println("    POST /eligibility/reload             - Hot-reload rules from database")
	fmt.Println("    POST /eligibility/evaluate           - Evaluate a patient context")
	fmt.Println("    GET  /health                         - Health check")
	fmt.Println()
}
