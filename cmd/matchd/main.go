// Command matchd runs the C7 matching engine: a scheduled incremental
// re-evaluation of companies against open opportunities, with full or
// incremental runs also triggerable on demand over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicit/licita/internal/config"
	"github.com/alicit/licita/internal/embedding"
	"github.com/alicit/licita/internal/httpapi"
	"github.com/alicit/licita/internal/llm"
	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/mapper"
	"github.com/alicit/licita/internal/matching"
	"github.com/alicit/licita/internal/observability"
	"github.com/alicit/licita/internal/persistence"
)

var log = logging.WithComponent("matchd")

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	addr := flag.String("addr", ":8082", "HTTP listen address")
	runInterval := flag.Duration("run-interval", time.Hour, "interval between scheduled matching runs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Init(ctx, cfg.OTel)
	if err != nil {
		log.WithError(err).Warn("observability init failed, continuing without tracing/metrics")
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	mappers := mapper.NewRegistry()
	mappers.Register(mapper.NewRESTMapper(cfg.Providers.REST.Name))
	mappers.Register(mapper.NewScrapeMapper(cfg.Providers.Scrape.Name))

	store := persistence.New(ctx, cfg.Database, mappers)

	embeddings := embedding.NewService(cfg.Embedding, store)

	var validator *llm.Validator
	if cfg.Matching.EnableLLMValidation && cfg.LLM.APIKey != "" {
		provider, err := llm.Build(ctx, cfg.LLM)
		if err != nil {
			log.WithError(err).Warn("failed to build LLM provider, disabling LLM validation gate")
		} else {
			validator = llm.NewValidator(provider)
		}
	}

	engine := matching.New(store, embeddings, validator, matching.Config{
		VectorThreshold:     cfg.Matching.VectorThreshold,
		EnableLLMValidation: validator != nil,
	})

	windowDays := cfg.Matching.IncrementalWindowDays
	if windowDays <= 0 {
		windowDays = 7
	}
	window := time.Duration(windowDays) * 24 * time.Hour

	go runMatchLoop(ctx, engine, cfg, window, *runInterval)

	mux := http.NewServeMux()
	registerRoutes(mux, engine, window)
	handler := observability.AccessLog(mux)

	server := &http.Server{Addr: *addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", *addr).Info("matchd listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("matchd server failed")
	}
}

func registerRoutes(mux *http.ServeMux, engine *matching.Engine, window time.Duration) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("POST /matching/run", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Mode     string `json:"mode"` // "full" | "incremental"
			Provider string `json:"provider"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpapi.RespondError(w, http.StatusBadRequest, err)
				return
			}
		}
		summary, err := runMode(r.Context(), engine, req.Mode, req.Provider, window)
		if err != nil {
			httpapi.RespondError(w, http.StatusBadGateway, err)
			return
		}
		httpapi.RespondJSON(w, http.StatusOK, summary)
	})
}

func runMode(ctx context.Context, engine *matching.Engine, mode, provider string, window time.Duration) (matching.Summary, error) {
	if mode == "incremental" {
		return engine.RunIncremental(ctx, provider, window)
	}
	return engine.RunFull(ctx, provider)
}

// runMatchLoop schedules periodic incremental re-evaluation; a full
// clear-and-reevaluate run is left to the on-demand HTTP endpoint since
// it is too disruptive to run unattended on a fixed interval.
func runMatchLoop(ctx context.Context, engine *matching.Engine, cfg *config.Config, window, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := engine.RunIncremental(ctx, cfg.Providers.REST.Name, window)
			if err != nil {
				log.WithError(err).Warn("scheduled incremental matching run failed")
				continue
			}
			log.WithField("matches_saved", summary.MatchesSaved).
				WithField("candidates_above_threshold", summary.CandidatesAboveThreshold).
				WithField("llm_rejected", summary.LLMRejected).
				Info("scheduled matching run completed")

			summary, err = engine.RunIncremental(ctx, cfg.Providers.Scrape.Name, window)
			if err != nil {
				log.WithError(err).Warn("scheduled incremental matching run failed")
				continue
			}
			log.WithField("matches_saved", summary.MatchesSaved).
				WithField("candidates_above_threshold", summary.CandidatesAboveThreshold).
				WithField("llm_rejected", summary.LLMRejected).
				Info("scheduled matching run completed")
		}
	}
}
