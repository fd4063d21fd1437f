// Command ingestd exposes the unified search surface (C1, C2, C3, C4)
// over HTTP and periodically pulls fresh opportunities from every
// registered provider into persistence.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alicit/licita/internal/cache"
	"github.com/alicit/licita/internal/config"
	"github.com/alicit/licita/internal/httpapi"
	"github.com/alicit/licita/internal/llm"
	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/mapper"
	"github.com/alicit/licita/internal/observability"
	"github.com/alicit/licita/internal/opportunity"
	"github.com/alicit/licita/internal/persistence"
	"github.com/alicit/licita/internal/providers"
	"github.com/alicit/licita/internal/providers/rest"
	"github.com/alicit/licita/internal/providers/scrape"
	"github.com/alicit/licita/internal/search"
	"github.com/alicit/licita/internal/synonym"
)

var log = logging.WithComponent("ingestd")

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	addr := flag.String("addr", ":8081", "HTTP listen address")
	ingestInterval := flag.Duration("ingest-interval", 15*time.Minute, "interval between background ingestion runs")
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
	cacheImpl := cache.New(cfg.Cache)

	registry := providers.NewRegistry()
	registry.Register(rest.New(cfg.Providers.REST, cacheImpl))
	registry.Register(scrape.New(cfg.Providers.Scrape, cacheImpl))

	var synonyms *synonym.Service
	if cfg.LLM.APIKey != "" {
		provider, err := llm.Build(ctx, cfg.LLM)
		if err != nil {
			log.WithError(err).Warn("failed to build LLM provider, synonym expansion disabled")
		} else {
			synonyms = synonym.New(provider)
		}
	}

	searchService := search.New(registry, synonyms)

	go runIngestLoop(ctx, searchService, store, *ingestInterval)

	mux := http.NewServeMux()
	registerRoutes(mux, searchService, registry)
	handler := observability.AccessLog(mux)

	server := &http.Server{Addr: *addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", *addr).Info("ingestd listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("ingestd server failed")
	}
}

func registerRoutes(mux *http.ServeMux, searchService *search.Service, registry *providers.Registry) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("GET /search", func(w http.ResponseWriter, r *http.Request) {
		opps, err := searchService.SearchCombined(r.Context(), filtersFromQuery(r))
		if err != nil {
			httpapi.RespondError(w, http.StatusBadGateway, err)
			return
		}
		httpapi.RespondJSON(w, http.StatusOK, map[string]any{
			"opportunities": opps,
			"total":         len(opps),
		})
	})

	mux.HandleFunc("GET /search/{provider}", func(w http.ResponseWriter, r *http.Request) {
		opps, err := searchService.SearchOne(r.Context(), r.PathValue("provider"), filtersFromQuery(r))
		if err != nil {
			httpapi.RespondError(w, http.StatusBadRequest, err)
			return
		}
		httpapi.RespondJSON(w, http.StatusOK, map[string]any{
			"opportunities": opps,
			"total":         len(opps),
		})
	})

	mux.HandleFunc("GET /providers/stats", func(w http.ResponseWriter, r *http.Request) {
		httpapi.RespondJSON(w, http.StatusOK, searchService.ProviderStatuses())
	})

	itemsHandler := func(refresh bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			providerName := r.URL.Query().Get("provider")
			externalID := r.URL.Query().Get("external_id")
			adapter, ok := registry.Get(providerName)
			if !ok {
				httpapi.RespondError(w, http.StatusBadRequest, fmt.Errorf("unknown provider %q", providerName))
				return
			}
			items, err := adapter.GetItems(r.Context(), externalID)
			if err != nil {
				httpapi.RespondError(w, http.StatusBadGateway, err)
				return
			}
			httpapi.RespondJSON(w, http.StatusOK, map[string]any{"items": items, "refreshed": refresh})
		}
	}
	mux.HandleFunc("GET /items", itemsHandler(false))
	mux.HandleFunc("GET /items/refresh", itemsHandler(true))
}

func filtersFromQuery(r *http.Request) opportunity.Filters {
	q := r.URL.Query()
	f := opportunity.Filters{
		Keywords:     q.Get("keywords"),
		RegionCode:   q.Get("region_code"),
		CountryCode:  q.Get("country_code"),
		CurrencyCode: q.Get("currency_code"),
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		f.Page = v
	}
	if v, err := strconv.Atoi(q.Get("page_size")); err == nil {
		f.PageSize = v
	}
	if v, err := strconv.ParseFloat(q.Get("min_value"), 64); err == nil {
		f.MinValue = &v
	}
	if v, err := strconv.ParseFloat(q.Get("max_value"), 64); err == nil {
		f.MaxValue = &v
	}
	if v, err := time.Parse("2006-01-02", q.Get("publication_date_from")); err == nil {
		f.PublicationDateFrom = &v
	}
	if v, err := time.Parse("2006-01-02", q.Get("publication_date_to")); err == nil {
		f.PublicationDateTo = &v
	}
	return f
}

// runIngestLoop periodically pulls every registered provider's full
// result set and upserts it into persistence; re-ingestion is
// idempotent per §5 since Save/SaveBatch key on (provider, external_id).
func runIngestLoop(ctx context.Context, searchService *search.Service, store persistence.Store, interval time.Duration) {
	ingestOnce(ctx, searchService, store)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ingestOnce(ctx, searchService, store)
		}
	}
}

func ingestOnce(ctx context.Context, searchService *search.Service, store persistence.Store) {
	results, err := searchService.SearchAll(ctx, opportunity.Filters{})
	if err != nil {
		log.WithError(err).Warn("ingestion search failed")
		return
	}
	for _, r := range results {
		if r.Err != nil || len(r.Opportunities) == 0 {
			continue
		}
		batch, err := store.SaveBatch(ctx, r.Opportunities)
		if err != nil {
			log.WithError(err).WithField("provider", r.Provider).Warn("failed to save ingested batch")
			continue
		}
		log.WithField("provider", r.Provider).
			WithField("success", batch.Success).
			WithField("failed", batch.Failed).
			WithField("skipped", batch.Skipped).
			Info("ingestion batch saved")
	}
}

