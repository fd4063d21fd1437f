// Command ragd serves the C11 retrieval & answer engine: rag_query and
// vectorization_status over HTTP, backed by shared persistence, object
// storage, and vector storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicit/licita/internal/cache"
	"github.com/alicit/licita/internal/chunk"
	"github.com/alicit/licita/internal/config"
	"github.com/alicit/licita/internal/dedup"
	"github.com/alicit/licita/internal/embedding"
	"github.com/alicit/licita/internal/extract"
	"github.com/alicit/licita/internal/httpapi"
	"github.com/alicit/licita/internal/llm"
	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/mapper"
	"github.com/alicit/licita/internal/objectstore"
	"github.com/alicit/licita/internal/observability"
	"github.com/alicit/licita/internal/persistence"
	"github.com/alicit/licita/internal/providers"
	"github.com/alicit/licita/internal/providers/rest"
	"github.com/alicit/licita/internal/providers/scrape"
	"github.com/alicit/licita/internal/retrieve"
	"github.com/alicit/licita/internal/vectorstore"
	"github.com/jackc/pgx/v5/pgxpool"
)

var log = logging.WithComponent("ragd")

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	addr := flag.String("addr", ":8083", "HTTP listen address")
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

	// persistence and the vector store share one pool so a transaction
	// in one can never deadlock waiting on a connection held by the
	// other; persistence.New doesn't expose the pool it builds, so ragd
	// builds it directly when a DSN is configured.
	var pool *pgxpool.Pool
	var store persistence.Store
	if cfg.Database.DSN != "" {
		pool, err = pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Warn("failed to connect to database, falling back to in-memory persistence")
			store = persistence.NewMemoryStore(mappers)
		} else if err := pool.Ping(ctx); err != nil {
			log.WithError(err).Warn("database unreachable, falling back to in-memory persistence")
			pool = nil
			store = persistence.NewMemoryStore(mappers)
		} else {
			store = persistence.NewPostgresStore(ctx, pool, mappers)
		}
	} else {
		store = persistence.NewMemoryStore(mappers)
	}

	vecStore := vectorstore.New(ctx, cfg.VectorStore, pool)
	objStore := objectstore.New(ctx, cfg.ObjectStore)
	cacheImpl := cache.New(cfg.Cache)

	registry := providers.NewRegistry()
	registry.Register(rest.New(cfg.Providers.REST, cacheImpl))
	registry.Register(scrape.New(cfg.Providers.Scrape, cacheImpl))

	tempDir := os.TempDir()
	extractor := extract.New(objStore, tempDir)
	dedupSvc := dedup.New(store)
	embeddings := embedding.NewService(cfg.Embedding, store)

	chunkOpts := chunk.Options{
		TargetTokens: cfg.Chunking.TargetTokens,
		OverlapRatio: overlapRatio(cfg.Chunking),
		MinChunkSize: cfg.Chunking.MinChunkChars,
		MaxSection:   cfg.Chunking.MaxSectionChars,
	}
	if chunkOpts.TargetTokens == 0 {
		chunkOpts = chunk.DefaultOptions()
	}

	answerer, err := llm.Build(ctx, cfg.LLM)
	if err != nil {
		log.WithError(err).Fatal("failed to build answering LLM provider")
	}

	var reranker *retrieve.Reranker
	if rerankProvider, err := llm.Build(ctx, cfg.LLM); err == nil {
		reranker = retrieve.NewReranker(rerankProvider)
	} else {
		log.WithError(err).Warn("failed to build reranking LLM provider, falling back to unranked hybrid search order")
	}

	retrievalStore := retrieve.NewPersistenceStore(store, registry)
	listers := retrieve.ListerResolver(registry)

	engine := retrieve.New(retrievalStore, vecStore, extractor, listers, dedupSvc, chunkOpts, embeddings, reranker, answerer, cacheImpl)

	mux := http.NewServeMux()
	registerRoutes(mux, engine, vecStore)
	handler := observability.AccessLog(mux)

	server := &http.Server{Addr: *addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		if pool != nil {
			pool.Close()
		}
	}()

	log.WithField("addr", *addr).Info("ragd listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("ragd server failed")
	}
}

func registerRoutes(mux *http.ServeMux, engine *retrieve.Engine, vecStore vectorstore.Store) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("GET /opportunities/{opportunityID}/answer", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		result := engine.Answer(r.Context(), r.PathValue("opportunityID"), query)
		httpapi.RespondResult(w, result)
	})

	mux.HandleFunc("GET /opportunities/{opportunityID}/vectorization-status", func(w http.ResponseWriter, r *http.Request) {
		status, err := vecStore.VectorizationStatus(r.Context(), r.PathValue("opportunityID"))
		if err != nil {
			httpapi.RespondError(w, http.StatusBadGateway, err)
			return
		}
		httpapi.RespondJSON(w, http.StatusOK, status)
	})
}

func overlapRatio(cfg config.ChunkingConfig) float64 {
	if cfg.TargetTokens <= 0 {
		return 0.25
	}
	return float64(cfg.OverlapTokens) / float64(cfg.TargetTokens)
}
