// Package app assembles the ingestion and retrieval components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/analyzer"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/chunker"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/config"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/embedding"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/fetcher"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/inference"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/ingest"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/jobs"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/observability"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/rerank"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/retrieval"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/vectorstore"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config  *config.Config
	Store   *vectorstore.Manager
	Service *ingest.Service
	Engine  *retrieval.Engine
	Tracker *jobs.Tracker
	Tracing *observability.TracerProvider
	Dim     int

	logger  zerolog.Logger
	closers []func(ctx context.Context) error
}

// Option overrides a component Build would otherwise construct.
type Option func(*buildOptions)

type buildOptions struct {
	encoder  embedding.Encoder
	reranker rerank.Reranker
	backend  vectorstore.Backend
}

// WithEncoder uses enc instead of the configured embedding provider.
func WithEncoder(enc embedding.Encoder) Option {
	return func(o *buildOptions) { o.encoder = enc }
}

// WithReranker uses rr instead of loading the cross-encoder.
func WithReranker(rr rerank.Reranker) Option {
	return func(o *buildOptions) { o.reranker = rr }
}

// WithBackend uses b instead of dialing the configured vector store.
func WithBackend(b vectorstore.Backend) Option {
	return func(o *buildOptions) { o.backend = b }
}

// Build connects to the vector store, loads the models and assembles the
// ingestion service and retrieval engine. A failed reranker load degrades
// to similarity ranking; every other failure is returned.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	a := &App{Config: cfg, logger: logger}
	if err := a.build(ctx, bo); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, bo buildOptions) error {
	cfg, logger := a.Config, a.logger
	var err error

	a.Tracing, err = observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, a.Tracing.Shutdown)

	backend := bo.backend
	if backend == nil {
		backend, err = vectorstore.Connect(ctx, dialer(cfg), vectorstore.ConnectOptions{
			Attempts:     cfg.VectorStore.ConnectAttempts,
			InitialDelay: cfg.VectorStore.ConnectDelay,
		}, logger)
		if err != nil {
			return err
		}
	}
	a.closers = append(a.closers, backend.Close)

	metric, err := vectorstore.ParseMetric(cfg.VectorStore.Metric)
	if err != nil {
		return err
	}
	a.Store = vectorstore.NewManager(backend, vectorstore.Options{
		Metric:          metric,
		NList:           cfg.VectorStore.IndexNList,
		InsertBatchSize: cfg.VectorStore.InsertBatchSize,
		CreateAttempts:  cfg.VectorStore.CreateAttempts,
		CreateDelay:     cfg.VectorStore.CreateDelay,
	}, vectorstore.WithLogger(logger))

	enc := bo.encoder
	if enc == nil {
		enc, err = a.loadEncoder()
		if err != nil {
			return err
		}
	}
	a.Dim, err = embedding.Probe(ctx, enc)
	if err != nil {
		return err
	}
	logger.Info().Int("dim", a.Dim).Str("provider", cfg.Embedding.Provider).Msg("Embedding model ready")

	rr := bo.reranker
	if rr == nil {
		rr = a.loadReranker()
	}

	store, err := openJobStore(cfg.Jobs.DBPath)
	if err != nil {
		return err
	}
	a.Tracker, err = jobs.NewTracker(store, jobs.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Tracker.Close() })

	an := analyzer.New(&logger)
	a.closers = append(a.closers, func(context.Context) error { an.Close(); return nil })

	gh := fetcher.NewClient(
		fetcher.WithToken(cfg.GitHub.Token),
		fetcher.WithBaseURLs(cfg.GitHub.APIURL, cfg.GitHub.RawURL),
		fetcher.WithUserAgent(cfg.GitHub.UserAgent),
		fetcher.WithLogger(logger),
	)

	orch := ingest.NewOrchestrator(gh, an,
		embedding.NewBatcher(enc, cfg.Embedding.BatchSize, &logger),
		a.Store,
		ingest.WithLogger(logger),
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithMinContentSize(cfg.Ingest.MinContentSize),
		ingest.WithSplitter(chunker.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap, cfg.Ingest.MinChunkSize)),
		ingest.WithForumSettings(ingest.ForumSettings{
			RepoName:     cfg.Forum.RepoName,
			ChunkSize:    cfg.Forum.ChunkSize,
			ChunkOverlap: cfg.Forum.ChunkOverlap,
			MinChunkSize: cfg.Forum.MinChunkSize,
			MinPostSize:  cfg.Forum.MinPostSize,
		}),
	)

	a.Service = ingest.NewService(orch, a.Store, a.Tracker, ingest.ServiceConfig{
		Dim:           a.Dim,
		MaxConcurrent: cfg.Ingest.MaxConcurrent,
		Logger:        &logger,
	})
	a.Engine = retrieval.NewEngine(a.Store, enc, rr,
		retrieval.WithLogger(logger),
		retrieval.WithOverFetchFactor(cfg.Retrieval.OverFetchFactor),
	)
	return nil
}

func dialer(cfg *config.Config) vectorstore.Dialer {
	return func(ctx context.Context) (vectorstore.Backend, error) {
		switch cfg.VectorStore.Backend {
		case "milvus":
			return vectorstore.NewMilvusBackend(ctx, vectorstore.MilvusConfig{
				Address:  cfg.Milvus.MilvusAddress(),
				Username: cfg.Milvus.User,
				Password: cfg.Milvus.Password,
				APIKey:   cfg.Milvus.Token,
			})
		case "qdrant":
			return vectorstore.NewQdrantBackend(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey, cfg.Qdrant.UseTLS)
		case "chroma":
			return vectorstore.NewChromaBackend(cfg.ChromaDB.URL)
		case "memory":
			return vectorstore.NewMemoryBackend(), nil
		default:
			return nil, fmt.Errorf("unknown vector store backend: %q", cfg.VectorStore.Backend)
		}
	}
}

func (a *App) loadEncoder() (embedding.Encoder, error) {
	cfg := a.Config.Embedding
	switch cfg.Provider {
	case "ollama":
		return embedding.NewOllamaEncoder(cfg.OllamaHost, cfg.OllamaModel)
	default:
		if err := inference.InitRuntime(a.Config.ONNX.LibraryPath); err != nil {
			return nil, fmt.Errorf("init onnx runtime: %w", err)
		}
		enc, err := embedding.NewONNXEncoder(cfg.ModelPath, cfg.TokenizerPath, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return enc.Close() })
		return enc, nil
	}
}

func (a *App) loadReranker() rerank.Reranker {
	cfg := a.Config.Rerank
	if !cfg.Enabled {
		return rerank.Unavailable{}
	}
	if err := inference.InitRuntime(a.Config.ONNX.LibraryPath); err != nil {
		a.logger.Warn().Err(err).Msg("ONNX runtime unavailable, reranking disabled")
		return rerank.Unavailable{}
	}
	ce, err := rerank.NewCrossEncoder(cfg.ModelPath, cfg.TokenizerPath, cfg.MaxTokens)
	if err != nil {
		a.logger.Warn().Err(err).Str("model", cfg.ModelPath).Msg("Cross-encoder not loaded, reranking disabled")
		return rerank.Unavailable{}
	}
	a.closers = append(a.closers, func(context.Context) error { return ce.Close() })
	return ce
}

func openJobStore(path string) (jobs.Store, error) {
	if path == "" {
		return jobs.NewMemoryStore(), nil
	}
	return jobs.OpenBoltStore(path)
}

// Close waits for submitted jobs and releases every component.
func (a *App) Close(ctx context.Context) error {
	if a.Service != nil {
		a.Service.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
