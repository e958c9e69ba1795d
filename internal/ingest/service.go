package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/jobs"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/types"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/vectorstore"
)

// DefaultMaxConcurrent caps simultaneous ingestion runs across the process.
const DefaultMaxConcurrent = 2

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Dim is the embedding dimension collections are created with.
	Dim           int
	MaxConcurrent int
	Logger        *zerolog.Logger
}

// Status reports which collections have been initialised.
type Status struct {
	ActiveCollections int
	Collections       []string
}

// Service runs tracked ingestion jobs. Runs beyond MaxConcurrent queue.
type Service struct {
	orch     *Orchestrator
	store    *vectorstore.Manager
	registry *vectorstore.Registry
	tracker  *jobs.Tracker
	sem      *semaphore.Weighted
	dim      int
	logger   zerolog.Logger

	// degraded holds collection setup notes until a run reports them.
	degraded sync.Map
	wg       sync.WaitGroup
}

// NewService creates a Service.
func NewService(orch *Orchestrator, store *vectorstore.Manager, tracker *jobs.Tracker, cfg ServiceConfig) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	s := &Service{
		orch:    orch,
		store:   store,
		tracker: tracker,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		dim:     cfg.Dim,
		logger:  log.Logger,
	}
	if cfg.Logger != nil {
		s.logger = *cfg.Logger
	}
	s.registry = vectorstore.NewRegistry(s.initCollection)
	return s
}

func (s *Service) initCollection(ctx context.Context, name string) (*vectorstore.Collection, error) {
	s.logger.Info().Str("collection", name).Msg("Initialising collection")
	coll, report, err := s.store.EnsureCollection(ctx, name, s.dim)
	if err != nil {
		return nil, err
	}
	if notes := report.Degraded(); len(notes) > 0 {
		s.degraded.Store(name, notes)
	}
	return coll, nil
}

// Collection returns the initialised collection called name.
func (s *Service) Collection(ctx context.Context, name string) (*vectorstore.Collection, error) {
	return s.registry.Get(ctx, name)
}

// Tracker returns the job tracker.
func (s *Service) Tracker() *jobs.Tracker { return s.tracker }

// Status returns the active collections.
func (s *Service) Status() Status {
	names := s.registry.Names()
	return Status{ActiveCollections: len(names), Collections: names}
}

// Ingest runs a repository ingestion synchronously as a tracked job.
func (s *Service) Ingest(ctx context.Context, req Request, trigger jobs.Trigger) (Result, jobs.Job) {
	job := s.tracker.Create(jobs.Spec{
		Kind:       jobs.KindRepository,
		Collection: req.Collection,
		Source:     req.SourceURL,
		Branch:     req.Branch,
		Trigger:    trigger,
	})
	res := s.run(ctx, job, func(ctx context.Context, coll *vectorstore.Collection, obs Observer) Result {
		return s.orch.IngestRepository(ctx, coll, req, obs)
	})
	job, _ = s.tracker.Get(job.ID)
	return res, job
}

// IngestForum runs a forum ingestion synchronously as a tracked job.
func (s *Service) IngestForum(ctx context.Context, collection, source string, threads []Thread, trigger jobs.Trigger) (Result, jobs.Job) {
	job := s.tracker.Create(jobs.Spec{
		Kind:       jobs.KindForum,
		Collection: collection,
		Source:     source,
		Trigger:    trigger,
	})
	res := s.run(ctx, job, func(ctx context.Context, coll *vectorstore.Collection, obs Observer) Result {
		return s.orch.IngestForum(ctx, coll, threads, obs)
	})
	job, _ = s.tracker.Get(job.ID)
	return res, job
}

// Submit queues a repository ingestion and returns its job immediately.
// The run is detached from ctx cancellation.
func (s *Service) Submit(ctx context.Context, req Request, trigger jobs.Trigger) jobs.Job {
	job := s.tracker.Create(jobs.Spec{
		Kind:       jobs.KindRepository,
		Collection: req.Collection,
		Source:     req.SourceURL,
		Branch:     req.Branch,
		Trigger:    trigger,
	})
	runCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.run(runCtx, job, func(ctx context.Context, coll *vectorstore.Collection, obs Observer) Result {
			return s.orch.IngestRepository(ctx, coll, req, obs)
		})
		s.logger.Info().
			Str("job_id", job.ID).
			Bool("success", res.Success).
			Str("message", res.Message).
			Msg("Background ingestion finished")
	}()
	return job
}

// Wait blocks until every submitted job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

type runFunc func(ctx context.Context, coll *vectorstore.Collection, obs Observer) Result

func (s *Service) run(ctx context.Context, job jobs.Job, fn runFunc) Result {
	logger := s.logger.With().Str("job_id", job.ID).Str("collection", job.Collection).Logger()

	finish := func(res Result) Result {
		if err := s.tracker.Finish(job.ID, res.State, res.Message, res.Stats); err != nil {
			logger.Error().Err(err).Msg("Failed to record job result")
		}
		return res
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return finish(Result{State: types.StateFailed, Message: fmt.Sprintf("Error during ingestion: %v", err)})
	}
	defer s.sem.Release(1)

	coll, err := s.registry.Get(ctx, job.Collection)
	if err != nil {
		logger.Error().Err(err).Msg("Collection initialisation failed")
		return finish(Result{State: types.StateFailed, Message: fmt.Sprintf("Error during ingestion: %v", err)})
	}

	obs := func(state types.State, message string) {
		if err := s.tracker.SetState(job.ID, state, message); err != nil {
			logger.Warn().Err(err).Msg("Failed to record job state")
		}
		logger.Debug().Str("state", string(state)).Str("message", message).Msg("Ingestion state changed")
	}
	res := fn(ctx, coll, obs)

	if res.Stats != nil {
		if notes, ok := s.degraded.LoadAndDelete(job.Collection); ok {
			res.Stats.Degraded = append(notes.([]string), res.Stats.Degraded...)
		}
	}
	return finish(res)
}
