package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/types"
)

// Tracker holds jobs in memory and writes every change through to a Store.
// Store failures are logged; the in-memory view stays authoritative.
type Tracker struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker loads persisted jobs from store. Jobs persisted in a
// non-terminal state are marked failed as interrupted.
func NewTracker(store Store, opts ...TrackerOption) (*Tracker, error) {
	t := &Tracker{
		jobs:   make(map[string]*Job),
		store:  store,
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	persisted, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	for i := range persisted {
		job := persisted[i]
		if !job.State.Terminal() {
			t.logger.Warn().
				Str("job_id", job.ID).
				Str("state", string(job.State)).
				Msg("Marking interrupted job as failed")
			job.State = types.StateFailed
			job.Message = InterruptedMessage
			job.UpdatedAt = t.now()
			if err := store.Save(job); err != nil {
				return nil, fmt.Errorf("save interrupted job %s: %w", job.ID, err)
			}
		}
		t.jobs[job.ID] = &job
	}
	return t, nil
}

// Create registers a pending job.
func (t *Tracker) Create(spec Spec) Job {
	now := t.now()
	job := &Job{
		ID:         uuid.NewString(),
		Kind:       spec.Kind,
		Collection: spec.Collection,
		Source:     spec.Source,
		Branch:     spec.Branch,
		State:      types.StatePending,
		Trigger:    spec.Trigger,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	t.mu.Lock()
	t.jobs[job.ID] = job
	snapshot := *job
	t.mu.Unlock()

	t.persist(snapshot)
	return snapshot
}

// SetState records a state transition.
func (t *Tracker) SetState(id string, state types.State, message string) error {
	return t.update(id, func(j *Job) {
		j.State = state
		if message != "" {
			j.Message = message
		}
	})
}

// Finish records the terminal state and stats of a job.
func (t *Tracker) Finish(id string, state types.State, message string, stats *types.Stats) error {
	return t.update(id, func(j *Job) {
		j.State = state
		j.Message = message
		j.Stats = stats
	})
}

func (t *Tracker) update(id string, fn func(*Job)) error {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(job)
	job.UpdatedAt = t.now()
	snapshot := *job
	t.mu.Unlock()

	t.persist(snapshot)
	return nil
}

func (t *Tracker) persist(job Job) {
	if err := t.store.Save(job); err != nil {
		t.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job")
	}
}

// Get returns a copy of the job with id.
func (t *Tracker) Get(id string) (Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *job, nil
}

// List returns all jobs, newest first.
func (t *Tracker) List() []Job {
	t.mu.RLock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, *j)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Close closes the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}
