package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls collection lifecycle and write batching.
type Options struct {
	Metric          Metric
	NList           int
	InsertBatchSize int
	CreateAttempts  int
	CreateDelay     time.Duration
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		Metric:          MetricL2,
		NList:           1024,
		InsertBatchSize: 100,
		CreateAttempts:  3,
		CreateDelay:     3 * time.Second,
	}
}

// Collection is an initialised, loaded collection and the schema it was
// found with.
type Collection struct {
	Name   string
	Schema Schema
}

// EnsureReport records what EnsureCollection did. Scalar index failures are
// reported here rather than failing the call.
type EnsureReport struct {
	Created     bool
	Recreated   bool
	Indexed     []string
	IndexErrors map[string]string
}

// Degraded lists human-readable notes for every failed index.
func (r EnsureReport) Degraded() []string {
	var out []string
	for field, msg := range r.IndexErrors {
		out = append(out, fmt.Sprintf("index on %s not created: %s", field, msg))
	}
	return out
}

// InsertReport records how far an insert got.
type InsertReport struct {
	Rows    int
	Batches int
}

// Manager owns collection lifecycle on top of a Backend.
type Manager struct {
	backend Backend
	opts    Options
	logger  zerolog.Logger
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager over backend.
func NewManager(backend Backend, opts Options, mopts ...ManagerOption) *Manager {
	def := DefaultOptions()
	if opts.Metric == "" {
		opts.Metric = def.Metric
	}
	if opts.NList <= 0 {
		opts.NList = def.NList
	}
	if opts.InsertBatchSize <= 0 {
		opts.InsertBatchSize = def.InsertBatchSize
	}
	if opts.CreateAttempts <= 0 {
		opts.CreateAttempts = def.CreateAttempts
	}
	m := &Manager{backend: backend, opts: opts, logger: log.Logger}
	for _, o := range mopts {
		o(m)
	}
	return m
}

// Backend returns the underlying backend
func (m *Manager) Backend() Backend { return m.backend }

// Metric returns the configured distance metric
func (m *Manager) Metric() Metric { return m.opts.Metric }

// EnsureCollection returns a loaded collection named name whose vector
// field has dimension dim. A missing collection is created with the
// canonical schema; an existing one keeps its schema unless its dimension
// differs, in which case it is dropped and recreated.
func (m *Manager) EnsureCollection(ctx context.Context, name string, dim int) (*Collection, EnsureReport, error) {
	var report EnsureReport
	logger := m.logger.With().Str("collection", name).Logger()

	exists, err := m.backend.HasCollection(ctx, name)
	if err != nil {
		return nil, report, fmt.Errorf("check collection %s: %w", name, err)
	}

	if exists {
		schema, err := m.backend.DescribeCollection(ctx, name)
		if err != nil {
			return nil, report, fmt.Errorf("describe collection %s: %w", name, err)
		}
		existing := schema.Dim()
		if existing == dim {
			if err := m.backend.Load(ctx, name); err != nil {
				return nil, report, fmt.Errorf("load collection %s: %w", name, err)
			}
			logger.Info().Int("fields", len(schema.Fields)).Msg("Using existing collection")
			return &Collection{Name: name, Schema: schema}, report, nil
		}
		logger.Warn().Int("existing_dim", existing).Int("dim", dim).Msg("Embedding dimension mismatch, recreating collection")
		if err := m.backend.DropCollection(ctx, name); err != nil {
			return nil, report, fmt.Errorf("drop collection %s: %w", name, err)
		}
		report.Recreated = true
	}

	schema := CanonicalSchema(dim)
	if err := m.create(ctx, name, schema); err != nil {
		return nil, report, err
	}
	report.Created = true

	if err := m.backend.CreateIndex(ctx, name, IndexSpec{
		Field:  FieldEmbedding,
		Kind:   IndexVector,
		Metric: m.opts.Metric,
		NList:  m.opts.NList,
	}); err != nil {
		return nil, report, fmt.Errorf("create vector index on %s: %w", name, err)
	}
	report.Indexed = append(report.Indexed, FieldEmbedding)

	for _, field := range ScalarIndexFields {
		err := m.backend.CreateIndex(ctx, name, IndexSpec{Field: field, Kind: IndexScalar})
		if err != nil {
			if report.IndexErrors == nil {
				report.IndexErrors = make(map[string]string)
			}
			report.IndexErrors[field] = err.Error()
			logger.Warn().Err(err).Str("field", field).Msg("Scalar index creation failed")
			continue
		}
		report.Indexed = append(report.Indexed, field)
	}

	if err := m.backend.Load(ctx, name); err != nil {
		return nil, report, fmt.Errorf("load collection %s: %w", name, err)
	}

	logger.Info().
		Int("dim", dim).
		Bool("recreated", report.Recreated).
		Strs("indexed", report.Indexed).
		Msg("Created collection")
	return &Collection{Name: name, Schema: schema}, report, nil
}

// create retries collection creation with a fixed delay, dropping any
// partially created collection between attempts.
func (m *Manager) create(ctx context.Context, name string, schema Schema) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := m.backend.CreateCollection(ctx, name, schema, m.opts.Metric)
		if err == nil {
			return struct{}{}, nil
		}
		if has, herr := m.backend.HasCollection(ctx, name); herr == nil && has {
			if derr := m.backend.DropCollection(ctx, name); derr != nil {
				m.logger.Warn().Err(derr).Str("collection", name).Msg("Failed to drop partial collection")
			}
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.opts.CreateDelay)),
		backoff.WithMaxTries(uint(m.opts.CreateAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn().Err(err).Str("collection", name).Int("attempt", attempt).Dur("retry_in", next).Msg("Collection creation failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("create collection %s after %d attempts: %w", name, attempt, err)
	}
	return nil
}

// Insert writes records in batches, flushing after each one. Records are
// laid out with the collection's existing schema. On error the report
// holds the rows already flushed; earlier batches stay committed.
func (m *Manager) Insert(ctx context.Context, c *Collection, records []map[string]any) (InsertReport, error) {
	var report InsertReport
	dim := c.Schema.Dim()

	for i, r := range records {
		vec, _ := r[FieldEmbedding].([]float32)
		if len(vec) != dim {
			return report, fmt.Errorf("%w: record %d has %d-dim embedding, collection %s expects %d",
				ErrSchemaMismatch, i, len(vec), c.Name, dim)
		}
	}

	if err := m.backend.Load(ctx, c.Name); err != nil {
		return report, fmt.Errorf("load collection %s: %w", c.Name, err)
	}

	size := m.opts.InsertBatchSize
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		rows := MapRecords(c.Schema, records[start:end])

		if err := m.backend.Insert(ctx, c.Name, c.Schema, rows); err != nil {
			return report, fmt.Errorf("insert batch %d into %s: %w", report.Batches+1, c.Name, err)
		}
		if err := m.backend.Flush(ctx, c.Name); err != nil {
			return report, fmt.Errorf("flush batch %d of %s: %w", report.Batches+1, c.Name, err)
		}
		report.Batches++
		report.Rows += len(rows)

		m.logger.Debug().
			Str("collection", c.Name).
			Int("batch", report.Batches).
			Int("rows", report.Rows).
			Int("total", len(records)).
			Msg("Inserted batch")
	}
	return report, nil
}

// Search loads the collection and returns up to limit nearest hits. Output
// fields absent from the schema are ignored.
func (m *Manager) Search(ctx context.Context, c *Collection, vector []float32, limit int, outputFields []string) ([]Hit, error) {
	if len(vector) != c.Schema.Dim() {
		return nil, fmt.Errorf("%w: query has %d dims, collection %s expects %d",
			ErrSchemaMismatch, len(vector), c.Name, c.Schema.Dim())
	}
	if err := m.backend.Load(ctx, c.Name); err != nil {
		return nil, fmt.Errorf("load collection %s: %w", c.Name, err)
	}

	var fields []string
	for _, f := range outputFields {
		if c.Schema.Has(f) {
			fields = append(fields, f)
		}
	}

	hits, err := m.backend.Search(ctx, c.Name, SearchRequest{
		Vector:       vector,
		Limit:        limit,
		OutputFields: fields,
		Metric:       m.opts.Metric,
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.Name, err)
	}
	return hits, nil
}

// RepoExists reports whether any row of c carries repo_name == repo.
func (m *Manager) RepoExists(ctx context.Context, c *Collection, repo string) (bool, error) {
	if !c.Schema.Has(FieldRepoName) {
		return false, nil
	}
	rows, err := m.backend.Query(ctx, c.Name, Filter{Field: FieldRepoName, Value: repo}, []string{FieldID}, 1)
	if err != nil {
		return false, fmt.Errorf("query %s for repo %s: %w", c.Name, repo, err)
	}
	return len(rows) > 0, nil
}

// Count returns the number of rows in c.
func (m *Manager) Count(ctx context.Context, c *Collection) (int64, error) {
	return m.backend.Count(ctx, c.Name)
}

// Open returns an existing collection without creating it.
func (m *Manager) Open(ctx context.Context, name string) (*Collection, error) {
	exists, err := m.backend.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	schema, err := m.backend.DescribeCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("describe collection %s: %w", name, err)
	}
	return &Collection{Name: name, Schema: schema}, nil
}
