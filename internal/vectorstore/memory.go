package vectorstore

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
)

type memCollection struct {
	schema  Schema
	metric  Metric
	rows    []Row
	indexes map[string]bool
	flushes int
}

// MemoryBackend is an in-process Backend with exact search. It backs the
// "memory" store option and tests.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memCollection

	// FailIndex makes CreateIndex fail for the named fields.
	FailIndex map[string]error
	// FailCreate makes the next N CreateCollection calls fail.
	FailCreate int
}

// NewMemoryBackend returns an empty MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]*memCollection)}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) ListCollections(context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.collections))
	for n := range b.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (b *MemoryBackend) HasCollection(_ context.Context, name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.collections[name]
	return ok, nil
}

func (b *MemoryBackend) CreateCollection(_ context.Context, name string, schema Schema, metric Metric) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailCreate > 0 {
		b.FailCreate--
		return fmt.Errorf("create %s: injected failure", name)
	}
	if _, ok := b.collections[name]; ok {
		return fmt.Errorf("collection %s already exists", name)
	}
	b.collections[name] = &memCollection{
		schema:  Schema{Fields: slices.Clone(schema.Fields)},
		metric:  metric,
		indexes: make(map[string]bool),
	}
	return nil
}

func (b *MemoryBackend) get(name string) (*memCollection, error) {
	c, ok := b.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (b *MemoryBackend) DescribeCollection(_ context.Context, name string) (Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.get(name)
	if err != nil {
		return Schema{}, err
	}
	return Schema{Fields: slices.Clone(c.schema.Fields)}, nil
}

func (b *MemoryBackend) DropCollection(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.collections, name)
	return nil
}

func (b *MemoryBackend) CreateIndex(_ context.Context, name string, spec IndexSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.get(name)
	if err != nil {
		return err
	}
	if err := b.FailIndex[spec.Field]; err != nil {
		return err
	}
	if spec.Kind == IndexVector && spec.Metric != "" {
		c.metric = spec.Metric
	}
	c.indexes[spec.Field] = true
	return nil
}

func (b *MemoryBackend) Load(_ context.Context, name string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, err := b.get(name)
	return err
}

func (b *MemoryBackend) Insert(_ context.Context, name string, _ Schema, rows []Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.get(name)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if len(r) != len(c.schema.Fields) {
			return fmt.Errorf("%w: row has %d values, schema has %d fields", ErrSchemaMismatch, len(r), len(c.schema.Fields))
		}
		c.rows = append(c.rows, slices.Clone(r))
	}
	return nil
}

func (b *MemoryBackend) Flush(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.get(name)
	if err != nil {
		return err
	}
	c.flushes++
	return nil
}

// Flushes returns how many times name was flushed.
func (b *MemoryBackend) Flushes(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if c, ok := b.collections[name]; ok {
		return c.flushes
	}
	return 0
}

// Indexed reports whether an index was built on field.
func (b *MemoryBackend) Indexed(name, field string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if c, ok := b.collections[name]; ok {
		return c.indexes[field]
	}
	return false
}

func memDistance(m Metric, a, b []float32) float32 {
	var dot, na, nb, sq float64
	for i := range a {
		if i >= len(b) {
			break
		}
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
		sq += (x - y) * (x - y)
	}
	switch m {
	case MetricCosine:
		if na == 0 || nb == 0 {
			return 1
		}
		return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
	case MetricIP:
		return float32(1 - dot)
	default:
		return float32(sq)
	}
}

func (b *MemoryBackend) Search(_ context.Context, name string, req SearchRequest) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.get(name)
	if err != nil {
		return nil, err
	}
	vecIdx := -1
	idIdx := -1
	for i, f := range c.schema.Fields {
		if f.Type == FieldFloatVector && vecIdx < 0 {
			vecIdx = i
		}
		if f.PrimaryKey {
			idIdx = i
		}
	}
	if vecIdx < 0 {
		return nil, fmt.Errorf("%w: %s has no vector field", ErrSchemaMismatch, name)
	}

	hits := make([]Hit, 0, len(c.rows))
	for _, r := range c.rows {
		vec, _ := r[vecIdx].([]float32)
		fields := RowMap(c.schema, r)
		out := make(map[string]any, len(req.OutputFields))
		for _, f := range req.OutputFields {
			if v, ok := fields[f]; ok {
				out[f] = v
			}
		}
		var id string
		if idIdx >= 0 {
			id, _ = r[idIdx].(string)
		}
		hits = append(hits, Hit{ID: id, Distance: memDistance(c.metric, req.Vector, vec), Fields: out})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return hits, nil
}

func (b *MemoryBackend) Query(_ context.Context, name string, filter Filter, outputFields []string, limit int) ([]map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.get(name)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, r := range c.rows {
		fields := RowMap(c.schema, r)
		if fields[filter.Field] != filter.Value {
			continue
		}
		row := make(map[string]any, len(outputFields))
		for _, f := range outputFields {
			row[f] = fields[f]
		}
		out = append(out, row)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (b *MemoryBackend) Count(_ context.Context, name string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.get(name)
	if err != nil {
		return 0, err
	}
	return int64(len(c.rows)), nil
}

func (b *MemoryBackend) Close(context.Context) error { return nil }
