// Package vectorstore manages schema-typed vector collections on Milvus,
// Qdrant, Chroma or an in-process store.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCollectionNotFound is returned when an operation targets a missing collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrConnection wraps failures to reach the vector store.
	ErrConnection = errors.New("vector store connection failed")
	// ErrSchemaMismatch is returned when records do not fit the collection schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// Metric is the vector distance metric.
type Metric string

const (
	MetricL2     Metric = "L2"
	MetricCosine Metric = "COSINE"
	MetricIP     Metric = "IP"
)

// ParseMetric accepts L2, COSINE or IP in any case.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToUpper(s)); m {
	case MetricL2, MetricCosine, MetricIP:
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Similarity reports whether backend scores grow with closeness.
func (m Metric) Similarity() bool {
	return m == MetricCosine || m == MetricIP
}

// ToDistance converts a backend score to a distance where lower is closer.
func (m Metric) ToDistance(score float32) float32 {
	if m.Similarity() {
		return 1 - score
	}
	return score
}

// IndexKind distinguishes the vector index from scalar filter indexes.
type IndexKind int

const (
	IndexVector IndexKind = iota + 1
	IndexScalar
)

// IndexSpec describes one index to build.
type IndexSpec struct {
	Field  string
	Kind   IndexKind
	Metric Metric
	NList  int
}

// SearchRequest is a single-vector nearest neighbour query.
type SearchRequest struct {
	Vector       []float32
	Limit        int
	OutputFields []string
	Metric       Metric
}

// Hit is one search result. Distance is normalised so lower is closer.
type Hit struct {
	ID       string
	Distance float32
	Fields   map[string]any
}

// Filter is an equality predicate on a scalar field.
type Filter struct {
	Field string
	Value any
}

// Backend is the set of vector store primitives the manager builds on.
type Backend interface {
	Name() string
	Ping(ctx context.Context) error
	ListCollections(ctx context.Context) ([]string, error)
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, schema Schema, metric Metric) error
	DescribeCollection(ctx context.Context, name string) (Schema, error)
	DropCollection(ctx context.Context, name string) error
	CreateIndex(ctx context.Context, name string, spec IndexSpec) error
	Load(ctx context.Context, name string) error
	Insert(ctx context.Context, name string, schema Schema, rows []Row) error
	Flush(ctx context.Context, name string) error
	Search(ctx context.Context, name string, req SearchRequest) ([]Hit, error)
	Query(ctx context.Context, name string, filter Filter, outputFields []string, limit int) ([]map[string]any, error)
	Count(ctx context.Context, name string) (int64, error)
	Close(ctx context.Context) error
}
