package vectorstore

import (
	"context"
	"fmt"

	chromago "github.com/amikos-tech/chroma-go"
	"github.com/amikos-tech/chroma-go/collection"
	"github.com/amikos-tech/chroma-go/types"
)

const chromaSchemaKey = "schema"

// ChromaBackend stores collections in ChromaDB. The document and vector
// travel in Chroma's own columns; every other field is row metadata.
type ChromaBackend struct {
	client *chromago.Client
}

// NewChromaBackend creates a ChromaDB client for url
func NewChromaBackend(url string) (*ChromaBackend, error) {
	client, err := chromago.NewClient(chromago.WithBasePath(url))
	if err != nil {
		return nil, fmt.Errorf("failed to create ChromaDB client: %w", err)
	}
	return &ChromaBackend{client: client}, nil
}

func (c *ChromaBackend) Name() string { return "chroma" }

func (c *ChromaBackend) Ping(ctx context.Context) error {
	_, err := c.client.Heartbeat(ctx)
	return err
}

func (c *ChromaBackend) ListCollections(ctx context.Context) ([]string, error) {
	cols, err := c.client.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names, nil
}

func (c *ChromaBackend) HasCollection(ctx context.Context, name string) (bool, error) {
	names, err := c.ListCollections(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func chromaDistance(m Metric) types.DistanceFunction {
	switch m {
	case MetricCosine:
		return types.COSINE
	case MetricIP:
		return types.IP
	default:
		return types.L2
	}
}

func (c *ChromaBackend) CreateCollection(ctx context.Context, name string, schema Schema, metric Metric) error {
	encoded, err := EncodeSchema(schema)
	if err != nil {
		return err
	}
	_, err = c.client.NewCollection(
		ctx,
		name,
		collection.WithHNSWDistanceFunction(chromaDistance(metric)),
		collection.WithMetadata(chromaSchemaKey, encoded),
	)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (c *ChromaBackend) collection(ctx context.Context, name string) (*chromago.Collection, error) {
	col, err := c.client.GetCollection(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCollectionNotFound, name, err)
	}
	return col, nil
}

func (c *ChromaBackend) DescribeCollection(ctx context.Context, name string) (Schema, error) {
	col, err := c.collection(ctx, name)
	if err != nil {
		return Schema{}, err
	}
	raw, ok := col.Metadata[chromaSchemaKey].(string)
	if !ok {
		return Schema{}, fmt.Errorf("%w: collection %s has no schema metadata", ErrSchemaMismatch, name)
	}
	return DecodeSchema(raw)
}

func (c *ChromaBackend) DropCollection(ctx context.Context, name string) error {
	_, err := c.client.DeleteCollection(ctx, name)
	return err
}

// CreateIndex is a no-op: Chroma maintains its HNSW index and metadata
// filtering implicitly.
func (c *ChromaBackend) CreateIndex(context.Context, string, IndexSpec) error { return nil }

// Load is a no-op for Chroma.
func (c *ChromaBackend) Load(context.Context, string) error { return nil }

func (c *ChromaBackend) Insert(ctx context.Context, name string, schema Schema, rows []Row) error {
	col, err := c.collection(ctx, name)
	if err != nil {
		return err
	}

	ids := make([]string, len(rows))
	documents := make([]string, len(rows))
	vectors := make([][]float32, len(rows))
	metadatas := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		fields := RowMap(schema, row)
		ids[i], _ = fields[FieldID].(string)
		documents[i], _ = fields[FieldDocument].(string)
		vectors[i], _ = fields[FieldEmbedding].([]float32)
		delete(fields, FieldID)
		delete(fields, FieldDocument)
		delete(fields, FieldEmbedding)
		metadatas[i] = fields
	}

	_, err = col.Add(ctx, types.NewEmbeddingsFromFloat32(vectors), metadatas, documents, ids)
	if err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Flush is a no-op; Chroma writes are durable on return.
func (c *ChromaBackend) Flush(context.Context, string) error { return nil }

// Search returns Chroma distances unchanged: Chroma reports a distance for
// every metric, lower being closer.
func (c *ChromaBackend) Search(ctx context.Context, name string, req SearchRequest) ([]Hit, error) {
	col, err := c.collection(ctx, name)
	if err != nil {
		return nil, err
	}

	results, err := col.QueryWithOptions(
		ctx,
		types.WithQueryEmbedding(types.NewEmbeddingFromFloat32(req.Vector)),
		types.WithNResults(int32(req.Limit)),
		types.WithInclude(types.IDocuments, types.IMetadatas, types.IDistances),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if len(results.Ids) == 0 {
		return nil, nil
	}

	wanted := make(map[string]bool, len(req.OutputFields))
	for _, f := range req.OutputFields {
		wanted[f] = true
	}

	hits := make([]Hit, 0, len(results.Ids[0]))
	for i, id := range results.Ids[0] {
		hit := Hit{ID: id, Fields: make(map[string]any, len(req.OutputFields))}
		if len(results.Distances) > 0 && len(results.Distances[0]) > i {
			hit.Distance = results.Distances[0][i]
		}
		if wanted[FieldDocument] && len(results.Documents) > 0 && len(results.Documents[0]) > i {
			hit.Fields[FieldDocument] = results.Documents[0][i]
		}
		if len(results.Metadatas) > 0 && len(results.Metadatas[0]) > i {
			for k, v := range results.Metadatas[0][i] {
				if wanted[k] {
					hit.Fields[k] = v
				}
			}
		}
		if wanted[FieldID] {
			hit.Fields[FieldID] = id
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (c *ChromaBackend) Query(ctx context.Context, name string, filter Filter, outputFields []string, limit int) ([]map[string]any, error) {
	col, err := c.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	where := map[string]interface{}{filter.Field: map[string]interface{}{"$eq": filter.Value}}
	res, err := col.Get(ctx, where, nil, nil, []types.QueryEnum{types.IDocuments, types.IMetadatas})
	if err != nil {
		return nil, err
	}

	n := len(res.Ids)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		row := make(map[string]any, len(outputFields))
		for _, f := range outputFields {
			switch {
			case f == FieldID:
				row[f] = res.Ids[i]
			case f == FieldDocument && i < len(res.Documents):
				row[f] = res.Documents[i]
			case i < len(res.Metadatas):
				if v, ok := res.Metadatas[i][f]; ok {
					row[f] = v
				}
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *ChromaBackend) Count(ctx context.Context, name string) (int64, error) {
	col, err := c.collection(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := col.Count(ctx)
	return int64(n), err
}

// Close is a no-op; the underlying HTTP client needs no cleanup
func (c *ChromaBackend) Close(context.Context) error { return nil }
