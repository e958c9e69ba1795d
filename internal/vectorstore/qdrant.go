package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const qdrantSchemaKey = "schema"

// QdrantBackend stores collections in Qdrant. The field schema is kept in
// collection metadata and the string id is kept in the payload, since
// Qdrant point ids must be UUIDs or integers.
type QdrantBackend struct {
	client *qdrant.Client
	addr   string
}

// NewQdrantBackend dials Qdrant over gRPC.
func NewQdrantBackend(host string, port int, apiKey string, useTLS bool) (*QdrantBackend, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	return &QdrantBackend{client: client, addr: fmt.Sprintf("%s:%d", host, port)}, nil
}

func (q *QdrantBackend) Name() string { return "qdrant" }

func (q *QdrantBackend) Ping(ctx context.Context) error {
	_, err := q.client.HealthCheck(ctx)
	return err
}

func (q *QdrantBackend) ListCollections(ctx context.Context) ([]string, error) {
	return q.client.ListCollections(ctx)
}

func (q *QdrantBackend) HasCollection(ctx context.Context, name string) (bool, error) {
	return q.client.CollectionExists(ctx, name)
}

func qdrantDistance(m Metric) qdrant.Distance {
	switch m {
	case MetricCosine:
		return qdrant.Distance_Cosine
	case MetricIP:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Euclid
	}
}

func (q *QdrantBackend) CreateCollection(ctx context.Context, name string, schema Schema, metric Metric) error {
	encoded, err := EncodeSchema(schema)
	if err != nil {
		return err
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(schema.Dim()),
			Distance: qdrantDistance(metric),
		}),
		Metadata: map[string]*qdrant.Value{qdrantSchemaKey: qdrant.NewValueString(encoded)},
	})
}

func (q *QdrantBackend) DescribeCollection(ctx context.Context, name string) (Schema, error) {
	info, err := q.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return Schema{}, fmt.Errorf("%w: %s: %w", ErrCollectionNotFound, name, err)
	}
	if raw, ok := info.GetConfig().GetMetadata()[qdrantSchemaKey]; ok {
		return DecodeSchema(raw.GetStringValue())
	}
	// Collections created elsewhere carry no schema; expose the vector only.
	dim := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	return Schema{Fields: []Field{
		{Name: FieldID, Type: FieldVarChar, PrimaryKey: true},
		{Name: FieldEmbedding, Type: FieldFloatVector, Dim: dim},
	}}, nil
}

func (q *QdrantBackend) DropCollection(ctx context.Context, name string) error {
	return q.client.DeleteCollection(ctx, name)
}

func (q *QdrantBackend) CreateIndex(ctx context.Context, name string, spec IndexSpec) error {
	if spec.Kind == IndexVector {
		// HNSW is built automatically from the collection's vector params.
		return nil
	}
	schema, err := q.DescribeCollection(ctx, name)
	if err != nil {
		return err
	}
	f, ok := schema.Field(spec.Field)
	if !ok {
		return fmt.Errorf("%w: no field %s in %s", ErrSchemaMismatch, spec.Field, name)
	}
	var ft qdrant.FieldType
	switch f.Type {
	case FieldBool:
		ft = qdrant.FieldType_FieldTypeBool
	case FieldInt64:
		ft = qdrant.FieldType_FieldTypeInteger
	case FieldFloat:
		ft = qdrant.FieldType_FieldTypeFloat
	default:
		ft = qdrant.FieldType_FieldTypeKeyword
	}
	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		FieldName:      spec.Field,
		FieldType:      qdrant.PtrOf(ft),
	})
	return err
}

// Load is a no-op; Qdrant serves collections without an explicit load.
func (q *QdrantBackend) Load(context.Context, string) error { return nil }

// pointID maps a string id onto a Qdrant UUID, hashing ids that are not
// UUIDs already.
func pointID(id string) *qdrant.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(u.String())
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String())
}

func (q *QdrantBackend) Insert(ctx context.Context, name string, schema Schema, rows []Row) error {
	points := make([]*qdrant.PointStruct, 0, len(rows))
	for _, row := range rows {
		fields := RowMap(schema, row)
		vec, _ := fields[FieldEmbedding].([]float32)
		delete(fields, FieldEmbedding)
		id, _ := fields[FieldID].(string)

		payload, err := qdrant.TryValueMap(fields)
		if err != nil {
			return fmt.Errorf("encode payload for %s: %w", id, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(id),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	return err
}

// Flush is a no-op; upserts wait for commit.
func (q *QdrantBackend) Flush(context.Context, string) error { return nil }

func (q *QdrantBackend) Search(ctx context.Context, name string, req SearchRequest) ([]Hit, error) {
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(req.Vector),
		Limit:          qdrant.PtrOf(uint64(req.Limit)),
		WithPayload:    qdrant.NewWithPayloadInclude(append([]string{FieldID}, req.OutputFields...)...),
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		fields := fromQdrantPayload(p.GetPayload())
		id, _ := fields[FieldID].(string)
		hits = append(hits, Hit{
			ID:       id,
			Distance: req.Metric.ToDistance(p.GetScore()),
			Fields:   fields,
		})
	}
	return hits, nil
}

func qdrantFilter(f Filter) *qdrant.Filter {
	var cond *qdrant.Condition
	switch v := f.Value.(type) {
	case bool:
		cond = qdrant.NewMatchBool(f.Field, v)
	case int64:
		cond = qdrant.NewMatchInt(f.Field, v)
	default:
		cond = qdrant.NewMatchKeyword(f.Field, fmt.Sprint(v))
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{cond}}
}

func (q *QdrantBackend) Query(ctx context.Context, name string, filter Filter, outputFields []string, limit int) ([]map[string]any, error) {
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: name,
		Filter:         qdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayloadInclude(outputFields...),
	})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		out = append(out, fromQdrantPayload(p.GetPayload()))
	}
	return out, nil
}

func (q *QdrantBackend) Count(ctx context.Context, name string) (int64, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	return int64(n), err
}

func (q *QdrantBackend) Close(context.Context) error {
	return q.client.Close()
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromQdrantValue(v)
	}
	return out
}

func fromQdrantValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return float32(k.DoubleValue)
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, x := range vals {
			out[i] = fromQdrantValue(x)
		}
		return out
	}
	return nil
}
