package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
)

const milvusNProbe = 16

// MilvusConfig holds Milvus connection parameters
type MilvusConfig struct {
	Address  string
	Username string
	Password string
	APIKey   string
}

// MilvusBackend stores collections in Milvus
type MilvusBackend struct {
	client *milvusclient.Client
}

// NewMilvusBackend connects to Milvus.
func NewMilvusBackend(ctx context.Context, cfg MilvusConfig) (*MilvusBackend, error) {
	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		APIKey:   cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Milvus client: %w", err)
	}
	return &MilvusBackend{client: client}, nil
}

func (m *MilvusBackend) Name() string { return "milvus" }

func (m *MilvusBackend) Ping(ctx context.Context) error {
	_, err := m.client.ListCollections(ctx, milvusclient.NewListCollectionOption())
	return err
}

func (m *MilvusBackend) ListCollections(ctx context.Context) ([]string, error) {
	return m.client.ListCollections(ctx, milvusclient.NewListCollectionOption())
}

func (m *MilvusBackend) HasCollection(ctx context.Context, name string) (bool, error) {
	return m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
}

func toMilvusField(f Field) *entity.Field {
	mf := &entity.Field{Name: f.Name, PrimaryKey: f.PrimaryKey}
	switch f.Type {
	case FieldVarChar:
		mf.DataType = entity.FieldTypeVarChar
		mf.TypeParams = map[string]string{"max_length": strconv.Itoa(f.MaxLength)}
	case FieldInt64:
		mf.DataType = entity.FieldTypeInt64
	case FieldBool:
		mf.DataType = entity.FieldTypeBool
	case FieldFloat:
		mf.DataType = entity.FieldTypeFloat
	case FieldFloatVector:
		mf.DataType = entity.FieldTypeFloatVector
		mf.TypeParams = map[string]string{"dim": strconv.Itoa(f.Dim)}
	}
	return mf
}

func fromMilvusField(mf *entity.Field) (Field, bool) {
	f := Field{Name: mf.Name, PrimaryKey: mf.PrimaryKey}
	switch mf.DataType {
	case entity.FieldTypeVarChar:
		f.Type = FieldVarChar
		f.MaxLength, _ = strconv.Atoi(mf.TypeParams["max_length"])
	case entity.FieldTypeInt64:
		f.Type = FieldInt64
	case entity.FieldTypeBool:
		f.Type = FieldBool
	case entity.FieldTypeFloat, entity.FieldTypeDouble:
		f.Type = FieldFloat
	case entity.FieldTypeFloatVector:
		f.Type = FieldFloatVector
		f.Dim, _ = strconv.Atoi(mf.TypeParams["dim"])
	default:
		return Field{}, false
	}
	return f, true
}

func milvusMetric(m Metric) entity.MetricType {
	switch m {
	case MetricCosine:
		return entity.COSINE
	case MetricIP:
		return entity.IP
	default:
		return entity.L2
	}
}

// CreateCollection creates the collection without indexes; the metric is
// applied when the vector index is built.
func (m *MilvusBackend) CreateCollection(ctx context.Context, name string, schema Schema, _ Metric) error {
	ms := entity.NewSchema().WithName(name).WithDescription("Repository and forum chunks").WithAutoID(false)
	for _, f := range schema.Fields {
		ms.WithField(toMilvusField(f))
	}
	return m.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, ms))
}

func (m *MilvusBackend) DescribeCollection(ctx context.Context, name string) (Schema, error) {
	coll, err := m.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(name))
	if err != nil {
		return Schema{}, fmt.Errorf("%w: %s: %w", ErrCollectionNotFound, name, err)
	}
	var schema Schema
	for _, mf := range coll.Schema.Fields {
		if f, ok := fromMilvusField(mf); ok {
			schema.Fields = append(schema.Fields, f)
		}
	}
	return schema, nil
}

func (m *MilvusBackend) DropCollection(ctx context.Context, name string) error {
	return m.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(name))
}

func (m *MilvusBackend) CreateIndex(ctx context.Context, name string, spec IndexSpec) error {
	var idx index.Index
	if spec.Kind == IndexVector {
		idx = index.NewIvfFlatIndex(milvusMetric(spec.Metric), spec.NList)
	} else {
		idx = index.NewInvertedIndex()
	}
	task, err := m.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, spec.Field, idx))
	if err != nil {
		return err
	}
	return task.Await(ctx)
}

func (m *MilvusBackend) Load(ctx context.Context, name string) error {
	task, err := m.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return err
	}
	return task.Await(ctx)
}

func (m *MilvusBackend) Insert(ctx context.Context, name string, schema Schema, rows []Row) error {
	var cols []column.Column
	for _, c := range columnsOf(schema, rows) {
		f := c.Field
		switch f.Type {
		case FieldVarChar:
			cols = append(cols, column.NewColumnVarChar(f.Name, typedValues[string](c.Values)))
		case FieldInt64:
			cols = append(cols, column.NewColumnInt64(f.Name, typedValues[int64](c.Values)))
		case FieldBool:
			cols = append(cols, column.NewColumnBool(f.Name, typedValues[bool](c.Values)))
		case FieldFloat:
			cols = append(cols, column.NewColumnFloat(f.Name, typedValues[float32](c.Values)))
		case FieldFloatVector:
			cols = append(cols, column.NewColumnFloatVector(f.Name, f.Dim, typedValues[[]float32](c.Values)))
		}
	}
	_, err := m.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(name, cols...))
	return err
}

func typedValues[T any](values []any) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i], _ = v.(T)
	}
	return out
}

func (m *MilvusBackend) Flush(ctx context.Context, name string) error {
	task, err := m.client.Flush(ctx, milvusclient.NewFlushOption(name))
	if err != nil {
		return err
	}
	return task.Await(ctx)
}

func (m *MilvusBackend) Search(ctx context.Context, name string, req SearchRequest) ([]Hit, error) {
	opt := milvusclient.NewSearchOption(name, req.Limit, []entity.Vector{entity.FloatVector(req.Vector)}).
		WithANNSField(FieldEmbedding).
		WithOutputFields(req.OutputFields...).
		WithAnnParam(index.NewIvfFlatAnnParam(milvusNProbe))

	results, err := m.client.Search(ctx, opt)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	rs := results[0]

	hits := make([]Hit, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		hit := Hit{
			Distance: req.Metric.ToDistance(rs.Scores[i]),
			Fields:   make(map[string]any, len(req.OutputFields)),
		}
		if id, err := rs.IDs.Get(i); err == nil {
			hit.ID = fmt.Sprint(id)
		}
		for _, f := range req.OutputFields {
			col := rs.GetColumn(f)
			if col == nil {
				continue
			}
			if v, err := col.Get(i); err == nil {
				hit.Fields[f] = v
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func milvusExpr(f Filter) string {
	switch v := f.Value.(type) {
	case bool:
		return fmt.Sprintf("%s == %t", f.Field, v)
	case int64:
		return fmt.Sprintf("%s == %d", f.Field, v)
	default:
		return fmt.Sprintf("%s == %s", f.Field, strconv.Quote(fmt.Sprint(v)))
	}
}

func (m *MilvusBackend) Query(ctx context.Context, name string, filter Filter, outputFields []string, limit int) ([]map[string]any, error) {
	rs, err := m.client.Query(ctx, milvusclient.NewQueryOption(name).
		WithFilter(milvusExpr(filter)).
		WithOutputFields(outputFields...).
		WithLimit(limit))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, rs.ResultCount)
	for i := range out {
		row := make(map[string]any, len(outputFields))
		for _, f := range outputFields {
			if col := rs.GetColumn(f); col != nil {
				if v, err := col.Get(i); err == nil {
					row[f] = v
				}
			}
		}
		out[i] = row
	}
	return out, nil
}

func (m *MilvusBackend) Count(ctx context.Context, name string) (int64, error) {
	rs, err := m.client.Query(ctx, milvusclient.NewQueryOption(name).WithOutputFields("count(*)"))
	if err != nil {
		return 0, err
	}
	col := rs.GetColumn("count(*)")
	if col == nil {
		return 0, fmt.Errorf("count(*) missing from result")
	}
	v, err := col.Get(0)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
	return n, nil
}

func (m *MilvusBackend) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}
