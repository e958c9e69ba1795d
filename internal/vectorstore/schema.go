package vectorstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// FieldType is the storage type of a collection field.
type FieldType int

const (
	FieldVarChar FieldType = iota + 1
	FieldInt64
	FieldBool
	FieldFloat
	FieldFloatVector
)

func (t FieldType) String() string {
	switch t {
	case FieldVarChar:
		return "VarChar"
	case FieldInt64:
		return "Int64"
	case FieldBool:
		return "Bool"
	case FieldFloat:
		return "Float"
	case FieldFloatVector:
		return "FloatVector"
	default:
		return "FieldType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Field describes one column of a collection.
type Field struct {
	Name       string
	Type       FieldType
	MaxLength  int
	Dim        int
	PrimaryKey bool
}

// Schema is the ordered field list of a collection.
type Schema struct {
	Fields []Field
}

// Field names of the canonical schema.
const (
	FieldID                    = "id"
	FieldDocument              = "document"
	FieldEmbedding             = "embedding"
	FieldFileName              = "file_name"
	FieldFilePath              = "file_path"
	FieldFileType              = "file_type"
	FieldSourceLink            = "source_link"
	FieldGithubLink            = "github_link"
	FieldChunkIndex            = "chunk_index"
	FieldLanguage              = "language"
	FieldHasCode               = "has_code"
	FieldRepoName              = "repo_name"
	FieldContentQualityScore   = "content_quality_score"
	FieldSemanticDensityScore  = "semantic_density_score"
	FieldInformationValueScore = "information_value_score"
	FieldImageLinks            = "image_links"
)

// ScalarIndexFields are indexed for filtering when a collection is created.
var ScalarIndexFields = []string{FieldFileType, FieldLanguage, FieldRepoName, FieldHasCode}

// CanonicalSchema is the layout of newly created collections.
func CanonicalSchema(dim int) Schema {
	return Schema{Fields: []Field{
		{Name: FieldID, Type: FieldVarChar, MaxLength: 100, PrimaryKey: true},
		{Name: FieldDocument, Type: FieldVarChar, MaxLength: 65535},
		{Name: FieldEmbedding, Type: FieldFloatVector, Dim: dim},
		{Name: FieldFileName, Type: FieldVarChar, MaxLength: 500},
		{Name: FieldFilePath, Type: FieldVarChar, MaxLength: 1000},
		{Name: FieldFileType, Type: FieldVarChar, MaxLength: 50},
		{Name: FieldSourceLink, Type: FieldVarChar, MaxLength: 2000},
		{Name: FieldGithubLink, Type: FieldVarChar, MaxLength: 2000},
		{Name: FieldChunkIndex, Type: FieldInt64},
		{Name: FieldLanguage, Type: FieldVarChar, MaxLength: 50},
		{Name: FieldHasCode, Type: FieldBool},
		{Name: FieldRepoName, Type: FieldVarChar, MaxLength: 200},
		{Name: FieldContentQualityScore, Type: FieldFloat},
		{Name: FieldSemanticDensityScore, Type: FieldFloat},
		{Name: FieldInformationValueScore, Type: FieldFloat},
		{Name: FieldImageLinks, Type: FieldVarChar, MaxLength: 8192},
	}}
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Has reports whether the schema contains name.
func (s Schema) Has(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// Dim returns the dimension of the first vector field, or 0.
func (s Schema) Dim() int {
	for _, f := range s.Fields {
		if f.Type == FieldFloatVector {
			return f.Dim
		}
	}
	return 0
}

// Names returns the field names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// ScalarNames returns the non-vector field names in schema order.
func (s Schema) ScalarNames() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Type != FieldFloatVector {
			out = append(out, f.Name)
		}
	}
	return out
}

// Row is one record laid out in schema field order.
type Row []any

// MapRecord lays record out in schema order. Missing fields get the typed
// default, unknown keys are dropped and strings are cut to the field's
// maximum byte length. It never mutates its inputs.
func MapRecord(schema Schema, record map[string]any) Row {
	row := make(Row, len(schema.Fields))
	for i, f := range schema.Fields {
		row[i] = coerce(f, record[f.Name])
	}
	return row
}

// MapRecords applies MapRecord to every record.
func MapRecords(schema Schema, records []map[string]any) []Row {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = MapRecord(schema, r)
	}
	return rows
}

// Column is one field's values across a batch, in row order.
type Column struct {
	Field  Field
	Values []any
}

// BuildColumns lays records out column-wise in schema order, applying the
// same coercion as MapRecord.
func BuildColumns(schema Schema, records []map[string]any) []Column {
	return columnsOf(schema, MapRecords(schema, records))
}

func columnsOf(schema Schema, rows []Row) []Column {
	cols := make([]Column, len(schema.Fields))
	for i, f := range schema.Fields {
		cols[i] = Column{Field: f, Values: make([]any, len(rows))}
		for r, row := range rows {
			cols[i].Values[r] = row[i]
		}
	}
	return cols
}

// RowMap converts a row back into a field map.
func RowMap(schema Schema, row Row) map[string]any {
	m := make(map[string]any, len(schema.Fields))
	for i, f := range schema.Fields {
		if i < len(row) {
			m[f.Name] = row[i]
		}
	}
	return m
}

func coerce(f Field, v any) any {
	switch f.Type {
	case FieldVarChar:
		var s string
		switch x := v.(type) {
		case nil:
		case string:
			s = x
		case fmt.Stringer:
			s = x.String()
		default:
			s = fmt.Sprint(x)
		}
		if f.MaxLength > 0 {
			s = TruncateBytes(s, f.MaxLength)
		}
		return s
	case FieldInt64:
		switch x := v.(type) {
		case int:
			return int64(x)
		case int32:
			return int64(x)
		case int64:
			return x
		case float32:
			return int64(x)
		case float64:
			return int64(x)
		}
		return int64(0)
	case FieldBool:
		if b, ok := v.(bool); ok {
			return b
		}
		return false
	case FieldFloat:
		switch x := v.(type) {
		case float32:
			return x
		case float64:
			return float32(x)
		case int:
			return float32(x)
		case int64:
			return float32(x)
		}
		return float32(0)
	case FieldFloatVector:
		if vec, ok := v.([]float32); ok && len(vec) > 0 {
			out := make([]float32, len(vec))
			copy(out, vec)
			return out
		}
		return make([]float32, f.Dim)
	}
	return v
}

// TruncateBytes cuts s to at most max bytes without splitting a UTF-8 sequence.
func TruncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

type fieldJSON struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	MaxLength  int    `json:"max_length,omitempty"`
	Dim        int    `json:"dim,omitempty"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// EncodeSchema serialises schema for stores that keep it as collection
// metadata.
func EncodeSchema(schema Schema) (string, error) {
	out := make([]fieldJSON, len(schema.Fields))
	for i, f := range schema.Fields {
		out[i] = fieldJSON{Name: f.Name, Type: f.Type.String(), MaxLength: f.MaxLength, Dim: f.Dim, PrimaryKey: f.PrimaryKey}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeSchema parses the output of EncodeSchema.
func DecodeSchema(s string) (Schema, error) {
	var in []fieldJSON
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		return Schema{}, fmt.Errorf("%w: decode schema: %w", ErrSchemaMismatch, err)
	}
	schema := Schema{Fields: make([]Field, len(in))}
	for i, f := range in {
		t, ok := parseFieldType(f.Type)
		if !ok {
			return Schema{}, fmt.Errorf("%w: unknown field type %q", ErrSchemaMismatch, f.Type)
		}
		schema.Fields[i] = Field{Name: f.Name, Type: t, MaxLength: f.MaxLength, Dim: f.Dim, PrimaryKey: f.PrimaryKey}
	}
	return schema, nil
}

func parseFieldType(s string) (FieldType, bool) {
	for t := FieldVarChar; t <= FieldFloatVector; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}
