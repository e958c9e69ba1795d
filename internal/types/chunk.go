package types

import (
	"encoding/json"
)

// Chunk is one stored unit of content together with its vector and the
// metadata written alongside it.
type Chunk struct {
	ID                    string    `json:"id"`
	Document              string    `json:"document"`
	Embedding             []float32 `json:"embedding,omitempty"`
	FileName              string    `json:"file_name"`
	FilePath              string    `json:"file_path"`
	FileType              string    `json:"file_type"`
	SourceLink            string    `json:"source_link"`
	GithubLink            string    `json:"github_link"`
	ChunkIndex            int       `json:"chunk_index"`
	Language              string    `json:"language"`
	HasCode               bool      `json:"has_code"`
	RepoName              string    `json:"repo_name"`
	ContentQualityScore   float32   `json:"content_quality_score"`
	SemanticDensityScore  float32   `json:"semantic_density_score"`
	InformationValueScore float32   `json:"information_value_score"`
	ImageLinks            []string  `json:"image_links,omitempty"`
	AttachmentLinks       []string  `json:"attachment_links,omitempty"`
}

// Record flattens the chunk into the field map written to the vector store.
// image_links is stored as a JSON-encoded list.
func (c Chunk) Record() map[string]any {
	images := c.ImageLinks
	if images == nil {
		images = []string{}
	}
	encoded, _ := json.Marshal(images)

	return map[string]any{
		"id":                      c.ID,
		"document":                c.Document,
		"embedding":               c.Embedding,
		"file_name":               c.FileName,
		"file_path":               c.FilePath,
		"file_type":               c.FileType,
		"source_link":             c.SourceLink,
		"github_link":             c.GithubLink,
		"chunk_index":             int64(c.ChunkIndex),
		"language":                c.Language,
		"has_code":                c.HasCode,
		"repo_name":               c.RepoName,
		"content_quality_score":   c.ContentQualityScore,
		"semantic_density_score":  c.SemanticDensityScore,
		"information_value_score": c.InformationValueScore,
		"image_links":             string(encoded),
	}
}

// PhaseTimes holds wall-clock seconds spent in each ingestion phase.
type PhaseTimes struct {
	FetchTree    float64 `json:"fetch_tree"`
	ProcessFiles float64 `json:"process_files"`
	Embedding    float64 `json:"embedding"`
	Storage      float64 `json:"storage"`
}

// Stats summarises one ingestion run. FilesWithCode counts chunks flagged
// has_code; the key name is kept for API compatibility.
type Stats struct {
	FilesProcessed        int        `json:"files_processed"`
	ChunksGenerated       int        `json:"chunks_generated"`
	FilesWithCode         int        `json:"files_with_code"`
	AvgQualityScore       float64    `json:"avg_quality_score"`
	TotalTime             float64    `json:"total_time"`
	PhaseTimes            PhaseTimes `json:"phase_times"`
	FilesSkipped          int        `json:"files_skipped"`
	FilesFailed           int        `json:"files_failed"`
	FilesLatin1           int        `json:"files_latin1"`
	PlaceholderEmbeddings int        `json:"placeholder_embeddings"`
	RowsStored            int        `json:"rows_stored"`
	Degraded              []string   `json:"degraded,omitempty"`
}
