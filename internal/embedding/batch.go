package embedding

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBatchSize is the number of texts encoded per batch.
const DefaultBatchSize = 64

// BatchResult holds one vector per input text. Placeholders lists the
// indexes whose encoding failed and were replaced with zero vectors.
type BatchResult struct {
	Vectors      [][]float32
	Placeholders []int
}

// Batcher encodes many texts in fixed-size batches.
type Batcher struct {
	encoder   Encoder
	batchSize int
	logger    zerolog.Logger
}

// NewBatcher creates a Batcher over enc.
func NewBatcher(enc Encoder, batchSize int, logger *zerolog.Logger) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Batcher{encoder: enc, batchSize: batchSize, logger: l}
}

// Encoder returns the underlying encoder
func (b *Batcher) Encoder() Encoder { return b.encoder }

// EncodeBatch encodes texts in order. A failed item never aborts the batch;
// it becomes a zero vector of dim and is recorded in Placeholders. A
// cancelled context stops early and returns ctx.Err().
func (b *Batcher) EncodeBatch(ctx context.Context, texts []string, dim int) (BatchResult, error) {
	res := BatchResult{Vectors: make([][]float32, len(texts))}
	total := (len(texts) + b.batchSize - 1) / b.batchSize

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		b.logger.Debug().
			Int("batch", start/b.batchSize+1).
			Int("batches", total).
			Int("size", end-start).
			Msg("Encoding batch")

		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			v, err := b.encoder.Encode(ctx, texts[i])
			if err != nil || len(v) != dim {
				b.logger.Warn().Err(err).Int("index", i).Int("got_dim", len(v)).Msg("Embedding failed, using zero vector")
				v = make([]float32, dim)
				res.Placeholders = append(res.Placeholders, i)
			}
			res.Vectors[i] = v
		}
	}
	return res, nil
}
