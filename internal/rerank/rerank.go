// Package rerank scores (query, document) pairs with a cross-encoder.
package rerank

import (
	"context"
	"errors"
	"fmt"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/inference"
)

// ErrUnavailable is returned by Unavailable.
var ErrUnavailable = errors.New("reranker is not available")

// Reranker assigns one relevance score per document; higher is better.
type Reranker interface {
	Score(ctx context.Context, query string, docs []string) ([]float32, error)
}

// Unavailable is the Reranker used when no cross-encoder model is loaded.
type Unavailable struct{}

// Score always fails.
func (Unavailable) Score(context.Context, string, []string) ([]float32, error) {
	return nil, ErrUnavailable
}

// CrossEncoder runs a sequence-classification ONNX model over tokenized pairs.
type CrossEncoder struct {
	tokenizer inference.Tokenizer
	session   *inference.Session
	maxTokens int
}

// NewCrossEncoder loads the cross-encoder tokenizer and model.
func NewCrossEncoder(modelPath, tokenizerPath string, maxTokens int) (*CrossEncoder, error) {
	tk, err := inference.LoadTokenizer(tokenizerPath)
	if err != nil {
		return nil, err
	}
	sess, err := inference.NewSession(modelPath)
	if err != nil {
		return nil, err
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &CrossEncoder{tokenizer: tk, session: sess, maxTokens: maxTokens}, nil
}

// Score returns the first logit of each (query, doc) pair.
func (c *CrossEncoder) Score(ctx context.Context, query string, docs []string) ([]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encs := make([]inference.Encoding, len(docs))
	for i, d := range docs {
		enc, err := c.tokenizer.EncodePair(query, d)
		if err != nil {
			return nil, err
		}
		encs[i] = enc.Truncate(c.maxTokens)
	}

	out, err := c.session.Run(inference.Pad(encs))
	if err != nil {
		return nil, err
	}
	return Logits(out, len(docs))
}

// Close releases the ONNX session
func (c *CrossEncoder) Close() error {
	return c.session.Close()
}

// Logits takes the first label of each row of a [n, labels] output.
func Logits(out inference.Output, n int) ([]float32, error) {
	if len(out.Shape) != 2 || int(out.Shape[0]) != n || out.Shape[1] < 1 {
		return nil, fmt.Errorf("unexpected cross-encoder output shape %v", out.Shape)
	}
	labels := int(out.Shape[1])
	scores := make([]float32, n)
	for i := range scores {
		scores[i] = out.Data[i*labels]
	}
	return scores, nil
}
