package embedding

import (
	"context"
	"fmt"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/inference"
)

// DefaultMaxTokens is the truncation length applied before inference.
const DefaultMaxTokens = 512

// ONNXEncoder runs a sentence-embedding model through ONNX Runtime and
// mean-pools the token outputs.
type ONNXEncoder struct {
	tokenizer inference.Tokenizer
	session   *inference.Session
	maxTokens int
	dim       int
}

// NewONNXEncoder loads the tokenizer and model. The ONNX runtime must be
// initialised with inference.InitRuntime first.
func NewONNXEncoder(modelPath, tokenizerPath string, maxTokens int) (*ONNXEncoder, error) {
	tk, err := inference.LoadTokenizer(tokenizerPath)
	if err != nil {
		return nil, err
	}
	sess, err := inference.NewSession(modelPath)
	if err != nil {
		return nil, err
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &ONNXEncoder{
		tokenizer: tk,
		session:   sess,
		maxTokens: maxTokens,
		dim:       int(sess.HiddenSize()),
	}, nil
}

// Encode returns the normalised mean-pooled embedding of text.
func (e *ONNXEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc, err := e.tokenizer.Encode(text)
	if err != nil {
		return nil, err
	}
	enc = enc.Truncate(e.maxTokens)
	if enc.Len() == 0 {
		return nil, fmt.Errorf("tokenizer produced no tokens")
	}

	out, err := e.session.Run(inference.Pad([]inference.Encoding{enc}))
	if err != nil {
		return nil, err
	}
	if len(out.Shape) != 3 {
		return nil, fmt.Errorf("unexpected embedding output rank %d", len(out.Shape))
	}
	seq, hidden := int(out.Shape[1]), int(out.Shape[2])
	return Normalize(MeanPool(out.Data, seq, hidden)), nil
}

// Dimension returns the model hidden size
func (e *ONNXEncoder) Dimension() int { return e.dim }

// Close releases the ONNX session
func (e *ONNXEncoder) Close() error {
	return e.session.Close()
}
