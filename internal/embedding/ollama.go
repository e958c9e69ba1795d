package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaEncoder requests embeddings from an Ollama server.
type OllamaEncoder struct {
	client *api.Client
	model  string

	dim atomic.Int64
}

// NewOllamaEncoder creates an encoder against host (e.g. http://localhost:11434).
func NewOllamaEncoder(host, model string) (*OllamaEncoder, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return &OllamaEncoder{
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
	}, nil
}

// Encode returns the normalised embedding of text.
func (o *OllamaEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:     o.model,
		Prompt:    text,
		KeepAlive: &api.Duration{Duration: 60 * time.Minute},
	}
	resp, err := o.client.Embeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}

	emb := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		emb[i] = float32(v)
	}
	o.dim.CompareAndSwap(0, int64(len(emb)))
	return Normalize(emb), nil
}

// Dimension returns the vector size seen on the first successful call, or 0
// before any call; use Probe to force discovery.
func (o *OllamaEncoder) Dimension() int { return int(o.dim.Load()) }
