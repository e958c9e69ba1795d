package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/inference"
)

func TestUnavailable(t *testing.T) {
	var r Reranker = Unavailable{}
	_, err := r.Score(context.Background(), "q", []string{"a"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLogits(t *testing.T) {
	scores, err := Logits(inference.Output{Shape: []int64{3, 1}, Data: []float32{0.5, -1, 2}}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2}, scores)

	scores, err = Logits(inference.Output{Shape: []int64{2, 2}, Data: []float32{1, 9, 3, 9}}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 3}, scores)

	_, err = Logits(inference.Output{Shape: []int64{2, 1}, Data: []float32{1, 2}}, 3)
	assert.Error(t, err)
}
