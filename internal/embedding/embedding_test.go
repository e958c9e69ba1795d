package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	dim   int
	fail  func(string) bool
	calls int
}

func (f *fakeEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.fail != nil && f.fail(text) {
		return nil, errors.New("inference failed")
	}
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = float32(len(text) + i)
	}
	return Normalize(v), nil
}

func (f *fakeEncoder) Dimension() int { return f.dim }

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, norm(v), 1e-5)

	zero := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestMeanPool(t *testing.T) {
	got := MeanPool([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []float32{2.5, 3.5, 4.5}, got)
	assert.Equal(t, []float32{0, 0}, MeanPool(nil, 0, 2))
}

func TestProbe(t *testing.T) {
	dim, err := Probe(context.Background(), &fakeEncoder{dim: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, dim)

	_, err = Probe(context.Background(), &fakeEncoder{dim: 8, fail: func(string) bool { return true }})
	assert.Error(t, err)
}

func TestEncodeBatchPlaceholders(t *testing.T) {
	enc := &fakeEncoder{dim: 4, fail: func(s string) bool { return strings.HasPrefix(s, "bad") }}
	b := NewBatcher(enc, 2, nil)

	texts := []string{"one", "bad-two", "three", "four", "bad-five"}
	res, err := b.EncodeBatch(context.Background(), texts, 4)
	require.NoError(t, err)

	require.Len(t, res.Vectors, len(texts))
	assert.Equal(t, []int{1, 4}, res.Placeholders)
	assert.Equal(t, make([]float32, 4), res.Vectors[1])
	assert.InDelta(t, 1.0, norm(res.Vectors[0]), 1e-5)
	assert.Equal(t, len(texts), enc.calls)
}

func TestEncodeBatchDimensionMismatch(t *testing.T) {
	b := NewBatcher(&fakeEncoder{dim: 3}, 0, nil)
	res, err := b.EncodeBatch(context.Background(), []string{"x"}, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.Placeholders)
	assert.Len(t, res.Vectors[0], 4)
}

func TestEncodeBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBatcher(&fakeEncoder{dim: 2}, 2, nil).EncodeBatch(ctx, []string{"a"}, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
