// Package embedding turns text into unit-normalised vectors.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Encoder produces one embedding per text.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Normalize scales v to unit L2 norm in place. An all-zero vector is left unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// MeanPool averages a [seq, hidden] row-major matrix over its rows.
func MeanPool(data []float32, seq, hidden int) []float32 {
	out := make([]float32, hidden)
	if seq == 0 {
		return out
	}
	acc := make([]float64, hidden)
	for t := 0; t < seq; t++ {
		row := data[t*hidden : (t+1)*hidden]
		for i, x := range row {
			acc[i] += float64(x)
		}
	}
	for i := range out {
		out[i] = float32(acc[i] / float64(seq))
	}
	return out
}

// Probe encodes a fixed string to discover the vector dimension of enc.
func Probe(ctx context.Context, enc Encoder) (int, error) {
	v, err := enc.Encode(ctx, "test")
	if err != nil {
		return 0, fmt.Errorf("embedding probe failed: %w", err)
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("embedding probe returned an empty vector")
	}
	return len(v), nil
}
