package vectorstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInitialisesOnce(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(func(ctx context.Context, name string) (*Collection, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &Collection{Name: name}, nil
	})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.Get(context.Background(), "docs")
			assert.NoError(t, err)
			assert.Equal(t, "docs", c.Name)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"docs"}, r.Names())
}

func TestRegistryEvictsFailures(t *testing.T) {
	fail := true
	r := NewRegistry(func(ctx context.Context, name string) (*Collection, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return &Collection{Name: name}, nil
	})

	_, err := r.Get(context.Background(), "docs")
	require.Error(t, err)
	assert.Zero(t, r.Len())

	fail = false
	c, err := r.Get(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", c.Name)
	assert.Equal(t, 1, r.Len())
}
