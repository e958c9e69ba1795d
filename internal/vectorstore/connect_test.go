package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyBackend struct {
	*MemoryBackend
	pingErr error
	closed  *int
}

func (f flakyBackend) Ping(context.Context) error { return f.pingErr }

func (f flakyBackend) Close(context.Context) error {
	*f.closed++
	return nil
}

func TestConnectRetriesAndCloses(t *testing.T) {
	closed := 0
	dials := 0
	dial := func(ctx context.Context) (Backend, error) {
		dials++
		if dials < 3 {
			return flakyBackend{MemoryBackend: NewMemoryBackend(), pingErr: errors.New("unavailable"), closed: &closed}, nil
		}
		return flakyBackend{MemoryBackend: NewMemoryBackend(), closed: &closed}, nil
	}

	b, err := Connect(context.Background(), dial, ConnectOptions{Attempts: 3, InitialDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Equal(t, 3, dials)
	assert.Equal(t, 2, closed)
}

func TestConnectGivesUp(t *testing.T) {
	dials := 0
	dial := func(ctx context.Context) (Backend, error) {
		dials++
		return nil, errors.New("refused")
	}

	_, err := Connect(context.Background(), dial, ConnectOptions{Attempts: 3, InitialDelay: time.Millisecond}, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, 3, dials)
}
