package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracingNoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, TracingConfig{ServiceName: "test"})
	require.NoError(t, err)
	require.NotNil(t, tp.Tracer())
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()

	ctx, root := StartIngestSpan(ctx, "col", "https://github.com/a/b")
	_, phase := StartPhaseSpan(ctx, "embedding")
	RecordError(phase, errors.New("boom"))
	RecordError(phase, nil)
	phase.End()
	root.End()

	_, search := StartSearchSpan(context.Background(), "col", 5, true)
	search.End()
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info().Msg("hidden")
	logger.Warn().Str("k", "v").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"k":"v"`)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestNewLoggerBadLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "loud", "console")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
