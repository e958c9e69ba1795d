package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Dialer opens a fresh backend connection.
type Dialer func(ctx context.Context) (Backend, error)

// ConnectOptions controls connection retries.
type ConnectOptions struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultConnectOptions retries three times starting at two seconds.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{Attempts: 3, InitialDelay: 2 * time.Second, Multiplier: 2}
}

// Connect dials and pings the backend with exponential backoff. A failed
// attempt closes whatever it opened before the next one starts.
func Connect(ctx context.Context, dial Dialer, opts ConnectOptions, logger zerolog.Logger) (Backend, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.InitialDelay
	eb.Multiplier = opts.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxInterval = opts.InitialDelay * time.Duration(1<<opts.Attempts)

	attempt := 0
	op := func() (Backend, error) {
		attempt++
		b, err := dial(ctx)
		if err != nil {
			return nil, err
		}
		if err := b.Ping(ctx); err != nil {
			if cerr := b.Close(ctx); cerr != nil {
				logger.Debug().Err(cerr).Msg("Failed to close backend after ping failure")
			}
			return nil, err
		}
		return b, nil
	}

	b, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(opts.Attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("Vector store connection failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnection, attempt, err)
	}
	logger.Info().Str("backend", b.Name()).Int("attempt", attempt).Msg("Connected to vector store")
	return b, nil
}
