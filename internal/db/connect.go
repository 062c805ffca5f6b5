package db

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v5"
	"go.uber.org/zap"
)

// ConnectRetry configures how long startup waits for a backend that is not
// accepting connections yet.
type ConnectRetry struct {
	Attempts uint
	Delay    time.Duration
}

// Connect calls dial until it succeeds, attempts run out or ctx is done. It
// is used only at startup; request-path calls are never retried.
func Connect[T any](ctx context.Context, logger *zap.Logger, name string, rc ConnectRetry, dial func() (T, error)) (T, error) {
	if rc.Attempts == 0 {
		rc.Attempts = 1
	}
	var out T
	attempt := 0
	err := retry.New(
		retry.Attempts(rc.Attempts),
		retry.Delay(rc.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		attempt++
		v, err := dial()
		if err != nil {
			logger.Warn("backend not ready",
				zap.String("backend", name),
				zap.Int("attempt", attempt),
				zap.Uint("max_attempts", rc.Attempts),
				zap.Error(err))
			return err
		}
		out = v
		return nil
	})
	return out, err
}
