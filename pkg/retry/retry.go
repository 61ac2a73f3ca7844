package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/topoquery/backend/pkg/logger"
)

// Config controls exponential backoff. Zero values fall back to sane
// defaults so callers only set what they care about.
type Config struct {
	Attempts int
	BaseWait time.Duration
	MaxWait  time.Duration
	// Retryable limits retries to errors matching one of these; empty
	// retries everything.
	Retryable []error
}

func (cfg Config) withDefaults() Config {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseWait <= 0 {
		cfg.BaseWait = 100 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Second
	}
	return cfg
}

// wait doubles the base per attempt, capped at MaxWait, with up to 10%
// jitter either way so synchronized callers fan out.
func (cfg Config) wait(attempt int) time.Duration {
	d := cfg.BaseWait << uint(attempt-1)
	if d > cfg.MaxWait || d <= 0 {
		d = cfg.MaxWait
	}
	jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(d))
	return d + jitter
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out, or the context ends. The last error is returned on exhaustion.
func Do(ctx context.Context, cfg Config, op func() error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			if attempt > 1 {
				logger.Debug("Succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}

		if !retryable(lastErr, cfg.Retryable) || attempt == cfg.Attempts {
			break
		}

		logger.Warn("Retrying after failure",
			zap.Error(lastErr),
			zap.Int("attempt", attempt),
			zap.Int("attempts", cfg.Attempts),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.wait(attempt)):
		}
	}
	return lastErr
}

func retryable(err error, allowed []error) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
