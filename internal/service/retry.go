package service

import (
	"context"
	"math"
	"math/rand"
	"time"

	"zoneplane/internal/apperr"
)

const (
	backoffBaseMs = 20
	backoffFactor = 1.5
	jitterRatio   = 0.1
)

// backoffWithJitter returns base * factor^retry plus up to 10% positive
// jitter.
func backoffWithJitter(retry int) time.Duration {
	ms := float64(backoffBaseMs) * math.Pow(backoffFactor, float64(retry))
	jitter := 0
	if n := int(ms * jitterRatio); n > 0 {
		jitter = rand.Intn(n)
	}
	return time.Duration(ms+float64(jitter)) * time.Millisecond
}

// retryOnConflict runs fn up to attempts times while it fails with a
// persistence uniqueness conflict. Business-rule conflicts are returned
// immediately.
func retryOnConflict(ctx context.Context, attempts int, backoff func(int) time.Duration, onRetry func(int), fn func() error) error {
	var err error
	for retry := 0; retry < attempts; retry++ {
		if retry > 0 {
			onRetry(retry)
			if d := backoff(retry); d > 0 {
				t := time.NewTimer(d)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
		}
		err = fn()
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	if attempts <= 1 {
		return err
	}
	return apperr.Conflict("allocation still conflicting after %d attempts: %v", attempts, err)
}

func isUniqueViolation(err error) bool {
	return apperr.IsConflict(err) && apperr.ReasonOf(err) == "unique"
}
