package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// maxBackoffFactor caps the reconnect delay at this multiple of the base period.
	maxBackoffFactor = 16
	backoffJitter    = 0.2
)

// retryDelay grows the reconnect delay exponentially with jitter and resets after a good connection.
type retryDelay struct {
	policy *backoff.ExponentialBackOff
}

func newBackoff(base time.Duration) *retryDelay {
	if base <= 0 {
		base = time.Second
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = base
	policy.Multiplier = 2
	policy.RandomizationFactor = backoffJitter
	policy.MaxInterval = base * maxBackoffFactor
	policy.MaxElapsedTime = 0 // reconnect forever
	policy.Reset()

	return &retryDelay{policy: policy}
}

// wait sleeps for the next delay; false means ctx ended first.
func (d *retryDelay) wait(ctx context.Context) bool {
	t := time.NewTimer(d.policy.NextBackOff())
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (d *retryDelay) reset() {
	d.policy.Reset()
}
