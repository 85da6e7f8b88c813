package provider

import (
	"context"
	"time"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
)

// RetryPolicy bounds send attempts per recipient. Backoff doubles per
// attempt starting from BaseBackoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// SendWithRetry drives the gateway under the policy. Permanent failures stop
// immediately; transient and unknown ones retry until attempts run out. The
// onRetry hook records the attempt count on the recipient row between tries.
func SendWithRetry(ctx context.Context, g Gateway, p RetryPolicy, phone, body string, onRetry func(attempt int, err error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		id, err := g.Send(ctx, phone, body)
		if err == nil {
			return id, nil
		}
		lastErr = err

		pe, ok := appErrors.AsProvider(err)
		if !ok || !pe.Retryable() {
			return "", err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}
