package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "veloxbot/pkg/logx"
)

// ErrExhausted marks a delivery that failed on every attempt. The last
// underlying error is wrapped alongside it.
var ErrExhausted = errors.New("delivery attempts exhausted")

// RetryPolicy is a fixed number of attempts with a fixed inter-attempt
// delay. Call sites never carry their own attempt counts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Delay <= 0 {
		p.Delay = 5 * time.Second
	}
	return p
}

// sendWithRetry runs send until it succeeds or the policy is exhausted.
func sendWithRetry(ctx context.Context, log logx.Logger, pol RetryPolicy, send func(context.Context) error) error {
	pol = pol.withDefaults()

	var last error
	for attempt := 1; attempt <= pol.Attempts; attempt++ {
		err := send(ctx)
		if err == nil {
			return nil
		}
		last = err
		if attempt == pol.Attempts {
			break
		}

		log.Debug("delivery retry scheduled",
			logx.Int("attempt", attempt+1), logx.Duration("delay", pol.Delay), logx.Err(err))
		tmr := time.NewTimer(pol.Delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, pol.Attempts, last)
}
