package llm

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ternlabs/tern/internal/logging"
)

// RetryOptions tunes the transport/quota retry policy that wraps each
// provider call.
type RetryOptions struct {
	MaxAttempts  int           // total attempts, default 5
	InitialDelay time.Duration // default 500ms, doubled per attempt
	MaxDelay     time.Duration // default 30s

	// Consecutive429Threshold is how many quota errors in a row trigger
	// the fallback handler. Default 2.
	Consecutive429Threshold int

	// OnPersistent429 is invoked once the threshold is reached; if it
	// switches models (returns true) the attempt counter resets.
	OnPersistent429 func(ctx context.Context) bool
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Consecutive429Threshold <= 0 {
		o.Consecutive429Threshold = 2
	}
	return o
}

// Retry runs fn under the transport/quota policy: HTTP 429 and 5xx are
// retried with exponential backoff and jitter, schema-kind errors are
// returned immediately, and persistent 429s consult the fallback hook.
func Retry(ctx context.Context, opts RetryOptions, fn func(ctx context.Context) error) error {
	opts = opts.withDefaults()
	logger := logging.Logger()

	delay := opts.InitialDelay
	consecutive429 := 0

	var err error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			jittered := delay + time.Duration(rand.Int64N(int64(delay/2)+1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jittered):
			}
			delay = min(delay*2, opts.MaxDelay)
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) {
			return err
		}

		if IsQuotaError(err) {
			consecutive429++
			if consecutive429 >= opts.Consecutive429Threshold && opts.OnPersistent429 != nil {
				if opts.OnPersistent429(ctx) {
					logger.Info("switched to fallback model after persistent quota errors",
						"attempts", attempt+1)
					// Fresh start against the fallback model.
					attempt = -1
					consecutive429 = 0
					delay = opts.InitialDelay
					opts.OnPersistent429 = nil
					continue
				}
				opts.OnPersistent429 = nil
			}
		} else {
			consecutive429 = 0
		}

		logger.Debug("retrying model request", "attempt", attempt+1, "err", err)
	}

	return err
}
