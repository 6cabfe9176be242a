// Package retry wraps cenkalti/backoff with the two retry shapes used in this
// repo: a bounded-attempt call for setup paths that must eventually give up,
// and a best-effort call whose failure is logged and swallowed.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
)

// Do runs op up to attempts times with exponential backoff between tries,
// bounding each try with perTry if it is non-zero. The last error is
// returned once the budget is exhausted.
func Do(ctx context.Context, attempts uint64, perTry time.Duration, op func(context.Context) error) error {
	wrapped := func() error {
		tryCtx := ctx
		if perTry > 0 {
			var cancel context.CancelFunc
			tryCtx, cancel = context.WithTimeout(ctx, perTry)
			defer cancel()
		}
		return op(tryCtx)
	}
	if attempts == 0 {
		attempts = 1
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), attempts-1)
	return backoff.Retry(wrapped, backoff.WithContext(b, ctx))
}

// BestEffort runs op up to attempts times and logs the final error instead of
// returning it. Report paths use this so a flaky platform API never escalates
// to a fatal error.
func BestEffort(ctx context.Context, attempts uint64, what string, op func(context.Context) error) {
	if err := Do(ctx, attempts, 0, op); err != nil {
		log.WithFields(log.Fields{"op": what, "error": err}).Error("Best effort operation failed")
	}
}
