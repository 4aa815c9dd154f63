// Package retryx is the cross-cutting retry/backoff decorator spec.md §9
// calls for: "Retry is a cross-cutting concern... not as ad-hoc loops inside
// nodes." It wraps github.com/sethvargo/go-retry, promoted here from the
// teacher's indirect dependency (pulled in transitively via pressly/goose)
// to direct use. The LLM and ERP clients use it (up to 3 retries, factor 2);
// the OAuth channel adapter runs its own 401 retry loop.
package retryx

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Transient marks an error as retryable. Node/client code wraps a transient
// failure (network error, 5xx, 429, timeout) in Transient before returning
// it from the function passed to Do; anything else aborts the retry loop
// immediately.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return retry.RetryableError(err)
}

// Config controls the exponential backoff applied by Do.
type Config struct {
	MaxAttempts int           // total attempts including the first, e.g. 4 for "retried up to 3 times"
	Base        time.Duration // backoff base; attempt n waits Base * 2^(n-1)
}

// DefaultConfig is the factor-2 backoff for network/transient errors: four
// attempts in all, i.e. the first call plus up to 3 retries.
var DefaultConfig = Config{MaxAttempts: 4, Base: time.Second}

// Do runs fn under exponential backoff. fn must wrap any error it wants
// retried in Transient; a plain error returned from fn aborts immediately
// without further attempts.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig
	}
	backoff := retry.NewExponential(cfg.Base)
	backoff = retry.WithMaxRetries(uint64(cfg.MaxAttempts-1), backoff)
	return retry.Do(ctx, backoff, fn)
}
