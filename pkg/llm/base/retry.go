package base

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// DelayType maps the configured backoff type to a retry-go delay function.
// Anything other than "fixed" backs off exponentially.
func DelayType(backoffType string) retry.DelayTypeFunc {
	if backoffType == "fixed" {
		return retry.FixedDelay
	}
	return retry.BackOffDelay
}

// Do runs fn under the retry policy in cfg. Only errors accepted by
// retryable are retried; the last error is returned together with every
// error seen along the way.
func Do(ctx context.Context, provider string, cfg llmtypes.RetryConfig, retryable func(error) bool, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg = llmtypes.DefaultRetryConfig
	}

	var originalErrors []error

	err := retry.Do(
		func() error {
			err := fn()
			if err != nil {
				originalErrors = append(originalErrors, err)
			}
			return err
		},
		retry.RetryIf(retryable),
		retry.Attempts(uint(cfg.Attempts)),
		retry.Delay(time.Duration(cfg.InitialDelay)*time.Millisecond),
		retry.DelayType(DelayType(cfg.BackoffType)),
		retry.MaxDelay(time.Duration(cfg.MaxDelay)*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).
				WithField("provider", provider).
				WithField("attempt", n+1).
				WithField("max_attempts", cfg.Attempts).
				Warn("retrying completion call")
		}),
	)

	if err != nil && len(originalErrors) > 1 {
		return errors.Wrapf(err, "all %d retry attempts failed, original errors: %v", len(originalErrors), originalErrors)
	}
	return err
}
