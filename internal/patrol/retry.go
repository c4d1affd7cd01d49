package patrol

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// attemptFunc runs one single-attempt URL test; n is 1-based.
type attemptFunc func(n int) TestResult

// runWithRetry re-runs a single-URL test up to the policy's attempt
// budget. Content failures return immediately: they are not transient.
// Only infra-flagged failures are retried, with a fixed inter-attempt
// delay, and only while the policy allows it.
func runWithRetry(ctx context.Context, log *zap.Logger, policy RetryPolicy, name string, attempt attemptFunc) TestResult {
	max := policy.Attempts()
	var last *TestResult

	for n := 1; n <= max; n++ {
		res := attempt(n)

		if res.Status == StatusPass || !res.InfraError {
			return res
		}

		last = &res
		if n >= max || !policy.RetryOnInfra() {
			return res
		}

		log.Warn("infra failure, retrying",
			zap.String("url", res.URL),
			zap.String("name", name),
			zap.Int("attempt", n),
			zap.Int("max_attempts", max),
			zap.String("error", res.ErrorMessage))

		select {
		case <-ctx.Done():
			return res
		case <-time.After(policy.Delay()):
		}
	}

	if last != nil {
		return *last
	}
	// Attempt budget was zero or negative; report exhaustion.
	return TestResult{
		Name:         name,
		Status:       StatusFail,
		InfraError:   true,
		ErrorMessage: fmt.Sprintf("retry budget exhausted after %d attempts", max),
	}
}
