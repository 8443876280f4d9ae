// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// startRetry is the policy for launching cell containers. One retry covers
// the rootless podman and registry flakes seen on CI hosts.
var startRetry = retryPolicy{attempts: 2, backoff: 2 * time.Second}

// retryPolicy repeats an engine call while it fails with a transient error.
// The delay doubles after each failed attempt.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

// do runs op until it succeeds, fails permanently or the attempts are used
// up. The last error is returned. Waiting stops as soon as ctx is done.
func (p retryPolicy) do(ctx context.Context, what string, op func() error) error {
	delay := p.backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		kind := classifyFailure(err)
		if kind == failurePermanent || attempt >= p.attempts {
			return err
		}

		slog.Debug("retrying container engine call", "op", what, "attempt", attempt, "failure", kind.String(), "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: retry abandoned: %w", what, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
}
