package endpoint

import (
	"context"
	"errors"
	"fmt"

	"df2redis/internal/metrics"
)

// Policy configures the retry/reconnect supervisor from the
// migrate_retries / migrate_flush configuration keys.
type Policy struct {
	// MaxRetries bounds re-emission attempts after a reconnect. Only
	// consulted when FlushPerCommand is true, since otherwise the
	// command that actually failed inside a batch is ambiguous.
	MaxRetries int
	// FlushPerCommand mirrors migrate_flush=yes: each command is
	// flushed individually, so the failing command is known exactly.
	FlushPerCommand bool
}

// Supervisor implements a two-branch reconnect policy: reopen the
// connection, then re-emit the failed command only when the caller can
// identify exactly which one it was. It holds no reference to any pool
// or lane; callers supply a reopen closure bound to the specific (node,
// lane) that failed, which keeps this package free of a dependency on
// internal/pool.
type Supervisor struct {
	policy Policy
}

// NewSupervisor builds a Supervisor from policy.
func NewSupervisor(policy Policy) *Supervisor {
	return &Supervisor{policy: policy}
}

// HandleFailure reopens the endpoint via reopen and, when the policy
// allows it, re-emits lastCmd up to MaxRetries times. lastCmd is nil
// when the caller is in batched-flush mode, where the failed command
// inside the batch can't be identified — such lost commands under
// batched flush are never retried by design.
//
// The returned *Endpoint is always the freshly reopened one (nil only
// if reopen itself failed); err is non-nil when a reopen fails or when
// the command could not be delivered after exhausting retries.
func (s *Supervisor) HandleFailure(ctx context.Context, addr string, stats metrics.Sink, reopen func(context.Context) (*Endpoint, error), lastCmd []interface{}) (*Endpoint, error) {
	if stats != nil {
		stats.Inc(metrics.EndpointReconnect, addr, "", 1)
	}
	fresh, err := reopen(ctx)
	if err != nil {
		return nil, fmt.Errorf("endpoint: reopen %s: %w", addr, err)
	}

	if !s.policy.FlushPerCommand || s.policy.MaxRetries <= 0 || lastCmd == nil {
		// Batch boundary ambiguous, or retries disabled: surface the
		// failure to the worker, which logs and continues with the
		// next event. The lost batch is not retried.
		return fresh, nil
	}

	var lastErr error
	for attempt := 0; attempt < s.policy.MaxRetries; attempt++ {
		_, sendErr := fresh.Send(lastCmd...)
		if sendErr == nil {
			return fresh, nil
		}
		lastErr = sendErr

		var replyErr *ReplyError
		if errors.As(sendErr, &replyErr) {
			// The command was delivered and the server answered with
			// an error reply (e.g. BUSYKEY); that's not a transport
			// fault, so there is nothing left to retry.
			return fresh, nil
		}

		if stats != nil {
			stats.Inc(metrics.EndpointReconnect, addr, "", 1)
		}
		fresh, err = reopen(ctx)
		if err != nil {
			return nil, fmt.Errorf("endpoint: reopen %s during retry: %w", addr, err)
		}
	}
	return fresh, lastErr
}
