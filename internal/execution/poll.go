package execution

import (
	"context"
	"fmt"
	"time"
)

// PollConfig bounds a confirmation poll.
type PollConfig struct {
	Initial time.Duration
	Max     time.Duration
	MaxWait time.Duration
}

// DefaultPollConfig waits up to two seconds for a broker confirmation.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Initial: 50 * time.Millisecond,
		Max:     400 * time.Millisecond,
		MaxWait: 2 * time.Second,
	}
}

// Poll calls check with exponential backoff until it reports done, it
// fails, or MaxWait elapses. Running out of time yields ErrTimeout.
func Poll(ctx context.Context, cfg PollConfig, check func(context.Context) (bool, error)) error {
	if cfg.Initial <= 0 {
		cfg.Initial = 50 * time.Millisecond
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}

	deadline := time.Now().Add(cfg.MaxWait)
	backoff := cfg.Initial
	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("confirmation not ready after %d attempts: %w", attempt, ErrTimeout)
		}
		wait := min(backoff, remaining)

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation poll: %w", ErrTimeout)
		case <-time.After(wait):
		}
		backoff = min(backoff*2, cfg.Max)
	}
}
