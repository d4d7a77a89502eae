package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff for infrastructure calls made
// inside a tick. The elapsed budget is capped (10 s by default) so a flaky
// tmux server delays a tick, never wedges it.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default probe retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// paneProbe wraps the pane liveness check with retry and a circuit breaker,
// so one wedged tmux server trips fast instead of hammering every tick.
type paneProbe struct {
	panes    Panes
	cb       *gobreaker.CircuitBreaker
	retryCfg RetryConfig
}

func newPaneProbe(panes Panes) *paneProbe {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pane",
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// User cancellation is not a pane failure.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &paneProbe{panes: panes, cb: cb, retryCfg: DefaultRetryConfig()}
}

// alive probes the pane through the breaker, retrying transient failures
// with exponential backoff.
func (p *paneProbe) alive(ctx context.Context, paneNo int) (bool, error) {
	var alive bool

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		result, err := p.cb.Execute(func() (interface{}, error) {
			return p.panes.Alive(paneNo)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		alive = result.(bool)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.retryCfg.InitialInterval
	policy.MaxInterval = p.retryCfg.MaxInterval
	policy.MaxElapsedTime = p.retryCfg.MaxElapsedTime
	policy.Multiplier = p.retryCfg.Multiplier
	policy.RandomizationFactor = p.retryCfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return alive, err
}
