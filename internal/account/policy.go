package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// PolicyConfig tunes the resilience wrapper around a Port. Zero values
// fall back to the defaults below.
type PolicyConfig struct {
	// Deadline applies per attempt, independent of the caller deadline.
	Deadline time.Duration
	// MaxRetries bounds re-attempts after the first call. Only
	// ErrUnavailable outcomes are retried; business errors never are.
	MaxRetries uint64
	// RetryInitialInterval seeds the exponential backoff between attempts.
	RetryInitialInterval time.Duration
	// BreakerOpenAfter is the consecutive-failure count that opens the
	// circuit; BreakerCooldown is how long it stays open.
	BreakerOpenAfter uint32
	BreakerCooldown  time.Duration
}

func (c PolicyConfig) withDefaults() PolicyConfig {
	if c.Deadline <= 0 {
		c.Deadline = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
	if c.BreakerOpenAfter == 0 {
		c.BreakerOpenAfter = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 10 * time.Second
	}
	return c
}

type policy struct {
	inner   Port
	cfg     PolicyConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// WithPolicy wraps a Port with the per-call deadline, bounded retry, and
// circuit breaker the orchestrator stays unaware of. Business failures
// pass through untouched and do not trip the breaker; only unavailability
// counts against it.
func WithPolicy(inner Port, cfg PolicyConfig, logger *zap.Logger) Port {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "account-port",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerOpenAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("account breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &policy{inner: inner, cfg: cfg, breaker: breaker, logger: logger}
}

func (p *policy) Lookup(ctx context.Context, accountID string) (Account, error) {
	var out Account
	err := p.do(ctx, "lookup", func(callCtx context.Context) error {
		var err error
		out, err = p.inner.Lookup(callCtx, accountID)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

func (p *policy) Debit(ctx context.Context, accountID string, amount decimal.Decimal, clientRef string) (string, error) {
	var txID string
	err := p.do(ctx, "debit", func(callCtx context.Context) error {
		var err error
		txID, err = p.inner.Debit(callCtx, accountID, amount, clientRef)
		return err
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}

func (p *policy) Credit(ctx context.Context, accountID string, amount decimal.Decimal, clientRef string) (string, error) {
	var txID string
	err := p.do(ctx, "credit", func(callCtx context.Context) error {
		var err error
		txID, err = p.inner.Credit(callCtx, accountID, amount, clientRef)
		return err
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}

func (p *policy) do(ctx context.Context, op string, call func(context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Deadline)
		defer cancel()

		_, err := p.breaker.Execute(func() (any, error) {
			return nil, call(callCtx)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("%w: breaker rejected %s", ErrUnavailable, op))
		case errors.Is(err, ErrUnavailable):
			p.logger.Debug("account call unavailable, may retry",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			return err
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return backoff.Permanent(fmt.Errorf("%w: %s deadline: %v", ErrUnavailable, op, err))
		default:
			return backoff.Permanent(err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryInitialInterval
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, p.cfg.MaxRetries), ctx))
}
