// Package provider defines the boundary between the scheduling core and the
// parking portal. Implementations live in subpackages (browser, memory).
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"paybybot/internal/parking"
	logx "paybybot/pkg/logx"
)

// SessionProvider is one logged-in conversation with the portal.
//
// An instance serves a single check or pay operation and must be closed on
// every exit path. Authenticate and ListSessions return errors wrapping
// parking.ErrTransient (retryable) or parking.ErrAuth (fatal).
type SessionProvider interface {
	Authenticate(ctx context.Context, login, password string) error
	ListSessions(ctx context.Context) ([]parking.Session, error)
	// Pay starts a session and returns the cost shown by the portal.
	Pay(ctx context.Context, req parking.PayRequest) (cost string, err error)
	Close() error
}

// Factory opens a fresh, unauthenticated provider.
type Factory func(ctx context.Context) (SessionProvider, error)

// RetryPolicy bounds Connect. Zero values mean 3 attempts, 5s apart.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.Backoff == 0 && p.Attempts > 1 {
		p.Backoff = 5 * time.Second
	}
	return p
}

// NoBackoff is a policy for tests: n attempts, no waiting.
func NoBackoff(n int) RetryPolicy {
	return RetryPolicy{Attempts: n, Backoff: time.Nanosecond}
}

// Connect opens a provider and authenticates with creds. Transient failures
// close the provider and start over, up to policy.Attempts times with a fixed
// backoff. Auth failures and exhausted retries are returned as-is; the caller
// owns the returned provider.
func Connect(ctx context.Context, open Factory, creds parking.Credentials, policy RetryPolicy, log logx.Logger) (SessionProvider, error) {
	if open == nil {
		return nil, errors.New("provider factory required")
	}
	policy = policy.withDefaults()

	var (
		p       SessionProvider
		attempt int
	)
	op := func() error {
		attempt++
		cur, err := open(ctx)
		if err != nil {
			return classify(err)
		}
		if err := cur.Authenticate(ctx, creds.Login, creds.Password); err != nil {
			_ = cur.Close()
			return classify(err)
		}
		p = cur
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("provider connect failed; retrying",
			logx.Masked("login", creds.Login), logx.Int("attempt", attempt), logx.Int("max", policy.Attempts),
			logx.Duration("backoff", wait), logx.Err(err))
	}

	if err := backoff.RetryNotify(op, policy.backOff(ctx), notify); err != nil {
		return nil, fmt.Errorf("connect after %d attempt(s): %w", attempt, err)
	}
	return p, nil
}

// ListSessions lists p's sessions, retrying transient failures on the
// connection already open.
func ListSessions(ctx context.Context, p SessionProvider, policy RetryPolicy, log logx.Logger) ([]parking.Session, error) {
	policy = policy.withDefaults()
	attempt := 0
	op := func() ([]parking.Session, error) {
		attempt++
		sessions, err := p.ListSessions(ctx)
		if err != nil {
			return nil, classify(err)
		}
		return sessions, nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("list sessions failed; retrying",
			logx.Int("attempt", attempt), logx.Int("max", policy.Attempts),
			logx.Duration("backoff", wait), logx.Err(err))
	}
	sessions, err := backoff.RetryNotifyWithData(op, policy.backOff(ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("list sessions after %d attempt(s): %w", attempt, err)
	}
	return sessions, nil
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Backoff), uint64(p.Attempts-1)),
		ctx,
	)
}

// classify marks non-transient errors permanent so backoff stops retrying.
func classify(err error) error {
	if parking.IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}
