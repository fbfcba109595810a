// Package memory is an in-memory parking portal.
//
// It backs the "memory" provider driver (dry runs that never spend money) and
// the runner tests, which script sessions, failures and costs through Portal.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"paybybot/internal/parking"
	"paybybot/internal/provider"
)

var ErrClosed = errors.New("memory provider closed")

// Portal is the shared state behind every provider opened by Factory.
// It is safe for concurrent use.
type Portal struct {
	mu sync.Mutex

	accounts map[string]string
	sessions []parking.Session

	// Cost is returned by successful payments (default "0.00").
	Cost string
	// PayErr, when set, makes Pay fail without creating a session.
	PayErr error
	// AuthFailures makes the next n Authenticate calls fail transiently.
	AuthFailures int
	// ListErr, when set, makes ListSessions fail.
	ListErr error

	Now func() time.Time

	Opens, Closes, Auths, Lists int
	Payments                    []parking.PayRequest
}

func NewPortal() *Portal {
	return &Portal{accounts: map[string]string{}, Cost: "0.00", Now: time.Now}
}

// AddAccount registers valid credentials. A portal without accounts accepts
// any login.
func (p *Portal) AddAccount(login, password string) {
	p.mu.Lock()
	p.accounts[login] = password
	p.mu.Unlock()
}

func (p *Portal) SetSessions(sessions ...parking.Session) {
	p.mu.Lock()
	p.sessions = append([]parking.Session(nil), sessions...)
	p.mu.Unlock()
}

func (p *Portal) Sessions() []parking.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]parking.Session(nil), p.sessions...)
}

// Stats returns (opens, closes, payments) under the lock.
func (p *Portal) Stats() (opens, closes, payments int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Opens, p.Closes, len(p.Payments)
}

// Factory opens providers bound to the portal.
func (p *Portal) Factory() provider.Factory {
	return func(ctx context.Context) (provider.SessionProvider, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.Opens++
		p.mu.Unlock()
		return &Provider{portal: p}, nil
	}
}

// Provider is one connection to a Portal.
type Provider struct {
	portal *Portal
	authed bool
	closed bool
}

func (c *Provider) Authenticate(ctx context.Context, login, password string) error {
	p := c.portal
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	p.Auths++
	if p.AuthFailures > 0 {
		p.AuthFailures--
		return parking.Transient(errors.New("portal unreachable"))
	}
	if len(p.accounts) > 0 {
		if want, ok := p.accounts[login]; !ok || want != password {
			return fmt.Errorf("%w: bad credentials for %q", parking.ErrAuth, login)
		}
	}
	c.authed = true
	return nil
}

func (c *Provider) ListSessions(ctx context.Context) ([]parking.Session, error) {
	p := c.portal
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}
	p.Lists++
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	now := p.Now()
	out := make([]parking.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		if s.Expiry.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Provider) Pay(ctx context.Context, req parking.PayRequest) (string, error) {
	p := c.portal
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := c.usable(); err != nil {
		return "", err
	}
	if p.PayErr != nil {
		return "", p.PayErr
	}
	if req.Duration <= 0 {
		return "", fmt.Errorf("%w: duration must be positive", parking.ErrPayment)
	}
	p.Payments = append(p.Payments, req)
	p.sessions = append(p.sessions, parking.Session{
		Plate:    req.Plate,
		Location: req.Location,
		Expiry:   p.Now().Add(req.Duration),
		Rate:     req.Rate,
	})
	return p.Cost, nil
}

func (c *Provider) Close() error {
	p := c.portal
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	p.Closes++
	return nil
}

func (c *Provider) usable() error {
	if c.closed {
		return ErrClosed
	}
	if !c.authed {
		return fmt.Errorf("%w: not logged in", parking.ErrAuth)
	}
	return nil
}
