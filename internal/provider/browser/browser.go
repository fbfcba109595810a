// Package browser drives the parking portal's web app with headless Chrome.
//
// Every page interaction goes through Selectors so a portal redesign is a
// configuration change. Failures to reach or render the portal are reported
// as parking.ErrTransient; a login form that does not go away is
// parking.ErrAuth.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"paybybot/internal/parking"
	"paybybot/internal/provider"
	logx "paybybot/pkg/logx"
)

const (
	DefaultLoginURL   = "https://m2.paybyphone.fr/login"
	DefaultParkingURL = "https://m2.paybyphone.fr/parking"
)

// Selectors are CSS selectors on the portal pages.
type Selectors struct {
	Login      string
	Password   string
	Submit     string
	Consent    string
	LoginError string

	SessionList string
	Session     string
	Plate       string
	Location    string
	Expiry      string
	Rate        string

	PayStart    string
	PayPlate    string
	PayLocation string
	PayRate     string
	PayDuration string
	PayConfirm  string
	PayCost     string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Login:      `input[type="tel"], input[name="username"]`,
		Password:   `input[type="password"]`,
		Submit:     `button[type="submit"]`,
		Consent:    `md-dialog footer button`,
		LoginError: `.error-message, .md-input-message-animation`,

		SessionList: `md-content`,
		Session:     `.pbp-parking-session`,
		Plate:       `.license-plate`,
		Location:    `.location-number`,
		Expiry:      `.expiry-date strong`,
		Rate:        `.rate-option-details`,

		PayStart:    `.pbp-park-button, a[href*="park"]`,
		PayPlate:    `input[name="licensePlate"]`,
		PayLocation: `input[name="locationNumber"]`,
		PayRate:     `select[name="rateOption"]`,
		PayDuration: `input[name="duration"]`,
		PayConfirm:  `button.pbp-confirm, button[type="submit"]`,
		PayCost:     `.pbp-parking-cost, .total-cost`,
	}
}

type Config struct {
	Headless   bool
	ExecPath   string
	LoginURL   string
	ParkingURL string
	// Timeout bounds each provider call.
	Timeout   time.Duration
	Selectors Selectors
	Location  *time.Location
}

func (c Config) withDefaults() Config {
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginURL
	}
	if c.ParkingURL == "" {
		c.ParkingURL = DefaultParkingURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Selectors == (Selectors{}) {
		c.Selectors = DefaultSelectors()
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Factory starts one browser per provider.
func Factory(cfg Config, log logx.Logger) provider.Factory {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context) (provider.SessionProvider, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.DisableGPU,
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		bctx, bcancel := chromedp.NewContext(allocCtx)
		// Start the browser now so launch errors surface here.
		if err := chromedp.Run(bctx); err != nil {
			bcancel()
			allocCancel()
			return nil, parking.Transient(fmt.Errorf("start browser: %w", err))
		}
		return &Provider{cfg: cfg, log: log, ctx: bctx, cancel: bcancel, allocCancel: allocCancel}, nil
	}
}

// Provider is one browser session on the portal.
type Provider struct {
	cfg Config
	log logx.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	closed      bool
}

// run executes actions bounded by the call ctx and the per-call timeout.
func (p *Provider) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.closed {
		return errors.New("browser provider closed")
	}
	tctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

func (p *Provider) Authenticate(ctx context.Context, login, password string) error {
	sel := p.cfg.Selectors
	err := p.run(ctx,
		chromedp.Navigate(p.cfg.LoginURL),
		chromedp.WaitVisible(sel.Login, chromedp.ByQuery),
		chromedp.SendKeys(sel.Login, login, chromedp.ByQuery),
		chromedp.SendKeys(sel.Password, password, chromedp.ByQuery),
		chromedp.Click(sel.Submit, chromedp.ByQuery),
	)
	if err != nil {
		return parking.Transient(fmt.Errorf("login form: %w", err))
	}

	// The password field goes away once the portal accepts the credentials.
	if err := p.run(ctx, chromedp.WaitNotPresent(sel.Password, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var nodes []*cdp.Node
		_ = p.run(ctx, chromedp.Nodes(sel.LoginError, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
		if len(nodes) > 0 {
			return fmt.Errorf("%w: portal rejected login %s", parking.ErrAuth, logx.Mask(login))
		}
		return parking.Transient(fmt.Errorf("login did not complete: %w", err))
	}

	p.dismissConsent(ctx)
	p.log.Debug("portal login ok")
	return nil
}

// dismissConsent clicks the privacy dialog if it shows up.
func (p *Provider) dismissConsent(ctx context.Context) {
	sel := p.cfg.Selectors.Consent
	if sel == "" {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var nodes []*cdp.Node
	if err := p.run(cctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil || len(nodes) == 0 {
		return
	}
	if err := p.run(cctx, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		p.log.Debug("consent dialog click failed", logx.Err(err))
	}
}

func (p *Provider) ListSessions(ctx context.Context) ([]parking.Session, error) {
	sel := p.cfg.Selectors
	var raws []rawSession
	err := p.run(ctx,
		chromedp.Navigate(p.cfg.ParkingURL),
		chromedp.WaitReady(sel.SessionList, chromedp.ByQuery),
		chromedp.Evaluate(extractScript(sel), &raws),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, parking.Transient(fmt.Errorf("list sessions: %w", err))
	}
	sessions, err := parseSessions(raws, time.Now(), p.cfg.Location)
	if err != nil {
		return nil, parking.Transient(err)
	}
	return sessions, nil
}

func (p *Provider) Pay(ctx context.Context, req parking.PayRequest) (string, error) {
	sel := p.cfg.Selectors
	minutes := fmt.Sprintf("%d", int(req.Duration/time.Minute))
	var cost string
	err := p.run(ctx,
		chromedp.Navigate(p.cfg.ParkingURL),
		chromedp.WaitVisible(sel.PayStart, chromedp.ByQuery),
		chromedp.Click(sel.PayStart, chromedp.ByQuery),
		chromedp.WaitVisible(sel.PayPlate, chromedp.ByQuery),
		chromedp.SetValue(sel.PayPlate, req.Plate, chromedp.ByQuery),
		chromedp.SetValue(sel.PayLocation, req.Location, chromedp.ByQuery),
		chromedp.SetValue(sel.PayRate, req.Rate, chromedp.ByQuery),
		chromedp.SetValue(sel.PayDuration, minutes, chromedp.ByQuery),
		chromedp.WaitVisible(sel.PayCost, chromedp.ByQuery),
		chromedp.Text(sel.PayCost, &cost, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("%w: fill payment form: %w", parking.ErrPayment, err)
	}
	if req.ExpectedCost != "" {
		p.log.Debug("quoted cost", logx.String("cost", cost), logx.String("expected", req.ExpectedCost))
	}
	if err := p.run(ctx,
		chromedp.Click(sel.PayConfirm, chromedp.ByQuery),
		chromedp.WaitNotPresent(sel.PayConfirm, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("%w: confirm payment: %w", parking.ErrPayment, err)
	}
	return strings.TrimSpace(cost), nil
}

func (p *Provider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	p.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// extractScript reads every session card into rawSession objects.
func extractScript(sel Selectors) string {
	q := func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	}
	return `(() => {
	const text = (root, sel) => { const el = root.querySelector(sel); return el ? el.textContent.trim() : ""; };
	return Array.from(document.querySelectorAll(` + q(sel.Session) + `)).map(el => ({
		plate: text(el, ` + q(sel.Plate) + `),
		location: text(el, ` + q(sel.Location) + `),
		expiry: text(el, ` + q(sel.Expiry) + `),
		rate: text(el, ` + q(sel.Rate) + `),
	}));
})()`
}
