package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"paybybot/internal/eventbus"
	"paybybot/internal/parking"
	logx "paybybot/pkg/logx"
)

const historySize = 200

// Service delivers notifications synchronously over every channel that
// accepts the recipient: rate limit + retry with backoff + history.
//
// It is safe for concurrent use.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	channels []Channel

	log logx.Logger
	bus eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

var _ Notifier = (*Service)(nil)

func New(cfg Config, log logx.Logger, bus eventbus.Bus, channels ...Channel) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, channels: channels}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	s.mu.Lock()
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so a reminder burst is not delayed.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Send delivers subject/body to every channel reachable for to. The returned
// error wraps parking.ErrNotify and joins the per-channel failures; a message
// delivered on at least one channel is still reported as failed for the others.
func (s *Service) Send(ctx context.Context, to parking.Recipient, subject, body string) error {
	var targets []Channel
	for _, ch := range s.channels {
		if ch.Accepts(to) {
			targets = append(targets, ch)
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: no channel configured for recipient %q", parking.ErrNotify, to.String())
	}

	var errs []error
	for _, ch := range targets {
		if err := s.sendWithRetry(ctx, ch, to, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", parking.ErrNotify, errors.Join(errs...))
	}
	return nil
}

func (s *Service) sendWithRetry(ctx context.Context, ch Channel, to parking.Recipient, subject, body string) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	attempt := 0
	op := func() error {
		if err := lim.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
		return ch.Deliver(callCtx, to, subject, body)
	}
	notify := func(err error, wait time.Duration) {
		s.log.Debug("notification send failed", logx.String("channel", ch.Name()), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Duration("backoff", wait), logx.Err(err))
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(newRetryBackOff(cfg), uint64(cfg.RetryMax)), ctx)
	err := backoff.RetryNotify(op, bo, notify)
	s.record(ch.Name(), to, subject, err)
	if err == nil {
		s.log.Info("notification sent", logx.String("channel", ch.Name()), logx.String("to", to.String()), logx.String("subject", subject))
	}
	return err
}

func (s *Service) record(channel string, to parking.Recipient, subject string, err error) {
	item := HistoryItem{At: time.Now(), Channel: channel, To: to.String(), Subject: subject}
	if err != nil {
		item.Error = err.Error()
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()

	if s.bus != nil {
		typ := "notifier.sent"
		if err != nil {
			typ = "notifier.failed"
		}
		s.bus.Publish(eventbus.Event{Type: typ, Time: item.At, Data: NotificationEvent{
			Channel: channel, To: item.To, Subject: subject, At: item.At, Error: item.Error,
		}})
	}
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// newRetryBackOff doubles from RetryBase up to RetryMaxDelay with +-30%
// jitter. The attempt count is bounded by the caller.
func newRetryBackOff(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryBase
	bo.MaxInterval = cfg.RetryMaxDelay
	bo.RandomizationFactor = 0.3
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
