package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybybot/internal/eventbus"
	"paybybot/internal/parking"
	logx "paybybot/pkg/logx"
)

type fakeChannel struct {
	name  string
	fails int

	mu    sync.Mutex
	calls int
	sent  []string
}

func (f *fakeChannel) Name() string                      { return f.name }
func (f *fakeChannel) Accepts(to parking.Recipient) bool { return to.Email != "" }
func (f *fakeChannel) Deliver(ctx context.Context, to parking.Recipient, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return errors.New("smtp 421")
	}
	f.sent = append(f.sent, subject)
	return nil
}

func fastConfig(retries int) Config {
	return Config{RatePerSec: 1000, RetryMax: retries, RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond}
}

var alice = parking.Recipient{Email: "alice@example.com", Password: "pw"}

func TestSendRetriesThenSucceeds(t *testing.T) {
	ch := &fakeChannel{name: "fake", fails: 2}
	bus := eventbus.New(10)
	s := New(fastConfig(2), logx.Nop(), bus, ch)

	require.NoError(t, s.Send(context.Background(), alice, "REMINDER", "body"))
	assert.Equal(t, 3, ch.calls)
	assert.Equal(t, []string{"REMINDER"}, ch.sent)

	hist := s.Snapshot()
	require.Len(t, hist, 1)
	assert.Empty(t, hist[0].Error)

	ev := bus.Recent(1)
	require.Len(t, ev, 1)
	assert.Equal(t, "notifier.sent", ev[0].Type)
}

func TestSendGivesUp(t *testing.T) {
	ch := &fakeChannel{name: "fake", fails: 10}
	s := New(fastConfig(1), logx.Nop(), nil, ch)

	err := s.Send(context.Background(), alice, "ALERT", "body")
	require.Error(t, err)
	assert.True(t, errors.Is(err, parking.ErrNotify))
	assert.Equal(t, 2, ch.calls)
	assert.NotEmpty(t, s.Snapshot()[0].Error)
}

func TestSendWithoutChannel(t *testing.T) {
	s := New(fastConfig(0), logx.Nop(), nil, &fakeChannel{name: "fake"})
	err := s.Send(context.Background(), parking.Recipient{TelegramChatID: 1}, "x", "y")
	assert.True(t, errors.Is(err, parking.ErrNotify))
}

func TestRetryBackOffIsCapped(t *testing.T) {
	cfg := Config{RetryBase: time.Second, RetryMaxDelay: 3 * time.Second}
	bo := newRetryBackOff(cfg)
	assert.Equal(t, time.Second, bo.InitialInterval)
	for i := 0; i < 10; i++ {
		d := bo.NextBackOff()
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Duration(float64(3*time.Second)*1.3))
	}
}

func TestSplitText(t *testing.T) {
	long := strings.Repeat("line\n", 30)
	chunks := splitText(long, 40)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 40)
	}
	assert.Equal(t, []string{"short"}, splitText("short", 40))
}

func TestChannelsAccept(t *testing.T) {
	m := NewMail(SMTPConfig{})
	assert.True(t, m.Accepts(alice))
	assert.False(t, m.Accepts(parking.Recipient{}))
	assert.True(t, m.cfg.SSL)
	assert.Equal(t, "smtp.gmail.com", m.cfg.Host)

	tg := NewTelegram()
	assert.False(t, tg.Accepts(alice))
	assert.True(t, tg.Accepts(parking.Recipient{TelegramToken: "t", TelegramChatID: 42}))
}

func TestMailMessageDefaultsFromToRecipient(t *testing.T) {
	m := NewMail(SMTPConfig{})
	msg, err := m.message(alice, "PAYMENT COMPLETED", "cost 2.50")
	require.NoError(t, err)
	from := msg.GetFromString()
	require.Len(t, from, 1)
	assert.Contains(t, from[0], "alice@example.com")
}
