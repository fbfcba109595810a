package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"paybybot/internal/parking"
)

const telegramTextLimit = 4096

// Telegram delivers through the Bot API. Bots are created per token on first
// use and never poll.
type Telegram struct {
	mu   sync.Mutex
	bots map[string]*tele.Bot

	// URL overrides the Bot API endpoint (tests).
	URL string
}

func NewTelegram() *Telegram {
	return &Telegram{bots: map[string]*tele.Bot{}}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Accepts(to parking.Recipient) bool {
	return strings.TrimSpace(to.TelegramToken) != "" && to.TelegramChatID != 0
}

func (t *Telegram) Deliver(ctx context.Context, to parking.Recipient, subject, body string) error {
	if !t.Accepts(to) {
		return errors.New("telegram recipient incomplete")
	}
	bot, err := t.bot(to.TelegramToken)
	if err != nil {
		return err
	}

	text := body
	if subject != "" {
		text = subject + "\n\n" + body
	}
	chat := &tele.Chat{ID: to.TelegramChatID}
	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) bot(token string) (*tele.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{Token: token, URL: t.URL, Offline: true})
	if err != nil {
		return nil, err
	}
	t.bots[token] = b
	return b, nil
}

// splitText cuts s into chunks of at most limit runes, preferring newlines.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
	}
	return out
}
