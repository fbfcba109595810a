// Package taskstore turns the tasks section of the configuration into
// validated parking.Task values and holds the current set.
package taskstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"paybybot/internal/config"
	"paybybot/internal/parking"
	"paybybot/internal/task/scheduler"
	logx "paybybot/pkg/logx"
)

// Build validates cfgs and returns one Task per entry, in order. Every problem
// is reported; the error wraps parking.ErrConfig.
func Build(cfgs []config.TaskConfig, loc *time.Location) ([]*parking.Task, error) {
	var (
		out  = make([]*parking.Task, 0, len(cfgs))
		errs []error
		seen = map[string]int{}
	)
	for i, tc := range cfgs {
		name := config.TaskName(tc)
		task, err := buildOne(tc, name, loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("tasks[%d] (%s): %w", i, name, err))
			continue
		}
		if prev, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("tasks[%d]: name %q already used by tasks[%d]", i, name, prev))
			continue
		}
		seen[name] = i
		out = append(out, task)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", parking.ErrConfig, errors.Join(errs...))
	}
	return out, nil
}

func buildOne(tc config.TaskConfig, name string, loc *time.Location) (*parking.Task, error) {
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	plate := strings.TrimSpace(tc.Plate)
	if plate == "" {
		fail("plate required")
	}

	at, err := anchor(tc.Check.At)
	if err != nil {
		errs = append(errs, err)
	}
	cadence := parking.Cadence{
		Every:      tc.Check.Every,
		Unit:       strings.ToLower(strings.TrimSpace(tc.Check.Unit)),
		At:         at,
		Weekday:    tc.Check.Weekday,
		Cron:       strings.TrimSpace(tc.Check.Cron),
		RunOnStart: tc.Check.RunOnStart,
	}
	// "unit: week, weekday: monday" reads naturally without every.
	if cadence.Every == 0 && cadence.Unit != "" {
		cadence.Every = 1
	}
	if cadence.Cron != "" && (cadence.Unit != "" || cadence.At != "" || cadence.Weekday != "") {
		fail("check: cron cannot be combined with unit, at or weekday")
	} else if err == nil {
		if _, perr := scheduler.ParseRule(cadence, loc); perr != nil {
			fail("check: %v", perr)
		}
	}

	var pay *parking.PayDirective
	if tc.Pay != nil {
		if strings.TrimSpace(tc.Pay.Rate) == "" {
			fail("pay: rate required")
		}
		if tc.Pay.Duration <= 0 {
			fail("pay: duration must be > 0 minutes, got %d", tc.Pay.Duration)
		}
		if strings.TrimSpace(tc.Location) == "" && strings.TrimSpace(tc.Pay.Location) == "" {
			fail("pay: location required (task or pay location)")
		}
		pay = &parking.PayDirective{
			Location:     strings.TrimSpace(tc.Pay.Location),
			Rate:         strings.TrimSpace(tc.Pay.Rate),
			Duration:     time.Duration(tc.Pay.Duration) * time.Minute,
			ExpectedCost: strings.TrimSpace(tc.Pay.ExpectedCost),
			Notify:       tc.Pay.Notify,
		}
	}

	rcpt := parking.Recipient{Email: strings.TrimSpace(tc.Notify.Email), Password: tc.Notify.Password}
	if tg := tc.Notify.Telegram; tg != nil {
		if strings.TrimSpace(tg.Token) == "" || tg.ChatID == 0 {
			fail("notify.telegram: token and chat_id required")
		}
		rcpt.TelegramToken, rcpt.TelegramChatID = strings.TrimSpace(tg.Token), tg.ChatID
	}
	if rcpt.Email != "" && !strings.Contains(rcpt.Email, "@") {
		fail("notify.email: %q is not an address", rcpt.Email)
	}
	if rcpt.Email == "" && tc.Notify.Telegram == nil {
		fail("notify: email or telegram required")
	}

	if strings.TrimSpace(tc.Credentials.Login) == "" {
		fail("credentials.login required")
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &parking.Task{
		Name:          name,
		Plate:         plate,
		Location:      strings.TrimSpace(tc.Location),
		Check:         cadence,
		Pay:           pay,
		Recipient:     rcpt,
		NotifyOnError: tc.NotifyOnError,
		Credentials:   parking.Credentials{Login: strings.TrimSpace(tc.Credentials.Login), Password: tc.Credentials.Password},
	}, nil
}

// anchor accepts only strings: an unquoted YAML number is a mistake.
func anchor(v any) (string, error) {
	switch at := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(at), nil
	default:
		return "", fmt.Errorf("check.at must be a string, got %T (quote it: \"08:30\")", v)
	}
}

// Store holds the current task set. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tasks  []*parking.Task
	byName map[string]*parking.Task
	log    logx.Logger
}

func New(log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{byName: map[string]*parking.Task{}, log: log}
}

// Load builds tasks from cfg and replaces the current set on success. A
// config without tasks is valid and only warned about.
func (s *Store) Load(cfg *config.Config) ([]*parking.Task, error) {
	loc, err := config.ParseLocation("scheduler.timezone", cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", parking.ErrConfig, err)
	}
	tasks, err := Build(cfg.Tasks, loc)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		s.log.Warn("no tasks configured")
	}

	byName := make(map[string]*parking.Task, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
	}
	s.mu.Lock()
	s.tasks = tasks
	s.byName = byName
	s.mu.Unlock()
	s.log.Info("tasks loaded", logx.Int("count", len(tasks)))
	return tasks, nil
}

func (s *Store) Tasks() []*parking.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*parking.Task(nil), s.tasks...)
}

func (s *Store) Get(name string) (*parking.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byName[name]
	return t, ok
}

func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byName))
	for n := range s.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
