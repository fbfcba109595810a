package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybybot/internal/parking"
)

const sampleYAML = `
logging:
  level: debug
scheduler:
  timezone: Europe/Paris
  pay_margin: 90s
provider:
  driver: memory
  retry: { attempts: 2, backoff: 1s }
tasks:
  - plate: AB-123-CD
    location: "42"
    check: { every: 1, unit: day, at: "08:30" }
    pay: { rate: VIS, duration: 60, expected_cost: "2.50", notify: true }
    notify_on_error: true
    notify: { email: me@example.com, password: secret }
    credentials: { login: "0600000000", password: pw }
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseYAML(t *testing.T) {
	m := NewManager(writeFile(t, "paybybot.yml", sampleYAML))

	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "90s", cfg.Scheduler.PayMargin)
	assert.Equal(t, 2, cfg.Provider.Retry.Attempts)
	require.Len(t, cfg.Tasks, 1)

	task := cfg.Tasks[0]
	assert.Equal(t, "AB-123-CD", task.Plate)
	assert.Equal(t, "08:30", task.Check.At)
	require.NotNil(t, task.Pay)
	assert.Equal(t, 60, task.Pay.Duration)
	assert.True(t, task.NotifyOnError)
	assert.Equal(t, "AB-123-CD@42", TaskName(task))
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeFile(t, "paybybot.yml", "tasks:\n  - plate: X\n    colour: red\n"))

	_, err := m.Parse()
	require.Error(t, err)
	assert.True(t, errors.Is(err, parking.ErrConfig))
	assert.Contains(t, err.Error(), "colour")
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	m := NewManager(writeFile(t, "paybybot.json", `{"tasks": []}{"tasks": []}`))

	_, err := m.Parse()
	require.Error(t, err)
	assert.True(t, errors.Is(err, parking.ErrConfig))
}

func TestLoadMissingFile(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.yml"))

	cfg, err := m.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.Tasks)
	assert.Same(t, cfg, m.Get())
}

func TestLoadEmptyFile(t *testing.T) {
	for name, body := range map[string]string{
		"blank":    "",
		"comments": "# nothing configured yet\n",
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := NewManager(writeFile(t, "paybybot.yml", body)).Load()
			require.NoError(t, err)
			assert.Empty(t, cfg.Tasks)
		})
	}
}

func TestReloadPublishesChangedConfig(t *testing.T) {
	path := writeFile(t, "paybybot.yml", sampleYAML)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	assert.False(t, m.reload(context.Background()), "unchanged content is not republished")

	require.NoError(t, os.WriteFile(path, []byte("tasks: []\n"), 0o600))
	require.True(t, m.reload(context.Background()))
	got := <-ch
	assert.Empty(t, got.Tasks)
	assert.Same(t, got, m.Get())
}

func TestReloadHonoursValidator(t *testing.T) {
	path := writeFile(t, "paybybot.yml", "tasks: []\n")
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	assert.False(t, m.reload(context.Background()))
	assert.Empty(t, m.Get().Tasks)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg, err := Decode("a.yml", []byte(sampleYAML))
	require.NoError(t, err)
	newCfg, err := Decode("a.yml", []byte(sampleYAML))
	require.NoError(t, err)
	newCfg.Tasks[0].Pay.Duration = 120
	newCfg.Tasks = append(newCfg.Tasks, TaskConfig{Name: "van", Plate: "VV-111-VV"})
	newCfg.Logging.Level = "info"

	sections, _, tasks := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "tasks"}, sections)
	assert.Equal(t, []string{"AB-123-CD@42", "van"}, tasks)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".paybybot.yml"), ExpandPath(DefaultPath))
	assert.Equal(t, "/etc/paybybot.yml", ExpandPath("/etc/paybybot.yml"))
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("scheduler.tick", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = ParseDurationField("scheduler.tick", "-1s")
	assert.Error(t, err)
	_, err = ParseDurationField("scheduler.tick", "soon")
	assert.ErrorContains(t, err, "scheduler.tick")
}

func TestWatchPicksUpEdits(t *testing.T) {
	path := writeFile(t, "paybybot.yml", "tasks: []\n")
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// The watcher may not be armed yet; keep rewriting until it notices.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(sampleYAML), 0o600)
		select {
		case cfg := <-ch:
			return len(cfg.Tasks) == 1
		default:
			return false
		}
	}, 5*time.Second, 300*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	d := &debouncer{delay: 20 * time.Millisecond, fn: func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}}
	for i := 0; i < 5; i++ {
		d.trigger()
	}
	time.Sleep(100 * time.Millisecond)
	d.stop()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}
