package app

import (
	"fmt"
	"strings"
	"time"

	"paybybot/internal/config"
	"paybybot/internal/notifier"
	"paybybot/internal/provider"
	"paybybot/internal/provider/browser"
	"paybybot/internal/provider/memory"
	"paybybot/internal/status"
	"paybybot/internal/storage"
	"paybybot/internal/task/runner"
	"paybybot/internal/task/scheduler"
	logx "paybybot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    config.ExpandPath(cfg.Logging.File.Path),
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	tick, err := config.ParseDurationOrDefault("scheduler.tick", sc.Tick, time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	loc, err := config.ParseLocation("scheduler.timezone", sc.Timezone)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Tick: tick, Location: loc}, nil
}

func mapRunnerConfig(cfg *config.Config, loc *time.Location) (runner.Config, error) {
	sc := cfg.Scheduler
	margin, err := config.ParseDurationOrDefault("scheduler.pay_margin", sc.PayMargin, 60*time.Second)
	if err != nil {
		return runner.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("scheduler.reminder_window", sc.ReminderWindow, 24*time.Hour)
	if err != nil {
		return runner.Config{}, err
	}
	if cfg.Provider.Retry.Attempts < 0 {
		return runner.Config{}, fmt.Errorf("provider.retry.attempts must be >= 0")
	}
	backoff, err := config.ParseDurationOrDefault("provider.retry.backoff", cfg.Provider.Retry.Backoff, 5*time.Second)
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{
		PayMargin:      margin,
		ReminderWindow: window,
		Retry:          provider.RetryPolicy{Attempts: cfg.Provider.Retry.Attempts, Backoff: backoff},
		Location:       loc,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, notifier.SMTPConfig, error) {
	nc := cfg.Notifier
	if nc.RatePerSec < 0 {
		return notifier.Config{}, notifier.SMTPConfig{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if nc.RetryMax < 0 {
		return notifier.Config{}, notifier.SMTPConfig{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, time.Second)
	if err != nil {
		return notifier.Config{}, notifier.SMTPConfig{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return notifier.Config{}, notifier.SMTPConfig{}, err
	}
	retryMax := nc.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return notifier.Config{
			RatePerSec:    nc.RatePerSec,
			RetryMax:      retryMax,
			RetryBase:     base,
			RetryMaxDelay: maxDelay,
		}, notifier.SMTPConfig{
			Host: strings.TrimSpace(nc.SMTP.Host),
			Port: nc.SMTP.Port,
			From: strings.TrimSpace(nc.SMTP.From),
		}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	path := config.ExpandPath(sc.Path)

	dl := strings.ToLower(driver)
	switch dl {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: dl, Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN)}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapBrowserConfig(cfg *config.Config, loc *time.Location) (browser.Config, error) {
	bc := browser.Config{Headless: true, Location: loc}
	raw := cfg.Provider.Browser
	if raw == nil {
		return bc, nil
	}
	if raw.Headless != nil {
		bc.Headless = *raw.Headless
	}
	timeout, err := config.ParseDurationOrDefault("provider.browser.timeout", raw.Timeout, 60*time.Second)
	if err != nil {
		return browser.Config{}, err
	}
	bc.Timeout = timeout
	bc.ExecPath = strings.TrimSpace(raw.ExecPath)
	bc.LoginURL = strings.TrimSpace(raw.LoginURL)
	bc.ParkingURL = strings.TrimSpace(raw.ParkingURL)
	return bc, nil
}

// mapProvider returns the factory for provider.driver. The portal is only
// set for the memory driver.
func mapProvider(cfg *config.Config, loc *time.Location, log logx.Logger) (provider.Factory, *memory.Portal, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Provider.Driver))
	switch driver {
	case "", "browser":
		bc, err := mapBrowserConfig(cfg, loc)
		if err != nil {
			return nil, nil, err
		}
		return browser.Factory(bc, log), nil, nil
	case "memory":
		portal := memory.NewPortal()
		return portal.Factory(), portal, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider.driver: %s", cfg.Provider.Driver)
	}
}

func mapStatusConfig(cfg *config.Config) (status.Config, bool) {
	if !cfg.Status.Enabled {
		return status.Config{}, false
	}
	addr := strings.TrimSpace(cfg.Status.Addr)
	if addr == "" {
		addr = status.DefaultAddr
	}
	return status.Config{Addr: addr, Debug: cfg.Status.Debug}, true
}
