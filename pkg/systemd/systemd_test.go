package systemd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	assert.False(t, UnderSystemd())

	sent, err := Ready()
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = Status("idle")
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestUnderSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "/run/systemd/notify")
	assert.True(t, UnderSystemd())
}

func TestWatchdogDisabledReturns(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	assert.NoError(t, Watchdog(context.Background()))
}
