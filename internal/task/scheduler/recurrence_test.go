package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybybot/internal/parking"
)

func TestEveryNext(t *testing.T) {
	loc := time.UTC
	// Sunday 2026-03-01 10:15:30
	now := time.Date(2026, 3, 1, 10, 15, 30, 0, loc)

	cases := []struct {
		name string
		c    parking.Cadence
		want time.Time
	}{
		{"plain minutes", parking.Cadence{Every: 5, Unit: "minute"}, now.Add(5 * time.Minute)},
		{"plain hours", parking.Cadence{Every: 2, Unit: "hour"}, now.Add(2 * time.Hour)},
		{"plain days", parking.Cadence{Every: 1, Unit: "day"}, now.AddDate(0, 0, 1)},
		{"plain weeks", parking.Cadence{Every: 2, Unit: "week"}, now.AddDate(0, 0, 14)},
		{"day later today", parking.Cadence{Every: 1, Unit: "day", At: "18:00"}, time.Date(2026, 3, 1, 18, 0, 0, 0, loc)},
		{"day already passed", parking.Cadence{Every: 1, Unit: "day", At: "08:30"}, time.Date(2026, 3, 2, 8, 30, 0, 0, loc)},
		{"every 3 days", parking.Cadence{Every: 3, Unit: "day", At: "08:30"}, time.Date(2026, 3, 4, 8, 30, 0, 0, loc)},
		{"day with seconds", parking.Cadence{Every: 1, Unit: "day", At: "10:15:45"}, time.Date(2026, 3, 1, 10, 15, 45, 0, loc)},
		{"hour :MM", parking.Cadence{Every: 1, Unit: "hour", At: ":45"}, time.Date(2026, 3, 1, 10, 45, 0, 0, loc)},
		{"hour MM:SS passed", parking.Cadence{Every: 1, Unit: "hour", At: "10:00"}, time.Date(2026, 3, 1, 11, 10, 0, 0, loc)},
		{"minute :SS", parking.Cadence{Every: 1, Unit: "minute", At: ":10"}, time.Date(2026, 3, 1, 10, 16, 10, 0, loc)},
		{"weekday", parking.Cadence{Every: 1, Unit: "week", Weekday: "monday", At: "07:00"}, time.Date(2026, 3, 2, 7, 0, 0, 0, loc)},
		{"same weekday passed", parking.Cadence{Every: 1, Unit: "week", Weekday: "sun", At: "09:00"}, time.Date(2026, 3, 8, 9, 0, 0, 0, loc)},
		{"weekday midnight", parking.Cadence{Every: 1, Unit: "week", Weekday: "tuesday"}, time.Date(2026, 3, 3, 0, 0, 0, 0, loc)},
		{"cron", parking.Cadence{Cron: "0 9 * * *"}, time.Date(2026, 3, 2, 9, 0, 0, 0, loc)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := ParseRule(tc.c, loc)
			require.NoError(t, err)
			got := rule.Next(now)
			assert.True(t, got.Equal(tc.want), "got %s want %s", got, tc.want)
			assert.True(t, got.After(now))
		})
	}
}

func TestEveryNextAtAnchorIsStrictlyAfter(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	rule, err := ParseRule(parking.Cadence{Every: 1, Unit: "day", At: "08:30"}, time.UTC)
	require.NoError(t, err)
	assert.True(t, rule.Next(at).Equal(at.AddDate(0, 0, 1)))
}

func TestEveryUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	rule, err := ParseRule(parking.Cadence{Every: 1, Unit: "day", At: "08:00"}, loc)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC) // 07:00 local
	got := rule.Next(now)
	assert.True(t, got.Equal(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)))
}

func TestParseRuleRejects(t *testing.T) {
	cases := []struct {
		name string
		c    parking.Cadence
	}{
		{"no unit", parking.Cadence{Every: 1}},
		{"zero every", parking.Cadence{Every: 0, Unit: "day"}},
		{"bad unit", parking.Cadence{Every: 1, Unit: "fortnight"}},
		{"bad day anchor", parking.Cadence{Every: 1, Unit: "day", At: "25:00"}},
		{"day anchor minute form", parking.Cadence{Every: 1, Unit: "day", At: ":30"}},
		{"bad hour anchor", parking.Cadence{Every: 1, Unit: "hour", At: "08:30:00"}},
		{"bad minute anchor", parking.Cadence{Every: 1, Unit: "minute", At: "10:00"}},
		{"week anchor without weekday", parking.Cadence{Every: 1, Unit: "week", At: "10:00"}},
		{"weekday on day", parking.Cadence{Every: 1, Unit: "day", Weekday: "monday"}},
		{"bad weekday", parking.Cadence{Every: 1, Unit: "week", Weekday: "someday"}},
		{"bad cron", parking.Cadence{Cron: "not a cron"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRule(tc.c, time.UTC)
			assert.Error(t, err)
		})
	}
}
