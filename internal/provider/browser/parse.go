package browser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"paybybot/internal/parking"
)

// rawSession is what the page script extracts from one session card.
type rawSession struct {
	Plate    string `json:"plate"`
	Location string `json:"location"`
	Expiry   string `json:"expiry"`
	Rate     string `json:"rate"`
}

var reClock = regexp.MustCompile(`^(\d{1,2})[:hH](\d{2})$`)

// parseExpiry reads the portal's end time. A bare clock time means the next
// occurrence after now.
func parseExpiry(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty expiry")
	}
	if m := reClock.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		if h > 23 || mi > 59 {
			return time.Time{}, fmt.Errorf("invalid expiry time %q", raw)
		}
		n := now.In(loc)
		t := time.Date(n.Year(), n.Month(), n.Day(), h, mi, 0, 0, loc)
		if !t.After(n) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiry %q: %w", raw, err)
	}
	return t, nil
}

func parseSessions(raws []rawSession, now time.Time, loc *time.Location) ([]parking.Session, error) {
	out := make([]parking.Session, 0, len(raws))
	for i, r := range raws {
		exp, err := parseExpiry(r.Expiry, now, loc)
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
		out = append(out, parking.Session{
			Plate:    strings.TrimSpace(r.Plate),
			Location: strings.TrimSpace(r.Location),
			Expiry:   exp,
			Rate:     strings.TrimSpace(r.Rate),
		})
	}
	return out, nil
}
