package runner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"paybybot/internal/parking"
)

const (
	subjectAlert     = "ALERT: no active parking session"
	subjectReminder  = "REMINDER: parking ending soon"
	subjectPaid      = "PAYMENT COMPLETED"
	subjectPayFailed = "PAYMENT FAILED"
)

func alertBody(task *parking.Task) string {
	return fmt.Sprintf("No active parking session found (task %s, vehicle %s).", task.Name, task.Plate)
}

// reminderLine describes one session ending soon, in loc.
func reminderLine(s parking.Session, now time.Time, loc *time.Location) string {
	left := s.Remaining(now)
	if left < 0 {
		left = 0
	}
	mins := int(left / time.Minute)
	return fmt.Sprintf("Parking for vehicle %s at %s ends at %s, in %d hours and %d minutes.",
		s.Plate, s.Location, s.Expiry.In(loc).Format("Mon 02 Jan 15:04"), mins/60, mins%60)
}

func paidBody(req parking.PayRequest, cost string) string {
	return fmt.Sprintf("Payment completed for vehicle %s at %s (rate %s, %d minutes), cost %s.",
		req.Plate, req.Location, req.Rate, int(req.Duration/time.Minute), cost)
}

func failedBody(task *parking.Task, req parking.PayRequest, err error) string {
	return fmt.Sprintf("Payment failed for vehicle %s at %s (task %s): %v",
		req.Plate, req.Location, task.Name, err)
}

// sameCost compares amounts as shown by the portal ("2,50 €" == "2.50").
func sameCost(a, b string) bool {
	fa, oka := parseCost(a)
	fb, okb := parseCost(b)
	if oka && okb {
		return fa == fb
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

func parseCost(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.':
			return r
		case r == ',':
			return '.'
		}
		return -1
	}, s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	// Cents precision.
	return float64(int64(f*100+0.5)) / 100, true
}
