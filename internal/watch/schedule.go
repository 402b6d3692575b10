package watch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a parsed watch.schedule value.
type Schedule struct {
	Cron  string        // set for cron expressions
	Every time.Duration // set for fixed intervals
}

func (s Schedule) String() string {
	if s.Cron != "" {
		return s.Cron
	}
	return "@every " + s.Every.String()
}

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule accepts:
//   - a Go duration: "4h", "90m"
//   - an interval as HH:MM: "04:00"
//   - a cron expression or descriptor: "0 */4 * * *", "@every 4h", "@daily"
//
// The "cron:" and "every:" prefixes force one interpretation.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	default:
		return parseEvery(s)
	}
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Schedule{Cron: expr}, nil
}

func parseEvery(v string) (Schedule, error) {
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		v = (time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute).String()
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q (use a duration like '4h', HH:MM like '04:00', or cron like '0 */4 * * *')", v)
	}
	if d < time.Second {
		return Schedule{}, fmt.Errorf("interval must be >= 1s")
	}
	return Schedule{Every: d}, nil
}
