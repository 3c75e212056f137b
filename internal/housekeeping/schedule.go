package housekeeping

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts 5- or 6-field cron (seconds optional) and descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseSchedule normalizes a job schedule to a cron spec and validates it.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 3 * * *", "@hourly", "@every 30s"
//   - interval: "90s", "15m", "1h30m"
//   - interval as HH:MM: "00:30" (30 minutes)
func ParseSchedule(raw string) (string, cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil, fmt.Errorf("schedule required")
	}

	spec := s
	if !strings.HasPrefix(s, "@") && !strings.ContainsAny(s, " \t") {
		d, err := parseInterval(s)
		if err != nil {
			return "", nil, err
		}
		spec = "@every " + d.String()
	}

	sched, err := parser.Parse(spec)
	if err != nil {
		return "", nil, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return spec, sched, nil
}

func parseInterval(s string) (time.Duration, error) {
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", s)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:30', or a duration like '15m')", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
