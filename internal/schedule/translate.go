package schedule

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Trigger is a schtasks schedule.
type Trigger struct {
	Schedule  string // MINUTE, HOURLY, DAILY or WEEKLY
	Modifier  int    // /MO, 0 to omit
	Days      []string
	StartTime string // HH:MM, empty to omit
}

// Args renders the trigger as schtasks /Create flags.
func (t Trigger) Args() []string {
	args := []string{"/SC", t.Schedule}
	if t.Modifier > 0 {
		args = append(args, "/MO", strconv.Itoa(t.Modifier))
	}
	if len(t.Days) > 0 {
		args = append(args, "/D", strings.Join(t.Days, ","))
	}
	if t.StartTime != "" {
		args = append(args, "/ST", t.StartTime)
	}
	return args
}

var weekdays = []string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

// cronToTrigger translates the subset of cron expressions Task Scheduler
// can express:
//
//	*/N * * * *    every N minutes
//	M */N * * *    every N hours at minute M
//	M * * * *      hourly at minute M
//	M H * * *      daily at H:M
//	M H * * D,...  weekly on the listed days at H:M
func cronToTrigger(spec string) (Trigger, error) {
	f := strings.Fields(spec)
	if len(f) != 5 {
		return Trigger{}, fmt.Errorf("cron expression %q must have five fields", spec)
	}
	minute, hour, dom, month, dow := f[0], f[1], f[2], f[3], f[4]
	if dom != "*" || month != "*" {
		return Trigger{}, fmt.Errorf("cron expression %q: day-of-month and month must be *", spec)
	}

	if strings.HasPrefix(minute, "*/") {
		if hour != "*" || dow != "*" {
			return Trigger{}, fmt.Errorf("cron expression %q: minute steps need every other field *", spec)
		}
		n, err := parseRange(minute[2:], 1, 1439)
		if err != nil {
			return Trigger{}, fmt.Errorf("cron expression %q: %w", spec, err)
		}
		return Trigger{Schedule: "MINUTE", Modifier: n}, nil
	}

	m, err := parseRange(minute, 0, 59)
	if err != nil {
		return Trigger{}, fmt.Errorf("cron expression %q: minute: %w", spec, err)
	}

	switch {
	case hour == "*" && dow == "*":
		return Trigger{Schedule: "HOURLY", Modifier: 1, StartTime: clock(0, m)}, nil
	case strings.HasPrefix(hour, "*/") && dow == "*":
		n, err := parseRange(hour[2:], 1, 23)
		if err != nil {
			return Trigger{}, fmt.Errorf("cron expression %q: hour: %w", spec, err)
		}
		return Trigger{Schedule: "HOURLY", Modifier: n, StartTime: clock(0, m)}, nil
	}

	h, err := parseRange(hour, 0, 23)
	if err != nil {
		return Trigger{}, fmt.Errorf("cron expression %q: hour: %w", spec, err)
	}
	if dow == "*" {
		return Trigger{Schedule: "DAILY", StartTime: clock(h, m)}, nil
	}

	var days []string
	for _, d := range strings.Split(dow, ",") {
		n, err := parseRange(d, 0, 7)
		if err != nil {
			return Trigger{}, fmt.Errorf("cron expression %q: weekday: %w", spec, err)
		}
		if !slices.Contains(days, weekdays[n%7]) {
			days = append(days, weekdays[n%7])
		}
	}
	return Trigger{Schedule: "WEEKLY", Days: days, StartTime: clock(h, m)}, nil
}

func parseRange(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}

func clock(h, m int) string {
	return fmt.Sprintf("%02d:%02d", h, m)
}
