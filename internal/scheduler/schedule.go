package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser accepts the 5-field (minute hour dom month dow) form the
// teacher's pkg/cron/schedule.go builds for its "cron" schedule kind.
var cronParser = cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)

// dailyAtSchedule turns a "HH:MM" local time into the daily cron expression
// robfig/cron expects.
func dailyAtSchedule(hhmm string) (cronlib.Schedule, error) {
	parts := strings.SplitN(strings.TrimSpace(hhmm), ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid ceremony time %q, want HH:MM", hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return nil, fmt.Errorf("invalid ceremony hour in %q", hhmm)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid ceremony minute in %q", hhmm)
	}
	return cronParser.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
}

// resolveLocation defaults to UTC when tz is empty or unrecognized, matching
// the teacher's ComputeNextRunAtMs fallback.
func resolveLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CeremonyDue reports whether the configured daily ceremony time has passed
// for "today" (in the given timezone) and no ceremony has run yet today
// (spec §4.10). lastRanDate is the "YYYY-MM-DD" date string of the last
// successful run, or "" if none has run.
func CeremonyDue(localTime, tz string, lastRanDate string, now time.Time) (bool, error) {
	sched, err := dailyAtSchedule(localTime)
	if err != nil {
		return false, err
	}
	loc := resolveLocation(tz)
	localNow := now.In(loc)
	today := localNow.Format("2006-01-02")
	if lastRanDate == today {
		return false, nil
	}

	startOfDay := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)
	scheduledToday := sched.Next(startOfDay.Add(-time.Minute))
	return !localNow.Before(scheduledToday) && scheduledToday.Format("2006-01-02") == today, nil
}
