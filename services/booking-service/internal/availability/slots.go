// Package availability projects a doctor's recurring weekly template onto calendar dates.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidDate    = errors.New("invalid date")
	ErrInvalidWeekday = errors.New("invalid weekday")
	ErrInvalidClock   = errors.New("invalid time")
)

// Slot is an entry of the global time catalog.
type Slot struct {
	ID   int64
	Time string // HH:MM:SS
}

// Template is a doctor's weekly availability: the enabled weekdays crossed with the enabled
// catalog times. It is independent of any date.
type Template struct {
	Days  []time.Weekday
	Slots []Slot
}

func (t Template) WorksOn(day time.Weekday) bool {
	for _, d := range t.Days {
		if d == day {
			return true
		}
	}
	return false
}

// Offers reports whether hour:minute on day is one of the template's bookable times.
func (t Template) Offers(day time.Weekday, hour, minute int) bool {
	if !t.WorksOn(day) {
		return false
	}
	clock := fmt.Sprintf("%02d:%02d:00", hour, minute)
	for _, s := range t.Slots {
		if s.Time == clock {
			return true
		}
	}
	return false
}

// FreeSlots returns the template's slots on date minus occupied clock times, ordered by time.
// occupied holds HH:MM:SS values of non-canceled appointments on that date.
func FreeSlots(t Template, date time.Time, occupied []string) []Slot {
	free := []Slot{}
	if !t.WorksOn(date.Weekday()) {
		return free
	}
	taken := make(map[string]struct{}, len(occupied))
	for _, o := range occupied {
		taken[o] = struct{}{}
	}
	for _, s := range t.Slots {
		if _, ok := taken[s.Time]; ok {
			continue
		}
		free = append(free, s)
	}
	// HH:MM:SS sorts lexically in clock order.
	sort.SliceStable(free, func(i, j int) bool { return free[i].Time < free[j].Time })
	return free
}

// ParseDate parses YYYY-MM-DD as midnight in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// ParseWeekday accepts English weekday names in any case.
func ParseWeekday(label string) (time.Weekday, error) {
	label = strings.TrimSpace(label)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), label) {
			return d, nil
		}
	}
	return 0, ErrInvalidWeekday
}

// ParseClock parses HH:MM.
func ParseClock(raw string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, 0, ErrInvalidClock
	}
	return t.Hour(), t.Minute(), nil
}

// NextOccurrence returns hour:minute on the first day strictly after now's date (in loc) that
// falls on day. When today is day the result is one week out.
func NextOccurrence(now time.Time, day time.Weekday, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	ahead := (int(day) - int(local.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return time.Date(local.Year(), local.Month(), local.Day()+ahead, hour, minute, 0, 0, loc)
}

// ClockOf formats t in loc as HH:MM:SS, the form catalog times use.
func ClockOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04:05")
}

// DayBounds returns [midnight, next midnight) of date in loc.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	d := date.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// DisplayTime renders a catalog time as "10:00 AM".
func DisplayTime(clock string) string {
	t, err := time.Parse("15:04:05", clock)
	if err != nil {
		return clock
	}
	return t.Format("03:04 PM")
}
