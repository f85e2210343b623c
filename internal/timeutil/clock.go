package timeutil

import (
	"sync"
	"time"
	_ "time/tzdata"
)

var (
	mu  sync.RWMutex
	loc = time.UTC
)

// SetLocation sets the business timezone used for day boundaries and
// printed timestamps. Unknown names fall back to UTC.
func SetLocation(name string) error {
	l, err := time.LoadLocation(name)
	if err != nil {
		l = time.UTC
	}
	mu.Lock()
	loc = l
	mu.Unlock()
	return err
}

func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	return loc
}

// Now returns the current time in the business timezone
func Now() time.Time {
	return time.Now().In(Location())
}

// ParseDate parses a YYYY-MM-DD date as midnight in the business timezone
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, Location())
}

// StartOfDay returns 00:00 of t's day in the business timezone
func StartOfDay(t time.Time) time.Time {
	l := Location()
	t = t.In(l)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, l)
}

// NextDay returns the start of the day after t, the exclusive end of t's day
func NextDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1)
}

func Format(t time.Time, layout string) string {
	return t.In(Location()).Format(layout)
}

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
	DisplayLayout  = "02 Jan 2006, 03:04 PM"
)
