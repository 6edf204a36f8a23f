package clock

import (
	"fmt"
	"sync"
	"time"
)

// Zone 是所有日期边界使用的固定时区 (UTC+6)，与宿主机时区无关。
var Zone = time.FixedZone("UTC+6", 6*60*60)

// DateLayout formats calendar day keys.
const DateLayout = "2006-01-02"

// Clock abstracts the wall clock so day boundaries can be driven in tests.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

// Now returns the current time in Zone.
func (System) Now() time.Time {
	return time.Now().In(Zone)
}

// Manual is a settable clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a clock pinned at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the pinned time in Zone.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.In(Zone)
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// DateKey returns the YYYY-MM-DD key of t in Zone.
func DateKey(t time.Time) string {
	return t.In(Zone).Format(DateLayout)
}

// TimeOfDay is a wall-clock minute such as 09:00.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay 解析 "HH:MM" 格式。
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", value)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// String renders the value as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Matches reports whether now (in Zone) falls within this minute.
func (t TimeOfDay) Matches(now time.Time) bool {
	local := now.In(Zone)
	return local.Hour() == t.Hour && local.Minute() == t.Minute
}

// On returns this time of day on the calendar date of day in Zone.
func (t TimeOfDay) On(day time.Time) time.Time {
	local := day.In(Zone)
	return time.Date(local.Year(), local.Month(), local.Day(), t.Hour, t.Minute, 0, 0, Zone)
}
