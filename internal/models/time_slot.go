package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock time stored as seconds since midnight
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from hour, minute and second
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimeOfDay(t.Hour(), t.Minute(), t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// Seconds returns the offset from midnight in seconds
func (t TimeOfDay) Seconds() int {
	return int(t)
}

func (t TimeOfDay) String() string {
	s := int(t) % secondsPerDay
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// MarshalText implements encoding.TextMarshaler
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value implements the driver.Valuer interface
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

// Scan implements the sql.Scanner interface (Postgres TIME)
func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*t = NewTimeOfDay(v.Hour(), v.Minute(), v.Second())
		return nil
	case string:
		return t.UnmarshalText([]byte(v[:min(len(v), 8)]))
	case []byte:
		return t.UnmarshalText(v[:min(len(v), 8)])
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

// TimeSlotTemplate is a reusable (start, end) time-of-day window. It carries no date.
type TimeSlotTemplate struct {
	ID        uuid.UUID `json:"id" db:"id"`
	StartTime TimeOfDay `json:"start_time" db:"start_time"`
	EndTime   TimeOfDay `json:"end_time" db:"end_time"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WrapsMidnight reports whether the slot ends on the following day
func (s *TimeSlotTemplate) WrapsMidnight() bool {
	return s.EndTime < s.StartTime
}

// Duration returns end - start, computed mod 24h
func (s *TimeSlotTemplate) Duration() time.Duration {
	secs := int(s.EndTime) - int(s.StartTime)
	if secs < 0 {
		secs += secondsPerDay
	}
	return time.Duration(secs) * time.Second
}

// Validate checks the template's own invariants
func (s *TimeSlotTemplate) Validate() error {
	if s.StartTime < 0 || int(s.StartTime) >= secondsPerDay || s.EndTime < 0 || int(s.EndTime) >= secondsPerDay {
		return fmt.Errorf("time slot bounds must be within a day")
	}
	if s.StartTime == s.EndTime {
		return fmt.Errorf("time slot end must differ from start")
	}
	return nil
}

func (s *TimeSlotTemplate) String() string {
	return s.StartTime.String() + "-" + s.EndTime.String()
}
