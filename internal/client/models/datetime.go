package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// storageLayout sorts lexicographically in date order.
const storageLayout = "2006-01-02T15:04:05"

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// LocalDateTime is a naive wall-clock timestamp. No timezone conversion is
// ever applied: whatever the user typed is what gets stored and shown.
type LocalDateTime struct {
	time.Time
}

// NewLocalDateTime keeps the wall clock of t and drops its location.
func NewLocalDateTime(t time.Time) LocalDateTime {
	return LocalDateTime{time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)}
}

// ParseLocalDateTime accepts the datetime-local form ("2025-01-10T08:00"),
// the same with seconds or a space separator, a bare date, or RFC 3339 whose
// offset is discarded.
func ParseLocalDateTime(s string) (LocalDateTime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LocalDateTime{}, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return LocalDateTime{t}, nil
		}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewLocalDateTime(t), nil
		}
	}
	return LocalDateTime{}, fmt.Errorf("invalid date %q", s)
}

// MustLocalDateTime is ParseLocalDateTime for literals.
func MustLocalDateTime(s string) LocalDateTime {
	d, err := ParseLocalDateTime(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders minutes precision unless seconds are set.
func (d LocalDateTime) String() string {
	if d.IsZero() {
		return ""
	}
	if d.Second() == 0 {
		return d.Format("2006-01-02T15:04")
	}
	return d.Format(storageLayout)
}

func (d LocalDateTime) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *LocalDateTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = LocalDateTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("fecha must be a string: %w", err)
	}
	v, err := ParseLocalDateTime(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Value stores the fixed-width layout so TEXT ordering matches time order.
func (d LocalDateTime) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.Format(storageLayout), nil
}

func (d *LocalDateTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = LocalDateTime{}
		return nil
	case time.Time:
		*d = NewLocalDateTime(v)
		return nil
	case string:
		p, err := ParseLocalDateTime(v)
		if err != nil {
			return err
		}
		*d = p
		return nil
	case []byte:
		return d.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into LocalDateTime", src)
	}
}
