package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in JSON, exports and String output.
const DateLayout = "2006-01-02"

// Date is a calendar date encoded as "2006-01-02" in JSON.
type Date time.Time

// Time returns the underlying time value.
func (d Date) Time() time.Time {
	return time.Time(d)
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return time.Time(d).IsZero()
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date(time.Time{})
		return nil
	}

	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return fmt.Errorf("error parsing date '%s': %w", s, err)
	}
	*d = Date(t)
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	t := time.Time(d)
	if t.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.Format(DateLayout))
}

// ParseDate parses a YYYY-MM-DD string; an empty string yields nil.
func ParseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("error parsing date '%s': %w", raw, err)
	}
	return &t, nil
}
