// Package tabular reads the cached dataset files into typed records and
// derives the series the analysis notebooks plot: occupancy percentages,
// weekly dose aggregates with cumulative sums, and trend estimates.
//
// The AGES exports are semicolon separated with decimal commas and dotted
// day-first timestamps; the ECDC export is plain comma-separated CSV keyed
// by ISO week.
package tabular

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StampTime is an AGES timestamp, "02.01.2021 00:00:00" or "02.01.2021".
type StampTime struct {
	time.Time
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *StampTime) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{"02.01.2006 15:04:05", "02.01.2006"} {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("tabular: unrecognised timestamp %q", s)
}

// CommaFloat is a float published with a decimal comma, e.g. "123,4".
type CommaFloat float64

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *CommaFloat) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return fmt.Errorf("tabular: invalid decimal-comma float %q", s)
	}
	*f = CommaFloat(v)
	return nil
}

// ISOWeek is an ECDC reporting week, e.g. "2021-W07".
type ISOWeek struct {
	Year int
	Week int
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *ISOWeek) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	parts := strings.SplitN(s, "-W", 2)
	if len(parts) != 2 {
		return fmt.Errorf("tabular: invalid ISO week %q", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("tabular: invalid ISO week %q", s)
	}
	week, err := strconv.Atoi(parts[1])
	if err != nil || week < 1 || week > 53 {
		return fmt.Errorf("tabular: invalid ISO week %q", s)
	}
	w.Year = year
	w.Week = week
	return nil
}

// String returns the canonical "2021-W07" form.
func (w ISOWeek) String() string {
	return fmt.Sprintf("%d-W%02d", w.Year, w.Week)
}

// Start returns the Monday the week begins on. January 4th is always in
// ISO week 1.
func (w ISOWeek) Start() time.Time {
	jan4 := time.Date(w.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := jan4.AddDate(0, 0, 1-weekday)
	return monday.AddDate(0, 0, (w.Week-1)*7)
}

// Before reports whether w is earlier than other.
func (w ISOWeek) Before(other ISOWeek) bool {
	if w.Year != other.Year {
		return w.Year < other.Year
	}
	return w.Week < other.Week
}
