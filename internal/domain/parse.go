package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyDuration   = errors.New("empty duration")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrTooSmall        = errors.New("duration too small")
	ErrTooLarge        = errors.New("duration too large")
)

const (
	minOffset = time.Minute
	maxOffset = 365 * 24 * time.Hour
)

var (
	reDays    = regexp.MustCompile(`(\d+)\s*d`)
	reHours   = regexp.MustCompile(`(\d+)\s*h`)
	reMinutes = regexp.MustCompile(`(\d+)\s*m`)
)

// MonthDay is a calendar date without a year, stored as "MM-DD".
type MonthDay struct {
	Month time.Month
	Day   int
}

// TimeOfDay is a wall-clock time, stored as "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (md MonthDay) String() string { return fmt.Sprintf("%02d-%02d", int(md.Month), md.Day) }

func (t TimeOfDay) String() string { return FormatMinutes(t.Minutes()) }

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

// ParseMonthDay parses "MM-DD". Feb 29 is accepted; whether it exists in a given
// year is decided when it is resolved against one.
func ParseMonthDay(s string) (MonthDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return MonthDay{}, &ValidationError{Field: "date", Value: s, Reason: "expected MM-DD"}
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil || m < 1 || m > 12 {
		return MonthDay{}, &ValidationError{Field: "date", Value: s, Reason: "month must be 01-12"}
	}
	d, err := strconv.Atoi(parts[1])
	if err != nil || d < 1 || d > daysIn(time.Month(m)) {
		return MonthDay{}, &ValidationError{Field: "date", Value: s, Reason: "day out of range for month"}
	}
	return MonthDay{Month: time.Month(m), Day: d}, nil
}

// daysIn returns the longest possible length of month m.
func daysIn(m time.Month) int {
	// 2000 is a leap year, so February yields 29.
	return time.Date(2000, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseTimeOfDay parses "HH:MM" in 24h format.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	mins, err := parseHHMM(s)
	if err != nil {
		return TimeOfDay{}, &ValidationError{Field: "time", Value: strings.TrimSpace(s), Reason: err.Error()}
	}
	return TimeOfDay{Hour: mins / 60, Minute: mins % 60}, nil
}

// NewTimeOfDay validates an hour/minute pair.
func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, &ValidationError{
			Field:  "time",
			Value:  fmt.Sprintf("%d:%d", hour, minute),
			Reason: "hour must be 0-23 and minute 0-59",
		}
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// ParseOffset parses relative offsets like "30m", "1h30m", "2d", "90".
// A bare number means minutes. Constraints: 1m <= d <= 365d.
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, ErrEmptyDuration
	}
	var total time.Duration

	if isAllDigits(s) {
		mins, _ := strconv.Atoi(s)
		total = time.Duration(mins) * time.Minute
	} else {
		matched := false
		for _, unit := range []struct {
			re *regexp.Regexp
			d  time.Duration
		}{
			{reDays, 24 * time.Hour},
			{reHours, time.Hour},
			{reMinutes, time.Minute},
		} {
			if m := unit.re.FindStringSubmatch(s); len(m) == 2 {
				n, _ := strconv.Atoi(m[1])
				total += time.Duration(n) * unit.d
				matched = true
			}
		}
		if !matched {
			return 0, fmt.Errorf("%w: %s", ErrInvalidDuration, s)
		}
	}

	if total < minOffset {
		return 0, fmt.Errorf("%w: min 1m", ErrTooSmall)
	}
	if total > maxOffset {
		return 0, fmt.Errorf("%w: max 365d", ErrTooLarge)
	}
	return total, nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ParseWindow parses "HH:MM–HH:MM" or "HH:MM-HH:MM" into minutes since midnight.
func ParseWindow(s string) (fromM, toM int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, errors.New("empty window")
	}
	sep := "–"
	if strings.Contains(s, "-") && !strings.Contains(s, "–") {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return 0, 0, errors.New("expected format HH:MM-HH:MM")
	}
	fromM, err = parseHHMM(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("from: %w", err)
	}
	toM, err = parseHHMM(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("to: %w", err)
	}
	if fromM >= toM {
		return 0, 0, errors.New("window must start before it ends")
	}
	return fromM, toM, nil
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, errors.New("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errors.New("invalid hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errors.New("invalid minute")
	}
	return h*60 + m, nil
}

// LoadZone resolves an IANA location name.
func LoadZone(tz string) (*time.Location, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", tz, err)
	}
	return loc, nil
}

// FormatMinutes returns HH:MM for minutes since midnight (00:00..23:59).
func FormatMinutes(mins int) string {
	if mins < 0 {
		mins = 0
	}
	h := mins / 60
	m := mins % 60
	return fmt.Sprintf("%02d:%02d", h, m)
}
