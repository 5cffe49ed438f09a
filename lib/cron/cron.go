// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression. Use Parse to create one, then
// call Next to compute the next matching time.
type Schedule struct {
	expression  string
	location    *time.Location
	minutes     bitset64
	hours       bitset64
	daysOfMonth bitset64
	months      bitset64
	daysOfWeek  bitset64

	// dayOfMonthAny and dayOfWeekAny record a wildcard day field, which
	// decides between AND and OR matching of the two day fields.
	dayOfMonthAny bool
	dayOfWeekAny  bool
}

// bitset64 uses a uint64 as a compact set of integers 0-63.
type bitset64 uint64

func (b bitset64) has(value int) bool { return b&(1<<uint(value)) != 0 }
func (b *bitset64) set(value int)     { *b |= 1 << uint(value) }

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@nightly":  "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dayNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// Parse parses an expression evaluated in UTC unless it carries a
// TZ= prefix.
func Parse(expression string) (Schedule, error) {
	return ParseInLocation(expression, time.UTC)
}

// ParseInLocation parses an expression evaluated in location unless
// it carries a TZ= prefix.
func ParseInLocation(expression string, location *time.Location) (Schedule, error) {
	original := expression
	expression = strings.TrimSpace(expression)
	if zone, rest, ok := strings.Cut(expression, " "); ok && strings.HasPrefix(zone, "TZ=") {
		loaded, err := time.LoadLocation(strings.TrimPrefix(zone, "TZ="))
		if err != nil {
			return Schedule{}, fmt.Errorf("cron: %w", err)
		}
		location = loaded
		expression = strings.TrimSpace(rest)
	}
	if location == nil {
		location = time.UTC
	}
	if strings.HasPrefix(expression, "@") {
		expanded, ok := descriptors[strings.ToLower(expression)]
		if !ok {
			return Schedule{}, fmt.Errorf("cron: unknown descriptor %q", expression)
		}
		expression = expanded
	}

	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	minutes, err := parseField(fields[0], 0, 59, nil)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: minute field: %w", err)
	}
	hours, err := parseField(fields[1], 0, 23, nil)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: hour field: %w", err)
	}
	daysOfMonth, err := parseField(fields[2], 1, 31, nil)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: day-of-month field: %w", err)
	}
	months, err := parseField(fields[3], 1, 12, monthNames)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: month field: %w", err)
	}
	daysOfWeek, err := parseField(fields[4], 0, 7, dayNames)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: day-of-week field: %w", err)
	}
	if daysOfWeek.has(7) {
		daysOfWeek.set(0)
	}

	return Schedule{
		expression:    strings.TrimSpace(original),
		location:      location,
		minutes:       minutes,
		hours:         hours,
		daysOfMonth:   daysOfMonth,
		months:        months,
		daysOfWeek:    daysOfWeek,
		dayOfMonthAny: strings.HasPrefix(fields[2], "*"),
		dayOfWeekAny:  strings.HasPrefix(fields[4], "*"),
	}, nil
}

// String returns the expression as given to Parse.
func (s Schedule) String() string {
	return s.expression
}

// Location returns the zone the schedule is evaluated in.
func (s Schedule) Location() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

// Next returns the earliest time strictly after t that matches the
// schedule, in the schedule's location.
//
// Returns an error if no matching time exists within 4 years of t
// (impossible schedules like Feb 31).
func (s Schedule) Next(t time.Time) (time.Time, error) {
	location := s.Location()
	t = t.In(location).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !s.months.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, location)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, location)
			continue
		}
		if !s.hours.has(t.Hour()) {
			next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, location)
			if !next.After(t) {
				// A DST transition folded the hour back.
				next = t.Add(time.Hour).Truncate(time.Hour)
			}
			t = next
			continue
		}
		if !s.minutes.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}

	return time.Time{}, fmt.Errorf("cron: %q has no matching time within 4 years of %s", s.expression, t.Format(time.RFC3339))
}

// dayMatches applies Vixie cron's rule: with both day fields
// restricted, either may match.
func (s Schedule) dayMatches(t time.Time) bool {
	dayOfMonth := s.daysOfMonth.has(t.Day())
	dayOfWeek := s.daysOfWeek.has(int(t.Weekday()))
	if !s.dayOfMonthAny && !s.dayOfWeekAny {
		return dayOfMonth || dayOfWeek
	}
	return dayOfMonth && dayOfWeek
}

// parseField parses a single cron field into a bitset. The field may
// contain comma-separated terms, each of which is a wildcard, value,
// range, or stepped range/wildcard.
func parseField(field string, minimum, maximum int, names map[string]int) (bitset64, error) {
	var result bitset64
	for _, term := range strings.Split(field, ",") {
		bits, err := parseTerm(term, minimum, maximum, names)
		if err != nil {
			return 0, err
		}
		result |= bits
	}
	if result == 0 {
		return 0, fmt.Errorf("field %q produces empty set", field)
	}
	return result, nil
}

// parseTerm parses a single term: *, */N, V, V-V, V-V/N, V/N.
func parseTerm(term string, minimum, maximum int, names map[string]int) (bitset64, error) {
	rangeExpression, stepExpression, stepped := strings.Cut(term, "/")
	step := 1
	if stepped {
		parsed, err := strconv.Atoi(stepExpression)
		if err != nil {
			return 0, fmt.Errorf("invalid step %q: %w", stepExpression, err)
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("step must be positive, got %d", parsed)
		}
		step = parsed
	}

	var rangeStart, rangeEnd int
	if rangeExpression == "*" {
		rangeStart, rangeEnd = minimum, maximum
	} else if startText, endText, isRange := strings.Cut(rangeExpression, "-"); isRange {
		var err error
		if rangeStart, err = parseValue(startText, names); err != nil {
			return 0, fmt.Errorf("invalid range start %q: %w", startText, err)
		}
		if rangeEnd, err = parseValue(endText, names); err != nil {
			return 0, fmt.Errorf("invalid range end %q: %w", endText, err)
		}
		if rangeStart > rangeEnd {
			return 0, fmt.Errorf("range start %d > end %d", rangeStart, rangeEnd)
		}
	} else {
		value, err := parseValue(rangeExpression, names)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q: %w", rangeExpression, err)
		}
		rangeStart, rangeEnd = value, value
		if stepped {
			rangeEnd = maximum
		}
	}

	if rangeStart < minimum || rangeEnd > maximum {
		return 0, fmt.Errorf("value out of range [%d-%d]: got %d-%d", minimum, maximum, rangeStart, rangeEnd)
	}

	var result bitset64
	for value := rangeStart; value <= rangeEnd; value += step {
		result.set(value)
	}
	return result, nil
}

func parseValue(text string, names map[string]int) (int, error) {
	if value, ok := names[strings.ToUpper(text)]; ok {
		return value, nil
	}
	return strconv.Atoi(text)
}
