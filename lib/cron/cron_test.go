// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestParse(t *testing.T) {
	tests := []struct {
		expression string
		wantErr    string
	}{
		{"0 2 * * *", ""},
		{"*/15 0-6 1,15 * 1-5", ""},
		{"0-30/5 * * * *", ""},
		{"0 3 * JAN-MAR mon-fri", ""},
		{"30 4 */2 * 7", ""},
		{"@nightly", ""},
		{"@Weekly", ""},
		{"  TZ=Europe/Berlin   0 6 * * *  ", ""},

		{"", "expected 5 fields"},
		{"0 2 * *", "expected 5 fields"},
		{"0 2 * * * 2026", "expected 5 fields"},
		{"60 * * * *", "out of range"},
		{"* 24 * * *", "out of range"},
		{"* * 0 * *", "out of range"},
		{"* * * 13 *", "out of range"},
		{"* * * * 8", "out of range"},
		{"*/0 * * * *", "step must be positive"},
		{"*/x * * * *", "invalid step"},
		{"30-10 * * * *", "range start 30 > end 10"},
		{"MON * * * *", "invalid value"},
		{"0 2 * * FUNDAY", "invalid value"},
		{"@fortnightly", "unknown descriptor"},
		{"TZ=Mars/Olympus 0 0 * * *", "unknown time zone"},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			_, err := Parse(tt.expression)
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("Parse(%q) = %v", tt.expression, err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Errorf("Parse(%q) = %v, want error containing %q", tt.expression, err, tt.wantErr)
			}
		})
	}
}

func TestNext(t *testing.T) {
	// 2026-02-18 is a Wednesday.
	tests := []struct {
		name       string
		expression string
		from       time.Time
		want       time.Time
	}{
		{"nightly_later_today", "0 2 * * *", at(2026, 2, 18, 1, 59), at(2026, 2, 18, 2, 0)},
		{"nightly_tomorrow", "0 2 * * *", at(2026, 2, 18, 3, 0), at(2026, 2, 19, 2, 0)},
		{"strictly_after_match", "0 2 * * *", at(2026, 2, 18, 2, 0), at(2026, 2, 19, 2, 0)},
		{"seconds_truncated", "0 2 * * *", at(2026, 2, 18, 1, 59).Add(59 * time.Second), at(2026, 2, 18, 2, 0)},
		{"quarter_hour", "*/15 * * * *", at(2026, 2, 18, 10, 14), at(2026, 2, 18, 10, 15)},
		{"quarter_hour_midnight", "*/15 * * * *", at(2026, 2, 18, 23, 50), at(2026, 2, 19, 0, 0)},
		{"stepped_range_wraps", "0-30/5 * * * *", at(2026, 2, 18, 10, 31), at(2026, 2, 18, 11, 0)},
		{"stepped_range", "0-30/5 * * * *", at(2026, 2, 18, 10, 7), at(2026, 2, 18, 10, 10)},
		{"weekday_same_day", "0 9 * * 1-5", at(2026, 2, 17, 8, 0), at(2026, 2, 17, 9, 0)},
		{"friday_to_monday", "0 9 * * MON-FRI", at(2026, 2, 20, 10, 0), at(2026, 2, 23, 9, 0)},
		{"seven_is_sunday", "0 3 * * 7", at(2026, 2, 18, 0, 0), at(2026, 2, 22, 3, 0)},
		{"month_list", "0 0 1,15 * *", at(2026, 2, 16, 0, 0), at(2026, 3, 1, 0, 0)},
		{"skips_short_months", "0 0 31 * *", at(2026, 2, 1, 0, 0), at(2026, 3, 31, 0, 0)},
		{"leap_day", "0 0 29 2 *", at(2026, 1, 1, 0, 0), at(2028, 2, 29, 0, 0)},
		{"named_months_and_days", "0 2 * feb-mar SAT", at(2026, 1, 10, 0, 0), at(2026, 2, 7, 2, 0)},
		{"either_day_field_friday", "0 0 13 * 5", at(2026, 2, 1, 0, 0), at(2026, 2, 6, 0, 0)},
		{"either_day_field_13th", "0 0 13 * 5", at(2026, 4, 11, 0, 0), at(2026, 4, 13, 0, 0)},
		{"hourly", "@hourly", at(2026, 2, 18, 10, 30), at(2026, 2, 18, 11, 0)},
		{"weekly", "@weekly", at(2026, 2, 18, 10, 30), at(2026, 2, 22, 0, 0)},
		{"monthly", "@monthly", at(2026, 2, 18, 10, 30), at(2026, 3, 1, 0, 0)},
		{"yearly", "@annually", at(2026, 2, 18, 10, 30), at(2027, 1, 1, 0, 0)},
		{"zone_prefix", "TZ=America/New_York 0 9 * * *", at(2026, 2, 18, 13, 0), at(2026, 2, 18, 14, 0)},
		{"zone_skips_missing_hour", "TZ=America/New_York 30 2 * * *", at(2026, 3, 7, 8, 0), at(2026, 3, 9, 6, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule, err := Parse(tt.expression)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.expression, err)
			}
			next, err := schedule.Next(tt.from)
			if err != nil {
				t.Fatalf("Next(%v): %v", tt.from, err)
			}
			if !next.Equal(tt.want) {
				t.Errorf("Next(%v) = %v (%v), want %v", tt.from, next.UTC(), next.Weekday(), tt.want)
			}
		})
	}
}

func TestParseInLocation(t *testing.T) {
	office := time.FixedZone("UTC+2", 2*60*60)
	schedule, err := ParseInLocation("0 9 * * *", office)
	if err != nil {
		t.Fatal(err)
	}
	if schedule.Location() != office {
		t.Errorf("Location() = %v, want %v", schedule.Location(), office)
	}
	next, err := schedule.Next(at(2026, 2, 18, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := at(2026, 2, 18, 7, 0); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}

	// A TZ= prefix wins over the location argument.
	prefixed, err := ParseInLocation(" TZ=Asia/Tokyo 0 9 * * *", office)
	if err != nil {
		t.Fatal(err)
	}
	if prefixed.Location().String() != "Asia/Tokyo" {
		t.Errorf("Location() = %v, want Asia/Tokyo", prefixed.Location())
	}
	if prefixed.String() != "TZ=Asia/Tokyo 0 9 * * *" {
		t.Errorf("String() = %q", prefixed.String())
	}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		field string
		want  []int
	}{
		{"5", []int{5}},
		{"1-3", []int{1, 2, 3}},
		{"1,3,5", []int{1, 3, 5}},
		{"*/4", []int{0, 4, 8}},
		{"2/5", []int{2, 7}},
		{"1-10/3", []int{1, 4, 7, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			bits, err := parseField(tt.field, 0, 10, nil)
			if err != nil {
				t.Fatalf("parseField(%q): %v", tt.field, err)
			}
			var want bitset64
			for _, value := range tt.want {
				want.set(value)
			}
			if bits != want {
				t.Errorf("parseField(%q) = %b, want %b", tt.field, bits, want)
			}
		})
	}
}

func TestNextImpossibleSchedule(t *testing.T) {
	schedule, err := Parse("0 0 30 2 *")
	if err != nil {
		t.Fatal(err)
	}
	if next, err := schedule.Next(at(2026, 1, 1, 0, 0)); err == nil {
		t.Errorf("Next = %v, want an error for February 30th", next)
	}
}
