package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/harun/agentcore/pkg/capability"
)

// DatetimeName is the registry name of the datetime capability.
const DatetimeName = "get_datetime"

// NewDatetime returns the datetime capability. now may be nil.
func NewDatetime(now func() time.Time) (capability.Descriptor, error) {
	if now == nil {
		now = time.Now
	}

	return capability.Descriptor{
		Name:        DatetimeName,
		Description: "Get the current date, time, and timezone information for an IANA timezone.",
		Parameters: []capability.Parameter{
			{
				Name:        "timezone",
				Type:        "string",
				Description: `Timezone name (e.g. "UTC", "America/New_York", "Europe/London", "Asia/Tokyo")`,
				Default:     "UTC",
			},
		},
		Handler: func(ctx context.Context, in capability.Input) (string, error) {
			tz := in.String("timezone")
			if tz == "" {
				tz = "UTC"
			}
			return FormatDatetime(now(), tz), nil
		},
	}, nil
}

// FormatDatetime renders t in the named zone. An unknown zone falls back
// to UTC and the output says so.
func FormatDatetime(t time.Time, zone string) string {
	note := ""
	loc, err := time.LoadLocation(zone)
	if err != nil || strings.EqualFold(zone, "local") {
		loc = time.UTC
		note = fmt.Sprintf(" (Note: '%s' is not a valid timezone, using UTC instead)", zone)
	}

	now := t.In(loc)
	abbrev, _ := now.Zone()

	lines := []string{
		"**Current Date & Time Information**" + note,
		"",
		"📅 **Date**: " + now.Format("Monday, January 02, 2006"),
		"🕐 **Time**: " + now.Format("03:04:05 PM"),
		"⏰ **24-Hour Time**: " + now.Format("15:04:05"),
		fmt.Sprintf("🌍 **Timezone**: %s (%s)", zone, abbrev),
		"📍 **UTC Offset**: " + now.Format("-0700"),
		"📊 **ISO Format**: " + isoFormat(now),
		fmt.Sprintf("🗓️  **Day of Year**: Day %03d of %d", now.YearDay(), now.Year()),
		fmt.Sprintf("📆 **Week Number**: Week %02d", sundayWeek(now)),
	}

	return strings.Join(lines, "\n")
}

// sundayWeek numbers weeks from the first Sunday of the year; days before
// it fall in week 0.
func sundayWeek(t time.Time) int {
	return (t.YearDay() - 1 + 7 - int(t.Weekday())) / 7
}

// isoFormat prints microseconds only when present.
func isoFormat(t time.Time) string {
	if t.Nanosecond()/1000 == 0 {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	return t.Format("2006-01-02T15:04:05.000000-07:00")
}
