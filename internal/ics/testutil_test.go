package ics

import (
	"strings"
	"time"

	_ "time/tzdata"
)

// calendar wraps lines into a VCALENDAR document with CRLF line endings.
func calendar(lines ...string) []byte {
	all := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//caldav2pal//test//EN"}
	all = append(all, lines...)
	all = append(all, "END:VCALENDAR")
	return []byte(strings.Join(all, "\r\n") + "\r\n")
}

func vevent(props ...string) []string {
	out := []string{"BEGIN:VEVENT"}
	out = append(out, props...)
	return append(out, "END:VEVENT")
}

func join(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}
