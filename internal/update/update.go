// Package update decides whether a pal file has to be regenerated.
package update

import (
	"os"
	"time"
)

// CalendarMaxAge bounds how old a calendar's pal file may get. Recurring
// events are expanded a year ahead, so regenerating every 180 days keeps
// future occurrences from running out.
const CalendarMaxAge = 180 * 24 * time.Hour

// Decider applies the staleness rules. The zero value uses time.Now.
type Decider struct {
	Clock func() time.Time
}

// Now returns the current time according to Clock.
func (d Decider) Now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// NeedsUpdate reports whether the file at path must be regenerated. A zero
// lastModified means the remote did not say when it changed; a maxAge <= 0
// disables the age rule. The rules are checked in order:
//
//   - the file does not exist
//   - the remote modification time is unknown
//   - the remote is newer than the file
//   - the file is older than maxAge
func (d Decider) NeedsUpdate(path string, lastModified time.Time, maxAge time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	if lastModified.IsZero() {
		return true
	}
	mtime := info.ModTime()
	if lastModified.After(mtime) {
		return true
	}
	if maxAge > 0 && d.Now().After(mtime.Add(maxAge)) {
		return true
	}
	return false
}

// ConditionalSince returns the time to send as If-Modified-Since for the
// file at path, or the zero time when the remote body is needed regardless:
// the file is missing or already older than maxAge.
func (d Decider) ConditionalSince(path string, maxAge time.Duration) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	mtime := info.ModTime()
	if maxAge > 0 && d.Now().After(mtime.Add(maxAge)) {
		return time.Time{}
	}
	return mtime
}

// NeedsUpdate applies the rules with the current wall clock.
func NeedsUpdate(path string, lastModified time.Time, maxAge time.Duration) bool {
	return Decider{}.NeedsUpdate(path, lastModified, maxAge)
}
