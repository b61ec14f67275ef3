package model

import (
	"fmt"
	"time"
)

// MomentKind tells how a calendar value was encoded in the source document.
type MomentKind int

const (
	// KindDateTime is a value with a time-of-day component.
	KindDateTime MomentKind = iota
	// KindDate is a date-only value (VALUE=DATE).
	KindDate
)

// Moment is either a calendar date without time-of-day or a concrete
// instant. The kind comes from the encoding, so a date-time that happens to
// fall on midnight is still KindDateTime.
type Moment struct {
	kind  MomentKind
	year  int
	month time.Month
	day   int
	t     time.Time
}

// DateOnly returns a date-only Moment.
func DateOnly(year int, month time.Month, day int) Moment {
	// Normalize overflowing values (e.g. Jan 32) the way time.Date does.
	n := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Moment{kind: KindDate, year: n.Year(), month: n.Month(), day: n.Day()}
}

// DateTime returns a Moment for the instant t.
func DateTime(t time.Time) Moment {
	return Moment{kind: KindDateTime, t: t}
}

func (m Moment) Kind() MomentKind { return m.kind }

func (m Moment) IsDate() bool { return m.kind == KindDate }

// Date returns the calendar date of a date-only Moment. For a date-time
// Moment it returns the date in the instant's own location.
func (m Moment) Date() (int, time.Month, int) {
	if m.kind == KindDate {
		return m.year, m.month, m.day
	}
	return m.t.Date()
}

// In resolves the Moment to an instant in loc. Date-only values expand to
// midnight of that date in loc.
func (m Moment) In(loc *time.Location) time.Time {
	if m.kind == KindDate {
		return time.Date(m.year, m.month, m.day, 0, 0, 0, 0, loc)
	}
	return m.t.In(loc)
}

// Time returns the instant of a date-time Moment in its original location.
// Date-only Moments resolve to midnight in loc.
func (m Moment) Time(loc *time.Location) time.Time {
	if m.kind == KindDate {
		return m.In(loc)
	}
	return m.t
}

// AddDays shifts a date-only Moment by n calendar days; date-time Moments
// are shifted by n*24h.
func (m Moment) AddDays(n int) Moment {
	if m.kind == KindDate {
		return DateOnly(m.year, m.month, m.day+n)
	}
	return DateTime(m.t.Add(time.Duration(n) * 24 * time.Hour))
}

func (m Moment) String() string {
	if m.kind == KindDate {
		return fmt.Sprintf("%04d-%02d-%02d", m.year, m.month, m.day)
	}
	return m.t.Format(time.RFC3339)
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion).
type Occurrence struct {
	UID     string
	Summary string

	Start Moment
	End   Moment
}

// AllDay reports whether both ends were encoded as dates.
func (o Occurrence) AllDay() bool {
	return o.Start.IsDate() && o.End.IsDate()
}

// Birthday is one BDAY field of a contact.
type Birthday struct {
	Name  string
	Month time.Month
	Day   int
	Year  int
	// YearKnown is false when the year is a placeholder marked by
	// X-APPLE-OMIT-YEAR.
	YearKnown bool
}

// SourceKind selects the conversion pipeline for a Source.
type SourceKind string

const (
	KindCalendar SourceKind = "calendar"
	KindContacts SourceKind = "contacts"
)

// Source is one configured calendar or contact list.
type Source struct {
	// Section is the INI section the source was read from.
	Section   string
	Kind      SourceKind
	URL       string
	Pal       string
	Name      string
	Shorthand string
}

// Header is the first line of the source's pal file.
func (s Source) Header() string {
	return s.Shorthand + " " + s.Name
}
