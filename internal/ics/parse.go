package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloudeng.io/datetime"
	ical "github.com/arran4/golang-ical"

	appLog "caldav2pal/internal/log"
	"caldav2pal/internal/model"
)

var (
	// ErrParse is returned when a document cannot be read as iCalendar.
	ErrParse = errors.New("ics: parse error")
	// ErrMalformedEvent is returned for a VEVENT whose timing cannot be
	// determined.
	ErrMalformedEvent = errors.New("ics: malformed event")
)

const (
	layoutDate     = "20060102"
	layoutUTC      = "20060102T150405Z"
	layoutFloating = "20060102T150405"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion will operate on this type.
type ParsedEvent struct {
	UID     string
	Summary string

	Start model.Moment
	End   model.Moment

	RawRRule   string
	RDates     []model.Moment
	ExDates    []model.Moment
	Recurrence *model.Moment // RECURRENCE-ID (if present)
	IsOverride bool          // true if this VEVENT overrides one instance of a recurring event
}

// Recurring reports whether the event generates more than one occurrence.
func (ev ParsedEvent) Recurring() bool {
	return ev.RawRRule != "" || len(ev.RDates) > 0
}

// ParseICS parses a single ICS payload into a list of ParsedEvent in
// document order. Floating date-times (no TZID, no trailing Z) are read in
// floating.
//
//   - All-day detection is structural: a value is date-only when it carries
//     VALUE=DATE or has no time part.
//   - A missing DTEND is derived from DURATION, or defaults to one day for
//     date-only starts and to the start itself otherwise.
//   - RRULE/RDATE/EXDATE/RECURRENCE-ID are recorded but not expanded;
//     expansion is done in expand.go.
func ParseICS(body []byte, floating *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty ICS body", ErrParse)
	}
	if !bytes.Contains(bytes.ToUpper(body), []byte("BEGIN:VCALENDAR")) {
		return nil, fmt.Errorf("%w: no VCALENDAR component", ErrParse)
	}
	if floating == nil {
		floating = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	vevents := cal.Events()
	events := make([]ParsedEvent, 0, len(vevents))
	for i, comp := range vevents {
		ev, perr := parseVEvent(comp, floating)
		if perr != nil {
			return nil, fmt.Errorf("vevent %d: %w", i, perr)
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent, floating *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("%w: uid %q: missing DTSTART", ErrMalformedEvent, out.UID)
	}
	start, err := parseMoment(dtStart.Value, dtStart.ICalParameters, floating)
	if err != nil {
		return out, fmt.Errorf("%w: uid %q: DTSTART: %v", ErrMalformedEvent, out.UID, err)
	}
	out.Start = start

	end, err := parseEnd(ve, start, floating)
	if err != nil {
		return out, fmt.Errorf("%w: uid %q: %v", ErrMalformedEvent, out.UID, err)
	}
	out.End = end

	// RRULE (we only keep the raw string here; expansion is in expand.go).
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	// RDATE and EXDATE can appear multiple times, each with a list of values.
	out.RDates, err = parseMomentList(ve.GetProperties(ical.ComponentProperty("RDATE")), floating)
	if err != nil {
		return out, fmt.Errorf("%w: uid %q: RDATE: %v", ErrMalformedEvent, out.UID, err)
	}
	out.ExDates, err = parseMomentList(ve.GetProperties(ical.ComponentPropertyExdate), floating)
	if err != nil {
		return out, fmt.Errorf("%w: uid %q: EXDATE: %v", ErrMalformedEvent, out.UID, err)
	}

	// RECURRENCE-ID (overridden instance)
	if rid := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rid != nil {
		m, err := parseMoment(rid.Value, rid.ICalParameters, floating)
		if err != nil {
			return out, fmt.Errorf("%w: uid %q: RECURRENCE-ID: %v", ErrMalformedEvent, out.UID, err)
		}
		out.Recurrence = &m
		out.IsOverride = true
	}

	return out, nil
}

func parseEnd(ve *ical.VEvent, start model.Moment, floating *time.Location) (model.Moment, error) {
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		end, err := parseMoment(p.Value, p.ICalParameters, floating)
		if err != nil {
			return model.Moment{}, fmt.Errorf("DTEND: %v", err)
		}
		return end, nil
	}

	if p := ve.GetProperty(ical.ComponentProperty("DURATION")); p != nil {
		days, clock, err := parseDuration(p.Value)
		if err != nil {
			return model.Moment{}, fmt.Errorf("DURATION: %v", err)
		}
		if start.IsDate() && clock == 0 {
			return start.AddDays(days), nil
		}
		return model.DateTime(start.Time(floating).AddDate(0, 0, days).Add(clock)), nil
	}

	if start.IsDate() {
		return start.AddDays(1), nil
	}
	return start, nil
}

// parseDuration splits a DURATION value into nominal days (weeks count as
// seven) and an exact clock part. Days follow the wall clock across DST
// changes while hours, minutes and seconds are exact.
func parseDuration(v string) (int, time.Duration, error) {
	v = strings.TrimSpace(v)
	neg := strings.HasPrefix(v, "-")
	v = strings.TrimPrefix(strings.TrimPrefix(v, "-"), "+")
	datePart, timePart, hasTime := strings.Cut(v, "T")
	if !strings.HasPrefix(datePart, "P") || (hasTime && timePart == "") {
		return 0, 0, fmt.Errorf("invalid duration %q", v)
	}

	var days int
	if datePart != "P" {
		d, err := datetime.ParseISO8601Period(datePart)
		if err != nil {
			return 0, 0, err
		}
		if d%(24*time.Hour) != 0 {
			return 0, 0, fmt.Errorf("invalid duration %q", v)
		}
		days = int(d / (24 * time.Hour))
	}
	var clock time.Duration
	if hasTime {
		d, err := datetime.ParseISO8601Period("PT" + timePart)
		if err != nil {
			return 0, 0, err
		}
		clock = d
	}
	if neg {
		days, clock = -days, -clock
	}
	return days, clock, nil
}

func parseMomentList(props []*ical.IANAProperty, floating *time.Location) ([]model.Moment, error) {
	var out []model.Moment
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			// VALUE=PERIOD entries are start/end or start/duration; only the
			// start is an occurrence.
			if i := strings.IndexByte(part, '/'); i >= 0 {
				part = part[:i]
			}
			m, err := parseMoment(part, p.ICalParameters, floating)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// parseMoment parses a DATE or DATE-TIME value. The result kind follows the
// encoding: VALUE=DATE or a bare YYYYMMDD value gives a date-only Moment.
func parseMoment(v string, params map[string][]string, floating *time.Location) (model.Moment, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return model.Moment{}, errors.New("empty time value")
	}

	if isDateValue(v, params) {
		if len(v) < len(layoutDate) {
			return model.Moment{}, fmt.Errorf("invalid date %q", v)
		}
		t, err := time.Parse(layoutDate, v[:len(layoutDate)])
		if err != nil {
			return model.Moment{}, err
		}
		return model.DateOnly(t.Date()), nil
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutUTC, v)
		if err != nil {
			return model.Moment{}, err
		}
		return model.DateTime(t), nil
	}

	loc := floating
	if tzid := param(params, "TZID"); tzid != "" {
		l, err := loadLocation(tzid)
		if err != nil {
			appLog.Warn("ics: unknown TZID, treating value as floating", "tzid", tzid)
		} else {
			loc = l
		}
	}
	t, err := time.ParseInLocation(layoutFloating, v, loc)
	if err != nil {
		return model.Moment{}, err
	}
	return model.DateTime(t), nil
}

func isDateValue(v string, params map[string][]string) bool {
	if kind := param(params, "VALUE"); kind != "" {
		return strings.EqualFold(kind, "DATE")
	}
	return !strings.Contains(v, "T")
}

func loadLocation(tzid string) (*time.Location, error) {
	tzid = strings.Trim(tzid, `"`)
	// Some producers prefix globally unique TZIDs with a slash.
	tzid = strings.TrimPrefix(tzid, "/")
	return time.LoadLocation(tzid)
}

func param(params map[string][]string, name string) string {
	for k, vs := range params {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}
