package ics

import (
	"strings"
	"time"

	"caldav2pal/internal/model"
)

// UntitledEvent replaces a missing or blank SUMMARY.
const UntitledEvent = "[Event without title]"

const (
	palDate = "20060102"
	palTime = "1504"
)

// Span returns the first and last instant of occ in loc. A date-only end is
// exclusive, so it becomes the last second of the previous day. The end is
// clamped so that it never precedes the start.
func Span(occ model.Occurrence, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	start := occ.Start.In(loc)
	end := occ.End.In(loc)
	if occ.End.IsDate() {
		end = end.Add(-time.Second)
	}
	if end.Before(start) {
		end = start
	}
	return start, end
}

// MultiDay reports whether occ ends on a later local date than it starts.
func MultiDay(occ model.Occurrence, loc *time.Location) bool {
	start, end := Span(occ, loc)
	return start.Format(palDate) != end.Format(palDate)
}

// Title returns the pal title for occ.
func Title(occ model.Occurrence) string {
	title := oneLine(occ.Summary)
	if strings.TrimSpace(title) == "" {
		return UntitledEvent
	}
	return title
}

// Render formats occ as one pal event line:
//
//	DAILY:20240301:20240302 Title   all-day, several days
//	20240301 Title                  all-day, one day
//	20240301 [2300] Title           timed, ends on a later day
//	20240301 [0900-1030] Title      timed, same day
func Render(occ model.Occurrence, loc *time.Location) string {
	start, end := Span(occ, loc)
	startDate, endDate := start.Format(palDate), end.Format(palDate)
	multiDay := startDate != endDate
	title := Title(occ)

	var b strings.Builder
	switch {
	case occ.AllDay() && multiDay:
		b.WriteString("DAILY:" + startDate + ":" + endDate)
	case occ.AllDay():
		b.WriteString(startDate)
	case multiDay:
		b.WriteString(startDate + " [" + start.Format(palTime) + "]")
	default:
		b.WriteString(startDate + " [" + start.Format(palTime) + "-" + end.Format(palTime) + "]")
	}
	b.WriteByte(' ')
	b.WriteString(title)
	return b.String()
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// oneLine folds line breaks into spaces since every pal event must fit on
// one line. TEXT escapes are already resolved by the parser.
func oneLine(s string) string {
	return lineBreaks.Replace(s)
}
