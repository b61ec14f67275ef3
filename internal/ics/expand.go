package ics

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "caldav2pal/internal/log"
	"caldav2pal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	defaultWindowDays             = 365
)

// Window is the inclusive time range whose occurrences are expanded.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns [now - days, now + days].
func NewWindow(now time.Time, days int) Window {
	if days <= 0 {
		days = defaultWindowDays
	}
	span := time.Duration(days) * 24 * time.Hour
	return Window{Start: now.Add(-span), End: now.Add(span)}
}

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location resolves date-only values. If nil, time.Local is used.
	Location *time.Location

	Window Window

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Expand yields the occurrences of events that intersect cfg.Window.
//
// Non-recurring events come out in document order. The occurrences of a
// recurring event come out chronologically, at the position of the event in
// the document, with RECURRENCE-ID overrides replacing the instances they
// modify and EXDATEs removed.
func Expand(events []ParsedEvent, cfg ExpandConfig) iter.Seq2[model.Occurrence, error] {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	return func(yield func(model.Occurrence, error) bool) {
		if cfg.Window.End.Before(cfg.Window.Start) {
			yield(model.Occurrence{}, errors.New("expand: window end is before window start"))
			return
		}

		// Overrides are attached to the first recurring base event with the
		// same UID, so they are emitted once even when the UID is reused.
		baseIndex := make(map[string]int)
		for i, ev := range events {
			if !ev.IsOverride && ev.Recurring() && ev.UID != "" {
				if _, ok := baseIndex[ev.UID]; !ok {
					baseIndex[ev.UID] = i
				}
			}
		}
		overridesByBase := make(map[int][]ParsedEvent)
		for _, ev := range events {
			if i, ok := baseIndex[ev.UID]; ok && ev.IsOverride {
				overridesByBase[i] = append(overridesByBase[i], ev)
			}
		}

		for i, ev := range events {
			if _, ok := baseIndex[ev.UID]; ok && ev.IsOverride {
				continue
			}

			var occs []model.Occurrence
			if ev.Recurring() {
				var hitCap bool
				var err error
				occs, hitCap, err = expandRecurringEvent(ev, overridesByBase[i], cfg)
				if err != nil {
					yield(model.Occurrence{}, err)
					return
				}
				if hitCap {
					appLog.Error("expand: truncated occurrences for UID due to cap",
						errors.New("max occurrences reached"),
						"uid", ev.UID,
						"cap", cfg.MaxOccurrencesPerEvent,
					)
				}
			} else if occ := makeOccurrence(ev, ev.Start, ev.End); intersects(occ, cfg) {
				occs = []model.Occurrence{occ}
			}

			for _, occ := range occs {
				if !yield(occ, nil) {
					return
				}
			}
		}
	}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool, error) {
	dtstart := ev.Start.Time(cfg.Location)
	loc := dtstart.Location()
	duration := ev.End.Time(cfg.Location).Sub(dtstart)
	if duration < 0 {
		duration = 0
	}
	spanDays := daysBetween(ev.Start, ev.End)

	var set rrule.Set
	if ev.RawRRule != "" {
		// Parse in the start's location so that a floating UNTIL lines up
		// with DTSTART.
		opt, err := rrule.StrToROptionInLocation(ev.RawRRule, loc)
		if err != nil {
			return nil, false, fmt.Errorf("%w: uid %q: RRULE %q: %v", ErrMalformedEvent, ev.UID, ev.RawRRule, err)
		}
		opt.Dtstart = dtstart
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, false, fmt.Errorf("%w: uid %q: RRULE %q: %v", ErrMalformedEvent, ev.UID, ev.RawRRule, err)
		}
		set.RRule(r)
	} else {
		// RDATE-only events still occur at DTSTART.
		set.RDate(dtstart)
	}
	for _, rd := range ev.RDates {
		set.RDate(rd.Time(cfg.Location).In(loc))
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.Time(cfg.Location).In(loc))
	}

	// Widen the lower bound by the event length so that occurrences starting
	// before the window but still running into it are kept.
	rangeStart := cfg.Window.Start.Add(-duration).In(loc)
	rangeEnd := cfg.Window.End.In(loc)
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(occTimes)+len(overrides))
	for _, occStart := range occTimes {
		if hasOverrideForStart(overrides, occStart, cfg.Location) {
			continue
		}

		var start, end model.Moment
		if ev.Start.IsDate() {
			start = model.DateOnly(occStart.Date())
		} else {
			start = model.DateTime(occStart)
		}
		if ev.End.IsDate() {
			end = start.AddDays(spanDays)
		} else {
			end = model.DateTime(occStart.Add(duration))
		}

		if occ := makeOccurrence(ev, start, end); intersects(occ, cfg) {
			out = append(out, occ)
		}
	}

	// An override may move its instance anywhere, including into the window
	// from outside it, so it is kept whenever its own span intersects.
	for _, ov := range overrides {
		if occ := makeOccurrence(ov, ov.Start, ov.End); intersects(occ, cfg) {
			out = append(out, occ)
		}
	}

	slices.SortStableFunc(out, func(a, b model.Occurrence) int {
		return a.Start.In(cfg.Location).Compare(b.Start.In(cfg.Location))
	})
	return out, hitCap, nil
}

// hasOverrideForStart reports whether an override's RECURRENCE-ID matches
// the generated instance start.
func hasOverrideForStart(overrides []ParsedEvent, occStart time.Time, loc *time.Location) bool {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Time(loc).Equal(occStart) {
			return true
		}
	}
	return false
}

func makeOccurrence(ev ParsedEvent, start, end model.Moment) model.Occurrence {
	return model.Occurrence{
		UID:     ev.UID,
		Summary: ev.Summary,
		Start:   start,
		End:     end,
	}
}

func intersects(occ model.Occurrence, cfg ExpandConfig) bool {
	start, end := Span(occ, cfg.Location)
	return timeRangesOverlap(start, end, cfg.Window.Start, cfg.Window.End)
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}

// daysBetween counts calendar days from a to b.
func daysBetween(a, b model.Moment) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
