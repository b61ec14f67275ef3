package ics

import (
	"iter"
	"time"
)

// Converter turns an iCalendar document into pal event lines.
type Converter struct {
	// Location is the display timezone. If nil, time.Local is used.
	Location *time.Location
	// Window bounds recurrence expansion.
	Window Window
	// MaxOccurrencesPerEvent caps the expansion of a single event.
	MaxOccurrencesPerEvent int
}

// Lines parses body and yields one pal line per occurrence within the
// window. The first error ends the sequence.
func (c *Converter) Lines(body []byte) iter.Seq2[string, error] {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return func(yield func(string, error) bool) {
		events, err := ParseICS(body, loc)
		if err != nil {
			yield("", err)
			return
		}
		cfg := ExpandConfig{
			Location:               loc,
			Window:                 c.Window,
			MaxOccurrencesPerEvent: c.MaxOccurrencesPerEvent,
		}
		for occ, err := range Expand(events, cfg) {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(Render(occ, loc), nil) {
				return
			}
		}
	}
}
