// Package contacts converts vCard address books into pal birthday lines.
package contacts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-vcard"

	"caldav2pal/internal/model"
)

// ErrParse is returned for malformed vCard documents and birthday values.
var ErrParse = errors.New("vcard: parse error")

// OmitYearParam lists placeholder years that were only inserted to make a
// BDAY value complete.
const OmitYearParam = "X-APPLE-OMIT-YEAR"

const bdayLayout = "2006-01-02"

// Birthdays yields every BDAY field of every card in body, in document and
// field order. Parsing is lazy: cards are decoded as the sequence is
// consumed, and the first error ends it.
func Birthdays(body []byte) iter.Seq2[model.Birthday, error] {
	return func(yield func(model.Birthday, error) bool) {
		dec := vcard.NewDecoder(bytes.NewReader(body))
		for n := 0; ; n++ {
			card, err := dec.Decode()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(model.Birthday{}, fmt.Errorf("%w: card %d: %v", ErrParse, n, err))
				return
			}
			for _, field := range card[vcard.FieldBirthday] {
				bday, err := parseBirthday(card, field)
				if err != nil {
					yield(model.Birthday{}, fmt.Errorf("card %d: %w", n, err))
					return
				}
				if !yield(bday, nil) {
					return
				}
			}
		}
	}
}

// Lines yields one pal line per birthday in body.
func Lines(body []byte) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for bday, err := range Birthdays(body) {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(Render(bday), nil) {
				return
			}
		}
	}
}

// Render formats a birthday as a yearly pal event. A known birth year is
// appended together with pal's age marker "(!YYYY!)".
func Render(b model.Birthday) string {
	line := fmt.Sprintf("0000%02d%02d %s", int(b.Month), b.Day, b.Name)
	if b.YearKnown {
		line += fmt.Sprintf(", %d (!%d!)", b.Year, b.Year)
	}
	return line
}

func parseBirthday(card vcard.Card, field *vcard.Field) (model.Birthday, error) {
	date, err := time.Parse(bdayLayout, strings.TrimSpace(field.Value))
	if err != nil {
		return model.Birthday{}, fmt.Errorf("%w: BDAY %q: %v", ErrParse, field.Value, err)
	}
	name, err := displayName(card)
	if err != nil {
		return model.Birthday{}, err
	}
	year := date.Year()
	return model.Birthday{
		Name:      name,
		Month:     date.Month(),
		Day:       date.Day(),
		Year:      year,
		YearKnown: !slices.Contains(paramValues(field.Params, OmitYearParam), strconv.Itoa(year)),
	}, nil
}

func displayName(card vcard.Card) (string, error) {
	if fn := strings.TrimSpace(card.PreferredValue(vcard.FieldFormattedName)); fn != "" {
		return fn, nil
	}
	if n := card.Name(); n != nil {
		if name := strings.TrimSpace(strings.Join([]string{n.GivenName, n.FamilyName}, " ")); name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: contact with birthday has neither FN nor N", ErrParse)
}

func paramValues(params vcard.Params, name string) []string {
	if vs, ok := params[name]; ok {
		return vs
	}
	for k, vs := range params {
		if strings.EqualFold(k, name) {
			return vs
		}
	}
	return nil
}
