package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caldav2pal/internal/config"
	"caldav2pal/internal/contacts"
	"caldav2pal/internal/fetch"
	"caldav2pal/internal/ics"
	"caldav2pal/internal/model"
	"caldav2pal/internal/update"
)

type fakeFetcher struct {
	results map[string]fetch.Result
	errs    map[string]error
	calls   []string
	since   map[string]time.Time
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: map[string]fetch.Result{},
		errs:    map[string]error{},
		since:   map[string]time.Time{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, since time.Time) (fetch.Result, error) {
	f.calls = append(f.calls, rawURL)
	f.since[rawURL] = since
	if err, ok := f.errs[rawURL]; ok {
		return fetch.Result{}, err
	}
	res, ok := f.results[rawURL]
	if !ok {
		return fetch.Result{}, fmt.Errorf("%w: 404 Not Found", fetch.ErrFetch)
	}
	return res, nil
}

var now = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

const tripCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:1\r\nSUMMARY:Trip\r\nDTSTART;VALUE=DATE:20240301\r\nDTEND;VALUE=DATE:20240303\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:2\r\nSUMMARY:Dentist\r\nDTSTART:20240305T083000Z\r\nDTEND:20240305T091500Z\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const janeCard = "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Jane Doe\r\nBDAY:1990-05-07\r\nEND:VCARD\r\n"

func newRunner(t *testing.T, f Fetcher) (*Runner, string) {
	t.Helper()
	palDir := t.TempDir()
	settings := config.DefaultSettings()
	settings.PalDir = palDir
	return &Runner{
		Fetcher:  f,
		Settings: settings,
		Location: time.UTC,
		Decider:  update.Decider{Clock: func() time.Time { return now }},
	}, palDir
}

func source(kind model.SourceKind, url, pal string) model.Source {
	return model.Source{Section: pal, Kind: kind, URL: url, Pal: pal, Name: "Test " + pal, Shorthand: "TS"}
}

func readPal(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunSourceCalendar(t *testing.T) {
	f := newFakeFetcher()
	f.results["https://dav/cal.ics"] = fetch.Result{Body: []byte(tripCalendar), LastModified: now.Add(-time.Hour)}
	r, palDir := newRunner(t, f)

	res := r.RunSource(context.Background(), source(model.KindCalendar, "https://dav/cal.ics", "cal.pal"))
	require.NoError(t, res.Err)
	assert.Equal(t, StatusConverted, res.Status)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "TS Test cal.pal\nDAILY:20240301:20240302 Trip\n20240305 [0830-0915] Dentist\n",
		readPal(t, filepath.Join(palDir, "cal.pal")))
	assert.True(t, f.since["https://dav/cal.ics"].IsZero(), "no conditional request without a pal file")
}

func TestRunSourceContacts(t *testing.T) {
	f := newFakeFetcher()
	f.results["file:///book.vcf"] = fetch.Result{Body: []byte(janeCard)}
	r, palDir := newRunner(t, f)

	res := r.RunSource(context.Background(), source(model.KindContacts, "file:///book.vcf", "bdays.pal"))
	require.NoError(t, res.Err)
	assert.Equal(t, StatusConverted, res.Status)
	assert.Equal(t, "TS Test bdays.pal\n00000507 Jane Doe, 1990 (!1990!)\n",
		readPal(t, filepath.Join(palDir, "bdays.pal")))
}

func TestRunSourceUpToDate(t *testing.T) {
	f := newFakeFetcher()
	r, palDir := newRunner(t, f)
	palPath := filepath.Join(palDir, "bdays.pal")
	require.NoError(t, os.WriteFile(palPath, []byte("TS old\n"), 0o644))
	mtime := now.Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(palPath, mtime, mtime))

	f.results["https://dav/book.vcf"] = fetch.Result{Body: []byte(janeCard), LastModified: mtime.Add(-time.Hour)}

	res := r.RunSource(context.Background(), source(model.KindContacts, "https://dav/book.vcf", "bdays.pal"))
	assert.Equal(t, StatusUpToDate, res.Status)
	assert.Equal(t, "TS old\n", readPal(t, palPath))
	assert.True(t, f.since["https://dav/book.vcf"].Equal(mtime))
}

func TestRunSourceNotModified(t *testing.T) {
	f := newFakeFetcher()
	r, palDir := newRunner(t, f)
	palPath := filepath.Join(palDir, "cal.pal")
	require.NoError(t, os.WriteFile(palPath, []byte("TS old\n"), 0o644))

	f.results["https://dav/cal.ics"] = fetch.Result{NotModified: true}
	res := r.RunSource(context.Background(), source(model.KindCalendar, "https://dav/cal.ics", "cal.pal"))
	assert.Equal(t, StatusUpToDate, res.Status)
	assert.Equal(t, "TS old\n", readPal(t, palPath))
}

func TestRunSourceCalendarMaxAge(t *testing.T) {
	f := newFakeFetcher()
	r, palDir := newRunner(t, f)
	palPath := filepath.Join(palDir, "cal.pal")
	require.NoError(t, os.WriteFile(palPath, []byte("TS old\n"), 0o644))
	mtime := now.Add(-200 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(palPath, mtime, mtime))

	f.results["https://dav/cal.ics"] = fetch.Result{Body: []byte(tripCalendar), LastModified: mtime.Add(-time.Hour)}
	res := r.RunSource(context.Background(), source(model.KindCalendar, "https://dav/cal.ics", "cal.pal"))
	assert.Equal(t, StatusConverted, res.Status)
	assert.True(t, f.since["https://dav/cal.ics"].IsZero(), "stale pal file must not be fetched conditionally")
	assert.True(t, strings.HasPrefix(readPal(t, palPath), "TS Test cal.pal\n"))
}

func TestRunSourceFailures(t *testing.T) {
	t.Run("fetch failure", func(t *testing.T) {
		f := newFakeFetcher()
		r, _ := newRunner(t, f)
		res := r.RunSource(context.Background(), source(model.KindCalendar, "https://dav/gone.ics", "gone.pal"))
		assert.Equal(t, StatusSkipped, res.Status)
		assert.ErrorIs(t, res.Err, fetch.ErrFetch)
	})

	t.Run("parse failure keeps old file", func(t *testing.T) {
		f := newFakeFetcher()
		r, palDir := newRunner(t, f)
		palPath := filepath.Join(palDir, "bdays.pal")
		require.NoError(t, os.WriteFile(palPath, []byte("TS old\n"), 0o644))

		f.results["https://dav/book.vcf"] = fetch.Result{
			Body: []byte("BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Bad\r\nBDAY:May 7th\r\nEND:VCARD\r\n"),
		}
		res := r.RunSource(context.Background(), source(model.KindContacts, "https://dav/book.vcf", "bdays.pal"))
		assert.Equal(t, StatusFailed, res.Status)
		assert.ErrorIs(t, res.Err, contacts.ErrParse)
		assert.Equal(t, "TS old\n", readPal(t, palPath))
	})

	t.Run("calendar parse failure", func(t *testing.T) {
		f := newFakeFetcher()
		r, _ := newRunner(t, f)
		f.results["https://dav/cal.ics"] = fetch.Result{Body: []byte("<html>login</html>")}
		res := r.RunSource(context.Background(), source(model.KindCalendar, "https://dav/cal.ics", "cal.pal"))
		assert.Equal(t, StatusFailed, res.Status)
		assert.ErrorIs(t, res.Err, ics.ErrParse)
	})
}

func TestRunFile(t *testing.T) {
	f := newFakeFetcher()
	f.errs["https://dav/first.ics"] = fmt.Errorf("%w: connection refused", fetch.ErrFetch)
	f.results["https://dav/second.ics"] = fetch.Result{Body: []byte(tripCalendar)}
	r, palDir := newRunner(t, f)

	conf := filepath.Join(t.TempDir(), "calendars.conf")
	require.NoError(t, os.WriteFile(conf, []byte(`
[First]
url = https://dav/first.ics
pal = first.pal
name = First
shorthand = F1

[Incomplete]
url = https://dav/never.ics

[Second]
url = https://dav/second.ics
pal = second.pal
name = Second
shorthand = S2
`), 0o600))

	results := r.RunFile(context.Background(), conf, model.KindCalendar)
	require.Len(t, results, 3)
	assert.Equal(t, StatusSkipped, results[0].Status)
	assert.ErrorIs(t, results[0].Err, fetch.ErrFetch)
	assert.Equal(t, StatusSkipped, results[1].Status)
	assert.ErrorIs(t, results[1].Err, config.ErrSourceMalformed)
	assert.Equal(t, StatusConverted, results[2].Status)

	assert.Equal(t, []string{"https://dav/first.ics", "https://dav/second.ics"}, f.calls)
	assert.True(t, strings.HasPrefix(readPal(t, filepath.Join(palDir, "second.pal")), "S2 Second\n"))

	summary := Summary{Results: results}
	assert.Equal(t, 1, summary.Count(StatusConverted))
	assert.Equal(t, 2, summary.Count(StatusSkipped))
	err := summary.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrSourceMalformed))
	assert.True(t, errors.Is(err, fetch.ErrFetch))
}

func TestRunFileMissingConfig(t *testing.T) {
	r, _ := newRunner(t, newFakeFetcher())
	results := r.RunFile(context.Background(), filepath.Join(t.TempDir(), "contacts.conf"), model.KindContacts)
	require.Len(t, results, 1)
	assert.Equal(t, StatusSkipped, results[0].Status)
	assert.ErrorIs(t, results[0].Err, config.ErrConfigMissing)
}

func TestSummaryErrNil(t *testing.T) {
	summary := Summary{Results: []Result{{Status: StatusConverted}, {Status: StatusUpToDate}}}
	assert.NoError(t, summary.Err())
}

func TestNew(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Timezone = "Asia/Tokyo"
	r, err := New(settings)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", r.Location.String())

	settings.Timezone = "Not/AZone"
	_, err = New(settings)
	assert.Error(t, err)
}
