// Package runner processes configured sources one after another.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	cerrors "cloudeng.io/errors"

	"caldav2pal/internal/config"
	"caldav2pal/internal/contacts"
	"caldav2pal/internal/fetch"
	"caldav2pal/internal/ics"
	appLog "caldav2pal/internal/log"
	"caldav2pal/internal/model"
	"caldav2pal/internal/palfile"
	"caldav2pal/internal/update"
)

// Status is the outcome of processing one source.
type Status string

const (
	StatusConverted Status = "converted"
	StatusUpToDate  Status = "up-to-date"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Result describes what happened to one source, or to a whole source list
// when its config file is missing.
type Result struct {
	Source model.Source
	Status Status
	// Count is the number of lines written after the header.
	Count int
	Err   error
}

// Summary collects the results of one pass.
type Summary struct {
	Results []Result
}

// Count returns how many results have status st.
func (s Summary) Count(st Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == st {
			n++
		}
	}
	return n
}

// Err merges the errors of all skipped and failed results, or returns nil.
func (s Summary) Err() error {
	var errs cerrors.M
	for _, r := range s.Results {
		if r.Err != nil {
			errs.Append(fmt.Errorf("%s: %w", label(r.Source), r.Err))
		}
	}
	return errs.Err()
}

// Fetcher retrieves a source document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, since time.Time) (fetch.Result, error)
}

// Runner converts sources into pal files.
type Runner struct {
	Fetcher  Fetcher
	Settings *config.Settings
	Location *time.Location
	Decider  update.Decider
}

// New returns a Runner for settings. The display location comes from
// settings.Timezone.
func New(settings *config.Settings) (*Runner, error) {
	settings.Normalize()
	loc, err := settings.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", settings.Timezone, err)
	}
	return &Runner{
		Fetcher:  fetch.NewFetcher(settings.FetchTimeout()),
		Settings: settings,
		Location: loc,
	}, nil
}

// RunFile processes every source listed in the INI file at path. A missing
// file yields a single skipped result.
func (r *Runner) RunFile(ctx context.Context, path string, kind model.SourceKind) []Result {
	entries, err := config.LoadSources(path, kind)
	if err != nil {
		if errors.Is(err, config.ErrConfigMissing) {
			appLog.Info("no source list, skipping", "kind", kind, "path", path)
		} else {
			appLog.Error("cannot read source list", err, "kind", kind, "path", path)
		}
		return []Result{{Source: model.Source{Kind: kind, Section: path}, Status: StatusSkipped, Err: err}}
	}

	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		if entry.Err != nil {
			appLog.Warn("malformed source, skipping", "kind", kind, "section", entry.Source.Section, "err", entry.Err)
			results = append(results, Result{Source: entry.Source, Status: StatusSkipped, Err: entry.Err})
			continue
		}
		results = append(results, r.RunSource(ctx, entry.Source))
	}
	return results
}

// RunSource fetches, checks and, if stale, converts one source.
func (r *Runner) RunSource(ctx context.Context, src model.Source) Result {
	ctx = appLog.With(ctx, "kind", src.Kind, "section", src.Section)
	logger := appLog.FromContext(ctx)
	res := Result{Source: src}

	logger.Info("processing source", "url", fetch.Redact(src.URL), "pal", src.Pal, "name", src.Name, "shorthand", src.Shorthand)

	palPath, err := config.PalPath(r.Settings.PalDir, src.Pal)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		logger.Error("cannot resolve pal file", "err", err)
		return res
	}

	maxAge := r.maxAge(src.Kind)
	since := r.Decider.ConditionalSince(palPath, maxAge)
	fetched, err := r.Fetcher.Fetch(ctx, src.URL, since)
	if err != nil {
		res.Status, res.Err = StatusSkipped, err
		logger.Error("fetch failed, skipping", "err", err)
		return res
	}
	if fetched.NotModified || !r.Decider.NeedsUpdate(palPath, fetched.LastModified, maxAge) {
		res.Status = StatusUpToDate
		logger.Info("source is not newer than pal file", "pal_path", palPath)
		return res
	}

	lines, err := r.lines(src.Kind, fetched.Body)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		logger.Error("cannot convert source", "err", err)
		return res
	}
	n, err := palfile.Write(palPath, src.Header(), lines)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		logger.Error("conversion failed", "err", err)
		return res
	}

	res.Status, res.Count = StatusConverted, n
	logger.Info("converted", "pal_path", palPath, "lines", n)
	return res
}

func (r *Runner) maxAge(kind model.SourceKind) time.Duration {
	if kind == model.KindCalendar {
		return r.Settings.CalendarMaxAge()
	}
	return 0
}

func (r *Runner) lines(kind model.SourceKind, body []byte) (iter.Seq2[string, error], error) {
	switch kind {
	case model.KindCalendar:
		conv := ics.Converter{
			Location: r.Location,
			Window:   ics.NewWindow(r.Decider.Now(), r.Settings.WindowDays),
		}
		return conv.Lines(body), nil
	case model.KindContacts:
		return contacts.Lines(body), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

func label(s model.Source) string {
	parts := []string{string(s.Kind)}
	if s.Section != "" {
		parts = append(parts, s.Section)
	}
	return strings.Join(parts, " ")
}
