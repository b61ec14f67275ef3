package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/ini.v1"

	"caldav2pal/internal/model"
)

var (
	// ErrConfigMissing is returned when a source list file does not exist.
	ErrConfigMissing = errors.New("config file missing")
	// ErrSourceMalformed marks a section that lacks a required key.
	ErrSourceMalformed = errors.New("source malformed")
)

// Default source list file names inside Dir.
const (
	CalendarsFile = "calendars.conf"
	ContactsFile  = "contacts.conf"
)

// SourceEntry is one section of a source list. Err is set to a wrapped
// ErrSourceMalformed when a required key is missing.
type SourceEntry struct {
	Source model.Source
	Err    error
}

// LoadSources reads an INI source list. Each section is one source with the
// keys url, pal, name and shorthand. Keys are case-insensitive and values in
// the DEFAULT section apply to every section that does not set them.
func LoadSources(path string, kind model.SourceKind) ([]SourceEntry, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, err
	}

	// URLs may contain ';' and '#', so only whole-line comments are honored.
	file, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true, IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	defaults := file.Section(ini.DefaultSection)
	var entries []SourceEntry
	for _, sec := range file.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		get := func(key string) string {
			if sec.HasKey(key) {
				return sec.Key(key).String()
			}
			if defaults.HasKey(key) {
				return defaults.Key(key).String()
			}
			return ""
		}
		src := model.Source{
			Section:   sec.Name(),
			Kind:      kind,
			URL:       get("url"),
			Pal:       get("pal"),
			Name:      get("name"),
			Shorthand: get("shorthand"),
		}
		entry := SourceEntry{Source: src}
		if missing := missingKeys(src); len(missing) > 0 {
			entry.Err = fmt.Errorf("%w: section %q lacks %v", ErrSourceMalformed, sec.Name(), missing)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func missingKeys(s model.Source) []string {
	var missing []string
	for _, kv := range []struct{ key, val string }{
		{"url", s.URL},
		{"pal", s.Pal},
		{"name", s.Name},
		{"shorthand", s.Shorthand},
	} {
		if kv.val == "" {
			missing = append(missing, kv.key)
		}
	}
	return missing
}
