package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caldav2pal/internal/model"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendars.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSources(t *testing.T) {
	path := writeConf(t, `
[DEFAULT]
shorthand = CA

[Family]
url = https://user:pw@dav.example.com/family.ics
pal = family.pal
name = Family calendar
shorthand = FA

[Work]
URL: file:///home/me/work.ics
Pal = work.pal
NAME = Work

[Broken]
url = https://dav.example.com/broken.ics
`)

	entries, err := LoadSources(path, model.KindCalendar)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.NoError(t, entries[0].Err)
	assert.Equal(t, model.Source{
		Section:   "Family",
		Kind:      model.KindCalendar,
		URL:       "https://user:pw@dav.example.com/family.ics",
		Pal:       "family.pal",
		Name:      "Family calendar",
		Shorthand: "FA",
	}, entries[0].Source)
	assert.Equal(t, "FA Family calendar", entries[0].Source.Header())

	assert.NoError(t, entries[1].Err)
	assert.Equal(t, "file:///home/me/work.ics", entries[1].Source.URL)
	assert.Equal(t, "work.pal", entries[1].Source.Pal)
	assert.Equal(t, "CA", entries[1].Source.Shorthand, "inherited from DEFAULT")

	assert.ErrorIs(t, entries[2].Err, ErrSourceMalformed)
	assert.Contains(t, entries[2].Err.Error(), "pal")
	assert.Contains(t, entries[2].Err.Error(), "name")
	assert.Equal(t, "Broken", entries[2].Source.Section)
}

func TestLoadSourcesMissingFile(t *testing.T) {
	_, err := LoadSources(filepath.Join(t.TempDir(), "contacts.conf"), model.KindContacts)
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestLoadSourcesEmptyFile(t *testing.T) {
	entries, err := LoadSources(writeConf(t, ""), model.KindContacts)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
