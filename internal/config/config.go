package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppName names the directory under the user config dir.
const AppName = "caldav2pal"

const (
	defaultPalDir             = "~/.pal"
	defaultRefreshCron        = "0 */6 * * *"
	defaultFetchTimeout       = 30
	defaultWindowDays         = 365
	defaultCalendarMaxAgeDays = 180
	defaultLogLevel           = "info"
)

// Settings is the application configuration. The sources themselves live
// in the INI files calendars.conf and contacts.conf next to it.
type Settings struct {
	// PalDir is where pal event files are written. A leading ~ is expanded.
	PalDir string `yaml:"pal_dir" json:"pal_dir"`

	// Timezone is an IANA timezone used for rendering. Empty means the
	// machine's local timezone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is the cron schedule (e.g. "0 */6 * * *") used in watch mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// FetchTimeoutSeconds bounds each HTTP request.
	FetchTimeoutSeconds int `yaml:"fetch_timeout" json:"fetch_timeout"`

	// WindowDays is how far recurring events are expanded into the past and
	// the future.
	WindowDays int `yaml:"window_days" json:"window_days"`

	// CalendarMaxAgeDays forces calendars to be regenerated after this many
	// days even when the remote did not change.
	CalendarMaxAgeDays int `yaml:"calendar_max_age_days" json:"calendar_max_age_days"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultSettings returns an in-memory default configuration.
func DefaultSettings() *Settings {
	return &Settings{
		PalDir:              defaultPalDir,
		RefreshCron:         defaultRefreshCron,
		FetchTimeoutSeconds: defaultFetchTimeout,
		WindowDays:          defaultWindowDays,
		CalendarMaxAgeDays:  defaultCalendarMaxAgeDays,
		LogLevel:            defaultLogLevel,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled settings still behave correctly.
func (s *Settings) Normalize() {
	if strings.TrimSpace(s.PalDir) == "" {
		s.PalDir = defaultPalDir
	}
	if strings.TrimSpace(s.RefreshCron) == "" {
		s.RefreshCron = defaultRefreshCron
	}
	if s.FetchTimeoutSeconds <= 0 {
		s.FetchTimeoutSeconds = defaultFetchTimeout
	}
	if s.WindowDays <= 0 {
		s.WindowDays = defaultWindowDays
	}
	if s.CalendarMaxAgeDays <= 0 {
		s.CalendarMaxAgeDays = defaultCalendarMaxAgeDays
	}
	if s.LogLevel == "" {
		s.LogLevel = defaultLogLevel
	}
}

// Location resolves Timezone, falling back to time.Local when unset.
func (s *Settings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

func (s *Settings) FetchTimeout() time.Duration {
	return time.Duration(s.FetchTimeoutSeconds) * time.Second
}

func (s *Settings) CalendarMaxAge() time.Duration {
	return time.Duration(s.CalendarMaxAgeDays) * 24 * time.Hour
}

// LoadSettings loads settings from the given YAML path.
//
// Behavior:
//   - If the file does not exist, the defaults are returned.
//   - Otherwise the YAML is unmarshalled over the defaults and normalized.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return nil, errors.New("settings path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	cfg := DefaultSettings()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// SaveSettings writes the given settings to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func SaveSettings(path string, cfg *Settings) error {
	if path == "" {
		return errors.New("settings path is empty")
	}
	if cfg == nil {
		return errors.New("settings are nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".caldav2pal-settings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Dir returns $XDG_CONFIG_HOME/caldav2pal (or the platform equivalent).
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppName), nil
}

// File returns the path of name inside Dir.
func File(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// PalPath returns the full path of the pal file name inside palDir.
func PalPath(palDir, name string) (string, error) {
	expanded, err := ExpandHome(name)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}
	dir, err := ExpandHome(palDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, expanded), nil
}
