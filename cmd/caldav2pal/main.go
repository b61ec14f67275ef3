package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"caldav2pal/internal/config"
	appLog "caldav2pal/internal/log"
	"caldav2pal/internal/model"
	"caldav2pal/internal/runner"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	settingsPath string
	noDefault    bool
	calendars    string
	contacts     string
	watch        bool
	init         bool
	logLevel     string
}

// job is one source list to process.
type job struct {
	path string
	kind model.SourceKind
}

func main() {
	flags := parseFlags()

	if flags.settingsPath == "" {
		p, err := config.File("settings.yaml")
		if err != nil {
			appLog.Error("cannot locate config directory", err)
			os.Exit(1)
		}
		flags.settingsPath = p
	}

	if flags.init {
		if err := config.SaveSettings(flags.settingsPath, config.DefaultSettings()); err != nil {
			appLog.Error("failed to write settings", err, "settings_path", flags.settingsPath)
			os.Exit(1)
		}
		appLog.Info("default settings written", "settings_path", flags.settingsPath)
		return
	}

	settings, err := config.LoadSettings(flags.settingsPath)
	if err != nil {
		appLog.Error("failed to load settings", err, "settings_path", flags.settingsPath)
		os.Exit(1)
	}

	level := settings.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	jobs, err := buildJobs(flags)
	if err != nil {
		appLog.Error("cannot locate config directory", err)
		os.Exit(1)
	}

	run, err := runner.New(settings)
	if err != nil {
		appLog.Error("invalid settings", err, "settings_path", flags.settingsPath)
		os.Exit(1)
	}

	appLog.Debug("effective settings",
		"pal_dir", settings.PalDir,
		"timezone", settings.Timezone,
		"refresh", settings.RefreshCron,
		"window_days", settings.WindowDays,
		"calendar_max_age_days", settings.CalendarMaxAgeDays,
		"jobs", len(jobs),
		"watch", flags.watch,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = appLog.NewContext(ctx)

	pass := func() {
		summary := runPass(ctx, run, jobs)
		appLog.Info("pass finished",
			"converted", summary.Count(runner.StatusConverted),
			"up_to_date", summary.Count(runner.StatusUpToDate),
			"skipped", summary.Count(runner.StatusSkipped),
			"failed", summary.Count(runner.StatusFailed),
		)
		if err := summary.Err(); err != nil {
			appLog.Debug("pass problems", "err", err)
		}
	}

	pass()
	if !flags.watch {
		return
	}

	// Passes never overlap; a slow pass delays the next tick instead.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(settings.RefreshCron, pass); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", settings.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	appLog.Info("watching", "refresh", settings.RefreshCron)

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("caldav2pal exiting")
}

// runPass processes all jobs in order. Contacts come before calendars.
func runPass(ctx context.Context, run *runner.Runner, jobs []job) runner.Summary {
	var summary runner.Summary
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		summary.Results = append(summary.Results, run.RunFile(ctx, j.path, j.kind)...)
	}
	return summary
}

func buildJobs(flags flagConfig) ([]job, error) {
	var jobs []job
	if !flags.noDefault {
		contactsPath, err := config.File(config.ContactsFile)
		if err != nil {
			return nil, err
		}
		calendarsPath, err := config.File(config.CalendarsFile)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs,
			job{path: contactsPath, kind: model.KindContacts},
			job{path: calendarsPath, kind: model.KindCalendar},
		)
	}
	if flags.contacts != "" {
		jobs = append(jobs, job{path: flags.contacts, kind: model.KindContacts})
	}
	if flags.calendars != "" {
		jobs = append(jobs, job{path: flags.calendars, kind: model.KindCalendar})
	}
	return jobs, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.settingsPath, "settings", "", "Path to settings file (default $XDG_CONFIG_HOME/caldav2pal/settings.yaml)")
	flag.BoolVar(&cfg.noDefault, "no-default", false, "Do not process the default calendars.conf and contacts.conf")
	flag.StringVar(&cfg.calendars, "calendars", "", "Additionally process this calendars config file")
	flag.StringVar(&cfg.contacts, "contacts", "", "Additionally process this contacts config file")
	flag.BoolVar(&cfg.watch, "watch", false, "Keep running and convert again on the refresh schedule")
	flag.BoolVar(&cfg.init, "init", false, "Write the default settings file and exit")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides settings)")

	flag.Parse()

	return cfg
}
