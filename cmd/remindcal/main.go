package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"remindcal/internal/config"
	"remindcal/internal/ics"
	appLog "remindcal/internal/log"
)

const version = "0.1.0-dev"

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "remindcal",
		Short: "Calendar reminder daemon",
		Long: `remindcal keeps scheduled reminders in line with the events of one or
more ICS subscriptions, re-diffing whenever the calendars change.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "Path to config file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newPlanCommand(opts))
	return root
}

// loadConfig loads the config file and applies the log level.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	conf, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.configPath, err)
	}

	level := appLog.ParseLevel(conf.LogLevel)
	if opts.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)
	return conf, nil
}

func newFeed(conf *config.Config) *ics.Feed {
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		sources = append(sources, ics.Source{ID: c.SourceID(), URL: c.URL})
	}
	return ics.NewFeed(ics.FeedConfig{
		Sources:       sources,
		CacheDir:      conf.CacheDir,
		Location:      conf.Location(),
		Horizon:       conf.Horizon(),
		IncludeAllDay: conf.IncludeAllDay,
	})
}
