package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"remindcal/internal/binding"
	"remindcal/internal/config"
	"remindcal/internal/gateway"
	appLog "remindcal/internal/log"
	"remindcal/internal/notify"
	"remindcal/internal/web"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reminder daemon and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(root)
			if err != nil {
				return err
			}
			// CLI --listen overrides config file listen if provided.
			if listen != "" {
				conf.Listen = listen
			}
			return runServe(conf)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(conf *config.Config) error {
	appLog.Info("remindcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"include_all_day", conf.IncludeAllDay,
		"lead_minutes", conf.LeadMinutes,
		"debounce_ms", conf.DebounceMS,
		"ics_count", len(conf.ICS),
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	hub := notify.NewHub()
	sched := notify.NewScheduler(notify.Multi{notify.LogDeliverer{}, hub})
	sched.Start()
	defer sched.Stop()

	gw := newGateway(sched, conf)

	feed := newFeed(conf)
	initial, err := feed.Load(ctx, time.Now())
	if err != nil {
		// Keep serving; the next refresh tick will try again.
		appLog.Error("initial calendar load failed", err)
	}

	b := binding.Attach(gw, initial, binding.Options{Window: conf.Debounce()})
	defer b.Detach()

	reload := func(ctx context.Context) error {
		events, err := feed.Load(ctx, time.Now())
		if err != nil {
			return err
		}
		b.Deliver(events)
		return nil
	}

	c := cron.New(cron.WithLocation(conf.Location()))
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		if err := reload(ctx); err != nil {
			appLog.Error("scheduled calendar refresh failed", err)
		}
	}); err != nil {
		return err
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	err = web.StartServer(ctx, conf, web.Deps{
		Binding: b,
		Pending: sched,
		Push:    hub.Handler(),
		Reload:  reload,
	})
	cancel()

	appLog.Info("remindcal exiting")
	return err
}

// newGateway batches per-event reminders onto p, retrying transient
// platform failures as configured.
func newGateway(p gateway.Platform, conf *config.Config) *gateway.Batcher {
	retrying := gateway.WithRetry(p, gateway.RetryConfig{
		MaxTries:       conf.Retry.MaxTries,
		InitialBackoff: time.Duration(conf.Retry.InitialMS) * time.Millisecond,
		MaxBackoff:     time.Duration(conf.Retry.MaxMS) * time.Millisecond,
	})
	return gateway.NewBatcher(retrying, conf.Leads())
}
