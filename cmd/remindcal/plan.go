package main

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"remindcal/internal/config"
	"remindcal/internal/fingerprint"
	"remindcal/internal/gateway"
	"remindcal/internal/model"
)

func newPlanCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Load the calendars once and print the reminders serve would schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(root)
			if err != nil {
				return err
			}
			return runPlan(cmd.Context(), conf, cmd.OutOrStdout(), time.Now())
		},
	}
}

// planOutput is what plan prints.
type planOutput struct {
	Fingerprint string               `json:"fingerprint"`
	Events      []model.Event        `json:"events"`
	Reminders   []model.Notification `json:"reminders"`
}

// dryRun is a gateway.Platform that records notifications instead of
// scheduling them.
type dryRun struct {
	got []model.Notification
}

func (d *dryRun) Schedule(_ context.Context, n model.Notification) (string, error) {
	n.Handle = "plan-" + strconv.Itoa(len(d.got)+1)
	d.got = append(d.got, n)
	return n.Handle, nil
}

func (d *dryRun) Cancel(context.Context, string) error { return nil }

func runPlan(ctx context.Context, conf *config.Config, w io.Writer, now time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}

	events, err := newFeed(conf).Load(ctx, now)
	if err != nil {
		return err
	}
	fp, err := fingerprint.Compute(events)
	if err != nil {
		return err
	}

	rec := &dryRun{}
	if _, err := gateway.NewBatcher(rec, conf.Leads()).ScheduleBatch(ctx, events); err != nil {
		return err
	}
	sort.SliceStable(rec.got, func(i, j int) bool { return rec.got[i].FireAt.Before(rec.got[j].FireAt) })

	if events == nil {
		events = []model.Event{}
	}
	if rec.got == nil {
		rec.got = []model.Notification{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(planOutput{Fingerprint: fp, Events: events, Reminders: rec.got})
}
