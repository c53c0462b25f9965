package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// FeedConfig describes where events come from and which ones matter.
type FeedConfig struct {
	Sources       []Source
	CacheDir      string
	Location      *time.Location
	Horizon       time.Duration
	IncludeAllDay bool
}

// Feed produces reminder snapshots from ICS subscriptions.
type Feed struct {
	fetcher *Fetcher
	cfg     FeedConfig
}

func NewFeed(cfg FeedConfig) *Feed {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 7 * 24 * time.Hour
	}
	return &Feed{fetcher: NewFetcher(cfg.CacheDir), cfg: cfg}
}

// Load fetches every source and returns the events starting in
// [now, now+horizon]. If any source yields nothing (not even a cached
// body), Load fails: a partial snapshot would make the reconciler cancel
// the missing source's reminders.
func (f *Feed) Load(ctx context.Context, now time.Time) ([]model.Event, error) {
	results, errs := f.fetcher.FetchAll(ctx, f.cfg.Sources)
	if len(errs) > 0 {
		return nil, fmt.Errorf("ics: %d of %d sources unavailable: %w", len(errs), len(f.cfg.Sources), errors.Join(errs...))
	}

	parsed := make([]ParsedEvent, 0)
	for _, res := range results {
		evs, err := ParseICS(res.Source, res.Body)
		if err != nil {
			return nil, fmt.Errorf("ics: parse source %s: %w", res.Source.ID, err)
		}
		parsed = append(parsed, evs...)
	}

	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		Location:   f.cfg.Location,
		RangeStart: now,
		RangeEnd:   now.Add(f.cfg.Horizon),
	})
	if err != nil {
		return nil, err
	}

	events := Events(expanded.Occurrences, now, f.cfg.IncludeAllDay)
	appLog.Info("ics feed loaded", "sources", len(results), "occurrences", len(expanded.Occurrences), "events", len(events))
	return events, nil
}

// Events converts occurrences into a reminder snapshot: only occurrences
// that have not started yet, all-day ones only when requested, and the
// first occurrence for any repeated ID.
func Events(occs []model.Occurrence, now time.Time, includeAllDay bool) []model.Event {
	seen := make(map[string]struct{}, len(occs))
	out := make([]model.Event, 0, len(occs))
	for _, occ := range occs {
		if occ.AllDay && !includeAllDay {
			continue
		}
		if occ.Start.Before(now) {
			continue
		}
		ev := occ.Event()
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	return out
}
