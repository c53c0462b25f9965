package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// Location occurrences are converted into; nil means time.Local.
	Location *time.Location

	// Occurrences overlapping [RangeStart, RangeEnd] are produced.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE; zero uses the default.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the expanded occurrences, sorted by start.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedUIDs lists events that hit MaxOccurrencesPerEvent.
	TruncatedUIDs []string
}

// ExpandOccurrences turns parsed VEVENTs into concrete occurrences inside
// the configured window, applying RRULE, EXDATE and RECURRENCE-ID
// overrides.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("ics: expand range ends before it starts")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	type key struct{ source, uid string }
	bases := make(map[key][]ParsedEvent)
	overrides := make(map[key][]ParsedEvent)
	for _, ev := range events {
		k := key{ev.Source.ID, ev.UID}
		if ev.IsOverride() {
			overrides[k] = append(overrides[k], ev)
		} else {
			bases[k] = append(bases[k], ev)
		}
	}

	for k, evs := range bases {
		for _, ev := range evs {
			occ, truncated := expandEvent(ev, overrides[k], cfg)
			result.Occurrences = append(result.Occurrences, occ...)
			if truncated {
				result.TruncatedUIDs = append(result.TruncatedUIDs, ev.UID)
				appLog.Warn("ics: occurrences truncated", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
			}
		}
	}

	sort.Slice(result.Occurrences, func(i, j int) bool {
		a, b := result.Occurrences[i], result.Occurrences[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.EventID() < b.EventID()
	})
	sort.Strings(result.TruncatedUIDs)
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" {
		start, end, src := ev.Start, ev.End, ev
		if o, ok := findOverride(overrides, ev.Start); ok {
			start, end, src = o.Start, o.End, o
		}
		if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		return []model.Occurrence{makeOccurrence(src, start, end, cfg.Location)}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics: bad RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event duration so an occurrence that
	// started before RangeStart but is still running is included.
	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)

	truncated := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		truncated = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		start, end, src := s, s.Add(dur), ev
		if o, ok := findOverride(overrides, s); ok {
			start, end, src = o.Start, o.End, o
		}
		out = append(out, makeOccurrence(src, start, end, cfg.Location))
	}
	return out, truncated
}

func findOverride(overrides []ParsedEvent, instance time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(instance) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

// makeOccurrence keys the occurrence by its actual start, so moving an
// instance (directly or through an override) changes its reminder identity.
func makeOccurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Occurrence {
	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: start.UTC().Format(time.RFC3339),
		Summary:     ev.Summary,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start.In(loc),
		End:         end.In(loc),
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
