package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"
	_ "time/tzdata"

	ical "github.com/arran4/golang-ical"

	appLog "remindcal/internal/log"
)

// ParsedEvent is a VEVENT before recurrence expansion.
type ParsedEvent struct {
	Source Source

	UID      string
	Summary  string
	Location string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time
	// Recurrence is the RECURRENCE-ID of an override instance, nil for
	// base events.
	Recurrence *time.Time
}

// IsOverride reports whether the VEVENT replaces one recurring instance.
func (p ParsedEvent) IsOverride() bool {
	return p.Recurrence != nil
}

// ParseICS parses one ICS payload. Timezones (VTIMEZONE/TZID) are resolved
// by golang-ical; RRULE, EXDATE and RECURRENCE-ID are recorded for
// ExpandOccurrences. A VEVENT that cannot be parsed is skipped.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(src, ve)
		if err != nil {
			appLog.Warn("ics: skipping vevent", "id", src.ID, "err", err)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start

	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	} else {
		out.End = start
	}

	if dt := ve.GetProperty(ical.ComponentPropertyDtStart); dt != nil {
		out.AllDay = !strings.Contains(dt.Value, "T")
		if vs, ok := dt.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
	}
	if out.AllDay && !out.End.After(out.Start) {
		out.End = out.Start.AddDate(0, 0, 1)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := propertyLocation(p, out.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, propertyLocation(p, out.Start.Location())); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// propertyLocation resolves the TZID parameter of p. Values without one
// are floating and use time.Local, as golang-ical does for DTSTART. An
// unknown TZID falls back to the event's own zone.
func propertyLocation(p *ical.IANAProperty, eventLoc *time.Location) *time.Location {
	tzid, ok := p.ICalParameters[string(ical.ParameterTzid)]
	if !ok || len(tzid) == 0 || tzid[0] == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tzid[0])
	if err != nil {
		appLog.Warn("ics: unknown TZID, using event timezone", "property", p.IANAToken, "tzid", tzid[0], "err", err)
		return eventLoc
	}
	return loc
}

// parseICSTime handles the three bare forms used by EXDATE and
// RECURRENCE-ID: UTC date-time, date-time in loc and date in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
