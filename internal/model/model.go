package model

import "time"

// Event is the snapshot view of a calendar entry that reminders are
// reconciled against. It is owned by whatever produced the snapshot; the
// reconciler only reads it.
type Event struct {
	// ID is unique within one snapshot. For ICS input it also encodes the
	// occurrence start, so moving an event yields a new ID.
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
}

// Occurrence represents a single concrete instance of an ICS event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey identifies one occurrence of a recurring event: its
	// actual start in UTC, RFC 3339.
	InstanceKey string

	Summary  string
	Location string
	AllDay   bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// EventID is the reminder identity of an occurrence.
func (o Occurrence) EventID() string {
	return o.SourceID + "/" + o.UID + "/" + o.InstanceKey
}

// Event converts the occurrence into a reminder snapshot entry.
func (o Occurrence) Event() Event {
	title := o.Summary
	if title == "" {
		title = "(untitled)"
	}
	return Event{
		ID:    o.EventID(),
		Title: title,
		Start: o.Start,
	}
}

// Notification is a single reminder instance held by a notification
// platform.
type Notification struct {
	Handle     string    `json:"handle"`
	EventID    string    `json:"event_id"`
	Title      string    `json:"title"`
	EventStart time.Time `json:"event_start"`
	FireAt     time.Time `json:"fire_at"`
}
