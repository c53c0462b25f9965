package reconcile

import (
	"sort"
)

// Record is the engine's belief that an event has live notifications.
// Handles is a sorted set and never empty.
type Record struct {
	EventID string   `json:"event_id"`
	Handles []string `json:"handles"`
}

// State is the bookkeeping of one event-to-notification binding. It is
// owned by a single Engine and must not be shared between engines.
type State struct {
	known           map[string]Record
	lastFingerprint string
}

// NewState returns an empty State.
func NewState() *State {
	return &State{known: make(map[string]Record)}
}

func (s *State) lookup(eventID string) (Record, bool) {
	r, ok := s.known[eventID]
	return r, ok
}

// put records handles for an event. An empty handle set removes the
// record instead of storing a placeholder.
func (s *State) put(eventID string, handles []string) {
	set := normalizeHandles(handles)
	if len(set) == 0 {
		delete(s.known, eventID)
		return
	}
	s.known[eventID] = Record{EventID: eventID, Handles: set}
}

func (s *State) remove(eventID string) {
	delete(s.known, eventID)
}

func (s *State) clear() {
	s.known = make(map[string]Record)
	s.lastFingerprint = ""
}

// records returns a copy of all records sorted by event ID.
func (s *State) records() []Record {
	out := make([]Record, 0, len(s.known))
	for _, r := range s.known {
		out = append(out, Record{
			EventID: r.EventID,
			Handles: append([]string(nil), r.Handles...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

func normalizeHandles(handles []string) []string {
	seen := make(map[string]struct{}, len(handles))
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
