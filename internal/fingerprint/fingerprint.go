// Package fingerprint computes an order-independent digest of an event
// snapshot so callers can skip reconciliation when nothing changed.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"remindcal/internal/model"
)

// ErrMalformed is returned for snapshots that cannot be fingerprinted:
// an event without ID, or two events with the same ID.
var ErrMalformed = errors.New("fingerprint: malformed event snapshot")

// Compute returns the hex SHA-256 of the sorted (id, start, title) triples.
// Reordering the input does not change the result; changing any field of
// any event does.
func Compute(events []model.Event) (string, error) {
	triples := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))

	for i, ev := range events {
		if ev.ID == "" {
			return "", fmt.Errorf("%w: event at index %d has empty id", ErrMalformed, i)
		}
		if _, dup := seen[ev.ID]; dup {
			return "", fmt.Errorf("%w: duplicate id %q", ErrMalformed, ev.ID)
		}
		seen[ev.ID] = struct{}{}
		triples = append(triples, triple(ev))
	}

	sort.Strings(triples)

	sum := sha256.Sum256([]byte(strings.Join(triples, "\n")))
	return hex.EncodeToString(sum[:]), nil
}

// triple quotes every field so separators inside titles or IDs cannot make
// two different snapshots collide.
func triple(ev model.Event) string {
	return strconv.Quote(ev.ID) + " " +
		strconv.Quote(ev.Start.UTC().Format(time.RFC3339Nano)) + " " +
		strconv.Quote(ev.Title)
}
