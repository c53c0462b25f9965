package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by a pass. They are matched with errors.Is.
var (
	ErrFingerprint = errors.New("reconcile: fingerprint computation failed")
	ErrSchedule    = errors.New("reconcile: gateway schedule failed")
	ErrCancel      = errors.New("reconcile: gateway cancel failed")
)

// PassError ties an error kind to the event IDs it affected.
type PassError struct {
	Kind     error
	EventIDs []string
	Err      error
}

func (e *PassError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if len(e.EventIDs) > 0 {
		fmt.Fprintf(&b, " (%d events)", len(e.EventIDs))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PassError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
