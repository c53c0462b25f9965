package notify

import (
	"context"
	"errors"
	"time"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// LogDeliverer writes fired reminders to the application log.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, n model.Notification) error {
	appLog.Info("reminder",
		"title", n.Title,
		"event_id", n.EventID,
		"starts", n.EventStart.Format(time.RFC3339),
		"in", n.EventStart.Sub(n.FireAt).Round(time.Minute),
	)
	return nil
}

// Multi fans a reminder out to every deliverer and joins their errors.
type Multi []Deliverer

func (m Multi) Deliver(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
