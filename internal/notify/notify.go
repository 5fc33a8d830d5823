package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/LeventeLantos/sms-tracker/internal/model"
)

type Notifier interface {
	Notify(ctx context.Context, ev model.StatusEvent) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev model.StatusEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l}
}

func (n *LogNotifier) Notify(ctx context.Context, ev model.StatusEvent) error {
	n.log.InfoContext(ctx, "submission status",
		"event_id", ev.ID,
		"instance_id", ev.InstanceID,
		"status", ev.Status,
		"replayed", ev.Replayed,
	)
	return nil
}
