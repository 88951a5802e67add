// README: Best-effort notification side channel (sound/push) with a fixed vocabulary.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kottu/internal/types"
)

type Kind string

const (
	KindNewOrder Kind = "new_order"
	KindUpdate   Kind = "update"
	KindUrgent   Kind = "urgent"
)

type Notification struct {
	Kind        Kind
	TenantID    types.ID
	OrderID     types.ID
	OrderNumber string
	Status      string
}

// Title is the short human text shown by push and chat channels.
func (n Notification) Title() string {
	switch n.Kind {
	case KindNewOrder:
		return "New order " + n.OrderNumber
	case KindUrgent:
		return "Order " + n.OrderNumber + " is running late"
	default:
		return "Order " + n.OrderNumber + " is now " + n.Status
	}
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, x := range m {
		if x == nil {
			continue
		}
		if err := x.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher delivers notifications asynchronously. Send never blocks the
// caller and failures are only logged.
type Dispatcher struct {
	notifier Notifier
	log      *slog.Logger
	timeout  time.Duration
}

func NewDispatcher(n Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{notifier: n, log: log.With("component", "notify"), timeout: 5 * time.Second}
}

func (d *Dispatcher) Send(n Notification) {
	if d == nil || d.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.log.Warn("notification failed", "kind", n.Kind, "order_id", n.OrderID, "error", err)
		}
	}()
}
