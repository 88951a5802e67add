// README: Typed channel kinds: restaurant orders, single order, status set, presence, platform metrics.
package realtime

import (
	"context"
	"encoding/json"

	"kottu/internal/modules/notify"
	"kottu/internal/modules/order"
	"kottu/internal/types"
)

// OrderHandlers are the callbacks of a restaurant-orders channel. Nil
// callbacks are skipped.
type OrderHandlers struct {
	OnCreated func(o *order.Order)
	OnUpdated func(oldRow, newRow *order.Order)
	OnDeleted func(oldRow *order.Order)
}

// SubscribeRestaurantOrders watches every order of a tenant. Inserts raise a
// new_order notification; updates raise an update notification only when the
// status changed.
func (m *Manager) SubscribeRestaurantOrders(name string, tenantID types.ID, h OrderHandlers) error {
	if tenantID == "" {
		return ErrInvalidChannel
	}
	return m.subscribe(name, TenantTopic(tenantID), handler{
		onMessage: m.orderChanges(name, func(c Change, oldRow, newRow *order.Order) {
			if c.TenantID != tenantID {
				return
			}
			switch c.Operation {
			case OpInsert:
				if newRow == nil {
					return
				}
				if h.OnCreated != nil {
					h.OnCreated(newRow)
				}
				m.alert(notify.KindNewOrder, newRow)
			case OpUpdate:
				if !StatusChanged(oldRow, newRow) {
					return
				}
				if h.OnUpdated != nil {
					h.OnUpdated(oldRow, newRow)
				}
				m.alert(notify.KindUpdate, newRow)
			case OpDelete:
				if h.OnDeleted != nil && oldRow != nil {
					h.OnDeleted(oldRow)
				}
			}
		}),
	})
}

// SubscribeOrder watches one order. onChange receives every insert or update
// of that row, including ones that did not change the status.
func (m *Manager) SubscribeOrder(name string, tenantID, orderID types.ID, onChange func(oldRow, newRow *order.Order)) error {
	if tenantID == "" || orderID == "" || onChange == nil {
		return ErrInvalidChannel
	}
	return m.subscribe(name, TenantTopic(tenantID), handler{
		onMessage: m.orderChanges(name, func(c Change, oldRow, newRow *order.Order) {
			row := newRow
			if row == nil {
				row = oldRow
			}
			if row == nil || row.ID != orderID {
				return
			}
			onChange(oldRow, newRow)
		}),
	})
}

// SubscribeStatuses delivers the tenant's full list of orders in the given
// statuses on subscribe and again after any change in the tenant.
func (m *Manager) SubscribeStatuses(name string, tenantID types.ID, statuses []order.Status, onList func([]*order.Order)) error {
	if tenantID == "" || len(statuses) == 0 || onList == nil || m.orders == nil {
		return ErrInvalidChannel
	}
	want := append([]order.Status(nil), statuses...)
	refetch := func(ctx context.Context) {
		list, err := m.orders.ListByStatuses(ctx, tenantID, want)
		if err != nil {
			if ctx.Err() == nil {
				m.log.Error("status refetch failed", "channel", name, "error", err)
			}
			return
		}
		onList(list)
	}
	return m.subscribe(name, TenantTopic(tenantID), handler{
		onReady:   refetch,
		onMessage: func(ctx context.Context, _ []byte) { refetch(ctx) },
	})
}

// SubscribeMetrics delivers platform metrics on subscribe and after every order change.
func (m *Manager) SubscribeMetrics(name string, onMetrics func(order.Metrics)) error {
	if onMetrics == nil || m.orders == nil {
		return ErrInvalidChannel
	}
	refetch := func(ctx context.Context) {
		mt, err := m.orders.Metrics(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.log.Error("metrics refetch failed", "channel", name, "error", err)
			}
			return
		}
		onMetrics(mt)
	}
	return m.subscribe(name, PlatformTopic(), handler{
		onReady:   refetch,
		onMessage: func(ctx context.Context, _ []byte) { refetch(ctx) },
	})
}

// SubscribeAlerts raises the new_order and update notifications for every
// tenant without any callbacks. It backs push and chat alerts, so a process
// should hold at most one.
func (m *Manager) SubscribeAlerts(name string) error {
	if m.alerts == nil {
		return ErrInvalidChannel
	}
	return m.subscribe(name, PlatformTopic(), handler{
		onMessage: m.orderChanges(name, func(c Change, oldRow, newRow *order.Order) {
			switch {
			case newRow == nil:
			case c.Operation == OpInsert:
				m.alert(notify.KindNewOrder, newRow)
			case c.Operation == OpUpdate && StatusChanged(oldRow, newRow):
				m.alert(notify.KindUpdate, newRow)
			}
		}),
	})
}

type presenceEvent struct {
	Event string `json:"event"`
	Key   string `json:"key"`
}

// SubscribePresence delivers the tenant's live presence list on every sync.
func (m *Manager) SubscribePresence(name string, tenantID types.ID, onSync func([]Presence)) error {
	if tenantID == "" || onSync == nil {
		return ErrInvalidChannel
	}
	resync := func(ctx context.Context) {
		list, err := m.presence.List(ctx, tenantID, m.now().Add(-m.staleAfter))
		if err != nil {
			if ctx.Err() == nil {
				m.log.Error("presence sync failed", "channel", name, "error", err)
			}
			return
		}
		onSync(list)
	}
	return m.subscribe(name, PresenceTopic(tenantID), handler{
		onReady:   resync,
		onMessage: func(ctx context.Context, _ []byte) { resync(ctx) },
	})
}

// Track stores the caller's presence and tells every presence channel of the tenant to sync.
func (m *Manager) Track(ctx context.Context, tenantID types.ID, p Presence) error {
	if tenantID == "" || p.Key == "" {
		return ErrInvalidChannel
	}
	if p.OnlineAt.IsZero() {
		p.OnlineAt = m.now().UTC()
	}
	if err := m.presence.Put(ctx, tenantID, p); err != nil {
		return err
	}
	return m.publishSync(ctx, tenantID, "join", p.Key)
}

// Refresh renews OnlineAt for a client that is still connected, without
// announcing a sync. It must run more often than PresenceStaleAfter or the
// next sync drops the entry.
func (m *Manager) Refresh(ctx context.Context, tenantID types.ID, p Presence) error {
	if tenantID == "" || p.Key == "" {
		return ErrInvalidChannel
	}
	p.OnlineAt = m.now().UTC()
	return m.presence.Put(ctx, tenantID, p)
}

func (m *Manager) Untrack(ctx context.Context, tenantID types.ID, key string) error {
	if err := m.presence.Remove(ctx, tenantID, key); err != nil {
		return err
	}
	return m.publishSync(ctx, tenantID, "leave", key)
}

func (m *Manager) publishSync(ctx context.Context, tenantID types.ID, event, key string) error {
	raw, err := json.Marshal(presenceEvent{Event: event, Key: key})
	if err != nil {
		return err
	}
	return m.broker.Publish(ctx, PresenceTopic(tenantID), raw)
}

func (m *Manager) orderChanges(name string, fn func(c Change, oldRow, newRow *order.Order)) func(context.Context, []byte) {
	return func(_ context.Context, payload []byte) {
		c, err := ParseChange(payload)
		if err != nil {
			m.log.Warn("dropping malformed change", "channel", name, "error", err)
			return
		}
		oldRow, newRow, err := c.Orders()
		if err != nil {
			m.log.Warn("dropping undecodable change", "channel", name, "error", err)
			return
		}
		fn(c, oldRow, newRow)
	}
}

func (m *Manager) alert(kind notify.Kind, o *order.Order) {
	if m.alerts == nil {
		return
	}
	m.alerts.Send(notify.Notification{
		Kind:        kind,
		TenantID:    o.TenantID,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Status:      string(o.Status),
	})
}
