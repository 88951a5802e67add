// README: Server-sent event streams backed by realtime channels.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kottu/internal/http/middleware"
	"kottu/internal/modules/order"
	"kottu/internal/modules/realtime"
	"kottu/internal/types"
)

type Realtime interface {
	SubscribeRestaurantOrders(name string, tenantID types.ID, h realtime.OrderHandlers) error
	SubscribeOrder(name string, tenantID, orderID types.ID, onChange func(oldRow, newRow *order.Order)) error
	SubscribeStatuses(name string, tenantID types.ID, statuses []order.Status, onList func([]*order.Order)) error
	SubscribeMetrics(name string, onMetrics func(order.Metrics)) error
	SubscribePresence(name string, tenantID types.ID, onSync func([]realtime.Presence)) error
	Track(ctx context.Context, tenantID types.ID, p realtime.Presence) error
	Refresh(ctx context.Context, tenantID types.ID, p realtime.Presence) error
	Untrack(ctx context.Context, tenantID types.ID, key string) error
	Unsubscribe(name string)
}

const keepAliveEvery = 15 * time.Second

type StreamHandler struct {
	rt        Realtime
	keepAlive time.Duration
}

func NewStreamHandler(rt Realtime) *StreamHandler {
	return &StreamHandler{rt: rt, keepAlive: keepAliveEvery}
}

// WithKeepAlive sets the ping interval. Presence streams refresh the caller on
// every ping, so it must stay below the presence staleness window.
func (h *StreamHandler) WithKeepAlive(d time.Duration) *StreamHandler {
	if d > 0 {
		h.keepAlive = d
	}
	return h
}

type sseEvent struct {
	name string
	data any
}

type emitFunc func(event string, data any)

// stream opens one realtime channel for the lifetime of the request and
// relays whatever the channel callbacks emit. onPing, if set, runs with every
// keep-alive. The channel is released when the client goes away.
func (h *StreamHandler) stream(c *gin.Context, name string, subscribe func(emit emitFunc) error, onPing func(ctx context.Context)) {
	ctx := c.Request.Context()
	events := make(chan sseEvent, 16)
	emit := func(event string, data any) {
		select {
		case events <- sseEvent{name: event, data: data}:
		case <-ctx.Done():
		}
	}
	if err := subscribe(emit); err != nil {
		if errors.Is(err, realtime.ErrInvalidChannel) {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	defer h.rt.Unsubscribe(name)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ping := time.NewTicker(h.keepAlive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			c.SSEvent(ev.name, ev.data)
			c.Writer.Flush()
		case <-ping.C:
			if onPing != nil {
				onPing(ctx)
			}
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			c.Writer.Flush()
		}
	}
}

func channelName(kind string) string {
	return "sse:" + kind + ":" + types.NewID().String()
}

type orderChange struct {
	Old *order.Order `json:"old,omitempty"`
	New *order.Order `json:"new"`
}

// RestaurantOrders streams created, updated and deleted events for a tenant.
func (h *StreamHandler) RestaurantOrders(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	name := channelName("orders")
	h.stream(c, name, func(emit emitFunc) error {
		return h.rt.SubscribeRestaurantOrders(name, tenantID, realtime.OrderHandlers{
			OnCreated: func(o *order.Order) { emit("created", o) },
			OnUpdated: func(oldRow, newRow *order.Order) { emit("updated", orderChange{Old: oldRow, New: newRow}) },
			OnDeleted: func(o *order.Order) { emit("deleted", o) },
		})
	}, nil)
}

// Order streams one order for customer tracking.
func (h *StreamHandler) Order(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	name := channelName("order")
	h.stream(c, name, func(emit emitFunc) error {
		return h.rt.SubscribeOrder(name, tenantID, id, func(oldRow, newRow *order.Order) {
			if newRow == nil {
				emit("deleted", oldRow)
				return
			}
			emit("order", orderView{Order: newRow, Progress: order.Progress(newRow.Status, newRow.Type)})
		})
	}, nil)
}

// Kitchen streams the full active order list whenever it may have changed.
func (h *StreamHandler) Kitchen(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	name := channelName("kitchen")
	h.stream(c, name, func(emit emitFunc) error {
		return h.rt.SubscribeStatuses(name, tenantID, order.ActiveStatuses, func(list []*order.Order) {
			emit("orders", list)
		})
	}, nil)
}

// Presence tracks the caller as online for the duration of the stream and
// relays the tenant's presence list.
func (h *StreamHandler) Presence(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	name := channelName("presence")
	me := realtime.Presence{
		Key:    name,
		UserID: middleware.CallerUID(c),
		Name:   c.Query("name"),
		Role:   middleware.CallerRole(c),
	}
	h.stream(c, name, func(emit emitFunc) error {
		if err := h.rt.SubscribePresence(name, tenantID, func(list []realtime.Presence) {
			emit("presence", list)
		}); err != nil {
			return err
		}
		err := h.rt.Track(c.Request.Context(), tenantID, me)
		if err != nil {
			h.rt.Unsubscribe(name)
		}
		return err
	}, func(ctx context.Context) {
		if err := h.rt.Refresh(ctx, tenantID, me); err != nil && ctx.Err() == nil {
			_ = c.Error(err)
		}
	})
	// The request context is done by now.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.rt.Untrack(ctx, tenantID, name)
}

// Metrics streams platform-wide order metrics.
func (h *StreamHandler) Metrics(c *gin.Context) {
	name := channelName("metrics")
	h.stream(c, name, func(emit emitFunc) error {
		return h.rt.SubscribeMetrics(name, func(m order.Metrics) { emit("metrics", m) })
	}, nil)
}
