package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kottu/internal/modules/notify"
	"kottu/internal/modules/order"
	"kottu/internal/types"
)

const tenant = types.ID("r1")

type recordingAlerter struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingAlerter) Send(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingAlerter) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Kind
	}
	return out
}

type fakeOrders struct {
	mu          sync.Mutex
	listCalls   int
	metricCalls int
	statuses    []order.Status
	list        []*order.Order
}

func (f *fakeOrders) ListByStatuses(_ context.Context, _ types.ID, statuses []order.Status) ([]*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.statuses = statuses
	return f.list, nil
}

func (f *fakeOrders) Metrics(context.Context) (order.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metricCalls++
	return order.Metrics{TotalOrders: f.metricCalls}, nil
}

func newTestManager(t *testing.T, deps Deps) *Manager {
	t.Helper()
	if deps.Broker == nil {
		deps.Broker = NewMemoryBroker()
	}
	deps.ReconnectBaseDelay = 10 * time.Millisecond
	m := NewManager(deps)
	t.Cleanup(m.Close)
	return m
}

func changePayload(t *testing.T, op Operation, oldRow, newRow *order.Order) []byte {
	t.Helper()
	c := Change{Operation: op, Table: "orders", TenantID: tenant, At: time.Now().UTC()}
	if oldRow != nil {
		raw, err := json.Marshal(oldRow)
		require.NoError(t, err)
		c.Old = raw
	}
	if newRow != nil {
		raw, err := json.Marshal(newRow)
		require.NoError(t, err)
		c.New = raw
	}
	raw, err := json.Marshal(c)
	require.NoError(t, err)
	return raw
}

func row(id string, s order.Status) *order.Order {
	return &order.Order{ID: types.ID(id), TenantID: tenant, Number: "ORD-" + id, Type: order.TypeDelivery, Status: s}
}

func waitSubscribed(t *testing.T, b *MemoryBroker, topic string) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Subscribers(topic) == 1 }, time.Second, time.Millisecond)
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, Deps{Broker: b})

	require.NoError(t, m.SubscribeRestaurantOrders("kitchen", tenant, OrderHandlers{OnCreated: func(*order.Order) {}}))
	waitSubscribed(t, b, TenantTopic(tenant))

	m.Unsubscribe("kitchen")
	m.Unsubscribe("kitchen")
	m.Unsubscribe("never-registered")

	assert.Empty(t, m.Channels())
	assert.Equal(t, 0, b.Subscribers(TenantTopic(tenant)))
	_, ok := m.State("kitchen")
	assert.False(t, ok)
}

func TestResubscribeReplacesChannel(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, Deps{Broker: b})

	first := make(chan *order.Order, 4)
	second := make(chan *order.Order, 4)
	require.NoError(t, m.SubscribeRestaurantOrders("kitchen", tenant, OrderHandlers{OnCreated: func(o *order.Order) { first <- o }}))
	waitSubscribed(t, b, TenantTopic(tenant))
	require.NoError(t, m.SubscribeRestaurantOrders("kitchen", tenant, OrderHandlers{OnCreated: func(o *order.Order) { second <- o }}))
	waitSubscribed(t, b, TenantTopic(tenant))

	require.NoError(t, b.Publish(context.Background(), TenantTopic(tenant), changePayload(t, OpInsert, nil, row("o1", order.StatusPending))))

	got := recv(t, second)
	assert.Equal(t, types.ID("o1"), got.ID)
	assert.Empty(t, first)
	assert.Equal(t, []string{"kitchen"}, m.Channels())
}

func TestRestaurantOrdersNotifications(t *testing.T) {
	b := NewMemoryBroker()
	alerts := &recordingAlerter{}
	m := newTestManager(t, Deps{Broker: b, Alerts: alerts})

	created := make(chan *order.Order, 4)
	updated := make(chan [2]*order.Order, 4)
	require.NoError(t, m.SubscribeRestaurantOrders("kitchen", tenant, OrderHandlers{
		OnCreated: func(o *order.Order) { created <- o },
		OnUpdated: func(o, n *order.Order) { updated <- [2]*order.Order{o, n} },
	}))
	waitSubscribed(t, b, TenantTopic(tenant))

	ctx := context.Background()
	topic := TenantTopic(tenant)
	pending := row("o1", order.StatusPending)
	confirmed := row("o1", order.StatusConfirmed)
	withNote := row("o1", order.StatusConfirmed)
	withNote.Notes = "no onions"

	require.NoError(t, b.Publish(ctx, topic, changePayload(t, OpInsert, nil, pending)))
	require.NoError(t, b.Publish(ctx, topic, changePayload(t, OpUpdate, pending, pending)))
	require.NoError(t, b.Publish(ctx, topic, changePayload(t, OpUpdate, pending, confirmed)))
	require.NoError(t, b.Publish(ctx, topic, changePayload(t, OpUpdate, confirmed, withNote)))
	require.NoError(t, b.Publish(ctx, topic, changePayload(t, OpInsert, nil, row("o2", order.StatusPending))))

	assert.Equal(t, types.ID("o1"), recv(t, created).ID)
	pair := recv(t, updated)
	assert.Equal(t, order.StatusPending, pair[0].Status)
	assert.Equal(t, order.StatusConfirmed, pair[1].Status)

	// o2 is dispatched last, so once it arrives every earlier change was handled.
	assert.Equal(t, types.ID("o2"), recv(t, created).ID)
	assert.Empty(t, updated)
	assert.Equal(t, []notify.Kind{notify.KindNewOrder, notify.KindUpdate, notify.KindNewOrder}, alerts.kinds())
}

func TestEventsDeliveredInOrder(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, Deps{Broker: b})

	const n = 40
	got := make(chan types.ID, n)
	require.NoError(t, m.SubscribeRestaurantOrders("kitchen", tenant, OrderHandlers{OnCreated: func(o *order.Order) { got <- o.ID }}))
	waitSubscribed(t, b, TenantTopic(tenant))

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("o%02d", i)
		require.NoError(t, b.Publish(context.Background(), TenantTopic(tenant), changePayload(t, OpInsert, nil, row(id, order.StatusPending))))
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, types.ID(fmt.Sprintf("o%02d", i)), recv(t, got))
	}
}

func TestSingleOrderChannelFilters(t *testing.T) {
	b := NewMemoryBroker()
	m := newTestManager(t, Deps{Broker: b})

	got := make(chan *order.Order, 4)
	require.NoError(t, m.SubscribeOrder("track", tenant, "o2", func(_, n *order.Order) { got <- n }))
	waitSubscribed(t, b, TenantTopic(tenant))

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, TenantTopic(tenant), changePayload(t, OpUpdate, row("o1", order.StatusPending), row("o1", order.StatusConfirmed))))
	require.NoError(t, b.Publish(ctx, TenantTopic(tenant), []byte("not json")))
	require.NoError(t, b.Publish(ctx, TenantTopic(tenant), changePayload(t, OpUpdate, row("o2", order.StatusReady), row("o2", order.StatusReady))))

	o := recv(t, got)
	assert.Equal(t, types.ID("o2"), o.ID)
	assert.Empty(t, got)
}

func TestStatusChannelRefetchesWholeSet(t *testing.T) {
	b := NewMemoryBroker()
	orders := &fakeOrders{list: []*order.Order{row("o1", order.StatusPending), row("o2", order.StatusReady)}}
	m := newTestManager(t, Deps{Broker: b, Orders: orders})

	lists := make(chan []*order.Order, 4)
	watch := []order.Status{order.StatusPending, order.StatusConfirmed, order.StatusPreparing, order.StatusReady}
	require.NoError(t, m.SubscribeStatuses("board", tenant, watch, func(l []*order.Order) { lists <- l }))

	initial := recv(t, lists)
	assert.Len(t, initial, 2)

	relay := NewPGRelay(nil, b, "", nil)
	require.NoError(t, relay.Forward(context.Background(), changePayload(t, OpUpdate, row("o9", order.StatusDelivered), row("o9", order.StatusRefunded))))

	assert.Len(t, recv(t, lists), 2)
	orders.mu.Lock()
	defer orders.mu.Unlock()
	assert.Equal(t, 2, orders.listCalls)
	assert.Equal(t, watch, orders.statuses)
}

func TestMetricsChannelFollowsPlatformTopic(t *testing.T) {
	b := NewMemoryBroker()
	orders := &fakeOrders{}
	m := newTestManager(t, Deps{Broker: b, Orders: orders})

	got := make(chan order.Metrics, 4)
	require.NoError(t, m.SubscribeMetrics("platform", func(mt order.Metrics) { got <- mt }))
	assert.Equal(t, 1, recv(t, got).TotalOrders)

	relay := NewPGRelay(nil, b, "", nil)
	require.NoError(t, relay.Forward(context.Background(), changePayload(t, OpInsert, nil, row("o1", order.StatusPending))))
	assert.Equal(t, 2, recv(t, got).TotalOrders)
}

type chanAlerter chan notify.Notification

func (c chanAlerter) Send(n notify.Notification) { c <- n }

func TestAlertsChannelCoversAllTenants(t *testing.T) {
	b := NewMemoryBroker()
	alerts := make(chanAlerter, 8)
	m := newTestManager(t, Deps{Broker: b, Alerts: alerts})

	require.NoError(t, m.SubscribeAlerts("alerts"))
	waitSubscribed(t, b, PlatformTopic())

	relay := NewPGRelay(nil, b, "", nil)
	ctx := context.Background()
	require.NoError(t, relay.Forward(ctx, changePayload(t, OpInsert, nil, row("o1", order.StatusPending))))
	require.NoError(t, relay.Forward(ctx, changePayload(t, OpUpdate, row("o1", order.StatusPending), row("o1", order.StatusPending))))
	require.NoError(t, relay.Forward(ctx, changePayload(t, OpDelete, row("o1", order.StatusPending), nil)))
	require.NoError(t, relay.Forward(ctx, changePayload(t, OpUpdate, row("o1", order.StatusPending), row("o1", order.StatusConfirmed))))

	first := recv[notify.Notification](t, alerts)
	assert.Equal(t, notify.KindNewOrder, first.Kind)
	assert.Equal(t, tenant, first.TenantID)
	second := recv[notify.Notification](t, alerts)
	assert.Equal(t, notify.KindUpdate, second.Kind)
	assert.Equal(t, "confirmed", second.Status)
	assert.Empty(t, alerts)

	assert.ErrorIs(t, NewManager(Deps{}).SubscribeAlerts("alerts"), ErrInvalidChannel)
}

func TestPresenceSyncDropsStaleEntries(t *testing.T) {
	b := NewMemoryBroker()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	m := newTestManager(t, Deps{Broker: b, PresenceStaleAfter: 2 * time.Minute, Now: func() time.Time { return now }})

	syncs := make(chan []Presence, 8)
	require.NoError(t, m.SubscribePresence("screens", tenant, func(p []Presence) { syncs <- p }))
	assert.Empty(t, recv(t, syncs))

	ctx := context.Background()
	require.NoError(t, m.Track(ctx, tenant, Presence{Key: "old-tab", UserID: "u0", OnlineAt: now.Add(-5 * time.Minute)}))
	assert.Empty(t, recv(t, syncs))

	require.NoError(t, m.Track(ctx, tenant, Presence{Key: "grill", UserID: "u1", Role: "cook"}))
	live := recv(t, syncs)
	require.Len(t, live, 1)
	assert.Equal(t, "grill", live[0].Key)
	assert.Equal(t, now, live[0].OnlineAt)

	require.NoError(t, m.Untrack(ctx, tenant, "grill"))
	assert.Empty(t, recv(t, syncs))
}

type testClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.at = c.at.Add(d)
	c.mu.Unlock()
}

func TestRefreshKeepsConnectedClientListed(t *testing.T) {
	clk := &testClock{at: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)}
	m := newTestManager(t, Deps{PresenceStaleAfter: 2 * time.Minute, Now: clk.Now})

	syncs := make(chan []Presence, 8)
	require.NoError(t, m.SubscribePresence("screens", tenant, func(p []Presence) { syncs <- p }))
	assert.Empty(t, recv(t, syncs))

	ctx := context.Background()
	screenA := Presence{Key: "screen-a", UserID: "u1"}
	require.NoError(t, m.Track(ctx, tenant, screenA))
	require.Len(t, recv(t, syncs), 1)

	// screen-a stays connected for three minutes and refreshes halfway.
	clk.advance(90 * time.Second)
	require.NoError(t, m.Refresh(ctx, tenant, screenA))
	clk.advance(90 * time.Second)

	require.NoError(t, m.Track(ctx, tenant, Presence{Key: "screen-b", UserID: "u2"}))
	live := recv(t, syncs)
	require.Len(t, live, 2)
	assert.Equal(t, "screen-a", live[0].Key)
	assert.Equal(t, "screen-b", live[1].Key)

	assert.ErrorIs(t, m.Refresh(ctx, tenant, Presence{}), ErrInvalidChannel)
}

// flakyBroker fails Subscribe according to plan; a "broken" outcome returns a
// subscription whose first Next fails.
type flakyBroker struct {
	*MemoryBroker
	mu    sync.Mutex
	calls int
	plan  func(call int) string
}

type brokenSub struct{}

func (brokenSub) Next(context.Context) ([]byte, error) { return nil, errors.New("connection reset") }
func (brokenSub) Close() error                         { return nil }

func (f *flakyBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	switch f.plan(call) {
	case "fail":
		return nil, errors.New("transport unavailable")
	case "broken":
		return brokenSub{}, nil
	}
	return f.MemoryBroker.Subscribe(ctx, topic)
}

func (f *flakyBroker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type waitRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) bool {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	w.mu.Unlock()
	return ctx.Err() == nil
}

func (w *waitRecorder) get() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

func TestReconnectBackoffResetsOnSuccess(t *testing.T) {
	fb := &flakyBroker{MemoryBroker: NewMemoryBroker(), plan: func(call int) string {
		switch call {
		case 1, 2, 4, 5:
			return "fail"
		case 3:
			return "broken"
		}
		return "ok"
	}}
	m := newTestManager(t, Deps{Broker: fb})
	w := &waitRecorder{}
	m.wait = w.wait

	require.NoError(t, m.SubscribeRestaurantOrders("kitchen", tenant, OrderHandlers{}))
	require.Eventually(t, func() bool {
		s, _ := m.State("kitchen")
		return s == StateSubscribed && fb.callCount() == 6
	}, time.Second, time.Millisecond)

	base := m.baseDelay
	assert.Equal(t, []time.Duration{base, 2 * base, base, 2 * base, 3 * base}, w.get())
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	fb := &flakyBroker{MemoryBroker: NewMemoryBroker(), plan: func(int) string { return "fail" }}
	m := newTestManager(t, Deps{Broker: fb})
	w := &waitRecorder{}
	m.wait = w.wait

	require.NoError(t, m.SubscribeRestaurantOrders("kitchen", tenant, OrderHandlers{}))
	require.Eventually(t, func() bool {
		s, _ := m.State("kitchen")
		return s == StateDisconnected
	}, time.Second, time.Millisecond)

	assert.Equal(t, 6, fb.callCount())
	assert.Len(t, w.get(), 5)

	// An explicit resubscribe starts over.
	fb.plan = func(int) string { return "ok" }
	require.NoError(t, m.SubscribeRestaurantOrders("kitchen", tenant, OrderHandlers{}))
	require.Eventually(t, func() bool {
		s, _ := m.State("kitchen")
		return s == StateSubscribed
	}, time.Second, time.Millisecond)
}

func TestInvalidChannels(t *testing.T) {
	m := newTestManager(t, Deps{})
	assert.ErrorIs(t, m.SubscribeRestaurantOrders("", tenant, OrderHandlers{}), ErrInvalidChannel)
	assert.ErrorIs(t, m.SubscribeRestaurantOrders("x", "", OrderHandlers{}), ErrInvalidChannel)
	assert.ErrorIs(t, m.SubscribeOrder("x", tenant, "", func(_, _ *order.Order) {}), ErrInvalidChannel)
	assert.ErrorIs(t, m.SubscribeStatuses("x", tenant, []order.Status{order.StatusPending}, func([]*order.Order) {}), ErrInvalidChannel)
	assert.ErrorIs(t, m.SubscribeMetrics("x", func(order.Metrics) {}), ErrInvalidChannel)
	assert.ErrorIs(t, m.Track(context.Background(), tenant, Presence{}), ErrInvalidChannel)
	assert.Empty(t, m.Channels())
}

func TestParseChange(t *testing.T) {
	_, err := ParseChange([]byte(`{"operation":"truncate","table":"orders"}`))
	assert.Error(t, err)

	c, err := ParseChange(changePayload(t, OpDelete, row("o1", order.StatusCanceled), nil))
	require.NoError(t, err)
	oldRow, newRow, err := c.Orders()
	require.NoError(t, err)
	assert.Nil(t, newRow)
	assert.Equal(t, order.StatusCanceled, oldRow.Status)

	assert.True(t, StatusChanged(nil, row("o1", order.StatusPending)))
	assert.False(t, StatusChanged(row("o1", order.StatusPending), row("o1", order.StatusPending)))
	assert.False(t, StatusChanged(row("o1", order.StatusPending), nil))
}
