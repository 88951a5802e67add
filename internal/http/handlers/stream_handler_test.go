package handlers_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kottu/internal/http/handlers"
	httpmiddleware "kottu/internal/http/middleware"
	"kottu/internal/modules/order"
	"kottu/internal/modules/realtime"
	"kottu/internal/types"
)

type fakeRealtime struct {
	mu           sync.Mutex
	onChange     func(oldRow, newRow *order.Order)
	onSync       func([]realtime.Presence)
	tracked      []realtime.Presence
	ready        chan string
	unsubscribed chan string
	untracked    chan string
	refreshed    chan realtime.Presence
	metricsErr   error
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{
		ready:        make(chan string, 4),
		unsubscribed: make(chan string, 4),
		untracked:    make(chan string, 4),
		refreshed:    make(chan realtime.Presence, 16),
	}
}

func (f *fakeRealtime) SubscribeRestaurantOrders(name string, _ types.ID, _ realtime.OrderHandlers) error {
	f.ready <- name
	return nil
}

func (f *fakeRealtime) SubscribeOrder(name string, _, _ types.ID, onChange func(oldRow, newRow *order.Order)) error {
	f.mu.Lock()
	f.onChange = onChange
	f.mu.Unlock()
	f.ready <- name
	return nil
}

func (f *fakeRealtime) SubscribeStatuses(name string, _ types.ID, _ []order.Status, _ func([]*order.Order)) error {
	f.ready <- name
	return nil
}

func (f *fakeRealtime) SubscribeMetrics(name string, _ func(order.Metrics)) error {
	if f.metricsErr != nil {
		return f.metricsErr
	}
	f.ready <- name
	return nil
}

func (f *fakeRealtime) SubscribePresence(name string, _ types.ID, onSync func([]realtime.Presence)) error {
	f.mu.Lock()
	f.onSync = onSync
	f.mu.Unlock()
	f.ready <- name
	return nil
}

func (f *fakeRealtime) Track(_ context.Context, _ types.ID, p realtime.Presence) error {
	f.mu.Lock()
	f.tracked = append(f.tracked, p)
	f.mu.Unlock()
	return nil
}

func (f *fakeRealtime) Refresh(_ context.Context, _ types.ID, p realtime.Presence) error {
	select {
	case f.refreshed <- p:
	default:
	}
	return nil
}

func (f *fakeRealtime) Untrack(_ context.Context, _ types.ID, key string) error {
	f.untracked <- key
	return nil
}

func (f *fakeRealtime) Unsubscribe(name string) {
	f.unsubscribed <- name
}

func buildStreamRouter(rt *fakeRealtime) *gin.Engine {
	return buildStreamRouterWithKeepAlive(rt, 0)
}

func buildStreamRouterWithKeepAlive(rt *fakeRealtime, keepAlive time.Duration) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handlers.NewStreamHandler(rt).WithKeepAlive(keepAlive)
	r.GET("/api/restaurants/:restaurant_id/orders/:id/live", h.Order)
	staff := r.Group("/api/restaurants/:restaurant_id")
	staff.Use(httpmiddleware.Auth(staffVerifier("u1", "kitchen", "r1")), httpmiddleware.TenantAccess("restaurant_id"))
	staff.GET("/live/presence", h.Presence)
	r.GET("/api/platform/metrics/live", h.Metrics)
	return r
}

func openStream(t *testing.T, ctx context.Context, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return resp
}

func recvName(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		return ""
	}
}

// readEvent scans the stream until the named event and returns its data line.
func readEvent(t *testing.T, sc *bufio.Scanner, name string) string {
	t.Helper()
	found := false
	for sc.Scan() {
		line := sc.Text()
		if line == "event:"+name {
			found = true
			continue
		}
		if found && strings.HasPrefix(line, "data:") {
			return strings.TrimPrefix(line, "data:")
		}
	}
	t.Fatalf("event %q not received: %v", name, sc.Err())
	return ""
}

func TestOrderStreamRelaysChangesAndReleasesChannel(t *testing.T) {
	rt := newFakeRealtime()
	srv := httptest.NewServer(buildStreamRouter(rt))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv.URL+"/api/restaurants/r1/orders/o1/live")
	defer resp.Body.Close()
	name := recvName(t, rt.ready)

	rt.mu.Lock()
	onChange := rt.onChange
	rt.mu.Unlock()
	onChange(nil, &order.Order{ID: "o1", TenantID: "r1", Type: order.TypeTakeout, Status: order.StatusPreparing})

	data := readEvent(t, bufio.NewScanner(resp.Body), "order")
	assert.Contains(t, data, `"id":"o1"`)
	assert.Contains(t, data, `"status":"preparing"`)
	assert.Contains(t, data, `"progress"`)

	cancel()
	assert.Equal(t, name, recvName(t, rt.unsubscribed))
}

func TestPresenceStreamTracksCaller(t *testing.T) {
	rt := newFakeRealtime()
	srv := httptest.NewServer(buildStreamRouter(rt))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv.URL+"/api/restaurants/r1/live/presence?name=Kasun")
	defer resp.Body.Close()
	name := recvName(t, rt.ready)

	rt.mu.Lock()
	require.Len(t, rt.tracked, 1)
	tracked := rt.tracked[0]
	onSync := rt.onSync
	rt.mu.Unlock()
	assert.Equal(t, name, tracked.Key)
	assert.Equal(t, "u1", tracked.UserID)
	assert.Equal(t, "Kasun", tracked.Name)
	assert.Equal(t, "kitchen", tracked.Role)

	onSync([]realtime.Presence{tracked})
	data := readEvent(t, bufio.NewScanner(resp.Body), "presence")
	assert.Contains(t, data, `"user_id":"u1"`)

	cancel()
	assert.Equal(t, name, recvName(t, rt.unsubscribed))
	assert.Equal(t, name, recvName(t, rt.untracked))
}

func TestPresenceStreamRefreshesWhileConnected(t *testing.T) {
	rt := newFakeRealtime()
	srv := httptest.NewServer(buildStreamRouterWithKeepAlive(rt, 20*time.Millisecond))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv.URL+"/api/restaurants/r1/live/presence?name=Kasun")
	defer resp.Body.Close()
	name := recvName(t, rt.ready)

	for i := 0; i < 2; i++ {
		select {
		case p := <-rt.refreshed:
			assert.Equal(t, name, p.Key)
			assert.Equal(t, "u1", p.UserID)
			assert.Equal(t, "Kasun", p.Name)
		case <-time.After(2 * time.Second):
			t.Fatal("presence not refreshed on keep-alive")
		}
	}

	cancel()
	assert.Equal(t, name, recvName(t, rt.untracked))
}

func TestStreamRejectsInvalidChannel(t *testing.T) {
	rt := newFakeRealtime()
	rt.metricsErr = realtime.ErrInvalidChannel
	r := buildStreamRouter(rt)

	w := doRequest(r, http.MethodGet, "/api/platform/metrics/live", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, rt.unsubscribed)
}
