// README: Subscription manager: named channels, per-channel dispatch loop, reconnect policy.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"kottu/internal/modules/notify"
	"kottu/internal/modules/order"
	"kottu/internal/types"
)

type State string

const (
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
)

var ErrInvalidChannel = errors.New("invalid channel")

// OrderReader serves the aggregate channels' refetches.
type OrderReader interface {
	ListByStatuses(ctx context.Context, tenantID types.ID, statuses []order.Status) ([]*order.Order, error)
	Metrics(ctx context.Context) (order.Metrics, error)
}

type Alerter interface {
	Send(n notify.Notification)
}

type Deps struct {
	Broker               Broker
	Presence             PresenceStore
	Orders               OrderReader
	Alerts               Alerter
	Logger               *slog.Logger
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	PresenceStaleAfter   time.Duration
	Now                  func() time.Time
}

// Manager owns a set of named channels. Each channel runs its own goroutine
// and invokes its callbacks sequentially, in transport order.
type Manager struct {
	broker      Broker
	presence    PresenceStore
	orders      OrderReader
	alerts      Alerter
	log         *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	staleAfter  time.Duration
	now         func() time.Time
	wait        func(ctx context.Context, d time.Duration) bool

	mu       sync.Mutex
	channels map[string]*channel
}

func NewManager(deps Deps) *Manager {
	m := &Manager{
		broker:      deps.Broker,
		presence:    deps.Presence,
		orders:      deps.Orders,
		alerts:      deps.Alerts,
		log:         deps.Logger,
		maxAttempts: deps.MaxReconnectAttempts,
		baseDelay:   deps.ReconnectBaseDelay,
		staleAfter:  deps.PresenceStaleAfter,
		now:         deps.Now,
		wait:        sleepCtx,
		channels:    make(map[string]*channel),
	}
	if m.broker == nil {
		m.broker = NewMemoryBroker()
	}
	if m.presence == nil {
		m.presence = NewMemoryPresence()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "realtime")
	if m.maxAttempts <= 0 {
		m.maxAttempts = 5
	}
	if m.baseDelay <= 0 {
		m.baseDelay = time.Second
	}
	if m.staleAfter <= 0 {
		m.staleAfter = 2 * time.Minute
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

type handler struct {
	// onReady runs after every successful (re)subscription.
	onReady   func(ctx context.Context)
	onMessage func(ctx context.Context, payload []byte)
}

type channel struct {
	name     string
	topic    string
	h        handler
	cancel   context.CancelFunc
	done     chan struct{}
	state    State
	attempts int
}

// subscribe registers a channel, replacing (and fully stopping) any channel
// already registered under the same name.
func (m *Manager) subscribe(name, topic string, h handler) error {
	if name == "" || topic == "" || h.onMessage == nil {
		return ErrInvalidChannel
	}
	m.Unsubscribe(name)

	ctx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		name:   name,
		topic:  topic,
		h:      h,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateConnecting,
	}

	m.mu.Lock()
	if prev, ok := m.channels[name]; ok {
		// Lost a race with a concurrent subscribe under the same name.
		delete(m.channels, name)
		m.mu.Unlock()
		prev.stop()
		m.mu.Lock()
	}
	m.channels[name] = ch
	m.mu.Unlock()

	go m.run(ctx, ch)
	return nil
}

// Unsubscribe tears a channel down and waits for its loop to exit. Unknown
// names are ignored, so calling it twice is safe.
func (m *Manager) Unsubscribe(name string) {
	m.mu.Lock()
	ch, ok := m.channels[name]
	if ok {
		delete(m.channels, name)
	}
	m.mu.Unlock()
	if ok {
		ch.stop()
		m.log.Debug("channel unsubscribed", "channel", name)
	}
}

// Close unsubscribes every channel.
func (m *Manager) Close() {
	for _, name := range m.Channels() {
		m.Unsubscribe(name)
	}
}

// Channels lists registered channel names.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for name := range m.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// State reports a channel's connection state; ok is false for unknown names.
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok {
		return "", false
	}
	return ch.state, true
}

func (c *channel) stop() {
	c.cancel()
	<-c.done
}

func (m *Manager) setState(ch *channel, s State) {
	m.mu.Lock()
	ch.state = s
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, ch *channel) {
	defer close(ch.done)
	log := m.log.With("channel", ch.name, "topic", ch.topic)

	for {
		sub, err := m.broker.Subscribe(ctx, ch.topic)
		if err == nil {
			m.mu.Lock()
			ch.state = StateSubscribed
			ch.attempts = 0
			m.mu.Unlock()
			log.Debug("channel subscribed")

			if ch.h.onReady != nil {
				ch.h.onReady(ctx)
			}
			err = m.pump(ctx, ch, sub)
			_ = sub.Close()
		}
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		ch.attempts++
		attempt := ch.attempts
		m.mu.Unlock()

		if attempt > m.maxAttempts {
			m.setState(ch, StateDisconnected)
			log.Error("channel gave up reconnecting", "attempts", attempt-1, "error", err)
			return
		}
		m.setState(ch, StateReconnecting)
		delay := m.baseDelay * time.Duration(attempt)
		log.Warn("channel error, reconnecting", "attempt", attempt, "delay", delay, "error", err)
		if !m.wait(ctx, delay) {
			return
		}
	}
}

func (m *Manager) pump(ctx context.Context, ch *channel, sub Subscription) error {
	for {
		payload, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		ch.h.onMessage(ctx, payload)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
