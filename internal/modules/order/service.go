// README: Order service implements creation, validated transitions, and kitchen views.
package order

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"kottu/internal/modules/notify"
	"kottu/internal/types"
)

type Repository interface {
	Create(ctx context.Context, o *Order, ev *Event) error
	Get(ctx context.Context, tenantID, id types.ID) (*Order, error)
	ApplyUpdate(ctx context.Context, p UpdateParams) (bool, error)
	ListEvents(ctx context.Context, orderID types.ID) ([]Event, error)
	ListByStatuses(ctx context.Context, tenantID types.ID, statuses []Status) ([]*Order, error)
	ListActive(ctx context.Context) ([]*Order, error)
	CountActive(ctx context.Context, tenantID types.ID) (int, error)
	Metrics(ctx context.Context, since time.Time) (Metrics, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, addr DeliveryAddress) (types.Point, error)
}

type Alerter interface {
	Send(n notify.Notification)
}

type Deps struct {
	Geocoder            Geocoder
	Alerts              Alerter
	Logger              *slog.Logger
	RequireSkipOverride bool
	NumberPrefix        string
	Now                 func() time.Time
}

type Service struct {
	repo       Repository
	geo        Geocoder
	alerts     Alerter
	log        *slog.Logger
	skipGate   bool
	prefix     string
	now        func() time.Time
	mu         sync.Mutex
	urgentSent map[types.ID]struct{}
}

func NewService(repo Repository, deps Deps) *Service {
	s := &Service{
		repo:       repo,
		geo:        deps.Geocoder,
		alerts:     deps.Alerts,
		log:        deps.Logger,
		skipGate:   deps.RequireSkipOverride,
		prefix:     deps.NumberPrefix,
		now:        deps.Now,
		urgentSent: make(map[types.ID]struct{}),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "order")
	if s.now == nil {
		s.now = time.Now
	}
	if s.prefix == "" {
		s.prefix = "ORD"
	}
	return s
}

var (
	ErrInvalidState     = errors.New("invalid state transition")
	ErrNotFound         = errors.New("order not found")
	ErrConflict         = errors.New("order state conflict")
	ErrBadRequest       = errors.New("bad request")
	ErrOverrideRequired = fmt.Errorf("%w: skipping statuses requires staff override", ErrInvalidState)
	ErrAddressNotFound  = fmt.Errorf("%w: delivery address could not be resolved", ErrBadRequest)
)

type ItemInput struct {
	MenuItemID     types.ID
	CategoryID     types.ID
	Name           string
	UnitPrice      int64
	Quantity       int
	Note           string
	Customizations []Selection
}

type CreateCommand struct {
	// ID is optional; callers that must reference the order before it exists
	// (promotion redemption) generate it up front.
	ID              types.ID
	TenantID        types.ID
	Type            Type
	Currency        string
	Customer        CustomerInfo
	DeliveryAddress *DeliveryAddress
	Items           []ItemInput
	Tax             int64
	DeliveryFee     int64
	Tip             int64
	Discount        int64
	Notes           string
	ActorID         *types.ID
}

type UpdateCommand struct {
	TenantID       types.ID
	OrderID        types.ID
	Update         Update
	ExpectedStatus Status
	// Override confirms a forward jump over intermediate statuses.
	Override  bool
	ActorType string
	ActorID   *types.ID
}

type AdvanceCommand struct {
	TenantID       types.ID
	OrderID        types.ID
	ExpectedStatus Status
	ActorType      string
	ActorID        *types.ID
}

type CancelCommand struct {
	TenantID       types.ID
	OrderID        types.ID
	ExpectedStatus Status
	Refund         bool
	Reason         string
	ActorType      string
	ActorID        *types.ID
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	now := s.now()
	id := cmd.ID
	if id == "" {
		id = types.NewID()
	}
	o := &Order{
		ID:              id,
		TenantID:        cmd.TenantID,
		Number:          s.newNumber(now),
		Type:            cmd.Type,
		Status:          StatusPending,
		Currency:        cmd.Currency,
		Tax:             cmd.Tax,
		DeliveryFee:     cmd.DeliveryFee,
		Tip:             cmd.Tip,
		Discount:        cmd.Discount,
		PaymentStatus:   PaymentPending,
		Customer:        cmd.Customer,
		DeliveryAddress: cmd.DeliveryAddress,
		Notes:           cmd.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if o.Currency == "" {
		o.Currency = types.DefaultCurrency
	}
	for _, in := range cmd.Items {
		it := Item{
			ID:             types.NewID(),
			OrderID:        o.ID,
			MenuItemID:     in.MenuItemID,
			CategoryID:     in.CategoryID,
			Name:           in.Name,
			UnitPrice:      in.UnitPrice,
			Quantity:       in.Quantity,
			Note:           in.Note,
			Customizations: in.Customizations,
		}
		o.Subtotal += it.LineTotal()
		o.Items = append(o.Items, it)
	}
	o.Total = o.ExpectedTotal()

	if res := Validate(o); !res.Valid {
		return nil, &ValidationError{Result: res}
	}

	if o.Type == TypeDelivery && s.geo != nil {
		pt, err := s.geo.Geocode(ctx, *o.DeliveryAddress)
		if err != nil {
			s.log.Warn("geocoding failed", "tenant_id", o.TenantID, "error", err)
			return nil, ErrAddressNotFound
		}
		o.DeliveryAddress.Location = &pt
	}

	ev := &Event{
		OrderID:    o.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorType:  "customer",
		ActorID:    cmd.ActorID,
		CreatedAt:  now,
	}
	if err := s.repo.Create(ctx, o, ev); err != nil {
		return nil, err
	}
	s.log.Info("order created", "order_id", o.ID, "tenant_id", o.TenantID, "type", o.Type, "total", o.Total)
	return o, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id types.ID) (*Order, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// UpdateOrder applies a partial update guarded by the caller's view of the
// current status. A stale ExpectedStatus or a concurrent writer yields ErrConflict.
func (s *Service) UpdateOrder(ctx context.Context, cmd UpdateCommand) (*Order, error) {
	now := s.now()
	if cmd.Update.Empty() {
		return nil, ErrBadRequest
	}
	if res := ValidateOrderUpdate(cmd.Update, now); !res.Valid {
		return nil, &ValidationError{Result: res}
	}
	if cmd.Update.Type != nil {
		// Fulfillment type is fixed at creation.
		return nil, fmt.Errorf("%w: order_type cannot change", ErrBadRequest)
	}

	o, err := s.repo.Get(ctx, cmd.TenantID, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if cmd.ExpectedStatus != "" && o.Status != cmd.ExpectedStatus {
		return nil, ErrConflict
	}

	from := o.Status
	to := from
	if cmd.Update.Status != nil {
		to = *cmd.Update.Status
	}
	if err := s.checkTransition(o, to, cmd); err != nil {
		return nil, err
	}

	params := UpdateParams{
		ID:             o.ID,
		TenantID:       o.TenantID,
		From:           from,
		Version:        o.StatusVersion,
		To:             to,
		EstimatedReady: cmd.Update.EstimatedReady,
		Notes:          cmd.Update.Notes,
	}
	if to != from {
		actor := cmd.ActorType
		if actor == "" {
			actor = "staff"
		}
		params.Event = &Event{
			OrderID:    o.ID,
			FromStatus: from,
			ToStatus:   to,
			ActorType:  actor,
			ActorID:    cmd.ActorID,
			CreatedAt:  now,
		}
	}
	ok, err := s.repo.ApplyUpdate(ctx, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	if to != from {
		s.log.Info("order transitioned", "order_id", o.ID, "from", from, "to", to)
	}

	o.Status = to
	o.StatusVersion++
	o.UpdatedAt = now
	if cmd.Update.EstimatedReady != nil {
		o.EstimatedReady = cmd.Update.EstimatedReady
	}
	if cmd.Update.Notes != nil {
		o.Notes = *cmd.Update.Notes
	}
	return o, nil
}

func (s *Service) checkTransition(o *Order, to Status, cmd UpdateCommand) error {
	from := o.Status
	if IsTerminal(from) {
		// Closed orders only accept a refund, and a refunded order only an annotation.
		switch {
		case from != StatusRefunded && to == StatusRefunded:
			return nil
		case from == StatusRefunded && to == from && cmd.Update.EstimatedReady == nil && cmd.Update.Notes != nil:
			return nil
		}
		return ErrInvalidState
	}
	if !IsValidTransition(from, to, o.Type) {
		return ErrInvalidState
	}
	if s.skipGate && !cmd.Override && SkipsSteps(from, to, o.Type) {
		return ErrOverrideRequired
	}
	return nil
}

// Advance moves the order one step along its flow.
func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	o, err := s.repo.Get(ctx, cmd.TenantID, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	expected := cmd.ExpectedStatus
	if expected == "" {
		expected = o.Status
	}
	next, ok := NextStatus(expected, o.Type)
	if !ok {
		return nil, ErrInvalidState
	}
	return s.UpdateOrder(ctx, UpdateCommand{
		TenantID:       cmd.TenantID,
		OrderID:        cmd.OrderID,
		Update:         Update{Status: &next},
		ExpectedStatus: expected,
		ActorType:      cmd.ActorType,
		ActorID:        cmd.ActorID,
	})
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	to := StatusCanceled
	if cmd.Refund {
		to = StatusRefunded
	}
	u := Update{Status: &to}
	if r := strings.TrimSpace(cmd.Reason); r != "" {
		u.Notes = &r
	}
	return s.UpdateOrder(ctx, UpdateCommand{
		TenantID:       cmd.TenantID,
		OrderID:        cmd.OrderID,
		Update:         u,
		ExpectedStatus: cmd.ExpectedStatus,
		ActorType:      cmd.ActorType,
		ActorID:        cmd.ActorID,
	})
}

// Timeline returns the flow projection with timestamps from the state ledger.
func (s *Service) Timeline(ctx context.Context, tenantID, id types.ID) ([]TimelineEntry, error) {
	o, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return TimelineFromHistory(o, events), nil
}

type QueueEntry struct {
	Order          *Order    `json:"order"`
	Priority       Priority  `json:"priority"`
	Progress       int       `json:"progress"`
	EstimatedReady time.Time `json:"estimated_ready_time"`
}

// KitchenQueue lists active orders, HIGH priority first, then oldest first.
func (s *Service) KitchenQueue(ctx context.Context, tenantID types.ID) ([]QueueEntry, error) {
	orders, err := s.repo.ListByStatuses(ctx, tenantID, ActiveStatuses)
	if err != nil {
		return nil, err
	}
	now := s.now()
	load := len(orders)
	out := make([]QueueEntry, 0, len(orders))
	for _, o := range orders {
		eta := EstimatedReadyTime(o, load, now)
		if o.EstimatedReady != nil {
			eta = *o.EstimatedReady
		}
		out = append(out, QueueEntry{
			Order:          o,
			Priority:       KitchenPriority(o, now),
			Progress:       Progress(o.Status, o.Type),
			EstimatedReady: eta,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.rank(), out[j].Priority.rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Order.CreatedAt.Before(out[j].Order.CreatedAt)
	})
	return out, nil
}

// ListByStatuses backs the status-filtered realtime channel.
func (s *Service) ListByStatuses(ctx context.Context, tenantID types.ID, statuses []Status) ([]*Order, error) {
	return s.repo.ListByStatuses(ctx, tenantID, statuses)
}

// Metrics backs the platform metrics channel; it covers the current UTC day.
func (s *Service) Metrics(ctx context.Context) (Metrics, error) {
	now := s.now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.repo.Metrics(ctx, since)
}

// RunUrgencyMonitor emits one urgent alert per order the first time it is
// seen at HIGH priority by age while not yet ready.
func (s *Service) RunUrgencyMonitor(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkUrgent(ctx); err != nil {
				s.log.Error("urgency check failed", "error", err)
			}
		}
	}
}

func (s *Service) checkUrgent(ctx context.Context) error {
	orders, err := s.repo.ListActive(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	live := make(map[types.ID]struct{}, len(orders))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		live[o.ID] = struct{}{}
		if o.Status == StatusReady || now.Sub(o.CreatedAt) <= highPriorityAge {
			continue
		}
		if _, sent := s.urgentSent[o.ID]; sent {
			continue
		}
		s.urgentSent[o.ID] = struct{}{}
		if s.alerts != nil {
			s.alerts.Send(notify.Notification{
				Kind:        notify.KindUrgent,
				TenantID:    o.TenantID,
				OrderID:     o.ID,
				OrderNumber: o.Number,
				Status:      string(o.Status),
			})
		}
	}
	for id := range s.urgentSent {
		if _, ok := live[id]; !ok {
			delete(s.urgentSent, id)
		}
	}
	return nil
}

func (s *Service) newNumber(now time.Time) string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s-%s-%s", s.prefix, now.Format("060102"), strings.ToUpper(hex.EncodeToString(b[:])))
}
