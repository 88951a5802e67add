// README: Order aggregate, fulfillment types, and status definitions.
package order

import (
	"time"

	"kottu/internal/types"
)

type Status string

const (
	StatusNone           Status = "none"
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCompleted      Status = "completed"
	StatusCanceled       Status = "canceled"
	StatusRefunded       Status = "refunded"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:        {},
	StatusConfirmed:      {},
	StatusPreparing:      {},
	StatusReady:          {},
	StatusOutForDelivery: {},
	StatusDelivered:      {},
	StatusCompleted:      {},
	StatusCanceled:       {},
	StatusRefunded:       {},
}

func (s Status) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

type Type string

const (
	TypeDineIn   Type = "dine_in"
	TypeTakeout  Type = "takeout"
	TypeDelivery Type = "delivery"
)

func (t Type) Valid() bool {
	switch t {
	case TypeDineIn, TypeTakeout, TypeDelivery:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// CustomerInfo.ID is the customer's account id when signed in.
type CustomerInfo struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type DeliveryAddress struct {
	Street       string       `json:"street"`
	City         string       `json:"city"`
	State        string       `json:"state,omitempty"`
	Zip          string       `json:"zip"`
	Instructions string       `json:"instructions,omitempty"`
	Location     *types.Point `json:"location,omitempty"`
}

// Selection is one customization choice on a line item, e.g. {"size", "large", 150}.
type Selection struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	PriceDelta int64  `json:"price_delta,omitempty"`
}

type Item struct {
	ID             types.ID    `json:"id"`
	OrderID        types.ID    `json:"order_id"`
	MenuItemID     types.ID    `json:"menu_item_id"`
	CategoryID     types.ID    `json:"category_id,omitempty"`
	Name           string      `json:"name"`
	UnitPrice      int64       `json:"unit_price"`
	Quantity       int         `json:"quantity"`
	Note           string      `json:"note,omitempty"`
	Customizations []Selection `json:"customizations,omitempty"`
}

// LineTotal is the unit price plus customization deltas, times quantity.
func (i Item) LineTotal() int64 {
	unit := i.UnitPrice
	for _, c := range i.Customizations {
		unit += c.PriceDelta
	}
	return unit * int64(i.Quantity)
}

// Order mirrors the orders row; JSON tags match the column names so change-feed
// payloads decode directly into it.
type Order struct {
	ID              types.ID         `json:"id"`
	TenantID        types.ID         `json:"restaurant_id"`
	Number          string           `json:"order_number"`
	Type            Type             `json:"order_type"`
	Status          Status           `json:"status"`
	StatusVersion   int              `json:"status_version"`
	Currency        string           `json:"currency"`
	Subtotal        int64            `json:"subtotal"`
	Tax             int64            `json:"tax"`
	DeliveryFee     int64            `json:"delivery_fee"`
	Tip             int64            `json:"tip"`
	Discount        int64            `json:"discount"`
	Total           int64            `json:"total"`
	PaymentStatus   PaymentStatus    `json:"payment_status"`
	Customer        CustomerInfo     `json:"customer_info"`
	DeliveryAddress *DeliveryAddress `json:"delivery_address,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	Items           []Item           `json:"items,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	EstimatedReady  *time.Time       `json:"estimated_ready_time,omitempty"`
	ActualReady     *time.Time       `json:"actual_ready_time,omitempty"`
	DeliveredAt     *time.Time       `json:"delivered_at,omitempty"`
}

// ExpectedTotal is subtotal + tax + delivery fee + tip - discount.
func (o *Order) ExpectedTotal() int64 {
	return o.Subtotal + o.Tax + o.DeliveryFee + o.Tip - o.Discount
}

func (o *Order) ItemCount() int {
	return len(o.Items)
}

// Event is one row of the order_state_events ledger.
type Event struct {
	ID         int64     `json:"id"`
	OrderID    types.ID  `json:"order_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorType  string    `json:"actor_type"`
	ActorID    *types.ID `json:"actor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Metrics is the platform-wide aggregate pushed on the metrics channel.
type Metrics struct {
	Since        time.Time      `json:"since"`
	TotalOrders  int            `json:"total_orders"`
	ActiveOrders int            `json:"active_orders"`
	Revenue      int64          `json:"revenue"`
	ByStatus     map[Status]int `json:"by_status"`
}
