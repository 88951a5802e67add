// README: Promotion rule, redeemable code, and usage ledger definitions.
package promotion

import (
	"time"

	"github.com/shopspring/decimal"

	"kottu/internal/modules/order"
	"kottu/internal/types"
)

type Type string

const (
	TypePercentage   Type = "percentage"
	TypeFixedAmount  Type = "fixed_amount"
	TypeBuyXGetY     Type = "buy_x_get_y"
	TypeFreeDelivery Type = "free_delivery"
	TypeHappyHour    Type = "happy_hour"
)

func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFixedAmount, TypeBuyXGetY, TypeFreeDelivery, TypeHappyHour:
		return true
	}
	return false
}

// Scope selects the part of the order a discount is computed against.
type Scope string

const (
	ScopeOrderTotal  Scope = "order_total"
	ScopeSubtotal    Scope = "subtotal"
	ScopeDeliveryFee Scope = "delivery_fee"
	ScopeCategory    Scope = "category"
	ScopeItem        Scope = "item"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeOrderTotal, ScopeSubtotal, ScopeDeliveryFee, ScopeCategory, ScopeItem:
		return true
	}
	return false
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusExpired   Status = "expired"
	StatusExhausted Status = "exhausted"
	StatusCancelled Status = "cancelled"
)

// Frequency is the window the per-customer limit is counted over.
type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

type Segment string

const (
	SegmentAll       Segment = "all"
	SegmentNew       Segment = "new"
	SegmentReturning Segment = "returning"
)

// Promotion amounts are minor currency units. Optional numeric fields are nil
// when unset.
type Promotion struct {
	ID                    types.ID         `json:"id"`
	TenantID              types.ID         `json:"restaurant_id"`
	Name                  string           `json:"name"`
	Description           string           `json:"description,omitempty"`
	Type                  Type             `json:"promotion_type"`
	Scope                 Scope            `json:"scope"`
	DiscountPercentage    *decimal.Decimal `json:"discount_percentage,omitempty"`
	DiscountAmount        *int64           `json:"discount_amount,omitempty"`
	MaxDiscountAmount     *int64           `json:"max_discount_amount,omitempty"`
	BuyQuantity           *int             `json:"buy_quantity,omitempty"`
	GetQuantity           *int             `json:"get_quantity,omitempty"`
	GetDiscountPercentage *decimal.Decimal `json:"get_discount_percentage,omitempty"`
	TargetItemIDs         []types.ID       `json:"target_item_ids,omitempty"`
	TargetCategoryIDs     []types.ID       `json:"target_category_ids,omitempty"`
	MinOrderAmount        int64            `json:"min_order_amount"`
	MinItems              int              `json:"min_items"`
	TotalUsageLimit       *int             `json:"total_usage_limit,omitempty"`
	PerCustomerLimit      *int             `json:"per_customer_limit,omitempty"`
	UsageFrequency        Frequency        `json:"usage_frequency"`
	ValidFrom             *time.Time       `json:"valid_from,omitempty"`
	ValidUntil            *time.Time       `json:"valid_until,omitempty"`
	DaysOfWeek            []int            `json:"days_of_week,omitempty"`
	StartHour             *int             `json:"start_hour,omitempty"`
	EndHour               *int             `json:"end_hour,omitempty"`
	Segment               Segment          `json:"customer_segment"`
	Stackable             bool             `json:"is_stackable"`
	Priority              int              `json:"priority"`
	AutoApply             bool             `json:"auto_apply"`
	RequiresCode          bool             `json:"requires_code"`
	Status                Status           `json:"status"`
	TotalUses             int              `json:"total_uses"`
	TotalDiscountGiven    int64            `json:"total_discount_given"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// InSchedule reports whether now falls in the day-of-week and hour-of-day
// windows. Days use time.Weekday numbering; an hour window may wrap midnight.
func (p *Promotion) InSchedule(now time.Time) bool {
	if len(p.DaysOfWeek) > 0 {
		ok := false
		for _, d := range p.DaysOfWeek {
			if time.Weekday(d) == now.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if p.StartHour == nil || p.EndHour == nil {
		return true
	}
	h, start, end := now.Hour(), *p.StartHour, *p.EndHour
	if start <= end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

func (p *Promotion) limitReached() bool {
	return p.TotalUsageLimit != nil && p.TotalUses >= *p.TotalUsageLimit
}

// Code is a redeemable string layered on a promotion. Its own cap and window
// only ever narrow the parent's.
type Code struct {
	ID           types.ID   `json:"id"`
	PromotionID  types.ID   `json:"promotion_id"`
	TenantID     types.ID   `json:"restaurant_id"`
	Code         string     `json:"code"`
	Active       bool       `json:"is_active"`
	UsageLimit   *int       `json:"usage_limit,omitempty"`
	CurrentUsage int        `json:"current_usage"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (c *Code) limitReached() bool {
	return c.UsageLimit != nil && c.CurrentUsage >= *c.UsageLimit
}

// Usage is one row of the append-only redemption ledger.
type Usage struct {
	ID               types.ID  `json:"id"`
	PromotionID      types.ID  `json:"promotion_id"`
	CodeID           *types.ID `json:"code_id,omitempty"`
	OrderID          types.ID  `json:"order_id"`
	TenantID         types.ID  `json:"restaurant_id"`
	CustomerID       string    `json:"customer_id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	DiscountAmount   int64     `json:"discount_amount"`
	OrderTotalBefore int64     `json:"order_total_before"`
	OrderTotalAfter  int64     `json:"order_total_after"`
	UsedAt           time.Time `json:"used_at"`
	// ReleasedAt marks a usage given back because its order was never placed.
	// Released rows no longer count against any limit.
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// LineItem is the evaluator's view of an order line. UnitPrice includes
// customization deltas.
type LineItem struct {
	MenuItemID types.ID `json:"menu_item_id"`
	CategoryID types.ID `json:"category_id,omitempty"`
	UnitPrice  int64    `json:"unit_price"`
	Quantity   int      `json:"quantity"`
}

// LinesFromOrder projects order lines for evaluation, using the same line
// totals order validation checks the subtotal against.
func LinesFromOrder(items []order.Item) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		unit := it.UnitPrice
		if it.Quantity > 0 {
			unit = it.LineTotal() / int64(it.Quantity)
		}
		out = append(out, LineItem{
			MenuItemID: it.MenuItemID,
			CategoryID: it.CategoryID,
			UnitPrice:  unit,
			Quantity:   it.Quantity,
		})
	}
	return out
}

func unitCount(items []LineItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
