// README: Promotion status machine, derived statuses, and definition checks.
package promotion

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kottu/internal/modules/order"
)

// explicit lists the transitions an operator may request. expired and
// exhausted are never requested; Derive produces them.
var explicit = map[Status][]Status{
	StatusDraft:     {StatusActive, StatusCancelled},
	StatusActive:    {StatusPaused, StatusCancelled},
	StatusPaused:    {StatusActive, StatusCancelled},
	StatusExpired:   {StatusCancelled},
	StatusExhausted: {StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range explicit[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Derive returns the status p must be stored with at now. Only an active
// promotion moves automatically, and both moves are irreversible.
func Derive(p *Promotion, now time.Time) Status {
	if p.Status != StatusActive {
		return p.Status
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return StatusExpired
	}
	if p.limitReached() {
		return StatusExhausted
	}
	return StatusActive
}

var hundred = decimal.NewFromInt(100)

func validPercentage(d *decimal.Decimal) bool {
	return d != nil && d.IsPositive() && d.LessThanOrEqual(hundred)
}

// ValidateDefinition checks that the mechanism-specific fields match the
// promotion type and that windows and bounds are coherent.
func ValidateDefinition(p *Promotion) order.ValidationResult {
	r := order.ValidationResult{Valid: true, Errors: []order.FieldError{}}
	add := func(field, msg string) {
		r.Valid = false
		r.Errors = append(r.Errors, order.FieldError{Field: field, Message: msg})
	}

	if p.TenantID == "" {
		add("restaurant_id", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		add("name", "is required")
	}
	if !p.Type.Valid() {
		add("promotion_type", "unknown promotion type")
	}
	if !p.Scope.Valid() {
		add("scope", "unknown scope")
	}

	hasPct := p.DiscountPercentage != nil
	hasAmt := p.DiscountAmount != nil
	switch p.Type {
	case TypePercentage:
		if !validPercentage(p.DiscountPercentage) {
			add("discount_percentage", "must be in (0, 100]")
		}
		if hasAmt {
			add("discount_amount", "is not allowed for percentage promotions")
		}
	case TypeFixedAmount:
		if !hasAmt || *p.DiscountAmount <= 0 {
			add("discount_amount", "must be greater than 0")
		}
		if hasPct {
			add("discount_percentage", "is not allowed for fixed amount promotions")
		}
	case TypeBuyXGetY:
		if p.BuyQuantity == nil || *p.BuyQuantity < 1 {
			add("buy_quantity", "must be at least 1")
		}
		if p.GetQuantity == nil || *p.GetQuantity < 1 {
			add("get_quantity", "must be at least 1")
		}
		if p.GetDiscountPercentage != nil && !validPercentage(p.GetDiscountPercentage) {
			add("get_discount_percentage", "must be in (0, 100]")
		}
		if hasPct || hasAmt {
			add("discount_percentage", "is not allowed for buy x get y promotions")
		}
	case TypeFreeDelivery:
		if hasPct || hasAmt {
			add("discount_amount", "is not allowed for free delivery promotions")
		}
	case TypeHappyHour:
		if hasPct == hasAmt {
			add("discount_percentage", "exactly one of discount_percentage or discount_amount is required")
		} else if hasPct && !validPercentage(p.DiscountPercentage) {
			add("discount_percentage", "must be in (0, 100]")
		} else if hasAmt && *p.DiscountAmount <= 0 {
			add("discount_amount", "must be greater than 0")
		}
		if p.StartHour == nil || p.EndHour == nil {
			add("start_hour", "happy hour promotions need an hour window")
		}
	}

	if p.Scope == ScopeCategory && len(p.TargetCategoryIDs) == 0 {
		add("target_category_ids", "is required for category scope")
	}
	if p.Scope == ScopeItem && len(p.TargetItemIDs) == 0 {
		add("target_item_ids", "is required for item scope")
	}
	if p.MaxDiscountAmount != nil && *p.MaxDiscountAmount < 0 {
		add("max_discount_amount", "must not be negative")
	}
	if p.MinOrderAmount < 0 {
		add("min_order_amount", "must not be negative")
	}
	if p.MinItems < 0 {
		add("min_items", "must not be negative")
	}
	if p.TotalUsageLimit != nil && *p.TotalUsageLimit < 1 {
		add("total_usage_limit", "must be at least 1")
	}
	if p.PerCustomerLimit != nil && *p.PerCustomerLimit < 1 {
		add("per_customer_limit", "must be at least 1")
	}
	switch p.UsageFrequency {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		add("usage_frequency", "unknown usage frequency")
	}
	switch p.Segment {
	case SegmentAll, SegmentNew, SegmentReturning:
	default:
		add("customer_segment", "unknown customer segment")
	}
	if p.ValidFrom != nil && p.ValidUntil != nil && !p.ValidFrom.Before(*p.ValidUntil) {
		add("valid_until", "must be after valid_from")
	}
	for _, d := range p.DaysOfWeek {
		if d < 0 || d > 6 {
			add("days_of_week", "days must be 0 (Sunday) through 6")
			break
		}
	}
	if (p.StartHour == nil) != (p.EndHour == nil) {
		add("end_hour", "start_hour and end_hour are set together")
	}
	for _, h := range []*int{p.StartHour, p.EndHour} {
		if h != nil && (*h < 0 || *h > 23) {
			add("start_hour", "hours must be 0 through 23")
			break
		}
	}
	return r
}

// windowStart is the beginning of the per-customer counting window at now.
// The zero time means the whole history counts.
func windowStart(f Frequency, now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch f {
	case FrequencyDaily:
		return day
	case FrequencyWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case FrequencyMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}
