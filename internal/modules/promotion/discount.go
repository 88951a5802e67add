// README: Pure discount computation for a single promotion.
package promotion

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"kottu/internal/types"
)

// Result is the outcome of evaluating one promotion. A delivery-fee result
// carries DiscountAmount 0; the waiver is priced by DeliveryDiscount at
// redemption.
type Result struct {
	DiscountAmount int64  `json:"discount_amount"`
	AppliesTo      Scope  `json:"applies_to"`
	Valid          bool   `json:"is_valid"`
	Reason         Reason `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
}

func invalid(r Reason, args ...any) Result {
	return Result{Reason: r, Error: r.Message(args...)}
}

// CalculateDiscount evaluates p against an order amount and its lines. It
// never mutates p. items may be nil when only the amount is known; item-scoped
// types then report not_eligible.
func CalculateDiscount(p *Promotion, amount int64, items []LineItem, now time.Time) Result {
	if p.Status != StatusActive {
		return invalid(ReasonNotActive)
	}
	if amount < p.MinOrderAmount {
		return invalid(ReasonBelowMinimum, p.MinOrderAmount)
	}
	if items != nil && unitCount(items) < p.MinItems {
		return invalid(ReasonBelowMinItems, p.MinItems)
	}
	if amount < 0 {
		amount = 0
	}

	if p.Type == TypeFreeDelivery || p.Scope == ScopeDeliveryFee {
		return Result{AppliesTo: ScopeDeliveryFee, Valid: true}
	}

	base, scoped := scopeBase(p, amount, items)
	if scoped && base == 0 {
		return invalid(ReasonNotEligible)
	}

	var discount int64
	switch p.Type {
	case TypePercentage:
		discount = percentOf(base, p.DiscountPercentage)
	case TypeFixedAmount:
		discount = fixed(p.DiscountAmount, base)
	case TypeHappyHour:
		if !p.InSchedule(now) {
			return invalid(ReasonOutsideSchedule)
		}
		if p.DiscountPercentage != nil {
			discount = percentOf(base, p.DiscountPercentage)
		} else {
			discount = fixed(p.DiscountAmount, base)
		}
	case TypeBuyXGetY:
		if items == nil {
			return invalid(ReasonNotEligible)
		}
		d, ok := buyXGetY(p, items)
		if !ok {
			return invalid(ReasonNotEligible)
		}
		discount = d
	default:
		return invalid(ReasonUnsupported)
	}

	if p.MaxDiscountAmount != nil && discount > *p.MaxDiscountAmount {
		discount = *p.MaxDiscountAmount
	}
	discount = clamp(discount, amount)
	return Result{DiscountAmount: discount, AppliesTo: appliesTo(p), Valid: true}
}

func appliesTo(p *Promotion) Scope {
	if p.Scope == "" {
		return ScopeOrderTotal
	}
	return p.Scope
}

// scopeBase returns the amount the discount is computed from and whether it
// was narrowed to matching lines.
func scopeBase(p *Promotion, amount int64, items []LineItem) (int64, bool) {
	switch p.Scope {
	case ScopeCategory, ScopeItem:
		var sum int64
		for _, it := range matching(p, items) {
			sum += it.UnitPrice * int64(it.Quantity)
		}
		return clamp(sum, amount), true
	}
	return amount, false
}

func matching(p *Promotion, items []LineItem) []LineItem {
	var targets []types.ID
	byCategory := false
	switch p.Scope {
	case ScopeCategory:
		targets, byCategory = p.TargetCategoryIDs, true
	case ScopeItem:
		targets = p.TargetItemIDs
	default:
		return items
	}
	set := make(map[types.ID]struct{}, len(targets))
	for _, t := range targets {
		set[t] = struct{}{}
	}
	var out []LineItem
	for _, it := range items {
		key := it.MenuItemID
		if byCategory {
			key = it.CategoryID
		}
		if _, ok := set[key]; ok {
			out = append(out, it)
		}
	}
	return out
}

// buyXGetY discounts the cheapest get units of every complete buy+get group
// among the qualifying lines.
func buyXGetY(p *Promotion, items []LineItem) (int64, bool) {
	if p.BuyQuantity == nil || p.GetQuantity == nil {
		return 0, false
	}
	buy, get := *p.BuyQuantity, *p.GetQuantity
	if buy < 1 || get < 1 {
		return 0, false
	}

	var units []int64
	for _, it := range matching(p, items) {
		for i := 0; i < it.Quantity; i++ {
			units = append(units, it.UnitPrice)
		}
	}
	free := len(units) / (buy + get) * get
	if free == 0 {
		return 0, false
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })

	var sum int64
	for _, u := range units[:free] {
		sum += u
	}
	if p.GetDiscountPercentage == nil {
		return sum, true
	}
	return percentOf(sum, p.GetDiscountPercentage), true
}

// percentOf returns amount * pct / 100 rounded to the nearest minor unit.
func percentOf(amount int64, pct *decimal.Decimal) int64 {
	if pct == nil || amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(*pct).Div(hundred).Round(0).IntPart()
}

func fixed(v *int64, base int64) int64 {
	if v == nil {
		return 0
	}
	return clamp(*v, base)
}

func clamp(v, limit int64) int64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// DeliveryDiscount is the part of fee waived by a delivery-fee result of p.
func DeliveryDiscount(p *Promotion, fee int64) int64 {
	if fee <= 0 {
		return 0
	}
	var d int64
	switch {
	case p.Type == TypeFreeDelivery:
		d = fee
	case p.DiscountPercentage != nil:
		d = percentOf(fee, p.DiscountPercentage)
	case p.DiscountAmount != nil:
		d = *p.DiscountAmount
	}
	if p.MaxDiscountAmount != nil && d > *p.MaxDiscountAmount && p.Type != TypeFreeDelivery {
		d = *p.MaxDiscountAmount
	}
	return clamp(d, fee)
}
