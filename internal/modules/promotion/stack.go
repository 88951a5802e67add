// README: Combining several promotions on one order.
package promotion

import (
	"sort"
	"time"

	"kottu/internal/modules/order"
)

// Applied is one promotion that made it into a stack.
type Applied struct {
	Promotion *Promotion `json:"promotion"`
	Result    Result     `json:"result"`
}

type StackResult struct {
	Applied []Applied `json:"applied"`
	Total   int64     `json:"total_discount"`
	// WaivesDelivery is set when any applied promotion targets the delivery fee.
	WaivesDelivery bool `json:"waives_delivery"`
}

// Stack picks the highest priority valid promotion. A non-stackable winner
// applies alone; otherwise every stackable candidate applies in priority order
// against what is left of amount.
func Stack(cands []*Promotion, amount int64, items []LineItem, now time.Time) StackResult {
	sorted := make([]*Promotion, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	var out StackResult
	remaining := amount
	for _, p := range sorted {
		if len(out.Applied) > 0 && !p.Stackable {
			continue
		}
		// Eligibility, minimums included, is judged on the full amount.
		res := CalculateDiscount(p, amount, items, now)
		if !res.Valid {
			continue
		}
		if remaining != amount {
			rest := *p
			rest.MinOrderAmount = 0
			res = CalculateDiscount(&rest, remaining, items, now)
		}
		out.Applied = append(out.Applied, Applied{Promotion: p, Result: res})
		out.Total += res.DiscountAmount
		remaining -= res.DiscountAmount
		if res.AppliesTo == ScopeDeliveryFee {
			out.WaivesDelivery = true
		}
		if !p.Stackable {
			break
		}
	}
	return out
}

// ApplyToTotals adds the redeemed discounts, delivery-fee waivers included,
// to oc.Discount. Together with any discount already on oc it never exceeds
// subtotal plus delivery fee.
func ApplyToTotals(oc *order.CreateCommand, subtotal int64, redeemed []Redemption) {
	var discount int64
	for _, r := range redeemed {
		discount += r.Discount + r.DeliveryDiscount
	}
	room := max(subtotal+oc.DeliveryFee-oc.Discount, 0)
	oc.Discount += clamp(discount, room)
}
