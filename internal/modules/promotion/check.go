// README: Ordered eligibility checks for a code redemption.
package promotion

import (
	"time"

	"kottu/internal/types"
)

// CheckInput is everything the ordered checks read. Lookups happen before the
// call so the checks themselves stay pure.
type CheckInput struct {
	TenantID     types.ID
	Code         *Code
	Promotion    *Promotion
	CustomerID   string
	CustomerUses int
	// PriorOrders is the customer's order count at the tenant, or -1 if unknown.
	PriorOrders int
	Amount      int64
	DeliveryFee int64
	Items       []LineItem
	Now         time.Time
}

// CodeValidation is the answer to "does this code apply?". On failure Reason
// is the first blocking check.
type CodeValidation struct {
	Valid       bool       `json:"is_valid"`
	PromotionID types.ID   `json:"promotion_id,omitempty"`
	CodeID      types.ID   `json:"code_id,omitempty"`
	Reason      Reason     `json:"reason,omitempty"`
	Error       string     `json:"error,omitempty"`
	Preview     *Result    `json:"discount_preview,omitempty"`
	Promotion   *Promotion `json:"-"`
}

func rejected(r Reason, args ...any) CodeValidation {
	return CodeValidation{Reason: r, Error: r.Message(args...)}
}

// Check runs the redemption checks in a fixed order and stops at the first
// failure: code, status, window, total limit, customer limit and segment,
// then the discount preview.
func Check(in CheckInput) CodeValidation {
	c, p := in.Code, in.Promotion
	if p == nil || p.TenantID != in.TenantID {
		return rejected(ReasonNotFound)
	}
	if c == nil && p.RequiresCode {
		return rejected(ReasonNotFound)
	}
	if c != nil && (c.TenantID != in.TenantID || c.PromotionID != p.ID || !c.Active) {
		return rejected(ReasonNotFound)
	}
	if c == nil {
		// Codeless auto-apply redemption: the promotion's own limits still hold.
		c = &Code{}
	}

	v := rejected(statusReason(p, c, in))
	v.PromotionID, v.CodeID, v.Promotion = p.ID, c.ID, p
	if v.Reason != ReasonNone {
		return v
	}

	if in.Amount > 0 {
		res := CalculateDiscount(p, in.Amount, in.Items, in.Now)
		if !res.Valid {
			v.Reason, v.Error = res.Reason, res.Error
			return v
		}
		v.Preview = &res
	}
	v.Valid = true
	v.Error = ""
	return v
}

func statusReason(p *Promotion, c *Code, in CheckInput) Reason {
	switch p.Status {
	case StatusActive, StatusExpired, StatusExhausted:
	default:
		return ReasonNotActive
	}

	now := in.Now
	if before(now, p.ValidFrom) || before(now, c.ValidFrom) {
		return ReasonNotStarted
	}
	if p.Status == StatusExpired || after(now, p.ValidUntil) || after(now, c.ValidUntil) {
		return ReasonExpired
	}
	if !p.InSchedule(now) {
		return ReasonOutsideSchedule
	}

	if p.Status == StatusExhausted || p.limitReached() || c.limitReached() {
		return ReasonLimitReached
	}

	if in.CustomerID != "" && p.PerCustomerLimit != nil && in.CustomerUses >= *p.PerCustomerLimit {
		return ReasonCustomerLimitReached
	}
	switch p.Segment {
	case SegmentNew:
		if in.PriorOrders != 0 {
			return ReasonNotEligible
		}
	case SegmentReturning:
		if in.PriorOrders < 1 {
			return ReasonNotEligible
		}
	}
	return ReasonNone
}

func before(now time.Time, t *time.Time) bool { return t != nil && now.Before(*t) }
func after(now time.Time, t *time.Time) bool  { return t != nil && now.After(*t) }
