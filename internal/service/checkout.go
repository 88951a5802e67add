// README: Checkout orchestrates promotion redemption around order creation.
package service

import (
	"context"
	"errors"
	"log/slog"

	"kottu/internal/modules/order"
	"kottu/internal/modules/promotion"
	"kottu/internal/types"
)

type OrderCreator interface {
	Create(ctx context.Context, cmd order.CreateCommand) (*order.Order, error)
}

type Promotions interface {
	ValidateCode(ctx context.Context, req promotion.CodeRequest) (promotion.CodeValidation, error)
	Redeem(ctx context.Context, cmd promotion.RedeemCommand) (*promotion.Redemption, error)
	Release(ctx context.Context, tenantID, promotionID, orderID types.ID) error
	BestAutoApply(ctx context.Context, tenantID types.ID, amount int64, items []promotion.LineItem) (promotion.StackResult, error)
}

// Checkout places an order with at most one code, or with the tenant's
// auto-apply promotions when no code is given.
type Checkout struct {
	orders     OrderCreator
	promotions Promotions
	log        *slog.Logger
}

func NewCheckout(orders OrderCreator, promotions Promotions, log *slog.Logger) *Checkout {
	if log == nil {
		log = slog.Default()
	}
	return &Checkout{orders: orders, promotions: promotions, log: log.With("component", "checkout")}
}

type PlaceCommand struct {
	Order     order.CreateCommand
	PromoCode string
	AutoApply bool
}

type Placement struct {
	Order       *order.Order           `json:"order"`
	Redemptions []promotion.Redemption `json:"promotions,omitempty"`
}

// Place redeems promotions against a pre-generated order id, then creates the
// order. A code that fails its checks aborts checkout with a *promotion.RuleError.
// If order creation fails every redemption is released again.
func (c *Checkout) Place(ctx context.Context, cmd PlaceCommand) (*Placement, error) {
	oc := cmd.Order
	if oc.ID == "" {
		oc.ID = types.NewID()
	}
	lines, subtotal := linesOf(oc.Items)
	customer := customerKey(oc.Customer)

	var redeemed []promotion.Redemption
	var err error
	switch {
	case cmd.PromoCode != "":
		redeemed, err = c.redeemCode(ctx, oc, cmd.PromoCode, customer, subtotal, lines)
	case cmd.AutoApply:
		redeemed, err = c.redeemAuto(ctx, oc, customer, subtotal, lines)
	}
	if err != nil {
		c.release(oc.TenantID, oc.ID, redeemed)
		return nil, err
	}

	promotion.ApplyToTotals(&oc, subtotal, redeemed)

	o, err := c.orders.Create(ctx, oc)
	if err != nil {
		c.release(oc.TenantID, oc.ID, redeemed)
		return nil, err
	}
	return &Placement{Order: o, Redemptions: redeemed}, nil
}

func (c *Checkout) redeemCode(ctx context.Context, oc order.CreateCommand, code, customer string, subtotal int64, lines []promotion.LineItem) ([]promotion.Redemption, error) {
	v, err := c.promotions.ValidateCode(ctx, promotion.CodeRequest{
		TenantID:    oc.TenantID,
		Code:        code,
		CustomerID:  customer,
		OrderAmount: subtotal,
		DeliveryFee: oc.DeliveryFee,
		Items:       lines,
	})
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, &promotion.RuleError{Reason: v.Reason, Message: v.Error}
	}
	codeID := v.CodeID
	r, err := c.promotions.Redeem(ctx, promotion.RedeemCommand{
		TenantID:    oc.TenantID,
		PromotionID: v.PromotionID,
		CodeID:      &codeID,
		OrderID:     oc.ID,
		CustomerID:  customer,
		OrderAmount: subtotal,
		DeliveryFee: oc.DeliveryFee,
		Items:       lines,
	})
	if err != nil {
		return nil, err
	}
	return []promotion.Redemption{*r}, nil
}

// redeemAuto redeems the stacked auto-apply promotions in priority order.
// Like Stack, eligibility is judged on the full subtotal while each discount
// comes off the running remainder, and each delivery waiver only sees the fee
// earlier promotions left. A promotion the customer is no longer eligible for
// at redemption time is skipped.
func (c *Checkout) redeemAuto(ctx context.Context, oc order.CreateCommand, customer string, subtotal int64, lines []promotion.LineItem) ([]promotion.Redemption, error) {
	stack, err := c.promotions.BestAutoApply(ctx, oc.TenantID, subtotal, lines)
	if err != nil {
		return nil, err
	}
	var out []promotion.Redemption
	remaining, feeLeft := subtotal, oc.DeliveryFee
	for _, a := range stack.Applied {
		r, err := c.promotions.Redeem(ctx, promotion.RedeemCommand{
			TenantID:    oc.TenantID,
			PromotionID: a.Promotion.ID,
			OrderID:     oc.ID,
			CustomerID:  customer,
			OrderAmount: remaining,
			BaseAmount:  subtotal,
			DeliveryFee: feeLeft,
			Items:       lines,
		})
		var re *promotion.RuleError
		if errors.As(err, &re) {
			c.log.Info("auto-apply promotion skipped", "promotion_id", a.Promotion.ID, "reason", re.Reason)
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, *r)
		remaining -= r.Discount
		feeLeft -= r.DeliveryDiscount
	}
	return out, nil
}

func (c *Checkout) release(tenantID, orderID types.ID, redeemed []promotion.Redemption) {
	// The request context may already be canceled; compensation must still run.
	ctx := context.Background()
	for _, r := range redeemed {
		if err := c.promotions.Release(ctx, tenantID, r.Usage.PromotionID, orderID); err != nil {
			c.log.Error("promotion release failed", "promotion_id", r.Usage.PromotionID, "order_id", orderID, "error", err)
		}
	}
}

func linesOf(items []order.ItemInput) ([]promotion.LineItem, int64) {
	full := make([]order.Item, len(items))
	var subtotal int64
	for i, in := range items {
		full[i] = order.Item{
			MenuItemID:     in.MenuItemID,
			CategoryID:     in.CategoryID,
			UnitPrice:      in.UnitPrice,
			Quantity:       in.Quantity,
			Customizations: in.Customizations,
		}
		subtotal += full[i].LineTotal()
	}
	return promotion.LinesFromOrder(full), subtotal
}

// customerKey matches the keys order history is counted by: account id, then email, then phone.
func customerKey(ci order.CustomerInfo) string {
	switch {
	case ci.ID != "":
		return ci.ID
	case ci.Email != "":
		return ci.Email
	default:
		return ci.Phone
	}
}
