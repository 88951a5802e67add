package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kottu/internal/modules/order"
	"kottu/internal/modules/promotion"
	"kottu/internal/types"
)

type fakeOrders struct {
	err  error
	last order.CreateCommand
}

func (f *fakeOrders) Create(_ context.Context, cmd order.CreateCommand) (*order.Order, error) {
	f.last = cmd
	if f.err != nil {
		return nil, f.err
	}
	return &order.Order{ID: cmd.ID, TenantID: cmd.TenantID, Discount: cmd.Discount}, nil
}

type fakePromotions struct {
	validation promotion.CodeValidation
	stack      promotion.StackResult
	redeemErr  map[types.ID]error
	discounts  map[types.ID]int64
	waivers    map[types.ID]bool
	redeemed   []promotion.RedeemCommand
	released   []types.ID
}

func (f *fakePromotions) ValidateCode(context.Context, promotion.CodeRequest) (promotion.CodeValidation, error) {
	return f.validation, nil
}

func (f *fakePromotions) Redeem(_ context.Context, cmd promotion.RedeemCommand) (*promotion.Redemption, error) {
	f.redeemed = append(f.redeemed, cmd)
	if err := f.redeemErr[cmd.PromotionID]; err != nil {
		return nil, err
	}
	r := &promotion.Redemption{
		Usage:    promotion.Usage{PromotionID: cmd.PromotionID, OrderID: cmd.OrderID},
		Discount: f.discounts[cmd.PromotionID],
	}
	if f.waivers[cmd.PromotionID] {
		r.DeliveryDiscount = cmd.DeliveryFee
	}
	return r, nil
}

func (f *fakePromotions) Release(_ context.Context, _, promotionID, _ types.ID) error {
	f.released = append(f.released, promotionID)
	return nil
}

func (f *fakePromotions) BestAutoApply(context.Context, types.ID, int64, []promotion.LineItem) (promotion.StackResult, error) {
	return f.stack, nil
}

func baseOrder() order.CreateCommand {
	return order.CreateCommand{
		TenantID: "r1",
		Type:     order.TypeTakeout,
		Customer: order.CustomerInfo{Name: "Nimal", Email: "nimal@example.com"},
		Items: []order.ItemInput{
			{MenuItemID: "kottu", Name: "Chicken kottu", UnitPrice: 1200, Quantity: 2},
			{MenuItemID: "tea", Name: "Milk tea", UnitPrice: 300, Quantity: 1},
		},
		DeliveryFee: 0,
	}
}

func TestPlaceWithCodeAppliesDiscount(t *testing.T) {
	orders := &fakeOrders{}
	promos := &fakePromotions{
		validation: promotion.CodeValidation{Valid: true, PromotionID: "p1", CodeID: "c1"},
		discounts:  map[types.ID]int64{"p1": 270},
	}
	c := NewCheckout(orders, promos, nil)

	got, err := c.Place(context.Background(), PlaceCommand{Order: baseOrder(), PromoCode: "SAVE10"})
	require.NoError(t, err)

	require.Len(t, promos.redeemed, 1)
	r := promos.redeemed[0]
	assert.Equal(t, int64(2700), r.OrderAmount)
	assert.Equal(t, "nimal@example.com", r.CustomerID)
	assert.NotEmpty(t, r.OrderID)
	assert.Equal(t, r.OrderID, got.Order.ID)
	require.NotNil(t, r.CodeID)
	assert.Equal(t, types.ID("c1"), *r.CodeID)
	assert.Equal(t, int64(270), orders.last.Discount)
	assert.Len(t, got.Redemptions, 1)
}

func TestPlaceRejectsInvalidCode(t *testing.T) {
	orders := &fakeOrders{}
	promos := &fakePromotions{validation: promotion.CodeValidation{
		Reason: promotion.ReasonExpired,
		Error:  promotion.ReasonExpired.Message(),
	}}
	c := NewCheckout(orders, promos, nil)

	_, err := c.Place(context.Background(), PlaceCommand{Order: baseOrder(), PromoCode: "OLD"})
	require.Error(t, err)
	assert.Equal(t, promotion.ReasonExpired, promotion.ReasonOf(err))
	assert.Empty(t, promos.redeemed)
	assert.Empty(t, orders.last.TenantID)
}

func TestPlaceReleasesWhenOrderFails(t *testing.T) {
	orders := &fakeOrders{err: order.ErrBadRequest}
	promos := &fakePromotions{
		validation: promotion.CodeValidation{Valid: true, PromotionID: "p1", CodeID: "c1"},
		discounts:  map[types.ID]int64{"p1": 100},
	}
	c := NewCheckout(orders, promos, nil)

	_, err := c.Place(context.Background(), PlaceCommand{Order: baseOrder(), PromoCode: "SAVE"})
	require.ErrorIs(t, err, order.ErrBadRequest)
	assert.Equal(t, []types.ID{"p1"}, promos.released)
}

func TestPlaceAutoApplySkipsIneligible(t *testing.T) {
	orders := &fakeOrders{}
	promos := &fakePromotions{
		stack: promotion.StackResult{Applied: []promotion.Applied{
			{Promotion: &promotion.Promotion{ID: "a"}},
			{Promotion: &promotion.Promotion{ID: "b"}},
			{Promotion: &promotion.Promotion{ID: "c"}},
		}},
		redeemErr: map[types.ID]error{"b": &promotion.RuleError{Reason: promotion.ReasonCustomerLimitReached}},
		discounts: map[types.ID]int64{"a": 500, "c": 200},
	}
	c := NewCheckout(orders, promos, nil)

	got, err := c.Place(context.Background(), PlaceCommand{Order: baseOrder(), AutoApply: true})
	require.NoError(t, err)

	require.Len(t, promos.redeemed, 3)
	assert.Equal(t, int64(2700), promos.redeemed[0].OrderAmount)
	assert.Equal(t, int64(2200), promos.redeemed[2].OrderAmount)
	assert.Equal(t, int64(2700), promos.redeemed[2].BaseAmount)
	assert.Nil(t, promos.redeemed[0].CodeID)
	assert.Len(t, got.Redemptions, 2)
	assert.Equal(t, int64(700), orders.last.Discount)
}

func TestPlaceAutoApplyWaivesDeliveryOnce(t *testing.T) {
	orders := &fakeOrders{}
	promos := &fakePromotions{
		stack: promotion.StackResult{Applied: []promotion.Applied{
			{Promotion: &promotion.Promotion{ID: "ship1"}},
			{Promotion: &promotion.Promotion{ID: "ship2"}},
		}},
		waivers: map[types.ID]bool{"ship1": true, "ship2": true},
	}
	c := NewCheckout(orders, promos, nil)
	oc := baseOrder()
	oc.Type = order.TypeDelivery
	oc.DeliveryFee = 350

	_, err := c.Place(context.Background(), PlaceCommand{Order: oc, AutoApply: true})
	require.NoError(t, err)

	require.Len(t, promos.redeemed, 2)
	assert.Equal(t, int64(350), promos.redeemed[0].DeliveryFee)
	assert.Equal(t, int64(0), promos.redeemed[1].DeliveryFee)
	assert.Equal(t, int64(350), orders.last.Discount)
}

func TestPlaceDiscountCappedAtOrderValue(t *testing.T) {
	orders := &fakeOrders{}
	promos := &fakePromotions{
		validation: promotion.CodeValidation{Valid: true, PromotionID: "p1", CodeID: "c1"},
		discounts:  map[types.ID]int64{"p1": 5000},
	}
	c := NewCheckout(orders, promos, nil)

	_, err := c.Place(context.Background(), PlaceCommand{Order: baseOrder(), PromoCode: "BIG"})
	require.NoError(t, err)
	assert.Equal(t, int64(2700), orders.last.Discount)
}

func TestPlaceAutoApplyInfraErrorReleasesEarlier(t *testing.T) {
	orders := &fakeOrders{}
	promos := &fakePromotions{
		stack: promotion.StackResult{Applied: []promotion.Applied{
			{Promotion: &promotion.Promotion{ID: "a"}},
			{Promotion: &promotion.Promotion{ID: "b"}},
		}},
		redeemErr: map[types.ID]error{"b": errors.New("db down")},
		discounts: map[types.ID]int64{"a": 500},
	}
	c := NewCheckout(orders, promos, nil)

	_, err := c.Place(context.Background(), PlaceCommand{Order: baseOrder(), AutoApply: true})
	require.Error(t, err)
	assert.Equal(t, []types.ID{"a"}, promos.released)
	assert.Empty(t, orders.last.TenantID)
}

func TestCustomerKeyPrefersAccountID(t *testing.T) {
	assert.Equal(t, "acct", customerKey(order.CustomerInfo{ID: "acct", Email: "a@b.c", Phone: "1"}))
	assert.Equal(t, "a@b.c", customerKey(order.CustomerInfo{Email: "a@b.c", Phone: "1"}))
	assert.Equal(t, "1", customerKey(order.CustomerInfo{Phone: "1"}))
}
