// README: Order handlers: checkout, tracking, staff transitions, kitchen queue.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"kottu/internal/http/middleware"
	"kottu/internal/modules/order"
	"kottu/internal/service"
	"kottu/internal/types"
)

type OrderService interface {
	Get(ctx context.Context, tenantID, id types.ID) (*order.Order, error)
	UpdateOrder(ctx context.Context, cmd order.UpdateCommand) (*order.Order, error)
	Advance(ctx context.Context, cmd order.AdvanceCommand) (*order.Order, error)
	Cancel(ctx context.Context, cmd order.CancelCommand) (*order.Order, error)
	Timeline(ctx context.Context, tenantID, id types.ID) ([]order.TimelineEntry, error)
	KitchenQueue(ctx context.Context, tenantID types.ID) ([]order.QueueEntry, error)
}

type OrderPlacer interface {
	Place(ctx context.Context, cmd service.PlaceCommand) (*service.Placement, error)
}

type OrderHandler struct {
	order    OrderService
	checkout OrderPlacer
}

func NewOrderHandler(orders OrderService, checkout OrderPlacer) *OrderHandler {
	return &OrderHandler{order: orders, checkout: checkout}
}

type itemReq struct {
	MenuItemID     types.ID          `json:"menu_item_id"`
	CategoryID     types.ID          `json:"category_id"`
	Name           string            `json:"name"`
	UnitPrice      int64             `json:"unit_price"`
	Quantity       int               `json:"quantity"`
	Note           string            `json:"note"`
	Customizations []order.Selection `json:"customizations"`
}

type createOrderReq struct {
	Type            order.Type             `json:"order_type"`
	Currency        string                 `json:"currency"`
	Customer        order.CustomerInfo     `json:"customer_info"`
	DeliveryAddress *order.DeliveryAddress `json:"delivery_address"`
	Items           []itemReq              `json:"items"`
	Tax             int64                  `json:"tax"`
	DeliveryFee     int64                  `json:"delivery_fee"`
	Tip             int64                  `json:"tip"`
	Notes           string                 `json:"notes"`
	PromoCode       string                 `json:"promo_code"`
	AutoApply       bool                   `json:"auto_apply"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	items := make([]order.ItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemInput{
			MenuItemID:     it.MenuItemID,
			CategoryID:     it.CategoryID,
			Name:           it.Name,
			UnitPrice:      it.UnitPrice,
			Quantity:       it.Quantity,
			Note:           it.Note,
			Customizations: it.Customizations,
		}
	}
	placed, err := h.checkout.Place(c.Request.Context(), service.PlaceCommand{
		Order: order.CreateCommand{
			TenantID:        tenantID,
			Type:            req.Type,
			Currency:        req.Currency,
			Customer:        req.Customer,
			DeliveryAddress: req.DeliveryAddress,
			Items:           items,
			Tax:             req.Tax,
			DeliveryFee:     req.DeliveryFee,
			Tip:             req.Tip,
			Notes:           req.Notes,
		},
		PromoCode: req.PromoCode,
		AutoApply: req.AutoApply,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, placed)
}

type orderView struct {
	Order    *order.Order `json:"order"`
	Progress int          `json:"progress"`
}

func (h *OrderHandler) Get(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderView{Order: o, Progress: order.Progress(o.Status, o.Type)})
}

func (h *OrderHandler) Timeline(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	entries, err := h.order.Timeline(c.Request.Context(), tenantID, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"timeline": entries})
}

type updateOrderReq struct {
	order.Update
	ExpectedStatus order.Status `json:"expected_status"`
	Override       bool         `json:"override"`
}

// Update applies a partial update guarded by the status the client last saw.
func (h *OrderHandler) Update(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.order.UpdateOrder(c.Request.Context(), order.UpdateCommand{
		TenantID:       tenantID,
		OrderID:        id,
		Update:         req.Update,
		ExpectedStatus: req.ExpectedStatus,
		Override:       req.Override,
		ActorType:      "staff",
		ActorID:        actorID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderView{Order: o, Progress: order.Progress(o.Status, o.Type)})
}

type advanceReq struct {
	ExpectedStatus order.Status `json:"expected_status"`
}

func (h *OrderHandler) Advance(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req advanceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.order.Advance(c.Request.Context(), order.AdvanceCommand{
		TenantID:       tenantID,
		OrderID:        id,
		ExpectedStatus: req.ExpectedStatus,
		ActorType:      "staff",
		ActorID:        actorID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderView{Order: o, Progress: order.Progress(o.Status, o.Type)})
}

type cancelReq struct {
	ExpectedStatus order.Status `json:"expected_status"`
	Refund         bool         `json:"refund"`
	Reason         string       `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		TenantID:       tenantID,
		OrderID:        id,
		ExpectedStatus: req.ExpectedStatus,
		Refund:         req.Refund,
		Reason:         req.Reason,
		ActorType:      "staff",
		ActorID:        actorID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o})
}

func (h *OrderHandler) KitchenQueue(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	queue, err := h.order.KitchenQueue(c.Request.Context(), tenantID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": queue, "kitchen_load": len(queue)})
}
