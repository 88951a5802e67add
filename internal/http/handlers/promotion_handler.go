// README: Promotion handlers: manager CRUD and lifecycle, public code checks.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kottu/internal/modules/promotion"
	"kottu/internal/types"
)

type PromotionService interface {
	Create(ctx context.Context, p promotion.Promotion) (*promotion.Promotion, error)
	CreateCode(ctx context.Context, cmd promotion.CodeCommand) (*promotion.Code, error)
	Get(ctx context.Context, tenantID, id types.ID) (*promotion.Promotion, error)
	List(ctx context.Context, tenantID types.ID) ([]*promotion.Promotion, error)
	Activate(ctx context.Context, tenantID, id types.ID) (*promotion.Promotion, error)
	Pause(ctx context.Context, tenantID, id types.ID) (*promotion.Promotion, error)
	Resume(ctx context.Context, tenantID, id types.ID) (*promotion.Promotion, error)
	Cancel(ctx context.Context, tenantID, id types.ID) (*promotion.Promotion, error)
	ValidateCode(ctx context.Context, req promotion.CodeRequest) (promotion.CodeValidation, error)
	BestAutoApply(ctx context.Context, tenantID types.ID, amount int64, items []promotion.LineItem) (promotion.StackResult, error)
}

type PromotionHandler struct {
	promo PromotionService
}

func NewPromotionHandler(promos PromotionService) *PromotionHandler {
	return &PromotionHandler{promo: promos}
}

func (h *PromotionHandler) Create(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	var p promotion.Promotion
	if err := c.ShouldBindJSON(&p); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	p.TenantID = tenantID
	created, err := h.promo.Create(c.Request.Context(), p)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, created)
}

func (h *PromotionHandler) List(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	list, err := h.promo.List(c.Request.Context(), tenantID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"promotions": list})
}

func (h *PromotionHandler) Get(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.promo.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

type createCodeReq struct {
	Code       string     `json:"code"`
	UsageLimit *int       `json:"usage_limit"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
}

func (h *PromotionHandler) CreateCode(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req createCodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	code, err := h.promo.CreateCode(c.Request.Context(), promotion.CodeCommand{
		TenantID:    tenantID,
		PromotionID: id,
		Code:        req.Code,
		UsageLimit:  req.UsageLimit,
		ValidFrom:   req.ValidFrom,
		ValidUntil:  req.ValidUntil,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, code)
}

type lifecycleFunc func(ctx context.Context, tenantID, id types.ID) (*promotion.Promotion, error)

func (h *PromotionHandler) lifecycle(fn lifecycleFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := pathID(c, "restaurant_id")
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		p, err := fn(c.Request.Context(), tenantID, id)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, p)
	}
}

func (h *PromotionHandler) Activate() gin.HandlerFunc { return h.lifecycle(h.promo.Activate) }
func (h *PromotionHandler) Pause() gin.HandlerFunc    { return h.lifecycle(h.promo.Pause) }
func (h *PromotionHandler) Resume() gin.HandlerFunc   { return h.lifecycle(h.promo.Resume) }
func (h *PromotionHandler) Cancel() gin.HandlerFunc   { return h.lifecycle(h.promo.Cancel) }

type cartReq struct {
	Code        string               `json:"code"`
	CustomerID  string               `json:"customer_id"`
	OrderAmount int64                `json:"order_amount"`
	DeliveryFee int64                `json:"delivery_fee"`
	Items       []promotion.LineItem `json:"items"`
}

// ValidateCode answers 200 for both outcomes; is_valid and reason carry the verdict.
func (h *PromotionHandler) ValidateCode(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	var req cartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Code == "" {
		writeError(c, http.StatusBadRequest, "code is required")
		return
	}
	v, err := h.promo.ValidateCode(c.Request.Context(), promotion.CodeRequest{
		TenantID:    tenantID,
		Code:        req.Code,
		CustomerID:  req.CustomerID,
		OrderAmount: req.OrderAmount,
		DeliveryFee: req.DeliveryFee,
		Items:       req.Items,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (h *PromotionHandler) AutoApply(c *gin.Context) {
	tenantID, ok := pathID(c, "restaurant_id")
	if !ok {
		return
	}
	var req cartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.promo.BestAutoApply(c.Request.Context(), tenantID, req.OrderAmount, req.Items)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
