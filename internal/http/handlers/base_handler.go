// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kottu/internal/modules/order"
	"kottu/internal/modules/promotion"
	"kottu/internal/types"
)

type errorResponse struct {
	Error  string             `json:"error"`
	Kind   string             `json:"kind,omitempty"`
	Reason promotion.Reason   `json:"reason,omitempty"`
	Fields []order.FieldError `json:"fields,omitempty"`
}

const (
	kindConflict     = "conflict"
	kindInvalidState = "invalid_state"
	kindValidation   = "validation"
	kindRule         = "rule"
)

// isValidID accepts the uuid ids the services generate and short slugs used
// for restaurants and menu items.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDomainError maps module errors onto status codes. Conflicts tell the
// client to re-read and retry.
func writeDomainError(c *gin.Context, err error) {
	var ve *order.ValidationError
	var re *promotion.RuleError
	switch {
	case errors.As(err, &ve):
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: "validation failed", Kind: kindValidation, Fields: ve.Result.Errors})
	case errors.As(err, &re):
		writeJSON(c, http.StatusUnprocessableEntity, errorResponse{Error: re.Message, Kind: kindRule, Reason: re.Reason})
	case errors.Is(err, order.ErrConflict), errors.Is(err, promotion.ErrAlreadyUsed), errors.Is(err, promotion.ErrCodeDuplicate):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Kind: kindConflict})
	case errors.Is(err, order.ErrInvalidState), errors.Is(err, promotion.ErrInvalidState):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Kind: kindInvalidState})
	case errors.Is(err, order.ErrNotFound), errors.Is(err, promotion.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pathID reads and checks a path id; it answers 400 itself when invalid.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func actorID(uid string) *types.ID {
	if uid == "" {
		return nil
	}
	id := types.ID(uid)
	return &id
}
