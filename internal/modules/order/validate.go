// README: Canonical structural validation for new orders and partial updates.
package order

import (
	"fmt"
	"strings"
	"time"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationResult struct {
	Valid  bool         `json:"is_valid"`
	Errors []FieldError `json:"errors"`
}

func (r *ValidationResult) add(field, format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func newResult() ValidationResult {
	return ValidationResult{Valid: true, Errors: []FieldError{}}
}

// ValidationError carries a failed ValidationResult through an error return.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Result.Errors))
	for _, fe := range e.Result.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "invalid order: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrBadRequest }

// Update is a partial order mutation. Nil fields are left untouched.
type Update struct {
	Status         *Status    `json:"status,omitempty"`
	Type           *Type      `json:"order_type,omitempty"`
	EstimatedReady *time.Time `json:"estimated_ready_time,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

func (u Update) Empty() bool {
	return u.Status == nil && u.Type == nil && u.EstimatedReady == nil && u.Notes == nil
}

// ValidateOrderUpdate checks shape only; transition legality is IsValidTransition's job.
func ValidateOrderUpdate(u Update, now time.Time) ValidationResult {
	r := newResult()
	if u.Status != nil && !u.Status.Valid() {
		r.add("status", "unknown status %q", *u.Status)
	}
	if u.Type != nil && !u.Type.Valid() {
		r.add("order_type", "unknown order type %q", *u.Type)
	}
	if u.EstimatedReady != nil && u.EstimatedReady.Before(now) {
		r.add("estimated_ready_time", "must not be in the past")
	}
	return r
}

// Validate is the single definition of a well-formed order, used at creation.
func Validate(o *Order) ValidationResult {
	r := newResult()
	if o.TenantID == "" {
		r.add("restaurant_id", "is required")
	}
	if !o.Type.Valid() {
		r.add("order_type", "unknown order type %q", o.Type)
	}
	if strings.TrimSpace(o.Customer.Name) == "" {
		r.add("customer_info.name", "is required")
	}
	if o.Customer.Phone == "" && o.Customer.Email == "" {
		r.add("customer_info", "phone or email is required")
	}
	if o.Customer.Email != "" && !strings.Contains(o.Customer.Email, "@") {
		r.add("customer_info.email", "is malformed")
	}

	switch {
	case o.Type == TypeDelivery && o.DeliveryAddress == nil:
		r.add("delivery_address", "is required for delivery orders")
	case o.Type != TypeDelivery && o.DeliveryAddress != nil:
		r.add("delivery_address", "is only allowed for delivery orders")
	case o.DeliveryAddress != nil:
		a := o.DeliveryAddress
		if a.Street == "" {
			r.add("delivery_address.street", "is required")
		}
		if a.City == "" {
			r.add("delivery_address.city", "is required")
		}
		if a.Zip == "" {
			r.add("delivery_address.zip", "is required")
		}
	}

	if len(o.Items) == 0 {
		r.add("items", "at least one item is required")
	}
	var subtotal int64
	for i, it := range o.Items {
		if it.Quantity < 1 {
			r.add(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if it.UnitPrice < 0 {
			r.add(fmt.Sprintf("items[%d].unit_price", i), "must not be negative")
		}
		if it.Name == "" {
			r.add(fmt.Sprintf("items[%d].name", i), "is required")
		}
		subtotal += it.LineTotal()
	}

	money := []struct {
		field string
		v     int64
	}{
		{"subtotal", o.Subtotal},
		{"tax", o.Tax},
		{"delivery_fee", o.DeliveryFee},
		{"tip", o.Tip},
		{"discount", o.Discount},
		{"total", o.Total},
	}
	for _, m := range money {
		if m.v < 0 {
			r.add(m.field, "must not be negative")
		}
	}
	if len(o.Items) > 0 && subtotal != o.Subtotal {
		r.add("subtotal", "does not match items (%d != %d)", o.Subtotal, subtotal)
	}
	if o.Total != o.ExpectedTotal() {
		r.add("total", "must equal subtotal + tax + delivery_fee + tip - discount")
	}
	return r
}
