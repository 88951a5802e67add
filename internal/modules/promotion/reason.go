// README: Stable rule-failure vocabulary and its message catalog.
package promotion

import (
	"errors"
	"fmt"

	"kottu/internal/modules/order"
)

// Reason is a business-rule failure code. The set is closed; API layers
// present Message() and clients match on the code.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonNotFound             Reason = "not_found"
	ReasonNotActive            Reason = "not_active"
	ReasonNotStarted           Reason = "not_started"
	ReasonExpired              Reason = "expired"
	ReasonOutsideSchedule      Reason = "outside_schedule"
	ReasonLimitReached         Reason = "limit_reached"
	ReasonCustomerLimitReached Reason = "customer_limit_reached"
	ReasonBelowMinimum         Reason = "below_minimum"
	ReasonBelowMinItems        Reason = "below_min_items"
	ReasonNotEligible          Reason = "not_eligible"
	ReasonUnsupported          Reason = "unsupported"
)

var messages = map[Reason]string{
	ReasonNotFound:             "invalid promotion code",
	ReasonNotActive:            "promotion is not active",
	ReasonNotStarted:           "promotion has not started yet",
	ReasonExpired:              "promotion has expired",
	ReasonOutsideSchedule:      "promotion is not available at this time",
	ReasonLimitReached:         "promotion usage limit reached",
	ReasonCustomerLimitReached: "you have already used this promotion the maximum number of times",
	ReasonBelowMinimum:         "order is below the minimum amount of %d",
	ReasonBelowMinItems:        "order needs at least %d items",
	ReasonNotEligible:          "order is not eligible for this promotion",
	ReasonUnsupported:          "promotion type is not supported",
}

// Message renders the catalog entry. Entries with a placeholder take the
// threshold as their single argument.
func (r Reason) Message(args ...any) string {
	m, ok := messages[r]
	if !ok {
		return string(r)
	}
	if len(args) == 0 {
		switch r {
		case ReasonBelowMinimum, ReasonBelowMinItems:
			args = []any{0}
		default:
			return m
		}
	}
	return fmt.Sprintf(m, args...)
}

// RuleError carries a Reason through an error return.
type RuleError struct {
	Reason  Reason
	Message string
}

func (e *RuleError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Reason.Message()
}

func newRuleError(r Reason, args ...any) *RuleError {
	return &RuleError{Reason: r, Message: r.Message(args...)}
}

// ReasonOf extracts the Reason from err, or ReasonNone.
func ReasonOf(err error) Reason {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonNone
}

var (
	ErrNotFound      = errors.New("promotion not found")
	ErrInvalidState  = errors.New("invalid promotion state transition")
	ErrBadRequest    = order.ErrBadRequest
	ErrAlreadyUsed   = errors.New("promotion already applied to this order")
	ErrCodeDuplicate = errors.New("promotion code already exists")
)
