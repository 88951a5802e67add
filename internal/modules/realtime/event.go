// README: Change-feed events emitted by the orders trigger and fanned out by the broker.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"kottu/internal/modules/order"
	"kottu/internal/types"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Change is one row change as published by notify_order_change().
type Change struct {
	Operation Operation       `json:"operation"`
	Table     string          `json:"table"`
	TenantID  types.ID        `json:"restaurant_id"`
	Old       json.RawMessage `json:"old,omitempty"`
	New       json.RawMessage `json:"new,omitempty"`
	At        time.Time       `json:"at"`
}

func ParseChange(payload []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	switch c.Operation {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return Change{}, fmt.Errorf("decode change: unknown operation %q", c.Operation)
	}
	return c, nil
}

// Orders decodes the old and new rows. Either may be nil depending on the operation.
func (c Change) Orders() (oldRow, newRow *order.Order, err error) {
	if oldRow, err = decodeOrder(c.Old); err != nil {
		return nil, nil, fmt.Errorf("decode old row: %w", err)
	}
	if newRow, err = decodeOrder(c.New); err != nil {
		return nil, nil, fmt.Errorf("decode new row: %w", err)
	}
	return oldRow, newRow, nil
}

func decodeOrder(raw json.RawMessage) (*order.Order, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var o order.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// StatusChanged reports whether an update moved the order to a different status.
// A missing old row counts as a change.
func StatusChanged(oldRow, newRow *order.Order) bool {
	if newRow == nil {
		return false
	}
	return oldRow == nil || oldRow.Status != newRow.Status
}

// Topic names used on the broker.
const topicPrefix = "kottu:"

func TenantTopic(tenantID types.ID) string { return topicPrefix + "orders:" + string(tenantID) }

// PlatformTopic carries every order change regardless of tenant.
func PlatformTopic() string { return topicPrefix + "orders" }

func PresenceTopic(tenantID types.ID) string { return topicPrefix + "presence:" + string(tenantID) }
