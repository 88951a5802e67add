// README: Kitchen-facing projections: priority, ready-time estimate, and timeline.
package order

import (
	"math"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	}
	return 2
}

const (
	highPriorityAge   = 20 * time.Minute
	mediumPriorityAge = 10 * time.Minute

	baseReadyMinutes    = 15.0
	perItemReadyMinutes = 3.0
	loadFactorPerOrder  = 0.1
	maxLoadFactor       = 2.0
	loadStepMinutes     = 5.0
)

// KitchenPriority is recomputed from the order age at now on every call.
func KitchenPriority(o *Order, now time.Time) Priority {
	age := now.Sub(o.CreatedAt)
	if age > highPriorityAge || o.Type == TypeDelivery {
		return PriorityHigh
	}
	if age > mediumPriorityAge {
		return PriorityMedium
	}
	return PriorityLow
}

// EstimatedReadyTime is now + 15m + 3m per line item + min(load*0.1, 2)*5m.
func EstimatedReadyTime(o *Order, kitchenLoad int, now time.Time) time.Time {
	load := math.Min(float64(kitchenLoad)*loadFactorPerOrder, maxLoadFactor)
	if load < 0 {
		load = 0
	}
	minutes := baseReadyMinutes + perItemReadyMinutes*float64(o.ItemCount()) + load*loadStepMinutes
	return now.Add(time.Duration(minutes * float64(time.Minute)))
}

type TimelineEntry struct {
	Status      Status     `json:"status"`
	At          *time.Time `json:"timestamp"`
	IsCompleted bool       `json:"is_completed"`
	IsCurrent   bool       `json:"is_current"`
}

// Timeline is the display projection: one entry per flow status, with only the
// first entry timestamped (order creation).
func Timeline(o *Order) []TimelineEntry {
	return TimelineFromHistory(o, nil)
}

// TimelineFromHistory fills per-step timestamps from the state-event ledger.
// The latest event entering a status wins; the first step falls back to creation.
func TimelineFromHistory(o *Order, events []Event) []TimelineEntry {
	f := flows[o.Type]
	cur := flowIndex(o.Status, o.Type)

	reached := make(map[Status]time.Time, len(events))
	for _, e := range events {
		if prev, ok := reached[e.ToStatus]; !ok || e.CreatedAt.After(prev) {
			reached[e.ToStatus] = e.CreatedAt
		}
	}

	out := make([]TimelineEntry, len(f))
	for i, s := range f {
		entry := TimelineEntry{
			Status:      s,
			IsCompleted: i < cur,
			IsCurrent:   i == cur,
		}
		if at, ok := reached[s]; ok {
			t := at
			entry.At = &t
		} else if i == 0 {
			t := o.CreatedAt
			entry.At = &t
		}
		out[i] = entry
	}
	return out
}
