// README: Per-type status flow table and the pure transition rules built on it.
package order

import "math"

// flows holds the happy path per fulfillment type. canceled and refunded are
// deliberately absent: they are reachable from anywhere.
var flows = map[Type][]Status{
	TypeDineIn:   {StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted},
	TypeTakeout:  {StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted},
	TypeDelivery: {StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusOutForDelivery, StatusDelivered},
}

// Flow returns a copy of the status sequence for t, or nil for an unknown type.
func Flow(t Type) []Status {
	f, ok := flows[t]
	if !ok {
		return nil
	}
	out := make([]Status, len(f))
	copy(out, f)
	return out
}

func flowIndex(s Status, t Type) int {
	for i, v := range flows[t] {
		if v == s {
			return i
		}
	}
	return -1
}

// IsOverride reports whether s is one of the universal terminal overrides.
func IsOverride(s Status) bool {
	return s == StatusCanceled || s == StatusRefunded
}

// IsTerminal reports whether an order in s no longer accepts normal updates.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusDelivered, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

// IsActive reports whether s is a kitchen-facing status.
func IsActive(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady:
		return true
	}
	return false
}

// ActiveStatuses is the status set a kitchen display watches.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady}

func NextStatus(current Status, t Type) (Status, bool) {
	f := flows[t]
	i := flowIndex(current, t)
	if i < 0 || i >= len(f)-1 {
		return "", false
	}
	return f[i+1], true
}

func PreviousStatus(current Status, t Type) (Status, bool) {
	i := flowIndex(current, t)
	if i <= 0 {
		return "", false
	}
	return flows[t][i-1], true
}

// IsValidTransition accepts any move to an override status and otherwise only
// forward or no-op moves within the type's flow. Forward jumps that skip steps
// are accepted here; gating them is the writer's decision (see SkipsSteps).
func IsValidTransition(from, to Status, t Type) bool {
	if IsOverride(to) {
		return true
	}
	ti := flowIndex(to, t)
	if ti < 0 {
		return false
	}
	return ti >= flowIndex(from, t)
}

// SkipsSteps reports whether from -> to jumps over at least one flow status.
func SkipsSteps(from, to Status, t Type) bool {
	fi, ti := flowIndex(from, t), flowIndex(to, t)
	if fi < 0 || ti < 0 {
		return false
	}
	return ti-fi > 1
}

// Progress is the position of s in the flow as a percentage in [0,100].
func Progress(s Status, t Type) int {
	f := flows[t]
	i := flowIndex(s, t)
	if i < 0 || len(f) < 2 {
		return 0
	}
	return int(math.Round(float64(i) / float64(len(f)-1) * 100))
}
