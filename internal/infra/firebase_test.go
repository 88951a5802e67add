package infra

import "testing"

func TestStaffTokenClaims(t *testing.T) {
	tok := &StaffToken{UID: "u1", Claims: map[string]interface{}{
		"restaurant_id": "r1",
		"role":          "kitchen",
		"level":         3,
	}}
	if got := tok.TenantID(); got != "r1" {
		t.Fatalf("TenantID = %q, want r1", got)
	}
	if got := tok.Role(); got != "kitchen" {
		t.Fatalf("Role = %q, want kitchen", got)
	}
	if got := tok.claim("level"); got != "" {
		t.Fatalf("non-string claim = %q, want empty", got)
	}

	var none *StaffToken
	if none.TenantID() != "" {
		t.Fatal("nil token must have no tenant")
	}
}
