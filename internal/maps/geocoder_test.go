package maps

import (
	"testing"

	"kottu/internal/modules/order"
)

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		name string
		addr order.DeliveryAddress
		want string
	}{
		{
			name: "full",
			addr: order.DeliveryAddress{Street: "12 Galle Rd", City: "Colombo", State: "Western", Zip: "00300", Instructions: "ring twice"},
			want: "12 Galle Rd, Colombo, Western, 00300",
		},
		{
			name: "no state",
			addr: order.DeliveryAddress{Street: " 5 Main St ", City: "Kandy", Zip: "20000"},
			want: "5 Main St, Kandy, 20000",
		},
		{
			name: "empty",
			addr: order.DeliveryAddress{},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatAddress(tt.addr); got != tt.want {
				t.Fatalf("FormatAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGeocoderSatisfiesOrderInterface(t *testing.T) {
	var _ order.Geocoder = (*Geocoder)(nil)
}
