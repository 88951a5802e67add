// README: Delivery address geocoding via the Google Maps Geocoding API.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"kottu/internal/modules/order"
	"kottu/internal/types"
)

var ErrNoResult = errors.New("address has no geocoding result")

// Geocoder resolves delivery addresses to coordinates.
type Geocoder struct {
	client *maps.Client
	region string
}

// NewGeocoder creates a Geocoder with the given API key. region is a ccTLD
// bias such as "lk"; empty means no bias.
func NewGeocoder(apiKey, region string) (*Geocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Geocoder{client: client, region: region}, nil
}

func (g *Geocoder) Geocode(ctx context.Context, addr order.DeliveryAddress) (types.Point, error) {
	r := &maps.GeocodingRequest{
		Address: FormatAddress(addr),
		Region:  g.region,
	}
	if addr.Zip != "" {
		r.Components = map[maps.Component]string{maps.ComponentPostalCode: addr.Zip}
	}

	results, err := g.client.Geocode(ctx, r)
	if err != nil {
		return types.Point{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, ErrNoResult
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// FormatAddress renders the one-line query sent to the API. Instructions are
// for the courier and never part of the query.
func FormatAddress(addr order.DeliveryAddress) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{addr.Street, addr.City, addr.State, addr.Zip} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
