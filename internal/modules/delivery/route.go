// README: Google Maps driving-time estimate used to fill delivery ETAs.
package delivery

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"googlemaps.github.io/maps"
)

// RouteEstimator estimates driving time between pickup and drop-off.
type RouteEstimator struct {
	client *maps.Client
	region string
}

func NewRouteEstimator(apiKey string, opts ...maps.ClientOption) (*RouteEstimator, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "create maps client")
	}
	return &RouteEstimator{client: client, region: "ke"}, nil
}

// EstimateDuration implements order.ETAEstimator.
func (r *RouteEstimator) EstimateDuration(ctx context.Context, origin, destination string) (time.Duration, error) {
	if origin == "" || destination == "" {
		return 0, errors.New("origin and destination are required")
	}
	routes, _, err := r.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
		Region:      r.region,
	})
	if err != nil {
		return 0, errors.Wrap(err, "directions")
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, errors.New("no route found")
	}
	return routes[0].Legs[0].Duration, nil
}
