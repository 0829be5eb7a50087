package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// OSRMProvider routes against an OSRM HTTP server and geocodes against a
// Nominatim-compatible endpoint.
type OSRMProvider struct {
	RouteEndpoint   string
	GeocodeEndpoint string
	Client          *http.Client
}

func NewOSRMProvider(routeEndpoint, geocodeEndpoint string) *OSRMProvider {
	return &OSRMProvider{
		RouteEndpoint:   routeEndpoint,
		GeocodeEndpoint: geocodeEndpoint,
		Client:          &http.Client{Timeout: 2 * time.Second},
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
		Geometry string  `json:"geometry"`
	} `json:"routes"`
}

func (o *OSRMProvider) route(ctx context.Context, from, to models.Coord, overview string) (osrmResponse, error) {
	// OSRM route query: /route/v1/driving/{lon1},{lat1};{lon2},{lat2}
	u := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=%s&geometries=polyline",
		o.RouteEndpoint, from.Lon, from.Lat, to.Lon, to.Lat, overview)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return osrmResponse{}, faults.Upstream(err, "osrm request")
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return osrmResponse{}, faults.Upstream(err, "osrm request")
	}
	defer resp.Body.Close()

	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return osrmResponse{}, faults.Upstream(err, "osrm decode")
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return osrmResponse{}, faults.Upstreamf("osrm no route: %v", out.Code)
	}
	return out, nil
}

func (o *OSRMProvider) DistanceAndDuration(ctx context.Context, from, to models.Coord) (float64, float64, error) {
	out, err := o.route(ctx, from, to, "false")
	if err != nil {
		return 0, 0, err
	}
	return out.Routes[0].Distance, out.Routes[0].Duration, nil
}

func (o *OSRMProvider) Directions(ctx context.Context, from, to models.Coord) (Route, error) {
	out, err := o.route(ctx, from, to, "full")
	if err != nil {
		return Route{}, err
	}
	r := out.Routes[0]
	return Route{
		Geometry:    geo.DecodePolyline(r.Geometry),
		DistanceM:   r.Distance,
		DurationSec: r.Duration,
	}, nil
}

func (o *OSRMProvider) Geocode(ctx context.Context, address string) (models.Coord, error) {
	if o.GeocodeEndpoint == "" {
		return models.Coord{}, faults.Upstreamf("geocoding endpoint not configured")
	}
	u := o.GeocodeEndpoint + "/search?format=json&limit=1&q=" + url.QueryEscape(address)
	var out []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := o.getJSON(ctx, u, &out); err != nil {
		return models.Coord{}, err
	}
	if len(out) == 0 {
		return models.Coord{}, faults.NotFoundf("no geocode result for %q", address)
	}
	lat, err1 := strconv.ParseFloat(out[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(out[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return models.Coord{}, faults.Upstreamf("malformed geocode result for %q", address)
	}
	return models.Coord{Lat: lat, Lon: lon}, nil
}

func (o *OSRMProvider) ReverseGeocode(ctx context.Context, loc models.Coord) (string, error) {
	if o.GeocodeEndpoint == "" {
		return "", faults.Upstreamf("geocoding endpoint not configured")
	}
	u := fmt.Sprintf("%s/reverse?format=json&lat=%.6f&lon=%.6f", o.GeocodeEndpoint, loc.Lat, loc.Lon)
	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := o.getJSON(ctx, u, &out); err != nil {
		return "", err
	}
	if out.DisplayName == "" {
		return "", faults.NotFoundf("no address at %.6f,%.6f", loc.Lat, loc.Lon)
	}
	return out.DisplayName, nil
}

func (o *OSRMProvider) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return faults.Upstream(err, "geocode request")
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return faults.Upstream(err, "geocode request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return faults.Upstreamf("geocode status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return faults.Upstream(err, "geocode decode")
	}
	return nil
}
