package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"
)

// ErrGeocodingFailed is returned when a place name cannot be resolved.
// It is terminal for the area being resolved.
var ErrGeocodingFailed = errors.New("geocoding failed")

const (
	nominatimURL     = "https://nominatim.openstreetmap.org/search"
	googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"
	userAgent        = "geosweep/0.1 (adaptive place sweeper)"
)

// Location is a resolved place name.
type Location struct {
	Point       orb.Point
	DisplayName string
}

// Geocoder resolves free text such as "Houston, TX" to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Location, error)
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NominatimGeocoder uses the OSM Nominatim API. No key required.
type NominatimGeocoder struct {
	client  *http.Client
	baseURL string
}

func NewNominatimGeocoder(client *http.Client) *NominatimGeocoder {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &NominatimGeocoder{client: client, baseURL: nominatimURL}
}

// WithBaseURL points the geocoder at a different endpoint.
func (g *NominatimGeocoder) WithBaseURL(u string) *NominatimGeocoder {
	g.baseURL = u
	return g
}

func (g *NominatimGeocoder) Geocode(ctx context.Context, query string) (Location, error) {
	if query == "" {
		return Location{}, fmt.Errorf("%w: empty query", ErrGeocodingFailed)
	}

	u := g.baseURL + "?" + url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {"1"},
	}.Encode()

	var results []nominatimResult
	if err := getJSON(ctx, g.client, u, &results); err != nil {
		return Location{}, fmt.Errorf("%w: %q: %v", ErrGeocodingFailed, query, err)
	}
	if len(results) == 0 {
		return Location{}, fmt.Errorf("%w: %q not found", ErrGeocodingFailed, query)
	}

	// Nominatim returns coordinates as strings
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: bad latitude %q", ErrGeocodingFailed, results[0].Lat)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: bad longitude %q", ErrGeocodingFailed, results[0].Lon)
	}

	return Location{Point: orb.Point{lng, lat}, DisplayName: results[0].DisplayName}, nil
}

type googleGeocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// GoogleGeocoder uses the Google Geocoding API.
type GoogleGeocoder struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func NewGoogleGeocoder(client *http.Client, apiKey string) *GoogleGeocoder {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleGeocoder{client: client, apiKey: apiKey, baseURL: googleGeocodeURL}
}

// WithBaseURL points the geocoder at a different endpoint.
func (g *GoogleGeocoder) WithBaseURL(u string) *GoogleGeocoder {
	g.baseURL = u
	return g
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, query string) (Location, error) {
	if query == "" {
		return Location{}, fmt.Errorf("%w: empty query", ErrGeocodingFailed)
	}

	u := g.baseURL + "?" + url.Values{
		"address": {query},
		"key":     {g.apiKey},
	}.Encode()

	var resp googleGeocodeResponse
	if err := getJSON(ctx, g.client, u, &resp); err != nil {
		return Location{}, fmt.Errorf("%w: %q: %v", ErrGeocodingFailed, query, err)
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		return Location{}, fmt.Errorf("%w: %q: status %s %s", ErrGeocodingFailed, query, resp.Status, resp.ErrorMessage)
	}

	first := resp.Results[0]
	return Location{
		Point:       orb.Point{first.Geometry.Location.Lng, first.Geometry.Location.Lat},
		DisplayName: first.FormattedAddress,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// ParseCoordinates parses "lat,lng". ok is false when s is not a pair of
// numbers within range.
func ParseCoordinates(s string) (orb.Point, bool) {
	var lat, lng float64
	if _, err := fmt.Sscanf(s, "%g,%g", &lat, &lng); err != nil {
		return orb.Point{}, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return orb.Point{}, false
	}
	return orb.Point{lng, lat}, true
}
