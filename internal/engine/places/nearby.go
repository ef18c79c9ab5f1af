package places

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/rendis/geosweep/internal/model"
)

type nearbyResponse struct {
	Status        string        `json:"status"`
	ErrorMessage  string        `json:"error_message"`
	NextPageToken string        `json:"next_page_token"`
	Results       []placeResult `json:"results"`
}

type placeResult struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	Vicinity         *string  `json:"vicinity,omitempty"`
	Rating           *float64 `json:"rating,omitempty"`
	UserRatingsTotal *int     `json:"user_ratings_total,omitempty"`
	BusinessStatus   *string  `json:"business_status,omitempty"`
	Types            []string `json:"types"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

// NearbySearch runs one radius-bounded keyword search around center and
// follows pagination up to the provider cap.
func (c *Client) NearbySearch(ctx context.Context, center orb.Point, radiusMeters int, keyword string) (model.NearbyResult, error) {
	var result model.NearbyResult

	params := url.Values{}
	params.Set("location", formatLatLng(center))
	params.Set("radius", strconv.Itoa(radiusMeters))
	if keyword != "" {
		params.Set("keyword", keyword)
	}

	token := ""
	for page := 0; page < maxPages; page++ {
		if page > 0 {
			if token == "" {
				break
			}
			// Tokens only become valid a short while after they are issued
			if err := sleepCtx(ctx, c.pageTokenDelay); err != nil {
				return result, err
			}
			params = url.Values{}
			params.Set("pagetoken", token)
		}

		isTokenPage := page > 0
		var resp nearbyResponse
		n, err := c.call(ctx, "/nearbysearch/json", params,
			func(err error) bool { return errors.Is(err, errTokenNotReady) },
			func(body []byte) error {
				resp = nearbyResponse{}
				if err := decodeJSON(body, &resp); err != nil {
					return err
				}
				if isTokenPage && resp.Status == "INVALID_REQUEST" {
					return errTokenNotReady
				}
				return checkStatus(resp.Status, resp.ErrorMessage)
			})
		result.Requests += n
		if err != nil {
			return result, fmt.Errorf("nearby search page %d: %w", page+1, err)
		}

		for _, r := range resp.Results {
			result.Places = append(result.Places, r.toRawPlace(keyword))
		}
		token = resp.NextPageToken

		c.logger.Debug("nearby page",
			"lat", center.Lat(), "lng", center.Lon(), "radius", radiusMeters,
			"page", page+1, "results", len(resp.Results), "more", token != "")
	}

	return result, nil
}

func (r placeResult) toRawPlace(keyword string) model.RawPlace {
	p := model.RawPlace{
		ID:       r.PlaceID,
		Name:     r.Name,
		Rating:   r.Rating,
		Status:   model.StatusUnknown,
		Location: orb.Point{r.Geometry.Location.Lng, r.Geometry.Location.Lat},
		Types:    r.Types,
		Keyword:  keyword,
	}
	if r.Vicinity != nil {
		p.Vicinity = *r.Vicinity
	}
	if r.UserRatingsTotal != nil {
		p.ReviewCount = *r.UserRatingsTotal
	}
	if r.BusinessStatus != nil {
		p.Status = model.ParseOperationalStatus(*r.BusinessStatus)
	}
	return p
}

func formatLatLng(p orb.Point) string {
	return strconv.FormatFloat(p.Lat(), 'f', 7, 64) + "," + strconv.FormatFloat(p.Lon(), 'f', 7, 64)
}
