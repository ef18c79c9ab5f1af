package places

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rendis/geosweep/internal/model"
)

const detailFields = "formatted_phone_number,international_phone_number,website,formatted_address,url"

type detailsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Result       struct {
		FormattedPhoneNumber     string `json:"formatted_phone_number"`
		InternationalPhoneNumber string `json:"international_phone_number"`
		Website                  string `json:"website"`
		FormattedAddress         string `json:"formatted_address"`
		URL                      string `json:"url"`
	} `json:"result"`
}

// Details fetches phone, website and address for one place.
func (c *Client) Details(ctx context.Context, placeID string) (model.PlaceDetails, error) {
	if placeID == "" {
		return model.PlaceDetails{}, fmt.Errorf("place details: empty place id")
	}

	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("fields", detailFields)

	var resp detailsResponse
	_, err := c.call(ctx, "/details/json", params, nil, func(body []byte) error {
		resp = detailsResponse{}
		if err := decodeJSON(body, &resp); err != nil {
			return err
		}
		return checkStatus(resp.Status, resp.ErrorMessage)
	})
	if err != nil {
		return model.PlaceDetails{}, fmt.Errorf("place details %s: %w", placeID, err)
	}

	return model.PlaceDetails{
		Phone:              resp.Result.FormattedPhoneNumber,
		InternationalPhone: resp.Result.InternationalPhoneNumber,
		Website:            resp.Result.Website,
		FormattedAddress:   resp.Result.FormattedAddress,
		MapsURL:            resp.Result.URL,
	}, nil
}
