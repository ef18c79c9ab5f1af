package model

import (
	"strings"

	"github.com/paulmach/orb"
)

// OperationalStatus mirrors the provider's business_status field.
type OperationalStatus string

const (
	StatusOperational       OperationalStatus = "OPERATIONAL"
	StatusClosedTemporarily OperationalStatus = "CLOSED_TEMPORARILY"
	StatusClosedPermanently OperationalStatus = "CLOSED_PERMANENTLY"
	StatusUnknown           OperationalStatus = "UNKNOWN"
)

// ParseOperationalStatus maps a provider string to a status. Anything it
// does not recognize (including empty) is StatusUnknown.
func ParseOperationalStatus(s string) OperationalStatus {
	switch OperationalStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusOperational:
		return StatusOperational
	case StatusClosedTemporarily:
		return StatusClosedTemporarily
	case StatusClosedPermanently:
		return StatusClosedPermanently
	}
	return StatusUnknown
}

// SearchArea is a disk to query. Values are never mutated; every radius
// change or subdivision produces a new SearchArea.
type SearchArea struct {
	Center       orb.Point // [lng, lat]
	RadiusMeters int
	Depth        int
	// Quadrant is true for areas produced by subdividing a dense parent.
	Quadrant bool
}

func (a SearchArea) Lat() float64 { return a.Center.Lat() }
func (a SearchArea) Lng() float64 { return a.Center.Lon() }

// RawPlace is one result of a single nearby search.
type RawPlace struct {
	ID          string            `json:"place_id"`
	Name        string            `json:"name"`
	Vicinity    string            `json:"vicinity"`
	Rating      *float64          `json:"rating,omitempty"`
	ReviewCount int               `json:"review_count"`
	Status      OperationalStatus `json:"business_status"`
	Location    orb.Point         `json:"-"`
	Types       []string          `json:"types,omitempty"`
	Keyword     string            `json:"keyword"`
}

func (p RawPlace) Lat() float64 { return p.Location.Lat() }
func (p RawPlace) Lng() float64 { return p.Location.Lon() }

// PlaceDetails holds the extended fields returned by a detail lookup.
type PlaceDetails struct {
	Phone              string
	InternationalPhone string
	Website            string
	FormattedAddress   string
	MapsURL            string
}

// EnrichedPlace is a RawPlace that passed the quality filter, plus whatever
// detail fields could be fetched. Missing details are normal.
type EnrichedPlace struct {
	RawPlace
	Phone              string   `json:"phone"`
	InternationalPhone string   `json:"international_phone"`
	Website            string   `json:"website"`
	FormattedAddress   string   `json:"formatted_address"`
	MapsURL            string   `json:"maps_url"`
	Emails             []string `json:"emails,omitempty"`
	Area               string   `json:"area"`
}

// WithDetails returns a copy of p carrying d.
func (p EnrichedPlace) WithDetails(d PlaceDetails) EnrichedPlace {
	p.Phone = d.Phone
	p.InternationalPhone = d.InternationalPhone
	p.Website = d.Website
	p.FormattedAddress = d.FormattedAddress
	p.MapsURL = d.MapsURL
	return p
}

// NearbyResult is what a place search provider returns for one area.
// Requests counts the billable HTTP calls it took (pagination included).
type NearbyResult struct {
	Places   []RawPlace
	Requests int
}
