// Copyright 2025 The GeoFoto Authors
//
// SPDX-License-Identifier: Apache-2.0
package spatial

import (
	"fmt"
	"math"

	"github.com/uber/h3-go/v4"
)

const earthRadius = 6371e3 // meters

// Coordinates represents a geographical point as returned by the geocoding service.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// String returns a string representation of the Coordinates.
func (c Coordinates) String() string {
	return fmt.Sprintf("POINT(%f %f)", c.Longitude, c.Latitude)
}

// HaversineDistance calculates the distance between two points on Earth in meters.
func (c *Coordinates) HaversineDistance(other *Coordinates) float64 {
	lat1 := c.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := (other.Latitude - c.Latitude) * math.Pi / 180
	dLng := (other.Longitude - c.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c2 := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c2
}

// Cells returns the H3 cell containing the point for every requested resolution,
// in the same order.
func (c *Coordinates) Cells(resolutions ...int) ([]uint64, error) {
	latLng := h3.NewLatLng(c.Latitude, c.Longitude)
	cells := make([]uint64, len(resolutions))

	for i, res := range resolutions {
		cell, err := h3.LatLngToCell(latLng, res)
		if err != nil {
			return nil, fmt.Errorf("error converting to h3 cell at res %d: %w", res, err)
		}

		cells[i] = uint64(cell)
	}

	return cells, nil
}

// Address is the postal address attached to a geocoded point.
type Address struct {
	FormattedAddress string `json:"formatted_address"`
	Street           string `json:"street,omitempty"`
	City             string `json:"city,omitempty"`
	Country          string `json:"country,omitempty"`
	PostalCode       string `json:"postal_code,omitempty"`
	CountryCode      string `json:"country_code,omitempty"`
}

// String returns the formatted address.
func (a *Address) String() string {
	if a == nil {
		return ""
	}

	return a.FormattedAddress
}
