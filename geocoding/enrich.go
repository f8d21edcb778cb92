// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"fmt"
	"log"

	"github.com/jcodagnone/geofoto/detection"
)

// Enrichment is the outcome of geocoding the buildings of one photo. Buildings
// always has the length and order of the input. When Err is set the call
// failed and every building carries Err's message as its geocoding error.
type Enrichment struct {
	Buildings []detection.Building
	Err       error
}

// Degraded reports whether the batched call failed and the buildings were
// returned without coordinates.
func (e Enrichment) Degraded() bool {
	return e.Err != nil
}

// BuildingID is the synthetic identifier of the index-th building of a photo.
func BuildingID(fileID string, index int) string {
	return fmt.Sprintf("%s_building_%d", fileID, index)
}

// NewBuildingRequests builds one request per building, keeping positions.
func NewBuildingRequests(fileID string, buildings []detection.Building) []BuildingRequest {
	requests := make([]BuildingRequest, len(buildings))
	for i := range buildings {
		requests[i] = BuildingRequest{
			FileID:   BuildingID(fileID, i),
			Building: NewBuildingData(&buildings[i]),
			ImageMetadata: &ImageMetadata{
				FileID:        fileID,
				BuildingIndex: i,
			},
		}
	}

	return requests
}

type batchResponse struct {
	Success    bool              `json:"success"`
	Buildings  []BuildingGeocode `json:"buildings"`
	Processed  int               `json:"processed"`
	Successful int               `json:"successful"`
}

// GeocodeBuildings geocodes all the buildings of a photo in a single call.
// It never fails: any error is folded into a degraded Enrichment.
// buildings must not be empty.
func (s *Service) GeocodeBuildings(ctx context.Context, fileID string, buildings []detection.Building) Enrichment {
	if len(buildings) == 0 {
		return Enrichment{Buildings: []detection.Building{}}
	}

	var resp batchResponse
	if err := s.client.PostJSON(ctx, pathGeocodeBuildings, nil, NewBuildingRequests(fileID, buildings), &resp); err != nil {
		log.Printf("Geocoding %s failed, keeping %d buildings without coordinates: %s", fileID, len(buildings), err)

		return Degrade(buildings, err)
	}

	if len(resp.Buildings) != len(buildings) {
		err := fmt.Errorf("geocoder returned %d buildings, expected %d", len(resp.Buildings), len(buildings))
		log.Printf("Geocoding %s failed: %s", fileID, err)

		return Degrade(buildings, err)
	}

	return Enrichment{Buildings: merge(buildings, resp.Buildings)}
}

// Degrade returns buildings unchanged but for null coordinates and address and
// err's message as geocoding error.
func Degrade(buildings []detection.Building, err error) Enrichment {
	out := make([]detection.Building, len(buildings))
	for i, b := range buildings {
		b.Coordinates = nil
		b.Address = nil
		b.GeocodingError = err.Error()
		out[i] = b
	}

	return Enrichment{Buildings: out, Err: err}
}

// merge overlays geocodes onto a copy of buildings, position by position.
func merge(buildings []detection.Building, geocodes []BuildingGeocode) []detection.Building {
	out := make([]detection.Building, len(buildings))
	for i, b := range buildings {
		g := &geocodes[i]
		if g.Failed() {
			b.Coordinates = nil
			b.Address = nil

			b.GeocodingError = g.Error
			if b.GeocodingError == "" {
				b.GeocodingError = "geocoding failed"
			}
		} else {
			b.Coordinates = g.Coordinates
			b.Address = g.Address
			b.GeocodingError = ""
		}

		out[i] = b
	}

	return out
}
