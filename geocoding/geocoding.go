// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

// Package geocoding talks to the gateway's geocoding service: it enriches
// detected buildings with coordinates and addresses and exposes the address,
// reverse, single building and elevation lookups.
package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jcodagnone/geofoto/detection"
	"github.com/jcodagnone/geofoto/spatial"
	"github.com/jcodagnone/geofoto/transport"
)

// Gateway endpoints, relative to the transport base URL.
const (
	pathGeocode          = "/geocoding/geocode"
	pathReverseGeocode   = "/geocoding/reverse-geocode"
	pathElevation        = "/geocoding/elevation"
	pathGeocodeBuilding  = "/geocoding/geocode-building"
	pathGeocodeBuildings = "/geocoding/geocode-buildings"
)

// Doer is the subset of transport.Client used by the Service.
type Doer interface {
	Get(ctx context.Context, path string, query url.Values, out any, opts ...transport.CallOption) error
	PostJSON(ctx context.Context, path string, query url.Values, body, out any, opts ...transport.CallOption) error
}

// Service is the geocoding client. It holds no mutable state.
type Service struct {
	client Doer
}

// NewService creates a geocoding service on top of client.
func NewService(client Doer) *Service {
	return &Service{client: client}
}

// BuildingData is the part of a detected building the geocoder needs.
type BuildingData struct {
	BBox       detection.BBox  `json:"bbox"`
	Center     detection.Point `json:"center"`
	Area       float64         `json:"area"`
	Confidence float64         `json:"confidence"`
	ClassName  string          `json:"class_name"`
}

// NewBuildingData extracts the geocoding relevant fields of b.
func NewBuildingData(b *detection.Building) BuildingData {
	return BuildingData{
		BBox:       b.BBox,
		Center:     b.Center,
		Area:       b.Area,
		Confidence: b.Confidence,
		ClassName:  b.ClassName(),
	}
}

// ImageMetadata ties a geocoding request back to its photo.
type ImageMetadata struct {
	FileID        string `json:"file_id"`
	BuildingIndex int    `json:"building_index"`
}

// BuildingRequest is one element of a geocode-buildings call.
type BuildingRequest struct {
	FileID        string         `json:"file_id"`
	Building      BuildingData   `json:"building"`
	ImageMetadata *ImageMetadata `json:"image_metadata,omitempty"`
}

// BuildingGeocode is the geocoder's answer for one building.
type BuildingGeocode struct {
	Success     *bool                `json:"success,omitempty"`
	BuildingID  string               `json:"building_id,omitempty"`
	Coordinates *spatial.Coordinates `json:"coordinates"`
	Address     *spatial.Address     `json:"address"`
	Confidence  float64              `json:"confidence,omitempty"`
	Method      string               `json:"method,omitempty"`
	Note        string               `json:"note,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Failed reports whether the geocoder flagged this building as failed.
func (g *BuildingGeocode) Failed() bool {
	return g.Error != "" || (g.Success != nil && !*g.Success)
}

// Place is a geocoded location.
type Place struct {
	Coordinates spatial.Coordinates `json:"coordinates"`
	Address     spatial.Address     `json:"address"`
	PlaceID     json.Number         `json:"place_id,omitempty"`
	OSMID       json.Number         `json:"osm_id,omitempty"`
	OSMType     string              `json:"osm_type,omitempty"`
}

// PlaceResponse is returned by the address and reverse lookups.
type PlaceResponse struct {
	Success     bool            `json:"success"`
	Source      string          `json:"source"`
	Result      Place           `json:"result"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
}

// Elevation is the height above sea level of a point.
type Elevation struct {
	Elevation float64 `json:"elevation"`
	Source    string  `json:"source"`
}

// ElevationResponse is returned by the elevation lookup.
type ElevationResponse struct {
	Success     bool                `json:"success"`
	Result      Elevation           `json:"result"`
	Coordinates spatial.Coordinates `json:"coordinates"`
}

func latLngQuery(lat, lng float64) url.Values {
	return url.Values{
		"lat": {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lng": {strconv.FormatFloat(lng, 'f', -1, 64)},
	}
}

// GeocodeAddress resolves a free text address.
func (s *Service) GeocodeAddress(ctx context.Context, address string) (*PlaceResponse, error) {
	var resp PlaceResponse
	if err := s.client.Get(ctx, pathGeocode, url.Values{"address": {address}}, &resp); err != nil {
		return nil, fmt.Errorf("geocoding address %q: %w", address, err)
	}

	return &resp, nil
}

// ReverseGeocode resolves the address of a point.
func (s *Service) ReverseGeocode(ctx context.Context, lat, lng float64) (*PlaceResponse, error) {
	var resp PlaceResponse
	if err := s.client.Get(ctx, pathReverseGeocode, latLngQuery(lat, lng), &resp); err != nil {
		return nil, fmt.Errorf("reverse geocoding %f,%f: %w", lat, lng, err)
	}

	return &resp, nil
}

// Elevation returns the elevation of a point.
func (s *Service) Elevation(ctx context.Context, lat, lng float64) (*ElevationResponse, error) {
	var resp ElevationResponse
	if err := s.client.Get(ctx, pathElevation, latLngQuery(lat, lng), &resp); err != nil {
		return nil, fmt.Errorf("getting elevation of %f,%f: %w", lat, lng, err)
	}

	return &resp, nil
}

// GeocodeBuilding geocodes a single building outside of an upload.
func (s *Service) GeocodeBuilding(ctx context.Context, fileID string, b *detection.Building) (*BuildingGeocode, error) {
	req := BuildingRequest{
		FileID:   fileID,
		Building: NewBuildingData(b),
	}

	var resp BuildingGeocode
	if err := s.client.PostJSON(ctx, pathGeocodeBuilding, nil, req, &resp); err != nil {
		return nil, fmt.Errorf("geocoding building %s: %w", fileID, err)
	}

	return &resp, nil
}
