// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/jcodagnone/geofoto/detection"
	"github.com/jcodagnone/geofoto/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gatewayURL = "http://gateway.test/api"

func newMockedService(t *testing.T) (*Service, *httpmock.MockTransport) {
	t.Helper()

	mock := httpmock.NewMockTransport()
	client, err := transport.New(&transport.Config{BaseURL: gatewayURL, Transport: mock})
	require.NoError(t, err)

	return NewService(client), mock
}

func TestGeocodeAddress(t *testing.T) {
	s, mock := newMockedService(t)

	mock.RegisterResponder(http.MethodGet, gatewayURL+"/geocoding/geocode",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Tverskaya 1, Moscow", req.URL.Query().Get("address"))

			return httpmock.NewStringResponse(http.StatusOK, `{
				"success": true,
				"source": "openstreetmap",
				"result": {
					"coordinates": {"latitude": 55.757, "longitude": 37.614},
					"address": {"formatted_address": "Tverskaya 1", "city": "Moscow", "country_code": "ru"},
					"place_id": 12345,
					"osm_id": "678",
					"osm_type": "way"
				},
				"raw_response": {"lat": "55.757"}
			}`), nil
		})

	resp, err := s.GeocodeAddress(context.Background(), "Tverskaya 1, Moscow")
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "openstreetmap", resp.Source)
	assert.InDelta(t, 55.757, resp.Result.Coordinates.Latitude, 1e-9)
	assert.Equal(t, "Moscow", resp.Result.Address.City)
	assert.Equal(t, "12345", resp.Result.PlaceID.String())
	assert.Equal(t, "678", resp.Result.OSMID.String())
	assert.JSONEq(t, `{"lat": "55.757"}`, string(resp.RawResponse))
}

func TestGeocodeAddressNotFound(t *testing.T) {
	s, mock := newMockedService(t)

	mock.RegisterResponder(http.MethodGet, gatewayURL+"/geocoding/geocode",
		httpmock.NewStringResponder(http.StatusNotFound, `{"detail": "Address not found"}`))

	_, err := s.GeocodeAddress(context.Background(), "nowhere")
	require.Error(t, err)

	var tErr *transport.Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "Address not found", tErr.Message)
	assert.Equal(t, http.StatusNotFound, transport.StatusCode(err))
}

func TestReverseGeocode(t *testing.T) {
	s, mock := newMockedService(t)

	mock.RegisterResponder(http.MethodGet, gatewayURL+"/geocoding/reverse-geocode",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "55.7558", req.URL.Query().Get("lat"))
			assert.Equal(t, "37.6173", req.URL.Query().Get("lng"))

			return httpmock.NewStringResponse(http.StatusOK, `{
				"success": true,
				"result": {"coordinates": {"latitude": 55.7558, "longitude": 37.6173},
				           "address": {"formatted_address": "Red Square"}}
			}`), nil
		})

	resp, err := s.ReverseGeocode(context.Background(), 55.7558, 37.6173)
	require.NoError(t, err)
	assert.Equal(t, "Red Square", resp.Result.Address.FormattedAddress)
}

func TestElevation(t *testing.T) {
	s, mock := newMockedService(t)

	mock.RegisterResponder(http.MethodGet, gatewayURL+"/geocoding/elevation",
		httpmock.NewStringResponder(http.StatusOK, `{
			"success": true,
			"result": {"elevation": 156.0, "source": "geonames"},
			"coordinates": {"latitude": 55.7558, "longitude": 37.6173}
		}`))

	resp, err := s.Elevation(context.Background(), 55.7558, 37.6173)
	require.NoError(t, err)
	assert.InDelta(t, 156.0, resp.Result.Elevation, 1e-9)
	assert.Equal(t, "geonames", resp.Result.Source)
}

func TestElevationPropagatesTransportErrors(t *testing.T) {
	s, mock := newMockedService(t)

	mock.RegisterResponder(http.MethodGet, gatewayURL+"/geocoding/elevation",
		httpmock.NewErrorResponder(errors.New("no route to host")))

	_, err := s.Elevation(context.Background(), 1, 2)
	require.Error(t, err)
	assert.True(t, transport.IsNoResponse(err))
}

func TestGeocodeBuilding(t *testing.T) {
	doer := &fakeDoer{response: `{
		"success": true,
		"building_id": "f1",
		"coordinates": {"latitude": 55.7, "longitude": 37.6},
		"address": {"formatted_address": "Somewhere"},
		"confidence": 0.8,
		"method": "pseudo_coordinates"
	}`}

	b := &detection.Building{Center: detection.Point{X: 400, Y: 300}, Confidence: 0.8}

	resp, err := NewService(doer).GeocodeBuilding(context.Background(), "f1", b)
	require.NoError(t, err)

	assert.False(t, resp.Failed())
	assert.Equal(t, "pseudo_coordinates", resp.Method)
	assert.Equal(t, []string{pathGeocodeBuilding}, doer.paths)

	req, ok := doer.bodies[0].(BuildingRequest)
	require.True(t, ok)
	assert.Equal(t, "f1", req.FileID)
	assert.Equal(t, detection.DefaultClass, req.Building.ClassName)
	assert.Nil(t, req.ImageMetadata)
}

func TestBuildingGeocodeFailed(t *testing.T) {
	yes, no := true, false

	assert.False(t, (&BuildingGeocode{}).Failed())
	assert.False(t, (&BuildingGeocode{Success: &yes}).Failed())
	assert.True(t, (&BuildingGeocode{Success: &no}).Failed())
	assert.True(t, (&BuildingGeocode{Error: "x"}).Failed())
}
