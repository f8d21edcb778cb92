// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
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

func TestDatasets(t *testing.T) {
	s, mock := newMockedService(t)

	mock.RegisterResponder(http.MethodGet, gatewayURL+"/datasets", httpmock.NewStringResponder(http.StatusOK, `[
		{"id": "1", "name": "Moscow roofs", "description": "", "source_type": "upload", "created_at": "2025-03-01T10:00:00Z"}
	]`))

	datasets, err := s.Datasets(context.Background())
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "Moscow roofs", datasets[0].Name)
	require.NotNil(t, datasets[0].CreatedAt)
	assert.Equal(t, 2025, datasets[0].CreatedAt.Year())
}

func TestCreateDataset(t *testing.T) {
	s, mock := newMockedService(t)

	mock.RegisterResponder(http.MethodPost, gatewayURL+"/datasets",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}

			assert.Equal(t, map[string]any{"name": "north", "description": "north side", "source_type": "upload"}, body)

			body["id"] = "7"

			return httpmock.NewJsonResponse(http.StatusCreated, body)
		})

	created, err := s.CreateDataset(context.Background(), "north", "north side")
	require.NoError(t, err)
	assert.Equal(t, "7", created.ID)
	assert.Equal(t, SourceUpload, created.SourceType)
}

func TestCheckAllServices(t *testing.T) {
	s, mock := newMockedService(t)

	mock.RegisterResponder(http.MethodGet, gatewayURL+"/health",
		httpmock.NewStringResponder(http.StatusOK, `{"status": "healthy", "service": "api-gateway"}`))

	health, err := s.CheckAllServices(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy())
	assert.Equal(t, "api-gateway", health.Service)
}

func TestCheckAllServicesUnreachable(t *testing.T) {
	s, mock := newMockedService(t)

	mock.RegisterResponder(http.MethodGet, gatewayURL+"/health", httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := s.CheckAllServices(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsNoResponse(err))
}

func TestHealthy(t *testing.T) {
	tests := []struct {
		name   string
		health Health
		want   bool
	}{
		{"healthy", Health{Status: StatusHealthy}, true},
		{"down", Health{Status: "unhealthy"}, false},
		{"dependency down", Health{Status: StatusHealthy, Services: map[string]string{"cv": "unreachable"}}, false},
		{"dependencies up", Health{Status: StatusHealthy, Services: map[string]string{"cv": StatusHealthy}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.health.Healthy())
		})
	}
}
