// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package photo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/jcodagnone/geofoto/detection"
	"github.com/jcodagnone/geofoto/geocoding"
	"github.com/jcodagnone/geofoto/spatial"
	"github.com/jcodagnone/geofoto/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	gatewayURL       = "http://gateway.test/api"
	uploadURL        = gatewayURL + "/photo_upload/upload"
	geocodeBatchURL  = gatewayURL + "/geocoding/geocode-buildings"
	geocodeBatchCall = http.MethodPost + " " + geocodeBatchURL
)

// detectionPayload renders an upload response with n buildings.
func detectionPayload(status string, detected, n int) string {
	buildings := make([]string, n)
	for i := range buildings {
		buildings[i] = fmt.Sprintf(
			`{"class": "building", "confidence": 0.9, "bbox": [%d, 0, %d, 40], "center": [%d, 20], "area": 3.2}`,
			i*50, i*50+40, i*50+20,
		)
	}

	return fmt.Sprintf(`{
		"success": true,
		"file_id": "f-42",
		"filename": "f-42.jpg",
		"original_name": "roofs.jpg",
		"cv_results": {
			"status": %q,
			"buildings_detected": %d,
			"buildings": [%s]
		}
	}`, status, detected, strings.Join(buildings, ","))
}

// geocodeResponder answers the batched geocoding call with one point per request.
func geocodeResponder(t *testing.T) httpmock.Responder {
	t.Helper()

	return func(req *http.Request) (*http.Response, error) {
		var requests []geocoding.BuildingRequest
		if err := json.NewDecoder(req.Body).Decode(&requests); err != nil {
			return nil, err
		}

		results := make([]geocoding.BuildingGeocode, len(requests))
		for i, r := range requests {
			ok := true
			results[i] = geocoding.BuildingGeocode{
				Success:     &ok,
				BuildingID:  r.FileID,
				Coordinates: &spatial.Coordinates{Latitude: 55 + float64(i), Longitude: 37},
				Address:     &spatial.Address{FormattedAddress: fmt.Sprintf("Street %d", i)},
			}
		}

		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"success":   true,
			"buildings": results,
			"processed": len(results),
		})
	}
}

type fixture struct {
	service *Service
	mock    *httpmock.MockTransport
	client  *transport.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mock := httpmock.NewMockTransport()
	client, err := transport.New(&transport.Config{BaseURL: gatewayURL, Transport: mock})
	require.NoError(t, err)

	return &fixture{
		service: NewService(client, geocoding.NewService(client)),
		mock:    mock,
		client:  client,
	}
}

func (f *fixture) geocodeCalls() int {
	return f.mock.GetCallCountInfo()[geocodeBatchCall]
}

func (f *fixture) upload(t *testing.T) Result {
	t.Helper()

	result, err := f.service.Upload(context.Background(), File{Name: "roofs.jpg", Content: strings.NewReader("jpeg")})
	require.NoError(t, err)
	require.NotNil(t, result)

	return result
}

// rejectingDoer fails every geocoding call with err.
type rejectingDoer struct {
	err error
}

func (r rejectingDoer) Get(context.Context, string, url.Values, any, ...transport.CallOption) error {
	return r.err
}

func (r rejectingDoer) PostJSON(context.Context, string, url.Values, any, any, ...transport.CallOption) error {
	return r.err
}

func TestUploadCompletedWithGeocoding(t *testing.T) {
	f := newFixture(t)
	payload := detectionPayload(detection.StatusSuccess, 2, 2)

	f.mock.RegisterResponder(http.MethodPost, uploadURL, func(req *http.Request) (*http.Response, error) {
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			return nil, err
		}

		files := req.MultipartForm.File["file"]
		if assert.Len(t, files, 1) {
			assert.Equal(t, "roofs.jpg", files[0].Filename)
		}

		return httpmock.NewStringResponse(http.StatusOK, payload), nil
	})
	f.mock.RegisterResponder(http.MethodPost, geocodeBatchURL, geocodeResponder(t))

	result := f.upload(t)

	completed, ok := result.(*Completed)
	require.True(t, ok, "got %T", result)
	assert.True(t, result.Succeeded())
	assert.False(t, completed.Degraded())
	assert.Equal(t, 1, f.geocodeCalls())

	data := completed.Data
	assert.Equal(t, "f-42", data.FileID)
	assert.Equal(t, "roofs.jpg", data.OriginalFilename)
	assert.Equal(t, StatusCompleted, data.Status)
	assert.Equal(t, 2, data.BuildingsDetected)
	require.Len(t, data.Buildings, 2)
	assert.Equal(t, data.Buildings[0].Coordinates, data.Coordinates)
	assert.Equal(t, "Street 0", data.Address.FormattedAddress)
	assert.InDelta(t, 56, data.Buildings[1].Coordinates.Latitude, 1e-9)
	assert.JSONEq(t, payload, string(data.FullResponse))
}

func TestUploadGeocodingRejected(t *testing.T) {
	f := newFixture(t)
	f.mock.RegisterResponder(http.MethodPost, uploadURL,
		httpmock.NewStringResponder(http.StatusOK, detectionPayload(detection.StatusSuccess, 2, 2)))

	svc := NewService(f.client, geocoding.NewService(rejectingDoer{err: errors.New("network down")}))

	result, err := svc.Upload(context.Background(), File{Name: "roofs.jpg", Content: strings.NewReader("jpeg")})
	require.NoError(t, err)

	completed, ok := result.(*Completed)
	require.True(t, ok, "got %T", result)
	assert.True(t, completed.Succeeded())
	assert.True(t, completed.Degraded())
	assert.Equal(t, 2, completed.Data.BuildingsDetected)
	require.Len(t, completed.Data.Buildings, 2)
	assert.Equal(t, "network down", completed.Data.Buildings[0].GeocodingError)
	assert.Nil(t, completed.Data.Coordinates)
	assert.Nil(t, completed.Data.Address)

	for _, b := range completed.Data.Buildings {
		assert.Nil(t, b.Coordinates)
		assert.NotEmpty(t, b.GeocodingError)
	}
}

func TestUploadGeocoderUnreachable(t *testing.T) {
	f := newFixture(t)
	f.mock.RegisterResponder(http.MethodPost, uploadURL,
		httpmock.NewStringResponder(http.StatusOK, detectionPayload(detection.StatusSuccess, 3, 3)))
	f.mock.RegisterResponder(http.MethodPost, geocodeBatchURL,
		httpmock.NewErrorResponder(errors.New("dial tcp 10.0.0.4:8004: connection refused")))

	completed, ok := f.upload(t).(*Completed)
	require.True(t, ok)
	assert.Equal(t, 1, f.geocodeCalls())
	require.Len(t, completed.Data.Buildings, 3)

	for _, b := range completed.Data.Buildings {
		assert.Nil(t, b.Coordinates)
		assert.Equal(t, transport.MsgNoResponse, b.GeocodingError)
	}
}

func TestUploadWithoutBuildingsSkipsGeocoding(t *testing.T) {
	tests := []struct {
		name          string
		payload       string
		wantBuildings int
	}{
		{"nothing detected", detectionPayload(detection.StatusSuccess, 0, 0), 0},
		{"count zero with stray buildings", detectionPayload(detection.StatusSuccess, 0, 1), 1},
		{"count without buildings", detectionPayload(detection.StatusSuccess, 2, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.mock.RegisterResponder(http.MethodPost, uploadURL, httpmock.NewStringResponder(http.StatusOK, tt.payload))
			f.mock.RegisterResponder(http.MethodPost, geocodeBatchURL, geocodeResponder(t))

			result := f.upload(t)

			completed, ok := result.(*Completed)
			require.True(t, ok, "got %T", result)
			assert.True(t, result.Succeeded())
			assert.Zero(t, f.geocodeCalls())
			assert.Len(t, completed.Data.Buildings, tt.wantBuildings)
			assert.Nil(t, completed.Data.Coordinates)
			assert.Nil(t, completed.Data.Address)
		})
	}
}

// Success payloads that do not match the Go types exactly are still
// completed uploads.
func TestUploadLooseSuccessPayload(t *testing.T) {
	const good = `{"class": "building", "confidence": 0.9, "bbox": [0, 0, 40, 40], "center": [20, 20], "area": 3.2}`

	tests := []struct {
		name          string
		detected      string
		buildings     string
		wantDetected  int
		wantBuildings int
	}{
		{"fractional count", `1.0`, `[` + good + `]`, 1, 1},
		{"count as string", `"2"`, `[` + good + `, ` + good + `]`, 2, 2},
		{"three corner bbox", `2`, `[{"bbox": [1, 2, 3], "center": [2, 2], "confidence": 0.8}, ` + good + `]`, 2, 1},
		{"string confidence", `2`, `[` + good + `, {"bbox": [0, 0, 1, 1], "center": [0, 0], "confidence": "0.9"}]`, 2, 1},
		{"no building decodes", `1`, `[{"confidence": "high"}]`, 1, 0},
		{"buildings not a list", `1`, `"none"`, 1, 0},
		{"missing count", `null`, `[` + good + `]`, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := fmt.Sprintf(`{
				"file_id": "f-7",
				"original_name": "roofs.jpg",
				"cv_results": {"status": "success", "buildings_detected": %s, "buildings": %s}
			}`, tt.detected, tt.buildings)

			f := newFixture(t)
			f.mock.RegisterResponder(http.MethodPost, uploadURL, httpmock.NewStringResponder(http.StatusOK, payload))
			f.mock.RegisterResponder(http.MethodPost, geocodeBatchURL, geocodeResponder(t))

			result := f.upload(t)

			completed, ok := result.(*Completed)
			require.True(t, ok, "got %T", result)
			assert.True(t, result.Succeeded())
			assert.Equal(t, "f-7", completed.Data.FileID)
			assert.Equal(t, tt.wantDetected, completed.Data.BuildingsDetected)
			require.Len(t, completed.Data.Buildings, tt.wantBuildings)
			assert.JSONEq(t, payload, string(completed.Data.FullResponse))

			if tt.wantDetected > 0 && tt.wantBuildings > 0 {
				assert.Equal(t, 1, f.geocodeCalls())
				require.NotNil(t, completed.Data.Coordinates)
				assert.InDelta(t, 55, completed.Data.Coordinates.Latitude, 1e-9)
				assert.InDelta(t, 20, completed.Data.Buildings[0].Center.X, 1e-9)
			} else {
				assert.Zero(t, f.geocodeCalls())
				assert.Nil(t, completed.Data.Coordinates)
			}
		})
	}
}

func TestUploadDetectionFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.RegisterResponder(http.MethodPost, uploadURL, httpmock.NewStringResponder(http.StatusOK, `{
		"file_id": "f-7",
		"original_name": "blurry.jpg",
		"cv_results": {"status": "error", "message": "CV processing failed with status 500"}
	}`))
	f.mock.RegisterResponder(http.MethodPost, geocodeBatchURL, geocodeResponder(t))

	result := f.upload(t)

	failed, ok := result.(*DetectionFailed)
	require.True(t, ok, "got %T", result)
	assert.False(t, result.Succeeded())
	assert.Equal(t, ErrMsgDetectionFailed, result.ErrorMessage())
	assert.Zero(t, f.geocodeCalls())
	assert.Equal(t, StatusFailed, failed.Data.Status)
	assert.Zero(t, failed.Data.BuildingsDetected)
	assert.Equal(t, "f-7", failed.Data.FileID)
	assert.Equal(t, "blurry.jpg", failed.Data.OriginalFilename)
	assert.Equal(t, "CV processing failed with status 500", failed.Data.Message)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": false,
		"error": "CV processing failed",
		"data": {
			"file_id": "f-7",
			"original_filename": "blurry.jpg",
			"status": "failed",
			"buildings_detected": 0,
			"coordinates": null,
			"address": null,
			"error": "CV processing failed",
			"message": "CV processing failed with status 500"
		}
	}`, string(data))
}

func TestUploadUnrecognized(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantData string
	}{
		{"no cv_results", `{"file_id": "f-1", "message": "ok"}`, `{"file_id": "f-1", "message": "ok"}`},
		{"unknown status", `{"file_id": "f-1", "cv_results": {"status": "pending"}}`, `{"file_id": "f-1", "cv_results": {"status": "pending"}}`},
		{"array", `[1, 2]`, `[1, 2]`},
		{"not json", `<html>proxy error</html>`, `"<html>proxy error</html>"`},
		{"status not a string", `{"cv_results": {"status": 1}}`, `{"cv_results": {"status": 1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.mock.RegisterResponder(http.MethodPost, uploadURL, httpmock.NewStringResponder(http.StatusOK, tt.body))

			result := f.upload(t)

			unrecognized, ok := result.(*Unrecognized)
			require.True(t, ok, "got %T", result)
			assert.False(t, result.Succeeded())
			assert.Equal(t, ErrMsgUnrecognized, result.ErrorMessage())
			assert.JSONEq(t, tt.wantData, string(unrecognized.Raw))
			assert.Zero(t, f.geocodeCalls())

			data, err := json.Marshal(result)
			require.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`{"success": false, "error": %q, "data": %s}`, ErrMsgUnrecognized, tt.wantData), string(data))
		})
	}
}

func TestUploadTransportErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.mock.RegisterResponder(http.MethodPost, uploadURL,
		httpmock.NewStringResponder(http.StatusBadRequest, `{"detail": "unsupported file format"}`))

	result, err := f.service.Upload(context.Background(), File{Name: "notes.txt", Content: strings.NewReader("text")})
	require.Error(t, err)
	assert.Nil(t, result)

	var tErr *transport.Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "unsupported file format", tErr.Message)
	assert.Equal(t, http.StatusBadRequest, tErr.StatusCode)
	assert.Zero(t, f.geocodeCalls())
}

type enricherFunc func(ctx context.Context, fileID string, buildings []detection.Building) geocoding.Enrichment

func (f enricherFunc) GeocodeBuildings(ctx context.Context, fileID string, buildings []detection.Building) geocoding.Enrichment {
	return f(ctx, fileID, buildings)
}

func TestEnrichmentGlueFailuresAreNoOps(t *testing.T) {
	tests := []struct {
		name     string
		enricher Enricher
	}{
		{"panic", enricherFunc(func(context.Context, string, []detection.Building) geocoding.Enrichment {
			panic("index out of range")
		})},
		{"wrong length", enricherFunc(func(context.Context, string, []detection.Building) geocoding.Enrichment {
			return geocoding.Enrichment{Buildings: []detection.Building{{}}}
		})},
		{"no enricher", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			svc := NewService(f.client, tt.enricher)

			result := svc.Interpret(context.Background(), []byte(detectionPayload(detection.StatusSuccess, 2, 2)))

			completed, ok := result.(*Completed)
			require.True(t, ok, "got %T", result)
			require.Len(t, completed.Data.Buildings, 2)
			assert.InDelta(t, 70, completed.Data.Buildings[1].Center.X, 1e-9)
			assert.Nil(t, completed.Data.Coordinates)
			assert.False(t, completed.Degraded())
		})
	}
}

// Enrichment, successful or not, never adds, drops nor reorders buildings.
func TestShapePreservation(t *testing.T) {
	for n := 1; n <= 6; n++ {
		for _, geocoderUp := range []bool{true, false} {
			t.Run(fmt.Sprintf("n=%d up=%v", n, geocoderUp), func(t *testing.T) {
				f := newFixture(t)
				f.mock.RegisterResponder(http.MethodPost, uploadURL,
					httpmock.NewStringResponder(http.StatusOK, detectionPayload(detection.StatusSuccess, n, n)))

				if geocoderUp {
					f.mock.RegisterResponder(http.MethodPost, geocodeBatchURL, geocodeResponder(t))
				} else {
					f.mock.RegisterResponder(http.MethodPost, geocodeBatchURL,
						httpmock.NewStringResponder(http.StatusInternalServerError, `{}`))
				}

				completed, ok := f.upload(t).(*Completed)
				require.True(t, ok)
				require.Len(t, completed.Data.Buildings, n)
				assert.Equal(t, n, completed.Data.BuildingsDetected)
				assert.Equal(t, !geocoderUp, completed.Degraded())

				for i, b := range completed.Data.Buildings {
					assert.InDelta(t, float64(i*50+20), b.Center.X, 1e-9)
				}
			})
		}
	}
}

func TestCompletedJSON(t *testing.T) {
	result := &Completed{Data: UploadData{
		FileID:            "f-1",
		OriginalFilename:  "a.jpg",
		Status:            StatusCompleted,
		BuildingsDetected: 0,
	}}

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": true,
		"data": {
			"file_id": "f-1",
			"original_filename": "a.jpg",
			"status": "completed",
			"buildings_detected": 0,
			"buildings": [],
			"coordinates": null,
			"address": null
		}
	}`, string(data))
}

func TestUploadBatch(t *testing.T) {
	f := newFixture(t)

	var remaining time.Duration

	f.mock.RegisterResponder(http.MethodPost, gatewayURL+"/photo_upload/upload/batch",
		func(req *http.Request) (*http.Response, error) {
			deadline, _ := req.Context().Deadline()
			remaining = time.Until(deadline)

			if err := req.ParseMultipartForm(1 << 20); err != nil {
				return nil, err
			}

			assert.Len(t, req.MultipartForm.File["files"], 2)

			return httpmock.NewStringResponse(http.StatusOK, `{
				"processed": 2,
				"results": [
					{"filename": "a.jpg", "status": "success", "data": {"file_id": "f-a", "cv_results": {"status": "success"}}},
					{"filename": "b.txt", "status": "error", "error": "400: invalid file format"}
				]
			}`), nil
		})

	resp, err := f.service.UploadBatch(context.Background(), []File{
		{Name: "a.jpg", Content: strings.NewReader("a")},
		{Name: "b.txt", Content: strings.NewReader("b")},
	})
	require.NoError(t, err)

	assert.Greater(t, remaining, transport.DefaultTimeout, "batch uses the extended timeout")
	assert.Equal(t, 2, resp.Processed)
	require.Len(t, resp.Results, 2)
	assert.JSONEq(t, `{"file_id": "f-a", "cv_results": {"status": "success"}}`, string(resp.Results[0].Data))
	assert.Equal(t, "400: invalid file format", resp.Results[1].Error)
	assert.Zero(t, f.geocodeCalls(), "batch results are not geocoded")
}

func TestUploadBatchPropagatesErrors(t *testing.T) {
	f := newFixture(t)
	f.mock.RegisterResponder(http.MethodPost, gatewayURL+"/photo_upload/upload/batch",
		httpmock.NewErrorResponder(errors.New("EOF")))

	_, err := f.service.UploadBatch(context.Background(), []File{{Name: "a.jpg", Content: strings.NewReader("a")}})
	require.Error(t, err)
	assert.True(t, transport.IsNoResponse(err))
}

func TestProcess(t *testing.T) {
	f := newFixture(t)
	f.mock.RegisterResponder(http.MethodPost, gatewayURL+"/cv_processing/process-image",
		httpmock.NewStringResponder(http.StatusOK, `{"success": true, "results": {"buildings_detected": 1}}`))

	raw, err := f.service.Process(context.Background(), File{Name: "a.jpg", Content: strings.NewReader("a")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success": true, "results": {"buildings_detected": 1}}`, string(raw))
	assert.Zero(t, f.geocodeCalls())
}

func TestProcessPropagatesErrors(t *testing.T) {
	f := newFixture(t)
	f.mock.RegisterResponder(http.MethodPost, gatewayURL+"/cv_processing/process-image",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"message": "model not loaded"}`))

	_, err := f.service.Process(context.Background(), File{Name: "a.jpg", Content: strings.NewReader("a")})
	require.Error(t, err)
	assert.Equal(t, "model not loaded", errors.Unwrap(err).Error())
}

func TestListFiles(t *testing.T) {
	f := newFixture(t)
	f.mock.RegisterResponder(http.MethodGet, gatewayURL+"/photo_upload/files",
		httpmock.NewStringResponder(http.StatusOK, `{"files": [{"filename": "f-1.jpg", "size": 2048, "modified": 1700000000.5}]}`))

	list, err := f.service.ListFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "f-1.jpg", list.Files[0].Filename)
	assert.Equal(t, int64(2048), list.Files[0].Size)
	assert.Equal(t, time.Unix(1700000000, 500_000_000), list.Files[0].ModifiedTime())
}

func TestListFilesPropagatesErrors(t *testing.T) {
	f := newFixture(t)
	f.mock.RegisterResponder(http.MethodGet, gatewayURL+"/photo_upload/files",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"detail": "disk full"}`))

	_, err := f.service.ListFiles(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, transport.StatusCode(err))
}

func TestOpenFile(t *testing.T) {
	_, _, err := OpenFile(t.TempDir() + "/missing.jpg")
	require.Error(t, err)
}
