// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

// Package photo uploads photos to the gateway, runs building detection on them
// and geocodes the detected buildings, normalizing every outcome into a Result.
package photo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jcodagnone/geofoto/detection"
	"github.com/jcodagnone/geofoto/geocoding"
	"github.com/jcodagnone/geofoto/transport"
)

// Gateway endpoints, relative to the transport base URL.
const (
	pathUpload      = "/photo_upload/upload"
	pathUploadBatch = "/photo_upload/upload/batch"
	pathFiles       = "/photo_upload/files"
	pathProcess     = "/cv_processing/process-image"
)

// Doer is the subset of transport.Client used by the Service.
type Doer interface {
	Get(ctx context.Context, path string, query url.Values, out any, opts ...transport.CallOption) error
	PostMultipart(ctx context.Context, path string, files []transport.FilePart, out any, opts ...transport.CallOption) error
	BatchTimeout() time.Duration
}

// Enricher geocodes the buildings of a photo. It must not fail: problems are
// reported inside the returned Enrichment.
type Enricher interface {
	GeocodeBuildings(ctx context.Context, fileID string, buildings []detection.Building) geocoding.Enrichment
}

// File is an image to upload.
type File struct {
	Name    string
	Content io.Reader
}

// OpenFile opens path for upload. The caller closes the returned closer.
func OpenFile(path string) (File, io.Closer, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by the user
	if err != nil {
		return File{}, nil, fmt.Errorf("opening %s: %w", path, err)
	}

	return File{Name: filepath.Base(path), Content: f}, f, nil
}

func (f File) part(field string) transport.FilePart {
	return transport.FilePart{Field: field, Filename: f.Name, Content: f.Content}
}

// Service orchestrates uploads. It keeps no per-upload state, so one Service
// can run any number of uploads concurrently.
type Service struct {
	client   Doer
	enricher Enricher
}

// NewService creates the upload service. A nil enricher disables geocoding.
func NewService(client Doer, enricher Enricher) *Service {
	return &Service{client: client, enricher: enricher}
}

// Submit uploads one image for detection and returns the response untouched.
func (s *Service) Submit(ctx context.Context, f File) ([]byte, error) {
	var raw []byte
	if err := s.client.PostMultipart(ctx, pathUpload, []transport.FilePart{f.part("file")}, &raw); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", f.Name, err)
	}

	return raw, nil
}

// Upload submits f for detection, geocodes the buildings found and returns the
// normalized result. Only transport failures of the upload itself are
// returned as errors; detection failures, geocoding failures and unknown
// payloads are all results.
func (s *Service) Upload(ctx context.Context, f File) (Result, error) {
	raw, err := s.Submit(ctx, f)
	if err != nil {
		return nil, err
	}

	return s.Interpret(ctx, raw), nil
}

// Interpret turns a detection payload into a Result, geocoding the buildings
// when there are any.
func (s *Service) Interpret(ctx context.Context, raw []byte) Result {
	var head struct {
		FileID       string `json:"file_id"`
		OriginalName string `json:"original_name"`
		CVResults    *struct {
			Status            string          `json:"status"`
			Message           string          `json:"message"`
			BuildingsDetected any             `json:"buildings_detected"`
			Buildings         json.RawMessage `json:"buildings"`
		} `json:"cv_results"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.CVResults == nil {
		return newUnrecognized(raw)
	}

	switch head.CVResults.Status {
	case detection.StatusError:
		return newDetectionFailed(head.FileID, head.OriginalName, head.CVResults.Message)
	case detection.StatusSuccess:
		resp := &detection.UploadResponse{
			FileID:       head.FileID,
			OriginalName: head.OriginalName,
			CVResults: &detection.CVResults{
				Status:            head.CVResults.Status,
				Message:           head.CVResults.Message,
				BuildingsDetected: buildingCount(head.CVResults.BuildingsDetected),
				Buildings:         decodeBuildings(head.FileID, head.CVResults.Buildings),
			},
		}

		buildings := resp.CVResults.Buildings
		if resp.CVResults.BuildingsDetected > 0 && len(buildings) > 0 {
			buildings = s.enrich(ctx, resp.FileID, buildings)
		}

		return newCompleted(resp, buildings, raw)
	default:
		return newUnrecognized(raw)
	}
}

// buildingCount reads buildings_detected, which may come as any JSON number
// or a numeric string. Fractions are truncated.
func buildingCount(v any) int {
	switch n := v.(type) {
	case float64:
		return max(0, int(n))
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return max(0, int(f))
		}
	}

	return 0
}

// decodeBuildings decodes the buildings one by one, dropping the ones that
// do not decode.
func decodeBuildings(fileID string, raw json.RawMessage) []detection.Building {
	if len(raw) == 0 {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Printf("Ignoring buildings of %s: %s", fileID, err)

		return nil
	}

	buildings := make([]detection.Building, 0, len(items))

	for i, item := range items {
		var b detection.Building
		if err := json.Unmarshal(item, &b); err != nil {
			log.Printf("Skipping building %d of %s: %s", i, fileID, err)

			continue
		}

		buildings = append(buildings, b)
	}

	return buildings
}

// enrich geocodes buildings. Anything going wrong here, including a panic,
// leaves the buildings as detected.
func (s *Service) enrich(ctx context.Context, fileID string, buildings []detection.Building) (out []detection.Building) {
	if s.enricher == nil {
		return buildings
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Geocoding %s aborted, keeping buildings without coordinates: %v", fileID, r)

			out = buildings
		}
	}()

	enrichment := s.enricher.GeocodeBuildings(ctx, fileID, buildings)
	if len(enrichment.Buildings) != len(buildings) {
		log.Printf("Geocoding %s returned %d buildings for %d, ignoring it", fileID, len(enrichment.Buildings), len(buildings))

		return buildings
	}

	return enrichment.Buildings
}

// BatchItem is the server's outcome for one file of a batch.
type BatchItem struct {
	Filename string          `json:"filename"`
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// BatchResponse is returned by UploadBatch as the server sent it.
type BatchResponse struct {
	Processed int         `json:"processed"`
	Results   []BatchItem `json:"results"`
}

// UploadBatch uploads several images in one request. The server processes
// them one after the other, so the call gets the extended batch timeout.
// Results are not geocoded nor normalized.
func (s *Service) UploadBatch(ctx context.Context, files []File) (*BatchResponse, error) {
	parts := make([]transport.FilePart, len(files))
	for i, f := range files {
		parts[i] = f.part("files")
	}

	var resp BatchResponse
	if err := s.client.PostMultipart(ctx, pathUploadBatch, parts, &resp, transport.WithTimeout(s.client.BatchTimeout())); err != nil {
		return nil, fmt.Errorf("uploading batch of %d files: %w", len(files), err)
	}

	return &resp, nil
}

// Process runs detection only, without storing the upload nor geocoding.
func (s *Service) Process(ctx context.Context, f File) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := s.client.PostMultipart(ctx, pathProcess, []transport.FilePart{f.part("file")}, &raw); err != nil {
		return nil, fmt.Errorf("processing %s: %w", f.Name, err)
	}

	return raw, nil
}

// StoredFile is a file previously uploaded to the gateway.
type StoredFile struct {
	Filename string  `json:"filename"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
}

// ModifiedTime converts the epoch seconds the server reports.
func (f StoredFile) ModifiedTime() time.Time {
	sec := int64(f.Modified)
	nsec := int64((f.Modified - float64(sec)) * float64(time.Second))

	return time.Unix(sec, nsec)
}

// FileList is returned by ListFiles.
type FileList struct {
	Files []StoredFile `json:"files"`
}

// ListFiles returns the files uploaded so far.
func (s *Service) ListFiles(ctx context.Context) (*FileList, error) {
	var resp FileList
	if err := s.client.Get(ctx, pathFiles, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing uploaded files: %w", err)
	}

	return &resp, nil
}
