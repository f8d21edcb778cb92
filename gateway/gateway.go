// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway wraps the gateway endpoints that are not part of the photo
// pipeline: datasets and health.
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jcodagnone/geofoto/transport"
)

const (
	pathDatasets = "/datasets"
	pathHealth   = "/health"

	// SourceUpload marks datasets fed by photo uploads.
	SourceUpload = "upload"

	// StatusHealthy is reported by a service that is up.
	StatusHealthy = "healthy"
)

// Doer is the subset of transport.Client used by the Service.
type Doer interface {
	Get(ctx context.Context, path string, query url.Values, out any, opts ...transport.CallOption) error
	PostJSON(ctx context.Context, path string, query url.Values, body, out any, opts ...transport.CallOption) error
}

// Dataset groups uploaded photos.
type Dataset struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	SourceType  string     `json:"source_type"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// Health is the status reported by the gateway.
type Health struct {
	Status   string            `json:"status"`
	Service  string            `json:"service,omitempty"`
	Services map[string]string `json:"services,omitempty"`
}

// Healthy reports whether the gateway and every service it lists are healthy.
func (h *Health) Healthy() bool {
	if h.Status != StatusHealthy {
		return false
	}

	for _, status := range h.Services {
		if status != StatusHealthy {
			return false
		}
	}

	return true
}

// Service is the datasets and health client.
type Service struct {
	client Doer
}

// NewService creates a gateway service on top of client.
func NewService(client Doer) *Service {
	return &Service{client: client}
}

// Datasets lists the datasets.
func (s *Service) Datasets(ctx context.Context) ([]Dataset, error) {
	var datasets []Dataset
	if err := s.client.Get(ctx, pathDatasets, nil, &datasets); err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}

	return datasets, nil
}

// CreateDataset creates an upload dataset.
func (s *Service) CreateDataset(ctx context.Context, name, description string) (*Dataset, error) {
	req := Dataset{Name: name, Description: description, SourceType: SourceUpload}

	var created Dataset
	if err := s.client.PostJSON(ctx, pathDatasets, nil, req, &created); err != nil {
		return nil, fmt.Errorf("creating dataset %q: %w", name, err)
	}

	return &created, nil
}

// CheckAllServices returns the gateway health.
func (s *Service) CheckAllServices(ctx context.Context) (*Health, error) {
	var health Health
	if err := s.client.Get(ctx, pathHealth, nil, &health); err != nil {
		return nil, fmt.Errorf("checking health: %w", err)
	}

	return &health, nil
}
