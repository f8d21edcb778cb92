// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

// Package store keeps the client side state of a session and the history of
// processed photos.
package store

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jcodagnone/geofoto/account"
	"github.com/jcodagnone/geofoto/gateway"
	"github.com/jcodagnone/geofoto/photo"
)

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// Notification is a message for the user.
type Notification struct {
	ID      string           `json:"id"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title,omitempty"`
	Message string           `json:"message"`
}

// Settings are the user preferences.
type Settings struct {
	// AutoProcess geocodes the detected buildings right after an upload
	AutoProcess bool `json:"auto_process"`

	// ConfidenceThreshold below which detections are not reported as buildings
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// MaxFileSize in bytes accepted for upload
	MaxFileSize int64 `json:"max_file_size"`
}

// DefaultSettings are the settings of a new Store.
func DefaultSettings() Settings {
	return Settings{
		AutoProcess:         true,
		ConfidenceThreshold: 0.5,
		MaxFileSize:         50 << 20,
	}
}

// SettingsUpdate carries the settings to change; nil fields are kept.
type SettingsUpdate struct {
	AutoProcess         *bool
	ConfidenceThreshold *float64
	MaxFileSize         *int64
}

// Store is the application state. Every method is safe for concurrent use;
// concurrent writers of a field race and the last one wins.
type Store struct {
	mu sync.RWMutex

	loading        bool
	notifications  []Notification
	user           *account.User
	currentDataset *gateway.Dataset
	results        []photo.Result
	settings       Settings
}

// New creates an empty Store with the default settings.
func New() *Store {
	return &Store{settings: DefaultSettings()}
}

func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loading = loading
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loading
}

// AddNotification appends n, giving it an id and the info type when missing,
// and returns the id.
func (s *Store) AddNotification(n Notification) string {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	if n.Type == "" {
		n.Type = NotificationInfo
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, n)

	return n.ID
}

// RemoveNotification drops the notifications with the given id.
func (s *Store) RemoveNotification(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.notifications[:0]
	for _, n := range s.notifications {
		if n.ID != id {
			kept = append(kept, n)
		}
	}

	s.notifications = kept
}

// Notifications returns a copy of the pending notifications, oldest first.
func (s *Store) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Notification(nil), s.notifications...)
}

func (s *Store) SetUser(user *account.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = user
}

func (s *Store) User() *account.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.user
}

func (s *Store) IsAuthenticated() bool {
	return s.User() != nil
}

func (s *Store) SetCurrentDataset(dataset *gateway.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentDataset = dataset
}

func (s *Store) CurrentDataset() *gateway.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.currentDataset
}

// AddProcessingResult records r as the most recent result.
func (s *Store) AddProcessingResult(r photo.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append([]photo.Result{r}, s.results...)
}

// ProcessingResults returns a copy of the results, most recent first.
func (s *Store) ProcessingResults() []photo.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]photo.Result(nil), s.results...)
}

func (s *Store) ClearResults() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = nil
}

func (s *Store) HasResults() bool {
	return s.TotalProcessed() > 0
}

func (s *Store) TotalProcessed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.results)
}

func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.settings
}

// UpdateSettings applies the non-nil fields of u and returns the new settings.
func (s *Store) UpdateSettings(u SettingsUpdate) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.AutoProcess != nil {
		s.settings.AutoProcess = *u.AutoProcess
	}

	if u.ConfidenceThreshold != nil {
		s.settings.ConfidenceThreshold = *u.ConfidenceThreshold
	}

	if u.MaxFileSize != nil {
		s.settings.MaxFileSize = *u.MaxFileSize
	}

	return s.settings
}
