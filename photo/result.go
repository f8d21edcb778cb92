// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package photo

import (
	"encoding/json"

	"github.com/jcodagnone/geofoto/detection"
	"github.com/jcodagnone/geofoto/spatial"
)

// Status of a processed photo.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Error messages carried by the failure variants.
const (
	ErrMsgDetectionFailed = "CV processing failed"
	ErrMsgUnrecognized    = "unrecognized response format"
)

// Result is the outcome of uploading one photo. It is always one of
// *Completed, *DetectionFailed or *Unrecognized; callers switch on the type.
//
// Transport failures are not results: Upload returns them as errors.
type Result interface {
	// Succeeded is true only for *Completed.
	Succeeded() bool
	// ErrorMessage is empty for *Completed.
	ErrorMessage() string

	isResult()
}

// UploadData is the data block shared by the completed and failed variants.
type UploadData struct {
	FileID            string               `json:"file_id"`
	OriginalFilename  string               `json:"original_filename"`
	Status            Status               `json:"status"`
	BuildingsDetected int                  `json:"buildings_detected"`
	Buildings         []detection.Building `json:"buildings,omitempty"`
	Coordinates       *spatial.Coordinates `json:"coordinates"`
	Address           *spatial.Address     `json:"address"`
	FullResponse      json.RawMessage      `json:"full_response,omitempty"`
	Error             string               `json:"error,omitempty"`
	Message           string               `json:"message,omitempty"`
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data"`
}

// Completed is a photo whose detection succeeded. Geocoding may still have
// failed for some or all of its buildings.
type Completed struct {
	Data UploadData
}

func (*Completed) isResult() {}
func (*Completed) Succeeded() bool { return true }
func (*Completed) ErrorMessage() string { return "" }

// Degraded reports whether at least one building could not be geocoded.
func (r *Completed) Degraded() bool {
	for i := range r.Data.Buildings {
		if r.Data.Buildings[i].GeocodingError != "" {
			return true
		}
	}

	return false
}

// MarshalJSON emits {success: true, data}. The buildings list is always present.
func (r *Completed) MarshalJSON() ([]byte, error) {
	type completedData struct {
		UploadData
		Buildings []detection.Building `json:"buildings"`
	}

	buildings := r.Data.Buildings
	if buildings == nil {
		buildings = []detection.Building{}
	}

	return json.Marshal(envelope{Success: true, Data: completedData{UploadData: r.Data, Buildings: buildings}})
}

// DetectionFailed is a photo the CV service reported as failed.
type DetectionFailed struct {
	Data UploadData
}

func (*DetectionFailed) isResult() {}
func (*DetectionFailed) Succeeded() bool { return false }
func (*DetectionFailed) ErrorMessage() string { return ErrMsgDetectionFailed }

// MarshalJSON emits {success: false, error, data}.
func (r *DetectionFailed) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Error: ErrMsgDetectionFailed, Data: r.Data})
}

// Unrecognized is an upload whose response matched no known shape. Raw echoes
// the payload; a body that was not JSON is kept as a JSON string.
type Unrecognized struct {
	Raw json.RawMessage
}

func (*Unrecognized) isResult() {}
func (*Unrecognized) Succeeded() bool { return false }
func (*Unrecognized) ErrorMessage() string { return ErrMsgUnrecognized }

// MarshalJSON emits {success: false, error, data: <raw payload>}.
func (r *Unrecognized) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Error: ErrMsgUnrecognized, Data: r.Raw})
}

func newUnrecognized(body []byte) *Unrecognized {
	if json.Valid(body) {
		return &Unrecognized{Raw: body}
	}

	quoted, _ := json.Marshal(string(body))

	return &Unrecognized{Raw: quoted}
}

func newDetectionFailed(fileID, originalName, message string) *DetectionFailed {
	return &DetectionFailed{
		Data: UploadData{
			FileID:            fileID,
			OriginalFilename:  originalName,
			Status:            StatusFailed,
			BuildingsDetected: 0,
			Error:             ErrMsgDetectionFailed,
			Message:           message,
		},
	}
}

func newCompleted(resp *detection.UploadResponse, buildings []detection.Building, raw []byte) *Completed {
	if buildings == nil {
		buildings = []detection.Building{}
	}

	data := UploadData{
		FileID:            resp.FileID,
		OriginalFilename:  resp.OriginalName,
		Status:            StatusCompleted,
		BuildingsDetected: resp.CVResults.BuildingsDetected,
		Buildings:         buildings,
		FullResponse:      raw,
	}

	if len(buildings) > 0 {
		data.Coordinates = buildings[0].Coordinates
		data.Address = buildings[0].Address
	}

	return &Completed{Data: data}
}
