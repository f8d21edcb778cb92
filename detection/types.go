// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

// Package detection holds the building detection payloads returned by the CV service.
package detection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jcodagnone/geofoto/spatial"
)

// DefaultClass is the label assumed when the detector does not report one.
const DefaultClass = "building"

// Status values of the cv_results block.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var errInvalidBBox = errors.New("bbox must be [x1, y1, x2, y2] or {x, y, width, height}")

// BBox is the rectangle of a detected building in image pixels.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MarshalJSON emits the corner array the CV service uses.
func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X, b.Y, b.X + b.Width, b.Y + b.Height})
}

// UnmarshalJSON accepts both the corner array and the object form.
func (b *BBox) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = BBox{}

		return nil
	}

	if data[0] == '[' {
		var corners []float64
		if err := json.Unmarshal(data, &corners); err != nil {
			return fmt.Errorf("decoding bbox: %w", err)
		}

		if len(corners) != 4 {
			return errInvalidBBox
		}

		*b = BBox{
			X:      corners[0],
			Y:      corners[1],
			Width:  corners[2] - corners[0],
			Height: corners[3] - corners[1],
		}

		return nil
	}

	type plain BBox

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding bbox: %w", err)
	}

	*b = BBox(p)

	return nil
}

// Point is a position in image pixels.
type Point struct {
	X float64
	Y float64
}

// MarshalJSON emits [x, y].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON reads [x, y] or {x, y}.
func (p *Point) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = Point{}

		return nil
	}

	if data[0] == '[' {
		var xy []float64
		if err := json.Unmarshal(data, &xy); err != nil {
			return fmt.Errorf("decoding point: %w", err)
		}

		if len(xy) != 2 {
			return fmt.Errorf("point must have 2 components, got %d", len(xy))
		}

		p.X, p.Y = xy[0], xy[1]

		return nil
	}

	var obj struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding point: %w", err)
	}

	p.X, p.Y = obj.X, obj.Y

	return nil
}

// Building is a building footprint found by the CV service. After geocoding
// it may carry coordinates and an address, or a geocoding error.
type Building struct {
	BBox           BBox                 `json:"bbox"`
	Center         Point                `json:"center"`
	Area           float64              `json:"area"`
	Confidence     float64              `json:"confidence"`
	Class          string               `json:"class,omitempty"`
	Coordinates    *spatial.Coordinates `json:"coordinates"`
	Address        *spatial.Address     `json:"address"`
	GeocodingError string               `json:"geocoding_error,omitempty"`
}

// ClassName returns the class label, defaulting to "building".
func (b *Building) ClassName() string {
	if b.Class == "" {
		return DefaultClass
	}

	return b.Class
}

// CVResults is the cv_results block of an upload response.
type CVResults struct {
	Status            string          `json:"status"`
	Message           string          `json:"message,omitempty"`
	BuildingsDetected int             `json:"buildings_detected"`
	Buildings         []Building      `json:"buildings"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
}

// UploadResponse is the payload returned by the photo upload endpoint.
type UploadResponse struct {
	FileID       string     `json:"file_id"`
	OriginalName string     `json:"original_name"`
	CVResults    *CVResults `json:"cv_results"`
}
