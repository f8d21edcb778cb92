// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package photo

import (
	"fmt"
)

// Metrics tracks the outcome of a run of uploads. It is not safe for
// concurrent use: collect one per upload and Merge them.
type Metrics struct {
	Uploads           int
	Completed         int
	DetectionFailures int
	Unrecognized      int
	TransportErrors   int
	BuildingsDetected int
	BuildingsGeocoded int
	GeocodingErrors   int
}

// Observe accounts for the outcome of one Upload call.
func (m *Metrics) Observe(r Result, err error) *Metrics {
	m.Uploads++

	if err != nil {
		m.TransportErrors++

		return m
	}

	switch r := r.(type) {
	case *Completed:
		m.Completed++
		m.BuildingsDetected += r.Data.BuildingsDetected

		for i := range r.Data.Buildings {
			switch {
			case r.Data.Buildings[i].GeocodingError != "":
				m.GeocodingErrors++
			case r.Data.Buildings[i].Coordinates != nil:
				m.BuildingsGeocoded++
			}
		}
	case *DetectionFailed:
		m.DetectionFailures++
	case *Unrecognized:
		m.Unrecognized++
	}

	return m
}

// Merge combines the metrics from another Metrics instance into this one.
func (m *Metrics) Merge(o *Metrics) *Metrics {
	if o == nil {
		return m
	}

	m.Uploads += o.Uploads
	m.Completed += o.Completed
	m.DetectionFailures += o.DetectionFailures
	m.Unrecognized += o.Unrecognized
	m.TransportErrors += o.TransportErrors
	m.BuildingsDetected += o.BuildingsDetected
	m.BuildingsGeocoded += o.BuildingsGeocoded
	m.GeocodingErrors += o.GeocodingErrors

	return m
}

// Failed counts the uploads that did not complete: transport errors,
// detection failures and unrecognized responses.
func (m *Metrics) Failed() int {
	return m.TransportErrors + m.DetectionFailures + m.Unrecognized
}

func (m *Metrics) String() string {
	return fmt.Sprintf(
		"%d uploads - %d completed, %d detection failures, %d unrecognized, %d transport errors; "+
			"%d buildings detected, %d geocoded, %d without coordinates",
		m.Uploads,
		m.Completed,
		m.DetectionFailures,
		m.Unrecognized,
		m.TransportErrors,
		m.BuildingsDetected,
		m.BuildingsGeocoded,
		m.GeocodingErrors,
	)
}
