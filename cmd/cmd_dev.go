// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/jcodagnone/geofoto/fakegateway"
	"github.com/jcodagnone/geofoto/spatial"
	"github.com/spf13/cobra"
)

type devOptions struct {
	Addr               string
	Origin             spatial.Coordinates
	GeocodingOutage    bool
	DetectionFailure   bool
	UnrecognizedUpload bool
}

var devOpts = &devOptions{}

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Development tools",
}

var devServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves a fake gateway with deterministic detection and geocoding",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		s := fakegateway.NewServer(fakegateway.Config{Origin: &devOpts.Origin})
		s.SetGeocodingOutage(devOpts.GeocodingOutage)
		s.SetDetectionFailure(devOpts.DetectionFailure)
		s.SetUnrecognizedPayloads(devOpts.UnrecognizedUpload)

		return s.Run(devOpts.Addr)
	},
}

func init() {
	rootCmd.AddCommand(devCmd)
	devCmd.AddCommand(devServeCmd)

	flags := devServeCmd.Flags()
	flags.StringVar(&devOpts.Addr, "addr", "localhost:8000", "Address to listen on")
	flags.Float64Var(&devOpts.Origin.Latitude, "origin-lat", fakegateway.DefaultOrigin.Latitude, "Latitude pseudo coordinates are centered on")
	flags.Float64Var(&devOpts.Origin.Longitude, "origin-lng", fakegateway.DefaultOrigin.Longitude, "Longitude pseudo coordinates are centered on")
	flags.BoolVar(&devOpts.GeocodingOutage, "geocoding-outage", false, "Fail every geocoding request")
	flags.BoolVar(&devOpts.DetectionFailure, "detection-failure", false, "Report every detection as failed")
	flags.BoolVar(&devOpts.UnrecognizedUpload, "unrecognized-uploads", false, "Answer uploads without detection results")
}
