// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jcodagnone/geofoto/detection"
	"github.com/jcodagnone/geofoto/geocoding"
	"github.com/spf13/cobra"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocoding services",
}

func newGeocoder() (*geocoding.Service, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	return geocoding.NewService(client), nil
}

// parsePair parses two float arguments named a and b.
func parsePair(args []string, a, b string) (float64, float64, error) {
	x, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s %q: %w", a, args[0], err)
	}

	y, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s %q: %w", b, args[1], err)
	}

	return x, y, nil
}

func parseLatLng(args []string) (float64, float64, error) {
	return parsePair(args, "latitude", "longitude")
}

var geocodeAddressCmd = &cobra.Command{
	Use:   "address <address>...",
	Short: "Finds the coordinates of an address",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		geo, err := newGeocoder()
		if err != nil {
			return err
		}

		resp, err := geo.GeocodeAddress(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), resp)
	},
}

var geocodeReverseCmd = &cobra.Command{
	Use:   "reverse <lat> <lng>",
	Short: "Finds the address of a point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, lng, err := parseLatLng(args)
		if err != nil {
			return err
		}

		geo, err := newGeocoder()
		if err != nil {
			return err
		}

		resp, err := geo.ReverseGeocode(cmd.Context(), lat, lng)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), resp)
	},
}

var geocodeElevationCmd = &cobra.Command{
	Use:   "elevation <lat> <lng>",
	Short: "Finds the elevation of a point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, lng, err := parseLatLng(args)
		if err != nil {
			return err
		}

		geo, err := newGeocoder()
		if err != nil {
			return err
		}

		resp, err := geo.Elevation(cmd.Context(), lat, lng)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), resp)
	},
}

var buildingOpts = &detection.Building{}

var geocodeBuildingCmd = &cobra.Command{
	Use:   "building <file-id> <center-x> <center-y>",
	Short: "Geocodes a building from its position in a photo",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, y, err := parsePair(args[1:], "center-x", "center-y")
		if err != nil {
			return err
		}

		b := *buildingOpts
		b.Center = detection.Point{X: x, Y: y}

		geo, err := newGeocoder()
		if err != nil {
			return err
		}

		resp, err := geo.GeocodeBuilding(cmd.Context(), args[0], &b)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), resp)
	},
}

func init() {
	rootCmd.AddCommand(geocodeCmd)
	geocodeCmd.AddCommand(geocodeAddressCmd)
	geocodeCmd.AddCommand(geocodeReverseCmd)
	geocodeCmd.AddCommand(geocodeElevationCmd)
	geocodeCmd.AddCommand(geocodeBuildingCmd)

	geocodeBuildingCmd.Flags().Float64Var(&buildingOpts.Confidence, "confidence", 1, "Detection confidence")
	geocodeBuildingCmd.Flags().Float64Var(&buildingOpts.Area, "area", 0, "Building area, in percent of the photo")
	geocodeBuildingCmd.Flags().StringVar(&buildingOpts.Class, "class", detection.DefaultClass, "Detection class")
}
