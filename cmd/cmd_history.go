// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"strings"

	"github.com/jcodagnone/geofoto/spatial"
	"github.com/spf13/cobra"
)

type historyOptions struct {
	Limit      int
	Radius     float64
	Resolution int
}

var historyOpts = &historyOptions{}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Local history of processed photos",
}

var historyListCmd = &cobra.Command{
	Use:   "list [filter]...",
	Short: "Lists the most recent photos, optionally matching a file name or address",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closer, err := openHistory()
		if err != nil {
			return err
		}
		defer closer.Close()

		records, err := repo.ListResults(strings.Join(args, " "), historyOpts.Limit)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), records)
	},
}

var historyNearCmd = &cobra.Command{
	Use:   "near <lat> <lng>",
	Short: "Lists the geocoded buildings around a point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, lng, err := parseLatLng(args)
		if err != nil {
			return err
		}

		repo, closer, err := openHistory()
		if err != nil {
			return err
		}
		defer closer.Close()

		matches, err := repo.Near(&spatial.Coordinates{Latitude: lat, Longitude: lng}, historyOpts.Radius, historyOpts.Limit)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), matches)
	},
}

var historyCellsCmd = &cobra.Command{
	Use:   "cells",
	Short: "Counts the geocoded buildings per H3 cell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo, closer, err := openHistory()
		if err != nil {
			return err
		}
		defer closer.Close()

		counts, err := repo.CellCounts(historyOpts.Resolution)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), counts)
	},
}

var historyCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Counts the photos in the history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo, closer, err := openHistory()
		if err != nil {
			return err
		}
		defer closer.Close()

		count, err := repo.CountResults()
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), map[string]int{"photos": count})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyNearCmd)
	historyCmd.AddCommand(historyCellsCmd)
	historyCmd.AddCommand(historyCountCmd)

	historyCmd.PersistentFlags().IntVar(&historyOpts.Limit, "limit", 50, "Max number of rows. Zero means no limit")
	historyNearCmd.Flags().Float64Var(&historyOpts.Radius, "radius", 500, "Search radius in meters")
	historyCellsCmd.Flags().IntVar(&historyOpts.Resolution, "res", 7, "H3 resolution: 5, 7 or 9")
}
