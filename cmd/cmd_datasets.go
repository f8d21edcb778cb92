// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"

	"github.com/jcodagnone/geofoto/gateway"
	"github.com/spf13/cobra"
)

var errUnhealthy = errors.New("gateway is not healthy")

func newGateway() (*gateway.Service, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	return gateway.NewService(client), nil
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Photo datasets",
}

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the datasets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		gw, err := newGateway()
		if err != nil {
			return err
		}

		datasets, err := gw.Datasets(cmd.Context())
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), datasets)
	},
}

var datasetDescription string

var datasetsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Creates an upload dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := newGateway()
		if err != nil {
			return err
		}

		dataset, err := gw.CreateDataset(cmd.Context(), args[0], datasetDescription)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), dataset)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Checks the gateway and its services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		gw, err := newGateway()
		if err != nil {
			return err
		}

		health, err := gw.CheckAllServices(cmd.Context())
		if err != nil {
			return err
		}

		if err := printOutput(cmd.OutOrStdout(), health); err != nil {
			return err
		}

		if !health.Healthy() {
			return errUnhealthy
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(healthCmd)
	datasetsCmd.AddCommand(datasetsListCmd)
	datasetsCmd.AddCommand(datasetsCreateCmd)

	datasetsCreateCmd.Flags().StringVar(&datasetDescription, "description", "", "Dataset description")
}
