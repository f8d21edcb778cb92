// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"log"

	"github.com/jcodagnone/geofoto/account"
	"github.com/jcodagnone/geofoto/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errPasswordRequired = errors.New("password is required, use --password or GEOFOTO_PASSWORD")

// password reads the password flag of cmd, falling back to GEOFOTO_PASSWORD.
func password(cmd *cobra.Command) (string, error) {
	p, err := cmd.Flags().GetString("password")
	if err != nil {
		return "", err
	}

	if p == "" {
		p = viper.GetString("password")
	}

	if p == "" {
		return "", errPasswordRequired
	}

	return p, nil
}

func newAccounts() (*account.Service, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	return account.NewService(client), nil
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Logs in and saves the access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := password(cmd)
		if err != nil {
			return err
		}

		accounts, err := newAccounts()
		if err != nil {
			return err
		}

		token, err := accounts.Login(cmd.Context(), args[0], pass)
		if err != nil {
			return err
		}

		path, err := tokenPath()
		if err != nil {
			return err
		}

		if err := account.SaveToken(path, token); err != nil {
			return err
		}

		log.Printf("Logged in as %s, token saved to %s", args[0], path)

		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username> <email>",
	Short: "Creates an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := password(cmd)
		if err != nil {
			return err
		}

		accounts, err := newAccounts()
		if err != nil {
			return err
		}

		reg, err := accounts.Register(cmd.Context(), args[0], args[1], pass)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), reg)
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Shows the authenticated user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		accounts, err := newAccounts()
		if err != nil {
			return err
		}

		user, err := accounts.CurrentUser(cmd.Context())
		if err != nil {
			return err
		}

		st := store.New()
		st.SetUser(user)

		return printOutput(cmd.OutOrStdout(), map[string]any{
			"authenticated": st.IsAuthenticated(),
			"user":          st.User(),
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(whoamiCmd)

	loginCmd.Flags().String("password", "", "Account password")
	registerCmd.Flags().String("password", "", "Account password")
}
