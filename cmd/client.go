// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/goccy/go-yaml"
	"github.com/jcodagnone/geofoto/account"
	"github.com/jcodagnone/geofoto/store"
	"github.com/jcodagnone/geofoto/transport"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

func tokenPath() (string, error) {
	if options.TokenFile != "" {
		return options.TokenFile, nil
	}

	return account.DefaultTokenPath()
}

// newClient creates the gateway client from the global options. The token
// flag wins over the token saved by login.
func newClient() (*transport.Client, error) {
	cfg := &transport.Config{
		BaseURL:             options.BaseURL,
		Timeout:             options.Timeout,
		UserAgent:           fmt.Sprintf("geofoto/%s", Version),
		EnableHTTPTrace:     options.EnableHTTPTrace,
		EnableHTTPBodyTrace: options.EnableHTTPBodyTrace,
		RequestsPerSecond:   options.RequestsPerSecond,
	}

	token := &account.Token{AccessToken: options.Token}
	if token.AccessToken == "" {
		path, err := tokenPath()
		if err != nil {
			return nil, err
		}

		if token, err = account.LoadToken(path); err != nil {
			return nil, err
		}
	}

	if token != nil {
		cfg.TokenSource = token.Source()
	}

	return transport.New(cfg)
}

// openHistory opens the history database, creating it when needed.
func openHistory() (store.ResultRepository, io.Closer, error) {
	if err := os.MkdirAll(options.DBPath, 0o750); err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", options.DBPath, err)
	}

	db, err := sql.Open("duckdb", filepath.Join(options.DBPath, "geofoto.duckdb"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	repo := store.NewResultRepository(db)
	if err := repo.CreateSchema(); err != nil {
		db.Close()

		return nil, nil, fmt.Errorf("creating tables: %w", err)
	}

	return repo, db, nil
}

// printOutput writes v to w in the selected output format. YAML is derived
// from the JSON encoding so both formats show the same fields.
func printOutput(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	if options.Output == outputYAML {
		if data, err = yaml.JSONToYAML(data); err != nil {
			return fmt.Errorf("encoding output as yaml: %w", err)
		}
	} else {
		data = append(data, '\n')
	}

	_, err = w.Write(data)

	return err
}
