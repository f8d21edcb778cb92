// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

// globalOptions are the settings shared by every command.
type globalOptions struct {
	BaseURL             string
	Timeout             time.Duration
	RequestsPerSecond   float64
	Token               string
	TokenFile           string
	Output              string
	DBPath              string
	EnableHTTPTrace     bool
	EnableHTTPBodyTrace bool
}

var options = &globalOptions{}

var rootCmd = &cobra.Command{
	Use:   "geofoto",
	Short: "photo upload, building detection and geocoding client",
	Long: `
geofoto uploads photos to the photo analysis gateway, which detects the
buildings they show, and geocodes every detected building. It also wraps the
auxiliary geocoding, account and dataset services and keeps a local history
of the processed photos.

Every flag can also be set with a GEOFOTO_ prefixed environment variable
(GEOFOTO_BASE_URL, GEOFOTO_TOKEN, ...), read from .env.local or .env as well.
`,
	SilenceUsage:      true,
	PersistentPreRunE: loadOptions,
}

// loadOptions resolves the global options from flags, environment and .env files.
func loadOptions(_ *cobra.Command, _ []string) error {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}

	options.BaseURL = viper.GetString("base-url")
	options.Timeout = viper.GetDuration("timeout")
	options.RequestsPerSecond = viper.GetFloat64("rate")
	options.Token = viper.GetString("token")
	options.TokenFile = viper.GetString("token-file")
	options.Output = viper.GetString("output")
	options.DBPath = viper.GetString("db-path")
	options.EnableHTTPTrace = viper.GetBool("trace-http")
	options.EnableHTTPBodyTrace = viper.GetBool("trace-http-body")

	switch options.Output {
	case outputJSON, outputYAML:
	default:
		return fmt.Errorf("unknown output format %q, use %s or %s", options.Output, outputJSON, outputYAML)
	}

	return nil
}

var Version = "dev"

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("base-url", "http://localhost:8000/api", "Gateway base URL, including the /api prefix")
	flags.Duration("timeout", 30*time.Second, "Timeout of every request. Batch uploads get ten times as much")
	flags.Float64("rate", 0, "Maximum number of requests per second. Zero disables the limit")
	flags.String("token", "", "Access token. Defaults to the one saved by login")
	flags.String("token-file", "", "Where login saves the access token. Defaults to the user config dir")
	flags.StringP("output", "o", outputJSON, "Output format: json or yaml")
	flags.String("db-path", "db", "Directory of the local history database")
	flags.Bool("trace-http", false, "Display HTTP requests-responses")
	flags.Bool("trace-http-body", false, "Display HTTP requests-responses bodies")

	viper.SetEnvPrefix("GEOFOTO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(flags); err != nil {
		log.Fatalf("Binding flags: %s", err)
	}
}
