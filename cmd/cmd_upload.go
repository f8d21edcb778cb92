// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"

	"github.com/jcodagnone/geofoto/geocoding"
	"github.com/jcodagnone/geofoto/photo"
	"github.com/jcodagnone/geofoto/store"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type uploadOptions struct {
	Batch               bool
	MaxProcs            int
	Save                bool
	NoGeocode           bool
	MaxFileSize         int64
	ConfidenceThreshold float64
}

var uploadOpts = &uploadOptions{}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Uploads photos, detects their buildings and geocodes them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st := store.New()

		var update store.SettingsUpdate
		if cmd.Flags().Changed("no-geocode") {
			autoProcess := !uploadOpts.NoGeocode
			update.AutoProcess = &autoProcess
		}

		if cmd.Flags().Changed("max-file-size") {
			update.MaxFileSize = &uploadOpts.MaxFileSize
		}

		if cmd.Flags().Changed("confidence-threshold") {
			update.ConfidenceThreshold = &uploadOpts.ConfidenceThreshold
		}

		settings := st.UpdateSettings(update)

		client, err := newClient()
		if err != nil {
			return err
		}

		var enricher photo.Enricher
		if settings.AutoProcess {
			enricher = geocoding.NewService(client)
		}

		svc := photo.NewService(client, enricher)

		if uploadOpts.Batch {
			return uploadBatch(cmd, svc, args)
		}

		metrics := uploadAll(cmd.Context(), svc, st, args)

		for _, n := range st.Notifications() {
			log.Printf("[%s] %s", n.Type, n.Message)
		}

		results := st.ProcessingResults()
		if uploadOpts.Save && len(results) > 0 {
			if err := saveHistory(results); err != nil {
				return err
			}
		}

		if err := printOutput(cmd.OutOrStdout(), results); err != nil {
			return err
		}

		if failed := metrics.Failed(); failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", failed, metrics.Uploads)
		}

		return nil
	},
}

// uploadAll uploads paths concurrently, recording results and problems in st.
// It returns the merged metrics of every upload.
func uploadAll(ctx context.Context, svc *photo.Service, st *store.Store, paths []string) *photo.Metrics {
	settings := st.Settings()

	maxProcs := uploadOpts.MaxProcs
	if maxProcs <= 0 {
		maxProcs = runtime.NumCPU()
	}

	var bar *progressbar.ProgressBar
	if isatty.IsTerminal(os.Stderr.Fd()) {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("Uploading"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	st.SetLoading(true)
	defer st.SetLoading(false)

	var g errgroup.Group
	g.SetLimit(maxProcs)

	metricsChan := make(chan *photo.Metrics, len(paths))

	for _, path := range paths {
		g.Go(func() error {
			result, err := uploadOne(ctx, svc, path, settings.MaxFileSize)
			metricsChan <- new(photo.Metrics).Observe(result, err)

			switch {
			case err != nil:
				st.AddNotification(store.Notification{Type: store.NotificationError, Message: fmt.Sprintf("%s: %s", path, err)})
			case !result.Succeeded():
				st.AddNotification(store.Notification{Type: store.NotificationWarning, Message: fmt.Sprintf("%s: %s", path, result.ErrorMessage())})
				st.AddProcessingResult(result)
			default:
				if c, ok := result.(*photo.Completed); ok && c.Degraded() {
					st.AddNotification(store.Notification{Type: store.NotificationWarning, Message: path + ": some buildings could not be geocoded"})
				}

				st.AddProcessingResult(result)
			}

			if bar == nil {
				log.Printf("Uploaded %s", path)
			} else if err := bar.Add(1); err != nil {
				log.Printf("Updating progress bar for %s: %s", path, err)
			}

			return nil
		})
	}

	_ = g.Wait()
	close(metricsChan)

	var metrics photo.Metrics
	for m := range metricsChan {
		metrics.Merge(m)
	}

	log.Printf("Upload complete - %s", &metrics)
	log.Printf("%d buildings at or above %.2f confidence",
		confidentBuildings(st.ProcessingResults(), settings.ConfidenceThreshold), settings.ConfidenceThreshold)

	return &metrics
}

func uploadOne(ctx context.Context, svc *photo.Service, path string, maxSize int64) (photo.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("file is %d bytes, the limit is %d", info.Size(), maxSize)
	}

	f, closer, err := photo.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return svc.Upload(ctx, f)
}

func confidentBuildings(results []photo.Result, threshold float64) int {
	n := 0

	for _, r := range results {
		if c, ok := r.(*photo.Completed); ok {
			for i := range c.Data.Buildings {
				if c.Data.Buildings[i].Confidence >= threshold {
					n++
				}
			}
		}
	}

	return n
}

func saveHistory(results []photo.Result) error {
	repo, closer, err := openHistory()
	if err != nil {
		return err
	}
	defer closer.Close()

	var errs []error

	// Oldest first, so the history keeps the upload order.
	for i := len(results) - 1; i >= 0; i-- {
		if _, err := repo.SaveResult(results[i]); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func uploadBatch(cmd *cobra.Command, svc *photo.Service, paths []string) error {
	files := make([]photo.File, 0, len(paths))
	closers := make([]io.Closer, 0, len(paths))

	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	for _, path := range paths {
		f, closer, err := photo.OpenFile(path)
		if err != nil {
			return err
		}

		files = append(files, f)
		closers = append(closers, closer)
	}

	resp, err := svc.UploadBatch(cmd.Context(), files)
	if err != nil {
		return err
	}

	return printOutput(cmd.OutOrStdout(), resp)
}

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Runs building detection on a photo without storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		f, closer, err := photo.OpenFile(args[0])
		if err != nil {
			return err
		}
		defer closer.Close()

		raw, err := photo.NewService(client, nil).Process(cmd.Context(), f)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), raw)
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Lists the photos uploaded to the gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		list, err := photo.NewService(client, nil).ListFiles(cmd.Context())
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), list)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(filesCmd)

	defaults := store.DefaultSettings()

	uploadCmd.Flags().BoolVar(
		&uploadOpts.Batch,
		"batch",
		false,
		"Upload every file in a single request. Results are shown as the server sends them",
	)
	uploadCmd.Flags().IntVar(
		&uploadOpts.MaxProcs,
		"max-procs",
		4,
		"Max number of concurrent uploads. Zero uses the number of CPUs",
	)
	uploadCmd.Flags().BoolVar(
		&uploadOpts.Save,
		"save",
		false,
		"Store the results in the local history",
	)
	uploadCmd.Flags().BoolVar(
		&uploadOpts.NoGeocode,
		"no-geocode",
		!defaults.AutoProcess,
		"Skip geocoding of the detected buildings",
	)
	uploadCmd.Flags().Int64Var(
		&uploadOpts.MaxFileSize,
		"max-file-size",
		defaults.MaxFileSize,
		"Largest file, in bytes, to upload",
	)
	uploadCmd.Flags().Float64Var(
		&uploadOpts.ConfidenceThreshold,
		"confidence-threshold",
		defaults.ConfidenceThreshold,
		"Confidence from which buildings are counted in the summary",
	)
}
