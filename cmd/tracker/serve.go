/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrelnet/tracker/bolt"
	"github.com/kestrelnet/tracker/config"
	"github.com/kestrelnet/tracker/grouping"
	"github.com/kestrelnet/tracker/httpapi"
	"github.com/kestrelnet/tracker/pipeline"
	"github.com/kestrelnet/tracker/telemetry"
)

var optSourcePath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracking pipeline and serve its snapshot API",
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		if err := runServe(); err != nil {
			log.Fatalln(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&optSourcePath, "source", "tracker.db", "path to the bolt report source database")
}

func runServe() error {
	cfg, err := config.Load(optConfigPath)
	if err != nil {
		return err
	}

	source, err := bolt.Open(optSourcePath, false)
	if err != nil {
		return err
	}
	defer source.Close()

	resultComparator, err := cfg.ResultComparator()
	if err != nil {
		return err
	}
	listComparator, err := cfg.ListComparator()
	if err != nil {
		return err
	}

	driver, err := pipeline.NewDriver(source, pipeline.Config{
		Window:                cfg.Window(),
		TrackTTL:              cfg.TTL(),
		FeatureTTLRefreshes:   cfg.Track.FeatureTTLRefreshes,
		AssocThreshold:        cfg.Association.Threshold,
		AssocResultComparator: resultComparator,
		AssocListComparator:   listComparator,
		FilterConfig:          cfg.ResolvedFilter(),
		Selector:              grouping.NewCellSelector(grouping.DefaultCellLevel),
		Recorder:              telemetry.NewCounters(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := httpapi.NewServer(driver.Snapshots(), cfg.HTTP.Addr)

	errCh := make(chan error, 2)
	go func() {
		errCh <- driver.Run(ctx)
	}()
	go func() {
		errCh <- server.Run(ctx)
	}()

	slog.Info("tracker started", "http_addr", cfg.HTTP.Addr, "source", optSourcePath)

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && err != pipeline.ErrCancelled && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
