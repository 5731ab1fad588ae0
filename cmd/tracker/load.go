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
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrelnet/tracker/bolt"
)

var loadCmd = &cobra.Command{
	Use:   "load [file]",
	Short: "Append newline-delimited wire payloads as one batch in the report source",
	Long:  `Reads newline-delimited detection payloads from a file (or stdin, with no argument) and appends them as a single batch to the bolt report source, for replay by serve.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		if err := runLoad(args); err != nil {
			log.Fatalln(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().StringVar(&optSourcePath, "source", "tracker.db", "path to the bolt report source database")
}

func runLoad(args []string) error {
	var r io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	source, err := bolt.Open(optSourcePath, false)
	if err != nil {
		return err
	}
	defer source.Close()

	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := source.Append(payload); err != nil {
		return err
	}
	slog.Info("loaded batch", "bytes", len(payload))
	return nil
}
