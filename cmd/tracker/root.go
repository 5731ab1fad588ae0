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
	"fmt"
	"log/slog"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

var optConfigPath string
var optVerbose bool

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "A multi-target tracking pipeline",
	Long:  `Fuses sensor detection reports into persistent tracks and serves them as a read-only snapshot API.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if optConfigPath == "" {
			return nil
		}
		expanded, err := homedir.Expand(optConfigPath)
		if err != nil {
			return err
		}
		optConfigPath = expanded
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&optConfigPath, "config", "", "path to a tracker config file")
	rootCmd.PersistentFlags().BoolVarP(&optVerbose, "verbose", "v", false, "enable debug logging")
}

// setDefaultSlog applies the -v flag to the process-wide slog level,
// mirroring common.SlogResetLevel's reset-on-call pattern.
func setDefaultSlog(cmd *cobra.Command, args []string) {
	level := slog.LevelInfo
	if optVerbose {
		level = slog.LevelDebug
	}
	slog.SetLogLoggerLevel(level)
}
